// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package state

import (
	"math"
	"strconv"
	"strings"
	"unicode"

	"github.com/goccy/go-json"
)

// Servo limits in degrees
const (
	ServoMin = 0
	ServoMax = 180
)

// ClampServo forces angle into [ServoMin, ServoMax]
func ClampServo(angle int) int {
	if angle < ServoMin {
		return ServoMin
	}
	if angle > ServoMax {
		return ServoMax
	}
	return angle
}

// Truthy converts a decoded JSON value into a boolean the way a browser
// would: false, 0, NaN, "" and null are false, everything else is true.
func Truthy(v interface{}) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case float64:
		return t != 0 && !math.IsNaN(t)
	case float32:
		return t != 0 && !math.IsNaN(float64(t))
	case int:
		return t != 0
	case int64:
		return t != 0
	case json.Number:
		f, err := t.Float64()
		return err != nil || f != 0
	case string:
		return t != ""
	default:
		return true
	}
}

// Integer converts a decoded JSON number into an int by truncation. Non-numeric
// values are rejected.
func Integer(v interface{}) (int, bool) {
	var f float64
	switch t := v.(type) {
	case float64:
		f = t
	case float32:
		f = float64(t)
	case int:
		return t, true
	case int64:
		return int(t), true
	case json.Number:
		var err error
		f, err = t.Float64()
		if err != nil {
			return 0, false
		}
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) || f > math.MaxInt32 || f < math.MinInt32 {
		return 0, false
	}
	return int(math.Trunc(f)), true
}

// ParseAngle reads a servo angle from a decoded JSON value. Numbers are
// truncated, strings are read up to the first non-digit. The result is
// clamped into the servo range. Anything else is rejected.
func ParseAngle(v interface{}) (int, bool) {
	switch t := v.(type) {
	case string:
		return parseLeadingInt(t)
	default:
		f, ok := v.(float64)
		if ok && !math.IsNaN(f) {
			// out of range values only need to keep their sign
			if f > ServoMax {
				return ServoMax, true
			}
			if f < ServoMin {
				return ServoMin, true
			}
		}
		angle, ok := Integer(v)
		if !ok {
			return 0, false
		}
		return ClampServo(angle), true
	}
}

func parseLeadingInt(s string) (int, bool) {
	s = strings.TrimLeftFunc(s, unicode.IsSpace)
	sign := ""
	if strings.HasPrefix(s, "-") || strings.HasPrefix(s, "+") {
		sign, s = s[:1], s[1:]
	}
	end := 0
	for end < len(s) && s[end] >= '0' && s[end] <= '9' {
		end++
	}
	if end == 0 {
		return 0, false
	}
	digits := s[:end]
	if len(digits) > 9 {
		// larger than any angle, keep the sign only
		digits = "999999999"
	}
	n, err := strconv.Atoi(sign + digits)
	if err != nil {
		return 0, false
	}
	return ClampServo(n), true
}
