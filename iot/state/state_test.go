// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package state

import (
	"context"
	"sync"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relabs-tech/espgate/core/pointers"
)

func TestDefaultJSON(t *testing.T) {
	data, err := Default().JSON()
	require.NoError(t, err)
	assert.Equal(t,
		`{"gas":0,"light":0,"fan":false,"pump":false,"buzzer":false,"relay":false,"led":false,"servo":90,"lcd":{"line1":"ESP32 Ready","line2":"Waiting..."}}`,
		string(data))
}

func TestMergeLastWriterWins(t *testing.T) {
	s := NewStore(Default())
	ctx := context.Background()

	s.Merge(ctx, Update{Gas: pointers.To(120), Fan: pointers.To(true)})
	s.Merge(ctx, Update{Gas: pointers.To(340), Pump: pointers.To(true)})
	s.Merge(ctx, Update{Fan: pointers.To(false), LCDLine1: pointers.To("hello")})

	got := s.Get()
	want := Default()
	want.Gas = 340
	want.Pump = true
	want.Fan = false
	want.LCD.Line1 = "hello"
	assert.Equal(t, want, got)
}

func TestMergeZeroValuesOverwrite(t *testing.T) {
	s := NewStore(DeviceState{Gas: 500, Light: 20, Fan: true, Servo: 45})
	got := s.Merge(context.Background(), Update{Gas: pointers.To(0), Fan: pointers.To(false)})
	assert.Equal(t, 0, got.Gas)
	assert.False(t, got.Fan)
	// untouched
	assert.Equal(t, 20, got.Light)
	assert.Equal(t, 45, got.Servo)
}

func TestMergeKeepsOtherLCDLine(t *testing.T) {
	s := NewStore(Default())
	got := s.Merge(context.Background(), Update{LCDLine2: pointers.To("Gas: 120")})
	assert.Equal(t, LCD{Line1: "ESP32 Ready", Line2: "Gas: 120"}, got.LCD)
}

func TestServoAlwaysClamped(t *testing.T) {
	s := NewStore(Default())
	ctx := context.Background()
	for _, angle := range []int{-1000, -1, 0, 90, 180, 181, 250, 1 << 30} {
		got := s.Merge(ctx, Update{Servo: pointers.To(angle)})
		assert.GreaterOrEqual(t, got.Servo, ServoMin, "angle %d", angle)
		assert.LessOrEqual(t, got.Servo, ServoMax, "angle %d", angle)
	}
	assert.Equal(t, 180, NewStore(DeviceState{Servo: 999}).Get().Servo)
}

func TestObserversSeeMergedState(t *testing.T) {
	s := NewStore(Default())
	var seen []DeviceState
	s.AddObserver(ObserverFunc(func(ctx context.Context, st DeviceState) {
		// observers run outside of the lock, so reading back must not deadlock
		assert.Equal(t, st, s.Get())
		seen = append(seen, st)
	}))

	s.Merge(context.Background(), Update{Relay: pointers.To(true)})
	s.Merge(context.Background(), Update{})

	require.Len(t, seen, 2)
	assert.True(t, seen[0].Relay)
	assert.True(t, seen[1].Relay)
}

func TestConcurrentMergeNoTornReads(t *testing.T) {
	s := NewStore(Default())
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				// gas and light are always written together with the same value
				v := i*1000 + j
				s.Merge(ctx, Update{Gas: pointers.To(v), Light: pointers.To(v)})
			}
		}(i)
	}
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 500; j++ {
				st := s.Get()
				if st.Gas != st.Light {
					t.Errorf("torn read: gas=%d light=%d", st.Gas, st.Light)
					return
				}
			}
		}()
	}
	wg.Wait()
}

func TestTruthy(t *testing.T) {
	falsy := []interface{}{nil, false, float64(0), "", 0}
	truthy := []interface{}{true, float64(1), float64(-2), "false", "0", map[string]interface{}{}, []interface{}{}}
	for _, v := range falsy {
		assert.False(t, Truthy(v), "%#v", v)
	}
	for _, v := range truthy {
		assert.True(t, Truthy(v), "%#v", v)
	}
}

func TestParseAngle(t *testing.T) {
	tests := []struct {
		in    string
		angle int
		ok    bool
	}{
		{`45`, 45, true},
		{`45.9`, 45, true},
		{`250`, 180, true},
		{`-20`, 0, true},
		{`1e300`, 180, true},
		{`"120"`, 120, true},
		{`"  77deg"`, 77, true},
		{`"-5"`, 0, true},
		{`"99999999999999"`, 180, true},
		{`"abc"`, 0, false},
		{`""`, 0, false},
		{`true`, 0, false},
		{`null`, 0, false},
		{`{}`, 0, false},
	}
	for _, tt := range tests {
		var v interface{}
		require.NoError(t, json.Unmarshal([]byte(tt.in), &v))
		angle, ok := ParseAngle(v)
		assert.Equal(t, tt.ok, ok, tt.in)
		if tt.ok {
			assert.Equal(t, tt.angle, angle, tt.in)
		}
	}
}

func TestInteger(t *testing.T) {
	n, ok := Integer(float64(812.7))
	assert.True(t, ok)
	assert.Equal(t, 812, n)

	_, ok = Integer("812")
	assert.False(t, ok)
	_, ok = Integer(true)
	assert.False(t, ok)
}
