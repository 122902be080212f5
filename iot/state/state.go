// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package state

import (
	"context"
	"sync"

	"github.com/goccy/go-json"
)

// Field names as they appear on the wire
const (
	FieldGas    = "gas"
	FieldLight  = "light"
	FieldFan    = "fan"
	FieldPump   = "pump"
	FieldBuzzer = "buzzer"
	FieldRelay  = "relay"
	FieldLED    = "led"
	FieldServo  = "servo"
	FieldLCD    = "lcd"
)

// Switches are the boolean actuator fields a client may toggle
var Switches = []string{FieldFan, FieldPump, FieldBuzzer, FieldRelay, FieldLED}

// IsSwitch returns true if field is one of the boolean actuators
func IsSwitch(field string) bool {
	for _, s := range Switches {
		if s == field {
			return true
		}
	}
	return false
}

// LCD is the two line character display of the device
type LCD struct {
	Line1 string `json:"line1"`
	Line2 string `json:"line2"`
}

// DeviceState is the full last-known state of the device. The field order
// is the wire order.
type DeviceState struct {
	Gas    int  `json:"gas"`
	Light  int  `json:"light"`
	Fan    bool `json:"fan"`
	Pump   bool `json:"pump"`
	Buzzer bool `json:"buzzer"`
	Relay  bool `json:"relay"`
	LED    bool `json:"led"`
	Servo  int  `json:"servo"`
	LCD    LCD  `json:"lcd"`
}

// Default returns the state of a device that has not reported yet
func Default() DeviceState {
	return DeviceState{
		Servo: 90,
		LCD: LCD{
			Line1: "ESP32 Ready",
			Line2: "Waiting...",
		},
	}
}

// JSON returns the wire representation of the state
func (s DeviceState) JSON() ([]byte, error) {
	return json.Marshal(s)
}

// Update is a partial DeviceState. A nil field is absent and leaves the
// stored value untouched; a non-nil field overwrites it, even with false or 0.
type Update struct {
	Gas      *int
	Light    *int
	Fan      *bool
	Pump     *bool
	Buzzer   *bool
	Relay    *bool
	LED      *bool
	Servo    *int
	LCDLine1 *string
	LCDLine2 *string
}

// SetSwitch sets the switch field by name. It returns false for unknown fields.
func (u *Update) SetSwitch(field string, on bool) bool {
	switch field {
	case FieldFan:
		u.Fan = &on
	case FieldPump:
		u.Pump = &on
	case FieldBuzzer:
		u.Buzzer = &on
	case FieldRelay:
		u.Relay = &on
	case FieldLED:
		u.LED = &on
	default:
		return false
	}
	return true
}

// SetServo clamps angle into the servo range and sets it
func (u *Update) SetServo(angle int) {
	angle = ClampServo(angle)
	u.Servo = &angle
}

// Empty returns true if the update carries no field at all
func (u Update) Empty() bool {
	return u.Gas == nil && u.Light == nil && u.Fan == nil && u.Pump == nil &&
		u.Buzzer == nil && u.Relay == nil && u.LED == nil && u.Servo == nil &&
		u.LCDLine1 == nil && u.LCDLine2 == nil
}

func (u Update) applyTo(s *DeviceState) {
	if u.Gas != nil {
		s.Gas = *u.Gas
	}
	if u.Light != nil {
		s.Light = *u.Light
	}
	if u.Fan != nil {
		s.Fan = *u.Fan
	}
	if u.Pump != nil {
		s.Pump = *u.Pump
	}
	if u.Buzzer != nil {
		s.Buzzer = *u.Buzzer
	}
	if u.Relay != nil {
		s.Relay = *u.Relay
	}
	if u.LED != nil {
		s.LED = *u.LED
	}
	if u.Servo != nil {
		s.Servo = ClampServo(*u.Servo)
	}
	if u.LCDLine1 != nil {
		s.LCD.Line1 = *u.LCDLine1
	}
	if u.LCDLine2 != nil {
		s.LCD.Line2 = *u.LCDLine2
	}
}

// Observer gets notified after every merge with the state the merge produced.
// Observers are called outside of the store lock.
type Observer interface {
	StateChanged(ctx context.Context, s DeviceState)
}

// ObserverFunc is an adapter to use ordinary functions as observers
type ObserverFunc func(ctx context.Context, s DeviceState)

// StateChanged calls f(ctx, s)
func (f ObserverFunc) StateChanged(ctx context.Context, s DeviceState) {
	f(ctx, s)
}

// Store holds the one authoritative device state of the gateway
type Store struct {
	mu    sync.RWMutex
	state DeviceState

	observersMu sync.RWMutex
	observers   []Observer
}

// NewStore returns a store initialized with initial
func NewStore(initial DeviceState) *Store {
	initial.Servo = ClampServo(initial.Servo)
	return &Store{state: initial}
}

// AddObserver registers o for all future merges
func (s *Store) AddObserver(o Observer) {
	s.observersMu.Lock()
	defer s.observersMu.Unlock()
	s.observers = append(s.observers, o)
}

// Get returns a consistent snapshot of the current state
func (s *Store) Get() DeviceState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Merge applies all present fields of u atomically and returns the resulting
// snapshot. Every merge notifies the observers, even an empty one.
func (s *Store) Merge(ctx context.Context, u Update) DeviceState {
	s.mu.Lock()
	u.applyTo(&s.state)
	snapshot := s.state
	s.mu.Unlock()

	s.observersMu.RLock()
	observers := make([]Observer, len(s.observers))
	copy(observers, s.observers)
	s.observersMu.RUnlock()

	for _, o := range observers {
		o.StateChanged(ctx, snapshot)
	}
	return snapshot
}
