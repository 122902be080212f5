// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

/*
Package control turns device reports and client commands into state merges and
queued commands.

Device reports only merge into the state. Client commands merge into the state
and are queued for the device, so that the next poll picks them up. Every merge
is broadcast by the observers of the state store.

All transports (HTTP, WebSocket, MQTT, the upstream bridge) go through the
Controller, which keeps the coercion rules in one place.
*/
package control

import (
	"context"
	"errors"
	"fmt"

	"github.com/goccy/go-json"
	"github.com/relabs-tech/espgate/core/logger"
	"github.com/relabs-tech/espgate/core/metrics"
	"github.com/relabs-tech/espgate/core/pointers"
	"github.com/relabs-tech/espgate/iot/alerts"
	"github.com/relabs-tech/espgate/iot/commands"
	"github.com/relabs-tech/espgate/iot/state"
)

// ErrInvalidJSON is returned for bodies which are not a JSON object
var ErrInvalidJSON = errors.New("Invalid JSON")

// ErrRejected is returned for command values which cannot be coerced
var ErrRejected = errors.New("value rejected")

// ErrUnknownSwitch is returned by SetSwitch for fields which are not switches
var ErrUnknownSwitch = errors.New("unknown switch")

// fireKey is the transient fire flag of a device report. It is not part of the state.
const fireKey = "isFire"

// Builder is a builder helper for the Controller
type Builder struct {
	// Store is mandatory
	Store *state.Store
	// Queue is mandatory
	Queue *commands.Queue
	// Alerts is optional
	Alerts *alerts.Monitor
}

// Controller applies reports and commands
type Controller struct {
	store  *state.Store
	queue  *commands.Queue
	alerts *alerts.Monitor
}

// MustNewController creates a new controller
func MustNewController(b *Builder) *Controller {
	if b.Store == nil {
		panic("Store is missing")
	}
	if b.Queue == nil {
		panic("Queue is missing")
	}
	return &Controller{
		store:  b.Store,
		queue:  b.Queue,
		alerts: b.Alerts,
	}
}

// Store returns the state store of the controller
func (c *Controller) Store() *state.Store {
	return c.store
}

// DecodeObject decodes body as a JSON object. Anything else, null included,
// yields ErrInvalidJSON.
func DecodeObject(body []byte) (map[string]interface{}, error) {
	var object map[string]interface{}
	if err := json.Unmarshal(body, &object); err != nil || object == nil {
		return nil, ErrInvalidJSON
	}
	return object, nil
}

// Report merges a device report into the state. Fields with the wrong type are
// dropped, relay and led are never taken from the device. The report is also
// checked for danger.
func (c *Controller) Report(ctx context.Context, origin string, report map[string]interface{}) state.DeviceState {
	var u state.Update
	for key, value := range report {
		switch key {
		case state.FieldGas:
			if v, ok := state.Integer(value); ok {
				u.Gas = pointers.To(v)
			}
		case state.FieldLight:
			if v, ok := state.Integer(value); ok {
				u.Light = pointers.To(v)
			}
		case state.FieldFan, state.FieldPump, state.FieldBuzzer:
			if v, ok := value.(bool); ok {
				u.SetSwitch(key, v)
			}
		case state.FieldServo:
			if v, ok := state.Integer(value); ok {
				u.SetServo(v)
			}
		case state.FieldLCD:
			setLCD(&u, value)
		}
	}

	snapshot := c.store.Merge(ctx, u)
	metrics.StateMerges.WithLabelValues(origin).Inc()

	if c.alerts != nil {
		fire, _ := report[fireKey].(bool)
		c.alerts.Observe(ctx, alerts.Reading{Gas: u.Gas, IsFire: fire})
	}
	return snapshot
}

// SetSwitch sets a switch to the truthiness of value and queues it for the device
func (c *Controller) SetSwitch(ctx context.Context, origin, field string, value interface{}) (bool, error) {
	if !state.IsSwitch(field) {
		return false, fmt.Errorf("%w: %s", ErrUnknownSwitch, field)
	}
	on := state.Truthy(value)
	var u state.Update
	u.SetSwitch(field, on)
	c.apply(ctx, origin, u, field, on)
	logger.FromContext(ctx).Infof("%s %s", field, onOff(on))
	return on, nil
}

// SetServo parses value as servo angle, clamps it and queues it for the device.
// If value is not an angle, nothing happens and applied is false. The returned
// angle is the servo position after the call.
func (c *Controller) SetServo(ctx context.Context, origin string, value interface{}) (angle int, applied bool) {
	angle, ok := state.ParseAngle(value)
	if !ok {
		return c.store.Get().Servo, false
	}
	var u state.Update
	u.SetServo(angle)
	c.apply(ctx, origin, u, state.FieldServo, angle)
	logger.FromContext(ctx).Infof("servo set to %d", angle)
	return angle, true
}

// ApplyCommand applies a generic {device, value} command. Known fields are
// coerced like their dedicated commands. Unknown fields are queued for the
// device verbatim and leave the state alone.
func (c *Controller) ApplyCommand(ctx context.Context, origin, field string, value interface{}) error {
	switch {
	case field == "":
		return fmt.Errorf("%w: empty field", ErrRejected)
	case state.IsSwitch(field):
		_, err := c.SetSwitch(ctx, origin, field, value)
		return err
	case field == state.FieldServo:
		if _, applied := c.SetServo(ctx, origin, value); !applied {
			return fmt.Errorf("%w: servo %v", ErrRejected, value)
		}
		return nil
	case field == state.FieldGas || field == state.FieldLight:
		v, ok := state.Integer(value)
		if !ok {
			return fmt.Errorf("%w: %s %v", ErrRejected, field, value)
		}
		var u state.Update
		if field == state.FieldGas {
			u.Gas = pointers.To(v)
		} else {
			u.Light = pointers.To(v)
		}
		c.apply(ctx, origin, u, field, v)
		return nil
	case field == state.FieldLCD:
		var u state.Update
		if !setLCD(&u, value) {
			return fmt.Errorf("%w: lcd %v", ErrRejected, value)
		}
		c.apply(ctx, origin, u, field, value)
		return nil
	default:
		c.enqueue(field, value)
		logger.FromContext(ctx).Debugf("queued unknown field %s for the device", field)
		return nil
	}
}

// DrainCommands hands out all pending commands and empties the queue
func (c *Controller) DrainCommands(ctx context.Context) map[string]interface{} {
	pending := c.queue.DrainAll()
	if len(pending) > 0 {
		metrics.CommandsDrained.Add(float64(len(pending)))
		logger.FromContext(ctx).Debugf("device picked up %d commands", len(pending))
	}
	return pending
}

func (c *Controller) apply(ctx context.Context, origin string, u state.Update, field string, value interface{}) {
	c.store.Merge(ctx, u)
	metrics.StateMerges.WithLabelValues(origin).Inc()
	c.enqueue(field, value)
}

func (c *Controller) enqueue(field string, value interface{}) {
	c.queue.Enqueue(field, value)
	metrics.CommandsEnqueued.Inc()
}

// setLCD takes the string lines of an lcd object. It returns false if value is
// not an object or has no string line.
func setLCD(u *state.Update, value interface{}) bool {
	lcd, ok := value.(map[string]interface{})
	if !ok {
		return false
	}
	if line, ok := lcd["line1"].(string); ok {
		u.LCDLine1 = pointers.To(line)
	}
	if line, ok := lcd["line2"].(string); ok {
		u.LCDLine2 = pointers.To(line)
	}
	return u.LCDLine1 != nil || u.LCDLine2 != nil
}

func onOff(on bool) string {
	if on {
		return "ON"
	}
	return "OFF"
}
