// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package iot

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/relabs-tech/espgate/core/logger"
	"github.com/relabs-tech/espgate/iot/control"
)

// DefaultTopicPrefix is the topic prefix of the device firmware
const DefaultTopicPrefix = "esp32/iot"

// ErrNotMine is returned by Dispatch for topics outside of the gateway topics
var ErrNotMine = errors.New("topic not handled by the gateway")

// Topics are the MQTT topics of the gateway
type Topics struct {
	// Prefix is the common prefix without trailing slash
	Prefix string
	// Status receives device reports
	Status string
	// Commands receives client commands as {"<field>": value, ...}
	Commands string
	// State carries the full state after every merge
	State string
}

// NewTopics returns the topics below prefix
func NewTopics(prefix string) Topics {
	prefix = strings.TrimSuffix(prefix, "/")
	if prefix == "" {
		prefix = DefaultTopicPrefix
	}
	return Topics{
		Prefix:   prefix,
		Status:   prefix + "/status",
		Commands: prefix + "/commands",
		State:    prefix + "/state",
	}
}

// Validate rejects topic sets which would feed the published state back into the gateway
func (t Topics) Validate() error {
	if t.State == t.Status || t.State == t.Commands {
		return fmt.Errorf("state topic %s must differ from status and commands topics", t.State)
	}
	if t.Status == t.Commands {
		return fmt.Errorf("status and commands topics must differ, both are %s", t.Status)
	}
	return nil
}

// Dispatch hands an arrived message to the controller. Reports on the status
// topic are merged, commands on the commands topic are applied one by one.
func (t Topics) Dispatch(ctx context.Context, c *control.Controller, origin, topic string, payload []byte) error {
	switch topic {
	case t.Status:
		report, err := control.DecodeObject(payload)
		if err != nil {
			return err
		}
		c.Report(ctx, origin, report)
		return nil
	case t.Commands:
		cmds, err := control.DecodeObject(payload)
		if err != nil {
			return err
		}
		var errs []error
		for field, value := range cmds {
			if err := c.ApplyCommand(ctx, origin, field, value); err != nil {
				errs = append(errs, err)
			}
		}
		if len(errs) > 0 {
			logger.FromContext(ctx).Warnf("%d of %d commands rejected", len(errs), len(cmds))
		}
		return errors.Join(errs...)
	default:
		return ErrNotMine
	}
}
