// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package iot

import (
	"context"

	"github.com/relabs-tech/espgate/core/logger"
	"github.com/relabs-tech/espgate/iot/state"
)

// MessagePublisher is an interface to publish MQTT message
type MessagePublisher interface {
	PublishMessageQ1(topic string, payload []byte)
}

// StatePublisher returns a state observer which publishes every snapshot on topic
func StatePublisher(p MessagePublisher, topic string) state.Observer {
	return state.ObserverFunc(func(ctx context.Context, s state.DeviceState) {
		payload, err := s.JSON()
		if err != nil {
			logger.FromContext(ctx).WithError(err).Errorln("cannot serialize state")
			return
		}
		p.PublishMessageQ1(topic, payload)
	})
}
