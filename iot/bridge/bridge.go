// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

/*
Package bridge connects the gateway to an external MQTT broker

Devices and web apps which talk to a public broker (for example broker.emqx.io)
instead of the gateway are bridged with the same topics the embedded broker
serves. Reports and commands arriving upstream go through the controller, every
state change is published upstream.
*/
package bridge

import (
	"context"
	"errors"
	"fmt"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/relabs-tech/espgate/core/logger"
	"github.com/relabs-tech/espgate/core/metrics"
	"github.com/relabs-tech/espgate/iot"
	"github.com/relabs-tech/espgate/iot/control"
	"github.com/relabs-tech/espgate/iot/state"
)

const connectTimeout = 10 * time.Second

// Builder is a builder helper for the Bridge
type Builder struct {
	// Controller is mandatory
	Controller *control.Controller
	// BrokerURL is the upstream broker, for example tcp://broker.emqx.io:1883. This is mandatory.
	BrokerURL string
	// ClientID defaults to espgate-<uuid>
	ClientID string
	// TopicPrefix defaults to iot.DefaultTopicPrefix
	TopicPrefix string
	// StatusTopic, CommandsTopic and StateTopic override single topics below the prefix
	StatusTopic   string
	CommandsTopic string
	StateTopic    string
}

// Bridge is a client of the upstream broker
type Bridge struct {
	controller *control.Controller
	topics     iot.Topics
	clientID   string
	client     paho.Client
}

// MustNewBridge returns a new bridge. It panics if the topics would loop the
// published state back into the gateway. The bridge does not connect before
// Connect is called.
func MustNewBridge(bb *Builder) *Bridge {
	if bb.Controller == nil {
		panic("Controller is missing")
	}
	if len(bb.BrokerURL) == 0 {
		panic("BrokerURL is missing")
	}

	topics := iot.NewTopics(bb.TopicPrefix)
	if bb.StatusTopic != "" {
		topics.Status = bb.StatusTopic
	}
	if bb.CommandsTopic != "" {
		topics.Commands = bb.CommandsTopic
	}
	if bb.StateTopic != "" {
		topics.State = bb.StateTopic
	}
	if err := topics.Validate(); err != nil {
		panic(err)
	}

	b := &Bridge{
		controller: bb.Controller,
		topics:     topics,
		clientID:   bb.ClientID,
	}
	if b.clientID == "" {
		b.clientID = "espgate-" + uuid.New().String()
	}

	opts := paho.NewClientOptions().
		AddBroker(bb.BrokerURL).
		SetClientID(b.clientID).
		SetAutoReconnect(true).
		SetConnectTimeout(connectTimeout).
		SetOnConnectHandler(b.onConnect).
		SetConnectionLostHandler(func(_ paho.Client, err error) {
			logger.Default().WithError(err).Warnln("upstream broker connection lost")
		})
	b.client = paho.NewClient(opts)
	return b
}

// Topics returns the bridged topics
func (b *Bridge) Topics() iot.Topics {
	return b.topics
}

// Connect connects to the upstream broker. Subscriptions are renewed on every reconnect.
func (b *Bridge) Connect() error {
	token := b.client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		return fmt.Errorf("timeout connecting to upstream broker")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("cannot connect to upstream broker: %w", err)
	}
	return nil
}

// Disconnect waits up to quiesce for pending work and disconnects
func (b *Bridge) Disconnect(quiesce time.Duration) {
	b.client.Disconnect(uint(quiesce.Milliseconds()))
}

// PublishMessageQ1 publishes an MQTT messsage with quality level 1 upstream
func (b *Bridge) PublishMessageQ1(topic string, payload []byte) {
	token := b.client.Publish(topic, 1, false, payload)
	go func() {
		if token.WaitTimeout(connectTimeout) && token.Error() != nil {
			logger.Default().WithError(token.Error()).Warnln("upstream publish on", topic, "failed")
		}
	}()
}

// StateChanged implements state.Observer. The state is published upstream.
func (b *Bridge) StateChanged(ctx context.Context, s state.DeviceState) {
	if !b.client.IsConnectionOpen() {
		return
	}
	iot.StatePublisher(b, b.topics.State).StateChanged(ctx, s)
}

func (b *Bridge) onConnect(client paho.Client) {
	logger.Default().Infoln("connected to upstream broker as", b.clientID)
	for _, topic := range []string{b.topics.Status, b.topics.Commands} {
		if token := client.Subscribe(topic, 1, b.handleMessage); token.Wait() && token.Error() != nil {
			logger.Default().WithError(token.Error()).Errorln("cannot subscribe to", topic)
		}
	}
}

func (b *Bridge) handleMessage(_ paho.Client, msg paho.Message) {
	ctx, rlog := logger.ContextWithLoggerIdentity(context.Background(), "bridge:"+b.clientID)
	err := b.topics.Dispatch(ctx, b.controller, metrics.OriginBridge, msg.Topic(), msg.Payload())
	switch {
	case err == nil:
	case errors.Is(err, control.ErrInvalidJSON):
		rlog.Warnf("invalid json on %s", msg.Topic())
	default:
		rlog.WithError(err).Warnln("message on", msg.Topic(), "rejected")
	}
}
