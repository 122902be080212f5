// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package mqtt

import (
	"context"
	"crypto/tls"
	"errors"
	"net"
	"strings"

	"github.com/DrmagicE/gmqtt"
	"github.com/DrmagicE/gmqtt/pkg/packets"

	"github.com/relabs-tech/espgate/core/logger"
	"github.com/relabs-tech/espgate/core/metrics"
	"github.com/relabs-tech/espgate/iot"
	"github.com/relabs-tech/espgate/iot/control"
	"github.com/relabs-tech/espgate/iot/state"
)

// Broker is the embedded MQTT broker of the gateway
type Broker struct {
	p    *plugin
	stop func(ctx context.Context) error
}

// Builder is a builder helper for the Broker
type Builder struct {
	// Controller is mandatory
	Controller *control.Controller
	// Address to listen on, for example ":1883". This is mandatory.
	Address string
	// TopicPrefix defaults to iot.DefaultTopicPrefix
	TopicPrefix string
	// CertFile is the file path to the X.509 certificate file. With CertFile and
	// KeyFile the broker only accepts TLS connections.
	CertFile string
	// KeyFile is the file path to the X.509 private key file
	KeyFile string
}

// plugin is the plugin for GMQTT
type plugin struct {
	ln         net.Listener
	topics     iot.Topics
	controller *control.Controller

	service gmqtt.Server
}

// MustNewBroker returns a new broker. The broker will not
// actually run until you call Run()
func MustNewBroker(bb *Builder) *Broker {
	if bb.Controller == nil {
		panic("Controller is missing")
	}
	if len(bb.Address) == 0 {
		panic("Address is missing")
	}

	topics := iot.NewTopics(bb.TopicPrefix)
	if err := topics.Validate(); err != nil {
		panic(err)
	}

	var ln net.Listener
	if len(bb.CertFile) > 0 || len(bb.KeyFile) > 0 {
		crt, err := tls.LoadX509KeyPair(bb.CertFile, bb.KeyFile)
		if err != nil {
			panic(err)
		}
		ln, err = tls.Listen("tcp", bb.Address, &tls.Config{Certificates: []tls.Certificate{crt}})
		if err != nil {
			panic(err)
		}
	} else {
		var err error
		ln, err = net.Listen("tcp", bb.Address)
		if err != nil {
			panic(err)
		}
	}

	return &Broker{
		p: &plugin{
			ln:         ln,
			topics:     topics,
			controller: bb.Controller,
		},
	}
}

// Addr returns the listen address of the broker
func (b *Broker) Addr() net.Addr {
	return b.p.ln.Addr()
}

// Topics returns the topics the broker serves
func (b *Broker) Topics() iot.Topics {
	return b.p.topics
}

// Run starts the server and returns. Use Stop to shut it down.
func (b *Broker) Run() {
	s := gmqtt.NewServer(
		gmqtt.WithTCPListener(b.p.ln),
		gmqtt.WithPlugin(b.p),
	)
	s.Run()
	b.stop = s.Stop
	logger.Default().Infoln("mqtt broker listening on", b.p.ln.Addr())
}

// Stop shuts down the server
func (b *Broker) Stop(ctx context.Context) error {
	if b.stop == nil {
		return nil
	}
	return b.stop(ctx)
}

// PublishMessageQ1 publishes an MQTT messsage with quality level 1
func (b *Broker) PublishMessageQ1(topic string, payload []byte) {
	if b.p.service == nil {
		return
	}
	logger.Default().Debugf("publish on %s (%d bytes)", topic, len(payload))
	msg := gmqtt.NewMessage(topic, payload, packets.QOS_1)
	b.p.service.PublishService().Publish(msg)
}

// StateChanged implements state.Observer. The state is published on the state topic.
func (b *Broker) StateChanged(ctx context.Context, s state.DeviceState) {
	iot.StatePublisher(b, b.p.topics.State).StateChanged(ctx, s)
}

// Load implements plugin interface
func (p *plugin) Load(service gmqtt.Server) error {
	logger.Default().Debugln("load espgate broker plugin")
	p.service = service
	return nil
}

// Unload implements plugin interface
func (p *plugin) Unload() error {
	return nil
}

// Name implements plugin interface
func (p *plugin) Name() string { return "espgate broker" }

// HookWrapper implements plugin interface
func (p *plugin) HookWrapper() gmqtt.HookWrapper {
	return gmqtt.HookWrapper{
		OnConnectWrapper:    p.OnConnectWrapper,
		OnSubscribeWrapper:  p.OnSubscribeWrapper,
		OnSubscribedWrapper: p.OnSubscribedWrapper,
		OnMsgArrivedWrapper: p.OnMsgArrivedWrapper,
	}
}

func clientContext(ctx context.Context, client gmqtt.Client) context.Context {
	ctx, _ = logger.ContextWithLoggerIdentity(ctx, "mqtt:"+client.OptionsReader().ClientID())
	return ctx
}

// OnConnectWrapper logs connecting clients
func (p *plugin) OnConnectWrapper(connect gmqtt.OnConnect) gmqtt.OnConnect {
	return func(ctx context.Context, client gmqtt.Client) (code uint8) {
		logger.FromContext(clientContext(ctx, client)).Infoln("connect from", client.Connection().RemoteAddr())
		return connect(ctx, client)
	}
}

// OnMsgArrivedWrapper feeds reports and commands into the controller. Clients
// must not publish on the state topic, the gateway owns it.
func (p *plugin) OnMsgArrivedWrapper(arrived gmqtt.OnMsgArrived) gmqtt.OnMsgArrived {
	return func(ctx context.Context, client gmqtt.Client, msg packets.Message) (valid bool) {
		topic := msg.Topic()
		ctx = clientContext(ctx, client)
		rlog := logger.FromContext(ctx)
		if topic == p.topics.State {
			rlog.Warnln("publish on", topic, "denied")
			return false
		}
		err := p.topics.Dispatch(ctx, p.controller, metrics.OriginMQTT, topic, msg.Payload())
		switch {
		case errors.Is(err, iot.ErrNotMine):
		case errors.Is(err, control.ErrInvalidJSON):
			rlog.Warnf("invalid json on %s", topic)
			if topic == p.topics.Status {
				metrics.InvalidReports.Inc()
			}
			return false
		case err != nil:
			rlog.WithError(err).Warnln("message on", topic, "partly rejected")
		}
		return arrived(ctx, client, msg)
	}
}

// OnSubscribeWrapper enforces topic policy: only topics below the gateway prefix
func (p *plugin) OnSubscribeWrapper(subscribe gmqtt.OnSubscribe) gmqtt.OnSubscribe {
	return func(ctx context.Context, client gmqtt.Client, topic packets.Topic) (qos uint8) {
		if !strings.HasPrefix(topic.Name, p.topics.Prefix+"/") {
			logger.FromContext(clientContext(ctx, client)).Warnln("subscribe to", topic.Name, "denied")
			return packets.SUBSCRIBE_FAILURE
		}
		return subscribe(ctx, client, topic)
	}
}

// OnSubscribedWrapper logs the subscription
func (p *plugin) OnSubscribedWrapper(subscribed gmqtt.OnSubscribed) gmqtt.OnSubscribed {
	return func(ctx context.Context, client gmqtt.Client, topic packets.Topic) {
		logger.FromContext(clientContext(ctx, client)).Debugln("subscribed to", topic.Name)
		subscribed(ctx, client, topic)
	}
}
