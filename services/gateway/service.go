// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/fatih/color"

	"github.com/relabs-tech/espgate/core/logger"
	"github.com/relabs-tech/espgate/iot/alerts"
	"github.com/relabs-tech/espgate/iot/state"
)

// Service holds the configuration for this service
//
// use POSTGRES="host=localhost port=5432 user=postgres dbname=postgres sslmode=disable"
// and POSTGRES_PASSWORD="docker" to enable the device registry
type Service struct {
	Address        string        `env:"GATEWAY_ADDRESS,optional,default=:8080" description:"listen address of the REST and WebSocket server"`
	LogLevel       string        `env:"LOG_LEVEL,optional,default=info" description:"The level used for logger, can be debug, warning, info, error"`
	WSOutboxSize   int           `env:"WS_OUTBOX_SIZE,optional,default=16" description:"number of state messages a websocket client may lag behind"`
	WSWriteTimeout time.Duration `env:"WS_WRITE_TIMEOUT,optional,default=10s" description:"timeout of a single websocket write"`

	MQTTAddress     string `env:"MQTT_ADDRESS,optional" description:"listen address of the embedded MQTT broker, e.g. :1883"`
	MQTTTopicPrefix string `env:"MQTT_TOPIC_PREFIX,optional,default=esp32/iot" description:"prefix of the status, commands and state topics"`
	MQTTCertFile    string `env:"MQTT_CERT_FILE,optional" description:"certificate for a TLS MQTT listener"`
	MQTTKeyFile     string `env:"MQTT_KEY_FILE,optional" description:"key for a TLS MQTT listener"`

	UpstreamBroker   string `env:"UPSTREAM_BROKER,optional" description:"external MQTT broker to bridge to, e.g. tcp://broker.emqx.io:1883"`
	UpstreamClientID string `env:"UPSTREAM_CLIENT_ID,optional" description:"client id on the external broker"`

	GasThreshold  int           `env:"GAS_THRESHOLD,optional,default=700" description:"gas reading above which a danger alert is raised"`
	AlertCooldown time.Duration `env:"ALERT_COOLDOWN,optional,default=30s" description:"minimum time between two alerts of the same type"`

	AlertSQSQueueURL string `env:"ALERT_SQS_QUEUE_URL,optional" description:"SQS queue receiving alert push jobs"`
	AWSRegion        string `env:"AWS_REGION,optional" description:"AWS region of the SQS queue"`
	AWSAccessID      string `env:"AWS_ACCESS_KEY_ID,optional" description:"AWS access key id"`
	AWSAccessKey     string `env:"AWS_SECRET_ACCESS_KEY,optional" description:"AWS secret access key"`

	KafkaBrokers    string `env:"KAFKA_BROKERS,optional" description:"comma separated kafka brokers receiving alerts"`
	KafkaAlertTopic string `env:"KAFKA_ALERT_TOPIC,optional,default=espgate_alerts" description:"kafka topic for alerts"`

	Postgres         string `env:"POSTGRES,optional" description:"the connection string for the Postgres DB without password"`
	PostgresPassword string `env:"POSTGRES_PASSWORD,optional" description:"password to the Postgres DB"`
}

// PostgresDSN returns the connection string including the password
func (s *Service) PostgresDSN() string {
	if s.PostgresPassword == "" {
		return s.Postgres
	}
	return s.Postgres + " password=" + s.PostgresPassword
}

// Brokers returns the configured kafka brokers
func (s *Service) Brokers() []string {
	var brokers []string
	for _, broker := range strings.Split(s.KafkaBrokers, ",") {
		if broker = strings.TrimSpace(broker); broker != "" {
			brokers = append(brokers, broker)
		}
	}
	return brokers
}

// closer is what needs to be closed on shutdown besides the servers
type closer func() error

// Dispatcher assembles the alert dispatchers from the configuration. Alerts
// are always logged; SQS and kafka are added when configured.
func (s *Service) Dispatcher(ctx context.Context) (alerts.Dispatcher, []closer, error) {
	dispatchers := alerts.MultiDispatcher{alerts.LogDispatcher{}}
	var closers []closer

	if s.AlertSQSQueueURL != "" {
		sqsDispatcher, err := alerts.NewSQSDispatcher(ctx, alerts.SQSConfiguration{
			QueueURL:  s.AlertSQSQueueURL,
			AWSRegion: s.AWSRegion,
			AccessID:  s.AWSAccessID,
			AccessKey: s.AWSAccessKey,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("cannot create sqs alert dispatcher: %w", err)
		}
		dispatchers = append(dispatchers, sqsDispatcher)
		logger.FromContext(ctx).Infoln("alerts are queued on", s.AlertSQSQueueURL)
	}

	if brokers := s.Brokers(); len(brokers) > 0 {
		kafkaDispatcher := alerts.NewKafkaDispatcher(brokers, s.KafkaAlertTopic)
		dispatchers = append(dispatchers, kafkaDispatcher)
		closers = append(closers, kafkaDispatcher.Close)
		logger.FromContext(ctx).Infoln("alerts are written to kafka topic", s.KafkaAlertTopic)
	}

	if len(dispatchers) == 1 {
		return dispatchers[0], closers, nil
	}
	return dispatchers, closers, nil
}

// printBanner lists the endpoints of the running gateway
func (s *Service) printBanner(w io.Writer) {
	title := color.New(color.FgGreen, color.Bold).SprintFunc()
	fmt.Fprintln(w, title("ESP32 IoT gateway running"))
	fmt.Fprintln(w, "  REST      ", color.CyanString("http://localhost"+s.Address))
	fmt.Fprintln(w, "  WebSocket ", color.CyanString("ws://localhost"+s.Address))
	if s.MQTTAddress != "" {
		fmt.Fprintln(w, "  MQTT      ", color.CyanString(s.MQTTAddress), "topics", s.MQTTTopicPrefix+"/{status,commands,state}")
	}
	if s.UpstreamBroker != "" {
		fmt.Fprintln(w, "  Upstream  ", color.CyanString(s.UpstreamBroker))
	}
	if s.Postgres != "" {
		fmt.Fprintln(w, "  Devices   ", color.CyanString("/users/{user_id}/devices"))
	}
	fmt.Fprintln(w, "  Endpoints:")
	fmt.Fprintln(w, "    GET  /status")
	fmt.Fprintln(w, "    POST /esp/status")
	fmt.Fprintln(w, "    GET  /esp/commands")
	for _, field := range state.Switches {
		fmt.Fprintln(w, "    POST /"+field)
	}
	fmt.Fprintln(w, "    POST /servo")
	fmt.Fprintln(w, "    GET  /version")
	fmt.Fprintln(w, "    GET  /metrics")
}
