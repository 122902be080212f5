// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package alerts

import (
	"context"
	"fmt"

	"github.com/goccy/go-json"
	"github.com/relabs-tech/espgate/core/logger"
	"github.com/segmentio/kafka-go"
)

type kafkaWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaDispatcher publishes alerts to a kafka topic, keyed by alert type
type KafkaDispatcher struct {
	writer kafkaWriter
}

// NewKafkaDispatcher returns a dispatcher writing to topic
func NewKafkaDispatcher(brokers []string, topic string) *KafkaDispatcher {
	if len(brokers) == 0 {
		panic("kafka brokers are missing")
	}
	if topic == "" {
		panic("kafka topic is missing")
	}
	return &KafkaDispatcher{
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(brokers...),
			Topic:                  topic,
			Balancer:               &kafka.Hash{},
			AllowAutoTopicCreation: true,
		},
	}
}

// Dispatch implements Dispatcher
func (d *KafkaDispatcher) Dispatch(ctx context.Context, alert Alert) error {
	value, err := json.Marshal(alert)
	if err != nil {
		return err
	}
	err = d.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(alert.Type),
		Value: value,
		Headers: []kafka.Header{
			{Key: "logger", Value: logger.SerializeLoggerContext(ctx)},
		},
	})
	if err != nil {
		return fmt.Errorf("cannot write alert to kafka: %w", err)
	}
	return nil
}

// Close flushes and closes the writer
func (d *KafkaDispatcher) Close() error {
	return d.writer.Close()
}
