// pkg/events/kafka.go
package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/segmentio/kafka-go"
)

// KafkaSink publishes lifecycle events to a Kafka topic, keyed by deployment
// so a deployment's events stay ordered within a partition.
type KafkaSink struct {
	writer *kafka.Writer
	topic  string
}

func NewKafkaSink(brokers []string, topic string) (*KafkaSink, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("kafka sink requires at least one broker")
	}
	return &KafkaSink{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			RequiredAcks: kafka.RequireAll,
			Balancer:     &kafka.Hash{},
		},
		topic: topic,
	}, nil
}

func (s *KafkaSink) Publish(ctx context.Context, evt Event) error {
	payload, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	return s.writer.WriteMessages(ctx, kafka.Message{
		Topic: s.topic,
		Key:   []byte(evt.Key()),
		Value: payload,
		Time:  evt.Timestamp,
	})
}

func (s *KafkaSink) Close() error {
	return s.writer.Close()
}
