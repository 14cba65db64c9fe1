package sink

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/segmentio/kafka-go"

	"arnscan/internal/enrich"
)

// MessageWriter is the slice of the kafka-go writer used by the Kafka sink.
// This allows for easy mocking in unit tests.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Kafka publishes each completed record as one JSON message keyed by ARN,
// so downstream consumers can compact per entity.
type Kafka struct {
	writer MessageWriter
}

// NewKafka creates a sink producing to the given broker and topic.
func NewKafka(broker, topic string) *Kafka {
	return &Kafka{writer: &kafka.Writer{
		Addr:     kafka.TCP(broker),
		Topic:    topic,
		Balancer: &kafka.Hash{},
	}}
}

// NewKafkaWithWriter creates a sink over an existing writer. Used by tests.
func NewKafkaWithWriter(w MessageWriter) *Kafka {
	return &Kafka{writer: w}
}

func (k *Kafka) Write(ctx context.Context, data map[string]enrich.Record) error {
	msgs := make([]kafka.Message, 0, len(data))
	for arn, rec := range data {
		payload, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("sink: marshal record for %s: %w", arn, err)
		}
		msgs = append(msgs, kafka.Message{Key: []byte(arn), Value: payload})
	}
	if err := k.writer.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("sink: publish records: %w", err)
	}
	return nil
}

// Close flushes and closes the underlying writer.
func (k *Kafka) Close() error {
	return k.writer.Close()
}

var _ Sink = (*Kafka)(nil)
