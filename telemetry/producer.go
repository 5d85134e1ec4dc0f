package telemetry

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"
)

// KafkaProducer writes Pings to Kafka in batches. Messages are keyed by
// tag ID so that all pings for one tag land on the same partition and keep
// their relative order through the broker.
type KafkaProducer struct {
	writer *kafka.Writer
}

// NewKafkaProducer creates a producer for the given topic.
func NewKafkaProducer(brokers []string, topic string) *KafkaProducer {
	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchSize:    100,
		BatchTimeout: 10 * time.Millisecond,
		Async:        true,
		RequiredAcks: kafka.RequireOne,
	}
	return &KafkaProducer{writer: w}
}

// Write sends a Ping to Kafka.
func (p *KafkaProducer) Write(ctx context.Context, tp Ping) error {
	data, err := json.Marshal(tp)
	if err != nil {
		return err
	}
	return p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(tp.TagID),
		Value: data,
	})
}

// Close flushes pending messages and closes the connection.
func (p *KafkaProducer) Close() error {
	return p.writer.Close()
}
