package pipeline

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"
)

// AlarmProducer publishes fired alarms to the alarm topic for the
// notification service, keyed by tag so per-tag alarm order survives
// partitioning.
type AlarmProducer struct {
	writer *kafka.Writer
}

func NewAlarmProducer(brokers []string, topic string) *AlarmProducer {
	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchSize:    100,
		BatchTimeout: 10 * time.Millisecond,
		RequiredAcks: kafka.RequireOne,
	}
	return &AlarmProducer{writer: w}
}

// Publish sends alarms to the topic.
func (p *AlarmProducer) Publish(ctx context.Context, alarms []Alarm) error {
	msgs := make([]kafka.Message, 0, len(alarms))
	for _, a := range alarms {
		data, err := json.Marshal(a)
		if err != nil {
			return err
		}
		msgs = append(msgs, kafka.Message{
			Key:   []byte(a.TagID),
			Value: data,
		})
	}
	return p.writer.WriteMessages(ctx, msgs...)
}

// Close flushes pending messages and closes the connection.
func (p *AlarmProducer) Close() error {
	return p.writer.Close()
}
