package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"
)

// KafkaRecorder ships core events to a Kafka topic. Production is
// fire-and-forget: event emission must never gate a ledger mutation, so
// delivery failures are logged and dropped.
type KafkaRecorder struct {
	client *kgo.Client
	topic  string
	logger *slog.Logger
}

// NewKafkaRecorder dials the brokers and returns a recorder producing to
// topic.
func NewKafkaRecorder(brokers []string, topic string, logger *slog.Logger) (*KafkaRecorder, error) {
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.DefaultProduceTopic(topic),
		kgo.ProducerLinger(50*time.Millisecond),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka client: %w", err)
	}
	return &KafkaRecorder{client: client, topic: topic, logger: logger}, nil
}

func (r *KafkaRecorder) Record(ctx context.Context, event Event) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	payload, err := json.Marshal(wireEvent{
		Type:      event.Type,
		Timestamp: event.Timestamp,
		Actor:     event.Actor.Hex(),
		Subject:   event.Subject.Hex(),
		Amount:    event.Amount,
	})
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	record := &kgo.Record{
		Topic: r.topic,
		Key:   event.Subject.Bytes(),
		Value: payload,
	}
	r.client.Produce(ctx, record, func(_ *kgo.Record, err error) {
		if err != nil {
			r.logger.Error("kafka event delivery failed",
				"type", event.Type, "error", err)
		}
	})
	return nil
}

// Close flushes pending records and releases the client.
func (r *KafkaRecorder) Close(ctx context.Context) error {
	if err := r.client.Flush(ctx); err != nil {
		return fmt.Errorf("kafka flush: %w", err)
	}
	r.client.Close()
	return nil
}
