package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/google/uuid"
)

// Topic is the in-process bus topic all core events land on.
const Topic = "veil.events"

type wireEvent struct {
	Type      Type      `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Actor     string    `json:"actor"`
	Subject   string    `json:"subject"`
	Amount    uint64    `json:"amount,omitempty"`
}

// WatermillRecorder publishes core events onto a watermill bus so other
// processes (or the kafka bridge) can subscribe without touching the core.
type WatermillRecorder struct {
	publisher message.Publisher
	topic     string
}

func NewWatermillRecorder(publisher message.Publisher) *WatermillRecorder {
	return &WatermillRecorder{publisher: publisher, topic: Topic}
}

func (r *WatermillRecorder) Record(_ context.Context, event Event) error {
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

	msg := message.NewMessage(uuid.New().String(), payload)
	msg.Metadata.Set("type", string(event.Type))

	if err := r.publisher.Publish(r.topic, msg); err != nil {
		return fmt.Errorf("publish event: %w", err)
	}
	return nil
}
