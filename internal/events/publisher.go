// Package events publishes consultation lifecycle events to a message broker
// so other services (chat, analytics, the mobile gateway) can react to them.
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Event is the wire shape shared by every broker.
type Event struct {
	EventType      string          `json:"event_type"`
	ConsultationID uuid.UUID       `json:"consultation_id"`
	UserID         uuid.UUID       `json:"user_id"`
	Status         string          `json:"status,omitempty"`
	Title          string          `json:"title"`
	Body           string          `json:"body"`
	Metadata       json.RawMessage `json:"metadata,omitempty"`
	OccurredAt     time.Time       `json:"occurred_at"`
}

type Publisher interface {
	// Publish sends e under topic, e.g. consultation.confirmed.
	Publish(ctx context.Context, topic string, e Event) error
	Close() error
}

// Nop drops every event. Used when EVENTS_DRIVER=none.
type Nop struct{}

func (Nop) Publish(context.Context, string, Event) error { return nil }
func (Nop) Close() error                                 { return nil }
