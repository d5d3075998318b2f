// Package publish - Fan-out of studio events to UI clients and brokers.
package publish

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
)

// EventType names the kind of payload an Event carries.
type EventType string

const (
	// EventDetections carries the report and stats of a completed cycle.
	EventDetections EventType = "detections"
	// EventCaptures carries the capture buffer metadata after a change.
	EventCaptures EventType = "captures"
	// EventStatus carries model, run and error state.
	EventStatus EventType = "status"
)

// Event is one message published to every sink.
type Event struct {
	ID        string    `json:"id"`
	Session   string    `json:"session"`
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Payload   any       `json:"payload"`
}

// NewEvent stamps a payload with a fresh id.
func NewEvent(session string, typ EventType, at time.Time, payload any) Event {
	return Event{
		ID:        uuid.NewString(),
		Session:   session,
		Type:      typ,
		Timestamp: at,
		Payload:   payload,
	}
}

// Publisher delivers events to one sink.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
	Close() error
}

// Multi publishes to every publisher, collecting their errors.
type Multi []Publisher

// Publish sends ev to every publisher, even when earlier ones fail.
func (m Multi) Publish(ctx context.Context, ev Event) error {
	var err error
	for _, p := range m {
		err = multierr.Append(err, p.Publish(ctx, ev))
	}
	return err
}

// Close closes every publisher.
func (m Multi) Close() error {
	var err error
	for _, p := range m {
		err = multierr.Append(err, p.Close())
	}
	return err
}

// Nop discards events.
type Nop struct{}

// Publish does nothing.
func (Nop) Publish(context.Context, Event) error { return nil }

// Close does nothing.
func (Nop) Close() error { return nil }
