package es

import (
	"log/slog"
	"time"

	"github.com/codewandler/esk-go/internal/reflector"
)

// Event is an immutable fact about one aggregate. Version is authoritative
// for ordering; OccurredAt is informational only.
type Event struct {
	AggregateID string
	Version     Version
	// Type selects the mutation rule for Payload.
	Type string
	// Topic identifies the aggregate type the event belongs to.
	Topic      string
	OccurredAt time.Time
	Payload    any
}

func (e Event) logAttrs() slog.Attr {
	return slog.Group(
		"event",
		slog.String("aggregate_id", e.AggregateID),
		e.Version.SlogAttr(),
		slog.String("type", e.Type),
		slog.String("topic", e.Topic),
	)
}

// EventTypeOf returns the type tag of an event payload: the result of its
// EventType method if it has one, else the reflected type name.
func EventTypeOf(payload any) (eventType string) {
	switch t := payload.(type) {
	case interface{ EventType() string }:
		eventType = t.EventType()
	default:
		eventType = reflector.TypeInfoOf(payload).Name
	}
	return
}
