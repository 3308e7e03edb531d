package es

import (
	"fmt"
	"log/slog"
	"time"
)

// Record is the unit of storage in an EventStore. (AggregateID, Version) is
// unique per store namespace; Data is opaque and possibly sealed.
type Record struct {
	// ID is the unique identifier of this record.
	ID string `json:"id"`
	// Seq is assigned by the store on append. It orders records across
	// aggregates for the notification log and is informational otherwise.
	Seq         uint64    `json:"seq"`
	AggregateID string    `json:"aggregate_id"`
	Version     Version   `json:"version"`
	Type        string    `json:"type"`
	Topic       string    `json:"topic"`
	OccurredAt  time.Time `json:"occurred_at"`
	Data        []byte    `json:"data"`
}

func (r Record) Validate() error {
	if r.ID == "" {
		return fmt.Errorf("record id is empty")
	}
	if r.AggregateID == "" {
		return fmt.Errorf("record aggregate id is empty")
	}
	if r.Version < FirstVersion {
		return fmt.Errorf("record version must be >= %d", FirstVersion)
	}
	if r.Type == "" {
		return fmt.Errorf("record type is empty")
	}
	if r.Topic == "" {
		return fmt.Errorf("record topic is empty")
	}
	if r.OccurredAt.IsZero() {
		return fmt.Errorf("record occurred at is zero")
	}
	return nil
}

// clone returns r with its own copy of Data.
func (r Record) clone() Record {
	r.Data = append([]byte(nil), r.Data...)
	return r
}

func (r Record) logAttrs() slog.Attr {
	return slog.Group(
		"record",
		slog.String("id", r.ID),
		slog.Uint64("seq", r.Seq),
		slog.String("aggregate_id", r.AggregateID),
		r.Version.SlogAttr(),
		slog.String("type", r.Type),
		slog.String("topic", r.Topic),
	)
}

// ValidateBatch checks the shape every EventStore expects from Append: a
// non-empty batch of valid records for a single aggregate with contiguous,
// ascending versions.
func ValidateBatch(records []Record) error {
	if len(records) == 0 {
		return ErrStoreNoEvents
	}
	first := records[0]
	for i, r := range records {
		if err := r.Validate(); err != nil {
			return fmt.Errorf("record %d: %w", i, err)
		}
		if r.AggregateID != first.AggregateID {
			return fmt.Errorf("batch spans aggregates %s and %s", first.AggregateID, r.AggregateID)
		}
		if want := first.Version + Version(i); r.Version != want {
			return fmt.Errorf("%w: batch version %d at position %d, want %d", ErrStreamCorrupt, r.Version, i, want)
		}
	}
	return nil
}
