package es

import (
	"context"
	"iter"
)

type (
	// ReadOptions bound a Read to the inclusive version range
	// [FromVersion, ToVersion]. ToVersion 0 means unbounded.
	ReadOptions struct {
		FromVersion Version
		ToVersion   Version
	}

	ReadOption        interface{ applyToReadOptions(*ReadOptions) }
	fromVersionOption valueOption[Version]
	toVersionOption   valueOption[Version]
)

func (o fromVersionOption) applyToReadOptions(r *ReadOptions) { r.FromVersion = o.v }
func (o toVersionOption) applyToReadOptions(r *ReadOptions)   { r.ToVersion = o.v }

// WithFromVersion starts a Read at version v (inclusive).
func WithFromVersion(v Version) ReadOption { return fromVersionOption{v: v} }

// WithToVersion stops a Read after version v (inclusive). v must be >= 1.
func WithToVersion(v Version) ReadOption { return toVersionOption{v: v} }

func NewReadOptions(opts ...ReadOption) ReadOptions {
	options := ReadOptions{}
	for _, opt := range opts {
		opt.applyToReadOptions(&options)
	}
	return options
}

// Contains reports whether v lies inside the requested range.
func (r ReadOptions) Contains(v Version) bool {
	if v < r.FromVersion {
		return false
	}
	return r.ToVersion == 0 || v <= r.ToVersion
}

// Exhausted reports whether no version at or after v can be in range.
func (r ReadOptions) Exhausted(v Version) bool { return r.ToVersion != 0 && v > r.ToVersion }

type (
	AppendResult struct {
		FirstSeq uint64
		LastSeq  uint64
	}

	// EventStore is an append-only log of records, ordered by version per
	// aggregate.
	EventStore interface {
		// Append persists records of exactly one aggregate, all or nothing.
		// Versions must be contiguous and ascending. If any version is taken
		// the whole batch is rejected with a *ConflictError.
		Append(ctx context.Context, records []Record) (*AppendResult, error)
		// Read yields the records of one aggregate in ascending version
		// order. An unknown aggregate yields nothing.
		Read(ctx context.Context, aggregateID string, opts ...ReadOption) iter.Seq2[Record, error]
		// MostRecent returns the highest version record, or
		// ErrAggregateNotFound.
		MostRecent(ctx context.Context, aggregateID string) (Record, error)
	}

	// NotificationLog exposes all records of a store in store order. Stores
	// implementing it can feed a Consumer.
	NotificationLog interface {
		// Notifications returns records with Seq > afterSeq, in Seq order.
		// Records sharing a Seq are returned together, so the result may
		// hold more than limit records.
		Notifications(ctx context.Context, afterSeq uint64, limit int) ([]Record, error)
	}
)

// ReadAll collects a Read into a slice.
func ReadAll(ctx context.Context, store EventStore, aggregateID string, opts ...ReadOption) ([]Record, error) {
	return Collect(store.Read(ctx, aggregateID, opts...))
}

// Collect drains seq, stopping at the first error.
func Collect(seq iter.Seq2[Record, error]) ([]Record, error) {
	var out []Record
	for rec, err := range seq {
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

// ErrSeq returns a sequence that yields err once.
func ErrSeq(err error) iter.Seq2[Record, error] {
	return func(yield func(Record, error) bool) { yield(Record{}, err) }
}
