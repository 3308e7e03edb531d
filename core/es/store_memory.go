package es

import (
	"context"
	"fmt"
	"iter"
	"log/slog"
	"sort"
	"sync"
)

// InMemoryStore is a simple, correct (optimistic) store for tests/dev.
type InMemoryStore struct {
	mu      sync.RWMutex
	log     *slog.Logger
	seq     uint64
	streams map[string][]Record
	all     []Record
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		log:     slog.Default().With(slog.String("store", "memory")),
		streams: map[string][]Record{},
	}
}

func (s *InMemoryStore) Append(_ context.Context, records []Record) (*AppendResult, error) {
	if err := ValidateBatch(records); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var (
		aggID  = records[0].AggregateID
		first  = records[0].Version
		stream = s.streams[aggID]
		last   Version
	)
	if len(stream) > 0 {
		last = stream[len(stream)-1].Version
	}
	if first <= last {
		return nil, NewConflictError(aggID, first, nil)
	}
	if first != last.Next() {
		return nil, fmt.Errorf("%w: aggregate %s at version %d, append starts at %d", ErrStreamCorrupt, aggID, last, first)
	}

	res := &AppendResult{}
	for i := range records {
		s.seq++
		rec := records[i].clone()
		rec.Seq = s.seq
		if i == 0 {
			res.FirstSeq = rec.Seq
		}
		res.LastSeq = rec.Seq
		stream = append(stream, rec)
		s.all = append(s.all, rec)
	}
	s.streams[aggID] = stream

	s.log.Debug(
		"append",
		slog.String("aggregate_id", aggID),
		slog.Uint64("last_seq", res.LastSeq),
		slog.Int("num_events", len(records)),
	)
	return res, nil
}

func (s *InMemoryStore) Read(ctx context.Context, aggregateID string, opts ...ReadOption) iter.Seq2[Record, error] {
	options := NewReadOptions(opts...)

	s.mu.RLock()
	stream := s.streams[aggregateID]
	s.mu.RUnlock()

	// stream is append-only: the captured slice header is a stable snapshot.
	// Records are cloned on the way out so callers never share stored bytes.
	return func(yield func(Record, error) bool) {
		for _, rec := range stream {
			if err := ctx.Err(); err != nil {
				yield(Record{}, err)
				return
			}
			if options.Exhausted(rec.Version) {
				return
			}
			if !options.Contains(rec.Version) {
				continue
			}
			if !yield(rec.clone(), nil) {
				return
			}
		}
	}
}

func (s *InMemoryStore) MostRecent(_ context.Context, aggregateID string) (Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	stream := s.streams[aggregateID]
	if len(stream) == 0 {
		return Record{}, fmt.Errorf("%w: %s", ErrAggregateNotFound, aggregateID)
	}
	return stream[len(stream)-1].clone(), nil
}

func (s *InMemoryStore) Notifications(_ context.Context, afterSeq uint64, limit int) ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	// seq is strictly increasing in s.all
	start := sort.Search(len(s.all), func(i int) bool { return s.all[i].Seq > afterSeq })
	end := len(s.all)
	if limit > 0 && start+limit < end {
		end = start + limit
	}
	out := make([]Record, 0, end-start)
	for _, rec := range s.all[start:end] {
		out = append(out, rec.clone())
	}
	return out, nil
}

var (
	_ EventStore      = (*InMemoryStore)(nil)
	_ NotificationLog = (*InMemoryStore)(nil)
)
