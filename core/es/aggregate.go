package es

import (
	"errors"
	"fmt"
	"reflect"
	"time"

	"github.com/google/uuid"

	"github.com/codewandler/esk-go/core/es/assert"
)

// Aggregate is the core interface for event-sourced domain objects.
//
// An aggregate maintains:
//   - Identity: a topic (its type) and an ID assigned once at creation
//   - Version: the highest applied event version
//   - Persisted version: the highest version known to be stored
//   - Pending events: events triggered but not yet saved
//
// State changes only through Trigger, which applies the mutation rule
// registered for each event type. Types satisfy Aggregate by embedding
// BaseAggregate and declaring GetAggType and Mutations.
type Aggregate interface {
	// GetAggType returns the topic identifying the concrete aggregate type.
	GetAggType() string
	// Mutations returns the event type table of the aggregate.
	Mutations() *Mutations

	GetID() string
	setID(string)

	GetVersion() Version
	setVersion(Version)

	// PersistedVersion is the version watermark of the last save or load.
	PersistedVersion() Version
	// GetSeq returns the store sequence of the last persisted event.
	GetSeq() uint64
	markPersisted(v Version, seq uint64)

	// Pending returns a copy of the events triggered since the last save.
	Pending() []Event
	raise(Event)
	truncatePending(n int)
}

// BaseAggregate is an embeddable helper that tracks identity, version and
// pending events.
type BaseAggregate struct {
	id        string
	version   Version
	persisted Version
	seq       uint64
	pending   []Event
}

func (b *BaseAggregate) GetID() string             { return b.id }
func (b *BaseAggregate) setID(id string)           { b.id = id }
func (b *BaseAggregate) GetVersion() Version       { return b.version }
func (b *BaseAggregate) setVersion(v Version)      { b.version = v }
func (b *BaseAggregate) PersistedVersion() Version { return b.persisted }
func (b *BaseAggregate) GetSeq() uint64            { return b.seq }
func (b *BaseAggregate) IsDirty() bool             { return len(b.pending) > 0 }
func (b *BaseAggregate) raise(ev Event)            { b.pending = append(b.pending, ev) }
func (b *BaseAggregate) truncatePending(n int) {
	clear(b.pending[n:])
	b.pending = b.pending[:n]
	if n == 0 {
		b.pending = nil
	}
}
func (b *BaseAggregate) Pending() []Event {
	out := make([]Event, len(b.pending))
	copy(out, b.pending)
	return out
}

// markPersisted drops pending events up to and including v.
func (b *BaseAggregate) markPersisted(v Version, seq uint64) {
	b.persisted = v
	if seq > 0 {
		b.seq = seq
	}
	n := 0
	for _, ev := range b.pending {
		if ev.Version > v {
			b.pending[n] = ev
			n++
		}
	}
	b.truncatePending(n)
}

// Checked runs thenFunc only if c holds; a failed condition is an
// ErrValidation.
func (b *BaseAggregate) Checked(c assert.Cond, thenFunc func() error) error {
	if err := c.Check(); err != nil {
		return fmt.Errorf("%w: %w", ErrValidation, err)
	}
	return thenFunc()
}

// === Trigger ===

// Trigger records new events on agg. All payloads are validated first
// (payloads may implement Validate() error); if any fails, nothing is
// applied. Then each payload is stamped with the next version, applied via
// its mutation rule and buffered as pending.
//
// A batch is all or nothing: when a mutation rule fails, version and pending
// events are reset to what they were before the call. Snapshottable
// aggregates also get their state restored from a snapshot taken before the
// batch. Any other aggregate must be reloaded after such an error, since the
// rules already applied stay applied. A single mutation rule must not leave
// partial state behind when it returns an error.
func Trigger(agg Aggregate, payloads ...any) error {
	if len(payloads) == 0 {
		return nil
	}
	if agg.GetID() == "" {
		return errors.New("aggregate id is empty")
	}

	muts := agg.Mutations()
	for _, p := range payloads {
		eventType := EventTypeOf(p)
		if _, ok := muts.Lookup(eventType); !ok {
			return fmt.Errorf("%w: %s on %s", ErrUnknownEventType, eventType, agg.GetAggType())
		}
		if v, ok := p.(interface{ Validate() error }); ok {
			if err := v.Validate(); err != nil {
				return fmt.Errorf("%w: %s: %w", ErrValidation, eventType, err)
			}
		}
	}

	var (
		version = agg.GetVersion()
		pending = len(agg.Pending())
		state   []byte
	)
	snap, canRestore := agg.(Snapshottable)
	if canRestore && len(payloads) > 1 {
		data, err := snap.Snapshot()
		if err != nil {
			return fmt.Errorf("snapshot before batch: %w", err)
		}
		state = data
	}

	for _, p := range payloads {
		ev := Event{
			AggregateID: agg.GetID(),
			Version:     agg.GetVersion().Next(),
			Type:        EventTypeOf(p),
			Topic:       agg.GetAggType(),
			OccurredAt:  time.Now().UTC(),
			Payload:     p,
		}
		if err := muts.apply(agg, ev.Type, p); err != nil {
			agg.setVersion(version)
			agg.truncatePending(pending)
			if state != nil {
				if rerr := snap.RestoreSnapshot(state); rerr != nil {
					return errors.Join(fmt.Errorf("apply %s: %w", ev.Type, err), fmt.Errorf("restore state: %w", rerr))
				}
			}
			return fmt.Errorf("apply %s: %w", ev.Type, err)
		}
		agg.setVersion(ev.Version)
		agg.raise(ev)
	}
	return nil
}

// TriggerD defers Trigger, for use with Checked.
func TriggerD(agg Aggregate, payloads ...any) func() error {
	return func() error { return Trigger(agg, payloads...) }
}

// === Create ===

type (
	createOpts        struct{ id string }
	CreateOption      interface{ applyToCreateOpts(*createOpts) }
	AggregateIDOption valueOption[string]
)

// WithAggregateID sets the identifier of a created aggregate instead of a
// random UUID.
func WithAggregateID(id string) AggregateIDOption              { return AggregateIDOption{v: id} }
func (o AggregateIDOption) applyToCreateOpts(opts *createOpts) { opts.id = o.v }

// Create constructs a zero-value A, assigns it a new identifier and
// triggers the creation event at version 1. The result holds exactly one
// pending event.
func Create[A Aggregate](payload any, opts ...CreateOption) (agg A, err error) {
	options := createOpts{}
	for _, opt := range opts {
		opt.applyToCreateOpts(&options)
	}
	id := options.id
	if id == "" {
		id = uuid.NewString()
	}

	a := New[A]()
	a.setID(id)
	if err = Trigger(a, payload); err != nil {
		return agg, err
	}
	return a, nil
}

// New returns a zero-value instance of A. Pointer types are allocated.
func New[A Aggregate]() A {
	var a A
	rt := reflect.TypeOf((*A)(nil)).Elem()
	if rt.Kind() == reflect.Pointer {
		a = reflect.New(rt.Elem()).Interface().(A)
	}
	return a
}

func newLike(prototype Aggregate) Aggregate {
	rt := reflect.TypeOf(prototype)
	if rt.Kind() == reflect.Pointer {
		return reflect.New(rt.Elem()).Interface().(Aggregate)
	}
	return reflect.New(rt).Elem().Interface().(Aggregate)
}

// === Replay ===

// Replay applies historical events to agg in order. Each event must carry
// exactly the next version; agg must have no pending events. After replay
// the persisted watermark equals the version of the last applied event.
func Replay(agg Aggregate, events ...Event) error {
	if len(agg.Pending()) != 0 {
		return errors.New("aggregate has pending events")
	}
	for _, ev := range events {
		if err := replayOne(agg, ev, 0); err != nil {
			return err
		}
	}
	return nil
}

func replayOne(agg Aggregate, ev Event, seq uint64) error {
	expect := agg.GetVersion().Next()
	if ev.Version != expect {
		return fmt.Errorf("%w: aggregate %s expected version %d, got %d", ErrStreamCorrupt, ev.AggregateID, expect, ev.Version)
	}
	switch agg.GetID() {
	case "":
		agg.setID(ev.AggregateID)
	case ev.AggregateID:
	default:
		return fmt.Errorf("%w: event for %s replayed onto %s", ErrStreamCorrupt, ev.AggregateID, agg.GetID())
	}
	if ev.Topic != "" && ev.Topic != agg.GetAggType() {
		return fmt.Errorf("%w: event topic %s on %s", ErrAggregateTypeMismatch, ev.Topic, agg.GetAggType())
	}
	if err := agg.Mutations().apply(agg, ev.Type, ev.Payload); err != nil {
		return fmt.Errorf("replay %s@%d: %w", ev.Type, ev.Version, err)
	}
	agg.setVersion(ev.Version)
	agg.markPersisted(ev.Version, seq)
	return nil
}
