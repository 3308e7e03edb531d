package es

import (
	"fmt"
	"slices"
	"sync"
)

// Registry resolves topics to aggregate types. It is how replay turns a
// stored record into a zero-value aggregate of the right concrete type and
// a payload of the right event type.
type Registry struct {
	mu         sync.RWMutex
	prototypes map[string]Aggregate
}

func NewRegistry() *Registry {
	return &Registry{prototypes: map[string]Aggregate{}}
}

// Register adds aggregate prototypes. Only their type is retained.
func (r *Registry) Register(prototypes ...Aggregate) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range prototypes {
		r.prototypes[p.GetAggType()] = newLike(p)
	}
}

func (r *Registry) lookup(topic string) (Aggregate, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.prototypes[topic]
	return p, ok
}

// New returns a fresh zero-value aggregate for topic.
func (r *Registry) New(topic string) (Aggregate, error) {
	p, ok := r.lookup(topic)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAggregateType, topic)
	}
	return newLike(p), nil
}

// NewPayload returns a pointer to a zero payload for eventType of topic.
func (r *Registry) NewPayload(topic, eventType string) (any, error) {
	p, ok := r.lookup(topic)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAggregateType, topic)
	}
	mu, ok := p.Mutations().Lookup(eventType)
	if !ok {
		return nil, fmt.Errorf("%w: %s on %s", ErrUnknownEventType, eventType, topic)
	}
	return mu.New(), nil
}

func (r *Registry) Topics() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.prototypes))
	for t := range r.prototypes {
		out = append(out, t)
	}
	slices.Sort(out)
	return out
}
