package es

import (
	"fmt"
	"slices"
)

// Mutation binds one event type tag to its payload constructor and to the
// pure rule that applies the payload to an aggregate.
type Mutation struct {
	Type  string
	New   func() any
	apply func(agg Aggregate, payload any) error
}

// On declares the mutation rule for event payload E on aggregate A.
// The rule must only change the aggregate's own fields.
//
//	func (c *Company) Mutations() *es.Mutations { return companyMutations }
//
//	var companyMutations = es.NewMutations(
//	    es.On(func(c *Company, e *CompanyPrepared) error { c.name = e.Name; return nil }),
//	)
func On[A Aggregate, E any](rule func(agg A, e *E) error) Mutation {
	eventType := EventTypeOf(new(E))
	return Mutation{
		Type: eventType,
		New:  func() any { return new(E) },
		apply: func(agg Aggregate, payload any) error {
			a, ok := agg.(A)
			if !ok {
				return fmt.Errorf("%w: %s cannot be applied to %T", ErrAggregateTypeMismatch, eventType, agg)
			}
			switch e := payload.(type) {
			case *E:
				return rule(a, e)
			case E:
				return rule(a, &e)
			}
			return fmt.Errorf("%w: payload %T for %s", ErrUnknownEventType, payload, eventType)
		},
	}
}

// Mutations is the table of event type tags an aggregate understands.
// Build it once per aggregate type and share it between instances.
type Mutations struct {
	byType map[string]Mutation
	types  []string
}

func NewMutations(ms ...Mutation) *Mutations {
	m := &Mutations{byType: make(map[string]Mutation, len(ms))}
	for _, mu := range ms {
		if _, ok := m.byType[mu.Type]; ok {
			panic(fmt.Sprintf("es: duplicate mutation for %s", mu.Type))
		}
		m.byType[mu.Type] = mu
		m.types = append(m.types, mu.Type)
	}
	return m
}

func (m *Mutations) Lookup(eventType string) (Mutation, bool) {
	if m == nil {
		return Mutation{}, false
	}
	mu, ok := m.byType[eventType]
	return mu, ok
}

// Types returns the registered event type tags in declaration order.
func (m *Mutations) Types() []string {
	if m == nil {
		return nil
	}
	return slices.Clone(m.types)
}

func (m *Mutations) apply(agg Aggregate, eventType string, payload any) error {
	mu, ok := m.Lookup(eventType)
	if !ok {
		return fmt.Errorf("%w: %s on %s", ErrUnknownEventType, eventType, agg.GetAggType())
	}
	return mu.apply(agg, payload)
}
