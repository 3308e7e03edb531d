// Package domain holds aggregates shared by the store and repository
// conformance tests.
package domain

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/codewandler/esk-go/core/es"
	"github.com/codewandler/esk-go/core/es/assert"
)

// === Thing ===

type (
	Thing struct {
		es.BaseAggregate
		name string
	}

	Created struct {
		Name string `json:"name"`
	}
	Renamed struct {
		Name string `json:"name"`
	}
)

func (Created) EventType() string { return "thing.created" }
func (Renamed) EventType() string { return "thing.renamed" }

func (c Created) Validate() error {
	if c.Name == "" {
		return errors.New("name is required")
	}
	return nil
}

var thingMutations = es.NewMutations(
	es.On(func(t *Thing, e *Created) error { t.name = e.Name; return nil }),
	es.On(func(t *Thing, e *Renamed) error { t.name = e.Name; return nil }),
)

func (t *Thing) GetAggType() string       { return "thing" }
func (t *Thing) Mutations() *es.Mutations { return thingMutations }
func (t *Thing) Name() string             { return t.name }

func (t *Thing) Rename(name string) error {
	return t.Checked(
		assert.All(
			assert.NotEmpty(name, "name"),
			assert.Not(assert.True(name == t.name, "same name")),
		),
		es.TriggerD(t, &Renamed{Name: name}),
	)
}

func CreateThing(name string, opts ...es.CreateOption) (*Thing, error) {
	return es.Create[*Thing](&Created{Name: name}, opts...)
}

// === Counter ===

type (
	Counter struct {
		es.BaseAggregate

		Counter        uint16 `json:"counter"`
		NumIncrements  int    `json:"num_increments"`
		NumResets      int    `json:"num_resets"`
		NumTotalEvents int    `json:"num_total_events"`
	}

	Opened      struct{}
	Incremented struct {
		Inc   uint8 `json:"inc,omitempty"`
		Reset bool  `json:"reset,omitempty"`
	}
)

var counterMutations = es.NewMutations(
	es.On(func(a *Counter, _ *Opened) error { a.NumTotalEvents++; return nil }),
	es.On(func(a *Counter, e *Incremented) error {
		a.NumTotalEvents++
		if e.Inc > 0 {
			a.Counter += uint16(e.Inc)
			a.NumIncrements++
		}
		if e.Reset {
			a.Counter = 0
			a.NumResets++
		}
		return nil
	}),
)

func (a *Counter) Snapshot() (data []byte, err error) { return json.Marshal(a) }
func (a *Counter) RestoreSnapshot(data []byte) error  { return json.Unmarshal(data, a) }
func (a *Counter) GetAggType() string                 { return "counter" }
func (a *Counter) Mutations() *es.Mutations           { return counterMutations }

var _ es.Snapshottable = (*Counter)(nil)

func (a *Counter) Reset() error { return es.Trigger(a, &Incremented{Reset: true}) }
func (a *Counter) Inc() error   { return a.IncBy(1) }
func (a *Counter) IncBy(v uint8) error {
	if a.Counter+uint16(v) > 24 {
		return fmt.Errorf("%w: counter cannot exceed 24", es.ErrValidation)
	}
	return es.Trigger(a, &Incremented{Inc: v})
}

func (a *Counter) Count() int { return int(a.Counter) }

func OpenCounter(opts ...es.CreateOption) (*Counter, error) {
	return es.Create[*Counter](&Opened{}, opts...)
}
