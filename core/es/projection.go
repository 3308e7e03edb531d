package es

import (
	"fmt"
	"slices"
	"sync"
)

type (
	// Projection consumes persisted events to build read models / indexes.
	Projection interface {
		Name() string
		Handler
	}
)

// InMemoryProjection folds events into a read model of type S held in
// memory. It is rebuilt from the start of the log on every process start.
type InMemoryProjection[S any] struct {
	name  string
	mu    sync.RWMutex
	state S
	apply func(state *S, msgCtx MsgCtx) error
}

func NewInMemoryProjection[S any](name string, initial S, apply func(state *S, msgCtx MsgCtx) error) *InMemoryProjection[S] {
	return &InMemoryProjection[S]{name: name, state: initial, apply: apply}
}

func (p *InMemoryProjection[S]) Name() string { return p.name }

func (p *InMemoryProjection[S]) Handle(msgCtx MsgCtx) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.apply(&p.state, msgCtx)
}

// Read calls fn with the current state under a read lock. fn must not
// retain references into the state.
func (p *InMemoryProjection[S]) Read(fn func(state S)) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	fn(p.state)
}

// WithProjection runs projection as a consumer of the Env.
func WithProjection(projection Projection, opts ...ConsumerOption) EnvConsumerOption {
	return EnvConsumerOption{
		handler:      projection,
		consumerOpts: slices.Concat(opts, []ConsumerOption{WithConsumerName(fmt.Sprintf("projection/%s", projection.Name()))}),
	}
}

var _ Projection = (*InMemoryProjection[struct{}])(nil)
