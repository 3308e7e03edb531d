// Package perkey runs work serially per key and concurrently across keys.
// The repository uses it to serialize transactions on one aggregate ID
// within a process.
package perkey

import (
	"context"
	"sync"
)

type Option func(*config)

type config struct {
	bufferSize int
}

// WithBufferSize sets the task queue length of a key (default: 64).
func WithBufferSize(size int) Option {
	return func(c *config) {
		if size > 0 {
			c.bufferSize = size
		}
	}
}

// Scheduler executes the tasks of one key in submission order. A key's
// worker goroutine exits once no caller holds a task for it, so the number
// of live workers is bounded by the number of keys in use.
type Scheduler[K comparable] struct {
	mu         sync.Mutex
	workers    map[K]*worker
	draining   map[K]*worker // released workers that may still run a task
	closed     bool
	wg         sync.WaitGroup // callers inside DoContext
	bufferSize int
}

type worker struct {
	tasks chan *task
	// refs counts callers that hold the worker; guarded by Scheduler.mu
	refs int
	// done is closed when the worker drained its queue
	done chan struct{}
}

type task struct {
	fn   func() error
	done chan error
}

func New[K comparable](opts ...Option) *Scheduler[K] {
	cfg := &config{bufferSize: 64}
	for _, opt := range opts {
		opt(cfg)
	}
	return &Scheduler[K]{
		workers:    make(map[K]*worker),
		draining:   make(map[K]*worker),
		bufferSize: cfg.bufferSize,
	}
}

// Do runs fn for key and returns its error.
func (s *Scheduler[K]) Do(key K, fn func() error) error {
	return s.DoContext(context.Background(), key, fn)
}

// DoContext is like Do but stops waiting when ctx is done. A task that was
// already queued still runs.
func (s *Scheduler[K]) DoContext(ctx context.Context, key K, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSchedulerClosed
	}
	s.wg.Add(1)
	w := s.acquireLocked(key)
	s.mu.Unlock()
	defer s.release(key, w)

	t := &task{fn: fn, done: make(chan error, 1)}
	select {
	case w.tasks <- t:
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-t.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Len returns the number of keys with a live worker.
func (s *Scheduler[K]) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.workers)
}

// Close rejects new tasks and waits until every caller has returned.
// Queued tasks still run.
func (s *Scheduler[K]) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	s.wg.Wait()
}

func (s *Scheduler[K]) acquireLocked(key K) *worker {
	if w, ok := s.workers[key]; ok {
		w.refs++
		return w
	}
	w := &worker{
		tasks: make(chan *task, s.bufferSize),
		refs:  1,
		done:  make(chan struct{}),
	}
	s.workers[key] = w
	var prev chan struct{}
	if d, ok := s.draining[key]; ok {
		prev = d.done
	}
	go s.run(key, w, prev)
	return w
}

func (s *Scheduler[K]) release(key K, w *worker) {
	defer s.wg.Done()
	s.mu.Lock()
	defer s.mu.Unlock()
	w.refs--
	if w.refs > 0 {
		return
	}
	delete(s.workers, key)
	s.draining[key] = w
	close(w.tasks)
}

// run executes the tasks of w after the previous worker of key finished.
func (s *Scheduler[K]) run(key K, w *worker, prev chan struct{}) {
	defer func() {
		s.mu.Lock()
		if s.draining[key] == w {
			delete(s.draining, key)
		}
		s.mu.Unlock()
		close(w.done)
	}()
	if prev != nil {
		<-prev
	}
	for t := range w.tasks {
		t.done <- t.fn()
	}
}

// ErrSchedulerClosed is returned when Do is called on a closed scheduler.
var ErrSchedulerClosed = &SchedulerError{"scheduler is closed"}

type SchedulerError struct {
	msg string
}

func (e *SchedulerError) Error() string { return e.msg }
