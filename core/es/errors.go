package es

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation is returned when an event payload fails its own
	// invariants. Nothing is applied or buffered in that case.
	ErrValidation = errors.New("validation failed")
	// ErrConcurrencyConflict is returned when an append collides with an
	// already persisted version. Use errors.As with *ConflictError to find
	// the colliding version.
	ErrConcurrencyConflict = errors.New("concurrency conflict")
	ErrAggregateNotFound   = errors.New("aggregate not found")
	// ErrDecryption is returned when a sealed record or snapshot fails
	// authentication.
	ErrDecryption = errors.New("decryption failed")
	// ErrDeserialization is returned when record bytes do not parse into
	// the payload registered for their event type.
	ErrDeserialization       = errors.New("deserialization failed")
	ErrUnknownEventType      = errors.New("unknown event type")
	ErrUnknownAggregateType  = errors.New("unknown aggregate type")
	ErrAggregateTypeMismatch = errors.New("aggregate type mismatch")
	// ErrStreamCorrupt is returned when a stream is not the contiguous
	// version range the kernel expects.
	ErrStreamCorrupt = errors.New("stream corrupt")
	ErrStoreNoEvents = errors.New("no events to store")
)

// ConflictError reports the version that was already taken when a batch
// was appended.
type ConflictError struct {
	AggregateID string
	Version     Version
	// Err is the backend error that signalled the collision, if any.
	Err error
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s: aggregate %s version %d already exists", ErrConcurrencyConflict, e.AggregateID, e.Version)
}

func (e *ConflictError) Is(target error) bool { return target == ErrConcurrencyConflict }
func (e *ConflictError) Unwrap() error        { return e.Err }

// NewConflictError builds a *ConflictError that matches ErrConcurrencyConflict.
func NewConflictError(aggregateID string, v Version, cause error) error {
	return &ConflictError{AggregateID: aggregateID, Version: v, Err: cause}
}

// ConflictVersion returns the colliding version carried by err.
func ConflictVersion(err error) (Version, bool) {
	var ce *ConflictError
	if errors.As(err, &ce) {
		return ce.Version, true
	}
	return 0, false
}
