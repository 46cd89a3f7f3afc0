package errors

import (
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is matched by every NotFoundError.
var ErrNotFound = errors.New("queued event not found")

// StorageError reports that the persistence layer is unavailable or a write failed.
// It is returned to producers so they can fall back to a direct send.
type StorageError struct {
	Op  string
	Err error
}

// Error implements the error interface.
func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error.
func (e *StorageError) Unwrap() error {
	return e.Err
}

// NewStorageError wraps err for operation op. A nil err returns nil.
func NewStorageError(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StorageError{Op: op, Err: err}
}

// NotFoundError reports an update against an id the store does not hold.
type NotFoundError struct {
	ID int64
}

// Error implements the error interface.
func (e *NotFoundError) Error() string {
	return fmt.Sprintf("queued event %d not found", e.ID)
}

// Is lets errors.Is(err, ErrNotFound) match.
func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

// DeliveryFailure describes a failed handler attempt.
// Permanent is set once the retry ceiling evicts the record.
type DeliveryFailure struct {
	EventID   int64
	Kind      string
	Attempt   int
	Permanent bool
	Err       error
}

// Error implements the error interface.
func (e *DeliveryFailure) Error() string {
	state := "failed"
	if e.Permanent {
		state = "permanently failed"
	}
	if e.Err != nil {
		return fmt.Sprintf("%s event %d %s on attempt %d: %v", e.Kind, e.EventID, state, e.Attempt, e.Err)
	}
	return fmt.Sprintf("%s event %d %s on attempt %d", e.Kind, e.EventID, state, e.Attempt)
}

// Unwrap returns the handler error, if any.
func (e *DeliveryFailure) Unwrap() error {
	return e.Err
}

// ConnectivityUnavailable reports that the reachability facility cannot be used.
type ConnectivityUnavailable struct {
	Probe string
	Err   error
}

// Error implements the error interface.
func (e *ConnectivityUnavailable) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("connectivity unavailable (%s): %v", e.Probe, e.Err)
	}
	return fmt.Sprintf("connectivity unavailable (%s)", e.Probe)
}

// Unwrap returns the underlying error.
func (e *ConnectivityUnavailable) Unwrap() error {
	return e.Err
}

// TimeoutError indicates an operation exceeded its deadline.
type TimeoutError struct {
	Operation string
	Duration  time.Duration
}

// Error implements the error interface.
func (e *TimeoutError) Error() string {
	return fmt.Sprintf("timeout after %s: %s", e.Duration, e.Operation)
}

// UnknownKindError indicates no handler is registered for an event kind.
type UnknownKindError struct {
	Kind string
}

// Error implements the error interface.
func (e *UnknownKindError) Error() string {
	return fmt.Sprintf("no handler registered for event kind %q", e.Kind)
}

// PanicError captures a handler panic so it counts as a failed attempt.
type PanicError struct {
	Kind  string
	Value any
	Stack string
}

// Error implements the error interface.
func (e *PanicError) Error() string {
	return fmt.Sprintf("%s handler panicked: %v", e.Kind, e.Value)
}
