// Package errors provides the relay error taxonomy and retry policy.
//
// The package implements a layered error handling approach:
//   - Types: storage, integrity, delivery and connectivity failures
//   - Categorization: decide whether a failure can be retried
//   - Retry: bounded exponential backoff with jitter
package errors

import (
	"context"
	"errors"
	"fmt"
)

// Category represents how an error should be handled.
type Category int

const (
	// CategoryTransient indicates a later attempt will likely help.
	// Examples: storage write failures, handler timeouts, failed sends.
	CategoryTransient Category = iota

	// CategoryPermanent indicates retry won't help.
	// Examples: unknown event kinds, unavailable connectivity facility.
	CategoryPermanent

	// CategoryIntegrity indicates a logic bug such as double processing.
	// These are logged loudly and never retried.
	CategoryIntegrity
)

// String returns the category name.
func (c Category) String() string {
	switch c {
	case CategoryTransient:
		return "transient"
	case CategoryPermanent:
		return "permanent"
	case CategoryIntegrity:
		return "integrity"
	default:
		return "unknown"
	}
}

// CategorizedError wraps an error with its category and context.
type CategorizedError struct {
	// Err is the underlying error.
	Err error

	// Category indicates how this error should be handled.
	Category Category

	// Attempts is the number of attempts that have been made.
	Attempts int

	// Context describes what operation was being attempted.
	Context string
}

// Error implements the error interface.
func (e *CategorizedError) Error() string {
	if e.Context != "" {
		return fmt.Sprintf("%s: %s (category: %s, attempts: %d)",
			e.Context, e.Err, e.Category, e.Attempts)
	}
	return fmt.Sprintf("%s (category: %s, attempts: %d)",
		e.Err, e.Category, e.Attempts)
}

// Unwrap returns the underlying error.
func (e *CategorizedError) Unwrap() error {
	return e.Err
}

// Categorize determines how an error should be handled.
func Categorize(err error) Category {
	if err == nil {
		return CategoryPermanent // shouldn't happen, fail safe
	}

	var catErr *CategorizedError
	if errors.As(err, &catErr) {
		return catErr.Category
	}

	var notFound *NotFoundError
	if errors.As(err, &notFound) || errors.Is(err, ErrNotFound) {
		return CategoryIntegrity
	}

	var storageErr *StorageError
	if errors.As(err, &storageErr) {
		return CategoryTransient
	}

	var deliveryErr *DeliveryFailure
	if errors.As(err, &deliveryErr) {
		if deliveryErr.Permanent {
			return CategoryPermanent
		}
		return CategoryTransient
	}

	var timeoutErr *TimeoutError
	if errors.As(err, &timeoutErr) || errors.Is(err, context.DeadlineExceeded) {
		return CategoryTransient
	}

	var connErr *ConnectivityUnavailable
	if errors.As(err, &connErr) {
		return CategoryPermanent
	}

	var panicErr *PanicError
	if errors.As(err, &panicErr) {
		return CategoryIntegrity
	}

	var kindErr *UnknownKindError
	if errors.As(err, &kindErr) {
		return CategoryPermanent
	}

	return CategoryPermanent
}

// IsRetryable reports whether the error should be retried.
func IsRetryable(err error) bool {
	return Categorize(err) == CategoryTransient
}

// IsIntegrity reports whether the error points at a logic bug.
func IsIntegrity(err error) bool {
	return Categorize(err) == CategoryIntegrity
}
