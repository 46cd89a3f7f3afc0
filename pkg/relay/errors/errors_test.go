package errors

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCategoryString(t *testing.T) {
	tests := []struct {
		category Category
		expected string
	}{
		{CategoryTransient, "transient"},
		{CategoryPermanent, "permanent"},
		{CategoryIntegrity, "integrity"},
		{Category(99), "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.category.String())
		})
	}
}

func TestCategorize(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected Category
	}{
		{"nil error", nil, CategoryPermanent},
		{"storage", &StorageError{Op: "insert", Err: errors.New("disk full")}, CategoryTransient},
		{"wrapped storage", fmt.Errorf("enqueue: %w", &StorageError{Op: "insert"}), CategoryTransient},
		{"not found", &NotFoundError{ID: 7}, CategoryIntegrity},
		{"sentinel not found", fmt.Errorf("update: %w", ErrNotFound), CategoryIntegrity},
		{"delivery", &DeliveryFailure{EventID: 1}, CategoryTransient},
		{"permanent delivery", &DeliveryFailure{EventID: 1, Permanent: true}, CategoryPermanent},
		{"timeout", &TimeoutError{Operation: "send", Duration: time.Second}, CategoryTransient},
		{"deadline", context.DeadlineExceeded, CategoryTransient},
		{"connectivity", &ConnectivityUnavailable{Probe: "tcp"}, CategoryPermanent},
		{"unknown kind", &UnknownKindError{Kind: "FALL"}, CategoryPermanent},
		{"categorized", &CategorizedError{Category: CategoryIntegrity}, CategoryIntegrity},
		{"unknown", errors.New("boom"), CategoryPermanent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Categorize(tt.err))
		})
	}
}

func TestNotFoundErrorMatchesSentinel(t *testing.T) {
	err := fmt.Errorf("update: %w", &NotFoundError{ID: 42})
	assert.ErrorIs(t, err, ErrNotFound)
	assert.True(t, IsIntegrity(err))
	assert.Equal(t, "update: queued event 42 not found", err.Error())
}

func TestStorageError(t *testing.T) {
	inner := errors.New("disk full")
	err := NewStorageError("insert", inner)
	require.Error(t, err)
	assert.ErrorIs(t, err, inner)
	assert.Equal(t, "storage insert: disk full", err.Error())
	assert.NoError(t, NewStorageError("insert", nil))
}

func TestDeliveryFailureMessage(t *testing.T) {
	err := &DeliveryFailure{EventID: 3, Kind: "CYBER", Attempt: 3, Permanent: true}
	assert.Equal(t, "CYBER event 3 permanently failed on attempt 3", err.Error())

	cause := errors.New("no signal")
	err = &DeliveryFailure{EventID: 3, Kind: "EMERGENCY", Attempt: 1, Err: cause}
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "failed on attempt 1: no signal")
}

func TestWithRetryContext(t *testing.T) {
	t.Run("success on retry", func(t *testing.T) {
		calls := 0
		cfg := NewRetryConfig(WithMaxAttempts(3), WithInitialBackoff(time.Millisecond))
		result := WithRetryContext(context.Background(), cfg, func(_ context.Context) (string, error) {
			calls++
			if calls < 2 {
				return "", &StorageError{Op: "ping", Err: errors.New("refused")}
			}
			return "ok", nil
		})

		require.NoError(t, result.Err)
		assert.Equal(t, "ok", result.Value)
		assert.Equal(t, 2, result.Attempts)
	})

	t.Run("permanent error stops immediately", func(t *testing.T) {
		calls := 0
		cfg := NewRetryConfig(WithMaxAttempts(3), WithInitialBackoff(time.Millisecond))
		result := WithRetryContext(context.Background(), cfg, func(_ context.Context) (int, error) {
			calls++
			return 0, &UnknownKindError{Kind: "X"}
		})

		require.Error(t, result.Err)
		assert.Equal(t, 1, calls)
	})

	t.Run("max attempts exceeded", func(t *testing.T) {
		cfg := NewRetryConfig(WithMaxAttempts(3), WithInitialBackoff(time.Millisecond))
		result := WithRetryContext(context.Background(), cfg, func(_ context.Context) (int, error) {
			return 0, &TimeoutError{Operation: "ping", Duration: time.Millisecond}
		})

		require.Error(t, result.Err)
		assert.Equal(t, 3, result.Attempts)
		var catErr *CategorizedError
		require.ErrorAs(t, result.Err, &catErr)
		assert.Equal(t, "max retries exceeded", catErr.Context)
	})

	t.Run("respects context cancellation", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		result := WithRetryContext(ctx, DefaultRetry, func(_ context.Context) (int, error) {
			return 1, nil
		})
		assert.Error(t, result.Err)
		assert.Equal(t, 0, result.Attempts)
	})
}

func TestBackoff(t *testing.T) {
	cfg := NewRetryConfig(
		WithInitialBackoff(100*time.Millisecond),
		WithMaxBackoff(time.Second),
		WithBackoffFactor(2),
		WithJitter(0),
	)

	assert.Equal(t, 100*time.Millisecond, cfg.Backoff(0))
	assert.Equal(t, 200*time.Millisecond, cfg.Backoff(1))
	assert.Equal(t, 400*time.Millisecond, cfg.Backoff(2))
	assert.Equal(t, time.Second, cfg.Backoff(10))

	jittered := NewRetryConfig(WithInitialBackoff(time.Second), WithJitter(0.5))
	for i := 0; i < 20; i++ {
		d := jittered.Backoff(0)
		assert.GreaterOrEqual(t, d, 500*time.Millisecond)
		assert.LessOrEqual(t, d, 1500*time.Millisecond)
	}
}
