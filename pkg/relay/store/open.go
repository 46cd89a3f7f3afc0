package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	rerrors "github.com/emerband/relay/pkg/relay/errors"
)

// Supported engine names for Options.Driver.
const (
	DriverSQLite   = "sqlite"
	DriverRedis    = "redis"
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// Options selects and configures a store engine.
type Options struct {
	Driver string

	// Path is the SQLite database file.
	Path string

	RedisAddr     string
	RedisDB       int
	RedisPassword string
	Prefix        string

	PostgresDSN string

	// ConnectRetry governs the initial connection to network engines.
	// A zero value uses errors.DefaultRetry. Without a RetryableFunc every
	// dial error is retried except cancellation.
	ConnectRetry rerrors.RetryConfig

	Logger *slog.Logger
}

// Open constructs the store named by opts.Driver.
func Open(ctx context.Context, opts Options) (Store, error) {
	retry := opts.ConnectRetry
	if retry.MaxAttempts == 0 {
		retry = rerrors.DefaultRetry
	}
	if retry.RetryableFunc == nil {
		rerrors.WithRetryableFunc(connectRetryable)(&retry)
	}

	switch opts.Driver {
	case DriverSQLite, "":
		path := opts.Path
		if path == "" {
			path = "relay.db"
		}
		s, err := NewSQLiteStore(path)
		if err != nil {
			return nil, rerrors.NewStorageError("open", err)
		}
		return s, nil

	case DriverMemory:
		return NewMemoryStore(), nil

	case DriverRedis:
		if opts.RedisAddr == "" {
			return nil, fmt.Errorf("redis store requires an address")
		}
		return connect(ctx, opts, retry, func(ctx context.Context) (Store, error) {
			return OpenRedis(ctx, opts.RedisAddr, opts.RedisDB, opts.RedisPassword, opts.Prefix)
		})

	case DriverPostgres:
		if opts.PostgresDSN == "" {
			return nil, fmt.Errorf("postgres store requires a DSN")
		}
		return connect(ctx, opts, retry, func(ctx context.Context) (Store, error) {
			return NewPostgresStore(ctx, opts.PostgresDSN)
		})

	default:
		return nil, fmt.Errorf("unknown store driver %q", opts.Driver)
	}
}

func connect(ctx context.Context, opts Options, retry rerrors.RetryConfig, dial func(context.Context) (Store, error)) (Store, error) {
	attempt := 0
	result := rerrors.WithRetryContext(ctx, retry, func(ctx context.Context) (Store, error) {
		attempt++
		s, err := dial(ctx)
		if err != nil && opts.Logger != nil {
			opts.Logger.Warn("store connect failed",
				slog.String("driver", opts.Driver),
				slog.Int("attempt", attempt),
				slog.String("error", err.Error()),
			)
		}
		return s, err
	})
	if result.Err != nil {
		return nil, fmt.Errorf("open %s store after %d attempts: %w", opts.Driver, result.Attempts, result.Err)
	}
	return result.Value, nil
}

// connectRetryable treats a failed dial as transient: the server may simply
// not be up yet. Cancellation is final.
func connectRetryable(err error) bool {
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}
