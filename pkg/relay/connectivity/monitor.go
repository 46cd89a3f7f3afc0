// Package connectivity watches network reachability and signals each time
// the network comes back.
//
// A Monitor combines two observation sources: a polling loop over a Probe and
// observations pushed through Observe by an OS network-change bridge. Both
// feed one edge detector, so the callback fires once per offline to online
// transition no matter which source saw it first.
package connectivity

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	rerrors "github.com/emerband/relay/pkg/relay/errors"
)

// Defaults for NewMonitor.
const (
	DefaultInterval     = 5 * time.Second
	DefaultProbeTimeout = 3 * time.Second
)

// Monitor observes reachability and invokes a callback on every
// false to true transition.
//
// The initial state is unreachable, so a Monitor started while the network is
// already up fires once on its first poll. That first signal is what drains a
// backlog left behind by a previous process.
type Monitor struct {
	probe        Probe
	interval     time.Duration
	probeTimeout time.Duration
	logger       *slog.Logger

	mu          sync.Mutex
	running     bool
	reachable   bool
	onReachable func()
	cancel      context.CancelFunc
	done        chan struct{}

	unavailableOnce sync.Once
}

// MonitorOption configures a Monitor.
type MonitorOption func(*Monitor)

// WithInterval sets the polling interval (default 5s).
func WithInterval(d time.Duration) MonitorOption {
	return func(m *Monitor) {
		if d > 0 {
			m.interval = d
		}
	}
}

// WithProbeTimeout bounds each probe call (default 3s).
func WithProbeTimeout(d time.Duration) MonitorOption {
	return func(m *Monitor) {
		if d > 0 {
			m.probeTimeout = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) MonitorOption {
	return func(m *Monitor) {
		m.logger = logger
	}
}

// NewMonitor creates a Monitor over probe.
// A nil probe means no polling: reachability comes only from Observe, and
// IsReachable reports the last pushed state (false until the first push).
func NewMonitor(probe Probe, opts ...MonitorOption) *Monitor {
	m := &Monitor{
		probe:        probe,
		interval:     DefaultInterval,
		probeTimeout: DefaultProbeTimeout,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Start begins observation. onReachable runs once per transition to
// reachable; it must not block and must not call Stop.
// Calling Start again before Stop is a no-op.
func (m *Monitor) Start(onReachable func()) error {
	if onReachable == nil {
		return errors.New("connectivity: nil callback")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return nil
	}
	m.running = true
	m.reachable = false

	m.onReachable = onReachable

	if m.probe == nil {
		if m.logger != nil {
			m.logger.Info("no reachability probe, waiting for pushed observations")
		}
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.done = make(chan struct{})
	go m.run(ctx, m.done)
	return nil
}

// Stop ends observation and waits for the polling loop to exit.
// Safe to call when not started; Start may be called again afterwards.
func (m *Monitor) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	m.onReachable = nil
	cancel, done := m.cancel, m.done
	m.cancel, m.done = nil, nil
	m.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
}

// IsReachable runs the probe once. Any failure reports false so callers
// fall back to the durable path. Without a probe it returns the last state
// pushed through Observe.
func (m *Monitor) IsReachable(ctx context.Context) bool {
	if m.probe == nil {
		m.mu.Lock()
		defer m.mu.Unlock()
		return m.running && m.reachable
	}

	pctx, cancel := context.WithTimeout(ctx, m.probeTimeout)
	defer cancel()

	ok, err := m.probe.Reachable(pctx)
	if err != nil {
		m.reportUnavailable(&rerrors.ConnectivityUnavailable{Probe: probeName(m.probe), Err: err})
		return false
	}
	return ok
}

// Observe feeds a pushed reachability observation into the edge detector.
// It is ignored while the Monitor is stopped.
func (m *Monitor) Observe(reachable bool) {
	m.mu.Lock()
	cb := m.onReachable
	if !m.running || cb == nil {
		m.mu.Unlock()
		return
	}
	fire := reachable && !m.reachable
	m.reachable = reachable
	m.mu.Unlock()

	if fire {
		if m.logger != nil {
			m.logger.Info("network reachable")
		}
		cb()
	} else if !reachable && m.logger != nil {
		m.logger.Debug("network unreachable")
	}
}

// Running reports whether the Monitor has been started.
func (m *Monitor) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

func (m *Monitor) run(ctx context.Context, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.poll(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.poll(ctx)
		}
	}
}

func (m *Monitor) poll(ctx context.Context) {
	reachable := m.IsReachable(ctx)
	if ctx.Err() != nil {
		return
	}
	m.Observe(reachable)
}

// reportUnavailable logs the first facility failure only.
func (m *Monitor) reportUnavailable(err *rerrors.ConnectivityUnavailable) {
	m.unavailableOnce.Do(func() {
		if m.logger != nil {
			m.logger.Warn("reachability facility unavailable, treating network as offline",
				slog.String("probe", err.Probe),
				slog.String("error", err.Error()),
			)
		}
	})
}
