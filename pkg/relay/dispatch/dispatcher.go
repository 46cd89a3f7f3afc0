package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/emerband/relay/pkg/relay/event"
	rerrors "github.com/emerband/relay/pkg/relay/errors"
	"github.com/emerband/relay/pkg/relay/observability"
	"github.com/emerband/relay/pkg/relay/store"
)

// Dispatcher routes events to handlers directly or through the store.
type Dispatcher struct {
	store    store.Store
	monitor  Reachability
	registry *Registry

	logger         *slog.Logger
	metrics        observability.MetricsRecorder
	spans          observability.SpanManager
	locator        Locator
	maxAttempts    int
	handlerTimeout time.Duration
	retryBackoff   *rerrors.RetryConfig

	queueOnDirectFailure bool

	onDelivered        func(*event.QueuedEvent)
	onRetry            func(*event.QueuedEvent)
	onPermanentFailure func(*event.QueuedEvent, error)

	jobs    chan func(context.Context)
	drainCh chan struct{}

	// Owned by the worker; reset on every Start.
	inflight map[int64]*inflightCall
	late     chan lateResult

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}

	stats struct {
		submitted         atomic.Int64
		directDelivered   atomic.Int64
		directFailed      atomic.Int64
		queued            atomic.Int64
		delivered         atomic.Int64
		retried           atomic.Int64
		permanentFailures atomic.Int64
		drainPasses       atomic.Int64
	}
}

// New creates a Dispatcher. Call Start before submitting events.
func New(s store.Store, monitor Reachability, registry *Registry, opts ...Option) *Dispatcher {
	if registry == nil {
		registry = NewRegistry()
	}
	d := &Dispatcher{
		store:          s,
		monitor:        monitor,
		registry:       registry,
		metrics:        observability.NoopMetrics{},
		spans:          observability.NoopSpanManager{},
		maxAttempts:    MaxRetryAttempts,
		handlerTimeout: DefaultHandlerTimeout,
		jobs:           make(chan func(context.Context)),
		drainCh:        make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Registry returns the handler registry.
func (d *Dispatcher) Registry() *Registry {
	return d.registry
}

// Start launches the worker and subscribes to reachability transitions.
// Calling Start on a running Dispatcher is a no-op.
func (d *Dispatcher) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.running {
		return nil
	}

	wctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go d.run(wctx, done)

	if d.monitor != nil {
		if err := d.monitor.Start(d.TriggerDrain); err != nil {
			cancel()
			<-done
			return err
		}
	}

	d.running = true
	d.cancel = cancel
	d.done = done
	return nil
}

// Stop unsubscribes from the monitor, then stops the worker once its current
// job finishes. A drain in progress stops between records.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return
	}
	d.running = false
	cancel, done := d.cancel, d.done
	d.mu.Unlock()

	if d.monitor != nil {
		d.monitor.Stop()
	}
	cancel()
	<-done
}

// TriggerDrain requests a drain pass. It never blocks; requests made while
// a pass is pending or running collapse into one follow-up pass.
func (d *Dispatcher) TriggerDrain() {
	select {
	case d.drainCh <- struct{}{}:
	default:
	}
}

// DrainNow runs one drain pass on the worker and waits for it.
func (d *Dispatcher) DrainNow(ctx context.Context) (DrainReport, error) {
	var (
		report DrainReport
		err    error
	)
	if doErr := d.do(ctx, func(wctx context.Context) {
		report, err = d.drain(wctx)
	}); doErr != nil {
		return DrainReport{}, doErr
	}
	return report, err
}

// Submit routes ev: a direct single attempt when reachable, otherwise a
// durable insert. A storage failure on the queued path is returned as
// *errors.StorageError. ev itself is not modified.
func (d *Dispatcher) Submit(ctx context.Context, ev *event.QueuedEvent) (Outcome, error) {
	if err := ev.Validate(); err != nil {
		return 0, err
	}
	if _, ok := d.registry.Get(ev.Kind); !ok {
		return 0, &rerrors.UnknownKindError{Kind: string(ev.Kind)}
	}

	ev = ev.Clone()
	ev.ID = 0
	ev.RetryCount = 0
	d.stats.submitted.Add(1)

	reachable := d.monitor != nil && d.monitor.IsReachable(ctx)

	var (
		outcome Outcome
		err     error
	)
	// The queued path must not be lost to a caller that gives up early.
	jobCtx := context.WithoutCancel(ctx)
	doErr := d.do(ctx, func(context.Context) {
		if reachable {
			outcome, err = d.sendDirect(jobCtx, ev)
			return
		}
		outcome, err = d.enqueue(jobCtx, ev)
	})
	if doErr != nil {
		return 0, doErr
	}
	return outcome, err
}

// DeliverNow makes one best-effort attempt without consulting reachability
// and without persisting. Producers use it when the store is unavailable.
func (d *Dispatcher) DeliverNow(ctx context.Context, ev *event.QueuedEvent) (bool, error) {
	if err := ev.Validate(); err != nil {
		return false, err
	}
	if _, ok := d.registry.Get(ev.Kind); !ok {
		return false, &rerrors.UnknownKindError{Kind: string(ev.Kind)}
	}

	ev = ev.Clone()
	ev.ID = 0

	var (
		ok  bool
		err error
	)
	jobCtx := context.WithoutCancel(ctx)
	if doErr := d.do(ctx, func(context.Context) {
		ok, _, err = d.invoke(jobCtx, ev)
	}); doErr != nil {
		return false, doErr
	}
	return ok, err
}

// Emergency raises an emergency alert with the last known location.
// A missing location is not an error. If the store fails, one direct attempt
// is made instead.
func (d *Dispatcher) Emergency(ctx context.Context, payload string) (Outcome, error) {
	var loc *event.Location
	if d.locator != nil {
		l, err := d.locator.LastKnown(ctx)
		if err != nil && d.logger != nil {
			d.logger.Warn("last known location unavailable", slog.String("error", err.Error()))
		}
		if err == nil {
			loc = l
		}
	}

	ev := event.New(event.KindEmergency, event.WithLocation(loc), event.WithPayload(payload))
	return d.submitWithFallback(ctx, ev)
}

// CyberAlert raises a cyber cell alert.
func (d *Dispatcher) CyberAlert(ctx context.Context) (Outcome, error) {
	return d.submitWithFallback(ctx, event.New(event.KindCyberAlert))
}

func (d *Dispatcher) submitWithFallback(ctx context.Context, ev *event.QueuedEvent) (Outcome, error) {
	outcome, err := d.Submit(ctx, ev)

	var se *rerrors.StorageError
	if !errors.As(err, &se) {
		return outcome, err
	}

	if d.logger != nil {
		d.logger.Error("could not queue event, attempting direct delivery",
			slog.String("kind", string(ev.Kind)),
			slog.String("error", err.Error()),
		)
	}
	ok, sendErr := d.DeliverNow(ctx, ev)
	if ok {
		return OutcomeDelivered, nil
	}
	return OutcomeFailed, errors.Join(err, sendErr)
}

// Pending returns the queued events, oldest first.
func (d *Dispatcher) Pending(ctx context.Context) ([]*event.QueuedEvent, error) {
	return d.store.ListAll(ctx)
}

// Stats returns a snapshot of the cumulative counters.
func (d *Dispatcher) Stats() Stats {
	return Stats{
		Submitted:         d.stats.submitted.Load(),
		DirectDelivered:   d.stats.directDelivered.Load(),
		DirectFailed:      d.stats.directFailed.Load(),
		Queued:            d.stats.queued.Load(),
		Delivered:         d.stats.delivered.Load(),
		Retried:           d.stats.retried.Load(),
		PermanentFailures: d.stats.permanentFailures.Load(),
		DrainPasses:       d.stats.drainPasses.Load(),
	}
}

// do runs fn on the worker and waits for it to finish.
func (d *Dispatcher) do(ctx context.Context, fn func(context.Context)) error {
	d.mu.Lock()
	running, done := d.running, d.done
	d.mu.Unlock()

	if !running {
		return ErrStopped
	}

	finished := make(chan struct{})
	job := func(wctx context.Context) {
		defer close(finished)
		fn(wctx)
	}

	select {
	case d.jobs <- job:
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return ErrStopped
	}

	<-finished
	return nil
}

// run is the worker loop.
func (d *Dispatcher) run(ctx context.Context, done chan<- struct{}) {
	defer close(done)

	d.inflight = make(map[int64]*inflightCall)
	d.late = make(chan lateResult)
	late := d.late

	var (
		retryTimer   *time.Timer
		retryC       <-chan time.Time
		retryAttempt int
	)
	defer func() {
		if retryTimer != nil {
			retryTimer.Stop()
		}
	}()

	pass := func() {
		report, err := d.drain(ctx)
		if err != nil || d.retryBackoff == nil {
			return
		}
		if report.Retried == 0 {
			retryAttempt = 0
			return
		}
		delay := d.retryBackoff.Backoff(retryAttempt)
		retryAttempt++
		if retryTimer == nil {
			retryTimer = time.NewTimer(delay)
		} else {
			retryTimer.Reset(delay)
		}
		retryC = retryTimer.C
	}

	for {
		select {
		case <-ctx.Done():
			return
		case job := <-d.jobs:
			job(ctx)
		case <-d.drainCh:
			pass()
		case lr := <-late:
			d.settle(context.WithoutCancel(ctx), lr)
		case <-retryC:
			retryC = nil
			if d.monitor != nil && d.monitor.IsReachable(ctx) {
				pass()
			}
		}
	}
}

func (d *Dispatcher) sendDirect(ctx context.Context, ev *event.QueuedEvent) (Outcome, error) {
	done := observability.TimedOperation()
	ok, _, _ := d.invoke(ctx, ev)
	observability.LogDirectSend(d.logger, ev.Kind, ok, done())

	if ok {
		d.stats.directDelivered.Add(1)
		d.metrics.RecordSubmit(ctx, string(ev.Kind), observability.OutcomeDelivered)
		if d.onDelivered != nil {
			d.onDelivered(ev)
		}
		return OutcomeDelivered, nil
	}

	if d.queueOnDirectFailure && d.maxAttempts > 1 {
		ev.RetryCount = 1
		return d.enqueue(ctx, ev)
	}

	d.stats.directFailed.Add(1)
	d.metrics.RecordSubmit(ctx, string(ev.Kind), observability.OutcomeFailed)
	return OutcomeFailed, nil
}

func (d *Dispatcher) enqueue(ctx context.Context, ev *event.QueuedEvent) (Outcome, error) {
	if _, err := d.store.Insert(ctx, ev); err != nil {
		var se *rerrors.StorageError
		if !errors.As(err, &se) {
			err = rerrors.NewStorageError("insert", err)
		}
		observability.LogStorageError(d.logger, "insert", 0, err)
		return 0, err
	}

	d.stats.queued.Add(1)
	d.metrics.RecordSubmit(ctx, string(ev.Kind), observability.OutcomeQueued)
	observability.LogEventQueued(d.logger, ev)
	return OutcomeQueued, nil
}
