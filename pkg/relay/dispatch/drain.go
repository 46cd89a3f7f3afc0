package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/google/uuid"

	"github.com/emerband/relay/pkg/relay/event"
	rerrors "github.com/emerband/relay/pkg/relay/errors"
	"github.com/emerband/relay/pkg/relay/observability"
)

// errCeilingReached is the cause recorded for records found already at the
// retry ceiling, for example after the ceiling was lowered between runs.
var errCeilingReached = errors.New("retry ceiling reached before attempt")

// drain makes one pass over the store. It must only run on the worker.
func (d *Dispatcher) drain(ctx context.Context) (DrainReport, error) {
	report := DrainReport{PassID: uuid.NewString()}
	start := time.Now()
	d.stats.drainPasses.Add(1)

	// Store bookkeeping finishes even when the pass is interrupted.
	bg := context.WithoutCancel(ctx)

	records, err := d.store.ListAll(bg)
	if err != nil {
		observability.LogDrainError(d.logger, report.PassID, err)
		return report, rerrors.NewStorageError("list", err)
	}

	observability.LogDrainStart(d.logger, report.PassID, len(records))
	ctx, span := d.spans.StartDrainSpan(ctx, report.PassID, len(records))

	for _, ev := range records {
		if ctx.Err() != nil {
			break
		}
		d.process(ctx, ev, &report)
	}

	report.Duration = time.Since(start)
	d.spans.EndSpanWithError(span, ctx.Err())

	if n, err := d.store.Count(bg); err == nil {
		d.metrics.RecordQueueDepth(bg, n)
	}
	d.metrics.RecordDrain(bg, report.Attempted, report.Duration)
	observability.LogDrainComplete(d.logger, report.PassID,
		report.Attempted, report.Delivered, report.Retried, report.Evicted,
		float64(report.Duration.Microseconds())/1000)

	return report, nil
}

// process attempts one queued record and applies the outcome to the store.
func (d *Dispatcher) process(ctx context.Context, ev *event.QueuedEvent, report *DrainReport) {
	bg := context.WithoutCancel(ctx)

	// An earlier attempt outlived its timeout and may still succeed.
	if _, busy := d.inflight[ev.ID]; busy {
		report.Skipped++
		if d.logger != nil {
			observability.EnrichLogger(d.logger, ev).Debug("previous attempt still running, skipping")
		}
		return
	}

	// A row that cannot be written back would otherwise be retried forever.
	if err := ev.Validate(); err != nil {
		if d.evict(bg, ev, err) {
			report.Evicted++
		}
		return
	}

	if ev.RetryCount >= d.maxAttempts {
		if d.evict(bg, ev, errCeilingReached) {
			report.Evicted++
		}
		return
	}

	report.Attempted++
	delivered, pending, herr := d.invoke(ctx, ev)

	if delivered {
		d.markDelivered(bg, ev)
		report.Delivered++
		return
	}

	// Interrupted by Stop: the attempt does not count.
	if ctx.Err() != nil {
		return
	}

	ev.RetryCount++
	held := false
	if pending != nil {
		held = ev.RetryCount >= d.maxAttempts
		d.track(ctx, ev, herr, pending)
	}

	if ev.RetryCount >= d.maxAttempts && !held {
		if d.evict(bg, ev, herr) {
			report.Evicted++
		}
		return
	}

	if err := d.store.Update(bg, ev); err != nil {
		if rerrors.IsIntegrity(err) {
			if d.logger != nil {
				observability.EnrichLogger(d.logger, ev).Error("queued event vanished during drain",
					slog.String("category", rerrors.Categorize(err).String()),
				)
			}
			return
		}
		observability.LogStorageError(d.logger, "update", ev.ID, err)
		return
	}

	if held {
		// Eviction waits for the late result.
		if d.logger != nil {
			observability.EnrichLogger(d.logger, ev).Warn("final attempt timed out, holding until it returns")
		}
		return
	}

	report.Retried++
	d.stats.retried.Add(1)
	d.metrics.RecordRetry(bg, string(ev.Kind), ev.RetryCount)
	observability.LogDeliveryRetry(d.logger, ev, d.maxAttempts)
	if d.onRetry != nil {
		d.onRetry(ev)
	}
}

// markDelivered deletes a delivered record and reports it.
func (d *Dispatcher) markDelivered(ctx context.Context, ev *event.QueuedEvent) {
	if err := d.store.Delete(ctx, ev.ID); err != nil {
		observability.LogStorageError(d.logger, "delete", ev.ID, err)
	}
	d.stats.delivered.Add(1)
	d.metrics.RecordDelivered(ctx, string(ev.Kind))
	observability.LogDelivered(d.logger, ev)
	if d.onDelivered != nil {
		d.onDelivered(ev)
	}
}

// inflightCall is a queued attempt whose handler outlived the timeout.
type inflightCall struct {
	ev    *event.QueuedEvent
	held  bool // at the ceiling; evict if the late result is a failure
	cause error
}

type lateResult struct {
	id  int64
	res callResult
}

// track records an abandoned attempt and forwards its result to the worker.
// The forwarder gives up when the worker stops.
func (d *Dispatcher) track(ctx context.Context, ev *event.QueuedEvent, cause error, pending <-chan callResult) {
	d.inflight[ev.ID] = &inflightCall{
		ev:    ev,
		held:  ev.RetryCount >= d.maxAttempts,
		cause: cause,
	}

	late, id := d.late, ev.ID
	go func() {
		select {
		case res := <-pending:
			select {
			case late <- lateResult{id: id, res: res}:
			case <-ctx.Done():
			}
		case <-ctx.Done():
		}
	}()
}

// settle applies the result of an attempt that returned after its timeout.
func (d *Dispatcher) settle(ctx context.Context, lr lateResult) {
	call, ok := d.inflight[lr.id]
	if !ok {
		return
	}
	delete(d.inflight, lr.id)

	if lr.res.delivered && lr.res.err == nil {
		d.markDelivered(ctx, call.ev)
		return
	}

	cause := lr.res.err
	if cause != nil {
		observability.LogHandlerError(d.logger, call.ev, cause)
	} else {
		cause = call.cause
	}
	if call.held {
		d.evict(ctx, call.ev, cause)
	}
}

// evict deletes a record at the retry ceiling and reports it exactly once.
// If the delete fails nothing is reported; the record is evicted on a later
// pass without another attempt.
func (d *Dispatcher) evict(ctx context.Context, ev *event.QueuedEvent, cause error) bool {
	if err := d.store.Delete(ctx, ev.ID); err != nil {
		observability.LogStorageError(d.logger, "delete", ev.ID, err)
		// Persist the count so the next pass skips straight to eviction.
		if uerr := d.store.Update(ctx, ev); uerr != nil {
			observability.LogStorageError(d.logger, "update", ev.ID, uerr)
		}
		return false
	}

	failure := &rerrors.DeliveryFailure{
		EventID:   ev.ID,
		Kind:      string(ev.Kind),
		Attempt:   ev.RetryCount,
		Permanent: true,
		Err:       cause,
	}
	d.stats.permanentFailures.Add(1)
	d.metrics.RecordPermanentFailure(ctx, string(ev.Kind))
	observability.LogPermanentFailure(d.logger, ev, failure)
	if d.onPermanentFailure != nil {
		d.onPermanentFailure(ev, failure)
	}
	return true
}

// invoke runs the kind's handler once. Only a true result with a nil error
// counts as delivered. pending is non-nil when the handler timed out but is
// still running; it yields the handler's eventual result.
func (d *Dispatcher) invoke(ctx context.Context, ev *event.QueuedEvent) (delivered bool, pending <-chan callResult, err error) {
	kind := string(ev.Kind)

	h, ok := d.registry.Get(ev.Kind)
	if !ok {
		err := &rerrors.UnknownKindError{Kind: kind}
		observability.LogHandlerError(d.logger, ev, err)
		d.metrics.RecordHandler(ctx, kind, 0, false)
		return false, nil, err
	}

	ctx, span := d.spans.StartDeliverSpan(ctx, kind, ev.ID, ev.RetryCount)
	start := time.Now()
	delivered, pending, err = d.call(ctx, h, ev)
	d.metrics.RecordHandler(ctx, kind, time.Since(start), delivered && err == nil)

	if err != nil {
		observability.LogHandlerError(d.logger, ev, err)
		d.spans.EndSpanWithError(span, err)
		return false, pending, err
	}
	if !delivered {
		d.spans.AddSpanEvent(ctx, "not_delivered")
	}
	d.spans.EndSpanWithError(span, nil)
	return delivered, nil, nil
}

type callResult struct {
	delivered bool
	err       error
}

// call runs h with the handler timeout and turns a panic into an error.
// A handler that ignores its context is abandoned at the deadline and its
// result channel is returned as pending.
func (d *Dispatcher) call(ctx context.Context, h Handler, ev *event.QueuedEvent) (bool, <-chan callResult, error) {
	hctx, cancel := context.WithTimeout(ctx, d.handlerTimeout)
	defer cancel()

	ch := make(chan callResult, 1)
	go func() {
		var res callResult
		defer func() {
			if r := recover(); r != nil {
				res = callResult{err: &rerrors.PanicError{
					Kind:  string(ev.Kind),
					Value: r,
					Stack: string(debug.Stack()),
				}}
			}
			ch <- res
		}()
		res.delivered, res.err = h.Send(hctx, ev.Clone())
	}()

	select {
	case res := <-ch:
		return res.delivered, nil, res.err
	case <-hctx.Done():
		if err := ctx.Err(); err != nil {
			return false, nil, err
		}
		return false, ch, &rerrors.TimeoutError{
			Operation: "deliver " + string(ev.Kind),
			Duration:  d.handlerTimeout,
		}
	}
}
