package volume

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/nace/volcrypt/internal/events"
	"github.com/nace/volcrypt/internal/system"
)

// invocation is one run of the tool on behalf of an operation.
type invocation struct {
	tool     string
	args     []string
	password *system.SecureBytes

	// onSuccess applies the operation's effect and returns the completion message
	onSuccess func() string

	// retryable, when set, lets a failed run be repeated with backoff
	retryable func(error) bool
}

// invoke spawns the tool, streams its progress and settles op on exit. It
// is shared by every operation kind; argument lists are the only difference.
func (o *Orchestrator) invoke(ctx context.Context, op *operation, inv invocation) Result {
	err := o.runWithRetry(ctx, op, inv)
	if err != nil && ctx.Err() != nil {
		err = fmt.Errorf("%w: %v", system.ErrCancelled, ctx.Err())
	}

	if !op.settle() {
		// CancelOperation settled it already and reported the outcome.
		return Result{OperationID: op.id, Message: "Operation cancelled", Err: system.ErrCancelled}
	}
	o.registry.remove(op.id)

	switch {
	case err == nil:
		msg := inv.onSuccess()
		o.log.Debug("%s operation %s completed: %s", op.kind, op.id, msg)
		o.emit(op, events.Completed, 100, msg)
		o.metrics.OperationSettled(string(op.kind), string(events.Completed), o.now().Sub(op.startedAt))
		return Result{Success: true, OperationID: op.id, Message: msg}

	case errors.Is(err, system.ErrCancelled):
		op.cancelled.Store(true)
		o.log.Info("%s operation %s interrupted", op.kind, op.id)
		o.emit(op, events.Cancelled, 0, "Operation cancelled")
		o.metrics.OperationSettled(string(op.kind), string(events.Cancelled), o.now().Sub(op.startedAt))
		return Result{OperationID: op.id, Message: "Operation cancelled", Err: err}

	default:
		o.reportFailure(op, err)
		return Result{OperationID: op.id, Message: failureMessage(err), Err: err}
	}
}

// runWithRetry repeats attempt while inv.retryable accepts the error, up to
// the configured number of retries. Once op is cancelled no further attempt
// is spawned.
func (o *Orchestrator) runWithRetry(ctx context.Context, op *operation, inv invocation) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = o.retry.InitialInterval
	bo.MaxInterval = o.retry.MaxInterval
	bo.MaxElapsedTime = 0
	bo.Reset()

	for attempt := 0; ; attempt++ {
		if attempt > 0 && op.settled.Load() {
			return system.ErrCancelled
		}
		err := o.attempt(ctx, op, inv, attempt == 0)
		if err == nil || inv.retryable == nil || !inv.retryable(err) {
			return err
		}
		if op.settled.Load() {
			return system.ErrCancelled
		}
		if attempt >= o.retry.MaxRetries {
			return err
		}

		wait := bo.NextBackOff()
		o.log.Debug("%s operation %s: volume busy, retry %d/%d in %s", op.kind, op.id, attempt+1, o.retry.MaxRetries, wait)
		o.emit(op, events.Processing, 0, fmt.Sprintf("Volume is busy, retrying in %s", wait.Round(time.Millisecond)))

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return err
		case <-op.stopped():
			timer.Stop()
			return system.ErrCancelled
		case <-timer.C:
		}
	}
}

// attempt runs the tool once. The first successful spawn registers op.
func (o *Orchestrator) attempt(ctx context.Context, op *operation, inv invocation, first bool) error {
	proc, err := o.runner.Start(ctx, inv.tool, inv.args...)
	if err != nil {
		return err
	}
	op.setProcess(proc)

	if first {
		o.registry.insert(op)
		op.guard.Add("unregister operation", func() error {
			o.registry.remove(op.id)
			return nil
		})
		o.emit(op, events.Processing, 0, fmt.Sprintf("%s %s", verb(op.kind), op.device))
	}

	if inv.password.Len() > 0 {
		if err := inv.password.Feed(proc.Stdin()); err != nil {
			o.log.Debug("Writing password to %s: %v", inv.tool, err)
		}
	} else if err := proc.Stdin().Close(); err != nil {
		o.log.Debug("Closing input of %s: %v", inv.tool, err)
	}

	eta := newEstimator(o.now())
	for line := range proc.Lines() {
		o.log.Debug("[%s] %s", op.id, line.Text)
		for _, pct := range system.ParsePercents(line.Text) {
			if op.settled.Load() {
				continue
			}
			o.emit(op, events.Processing, pct, eta.message(op.kind, pct, o.now()))
		}
	}
	return proc.Wait()
}

// estimator projects remaining time from the throughput observed so far.
type estimator struct {
	started time.Time
}

func newEstimator(started time.Time) estimator {
	return estimator{started: started}
}

func (e estimator) remaining(pct float64, now time.Time) time.Duration {
	if pct <= 0 || pct >= 100 {
		return 0
	}
	elapsed := now.Sub(e.started)
	if elapsed <= 0 {
		return 0
	}
	return time.Duration(float64(elapsed) * (100 - pct) / pct)
}

func (e estimator) message(kind events.OperationType, pct float64, now time.Time) string {
	msg := verb(kind) + " " + strconv.FormatFloat(pct, 'f', -1, 64) + "% complete"
	if left := e.remaining(pct, now); left >= time.Second {
		msg += ", about " + left.Round(time.Second).String() + " remaining"
	}
	return msg
}

func verb(kind events.OperationType) string {
	switch kind {
	case events.Encryption:
		return "Encrypting"
	case events.Mount:
		return "Mounting"
	case events.Unmount:
		return "Dismounting"
	case events.Decryption:
		return "Decrypting"
	}
	return "Processing"
}
