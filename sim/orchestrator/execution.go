package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/neuron-sim/neuron-sim/sim"
	"github.com/neuron-sim/neuron-sim/sim/metrics"
	"github.com/neuron-sim/neuron-sim/sim/store"
	"github.com/neuron-sim/neuron-sim/sim/stream"
)

var (
	// ErrCancelled ends an execution stopped through its Tracker.
	ErrCancelled = errors.New("simulation cancelled")
	// ErrAlreadyConsumed is returned when an execution's results are read twice.
	ErrAlreadyConsumed = errors.New("execution results already consumed")
)

// State is the lifecycle state of an Execution.
type State int32

const (
	StateCreated State = iota
	StateRunning
	StateCompleted
	StateFailed
	StateCancelled
	StateCleaned
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateRunning:
		return "running"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	case StateCancelled:
		return "cancelled"
	case StateCleaned:
		return "cleaned"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// Execution is one spawned simulation. Its results are consumed once, through
// Events or Collect; either path ends with Cleanup.
type Execution struct {
	id      string
	plan    *sim.ExecutionPlan
	handle  WorkerHandle
	runner  *Runner
	started time.Time
	log     *logrus.Entry

	mu       sync.Mutex
	state    State
	lastErr  error
	consumed atomic.Bool
	received atomic.Int64

	stopCh   chan struct{}
	stopOnce sync.Once

	cleanupOnce sync.Once
}

// ID is the request id.
func (e *Execution) ID() string { return e.id }

// Plan is the plan the worker runs.
func (e *Execution) Plan() *sim.ExecutionPlan { return e.plan }

// Received is the number of data records consumed so far.
func (e *Execution) Received() int { return int(e.received.Load()) }

// State reports the current lifecycle state.
func (e *Execution) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Err is the error that ended the execution, if any.
func (e *Execution) Err() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastErr
}

// Events streams the execution's events in channel order. A failure arrives
// as a final (zero event, err) pair. Breaking out of the loop cancels the run;
// cleanup has happened by the time the loop exits either way.
func (e *Execution) Events(ctx context.Context) iter.Seq2[sim.StreamEvent, error] {
	return func(yield func(sim.StreamEvent, error) bool) {
		if err := e.claim(); err != nil {
			yield(sim.StreamEvent{}, err)
			return
		}
		defer e.Cleanup()

		ctx, cancel := e.drainContext(ctx)
		defer cancel()

		var failure error
		for ev, err := range stream.Events(ctx, e.handle, e.streamOptions()) {
			if err != nil {
				failure = e.classify(err)
				break
			}
			e.received.Add(1)
			e.runner.Metrics.RecordStreamed()
			if !yield(ev, nil) {
				e.finish(context.Canceled)
				return
			}
		}
		e.finish(failure)
		if failure != nil {
			yield(sim.StreamEvent{}, failure)
		}
	}
}

// Collect drains the execution into a batch result, then cleans up. On
// failure no partial result is returned.
func (e *Execution) Collect(ctx context.Context) (sim.BatchResult, error) {
	if err := e.claim(); err != nil {
		return nil, err
	}
	defer e.Cleanup()

	ctx, cancel := e.drainContext(ctx)
	defer cancel()

	result, err := stream.Collect(ctx, e.handle, e.streamOptions())
	if err != nil {
		err = e.classify(err)
		e.finish(err)
		return nil, err
	}
	n := 0
	for _, entries := range result {
		n += len(entries)
	}
	e.received.Add(int64(n))
	e.runner.Metrics.RecordsStreamed(n)
	if st := e.runner.Store; st != nil {
		if err := st.SaveResult(context.WithoutCancel(ctx), e.id, result); err != nil {
			e.log.Warnf("saving result: %v", err)
		}
	}
	e.finish(nil)
	return result, nil
}

// Stop cancels the execution. A stopped execution that nobody is consuming is
// cleaned up immediately.
func (e *Execution) Stop() {
	e.stopOnce.Do(func() { close(e.stopCh) })
	if e.consumed.CompareAndSwap(false, true) {
		e.finish(ErrCancelled)
		e.Cleanup()
	}
}

func (e *Execution) stopped() bool {
	select {
	case <-e.stopCh:
		return true
	default:
		return false
	}
}

// Cleanup releases the worker: stop request, bounded wait, terminate, release.
// It runs exactly once, never panics and never returns an error; failures
// are logged as *sim.CleanupError.
func (e *Execution) Cleanup() {
	e.cleanupOnce.Do(func() {
		defer func() {
			if r := recover(); r != nil {
				e.log.Errorf("%v", &sim.CleanupError{RequestID: e.id, Op: "cleanup", Err: fmt.Errorf("panic: %v", r)})
			}
			e.finish(ErrCancelled)
			e.setState(StateCleaned)
			e.runner.Metrics.WorkerReleased()
			e.runner.Tracker.remove(e.id)
		}()

		grace := e.runner.gracePeriod()
		if err := e.handle.RequestStop(); err != nil {
			e.log.Warn(&sim.CleanupError{RequestID: e.id, Op: "request stop", Err: err})
		}
		timer := time.NewTimer(grace)
		select {
		case <-e.handle.Done():
		case <-timer.C:
			e.log.Debugf("worker still alive %s after stop request", grace)
		}
		timer.Stop()
		if err := e.handle.Terminate(grace); err != nil {
			e.log.Warn(&sim.CleanupError{RequestID: e.id, Op: "terminate", Err: err})
		}
		e.handle.Release()
		e.log.Debug("worker cleaned up")
	})
}

func (e *Execution) claim() error {
	if e.consumed.CompareAndSwap(false, true) {
		return nil
	}
	if e.stopped() {
		return ErrCancelled
	}
	return ErrAlreadyConsumed
}

func (e *Execution) drainContext(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	go func() {
		select {
		case <-e.stopCh:
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}

func (e *Execution) streamOptions() stream.Options {
	return stream.Options{
		Mode:         e.plan.Mode(),
		RequestID:    e.id,
		PollInterval: e.runner.PollInterval,
	}
}

// classify turns a stop-by-id cancellation into ErrCancelled.
func (e *Execution) classify(err error) error {
	if errors.Is(err, context.Canceled) && e.stopped() {
		return ErrCancelled
	}
	return err
}

// finish moves a running execution to its terminal state. Later calls are
// ignored.
func (e *Execution) finish(err error) {
	e.mu.Lock()
	if e.state != StateRunning {
		e.mu.Unlock()
		return
	}
	var outcome string
	var lost *sim.WorkerLostError
	switch {
	case err == nil:
		e.state, outcome = StateCompleted, metrics.OutcomeCompleted
	case errors.Is(err, ErrCancelled), errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		e.state, outcome = StateCancelled, metrics.OutcomeCancelled
	case errors.As(err, &lost):
		e.state, outcome = StateFailed, metrics.OutcomeLost
	default:
		e.state, outcome = StateFailed, metrics.OutcomeFailed
	}
	e.lastErr = err
	e.mu.Unlock()

	elapsed := time.Since(e.started)
	e.runner.Metrics.Finished(outcome, elapsed)
	entry := e.log.WithFields(logrus.Fields{"outcome": outcome, "elapsed": elapsed.Round(time.Millisecond)})
	switch {
	case outcome == metrics.OutcomeFailed || outcome == metrics.OutcomeLost:
		entry.Warnf("simulation ended: %v", err)
	case outcome == metrics.OutcomeCompleted && e.Received() != e.plan.ExpectedRecords():
		entry.Warnf("simulation ended after %d of %d expected records", e.Received(), e.plan.ExpectedRecords())
	default:
		entry.Info("simulation ended")
	}

	if st := e.runner.Store; st != nil {
		status, msg := store.StatusSuccess, ""
		if err != nil {
			status, msg = store.StatusFailure, err.Error()
		}
		if serr := st.SetStatus(context.Background(), e.id, status, msg); serr != nil {
			e.log.Warnf("recording %s status: %v", status, serr)
		}
	}
}

func (e *Execution) setState(s State) {
	e.mu.Lock()
	e.state = s
	e.mu.Unlock()
}
