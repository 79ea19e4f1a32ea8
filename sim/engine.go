package sim

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
)

// ErrStopped is returned by a CellEngine that observed its stop flag. It is a
// normal end of run, not a failure.
var ErrStopped = errors.New("simulation stopped")

// RecordSink receives the data records an engine produces.
type RecordSink interface {
	Emit(rec DataRecord) error
}

// StopFlag is the cooperative cancellation flag shared by the worker's stop
// watcher (single writer) and the engine (single reader).
type StopFlag struct {
	stopped atomic.Bool
}

// Set requests the engine to stop at its next check.
func (f *StopFlag) Set() { f.stopped.Store(true) }

// IsSet reports whether a stop was requested.
func (f *StopFlag) IsSet() bool { return f.stopped.Load() }

// CellEngine is the numerical simulator run inside a worker process.
// Implementations emit one DataRecord per (sweep value, recording location),
// poll stop between integration steps and return ErrStopped when they honor it.
// A CellEngine instance serves exactly one plan; it holds per-request state
// only.
type CellEngine interface {
	StartCurrentVaryingSimulation(ctx context.Context, plan *ExecutionPlan, sink RecordSink, stop *StopFlag) error
	StartFrequencyVaryingSimulation(ctx context.Context, plan *ExecutionPlan, sink RecordSink, stop *StopFlag) error
}

// NewCellEngineFunc is the engine factory, set by sim/engine's init().
// Importing sim/engine is required before calling NewCellEngine.
var NewCellEngineFunc func(name string) (CellEngine, error)

// NewCellEngine builds a fresh engine instance by name.
func NewCellEngine(name string) (CellEngine, error) {
	if NewCellEngineFunc == nil {
		return nil, fmt.Errorf("no cell engine registered; import sim/engine")
	}
	return NewCellEngineFunc(name)
}

// RunPlan dispatches plan to the engine entry point matching its mode.
func RunPlan(ctx context.Context, eng CellEngine, plan *ExecutionPlan, sink RecordSink, stop *StopFlag) error {
	if plan.CurrentVarying {
		return eng.StartCurrentVaryingSimulation(ctx, plan, sink, stop)
	}
	return eng.StartFrequencyVaryingSimulation(ctx, plan, sink, stop)
}
