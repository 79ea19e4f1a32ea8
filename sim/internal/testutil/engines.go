package testutil

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/neuron-sim/neuron-sim/sim"
	"github.com/neuron-sim/neuron-sim/sim/engine"
)

// Scripted engine names, available after RegisterEngines.
const (
	EngineBlock = "test-block" // one record per location, then waits for stop
	EngineFail  = "test-fail"  // returns an error before emitting
	EnginePanic = "test-panic" // panics mid-run
)

// EngineFunc adapts a function to sim.CellEngine; both entry points call it.
type EngineFunc func(ctx context.Context, plan *sim.ExecutionPlan, sink sim.RecordSink, stop *sim.StopFlag) error

func (f EngineFunc) StartCurrentVaryingSimulation(ctx context.Context, plan *sim.ExecutionPlan, sink sim.RecordSink, stop *sim.StopFlag) error {
	return f(ctx, plan, sink, stop)
}

func (f EngineFunc) StartFrequencyVaryingSimulation(ctx context.Context, plan *sim.ExecutionPlan, sink sim.RecordSink, stop *sim.StopFlag) error {
	return f(ctx, plan, sink, stop)
}

var registerOnce sync.Once

// RegisterEngines adds the scripted engines to the engine registry.
func RegisterEngines() {
	registerOnce.Do(func() {
		engine.Register(EngineBlock, func() sim.CellEngine { return EngineFunc(blockUntilStopped) })
		engine.Register(EngineFail, func() sim.CellEngine {
			return EngineFunc(func(context.Context, *sim.ExecutionPlan, sim.RecordSink, *sim.StopFlag) error {
				return errors.New("scripted failure")
			})
		})
		engine.Register(EnginePanic, func() sim.CellEngine {
			return EngineFunc(func(context.Context, *sim.ExecutionPlan, sim.RecordSink, *sim.StopFlag) error {
				panic("scripted panic")
			})
		})
	})
}

func blockUntilStopped(ctx context.Context, plan *sim.ExecutionPlan, sink sim.RecordSink, stop *sim.StopFlag) error {
	for _, loc := range plan.Config.RecordFrom {
		rec := sim.DataRecord{
			RecordingName: loc.Name(),
			Label:         "block",
			Amplitude:     sim.Float(plan.Config.CurrentInjection.Stimulus.Amplitudes.First()),
			Time:          []float64{0},
			Voltage:       []float64{plan.Config.Conditions.VInit},
		}
		if err := sink.Emit(rec); err != nil {
			return err
		}
	}
	for !stop.IsSet() {
		if err := ctx.Err(); err != nil {
			return err
		}
		time.Sleep(time.Millisecond)
	}
	return sim.ErrStopped
}
