package worker

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"runtime/debug"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/neuron-sim/neuron-sim/sim"
)

// recordWriter serializes QueueRecords as NDJSON. Each record is flushed as
// soon as it is written so the parent sees it without delay.
type recordWriter struct {
	mu  sync.Mutex
	buf *bufio.Writer
	enc *json.Encoder
}

func newRecordWriter(out io.Writer) *recordWriter {
	buf := bufio.NewWriter(out)
	return &recordWriter{buf: buf, enc: json.NewEncoder(buf)}
}

func (w *recordWriter) write(rec sim.QueueRecord) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.enc.Encode(rec); err != nil {
		return err
	}
	return w.buf.Flush()
}

// Emit implements sim.RecordSink.
func (w *recordWriter) Emit(rec sim.DataRecord) error {
	return w.write(sim.DataMessage(rec))
}

// Serve is the worker process body. It reads an ExecutionPlan from in, runs it
// on a fresh instance of the named engine and writes records to out. Every run
// ends with a stop marker, preceded by one error record when the run failed.
// EOF on in after the plan, or cancellation of ctx, asks the engine to stop.
// The returned error is non-nil only when out cannot be written.
func Serve(ctx context.Context, in io.Reader, out io.Writer, engineName string) error {
	w := newRecordWriter(out)

	runErr := run(ctx, in, w, engineName)
	switch {
	case runErr == nil, errors.Is(runErr, sim.ErrStopped):
	case ctx.Err() != nil && errors.Is(runErr, ctx.Err()):
		logrus.Debugf("worker cancelled: %v", runErr)
	default:
		if err := w.write(sim.ErrorMessage(failureRecord(runErr))); err != nil {
			return fmt.Errorf("writing error record: %w", err)
		}
	}
	if err := w.write(sim.StopMarker()); err != nil {
		return fmt.Errorf("writing stop marker: %w", err)
	}
	return nil
}

// panicError is a recovered engine panic.
type panicError struct{ value any }

func (e *panicError) Error() string { return fmt.Sprint(e.value) }

func failureRecord(err error) sim.ErrorRecord {
	var pe *panicError
	if errors.As(err, &pe) {
		return sim.ErrorRecord{Code: sim.CodeSimulation, Message: "Simulation worker panicked", Details: pe.Error()}
	}
	return sim.ErrorRecord{Code: sim.CodeSimulation, Message: "Simulation failed", Details: err.Error()}
}

func run(ctx context.Context, in io.Reader, sink sim.RecordSink, engineName string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			logrus.Errorf("cell engine panicked: %v\n%s", r, debug.Stack())
			err = &panicError{value: r}
		}
	}()

	dec := json.NewDecoder(in)
	var plan sim.ExecutionPlan
	if err := dec.Decode(&plan); err != nil {
		return fmt.Errorf("decoding execution plan: %w", err)
	}

	stop := &sim.StopFlag{}
	go watchStop(ctx, io.MultiReader(dec.Buffered(), in), stop)

	eng, err := sim.NewCellEngine(engineName)
	if err != nil {
		return err
	}
	log := logrus.WithFields(logrus.Fields{"model": plan.ModelRef, "mode": plan.Mode()})
	log.Debugf("running %d sweep values", len(plan.SweepValues()))
	return sim.RunPlan(ctx, eng, &plan, sink, stop)
}

// watchStop sets stop on EOF of the control stream or cancellation of ctx.
func watchStop(ctx context.Context, control io.Reader, stop *sim.StopFlag) {
	eof := make(chan struct{})
	go func() {
		_, _ = io.Copy(io.Discard, control)
		close(eof)
	}()
	select {
	case <-eof:
		logrus.Debug("stop requested by parent")
	case <-ctx.Done():
		logrus.Debugf("stop requested by signal: %v", ctx.Err())
	}
	stop.Set()
}
