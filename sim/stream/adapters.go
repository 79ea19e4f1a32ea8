package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"

	"github.com/neuron-sim/neuron-sim/sim"
)

var errConsumerDone = errors.New("consumer stopped iterating")

// Events is the realtime adapter: a lazy, finite sequence of events. A failed
// drain yields one final (zero event, err) pair. Breaking out of the loop ends
// the drain without error.
func Events(ctx context.Context, h Handle, opts Options) iter.Seq2[sim.StreamEvent, error] {
	return func(yield func(sim.StreamEvent, error) bool) {
		err := Drain(ctx, h, opts, func(ev sim.StreamEvent) error {
			if !yield(ev, nil) {
				return errConsumerDone
			}
			return nil
		})
		if err != nil && !errors.Is(err, errConsumerDone) {
			yield(sim.StreamEvent{}, err)
		}
	}
}

// Collect is the batch adapter. It returns every event grouped by recording
// name, or nil and the error; partial results are never returned.
func Collect(ctx context.Context, h Handle, opts Options) (sim.BatchResult, error) {
	result := make(sim.BatchResult)
	if err := Drain(ctx, h, opts, func(ev sim.StreamEvent) error {
		result.Add(ev)
		return nil
	}); err != nil {
		return nil, err
	}
	return result, nil
}

// WriteNDJSON writes one JSON object per line for every event of seq. A
// failure is written as a terminal {error_code, message, details} object and
// also returned. Write errors end the stream early.
func WriteNDJSON(w io.Writer, seq iter.Seq2[sim.StreamEvent, error]) (int, error) {
	enc := json.NewEncoder(w)
	flusher, _ := w.(interface{ Flush() })
	n := 0
	for ev, err := range seq {
		if err != nil {
			if encErr := enc.Encode(sim.ErrorBody(err)); encErr != nil {
				return n, fmt.Errorf("writing terminal error: %w", encErr)
			}
			if flusher != nil {
				flusher.Flush()
			}
			return n, err
		}
		if err := enc.Encode(ev); err != nil {
			return n, fmt.Errorf("writing event %d: %w", n, err)
		}
		if flusher != nil {
			flusher.Flush()
		}
		n++
	}
	return n, nil
}
