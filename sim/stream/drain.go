// Package stream turns a worker's record channel into caller-facing results.
// Drain is the single consumption loop; Events, Collect and WriteNDJSON adapt
// it to the realtime, batch and wire outputs.
package stream

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/neuron-sim/neuron-sim/sim"
)

const (
	// DefaultPollInterval bounds each wait on the record channel.
	DefaultPollInterval = time.Second
	// exitWait bounds the wait for a lost worker to be reaped so its exit
	// status can be reported.
	exitWait = 500 * time.Millisecond
)

// Handle is the view of a worker the drain loop needs.
type Handle interface {
	Records() <-chan sim.QueueRecord
	IsAlive() bool
	PID() int
	ExitErr() error
	Done() <-chan struct{} // closed once the worker is reaped
}

// Options configures one drain.
type Options struct {
	Mode         sim.Mode
	RequestID    string
	PollInterval time.Duration // defaults to DefaultPollInterval
}

// Visitor receives each event in channel order. Returning an error ends the
// drain with that error.
type Visitor func(ev sim.StreamEvent) error

// Drain consumes h until exactly one terminal condition: a stop marker (nil),
// an error record (*sim.SimulationError), the worker dying without either
// (*sim.WorkerLostError), ctx ending (ctx.Err()) or visit failing.
func Drain(ctx context.Context, h Handle, opts Options, visit Visitor) error {
	poll := opts.PollInterval
	if poll <= 0 {
		poll = DefaultPollInterval
	}
	log := logrus.WithFields(logrus.Fields{"request_id": opts.RequestID, "pid": h.PID()})
	timer := time.NewTimer(poll)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case rec, ok := <-h.Records():
			done, err := handleRecord(rec, ok, h, opts, visit)
			if done {
				return err
			}
		case <-timer.C:
			if h.IsAlive() {
				log.Debug("worker alive, waiting for records")
				break
			}
			// Records may still be queued behind a process that already exited.
			select {
			case rec, ok := <-h.Records():
				done, err := handleRecord(rec, ok, h, opts, visit)
				if done {
					return err
				}
			default:
				return lost(h, opts)
			}
		}
		resetTimer(timer, poll)
	}
}

func handleRecord(rec sim.QueueRecord, ok bool, h Handle, opts Options, visit Visitor) (bool, error) {
	if !ok {
		return true, lost(h, opts)
	}
	switch rec.Kind {
	case sim.RecordData:
		if rec.Data == nil {
			return true, errors.New("data record without payload")
		}
		ev, err := ToEvent(*rec.Data, opts.Mode)
		if err != nil {
			return true, err
		}
		if err := visit(ev); err != nil {
			return true, err
		}
		return false, nil
	case sim.RecordError:
		if rec.Error == nil {
			return true, &sim.SimulationError{Message: "Simulation failed"}
		}
		return true, rec.Error.AsError()
	case sim.RecordStop:
		return true, nil
	default:
		logrus.WithField("request_id", opts.RequestID).Warnf("ignoring record of unknown kind %q", rec.Kind)
		return false, nil
	}
}

// lost reports the worker gone. The record channel closes before the process
// is reaped, so the exit status is only available after a short wait on Done.
func lost(h Handle, opts Options) error {
	timer := time.NewTimer(exitWait)
	defer timer.Stop()
	select {
	case <-h.Done():
	case <-timer.C:
		logrus.WithField("request_id", opts.RequestID).Debugf("worker %d not reaped after %s", h.PID(), exitWait)
	}
	return &sim.WorkerLostError{RequestID: opts.RequestID, PID: h.PID(), ExitErr: h.ExitErr()}
}

func resetTimer(t *time.Timer, d time.Duration) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
	t.Reset(d)
}

// ToEvent maps a data record onto its caller-facing event. The varying key is
// the amplitude in current-varying mode and the frequency otherwise; the other
// field is never set.
func ToEvent(rec sim.DataRecord, mode sim.Mode) (sim.StreamEvent, error) {
	ev := sim.StreamEvent{
		Label:         rec.Label,
		RecordingName: rec.RecordingName,
		T:             rec.Time,
		V:             rec.Voltage,
	}
	switch mode {
	case sim.ModeCurrentVarying:
		if rec.Amplitude == nil {
			return ev, fmt.Errorf("record %s/%s has no amplitude in %s mode", rec.Label, rec.RecordingName, mode)
		}
		ev.Amplitude = sim.Float(*rec.Amplitude)
		ev.VaryingKey = *rec.Amplitude
	case sim.ModeFrequencyVarying:
		if rec.Frequency == nil {
			return ev, fmt.Errorf("record %s/%s has no frequency in %s mode", rec.Label, rec.RecordingName, mode)
		}
		ev.Frequency = sim.Float(*rec.Frequency)
		ev.VaryingKey = *rec.Frequency
	default:
		return ev, fmt.Errorf("unknown execution mode %q", mode)
	}
	return ev, nil
}
