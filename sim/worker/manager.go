// Package worker runs one simulation per OS process. The parent side (Manager,
// Process) spawns the child, hands it an ExecutionPlan and exposes the record
// channel; the child side (Serve) runs the cell engine and writes records.
//
// Wire protocol: the plan is one JSON document on the child's stdin, which then
// stays open. Closing stdin asks the child to stop. The child writes one JSON
// QueueRecord per line on stdout and ends with a stop marker.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/neuron-sim/neuron-sim/sim"
)

const (
	// DefaultBuffer is the record channel capacity.
	DefaultBuffer = 64
	// DefaultHandoverTimeout bounds writing the plan to a new worker.
	DefaultHandoverTimeout = 10 * time.Second
	// abortGrace is the SIGTERM grace given to a worker whose spawn failed.
	abortGrace = time.Second
)

// Options configures how workers are launched.
type Options struct {
	Executable      string        // binary to run; defaults to os.Executable()
	Args            []string      // arguments selecting the worker entry point
	Env             []string      // extra environment, appended to the parent's
	Buffer          int           // record channel capacity; defaults to DefaultBuffer
	Stderr          io.Writer     // child stderr; defaults to os.Stderr
	HandoverTimeout time.Duration // plan write deadline; defaults to DefaultHandoverTimeout
}

// Manager spawns worker processes. It holds no per-request state and is safe
// for concurrent use.
type Manager struct {
	opts Options
}

// NewManager creates a Manager. An empty Executable resolves to the running
// binary; an empty Args selects the hidden "worker" command.
func NewManager(opts Options) (*Manager, error) {
	if opts.Executable == "" {
		exe, err := os.Executable()
		if err != nil {
			return nil, fmt.Errorf("resolving worker executable: %w", err)
		}
		opts.Executable = exe
	}
	if len(opts.Args) == 0 {
		opts.Args = []string{"worker"}
	}
	if opts.Buffer <= 0 {
		opts.Buffer = DefaultBuffer
	}
	if opts.Stderr == nil {
		opts.Stderr = os.Stderr
	}
	if opts.HandoverTimeout <= 0 {
		opts.HandoverTimeout = DefaultHandoverTimeout
	}
	return &Manager{opts: opts}, nil
}

// Spawn starts a fresh worker for plan and returns once the plan has been
// handed over. ctx and the handover timeout bound the spawn only; the process
// outlives them until stopped or terminated. A worker that does not take its
// plan in time is terminated.
func (m *Manager) Spawn(ctx context.Context, plan *sim.ExecutionPlan, requestID string) (*Process, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	payload, err := json.Marshal(plan)
	if err != nil {
		return nil, fmt.Errorf("encoding plan: %w", err)
	}

	cmd := exec.Command(m.opts.Executable, m.opts.Args...)
	cmd.Env = append(os.Environ(), m.opts.Env...)
	cmd.Stderr = m.opts.Stderr
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("creating stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("creating stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("starting worker: %w", err)
	}

	p := &Process{
		requestID: requestID,
		cmd:       cmd,
		stdin:     stdin,
		records:   make(chan sim.QueueRecord, m.opts.Buffer),
		exited:    make(chan struct{}),
		discard:   make(chan struct{}),
	}
	go p.read(stdout)

	if err := p.handOver(ctx, append(payload, '\n'), m.opts.HandoverTimeout); err != nil {
		_ = p.Terminate(abortGrace)
		p.Release()
		return nil, fmt.Errorf("sending plan to worker %d: %w", p.PID(), err)
	}
	logrus.WithFields(logrus.Fields{"request_id": requestID, "pid": p.PID()}).Debug("worker spawned")
	return p, nil
}

// handOver writes the plan to the worker's stdin. Plans larger than the pipe
// buffer block until the child reads them, so the write races ctx and timeout.
func (p *Process) handOver(ctx context.Context, payload []byte, timeout time.Duration) error {
	written := make(chan error, 1)
	go func() {
		_, err := p.stdin.Write(payload)
		written <- err
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case err := <-written:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return fmt.Errorf("worker did not read its plan within %s: %w", timeout, context.DeadlineExceeded)
	}
}

// Process is the parent's handle on one running worker.
type Process struct {
	requestID string
	cmd       *exec.Cmd
	stdin     io.WriteCloser
	records   chan sim.QueueRecord
	exited    chan struct{}
	waitErr   error

	discard     chan struct{}
	discardOnce sync.Once
	stopOnce    sync.Once
	termMu      sync.Mutex
}

// read decodes stdout into the record channel. Records are handed over before
// the process is reaped, so once Done is closed the channel is closed too.
func (p *Process) read(stdout io.Reader) {
	dec := json.NewDecoder(stdout)
	for {
		var rec sim.QueueRecord
		if err := dec.Decode(&rec); err != nil {
			if !errors.Is(err, io.EOF) {
				logrus.WithField("request_id", p.requestID).Warnf("undecodable worker output: %v", err)
			}
			break
		}
		select {
		case p.records <- rec:
		case <-p.discard:
		}
	}
	close(p.records)
	_, _ = io.Copy(io.Discard, stdout)
	p.waitErr = p.cmd.Wait()
	close(p.exited)
}

// Records is the worker's record channel. It is closed after the worker's
// stdout reaches EOF.
func (p *Process) Records() <-chan sim.QueueRecord { return p.records }

// Done is closed once the worker has exited and been reaped.
func (p *Process) Done() <-chan struct{} { return p.exited }

// ExitErr is the worker's exit status. Valid only after Done is closed.
func (p *Process) ExitErr() error {
	select {
	case <-p.exited:
		return p.waitErr
	default:
		return nil
	}
}

// PID is the worker's process id.
func (p *Process) PID() int {
	if p.cmd.Process == nil {
		return 0
	}
	return p.cmd.Process.Pid
}

// IsAlive reports whether the worker has not yet been reaped.
func (p *Process) IsAlive() bool {
	select {
	case <-p.exited:
		return false
	default:
		return true
	}
}

// RequestStop closes the worker's stdin, the cooperative stop signal.
// Idempotent.
func (p *Process) RequestStop() error {
	var err error
	p.stopOnce.Do(func() {
		err = p.stdin.Close()
	})
	if err != nil && !errors.Is(err, os.ErrClosed) {
		return fmt.Errorf("closing worker stdin: %w", err)
	}
	return nil
}

// Terminate sends SIGTERM and, if the worker is still alive after grace,
// SIGKILL. Records not yet consumed are dropped. Idempotent.
func (p *Process) Terminate(grace time.Duration) error {
	p.termMu.Lock()
	defer p.termMu.Unlock()
	p.Release()
	if !p.IsAlive() {
		return nil
	}

	if err := p.cmd.Process.Signal(syscall.SIGTERM); err != nil && !errors.Is(err, os.ErrProcessDone) {
		logrus.WithField("request_id", p.requestID).Debugf("SIGTERM to worker %d: %v", p.PID(), err)
	}
	if p.waitExit(grace) {
		return nil
	}

	logrus.WithField("request_id", p.requestID).Warnf("worker %d ignored SIGTERM for %s, killing", p.PID(), grace)
	if err := p.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("killing worker %d: %w", p.PID(), err)
	}
	if !p.waitExit(grace) {
		return fmt.Errorf("worker %d still running after SIGKILL", p.PID())
	}
	return nil
}

// Release stops delivering records; the reader keeps draining the pipe so
// the worker never blocks on a full stdout. Idempotent.
func (p *Process) Release() {
	p.discardOnce.Do(func() { close(p.discard) })
}

func (p *Process) waitExit(d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-p.exited:
		return true
	case <-timer.C:
		return false
	}
}
