package testutil

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
)

// HelperEnv selects the worker body when the test binary re-executes itself.
// Its value is the engine name, or one of the Helper* modes below.
const HelperEnv = "NEURON_SIM_WORKER_HELPER"

const (
	HelperCrash = "crash" // reads the plan, exits 3 without output
	HelperHang  = "hang"  // ignores SIGTERM and stdin EOF
)

// HelperReady is written to stderr by the hang helper once SIGTERM is ignored.
const HelperReady = "helper ready"

// HelperArgs keeps the re-executed test binary from running any tests.
var HelperArgs = []string{"-test.run=^$"}

// HelperEnvFor returns the extra environment selecting mode in the child.
func HelperEnvFor(mode string) []string {
	return []string{HelperEnv + "=" + mode}
}

// ServeWorkerIfHelper turns the current test binary into a worker process
// when HelperEnv is set, and never returns in that case. Call it first in
// TestMain.
func ServeWorkerIfHelper(serve func(ctx context.Context, in io.Reader, out io.Writer, engineName string) error) {
	mode := os.Getenv(HelperEnv)
	if mode == "" {
		return
	}
	logrus.SetOutput(os.Stderr)
	logrus.SetLevel(logrus.WarnLevel)

	switch mode {
	case HelperCrash:
		var plan json.RawMessage
		_ = json.NewDecoder(os.Stdin).Decode(&plan)
		os.Exit(3)
	case HelperHang:
		signal.Ignore(syscall.SIGTERM)
		fmt.Fprintln(os.Stderr, HelperReady)
		for {
			time.Sleep(time.Hour)
		}
	}

	RegisterEngines()
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	err := serve(ctx, os.Stdin, os.Stdout, mode)
	stop()
	if err != nil {
		os.Exit(1)
	}
	os.Exit(0)
}

// ReadySignal is a worker stderr that reports when the helper wrote
// HelperReady.
type ReadySignal struct {
	once  sync.Once
	ready chan struct{}
}

// NewReadySignal creates a ReadySignal to pass as the manager's Stderr.
func NewReadySignal() *ReadySignal {
	return &ReadySignal{ready: make(chan struct{})}
}

func (r *ReadySignal) Write(p []byte) (int, error) {
	if bytes.Contains(p, []byte(HelperReady)) {
		r.once.Do(func() { close(r.ready) })
	}
	return len(p), nil
}

// Wait fails the test if the helper is not ready within timeout.
func (r *ReadySignal) Wait(t *testing.T, timeout time.Duration) {
	t.Helper()
	select {
	case <-r.ready:
	case <-time.After(timeout):
		t.Fatalf("worker helper not ready after %s", timeout)
	}
}
