// Package orchestrator ties a simulation request to its worker process: it
// resolves catalog details, builds the plan, spawns the worker and owns the
// execution's lifecycle until cleanup.
package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/neuron-sim/neuron-sim/sim"
	"github.com/neuron-sim/neuron-sim/sim/catalog"
	"github.com/neuron-sim/neuron-sim/sim/metrics"
	"github.com/neuron-sim/neuron-sim/sim/plan"
	"github.com/neuron-sim/neuron-sim/sim/store"
	"github.com/neuron-sim/neuron-sim/sim/stream"
	"github.com/neuron-sim/neuron-sim/sim/worker"
)

// DefaultGracePeriod bounds each wait during cleanup.
const DefaultGracePeriod = 5 * time.Second

// WorkerHandle is the orchestrator's view of a spawned worker.
type WorkerHandle interface {
	stream.Handle
	RequestStop() error
	Terminate(grace time.Duration) error
	Release()
}

// Spawner starts a worker for a plan.
type Spawner interface {
	Spawn(ctx context.Context, p *sim.ExecutionPlan, requestID string) (WorkerHandle, error)
}

// SpawnerFunc adapts a function to Spawner.
type SpawnerFunc func(ctx context.Context, p *sim.ExecutionPlan, requestID string) (WorkerHandle, error)

// Spawn implements Spawner.
func (f SpawnerFunc) Spawn(ctx context.Context, p *sim.ExecutionPlan, requestID string) (WorkerHandle, error) {
	return f(ctx, p, requestID)
}

// ProcessSpawner spawns real worker processes through m.
func ProcessSpawner(m *worker.Manager) Spawner {
	return SpawnerFunc(func(ctx context.Context, p *sim.ExecutionPlan, requestID string) (WorkerHandle, error) {
		proc, err := m.Spawn(ctx, p, requestID)
		if err != nil {
			return nil, err
		}
		return proc, nil
	})
}

// ResultStore persists run status and batch results.
type ResultStore interface {
	Create(ctx context.Context, id, modelRef string, cfg *sim.SimulationConfig) error
	SetStatus(ctx context.Context, id string, status store.Status, errMsg string) error
	SaveResult(ctx context.Context, id string, result sim.BatchResult) error
}

// Request is one simulation request.
type Request struct {
	ID       string // generated when empty
	ModelRef string
	Token    string // forwarded to the catalog
	Config   *sim.SimulationConfig
}

// Runner starts executions. Only Spawner is required; Catalog is required for
// synaptome requests.
type Runner struct {
	Spawner      Spawner
	Catalog      catalog.Catalog
	Tracker      *Tracker
	Metrics      *metrics.Recorder
	Store        ResultStore
	PollInterval time.Duration // drain poll; stream.DefaultPollInterval when zero
	GracePeriod  time.Duration // cleanup wait; DefaultGracePeriod when zero
}

func (r *Runner) gracePeriod() time.Duration {
	if r.GracePeriod > 0 {
		return r.GracePeriod
	}
	return DefaultGracePeriod
}

// Start validates the request, builds its plan and spawns its worker. Every
// *sim.ConfigurationError is returned before anything is spawned. The caller
// must consume the execution (Events or Collect) or call Cleanup.
func (r *Runner) Start(ctx context.Context, req Request) (*Execution, error) {
	id := req.ID
	if id == "" {
		id = uuid.NewString()
	}
	log := logrus.WithFields(logrus.Fields{"request_id": id, "model": req.ModelRef})

	p, err := r.buildPlan(ctx, req)
	if err != nil {
		log.Infof("rejected: %v", err)
		return nil, err
	}

	if r.Store != nil {
		if err := r.Store.Create(ctx, id, req.ModelRef, req.Config); err != nil {
			return nil, fmt.Errorf("recording simulation: %w", err)
		}
	}

	h, err := r.Spawner.Spawn(ctx, p, id)
	if err != nil {
		if r.Store != nil {
			_ = r.Store.SetStatus(context.WithoutCancel(ctx), id, store.StatusFailure, err.Error())
		}
		return nil, fmt.Errorf("spawning worker for %s: %w", id, err)
	}
	r.Metrics.WorkerSpawned()
	if r.Store != nil {
		if err := r.Store.SetStatus(ctx, id, store.StatusStarted, ""); err != nil {
			log.Warnf("recording start: %v", err)
		}
	}

	e := &Execution{
		id:      id,
		plan:    p,
		handle:  h,
		runner:  r,
		started: time.Now(),
		log:     log.WithField("pid", h.PID()),
		state:   StateRunning,
		stopCh:  make(chan struct{}),
	}
	r.Tracker.add(e)
	e.log.WithFields(logrus.Fields{"mode": p.Mode(), "sweep": len(p.SweepValues())}).Info("simulation started")
	return e, nil
}

func (r *Runner) buildPlan(ctx context.Context, req Request) (*sim.ExecutionPlan, error) {
	if req.Config == nil {
		return nil, sim.Configurationf("simulation config is required")
	}
	if err := req.Config.Validate(); err != nil {
		return nil, err
	}
	var details *sim.SynaptomeDetails
	if req.Config.IsSynaptome() && len(req.Config.Synapses) > 0 {
		if r.Catalog == nil {
			return nil, sim.Configurationf("no model catalog configured for synaptome model %s", req.ModelRef)
		}
		d, err := r.Catalog.FetchSynaptomeDetails(ctx, req.ModelRef, req.Token)
		if err != nil {
			return nil, sim.WrapConfiguration("fetching synaptome details of "+req.ModelRef, err)
		}
		details = d
	}
	return plan.Build(req.ModelRef, req.Config, details)
}

// Run starts the request and collects its batch result.
func (r *Runner) Run(ctx context.Context, req Request) (sim.BatchResult, error) {
	e, err := r.Start(ctx, req)
	if err != nil {
		return nil, err
	}
	return e.Collect(ctx)
}
