package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/neuron-sim/neuron-sim/sim"
	"github.com/neuron-sim/neuron-sim/sim/catalog"
	"github.com/neuron-sim/neuron-sim/sim/engine"
	"github.com/neuron-sim/neuron-sim/sim/metrics"
	"github.com/neuron-sim/neuron-sim/sim/orchestrator"
	"github.com/neuron-sim/neuron-sim/sim/store"
	"github.com/neuron-sim/neuron-sim/sim/stream"
)

var (
	configPath  string // Simulation config file (YAML or JSON)
	modelRef    string // Model reference the request targets
	catalogPath string // Synaptome catalog file
	catalogURL  string // Synaptome catalog service
	token       string // Bearer token forwarded to the catalog service
	realtime    bool   // Stream NDJSON instead of one batch document
	dbPath      string // Result store; empty disables persistence
	requestID   string // Request id; generated when empty
)

// runCmd runs one simulation and writes its results to stdout
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run one simulation in a worker process",
	Run: func(cmd *cobra.Command, args []string) {
		if configPath == "" {
			logrus.Fatalf("Simulation config not provided. Use --config.")
		}
		cfg, err := sim.LoadSimulationConfig(configPath)
		if err != nil {
			logrus.Fatalf("Failed to load simulation config: %v", err)
		}

		runner, cleanup, err := buildRunner(runnerOptions{
			engine:      engineName,
			catalogPath: catalogPath,
			catalogURL:  catalogURL,
			dbPath:      dbPath,
			registry:    prometheus.NewRegistry(),
		})
		if err != nil {
			logrus.Fatalf("%v", err)
		}
		defer cleanup()

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		req := orchestrator.Request{ID: requestID, ModelRef: modelRef, Token: token, Config: cfg}
		if err := runToWriter(ctx, runner, req, realtime, os.Stdout); err != nil {
			logrus.Errorf("Simulation failed: %v", err)
			cleanup()
			os.Exit(1)
		}
		logrus.Info("Simulation complete.")
	},
}

// runToWriter starts req and writes NDJSON events (realtime) or a single
// batch JSON document to w.
func runToWriter(ctx context.Context, runner *orchestrator.Runner, req orchestrator.Request, realtime bool, w io.Writer) error {
	e, err := runner.Start(ctx, req)
	if err != nil {
		return err
	}
	logrus.WithField("request_id", e.ID()).Infof("Running %s simulation on %s", e.Plan().Mode(), e.Plan().ModelRef)

	if realtime {
		n, err := stream.WriteNDJSON(w, e.Events(ctx))
		logrus.Infof("Streamed %d events", n)
		return err
	}
	result, err := e.Collect(ctx)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(result); err != nil {
		return fmt.Errorf("writing result: %w", err)
	}
	return nil
}

type runnerOptions struct {
	engine      string
	catalogPath string
	catalogURL  string
	dbPath      string
	registry    prometheus.Registerer
}

// buildRunner wires a Runner to real worker processes and the optional
// catalog and store. The returned cleanup closes the store.
func buildRunner(opts runnerOptions) (*orchestrator.Runner, func(), error) {
	if _, err := engine.New(opts.engine); err != nil {
		return nil, nil, err
	}
	mgr, err := newWorkerManager(opts.engine)
	if err != nil {
		return nil, nil, err
	}
	rec, err := metrics.NewRecorder(opts.registry)
	if err != nil {
		return nil, nil, fmt.Errorf("registering metrics: %w", err)
	}

	runner := &orchestrator.Runner{
		Spawner:      orchestrator.ProcessSpawner(mgr),
		Tracker:      orchestrator.NewTracker(),
		Metrics:      rec,
		PollInterval: pollInterval,
		GracePeriod:  gracePeriod,
	}

	switch {
	case opts.catalogPath != "" && opts.catalogURL != "":
		return nil, nil, fmt.Errorf("--catalog and --catalog-url are mutually exclusive")
	case opts.catalogPath != "":
		cat, err := catalog.LoadFileCatalog(opts.catalogPath)
		if err != nil {
			return nil, nil, err
		}
		runner.Catalog = cat
	case opts.catalogURL != "":
		runner.Catalog = catalog.NewHTTPCatalog(opts.catalogURL, catalogTimeout)
	}

	cleanup := func() {}
	if opts.dbPath != "" {
		st, err := store.Open(opts.dbPath)
		if err != nil {
			return nil, nil, err
		}
		runner.Store = st
		cleanup = func() {
			if err := st.Close(); err != nil {
				logrus.Warnf("closing result store: %v", err)
			}
		}
	}
	return runner, cleanup, nil
}

func init() {
	runCmd.Flags().StringVar(&configPath, "config", "", "Simulation config file (YAML, or JSON with a .json extension)")
	runCmd.Flags().StringVar(&modelRef, "model", "", "Model reference; for synaptome requests the catalog entry")
	runCmd.Flags().StringVar(&catalogPath, "catalog", "", "Synaptome catalog YAML file")
	runCmd.Flags().StringVar(&catalogURL, "catalog-url", "", "Synaptome catalog service base URL")
	runCmd.Flags().StringVar(&token, "token", os.Getenv("NEURON_SIM_TOKEN"), "Bearer token for the catalog service")
	runCmd.Flags().BoolVar(&realtime, "realtime", false, "Stream NDJSON events instead of one batch document")
	runCmd.Flags().StringVar(&dbPath, "db", "", "SQLite result store (disabled when empty)")
	runCmd.Flags().StringVar(&requestID, "id", "", "Request id (generated when empty)")
	addExecutionFlags(runCmd)

	rootCmd.AddCommand(runCmd)
}

// addExecutionFlags registers the flags shared by run and serve.
func addExecutionFlags(c *cobra.Command) {
	c.Flags().StringVar(&engineName, "engine", engine.DefaultEngine, "Cell engine run by workers")
	c.Flags().DurationVar(&pollInterval, "poll-interval", stream.DefaultPollInterval, "Liveness check interval while waiting for records")
	c.Flags().DurationVar(&gracePeriod, "grace-period", orchestrator.DefaultGracePeriod, "Wait for a worker to stop before escalating")
	c.Flags().DurationVar(&catalogTimeout, "catalog-timeout", defaultCatalogTimeout, "Catalog service request timeout")
}
