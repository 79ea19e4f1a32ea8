package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/neuron-sim/neuron-sim/sim"
	"github.com/neuron-sim/neuron-sim/sim/orchestrator"
	"github.com/neuron-sim/neuron-sim/sim/store"
	"github.com/neuron-sim/neuron-sim/sim/stream"
)

const defaultCatalogTimeout = 10 * time.Second

var (
	serveAddr      string        // Listen address
	serveConfig    string        // Service settings file
	serveDB        string        // Result store for batch runs
	serveCatalog   string        // Synaptome catalog file
	serveCatalogU  string        // Synaptome catalog service
	catalogTimeout time.Duration // Catalog service request timeout
)

// ServeSettings is the serve --config document. Set fields override flags.
// All top-level sections must be listed to satisfy KnownFields(true) strict parsing.
type ServeSettings struct {
	Addr         string          `yaml:"addr"`
	Engine       string          `yaml:"engine"`
	DB           string          `yaml:"db"`
	PollInterval time.Duration   `yaml:"poll_interval"`
	GracePeriod  time.Duration   `yaml:"grace_period"`
	Catalog      CatalogSettings `yaml:"catalog"`
}

// CatalogSettings selects the synaptome catalog backend.
type CatalogSettings struct {
	File    string        `yaml:"file"`
	URL     string        `yaml:"url"`
	Timeout time.Duration `yaml:"timeout"`
}

// LoadServeSettings parses a settings file with strict field checking.
func LoadServeSettings(path string) (*ServeSettings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading settings: %w", err)
	}
	var s ServeSettings
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&s); err != nil {
		return nil, fmt.Errorf("parsing settings %s: %w", path, err)
	}
	if s.Catalog.File != "" && s.Catalog.URL != "" {
		return nil, fmt.Errorf("settings: catalog.file and catalog.url are mutually exclusive")
	}
	if s.PollInterval < 0 || s.GracePeriod < 0 || s.Catalog.Timeout < 0 {
		return nil, fmt.Errorf("settings: durations must be non-negative")
	}
	return &s, nil
}

// apply overrides the flag values with every field set in s.
func (s *ServeSettings) apply() {
	override := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	overrideDuration := func(dst *time.Duration, v time.Duration) {
		if v > 0 {
			*dst = v
		}
	}
	override(&serveAddr, s.Addr)
	override(&engineName, s.Engine)
	override(&serveDB, s.DB)
	override(&serveCatalog, s.Catalog.File)
	override(&serveCatalogU, s.Catalog.URL)
	overrideDuration(&pollInterval, s.PollInterval)
	overrideDuration(&gracePeriod, s.GracePeriod)
	overrideDuration(&catalogTimeout, s.Catalog.Timeout)
}

// serveCmd exposes the orchestrator over HTTP
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve simulation requests over HTTP",
	Run: func(cmd *cobra.Command, args []string) {
		if serveConfig != "" {
			settings, err := LoadServeSettings(serveConfig)
			if err != nil {
				logrus.Fatalf("%v", err)
			}
			settings.apply()
		}

		reg := prometheus.NewRegistry()
		runner, cleanup, err := buildRunner(runnerOptions{
			engine:      engineName,
			catalogPath: serveCatalog,
			catalogURL:  serveCatalogU,
			dbPath:      serveDB,
			registry:    reg,
		})
		if err != nil {
			logrus.Fatalf("%v", err)
		}
		defer cleanup()

		srv := &http.Server{
			Addr:              serveAddr,
			Handler:           newServer(runner, storeOf(runner), reg).routes(),
			ReadHeaderTimeout: 10 * time.Second,
		}

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		go func() {
			<-ctx.Done()
			logrus.Info("Shutting down; stopping in-flight simulations")
			runner.Tracker.StopAll()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), gracePeriod+5*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				logrus.Warnf("HTTP shutdown: %v", err)
			}
		}()

		logrus.Infof("Listening on %s (engine %s)", serveAddr, engineName)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logrus.Fatalf("HTTP server failed: %v", err)
		}
	},
}

// statusReader is the part of the result store the HTTP API reads.
type statusReader interface {
	Get(ctx context.Context, id string) (*store.Simulation, error)
	List(ctx context.Context, status store.Status) ([]store.Simulation, error)
}

func storeOf(r *orchestrator.Runner) statusReader {
	if st, ok := r.Store.(*store.SQLiteStore); ok {
		return st
	}
	return nil
}

// server holds the HTTP handlers.
type server struct {
	runner   *orchestrator.Runner
	store    statusReader
	gatherer prometheus.Gatherer
}

func newServer(runner *orchestrator.Runner, st statusReader, gatherer prometheus.Gatherer) *server {
	return &server{runner: runner, store: st, gatherer: gatherer}
}

func (s *server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /simulation/run", s.handleRun)
	mux.HandleFunc("GET /simulation", s.handleList)
	mux.HandleFunc("GET /simulation/{id}", s.handleStatus)
	mux.HandleFunc("DELETE /simulation/{id}", s.handleStop)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.Handle("GET /metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	return mux
}

func (s *server) handleRun(w http.ResponseWriter, r *http.Request) {
	cfg, err := sim.DecodeSimulationConfig(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	realtime := false
	if v := r.URL.Query().Get("realtime"); v != "" {
		if realtime, err = strconv.ParseBool(v); err != nil {
			writeError(w, http.StatusBadRequest, sim.Configurationf("realtime must be a boolean, got %q", v))
			return
		}
	}
	req := orchestrator.Request{
		ModelRef: r.URL.Query().Get("model_id"),
		Token:    bearerToken(r),
		Config:   cfg,
	}

	e, err := s.runner.Start(r.Context(), req)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	w.Header().Set("X-Simulation-Id", e.ID())

	if realtime {
		w.Header().Set("Content-Type", "application/x-ndjson")
		w.WriteHeader(http.StatusOK)
		if n, err := stream.WriteNDJSON(w, e.Events(r.Context())); err != nil {
			logrus.WithField("request_id", e.ID()).Infof("stream ended after %d events: %v", n, err)
		}
		return
	}

	result, err := e.Collect(r.Context())
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *server) handleStatus(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if s.store != nil {
		sm, err := s.store.Get(r.Context(), id)
		if err == nil {
			writeJSON(w, http.StatusOK, sm)
			return
		}
		if !errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
	}
	if e, ok := s.runner.Tracker.Get(id); ok {
		writeJSON(w, http.StatusOK, map[string]string{"id": id, "status": e.State().String()})
		return
	}
	writeJSON(w, http.StatusNotFound, map[string]string{"error": "simulation " + id + " not found"})
}

// activeSimulation is a listing entry for a tracked run when no store is
// configured.
type activeSimulation struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

func (s *server) handleList(w http.ResponseWriter, r *http.Request) {
	status, err := store.ParseStatus(r.URL.Query().Get("status"))
	if err != nil {
		writeError(w, http.StatusBadRequest, sim.Configurationf("%v", err))
		return
	}
	if s.store != nil {
		sims, err := s.store.List(r.Context(), status)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		if sims == nil {
			sims = []store.Simulation{}
		}
		writeJSON(w, http.StatusOK, sims)
		return
	}

	// Without a store only tracked runs are listed; they all count as started.
	active := []activeSimulation{}
	if status == "" || status == store.StatusStarted {
		for _, id := range s.runner.Tracker.Active() {
			if e, ok := s.runner.Tracker.Get(id); ok {
				active = append(active, activeSimulation{ID: id, Status: e.State().String()})
			}
		}
	}
	writeJSON(w, http.StatusOK, active)
}

func (s *server) handleStop(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if !s.runner.Tracker.Stop(id) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "no running simulation " + id})
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"id": id, "status": "stopping"})
}

func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "active": len(s.runner.Tracker.Active())})
}

func bearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if t, ok := strings.CutPrefix(auth, "Bearer "); ok {
		return t
	}
	return ""
}

func statusFor(err error) int {
	var cfgErr *sim.ConfigurationError
	switch {
	case errors.As(err, &cfgErr):
		return http.StatusBadRequest
	case errors.Is(err, orchestrator.ErrCancelled), errors.Is(err, context.Canceled):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, sim.ErrorBody(err))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logrus.Debugf("writing response: %v", err)
	}
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", ":8080", "Listen address")
	serveCmd.Flags().StringVar(&serveConfig, "config", "", "Service settings YAML file")
	serveCmd.Flags().StringVar(&serveDB, "db", "", "SQLite result store (disabled when empty)")
	serveCmd.Flags().StringVar(&serveCatalog, "catalog", "", "Synaptome catalog YAML file")
	serveCmd.Flags().StringVar(&serveCatalogU, "catalog-url", "", "Synaptome catalog service base URL")
	addExecutionFlags(serveCmd)

	rootCmd.AddCommand(serveCmd)
}
