package cmd

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neuron-sim/neuron-sim/sim"
	"github.com/neuron-sim/neuron-sim/sim/metrics"
	"github.com/neuron-sim/neuron-sim/sim/orchestrator"
	"github.com/neuron-sim/neuron-sim/sim/store"
)

func newTestServer(t *testing.T, runner *orchestrator.Runner, st statusReader) *httptest.Server {
	t.Helper()
	reg := prometheus.NewRegistry()
	runner.Metrics = metrics.MustNewRecorder(reg)
	srv := httptest.NewServer(newServer(runner, st, reg).routes())
	t.Cleanup(srv.Close)
	return srv
}

func TestHandleRun_Realtime_StreamsNDJSON(t *testing.T) {
	// GIVEN a worker producing two amplitudes then a stop marker
	srv := newTestServer(t, scriptedRunner(somaRecord(0.1), somaRecord(0.2), sim.StopMarker()), nil)

	// WHEN a realtime run is requested
	resp, err := http.Post(srv.URL+"/simulation/run?model_id=m1&realtime=true", "application/json", strings.NewReader(singleNeuronJSON))
	require.NoError(t, err)
	defer resp.Body.Close()

	// THEN each event arrives as one JSON line
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/x-ndjson", resp.Header.Get("Content-Type"))
	assert.NotEmpty(t, resp.Header.Get("X-Simulation-Id"))
	var keys []float64
	sc := bufio.NewScanner(resp.Body)
	for sc.Scan() {
		var ev sim.StreamEvent
		require.NoError(t, json.Unmarshal(sc.Bytes(), &ev))
		keys = append(keys, ev.VaryingKey)
	}
	assert.Equal(t, []float64{0.1, 0.2}, keys)
}

func TestHandleRun_RealtimeWorkerLost_TerminalErrorObject(t *testing.T) {
	// GIVEN a worker whose output ends after one record with no stop marker
	runner := scriptedRunner()
	runner.Spawner = orchestrator.SpawnerFunc(func(context.Context, *sim.ExecutionPlan, string) (orchestrator.WorkerHandle, error) {
		w := newScriptedWorker(somaRecord(0.1))
		close(w.ch)
		return w, nil
	})
	srv := newTestServer(t, runner, nil)

	// WHEN a realtime run is requested
	resp, err := http.Post(srv.URL+"/simulation/run?realtime=true", "application/json", strings.NewReader(singleNeuronJSON))
	require.NoError(t, err)
	defer resp.Body.Close()

	// THEN the delivered event is followed by one WORKER_LOST object
	var lines []map[string]any
	sc := bufio.NewScanner(resp.Body)
	for sc.Scan() {
		var obj map[string]any
		require.NoError(t, json.Unmarshal(sc.Bytes(), &obj))
		lines = append(lines, obj)
	}
	require.Len(t, lines, 2)
	assert.Equal(t, 0.1, lines[0]["varying_key"])
	assert.Equal(t, string(sim.CodeWorkerLost), lines[1]["error_code"])
}

func TestHandleRun_Batch_ReturnsGroupedResult(t *testing.T) {
	srv := newTestServer(t, scriptedRunner(somaRecord(0.1), somaRecord(0.2), sim.StopMarker()), nil)

	resp, err := http.Post(srv.URL+"/simulation/run?model_id=m1", "application/json", strings.NewReader(singleNeuronJSON))
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	var result sim.BatchResult
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&result))
	entries := result["soma[0]_0.5"]
	require.Len(t, entries, 2)
	assert.Equal(t, "scatter", entries[0].Type)
	assert.Equal(t, 0.2, entries[1].VaryingKey)
}

func TestHandleRun_BadRequests_ConfigurationError(t *testing.T) {
	tests := []struct {
		name  string
		query string
		body  string
	}{
		{"malformed json", "", `{"type":`},
		{"unknown field", "", `{"type": "single-neuron-simulation", "colour": 1}`},
		{"invalid config", "", strings.Replace(singleNeuronJSON, `"max_time": 100`, `"max_time": 5000`, 1)},
		{"bad realtime flag", "?realtime=maybe", singleNeuronJSON},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newTestServer(t, scriptedRunner(sim.StopMarker()), nil)

			resp, err := http.Post(srv.URL+"/simulation/run"+tt.query, "application/json", strings.NewReader(tt.body))
			require.NoError(t, err)
			defer resp.Body.Close()

			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
			var body sim.ErrorRecord
			require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
			assert.Equal(t, sim.CodeConfiguration, body.Code)
		})
	}
}

func TestHandleRun_SimulationError_500WithDetails(t *testing.T) {
	srv := newTestServer(t, scriptedRunner(
		sim.ErrorMessage(sim.ErrorRecord{Code: sim.CodeSimulation, Message: "Simulation failed", Details: "diverged"}),
		sim.StopMarker(),
	), nil)

	resp, err := http.Post(srv.URL+"/simulation/run", "application/json", strings.NewReader(singleNeuronJSON))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	var body sim.ErrorRecord
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, sim.CodeSimulation, body.Code)
	assert.Equal(t, "diverged", body.Details)
}

func TestHandleStatusAndStop(t *testing.T) {
	st, err := store.Open(filepath.Join(t.TempDir(), "sims.db"))
	require.NoError(t, err)
	defer st.Close()

	runner := scriptedRunner(somaRecord(0.1), sim.StopMarker())
	runner.Store = st
	srv := newTestServer(t, runner, st)

	// a finished batch run is readable from the store
	resp, err := http.Post(srv.URL+"/simulation/run?model_id=m1", "application/json", strings.NewReader(singleNeuronJSON))
	require.NoError(t, err)
	id := resp.Header.Get("X-Simulation-Id")
	resp.Body.Close()

	resp, err = http.Get(srv.URL + "/simulation/" + id)
	require.NoError(t, err)
	var sm store.Simulation
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&sm))
	resp.Body.Close()
	assert.Equal(t, store.StatusSuccess, sm.Status)
	assert.Equal(t, "m1", sm.ModelRef)

	// unknown ids are 404 for both reads and stops
	resp, err = http.Get(srv.URL + "/simulation/nope")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	req, _ := http.NewRequest(http.MethodDelete, srv.URL+"/simulation/nope", nil)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHandleStop_InFlight_Accepted(t *testing.T) {
	runner := scriptedRunner() // never produces a record
	srv := newTestServer(t, runner, nil)
	cfg, err := sim.DecodeSimulationConfig(strings.NewReader(singleNeuronJSON))
	require.NoError(t, err)
	e, err := runner.Start(context.Background(), orchestrator.Request{ID: "live-1", Config: cfg})
	require.NoError(t, err)

	resp, err := http.Get(srv.URL + "/simulation/live-1")
	require.NoError(t, err)
	var status map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&status))
	resp.Body.Close()
	assert.Equal(t, "running", status["status"])

	req, _ := http.NewRequest(http.MethodDelete, srv.URL+"/simulation/live-1", nil)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Equal(t, orchestrator.StateCleaned, e.State())
}

func TestHandleList_StoreFilteredByStatus(t *testing.T) {
	// GIVEN a store with one successful and one failed simulation
	srv := newTestServer(t, scriptedRunner(), seededStore(t))

	list := func(query string) (int, []store.Simulation) {
		resp, err := http.Get(srv.URL + "/simulation" + query)
		require.NoError(t, err)
		defer resp.Body.Close()
		var sims []store.Simulation
		if resp.StatusCode == http.StatusOK {
			require.NoError(t, json.NewDecoder(resp.Body).Decode(&sims))
		}
		return resp.StatusCode, sims
	}

	// WHEN listing without and with a status filter
	code, all := list("")
	require.Equal(t, http.StatusOK, code)
	code, failed := list("?status=failure")
	require.Equal(t, http.StatusOK, code)
	code, pending := list("?status=pending")
	require.Equal(t, http.StatusOK, code)

	// THEN the filter selects matching rows only
	assert.Len(t, all, 2)
	require.Len(t, failed, 1)
	assert.Equal(t, "sim-bad", failed[0].ID)
	assert.Equal(t, "worker lost", failed[0].Error)
	assert.NotNil(t, pending)
	assert.Empty(t, pending)
}

func TestHandleList_UnknownStatus_BadRequest(t *testing.T) {
	srv := newTestServer(t, scriptedRunner(), seededStore(t))

	resp, err := http.Get(srv.URL + "/simulation?status=done")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	var body sim.ErrorRecord
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, sim.CodeConfiguration, body.Code)
	assert.Contains(t, body.Details, `"done"`)
}

func TestHandleList_NoStore_ListsTrackedRuns(t *testing.T) {
	// GIVEN no store and one in-flight run
	runner := scriptedRunner()
	srv := newTestServer(t, runner, nil)
	cfg, err := sim.DecodeSimulationConfig(strings.NewReader(singleNeuronJSON))
	require.NoError(t, err)
	e, err := runner.Start(context.Background(), orchestrator.Request{ID: "live-2", Config: cfg})
	require.NoError(t, err)
	defer e.Stop()

	get := func(query string) []activeSimulation {
		resp, err := http.Get(srv.URL + "/simulation" + query)
		require.NoError(t, err)
		defer resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode)
		var out []activeSimulation
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
		return out
	}

	// THEN only tracked runs are listed, and they match the started filter
	assert.Equal(t, []activeSimulation{{ID: "live-2", Status: "running"}}, get(""))
	assert.Len(t, get("?status=started"), 1)
	assert.Empty(t, get("?status=success"))
}

func TestHealthAndMetrics(t *testing.T) {
	srv := newTestServer(t, scriptedRunner(somaRecord(0.1), sim.StopMarker()), nil)
	resp, err := http.Post(srv.URL+"/simulation/run", "application/json", strings.NewReader(singleNeuronJSON))
	require.NoError(t, err)
	resp.Body.Close()

	resp, err = http.Get(srv.URL + "/health")
	require.NoError(t, err)
	var health map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
	resp.Body.Close()
	assert.Equal(t, "ok", health["status"])
	assert.Equal(t, 0.0, health["active"])

	resp, err = http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	var body strings.Builder
	sc := bufio.NewScanner(resp.Body)
	for sc.Scan() {
		body.WriteString(sc.Text() + "\n")
	}
	assert.Contains(t, body.String(), `neuronsim_executions_finished_total{outcome="completed"} 1`)
}

func TestLoadServeSettings(t *testing.T) {
	write := func(t *testing.T, content string) string {
		path := filepath.Join(t.TempDir(), "settings.yaml")
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
		return path
	}

	t.Run("valid", func(t *testing.T) {
		s, err := LoadServeSettings(write(t, "addr: \":9090\"\nengine: lif\npoll_interval: 250ms\ngrace_period: 2s\ncatalog:\n  file: catalog.yaml\n  timeout: 3s\n"))
		require.NoError(t, err)
		assert.Equal(t, ":9090", s.Addr)
		assert.Equal(t, 250*time.Millisecond, s.PollInterval)
		assert.Equal(t, 3*time.Second, s.Catalog.Timeout)
	})
	t.Run("unknown field", func(t *testing.T) {
		_, err := LoadServeSettings(write(t, "adress: \":9090\"\n"))
		assert.Error(t, err)
	})
	t.Run("both catalogs", func(t *testing.T) {
		_, err := LoadServeSettings(write(t, "catalog:\n  file: a.yaml\n  url: http://x\n"))
		assert.ErrorContains(t, err, "mutually exclusive")
	})
}

func TestServeSettings_ApplyOverridesOnlySetFields(t *testing.T) {
	oldAddr, oldPoll, oldEngine := serveAddr, pollInterval, engineName
	t.Cleanup(func() { serveAddr, pollInterval, engineName = oldAddr, oldPoll, oldEngine })
	serveAddr, pollInterval, engineName = ":8080", time.Second, "lif"

	(&ServeSettings{Addr: ":1234"}).apply()

	assert.Equal(t, ":1234", serveAddr)
	assert.Equal(t, time.Second, pollInterval)
	assert.Equal(t, "lif", engineName)
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusBadRequest, statusFor(sim.Configurationf("bad")))
	assert.Equal(t, http.StatusConflict, statusFor(orchestrator.ErrCancelled))
	assert.Equal(t, http.StatusInternalServerError, statusFor(&sim.WorkerLostError{}))
	assert.Equal(t, http.StatusInternalServerError, statusFor(errors.New("x")))
}

func TestBearerToken(t *testing.T) {
	r := httptest.NewRequest(http.MethodPost, "/simulation/run", nil)
	assert.Empty(t, bearerToken(r))
	r.Header.Set("Authorization", "Bearer abc")
	assert.Equal(t, "abc", bearerToken(r))
}
