package store

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neuron-sim/neuron-sim/sim"
	"github.com/neuron-sim/neuron-sim/sim/internal/testutil"
)

func openTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "sims.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStore_Lifecycle_PendingStartedSuccess(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	cfg := testutil.SingleNeuronConfig(sim.List(0.1, 0.2))

	// GIVEN a created simulation
	require.NoError(t, s.Create(ctx, "sim-1", "model-1", cfg))
	got, err := s.Get(ctx, "sim-1")
	require.NoError(t, err)
	assert.Equal(t, StatusPending, got.Status)
	assert.Equal(t, "model-1", got.ModelRef)
	assert.Nil(t, got.Result)

	// WHEN it starts and then succeeds
	require.NoError(t, s.SetStatus(ctx, "sim-1", StatusStarted, ""))
	result := sim.BatchResult{}
	result.Add(sim.StreamEvent{RecordingName: "soma[0]_0.5", Label: "idrest_0.1", Amplitude: sim.Float(0.1), VaryingKey: 0.1, T: []float64{0}, V: []float64{-70}})
	require.NoError(t, s.SaveResult(ctx, "sim-1", result))

	// THEN the stored row carries the result and the original config
	got, err = s.Get(ctx, "sim-1")
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, got.Status)
	var stored sim.BatchResult
	require.NoError(t, json.Unmarshal(got.Result, &stored))
	assert.Equal(t, result, stored)

	var storedCfg sim.SimulationConfig
	require.NoError(t, json.Unmarshal(got.Config, &storedCfg))
	assert.Equal(t, []float64{0.1, 0.2}, storedCfg.CurrentInjection.Stimulus.Amplitudes.All())
	assert.False(t, got.UpdatedAt.Before(got.CreatedAt))
}

func TestStore_Failure_KeepsMessage(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	require.NoError(t, s.Create(ctx, "sim-2", "model-1", testutil.SingleNeuronConfig(sim.Scalar(0.1))))

	require.NoError(t, s.SetStatus(ctx, "sim-2", StatusFailure, "worker died"))

	got, err := s.Get(ctx, "sim-2")
	require.NoError(t, err)
	assert.Equal(t, StatusFailure, got.Status)
	assert.Equal(t, "worker died", got.Error)
}

func TestStore_UnknownID_ErrNotFound(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	_, err := s.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, s.SetStatus(ctx, "missing", StatusStarted, ""), ErrNotFound)
	assert.ErrorIs(t, s.SaveResult(ctx, "missing", sim.BatchResult{}), ErrNotFound)
}

func TestStore_DuplicateID_Error(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	cfg := testutil.SingleNeuronConfig(sim.Scalar(0.1))
	require.NoError(t, s.Create(ctx, "dup", "m", cfg))

	assert.Error(t, s.Create(ctx, "dup", "m", cfg))
}

func TestStore_List_FiltersByStatusNewestFirst(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	clock := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time { clock = clock.Add(time.Second); return clock }
	cfg := testutil.SingleNeuronConfig(sim.Scalar(0.1))

	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, s.Create(ctx, id, "m", cfg))
	}
	require.NoError(t, s.SetStatus(ctx, "b", StatusFailure, "boom"))

	all, err := s.List(ctx, "")
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "c", all[0].ID)

	pending, err := s.List(ctx, StatusPending)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, []string{"c", "a"}, []string{pending[0].ID, pending[1].ID})
}

func TestStore_InMemory(t *testing.T) {
	s, err := Open(":memory:")
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Create(context.Background(), "x", "m", testutil.SingleNeuronConfig(sim.Scalar(0.1))))
	_, err = s.Get(context.Background(), "x")
	assert.NoError(t, err)
}

func TestParseStatus(t *testing.T) {
	for _, in := range []string{"", "pending", "started", "success", "failure"} {
		st, err := ParseStatus(in)
		require.NoError(t, err, in)
		assert.Equal(t, Status(in), st)
	}

	_, err := ParseStatus("done")
	assert.ErrorContains(t, err, `unknown status "done"`)
}
