// Package testutil provides shared test infrastructure for the orchestrator.
// It consolidates request fixtures, scripted cell engines and the worker
// helper-process hook used across sim/ sub-package tests.
package testutil

import (
	"math"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/neuron-sim/neuron-sim/sim"
)

// SingleNeuronConfig is a small valid current-clamp request recording from
// the soma. Runs are short so real engines finish in milliseconds.
func SingleNeuronConfig(amplitudes sim.Values) *sim.SimulationConfig {
	proto := sim.ProtocolIDRest
	return &sim.SimulationConfig{
		Kind: sim.KindSingleNeuron,
		CurrentInjection: sim.CurrentInjection{
			InjectTo: "soma[0]",
			Stimulus: sim.StimulusSpec{StimulusType: sim.StimulusCurrentClamp, StimulusProtocol: &proto, Amplitudes: amplitudes},
		},
		RecordFrom: []sim.RecordingLocation{{Section: "soma[0]", Offset: 0.5}},
		Conditions: sim.ExperimentSetup{Celsius: 34, VInit: -73, MaxTime: 20, TimeStep: 0.1, Seed: 42},
	}
}

// SynaptomeConfig wraps synapses in a single-amplitude synaptome request.
func SynaptomeConfig(synapses ...sim.SynapseInputSpec) *sim.SimulationConfig {
	cfg := SingleNeuronConfig(sim.Scalar(0.1))
	cfg.Kind = sim.KindSynaptome
	cfg.Synapses = synapses
	return cfg
}

// Synapse is an input spec with a 10 ms delay over 500 ms at unit weight.
func Synapse(id string, freq sim.Values) sim.SynapseInputSpec {
	return sim.SynapseInputSpec{ID: id, Delay: 10, Duration: 500, Frequency: freq, WeightScalar: 1}
}

// Details returns catalog details placing one excitatory set per id.
func Details(ids ...string) *sim.SynaptomeDetails {
	d := &sim.SynaptomeDetails{BaseModelRef: "me-model"}
	for _, id := range ids {
		d.Placement = append(d.Placement, sim.SynapsePlacementConfig{ID: id, Target: "dend", SynapseType: "excitatory"})
	}
	return d
}

// TestdataPath resolves a file under the repository's testdata/ directory.
// The path is resolved relative to this source file: sim/internal/testutil/ → testdata/.
func TestdataPath(t *testing.T, name string) string {
	t.Helper()

	_, thisFile, _, ok := runtime.Caller(0)
	if !ok {
		t.Fatal("Failed to get current file path")
	}
	path := filepath.Join(filepath.Dir(thisFile), "..", "..", "..", "testdata", name)
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("Failed to locate fixture %s: %v", name, err)
	}
	return path
}

// AssertFloat64Equal compares two float64 values with relative tolerance.
func AssertFloat64Equal(t *testing.T, name string, want, got, relTol float64) {
	t.Helper()
	if want == 0 && got == 0 {
		return
	}
	diff := math.Abs(want - got)
	maxVal := math.Max(math.Abs(want), math.Abs(got))
	if diff/maxVal > relTol {
		t.Errorf("%s: got %v, want %v (diff=%v, relDiff=%v)", name, got, want, diff, diff/maxVal)
	}
}
