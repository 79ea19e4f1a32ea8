package sim

// SynapsePlacementConfig describes where the synapses of one set are placed on
// the model. The orchestrator treats it as an opaque payload for the engine,
// apart from ID.
type SynapsePlacementConfig struct {
	ID           string `json:"id" yaml:"id"`
	Name         string `json:"name,omitempty" yaml:"name,omitempty"`
	Target       string `json:"target,omitempty" yaml:"target,omitempty"`
	SynapseType  string `json:"type,omitempty" yaml:"type,omitempty"` // "excitatory" or "inhibitory"
	Distribution string `json:"distribution,omitempty" yaml:"distribution,omitempty"`
	Formula      string `json:"formula,omitempty" yaml:"formula,omitempty"`
	Count        int    `json:"count,omitempty" yaml:"count,omitempty"`
}

// Inhibitory reports whether the set's synapses hyperpolarize.
func (p SynapsePlacementConfig) Inhibitory() bool {
	return p.SynapseType == "inhibitory"
}

// SynaptomeDetails is what the model catalog knows about a synaptome model.
type SynaptomeDetails struct {
	BaseModelRef string                   `json:"base_model_self" yaml:"base_model_self"`
	Placement    []SynapsePlacementConfig `json:"synapses" yaml:"synapses"`
}

// PlacementFor looks up the placement config of a synapse set.
func (d *SynaptomeDetails) PlacementFor(id string) (SynapsePlacementConfig, bool) {
	if d == nil {
		return SynapsePlacementConfig{}, false
	}
	for _, p := range d.Placement {
		if p.ID == id {
			return p, true
		}
	}
	return SynapsePlacementConfig{}, false
}

// SynapseSeries is one materialized stimulation train for one synapse set.
// Offset is unique within a plan and identifies the synapse group to the engine.
type SynapseSeries struct {
	Offset      int                    `json:"offset"`
	SetID       string                 `json:"set_id"`
	Placement   SynapsePlacementConfig `json:"placement"`
	Weight      float64                `json:"weight"`
	Frequencies []float64              `json:"frequencies"`
	SpikeTimes  []float64              `json:"spike_times"`
}

// SweepPoint is the complete series list for one swept frequency.
type SweepPoint struct {
	Frequency float64         `json:"frequency"`
	Series    []SynapseSeries `json:"series"`
}

// ExecutionPlan is the worker-ready description of one simulation. In
// current-varying mode Series is applied for every amplitude; in
// frequency-varying mode each SweepPoint carries its own series.
type ExecutionPlan struct {
	CurrentVarying bool             `json:"current_varying"`
	ModelRef       string           `json:"model_ref"`
	Config         SimulationConfig `json:"config"`
	Series         []SynapseSeries  `json:"series,omitempty"`
	Sweep          []SweepPoint     `json:"sweep,omitempty"`
}

// Mode returns the sweep axis of the plan.
func (p *ExecutionPlan) Mode() Mode {
	if p.CurrentVarying {
		return ModeCurrentVarying
	}
	return ModeFrequencyVarying
}

// SweepValues lists the varying key of every run, in execution order.
func (p *ExecutionPlan) SweepValues() []float64 {
	if p.CurrentVarying {
		return p.Config.CurrentInjection.Stimulus.Amplitudes.All()
	}
	out := make([]float64, len(p.Sweep))
	for i, sp := range p.Sweep {
		out[i] = sp.Frequency
	}
	return out
}

// ExpectedRecords is the number of data records a complete run emits.
func (p *ExecutionPlan) ExpectedRecords() int {
	return len(p.SweepValues()) * len(p.Config.RecordFrom)
}
