// Package plan turns a SimulationConfig into an ExecutionPlan: it resolves the
// sweep mode once and materializes every synapse spike train the worker needs.
package plan

import (
	"iter"

	"github.com/sirupsen/logrus"

	"github.com/neuron-sim/neuron-sim/sim"
)

// IsCurrentVarying reports whether cfg sweeps amplitude. Single-neuron requests
// and synaptome requests whose synapse sets all have constant frequency do.
func IsCurrentVarying(cfg *sim.SimulationConfig) bool {
	if cfg.Kind == sim.KindSingleNeuron || len(cfg.Synapses) == 0 {
		return true
	}
	return len(cfg.VariableFrequencySpecs()) == 0
}

// Build validates cfg and produces its ExecutionPlan. modelRef is the model the
// request targets; for synaptome requests the plan runs on details.BaseModelRef.
// Spike trains are seeded from cfg.Conditions.Seed.
func Build(modelRef string, cfg *sim.SimulationConfig, details *sim.SynaptomeDetails) (*sim.ExecutionPlan, error) {
	return BuildWithRNG(modelRef, cfg, details, sim.NewPartitionedRNG(sim.NewSimulationKey(cfg.Conditions.Seed)))
}

// BuildWithRNG is Build with an explicit random source.
func BuildWithRNG(modelRef string, cfg *sim.SimulationConfig, details *sim.SynaptomeDetails, rng *sim.PartitionedRNG) (*sim.ExecutionPlan, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := checkPlacements(cfg, details); err != nil {
		return nil, err
	}

	p := &sim.ExecutionPlan{
		CurrentVarying: IsCurrentVarying(cfg),
		ModelRef:       modelRef,
		Config:         *cfg,
	}
	if cfg.IsSynaptome() && details != nil && details.BaseModelRef != "" {
		p.ModelRef = details.BaseModelRef
	}

	b := &builder{details: details, rng: rng}
	if p.CurrentVarying {
		p.Series = b.currentVaryingSeries(cfg.Synapses)
	} else {
		p.Sweep = b.frequencyVaryingSweep(cfg.Synapses)
		for _, sp := range p.Sweep {
			logSweepStats(sp)
		}
	}
	return p, nil
}

func checkPlacements(cfg *sim.SimulationConfig, details *sim.SynaptomeDetails) error {
	if !cfg.IsSynaptome() || len(cfg.Synapses) == 0 {
		return nil
	}
	if details == nil {
		return sim.Configurationf("synaptome details are required for %s", sim.KindSynaptome)
	}
	for _, s := range cfg.Synapses {
		if _, ok := details.PlacementFor(s.ID); !ok {
			return sim.Configurationf("no synaptome placement config was found with id %s", s.ID)
		}
	}
	return nil
}

// builder carries the plan-wide offset counter. Offsets are handed out in
// processing order and never reused.
type builder struct {
	details *sim.SynaptomeDetails
	rng     *sim.PartitionedRNG
	next    int
}

func (b *builder) series(spec sim.SynapseInputSpec, frequencies []float64) sim.SynapseSeries {
	offset := b.next
	b.next++
	placement, _ := b.details.PlacementFor(spec.ID)
	return sim.SynapseSeries{
		Offset:      offset,
		SetID:       spec.ID,
		Placement:   placement,
		Weight:      spec.WeightScalar,
		Frequencies: frequencies,
		SpikeTimes:  mergedTrain(spec, frequencies, b.rng.ForSubsystem(sim.SubsystemSynapse(offset))),
	}
}

func (b *builder) currentVaryingSeries(specs []sim.SynapseInputSpec) []sim.SynapseSeries {
	if len(specs) == 0 {
		return nil
	}
	out := make([]sim.SynapseSeries, 0, len(specs))
	for _, spec := range specs {
		out = append(out, b.series(spec, []float64{spec.Frequency.First()}))
	}
	return out
}

func (b *builder) frequencyVaryingSweep(specs []sim.SynapseInputSpec) []sim.SweepPoint {
	variable, constant := partition(specs)
	var sweep []sim.SweepPoint
	for step := range SweepSteps(variable) {
		sweep = append(sweep, sim.SweepPoint{
			Frequency: step.Frequency,
			Series:    b.seriesAt(step, constant),
		})
	}
	return sweep
}

// SweepStep is one (variable spec, frequency) pair of a frequency sweep.
type SweepStep struct {
	Spec      sim.SynapseInputSpec
	Frequency float64
}

// SweepSteps yields every (variable spec, frequency) pair in request order:
// specs in the order given, frequencies in the order each spec lists them.
func SweepSteps(variable []sim.SynapseInputSpec) iter.Seq[SweepStep] {
	return func(yield func(SweepStep) bool) {
		for _, spec := range variable {
			for _, f := range spec.Frequency.All() {
				if !yield(SweepStep{Spec: spec, Frequency: f}) {
					return
				}
			}
		}
	}
}

// seriesAt builds the complete series list for one sweep point: the variable
// spec itself, then constant specs of the same set, then every other set.
func (b *builder) seriesAt(step SweepStep, constant []sim.SynapseInputSpec) []sim.SynapseSeries {
	out := make([]sim.SynapseSeries, 0, len(constant)+1)

	frequencies := append(constantFrequencies(step.Spec.ID, constant), step.Frequency)
	out = append(out, b.series(step.Spec, frequencies))

	groups := groupByID(constant)
	for _, group := range groups {
		if group.id != step.Spec.ID {
			continue
		}
		for _, spec := range group.specs {
			out = append(out, b.series(spec, frequencies))
		}
	}

	for _, group := range groups {
		if group.id == step.Spec.ID {
			continue
		}
		setFrequencies := constantFrequencies(group.id, group.specs)
		for _, spec := range group.specs {
			out = append(out, b.series(spec, setFrequencies))
		}
	}
	return out
}

func partition(specs []sim.SynapseInputSpec) (variable, constant []sim.SynapseInputSpec) {
	for _, s := range specs {
		if s.VariableFrequency() {
			variable = append(variable, s)
		} else {
			constant = append(constant, s)
		}
	}
	return variable, constant
}

// constantFrequencies collects the scalar frequencies declared for a set id.
func constantFrequencies(id string, specs []sim.SynapseInputSpec) []float64 {
	var out []float64
	for _, s := range specs {
		if s.ID == id && !s.VariableFrequency() {
			out = append(out, s.Frequency.First())
		}
	}
	return out
}

type specGroup struct {
	id    string
	specs []sim.SynapseInputSpec
}

// groupByID groups specs by set id, groups in first-appearance order.
func groupByID(specs []sim.SynapseInputSpec) []specGroup {
	index := make(map[string]int)
	var groups []specGroup
	for _, s := range specs {
		i, ok := index[s.ID]
		if !ok {
			i = len(groups)
			index[s.ID] = i
			groups = append(groups, specGroup{id: s.ID})
		}
		groups[i].specs = append(groups[i].specs, s)
	}
	return groups
}

func logSweepStats(sp sim.SweepPoint) {
	if !logrus.IsLevelEnabled(logrus.DebugLevel) {
		return
	}
	spikes := 0
	for _, s := range sp.Series {
		spikes += len(s.SpikeTimes)
	}
	logrus.Debugf("constructed %d synapse series for frequency %g (%d spikes total)", len(sp.Series), sp.Frequency, spikes)
}
