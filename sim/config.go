package sim

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// SimulationKind discriminates the two request variants.
type SimulationKind string

const (
	KindSingleNeuron SimulationKind = "single-neuron-simulation"
	KindSynaptome    SimulationKind = "synaptome-simulation"
)

// StimulusType is the clamp mode of the injected stimulus.
type StimulusType string

const (
	StimulusCurrentClamp StimulusType = "current_clamp"
	StimulusVoltageClamp StimulusType = "voltage_clamp"
	StimulusConductance  StimulusType = "conductance"
)

// StimulusProtocol names a predefined stimulation protocol.
type StimulusProtocol string

const (
	ProtocolAPWaveform  StimulusProtocol = "ap_waveform"
	ProtocolIDRest      StimulusProtocol = "idrest"
	ProtocolIV          StimulusProtocol = "iv"
	ProtocolFirePattern StimulusProtocol = "fire_pattern"
)

// Limits taken from the service contract.
const (
	MaxAmplitudes       = 15
	MaxDurationMs       = 3000.0
	MaxSimulationTimeMs = 3000.0
)

var (
	validKinds = map[SimulationKind]bool{
		KindSingleNeuron: true, KindSynaptome: true,
	}
	validStimulusTypes = map[StimulusType]bool{
		StimulusCurrentClamp: true, StimulusVoltageClamp: true, StimulusConductance: true,
	}
	// sweepProtocols lists the protocols that accept an amplitude list.
	sweepProtocols = map[StimulusProtocol]bool{
		ProtocolAPWaveform: true, ProtocolIDRest: true, ProtocolIV: true, ProtocolFirePattern: true,
	}
)

// StimulusSpec describes the injected stimulus.
type StimulusSpec struct {
	StimulusType     StimulusType      `json:"stimulusType" yaml:"stimulusType"`
	StimulusProtocol *StimulusProtocol `json:"stimulusProtocol,omitempty" yaml:"stimulusProtocol,omitempty"`
	Amplitudes       Values            `json:"amplitudes" yaml:"amplitudes"`
}

// CurrentInjection pairs the injection site with its stimulus.
type CurrentInjection struct {
	InjectTo string       `json:"injectTo" yaml:"injectTo"`
	Stimulus StimulusSpec `json:"stimulus" yaml:"stimulus"`
}

// RecordingLocation is a section name and a normalized position along it.
type RecordingLocation struct {
	Section string  `json:"section" yaml:"section"`
	Offset  float64 `json:"offset" yaml:"offset"`
}

// Name is the recording name used in results, e.g. "soma[0]_0.5".
func (l RecordingLocation) Name() string {
	return fmt.Sprintf("%s_%g", l.Section, l.Offset)
}

// ExperimentSetup holds the global run conditions.
type ExperimentSetup struct {
	Celsius  float64 `json:"celsius" yaml:"celsius"`
	VInit    float64 `json:"vinit" yaml:"vinit"`
	HypAmp   float64 `json:"hypamp" yaml:"hypamp"`
	MaxTime  float64 `json:"max_time" yaml:"max_time"`
	TimeStep float64 `json:"time_step" yaml:"time_step"`
	Seed     int64   `json:"seed" yaml:"seed"`
}

// SynapseInputSpec drives one synapse set with a spike train. Frequency in
// list form is swept; scalar form is constant.
type SynapseInputSpec struct {
	ID           string  `json:"id" yaml:"id"`
	Delay        float64 `json:"delay" yaml:"delay"`
	Duration     float64 `json:"duration" yaml:"duration"`
	Frequency    Values  `json:"frequency" yaml:"frequency"`
	WeightScalar float64 `json:"weightScalar" yaml:"weightScalar"`
}

// VariableFrequency reports whether the spec sweeps its frequency.
func (s SynapseInputSpec) VariableFrequency() bool {
	return s.Frequency.IsList()
}

// SimulationConfig is the caller-supplied request. It is a tagged variant on
// Kind: single-neuron requests carry no synapses.
type SimulationConfig struct {
	Kind             SimulationKind      `json:"type" yaml:"type"`
	CurrentInjection CurrentInjection    `json:"currentInjection" yaml:"currentInjection"`
	RecordFrom       []RecordingLocation `json:"recordFrom" yaml:"recordFrom"`
	Conditions       ExperimentSetup     `json:"conditions" yaml:"conditions"`
	Synapses         []SynapseInputSpec  `json:"synaptome,omitempty" yaml:"synaptome,omitempty"`
}

// IsSynaptome reports whether the request stimulates synapses.
func (c *SimulationConfig) IsSynaptome() bool {
	return c.Kind == KindSynaptome
}

// VariableAmplitude reports whether more than one amplitude is swept.
func (c *SimulationConfig) VariableAmplitude() bool {
	return c.CurrentInjection.Stimulus.Amplitudes.Len() > 1
}

// VariableFrequencySpecs returns the synapse specs that sweep frequency, in
// request order.
func (c *SimulationConfig) VariableFrequencySpecs() []SynapseInputSpec {
	var out []SynapseInputSpec
	for _, s := range c.Synapses {
		if s.VariableFrequency() {
			out = append(out, s)
		}
	}
	return out
}

// Validate checks field ranges and cross-field invariants. All failures are
// *ConfigurationError.
func (c *SimulationConfig) Validate() error {
	if err := c.validate(); err != nil {
		return WrapConfiguration("validation failed", err)
	}
	return nil
}

func (c *SimulationConfig) validate() error {
	if !validKinds[c.Kind] {
		return fmt.Errorf("unknown type %q; valid: %s, %s", c.Kind, KindSingleNeuron, KindSynaptome)
	}
	if err := validateStimulus("currentInjection.stimulus", &c.CurrentInjection.Stimulus); err != nil {
		return err
	}
	if strings.TrimSpace(c.CurrentInjection.InjectTo) == "" {
		return fmt.Errorf("currentInjection.injectTo must not be empty")
	}
	if len(c.RecordFrom) == 0 {
		return fmt.Errorf("recordFrom must list at least one location")
	}
	for i, loc := range c.RecordFrom {
		if strings.TrimSpace(loc.Section) == "" {
			return fmt.Errorf("recordFrom[%d].section must not be empty", i)
		}
		if loc.Offset < 0 || loc.Offset > 1 || math.IsNaN(loc.Offset) {
			return fmt.Errorf("recordFrom[%d].offset must be in [0, 1], got %f", i, loc.Offset)
		}
	}
	if err := validateConditions(&c.Conditions); err != nil {
		return err
	}
	if c.Kind == KindSingleNeuron && len(c.Synapses) > 0 {
		return fmt.Errorf("synaptome must be empty for %s", KindSingleNeuron)
	}
	for i := range c.Synapses {
		if err := validateSynapse(fmt.Sprintf("synaptome[%d]", i), &c.Synapses[i]); err != nil {
			return err
		}
	}
	variable := c.VariableFrequencySpecs()
	if len(variable) > 0 && c.VariableAmplitude() {
		return fmt.Errorf("amplitude must be a single value when a synapse frequency is a list (%d synapse sets vary frequency)", len(variable))
	}
	seen := make(map[float64]string)
	for _, s := range variable {
		for _, f := range s.Frequency.All() {
			if owner, dup := seen[f]; dup {
				return fmt.Errorf("frequency %g is swept by both %q and %q; sweep values must be unique", f, owner, s.ID)
			}
			seen[f] = s.ID
		}
	}
	return nil
}

func validateStimulus(prefix string, s *StimulusSpec) error {
	if !validStimulusTypes[s.StimulusType] {
		return fmt.Errorf("%s.stimulusType: unknown value %q; valid: current_clamp, voltage_clamp, conductance", prefix, s.StimulusType)
	}
	if s.StimulusProtocol != nil && !sweepProtocols[*s.StimulusProtocol] {
		return fmt.Errorf("%s.stimulusProtocol: unknown value %q; valid: ap_waveform, idrest, iv, fire_pattern", prefix, *s.StimulusProtocol)
	}
	n := s.Amplitudes.Len()
	if n == 0 {
		return fmt.Errorf("%s.amplitudes must not be empty", prefix)
	}
	if s.Amplitudes.IsList() {
		if n > MaxAmplitudes {
			return fmt.Errorf("%s.amplitudes: length should be between 1 and %d (inclusive), got %d", prefix, MaxAmplitudes, n)
		}
		if s.StimulusProtocol == nil {
			return fmt.Errorf("%s.amplitudes: a list of amplitudes requires a stimulusProtocol", prefix)
		}
	}
	for i, a := range s.Amplitudes.All() {
		if math.IsNaN(a) || math.IsInf(a, 0) {
			return fmt.Errorf("%s.amplitudes[%d] must be a finite number, got %f", prefix, i, a)
		}
	}
	return nil
}

func validateConditions(e *ExperimentSetup) error {
	if err := validateFinitePositive("conditions.max_time", e.MaxTime); err != nil {
		return err
	}
	if e.MaxTime > MaxSimulationTimeMs {
		return fmt.Errorf("conditions.max_time must be <= %g ms, got %g", MaxSimulationTimeMs, e.MaxTime)
	}
	if err := validateFinitePositive("conditions.time_step", e.TimeStep); err != nil {
		return err
	}
	if e.TimeStep > e.MaxTime {
		return fmt.Errorf("conditions.time_step (%g) must not exceed max_time (%g)", e.TimeStep, e.MaxTime)
	}
	return nil
}

func validateSynapse(prefix string, s *SynapseInputSpec) error {
	if strings.TrimSpace(s.ID) == "" {
		return fmt.Errorf("%s.id must not be empty", prefix)
	}
	if s.Delay < 0 || math.IsNaN(s.Delay) {
		return fmt.Errorf("%s.delay must be non-negative, got %f", prefix, s.Delay)
	}
	if s.Duration < 0 || s.Duration > MaxDurationMs || math.IsNaN(s.Duration) {
		return fmt.Errorf("%s.duration must be in [0, %g] ms, got %f", prefix, MaxDurationMs, s.Duration)
	}
	if s.Frequency.IsZero() {
		return fmt.Errorf("%s.frequency must not be empty", prefix)
	}
	for i, f := range s.Frequency.All() {
		if err := validateFinitePositive(fmt.Sprintf("%s.frequency[%d]", prefix, i), f); err != nil {
			return err
		}
	}
	return validateFinitePositive(prefix+".weightScalar", s.WeightScalar)
}

func validateFinitePositive(name string, val float64) error {
	if math.IsNaN(val) || math.IsInf(val, 0) {
		return fmt.Errorf("%s must be a finite number, got %f", name, val)
	}
	if val <= 0 {
		return fmt.Errorf("%s must be positive, got %f", name, val)
	}
	return nil
}

// LoadSimulationConfig reads a YAML or JSON (by extension) config file.
// Uses strict parsing: unrecognized keys are rejected.
func LoadSimulationConfig(path string) (*SimulationConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading simulation config: %w", err)
	}
	if strings.EqualFold(filepath.Ext(path), ".json") {
		return DecodeSimulationConfig(bytes.NewReader(data))
	}
	var cfg SimulationConfig
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, WrapConfiguration("parsing simulation config", err)
	}
	return &cfg, nil
}

// DecodeSimulationConfig parses a JSON request body strictly.
func DecodeSimulationConfig(r io.Reader) (*SimulationConfig, error) {
	var cfg SimulationConfig
	decoder := json.NewDecoder(r)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&cfg); err != nil {
		return nil, WrapConfiguration("parsing simulation config", err)
	}
	return &cfg, nil
}
