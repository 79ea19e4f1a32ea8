package engine

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/neuron-sim/neuron-sim/sim"
)

// LIFParams parameterizes the leaky integrate-and-fire reference engine.
// Voltages are in mV, times in ms, currents in nA, resistance in MΩ.
type LIFParams struct {
	TauM        float64 // membrane time constant at 34 °C
	Resistance  float64 // input resistance
	Threshold   float64 // spike threshold
	Reset       float64 // post-spike reset potential
	Refractory  float64 // absolute refractory period
	TauSyn      float64 // synaptic current decay
	SynapticAmp float64 // current kick per presynaptic spike at weight 1
	Q10         float64 // temperature coefficient of TauM
	OnsetFrac   float64 // stimulus onset as a fraction of max_time
	OffsetFrac  float64 // stimulus offset as a fraction of max_time
}

// DefaultLIFParams returns a regular-spiking point neuron.
func DefaultLIFParams() LIFParams {
	return LIFParams{
		TauM:        20,
		Resistance:  100,
		Threshold:   -50,
		Reset:       -70,
		Refractory:  2,
		TauSyn:      5,
		SynapticAmp: 0.05,
		Q10:         3,
		OnsetFrac:   0.1,
		OffsetFrac:  0.9,
	}
}

// LIF is a single-compartment leaky integrate-and-fire cell. It implements
// sim.CellEngine; each instance serves one plan.
type LIF struct {
	params LIFParams
}

// NewLIF creates a LIF engine.
func NewLIF(params LIFParams) *LIF {
	return &LIF{params: params}
}

// StartCurrentVaryingSimulation runs one trace per amplitude with the plan's
// shared synapse series.
func (e *LIF) StartCurrentVaryingSimulation(ctx context.Context, plan *sim.ExecutionPlan, sink sim.RecordSink, stop *sim.StopFlag) error {
	cfg := &plan.Config
	for _, amp := range cfg.CurrentInjection.Stimulus.Amplitudes.All() {
		t, v, err := e.integrate(ctx, cfg, amp, plan.Series, stop)
		if err != nil {
			return err
		}
		label := fmt.Sprintf("%s_%g", stimulusName(&cfg.CurrentInjection.Stimulus), amp)
		for _, loc := range cfg.RecordFrom {
			rec := sim.DataRecord{
				RecordingName: loc.Name(),
				Label:         label,
				Amplitude:     sim.Float(amp),
				Time:          t,
				Voltage:       attenuate(v, loc, cfg.Conditions.VInit),
			}
			if err := sink.Emit(rec); err != nil {
				return fmt.Errorf("emitting %s/%s: %w", label, rec.RecordingName, err)
			}
		}
		logrus.Debugf("amplitude %g done", amp)
	}
	return nil
}

// StartFrequencyVaryingSimulation runs one trace per sweep point at the
// request's single amplitude.
func (e *LIF) StartFrequencyVaryingSimulation(ctx context.Context, plan *sim.ExecutionPlan, sink sim.RecordSink, stop *sim.StopFlag) error {
	cfg := &plan.Config
	amp := cfg.CurrentInjection.Stimulus.Amplitudes.First()
	for _, sp := range plan.Sweep {
		t, v, err := e.integrate(ctx, cfg, amp, sp.Series, stop)
		if err != nil {
			return err
		}
		label := fmt.Sprintf("%s_%gHz", stimulusName(&cfg.CurrentInjection.Stimulus), sp.Frequency)
		for _, loc := range cfg.RecordFrom {
			rec := sim.DataRecord{
				RecordingName: loc.Name(),
				Label:         label,
				Frequency:     sim.Float(sp.Frequency),
				Time:          t,
				Voltage:       attenuate(v, loc, cfg.Conditions.VInit),
			}
			if err := sink.Emit(rec); err != nil {
				return fmt.Errorf("emitting %s/%s: %w", label, rec.RecordingName, err)
			}
		}
		logrus.Debugf("frequency %g done", sp.Frequency)
	}
	return nil
}

// integrate runs forward Euler from 0 to max_time. The stop flag is checked
// every step.
func (e *LIF) integrate(ctx context.Context, cfg *sim.SimulationConfig, amp float64, series []sim.SynapseSeries, stop *sim.StopFlag) ([]float64, []float64, error) {
	p := e.params
	cond := cfg.Conditions
	dt := cond.TimeStep
	steps := int(math.Floor(cond.MaxTime/dt)) + 1
	tauM := p.TauM * math.Pow(p.Q10, (34-cond.Celsius)/10)
	onset, offset := p.OnsetFrac*cond.MaxTime, p.OffsetFrac*cond.MaxTime
	stimType := cfg.CurrentInjection.Stimulus.StimulusType

	t := make([]float64, steps)
	v := make([]float64, steps)
	next := make([]int, len(series))
	vm := cond.VInit
	iSyn := 0.0
	refractoryUntil := -1.0

	for i := 0; i < steps; i++ {
		if stop != nil && stop.IsSet() {
			return nil, nil, sim.ErrStopped
		}
		if i%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, nil, err
			}
		}
		now := float64(i) * dt
		t[i] = now

		for k := range series {
			s := &series[k]
			for next[k] < len(s.SpikeTimes) && s.SpikeTimes[next[k]] <= now {
				kick := p.SynapticAmp * s.Weight
				if s.Placement.Inhibitory() {
					kick = -kick
				}
				iSyn += kick
				next[k]++
			}
		}

		inWindow := now >= onset && now < offset
		iExt := cond.HypAmp
		switch stimType {
		case sim.StimulusCurrentClamp:
			if inWindow {
				iExt += amp
			}
		case sim.StimulusConductance:
			if inWindow {
				iExt += amp * (0 - vm)
			}
		}

		if stimType == sim.StimulusVoltageClamp && inWindow {
			vm = amp
		} else if now >= refractoryUntil {
			vm += dt / tauM * (cond.VInit - vm + p.Resistance*(iExt+iSyn))
			if vm >= p.Threshold {
				v[i] = 20 // spike peak
				vm = p.Reset
				refractoryUntil = now + p.Refractory
				iSyn *= math.Exp(-dt / p.TauSyn)
				continue
			}
		}
		v[i] = vm
		iSyn *= math.Exp(-dt / p.TauSyn)
	}
	return t, v, nil
}

// attenuate scales the deviation from rest for dendritic recordings.
func attenuate(v []float64, loc sim.RecordingLocation, rest float64) []float64 {
	if strings.HasPrefix(loc.Section, "soma") {
		return v
	}
	factor := 1 - 0.3*loc.Offset
	out := make([]float64, len(v))
	for i, x := range v {
		out[i] = rest + (x-rest)*factor
	}
	return out
}

func stimulusName(s *sim.StimulusSpec) string {
	if s.StimulusProtocol != nil {
		return string(*s.StimulusProtocol)
	}
	return string(s.StimulusType)
}
