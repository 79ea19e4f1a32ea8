package sim

// Mode is the sweep axis of one execution.
type Mode string

const (
	// ModeCurrentVarying sweeps the injected current amplitude with constant
	// synaptic input.
	ModeCurrentVarying Mode = "current-varying"
	// ModeFrequencyVarying sweeps synaptic input frequency.
	ModeFrequencyVarying Mode = "frequency-varying"
)

// StreamEvent is the caller-facing shape of one DataRecord. Exactly one of
// Amplitude or Frequency is set, matching the execution mode; VaryingKey
// echoes it.
type StreamEvent struct {
	Amplitude     *float64  `json:"amplitude,omitempty"`
	Frequency     *float64  `json:"frequency,omitempty"`
	Label         string    `json:"label"`
	RecordingName string    `json:"recording_name"`
	T             []float64 `json:"t"`
	V             []float64 `json:"v"`
	VaryingKey    float64   `json:"varying_key"`
}

// BatchEntry is one plotted trace in an aggregated result.
type BatchEntry struct {
	X          []float64 `json:"x"`
	Y          []float64 `json:"y"`
	Type       string    `json:"type"`
	Name       string    `json:"name"`
	Recording  string    `json:"recording"`
	Amplitude  *float64  `json:"amplitude"`
	Frequency  *float64  `json:"frequency"`
	VaryingKey float64   `json:"varying_key"`
}

// BatchResult maps a recording name to its traces in arrival order.
type BatchResult map[string][]BatchEntry

// Entry converts the event into its batch form.
func (e StreamEvent) Entry() BatchEntry {
	return BatchEntry{
		X:          e.T,
		Y:          e.V,
		Type:       "scatter",
		Name:       e.Label,
		Recording:  e.RecordingName,
		Amplitude:  e.Amplitude,
		Frequency:  e.Frequency,
		VaryingKey: e.VaryingKey,
	}
}

// Add appends the event under its recording name.
func (r BatchResult) Add(e StreamEvent) {
	r[e.RecordingName] = append(r[e.RecordingName], e.Entry())
}
