package plan

import (
	"math"
	"math/rand/v2"
	"slices"

	"gonum.org/v1/gonum/stat/distuv"

	"github.com/neuron-sim/neuron-sim/sim"
)

// GeneratePreSpikeTrain draws a presynaptic spike train for spec at the given
// frequency (Hz). Inter-spike intervals are Poisson with mean 1000/frequency ms;
// the train has round(duration/1000 * frequency) spikes, the first at exactly
// spec.Delay, and is non-decreasing.
//
// The same src state always yields the same train.
func GeneratePreSpikeTrain(spec sim.SynapseInputSpec, frequency float64, src rand.Source) []float64 {
	if frequency <= 0 || spec.Duration <= 0 {
		return nil
	}
	size := TrainLength(spec.Duration, frequency)
	if size <= 0 {
		return nil
	}
	isi := distuv.Poisson{Lambda: 1000 / frequency, Src: src}

	train := make([]float64, size)
	train[0] = spec.Delay
	for i := 1; i < size; i++ {
		train[i] = train[i-1] + isi.Rand()
	}
	return train
}

// TrainLength is the number of spikes in a train of duration ms at frequency Hz.
// Halves round to even.
func TrainLength(duration, frequency float64) int {
	return int(math.RoundToEven(duration / 1000 * frequency))
}

// mergedTrain generates one train per frequency and merges them into a single
// sorted sequence.
func mergedTrain(spec sim.SynapseInputSpec, frequencies []float64, src rand.Source) []float64 {
	var out []float64
	for _, f := range frequencies {
		out = append(out, GeneratePreSpikeTrain(spec, f, src)...)
	}
	if len(frequencies) > 1 {
		slices.Sort(out)
	}
	return out
}
