package sim

import (
	"math"
	"math/rand/v2"
	"testing"
)

// === SimulationKey Tests ===

func TestSimulationKey_Creation(t *testing.T) {
	tests := []struct {
		name string
		seed int64
	}{
		{"positive seed", 42},
		{"zero seed", 0},
		{"negative seed", -1},
		{"max int64", math.MaxInt64},
		{"min int64", math.MinInt64},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			key := NewSimulationKey(tt.seed)
			if int64(key) != tt.seed {
				t.Errorf("NewSimulationKey(%d) = %d, want %d", tt.seed, key, tt.seed)
			}
		})
	}
}

// === PartitionedRNG Tests ===

func TestPartitionedRNG_DeterministicDerivation(t *testing.T) {
	// BDD: Same key+name produces same sequence
	rng1 := NewPartitionedRNG(NewSimulationKey(42))
	rng2 := NewPartitionedRNG(NewSimulationKey(42))

	for i := 0; i < 3; i++ {
		a := rng1.ForSubsystem(SubsystemSynapse(0)).Float64()
		b := rng2.ForSubsystem(SubsystemSynapse(0)).Float64()
		if a != b {
			t.Errorf("Value %d: got %v and %v, want identical", i, a, b)
		}
	}
}

func TestPartitionedRNG_SubsystemIsolation(t *testing.T) {
	// BDD: Drawing from series 0 doesn't shift series 1
	rngA := NewPartitionedRNG(NewSimulationKey(42))
	rngB := NewPartitionedRNG(NewSimulationKey(42))

	for i := 0; i < 100; i++ {
		rngA.ForSubsystem(SubsystemSynapse(0)).Float64()
	}

	for i := 0; i < 5; i++ {
		got := rngA.ForSubsystem(SubsystemSynapse(1)).Float64()
		want := rngB.ForSubsystem(SubsystemSynapse(1)).Float64()
		if got != want {
			t.Errorf("Value %d: series 1 = %v after draining series 0, want %v", i, got, want)
		}
	}
}

func TestPartitionedRNG_DistinctSeriesDiffer(t *testing.T) {
	rng := NewPartitionedRNG(NewSimulationKey(42))

	a := rng.ForSubsystem(SubsystemSynapse(0)).Uint64()
	b := rng.ForSubsystem(SubsystemSynapse(1)).Uint64()

	if a == b {
		t.Errorf("series 0 and 1 produced the same first draw %d", a)
	}
}

func TestPartitionedRNG_DerivedFromKeyAndName(t *testing.T) {
	// BDD: a subsystem stream is seeded with key XOR fnv1a64(name)
	seed := int64(42)
	got := NewPartitionedRNG(NewSimulationKey(seed)).ForSubsystem(SubsystemSynapse(2))
	want := rand.New(rand.NewPCG(uint64(seed^fnv1a64("synapse_2")), pcgStream))

	for i := 0; i < 10; i++ {
		if g, w := got.Float64(), want.Float64(); g != w {
			t.Errorf("Value %d: subsystem RNG = %v, direct RNG = %v", i, g, w)
		}
	}
}

func TestPartitionedRNG_CachesInstance(t *testing.T) {
	rng := NewPartitionedRNG(NewSimulationKey(42))

	if rng.ForSubsystem(SubsystemSynapse(0)) != rng.ForSubsystem(SubsystemSynapse(0)) {
		t.Error("ForSubsystem returned different instances for same name")
	}
}

func TestPartitionedRNG_Key(t *testing.T) {
	seed := int64(12345)
	rng := NewPartitionedRNG(NewSimulationKey(seed))

	if rng.Key() != SimulationKey(seed) {
		t.Errorf("Key() = %v, want %v", rng.Key(), seed)
	}
}

func TestPartitionedRNG_NegativeSeed(t *testing.T) {
	rng := NewPartitionedRNG(NewSimulationKey(-7))

	v := rng.ForSubsystem(SubsystemSynapse(3)).Float64()

	if v < 0 || v >= 1 {
		t.Errorf("Float64() = %v, want [0, 1)", v)
	}
}

func TestFnv1a64_Deterministic(t *testing.T) {
	if fnv1a64("synapse_0") != fnv1a64("synapse_0") {
		t.Error("fnv1a64 not deterministic")
	}
	if fnv1a64("synapse_0") == fnv1a64("synapse_1") {
		t.Error("fnv1a64 collided on adjacent series names")
	}
}

// === SubsystemSynapse Tests ===

func TestSubsystemSynapse(t *testing.T) {
	tests := []struct {
		offset int
		want   string
	}{
		{0, "synapse_0"},
		{1, "synapse_1"},
		{100, "synapse_100"},
	}

	for _, tt := range tests {
		if got := SubsystemSynapse(tt.offset); got != tt.want {
			t.Errorf("SubsystemSynapse(%d) = %q, want %q", tt.offset, got, tt.want)
		}
	}
}

// === Benchmark ===

func BenchmarkPartitionedRNG_ForSubsystem_CacheHit(b *testing.B) {
	rng := NewPartitionedRNG(NewSimulationKey(42))
	rng.ForSubsystem(SubsystemSynapse(0))

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		rng.ForSubsystem(SubsystemSynapse(0))
	}
}
