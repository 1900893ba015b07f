package network

import (
	"math"
	"os"
	"path/filepath"
	"testing"
)

func TestSampleCoversTheDistribution(t *testing.T) {
	probs := []float64{0.2, 0.5, 0.3}

	tests := []struct {
		u    float64
		want int
	}{
		{0.0, 0},
		{0.19, 0},
		{0.2, 1},
		{0.69, 1},
		{0.7, 2},
		{0.999, 2},
		// Accumulated rounding can leave u beyond the final cumulative
		// sum; the last action absorbs it
		{1.0, 2},
	}
	for _, test := range tests {
		if got := sample(probs, test.u); got != test.want {
			t.Errorf("sample(%v) = %d, want %d", test.u, got, test.want)
		}
	}
}

func TestReturnTargetsBootstrapsAndMasks(t *testing.T) {
	a := &ActorCritic{config: Config{Gamma: 0.5}}

	// Two columns over tMax = 2. Column 0 is a bootstrapped two-step
	// fragment, column 1 a terminal one-step fragment. Rows are
	// time-major: values[i*batch+b].
	const tMax, batch = 2, 2
	values := []float64{
		1.0, 2.0, // time-step 0
		3.0, 4.0, // time-step 1: column 1's cell is padding
		5.0, 6.0, // trailing row: column 0's bootstrap value
	}
	rewards := []float64{
		0.1, 1.0,
		0.2, 0.0,
	}
	dataSizes := []int64{2, 1}
	observationSizes := []int64{2, 1, 1}

	targets, advantages, valid := a.returnTargets(values, rewards,
		dataSizes, observationSizes, tMax, batch)
	if valid != 3 {
		t.Fatalf("%d valid cells, want 3", valid)
	}

	// Column 0 bootstraps from the trailing value 5:
	// G1 = 0.2 + 0.5*5 = 2.7, G0 = 0.1 + 0.5*2.7 = 1.45
	if !approx(targets[1*batch+0], 2.7) || !approx(targets[0*batch+0], 1.45) {
		t.Errorf("column 0 targets (%v, %v), want (1.45, 2.7)",
			targets[0*batch+0], targets[1*batch+0])
	}
	if !approx(advantages[0*batch+0], 1.45-1.0) {
		t.Errorf("column 0 advantage %v, want 0.45", advantages[0*batch+0])
	}

	// Column 1 is terminal: G0 = 1.0, no bootstrap
	if !approx(targets[0*batch+1], 1.0) {
		t.Errorf("column 1 target %v, want 1.0", targets[0*batch+1])
	}
	if !approx(advantages[0*batch+1], 1.0-2.0) {
		t.Errorf("column 1 advantage %v, want -1.0", advantages[0*batch+1])
	}

	// The padded cell contributes nothing
	if targets[1*batch+1] != 0 || advantages[1*batch+1] != 0 {
		t.Error("padded cell received a target")
	}
}

func TestConfigValidation(t *testing.T) {
	c := DefaultConfig()
	if err := c.Validate(); err != nil {
		t.Errorf("default configuration rejected: %v", err)
	}

	c = DefaultConfig()
	c.HiddenSizes = nil
	if err := c.Validate(); err == nil {
		t.Error("configuration without layers accepted")
	}

	c = DefaultConfig()
	c.Gamma = 1.5
	if err := c.Validate(); err == nil {
		t.Error("discount above one accepted")
	}

	c = DefaultConfig()
	c.LearningRate = 0
	if err := c.Validate(); err == nil {
		t.Error("zero learning rate accepted")
	}
}

func TestSaveAndLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	c := DefaultConfig()
	c.HiddenSizes = []int{4}
	c.CheckpointDir = dir
	c.Seed = 7

	a, err := NewActorCritic(3, 2, c)
	if err != nil {
		t.Fatalf("could not create network: %v", err)
	}
	if err := a.Save(1234); err != nil {
		t.Fatalf("could not save: %v", err)
	}

	path := filepath.Join(dir, "impala-000000001234.bin")
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("checkpoint not written: %v", err)
	}

	b, err := Load(path)
	if err != nil {
		t.Fatalf("could not load: %v", err)
	}
	if b.features != a.features || b.numActions != a.numActions {
		t.Error("loaded network has different dimensions")
	}
	for i := range a.weights {
		wa := a.weights[i].Data().([]float64)
		wb := b.weights[i].Data().([]float64)
		for j := range wa {
			if wa[j] != wb[j] {
				t.Fatalf("layer %d weights differ after the round trip", i)
			}
		}
	}
}

func approx(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}
