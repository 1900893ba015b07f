package trajectory

import (
	"testing"

	"gonum.org/v1/gonum/mat"
)

type action int64

func (a action) ID() int64 {
	return int64(a)
}

func obs(value float64) mat.Vector {
	return mat.NewVecDense(1, []float64{value})
}

func TestFragmentCounts(t *testing.T) {
	f := New(3)
	if f.Len() != 0 || f.NumObservations() != 0 {
		t.Fatal("new fragment is not empty")
	}

	f.Push(obs(0), action(1), 0.5, 0.9)
	f.Push(obs(1), action(0), 0.1, 0.8)
	if f.Len() != 2 || f.NumObservations() != 2 {
		t.Errorf("have %d transitions and %d observations, want 2 and 2",
			f.Len(), f.NumObservations())
	}
	if f.Bootstrapped() {
		t.Error("fragment without a trailing observation reports bootstrapped")
	}
	if err := f.Check(3); err != nil {
		t.Errorf("valid fragment fails check: %v", err)
	}

	f.Bootstrap(obs(2))
	if !f.Bootstrapped() {
		t.Error("bootstrapped fragment does not report bootstrapped")
	}
	if f.NumObservations() != 3 {
		t.Errorf("have %d observations, want 3", f.NumObservations())
	}
	if err := f.Check(3); err != nil {
		t.Errorf("bootstrapped fragment fails check: %v", err)
	}
}

func TestFragmentCheckRejectsViolations(t *testing.T) {
	// More transitions than the bound
	f := New(1)
	f.Push(obs(0), action(0), 0, 1)
	f.Push(obs(1), action(0), 0, 1)
	if err := f.Check(1); err == nil {
		t.Error("oversized fragment passes check")
	}

	// Ragged rows
	f = New(2)
	f.Push(obs(0), action(0), 0, 1)
	f.Rewards = append(f.Rewards, 0.5)
	if err := f.Check(2); err == nil {
		t.Error("ragged fragment passes check")
	}

	// Two trailing observations
	f = New(2)
	f.Push(obs(0), action(0), 0, 1)
	f.Bootstrap(obs(1))
	f.Bootstrap(obs(2))
	if err := f.Check(2); err == nil {
		t.Error("doubly bootstrapped fragment passes check")
	}
}
