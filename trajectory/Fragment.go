// Package trajectory implements the trajectory fragments that agents
// emit and trainers consume
package trajectory

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/samuelfneumann/goimpala/environment"
)

// Fragment is a slice of an episode: up to some maximum number of
// transitions, each a tuple of (observation, action, reward, behaviour
// policy probability), optionally followed by one extra bootstrap
// observation.
//
// A Fragment with one more observation than actions was cut from a
// still-running episode; the trailing observation is the state the
// episode continued from and is used to bootstrap the value estimate.
// A Fragment with equally many observations and actions ended its
// episode on its last transition.
type Fragment struct {
	Observations []mat.Vector
	Actions      []environment.Action
	Rewards      []float64
	Policies     []float64
}

// New returns an empty Fragment with capacity for tMax transitions
// plus one bootstrap observation
func New(tMax int) *Fragment {
	return &Fragment{
		Observations: make([]mat.Vector, 0, tMax+1),
		Actions:      make([]environment.Action, 0, tMax),
		Rewards:      make([]float64, 0, tMax),
		Policies:     make([]float64, 0, tMax),
	}
}

// Push appends one transition to the Fragment
func (f *Fragment) Push(obs mat.Vector, action environment.Action, reward,
	policy float64) {
	f.Observations = append(f.Observations, obs)
	f.Actions = append(f.Actions, action)
	f.Rewards = append(f.Rewards, reward)
	f.Policies = append(f.Policies, policy)
}

// Bootstrap appends the trailing bootstrap observation, marking the
// Fragment as cut from a still-running episode
func (f *Fragment) Bootstrap(obs mat.Vector) {
	f.Observations = append(f.Observations, obs)
}

// Len returns the number of transitions in the Fragment
func (f *Fragment) Len() int {
	return len(f.Actions)
}

// NumObservations returns the number of observations in the Fragment,
// which is Len() or Len()+1
func (f *Fragment) NumObservations() int {
	return len(f.Observations)
}

// Bootstrapped returns whether the Fragment carries a trailing
// bootstrap observation
func (f *Fragment) Bootstrapped() bool {
	return len(f.Observations) == len(f.Actions)+1
}

// Check validates the Fragment invariants against a transition bound
func (f *Fragment) Check(tMax int) error {
	if len(f.Actions) != len(f.Rewards) || len(f.Actions) != len(f.Policies) {
		return fmt.Errorf("check: ragged fragment: %d actions, %d rewards, "+
			"%d policies", len(f.Actions), len(f.Rewards), len(f.Policies))
	}
	if n := len(f.Observations); n != len(f.Actions) && n != len(f.Actions)+1 {
		return fmt.Errorf("check: %d observations for %d actions", n,
			len(f.Actions))
	}
	if len(f.Actions) > tMax {
		return fmt.Errorf("check: fragment has %d transitions, bound is %d",
			len(f.Actions), tMax)
	}
	return nil
}
