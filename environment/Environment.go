// Package environment outlines the interfaces needed to implement concrete
// environments that the actor-learner server can drive
package environment

import (
	"gonum.org/v1/gonum/mat"
	"gorgonia.org/tensor"
)

// Status indicates whether an episode is still in progress or has
// finished
type Status uint8

const (
	Running Status = iota
	Finished
)

// String implements the Stringer interface
func (s Status) String() string {
	switch s {
	case Running:
		return "running"
	case Finished:
		return "finished"
	}
	return "unknown"
}

// Action is a single action from a finite discrete action set. Every
// Action converts to an integer id through the ActionSpace it belongs
// to.
type Action interface {
	ID() int64
}

// ActionSpace describes a finite discrete action set. Ids and Actions
// are in bijection: FromID(a.ID()) == a for every action a in the set.
type ActionSpace interface {
	// NumActions returns the size of the action set. Valid ids are in
	// [0, NumActions())
	NumActions() int64

	// FromID converts an integer id to its Action
	FromID(id int64) (Action, error)
}

// Environment implements a simulated environment. One Environment
// instance is driven by exactly one agent goroutine, so implementations
// need not be safe for concurrent use.
type Environment interface {
	// Reset starts a new episode and returns its first observation
	Reset() (mat.Vector, error)

	// Step takes an action in the environment, returning the next
	// observation, the reward for the transition, and whether the
	// episode has finished
	Step(action Action) (mat.Vector, float64, Status, error)
}

// Factory describes an environment type to the server: it creates
// instances for agents to drive and carries the static surface that is
// independent of any instance, namely the action space and the
// construction of batch tensors from observations.
type Factory interface {
	// New returns a fresh Environment instance
	New() (Environment, error)

	// ActionSpace returns the discrete action space shared by all
	// instances of the environment type
	ActionSpace() ActionSpace

	// MakeBatch assembles the dense batch tensor for an ordered
	// sequence of observations. The tensor has one row per entry, in
	// order. A nil entry denotes an absent observation and produces a
	// zero-filled row.
	MakeBatch(observations []mat.Vector) (*tensor.Dense, error)
}

// CloneObs returns a deep copy of an observation
func CloneObs(obs mat.Vector) mat.Vector {
	return mat.VecDenseCopyOf(obs)
}
