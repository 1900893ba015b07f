// Package model defines the interfaces the coordinator uses to talk to
// a policy model. Only the coordinator goroutine ever calls into a
// Model, so implementations need not be safe for concurrent use.
package model

import (
	"gorgonia.org/tensor"
)

// Prediction pairs the id of a selected action with the behaviour
// policy probability of that action at selection time
type Prediction struct {
	ActionID int64
	Policy   float64
}

// Loss holds the three per-batch training losses
type Loss struct {
	Value   float64
	Policy  float64
	Entropy float64
}

// Policy selects actions for batches of observations
type Policy interface {
	// Predict returns one Prediction per row of states, in row order
	Predict(states *tensor.Dense) ([]Prediction, error)
}

// Model is a trainable Policy. Train consumes the rectangular batch
// layout the trainers produce: states holds (tMax+1)*batch observation
// rows in time-major order, actions/rewards/policies hold tMax*batch
// entries in the same order, dataSizes[i] counts the fragments whose
// transition at time-step i is valid, and observationSizes[i] counts
// the fragments whose observation at time-step i is present. Cells
// beyond the valid prefix are zero padding.
type Model interface {
	Policy

	Train(states *tensor.Dense, actions []int64, rewards, policies []float64,
		dataSizes, observationSizes []int64) (Loss, error)

	// Save checkpoints the model, labelled with the number of trained
	// steps
	Save(step int) error
}
