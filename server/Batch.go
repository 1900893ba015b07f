package server

import (
	"fmt"
	"sort"

	"gonum.org/v1/gonum/mat"
	"gorgonia.org/tensor"

	"github.com/samuelfneumann/goimpala/environment"
	"github.com/samuelfneumann/goimpala/trajectory"
)

// predictionBatch is a batch of observations awaiting inference. The
// i'th prediction of the model's reply belongs to agents[i], which is
// parked until the result is delivered.
type predictionBatch struct {
	states    *tensor.Dense
	agents    []*agent
	predictor *predictor
}

// trainingBatch is a rectangular training batch assembled from
// variable-length fragments.
//
// states holds (tMax+1)*batch observation rows in time-major order:
// first the batch rows of time-step 0, then time-step 1, and so on,
// ending with the row of bootstrap observations. actions, rewards, and
// policies hold tMax*batch entries in the same order. Cells beyond a
// fragment's length are zero padding; dataSizes and observationSizes
// delimit the valid prefix of each time-step.
type trainingBatch struct {
	dataSizes        []int64
	observationSizes []int64
	states           *tensor.Dense
	actions          []int64
	rewards          []float64
	policies         []float64
	trainer          *trainer
}

// sortFragments orders fragments by descending transition count,
// breaking ties by descending observation count. After the sort, the
// fragments with a valid cell at any time-step form a prefix of the
// batch.
func sortFragments(datas []*trajectory.Fragment) {
	sort.Slice(datas, func(i, j int) bool {
		if datas[i].Len() == datas[j].Len() {
			return datas[i].NumObservations() > datas[j].NumObservations()
		}
		return datas[i].Len() > datas[j].Len()
	})
}

// newTrainingBatch sorts the fragments and transposes them into the
// rectangular time-major layout. The trainer field is left for the
// caller to fill.
func newTrainingBatch(datas []*trajectory.Fragment, tMax int,
	f environment.Factory) (*trainingBatch, error) {
	sortFragments(datas)

	batchSize := len(datas)
	observations := make([]mat.Vector, 0, (tMax+1)*batchSize)
	actions := make([]int64, 0, tMax*batchSize)
	rewards := make([]float64, 0, tMax*batchSize)
	policies := make([]float64, 0, tMax*batchSize)

	for i := 0; i < tMax; i++ {
		for _, d := range datas {
			if i < d.Len() {
				observations = append(observations, d.Observations[i])
				actions = append(actions, d.Actions[i].ID())
				rewards = append(rewards, d.Rewards[i])
				policies = append(policies, d.Policies[i])
				continue
			}
			if i < d.NumObservations() {
				observations = append(observations, d.Observations[i])
			} else {
				observations = append(observations, nil)
			}
			actions = append(actions, 0)
			rewards = append(rewards, 0)
			policies = append(policies, 0)
		}
	}

	// Trailing row of bootstrap observations
	for _, d := range datas {
		if d.NumObservations() >= tMax+1 {
			observations = append(observations, d.Observations[tMax])
		} else {
			observations = append(observations, nil)
		}
	}

	dataSizes := make([]int64, tMax)
	for i := range dataSizes {
		for _, d := range datas {
			if d.Len() > i {
				dataSizes[i]++
			}
		}
	}
	observationSizes := make([]int64, tMax+1)
	for i := range observationSizes {
		for _, d := range datas {
			if d.NumObservations() > i {
				observationSizes[i]++
			}
		}
	}

	states, err := f.MakeBatch(observations)
	if err != nil {
		return nil, fmt.Errorf("newtrainingbatch: could not build states: %v",
			err)
	}

	return &trainingBatch{
		dataSizes:        dataSizes,
		observationSizes: observationSizes,
		states:           states,
		actions:          actions,
		rewards:          rewards,
		policies:         policies,
	}, nil
}
