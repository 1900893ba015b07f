package server

import (
	"fmt"
	"sync"

	"gonum.org/v1/gonum/mat"
	"gorgonia.org/tensor"

	"github.com/samuelfneumann/goimpala/environment"
	"github.com/samuelfneumann/goimpala/model"
)

// testAction is a discrete action identified directly by its id
type testAction int64

func (a testAction) ID() int64 {
	return int64(a)
}

// testSpace is an action space of K actions
type testSpace struct {
	k int64
}

func (s testSpace) NumActions() int64 {
	return s.k
}

func (s testSpace) FromID(id int64) (environment.Action, error) {
	if id < 0 || id >= s.k {
		return nil, fmt.Errorf("fromid: action id %d out of range [0, %d)",
			id, s.k)
	}
	return testAction(id), nil
}

// scriptedEnv runs fixed-length episodes. Step t of every episode (t
// counted from 1) yields rewards[t-1] and finishes the episode at step
// len(rewards). Observations encode the environment's id so tests can
// trace batch rows back to their agent.
type scriptedEnv struct {
	id      int
	rewards []float64
	t       int

	// wantActionID, when non-negative, asserts every received action
	// has this id; violations are counted in the factory
	wantActionID int64
	factory      *scriptedFactory
}

func (e *scriptedEnv) observation() mat.Vector {
	return mat.NewVecDense(1, []float64{float64(e.id)})
}

func (e *scriptedEnv) Reset() (mat.Vector, error) {
	e.t = 0
	return e.observation(), nil
}

func (e *scriptedEnv) Step(action environment.Action) (mat.Vector, float64,
	environment.Status, error) {
	if e.wantActionID >= 0 && action.ID() != e.wantActionID {
		e.factory.recordMisdelivery()
	}
	reward := e.rewards[e.t]
	e.t++
	status := environment.Running
	if e.t == len(e.rewards) {
		status = environment.Finished
	}
	return e.observation(), reward, status, nil
}

// scriptedFactory builds scriptedEnvs with sequential ids. Observations
// have a single feature holding the id.
type scriptedFactory struct {
	k       int64
	rewards []float64

	// wantActionID maps an environment id to the action id it must
	// receive; nil disables the check
	wantActionID func(id int) int64

	mu            sync.Mutex
	created       int
	misdeliveries int
}

func (f *scriptedFactory) New() (environment.Environment, error) {
	f.mu.Lock()
	id := f.created
	f.created++
	f.mu.Unlock()

	env := &scriptedEnv{
		id:           id,
		rewards:      f.rewards,
		wantActionID: -1,
		factory:      f,
	}
	if f.wantActionID != nil {
		env.wantActionID = f.wantActionID(id)
	}
	return env, nil
}

func (f *scriptedFactory) ActionSpace() environment.ActionSpace {
	return testSpace{k: f.k}
}

func (f *scriptedFactory) MakeBatch(observations []mat.Vector) (
	*tensor.Dense, error) {
	data := make([]float64, len(observations))
	for i, obs := range observations {
		if obs == nil {
			continue
		}
		data[i] = obs.AtVec(0)
	}
	return tensor.New(
		tensor.WithShape(len(observations), 1),
		tensor.WithBacking(data),
	), nil
}

func (f *scriptedFactory) recordMisdelivery() {
	f.mu.Lock()
	f.misdeliveries++
	f.mu.Unlock()
}

func (f *scriptedFactory) misdelivered() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.misdeliveries
}

// trainRecord captures one Train call
type trainRecord struct {
	batchSize        int
	dataSizes        []int64
	observationSizes []int64
	actions          []int64
	rewards          []float64
}

// stubModel answers predictions with a fixed function of the batch row
// and records every training batch
type stubModel struct {
	// actionFor maps a state row value to the action id returned for
	// it; nil always returns 0
	actionFor func(state float64) int64

	mu      sync.Mutex
	trained []trainRecord
	saves   []int
}

func (m *stubModel) Predict(states *tensor.Dense) ([]model.Prediction,
	error) {
	data := states.Data().([]float64)
	predictions := make([]model.Prediction, states.Shape()[0])
	for i := range predictions {
		var id int64
		if m.actionFor != nil {
			id = m.actionFor(data[i])
		}
		predictions[i] = model.Prediction{ActionID: id, Policy: 1.0}
	}
	return predictions, nil
}

func (m *stubModel) Train(states *tensor.Dense, actions []int64, rewards,
	policies []float64, dataSizes, observationSizes []int64) (model.Loss,
	error) {
	record := trainRecord{
		batchSize:        states.Shape()[0] / (len(dataSizes) + 1),
		dataSizes:        append([]int64(nil), dataSizes...),
		observationSizes: append([]int64(nil), observationSizes...),
		actions:          append([]int64(nil), actions...),
		rewards:          append([]float64(nil), rewards...),
	}
	m.mu.Lock()
	m.trained = append(m.trained, record)
	m.mu.Unlock()
	return model.Loss{Value: 1, Policy: 1, Entropy: 1}, nil
}

func (m *stubModel) Save(step int) error {
	m.mu.Lock()
	m.saves = append(m.saves, step)
	m.mu.Unlock()
	return nil
}

func (m *stubModel) trainRecords() []trainRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]trainRecord(nil), m.trained...)
}
