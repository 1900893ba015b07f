// Package network implements the trainable actor-critic policy the
// coordinator owns: a shared fully connected trunk with a softmax
// policy head and a scalar value head, trained on the rectangular
// batches the trainers assemble.
package network

import (
	"encoding/gob"
	"fmt"
	"math"
	"os"
	"path/filepath"

	"golang.org/x/exp/rand"
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"

	"github.com/samuelfneumann/goimpala/model"
	"github.com/samuelfneumann/goimpala/utils/tensorutils"
)

// Config holds the hyperparameters of an ActorCritic
type Config struct {
	HiddenSizes   []int
	Gamma         float64 // reward discount
	LearningRate  float64
	ValueCoeff    float64 // weight of the value loss in the total loss
	EntropyCoeff  float64 // weight of the entropy bonus in the total loss
	CheckpointDir string
	Seed          uint64
}

// DefaultConfig returns a Config that learns the small built-in tasks
func DefaultConfig() Config {
	return Config{
		HiddenSizes:   []int{256, 256},
		Gamma:         0.99,
		LearningRate:  0.0005,
		ValueCoeff:    0.5,
		EntropyCoeff:  0.01,
		CheckpointDir: "checkpoints",
	}
}

// Validate returns an error if the Config cannot construct a network
func (c Config) Validate() error {
	if len(c.HiddenSizes) == 0 {
		return fmt.Errorf("validate: no hidden layers")
	}
	for _, size := range c.HiddenSizes {
		if size <= 0 {
			return fmt.Errorf("validate: non-positive hidden size %d", size)
		}
	}
	if c.Gamma < 0 || c.Gamma > 1 {
		return fmt.Errorf("validate: discount %v outside [0, 1]", c.Gamma)
	}
	if c.LearningRate <= 0 {
		return fmt.Errorf("validate: non-positive learning rate %v",
			c.LearningRate)
	}
	return nil
}

// ActorCritic implements model.Model with gorgonia. The weights live in
// tensors owned by the struct; every Predict and Train call builds a
// fresh graph around them sized to the incoming batch, so arbitrary
// batch sizes are accepted.
//
// Only the coordinator goroutine calls into the model, so no locking is
// needed.
type ActorCritic struct {
	config     Config
	features   int
	numActions int

	// weights[i], biases[i] parameterize layer i: first the hidden
	// trunk in order, then the policy head, then the value head
	weights []*tensor.Dense
	biases  []*tensor.Dense

	solver G.Solver
	rng    *rand.Rand
}

// NewActorCritic creates an actor-critic for observations of the given
// feature length and an action set of size numActions
func NewActorCritic(features, numActions int, c Config) (*ActorCritic,
	error) {
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("newactorcritic: invalid configuration: %v",
			err)
	}
	if features <= 0 || numActions <= 0 {
		return nil, fmt.Errorf("newactorcritic: need positive features and "+
			"actions, have %d and %d", features, numActions)
	}

	a := &ActorCritic{
		config:     c,
		features:   features,
		numActions: numActions,
		solver: G.NewAdamSolver(
			G.WithLearnRate(c.LearningRate),
		),
		rng: rand.New(rand.NewSource(c.Seed)),
	}

	in := features
	for _, out := range c.HiddenSizes {
		a.addLayer(in, out)
		in = out
	}
	a.addLayer(in, numActions) // policy head
	a.addLayer(in, 1)          // value head

	return a, nil
}

// addLayer appends a Glorot-initialized fully connected layer
func (a *ActorCritic) addLayer(in, out int) {
	limit := math.Sqrt(6.0 / float64(in+out))
	weights := make([]float64, in*out)
	for i := range weights {
		weights[i] = (a.rng.Float64()*2 - 1) * limit
	}
	a.weights = append(a.weights, tensor.New(
		tensor.WithShape(in, out),
		tensor.WithBacking(weights),
	))
	a.biases = append(a.biases, tensor.New(
		tensor.WithShape(1, out),
		tensor.WithBacking(make([]float64, out)),
	))
}

// forward builds the network on g for a batch of states, returning the
// policy probabilities, the value estimates as a vector, and the weight
// and bias nodes of every layer in layer order
func (a *ActorCritic) forward(g *G.ExprGraph, states *tensor.Dense) (probs,
	values *G.Node, learnables G.Nodes, err error) {
	defer func() {
		// Gorgonia panics on shape mismatches; surface them as errors
		if r := recover(); r != nil {
			err = fmt.Errorf("forward: %v", r)
		}
	}()

	batch := states.Shape()[0]
	input := G.NewMatrix(g, tensor.Float64,
		G.WithShape(batch, a.features),
		G.WithName("states"),
		G.WithValue(states),
	)

	trunkLayers := len(a.config.HiddenSizes)
	nodeFor := func(i int, name string) (*G.Node, *G.Node) {
		w := G.NewMatrix(g, tensor.Float64,
			G.WithShape(a.weights[i].Shape()...),
			G.WithName(fmt.Sprintf("%vW", name)),
			G.WithValue(a.weights[i]),
		)
		b := G.NewMatrix(g, tensor.Float64,
			G.WithShape(a.biases[i].Shape()...),
			G.WithName(fmt.Sprintf("%vB", name)),
			G.WithValue(a.biases[i]),
		)
		learnables = append(learnables, w, b)
		return w, b
	}

	apply := func(x, w, b *G.Node) *G.Node {
		x = G.Must(G.Mul(x, w))
		return G.Must(G.BroadcastAdd(x, b, nil, []byte{0}))
	}

	hidden := input
	for i := 0; i < trunkLayers; i++ {
		w, b := nodeFor(i, fmt.Sprintf("hidden%d", i))
		hidden = G.Must(G.Rectify(apply(hidden, w, b)))
	}

	policyW, policyB := nodeFor(trunkLayers, "policy")
	logits := apply(hidden, policyW, policyB)
	probs = G.Must(G.SoftMax(logits))

	valueW, valueB := nodeFor(trunkLayers+1, "value")
	values = apply(hidden, valueW, valueB)
	values = G.Must(G.Reshape(values, tensor.Shape{batch}))

	return probs, values, learnables, nil
}

// Predict implements model.Model. It samples one action per row from
// the softmax policy and reports the probability with which the action
// was drawn.
func (a *ActorCritic) Predict(states *tensor.Dense) ([]model.Prediction,
	error) {
	g := G.NewGraph()
	probs, _, _, err := a.forward(g, states)
	if err != nil {
		return nil, fmt.Errorf("predict: %v", err)
	}

	vm := G.NewTapeMachine(g)
	defer vm.Close()
	if err := vm.RunAll(); err != nil {
		return nil, fmt.Errorf("predict: could not run forward pass: %v", err)
	}

	probsData := probs.Value().Data().([]float64)
	batch := states.Shape()[0]
	predictions := make([]model.Prediction, batch)
	for i := 0; i < batch; i++ {
		row := probsData[i*a.numActions : (i+1)*a.numActions]
		id := sample(row, a.rng.Float64())
		predictions[i] = model.Prediction{
			ActionID: int64(id),
			Policy:   row[id],
		}
	}
	return predictions, nil
}

// sample draws an index from a probability row given a uniform variate
func sample(probs []float64, u float64) int {
	cumulative := 0.0
	for i, p := range probs {
		cumulative += p
		if u < cumulative {
			return i
		}
	}
	return len(probs) - 1
}

// Train implements model.Model. It runs one n-step actor-critic update
// over the valid prefix of the batch: bootstrapped discounted returns
// are computed from the value estimates, then the value, policy
// gradient, and entropy losses are minimized jointly. Padded cells
// contribute nothing to any loss.
func (a *ActorCritic) Train(states *tensor.Dense, actions []int64, rewards,
	policies []float64, dataSizes, observationSizes []int64) (model.Loss,
	error) {
	tMax := len(dataSizes)
	if len(observationSizes) != tMax+1 {
		return model.Loss{}, fmt.Errorf("train: %d observation sizes for "+
			"tMax %d", len(observationSizes), tMax)
	}
	rows := states.Shape()[0]
	if rows%(tMax+1) != 0 {
		return model.Loss{}, fmt.Errorf("train: %d state rows do not "+
			"factor into %d time-steps", rows, tMax+1)
	}
	batch := rows / (tMax + 1)
	if len(actions) != tMax*batch || len(rewards) != tMax*batch ||
		len(policies) != tMax*batch {
		return model.Loss{}, fmt.Errorf("train: ragged batch")
	}

	// First pass: value estimates for return targets, without
	// gradients
	g := G.NewGraph()
	_, valuesNode, _, err := a.forward(g, states)
	if err != nil {
		return model.Loss{}, fmt.Errorf("train: %v", err)
	}
	vm := G.NewTapeMachine(g)
	if err := vm.RunAll(); err != nil {
		vm.Close()
		return model.Loss{}, fmt.Errorf("train: could not run value pass: "+
			"%v", err)
	}
	values := append([]float64(nil),
		valuesNode.Value().Data().([]float64)...)
	vm.Close()

	targets, advantages, valid := a.returnTargets(values, rewards,
		dataSizes, observationSizes, tMax, batch)
	if valid == 0 {
		return model.Loss{}, fmt.Errorf("train: batch has no valid cells")
	}

	// One-hot chosen actions, zero on padded cells
	onehot := make([]float64, tMax*batch*a.numActions)
	mask := make([]float64, tMax*batch)
	for i := 0; i < tMax; i++ {
		for b := 0; b < batch; b++ {
			if int64(b) >= dataSizes[i] {
				continue
			}
			cell := i*batch + b
			onehot[cell*a.numActions+int(actions[cell])] = 1
			mask[cell] = 1
		}
	}

	// Second pass: losses and gradient step
	g = G.NewGraph()
	probs, valuesOut, learnables, err := a.forward(g, states)
	if err != nil {
		return model.Loss{}, fmt.Errorf("train: %v", err)
	}

	steps := tensorutils.Prefix(tMax * batch)
	probsSteps := G.Must(G.Slice(probs, steps))
	valuesSteps := G.Must(G.Slice(valuesOut, steps))

	targetsNode := G.NewVector(g, tensor.Float64,
		G.WithShape(tMax*batch),
		G.WithName("targets"),
		G.WithValue(tensor.New(tensor.WithShape(tMax*batch),
			tensor.WithBacking(targets))),
	)
	advantagesNode := G.NewVector(g, tensor.Float64,
		G.WithShape(tMax*batch),
		G.WithName("advantages"),
		G.WithValue(tensor.New(tensor.WithShape(tMax*batch),
			tensor.WithBacking(advantages))),
	)
	onehotNode := G.NewMatrix(g, tensor.Float64,
		G.WithShape(tMax*batch, a.numActions),
		G.WithName("chosen"),
		G.WithValue(tensor.New(tensor.WithShape(tMax*batch, a.numActions),
			tensor.WithBacking(onehot))),
	)
	maskNode := G.NewVector(g, tensor.Float64,
		G.WithShape(tMax*batch),
		G.WithName("mask"),
		G.WithValue(tensor.New(tensor.WithShape(tMax*batch),
			tensor.WithBacking(mask))),
	)
	invValid := G.NewScalar(g, tensor.Float64,
		G.WithName("invValid"),
		G.WithValue(1.0/float64(valid)),
	)

	var vLoss, piLoss, entropyLoss *G.Node
	err = func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("could not build losses: %v", r)
			}
		}()

		// Value loss: mean squared error over valid cells. The targets
		// vector is zero on padded cells, so masking the predictions
		// suffices.
		residual := G.Must(G.Sub(G.Must(G.HadamardProd(valuesSteps,
			maskNode)), targetsNode))
		vLoss = G.Must(G.Mul(G.Must(G.Sum(G.Must(G.Square(residual)))),
			invValid))

		// Policy gradient loss: advantages are zero on padded cells
		logProbs := G.Must(G.Log(probsSteps))
		chosenLogProb := G.Must(G.Sum(G.Must(G.HadamardProd(logProbs,
			onehotNode)), 1))
		piLoss = G.Must(G.Neg(G.Must(G.Mul(G.Must(G.Sum(G.Must(
			G.HadamardProd(chosenLogProb, advantagesNode)))), invValid))))

		// Entropy loss: negative mean policy entropy over valid cells
		entropy := G.Must(G.Neg(G.Must(G.Sum(G.Must(G.HadamardProd(
			probsSteps, logProbs)), 1))))
		entropyLoss = G.Must(G.Neg(G.Must(G.Mul(G.Must(G.Sum(G.Must(
			G.HadamardProd(entropy, maskNode)))), invValid))))
		return nil
	}()
	if err != nil {
		return model.Loss{}, fmt.Errorf("train: %v", err)
	}

	total := G.Must(G.Add(piLoss, G.Must(G.Mul(vLoss,
		G.NewScalar(g, tensor.Float64, G.WithName("valueCoeff"),
			G.WithValue(a.config.ValueCoeff))))))
	total = G.Must(G.Add(total, G.Must(G.Mul(entropyLoss,
		G.NewScalar(g, tensor.Float64, G.WithName("entropyCoeff"),
			G.WithValue(a.config.EntropyCoeff))))))

	if _, err := G.Grad(total, learnables...); err != nil {
		return model.Loss{}, fmt.Errorf("train: could not build gradient: "+
			"%v", err)
	}

	vm = G.NewTapeMachine(g, G.BindDualValues(learnables...))
	defer vm.Close()
	if err := vm.RunAll(); err != nil {
		return model.Loss{}, fmt.Errorf("train: could not run training "+
			"pass: %v", err)
	}
	if err := a.solver.Step(G.NodesToValueGrads(learnables)); err != nil {
		return model.Loss{}, fmt.Errorf("train: could not step solver: %v",
			err)
	}

	return model.Loss{
		Value:   vLoss.Value().Data().(float64),
		Policy:  piLoss.Value().Data().(float64),
		Entropy: entropyLoss.Value().Data().(float64),
	}, nil
}

// returnTargets computes per-cell discounted return targets and
// advantages from the value estimates. Column b of the batch is valid
// at time-step i when b < dataSizes[i]; a column whose observation
// count exceeds its transition count bootstraps from the value of its
// trailing observation.
func (a *ActorCritic) returnTargets(values, rewards []float64, dataSizes,
	observationSizes []int64, tMax, batch int) (targets,
	advantages []float64, valid int) {
	targets = make([]float64, tMax*batch)
	advantages = make([]float64, tMax*batch)

	for b := 0; b < batch; b++ {
		length := 0
		for i := 0; i < tMax; i++ {
			if int64(b) < dataSizes[i] {
				length++
			}
		}
		if length == 0 {
			continue
		}
		valid += length

		numObs := 0
		for i := 0; i <= tMax; i++ {
			if int64(b) < observationSizes[i] {
				numObs++
			}
		}

		ret := 0.0
		if numObs > length {
			// Non-terminal cut: bootstrap from the trailing observation
			ret = values[length*batch+b]
		}
		for i := length - 1; i >= 0; i-- {
			cell := i*batch + b
			ret = rewards[cell] + a.config.Gamma*ret
			targets[cell] = ret
			advantages[cell] = ret - values[cell]
		}
	}
	return targets, advantages, valid
}

// checkpoint is the gob image of an ActorCritic's learned state
type checkpoint struct {
	Features   int
	NumActions int
	Config     Config
	Weights    []*tensor.Dense
	Biases     []*tensor.Dense
}

// Save implements model.Model. It writes a gob checkpoint named by the
// trained step count into the configured checkpoint directory.
func (a *ActorCritic) Save(step int) error {
	if err := os.MkdirAll(a.config.CheckpointDir, 0o755); err != nil {
		return fmt.Errorf("save: could not create checkpoint directory: %v",
			err)
	}
	path := filepath.Join(a.config.CheckpointDir,
		fmt.Sprintf("impala-%012d.bin", step))
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("save: could not create %v: %v", path, err)
	}
	defer file.Close()

	enc := gob.NewEncoder(file)
	err = enc.Encode(checkpoint{
		Features:   a.features,
		NumActions: a.numActions,
		Config:     a.config,
		Weights:    a.weights,
		Biases:     a.biases,
	})
	if err != nil {
		return fmt.Errorf("save: could not encode checkpoint: %v", err)
	}
	return nil
}

// Load restores an ActorCritic from a checkpoint written by Save
func Load(path string) (*ActorCritic, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("load: could not open %v: %v", path, err)
	}
	defer file.Close()

	var c checkpoint
	if err := gob.NewDecoder(file).Decode(&c); err != nil {
		return nil, fmt.Errorf("load: could not decode %v: %v", path, err)
	}

	a, err := NewActorCritic(c.Features, c.NumActions, c.Config)
	if err != nil {
		return nil, fmt.Errorf("load: %v", err)
	}
	a.weights = c.Weights
	a.biases = c.Biases
	return a, nil
}

var _ model.Model = (*ActorCritic)(nil)
