// Package server implements the concurrent batching scheduler of an
// IMPALA-style actor-learner: a population of agents plays episodes in
// parallel, predictors batch their observations for inference, trainers
// batch their trajectory fragments for learning, and a single
// coordinator goroutine owns the model and dispatches completed
// batches.
package server

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/samuelfneumann/progressbar"
	"gonum.org/v1/gonum/mat"

	"github.com/samuelfneumann/goimpala/environment"
	"github.com/samuelfneumann/goimpala/metrics"
	"github.com/samuelfneumann/goimpala/model"
	"github.com/samuelfneumann/goimpala/trajectory"
)

// averageLossDecay is the decay of the exponential moving averages the
// coordinator keeps over the per-batch losses
const averageLossDecay = 0.99

// predictionRequest is one queued observation awaiting inference,
// together with the agent that submitted it. The agent is parked until
// its result is delivered, which keeps the observation alive for the
// predictor.
type predictionRequest struct {
	observation mat.Vector
	agent       *agent
}

// Server wires agents, predictors, trainers, and the coordinator
// together around the two input queues and the batch bins.
//
// The model is touched only by the goroutine that calls Run.
type Server struct {
	config  Config
	model   model.Model
	factory environment.Factory
	space   environment.ActionSpace

	agents     []*agent
	predictors []*predictor
	trainers   []*trainer

	// Prediction queue: agents produce, predictors consume.
	// predictorEvent is signalled when the queue reaches
	// MinPredictionBatchSize.
	predictionQueue     []predictionRequest
	predictionQueueLock sync.Mutex
	predictorEvent      *sync.Cond

	// Training queue: agents produce, trainers consume
	trainingQueue     []*trajectory.Fragment
	trainingQueueLock sync.Mutex
	trainerEvent      *sync.Cond

	// Batch bins: predictors and trainers produce, the coordinator
	// consumes. One lock and one condition cover both bins.
	predictionBatches []*predictionBatch
	trainingBatches   []*trainingBatch
	batchesLock       sync.Mutex
	serverEvent       *sync.Cond

	progress  bool
	closeOnce sync.Once
}

// Option configures a Server beyond its Config
type Option func(*Server)

// WithProgress displays a progress bar over trained steps while the
// Server runs
func WithProgress() Option {
	return func(s *Server) {
		s.progress = true
	}
}

// New validates the configuration, constructs a Server, and spawns its
// worker goroutines. The workers idle until observations and fragments
// flow, which starts as soon as the agents are spawned; call Run to
// start serving their batches.
func New(c Config, m model.Model, f environment.Factory,
	opts ...Option) (*Server, error) {
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("new: invalid configuration: %v", err)
	}
	if m == nil {
		return nil, fmt.Errorf("new: no model")
	}
	if f == nil {
		return nil, fmt.Errorf("new: no environment factory")
	}

	s := &Server{
		config:  c,
		model:   m,
		factory: f,
		space:   f.ActionSpace(),
	}
	s.predictorEvent = sync.NewCond(&s.predictionQueueLock)
	s.trainerEvent = sync.NewCond(&s.trainingQueueLock)
	s.serverEvent = sync.NewCond(&s.batchesLock)

	for _, opt := range opts {
		opt(s)
	}

	for i := 0; i < c.NumPredictors; i++ {
		s.predictors = append(s.predictors, newPredictor(s))
	}
	for i := 0; i < c.NumTrainers; i++ {
		s.trainers = append(s.trainers, newTrainer(s))
	}
	for i := 0; i < c.NumAgents; i++ {
		env, err := f.New()
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("new: could not create environment %d: %v",
				i, err)
		}
		s.agents = append(s.agents, newAgent(s, env, i))
	}
	return s, nil
}

// Run executes the coordinator loop on the calling goroutine until at
// least trainingSteps environment steps have been trained, then shuts
// the Server down and returns. Training batches are served before
// prediction batches within one wakeup so the model is updated before
// newer predictions are computed.
func (s *Server) Run(trainingSteps int) error {
	defer s.Close()

	var bar *progressbar.ProgressBar
	if s.progress {
		bar = progressbar.New(50, trainingSteps, time.Second, true)
		bar.Display()
		defer bar.Close()
	}

	trainedSteps := 0
	var averageVLoss, averagePiLoss, averageEntropyLoss float64

	var trainingBatches []*trainingBatch
	var predictionBatches []*predictionBatch
	for {
		if trainedSteps >= trainingSteps {
			log.Println("training finished")
			return nil
		}

		s.batchesLock.Lock()
		for len(s.trainingBatches) == 0 && len(s.predictionBatches) == 0 {
			s.serverEvent.Wait()
		}
		trainingBatches = s.trainingBatches
		predictionBatches = s.predictionBatches
		s.trainingBatches = nil
		s.predictionBatches = nil
		s.batchesLock.Unlock()

		for _, batch := range trainingBatches {
			loss, err := s.model.Train(batch.states, batch.actions,
				batch.rewards, batch.policies, batch.dataSizes,
				batch.observationSizes)
			if err != nil {
				return fmt.Errorf("run: could not train model: %v", err)
			}
			batch.trainer.processFinished()

			averageVLoss = averageLossDecay*averageVLoss +
				(1-averageLossDecay)*loss.Value
			averagePiLoss = averageLossDecay*averagePiLoss +
				(1-averageLossDecay)*loss.Policy
			averageEntropyLoss = averageLossDecay*averageEntropyLoss +
				(1-averageLossDecay)*loss.Entropy

			prevTrainedSteps := trainedSteps
			for _, n := range batch.dataSizes {
				trainedSteps += int(n)
			}
			metrics.RecordTrainedSteps(trainedSteps - prevTrainedSteps)
			metrics.RecordLosses(averageVLoss, averagePiLoss,
				averageEntropyLoss)
			if bar != nil {
				for i := prevTrainedSteps; i < trainedSteps &&
					i < trainingSteps; i++ {
					bar.Increment()
				}
			}

			if interval := s.config.LogIntervalSteps; interval > 0 &&
				trainedSteps/interval != prevTrainedSteps/interval {
				log.Printf("steps %d , loss %g %g %g", trainedSteps,
					averageVLoss, averagePiLoss, averageEntropyLoss)
			}
			if interval := s.config.SaveIntervalSteps; interval > 0 &&
				trainedSteps/interval != prevTrainedSteps/interval {
				if err := s.model.Save(trainedSteps); err != nil {
					return fmt.Errorf("run: could not save model: %v", err)
				}
			}
		}

		for _, batch := range predictionBatches {
			predictions, err := s.model.Predict(batch.states)
			if err != nil {
				return fmt.Errorf("run: could not predict: %v", err)
			}
			if len(predictions) != len(batch.agents) {
				panic(fmt.Sprintf("run: model returned %d predictions for "+
					"a batch of %d", len(predictions), len(batch.agents)))
			}
			batch.predictor.processFinished()
			for i, prediction := range predictions {
				action, err := s.space.FromID(prediction.ActionID)
				if err != nil {
					panic(fmt.Sprintf("run: model returned invalid action "+
						"id: %v", err))
				}
				batch.agents[i].setResult(action, prediction.Policy)
			}
		}
	}
}

// Close shuts the Server down: predictors first, then trainers, then
// agents, each tier joined before the next is stopped. In-flight
// prediction requests are abandoned; their agents observe the exit flag
// from the parked state. Close is idempotent.
func (s *Server) Close() {
	s.closeOnce.Do(s.close)
}

func (s *Server) close() {
	for _, p := range s.predictors {
		p.exit()
	}
	// Broadcast under the queue lock so a predictor between its
	// predicate check and its wait cannot miss the wakeup
	s.predictionQueueLock.Lock()
	s.predictorEvent.Broadcast()
	s.predictionQueueLock.Unlock()
	for _, p := range s.predictors {
		<-p.done
	}

	for _, t := range s.trainers {
		t.exit()
	}
	s.trainingQueueLock.Lock()
	s.trainerEvent.Broadcast()
	s.trainingQueueLock.Unlock()
	for _, t := range s.trainers {
		<-t.done
	}

	for _, a := range s.agents {
		a.exit()
	}
	for _, a := range s.agents {
		<-a.done
	}

	s.predictionQueueLock.Lock()
	s.predictionQueue = nil
	s.predictionQueueLock.Unlock()
	metrics.PredictionQueueDepth.Set(0)

	s.trainingQueueLock.Lock()
	s.trainingQueue = nil
	s.trainingQueueLock.Unlock()
	metrics.TrainingQueueDepth.Set(0)
}

// submitPrediction queues one observation for inference on behalf of an
// agent, waking a predictor if the queue has reached the minimum batch
// size. Called by agent goroutines.
func (s *Server) submitPrediction(obs mat.Vector, a *agent) {
	s.predictionQueueLock.Lock()
	s.predictionQueue = append(s.predictionQueue,
		predictionRequest{observation: obs, agent: a})
	depth := len(s.predictionQueue)
	s.predictionQueueLock.Unlock()

	metrics.PredictionQueueDepth.Set(float64(depth))
	if depth >= s.config.MinPredictionBatchSize {
		s.predictorEvent.Signal()
	}
}

// submitFragments queues completed trajectory fragments, waking a
// trainer if the queue has reached the minimum batch size. Called by
// agent goroutines.
func (s *Server) submitFragments(fragments ...*trajectory.Fragment) {
	s.trainingQueueLock.Lock()
	s.trainingQueue = append(s.trainingQueue, fragments...)
	depth := len(s.trainingQueue)
	s.trainingQueueLock.Unlock()

	metrics.TrainingQueueDepth.Set(float64(depth))
	if depth >= s.config.MinTrainingBatchSize {
		s.trainerEvent.Signal()
	}
}
