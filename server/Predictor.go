package server

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/samuelfneumann/goimpala/metrics"
)

// predictor drains the prediction queue into batches and hands them to
// the coordinator
type predictor struct {
	parker
	server *Server
	done   chan struct{}
}

func newPredictor(s *Server) *predictor {
	p := &predictor{server: s, done: make(chan struct{})}
	p.init()
	go p.run()
	return p
}

func (p *predictor) run() {
	defer close(p.done)
	s := p.server

	for {
		s.predictionQueueLock.Lock()
		for len(s.predictionQueue) < s.config.MinPredictionBatchSize &&
			!p.exitRequested() {
			s.predictorEvent.Wait()
		}
		if p.exitRequested() {
			s.predictionQueueLock.Unlock()
			return
		}

		n := len(s.predictionQueue)
		if n > s.config.MaxPredictionBatchSize {
			n = s.config.MaxPredictionBatchSize
		}
		observations := make([]mat.Vector, n)
		agents := make([]*agent, n)
		for i, request := range s.predictionQueue[:n] {
			observations[i] = request.observation
			agents[i] = request.agent
		}
		s.predictionQueue = append(s.predictionQueue[:0],
			s.predictionQueue[n:]...)
		depth := len(s.predictionQueue)
		dataRemain := depth >= s.config.MinPredictionBatchSize
		s.predictionQueueLock.Unlock()

		metrics.PredictionQueueDepth.Set(float64(depth))
		if dataRemain {
			s.predictorEvent.Signal()
		}

		states, err := s.factory.MakeBatch(observations)
		if err != nil {
			panic(fmt.Sprintf("predictor: could not build batch: %v", err))
		}
		metrics.RecordPredictionBatch(n)

		batch := &predictionBatch{states: states, agents: agents,
			predictor: p}
		p.markProcessing()
		s.batchesLock.Lock()
		s.predictionBatches = append(s.predictionBatches, batch)
		s.batchesLock.Unlock()
		s.serverEvent.Signal()

		if p.awaitProcessed() {
			return
		}
	}
}

// exit asks the predictor to stop. The caller must also broadcast the
// prediction queue condition to unpark predictors waiting there.
func (p *predictor) exit() {
	p.requestExit()
}
