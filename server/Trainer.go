package server

import (
	"fmt"

	"github.com/samuelfneumann/goimpala/metrics"
	"github.com/samuelfneumann/goimpala/trajectory"
)

// trainer drains the training queue into rectangular batches and hands
// them to the coordinator
type trainer struct {
	parker
	server *Server
	done   chan struct{}
}

func newTrainer(s *Server) *trainer {
	t := &trainer{server: s, done: make(chan struct{})}
	t.init()
	go t.run()
	return t
}

func (t *trainer) run() {
	defer close(t.done)
	s := t.server

	for {
		s.trainingQueueLock.Lock()
		for len(s.trainingQueue) < s.config.MinTrainingBatchSize &&
			!t.exitRequested() {
			s.trainerEvent.Wait()
		}
		if t.exitRequested() {
			s.trainingQueueLock.Unlock()
			return
		}

		n := len(s.trainingQueue)
		if n > s.config.MaxTrainingBatchSize {
			n = s.config.MaxTrainingBatchSize
		}
		datas := make([]*trajectory.Fragment, n)
		copy(datas, s.trainingQueue[:n])
		s.trainingQueue = append(s.trainingQueue[:0], s.trainingQueue[n:]...)
		depth := len(s.trainingQueue)
		dataRemain := depth >= s.config.MinTrainingBatchSize
		s.trainingQueueLock.Unlock()

		metrics.TrainingQueueDepth.Set(float64(depth))
		if dataRemain {
			s.trainerEvent.Signal()
		}

		batch, err := newTrainingBatch(datas, s.config.TMax, s.factory)
		if err != nil {
			panic(fmt.Sprintf("trainer: could not assemble batch: %v", err))
		}
		batch.trainer = t
		metrics.RecordTrainingBatch(n)

		t.markProcessing()
		s.batchesLock.Lock()
		s.trainingBatches = append(s.trainingBatches, batch)
		s.batchesLock.Unlock()
		s.serverEvent.Signal()

		if t.awaitProcessed() {
			return
		}
	}
}

// exit asks the trainer to stop. The caller must also broadcast the
// training queue condition to unpark trainers waiting there.
func (t *trainer) exit() {
	t.requestExit()
}
