package server

import (
	"sync"
	"sync/atomic"
)

// parker implements the private parking protocol shared by predictors
// and trainers: after handing a batch to the coordinator the worker
// parks until the coordinator reports the batch processed or the worker
// is asked to exit.
//
// The exit flag is atomic because it is also read inside the input
// queue wait predicates, which run under the queue lock rather than the
// worker's private lock.
type parker struct {
	mu         sync.Mutex
	event      *sync.Cond
	processing bool
	exitFlag   atomic.Bool
}

func (p *parker) init() {
	p.event = sync.NewCond(&p.mu)
}

// exitRequested reports whether exit has been requested
func (p *parker) exitRequested() bool {
	return p.exitFlag.Load()
}

// requestExit asks the worker to exit and wakes it if parked. The flag
// is set under the private lock so a worker between its predicate check
// and its wait cannot miss the signal.
func (p *parker) requestExit() {
	p.mu.Lock()
	p.exitFlag.Store(true)
	p.event.Signal()
	p.mu.Unlock()
}

// markProcessing records that a batch has been handed off and is being
// processed. Called before the batch becomes visible to the
// coordinator.
func (p *parker) markProcessing() {
	p.mu.Lock()
	p.processing = true
	p.mu.Unlock()
}

// processFinished reports that the coordinator has finished the
// worker's batch and wakes the worker. Called by the coordinator.
func (p *parker) processFinished() {
	p.mu.Lock()
	p.processing = false
	p.event.Signal()
	p.mu.Unlock()
}

// awaitProcessed parks until the current batch is processed or exit is
// requested, returning whether the worker should exit
func (p *parker) awaitProcessed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for p.processing && !p.exitFlag.Load() {
		p.event.Wait()
	}
	return p.exitFlag.Load()
}
