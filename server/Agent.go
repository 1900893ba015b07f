package server

import (
	"fmt"
	"log"
	"sync"
	"sync/atomic"

	"gonum.org/v1/gonum/mat"

	"github.com/samuelfneumann/goimpala/environment"
	"github.com/samuelfneumann/goimpala/trajectory"
)

// agent drives one environment instance: it submits one observation per
// step to the prediction queue, parks until its action arrives, and
// cuts the episode into trajectory fragments for the trainers.
//
// An agent has at most one outstanding prediction request. It is parked
// exactly while that request is in flight, which keeps the submitted
// observation alive until the predictor has read it.
type agent struct {
	server *Server
	env    environment.Environment
	index  int

	mu         sync.Mutex
	event      *sync.Cond
	action     environment.Action
	policy     float64
	predicting bool
	exitFlag   atomic.Bool

	done chan struct{}
}

func newAgent(s *Server, env environment.Environment, index int) *agent {
	a := &agent{server: s, env: env, index: index,
		done: make(chan struct{})}
	a.event = sync.NewCond(&a.mu)
	go a.run()
	return a
}

// run plays episodes until exit is requested. An environment failure is
// fatal; there is no retry.
func (a *agent) run() {
	defer close(a.done)
	s := a.server
	tMax := s.config.TMax
	maxEpisodeLength := s.config.MaxEpisodeLength

	for {
		prevObs := make([]mat.Vector, 0, tMax+1)
		prevActions := make([]environment.Action, 0, tMax)
		prevRewards := make([]float64, 0, tMax)
		prevPolicies := make([]float64, 0, tMax)

		obs, err := a.env.Reset()
		if err != nil {
			panic(fmt.Sprintf("agent %d: could not reset environment: %v",
				a.index, err))
		}
		sumOfReward := 0.0
		t := 0

		for {
			if maxEpisodeLength > 0 && t >= maxEpisodeLength {
				break
			}

			a.mu.Lock()
			a.predicting = true
			a.mu.Unlock()
			s.submitPrediction(obs, a)

			a.mu.Lock()
			for a.predicting && !a.exitFlag.Load() {
				a.event.Wait()
			}
			if a.exitFlag.Load() {
				a.mu.Unlock()
				return
			}
			nextAction := a.action
			policy := a.policy
			a.mu.Unlock()

			nextObs, reward, status, err := a.env.Step(nextAction)
			if err != nil {
				panic(fmt.Sprintf("agent %d: could not step environment: %v",
					a.index, err))
			}
			t++
			sumOfReward += reward

			cut := status == environment.Finished || len(prevObs) >= tMax ||
				(maxEpisodeLength > 0 && t >= maxEpisodeLength)
			if cut {
				fragment := &trajectory.Fragment{
					Observations: prevObs,
					Actions:      prevActions,
					Rewards:      prevRewards,
					Policies:     prevPolicies,
				}
				var terminal *trajectory.Fragment
				if status == environment.Finished {
					if fragment.Len() < tMax {
						// The final transition still fits
						fragment.Push(obs, nextAction, reward, policy)
					} else {
						// Full fragment: bootstrap it with a copy of the
						// final observation and emit the terminal step as
						// a fragment of its own
						fragment.Bootstrap(environment.CloneObs(obs))
						terminal = trajectory.New(tMax)
						terminal.Push(obs, nextAction, reward, policy)
					}
				} else {
					fragment.Bootstrap(environment.CloneObs(obs))
				}
				if terminal != nil {
					s.submitFragments(fragment, terminal)
				} else {
					s.submitFragments(fragment)
				}

				prevObs = make([]mat.Vector, 0, tMax+1)
				prevActions = make([]environment.Action, 0, tMax)
				prevRewards = make([]float64, 0, tMax)
				prevPolicies = make([]float64, 0, tMax)

				if status == environment.Finished {
					break
				}
			}

			prevObs = append(prevObs, obs)
			prevActions = append(prevActions, nextAction)
			prevRewards = append(prevRewards, reward)
			prevPolicies = append(prevPolicies, policy)
			obs = nextObs
		}

		if a.index == 0 {
			log.Printf("finish episode : %d %.5g", t, sumOfReward)
		}
	}
}

// setResult delivers the action and behaviour policy probability
// computed for the agent's outstanding request and unparks it. Called
// by the coordinator.
func (a *agent) setResult(action environment.Action, policy float64) {
	a.mu.Lock()
	a.action = action
	a.policy = policy
	a.predicting = false
	a.event.Signal()
	a.mu.Unlock()
}

// exit asks the agent to stop. A parked agent wakes without waiting for
// a prediction result.
func (a *agent) exit() {
	a.mu.Lock()
	a.exitFlag.Store(true)
	a.event.Signal()
	a.mu.Unlock()
}
