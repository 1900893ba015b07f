// Command impala trains a Sokoban policy with the actor-learner server,
// or replays an exported policy.
package main

import (
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gonum.org/v1/gonum/mat"

	"github.com/samuelfneumann/goimpala/config"
	"github.com/samuelfneumann/goimpala/environment"
	"github.com/samuelfneumann/goimpala/environment/sokoban"
	"github.com/samuelfneumann/goimpala/model"
	"github.com/samuelfneumann/goimpala/model/onnx"
	"github.com/samuelfneumann/goimpala/network"
	"github.com/samuelfneumann/goimpala/server"
)

func main() {
	configPath := flag.String("config", "", "path to a config file")
	flag.Parse()

	c, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("impala: %v", err)
	}

	problems := sokoban.DefaultProblems()
	if c.Problems != "" {
		problems, err = sokoban.LoadProblems(c.Problems)
		if err != nil {
			log.Fatalf("impala: %v", err)
		}
	}
	factory, err := sokoban.NewFactory(problems, c.Seed)
	if err != nil {
		log.Fatalf("impala: %v", err)
	}

	switch c.Mode {
	case "train":
		err = train(c, factory)
	case "play":
		err = play(c, factory)
	}
	if err != nil {
		log.Fatalf("impala: %v", err)
	}
}

// train runs the actor-learner server until the training step target is
// reached
func train(c *config.Config, factory *sokoban.Factory) error {
	if c.MetricsPort > 0 {
		go func() {
			addr := fmt.Sprintf(":%d", c.MetricsPort)
			http.Handle("/metrics", promhttp.Handler())
			if err := http.ListenAndServe(addr, nil); err != nil {
				log.Printf("train: metrics endpoint failed: %v", err)
			}
		}()
	}

	networkConfig := network.DefaultConfig()
	networkConfig.Seed = c.Seed
	networkConfig.CheckpointDir = filepath.Join(c.CheckpointDir,
		uuid.NewString())
	log.Printf("checkpoints in %v", networkConfig.CheckpointDir)

	actorCritic, err := network.NewActorCritic(sokoban.Features(),
		int(sokoban.Actions.NumActions()), networkConfig)
	if err != nil {
		return fmt.Errorf("train: %v", err)
	}

	srv, err := server.New(c.Server, actorCritic, factory,
		server.WithProgress())
	if err != nil {
		return fmt.Errorf("train: %v", err)
	}
	return srv.Run(c.TrainingSteps)
}

// play replays an exported ONNX policy for a number of episodes,
// optionally rendering every board
func play(c *config.Config, factory *sokoban.Factory) error {
	policy, err := onnx.NewPolicy(c.OnnxModel,
		int(sokoban.Actions.NumActions()))
	if err != nil {
		return fmt.Errorf("play: %v", err)
	}
	defer policy.Close()

	env, err := factory.New()
	if err != nil {
		return fmt.Errorf("play: %v", err)
	}

	if c.RenderDir != "" {
		if err := os.MkdirAll(c.RenderDir, 0o755); err != nil {
			return fmt.Errorf("play: could not create render directory: %v",
				err)
		}
	}

	for episode := 0; episode < c.Episodes; episode++ {
		obs, err := env.Reset()
		if err != nil {
			return fmt.Errorf("play: could not reset environment: %v", err)
		}
		sumOfReward := 0.0
		for t := 0; ; t++ {
			if c.RenderDir != "" {
				path := filepath.Join(c.RenderDir,
					fmt.Sprintf("episode%03d-step%04d.png", episode, t))
				if err := sokoban.Render(obs, path); err != nil {
					return fmt.Errorf("play: %v", err)
				}
			}

			action, err := selectAction(policy, factory, obs)
			if err != nil {
				return fmt.Errorf("play: %v", err)
			}

			var reward float64
			var status environment.Status
			obs, reward, status, err = env.Step(action)
			if err != nil {
				return fmt.Errorf("play: could not step environment: %v", err)
			}
			sumOfReward += reward

			done := status == environment.Finished ||
				(c.Server.MaxEpisodeLength > 0 &&
					t+1 >= c.Server.MaxEpisodeLength)
			if done {
				log.Printf("episode %d: %d steps, return %.5g (%v)",
					episode, t+1, sumOfReward, status)
				break
			}
		}
	}
	return nil
}

// selectAction runs the policy on a batch of one observation
func selectAction(policy model.Policy, factory *sokoban.Factory,
	obs mat.Vector) (environment.Action, error) {
	states, err := factory.MakeBatch([]mat.Vector{obs})
	if err != nil {
		return nil, fmt.Errorf("selectaction: %v", err)
	}
	predictions, err := policy.Predict(states)
	if err != nil {
		return nil, fmt.Errorf("selectaction: %v", err)
	}
	if len(predictions) != 1 {
		return nil, fmt.Errorf("selectaction: %d predictions for one "+
			"observation", len(predictions))
	}
	return sokoban.Actions.FromID(predictions[0].ActionID)
}
