package server

import "fmt"

// Config holds the worker counts, batch bounds, and cadences of a
// Server
type Config struct {
	// Worker counts
	NumAgents     int
	NumPredictors int
	NumTrainers   int

	// Batch bounds. A predictor waits until at least
	// MinPredictionBatchSize requests are queued and drains at most
	// MaxPredictionBatchSize into one batch; likewise for trainers and
	// fragments.
	MinPredictionBatchSize int
	MaxPredictionBatchSize int
	MinTrainingBatchSize   int
	MaxTrainingBatchSize   int

	// TMax bounds the number of transitions in a trajectory fragment
	TMax int

	// MaxEpisodeLength truncates episodes after this many steps. Zero
	// disables truncation.
	MaxEpisodeLength int

	// LogIntervalSteps and SaveIntervalSteps are cadences in trained
	// environment steps for loss logging and model checkpointing. Zero
	// disables the respective cadence.
	LogIntervalSteps  int
	SaveIntervalSteps int
}

// DefaultConfig returns the configuration the original training setup
// uses: 2048 agents, 2 predictors, 2 trainers, batches of 512 to 1024,
// and fragments of at most 5 transitions.
func DefaultConfig() Config {
	return Config{
		NumAgents:              2048,
		NumPredictors:          2,
		NumTrainers:            2,
		MinPredictionBatchSize: 512,
		MaxPredictionBatchSize: 1024,
		MinTrainingBatchSize:   512,
		MaxTrainingBatchSize:   1024,
		TMax:                   5,
		LogIntervalSteps:       10_000,
		SaveIntervalSteps:      1_000_000,
	}
}

// Validate returns an error if the Config cannot construct a working
// Server
func (c Config) Validate() error {
	if c.NumAgents <= 0 {
		return fmt.Errorf("validate: need at least one agent, have %d",
			c.NumAgents)
	}
	if c.NumPredictors <= 0 {
		return fmt.Errorf("validate: need at least one predictor, have %d",
			c.NumPredictors)
	}
	if c.NumTrainers <= 0 {
		return fmt.Errorf("validate: need at least one trainer, have %d",
			c.NumTrainers)
	}
	if c.TMax <= 0 {
		return fmt.Errorf("validate: fragment bound must be positive, have %d",
			c.TMax)
	}
	if c.MinPredictionBatchSize <= 0 || c.MinTrainingBatchSize <= 0 {
		return fmt.Errorf("validate: minimum batch sizes must be positive, "+
			"have %d and %d", c.MinPredictionBatchSize, c.MinTrainingBatchSize)
	}
	if c.MinPredictionBatchSize > c.MaxPredictionBatchSize {
		return fmt.Errorf("validate: minimum prediction batch size %d "+
			"exceeds maximum %d", c.MinPredictionBatchSize,
			c.MaxPredictionBatchSize)
	}
	if c.MinTrainingBatchSize > c.MaxTrainingBatchSize {
		return fmt.Errorf("validate: minimum training batch size %d exceeds "+
			"maximum %d", c.MinTrainingBatchSize, c.MaxTrainingBatchSize)
	}
	if c.MaxEpisodeLength < 0 {
		return fmt.Errorf("validate: negative maximum episode length %d",
			c.MaxEpisodeLength)
	}
	if c.LogIntervalSteps < 0 || c.SaveIntervalSteps < 0 {
		return fmt.Errorf("validate: negative cadence")
	}
	return nil
}
