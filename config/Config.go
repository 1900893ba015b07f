// Package config loads the training command's configuration from
// defaults, an optional config file, and environment variables
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"github.com/samuelfneumann/goimpala/server"
)

// Config holds everything the impala command needs to run
type Config struct {
	// Mode is "train" or "play"
	Mode string `mapstructure:"mode"`

	// Problems is the path to a Sokoban problem file. Empty uses the
	// built-in problem set.
	Problems string `mapstructure:"problems"`

	// Seed seeds the environments and the network
	Seed uint64 `mapstructure:"seed"`

	// TrainingSteps is the number of environment steps to train for
	TrainingSteps int `mapstructure:"training_steps"`

	// CheckpointDir receives model checkpoints. A fresh run id
	// subdirectory is created inside it.
	CheckpointDir string `mapstructure:"checkpoint_dir"`

	// OnnxModel is the exported policy used by play mode
	OnnxModel string `mapstructure:"onnx_model"`

	// Episodes is the number of episodes play mode runs
	Episodes int `mapstructure:"episodes"`

	// RenderDir receives play mode's rendered boards. Empty disables
	// rendering.
	RenderDir string `mapstructure:"render_dir"`

	// MetricsPort serves the Prometheus metrics endpoint during
	// training. Zero disables the endpoint.
	MetricsPort int `mapstructure:"metrics_port"`

	// Server holds the scheduler configuration
	Server server.Config `mapstructure:"server"`
}

// Load reads the configuration. Priority, highest to lowest: environment
// variables prefixed IMPALA_, the config file at path (if path is not
// empty), defaults.
func Load(path string) (*Config, error) {
	v := viper.New()

	defaults := server.DefaultConfig()
	v.SetDefault("mode", "train")
	v.SetDefault("problems", "")
	v.SetDefault("seed", 1)
	v.SetDefault("training_steps", 1_000_000_000)
	v.SetDefault("checkpoint_dir", "checkpoints")
	v.SetDefault("onnx_model", "policy.onnx")
	v.SetDefault("episodes", 10)
	v.SetDefault("render_dir", "")
	v.SetDefault("metrics_port", 9100)
	v.SetDefault("server.numagents", defaults.NumAgents)
	v.SetDefault("server.numpredictors", defaults.NumPredictors)
	v.SetDefault("server.numtrainers", defaults.NumTrainers)
	v.SetDefault("server.minpredictionbatchsize",
		defaults.MinPredictionBatchSize)
	v.SetDefault("server.maxpredictionbatchsize",
		defaults.MaxPredictionBatchSize)
	v.SetDefault("server.mintrainingbatchsize", defaults.MinTrainingBatchSize)
	v.SetDefault("server.maxtrainingbatchsize", defaults.MaxTrainingBatchSize)
	v.SetDefault("server.tmax", defaults.TMax)
	v.SetDefault("server.maxepisodelength", 120)
	v.SetDefault("server.logintervalsteps", defaults.LogIntervalSteps)
	v.SetDefault("server.saveintervalsteps", defaults.SaveIntervalSteps)

	v.SetEnvPrefix("IMPALA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("load: could not read %v: %v", path, err)
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("load: could not unmarshal configuration: %v",
			err)
	}

	if c.Mode != "train" && c.Mode != "play" {
		return nil, fmt.Errorf("load: unknown mode %q", c.Mode)
	}
	if err := c.Server.Validate(); err != nil {
		return nil, fmt.Errorf("load: %v", err)
	}
	return &c, nil
}
