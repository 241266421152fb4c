// Package config loads the settings shared by every adag process.
//
// Values come from, in increasing priority: built-in defaults, an optional
// config file (any format viper reads), ADAG_-prefixed environment
// variables (ADAG_WINDOW_SIZE, ADAG_CLUSTER_PS="h1:2222,h2:2222", ...) and
// explicit overrides such as command-line flags.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang/glog"
	"github.com/spf13/viper"

	"github.com/dreamware/adag/internal/cluster"
	"github.com/dreamware/adag/internal/optimizer"
	"github.com/dreamware/adag/internal/param"
	"github.com/dreamware/adag/internal/replica"
	"github.com/dreamware/adag/internal/window"
)

// EnvPrefix prefixes environment overrides, as in ADAG_WINDOW_SIZE.
const EnvPrefix = "ADAG"

var (
	// ErrUnknownRole is returned for a job name other than ps or worker.
	ErrUnknownRole = errors.New("unknown role")

	// ErrInvalidCluster is returned when the cluster table is unusable.
	ErrInvalidCluster = errors.New("invalid cluster")

	// ErrInvalidConfig is returned for any other out-of-range setting.
	ErrInvalidConfig = errors.New("invalid configuration")
)

// ParamConfig declares one trainable parameter.
type ParamConfig struct {
	Name  string `mapstructure:"name" json:"name"`
	DType string `mapstructure:"dtype" json:"dtype"`
	Shape []int  `mapstructure:"shape" json:"shape"`
}

// ModelConfig describes the toy model mean((sum(params) - target)^2).
type ModelConfig struct {
	Target float64       `mapstructure:"target" json:"target"`
	Init   string        `mapstructure:"init" json:"init"` // zeros, constant or normal
	Value  float64       `mapstructure:"value" json:"value"`
	Seed   int64         `mapstructure:"seed" json:"seed"`
	Stddev float64       `mapstructure:"stddev" json:"stddev"`
	Params []ParamConfig `mapstructure:"params" json:"params"`
}

// Config is the full process configuration.
type Config struct {
	Cluster   cluster.Spec `mapstructure:"cluster" json:"cluster"`
	JobName   string       `mapstructure:"job_name" json:"job_name"`
	TaskIndex int          `mapstructure:"task_index" json:"task_index"`

	WindowSize         int     `mapstructure:"window_size" json:"window_size"`
	LocalLearningRate  float64 `mapstructure:"local_learning_rate" json:"local_learning_rate"`
	GlobalLearningRate float64 `mapstructure:"global_learning_rate" json:"global_learning_rate"`
	MaxGlobalStep      int64   `mapstructure:"max_global_step" json:"max_global_step"`
	LogGradientsEvery  int64   `mapstructure:"log_gradients_every" json:"log_gradients_every"`

	StepPacing       time.Duration `mapstructure:"step_pacing" json:"step_pacing"`
	StartupGrace     time.Duration `mapstructure:"startup_grace" json:"startup_grace"`
	ShutdownGrace    time.Duration `mapstructure:"shutdown_grace" json:"shutdown_grace"`
	BootstrapTimeout time.Duration `mapstructure:"bootstrap_timeout" json:"bootstrap_timeout"`
	HealthInterval   time.Duration `mapstructure:"health_interval" json:"health_interval"`

	Model ModelConfig `mapstructure:"model" json:"model"`
}

// DefaultParams are the two [2]-shaped float32 parameters a and b.
func DefaultParams() []ParamConfig {
	return []ParamConfig{
		{Name: "a", DType: string(param.Float32), Shape: []int{2}},
		{Name: "b", DType: string(param.Float32), Shape: []int{2}},
	}
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("cluster.ps", []string{"localhost:2222"})
	v.SetDefault("cluster.worker", []string{"localhost:2223", "localhost:2224"})
	v.SetDefault("job_name", "")
	v.SetDefault("task_index", 0)

	v.SetDefault("window_size", 3)
	v.SetDefault("local_learning_rate", 1e-4)
	v.SetDefault("global_learning_rate", 1e-4)
	v.SetDefault("max_global_step", 40)
	v.SetDefault("log_gradients_every", 7)

	v.SetDefault("step_pacing", time.Second)
	v.SetDefault("startup_grace", 10*time.Second)
	v.SetDefault("shutdown_grace", 10*time.Second)
	v.SetDefault("bootstrap_timeout", 2*time.Minute)
	v.SetDefault("health_interval", 5*time.Second)

	v.SetDefault("model.target", 100.0)
	v.SetDefault("model.init", "zeros")
	v.SetDefault("model.value", 0.0)
	v.SetDefault("model.seed", 1)
	v.SetDefault("model.stddev", 0.1)
}

// Load reads the configuration. file may be empty; overrides are applied
// last, keyed like the config file ("job_name", "cluster.ps", ...).
// The result is not validated.
func Load(file string, overrides map[string]any) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", file, err)
		}
		glog.V(1).Infof("read configuration from %s", v.ConfigFileUsed())
	}
	for k, val := range overrides {
		v.Set(k, val)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if len(cfg.Model.Params) == 0 {
		cfg.Model.Params = DefaultParams()
	}
	return &cfg, nil
}

// Task returns the task this process runs as.
func (c *Config) Task() cluster.Task {
	return cluster.Task{Job: cluster.Job(c.JobName), Index: c.TaskIndex}
}

// Specs returns the local parameter specs.
func (c *Config) Specs() []param.Spec {
	out := make([]param.Spec, len(c.Model.Params))
	for i, p := range c.Model.Params {
		dtype := param.DType(p.DType)
		if dtype == "" {
			dtype = param.Float32
		}
		out[i] = param.Spec{Name: p.Name, DType: dtype, Shape: append([]int(nil), p.Shape...)}
	}
	return out
}

// Initializer returns the replica initializer named by model.init.
func (c *Config) Initializer() (replica.Initializer, error) {
	switch c.Model.Init {
	case "", "zeros":
		return replica.Zeros, nil
	case "constant":
		return replica.Constant(c.Model.Value), nil
	case "normal":
		return replica.Normal(c.Model.Seed, c.Model.Stddev), nil
	}
	return nil, fmt.Errorf("%w: model.init %q", ErrInvalidConfig, c.Model.Init)
}

// Objective returns the loss over every configured parameter.
func (c *Config) Objective() optimizer.QuadraticObjective {
	terms := make([]string, len(c.Model.Params))
	for i, p := range c.Model.Params {
		terms[i] = p.Name
	}
	return optimizer.QuadraticObjective{Target: c.Model.Target, Terms: terms}
}

// Validate checks every setting needed before the first step.
func (c *Config) Validate() error {
	if err := c.Cluster.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidCluster, err)
	}
	switch cluster.Job(c.JobName) {
	case cluster.JobPS, cluster.JobWorker:
	default:
		return fmt.Errorf("%w: %q (want %s or %s)", ErrUnknownRole, c.JobName, cluster.JobPS, cluster.JobWorker)
	}
	if _, err := c.Cluster.Addr(c.Task()); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidCluster, err)
	}
	if c.WindowSize <= 0 {
		return fmt.Errorf("%w: %d", window.ErrInvalidWindow, c.WindowSize)
	}
	if c.LocalLearningRate <= 0 {
		return fmt.Errorf("%w: local %g", optimizer.ErrInvalidLearningRate, c.LocalLearningRate)
	}
	if c.GlobalLearningRate <= 0 {
		return fmt.Errorf("%w: global %g", optimizer.ErrInvalidLearningRate, c.GlobalLearningRate)
	}
	if c.MaxGlobalStep < 0 {
		return fmt.Errorf("%w: max_global_step %d", ErrInvalidConfig, c.MaxGlobalStep)
	}
	for _, d := range []struct {
		name string
		val  time.Duration
	}{
		{"step_pacing", c.StepPacing},
		{"startup_grace", c.StartupGrace},
		{"shutdown_grace", c.ShutdownGrace},
	} {
		if d.val < 0 {
			return fmt.Errorf("%w: %s %v", ErrInvalidConfig, d.name, d.val)
		}
	}
	if c.BootstrapTimeout <= 0 || c.HealthInterval <= 0 {
		return fmt.Errorf("%w: bootstrap_timeout and health_interval must be positive", ErrInvalidConfig)
	}
	seen := make(map[string]bool, len(c.Model.Params))
	for _, spec := range c.Specs() {
		if err := spec.Validate(); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
		}
		if seen[spec.Name] {
			return fmt.Errorf("%w: parameter %s declared twice", ErrInvalidConfig, spec.Name)
		}
		seen[spec.Name] = true
	}
	if _, err := c.Initializer(); err != nil {
		return err
	}
	return nil
}
