package config

import (
	"os"

	"gopkg.in/yaml.v3"
)

const (
	DefaultMaxIter = 10
	DefaultAtol    = 1e-10
	DefaultRtol    = 1e-10
)

type Config struct {
	Model  string             `yaml:"model"`
	Solver SolverConfig       `yaml:"solver"`
	Linear LinearConfig       `yaml:"linear"`
	Values map[string]float64 `yaml:"values"`
	Of     []string           `yaml:"of"`
	Wrt    []string           `yaml:"wrt"`
}

type SolverConfig struct {
	Kind            string  `yaml:"kind"`
	MaxIter         int     `yaml:"max_iter"`
	Atol            float64 `yaml:"atol"`
	Rtol            float64 `yaml:"rtol"`
	LineSearch      bool    `yaml:"line_search"`
	SolveSubsystems bool    `yaml:"solve_subsystems"`
	MaxSubSolves    int     `yaml:"max_sub_solves"`
}

type LinearConfig struct {
	Kind    string  `yaml:"kind"`
	MaxIter int     `yaml:"max_iter"`
	Atol    float64 `yaml:"atol"`
	Rtol    float64 `yaml:"rtol"`
}

func DefaultConfig() *Config {
	return &Config{
		Model: "quadratic",
		Solver: SolverConfig{
			Kind:         "newton",
			MaxIter:      DefaultMaxIter,
			Atol:         DefaultAtol,
			Rtol:         DefaultRtol,
			MaxSubSolves: 10,
		},
		// An empty linear kind keeps the model's own choice.
		Linear: LinearConfig{},
	}
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}
