package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"organiclm/vocab"
)

type AdamCfg struct {
	LR    float64 `yaml:"lr"`
	Beta1 float64 `yaml:"beta1"`
	Beta2 float64 `yaml:"beta2"`
	Eps   float64 `yaml:"eps"`
	Clip  float64 `yaml:"clip"` // 0 disables
}

// Config sizes the encoder, the cascade and the optimizer.
type Config struct {
	Dim      int     `yaml:"embedding_dim"`
	Capacity int     `yaml:"capacity"`
	Heads    int     `yaml:"heads"`
	Layers   int     `yaml:"layers"` // encoder layers per stage
	FFHidden int     `yaml:"ff_hidden"`
	Dropout  float64 `yaml:"dropout"`
	Seed     uint64  `yaml:"seed"`
	Steps    int     `yaml:"steps"`
	LogEvery int     `yaml:"log_every"`
	Adam     AdamCfg `yaml:"adam"`
}

func Default() Config {
	return Config{
		Dim:      64,
		Capacity: vocab.KeySpace,
		Heads:    8,
		Layers:   3,
		FFHidden: 2048,
		Dropout:  0.1,
		Seed:     1337,
		Steps:    1,
		LogEvery: 10,
		Adam: AdamCfg{
			LR:    1e-3,
			Beta1: 0.9,
			Beta2: 0.999,
			Eps:   1e-8,
		},
	}
}

// Load reads a YAML file over the defaults. Keys absent from the file keep
// their default value.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("reading config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing config %s: %w", path, err)
	}
	return cfg, cfg.Validate()
}

func (c Config) Validate() error {
	switch {
	case c.Dim <= 0:
		return fmt.Errorf("embedding_dim must be positive, got %d", c.Dim)
	case c.Heads <= 0 || c.Dim%c.Heads != 0:
		return fmt.Errorf("embedding_dim %d is not divisible by heads %d", c.Dim, c.Heads)
	case c.Dim/c.Heads < 2:
		return fmt.Errorf("head dimension must be at least 2, got %d", c.Dim/c.Heads)
	case c.Capacity < vocab.KeySpace:
		return fmt.Errorf("capacity %d cannot hold the %d symbol/parity keys", c.Capacity, vocab.KeySpace)
	case c.Layers <= 0:
		return fmt.Errorf("layers must be positive, got %d", c.Layers)
	case c.FFHidden <= 0:
		return fmt.Errorf("ff_hidden must be positive, got %d", c.FFHidden)
	case c.Dropout < 0 || c.Dropout >= 1:
		return fmt.Errorf("dropout must be in [0, 1), got %g", c.Dropout)
	case c.Adam.LR <= 0:
		return fmt.Errorf("adam.lr must be positive, got %g", c.Adam.LR)
	case c.Adam.Clip < 0:
		return fmt.Errorf("adam.clip must not be negative, got %g", c.Adam.Clip)
	}
	return nil
}
