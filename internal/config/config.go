package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Database struct {
		Path string `yaml:"path"`
	} `yaml:"database"`
	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"` // text or json
	} `yaml:"log"`
	FirmUP struct {
		MaxSteps int `yaml:"max_steps"` // <= 0: unbounded
	} `yaml:"firmup"`
	NeighBSim struct {
		Depth int `yaml:"depth"`
	} `yaml:"neighbsim"`
	Pipeline struct {
		Workers int `yaml:"workers"`
	} `yaml:"pipeline"`
	Extractor struct {
		SkipSections []string `yaml:"skip_sections"`
	} `yaml:"extractor"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	var cfg Config
	cfg.Database.Path = "funcmatch.db"
	cfg.Log.Level = "info"
	cfg.Log.Format = "text"
	cfg.FirmUP.MaxSteps = 100_000
	cfg.NeighBSim.Depth = 1
	cfg.Pipeline.Workers = 4
	cfg.Extractor.SkipSections = []string{"extern", ".plt", ".plt.sec", ".plt.got"}
	return &cfg
}

func LoadConfig(path string) (*Config, error) {
	// 1. Load .env if exists
	_ = godotenv.Load()

	cfg := Default()

	// 2. Load YAML config on top of the defaults
	file, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return nil, err
	default:
		if err := yaml.Unmarshal(file, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	}

	// 3. Override with Environment Variables if present
	if db := os.Getenv("FUNCMATCH_DB"); db != "" {
		cfg.Database.Path = db
	}
	if level := os.Getenv("FUNCMATCH_LOG_LEVEL"); level != "" {
		cfg.Log.Level = level
	}
	if workers := os.Getenv("FUNCMATCH_WORKERS"); workers != "" {
		n, err := strconv.Atoi(workers)
		if err != nil {
			return nil, fmt.Errorf("FUNCMATCH_WORKERS: %w", err)
		}
		cfg.Pipeline.Workers = n
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects values the matchers cannot run with.
func (c *Config) Validate() error {
	if c.NeighBSim.Depth < 1 {
		return fmt.Errorf("neighbsim.depth must be at least 1, got %d", c.NeighBSim.Depth)
	}
	if c.Pipeline.Workers < 1 {
		return fmt.Errorf("pipeline.workers must be at least 1, got %d", c.Pipeline.Workers)
	}
	return nil
}
