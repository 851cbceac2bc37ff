package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Load resolves configuration as defaults, then the YAML file named by
// CONFIG_PATH (default config.yaml) if present, then environment variables.
// A .env file in the working directory is loaded first without overriding
// variables that are already set.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	cfg := Defaults()
	path := getEnv("CONFIG_PATH", "config.yaml")
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse %s: %w", path, err)
		}
	case errors.Is(err, fs.ErrNotExist):
	default:
		return Config{}, fmt.Errorf("read %s: %w", path, err)
	}

	applyEnv(&cfg)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects values the pipeline cannot run with.
func (c Config) Validate() error {
	var problems []string
	if c.Worker.Concurrency < 1 {
		problems = append(problems, "worker concurrency must be >= 1")
	}
	if c.Recognition.ChunkMaxPages < 1 {
		problems = append(problems, "chunk_max_pages must be >= 1")
	}
	if c.Recognition.ChunkConcurrency < 1 {
		problems = append(problems, "chunk_concurrency must be >= 1")
	}
	if c.Credits.PerPage < 0 {
		problems = append(problems, "credits per_page must be >= 0")
	}
	if c.Corrector.Confidence < 0 || c.Corrector.Confidence > 1 {
		problems = append(problems, "corrector confidence must be within [0,1]")
	}
	switch c.Corrector.Provider {
	case "anthropic", "openai", "none", "":
	default:
		problems = append(problems, fmt.Sprintf("unknown corrector provider %q", c.Corrector.Provider))
	}
	if c.Worker.OutputDirName == "" {
		problems = append(problems, "output_dir_name must not be empty")
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid config: %s", strings.Join(problems, "; "))
	}
	return nil
}
