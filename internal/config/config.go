package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"converge/pkg/logging"
)

const (
	userConfigDir  = ".config/converge"
	configFileName = "config.yaml"
)

// Target modes.
const (
	TargetModeMemory     = "memory"
	TargetModeKubernetes = "kubernetes"
)

// Config is the top-level engine configuration.
type Config struct {
	Engine EngineConfig `yaml:"engine"`
	Target TargetConfig `yaml:"target"`
}

// EngineConfig tunes the reconciliation loops and storage locations.
type EngineConfig struct {
	// AppsDir holds one application definition file per application.
	AppsDir string `yaml:"appsDir,omitempty" env:"CONVERGE_APPS_DIR"`

	// ReposDir is the root of the source repository store.
	ReposDir string `yaml:"reposDir,omitempty" env:"CONVERGE_REPOS_DIR"`

	// StateDir holds the persisted sync history.
	StateDir string `yaml:"stateDir,omitempty" env:"CONVERGE_STATE_DIR"`

	// ObserveInterval is the live-state refresh period.
	ObserveInterval time.Duration `yaml:"observeInterval,omitempty" env:"CONVERGE_OBSERVE_INTERVAL"`

	// RevisionDebounce coalesces bursty source updates per repository.
	RevisionDebounce time.Duration `yaml:"revisionDebounce,omitempty" env:"CONVERGE_REVISION_DEBOUNCE"`

	// DriftDebounce coalesces self-heal triggers per application.
	DriftDebounce time.Duration `yaml:"driftDebounce,omitempty" env:"CONVERGE_DRIFT_DEBOUNCE"`

	// InitialBackoff is the first retry delay after a failed cycle.
	InitialBackoff time.Duration `yaml:"initialBackoff,omitempty" env:"CONVERGE_INITIAL_BACKOFF"`

	// MaxBackoff caps the exponential retry delay.
	MaxBackoff time.Duration `yaml:"maxBackoff,omitempty" env:"CONVERGE_MAX_BACKOFF"`

	// MaxRetries bounds automatic retries of a failing trigger.
	MaxRetries int `yaml:"maxRetries,omitempty" env:"CONVERGE_MAX_RETRIES"`
}

// TargetConfig selects and configures the target environment adapter.
type TargetConfig struct {
	// Mode is "memory" or "kubernetes".
	Mode string `yaml:"mode,omitempty" env:"CONVERGE_TARGET_MODE"`

	// Kubeconfig overrides the kubeconfig path in kubernetes mode. Empty
	// means in-cluster config with a fallback to the default kubeconfig.
	Kubeconfig string `yaml:"kubeconfig,omitempty" env:"CONVERGE_KUBECONFIG"`
}

// DefaultConfigPath returns the per-user configuration directory.
func DefaultConfigPath() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine user home directory: %w", err)
	}
	return filepath.Join(homeDir, userConfigDir), nil
}

// Default returns the configuration used when no config.yaml exists,
// rooted at the given directory.
func Default(root string) Config {
	return Config{
		Engine: EngineConfig{
			AppsDir:          filepath.Join(root, "apps"),
			ReposDir:         filepath.Join(root, "repos"),
			StateDir:         filepath.Join(root, "state"),
			ObserveInterval:  10 * time.Second,
			RevisionDebounce: 500 * time.Millisecond,
			DriftDebounce:    2 * time.Second,
			InitialBackoff:   time.Second,
			MaxBackoff:       5 * time.Minute,
			MaxRetries:       5,
		},
		Target: TargetConfig{
			Mode: TargetModeMemory,
		},
	}
}

// Load reads config.yaml from the directory, falling back to defaults
// when the file does not exist, then applies environment overrides.
func Load(configPath string) (Config, error) {
	cfg := Default(configPath)

	configFilePath := filepath.Join(configPath, configFileName)
	data, err := os.ReadFile(configFilePath)
	switch {
	case errors.Is(err, os.ErrNotExist):
		logging.Info("ConfigLoader", "No config.yaml found at %s, using defaults", configFilePath)
	case err != nil:
		return Config{}, fmt.Errorf("error reading config from %s: %w", configFilePath, err)
	default:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("error loading config from %s: %w", configFilePath, err)
		}
		logging.Info("ConfigLoader", "Loaded configuration from %s", configFilePath)
	}

	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("error applying environment overrides: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects configurations the engine cannot run with.
func (c Config) Validate() error {
	switch c.Target.Mode {
	case TargetModeMemory, TargetModeKubernetes:
	default:
		return fmt.Errorf("unknown target mode %q (want %s or %s)",
			c.Target.Mode, TargetModeMemory, TargetModeKubernetes)
	}
	if c.Engine.AppsDir == "" {
		return fmt.Errorf("engine.appsDir cannot be empty")
	}
	if c.Engine.ReposDir == "" {
		return fmt.Errorf("engine.reposDir cannot be empty")
	}
	if c.Engine.StateDir == "" {
		return fmt.Errorf("engine.stateDir cannot be empty")
	}
	if c.Engine.ObserveInterval < 0 || c.Engine.InitialBackoff < 0 || c.Engine.MaxBackoff < 0 {
		return fmt.Errorf("intervals cannot be negative")
	}
	if c.Engine.MaxRetries < 0 {
		return fmt.Errorf("engine.maxRetries cannot be negative")
	}
	return nil
}
