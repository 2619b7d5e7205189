package app

import (
	"errors"
	"fmt"
	"strings"
)

// Config holds the command-line settings of a run. Everything else comes
// from the configuration file.
type Config struct {
	ConfigPath string

	LogFormat       string
	LogLevel        string
	HealthcheckPort int
	// WorkerCount bounds how many objects are trained at once.
	WorkerCount int
	// MaxIterations bounds the observations fed to each builder. Zero
	// feeds them all.
	MaxIterations int
}

// NewConfig validates cfg and fills in defaults.
func NewConfig(cfg Config) (*Config, error) {
	if cfg.ConfigPath == "" {
		return nil, errors.New("ConfigPath is a required configuration field and cannot be empty")
	}
	if cfg.WorkerCount == 0 {
		cfg.WorkerCount = 1
	}
	if cfg.WorkerCount < 0 {
		return nil, fmt.Errorf("worker count must be positive, got %d", cfg.WorkerCount)
	}
	if cfg.MaxIterations < 0 {
		return nil, fmt.Errorf("max iterations must not be negative, got %d", cfg.MaxIterations)
	}
	if cfg.HealthcheckPort < 0 || cfg.HealthcheckPort > 65535 {
		return nil, fmt.Errorf("invalid healthcheck port %d", cfg.HealthcheckPort)
	}

	cfg.LogFormat = strings.ToLower(cfg.LogFormat)
	if cfg.LogFormat == "" {
		cfg.LogFormat = "text"
	}
	if cfg.LogFormat != "text" && cfg.LogFormat != "json" {
		return nil, fmt.Errorf("invalid log-format %q: must be 'text' or 'json'", cfg.LogFormat)
	}
	cfg.LogLevel = strings.ToLower(cfg.LogLevel)
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if _, err := parseLevel(cfg.LogLevel); err != nil {
		return nil, err
	}
	return &cfg, nil
}
