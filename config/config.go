// Package config loads dispatcher configuration from YAML files. It is a
// collaborator of the core, not part of it: the client only ever sees the
// fully-constructed flexiai.Config this package produces.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/flexiai/flexiai"
	"github.com/flexiai/flexiai/core"
)

// File is the YAML document shape. `${VAR}` references anywhere in the
// document are expanded from the environment before parsing, so secrets
// stay out of config files.
type File struct {
	Providers []ProviderEntry `yaml:"providers"`
	Breaker   BreakerEntry    `yaml:"breaker"`
	Sync      SyncEntry       `yaml:"sync"`
	Logging   LoggingEntry    `yaml:"logging"`
}

// ProviderEntry mirrors core.ProviderConfig with YAML-friendly fields.
type ProviderEntry struct {
	Name         string            `yaml:"name"`
	Kind         string            `yaml:"kind"`
	Priority     int               `yaml:"priority"`
	DefaultModel string            `yaml:"default_model"`
	APIKey       string            `yaml:"api_key"`
	ProjectID    string            `yaml:"project_id"`
	Region       string            `yaml:"region"`
	Options      map[string]string `yaml:"options"`
	TimeoutMS    int               `yaml:"timeout_ms"`
}

// BreakerEntry configures the per-provider breakers.
type BreakerEntry struct {
	FailureThreshold  int      `yaml:"failure_threshold"`
	RecoveryTimeoutMS int      `yaml:"recovery_timeout_ms"`
	HalfOpenMaxCalls  int      `yaml:"half_open_max_calls"`
	ExpectedErrors    []string `yaml:"expected_errors"`
}

// SyncEntry configures cross-worker state synchronization.
type SyncEntry struct {
	Enabled    bool   `yaml:"enabled"`
	RedisURL   string `yaml:"redis_url"`
	Prefix     string `yaml:"prefix"`
	WorkerID   string `yaml:"worker_id"`
	StateTTLMS int    `yaml:"state_ttl_ms"`
}

// LoggingEntry configures the production logger.
type LoggingEntry struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load reads a YAML file and builds a flexiai.Config.
func Load(path string) (flexiai.Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return flexiai.Config{}, fmt.Errorf("read config %s: %w", path, err)
	}
	return Parse(data)
}

// Parse builds a flexiai.Config from YAML bytes.
func Parse(data []byte) (flexiai.Config, error) {
	expanded := os.ExpandEnv(string(data))

	var file File
	if err := yaml.Unmarshal([]byte(expanded), &file); err != nil {
		return flexiai.Config{}, fmt.Errorf("parse config: %w: %v", core.ErrInvalidConfiguration, err)
	}
	return file.Build()
}

// Build converts the parsed document into the client config, validating
// each provider entry.
func (f *File) Build() (flexiai.Config, error) {
	cfg := flexiai.Config{
		Breaker: flexiai.BreakerSettings{
			FailureThreshold: f.Breaker.FailureThreshold,
			RecoveryTimeout:  time.Duration(f.Breaker.RecoveryTimeoutMS) * time.Millisecond,
			HalfOpenMaxCalls: f.Breaker.HalfOpenMaxCalls,
		},
		Sync: flexiai.SyncConfig{
			Enabled:  f.Sync.Enabled,
			RedisURL: f.Sync.RedisURL,
			Prefix:   f.Sync.Prefix,
			WorkerID: f.Sync.WorkerID,
			StateTTL: time.Duration(f.Sync.StateTTLMS) * time.Millisecond,
		},
	}

	if len(f.Breaker.ExpectedErrors) > 0 {
		kinds := make([]core.ErrorKind, 0, len(f.Breaker.ExpectedErrors))
		for _, k := range f.Breaker.ExpectedErrors {
			kinds = append(kinds, core.ErrorKind(k))
		}
		cfg.Breaker.ExpectedErrorKinds = kinds
	}

	for _, p := range f.Providers {
		pc := core.ProviderConfig{
			Name:         p.Name,
			Kind:         core.ProviderKind(p.Kind),
			Priority:     p.Priority,
			DefaultModel: p.DefaultModel,
			Credentials: core.Credentials{
				APIKey:    p.APIKey,
				ProjectID: p.ProjectID,
				Region:    p.Region,
			},
			Options: p.Options,
			Timeout: time.Duration(p.TimeoutMS) * time.Millisecond,
		}
		if err := pc.Validate(); err != nil {
			return flexiai.Config{}, err
		}
		cfg.Providers = append(cfg.Providers, pc)
	}

	if len(cfg.Providers) == 0 {
		return flexiai.Config{}, fmt.Errorf("at least one provider is required: %w", core.ErrMissingConfiguration)
	}

	cfg.Logger = core.NewProductionLogger(core.LoggingConfig{
		Level:  f.Logging.Level,
		Format: f.Logging.Format,
		Output: f.Logging.Output,
	}, "flexiai")

	return cfg, nil
}
