// Copyright 2025 AxonFlow
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"sqlbridge/connectors/pool"
	"sqlbridge/connectors/resilient"
)

// Environment variables read by Load
const (
	EnvConfigFile      = "SQLBRIDGE_CONFIG_FILE"
	EnvMaxAttempts     = "SQLBRIDGE_MAX_ATTEMPTS"
	EnvInitialDelay    = "SQLBRIDGE_INITIAL_DELAY"
	EnvBackoffFactor   = "SQLBRIDGE_BACKOFF_FACTOR"
	EnvConnectTimeout  = "SQLBRIDGE_CONNECT_TIMEOUT"
	EnvCommandTimeout  = "SQLBRIDGE_COMMAND_TIMEOUT"
	EnvValidateTimeout = "SQLBRIDGE_VALIDATE_TIMEOUT"
	EnvAcquireTimeout  = "SQLBRIDGE_ACQUIRE_TIMEOUT"
	EnvStorageURL      = "SQLBRIDGE_STORAGE_URL"
)

// Config is the runtime configuration of the connection layer
type Config struct {
	Version string                  `yaml:"version" toml:"version"`
	Retry   RetryConfig             `yaml:"retry" toml:"retry"`
	Pool    PoolConfig              `yaml:"pool" toml:"pool"`
	Storage StorageConfig           `yaml:"storage,omitempty" toml:"storage"`
	Targets map[string]TargetConfig `yaml:"targets,omitempty" toml:"targets"`
}

// RetryConfig mirrors resilient.RetryPolicy in file-friendly units
type RetryConfig struct {
	MaxAttempts       int     `yaml:"max_attempts" toml:"max_attempts"`
	InitialDelayMs    int     `yaml:"initial_delay_ms" toml:"initial_delay_ms"`
	BackoffFactor     float64 `yaml:"backoff_factor" toml:"backoff_factor"`
	ConnectTimeoutMs  int     `yaml:"connect_timeout_ms" toml:"connect_timeout_ms"`
	CommandTimeoutMs  int     `yaml:"command_timeout_ms" toml:"command_timeout_ms"`
	ValidateTimeoutMs int     `yaml:"validate_timeout_ms" toml:"validate_timeout_ms"`
}

// PoolConfig configures pool admission
type PoolConfig struct {
	AcquireTimeoutMs int `yaml:"acquire_timeout_ms" toml:"acquire_timeout_ms"` // 0 fails fast at capacity
}

// StorageConfig points at the optional PostgreSQL target table
type StorageConfig struct {
	DatabaseURL string `yaml:"database_url,omitempty" toml:"database_url"`
}

// TargetConfig declares one named target
type TargetConfig struct {
	Enabled           bool   `yaml:"enabled" toml:"enabled"`
	Descriptor        string `yaml:"descriptor" toml:"descriptor"`
	CredentialsSecret string `yaml:"credentials_secret,omitempty" toml:"credentials_secret"`
}

// Default returns the configuration used when no file is given
func Default() *Config {
	p := resilient.DefaultRetryPolicy()
	return &Config{
		Version: "1.0",
		Retry: RetryConfig{
			MaxAttempts:       p.MaxAttempts,
			InitialDelayMs:    int(p.InitialDelay.Milliseconds()),
			BackoffFactor:     p.BackoffFactor,
			ConnectTimeoutMs:  int(p.ConnectTimeout.Milliseconds()),
			CommandTimeoutMs:  int(p.CommandTimeout.Milliseconds()),
			ValidateTimeoutMs: int(p.ValidateTimeout.Milliseconds()),
		},
		Pool: PoolConfig{
			AcquireTimeoutMs: int(pool.DefaultAcquireTimeout.Milliseconds()),
		},
	}
}

// Policy converts the retry section into a RetryPolicy
func (r RetryConfig) Policy() resilient.RetryPolicy {
	return resilient.RetryPolicy{
		MaxAttempts:     r.MaxAttempts,
		InitialDelay:    time.Duration(r.InitialDelayMs) * time.Millisecond,
		BackoffFactor:   r.BackoffFactor,
		ConnectTimeout:  time.Duration(r.ConnectTimeoutMs) * time.Millisecond,
		CommandTimeout:  time.Duration(r.CommandTimeoutMs) * time.Millisecond,
		ValidateTimeout: time.Duration(r.ValidateTimeoutMs) * time.Millisecond,
	}
}

// AcquireTimeout returns the bounded pool wait
func (p PoolConfig) AcquireTimeout() time.Duration {
	return time.Duration(p.AcquireTimeoutMs) * time.Millisecond
}

// Load builds the configuration from the file named by SQLBRIDGE_CONFIG_FILE
// (if set), then applies SQLBRIDGE_* overrides and validates the result.
func Load() (*Config, error) {
	cfg := Default()
	if path := os.Getenv(EnvConfigFile); path != "" {
		loaded, err := LoadFile(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	if err := ApplyEnv(cfg); err != nil {
		return nil, err
	}
	if err := ValidateConfigFile(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overrides cfg with SQLBRIDGE_* environment variables.
// Durations use time.ParseDuration syntax (e.g. 500ms, 15s).
func ApplyEnv(cfg *Config) error {
	if v := os.Getenv(EnvMaxAttempts); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid %s format: %s", EnvMaxAttempts, v)
		}
		cfg.Retry.MaxAttempts = n
	}
	if v := os.Getenv(EnvBackoffFactor); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("invalid %s format: %s", EnvBackoffFactor, v)
		}
		cfg.Retry.BackoffFactor = f
	}

	durations := []struct {
		env string
		dst *int
	}{
		{EnvInitialDelay, &cfg.Retry.InitialDelayMs},
		{EnvConnectTimeout, &cfg.Retry.ConnectTimeoutMs},
		{EnvCommandTimeout, &cfg.Retry.CommandTimeoutMs},
		{EnvValidateTimeout, &cfg.Retry.ValidateTimeoutMs},
		{EnvAcquireTimeout, &cfg.Pool.AcquireTimeoutMs},
	}
	for _, d := range durations {
		v := os.Getenv(d.env)
		if v == "" {
			continue
		}
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid %s format: %s", d.env, v)
		}
		*d.dst = int(parsed.Milliseconds())
	}

	if v := os.Getenv(EnvStorageURL); v != "" {
		cfg.Storage.DatabaseURL = v
	}
	return nil
}

// ValidateConfigFile validates a loaded configuration
func ValidateConfigFile(cfg *Config) error {
	if cfg.Version == "" {
		return fmt.Errorf("config file must specify a version")
	}
	if err := cfg.Retry.Policy().Validate(); err != nil {
		return fmt.Errorf("invalid retry section: %w", err)
	}
	if cfg.Pool.AcquireTimeoutMs < 0 {
		return fmt.Errorf("pool acquire_timeout_ms must not be negative")
	}

	for name, t := range cfg.Targets {
		if strings.TrimSpace(name) == "" {
			return fmt.Errorf("target names must not be empty")
		}
		if t.Enabled && strings.TrimSpace(t.Descriptor) == "" {
			return fmt.Errorf("target '%s' must specify a descriptor", name)
		}
	}
	return nil
}
