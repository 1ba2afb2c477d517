// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 AuthPulse Contributors

// Package config loads AuthPulse configuration from defaults, an optional
// YAML file, and command-line flags, in ascending precedence.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"

	"github.com/authpulse/authpulse/internal/admission"
	"github.com/authpulse/authpulse/internal/authstate"
	"github.com/authpulse/authpulse/internal/channel"
	"github.com/authpulse/authpulse/internal/debounce"
	"github.com/authpulse/authpulse/internal/xdg"
)

// Config is the full runtime configuration.
type Config struct {
	Backend   BackendConfig   `koanf:"backend"`
	Admission AdmissionConfig `koanf:"admission"`
	Breaker   BreakerConfig   `koanf:"breaker"`
	Notify    NotifyConfig    `koanf:"notify"`
	Redis     RedisConfig     `koanf:"redis"`
	Paths     PathsConfig     `koanf:"paths"`
	Metrics   MetricsConfig   `koanf:"metrics"`
	Log       LogConfig       `koanf:"log"`
}

// BackendConfig points at the backend that owns sessions.
type BackendConfig struct {
	SessionURL string `koanf:"session_url"`
	CookieHost string `koanf:"cookie_host"`
}

// AdmissionConfig tunes the session-check admission gate.
type AdmissionConfig struct {
	MinInterval time.Duration `koanf:"min_interval"`
	Window      time.Duration `koanf:"window"`
	WindowLimit int           `koanf:"window_limit"`
}

// BreakerConfig tunes the backend circuit breaker.
type BreakerConfig struct {
	FailureThreshold int           `koanf:"failure_threshold"`
	BaseTimeout      time.Duration `koanf:"base_timeout"`
	MaxBackoffFactor int           `koanf:"max_backoff_factor"`
}

// NotifyConfig tunes listener notification debouncing.
type NotifyConfig struct {
	Wait    time.Duration `koanf:"wait"`
	MaxWait time.Duration `koanf:"max_wait"`
}

// RedisConfig configures the cross-context broadcast channel.
// An empty Addr disables broadcasting.
type RedisConfig struct {
	Addr    string `koanf:"addr"`
	Channel string `koanf:"channel"`
}

// PathsConfig overrides the XDG-derived state and data directories.
type PathsConfig struct {
	StateDir string `koanf:"state_dir"`
	DataDir  string `koanf:"data_dir"`
}

// MetricsConfig configures the observability HTTP server.
// An empty Addr disables it.
type MetricsConfig struct {
	Addr string `koanf:"addr"`
}

// LogConfig configures structured logging.
type LogConfig struct {
	Format string `koanf:"format"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Backend: BackendConfig{
			CookieHost: "localhost",
		},
		Admission: AdmissionConfig{
			MinInterval: admission.DefaultMinInterval,
			Window:      admission.DefaultWindow,
			WindowLimit: admission.DefaultWindowLimit,
		},
		Breaker: BreakerConfig{
			FailureThreshold: authstate.DefaultFailureThreshold,
			BaseTimeout:      authstate.DefaultBaseTimeout,
			MaxBackoffFactor: authstate.DefaultMaxBackoffFactor,
		},
		Notify: NotifyConfig{
			Wait:    debounce.DefaultWait,
			MaxWait: debounce.DefaultMaxWait,
		},
		Redis: RedisConfig{
			Channel: channel.DefaultName,
		},
		Paths: PathsConfig{
			StateDir: xdg.StateDir(),
			DataDir:  xdg.DataDir(),
		},
		Metrics: MetricsConfig{
			Addr: "127.0.0.1:9100",
		},
		Log: LogConfig{
			Format: "json",
		},
	}
}

// Load builds the configuration by layering an optional YAML file and the
// given flag set over the defaults. path may be empty; flags may be nil.
// Only flags the user actually set override file values.
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	if flags != nil {
		// Flag "breaker-base-timeout" maps onto key "breaker.base_timeout":
		// the first dash becomes the section separator, the rest underscores.
		cb := func(key string, value string) (string, any) {
			if !flags.Changed(key) {
				return "", nil
			}
			return flagToKey(key), value
		}
		if err := k.Load(posflag.ProviderWithValue(flags, ".", k, cb), nil); err != nil {
			return nil, fmt.Errorf("failed to load flags: %w", err)
		}
	}

	cfg := Default()
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return cfg, nil
}

// flagToKey converts a flag name like "redis-addr" or
// "breaker-failure-threshold" to its koanf key.
func flagToKey(name string) string {
	section, rest, ok := strings.Cut(name, "-")
	if !ok {
		return name
	}
	return section + "." + strings.ReplaceAll(rest, "-", "_")
}

// Validate checks that the configuration is valid.
func (cfg *Config) Validate() error {
	if cfg.Backend.SessionURL == "" {
		return fmt.Errorf("backend.session_url is required")
	}
	if cfg.Admission.MinInterval <= 0 {
		return fmt.Errorf("admission.min_interval must be positive")
	}
	if cfg.Admission.Window < cfg.Admission.MinInterval {
		return fmt.Errorf("admission.window must be at least admission.min_interval")
	}
	if cfg.Admission.WindowLimit < 1 {
		return fmt.Errorf("admission.window_limit must be at least 1")
	}
	if cfg.Breaker.FailureThreshold < 1 {
		return fmt.Errorf("breaker.failure_threshold must be at least 1")
	}
	if cfg.Breaker.BaseTimeout <= 0 {
		return fmt.Errorf("breaker.base_timeout must be positive")
	}
	if cfg.Notify.Wait <= 0 || cfg.Notify.MaxWait < cfg.Notify.Wait {
		return fmt.Errorf("notify.max_wait must be at least notify.wait, both positive")
	}
	if cfg.Log.Format != "json" && cfg.Log.Format != "text" {
		return fmt.Errorf("log.format must be 'json' or 'text', got %q", cfg.Log.Format)
	}
	return nil
}
