// Package config loads runtime configuration for tether-go.
//
// Precedence: hard defaults → YAML file → TETHER_* environment
// variables. Call-site options override the loaded values last.
package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Config is the full configuration surface.
type Config struct {
	// DefaultBudgetUSD is the dollar ceiling applied when a run does
	// not set its own.
	DefaultBudgetUSD float64 `yaml:"default_budget_usd"`
	// DefaultMaxTurns caps calls per run; 0 disables the cap.
	DefaultMaxTurns int `yaml:"default_max_turns"`
	// TokenCounterBackend selects tiktoken, estimator, external or auto.
	TokenCounterBackend string `yaml:"token_counter_backend"`
	// PricingSource selects bundled or external.
	PricingSource string `yaml:"pricing_source"`
	// TraceExport selects console, json, sqlite, otlp or none.
	TraceExport string `yaml:"trace_export"`
	// TraceExportPath receives exported trace artifacts.
	TraceExportPath string `yaml:"trace_export_path"`
	// CollectorURL is the OTLP collector endpoint for the otlp sink.
	CollectorURL string `yaml:"collector_url"`
	// LogLevel controls the default logger (debug, info, warn, error).
	LogLevel string `yaml:"log_level"`
}

// Default returns the hard defaults.
func Default() *Config {
	return &Config{
		DefaultBudgetUSD:    10.0,
		DefaultMaxTurns:     50,
		TokenCounterBackend: "auto",
		PricingSource:       "bundled",
		TraceExport:         "console",
		TraceExportPath:     "./traces/",
		LogLevel:            "warn",
	}
}

// Load builds a Config from defaults, an optional YAML file, and the
// environment, in that order.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromEnv builds a Config from defaults and the environment only.
func FromEnv() (*Config, error) {
	return Load("")
}

func (c *Config) applyEnv() {
	if v := os.Getenv("TETHER_DEFAULT_BUDGET_USD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.DefaultBudgetUSD = f
		}
	}
	if v := os.Getenv("TETHER_DEFAULT_MAX_TURNS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.DefaultMaxTurns = n
		}
	}
	if v := os.Getenv("TETHER_TOKEN_COUNTER_BACKEND"); v != "" {
		c.TokenCounterBackend = v
	}
	if v := os.Getenv("TETHER_PRICING_SOURCE"); v != "" {
		c.PricingSource = v
	}
	if v := os.Getenv("TETHER_TRACE_EXPORT"); v != "" {
		c.TraceExport = v
	}
	if v := os.Getenv("TETHER_TRACE_EXPORT_PATH"); v != "" {
		c.TraceExportPath = v
	}
	if v := os.Getenv("TETHER_COLLECTOR_URL"); v != "" {
		c.CollectorURL = v
	}
	if v := os.Getenv("TETHER_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
}

// Validate rejects out-of-range and unknown enum values.
func (c *Config) Validate() error {
	if c.DefaultBudgetUSD < 0 {
		return fmt.Errorf("default_budget_usd must be non-negative, got %v", c.DefaultBudgetUSD)
	}
	if c.DefaultMaxTurns < 0 {
		return fmt.Errorf("default_max_turns must be non-negative, got %d", c.DefaultMaxTurns)
	}
	switch c.TokenCounterBackend {
	case "tiktoken", "estimator", "external", "auto":
	default:
		return fmt.Errorf("invalid token_counter_backend: %s", c.TokenCounterBackend)
	}
	switch c.PricingSource {
	case "bundled", "external":
	default:
		return fmt.Errorf("invalid pricing_source: %s", c.PricingSource)
	}
	switch c.TraceExport {
	case "console", "json", "sqlite", "otlp", "none", "noop":
	default:
		return fmt.Errorf("invalid trace_export: %s", c.TraceExport)
	}
	return nil
}
