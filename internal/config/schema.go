package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/maiteclab/sheetgpt/internal/providers"
)

// ErrInvalidConfig is returned by Validate.
var ErrInvalidConfig = errors.New("invalid configuration")

// Config holds sheetgpt configuration.
// Read from ./config.yaml or $HOME/.sheetgpt/config.yaml.
type Config struct {
	Providers map[string]ProviderCfg `mapstructure:"providers" yaml:"providers" json:"providers"`
	Defaults  DefaultsCfg            `mapstructure:"defaults" yaml:"defaults" json:"defaults"`
	Run       RunCfg                 `mapstructure:"run" yaml:"run" json:"run"`
	Server    ServerCfg              `mapstructure:"server" yaml:"server" json:"server"`
	Log       LogCfg                 `mapstructure:"log" yaml:"log" json:"log"`
}

// ProviderCfg configures one LLM provider.
type ProviderCfg struct {
	// One of "openai", "gemini" or "mock".
	Type           string `mapstructure:"type" yaml:"type" json:"type"`
	// Supports ${ENV_VAR} syntax
	APIKey         string `mapstructure:"api_key" yaml:"api_key" json:"api_key"`
	// Optional endpoint override
	BaseURL        string `mapstructure:"base_url" yaml:"base_url" json:"base_url"`
	// Provider default model
	Model          string `mapstructure:"model" yaml:"model" json:"model"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds" yaml:"timeout_seconds" json:"timeout_seconds"`
	// SDK-level retries
	MaxRetries     int    `mapstructure:"max_retries" yaml:"max_retries" json:"max_retries"`
	Enabled        bool   `mapstructure:"enabled" yaml:"enabled" json:"enabled"`
}

// DefaultsCfg selects the provider and model used when none is given.
type DefaultsCfg struct {
	Provider    string  `mapstructure:"provider" yaml:"provider" json:"provider"`
	Model       string  `mapstructure:"model" yaml:"model" json:"model"`
	Temperature float64 `mapstructure:"temperature" yaml:"temperature" json:"temperature"`
}

// RunCfg tunes an extraction run.
type RunCfg struct {
	Workers               int      `mapstructure:"workers" yaml:"workers" json:"workers"`
	// Caps per-run worker overrides; 0 disables the cap
	MaxWorkers            int      `mapstructure:"max_workers" yaml:"max_workers" json:"max_workers"`
	// 0 disables pacing
	RateLimitRPM          int      `mapstructure:"rate_limit_rpm" yaml:"rate_limit_rpm" json:"rate_limit_rpm"`
	RequestTimeoutSeconds int      `mapstructure:"request_timeout_seconds" yaml:"request_timeout_seconds" json:"request_timeout_seconds"`
	// none, json_object or json_schema
	ResponseFormat        string   `mapstructure:"response_format" yaml:"response_format" json:"response_format"`
	// Empty uses the built-in template
	PromptTemplate        string   `mapstructure:"prompt_template" yaml:"prompt_template" json:"prompt_template"`
	Retry                 RetryCfg `mapstructure:"retry" yaml:"retry" json:"retry"`
}

// RetryCfg controls per-row retries of retriable provider errors.
type RetryCfg struct {
	Enabled         bool `mapstructure:"enabled" yaml:"enabled" json:"enabled"`
	Attempts        int  `mapstructure:"attempts" yaml:"attempts" json:"attempts"`
	InitialDelayMS  int  `mapstructure:"initial_delay_ms" yaml:"initial_delay_ms" json:"initial_delay_ms"`
	MaxDelaySeconds int  `mapstructure:"max_delay_seconds" yaml:"max_delay_seconds" json:"max_delay_seconds"`
}

// ServerCfg configures the HTTP API.
type ServerCfg struct {
	Host string `mapstructure:"host" yaml:"host" json:"host"`
	Port int    `mapstructure:"port" yaml:"port" json:"port"`
}

// LogCfg configures the process logger.
type LogCfg struct {
	// Debug, info, warn, error
	Level  string `mapstructure:"level" yaml:"level" json:"level"`
	// Text, json
	Format string `mapstructure:"format" yaml:"format" json:"format"`
}

// GetProvider returns a provider config by name.
func (c *Config) GetProvider(name string) (ProviderCfg, bool) {
	cfg, ok := c.Providers[name]
	return cfg, ok
}

// EnabledProviders returns all enabled providers.
func (c *Config) EnabledProviders() map[string]ProviderCfg {
	result := make(map[string]ProviderCfg)
	for name, cfg := range c.Providers {
		if cfg.Enabled {
			result[name] = cfg
		}
	}
	return result
}

// RequestTimeout returns the per-row timeout, zero when unset.
func (r RunCfg) RequestTimeout() time.Duration {
	return time.Duration(r.RequestTimeoutSeconds) * time.Second
}

// InitialDelay returns the first retry delay.
func (r RetryCfg) InitialDelay() time.Duration {
	return time.Duration(r.InitialDelayMS) * time.Millisecond
}

// MaxDelay returns the retry delay cap.
func (r RetryCfg) MaxDelay() time.Duration {
	return time.Duration(r.MaxDelaySeconds) * time.Second
}

// ClampWorkers bounds a requested worker count by MaxWorkers.
func (r RunCfg) ClampWorkers(n int) int {
	if r.MaxWorkers > 0 && n > r.MaxWorkers {
		return r.MaxWorkers
	}
	return n
}

// Addr returns host:port.
func (s ServerCfg) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// Validate reports the first setting that cannot be used.
func (c *Config) Validate() error {
	if c.Run.Workers < 0 {
		return fmt.Errorf("%w: run.workers must be >= 0, got %d", ErrInvalidConfig, c.Run.Workers)
	}
	if c.Run.MaxWorkers < 0 {
		return fmt.Errorf("%w: run.max_workers must be >= 0, got %d", ErrInvalidConfig, c.Run.MaxWorkers)
	}
	if c.Run.MaxWorkers > 0 && c.Run.Workers > c.Run.MaxWorkers {
		return fmt.Errorf("%w: run.workers (%d) exceeds run.max_workers (%d)", ErrInvalidConfig, c.Run.Workers, c.Run.MaxWorkers)
	}
	if c.Run.RateLimitRPM < 0 {
		return fmt.Errorf("%w: run.rate_limit_rpm must be >= 0, got %d", ErrInvalidConfig, c.Run.RateLimitRPM)
	}
	if c.Run.RequestTimeoutSeconds < 0 {
		return fmt.Errorf("%w: run.request_timeout_seconds must be >= 0", ErrInvalidConfig)
	}
	switch c.Run.ResponseFormat {
	case "", "json_schema", "json_object", "none":
	default:
		return fmt.Errorf("%w: run.response_format %q (want json_schema, json_object or none)", ErrInvalidConfig, c.Run.ResponseFormat)
	}
	if c.Run.Retry.Enabled && c.Run.Retry.Attempts < 1 {
		return fmt.Errorf("%w: run.retry.attempts must be >= 1 when retry is enabled", ErrInvalidConfig)
	}
	if c.Defaults.Temperature < 0 || c.Defaults.Temperature > 2 {
		return fmt.Errorf("%w: defaults.temperature must be within [0, 2]", ErrInvalidConfig)
	}
	switch c.Log.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("%w: log.format %q (want text or json)", ErrInvalidConfig, c.Log.Format)
	}
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("%w: server.port out of range", ErrInvalidConfig)
	}
	for name, p := range c.Providers {
		switch p.Type {
		case providers.TypeOpenAI, providers.TypeGemini, providers.TypeMock:
		default:
			return fmt.Errorf("%w: providers.%s.type %q is not supported", ErrInvalidConfig, name, p.Type)
		}
	}
	return nil
}
