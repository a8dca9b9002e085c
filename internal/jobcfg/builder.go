// Package jobcfg builds extraction settings from the current configuration.
// It bridges the config manager, the provider registry and the extract
// package, reading settings at job creation time so that hot-reloaded
// config changes apply to the next run.
package jobcfg

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/maiteclab/sheetgpt/internal/config"
	"github.com/maiteclab/sheetgpt/internal/extract"
	"github.com/maiteclab/sheetgpt/internal/providers"
	"github.com/maiteclab/sheetgpt/internal/structured"
)

// ErrMissingAPIKey is returned when the selected provider is configured but
// has no API key and none was supplied with the request.
var ErrMissingAPIKey = errors.New("provider has no API key")

// Overrides are per-run choices that take precedence over config.
// Zero values fall through to config.
type Overrides struct {
	Provider    string
	Model       string
	APIKey      string
	// Capped at run.max_workers
	Workers     int
	Temperature *float64
}

// Job is a resolved extraction setup.
type Job struct {
	Provider string
	Model    string
	Extract  extract.Config
}

// Builder resolves Jobs against the live config and registry.
type Builder struct {
	config   func() *config.Config
	registry *providers.Registry
	logger   *slog.Logger
}

// NewBuilder creates a builder. cfg is called on every Build.
func NewBuilder(cfg func() *config.Config, registry *providers.Registry, logger *slog.Logger) *Builder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Builder{config: cfg, registry: registry, logger: logger}
}

// Build resolves the provider, model and run settings for one extraction.
func (b *Builder) Build(o Overrides) (Job, error) {
	cfg := b.config()

	name := o.Provider
	if name == "" {
		name = cfg.Defaults.Provider
	}

	client, provCfg, err := b.client(cfg, name, o.APIKey)
	if err != nil {
		return Job{}, err
	}

	model := o.Model
	if model == "" && name == cfg.Defaults.Provider {
		model = cfg.Defaults.Model
	}
	if model == "" {
		model = provCfg.DefaultModel
	}
	if m, ok := client.(interface{ Model() string }); ok && model == "" {
		model = m.Model()
	}

	temperature := cfg.Defaults.Temperature
	if o.Temperature != nil {
		temperature = *o.Temperature
	}

	workers := cfg.Run.Workers
	if o.Workers > 0 {
		workers = cfg.Run.ClampWorkers(o.Workers)
		if workers != o.Workers {
			b.logger.Warn("worker count capped", "requested", o.Workers, "max_workers", cfg.Run.MaxWorkers)
		}
	}

	job := Job{
		Provider: name,
		Model:    model,
		Extract: extract.Config{
			Client:         client,
			Model:          model,
			Temperature:    temperature,
			Workers:        workers,
			RequestTimeout: cfg.Run.RequestTimeout(),
			RateLimiter:    providers.NewRateLimiter(cfg.Run.RateLimitRPM),
			Retry: extract.RetryConfig{
				Enabled:      cfg.Run.Retry.Enabled,
				Attempts:     uint(max(cfg.Run.Retry.Attempts, 0)),
				InitialDelay: cfg.Run.Retry.InitialDelay(),
				MaxDelay:     cfg.Run.Retry.MaxDelay(),
			},
			ResponseFormat: cfg.Run.ResponseFormat,
			Renderer:       structured.NewRenderer(cfg.Run.PromptTemplate, ""),
			Logger:         b.logger,
		},
	}
	b.logger.Debug("resolved extraction job",
		"provider", name, "model", model, "workers", workers,
		"retry", cfg.Run.Retry.Enabled, "response_format", cfg.Run.ResponseFormat)
	return job, nil
}

// client returns the registry's client for name, or a fresh one when the
// caller supplied its own API key.
func (b *Builder) client(cfg *config.Config, name, apiKey string) (providers.LLMClient, providers.ProviderConfig, error) {
	provCfg, configured := cfg.ToRegistryConfig().Providers[name]

	if apiKey != "" {
		if !configured {
			return nil, provCfg, fmt.Errorf("%w: %q", providers.ErrProviderNotFound, name)
		}
		provCfg.APIKey = apiKey
		provCfg.Enabled = true
		client, err := providers.NewClient(provCfg)
		if err != nil {
			return nil, provCfg, err
		}
		return client, provCfg, nil
	}

	if b.registry != nil {
		if client, err := b.registry.Get(name); err == nil {
			if rc, ok := b.registry.Config(name); ok {
				provCfg = rc
			}
			return client, provCfg, nil
		}
	}

	switch {
	case !configured:
		return nil, provCfg, fmt.Errorf("%w: %q", providers.ErrProviderNotFound, name)
	case !provCfg.Enabled:
		return nil, provCfg, fmt.Errorf("provider %q is disabled", name)
	case provCfg.APIKey == "" && provCfg.Type != providers.TypeMock:
		return nil, provCfg, fmt.Errorf("%w: %q (set providers.%s.api_key)", ErrMissingAPIKey, name, name)
	default:
		return nil, provCfg, fmt.Errorf("provider %q is not available", name)
	}
}
