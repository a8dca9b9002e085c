package providers

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// Provider types accepted in configuration.
const (
	TypeOpenAI = "openai"
	TypeGemini = "gemini"
	TypeMock   = "mock"
)

// Registry holds references to LLM clients.
// It supports config-driven instantiation, hot-reload, and provides thread-safe access.
type Registry struct {
	mu      sync.RWMutex
	clients map[string]LLMClient
	configs map[string]ProviderConfig
	logger  *slog.Logger
}

// NewRegistry creates a new empty provider registry.
func NewRegistry() *Registry {
	return &Registry{
		clients: make(map[string]LLMClient),
		configs: make(map[string]ProviderConfig),
		logger:  slog.Default(),
	}
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger *slog.Logger) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.logger = logger
}

// Register registers a client by name.
func (r *Registry) Register(name string, client LLMClient) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clients[name] = client
	delete(r.configs, name)
	if r.logger != nil {
		r.logger.Info("registered LLM client", "name", name)
	}
}

// Unregister removes a client by name.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.clients, name)
	delete(r.configs, name)
	if r.logger != nil {
		r.logger.Info("unregistered LLM client", "name", name)
	}
}

// Get returns a client by name.
func (r *Registry) Get(name string) (LLMClient, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	client, ok := r.clients[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrProviderNotFound, name)
	}
	return client, nil
}

// Config returns the configuration a client was built from, if any.
func (r *Registry) Config(name string) (ProviderConfig, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cfg, ok := r.configs[name]
	return cfg, ok
}

// List returns all registered client names, sorted.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.clients))
	for name := range r.clients {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Has checks if a client is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.clients[name]
	return ok
}

// RegistryConfig defines the providers to instantiate from config.
type RegistryConfig struct {
	Providers map[string]ProviderConfig
}

// ProviderConfig matches config.ProviderCfg with a resolved API key.
type ProviderConfig struct {
	Type         string // "openai", "gemini", "mock"
	APIKey       string // Resolved API key
	BaseURL      string
	DefaultModel string
	Timeout      time.Duration
	MaxRetries   int
	Enabled      bool
}

// usable reports whether cfg can produce a client.
func (cfg ProviderConfig) usable() bool {
	if !cfg.Enabled {
		return false
	}
	return cfg.Type == TypeMock || cfg.APIKey != ""
}

// NewRegistryFromConfig creates a registry with providers based on configuration.
// Only enabled providers with an API key will be registered.
func NewRegistryFromConfig(cfg RegistryConfig) *Registry {
	r := NewRegistry()
	r.Reload(cfg)
	return r
}

// Reload updates the registry based on new configuration.
// Providers that are no longer configured will be unregistered.
// Providers with changed settings will be re-registered.
func (r *Registry) Reload(cfg RegistryConfig) {
	r.mu.Lock()
	defer r.mu.Unlock()

	want := make(map[string]bool)

	for name, provCfg := range cfg.Providers {
		if !provCfg.usable() {
			continue
		}
		want[name] = true

		_, hasExisting := r.clients[name]
		if hasExisting && r.configs[name] == provCfg {
			continue
		}

		client, err := NewClient(provCfg)
		if err != nil {
			if r.logger != nil {
				r.logger.Warn("failed to create LLM client", "name", name, "type", provCfg.Type, "error", err)
			}
			continue
		}
		r.clients[name] = client
		r.configs[name] = provCfg
		if r.logger != nil {
			if hasExisting {
				r.logger.Info("updated LLM client", "name", name, "type", provCfg.Type)
			} else {
				r.logger.Info("registered LLM client", "name", name, "type", provCfg.Type)
			}
		}
	}

	// Remove providers that are no longer configured
	for name := range r.clients {
		if !want[name] {
			delete(r.clients, name)
			delete(r.configs, name)
			if r.logger != nil {
				r.logger.Info("unregistered LLM client", "name", name)
			}
		}
	}
}

// NewClient creates an LLM client based on provider type.
func NewClient(cfg ProviderConfig) (LLMClient, error) {
	switch cfg.Type {
	case TypeOpenAI, "":
		return NewOpenAIClient(OpenAIConfig{
			APIKey:       cfg.APIKey,
			DefaultModel: cfg.DefaultModel,
			MaxRetries:   cfg.MaxRetries,
			Timeout:      cfg.Timeout,
			BaseURL:      cfg.BaseURL,
		}), nil
	case TypeGemini:
		return NewGeminiClient(context.Background(), GeminiConfig{
			APIKey:       cfg.APIKey,
			DefaultModel: cfg.DefaultModel,
			Timeout:      cfg.Timeout,
			BaseURL:      cfg.BaseURL,
		})
	case TypeMock:
		return NewMockClient(), nil
	default:
		return nil, fmt.Errorf("unknown provider type %q", cfg.Type)
	}
}
