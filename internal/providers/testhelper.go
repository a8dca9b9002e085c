package providers

import (
	"context"
	"os"
)

// TestConfig holds provider API keys loaded from environment variables, so
// live tests can run against real backends when keys are present.
type TestConfig struct {
	OpenAIAPIKey string
	GeminiAPIKey string
}

// LoadTestConfig loads provider API keys from environment variables.
// Returns a TestConfig with whatever keys are available.
func LoadTestConfig() TestConfig {
	return TestConfig{
		OpenAIAPIKey: os.Getenv("OPENAI_API_KEY"),
		GeminiAPIKey: os.Getenv("GEMINI_API_KEY"),
	}
}

// HasOpenAI returns true if an OpenAI API key is configured.
func (c TestConfig) HasOpenAI() bool {
	return c.OpenAIAPIKey != ""
}

// HasGemini returns true if a Gemini API key is configured.
func (c TestConfig) HasGemini() bool {
	return c.GeminiAPIKey != ""
}

// HasAnyLLM returns true if any provider is configured.
func (c TestConfig) HasAnyLLM() bool {
	return c.HasOpenAI() || c.HasGemini()
}

// NewOpenAIClient creates an OpenAI client from test config.
// Returns nil if not configured.
func (c TestConfig) NewOpenAIClient() *OpenAIClient {
	if !c.HasOpenAI() {
		return nil
	}
	return NewOpenAIClient(OpenAIConfig{APIKey: c.OpenAIAPIKey})
}

// NewGeminiClient creates a Gemini client from test config.
// Returns nil if not configured or the client cannot be built.
func (c TestConfig) NewGeminiClient(ctx context.Context) *GeminiClient {
	if !c.HasGemini() {
		return nil
	}
	client, err := NewGeminiClient(ctx, GeminiConfig{APIKey: c.GeminiAPIKey})
	if err != nil {
		return nil
	}
	return client
}

// ToRegistryConfig converts test config to a RegistryConfig for the provider registry.
// Only includes providers that have API keys configured.
func (c TestConfig) ToRegistryConfig() RegistryConfig {
	cfg := RegistryConfig{Providers: make(map[string]ProviderConfig)}

	if c.HasOpenAI() {
		cfg.Providers[TypeOpenAI] = ProviderConfig{
			Type:    TypeOpenAI,
			APIKey:  c.OpenAIAPIKey,
			Enabled: true,
		}
	}
	if c.HasGemini() {
		cfg.Providers[TypeGemini] = ProviderConfig{
			Type:    TypeGemini,
			APIKey:  c.GeminiAPIKey,
			Enabled: true,
		}
	}

	return cfg
}
