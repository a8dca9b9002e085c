package config

import (
	"errors"
	"fmt"
	"strings"
	"unicode"

	"github.com/spf13/viper"
)

var (
	// ErrNoDefault is returned when no default value exists for a config key.
	ErrNoDefault = errors.New("no default exists")
	// ErrInvalidKey is returned for malformed config keys.
	ErrInvalidKey = errors.New("invalid config key")
)

// Entry is one documented configuration key and its default value.
type Entry struct {
	Key         string `json:"key" yaml:"key"`
	Value       any    `json:"value" yaml:"value"`
	Description string `json:"description" yaml:"description"`
}

// DefaultEntries returns every known configuration key with its default.
// They are applied as viper defaults and listed by `sheetgpt config keys`.
func DefaultEntries() []Entry {
	return []Entry{
		// Providers - OpenAI
		{Key: "providers.openai.type", Value: "openai", Description: "Provider type for OpenAI"},
		{Key: "providers.openai.api_key", Value: "${OPENAI_API_KEY}", Description: "OpenAI API key (uses environment variable)"},
		{Key: "providers.openai.base_url", Value: "", Description: "Override the OpenAI API endpoint (compatible servers)"},
		{Key: "providers.openai.model", Value: "gpt-3.5-turbo", Description: "Model used when the run does not name one"},
		{Key: "providers.openai.timeout_seconds", Value: 120, Description: "HTTP timeout in seconds for OpenAI requests"},
		{Key: "providers.openai.max_retries", Value: 2, Description: "SDK retry attempts for failed OpenAI requests"},
		{Key: "providers.openai.enabled", Value: true, Description: "Whether the OpenAI provider is enabled"},

		// Providers - Gemini
		{Key: "providers.gemini.type", Value: "gemini", Description: "Provider type for Google Gemini"},
		{Key: "providers.gemini.api_key", Value: "${GEMINI_API_KEY}", Description: "Gemini API key (uses environment variable)"},
		{Key: "providers.gemini.base_url", Value: "", Description: "Override the Gemini API endpoint"},
		{Key: "providers.gemini.model", Value: "gemini-2.0-flash", Description: "Model used when the run does not name one"},
		{Key: "providers.gemini.timeout_seconds", Value: 120, Description: "HTTP timeout in seconds for Gemini requests"},
		{Key: "providers.gemini.max_retries", Value: 0, Description: "Unused for Gemini; retries are handled by run.retry"},
		{Key: "providers.gemini.enabled", Value: true, Description: "Whether the Gemini provider is enabled"},

		// Defaults
		{Key: "defaults.provider", Value: "openai", Description: "Provider used when none is selected"},
		{Key: "defaults.model", Value: "gpt-3.5-turbo", Description: "Model used when none is selected"},
		{Key: "defaults.temperature", Value: 0.0, Description: "Sampling temperature sent with every request"},

		// Run
		{Key: "run.workers", Value: 1, Description: "Concurrent requests per run (1 sends rows one at a time)"},
		{Key: "run.max_workers", Value: 16, Description: "Upper bound on workers a run may request (0 disables the cap)"},
		{Key: "run.rate_limit_rpm", Value: 0, Description: "Requests per minute across a run (0 disables pacing)"},
		{Key: "run.request_timeout_seconds", Value: 0, Description: "Per-row timeout including retries (0 disables)"},
		{Key: "run.response_format", Value: "none", Description: "Native structured output: none (format in the prompt only), json_object or json_schema (needs a model with structured output support)"},
		{Key: "run.prompt_template", Value: "", Description: "Prompt template override (empty uses the built-in template)"},
		{Key: "run.retry.enabled", Value: false, Description: "Retry rate-limited and unavailable requests"},
		{Key: "run.retry.attempts", Value: 3, Description: "Total attempts per row when retry is enabled"},
		{Key: "run.retry.initial_delay_ms", Value: 1000, Description: "First retry delay in milliseconds"},
		{Key: "run.retry.max_delay_seconds", Value: 30, Description: "Upper bound on retry delay in seconds"},

		// Server
		{Key: "server.host", Value: "127.0.0.1", Description: "Address the API server binds to"},
		{Key: "server.port", Value: 8501, Description: "Port the API server listens on"},

		// Logging
		{Key: "log.level", Value: "info", Description: "Log level: debug, info, warn or error"},
		{Key: "log.format", Value: "text", Description: "Log format: text or json"},
	}
}

// GetDefault returns the entry for key.
func GetDefault(key string) (*Entry, error) {
	if err := ValidateKey(key); err != nil {
		return nil, err
	}
	for _, entry := range DefaultEntries() {
		if entry.Key == key {
			return &entry, nil
		}
	}
	return nil, fmt.Errorf("%w for key %q", ErrNoDefault, key)
}

// ValidateKey checks that a config key has a valid format.
// Valid keys contain alphanumeric characters, dots, underscores and hyphens.
func ValidateKey(key string) error {
	if key == "" {
		return fmt.Errorf("%w: key cannot be empty", ErrInvalidKey)
	}
	for i, r := range key {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '.' && r != '_' && r != '-' {
			return fmt.Errorf("%w: invalid character %q at position %d", ErrInvalidKey, r, i)
		}
	}
	if strings.HasPrefix(key, ".") || strings.HasSuffix(key, ".") {
		return fmt.Errorf("%w: key cannot start or end with a dot", ErrInvalidKey)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	for _, e := range DefaultEntries() {
		v.SetDefault(e.Key, e.Value)
	}
}

// DefaultConfig returns the configuration built from DefaultEntries alone.
func DefaultConfig() *Config {
	v := viper.New()
	setDefaults(v)
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		panic(fmt.Sprintf("config: defaults do not decode: %v", err))
	}
	return &cfg
}
