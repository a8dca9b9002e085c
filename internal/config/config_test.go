package config

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	configFile := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(configFile, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}
	return configFile
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	openai, ok := cfg.GetProvider("openai")
	if !ok {
		t.Fatal("expected default openai provider")
	}
	if openai.APIKey != "${OPENAI_API_KEY}" {
		t.Errorf("expected openai API key placeholder, got %q", openai.APIKey)
	}
	if openai.TimeoutSeconds != 120 || !openai.Enabled {
		t.Errorf("unexpected openai defaults: %+v", openai)
	}
	if _, ok := cfg.GetProvider("gemini"); !ok {
		t.Error("expected default gemini provider")
	}
	if cfg.Defaults.Provider != "openai" || cfg.Defaults.Model != "gpt-3.5-turbo" {
		t.Errorf("unexpected defaults: %+v", cfg.Defaults)
	}
	if cfg.Defaults.Temperature != 0 {
		t.Errorf("expected temperature 0, got %v", cfg.Defaults.Temperature)
	}
	if cfg.Run.Workers != 1 {
		t.Errorf("expected 1 worker, got %d", cfg.Run.Workers)
	}
	if cfg.Run.ResponseFormat != "none" {
		t.Errorf("expected none, got %q", cfg.Run.ResponseFormat)
	}
	if cfg.Run.Retry.Enabled {
		t.Error("retry should be off by default")
	}
	if cfg.Run.Retry.InitialDelay() != time.Second || cfg.Run.Retry.MaxDelay() != 30*time.Second {
		t.Errorf("unexpected retry delays: %+v", cfg.Run.Retry)
	}
	if cfg.Server.Addr() != "127.0.0.1:8501" {
		t.Errorf("unexpected server addr %q", cfg.Server.Addr())
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate: %v", err)
	}
}

func TestDefaultEntries(t *testing.T) {
	seen := make(map[string]bool)
	for _, e := range DefaultEntries() {
		if err := ValidateKey(e.Key); err != nil {
			t.Errorf("entry %q: %v", e.Key, err)
		}
		if e.Description == "" {
			t.Errorf("entry %q has no description", e.Key)
		}
		if seen[e.Key] {
			t.Errorf("duplicate entry %q", e.Key)
		}
		seen[e.Key] = true
	}

	for _, key := range []string{"defaults.model", "run.workers", "run.retry.enabled", "server.port", "log.level"} {
		if !seen[key] {
			t.Errorf("missing required key: %s", key)
		}
	}
}

func TestGetDefault(t *testing.T) {
	t.Run("known key", func(t *testing.T) {
		e, err := GetDefault("run.workers")
		if err != nil {
			t.Fatalf("GetDefault() error = %v", err)
		}
		if e.Value != 1 {
			t.Errorf("expected 1, got %v", e.Value)
		}
	})

	t.Run("unknown key", func(t *testing.T) {
		_, err := GetDefault("run.nothing")
		if !errors.Is(err, ErrNoDefault) {
			t.Errorf("expected ErrNoDefault, got %v", err)
		}
	})

	t.Run("invalid key", func(t *testing.T) {
		for _, key := range []string{"", ".run", "run.", "run workers"} {
			if _, err := GetDefault(key); !errors.Is(err, ErrInvalidKey) {
				t.Errorf("%q: expected ErrInvalidKey, got %v", key, err)
			}
		}
	})
}

func TestResolveEnvVars(t *testing.T) {
	t.Run("resolves environment variable", func(t *testing.T) {
		t.Setenv("TEST_API_KEY", "secret123")
		if result := ResolveEnvVars("${TEST_API_KEY}"); result != "secret123" {
			t.Errorf("expected secret123, got %s", result)
		}
	})

	t.Run("returns empty for missing env var", func(t *testing.T) {
		if result := ResolveEnvVars("${DEFINITELY_NOT_SET_12345}"); result != "" {
			t.Errorf("expected empty string, got %s", result)
		}
	})

	t.Run("leaves literal values unchanged", func(t *testing.T) {
		if result := ResolveEnvVars("literal-value"); result != "literal-value" {
			t.Errorf("expected literal-value, got %s", result)
		}
	})
}

func TestNewManager(t *testing.T) {
	t.Run("loads from config file", func(t *testing.T) {
		configFile := writeConfig(t, `
defaults:
  model: gpt-4o-mini
run:
  workers: 4
  retry:
    enabled: true
providers:
  local:
    type: mock
    enabled: true
`)
		mgr, err := NewManager(configFile)
		if err != nil {
			t.Fatalf("failed to create manager: %v", err)
		}

		cfg := mgr.Get()
		if cfg.Defaults.Model != "gpt-4o-mini" {
			t.Errorf("expected gpt-4o-mini, got %s", cfg.Defaults.Model)
		}
		if cfg.Defaults.Provider != "openai" {
			t.Errorf("unset keys should keep defaults, got provider %q", cfg.Defaults.Provider)
		}
		if cfg.Run.Workers != 4 || !cfg.Run.Retry.Enabled || cfg.Run.Retry.Attempts != 3 {
			t.Errorf("unexpected run config: %+v", cfg.Run)
		}
		if _, ok := cfg.GetProvider("local"); !ok {
			t.Error("expected configured provider")
		}
		if _, ok := cfg.GetProvider("openai"); !ok {
			t.Error("default providers should remain")
		}
		if mgr.ConfigFileUsed() != configFile {
			t.Errorf("ConfigFileUsed() = %q", mgr.ConfigFileUsed())
		}
	})

	t.Run("missing search path falls back to defaults", func(t *testing.T) {
		dir := t.TempDir()
		t.Chdir(dir)
		t.Setenv("HOME", dir)

		mgr, err := NewManager("")
		if err != nil {
			t.Fatalf("failed to create manager: %v", err)
		}
		if mgr.ConfigFileUsed() != "" {
			t.Errorf("expected no config file, got %q", mgr.ConfigFileUsed())
		}
		if !reflect.DeepEqual(mgr.Get(), DefaultConfig()) {
			t.Errorf("expected defaults, got %+v", mgr.Get())
		}
	})

	t.Run("environment overrides", func(t *testing.T) {
		t.Setenv("SHEETGPT_RUN_WORKERS", "6")
		t.Setenv("SHEETGPT_DEFAULTS_PROVIDER", "gemini")
		configFile := writeConfig(t, "run:\n  workers: 2\n")

		mgr, err := NewManager(configFile)
		if err != nil {
			t.Fatalf("failed to create manager: %v", err)
		}
		cfg := mgr.Get()
		if cfg.Run.Workers != 6 {
			t.Errorf("expected env override 6, got %d", cfg.Run.Workers)
		}
		if cfg.Defaults.Provider != "gemini" {
			t.Errorf("expected gemini, got %s", cfg.Defaults.Provider)
		}
	})

	t.Run("malformed file", func(t *testing.T) {
		configFile := writeConfig(t, "run: [unclosed\n")
		if _, err := NewManager(configFile); err == nil {
			t.Error("expected error for malformed config")
		}
	})

	t.Run("invalid values", func(t *testing.T) {
		configFile := writeConfig(t, "run:\n  response_format: xml\n")
		_, err := NewManager(configFile)
		if !errors.Is(err, ErrInvalidConfig) {
			t.Errorf("expected ErrInvalidConfig, got %v", err)
		}
	})
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"negative workers", func(c *Config) { c.Run.Workers = -1 }},
		{"negative max workers", func(c *Config) { c.Run.MaxWorkers = -1 }},
		{"workers above max", func(c *Config) { c.Run.Workers = 17 }},
		{"negative rate limit", func(c *Config) { c.Run.RateLimitRPM = -5 }},
		{"retry without attempts", func(c *Config) { c.Run.Retry = RetryCfg{Enabled: true} }},
		{"temperature too high", func(c *Config) { c.Defaults.Temperature = 3 }},
		{"unknown log format", func(c *Config) { c.Log.Format = "xml" }},
		{"port out of range", func(c *Config) { c.Server.Port = 70000 }},
		{"unknown provider type", func(c *Config) {
			c.Providers["other"] = ProviderCfg{Type: "anthropic"}
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			if err := cfg.Validate(); !errors.Is(err, ErrInvalidConfig) {
				t.Errorf("expected ErrInvalidConfig, got %v", err)
			}
		})
	}
}

func TestRunCfg_ClampWorkers(t *testing.T) {
	r := RunCfg{MaxWorkers: 8}
	if got := r.ClampWorkers(100); got != 8 {
		t.Errorf("ClampWorkers(100) = %d, want 8", got)
	}
	if got := r.ClampWorkers(3); got != 3 {
		t.Errorf("ClampWorkers(3) = %d, want 3", got)
	}
	if got := (RunCfg{}).ClampWorkers(100); got != 100 {
		t.Errorf("uncapped ClampWorkers(100) = %d", got)
	}
}

func TestManager_Set(t *testing.T) {
	mgr, err := NewManager(writeConfig(t, "run:\n  workers: 2\n"))
	if err != nil {
		t.Fatalf("failed to create manager: %v", err)
	}

	if err := mgr.Set("run.workers", 8); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if mgr.Get().Run.Workers != 8 {
		t.Errorf("expected 8, got %d", mgr.Get().Run.Workers)
	}

	var notified int
	mgr.OnChange(func(c *Config) { notified = c.Run.Workers })
	if err := mgr.Set("run.workers", 4); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if notified != 4 {
		t.Errorf("OnChange saw workers=%d, want 4", notified)
	}

	if err := mgr.Set("run.workers", -1); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("expected ErrInvalidConfig, got %v", err)
	}
	if err := mgr.Set("run.rate_limit_rpm", 60); err != nil {
		t.Errorf("invalid value was not reverted: %v", err)
	}
	if mgr.Get().Run.Workers != 4 {
		t.Errorf("expected workers to stay 4, got %d", mgr.Get().Run.Workers)
	}
	if err := mgr.Set("bad key", 1); !errors.Is(err, ErrInvalidKey) {
		t.Errorf("expected ErrInvalidKey, got %v", err)
	}
}

func TestConfig_ToRegistryConfig(t *testing.T) {
	t.Setenv("TEST_OPENAI_KEY", "sk-123")

	cfg := &Config{
		Providers: map[string]ProviderCfg{
			"openai": {Type: "openai", APIKey: "${TEST_OPENAI_KEY}", Model: "gpt-4o", TimeoutSeconds: 30, MaxRetries: 1, Enabled: true},
			"local":  {Type: "mock", APIKey: "direct-key", BaseURL: "http://localhost:1234"},
		},
	}

	rc := cfg.ToRegistryConfig()
	openai := rc.Providers["openai"]
	if openai.APIKey != "sk-123" {
		t.Errorf("expected resolved key, got %q", openai.APIKey)
	}
	if openai.Timeout != 30*time.Second || openai.DefaultModel != "gpt-4o" || openai.MaxRetries != 1 || !openai.Enabled {
		t.Errorf("unexpected provider config: %+v", openai)
	}
	local := rc.Providers["local"]
	if local.APIKey != "direct-key" || local.BaseURL != "http://localhost:1234" || local.Enabled {
		t.Errorf("unexpected provider config: %+v", local)
	}
}

func TestConfig_Redacted(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Providers["local"] = ProviderCfg{Type: "openai", APIKey: "sk-abcdefghijklmnop"}
	cfg.Providers["short"] = ProviderCfg{Type: "openai", APIKey: "abc"}

	red := cfg.Redacted()
	if got := red.Providers["local"].APIKey; got != "sk-a...mnop" {
		t.Errorf("expected masked key, got %q", got)
	}
	if got := red.Providers["short"].APIKey; got != "****" {
		t.Errorf("expected fully masked key, got %q", got)
	}
	if got := red.Providers["openai"].APIKey; got != "${OPENAI_API_KEY}" {
		t.Errorf("env references should stay visible, got %q", got)
	}
	if cfg.Providers["local"].APIKey != "sk-abcdefghijklmnop" {
		t.Error("Redacted must not modify the original")
	}
}

func TestWriteDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	if err := WriteDefault(path); err != nil {
		t.Fatalf("WriteDefault() error = %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(string(data), "# sheetgpt configuration") {
		t.Error("expected header comment")
	}

	mgr, err := NewManager(path)
	if err != nil {
		t.Fatalf("failed to load written config: %v", err)
	}
	if !reflect.DeepEqual(mgr.Get(), DefaultConfig()) {
		t.Errorf("round trip mismatch:\n got %+v\nwant %+v", mgr.Get(), DefaultConfig())
	}
}

func TestManager_Reload(t *testing.T) {
	configFile := writeConfig(t, "run:\n  workers: 2\n")
	mgr, err := NewManager(configFile)
	if err != nil {
		t.Fatalf("failed to create manager: %v", err)
	}

	var got []int
	mgr.OnChange(func(cfg *Config) { got = append(got, cfg.Run.Workers) })

	if err := os.WriteFile(configFile, []byte("run:\n  workers: 5\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := mgr.v.ReadInConfig(); err != nil {
		t.Fatal(err)
	}
	mgr.reload(configFile)

	if mgr.Get().Run.Workers != 5 {
		t.Errorf("expected 5, got %d", mgr.Get().Run.Workers)
	}

	t.Run("invalid edit keeps previous config", func(t *testing.T) {
		if err := os.WriteFile(configFile, []byte("run:\n  workers: -3\n"), 0644); err != nil {
			t.Fatal(err)
		}
		if err := mgr.v.ReadInConfig(); err != nil {
			t.Fatal(err)
		}
		mgr.reload(configFile)
		if mgr.Get().Run.Workers != 5 {
			t.Errorf("expected previous value 5, got %d", mgr.Get().Run.Workers)
		}
	})

	if !reflect.DeepEqual(got, []int{5}) {
		t.Errorf("callbacks saw %v, want [5]", got)
	}
}

func TestManager_Get_ThreadSafe(t *testing.T) {
	mgr, err := NewManager(writeConfig(t, "run:\n  workers: 2\n"))
	if err != nil {
		t.Fatalf("failed to create manager: %v", err)
	}

	done := make(chan struct{})
	for i := 0; i < 10; i++ {
		go func() {
			for j := 0; j < 100; j++ {
				_ = mgr.Get().Run.Workers
			}
			done <- struct{}{}
		}()
	}
	for i := 0; i < 10; i++ {
		<-done
	}
}

func TestManager_WatchConfig(t *testing.T) {
	configFile := writeConfig(t, "defaults:\n  model: initial-model\n")

	mgr, err := NewManager(configFile)
	if err != nil {
		t.Fatalf("failed to create manager: %v", err)
	}
	if got := mgr.Get().Defaults.Model; got != "initial-model" {
		t.Errorf("initial value mismatch: got %s", got)
	}

	var callbackCount atomic.Int32
	var lastValue atomic.Value
	mgr.OnChange(func(cfg *Config) {
		callbackCount.Add(1)
		lastValue.Store(cfg.Defaults.Model)
	})

	mgr.WatchConfig()

	// Give fsnotify time to set up the watcher
	time.Sleep(100 * time.Millisecond)

	if err := os.WriteFile(configFile, []byte("defaults:\n  model: updated-model\n"), 0644); err != nil {
		t.Fatalf("failed to write updated config file: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if callbackCount.Load() > 0 {
			break
		}
		time.Sleep(50 * time.Millisecond)
	}

	if callbackCount.Load() == 0 {
		t.Fatal("callback was not invoked after config file change")
	}
	if got := mgr.Get().Defaults.Model; got != "updated-model" {
		t.Errorf("config not updated: got %s", got)
	}
	if v := lastValue.Load(); v != "updated-model" {
		t.Errorf("callback received wrong value: %v", v)
	}
}
