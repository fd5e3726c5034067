package config

import (
	"testing"
	"time"
)

func baseConfig() Config {
	return Config{
		LogLevel:        "info",
		APIPort:         8080,
		DataDir:         "data",
		Store:           StoreMemory,
		ExprCacheSize:   1000,
		ScriptTimeout:   time.Second,
		HistoryMaxLines: 1000,
		ShutdownTimeout: 5 * time.Second,
		NATSPrefix:      "weir",
	}
}

func TestLoadFromEnvDefaults(t *testing.T) {
	for _, k := range []string{"WEIR_LOG_LEVEL", "WEIR_API_PORT", "WEIR_DATA_DIR", "WEIR_STORE", "WEIR_EXPR_CACHE_SIZE",
		"WEIR_SCRIPT_TIMEOUT_MS", "WEIR_HISTORY_MAX_LINES", "WEIR_SHUTDOWN_TIMEOUT_SECONDS", "NATS_URL", "WEIR_NATS_PREFIX", "WEIR_NATS_DURABLE"} {
		t.Setenv(k, "")
	}
	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg != baseConfig() {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
	if cfg.Addr() != ":8080" {
		t.Fatalf("unexpected addr %q", cfg.Addr())
	}
}

func TestLoadFromEnvOverrides(t *testing.T) {
	t.Setenv("WEIR_API_PORT", "9090")
	t.Setenv("WEIR_STORE", "file")
	t.Setenv("WEIR_SCRIPT_TIMEOUT_MS", "250")
	t.Setenv("NATS_URL", "nats://127.0.0.1:4222")
	t.Setenv("WEIR_NATS_DURABLE", "true")
	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.APIPort != 9090 || cfg.Store != StoreFile || cfg.ScriptTimeout != 250*time.Millisecond || cfg.NATSURL == "" || !cfg.NATSDurable {
		t.Fatalf("overrides not applied: %+v", cfg)
	}
}

func TestLoadFromEnvRejectsBadValues(t *testing.T) {
	t.Setenv("WEIR_EXPR_CACHE_SIZE", "lots")
	if _, err := LoadFromEnv(); err == nil {
		t.Fatal("expected parse error")
	}
	t.Setenv("WEIR_EXPR_CACHE_SIZE", "")
	t.Setenv("WEIR_NATS_DURABLE", "maybe")
	if _, err := LoadFromEnv(); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestValidate(t *testing.T) {
	if err := baseConfig().Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"log level", func(c *Config) { c.LogLevel = "trace" }},
		{"port", func(c *Config) { c.APIPort = 0 }},
		{"store", func(c *Config) { c.Store = "redis" }},
		{"file store without dir", func(c *Config) { c.Store = StoreFile; c.DataDir = "" }},
		{"cache size", func(c *Config) { c.ExprCacheSize = 0 }},
		{"script timeout", func(c *Config) { c.ScriptTimeout = 0 }},
		{"history", func(c *Config) { c.HistoryMaxLines = -1 }},
		{"nats prefix", func(c *Config) { c.NATSURL = "nats://x"; c.NATSPrefix = "" }},
	}
	for _, tt := range tests {
		cfg := baseConfig()
		tt.mutate(&cfg)
		if err := cfg.Validate(); err == nil {
			t.Errorf("%s: expected validation error", tt.name)
		}
	}
}
