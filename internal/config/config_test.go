package config

import (
	"strings"
	"testing"
	"time"
)

func TestLoad_valid(t *testing.T) {
	cfg, err := Load("testdata/valid.yaml")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 9090 {
		t.Errorf("Server.Port = %d, want 9090", cfg.Server.Port)
	}
	if cfg.Server.ReadTimeout != 15*time.Second {
		t.Errorf("Server.ReadTimeout = %v, want 15s", cfg.Server.ReadTimeout)
	}
	if cfg.Server.WriteTimeout != 30*time.Second {
		t.Errorf("Server.WriteTimeout = %v, want default 30s", cfg.Server.WriteTimeout)
	}
	if cfg.Engine.MaxContextDepth != 2 {
		t.Errorf("Engine.MaxContextDepth = %d, want 2", cfg.Engine.MaxContextDepth)
	}
	if cfg.Engine.StrictExpressions {
		t.Error("Engine.StrictExpressions = true, want false")
	}
	if cfg.Engine.ChainLimit != 20 {
		t.Errorf("Engine.ChainLimit = %d, want 20", cfg.Engine.ChainLimit)
	}
	if cfg.Actions.Webhook.Timeout != 3*time.Second {
		t.Errorf("Actions.Webhook.Timeout = %v, want 3s", cfg.Actions.Webhook.Timeout)
	}
	if cb := cfg.Actions.Webhook.CircuitBreaker; cb.FailureThreshold != 2 || cb.SuccessThreshold != 2 {
		t.Errorf("Actions.Webhook.CircuitBreaker = %+v, want failure 2 and default success 2", cb)
	}
	if cfg.DataStore.Driver != "postgres" || cfg.DataStore.DSNEnv != "RUNS_DSN" {
		t.Errorf("DataStore = %+v", cfg.DataStore)
	}
	if cfg.Entities.SeedFile != "seeds/crm.yaml" {
		t.Errorf("Entities.SeedFile = %q", cfg.Entities.SeedFile)
	}
	if cfg.Entities.Cache.TTL != 10*time.Second {
		t.Errorf("Entities.Cache.TTL = %v, want 10s", cfg.Entities.Cache.TTL)
	}
	if len(cfg.Definitions.Directories) != 2 {
		t.Errorf("Definitions.Directories = %v, want 2 entries", cfg.Definitions.Directories)
	}
	if !cfg.Observability.Tracing.Enabled || cfg.Observability.Tracing.Exporter != "stdout" {
		t.Errorf("Tracing = %+v", cfg.Observability.Tracing)
	}
}

func TestLoad_missing_file(t *testing.T) {
	_, err := Load("testdata/nonexistent.yaml")
	if err == nil {
		t.Fatal("Load() with missing file should return error")
	}
}

func TestLoad_bad_drivers(t *testing.T) {
	_, err := Load("testdata/bad_driver.yaml")
	if err == nil {
		t.Fatal("Load() with unsupported drivers should return error")
	}
	msg := err.Error()
	for _, want := range []string{
		`datastore.driver "sqlite" is not supported`,
		"entities.dsn_env is required",
	} {
		if !strings.Contains(msg, want) {
			t.Errorf("error %q does not mention %q", msg, want)
		}
	}
}

func TestDefaults(t *testing.T) {
	cfg := Defaults()
	if cfg.Server.Port != 8080 {
		t.Errorf("default Server.Port = %d, want 8080", cfg.Server.Port)
	}
	if cfg.Engine.MaxContextDepth != 3 {
		t.Errorf("default Engine.MaxContextDepth = %d, want 3", cfg.Engine.MaxContextDepth)
	}
	if !cfg.Engine.StrictExpressions {
		t.Error("default Engine.StrictExpressions = false, want true")
	}
	if cfg.Engine.ChainLimit != 50 {
		t.Errorf("default Engine.ChainLimit = %d, want 50", cfg.Engine.ChainLimit)
	}
	if cfg.Observability.LogLevel != "info" {
		t.Errorf("default LogLevel = %q, want info", cfg.Observability.LogLevel)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults should validate, got %v", err)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("FLOWBASE_SERVER_PORT", "3000")
	t.Setenv("FLOWBASE_ENGINE_MAX_CONTEXT_DEPTH", "5")
	t.Setenv("FLOWBASE_ENGINE_STRICT_EXPRESSIONS", "true")
	t.Setenv("FLOWBASE_ENTITIES_SEED_FILE", "/seed.yaml")
	t.Setenv("FLOWBASE_OBSERVABILITY_LOG_LEVEL", "error")

	cfg, err := Load("testdata/valid.yaml")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 3000 {
		t.Errorf("Server.Port = %d, want 3000 (env override)", cfg.Server.Port)
	}
	if cfg.Engine.MaxContextDepth != 5 {
		t.Errorf("Engine.MaxContextDepth = %d, want 5 (env override)", cfg.Engine.MaxContextDepth)
	}
	if !cfg.Engine.StrictExpressions {
		t.Error("Engine.StrictExpressions = false, want env override true")
	}
	if cfg.Entities.SeedFile != "/seed.yaml" {
		t.Errorf("Entities.SeedFile = %q, want env override", cfg.Entities.SeedFile)
	}
	if cfg.Observability.LogLevel != "error" {
		t.Errorf("LogLevel = %q, want error (env override)", cfg.Observability.LogLevel)
	}
}

func TestEnvOverrides_ignoresUnparseable(t *testing.T) {
	t.Setenv("FLOWBASE_SERVER_PORT", "eighty")

	cfg, err := Load("testdata/valid.yaml")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Port != 9090 {
		t.Errorf("Server.Port = %d, want file value 9090", cfg.Server.Port)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"port zero", func(c *Config) { c.Server.Port = 0 }, "server.port"},
		{"negative depth", func(c *Config) { c.Engine.MaxContextDepth = -1 }, "max_context_depth"},
		{"chain limit", func(c *Config) { c.Engine.ChainLimit = 0 }, "chain_limit"},
		{"webhook timeout", func(c *Config) { c.Actions.Webhook.Timeout = 0 }, "actions.webhook.timeout"},
		{"cache ttl", func(c *Config) { c.Entities.Cache.TTL = 0 }, "entities.cache.ttl"},
		{"no directories", func(c *Config) { c.Definitions.Directories = nil }, "definitions.directories"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("Validate() should return error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q does not mention %q", err, tt.want)
			}
		})
	}
}

func TestValidate_joinsAllProblems(t *testing.T) {
	cfg := Defaults()
	cfg.Server.Port = 70000
	cfg.Engine.ChainLimit = -3

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate() should return error")
	}
	if got := strings.Count(err.Error(), "; "); got != 1 {
		t.Errorf("error %q should join two problems", err)
	}
}
