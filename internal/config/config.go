// Package config loads and validates application configuration from YAML files
// and environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root application configuration.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Engine        EngineConfig        `yaml:"engine"`
	Actions       ActionsConfig       `yaml:"actions"`
	DataStore     DataStoreConfig     `yaml:"datastore"`
	Entities      EntitiesConfig      `yaml:"entities"`
	Definitions   DefinitionsConfig   `yaml:"definitions"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// ServerConfig describes HTTP server settings.
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	HandlerTimeout  time.Duration `yaml:"handler_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	MaxBodyBytes    int64         `yaml:"max_body_bytes"`
}

// EngineConfig describes expression, template and node execution settings.
type EngineConfig struct {
	MaxContextDepth   int  `yaml:"max_context_depth"`
	StrictExpressions bool `yaml:"strict_expressions"`
	ChainLimit        int  `yaml:"chain_limit"`
}

// ActionsConfig describes the built-in action handlers.
type ActionsConfig struct {
	Webhook WebhookConfig `yaml:"webhook"`
}

// WebhookConfig describes the outbound HTTP action.
type WebhookConfig struct {
	Timeout          time.Duration        `yaml:"timeout"`
	MaxResponseBytes int64                `yaml:"max_response_bytes"`
	CircuitBreaker   CircuitBreakerConfig `yaml:"circuit_breaker"`
}

// CircuitBreakerConfig describes circuit breaker settings per webhook host.
type CircuitBreakerConfig struct {
	FailureThreshold int           `yaml:"failure_threshold"`
	SuccessThreshold int           `yaml:"success_threshold"`
	Timeout          time.Duration `yaml:"timeout"`
}

// DataStoreConfig describes where workflow run state is persisted.
type DataStoreConfig struct {
	Driver          string        `yaml:"driver"`
	DSNEnv          string        `yaml:"dsn_env"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

// EntitiesConfig describes the entity lookup collaborator.
type EntitiesConfig struct {
	Driver   string      `yaml:"driver"`
	DSNEnv   string      `yaml:"dsn_env"`
	SeedFile string      `yaml:"seed_file"`
	Cache    CacheConfig `yaml:"cache"`
}

// CacheConfig describes cache settings.
type CacheConfig struct {
	Enabled         bool          `yaml:"enabled"`
	TTL             time.Duration `yaml:"ttl"`
	CleanupInterval time.Duration `yaml:"cleanup_interval"`
}

// DefinitionsConfig describes where to find workflow definition YAML files.
type DefinitionsConfig struct {
	Directories []string `yaml:"directories"`
}

// ObservabilityConfig describes logging, tracing, and metrics settings.
type ObservabilityConfig struct {
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
	// RedactFields adds payload keys masked in debug logs.
	RedactFields []string      `yaml:"redact_fields"`
	Tracing      TracingConfig `yaml:"tracing"`
	Metrics      MetricsConfig `yaml:"metrics"`
}

// TracingConfig describes distributed tracing settings.
type TracingConfig struct {
	Enabled      bool    `yaml:"enabled"`
	Exporter     string  `yaml:"exporter"`
	Endpoint     string  `yaml:"endpoint"`
	SamplingRate float64 `yaml:"sampling_rate"`
}

// MetricsConfig describes Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// Defaults returns a Config with sensible default values.
func Defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			HandlerTimeout:  25 * time.Second,
			ShutdownTimeout: 30 * time.Second,
			MaxBodyBytes:    1 << 20,
		},
		Engine: EngineConfig{
			MaxContextDepth:   3,
			StrictExpressions: true,
			ChainLimit:        50,
		},
		Actions: ActionsConfig{
			Webhook: WebhookConfig{
				Timeout:          10 * time.Second,
				MaxResponseBytes: 1 << 20,
				CircuitBreaker: CircuitBreakerConfig{
					FailureThreshold: 5,
					SuccessThreshold: 2,
					Timeout:          30 * time.Second,
				},
			},
		},
		DataStore: DataStoreConfig{
			Driver:          "memory",
			DSNEnv:          "FLOWBASE_DATABASE_URL",
			MaxOpenConns:    10,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Entities: EntitiesConfig{
			Driver: "memory",
			DSNEnv: "FLOWBASE_DATABASE_URL",
			Cache: CacheConfig{
				Enabled:         true,
				TTL:             30 * time.Second,
				CleanupInterval: time.Minute,
			},
		},
		Definitions: DefinitionsConfig{
			Directories: []string{"/definitions"},
		},
		Observability: ObservabilityConfig{
			LogLevel:  "info",
			LogFormat: "json",
			Tracing: TracingConfig{
				Exporter:     "otlp",
				SamplingRate: 0.1,
			},
			Metrics: MetricsConfig{
				Enabled: true,
				Path:    "/metrics",
			},
		},
	}
}

// Load reads a YAML config file, applies environment variable overrides,
// and validates required fields.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: validation: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required fields are present and valid.
func (c *Config) Validate() error {
	var errs []string

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, "server.port must be between 1 and 65535")
	}
	if c.Engine.MaxContextDepth < 0 {
		errs = append(errs, "engine.max_context_depth must not be negative")
	}
	if c.Engine.ChainLimit < 1 {
		errs = append(errs, "engine.chain_limit must be at least 1")
	}
	if c.Actions.Webhook.Timeout <= 0 {
		errs = append(errs, "actions.webhook.timeout must be positive")
	}
	if !validDriver(c.DataStore.Driver) {
		errs = append(errs, fmt.Sprintf("datastore.driver %q is not supported (memory, postgres)", c.DataStore.Driver))
	}
	if !validDriver(c.Entities.Driver) {
		errs = append(errs, fmt.Sprintf("entities.driver %q is not supported (memory, postgres)", c.Entities.Driver))
	}
	if c.Entities.Driver == "postgres" && c.Entities.DSNEnv == "" {
		errs = append(errs, "entities.dsn_env is required for the postgres driver")
	}
	if c.DataStore.Driver == "postgres" && c.DataStore.DSNEnv == "" {
		errs = append(errs, "datastore.dsn_env is required for the postgres driver")
	}
	if c.Entities.Cache.Enabled && c.Entities.Cache.TTL <= 0 {
		errs = append(errs, "entities.cache.ttl must be positive when the cache is enabled")
	}
	if f := c.Observability.LogFormat; f != "" && f != "json" && f != "console" {
		errs = append(errs, fmt.Sprintf("observability.log_format %q is not supported (json, console)", f))
	}
	if len(c.Definitions.Directories) == 0 {
		errs = append(errs, "definitions.directories must list at least one directory")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

func validDriver(d string) bool {
	return d == "memory" || d == "postgres"
}

// applyEnvOverrides reads FLOWBASE_* environment variables and overrides
// config values. Only the most commonly overridden fields are supported.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("FLOWBASE_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("FLOWBASE_ENGINE_MAX_CONTEXT_DEPTH"); v != "" {
		if depth, err := strconv.Atoi(v); err == nil {
			cfg.Engine.MaxContextDepth = depth
		}
	}
	if v := os.Getenv("FLOWBASE_ENGINE_STRICT_EXPRESSIONS"); v != "" {
		if strict, err := strconv.ParseBool(v); err == nil {
			cfg.Engine.StrictExpressions = strict
		}
	}
	if v := os.Getenv("FLOWBASE_DATASTORE_DRIVER"); v != "" {
		cfg.DataStore.Driver = v
	}
	if v := os.Getenv("FLOWBASE_ENTITIES_DRIVER"); v != "" {
		cfg.Entities.Driver = v
	}
	if v := os.Getenv("FLOWBASE_ENTITIES_SEED_FILE"); v != "" {
		cfg.Entities.SeedFile = v
	}
	if v := os.Getenv("FLOWBASE_OBSERVABILITY_LOG_LEVEL"); v != "" {
		cfg.Observability.LogLevel = v
	}
}
