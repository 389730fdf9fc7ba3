// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/absmach/fluxgate/ratelimit"
	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "FLUXGATE_"

// Hook types.
const (
	HookNoop     = "noop"
	HookRegistry = "registry"
)

// Storage types.
const (
	StorageMemory = "memory"
	StorageBadger = "badger"
)

// Config holds all configuration for the gateway.
type Config struct {
	Gateway   GatewayConfig          `yaml:"gateway" envPrefix:"GATEWAY_"`
	Log       LogConfig              `yaml:"log" envPrefix:"LOG_"`
	Hook      HookConfig             `yaml:"hook" envPrefix:"HOOK_"`
	Aliases   map[string]AliasConfig `yaml:"aliases"`
	Storage   StorageConfig          `yaml:"storage" envPrefix:"STORAGE_"`
	Health    HealthConfig           `yaml:"health" envPrefix:"HEALTH_"`
	Telemetry TelemetryConfig        `yaml:"telemetry" envPrefix:"TELEMETRY_"`
	RateLimit ratelimit.Config       `yaml:"rate_limit" envPrefix:"RATE_LIMIT_"`
	Webhook   WebhookConfig          `yaml:"webhook" envPrefix:"WEBHOOK_"`
}

// GatewayConfig holds the hook dispatcher settings.
type GatewayConfig struct {
	InstanceID   string        `yaml:"instance_id" env:"INSTANCE_ID"`
	MaxHookCalls int64         `yaml:"max_hook_calls" env:"MAX_HOOK_CALLS"` // concurrent hook calls
	HookTimeout  time.Duration `yaml:"hook_timeout" env:"HOOK_TIMEOUT"`
	HookCacheTTL time.Duration `yaml:"hook_cache_ttl" env:"HOOK_CACHE_TTL"` // 0 disables caching of hook resolved aliases
	DrainTimeout time.Duration `yaml:"drain_timeout" env:"DRAIN_TIMEOUT"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level  string `yaml:"level" env:"LEVEL"`   // debug, info, warn, error
	Format string `yaml:"format" env:"FORMAT"` // text, json
}

// HookConfig selects the hook implementation.
type HookConfig struct {
	Type      string `yaml:"type" env:"TYPE"` // noop, registry
	ConfigDir string `yaml:"config_dir" env:"CONFIG_DIR"`
}

// StorageConfig holds the alias store configuration used by the registry hook.
type StorageConfig struct {
	Type      string `yaml:"type" env:"TYPE"` // memory, badger
	BadgerDir string `yaml:"badger_dir" env:"BADGER_DIR"`
}

// HealthConfig holds the health check server configuration.
type HealthConfig struct {
	Enabled         bool          `yaml:"enabled" env:"ENABLED"`
	Addr            string        `yaml:"addr" env:"ADDR"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
}

// TelemetryConfig holds OpenTelemetry configuration.
type TelemetryConfig struct {
	MetricsEnabled  bool          `yaml:"metrics_enabled" env:"METRICS_ENABLED"`
	TracesEnabled   bool          `yaml:"traces_enabled" env:"TRACES_ENABLED"`
	Endpoint        string        `yaml:"endpoint" env:"ENDPOINT"` // OTLP gRPC collector
	Insecure        bool          `yaml:"insecure" env:"INSECURE"`
	ServiceName     string        `yaml:"service_name" env:"SERVICE_NAME"`
	ServiceVersion  string        `yaml:"service_version" env:"SERVICE_VERSION"`
	TraceSampleRate float64       `yaml:"trace_sample_rate" env:"TRACE_SAMPLE_RATE"`
	ExportInterval  time.Duration `yaml:"export_interval" env:"EXPORT_INTERVAL"`
}

// WebhookConfig holds webhook notification configuration.
type WebhookConfig struct {
	Enabled         bool              `yaml:"enabled" env:"ENABLED"`
	QueueSize       int               `yaml:"queue_size" env:"QUEUE_SIZE"`
	DropPolicy      string            `yaml:"drop_policy" env:"DROP_POLICY"` // "oldest" or "newest"
	Workers         int               `yaml:"workers" env:"WORKERS"`
	IncludePayload  bool              `yaml:"include_payload" env:"INCLUDE_PAYLOAD"`
	ShutdownTimeout time.Duration     `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
	Defaults        WebhookDefaults   `yaml:"defaults" envPrefix:"DEFAULTS_"`
	Endpoints       []WebhookEndpoint `yaml:"endpoints"`
}

// WebhookDefaults holds default settings for webhook endpoints.
type WebhookDefaults struct {
	Timeout        time.Duration        `yaml:"timeout" env:"TIMEOUT"`
	Retry          RetryConfig          `yaml:"retry" envPrefix:"RETRY_"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker" envPrefix:"CIRCUIT_BREAKER_"`
}

// RetryConfig holds retry configuration for webhook delivery.
type RetryConfig struct {
	MaxAttempts     int           `yaml:"max_attempts" env:"MAX_ATTEMPTS"`
	InitialInterval time.Duration `yaml:"initial_interval" env:"INITIAL_INTERVAL"`
	MaxInterval     time.Duration `yaml:"max_interval" env:"MAX_INTERVAL"`
	Multiplier      float64       `yaml:"multiplier" env:"MULTIPLIER"`
}

// CircuitBreakerConfig holds circuit breaker configuration.
type CircuitBreakerConfig struct {
	FailureThreshold int           `yaml:"failure_threshold" env:"FAILURE_THRESHOLD"`
	ResetTimeout     time.Duration `yaml:"reset_timeout" env:"RESET_TIMEOUT"`
}

// WebhookEndpoint defines a single webhook endpoint configuration.
type WebhookEndpoint struct {
	Name         string            `yaml:"name"`
	Type         string            `yaml:"type"` // "http"
	URL          string            `yaml:"url"`
	Events       []string          `yaml:"events"`        // event type filter, empty means all
	TopicFilters []string          `yaml:"topic_filters"` // topic pattern filter, empty means all
	Headers      map[string]string `yaml:"headers"`
	Timeout      time.Duration     `yaml:"timeout,omitempty"`
	Retry        *RetryConfig      `yaml:"retry,omitempty"`
}

// Default returns a configuration with sensible defaults.
func Default() *Config {
	return &Config{
		Gateway: GatewayConfig{
			InstanceID:   "fluxgate-1",
			MaxHookCalls: 64,
			HookTimeout:  5 * time.Second,
			HookCacheTTL: 0,
			DrainTimeout: 30 * time.Second,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Hook: HookConfig{
			Type: HookNoop,
		},
		Aliases: map[string]AliasConfig{},
		Storage: StorageConfig{
			Type:      StorageMemory,
			BadgerDir: "/tmp/fluxgate/data",
		},
		Health: HealthConfig{
			Enabled:         true,
			Addr:            ":8081",
			ShutdownTimeout: 5 * time.Second,
		},
		Telemetry: TelemetryConfig{
			MetricsEnabled:  false,
			TracesEnabled:   false,
			Endpoint:        "localhost:4317",
			Insecure:        true,
			ServiceName:     "fluxgate",
			ServiceVersion:  "1.0.0",
			TraceSampleRate: 0.1,
			ExportInterval:  30 * time.Second,
		},
		RateLimit: ratelimit.DefaultConfig(),
		Webhook: WebhookConfig{
			Enabled:         false,
			QueueSize:       10000,
			DropPolicy:      "oldest",
			Workers:         5,
			IncludePayload:  false,
			ShutdownTimeout: 30 * time.Second,
			Defaults: WebhookDefaults{
				Timeout: 5 * time.Second,
				Retry: RetryConfig{
					MaxAttempts:     3,
					InitialInterval: 1 * time.Second,
					MaxInterval:     30 * time.Second,
					Multiplier:      2.0,
				},
				CircuitBreaker: CircuitBreakerConfig{
					FailureThreshold: 5,
					ResetTimeout:     60 * time.Second,
				},
			},
			Endpoints: []WebhookEndpoint{},
		},
	}
}

// Load reads the YAML file, applies FLUXGATE_* environment overrides and
// validates the result. A missing or empty filename yields the defaults.
func Load(filename string) (*Config, error) {
	cfg := Default()

	if filename != "" {
		data, err := os.ReadFile(filename)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config file: %w", err)
			}
		case os.IsNotExist(err):
		default:
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	if err := env.ParseWithOptions(cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Gateway.MaxHookCalls < 1 {
		return fmt.Errorf("gateway.max_hook_calls must be at least 1")
	}
	if c.Gateway.HookTimeout <= 0 {
		return fmt.Errorf("gateway.hook_timeout must be positive")
	}
	if c.Gateway.HookCacheTTL < 0 {
		return fmt.Errorf("gateway.hook_cache_ttl cannot be negative")
	}
	if c.Gateway.DrainTimeout < 0 {
		return fmt.Errorf("gateway.drain_timeout cannot be negative")
	}

	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level must be one of: debug, info, warn, error")
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("log.format must be one of: text, json")
	}

	switch c.Hook.Type {
	case HookNoop, HookRegistry:
	default:
		return fmt.Errorf("hook.type must be one of: %s, %s", HookNoop, HookRegistry)
	}

	switch c.Storage.Type {
	case StorageMemory:
	case StorageBadger:
		if c.Storage.BadgerDir == "" {
			return fmt.Errorf("storage.badger_dir required when storage.type is badger")
		}
	default:
		return fmt.Errorf("storage.type must be one of: %s, %s", StorageMemory, StorageBadger)
	}

	for name, alias := range c.Aliases {
		if strings.TrimSpace(name) == "" {
			return fmt.Errorf("aliases: alias name cannot be empty")
		}
		if alias.Address == "" {
			return fmt.Errorf("aliases.%s.address cannot be empty", name)
		}
		if _, err := alias.Build(); err != nil {
			return fmt.Errorf("aliases.%s: %w", name, err)
		}
	}

	if c.Health.Enabled && c.Health.Addr == "" {
		return fmt.Errorf("health.addr required when health checks are enabled")
	}

	if c.Telemetry.MetricsEnabled || c.Telemetry.TracesEnabled {
		if c.Telemetry.Endpoint == "" {
			return fmt.Errorf("telemetry.endpoint required when telemetry is enabled")
		}
		if c.Telemetry.ServiceName == "" {
			return fmt.Errorf("telemetry.service_name cannot be empty")
		}
	}
	if c.Telemetry.TraceSampleRate < 0 || c.Telemetry.TraceSampleRate > 1 {
		return fmt.Errorf("telemetry.trace_sample_rate must be between 0.0 and 1.0")
	}
	if c.Telemetry.MetricsEnabled && c.Telemetry.ExportInterval <= 0 {
		return fmt.Errorf("telemetry.export_interval must be positive")
	}

	if c.RateLimit.Enabled {
		if c.RateLimit.Session.Enabled && (c.RateLimit.Session.Rate <= 0 || c.RateLimit.Session.Burst < 1) {
			return fmt.Errorf("rate_limit.session requires a positive rate and burst")
		}
		if c.RateLimit.Publish.Enabled && (c.RateLimit.Publish.Rate <= 0 || c.RateLimit.Publish.Burst < 1) {
			return fmt.Errorf("rate_limit.publish requires a positive rate and burst")
		}
		if c.RateLimit.Subscribe.Enabled && (c.RateLimit.Subscribe.Rate <= 0 || c.RateLimit.Subscribe.Burst < 1) {
			return fmt.Errorf("rate_limit.subscribe requires a positive rate and burst")
		}
	}

	if c.Webhook.Enabled {
		if c.Webhook.QueueSize < 100 {
			return fmt.Errorf("webhook.queue_size must be at least 100")
		}
		if c.Webhook.DropPolicy != "oldest" && c.Webhook.DropPolicy != "newest" {
			return fmt.Errorf("webhook.drop_policy must be 'oldest' or 'newest'")
		}
		if c.Webhook.Workers < 1 {
			return fmt.Errorf("webhook.workers must be at least 1")
		}
		if c.Webhook.ShutdownTimeout < time.Second {
			return fmt.Errorf("webhook.shutdown_timeout must be at least 1 second")
		}
		if c.Webhook.Defaults.Timeout < time.Second {
			return fmt.Errorf("webhook.defaults.timeout must be at least 1 second")
		}
		if c.Webhook.Defaults.Retry.MaxAttempts < 1 {
			return fmt.Errorf("webhook.defaults.retry.max_attempts must be at least 1")
		}
		if c.Webhook.Defaults.Retry.Multiplier < 1.0 {
			return fmt.Errorf("webhook.defaults.retry.multiplier must be at least 1.0")
		}
		if c.Webhook.Defaults.CircuitBreaker.FailureThreshold < 1 {
			return fmt.Errorf("webhook.defaults.circuit_breaker.failure_threshold must be at least 1")
		}

		for i, endpoint := range c.Webhook.Endpoints {
			if endpoint.Name == "" {
				return fmt.Errorf("webhook.endpoints[%d].name cannot be empty", i)
			}
			if endpoint.Type != "http" {
				return fmt.Errorf("webhook.endpoints[%d].type must be 'http'", i)
			}
			if endpoint.URL == "" {
				return fmt.Errorf("webhook.endpoints[%d].url cannot be empty", i)
			}
		}
	}

	return nil
}

// Save writes the configuration to a YAML file.
func (c *Config) Save(filename string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(filename, data, 0o600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}
