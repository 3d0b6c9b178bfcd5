// Package config handles loading and validating gateway configuration.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Config is the top-level configuration for the llmrouter gateway.
type Config struct {
	Server          ServerConfig              `koanf:"server"`
	Providers       map[string]ProviderConfig `koanf:"providers"`
	Admin           AdminConfig               `koanf:"admin"`
	Policy          PolicyConfig              `koanf:"policy"`
	StreamStore     StreamStoreConfig         `koanf:"stream_store"`
	Timeouts        TimeoutsConfig            `koanf:"timeouts"`
	RateLimit       RateLimitConfig           `koanf:"rate_limit"`
	EgressQueueSize int                       `koanf:"egress_queue_size"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port         int           `koanf:"port"`
	ReadTimeout  time.Duration `koanf:"read_timeout"`
	WriteTimeout time.Duration `koanf:"write_timeout"`

	// APIKey authenticates client calls to /v1/chat/completions and
	// /v1/messages — a Bearer token or x-api-key header, constant-time
	// compared. Separate from Admin.APIKey so rotating client credentials
	// never touches the admin surface.
	APIKey string `koanf:"api_key"`
}

// ProviderConfig holds the settings for a single LLM provider.
type ProviderConfig struct {
	APIKey  string   `koanf:"api_key"`
	BaseURL string   `koanf:"base_url"`
	Models  []string `koanf:"models"`
}

// AdminConfig holds credentials for the admin surface (policy activation,
// status) — kept separate from client-facing auth so rotating one never
// affects the other.
type AdminConfig struct {
	APIKey string `koanf:"api_key"`
}

// PolicyConfig names the active policy at startup. It mirrors
// internal/policy/manager.Config's shape (Class/Options) rather than
// importing that package directly, since internal/config sits below
// internal/policy in the dependency order and must not import upward.
type PolicyConfig struct {
	Class   string         `koanf:"class"`
	Options map[string]any `koanf:"options"`
}

// StreamStoreConfig configures the external key-value store
// internal/streamcontext uses to persist streaming transaction state
// across process restarts or horizontal replicas. RedisURL empty means
// the in-memory implementation is used instead.
type StreamStoreConfig struct {
	RedisURL   string        `koanf:"redis_url"`
	DefaultTTL time.Duration `koanf:"default_ttl"`
}

// TimeoutsConfig holds the three timeout knobs the design calls out by
// name: how long to wait for the upstream provider, how long a queued
// egress chunk may sit unconsumed, and how long the stall monitor waits
// for forward progress before giving up on a stream.
type TimeoutsConfig struct {
	Upstream time.Duration `koanf:"upstream"`
	Egress   time.Duration `koanf:"egress"`
	Stall    time.Duration `koanf:"stall"`
}

// RateLimitConfig configures the per-API-key token bucket limiter
// internal/httpapi applies to the client-facing routes, ahead of
// internal/orchestrator — an ambient safety net, not a core concern
// (spec.md §1 names rate limiters an external collaborator). Leaving
// both fields unset in config falls back to the package defaults below
// rather than disabling the limiter.
type RateLimitConfig struct {
	RequestsPerSecond float64 `koanf:"requests_per_second"`
	Burst             int     `koanf:"burst"`
}

// Default timeouts and queue sizing applied when the config file and
// environment leave them unset, per the design
const (
	defaultUpstreamTimeout = 60 * time.Second
	defaultEgressTimeout   = 30 * time.Second
	defaultStallTimeout    = 30 * time.Second
	defaultEgressQueueSize = 64
	defaultRateLimitRPS    = 5
	defaultRateLimitBurst  = 10
)

// Load reads configuration from a YAML file, layers environment variable
// overrides on top, and returns a fully populated Config.
func Load(path string) (*Config, error) {
	// Load .env file into the process environment (ignored if not present).
	// This is the equivalent of require('dotenv').config() in Node.
	_ = godotenv.Load()

	// Create a new koanf instance. The "." delimiter tells koanf how to
	// separate nested keys internally (e.g., "server.port").
	k := koanf.New(".")

	// Load the YAML config file. file.Provider reads the file,
	// yaml.Parser() decodes the YAML format into koanf's internal map.
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("loading config file: %w", err)
	}

	// Layer environment variables on top. Any env var starting with
	// "LLMROUTER_" can override a config value. The callback transforms
	// the env var name into a koanf key path:
	//   LLMROUTER_SERVER_PORT -> server.port
	if err := k.Load(env.Provider("LLMROUTER_", ".", func(s string) string {
		return strings.ReplaceAll(
			strings.ToLower(strings.TrimPrefix(s, "LLMROUTER_")),
			"_", ".",
		)
	}), nil); err != nil {
		return nil, fmt.Errorf("loading env vars: %w", err)
	}

	// Unmarshal the loaded key-value pairs into our Config struct.
	// The "" means start from the root. &cfg passes a pointer so koanf
	// can write into the struct (like passing by reference in Node).
	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	// Expand ${VAR_NAME} placeholders in provider API keys.
	// koanf doesn't do this automatically, so we handle it ourselves
	// using os.Getenv to look up the actual environment variable value.
	for name, p := range cfg.Providers {
		if strings.HasPrefix(p.APIKey, "${") && strings.HasSuffix(p.APIKey, "}") {
			envVar := p.APIKey[2 : len(p.APIKey)-1] // strip ${ and }
			p.APIKey = os.Getenv(envVar)
			cfg.Providers[name] = p // write back into the map
		}
	}
	if strings.HasPrefix(cfg.Admin.APIKey, "${") && strings.HasSuffix(cfg.Admin.APIKey, "}") {
		cfg.Admin.APIKey = os.Getenv(cfg.Admin.APIKey[2 : len(cfg.Admin.APIKey)-1])
	}
	if strings.HasPrefix(cfg.Server.APIKey, "${") && strings.HasSuffix(cfg.Server.APIKey, "}") {
		cfg.Server.APIKey = os.Getenv(cfg.Server.APIKey[2 : len(cfg.Server.APIKey)-1])
	}

	applyDefaults(&cfg)

	return &cfg, nil
}

// applyDefaults fills in the timeout, queue-size, and rate-limit knobs
// the config file and environment left at their zero value.
func applyDefaults(cfg *Config) {
	if cfg.Timeouts.Upstream == 0 {
		cfg.Timeouts.Upstream = defaultUpstreamTimeout
	}
	if cfg.Timeouts.Egress == 0 {
		cfg.Timeouts.Egress = defaultEgressTimeout
	}
	if cfg.Timeouts.Stall == 0 {
		cfg.Timeouts.Stall = defaultStallTimeout
	}
	if cfg.EgressQueueSize == 0 {
		cfg.EgressQueueSize = defaultEgressQueueSize
	}
	if cfg.RateLimit.RequestsPerSecond == 0 {
		cfg.RateLimit.RequestsPerSecond = defaultRateLimitRPS
	}
	if cfg.RateLimit.Burst == 0 {
		cfg.RateLimit.Burst = defaultRateLimitBurst
	}
}
