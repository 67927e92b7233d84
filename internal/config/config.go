// Package config loads service configuration from an optional YAML file
// with environment-variable overrides.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// RateLimit configures the token bucket guarding submission endpoints.
type RateLimit struct {
	Rate  float64 `yaml:"rate"`  // tokens added per second
	Burst float64 `yaml:"burst"` // bucket capacity
}

// Config holds all service settings. Zero values are replaced by defaults.
type Config struct {
	// ServerAddr is the HTTP API listen address.
	ServerAddr string `yaml:"server_addr"`
	// RedisAddr locates the shared job store.
	RedisAddr string `yaml:"redis_addr"`
	// KeyPrefix namespaces all Redis keys and channels.
	KeyPrefix string `yaml:"key_prefix"`
	// EngineURL is the remote execution engine. When empty, the worker
	// falls back to the local Docker runner.
	EngineURL string `yaml:"engine_url"`
	// StatusTTL is a Go duration string bounding status retention.
	StatusTTL string `yaml:"status_ttl"`
	// SyncTimeout is a Go duration string capping synchronous execution
	// calls through the facade.
	SyncTimeout string `yaml:"sync_timeout"`
	// Standalone runs the API server with an in-memory store and an
	// embedded worker, for single-process development without Redis.
	Standalone bool `yaml:"standalone"`

	RateLimit RateLimit `yaml:"rate_limit"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		ServerAddr:  ":8080",
		RedisAddr:   "localhost:6379",
		KeyPrefix:   "execq",
		StatusTTL:   "1h",
		SyncTimeout: "60s",
		RateLimit:   RateLimit{Rate: 0.5, Burst: 5},
	}
}

// Load reads the YAML file at path and applies environment overrides. A
// missing file is not an error; defaults are used. An empty path skips the
// file entirely.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("failed to read config %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}

	cfg.applyEnv()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		c.RedisAddr = v
	}
	if v := os.Getenv("ENGINE_URL"); v != "" {
		c.EngineURL = v
	}
	if v := os.Getenv("SERVER_ADDR"); v != "" {
		c.ServerAddr = v
	}
	if v := os.Getenv("EXECQ_KEY_PREFIX"); v != "" {
		c.KeyPrefix = v
	}
}

func (c *Config) validate() error {
	if _, err := time.ParseDuration(c.StatusTTL); err != nil {
		return fmt.Errorf("invalid status_ttl %q: %w", c.StatusTTL, err)
	}
	if _, err := time.ParseDuration(c.SyncTimeout); err != nil {
		return fmt.Errorf("invalid sync_timeout %q: %w", c.SyncTimeout, err)
	}
	return nil
}

// StatusTTLDuration returns StatusTTL parsed. Load has already validated it.
func (c *Config) StatusTTLDuration() time.Duration {
	d, _ := time.ParseDuration(c.StatusTTL)
	return d
}

// SyncTimeoutDuration returns SyncTimeout parsed.
func (c *Config) SyncTimeoutDuration() time.Duration {
	d, _ := time.ParseDuration(c.SyncTimeout)
	return d
}
