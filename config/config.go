// Package config loads the allocation service configuration from an optional
// YAML or JSON file plus ALLOC_ environment overrides.
package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/warp/allocation-engine/allocation"
)

// EnvPrefix marks environment overrides. ALLOC_MERGE__LOCK_BACKEND sets
// merge.lock_backend.
const EnvPrefix = "ALLOC_"

type Config struct {
	Server     ServerConfig     `json:"server"`
	Database   DatabaseConfig   `json:"database"`
	Logging    LoggingConfig    `json:"logging"`
	Allocation AllocationConfig `json:"allocation"`
	Merge      MergeConfig      `json:"merge"`
	Metrics    MetricsConfig    `json:"metrics"`
}

type ServerConfig struct {
	Addr           string   `json:"addr"`
	AllowedOrigins []string `json:"allowed_origins"`
	// Demo loads the scenario fixtures at startup.
	Demo bool `json:"demo"`
}

type DatabaseConfig struct {
	// Driver is "sqlite" or "memory".
	Driver string `json:"driver"`
	Path   string `json:"path"`
}

type LoggingConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `json:"level"`
}

type AllocationConfig struct {
	DefaultWeeklyCap int     `json:"default_weekly_cap"`
	OriginReserve    float64 `json:"origin_reserve"`
	WeightPrecedence string  `json:"weight_precedence"`
	Concurrency      int     `json:"concurrency"`
}

type MergeConfig struct {
	// LockBackend is "local" or "redis".
	LockBackend    string `json:"lock_backend"`
	RedisAddr      string `json:"redis_addr"`
	RedisPassword  string `json:"redis_password"`
	LockTTLSeconds int    `json:"lock_ttl_seconds"`
	RetryBudget    int    `json:"retry_budget"`
	RetryBackoffMS int    `json:"retry_backoff_ms"`
}

type MetricsConfig struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// Load reads path (skipped when empty), applies environment overrides,
// defaults and validation.
func Load(path string) (*Config, error) {
	k := koanf.New(".")
	if path != "" {
		var parser koanf.Parser
		switch strings.ToLower(filepath.Ext(path)) {
		case ".yaml", ".yml":
			parser = yaml.Parser()
		case ".json":
			parser = json.Parser()
		default:
			return nil, fmt.Errorf("unsupported config format: %s", filepath.Ext(path))
		}
		if err := k.Load(file.Provider(path), parser); err != nil {
			return nil, fmt.Errorf("load %s: %w", path, err)
		}
	}
	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		s = strings.TrimPrefix(strings.ToLower(s), strings.ToLower(EnvPrefix))
		return strings.ReplaceAll(s, "__", ".")
	}), nil); err != nil {
		return nil, err
	}

	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "json"}); err != nil {
		return nil, err
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the configuration used without file or environment.
func Default() *Config {
	var cfg Config
	cfg.SetDefaults()
	return &cfg
}

// SetDefaults fills every unset field.
func (c *Config) SetDefaults() {
	if c.Server.Addr == "" {
		c.Server.Addr = ":8080"
	}
	if len(c.Server.AllowedOrigins) == 0 {
		c.Server.AllowedOrigins = []string{"http://localhost:*", "http://127.0.0.1:*"}
	}
	if c.Database.Driver == "" {
		c.Database.Driver = "sqlite"
	}
	if c.Database.Path == "" {
		c.Database.Path = "./data/allocation.db"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Allocation.DefaultWeeklyCap == 0 {
		c.Allocation.DefaultWeeklyCap = 50
	}
	if c.Allocation.OriginReserve == 0 {
		c.Allocation.OriginReserve = allocation.DefaultOriginReserve
	}
	if c.Allocation.WeightPrecedence == "" {
		c.Allocation.WeightPrecedence = string(allocation.ByCityRequirement)
	}
	if c.Merge.LockBackend == "" {
		c.Merge.LockBackend = "local"
	}
	if c.Merge.RedisAddr == "" {
		c.Merge.RedisAddr = "localhost:6379"
	}
	if c.Merge.LockTTLSeconds == 0 {
		c.Merge.LockTTLSeconds = 30
	}
	if c.Merge.RetryBudget == 0 {
		c.Merge.RetryBudget = 3
	}
	if c.Merge.RetryBackoffMS == 0 {
		c.Merge.RetryBackoffMS = 50
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
}

// Validate checks values defaults cannot fix.
func (c Config) Validate() error {
	switch c.Database.Driver {
	case "sqlite", "memory":
	default:
		return fmt.Errorf("unknown database driver %q", c.Database.Driver)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown log level %q", c.Logging.Level)
	}
	if c.Allocation.DefaultWeeklyCap < 0 {
		return fmt.Errorf("default_weekly_cap must be >= 0")
	}
	if c.Allocation.OriginReserve < 0 || c.Allocation.OriginReserve >= 1 {
		return fmt.Errorf("origin_reserve must be in [0, 1)")
	}
	if _, err := allocation.ParseWeightSourceKind(c.Allocation.WeightPrecedence); err != nil {
		return err
	}
	switch c.Merge.LockBackend {
	case "local":
	case "redis":
		if c.Merge.RedisAddr == "" {
			return fmt.Errorf("redis_addr is required for the redis lock backend")
		}
	default:
		return fmt.Errorf("unknown lock backend %q", c.Merge.LockBackend)
	}
	if c.Merge.RetryBudget < 0 {
		return fmt.Errorf("retry_budget must be >= 0")
	}
	return nil
}

// Options converts the allocation section to generator options.
func (c AllocationConfig) Options() allocation.Options {
	kind, _ := allocation.ParseWeightSourceKind(c.WeightPrecedence)
	return allocation.Options{
		DefaultCapacity:  c.DefaultWeeklyCap,
		OriginReserve:    c.OriginReserve,
		WeightPrecedence: kind,
		Concurrency:      c.Concurrency,
	}
}

// ReconcilerOptions converts the merge section.
func (c MergeConfig) ReconcilerOptions() allocation.ReconcilerOptions {
	return allocation.ReconcilerOptions{
		LockTTL:      time.Duration(c.LockTTLSeconds) * time.Second,
		RetryBudget:  c.RetryBudget,
		RetryBackoff: time.Duration(c.RetryBackoffMS) * time.Millisecond,
	}
}
