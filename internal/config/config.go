// Package config loads process configuration from an optional YAML file
// overlaid with ATS_* environment variables.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Gateway backends.
const (
	BackendFake     = "fake"
	BackendSupabase = "supabase"
	// BackendPostgres uses hosted auth with rows and procedures read
	// directly from Postgres.
	BackendPostgres = "postgres"
)

// Storage backends.
const (
	StorageMemory = "memory"
	StorageFile   = "file"
	StorageRedis  = "redis"
)

// Config holds all runtime configuration for atsdash.
type Config struct {
	Listen   string `yaml:"listen"`
	LogLevel string `yaml:"log_level"`

	Gateway struct {
		Backend     string  `yaml:"backend"`
		URL         string  `yaml:"url"`
		APIKey      string  `yaml:"api_key"`
		DatabaseURL string  `yaml:"database_url"`
		Migrate     bool    `yaml:"migrate"`
		RateLimit   float64 `yaml:"rate_limit"`
		Burst       int     `yaml:"burst"`
	} `yaml:"gateway"`

	Storage struct {
		Backend  string        `yaml:"backend"`
		Path     string        `yaml:"path"`
		RedisURL string        `yaml:"redis_url"`
		TTL      time.Duration `yaml:"ttl"`
	} `yaml:"storage"`

	Auth struct {
		JWKSURL         string `yaml:"jwks_url"`
		Issuer          string `yaml:"issuer"`
		Audience        string `yaml:"audience"`
		HMACSecret      string `yaml:"hmac_secret"`
		RequireToken    bool   `yaml:"require_token"`
		OAuthRedirectTo string `yaml:"oauth_redirect_to"`
	} `yaml:"auth"`

	RefreshSpec string `yaml:"refresh_spec"`
	Metrics     bool   `yaml:"metrics"`
	Audit       bool   `yaml:"audit"`
}

// Default returns the configuration used when nothing is set.
func Default() Config {
	var c Config
	c.Listen = ":8080"
	c.LogLevel = "info"
	c.Gateway.Backend = BackendFake
	c.Storage.Backend = StorageMemory
	c.RefreshSpec = "@every 5m"
	c.Metrics = true
	return c
}

// Load reads path (skipped when empty or missing) over the defaults, then
// applies the environment.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		b, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return cfg, fmt.Errorf("config: read %s: %w", path, err)
		default:
			if err := yaml.Unmarshal(b, &cfg); err != nil {
				return cfg, fmt.Errorf("config: parse %s: %w", path, err)
			}
		}
	}
	if err := overlayEnv(&cfg, os.LookupEnv); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

func overlayEnv(c *Config, lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	var errs []error
	boolean := func(key string, dst *bool) {
		if v, ok := lookup(key); ok && v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("config: %s: %w", key, err))
				return
			}
			*dst = b
		}
	}

	str("ATS_LISTEN", &c.Listen)
	str("ATS_LOG_LEVEL", &c.LogLevel)
	str("ATS_GATEWAY", &c.Gateway.Backend)
	str("ATS_GATEWAY_URL", &c.Gateway.URL)
	str("ATS_GATEWAY_KEY", &c.Gateway.APIKey)
	str("ATS_DATABASE_URL", &c.Gateway.DatabaseURL)
	boolean("ATS_MIGRATE", &c.Gateway.Migrate)
	str("ATS_STORAGE", &c.Storage.Backend)
	str("ATS_STORAGE_PATH", &c.Storage.Path)
	str("ATS_REDIS_URL", &c.Storage.RedisURL)
	str("ATS_JWKS_URL", &c.Auth.JWKSURL)
	str("ATS_JWT_ISSUER", &c.Auth.Issuer)
	str("ATS_JWT_AUDIENCE", &c.Auth.Audience)
	str("ATS_JWT_SECRET", &c.Auth.HMACSecret)
	boolean("ATS_REQUIRE_TOKEN", &c.Auth.RequireToken)
	str("ATS_OAUTH_REDIRECT_TO", &c.Auth.OAuthRedirectTo)
	str("ATS_REFRESH_SPEC", &c.RefreshSpec)
	boolean("ATS_METRICS", &c.Metrics)
	boolean("ATS_AUDIT", &c.Audit)
	return errors.Join(errs...)
}

// Validate fails fast on settings the process cannot start with.
func (c Config) Validate() error {
	var errs []error
	switch c.Gateway.Backend {
	case BackendFake:
	case BackendSupabase, BackendPostgres:
		if c.Gateway.URL == "" || c.Gateway.APIKey == "" {
			errs = append(errs, fmt.Errorf("config: gateway %q needs url and api_key", c.Gateway.Backend))
		}
		if c.Gateway.Backend == BackendPostgres && c.Gateway.DatabaseURL == "" {
			errs = append(errs, errors.New("config: gateway \"postgres\" needs database_url"))
		}
	default:
		errs = append(errs, fmt.Errorf("config: unknown gateway backend %q", c.Gateway.Backend))
	}

	switch c.Storage.Backend {
	case StorageMemory:
	case StorageFile:
		if c.Storage.Path == "" {
			errs = append(errs, errors.New("config: storage \"file\" needs path"))
		}
	case StorageRedis:
		if c.Storage.RedisURL == "" {
			errs = append(errs, errors.New("config: storage \"redis\" needs redis_url"))
		}
	default:
		errs = append(errs, fmt.Errorf("config: unknown storage backend %q", c.Storage.Backend))
	}

	if c.Auth.RequireToken && c.Auth.JWKSURL == "" && c.Auth.HMACSecret == "" && c.Gateway.Backend != BackendFake {
		errs = append(errs, errors.New("config: require_token needs jwks_url or hmac_secret"))
	}
	if c.Listen == "" {
		errs = append(errs, errors.New("config: listen is empty"))
	}
	if _, err := ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// ParseLevel maps a level name such as "info" or "DEBUG" onto a slog.Level.
func ParseLevel(name string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(name)); err != nil {
		return 0, fmt.Errorf("config: unknown log level %q", name)
	}
	return l, nil
}
