package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "atsdash.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Gateway.Backend != BackendFake || cfg.Storage.Backend != StorageMemory || cfg.Listen != ":8080" {
		t.Errorf("defaults = %+v", cfg)
	}
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err != nil {
		t.Fatalf("Load() error: %v", err)
	}
}

func TestLoad_YAML(t *testing.T) {
	path := writeFile(t, `
listen: ":9000"
gateway:
  backend: supabase
  url: https://project.example.co
  api_key: anon
storage:
  backend: file
  path: /tmp/ats.json
  ttl: 24h
refresh_spec: "@every 1m"
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Listen != ":9000" || cfg.Gateway.Backend != BackendSupabase || cfg.Gateway.URL != "https://project.example.co" {
		t.Errorf("gateway = %+v", cfg.Gateway)
	}
	if cfg.Storage.Backend != StorageFile || cfg.Storage.TTL != 24*time.Hour {
		t.Errorf("storage = %+v", cfg.Storage)
	}
	if cfg.RefreshSpec != "@every 1m" || !cfg.Metrics {
		t.Errorf("refresh = %q, metrics = %v", cfg.RefreshSpec, cfg.Metrics)
	}
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := writeFile(t, "gateway:\n  backend: fake\n")
	t.Setenv("ATS_GATEWAY", "postgres")
	t.Setenv("ATS_GATEWAY_URL", "https://project.example.co")
	t.Setenv("ATS_GATEWAY_KEY", "anon")
	t.Setenv("ATS_DATABASE_URL", "postgres://localhost/ats")
	t.Setenv("ATS_METRICS", "false")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Gateway.Backend != BackendPostgres || cfg.Gateway.DatabaseURL != "postgres://localhost/ats" || cfg.Metrics {
		t.Errorf("cfg = %+v", cfg)
	}
}

func TestLoad_BadYAML(t *testing.T) {
	if _, err := Load(writeFile(t, "listen: [")); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestOverlayEnv_BadBool(t *testing.T) {
	cfg := Default()
	lookup := func(k string) (string, bool) {
		if k == "ATS_AUDIT" {
			return "sometimes", true
		}
		return "", false
	}
	err := overlayEnv(&cfg, lookup)
	if err == nil || !strings.Contains(err.Error(), "ATS_AUDIT") {
		t.Errorf("overlayEnv() = %v, want ATS_AUDIT error", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"defaults", func(*Config) {}, ""},
		{"unknown gateway", func(c *Config) { c.Gateway.Backend = "firebase" }, "unknown gateway"},
		{"supabase without key", func(c *Config) {
			c.Gateway.Backend = BackendSupabase
			c.Gateway.URL = "https://x"
		}, "needs url and api_key"},
		{"postgres without database", func(c *Config) {
			c.Gateway.Backend = BackendPostgres
			c.Gateway.URL = "https://x"
			c.Gateway.APIKey = "k"
		}, "needs database_url"},
		{"file without path", func(c *Config) { c.Storage.Backend = StorageFile }, "needs path"},
		{"redis without url", func(c *Config) { c.Storage.Backend = StorageRedis }, "needs redis_url"},
		{"unknown storage", func(c *Config) { c.Storage.Backend = "s3" }, "unknown storage"},
		{"token without verifier", func(c *Config) {
			c.Gateway.Backend = BackendSupabase
			c.Gateway.URL = "https://x"
			c.Gateway.APIKey = "k"
			c.Auth.RequireToken = true
		}, "require_token"},
		{"bad level", func(c *Config) { c.LogLevel = "loud" }, "log level"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() = %v, want nil", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() = %v, want %q", err, tt.wantErr)
			}
		})
	}
}

func TestParseLevel(t *testing.T) {
	for name, want := range map[string]slog.Level{
		"debug": slog.LevelDebug,
		"INFO":  slog.LevelInfo,
		"warn":  slog.LevelWarn,
		"error": slog.LevelError,
	} {
		got, err := ParseLevel(name)
		if err != nil || got != want {
			t.Errorf("ParseLevel(%q) = %v, %v; want %v", name, got, err, want)
		}
	}
}
