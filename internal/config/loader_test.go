package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaults(t *testing.T) {
	cfg := Defaults()

	if cfg.Server.Port != "8080" {
		t.Errorf("expected port 8080, got %s", cfg.Server.Port)
	}
	if cfg.Postgres.DSN != "" || cfg.NATS.URL != "" {
		t.Error("postgres and nats must be opt-in")
	}
	if cfg.Process.StopGrace != 5*time.Second {
		t.Errorf("expected stop grace 5s, got %v", cfg.Process.StopGrace)
	}
	if err := validate(&cfg); err != nil {
		t.Errorf("defaults do not validate: %v", err)
	}
}

func TestLoadYAMLOverride(t *testing.T) {
	dir := t.TempDir()
	yamlPath := filepath.Join(dir, "taskforge.yaml")

	content := `
server:
  port: "9090"
process:
  max_concurrent: 2
  stop_grace: 10s
download:
  user_agent: taskforge-ci
toolchain:
  python: /usr/bin/python3.10
logging:
  level: debug
`
	if err := os.WriteFile(yamlPath, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg := Defaults()
	if err := loadYAML(&cfg, yamlPath); err != nil {
		t.Fatal(err)
	}

	if cfg.Server.Port != "9090" {
		t.Errorf("port = %s", cfg.Server.Port)
	}
	if cfg.Process.MaxConcurrent != 2 || cfg.Process.StopGrace != 10*time.Second {
		t.Errorf("process = %+v", cfg.Process)
	}
	if cfg.Download.UserAgent != "taskforge-ci" {
		t.Errorf("download.user_agent = %s", cfg.Download.UserAgent)
	}
	if cfg.Toolchain.Python != "/usr/bin/python3.10" {
		t.Errorf("toolchain.python = %s", cfg.Toolchain.Python)
	}
	// Unchanged fields keep defaults.
	if cfg.Download.PublishInterval != 500*time.Millisecond {
		t.Errorf("publish interval = %v", cfg.Download.PublishInterval)
	}
}

func TestLoadYAMLMissing(t *testing.T) {
	cfg := Defaults()
	if err := loadYAML(&cfg, "/nonexistent/path.yaml"); err != nil {
		t.Errorf("missing YAML should not error, got %v", err)
	}
}

func TestLoadYAMLInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("server: [unclosed"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadFrom(path); err == nil || !strings.Contains(err.Error(), "config yaml") {
		t.Errorf("err = %v, want config yaml error", err)
	}
}

func TestEnvOverride(t *testing.T) {
	cfg := Defaults()

	t.Setenv("TASKFORGE_PORT", "7070")
	t.Setenv("DATABASE_URL", "postgres://test:test@db:5432/test")
	t.Setenv("NATS_URL", "nats://nats:4222")
	t.Setenv("TASKFORGE_PG_MAX_CONNS", "25")
	t.Setenv("TASKFORGE_LOG_LEVEL", "warn")
	t.Setenv("TASKFORGE_LOG_ASYNC", "true")
	t.Setenv("TASKFORGE_BREAKER_TIMEOUT", "1m")
	t.Setenv("TASKFORGE_PROCESS_MAX_CONCURRENT", "3")
	t.Setenv("TASKFORGE_CACHE_SNAPSHOT_MB", "16")
	t.Setenv("TASKFORGE_OTEL_SAMPLE_RATE", "0.25")
	t.Setenv("TASKFORGE_MCP_ENABLED", "false")

	loadEnv(&cfg)

	if cfg.Server.Port != "7070" {
		t.Errorf("port = %s", cfg.Server.Port)
	}
	if cfg.Postgres.DSN != "postgres://test:test@db:5432/test" {
		t.Errorf("dsn = %s", cfg.Postgres.DSN)
	}
	if cfg.NATS.URL != "nats://nats:4222" {
		t.Errorf("nats = %s", cfg.NATS.URL)
	}
	if cfg.Postgres.MaxConns != 25 {
		t.Errorf("max_conns = %d", cfg.Postgres.MaxConns)
	}
	if cfg.Logging.Level != "warn" || !cfg.Logging.Async {
		t.Errorf("logging = %+v", cfg.Logging)
	}
	if cfg.Breaker.Timeout != time.Minute {
		t.Errorf("breaker timeout = %v", cfg.Breaker.Timeout)
	}
	if cfg.Process.MaxConcurrent != 3 {
		t.Errorf("max_concurrent = %d", cfg.Process.MaxConcurrent)
	}
	if cfg.Cache.SnapshotMaxMB != 16 {
		t.Errorf("snapshot_max_mb = %d", cfg.Cache.SnapshotMaxMB)
	}
	if cfg.OTEL.SampleRate != 0.25 {
		t.Errorf("sample rate = %v", cfg.OTEL.SampleRate)
	}
	if cfg.MCP.Enabled {
		t.Error("mcp should be disabled")
	}
}

func TestEnvInvalidValuesIgnored(t *testing.T) {
	cfg := Defaults()

	t.Setenv("TASKFORGE_PROCESS_MAX_CONCURRENT", "many")
	t.Setenv("TASKFORGE_PROCESS_STOP_GRACE", "soon")
	t.Setenv("TASKFORGE_LOG_ASYNC", "maybe")

	loadEnv(&cfg)

	if cfg.Process.MaxConcurrent != 0 || cfg.Process.StopGrace != 5*time.Second || cfg.Logging.Async {
		t.Errorf("invalid env values must be ignored: %+v %+v", cfg.Process, cfg.Logging)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"empty port", func(c *Config) { c.Server.Port = "" }, "server.port"},
		{"pg conns", func(c *Config) { c.Postgres.DSN = "postgres://x"; c.Postgres.MaxConns = 0 }, "postgres.max_conns"},
		{"pg conns ignored without dsn", func(c *Config) { c.Postgres.MaxConns = 0 }, ""},
		{"log level", func(c *Config) { c.Logging.Level = "trace" }, "logging.level"},
		{"async buffer", func(c *Config) { c.Logging.Async = true; c.Logging.BufferSize = 0 }, "logging.buffer_size"},
		{"breaker", func(c *Config) { c.Breaker.MaxFailures = 0 }, "breaker.max_failures"},
		{"concurrency", func(c *Config) { c.Process.MaxConcurrent = -1 }, "process.max_concurrent"},
		{"grace", func(c *Config) { c.Process.StopGrace = 0 }, "process.stop_grace"},
		{"publish interval", func(c *Config) { c.Download.PublishInterval = 0 }, "download.publish_interval"},
		{"cache size", func(c *Config) { c.Cache.SnapshotMaxMB = 0 }, "cache.snapshot_max_mb"},
		{"sample rate", func(c *Config) { c.OTEL.SampleRate = 2 }, "otel.sample_rate"},
		{"public host without token", func(c *Config) { c.Server.Host = "0.0.0.0" }, "auth.token_hash"},
		{"loopback host without token", func(c *Config) { c.Server.Host = "::1" }, ""},
		{"localhost without token", func(c *Config) { c.Server.Host = "localhost" }, ""},
		{"public host with token", func(c *Config) { c.Server.Host = "0.0.0.0"; c.Auth.TokenHash = "$2a$10$x" }, ""},
		{"public host auth disabled", func(c *Config) { c.Server.Host = "0.0.0.0"; c.Auth.Disabled = true }, ""},
		{"disabled with token", func(c *Config) { c.Auth.Disabled = true; c.Auth.TokenHash = "$2a$10$x" }, "auth.disabled"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			tt.mutate(&cfg)
			err := validate(&cfg)
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("err = %v, want mention of %s", err, tt.wantErr)
			}
		})
	}
}

func TestListenAddr(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"default without token is loopback", func(*Config) {}, "127.0.0.1:8080"},
		{"token binds all interfaces", func(c *Config) { c.Auth.TokenHash = "$2a$10$x" }, ":8080"},
		{"auth disabled binds all interfaces", func(c *Config) { c.Auth.Disabled = true }, ":8080"},
		{"explicit host", func(c *Config) { c.Server.Host = "10.0.0.5"; c.Auth.TokenHash = "$2a$10$x" }, "10.0.0.5:8080"},
		{"ipv6 loopback", func(c *Config) { c.Server.Host = "::1" }, "[::1]:8080"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			tt.mutate(&cfg)
			if got := cfg.ListenAddr(); got != tt.want {
				t.Errorf("ListenAddr() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestLoadFromRefusesOpenPublicListener(t *testing.T) {
	t.Setenv("TASKFORGE_HOST", "0.0.0.0")
	_, err := LoadFrom(filepath.Join(t.TempDir(), "none.yaml"))
	if err == nil || !strings.Contains(err.Error(), "auth.token_hash") {
		t.Fatalf("err = %v, want a missing token error", err)
	}

	t.Setenv("TASKFORGE_AUTH_DISABLED", "true")
	cfg, err := LoadFrom(filepath.Join(t.TempDir(), "none.yaml"))
	if err != nil {
		t.Fatalf("auth.disabled must allow a public listener: %v", err)
	}
	if got := cfg.ListenAddr(); got != "0.0.0.0:8080" {
		t.Errorf("ListenAddr() = %q", got)
	}
}

func TestLoadFromValidationError(t *testing.T) {
	t.Setenv("TASKFORGE_LOG_LEVEL", "loud")
	_, err := LoadFrom(filepath.Join(t.TempDir(), "none.yaml"))
	if err == nil || !strings.HasPrefix(err.Error(), "config validate:") {
		t.Errorf("err = %v", err)
	}
}
