// Package config provides hierarchical configuration loading for TaskForge.
// Precedence: defaults < YAML file < environment variables.
package config

import (
	"net"
	"time"
)

// Config holds all runtime configuration of the TaskForge server.
type Config struct {
	Server    Server    `yaml:"server"`
	Postgres  Postgres  `yaml:"postgres"`
	NATS      NATS      `yaml:"nats"`
	Logging   Logging   `yaml:"logging"`
	Breaker   Breaker   `yaml:"breaker"`
	Process   Process   `yaml:"process"`
	Download  Download  `yaml:"download"`
	Toolchain Toolchain `yaml:"toolchain"`
	Cache     Cache     `yaml:"cache"`
	OTEL      OTEL      `yaml:"otel"`
	Auth      Auth      `yaml:"auth"`
	MCP       MCP       `yaml:"mcp"`
}

// Server holds HTTP server configuration.
type Server struct {
	Host            string        `yaml:"host"` // empty = loopback without auth, all interfaces with it
	Port            string        `yaml:"port"`
	CORSOrigin      string        `yaml:"cors_origin"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// Postgres holds the task history database settings. An empty DSN keeps the
// history in memory.
type Postgres struct {
	DSN             string        `yaml:"dsn"`
	MaxConns        int32         `yaml:"max_conns"`
	MinConns        int32         `yaml:"min_conns"`
	MaxConnLifetime time.Duration `yaml:"max_conn_lifetime"`
	MaxConnIdleTime time.Duration `yaml:"max_conn_idle_time"`
	HealthCheck     time.Duration `yaml:"health_check"`
}

// NATS holds the shared event feed settings. An empty URL selects the
// in-process feed.
type NATS struct {
	URL         string        `yaml:"url"`
	Name        string        `yaml:"name"`
	SnapshotTTL time.Duration `yaml:"snapshot_ttl"` // KV entry expiry, 0 = never
}

// Logging holds structured logging configuration.
type Logging struct {
	Level      string `yaml:"level"`
	Service    string `yaml:"service"`
	Async      bool   `yaml:"async"`
	BufferSize int    `yaml:"buffer_size"`
}

// Breaker holds circuit breaker configuration for download hosts.
type Breaker struct {
	MaxFailures int           `yaml:"max_failures"`
	Timeout     time.Duration `yaml:"timeout"`
}

// Process holds external process settings.
type Process struct {
	WorkDir       string        `yaml:"work_dir"`
	MaxConcurrent int           `yaml:"max_concurrent"` // 0 = unlimited
	StopGrace     time.Duration `yaml:"stop_grace"`
}

// Download holds download manager settings. Relative download paths are
// resolved against process.work_dir.
type Download struct {
	PublishInterval time.Duration `yaml:"publish_interval"`
	UserAgent       string        `yaml:"user_agent"`
}

// Toolchain holds the settings of the model tool builders. Script paths
// are relative to process.work_dir.
type Toolchain struct {
	Python string `yaml:"python"` // interpreter; empty = auto-detect
}

// Cache holds the feed snapshot cache settings.
type Cache struct {
	SnapshotMaxMB int64         `yaml:"snapshot_max_mb"`
	LocalTTL      time.Duration `yaml:"local_ttl"`
}

// OTEL holds OpenTelemetry export settings. An empty endpoint disables export.
type OTEL struct {
	Endpoint    string  `yaml:"endpoint"`
	Insecure    bool    `yaml:"insecure"`
	ServiceName string  `yaml:"service_name"`
	SampleRate  float64 `yaml:"sample_rate"`
}

// Auth holds API authentication. Without a token hash the API accepts any
// request, so it is only served on loopback unless Disabled is set.
type Auth struct {
	TokenHash string `yaml:"token_hash"` // bcrypt hash of the bearer token
	Disabled  bool   `yaml:"disabled"`   // serve without a token on any host
}

// MCP holds Model Context Protocol server settings.
type MCP struct {
	Enabled bool `yaml:"enabled"`
}

// ListenAddr returns the address the HTTP server binds to. Without a token
// hash and an explicit host it binds to loopback only.
func (c *Config) ListenAddr() string {
	host := c.Server.Host
	if host == "" && c.Auth.TokenHash == "" && !c.Auth.Disabled {
		host = "127.0.0.1"
	}
	return net.JoinHostPort(host, c.Server.Port)
}

func isLoopback(host string) bool {
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

// Defaults returns a Config with sensible default values for local use.
func Defaults() Config {
	return Config{
		Server: Server{
			Port:            "8080",
			CORSOrigin:      "http://localhost:5173",
			ShutdownTimeout: 15 * time.Second,
		},
		Postgres: Postgres{
			MaxConns:        10,
			MinConns:        1,
			MaxConnLifetime: time.Hour,
			MaxConnIdleTime: 10 * time.Minute,
			HealthCheck:     time.Minute,
		},
		NATS: NATS{
			Name: "taskforge",
		},
		Logging: Logging{
			Level:      "info",
			Service:    "taskforge",
			BufferSize: 4096,
		},
		Breaker: Breaker{
			MaxFailures: 5,
			Timeout:     30 * time.Second,
		},
		Process: Process{
			StopGrace: 5 * time.Second,
		},
		Download: Download{
			PublishInterval: 500 * time.Millisecond,
			UserAgent:       "TaskForge",
		},
		Cache: Cache{
			SnapshotMaxMB: 8,
			LocalTTL:      2 * time.Second,
		},
		OTEL: OTEL{
			ServiceName: "taskforge",
			SampleRate:  1,
		},
		MCP: MCP{
			Enabled: true,
		},
	}
}
