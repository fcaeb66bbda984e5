package config

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is the path checked for YAML configuration.
const DefaultConfigFile = "taskforge.yaml"

// Load returns a Config using the hierarchy: defaults < YAML < ENV.
// The YAML file is optional.
func Load() (*Config, error) {
	return LoadFrom(DefaultConfigFile)
}

// LoadFrom returns a Config loaded from the given YAML path using the
// hierarchy: defaults < YAML < ENV. A missing file is not an error.
func LoadFrom(yamlPath string) (*Config, error) {
	cfg := Defaults()

	if err := loadYAML(&cfg, yamlPath); err != nil {
		return nil, fmt.Errorf("config yaml: %w", err)
	}

	loadEnv(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validate: %w", err)
	}

	return &cfg, nil
}

func loadYAML(cfg *Config, path string) error {
	data, err := os.ReadFile(path) //nolint:gosec // operator-supplied config path
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}

// loadEnv overlays environment variables onto cfg. Empty or unparsable
// values leave the current setting in place.
func loadEnv(cfg *Config) {
	setString(&cfg.Server.Host, "TASKFORGE_HOST")
	setString(&cfg.Server.Port, "TASKFORGE_PORT")
	setString(&cfg.Server.CORSOrigin, "TASKFORGE_CORS_ORIGIN")
	setDuration(&cfg.Server.ShutdownTimeout, "TASKFORGE_SHUTDOWN_TIMEOUT")

	setString(&cfg.Postgres.DSN, "DATABASE_URL")
	setInt32(&cfg.Postgres.MaxConns, "TASKFORGE_PG_MAX_CONNS")
	setInt32(&cfg.Postgres.MinConns, "TASKFORGE_PG_MIN_CONNS")
	setDuration(&cfg.Postgres.MaxConnLifetime, "TASKFORGE_PG_MAX_CONN_LIFETIME")
	setDuration(&cfg.Postgres.MaxConnIdleTime, "TASKFORGE_PG_MAX_CONN_IDLE_TIME")
	setDuration(&cfg.Postgres.HealthCheck, "TASKFORGE_PG_HEALTH_CHECK")

	setString(&cfg.NATS.URL, "NATS_URL")
	setString(&cfg.NATS.Name, "TASKFORGE_NATS_NAME")
	setDuration(&cfg.NATS.SnapshotTTL, "TASKFORGE_NATS_SNAPSHOT_TTL")

	setString(&cfg.Logging.Level, "TASKFORGE_LOG_LEVEL")
	setString(&cfg.Logging.Service, "TASKFORGE_LOG_SERVICE")
	setBool(&cfg.Logging.Async, "TASKFORGE_LOG_ASYNC")
	setInt(&cfg.Logging.BufferSize, "TASKFORGE_LOG_BUFFER_SIZE")

	setInt(&cfg.Breaker.MaxFailures, "TASKFORGE_BREAKER_MAX_FAILURES")
	setDuration(&cfg.Breaker.Timeout, "TASKFORGE_BREAKER_TIMEOUT")

	setString(&cfg.Process.WorkDir, "TASKFORGE_PROCESS_WORKDIR")
	setInt(&cfg.Process.MaxConcurrent, "TASKFORGE_PROCESS_MAX_CONCURRENT")
	setDuration(&cfg.Process.StopGrace, "TASKFORGE_PROCESS_STOP_GRACE")

	setDuration(&cfg.Download.PublishInterval, "TASKFORGE_DOWNLOAD_PUBLISH_INTERVAL")
	setString(&cfg.Download.UserAgent, "TASKFORGE_DOWNLOAD_USER_AGENT")

	setString(&cfg.Toolchain.Python, "TASKFORGE_PYTHON")

	setInt64(&cfg.Cache.SnapshotMaxMB, "TASKFORGE_CACHE_SNAPSHOT_MB")
	setDuration(&cfg.Cache.LocalTTL, "TASKFORGE_CACHE_LOCAL_TTL")

	setString(&cfg.OTEL.Endpoint, "OTEL_EXPORTER_OTLP_ENDPOINT")
	setBool(&cfg.OTEL.Insecure, "TASKFORGE_OTEL_INSECURE")
	setString(&cfg.OTEL.ServiceName, "OTEL_SERVICE_NAME")
	setFloat64(&cfg.OTEL.SampleRate, "TASKFORGE_OTEL_SAMPLE_RATE")

	setString(&cfg.Auth.TokenHash, "TASKFORGE_AUTH_TOKEN_HASH")
	setBool(&cfg.Auth.Disabled, "TASKFORGE_AUTH_DISABLED")
	setBool(&cfg.MCP.Enabled, "TASKFORGE_MCP_ENABLED")
}

var logLevels = []string{"debug", "info", "warn", "error"}

// validate checks required fields and ranges.
func validate(cfg *Config) error {
	if cfg.Server.Port == "" {
		return errors.New("server.port is required")
	}
	if cfg.Auth.TokenHash != "" && cfg.Auth.Disabled {
		return errors.New("auth.disabled conflicts with auth.token_hash")
	}
	if cfg.Auth.TokenHash == "" && !cfg.Auth.Disabled && cfg.Server.Host != "" && !isLoopback(cfg.Server.Host) {
		return fmt.Errorf("auth.token_hash is required to listen on %s (set auth.disabled to serve without authentication)", cfg.Server.Host)
	}
	if cfg.Postgres.DSN != "" && cfg.Postgres.MaxConns < 1 {
		return errors.New("postgres.max_conns must be >= 1")
	}
	if !slices.Contains(logLevels, cfg.Logging.Level) {
		return fmt.Errorf("logging.level must be one of %v", logLevels)
	}
	if cfg.Logging.Async && cfg.Logging.BufferSize < 1 {
		return errors.New("logging.buffer_size must be >= 1 when async")
	}
	if cfg.Breaker.MaxFailures < 1 {
		return errors.New("breaker.max_failures must be >= 1")
	}
	if cfg.Process.MaxConcurrent < 0 {
		return errors.New("process.max_concurrent must be >= 0")
	}
	if cfg.Process.StopGrace <= 0 {
		return errors.New("process.stop_grace must be > 0")
	}
	if cfg.Download.PublishInterval <= 0 {
		return errors.New("download.publish_interval must be > 0")
	}
	if cfg.Cache.SnapshotMaxMB < 1 {
		return errors.New("cache.snapshot_max_mb must be >= 1")
	}
	if cfg.OTEL.SampleRate < 0 || cfg.OTEL.SampleRate > 1 {
		return errors.New("otel.sample_rate must be within [0, 1]")
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt32(dst *int32, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 32); err == nil {
			*dst = int32(n)
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
