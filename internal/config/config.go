// Package config loads the server configuration. Values come from three
// layers: compiled defaults, an optional YAML file, and environment
// variables, each overriding the previous. Slice-valued variables use
// semicolon separators.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/joeshaw/envdecode"
	"gopkg.in/yaml.v3"
)

// Config is the full server configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Ops       OpsConfig       `yaml:"ops"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	Auth      AuthConfig      `yaml:"auth"`
	Secrets   SecretsConfig   `yaml:"secrets"`
	Mappings  MappingsConfig  `yaml:"mappings"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Audit     AuditConfig     `yaml:"audit"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServerConfig controls the public API listener.
type ServerConfig struct {
	Host               string   `yaml:"host" env:"SCHEMAFLOW_HTTP_HOST"`
	Port               int      `yaml:"port" env:"SCHEMAFLOW_HTTP_PORT"`
	ReadTimeoutSec     int      `yaml:"read_timeout_sec" env:"SCHEMAFLOW_HTTP_READ_TIMEOUT_SEC"`
	WriteTimeoutSec    int      `yaml:"write_timeout_sec" env:"SCHEMAFLOW_HTTP_WRITE_TIMEOUT_SEC"`
	IdleTimeoutSec     int      `yaml:"idle_timeout_sec" env:"SCHEMAFLOW_HTTP_IDLE_TIMEOUT_SEC"`
	ShutdownTimeoutSec int      `yaml:"shutdown_timeout_sec" env:"SCHEMAFLOW_HTTP_SHUTDOWN_TIMEOUT_SEC"`
	CORSOrigins        []string `yaml:"cors_origins" env:"SCHEMAFLOW_CORS_ORIGINS"`
}

// OpsConfig controls the operational listener (health, metrics, sysinfo).
// Port 0 disables it.
type OpsConfig struct {
	Host string `yaml:"host" env:"SCHEMAFLOW_OPS_HOST"`
	Port int    `yaml:"port" env:"SCHEMAFLOW_OPS_PORT"`
}

// DatabaseConfig selects the persistence backend. An empty DSN runs the
// server on in-memory stores, which lose everything on restart.
type DatabaseConfig struct {
	Driver             string `yaml:"driver" env:"SCHEMAFLOW_DB_DRIVER"`
	DSN                string `yaml:"dsn" env:"SCHEMAFLOW_DB_DSN"`
	MaxOpenConns       int    `yaml:"max_open_conns" env:"SCHEMAFLOW_DB_MAX_OPEN_CONNS"`
	MaxIdleConns       int    `yaml:"max_idle_conns" env:"SCHEMAFLOW_DB_MAX_IDLE_CONNS"`
	ConnMaxLifetimeSec int    `yaml:"conn_max_lifetime_sec" env:"SCHEMAFLOW_DB_CONN_MAX_LIFETIME_SEC"`
}

// RedisConfig selects the mapping response cache. An empty address disables
// the shared cache; the caller falls back to a process-local one.
type RedisConfig struct {
	Addr     string `yaml:"addr" env:"SCHEMAFLOW_REDIS_ADDR"`
	Password string `yaml:"password" env:"SCHEMAFLOW_REDIS_PASSWORD"`
	DB       int    `yaml:"db" env:"SCHEMAFLOW_REDIS_DB"`
}

// AuthConfig signs and bounds login tokens.
type AuthConfig struct {
	JWTSecret   string `yaml:"jwt_secret" env:"SCHEMAFLOW_JWT_SECRET"`
	TokenTTLMin int    `yaml:"token_ttl_min" env:"SCHEMAFLOW_TOKEN_TTL_MIN"`
}

// SecretsConfig configures encryption at rest for tenant secrets. The key is
// a raw 16/24/32 byte string or its base64/hex encoding; empty stores
// secrets in plaintext and is only acceptable for development.
type SecretsConfig struct {
	EncryptionKey string `yaml:"encryption_key" env:"SECRET_ENCRYPTION_KEY"`
}

// MappingsConfig bounds outbound mapping calls.
type MappingsConfig struct {
	DefaultTimeoutMs int      `yaml:"default_timeout_ms" env:"SCHEMAFLOW_MAPPING_TIMEOUT_MS"`
	MaxTimeoutMs     int      `yaml:"max_timeout_ms" env:"SCHEMAFLOW_MAPPING_MAX_TIMEOUT_MS"`
	MaxBodyBytes     int64    `yaml:"max_body_bytes" env:"SCHEMAFLOW_MAPPING_MAX_BODY_BYTES"`
	AllowedHosts     []string `yaml:"allowed_hosts" env:"SCHEMAFLOW_MAPPING_ALLOWED_HOSTS"`
	DenyPrivateHosts bool     `yaml:"deny_private_hosts" env:"SCHEMAFLOW_MAPPING_DENY_PRIVATE_HOSTS"`
}

// RateLimitConfig throttles authenticated API callers per user.
type RateLimitConfig struct {
	RPS   float64 `yaml:"rps" env:"SCHEMAFLOW_RATE_LIMIT_RPS"`
	Burst int     `yaml:"burst" env:"SCHEMAFLOW_RATE_LIMIT_BURST"`
}

// AuditConfig configures the JSONL audit sink. Empty disables file output;
// entries still reach the in-memory ring and the database store.
type AuditConfig struct {
	FilePath string `yaml:"file_path" env:"SCHEMAFLOW_AUDIT_FILE"`
}

// SchedulerConfig toggles the cron job runner.
type SchedulerConfig struct {
	Enabled       bool `yaml:"enabled" env:"SCHEMAFLOW_SCHEDULER_ENABLED"`
	RunTimeoutSec int  `yaml:"run_timeout_sec" env:"SCHEMAFLOW_SCHEDULER_RUN_TIMEOUT_SEC"`
}

// LoggingConfig mirrors pkg/logger.LoggingConfig.
type LoggingConfig struct {
	Level      string `yaml:"level" env:"SCHEMAFLOW_LOG_LEVEL"`
	Format     string `yaml:"format" env:"SCHEMAFLOW_LOG_FORMAT"`
	Output     string `yaml:"output" env:"SCHEMAFLOW_LOG_OUTPUT"`
	FilePrefix string `yaml:"file_prefix" env:"SCHEMAFLOW_LOG_FILE_PREFIX"`
}

// Default returns the compiled-in configuration.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Host:               "0.0.0.0",
			Port:               8080,
			ReadTimeoutSec:     15,
			WriteTimeoutSec:    30,
			IdleTimeoutSec:     120,
			ShutdownTimeoutSec: 10,
		},
		Ops: OpsConfig{
			Host: "0.0.0.0",
			Port: 9090,
		},
		Database: DatabaseConfig{
			Driver:             "postgres",
			MaxOpenConns:       25,
			MaxIdleConns:       5,
			ConnMaxLifetimeSec: 300,
		},
		Auth: AuthConfig{
			TokenTTLMin: 24 * 60,
		},
		Mappings: MappingsConfig{
			DefaultTimeoutMs: 10_000,
			MaxTimeoutMs:     120_000,
			MaxBodyBytes:     4 << 20,
			DenyPrivateHosts: true,
		},
		RateLimit: RateLimitConfig{
			RPS:   20,
			Burst: 40,
		},
		Scheduler: SchedulerConfig{
			Enabled:       true,
			RunTimeoutSec: 30,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stdout",
		},
	}
}

// Load builds the configuration from defaults and environment variables.
func Load() (*Config, error) {
	return LoadFile("")
}

// LoadFile layers an optional YAML file between defaults and environment
// variables.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	if err := envdecode.Decode(&cfg); err != nil && err != envdecode.ErrNoTargetFieldsAreSet {
		return nil, fmt.Errorf("decode environment: %w", err)
	}

	// Conventional fallback used by local tooling and CI.
	if cfg.Database.DSN == "" {
		cfg.Database.DSN = os.Getenv("DATABASE_URL")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks invariants and normalizes derived fields.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("config: server port %d out of range", c.Server.Port)
	}
	if c.Ops.Port < 0 || c.Ops.Port > 65535 {
		return fmt.Errorf("config: ops port %d out of range", c.Ops.Port)
	}
	if c.Ops.Port == c.Server.Port {
		return fmt.Errorf("config: ops port %d collides with server port", c.Ops.Port)
	}

	c.Database.Driver = strings.TrimSpace(strings.ToLower(c.Database.Driver))
	if c.Database.DSN != "" && c.Database.Driver != "postgres" {
		return fmt.Errorf("config: unsupported database driver %q", c.Database.Driver)
	}

	if c.Auth.TokenTTLMin <= 0 {
		c.Auth.TokenTTLMin = 24 * 60
	}
	if c.RateLimit.RPS <= 0 {
		c.RateLimit.RPS = 20
	}
	if c.RateLimit.Burst <= 0 {
		c.RateLimit.Burst = int(c.RateLimit.RPS) * 2
	}
	if c.Mappings.DefaultTimeoutMs <= 0 {
		c.Mappings.DefaultTimeoutMs = 10_000
	}
	if c.Mappings.MaxTimeoutMs < c.Mappings.DefaultTimeoutMs {
		c.Mappings.MaxTimeoutMs = c.Mappings.DefaultTimeoutMs
	}
	if c.Mappings.MaxBodyBytes <= 0 {
		c.Mappings.MaxBodyBytes = 4 << 20
	}
	if c.Scheduler.RunTimeoutSec <= 0 {
		c.Scheduler.RunTimeoutSec = 30
	}

	for i, origin := range c.Server.CORSOrigins {
		c.Server.CORSOrigins[i] = strings.TrimSpace(origin)
	}
	for i, host := range c.Mappings.AllowedHosts {
		c.Mappings.AllowedHosts[i] = strings.TrimSpace(strings.ToLower(host))
	}
	return nil
}
