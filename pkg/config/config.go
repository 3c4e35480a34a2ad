package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// ConfigFileEnv names the optional YAML file applied before environment overrides
const ConfigFileEnv = "PERMGATE_CONFIG_FILE"

// Config holds all application configuration
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Database      DatabaseConfig      `yaml:"database"`
	Cache         CacheConfig         `yaml:"cache"`
	RateLimit     RateLimitConfig     `yaml:"rate_limit"`
	Maintenance   MaintenanceConfig   `yaml:"maintenance"`
	Audit         AuditConfig         `yaml:"audit"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            string        `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	// AuthOptional lets requests without a bearer token reach the gates, which answer 401
	AuthOptional bool `yaml:"auth_optional"`
}

// Addr returns host:port
func (s ServerConfig) Addr() string {
	return s.Host + ":" + s.Port
}

// DatabaseConfig holds the permission store connection settings
type DatabaseConfig struct {
	Driver          string        `yaml:"driver"` // postgres or sqlite3
	DSN             string        `yaml:"dsn"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	AutoMigrate     bool          `yaml:"auto_migrate"`
}

// CacheConfig holds permission cache settings
type CacheConfig struct {
	Type           string        `yaml:"type"` // memory or redis
	TTL            time.Duration `yaml:"ttl"`
	Size           int           `yaml:"size"`
	RedisURL       string        `yaml:"redis_url"`
	RedisKeyPrefix string        `yaml:"redis_key_prefix"`
}

// RateLimitConfig toggles request rate limiting
type RateLimitConfig struct {
	Enabled bool `yaml:"enabled"`
}

// MaintenanceConfig schedules background jobs
type MaintenanceConfig struct {
	// TokenPurgeSchedule is a standard five-field cron spec; empty disables the purge
	TokenPurgeSchedule string        `yaml:"token_purge_schedule"`
	TokenRetention     time.Duration `yaml:"token_retention"`
}

// AuditConfig selects where authorization audit events go
type AuditConfig struct {
	Sink string `yaml:"sink"` // db, log or none
	// PurgeSchedule is a cron spec for deleting old events from the db sink; empty disables it
	PurgeSchedule string        `yaml:"purge_schedule"`
	Retention     time.Duration `yaml:"retention"`
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	LogLevel       string `yaml:"log_level"`
	MetricsEnabled bool   `yaml:"metrics_enabled"`

	OTelEnabled        bool    `yaml:"otel_enabled"`
	OTelEndpoint       string  `yaml:"otel_endpoint"`
	OTelServiceName    string  `yaml:"otel_service_name"`
	OTelServiceVersion string  `yaml:"otel_service_version"`
	OTelInsecure       bool    `yaml:"otel_insecure"`
	OTelSampleRatio    float64 `yaml:"otel_sample_ratio"`
}

// Default returns the configuration used when nothing is set
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            "8080",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		Database: DatabaseConfig{
			Driver:          "postgres",
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
			AutoMigrate:     true,
		},
		Cache: CacheConfig{
			Type:           "memory",
			TTL:            300000 * time.Millisecond,
			Size:           10000,
			RedisKeyPrefix: "permgate:perms:",
		},
		RateLimit: RateLimitConfig{Enabled: true},
		Maintenance: MaintenanceConfig{
			TokenPurgeSchedule: "0 3 * * *",
			TokenRetention:     30 * 24 * time.Hour,
		},
		Audit: AuditConfig{
			Sink:          "db",
			PurgeSchedule: "30 3 * * *",
			Retention:     90 * 24 * time.Hour,
		},
		Observability: ObservabilityConfig{
			LogLevel:           "info",
			MetricsEnabled:     true,
			OTelEndpoint:       "localhost:4317",
			OTelServiceName:    "permgate",
			OTelServiceVersion: "dev",
			OTelInsecure:       true,
			OTelSampleRatio:    1,
		},
	}
}

// LoadConfig loads defaults, then the YAML file named by PERMGATE_CONFIG_FILE
// if set, then PERMGATE_* environment variables, and validates the result
func LoadConfig() (*Config, error) {
	return Load(os.Getenv(ConfigFileEnv))
}

// Load is LoadConfig with an explicit file path; an empty path skips the file
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}
	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	s := &c.Server
	s.Host = getEnv("PERMGATE_HOST", s.Host)
	s.Port = getEnv("PERMGATE_PORT", s.Port)
	s.ReadTimeout = getEnvDuration("PERMGATE_READ_TIMEOUT", s.ReadTimeout)
	s.WriteTimeout = getEnvDuration("PERMGATE_WRITE_TIMEOUT", s.WriteTimeout)
	s.IdleTimeout = getEnvDuration("PERMGATE_IDLE_TIMEOUT", s.IdleTimeout)
	s.ShutdownTimeout = getEnvDuration("PERMGATE_SHUTDOWN_TIMEOUT", s.ShutdownTimeout)
	s.AuthOptional = getEnvBool("PERMGATE_AUTH_OPTIONAL", s.AuthOptional)

	d := &c.Database
	d.Driver = getEnv("PERMGATE_DB_DRIVER", d.Driver)
	d.DSN = getEnv("PERMGATE_DB_DSN", d.DSN)
	d.MaxOpenConns = getEnvInt("PERMGATE_DB_MAX_OPEN_CONNS", d.MaxOpenConns)
	d.MaxIdleConns = getEnvInt("PERMGATE_DB_MAX_IDLE_CONNS", d.MaxIdleConns)
	d.ConnMaxLifetime = getEnvDuration("PERMGATE_DB_CONN_MAX_LIFETIME", d.ConnMaxLifetime)
	d.AutoMigrate = getEnvBool("PERMGATE_DB_AUTO_MIGRATE", d.AutoMigrate)

	ca := &c.Cache
	ca.Type = getEnv("PERMGATE_CACHE_TYPE", ca.Type)
	ca.TTL = getEnvDuration("PERMGATE_CACHE_TTL", ca.TTL)
	ca.Size = getEnvInt("PERMGATE_CACHE_SIZE", ca.Size)
	ca.RedisURL = getEnv("PERMGATE_REDIS_URL", ca.RedisURL)
	ca.RedisKeyPrefix = getEnv("PERMGATE_REDIS_KEY_PREFIX", ca.RedisKeyPrefix)

	c.RateLimit.Enabled = getEnvBool("PERMGATE_RATE_LIMIT_ENABLED", c.RateLimit.Enabled)

	m := &c.Maintenance
	m.TokenPurgeSchedule = getEnv("PERMGATE_TOKEN_PURGE_SCHEDULE", m.TokenPurgeSchedule)
	m.TokenRetention = getEnvDuration("PERMGATE_TOKEN_RETENTION", m.TokenRetention)

	a := &c.Audit
	a.Sink = getEnv("PERMGATE_AUDIT_SINK", a.Sink)
	a.PurgeSchedule = getEnv("PERMGATE_AUDIT_PURGE_SCHEDULE", a.PurgeSchedule)
	a.Retention = getEnvDuration("PERMGATE_AUDIT_RETENTION", a.Retention)

	o := &c.Observability
	o.LogLevel = getEnv("PERMGATE_LOG_LEVEL", o.LogLevel)
	o.MetricsEnabled = getEnvBool("PERMGATE_METRICS_ENABLED", o.MetricsEnabled)
	o.OTelEnabled = getEnvBool("PERMGATE_OTEL_ENABLED", o.OTelEnabled)
	o.OTelEndpoint = getEnv("PERMGATE_OTEL_ENDPOINT", o.OTelEndpoint)
	o.OTelServiceName = getEnv("PERMGATE_OTEL_SERVICE_NAME", o.OTelServiceName)
	o.OTelServiceVersion = getEnv("PERMGATE_OTEL_SERVICE_VERSION", o.OTelServiceVersion)
	o.OTelInsecure = getEnvBool("PERMGATE_OTEL_INSECURE", o.OTelInsecure)
	o.OTelSampleRatio = getEnvFloat("PERMGATE_OTEL_SAMPLE_RATIO", o.OTelSampleRatio)
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port == "" {
		errs = append(errs, errors.New("server port is required"))
	}

	switch c.Database.Driver {
	case "postgres", "sqlite3":
	default:
		errs = append(errs, fmt.Errorf("invalid database driver: %q (must be postgres or sqlite3)", c.Database.Driver))
	}
	if c.Database.DSN == "" {
		errs = append(errs, errors.New("database DSN is required"))
	}

	switch c.Cache.Type {
	case "memory":
	case "redis":
		if c.Cache.RedisURL == "" {
			errs = append(errs, errors.New("redis URL is required for redis cache"))
		}
	default:
		errs = append(errs, fmt.Errorf("invalid cache type: %q (must be memory or redis)", c.Cache.Type))
	}
	if c.Cache.TTL <= 0 {
		errs = append(errs, errors.New("cache TTL must be positive"))
	}
	if c.Cache.Size <= 0 {
		errs = append(errs, errors.New("cache size must be positive"))
	}

	if spec := c.Maintenance.TokenPurgeSchedule; spec != "" {
		if _, err := cron.ParseStandard(spec); err != nil {
			errs = append(errs, fmt.Errorf("invalid token purge schedule %q: %w", spec, err))
		}
		if c.Maintenance.TokenRetention <= 0 {
			errs = append(errs, errors.New("token retention must be positive"))
		}
	}

	switch c.Audit.Sink {
	case "db", "log", "none":
	default:
		errs = append(errs, fmt.Errorf("invalid audit sink: %q (must be db, log or none)", c.Audit.Sink))
	}
	if spec := c.Audit.PurgeSchedule; spec != "" && c.Audit.Sink == "db" {
		if _, err := cron.ParseStandard(spec); err != nil {
			errs = append(errs, fmt.Errorf("invalid audit purge schedule %q: %w", spec, err))
		}
		if c.Audit.Retention <= 0 {
			errs = append(errs, errors.New("audit retention must be positive"))
		}
	}

	if _, err := logrus.ParseLevel(c.Observability.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("invalid log level: %q", c.Observability.LogLevel))
	}
	if c.Observability.OTelEnabled {
		if c.Observability.OTelEndpoint == "" {
			errs = append(errs, errors.New("OpenTelemetry endpoint is required when OTel is enabled"))
		}
		if c.Observability.OTelServiceName == "" {
			errs = append(errs, errors.New("OpenTelemetry service name is required when OTel is enabled"))
		}
	}
	if r := c.Observability.OTelSampleRatio; r < 0 || r > 1 {
		errs = append(errs, fmt.Errorf("OpenTelemetry sample ratio must be within [0, 1], got %v", r))
	}

	return errors.Join(errs...)
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvFloat returns a float environment variable or a default
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
