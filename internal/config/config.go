package config

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds application configuration
type Config struct {
	Port            int             `yaml:"port"`
	Database        DatabaseConfig  `yaml:"database"`
	JWTSecret       string          `yaml:"jwt_secret"`
	Environment     string          `yaml:"environment"`
	CORSOrigins     []string        `yaml:"cors_origins"`
	AllowPrivateIPs bool            `yaml:"allow_private_ips"`
	Auth            AuthConfig      `yaml:"auth"`
	Log             LogConfig       `yaml:"log"`
	Engine          EngineConfig    `yaml:"engine"`
	Retention       RetentionConfig `yaml:"retention"`
	Uptime          UptimeConfig    `yaml:"uptime"`

	// Warnings collected while loading, logged once the logger exists.
	Warnings []string `yaml:"-"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Type         string `yaml:"type"` // postgres, sqlite
	DSN          string `yaml:"dsn"`
	MaxOpenConns int    `yaml:"max_open_conns"`
	MaxIdleConns int    `yaml:"max_idle_conns"`
	LogQueries   bool   `yaml:"log_queries"`
}

// AuthConfig controls the management API credentials. The admin password is
// given either in plain text, hashed at startup, or as a bcrypt hash.
type AuthConfig struct {
	AdminUsername     string        `yaml:"admin_username"`
	AdminPassword     string        `yaml:"admin_password"`
	AdminPasswordHash string        `yaml:"admin_password_hash"`
	TokenTTL          time.Duration `yaml:"token_ttl"`
}

// LogConfig controls the zap logger and the optional rolling file
type LogConfig struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"` // json, console
	File       string `yaml:"file"`
	MaxSize    int    `yaml:"max_size"`    // MB
	MaxBackups int    `yaml:"max_backups"`
	MaxAge     int    `yaml:"max_age"`     // days
	Compress   bool   `yaml:"compress"`
}

// EngineConfig tunes the heartbeat engine
type EngineConfig struct {
	MaxConcurrentProbes int           `yaml:"max_concurrent_probes"`
	WriterShards        int           `yaml:"writer_shards"`
	WriterQueueSize     int           `yaml:"writer_queue_size"`
	WriterMaxRetries    int           `yaml:"writer_max_retries"`
	WriterMinBackoff    time.Duration `yaml:"writer_min_backoff"`
	WriterMaxBackoff    time.Duration `yaml:"writer_max_backoff"`
	FailureThreshold    int           `yaml:"failure_threshold"`
	RecoveryThreshold   int           `yaml:"recovery_threshold"`
	NotifyTimeout       time.Duration `yaml:"notify_timeout"`
}

// RetentionConfig controls how long raw and aggregated data is kept
type RetentionConfig struct {
	HeartbeatDays   int `yaml:"heartbeat_days"`
	HourlyStatsDays int `yaml:"hourly_stats_days"`
	DailyStatsDays  int `yaml:"daily_stats_days"`
}

// UptimeConfig tunes the uptime calculator
type UptimeConfig struct {
	// CacheTTL bounds how long a computed uptime percentage is served
	// before it is recalculated. 0 disables the cache.
	CacheTTL time.Duration `yaml:"cache_ttl"`
}

// Load loads configuration from an optional YAML file and environment variables.
// Environment variables take precedence over the file.
func Load() (*Config, error) {
	cfg := defaults()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	cfg.applyEnv()

	if cfg.JWTSecret == "" {
		if cfg.Environment == "production" {
			return nil, fmt.Errorf("JWT_SECRET environment variable is required in production")
		}
		cfg.Warnings = append(cfg.Warnings,
			"JWT_SECRET not set, generated a random secret that changes on restart")
		secret, err := generateRandomSecret()
		if err != nil {
			return nil, err
		}
		cfg.JWTSecret = secret
	}

	if len(cfg.CORSOrigins) == 0 {
		if cfg.Environment != "development" {
			cfg.Warnings = append(cfg.Warnings, "APP_URL not set, using default localhost origins")
		}
		cfg.CORSOrigins = []string{"http://localhost:3000", "http://localhost:8080"}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

func defaults() *Config {
	return &Config{
		Port:        8080,
		Environment: "production",
		Database: DatabaseConfig{
			Type:         "postgres",
			MaxOpenConns: 25,
			MaxIdleConns: 5,
		},
		Auth: AuthConfig{
			AdminUsername: "admin",
			TokenTTL:      2 * time.Hour,
		},
		Log: LogConfig{
			Level:      "info",
			Format:     "json",
			MaxSize:    100,
			MaxBackups: 5,
			MaxAge:     30,
			Compress:   true,
		},
		Engine: EngineConfig{
			MaxConcurrentProbes: 256,
			WriterShards:        4,
			WriterQueueSize:     1024,
			WriterMaxRetries:    5,
			WriterMinBackoff:    100 * time.Millisecond,
			WriterMaxBackoff:    5 * time.Second,
			FailureThreshold:    3,
			RecoveryThreshold:   1,
			NotifyTimeout:       30 * time.Second,
		},
		Retention: RetentionConfig{
			HeartbeatDays:   90,
			HourlyStatsDays: 365,
			DailyStatsDays:  730,
		},
		Uptime: UptimeConfig{
			CacheTTL: time.Minute,
		},
	}
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
	c.Port = getEnvInt("PORT", c.Port)
	c.Environment = getEnv("ENVIRONMENT", c.Environment)
	c.JWTSecret = getEnv("JWT_SECRET", c.JWTSecret)
	c.AllowPrivateIPs = getEnvBool("ALLOW_PRIVATE_IPS", c.AllowPrivateIPs)

	c.Database.Type = getEnv("DATABASE_TYPE", c.Database.Type)
	c.Database.DSN = getEnv("DATABASE_DSN", c.Database.DSN)
	if c.Database.DSN == "" {
		if c.Database.Type == "sqlite" {
			c.Database.DSN = "inframirror.db"
		} else {
			c.Database.DSN = buildPostgresDSN()
		}
	}
	c.Database.MaxOpenConns = getEnvInt("DB_MAX_OPEN_CONNS", c.Database.MaxOpenConns)
	c.Database.MaxIdleConns = getEnvInt("DB_MAX_IDLE_CONNS", c.Database.MaxIdleConns)
	c.Database.LogQueries = getEnvBool("DB_LOG_QUERIES", c.Database.LogQueries)

	c.Log.Level = getEnv("LOG_LEVEL", c.Log.Level)
	c.Log.Format = getEnv("LOG_FORMAT", c.Log.Format)
	c.Log.File = getEnv("LOG_FILE", c.Log.File)

	c.Engine.MaxConcurrentProbes = getEnvInt("ENGINE_MAX_CONCURRENT_PROBES", c.Engine.MaxConcurrentProbes)
	c.Engine.WriterShards = getEnvInt("ENGINE_WRITER_SHARDS", c.Engine.WriterShards)
	c.Engine.WriterQueueSize = getEnvInt("ENGINE_WRITER_QUEUE_SIZE", c.Engine.WriterQueueSize)
	c.Engine.WriterMaxRetries = getEnvInt("ENGINE_WRITER_MAX_RETRIES", c.Engine.WriterMaxRetries)
	c.Engine.WriterMinBackoff = getEnvDuration("ENGINE_WRITER_MIN_BACKOFF", c.Engine.WriterMinBackoff)
	c.Engine.WriterMaxBackoff = getEnvDuration("ENGINE_WRITER_MAX_BACKOFF", c.Engine.WriterMaxBackoff)
	c.Engine.FailureThreshold = getEnvInt("ENGINE_FAILURE_THRESHOLD", c.Engine.FailureThreshold)
	c.Engine.RecoveryThreshold = getEnvInt("ENGINE_RECOVERY_THRESHOLD", c.Engine.RecoveryThreshold)
	c.Engine.NotifyTimeout = getEnvDuration("ENGINE_NOTIFY_TIMEOUT", c.Engine.NotifyTimeout)

	c.Auth.AdminUsername = getEnv("ADMIN_USERNAME", c.Auth.AdminUsername)
	c.Auth.AdminPassword = getEnv("ADMIN_PASSWORD", c.Auth.AdminPassword)
	c.Auth.AdminPasswordHash = getEnv("ADMIN_PASSWORD_HASH", c.Auth.AdminPasswordHash)
	c.Auth.TokenTTL = getEnvDuration("AUTH_TOKEN_TTL", c.Auth.TokenTTL)

	c.Retention.HeartbeatDays = getEnvInt("RETENTION_HEARTBEAT_DAYS", c.Retention.HeartbeatDays)
	c.Retention.HourlyStatsDays = getEnvInt("RETENTION_HOURLY_STATS_DAYS", c.Retention.HourlyStatsDays)
	c.Retention.DailyStatsDays = getEnvInt("RETENTION_DAILY_STATS_DAYS", c.Retention.DailyStatsDays)

	c.Uptime.CacheTTL = getEnvDuration("UPTIME_CACHE_TTL", c.Uptime.CacheTTL)

	if appURL := getAppURL(); appURL != "" {
		c.CORSOrigins = []string{appURL}
	}
}

func buildPostgresDSN() string {
	host := getEnv("POSTGRES_HOST", "localhost")
	port := getEnv("POSTGRES_PORT", "5432")
	user := getEnv("POSTGRES_USER", "inframirror")
	password := getEnv("POSTGRES_PASSWORD", "secret")
	dbName := getEnv("POSTGRES_DB", "inframirror")
	sslMode := getEnv("POSTGRES_SSLMODE", "disable")

	u := url.URL{
		Scheme: "postgresql",
		User:   url.UserPassword(user, password),
		Host:   fmt.Sprintf("%s:%s", host, port),
		Path:   dbName,
	}

	query := u.Query()
	query.Set("sslmode", sslMode)
	u.RawQuery = query.Encode()

	return u.String()
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Environment == "production" {
		if len(c.JWTSecret) < 32 {
			return fmt.Errorf("JWT_SECRET must be at least 32 characters in production")
		}

		insecureSecrets := []string{
			"change-this-secret-in-production",
			"change-me-in-production",
			"secret",
			"password",
			"changeme",
		}
		for _, insecure := range insecureSecrets {
			if c.JWTSecret == insecure {
				return fmt.Errorf("JWT_SECRET is set to an insecure default value. Please set a strong random secret")
			}
		}
	} else if len(c.JWTSecret) < 16 {
		return fmt.Errorf("JWT_SECRET must be at least 16 characters long")
	}

	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Port)
	}

	switch c.Database.Type {
	case "postgres", "sqlite":
	default:
		return fmt.Errorf("unsupported database type: %s", c.Database.Type)
	}

	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unsupported log level: %s", c.Log.Level)
	}

	if c.Engine.MaxConcurrentProbes < 1 {
		return fmt.Errorf("ENGINE_MAX_CONCURRENT_PROBES must be at least 1")
	}
	if c.Engine.WriterShards < 1 {
		return fmt.Errorf("ENGINE_WRITER_SHARDS must be at least 1")
	}
	if c.Engine.WriterQueueSize < 1 {
		return fmt.Errorf("ENGINE_WRITER_QUEUE_SIZE must be at least 1")
	}
	if c.Engine.WriterMaxRetries < 0 {
		return fmt.Errorf("ENGINE_WRITER_MAX_RETRIES must not be negative")
	}
	if c.Engine.WriterMinBackoff > c.Engine.WriterMaxBackoff {
		return fmt.Errorf("writer min backoff %s exceeds max backoff %s", c.Engine.WriterMinBackoff, c.Engine.WriterMaxBackoff)
	}
	if c.Engine.FailureThreshold < 1 || c.Engine.RecoveryThreshold < 1 {
		return fmt.Errorf("failure and recovery thresholds must be at least 1")
	}

	if c.Retention.HeartbeatDays < 1 {
		return fmt.Errorf("RETENTION_HEARTBEAT_DAYS must be at least 1")
	}

	if c.Auth.AdminUsername == "" {
		return fmt.Errorf("ADMIN_USERNAME must not be empty")
	}
	if c.Auth.TokenTTL <= 0 {
		return fmt.Errorf("AUTH_TOKEN_TTL must be positive")
	}

	if c.Uptime.CacheTTL < 0 {
		return fmt.Errorf("UPTIME_CACHE_TTL must not be negative")
	}

	return nil
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return fallback
}

func generateRandomSecret() (string, error) {
	bytes := make([]byte, 32)
	if _, err := rand.Read(bytes); err != nil {
		return "", fmt.Errorf("failed to generate random secret: %w", err)
	}
	return base64.URLEncoding.EncodeToString(bytes), nil
}

func getAppURL() string {
	appURL := os.Getenv("APP_URL")
	if appURL == "" {
		return ""
	}
	return strings.TrimRight(appURL, "/")
}
