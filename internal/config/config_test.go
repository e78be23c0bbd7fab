package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"gotest.tools/v3/assert"
)

func TestLoadDefaultsForDevelopment(t *testing.T) {
	t.Setenv("ENVIRONMENT", "development")
	t.Setenv("DATABASE_TYPE", "sqlite")

	cfg, err := Load()
	assert.NilError(t, err)
	assert.Equal(t, cfg.Port, 8080)
	assert.Equal(t, cfg.Database.DSN, "inframirror.db")
	assert.Equal(t, cfg.Engine.FailureThreshold, 3)
	assert.Equal(t, cfg.Engine.RecoveryThreshold, 1)
	assert.Assert(t, len(cfg.JWTSecret) >= 32)
	assert.Assert(t, len(cfg.Warnings) > 0)
	assert.Equal(t, cfg.Auth.AdminUsername, "admin")
	assert.Equal(t, cfg.Auth.TokenTTL, 2*time.Hour)
	assert.Equal(t, cfg.Uptime.CacheTTL, time.Minute)
}

func TestLoadRequiresSecretInProduction(t *testing.T) {
	t.Setenv("ENVIRONMENT", "production")
	t.Setenv("JWT_SECRET", "")

	_, err := Load()
	assert.ErrorContains(t, err, "JWT_SECRET")
}

func TestLoadFileThenEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
port: 9090
environment: development
jwt_secret: a-long-enough-development-secret
database:
  type: sqlite
  dsn: file.db
engine:
  max_concurrent_probes: 8
  writer_min_backoff: 50ms
  writer_max_backoff: 1s
uptime:
  cache_ttl: 30s
`
	assert.NilError(t, os.WriteFile(path, []byte(content), 0o600))

	t.Setenv("CONFIG_FILE", path)
	t.Setenv("PORT", "9191")

	cfg, err := Load()
	assert.NilError(t, err)
	assert.Equal(t, cfg.Port, 9191)
	assert.Equal(t, cfg.Database.DSN, "file.db")
	assert.Equal(t, cfg.Engine.MaxConcurrentProbes, 8)
	assert.Equal(t, cfg.Engine.WriterMinBackoff, 50*time.Millisecond)
	assert.Equal(t, cfg.Uptime.CacheTTL, 30*time.Second)

	t.Setenv("UPTIME_CACHE_TTL", "5m")
	cfg, err = Load()
	assert.NilError(t, err)
	assert.Equal(t, cfg.Uptime.CacheTTL, 5*time.Minute)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "short production secret",
			mutate:  func(c *Config) { c.JWTSecret = "short" },
			wantErr: "at least 32 characters",
		},
		{
			name:    "insecure default",
			mutate:  func(c *Config) { c.JWTSecret = "change-this-secret-in-production" },
			wantErr: "insecure default",
		},
		{
			name:    "unknown database",
			mutate:  func(c *Config) { c.Database.Type = "mysql" },
			wantErr: "unsupported database type",
		},
		{
			name:    "no probe budget",
			mutate:  func(c *Config) { c.Engine.MaxConcurrentProbes = 0 },
			wantErr: "ENGINE_MAX_CONCURRENT_PROBES",
		},
		{
			name: "inverted backoff",
			mutate: func(c *Config) {
				c.Engine.WriterMinBackoff = time.Minute
				c.Engine.WriterMaxBackoff = time.Second
			},
			wantErr: "exceeds max backoff",
		},
		{
			name:    "no admin user",
			mutate:  func(c *Config) { c.Auth.AdminUsername = "" },
			wantErr: "ADMIN_USERNAME",
		},
		{
			name:    "negative uptime cache",
			mutate:  func(c *Config) { c.Uptime.CacheTTL = -time.Second },
			wantErr: "UPTIME_CACHE_TTL",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaults()
			cfg.JWTSecret = "0123456789abcdef0123456789abcdef"
			tt.mutate(cfg)
			assert.ErrorContains(t, cfg.Validate(), tt.wantErr)
		})
	}
}
