package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDefaultsValidate(t *testing.T) {
	cfg := Defaults()
	require.NoError(t, cfg.Validate())
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown mode", func(c *Config) { c.Mode = "turbo" }},
		{"unknown log level", func(c *Config) { c.LogLevel = "verbose" }},
		{"bad postgres port", func(c *Config) { c.Postgres.Port = 70000 }},
		{"pool min above max", func(c *Config) { c.Postgres.PoolMinConns = 50 }},
		{"empty redis addr", func(c *Config) { c.Redis.Addr = "" }},
		{"zero max bid", func(c *Config) { c.Engine.MaxBid = 0 }},
		{"zero iteration cap", func(c *Config) { c.Engine.ProxyIterationCap = 0 }},
		{"zero tick interval", func(c *Config) { c.Lifecycle.TickInterval = duration{} }},
		{"critical above warning", func(c *Config) { c.Lifecycle.CriticalWithin = duration{time.Hour} }},
		{"archive without bucket", func(c *Config) {
			c.Archive.Enabled = true
			c.S3.Bucket = ""
		}},
		{"bad server port", func(c *Config) { c.Server.Port = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			tt.mutate(&cfg)
			require.Error(t, cfg.Validate())
		})
	}
}

func TestLoadMergesFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	data := `
mode = "api"

[server]
port = 9100

[lifecycle]
snipe_window = "90s"
snipe_extension = "45s"
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o600))

	t.Setenv("GAVEL_REDIS_ADDR", "redis.internal:6380")
	t.Setenv("GAVEL_ENGINE_MAX_BID", "250000")
	t.Setenv("GAVEL_SERVER_PORT", "9200")

	cfg, err := Load(path)
	require.NoError(t, err)

	require.Equal(t, "api", cfg.Mode)
	require.Equal(t, 90*time.Second, cfg.Lifecycle.SnipeWindow.Duration)
	require.Equal(t, 45*time.Second, cfg.Lifecycle.SnipeExtension.Duration)

	// Env overrides win over both file and defaults.
	require.Equal(t, "redis.internal:6380", cfg.Redis.Addr)
	require.Equal(t, float64(250000), cfg.Engine.MaxBid)
	require.Equal(t, 9200, cfg.Server.Port)

	// Untouched sections keep defaults.
	require.Equal(t, "localhost", cfg.Postgres.Host)
	require.NoError(t, cfg.Validate())
}

func TestRedactedConfig(t *testing.T) {
	cfg := Defaults()
	cfg.Postgres.Password = "hunter2"
	cfg.Redis.Password = "s3cret"
	cfg.Server.APIKey = "key-123"
	cfg.Notify.TelegramToken = "tok"

	red := RedactedConfig(&cfg)
	require.Equal(t, "***", red.Postgres.Password)
	require.Equal(t, "***", red.Redis.Password)
	require.Equal(t, "***", red.Server.APIKey)
	require.Equal(t, "***", red.Notify.TelegramToken)

	// Original is untouched.
	require.Equal(t, "hunter2", cfg.Postgres.Password)

	// Mutating a redacted slice must not leak back.
	red.Server.CORSOrigins[0] = "mutated"
	require.NotEqual(t, "mutated", cfg.Server.CORSOrigins[0])
}
