package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeYAML(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_OverridesAndDefaults(t *testing.T) {
	cfg, err := Load(writeYAML(t, `
server:
  port: 9090
security:
  jwt_secret: s3cret
encounter:
  bots_per_wave: 3
  inter_wave_delay: 5s
tracker:
  use_velocity_change: false
`))
	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 3, cfg.Encounter.BotsPerWave)
	assert.Equal(t, 5*time.Second, cfg.Encounter.InterWaveDelay)
	assert.False(t, cfg.Tracker.UseVelocityChange)

	// Untouched keys keep their defaults.
	assert.Equal(t, time.Second, cfg.Encounter.SpawnInterval)
	assert.Equal(t, 250*time.Millisecond, cfg.Tracker.SelfDamageInterval)
	assert.Equal(t, "sqlite", cfg.Database.Mode)
	assert.Equal(t, 200*time.Millisecond, cfg.Database.SlowQuery)
}

func TestLoad_EnvironmentWins(t *testing.T) {
	t.Setenv("COOPWAVE_SERVER_PORT", "7070")
	t.Setenv("COOPWAVE_SECURITY_JWT_SECRET", "from-env")
	t.Setenv("COOPWAVE_CACHE_REDIS_ADDR", "redis:6379")
	t.Setenv("COOPWAVE_TRACKER_STALL_WINDOW", "3s")

	cfg, err := Load(writeYAML(t, "server:\n  port: 9090\n"))
	require.NoError(t, err)
	assert.Equal(t, 7070, cfg.Server.Port)
	assert.Equal(t, "from-env", cfg.Security.JWTSecret)
	assert.Equal(t, "redis:6379", cfg.Cache.RedisAddr)
	assert.Equal(t, 3*time.Second, cfg.Tracker.StallWindow)
}

func TestLoad_Invalid(t *testing.T) {
	_, err := Load(writeYAML(t, `
server:
  port: 0
database:
  mode: mysql
encounter:
  tick_rate: -1
`))
	require.Error(t, err)
	for _, key := range []string{"server.port", "database.mysql_dsn", "security.jwt_secret", "encounter.tick_rate"} {
		assert.Contains(t, err.Error(), key)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
		bad    string
	}{
		{"defaults plus secret", func(*Config) {}, ""},
		{"memory db", func(c *Config) { c.Database.Mode = "sqlite_memory" }, ""},
		{"unknown db", func(c *Config) { c.Database.Mode = "postgres" }, "database.mode"},
		{"no ttl", func(c *Config) { c.Security.TicketTTL = 0 }, "security.ticket_ttl"},
		{"negative bots", func(c *Config) { c.Encounter.BotsPerWave = -1 }, "encounter.bots_per_wave"},
		{"no power levels", func(c *Config) { c.Tracker.MaxPowerLevel = 0 }, "tracker.max_power_level"},
		{"no health", func(c *Config) { c.Tracker.MaxHealth = 0 }, "tracker.max_health"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			cfg.Security.JWTSecret = "x"
			tc.mutate(cfg)
			err := cfg.Validate()
			if tc.bad == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.bad)
		})
	}
}

func TestDefault(t *testing.T) {
	cfg := Default()
	assert.Equal(t, 20, cfg.Encounter.TickRate)
	assert.Equal(t, 2*time.Second, cfg.Encounter.InterWaveDelay)
	assert.True(t, cfg.Tracker.UseVelocityChange)
	assert.Equal(t, 4, cfg.Tracker.MaxPowerLevel)
	assert.Equal(t, 200.0, cfg.Tracker.ExplosionRadius)
	assert.Empty(t, cfg.Security.JWTSecret)
}
