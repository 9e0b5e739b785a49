// Package config loads server settings from YAML with viper. Every key can
// be overridden from the environment as COOPWAVE_<SECTION>_<KEY>, for
// example COOPWAVE_SECURITY_JWT_SECRET.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const envPrefix = "COOPWAVE"

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Security  SecurityConfig  `mapstructure:"security"`
	Encounter EncounterConfig `mapstructure:"encounter"`
	Tracker   TrackerConfig   `mapstructure:"tracker"`
}

type ServerConfig struct {
	Port     int    `mapstructure:"port"`
	Debug    bool   `mapstructure:"debug"`
	AdminKey string `mapstructure:"admin_key"`
}

type DatabaseConfig struct {
	Mode         string        `mapstructure:"mode"` // sqlite | sqlite_memory | mysql
	SQLitePath   string        `mapstructure:"sqlite_path"`
	MySQLDSN     string        `mapstructure:"mysql_dsn"`
	MySQLMaxOpen int           `mapstructure:"mysql_max_open"`
	MySQLMaxIdle int           `mapstructure:"mysql_max_idle"`
	MySQLMaxLife time.Duration `mapstructure:"mysql_max_life"`
	// SlowQuery is the duration above which journal queries are logged at warn.
	SlowQuery time.Duration `mapstructure:"slow_query"`
}

type CacheConfig struct {
	RedisAddr       string        `mapstructure:"redis_addr"`
	RedisPassword   string        `mapstructure:"redis_password"`
	RedisDB         int           `mapstructure:"redis_db"`
	LocalGCInterval time.Duration `mapstructure:"local_gc_interval"`
	LocalPubSubBuf  int           `mapstructure:"local_pubsub_buf"`
}

type SecurityConfig struct {
	JWTSecret      string        `mapstructure:"jwt_secret"`
	TicketTTL      time.Duration `mapstructure:"ticket_ttl"`
	RateLimitRPS   float64       `mapstructure:"rate_limit_rps"`
	RateLimitBurst int           `mapstructure:"rate_limit_burst"`
	// AllowedOrigins lists the WebSocket/SSE origins that are permitted.
	// An empty slice allows all origins (useful for local development only).
	AllowedOrigins []string `mapstructure:"allowed_origins"`
	// AdminIPs restricts the admin API to these client IPs. Empty allows any.
	AdminIPs []string `mapstructure:"admin_ips"`
}

// EncounterConfig drives arenas and their wave director.
type EncounterConfig struct {
	ArenaPath      string        `mapstructure:"arena_path"` // empty uses the built-in layout
	TickRate       int           `mapstructure:"tick_rate"`
	MaxArenas      int           `mapstructure:"max_arenas"`
	ShotDamage     float64       `mapstructure:"shot_damage"`
	InterWaveDelay time.Duration `mapstructure:"inter_wave_delay"`
	SpawnInterval  time.Duration `mapstructure:"spawn_interval"`
	CheckInterval  time.Duration `mapstructure:"check_interval"`
	BotsPerWave    int           `mapstructure:"bots_per_wave"`
	FinishedGrace  time.Duration `mapstructure:"finished_grace"`
	ReapInterval   time.Duration `mapstructure:"reap_interval"`
	SnapshotHz     int           `mapstructure:"snapshot_hz"`
	// WaveFormula is a JavaScript expression over `wave` and `perWave`
	// giving the trackers per wave. Empty means bots_per_wave * wave.
	WaveFormula   string        `mapstructure:"wave_formula"`
	ScriptTimeout time.Duration `mapstructure:"script_timeout"`
}

// TrackerConfig holds the tracker bot tuning.
type TrackerConfig struct {
	MovementForce      float64       `mapstructure:"movement_force"`
	UseVelocityChange  bool          `mapstructure:"use_velocity_change"`
	ArrivalThreshold   float64       `mapstructure:"arrival_threshold"`
	StallWindow        time.Duration `mapstructure:"stall_window"`
	ExplosionDamage    float64       `mapstructure:"explosion_damage"`
	ExplosionRadius    float64       `mapstructure:"explosion_radius"`
	RemovalDelay       time.Duration `mapstructure:"removal_delay"`
	TriggerRadius      float64       `mapstructure:"trigger_radius"`
	SelfDamageInterval time.Duration `mapstructure:"self_damage_interval"`
	SelfDamageAmount   float64       `mapstructure:"self_damage_amount"`
	PowerCheckInterval time.Duration `mapstructure:"power_check_interval"`
	NeighborRadius     float64       `mapstructure:"neighbor_radius"`
	MaxPowerLevel      int           `mapstructure:"max_power_level"`
	MaxHealth          float64       `mapstructure:"max_health"`
	Radius             float64       `mapstructure:"radius"`
}

// Load reads the YAML file at path, applies environment overrides and
// validates the result.
func Load(path string) (*Config, error) {
	v := newViper()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	cfg, err := decode(v)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns the built-in defaults with environment overrides applied.
// It is not validated; the JWT secret in particular is empty.
func Default() *Config {
	cfg, _ := decode(newViper())
	return cfg
}

func newViper() *viper.Viper {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

func decode(v *viper.Viper) (*Config, error) {
	cfg := new(Config)
	if err := v.Unmarshal(cfg); err != nil {
		return cfg, fmt.Errorf("config: decode: %w", err)
	}
	return cfg, nil
}

// Validate reports every setting that would stop the server from working.
func (c *Config) Validate() error {
	var errs []error
	bad := func(key, format string, args ...any) {
		errs = append(errs, fmt.Errorf("%s: %s", key, fmt.Sprintf(format, args...)))
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		bad("server.port", "%d is not a TCP port", c.Server.Port)
	}
	switch c.Database.Mode {
	case "sqlite", "sqlite_memory":
	case "mysql":
		if c.Database.MySQLDSN == "" {
			bad("database.mysql_dsn", "required when mode is mysql")
		}
	default:
		bad("database.mode", "unknown mode %q", c.Database.Mode)
	}
	if c.Security.JWTSecret == "" {
		bad("security.jwt_secret", "must be set")
	}
	if c.Security.TicketTTL <= 0 {
		bad("security.ticket_ttl", "must be positive")
	}
	if c.Encounter.TickRate <= 0 {
		bad("encounter.tick_rate", "must be positive")
	}
	if c.Encounter.BotsPerWave < 0 {
		bad("encounter.bots_per_wave", "must not be negative")
	}
	if c.Tracker.MaxPowerLevel < 1 {
		bad("tracker.max_power_level", "must be at least 1")
	}
	if c.Tracker.MaxHealth <= 0 {
		bad("tracker.max_health", "must be positive")
	}
	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("config: %w", errors.Join(errs...))
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.debug", false)
	v.SetDefault("server.admin_key", "")

	v.SetDefault("database.mode", "sqlite")
	v.SetDefault("database.sqlite_path", "./data/coopwave.db")
	v.SetDefault("database.mysql_dsn", "")
	v.SetDefault("database.mysql_max_open", 50)
	v.SetDefault("database.mysql_max_idle", 10)
	v.SetDefault("database.mysql_max_life", "1h")
	v.SetDefault("database.slow_query", "200ms")

	v.SetDefault("cache.redis_addr", "")
	v.SetDefault("cache.redis_password", "")
	v.SetDefault("cache.redis_db", 0)
	v.SetDefault("cache.local_gc_interval", "30s")
	v.SetDefault("cache.local_pubsub_buf", 256)

	v.SetDefault("security.jwt_secret", "")
	v.SetDefault("security.ticket_ttl", "2h")
	v.SetDefault("security.rate_limit_rps", 100)
	v.SetDefault("security.rate_limit_burst", 200)
	v.SetDefault("security.allowed_origins", []string{})
	v.SetDefault("security.admin_ips", []string{})

	v.SetDefault("encounter.arena_path", "")
	v.SetDefault("encounter.tick_rate", 20)
	v.SetDefault("encounter.max_arenas", 64)
	v.SetDefault("encounter.shot_damage", 20)
	v.SetDefault("encounter.inter_wave_delay", "2s")
	v.SetDefault("encounter.spawn_interval", "1s")
	v.SetDefault("encounter.check_interval", "1s")
	v.SetDefault("encounter.bots_per_wave", 2)
	v.SetDefault("encounter.finished_grace", "5m")
	v.SetDefault("encounter.reap_interval", "30s")
	v.SetDefault("encounter.snapshot_hz", 10)
	v.SetDefault("encounter.wave_formula", "")
	v.SetDefault("encounter.script_timeout", "100ms")

	v.SetDefault("tracker.movement_force", 500)
	v.SetDefault("tracker.use_velocity_change", true)
	v.SetDefault("tracker.arrival_threshold", 300)
	v.SetDefault("tracker.stall_window", "1s")
	v.SetDefault("tracker.explosion_damage", 40)
	v.SetDefault("tracker.explosion_radius", 200)
	v.SetDefault("tracker.removal_delay", "2s")
	v.SetDefault("tracker.trigger_radius", 200)
	v.SetDefault("tracker.self_damage_interval", "250ms")
	v.SetDefault("tracker.self_damage_amount", 20)
	v.SetDefault("tracker.power_check_interval", "1s")
	v.SetDefault("tracker.neighbor_radius", 600)
	v.SetDefault("tracker.max_power_level", 4)
	v.SetDefault("tracker.max_health", 100)
	v.SetDefault("tracker.radius", 40)
}
