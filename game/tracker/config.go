package tracker

import "time"

// Material parameter names written through the EffectSink.
const (
	ParamPowerLevelAlpha = "PowerLevelAlpha"
	ParamLastDamageTaken = "LastTakeDamageTaken"
)

// Config holds the tunables of a tracker agent.
type Config struct {
	MovementForce     float64       `mapstructure:"movement_force"`
	UseVelocityChange bool          `mapstructure:"use_velocity_change"`
	ArrivalThreshold  float64       `mapstructure:"arrival_threshold"`
	StallWindow       time.Duration `mapstructure:"stall_window"`

	ExplosionDamage float64       `mapstructure:"explosion_damage"`
	ExplosionRadius float64       `mapstructure:"explosion_radius"`
	RemovalDelay    time.Duration `mapstructure:"removal_delay"`

	TriggerRadius      float64       `mapstructure:"trigger_radius"`
	SelfDamageInterval time.Duration `mapstructure:"self_damage_interval"`
	SelfDamageAmount   float64       `mapstructure:"self_damage_amount"`

	PowerCheckInterval time.Duration `mapstructure:"power_check_interval"`
	NeighborRadius     float64       `mapstructure:"neighbor_radius"`
	MaxPowerLevel      int           `mapstructure:"max_power_level"`

	MaxHealth float64 `mapstructure:"max_health"`
	Radius    float64 `mapstructure:"radius"`
}

// DefaultConfig returns the stock tracker tuning.
func DefaultConfig() Config {
	return Config{
		MovementForce:      500,
		UseVelocityChange:  true,
		ArrivalThreshold:   300,
		StallWindow:        time.Second,
		ExplosionDamage:    40,
		ExplosionRadius:    200,
		RemovalDelay:       2 * time.Second,
		TriggerRadius:      200,
		SelfDamageInterval: 250 * time.Millisecond,
		SelfDamageAmount:   20,
		PowerCheckInterval: time.Second,
		NeighborRadius:     600,
		MaxPowerLevel:      4,
		MaxHealth:          100,
		Radius:             40,
	}
}

// normalized fills zero-valued numeric fields from DefaultConfig.
// UseVelocityChange is taken as given.
func (c Config) normalized() Config {
	d := DefaultConfig()
	if c.MovementForce <= 0 {
		c.MovementForce = d.MovementForce
	}
	if c.ArrivalThreshold <= 0 {
		c.ArrivalThreshold = d.ArrivalThreshold
	}
	if c.StallWindow <= 0 {
		c.StallWindow = d.StallWindow
	}
	if c.ExplosionDamage <= 0 {
		c.ExplosionDamage = d.ExplosionDamage
	}
	if c.ExplosionRadius <= 0 {
		c.ExplosionRadius = d.ExplosionRadius
	}
	if c.RemovalDelay <= 0 {
		c.RemovalDelay = d.RemovalDelay
	}
	if c.TriggerRadius <= 0 {
		c.TriggerRadius = d.TriggerRadius
	}
	if c.SelfDamageInterval <= 0 {
		c.SelfDamageInterval = d.SelfDamageInterval
	}
	if c.SelfDamageAmount <= 0 {
		c.SelfDamageAmount = d.SelfDamageAmount
	}
	if c.PowerCheckInterval <= 0 {
		c.PowerCheckInterval = d.PowerCheckInterval
	}
	if c.NeighborRadius <= 0 {
		c.NeighborRadius = d.NeighborRadius
	}
	if c.MaxPowerLevel <= 0 {
		c.MaxPowerLevel = d.MaxPowerLevel
	}
	if c.MaxHealth <= 0 {
		c.MaxHealth = d.MaxHealth
	}
	if c.Radius <= 0 {
		c.Radius = d.Radius
	}
	return c
}
