// Package tracker implements the seeker bot: it chases a living player along
// waypoints from a PathOracle, arms itself when a player walks into it, and
// explodes with damage amplified by the number of trackers around it.
package tracker

import (
	"errors"
	"time"

	"github.com/kasuganosora/coopwave/server/game/ai"
	"github.com/kasuganosora/coopwave/server/scheduler"
	"go.uber.org/zap"
)

// ErrMissingCollaborator is returned by New when a required dependency is nil.
var ErrMissingCollaborator = errors.New("tracker: missing collaborator")

// Deps are the collaborators an Agent talks to. Targets, Effects and Remover
// are optional.
type Deps struct {
	Paths   ai.PathOracle
	Targets ai.TargetSelector
	Space   ai.SpatialQuery
	Physics ai.PhysicsSink
	Damage  ai.DamageSink
	Effects ai.EffectSink
	Remover ai.Remover
	Timers  *scheduler.Timers
}

// ExplodeFunc observes an explosion after damage was requested.
type ExplodeFunc func(a *Agent, damage float64)

// Agent is one tracker bot. All methods must be called from the simulation
// thread that advances Deps.Timers.
type Agent struct {
	id     ai.EntityID
	role   ai.Role
	cfg    Config
	deps   Deps
	logger *zap.Logger

	position     ai.Vector3
	nextWaypoint ai.Vector3
	health       float64
	armed        bool
	exploded     bool
	powerLevel   int
	stallTimer   time.Duration
	lastObserved ai.Vector3
	begun        bool

	selfDamage *scheduler.Handle
	powerCheck *scheduler.Handle
	removal    *scheduler.Handle
	onExplode  ExplodeFunc
}

// New creates an agent at pos. Zero-valued Config fields take their defaults.
func New(id ai.EntityID, role ai.Role, pos ai.Vector3, cfg Config, deps Deps, logger *zap.Logger) (*Agent, error) {
	if deps.Timers == nil || deps.Paths == nil || deps.Space == nil ||
		deps.Physics == nil || deps.Damage == nil {
		return nil, ErrMissingCollaborator
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg = cfg.normalized()
	return &Agent{
		id:       id,
		role:     role,
		cfg:      cfg,
		deps:     deps,
		logger:   logger.With(zap.Int64("tracker", int64(id))),
		position: pos,
		health:   cfg.MaxHealth,
	}, nil
}

func (a *Agent) ID() ai.EntityID          { return a.id }
func (a *Agent) Position() ai.Vector3     { return a.position }
func (a *Agent) Categories() ai.Category  { return ai.CategoryPawn | ai.CategoryPhysicsBody }
func (a *Agent) IsTracker() bool          { return true }
func (a *Agent) IsPlayerControlled() bool { return false }

func (a *Agent) Role() ai.Role             { return a.role }
func (a *Agent) Config() Config            { return a.cfg }
func (a *Agent) NextWaypoint() ai.Vector3  { return a.nextWaypoint }
func (a *Agent) Health() float64           { return a.health }
func (a *Agent) Armed() bool               { return a.armed }
func (a *Agent) Exploded() bool            { return a.exploded }
func (a *Agent) PowerLevel() int           { return a.powerLevel }
func (a *Agent) StallTimer() time.Duration { return a.stallTimer }

// SetPosition places the agent. The world calls it after each physics step.
func (a *Agent) SetPosition(p ai.Vector3) { a.position = p }

// OnExplode registers fn to run when the agent explodes.
func (a *Agent) OnExplode(fn ExplodeFunc) { a.onExplode = fn }

// Begin picks the first waypoint and starts the power-level cadence.
func (a *Agent) Begin() {
	if !a.role.IsAuthority() || a.begun {
		return
	}
	a.begun = true
	a.nextWaypoint = a.nextPathPoint()
	a.powerCheck = a.deps.Timers.Every(a.cfg.PowerCheckInterval, a.CheckNearbyAgents)
}

// Tick runs one step of the pursuit loop.
func (a *Agent) Tick(dt time.Duration) {
	if !a.role.IsAuthority() || a.exploded {
		return
	}

	if a.position.Dist(a.nextWaypoint) <= a.cfg.ArrivalThreshold {
		a.nextWaypoint = a.nextPathPoint()
		return
	}

	force := a.nextWaypoint.Sub(a.position).Normalize().Scale(a.cfg.MovementForce)
	a.deps.Physics.ApplyForce(a, force, a.cfg.UseVelocityChange)

	// Not having moved since the last tick counts as arriving, but only
	// while inside the stall window.
	a.stallTimer += dt
	if a.position == a.lastObserved {
		if a.stallTimer <= a.cfg.StallWindow {
			a.stallTimer = 0
			a.nextWaypoint = a.nextPathPoint()
			a.logger.Debug("tracker stalled, rerouting",
				zap.Float64("x", a.position.X), zap.Float64("y", a.position.Y))
		}
	} else {
		a.lastObserved = a.position
		a.stallTimer = 0
	}
}

// nextPathPoint asks the oracle for the next waypoint toward the current
// target. Without a target or a route the agent holds position; with no
// navigation data at all it heads for the origin.
func (a *Agent) nextPathPoint() ai.Vector3 {
	var target ai.EntityRef
	if a.deps.Targets != nil {
		if t, ok := a.deps.Targets.TargetFor(a); ok {
			target = t
		}
	}
	if target == nil {
		return a.position
	}
	wp, err := a.deps.Paths.NextWaypoint(a.position, target)
	switch {
	case err == nil:
		return wp
	case errors.Is(err, ai.ErrNavigationUnavailable):
		return ai.Vector3{}
	default:
		return a.position
	}
}

// HandleHealthChanged is called by the health owner after every change.
// Health at or below zero makes the agent explode.
func (a *Agent) HandleHealthChanged(health, delta float64, instigator ai.EntityRef) {
	if !a.role.IsAuthority() {
		return
	}
	a.health = health
	if a.deps.Effects != nil {
		a.deps.Effects.SetMaterialParam(a, ParamLastDamageTaken, a.deps.Timers.Now().Seconds())
	}
	a.logger.Debug("tracker health changed",
		zap.Float64("health", health), zap.Float64("delta", delta))
	if health <= 0 {
		a.SelfDestruct()
	}
}

// NotifyOverlap is called when other starts overlapping the trigger sphere.
// The first player-controlled overlap arms the agent; it then damages itself
// every SelfDamageInterval until it explodes.
func (a *Agent) NotifyOverlap(other ai.EntityRef) {
	if !a.role.IsAuthority() || a.armed || a.exploded {
		return
	}
	if other == nil || !other.IsPlayerControlled() {
		return
	}
	a.armed = true
	a.selfDamage = a.deps.Timers.EveryFrom(0, a.cfg.SelfDamageInterval, a.damageSelf)
	if a.deps.Effects != nil {
		a.deps.Effects.PlaySelfDestructWarning(a)
	}
	a.logger.Debug("tracker armed", zap.Int64("by", int64(other.ID())))
}

func (a *Agent) damageSelf() {
	a.deps.Damage.ApplyDamage(a, a.cfg.SelfDamageAmount, a)
}

// ExplosionDamage is the blast damage at the current power level.
func (a *Agent) ExplosionDamage() float64 {
	return a.cfg.ExplosionDamage * float64(1+a.powerLevel)
}

// SelfDestruct explodes the agent. Only the first call has any effect.
func (a *Agent) SelfDestruct() {
	if !a.role.IsAuthority() || a.exploded {
		return
	}
	a.exploded = true
	a.selfDamage.Cancel()
	a.powerCheck.Cancel()

	damage := a.ExplosionDamage()
	if a.deps.Effects != nil {
		a.deps.Effects.PlayExplosion(a, a.position, a.cfg.ExplosionRadius)
	}
	a.deps.Damage.ApplyRadialDamage(a.position, a.cfg.ExplosionRadius, damage, a, a)

	if a.deps.Remover != nil {
		a.removal = a.deps.Timers.After(a.cfg.RemovalDelay, func() { a.deps.Remover.Remove(a) })
	}
	a.logger.Info("tracker exploded",
		zap.Int("power_level", a.powerLevel), zap.Float64("damage", damage))
	if a.onExplode != nil {
		a.onExplode(a, damage)
	}
}

// CheckNearbyAgents recomputes the power level from the number of other
// trackers within NeighborRadius.
func (a *Agent) CheckNearbyAgents() {
	if !a.role.IsAuthority() || a.exploded {
		return
	}
	nearby := a.deps.Space.Overlapping(a.position, a.cfg.NeighborRadius, ai.CategoryPawn|ai.CategoryPhysicsBody)
	count := 0
	for _, e := range nearby {
		if e != nil && e.IsTracker() && e.ID() != a.id {
			count++
		}
	}
	a.powerLevel = ClampPowerLevel(count, a.cfg.MaxPowerLevel)
	if a.deps.Effects != nil {
		a.deps.Effects.SetMaterialParam(a, ParamPowerLevelAlpha, float64(a.powerLevel)/float64(a.cfg.MaxPowerLevel))
	}
}

// ClampPowerLevel bounds a neighbour count to [0, maxLevel].
func ClampPowerLevel(count, maxLevel int) int {
	return ai.ClampInt(count, 0, maxLevel)
}

// Dispose cancels every pending timer. The world calls it when the agent
// leaves the encounter.
func (a *Agent) Dispose() {
	a.selfDamage.Cancel()
	a.powerCheck.Cancel()
	a.removal.Cancel()
}
