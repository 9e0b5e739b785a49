package ai

import (
	"errors"
	"time"
)

// Path lookup failures.
var (
	// ErrNoPath means the oracle could not route to the target.
	ErrNoPath = errors.New("ai: no path")
	// ErrNavigationUnavailable means there is no navigation data at all.
	ErrNavigationUnavailable = errors.New("ai: navigation unavailable")
)

// Role is the network role of the simulation instance that owns an object.
// Only RoleAuthority may mutate simulation state.
type Role int

const (
	RoleAuthority Role = iota
	RoleSimulatedProxy
)

// IsAuthority reports whether r may mutate state.
func (r Role) IsAuthority() bool { return r == RoleAuthority }

func (r Role) String() string {
	if r == RoleAuthority {
		return "authority"
	}
	return "simulated_proxy"
}

// EntityID identifies a pawn inside one arena.
type EntityID int64

// Category is a bit set of collision object types used by overlap queries.
type Category uint8

const (
	CategoryPawn Category = 1 << iota
	CategoryPhysicsBody
	CategoryWorldStatic
)

// Has reports whether c shares any bit with o.
func (c Category) Has(o Category) bool { return c&o != 0 }

// EntityRef is the view of a pawn that collaborators exchange.
// Kind discrimination goes through the capability accessors, never type assertions.
type EntityRef interface {
	ID() EntityID
	Position() Vector3
	Categories() Category
	IsTracker() bool
	IsPlayerControlled() bool
}

// Liveness is one row of a LivenessEnumerator result.
type Liveness struct {
	Entity   EntityRef
	Health   float64
	IsPlayer bool
}

// PathOracle returns the next waypoint toward target.
// It returns ErrNoPath when no route exists.
type PathOracle interface {
	NextWaypoint(from Vector3, target EntityRef) (Vector3, error)
}

// TargetSelector picks what an agent should chase.
type TargetSelector interface {
	TargetFor(agent EntityRef) (EntityRef, bool)
}

// SpatialQuery finds entities overlapping a sphere.
type SpatialQuery interface {
	Overlapping(center Vector3, radius float64, categories Category) []EntityRef
}

// PhysicsSink receives movement force requests.
type PhysicsSink interface {
	ApplyForce(entity EntityRef, force Vector3, velocityChange bool)
}

// DamageSink applies damage on behalf of the simulation.
type DamageSink interface {
	ApplyRadialDamage(center Vector3, radius, amount float64, instigator EntityRef, exclude ...EntityRef)
	ApplyDamage(entity EntityRef, amount float64, instigator EntityRef)
}

// AgentFactory creates one tracker agent somewhere in the arena.
type AgentFactory interface {
	Spawn() (EntityRef, error)
}

// LivenessEnumerator lists every controlled pawn with its health.
type LivenessEnumerator interface {
	AllControlled() []Liveness
}

// EffectSink plays presentation effects. Implementations must not mutate simulation state.
type EffectSink interface {
	PlayExplosion(source EntityRef, at Vector3, radius float64)
	PlaySelfDestructWarning(source EntityRef)
	SetMaterialParam(source EntityRef, name string, value float64)
}

// Remover takes an entity out of the encounter.
type Remover interface {
	Remove(entity EntityRef)
}

// Clock exposes simulation time.
type Clock interface {
	Now() time.Duration
}
