package world

import (
	"time"

	"github.com/kasuganosora/coopwave/server/game/ai"
	"github.com/kasuganosora/coopwave/server/game/encounter"
)

// Hook payloads raised by an Arena. Handlers run on the simulation thread
// and must not block.

// WaveStateEvent is raised on every authoritative encounter state change.
type WaveStateEvent struct {
	EncounterID string          `json:"encounter_id"`
	State       encounter.State `json:"state"`
	Previous    encounter.State `json:"previous"`
	Seq         uint64          `json:"seq"`
	Wave        int             `json:"wave"`
	At          time.Time       `json:"at"`
}

// WaveStartedEvent is raised when the director begins a wave.
type WaveStartedEvent struct {
	EncounterID string    `json:"encounter_id"`
	Wave        int       `json:"wave"`
	Bots        int       `json:"bots"`
	At          time.Time `json:"at"`
}

// ActorKilledEvent is raised when damage takes a pawn from alive to dead.
type ActorKilledEvent struct {
	EncounterID string      `json:"encounter_id"`
	Victim      ai.EntityID `json:"victim"`
	VictimKind  string      `json:"victim_kind"`
	Killer      ai.EntityID `json:"killer,omitempty"`
	Wave        int         `json:"wave"`
	At          time.Time   `json:"at"`
}

// TrackerExplodedEvent is raised when a tracker blows up.
type TrackerExplodedEvent struct {
	EncounterID string      `json:"encounter_id"`
	Tracker     ai.EntityID `json:"tracker"`
	PowerLevel  int         `json:"power_level"`
	Damage      float64     `json:"damage"`
	X           float64     `json:"x"`
	Y           float64     `json:"y"`
	Wave        int         `json:"wave"`
	At          time.Time   `json:"at"`
}

func kindOf(e ai.EntityRef) string {
	switch {
	case e == nil:
		return ""
	case e.IsPlayerControlled():
		return "player"
	case e.IsTracker():
		return "tracker"
	default:
		return "pawn"
	}
}
