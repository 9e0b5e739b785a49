package model

import (
	"time"

	"gorm.io/datatypes"
)

// Encounter event kinds stored in EncounterEvent.Kind.
const (
	EventStateChanged    = "state_changed"
	EventWaveStarted     = "wave_started"
	EventActorKilled     = "actor_killed"
	EventTrackerExploded = "tracker_exploded"
)

// EncounterRecord is the durable summary of one encounter. It is upserted on
// every state change so the row always shows the latest state and wave.
type EncounterRecord struct {
	ID        string     `gorm:"primaryKey;size:36" json:"id"`
	State     string     `gorm:"size:32;not null" json:"state"`
	Wave      int        `gorm:"not null;default:0" json:"wave"`
	Seq       uint64     `gorm:"not null;default:0" json:"seq"`
	EndedAt   *time.Time `gorm:"index:idx_encounter_ended" json:"ended_at"`
	CreatedAt time.Time  `gorm:"autoCreateTime:milli" json:"created_at"`
	UpdatedAt time.Time  `gorm:"autoUpdateTime:milli" json:"updated_at"`
}

// EncounterEvent is one entry of an encounter's journal.
type EncounterEvent struct {
	ID          int64          `gorm:"primaryKey;autoIncrement" json:"id"`
	EncounterID string         `gorm:"index:idx_event_encounter;size:36;not null" json:"encounter_id"`
	Kind        string         `gorm:"size:32;not null" json:"kind"`
	Wave        int            `json:"wave"`
	Payload     datatypes.JSON `json:"payload"`
	CreatedAt   time.Time      `gorm:"index:idx_event_created;autoCreateTime:milli" json:"created_at"`
}
