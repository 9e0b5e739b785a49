package model

import (
	"time"

	"gorm.io/datatypes"
)

// AuditLog records player and admin actions taken through the API.
type AuditLog struct {
	ID          int64          `gorm:"primaryKey;autoIncrement" json:"id"`
	TraceID     string         `gorm:"index:idx_audit_trace;size:36;not null" json:"trace_id"`
	EncounterID string         `gorm:"index:idx_audit_encounter;size:36" json:"encounter_id"`
	PlayerID    *int64         `json:"player_id"`
	PlayerName  string         `gorm:"size:32" json:"player_name"`
	Action      string         `gorm:"size:64;not null" json:"action"`
	Request     datatypes.JSON `json:"request"`
	Response    datatypes.JSON `json:"response"`
	Error       string         `gorm:"type:text" json:"error"`
	IP          string         `gorm:"size:45" json:"ip"`
	DurationMs  int            `json:"duration_ms"`
	CreatedAt   time.Time      `gorm:"index:idx_audit_created;autoCreateTime:milli" json:"created_at"`
}
