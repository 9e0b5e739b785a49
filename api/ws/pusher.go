package ws

import (
	"encoding/json"

	"github.com/kasuganosora/coopwave/server/game/player"
	"github.com/kasuganosora/coopwave/server/game/world"
	"go.uber.org/zap"
)

// Pusher sends arena snapshots to connected sessions. Push is one round and
// is meant to be driven by the scheduler at the configured snapshot rate.
// State changes do not go through here; the Handler forwards each one.
type Pusher struct {
	mgr    *world.Manager
	sm     *player.SessionManager
	logger *zap.Logger
}

// NewPusher creates a Pusher.
func NewPusher(mgr *world.Manager, sm *player.SessionManager, logger *zap.Logger) *Pusher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pusher{mgr: mgr, sm: sm, logger: logger}
}

// Push broadcasts one snapshot to every encounter that has sessions.
// Sessions of encounters that no longer exist are closed.
func (p *Pusher) Push() {
	for _, id := range p.sm.Encounters() {
		arena := p.mgr.Get(id)
		if arena == nil {
			p.sm.BroadcastPacket(id, &player.Packet{Type: "closed"})
			p.sm.CloseEncounter(id)
			continue
		}
		snap := arena.Snapshot()
		data, err := json.Marshal(snap)
		if err != nil {
			p.logger.Error("marshal snapshot", zap.String("encounter_id", id), zap.Error(err))
			continue
		}
		p.sm.BroadcastPacket(id, &player.Packet{Type: "snapshot", Payload: data})
	}
}
