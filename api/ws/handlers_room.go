package ws

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/kasuganosora/coopwave/server/game/ai"
	"github.com/kasuganosora/coopwave/server/game/player"
	"github.com/kasuganosora/coopwave/server/game/world"
)

var errNoEncounter = errors.New("encounter not found")

// RegisterRoomHandlers wires the in-encounter commands onto r. Only ping is
// open to spectators.
func RegisterRoomHandlers(r *Router, mgr *world.Manager) {
	r.On("ping", handlePing)
	r.OnPlayer("move", func(_ context.Context, s *player.Session, raw json.RawMessage) error {
		var req struct {
			VX float64 `json:"vx"`
			VY float64 `json:"vy"`
		}
		if err := json.Unmarshal(raw, &req); err != nil {
			return err
		}
		a, err := playerArena(s, mgr)
		if err != nil {
			return err
		}
		return a.SetPlayerVelocity(ai.EntityID(s.PlayerID), req.VX, req.VY)
	})
	r.OnPlayer("shoot", func(_ context.Context, s *player.Session, raw json.RawMessage) error {
		var req struct {
			Target int64 `json:"target"`
		}
		if err := json.Unmarshal(raw, &req); err != nil {
			return err
		}
		a, err := playerArena(s, mgr)
		if err != nil {
			return err
		}
		return a.Shoot(ai.EntityID(s.PlayerID), ai.EntityID(req.Target))
	})
	r.OnPlayer("leave", func(_ context.Context, s *player.Session, _ json.RawMessage) error {
		a, err := playerArena(s, mgr)
		if err != nil {
			return err
		}
		if err := a.Leave(ai.EntityID(s.PlayerID)); err != nil {
			return err
		}
		s.Close()
		return nil
	})
}

func handlePing(_ context.Context, s *player.Session, raw json.RawMessage) error {
	var req struct {
		TS int64 `json:"ts"`
	}
	if len(raw) > 0 {
		_ = json.Unmarshal(raw, &req)
	}
	s.Pong(req.TS)
	return nil
}

func playerArena(s *player.Session, mgr *world.Manager) (*world.Arena, error) {
	a := mgr.Get(s.EncounterID)
	if a == nil {
		return nil, errNoEncounter
	}
	return a, nil
}
