package world

import (
	"github.com/kasuganosora/coopwave/server/game/ai"
	"github.com/kasuganosora/coopwave/server/game/tracker"
)

// Player is a player-controlled pawn.
type Player struct {
	id       ai.EntityID
	Name     string
	pos      ai.Vector3
	start    ai.Vector3
	velocity ai.Vector3
	Kills    int
	Deaths   int
}

func (p *Player) ID() ai.EntityID          { return p.id }
func (p *Player) Position() ai.Vector3     { return p.pos }
func (p *Player) Categories() ai.Category  { return ai.CategoryPawn }
func (p *Player) IsTracker() bool          { return false }
func (p *Player) IsPlayerControlled() bool { return true }

// pawn is the arena's bookkeeping for one entity: health lives here, not on
// the entity.
type pawn struct {
	ref       ai.EntityRef
	agent     *tracker.Agent // nil for players
	player    *Player        // nil for trackers
	health    float64
	maxHealth float64
	radius    float64
	params    map[string]float64
}

func (p *pawn) alive() bool { return p.health > 0 }

// PawnView is the observer-facing state of a pawn.
type PawnView struct {
	ID         ai.EntityID `json:"id"`
	Kind       string      `json:"kind"`
	Name       string      `json:"name,omitempty"`
	X          float64     `json:"x"`
	Y          float64     `json:"y"`
	Health     float64     `json:"health"`
	MaxHealth  float64     `json:"max_health"`
	PowerLevel int         `json:"power_level,omitempty"`
	PowerAlpha float64     `json:"power_alpha,omitempty"`
	Armed      bool        `json:"armed,omitempty"`
	Exploded   bool        `json:"exploded,omitempty"`
	Kills      int         `json:"kills,omitempty"`
	Deaths     int         `json:"deaths,omitempty"`
}

func (p *pawn) view() PawnView {
	pos := p.ref.Position()
	v := PawnView{
		ID:        p.ref.ID(),
		Kind:      kindOf(p.ref),
		X:         pos.X,
		Y:         pos.Y,
		Health:    p.health,
		MaxHealth: p.maxHealth,
	}
	if p.agent != nil {
		v.PowerLevel = p.agent.PowerLevel()
		v.PowerAlpha = p.params[tracker.ParamPowerLevelAlpha]
		v.Armed = p.agent.Armed()
		v.Exploded = p.agent.Exploded()
	}
	if p.player != nil {
		v.Name = p.player.Name
		v.Kills = p.player.Kills
		v.Deaths = p.player.Deaths
	}
	return v
}
