package world

import (
	"github.com/kasuganosora/coopwave/server/game/ai"
	"go.uber.org/zap"
)

const maxRecentEffects = 64

// Effect kinds.
const (
	EffectExplosion           = "explosion"
	EffectSelfDestructWarning = "self_destruct_warning"
)

// Effect is a presentation cue for observers. It carries no simulation state.
type Effect struct {
	Kind   string      `json:"kind"`
	Source ai.EntityID `json:"source"`
	X      float64     `json:"x"`
	Y      float64     `json:"y"`
	Radius float64     `json:"radius,omitempty"`
	At     float64     `json:"at"` // simulation seconds
}

// PlayExplosion implements ai.EffectSink.
func (a *Arena) PlayExplosion(source ai.EntityRef, at ai.Vector3, radius float64) {
	a.pushEffect(Effect{Kind: EffectExplosion, Source: source.ID(), X: at.X, Y: at.Y, Radius: radius})
}

// PlaySelfDestructWarning implements ai.EffectSink.
func (a *Arena) PlaySelfDestructWarning(source ai.EntityRef) {
	p := source.Position()
	a.pushEffect(Effect{Kind: EffectSelfDestructWarning, Source: source.ID(), X: p.X, Y: p.Y})
}

// SetMaterialParam implements ai.EffectSink.
func (a *Arena) SetMaterialParam(source ai.EntityRef, name string, value float64) {
	if p, ok := a.pawns[source.ID()]; ok {
		p.params[name] = value
	}
}

func (a *Arena) pushEffect(e Effect) {
	e.At = a.timers.Now().Seconds()
	a.effects = append(a.effects, e)
	if len(a.effects) > maxRecentEffects {
		a.effects = a.effects[len(a.effects)-maxRecentEffects:]
	}
	a.logger.Debug("effect", zap.String("kind", e.Kind), zap.Int64("source", int64(e.Source)))
}
