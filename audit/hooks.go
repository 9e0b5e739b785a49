package audit

import (
	"context"
	"encoding/json"

	"github.com/kasuganosora/coopwave/server/game/encounter"
	"github.com/kasuganosora/coopwave/server/game/world"
	"github.com/kasuganosora/coopwave/server/model"
	"github.com/kasuganosora/coopwave/server/plugin/hook"
	"go.uber.org/zap"
)

const (
	hookName     = "audit"
	hookPriority = 200
)

// RegisterHooks journals every arena event raised on hc. State changes also
// refresh the encounter summary row.
func (svc *Service) RegisterHooks(hc *hook.HookCenter) {
	hc.Register(hook.OnWaveStateChanged, hookPriority, hookName, svc.onWaveState)
	for _, ev := range []string{hook.OnWaveStarted, hook.OnActorKilled, hook.OnTrackerExploded} {
		hc.Register(ev, hookPriority, hookName, svc.journal)
	}
}

func (svc *Service) onWaveState(ctx context.Context, event string, data any) (any, error) {
	if ev, ok := data.(*world.WaveStateEvent); ok {
		rec := &model.EncounterRecord{
			ID:    ev.EncounterID,
			State: ev.State.String(),
			Wave:  ev.Wave,
			Seq:   ev.Seq,
		}
		if ev.State == encounter.GameOver {
			ended := ev.At
			rec.EndedAt = &ended
		}
		svc.push(pending{summary: rec}, event)
	}
	return svc.journal(ctx, event, data)
}

func (svc *Service) journal(_ context.Context, event string, data any) (any, error) {
	row, ok := journalRow(data)
	if !ok {
		return data, nil
	}
	payload, err := json.Marshal(data)
	if err != nil {
		svc.log.Warn("journal payload", zap.String("event", event), zap.Error(err))
		return data, nil
	}
	row.Payload = payload
	svc.push(pending{event: row}, event)
	return data, nil
}

// journalRow maps a hook payload to an unfilled journal row.
func journalRow(data any) (*model.EncounterEvent, bool) {
	switch ev := data.(type) {
	case *world.WaveStateEvent:
		return &model.EncounterEvent{EncounterID: ev.EncounterID, Kind: model.EventStateChanged, Wave: ev.Wave}, true
	case *world.WaveStartedEvent:
		return &model.EncounterEvent{EncounterID: ev.EncounterID, Kind: model.EventWaveStarted, Wave: ev.Wave}, true
	case *world.ActorKilledEvent:
		return &model.EncounterEvent{EncounterID: ev.EncounterID, Kind: model.EventActorKilled, Wave: ev.Wave}, true
	case *world.TrackerExplodedEvent:
		return &model.EncounterEvent{EncounterID: ev.EncounterID, Kind: model.EventTrackerExploded, Wave: ev.Wave}, true
	}
	return nil, false
}
