package world

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/kasuganosora/coopwave/server/cache"
	"github.com/kasuganosora/coopwave/server/game/encounter"
	"github.com/kasuganosora/coopwave/server/plugin/hook"
	"go.uber.org/zap"
)

const (
	// RankingKey is the ZSet of finished encounters scored by the wave reached.
	RankingKey = "ranking:waves"

	killFeedLen      = 50
	leaderboardQueue = 256
	leaderboardTO    = 3 * time.Second
	leaderboardHook  = "leaderboard"
)

// KillFeedKey is the List of recent kills of one encounter, newest first.
func KillFeedKey(encounterID string) string {
	return "encounter:" + encounterID + ":kills"
}

// RankEntry is one row of the wave ranking.
type RankEntry struct {
	Rank        int    `json:"rank"`
	EncounterID string `json:"encounter_id"`
	Wave        int    `json:"wave"`
}

// Leaderboard records finished encounters into the wave ranking and keeps a
// short kill feed per encounter. Hook handlers only enqueue; one worker
// goroutine talks to the cache.
type Leaderboard struct {
	kv     cache.Cache
	logger *zap.Logger

	queue     chan func(context.Context)
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// NewLeaderboard starts the worker.
func NewLeaderboard(kv cache.Cache, logger *zap.Logger) *Leaderboard {
	if logger == nil {
		logger = zap.NewNop()
	}
	l := &Leaderboard{
		kv:     kv,
		logger: logger,
		queue:  make(chan func(context.Context), leaderboardQueue),
		done:   make(chan struct{}),
	}
	l.wg.Add(1)
	go l.loop()
	return l
}

// Register subscribes to the arena hooks.
func (l *Leaderboard) Register(hc *hook.HookCenter) {
	hc.Register(hook.OnWaveStateChanged, 100, leaderboardHook, l.onWaveState)
	hc.Register(hook.OnActorKilled, 100, leaderboardHook, l.onActorKilled)
}

func (l *Leaderboard) onWaveState(_ context.Context, _ string, data interface{}) (interface{}, error) {
	ev, ok := data.(*WaveStateEvent)
	if !ok || ev.State != encounter.GameOver {
		return data, nil
	}
	id, wave := ev.EncounterID, ev.Wave
	l.enqueue(func(ctx context.Context) {
		if err := l.kv.ZAdd(ctx, RankingKey, float64(wave), id); err != nil {
			l.logger.Warn("record ranking", zap.String("encounter_id", id), zap.Error(err))
		}
	})
	return data, nil
}

func (l *Leaderboard) onActorKilled(_ context.Context, _ string, data interface{}) (interface{}, error) {
	ev, ok := data.(*ActorKilledEvent)
	if !ok {
		return data, nil
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return data, err
	}
	key := KillFeedKey(ev.EncounterID)
	l.enqueue(func(ctx context.Context) {
		if err := l.kv.LPush(ctx, key, string(payload)); err != nil {
			l.logger.Warn("push kill feed", zap.String("key", key), zap.Error(err))
			return
		}
		_ = l.kv.LTrim(ctx, key, 0, killFeedLen-1)
	})
	return data, nil
}

func (l *Leaderboard) enqueue(fn func(context.Context)) {
	select {
	case <-l.done:
		return
	default:
	}
	select {
	case l.queue <- fn:
	default:
		l.logger.Warn("leaderboard queue full, dropping write")
	}
}

func (l *Leaderboard) loop() {
	defer l.wg.Done()
	run := func(fn func(context.Context)) {
		ctx, cancel := context.WithTimeout(context.Background(), leaderboardTO)
		defer cancel()
		fn(ctx)
	}
	for {
		select {
		case fn := <-l.queue:
			run(fn)
		case <-l.done:
			for {
				select {
				case fn := <-l.queue:
					run(fn)
				default:
					return
				}
			}
		}
	}
}

// Close flushes queued writes and stops the worker.
func (l *Leaderboard) Close() {
	l.closeOnce.Do(func() { close(l.done) })
	l.wg.Wait()
}

// Top returns the n best encounters by wave reached.
func (l *Leaderboard) Top(ctx context.Context, n int) ([]RankEntry, error) {
	if n <= 0 {
		return []RankEntry{}, nil
	}
	rows, err := l.kv.ZRevRangeWithScores(ctx, RankingKey, 0, int64(n-1))
	if err != nil {
		return nil, err
	}
	out := make([]RankEntry, 0, len(rows))
	for i, r := range rows {
		out = append(out, RankEntry{Rank: i + 1, EncounterID: r.Member, Wave: int(r.Score)})
	}
	return out, nil
}

// Total returns how many encounters are ranked.
func (l *Leaderboard) Total(ctx context.Context) (int64, error) {
	return l.kv.ZCard(ctx, RankingKey)
}

// RecentKills returns up to n kills of one encounter, newest first.
func (l *Leaderboard) RecentKills(ctx context.Context, encounterID string, n int) ([]ActorKilledEvent, error) {
	if n <= 0 || n > killFeedLen {
		n = killFeedLen
	}
	rows, err := l.kv.LRange(ctx, KillFeedKey(encounterID), 0, int64(n-1))
	if err != nil {
		return nil, err
	}
	out := make([]ActorKilledEvent, 0, len(rows))
	for _, row := range rows {
		var ev ActorKilledEvent
		if err := json.Unmarshal([]byte(row), &ev); err != nil {
			l.logger.Warn("bad kill feed row", zap.String("encounter_id", encounterID), zap.Error(err))
			continue
		}
		out = append(out, ev)
	}
	return out, nil
}

// Reset clears the ranking.
func (l *Leaderboard) Reset(ctx context.Context) error {
	return l.kv.Del(ctx, RankingKey)
}
