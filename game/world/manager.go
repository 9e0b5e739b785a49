package world

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kasuganosora/coopwave/server/cache"
	"github.com/kasuganosora/coopwave/server/game/director"
	"github.com/kasuganosora/coopwave/server/game/encounter"
	"github.com/kasuganosora/coopwave/server/game/tracker"
	"github.com/kasuganosora/coopwave/server/plugin/hook"
	"github.com/kasuganosora/coopwave/server/resource"
	"go.uber.org/zap"
)

// ActiveSetKey is the Set of encounter IDs currently running on any node.
const ActiveSetKey = "encounters:active"

// ErrTooManyArenas is returned by Create when the node is at capacity.
var ErrTooManyArenas = errors.New("world: too many arenas")

// ManagerConfig holds the settings every new arena is built with.
type ManagerConfig struct {
	Layout     *resource.ArenaLayout
	Director   director.Config
	Tracker    tracker.Config
	TickRate   int
	ShotDamage float64
	MaxArenas  int // 0 means unlimited
	WaveSizer  director.WaveSizer
}

// Manager manages all active Arena instances on this node.
type Manager struct {
	mu     sync.RWMutex
	arenas map[string]*Arena
	cfg    ManagerConfig
	kv     cache.Cache
	ps     cache.PubSub
	hooks  *hook.HookCenter
	logger *zap.Logger
}

// NewManager creates a Manager. kv and ps may be nil, in which case arenas
// are not replicated.
func NewManager(cfg ManagerConfig, kv cache.Cache, ps cache.PubSub, hooks *hook.HookCenter, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		arenas: make(map[string]*Arena),
		cfg:    cfg,
		kv:     kv,
		ps:     ps,
		hooks:  hooks,
		logger: logger,
	}
}

// Create builds a new arena under a fresh ID and starts its loop.
func (m *Manager) Create() (*Arena, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cfg.MaxArenas > 0 && len(m.arenas) >= m.cfg.MaxArenas {
		return nil, ErrTooManyArenas
	}

	id := uuid.NewString()
	var rep encounter.Replicator
	if m.ps != nil || m.kv != nil {
		rep = encounter.NewPubSubReplicator(m.ps, m.kv, m.logger)
	}
	arena, err := NewArena(Options{
		EncounterID: id,
		Layout:      m.cfg.Layout,
		Director:    m.cfg.Director,
		Tracker:     m.cfg.Tracker,
		TickRate:    m.cfg.TickRate,
		ShotDamage:  m.cfg.ShotDamage,
		WaveSizer:   m.cfg.WaveSizer,
		Hooks:       m.hooks,
		Replicator:  rep,
	}, m.logger)
	if err != nil {
		if c, ok := rep.(interface{ Close() }); ok {
			c.Close()
		}
		return nil, err
	}
	m.arenas[id] = arena
	m.track(func(ctx context.Context) error { return m.kv.SAdd(ctx, ActiveSetKey, id) })
	go arena.Run()
	m.logger.Info("arena created", zap.String("encounter_id", id))
	return arena, nil
}

// Get returns the arena for id, or nil if it does not exist.
func (m *Manager) Get(id string) *Arena {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.arenas[id]
}

// Destroy stops and removes the arena. It reports whether the arena existed.
func (m *Manager) Destroy(id string) bool {
	m.mu.Lock()
	arena, ok := m.arenas[id]
	if ok {
		delete(m.arenas, id)
	}
	m.mu.Unlock()
	if !ok {
		return false
	}
	arena.Stop()
	m.track(func(ctx context.Context) error { return m.kv.SRem(ctx, ActiveSetKey, id) })
	m.logger.Info("arena destroyed", zap.String("encounter_id", id))
	return true
}

// List returns every arena, oldest first.
func (m *Manager) List() []*Arena {
	m.mu.RLock()
	out := make([]*Arena, 0, len(m.arenas))
	for _, a := range m.arenas {
		out = append(out, a)
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt().Equal(out[j].CreatedAt()) {
			return out[i].CreatedAt().Before(out[j].CreatedAt())
		}
		return out[i].ID() < out[j].ID()
	})
	return out
}

// ActiveCount returns the number of arenas on this node.
func (m *Manager) ActiveCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.arenas)
}

// ReapFinished destroys arenas that reached GameOver more than grace ago.
func (m *Manager) ReapFinished(grace time.Duration) int {
	now := time.Now()
	var done []string
	for _, a := range m.List() {
		if at := a.OverAt(); !at.IsZero() && now.Sub(at) >= grace {
			done = append(done, a.ID())
		}
	}
	n := 0
	for _, id := range done {
		if m.Destroy(id) {
			n++
		}
	}
	if n > 0 {
		m.logger.Info("reaped finished arenas", zap.Int("count", n))
	}
	return n
}

// StopAll stops all arenas (used at server shutdown).
func (m *Manager) StopAll() {
	m.mu.Lock()
	arenas := make([]*Arena, 0, len(m.arenas))
	for _, a := range m.arenas {
		arenas = append(arenas, a)
	}
	m.arenas = make(map[string]*Arena)
	m.mu.Unlock()
	for _, a := range arenas {
		a.Stop()
		id := a.ID()
		m.track(func(ctx context.Context) error { return m.kv.SRem(ctx, ActiveSetKey, id) })
	}
}

func (m *Manager) track(fn func(context.Context) error) {
	if m.kv == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), leaderboardTO)
	defer cancel()
	if err := fn(ctx); err != nil {
		m.logger.Warn("update active encounter set", zap.Error(err))
	}
}
