// Package hook is the in-process event bus the arenas raise encounter events
// on. Subscribers (journal, ranking, plugins) register named handlers.
package hook

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

// HookFn handles one event. The returned data is handed to the next handler;
// an error is logged and the chain carries on with the previous data.
type HookFn func(ctx context.Context, event string, data interface{}) (interface{}, error)

const slowHandler = 20 * time.Millisecond

type hookEntry struct {
	priority int
	fn       HookFn
	name     string
}

// HookCenter manages event hook registrations.
type HookCenter struct {
	mu     sync.RWMutex
	hooks  map[string][]*hookEntry
	logger *zap.Logger
}

// NewHookCenter creates a new HookCenter.
func NewHookCenter(logger *zap.Logger) *HookCenter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HookCenter{hooks: make(map[string][]*hookEntry), logger: logger}
}

// Register adds a HookFn for the given event with the given priority (lower
// runs first, equal priorities run in registration order). name identifies
// the handler in logs and in Handlers. Unknown event names are accepted but
// logged, since nothing will ever raise them.
func (hc *HookCenter) Register(event string, priority int, name string, fn HookFn) {
	if !knownEvent(event) {
		hc.logger.Warn("hook registered for unknown event", zap.String("event", event), zap.String("handler", name))
	}
	hc.mu.Lock()
	defer hc.mu.Unlock()
	entries := append(hc.hooks[event], &hookEntry{priority: priority, fn: fn, name: name})
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].priority < entries[j].priority
	})
	hc.hooks[event] = entries
}

// Handlers lists the handler names registered for event, in run order.
func (hc *HookCenter) Handlers(event string) []string {
	hc.mu.RLock()
	defer hc.mu.RUnlock()
	names := make([]string, 0, len(hc.hooks[event]))
	for _, e := range hc.hooks[event] {
		names = append(names, e.name)
	}
	return names
}

// Trigger runs the handlers for event in priority order, threading data
// through them. Arenas call it from their simulation goroutine, so a handler
// slower than slowHandler is logged. A failing or panicking handler is
// logged and skipped; the rest of the chain still runs. The error result is
// always nil and exists for callers that chain on it.
func (hc *HookCenter) Trigger(ctx context.Context, event string, data interface{}) (interface{}, error) {
	hc.mu.RLock()
	entries := make([]*hookEntry, len(hc.hooks[event]))
	copy(entries, hc.hooks[event])
	hc.mu.RUnlock()

	for _, e := range entries {
		start := time.Now()
		out, err := hc.call(ctx, e, event, data)
		if took := time.Since(start); took > slowHandler {
			hc.logger.Warn("slow hook handler",
				zap.String("event", event), zap.String("handler", e.name), zap.Duration("took", took))
		}
		if err != nil {
			hc.logger.Warn("hook handler failed",
				zap.String("event", event), zap.String("handler", e.name), zap.Error(err))
			continue
		}
		data = out
	}
	return data, nil
}

// Registered maps every event that has handlers to their names in run order.
func (hc *HookCenter) Registered() map[string][]string {
	hc.mu.RLock()
	defer hc.mu.RUnlock()
	out := make(map[string][]string, len(hc.hooks))
	for event, entries := range hc.hooks {
		if len(entries) == 0 {
			continue
		}
		names := make([]string, len(entries))
		for i, e := range entries {
			names[i] = e.name
		}
		out[event] = names
	}
	return out
}

func (hc *HookCenter) call(ctx context.Context, e *hookEntry, event string, data interface{}) (out interface{}, err error) {
	defer func() {
		if r := recover(); r != nil {
			hc.logger.Error("hook handler panicked",
				zap.String("event", event), zap.String("handler", e.name), zap.Any("recover", r))
			out, err = data, nil
		}
	}()
	return e.fn(ctx, event, data)
}

// ---- Hook event names ----

const (
	OnWaveStateChanged = "on_wave_state_changed" // *world.WaveStateEvent
	OnWaveStarted      = "on_wave_started"       // *world.WaveStartedEvent
	OnActorKilled      = "on_actor_killed"       // *world.ActorKilledEvent
	OnTrackerExploded  = "on_tracker_exploded"   // *world.TrackerExplodedEvent
)

func knownEvent(event string) bool {
	switch event {
	case OnWaveStateChanged, OnWaveStarted, OnActorKilled, OnTrackerExploded:
		return true
	}
	return false
}
