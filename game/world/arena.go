package world

import (
	"context"
	"errors"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/kasuganosora/coopwave/server/game/ai"
	"github.com/kasuganosora/coopwave/server/game/director"
	"github.com/kasuganosora/coopwave/server/game/encounter"
	"github.com/kasuganosora/coopwave/server/game/tracker"
	"github.com/kasuganosora/coopwave/server/plugin/hook"
	"github.com/kasuganosora/coopwave/server/resource"
	"github.com/kasuganosora/coopwave/server/scheduler"
	"go.uber.org/zap"
)

var (
	ErrArenaFull     = errors.New("world: arena is full")
	ErrEncounterOver = errors.New("world: encounter is over")
	ErrUnknownPawn   = errors.New("world: unknown pawn")
	ErrPawnDead      = errors.New("world: pawn is dead")
	ErrInvalidTarget = errors.New("world: invalid target")
)

const (
	defaultTickRate   = 20
	defaultShotDamage = 20.0

	playerRadius    = 34.0
	playerMaxHealth = 100.0
	playerMaxSpeed  = 600.0
)

// Options configures one Arena.
type Options struct {
	EncounterID string
	Layout      *resource.ArenaLayout
	Director    director.Config
	Tracker     tracker.Config
	TickRate    int
	ShotDamage  float64
	WaveSizer   director.WaveSizer // optional
	Hooks       *hook.HookCenter
	Replicator  encounter.Replicator
}

// Arena is one authoritative encounter room. It owns the simulation clock,
// the wave director, every pawn and their health, and implements the
// collaborator interfaces the director and trackers consume.
//
// Collaborator methods (ApplyDamage, Spawn, Overlapping, ...) run on the
// simulation thread with the arena lock held; the exported room API
// (Join, Shoot, Snapshot, ...) takes the lock itself.
type Arena struct {
	mu           sync.Mutex
	id           string
	layout       *resource.ArenaLayout
	tickInterval time.Duration
	shotDamage   float64
	trackerCfg   tracker.Config

	timers   *scheduler.Timers
	store    *encounter.Store
	director *director.Director
	physics  *physicsWorld
	spatial  *spatialIndex
	paths    ai.PathOracle
	hooks    *hook.HookCenter
	closer   interface{ Close() }

	pawns       map[ai.EntityID]*pawn
	nextID      ai.EntityID
	joined      int
	spawnCursor int
	overlapping map[[2]ai.EntityID]bool
	removals    []ai.EntityID
	effects     []Effect
	kills       int
	ticks       uint64
	createdAt   time.Time
	overAt      time.Time

	stopOnce sync.Once
	stopCh   chan struct{}
	logger   *zap.Logger
}

// NewArena builds an arena. A nil layout uses resource.DefaultArena.
func NewArena(opts Options, logger *zap.Logger) (*Arena, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	layout := opts.Layout
	if layout == nil {
		layout = resource.DefaultArena()
	}
	if err := layout.Validate(); err != nil {
		return nil, err
	}
	rate := opts.TickRate
	if rate <= 0 {
		rate = defaultTickRate
	}
	shot := opts.ShotDamage
	if shot <= 0 {
		shot = defaultShotDamage
	}
	trackerCfg := opts.Tracker
	if trackerCfg == (tracker.Config{}) {
		trackerCfg = tracker.DefaultConfig()
	}
	logger = logger.With(zap.String("encounter_id", opts.EncounterID))

	a := &Arena{
		id:           opts.EncounterID,
		layout:       layout,
		tickInterval: time.Second / time.Duration(rate),
		shotDamage:   shot,
		trackerCfg:   trackerCfg,
		timers:       scheduler.NewTimers(logger),
		physics:      newPhysicsWorld(layout),
		spatial:      newSpatialIndex(),
		paths:        ai.NewGridOracle(layout.NavGrid()),
		hooks:        opts.Hooks,
		pawns:        make(map[ai.EntityID]*pawn),
		nextID:       1,
		overlapping:  make(map[[2]ai.EntityID]bool),
		createdAt:    time.Now(),
		stopCh:       make(chan struct{}),
		logger:       logger,
	}
	if c, ok := opts.Replicator.(interface{ Close() }); ok {
		a.closer = c
	}
	a.store = encounter.NewStore(opts.EncounterID, opts.Replicator, logger)
	a.store.OnChange(a.stateChanged)

	d, err := director.New(ai.RoleAuthority, opts.Director, director.Deps{
		Store:    a.store,
		Factory:  a,
		Liveness: a,
		Timers:   a.timers,
		Sizer:    opts.WaveSizer,
	}, logger)
	if err != nil {
		return nil, err
	}
	d.OnPrepareNextWave(a.restartDeadPlayers)
	d.OnWaveStart(a.waveStarted)
	a.director = d
	return a, nil
}

// ID returns the encounter ID.
func (a *Arena) ID() string { return a.id }

// State returns the current encounter state.
func (a *Arena) State() encounter.State { return a.store.Current() }

// View returns the read-only encounter state for observers.
func (a *Arena) View() encounter.View { return a.store.View() }

// CreatedAt returns when the arena was built.
func (a *Arena) CreatedAt() time.Time { return a.createdAt }

// OverAt returns when the encounter reached GameOver, or the zero time.
func (a *Arena) OverAt() time.Time {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.overAt
}

// Wave returns the current wave number.
func (a *Arena) Wave() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.director.Wave()
}

// Run drives the fixed-step loop until Stop. Call in a goroutine.
func (a *Arena) Run() {
	ticker := time.NewTicker(a.tickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			a.Step(a.tickInterval)
		case <-a.stopCh:
			return
		}
	}
}

// Stop ends the loop, cancels the director's timers and flushes replication.
func (a *Arena) Stop() {
	a.stopOnce.Do(func() {
		close(a.stopCh)
		a.mu.Lock()
		a.director.Stop()
		a.mu.Unlock()
		if a.closer != nil {
			a.closer.Close()
		}
	})
}

// Start begins the encounter if it has not started yet.
func (a *Arena) Start() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.director.Start()
}

// Step advances the simulation by dt.
func (a *Arena) Step(dt time.Duration) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.step(dt)
}

func (a *Arena) step(dt time.Duration) {
	a.timers.Advance(dt)
	for _, id := range a.sortedIDs() {
		p, ok := a.pawns[id]
		if !ok {
			continue
		}
		switch {
		case p.agent != nil:
			p.agent.Tick(dt)
		case p.player != nil:
			v := p.player.velocity
			if !p.alive() {
				v = ai.Vector3{}
			}
			a.physics.setVelocity(id, v)
		}
	}
	a.physics.step(dt)
	a.syncPositions()
	a.spatial.rebuild()
	a.detectOverlaps()
	a.flushRemovals()
	a.ticks++
}

func (a *Arena) sortedIDs() []ai.EntityID {
	ids := make([]ai.EntityID, 0, len(a.pawns))
	for id := range a.pawns {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (a *Arena) syncPositions() {
	for id, p := range a.pawns {
		pos, ok := a.physics.position(id)
		if !ok {
			continue
		}
		if p.agent != nil {
			p.agent.SetPosition(pos)
		} else if p.player != nil {
			p.player.pos = pos
		}
	}
}

// detectOverlaps raises begin-overlap notifications between live trackers
// and live players inside the tracker's trigger sphere.
func (a *Arena) detectOverlaps() {
	next := make(map[[2]ai.EntityID]bool)
	for _, id := range a.sortedIDs() {
		p, ok := a.pawns[id]
		if !ok || p.agent == nil || p.agent.Exploded() {
			continue
		}
		radius := p.agent.Config().TriggerRadius
		for _, other := range a.spatial.query(p.ref.Position(), radius, ai.CategoryPawn, a.skipInactive) {
			if !other.IsPlayerControlled() {
				continue
			}
			if op := a.pawns[other.ID()]; op == nil || !op.alive() {
				continue
			}
			key := [2]ai.EntityID{id, other.ID()}
			next[key] = true
			if !a.overlapping[key] {
				p.agent.NotifyOverlap(other)
			}
		}
	}
	a.overlapping = next
}

func (a *Arena) flushRemovals() {
	if len(a.removals) == 0 {
		return
	}
	for _, id := range a.removals {
		a.removePawn(id)
	}
	a.removals = a.removals[:0]
}

func (a *Arena) removePawn(id ai.EntityID) {
	p, ok := a.pawns[id]
	if !ok {
		return
	}
	if p.agent != nil {
		p.agent.Dispose()
	}
	a.physics.remove(id)
	a.spatial.remove(id)
	delete(a.pawns, id)
}

func (a *Arena) newID() ai.EntityID {
	id := a.nextID
	a.nextID++
	return id
}

func (a *Arena) trigger(event string, data interface{}) {
	if a.hooks == nil {
		return
	}
	if _, err := a.hooks.Trigger(context.Background(), event, data); err != nil {
		a.logger.Debug("hook chain interrupted", zap.String("event", event), zap.Error(err))
	}
}

func (a *Arena) stateChanged(c encounter.Change) {
	if c.New == encounter.GameOver && a.overAt.IsZero() {
		a.overAt = time.Now()
	}
	a.trigger(hook.OnWaveStateChanged, &WaveStateEvent{
		EncounterID: a.id,
		State:       c.New,
		Previous:    c.Old,
		Seq:         c.Seq,
		Wave:        a.director.Wave(),
		At:          c.At,
	})
}

func (a *Arena) waveStarted(wave, bots int) {
	a.trigger(hook.OnWaveStarted, &WaveStartedEvent{
		EncounterID: a.id,
		Wave:        wave,
		Bots:        bots,
		At:          time.Now(),
	})
}

func (a *Arena) trackerExploded(agent *tracker.Agent, damage float64) {
	// The wreck no longer collides; it stays listed until its removal timer fires.
	a.physics.remove(agent.ID())
	pos := agent.Position()
	a.trigger(hook.OnTrackerExploded, &TrackerExplodedEvent{
		EncounterID: a.id,
		Tracker:     agent.ID(),
		PowerLevel:  agent.PowerLevel(),
		Damage:      damage,
		X:           pos.X,
		Y:           pos.Y,
		Wave:        a.director.Wave(),
		At:          time.Now(),
	})
}

// restartDeadPlayers puts every dead player back at their start with full health.
func (a *Arena) restartDeadPlayers(nextWave int) {
	for _, id := range a.sortedIDs() {
		p := a.pawns[id]
		if p.player == nil || p.alive() {
			continue
		}
		p.health = p.maxHealth
		p.player.velocity = ai.Vector3{}
		a.teleport(p, p.player.start)
		a.logger.Info("player restarted", zap.Int64("player", int64(id)), zap.Int("next_wave", nextWave))
	}
}

func (a *Arena) teleport(p *pawn, pos ai.Vector3) {
	id := p.ref.ID()
	a.physics.teleport(id, pos)
	switch {
	case p.agent != nil:
		p.agent.SetPosition(pos)
	case p.player != nil:
		p.player.pos = pos
	}
	a.spatial.insert(p.ref, p.radius)
}

// ---- room API ----

// Join adds a player at the next start point and starts the encounter.
func (a *Arena) Join(name string) (ai.EntityID, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.store.Current() == encounter.GameOver {
		return 0, ErrEncounterOver
	}
	id, err := a.addPlayer(name)
	if err != nil {
		return 0, err
	}
	a.director.Start()
	return id, nil
}

func (a *Arena) addPlayer(name string) (ai.EntityID, error) {
	players := 0
	for _, p := range a.pawns {
		if p.player != nil {
			players++
		}
	}
	starts := a.layout.PlayerStarts
	if players >= len(starts) {
		return 0, ErrArenaFull
	}
	s := starts[a.joined%len(starts)]
	a.joined++
	pos := ai.Vector3{X: s.X, Y: s.Y}

	id := a.newID()
	pl := &Player{id: id, Name: name, pos: pos, start: pos}
	a.pawns[id] = &pawn{
		ref:       pl,
		player:    pl,
		health:    playerMaxHealth,
		maxHealth: playerMaxHealth,
		radius:    playerRadius,
		params:    make(map[string]float64),
	}
	a.physics.addPawn(id, pos, playerRadius, true)
	a.spatial.insert(pl, playerRadius)
	a.logger.Info("player joined", zap.Int64("player", int64(id)), zap.String("name", name))
	return id, nil
}

// PlayerName returns the display name of a joined player.
func (a *Arena) PlayerName(id ai.EntityID) (string, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	p, ok := a.pawns[id]
	if !ok || p.player == nil {
		return "", false
	}
	return p.player.Name, true
}

// Leave removes a player.
func (a *Arena) Leave(id ai.EntityID) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	p, ok := a.pawns[id]
	if !ok || p.player == nil {
		return ErrUnknownPawn
	}
	a.removePawn(id)
	a.logger.Info("player left", zap.Int64("player", int64(id)))
	return nil
}

// SetPlayerVelocity sets the walking velocity of a player, capped at the
// maximum player speed.
func (a *Arena) SetPlayerVelocity(id ai.EntityID, vx, vy float64) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	p, ok := a.pawns[id]
	if !ok || p.player == nil {
		return ErrUnknownPawn
	}
	if !p.alive() {
		return ErrPawnDead
	}
	v := ai.Vector3{X: vx, Y: vy}
	if l := v.Len(); l > playerMaxSpeed {
		v = v.Scale(playerMaxSpeed / l)
	}
	p.player.velocity = v
	return nil
}

// Shoot applies one shot of player damage to a tracker.
func (a *Arena) Shoot(playerID, targetID ai.EntityID) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	shooter, ok := a.pawns[playerID]
	if !ok || shooter.player == nil {
		return ErrUnknownPawn
	}
	if !shooter.alive() {
		return ErrPawnDead
	}
	target, ok := a.pawns[targetID]
	if !ok {
		return ErrUnknownPawn
	}
	if target.agent == nil || target.agent.Exploded() {
		return ErrInvalidTarget
	}
	a.ApplyDamage(target.ref, a.shotDamage, shooter.ref)
	return nil
}

// ---- collaborator implementations ----

// Spawn implements ai.AgentFactory: one tracker at the next spawn point.
func (a *Arena) Spawn() (ai.EntityRef, error) {
	pts := a.layout.SpawnPoints
	sp := pts[a.spawnCursor%len(pts)]
	a.spawnCursor++
	pos := ai.Vector3{X: sp.X, Y: sp.Y}

	id := a.newID()
	agent, err := tracker.New(id, ai.RoleAuthority, pos, a.trackerCfg, tracker.Deps{
		Paths:   a.paths,
		Targets: a,
		Space:   a,
		Physics: a,
		Damage:  a,
		Effects: a,
		Remover: a,
		Timers:  a.timers,
	}, a.logger)
	if err != nil {
		return nil, err
	}
	agent.OnExplode(a.trackerExploded)
	cfg := agent.Config()
	a.pawns[id] = &pawn{
		ref:       agent,
		agent:     agent,
		health:    cfg.MaxHealth,
		maxHealth: cfg.MaxHealth,
		radius:    cfg.Radius,
		params:    make(map[string]float64),
	}
	a.physics.addPawn(id, pos, cfg.Radius, false)
	a.spatial.insert(agent, cfg.Radius)
	agent.Begin()
	a.logger.Debug("tracker spawned", zap.Int64("tracker", int64(id)),
		zap.Float64("x", pos.X), zap.Float64("y", pos.Y))
	return agent, nil
}

// AllControlled implements ai.LivenessEnumerator.
func (a *Arena) AllControlled() []ai.Liveness {
	out := make([]ai.Liveness, 0, len(a.pawns))
	for _, id := range a.sortedIDs() {
		p := a.pawns[id]
		out = append(out, ai.Liveness{Entity: p.ref, Health: p.health, IsPlayer: p.player != nil})
	}
	return out
}

// TargetFor implements ai.TargetSelector: the nearest living player.
func (a *Arena) TargetFor(agent ai.EntityRef) (ai.EntityRef, bool) {
	var (
		best     ai.EntityRef
		bestDist = math.Inf(1)
	)
	from := agent.Position()
	for _, id := range a.sortedIDs() {
		p := a.pawns[id]
		if p.player == nil || !p.alive() {
			continue
		}
		if d := from.Dist(p.ref.Position()); d < bestDist {
			best, bestDist = p.ref, d
		}
	}
	return best, best != nil
}

// Overlapping implements ai.SpatialQuery. Exploded trackers no longer collide
// and are never returned.
func (a *Arena) Overlapping(center ai.Vector3, radius float64, categories ai.Category) []ai.EntityRef {
	return a.spatial.query(center, radius, categories, a.skipInactive)
}

func (a *Arena) skipInactive(ref ai.EntityRef) bool {
	p, ok := a.pawns[ref.ID()]
	return !ok || (p.agent != nil && p.agent.Exploded())
}

// ApplyForce implements ai.PhysicsSink.
func (a *Arena) ApplyForce(entity ai.EntityRef, force ai.Vector3, velocityChange bool) {
	a.physics.applyForce(entity.ID(), force, velocityChange)
}

// ApplyRadialDamage implements ai.DamageSink. Every pawn whose footprint
// touches the sphere takes the full amount.
func (a *Arena) ApplyRadialDamage(center ai.Vector3, radius, amount float64, instigator ai.EntityRef, exclude ...ai.EntityRef) {
	skip := make(map[ai.EntityID]bool, len(exclude))
	for _, e := range exclude {
		if e != nil {
			skip[e.ID()] = true
		}
	}
	for _, target := range a.spatial.query(center, radius, ai.CategoryPawn|ai.CategoryPhysicsBody, a.skipInactive) {
		if skip[target.ID()] {
			continue
		}
		a.ApplyDamage(target, amount, instigator)
	}
}

// ApplyDamage implements ai.DamageSink. Health is clamped at zero and dead
// pawns ignore further damage.
func (a *Arena) ApplyDamage(entity ai.EntityRef, amount float64, instigator ai.EntityRef) {
	if entity == nil || amount <= 0 {
		return
	}
	p, ok := a.pawns[entity.ID()]
	if !ok || !p.alive() {
		return
	}
	before := p.health
	p.health = math.Max(0, before-amount)
	if p.agent != nil {
		p.agent.HandleHealthChanged(p.health, p.health-before, instigator)
	}
	if !p.alive() {
		a.actorKilled(p, instigator)
	}
}

func (a *Arena) actorKilled(p *pawn, instigator ai.EntityRef) {
	var killer ai.EntityID
	if instigator != nil {
		killer = instigator.ID()
	}
	switch {
	case p.player != nil:
		p.player.Deaths++
		p.player.velocity = ai.Vector3{}
	case p.agent != nil:
		a.kills++
		if kp, ok := a.pawns[killer]; ok && kp.player != nil {
			kp.player.Kills++
		}
	}
	a.logger.Info("actor killed",
		zap.Int64("victim", int64(p.ref.ID())),
		zap.String("kind", kindOf(p.ref)),
		zap.Int64("killer", int64(killer)))
	a.trigger(hook.OnActorKilled, &ActorKilledEvent{
		EncounterID: a.id,
		Victim:      p.ref.ID(),
		VictimKind:  kindOf(p.ref),
		Killer:      killer,
		Wave:        a.director.Wave(),
		At:          time.Now(),
	})
}

// Remove implements ai.Remover. The pawn leaves at the end of the current step.
func (a *Arena) Remove(entity ai.EntityRef) {
	a.removals = append(a.removals, entity.ID())
}

// ---- observers ----

// Snapshot is the observer view of an arena.
type Snapshot struct {
	EncounterID string          `json:"encounter_id"`
	State       encounter.State `json:"state"`
	Seq         uint64          `json:"seq"`
	Wave        int             `json:"wave"`
	BotsToSpawn int             `json:"bots_to_spawn"`
	NextWaveIn  float64         `json:"next_wave_in"`
	SimTime     float64         `json:"sim_time"`
	Kills       int             `json:"kills"`
	Players     []PawnView      `json:"players"`
	Trackers    []PawnView      `json:"trackers"`
	Effects     []Effect        `json:"effects"`
}

// Snapshot returns a consistent copy of the arena state.
func (a *Arena) Snapshot() Snapshot {
	a.mu.Lock()
	defer a.mu.Unlock()
	s := Snapshot{
		EncounterID: a.id,
		State:       a.store.Current(),
		Seq:         a.store.Seq(),
		Wave:        a.director.Wave(),
		BotsToSpawn: a.director.BotsRemainingToSpawn(),
		NextWaveIn:  a.director.NextWaveIn().Seconds(),
		SimTime:     a.timers.Now().Seconds(),
		Kills:       a.kills,
		Players:     []PawnView{},
		Trackers:    []PawnView{},
		Effects:     make([]Effect, len(a.effects)),
	}
	copy(s.Effects, a.effects)
	for _, id := range a.sortedIDs() {
		p := a.pawns[id]
		if p.player != nil {
			s.Players = append(s.Players, p.view())
		} else {
			s.Trackers = append(s.Trackers, p.view())
		}
	}
	return s
}
