// Package director paces a wave-survival encounter: it schedules waves,
// requests tracker spawns and decides when a wave is complete or the
// encounter is lost.
package director

import (
	"errors"
	"fmt"
	"time"

	"github.com/kasuganosora/coopwave/server/game/ai"
	"github.com/kasuganosora/coopwave/server/game/encounter"
	"github.com/kasuganosora/coopwave/server/scheduler"
	"go.uber.org/zap"
)

// ErrMissingCollaborator is returned by New when a required dependency is nil.
var ErrMissingCollaborator = errors.New("director: missing collaborator")

// Config holds wave pacing.
type Config struct {
	InterWaveDelay time.Duration `mapstructure:"inter_wave_delay"`
	SpawnInterval  time.Duration `mapstructure:"spawn_interval"`
	CheckInterval  time.Duration `mapstructure:"check_interval"`
	BotsPerWave    int           `mapstructure:"bots_per_wave"` // bots spawned per wave number
}

// DefaultConfig returns the stock pacing: 2 s between waves, one spawn per
// second, liveness checked every second, 2 bots per wave number.
func DefaultConfig() Config {
	return Config{
		InterWaveDelay: 2 * time.Second,
		SpawnInterval:  time.Second,
		CheckInterval:  time.Second,
		BotsPerWave:    2,
	}
}

func (c Config) normalized() Config {
	d := DefaultConfig()
	if c.InterWaveDelay <= 0 {
		c.InterWaveDelay = d.InterWaveDelay
	}
	if c.SpawnInterval <= 0 {
		c.SpawnInterval = d.SpawnInterval
	}
	if c.CheckInterval <= 0 {
		c.CheckInterval = d.CheckInterval
	}
	if c.BotsPerWave <= 0 {
		c.BotsPerWave = d.BotsPerWave
	}
	return c
}

// StatePublisher is where the director writes the encounter state.
// *encounter.Store implements it.
type StatePublisher interface {
	Publish(role ai.Role, s encounter.State) error
	Current() encounter.State
}

// WaveSizer overrides the number of trackers a wave spawns.
// *script.WaveFormula implements it.
type WaveSizer interface {
	BotsForWave(wave int) (int, error)
}

// Deps are the director's collaborators. All but Sizer are required.
type Deps struct {
	Store    StatePublisher
	Factory  ai.AgentFactory
	Liveness ai.LivenessEnumerator
	Timers   *scheduler.Timers
	Sizer    WaveSizer
}

// Director drives the wave state machine. It must only be used from the
// simulation thread that advances Deps.Timers.
type Director struct {
	role     ai.Role
	cfg      Config
	store    StatePublisher
	factory  ai.AgentFactory
	liveness ai.LivenessEnumerator
	timers   *scheduler.Timers
	sizer    WaveSizer
	logger   *zap.Logger

	wave        int
	botsToSpawn int
	started     bool
	over        bool

	spawnTimer    *scheduler.Handle
	nextWaveTimer *scheduler.Handle
	checkTimer    *scheduler.Handle

	onPrepare   []func(nextWave int)
	onWaveStart []func(wave, bots int)
}

// New creates a director. It fails fast when a collaborator is missing.
func New(role ai.Role, cfg Config, deps Deps, logger *zap.Logger) (*Director, error) {
	if deps.Store == nil || deps.Factory == nil || deps.Liveness == nil || deps.Timers == nil {
		return nil, ErrMissingCollaborator
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Director{
		role:     role,
		cfg:      cfg.normalized(),
		store:    deps.Store,
		factory:  deps.Factory,
		liveness: deps.Liveness,
		timers:   deps.Timers,
		sizer:    deps.Sizer,
		logger:   logger,
	}, nil
}

// OnPrepareNextWave registers fn to run each time the director enters
// WaitingToStart, with the number of the wave about to start.
func (d *Director) OnPrepareNextWave(fn func(nextWave int)) {
	d.onPrepare = append(d.onPrepare, fn)
}

// OnWaveStart registers fn to run when a wave begins.
func (d *Director) OnWaveStart(fn func(wave, bots int)) {
	d.onWaveStart = append(d.onWaveStart, fn)
}

func (d *Director) Wave() int                 { return d.wave }
func (d *Director) BotsRemainingToSpawn() int { return d.botsToSpawn }
func (d *Director) Over() bool                { return d.over }
func (d *Director) Config() Config            { return d.cfg }
func (d *Director) NextWaveIn() time.Duration { return d.nextWaveTimer.Remaining() }
func (d *Director) State() encounter.State    { return d.store.Current() }

// Start begins the encounter: WaitingToStart, first wave after
// InterWaveDelay, liveness checked every CheckInterval.
func (d *Director) Start() {
	if !d.role.IsAuthority() || d.started {
		return
	}
	d.started = true
	d.prepareForNextWave()
	d.checkTimer = d.timers.Every(d.cfg.CheckInterval, d.Check)
	d.logger.Info("encounter started", zap.Duration("inter_wave_delay", d.cfg.InterWaveDelay))
}

// Stop cancels every timer without publishing anything. Used on teardown.
func (d *Director) Stop() {
	d.spawnTimer.Cancel()
	d.nextWaveTimer.Cancel()
	d.checkTimer.Cancel()
}

func (d *Director) prepareForNextWave() {
	d.nextWaveTimer = d.timers.After(d.cfg.InterWaveDelay, d.startWave)
	d.publish(encounter.WaitingToStart)
	for _, fn := range d.onPrepare {
		fn(d.wave + 1)
	}
}

func (d *Director) startWave() {
	if d.over {
		return
	}
	d.wave++
	d.botsToSpawn = d.waveSize(d.wave)
	if d.botsToSpawn > 0 {
		d.spawnTimer = d.timers.EveryFrom(0, d.cfg.SpawnInterval, d.spawnTick)
	}
	d.publish(encounter.WaveInProgress)
	d.logger.Info("wave started", zap.Int("wave", d.wave), zap.Int("bots", d.botsToSpawn))
	for _, fn := range d.onWaveStart {
		fn(d.wave, d.botsToSpawn)
	}
	if d.botsToSpawn == 0 {
		d.endWave()
	}
}

// waveSize falls back to BotsPerWave*wave when the sizer is absent or fails.
func (d *Director) waveSize(wave int) int {
	if d.sizer != nil {
		n, err := d.sizer.BotsForWave(wave)
		if err == nil {
			return n
		}
		d.logger.Warn("wave sizer failed, using default", zap.Int("wave", wave), zap.Error(err))
	}
	return d.cfg.BotsPerWave * wave
}

func (d *Director) spawnTick() {
	if d.over || d.botsToSpawn <= 0 {
		return
	}
	if _, err := d.factory.Spawn(); err != nil {
		d.logger.Warn("spawn tracker failed", zap.Int("wave", d.wave), zap.Error(err))
	}
	d.botsToSpawn--
	if d.botsToSpawn <= 0 {
		d.botsToSpawn = 0
		d.endWave()
	}
}

func (d *Director) endWave() {
	d.spawnTimer.Cancel()
	d.publish(encounter.WaitingToComplete)
}

// Check is the periodic liveness check. Losing every player takes
// precedence over completing the wave.
func (d *Director) Check() {
	if !d.role.IsAuthority() || d.over {
		return
	}
	if !d.anyPlayerAlive() {
		d.gameOver()
		return
	}
	d.checkWaveState()
}

func (d *Director) anyPlayerAlive() bool {
	for _, l := range d.liveness.AllControlled() {
		if l.IsPlayer && l.Health > 0 {
			return true
		}
	}
	return false
}

func (d *Director) checkWaveState() {
	if d.botsToSpawn > 0 || d.nextWaveTimer.Active() {
		return
	}
	for _, l := range d.liveness.AllControlled() {
		if l.Entity == nil || l.IsPlayer {
			continue
		}
		if l.Health > 0 {
			return
		}
	}
	d.publish(encounter.WaveComplete)
	d.logger.Info("wave complete", zap.Int("wave", d.wave))
	d.prepareForNextWave()
}

func (d *Director) gameOver() {
	d.over = true
	d.Stop()
	d.botsToSpawn = 0
	d.publish(encounter.GameOver)
	d.logger.Info("game over, all players dead", zap.Int("wave", d.wave))
}

func (d *Director) publish(s encounter.State) {
	if d.store == nil {
		panic("director: no encounter state store to publish to")
	}
	if err := d.store.Publish(d.role, s); err != nil {
		panic(fmt.Sprintf("director: publish %s: %v", s, err))
	}
}
