package scheduler

import (
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

// TaskFn is the function signature for scheduled tasks.
type TaskFn func()

// Scheduler runs named wall-clock housekeeping tickers (arena reaping,
// snapshot pushes, limiter sweeps) on background goroutines. Simulation code
// uses Timers instead.
type Scheduler struct {
	mu      sync.Mutex
	tasks   map[string]*task
	logger  *zap.Logger
	stopCh  chan struct{}
	stopped bool
}

type task struct {
	interval time.Duration
	stopCh   chan struct{}

	// guarded by Scheduler.mu
	runs    uint64
	panics  uint64
	lastRun time.Time
	lastDur time.Duration
}

// TaskInfo describes a registered task and how its runs have gone.
type TaskInfo struct {
	Name         string        `json:"name"`
	Interval     time.Duration `json:"interval"`
	Runs         uint64        `json:"runs"`
	Panics       uint64        `json:"panics"`
	LastRun      time.Time     `json:"last_run"`
	LastDuration time.Duration `json:"last_duration"`
}

// New creates a new Scheduler.
func New(logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		tasks:  make(map[string]*task),
		stopCh: make(chan struct{}),
		logger: logger,
	}
}

// AddTicker registers fn to run every interval. A task with the same name is
// replaced. Runs of one task never overlap. Registering after Stop is a no-op.
func (s *Scheduler) AddTicker(name string, interval time.Duration, fn TaskFn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	s.removeLocked(name)

	t := &task{interval: interval, stopCh: make(chan struct{})}
	s.tasks[name] = t

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.run(name, t, fn)
			case <-t.stopCh:
				return
			case <-s.stopCh:
				return
			}
		}
	}()
	s.logger.Info("scheduler task registered", zap.String("name", name), zap.Duration("interval", interval))
}

func (s *Scheduler) run(name string, t *task, fn TaskFn) {
	start := time.Now()
	panicked := false
	func() {
		defer func() {
			if r := recover(); r != nil {
				panicked = true
				s.logger.Error("scheduler task panicked",
					zap.String("task", name),
					zap.Any("recover", r),
					zap.Stack("stack"))
			}
		}()
		fn()
	}()

	took := time.Since(start)
	s.mu.Lock()
	t.runs++
	if panicked {
		t.panics++
	}
	t.lastRun = start
	t.lastDur = took
	s.mu.Unlock()
	if took > t.interval {
		s.logger.Warn("scheduler task overran its interval",
			zap.String("task", name), zap.Duration("took", took), zap.Duration("interval", t.interval))
	}
}

// Remove stops a task by name. Unknown names are ignored.
func (s *Scheduler) Remove(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeLocked(name)
}

func (s *Scheduler) removeLocked(name string) {
	t, ok := s.tasks[name]
	if !ok {
		return
	}
	close(t.stopCh)
	delete(s.tasks, name)
}

// Stop stops all tasks. Safe to call more than once.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	s.stopped = true
	close(s.stopCh)
}

// Tasks lists registered tasks sorted by name.
func (s *Scheduler) Tasks() []TaskInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]TaskInfo, 0, len(s.tasks))
	for name, t := range s.tasks {
		out = append(out, TaskInfo{
			Name:         name,
			Interval:     t.interval,
			Runs:         t.runs,
			Panics:       t.panics,
			LastRun:      t.lastRun,
			LastDuration: t.lastDur,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
