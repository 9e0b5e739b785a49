package scheduler

import (
	"time"

	"go.uber.org/zap"
)

// Timers is a cooperative timer manager driven by simulation time.
// Nothing fires until Advance is called; callbacks run on the caller's
// goroutine, so a Timers must only be used from the simulation thread.
type Timers struct {
	now     time.Duration
	firing  time.Duration // due time of the running callback
	inCall  bool
	nextID  uint64
	entries map[uint64]*timerEntry
	logger  *zap.Logger
}

type timerEntry struct {
	id       uint64
	due      time.Duration
	interval time.Duration
	loop     bool
	fn       TaskFn
}

// Handle refers to one scheduled task. The zero value and nil are valid and inactive.
type Handle struct {
	timers *Timers
	id     uint64
}

// NewTimers creates an empty timer manager at time zero.
func NewTimers(logger *zap.Logger) *Timers {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Timers{entries: make(map[uint64]*timerEntry), logger: logger}
}

// Now returns the current simulation time. Inside a callback it is the time
// the callback was due, not the end of the Advance window.
func (t *Timers) Now() time.Duration {
	if t.inCall {
		return t.firing
	}
	return t.now
}

// SetTimer schedules fn. A looping timer re-fires every interval after the
// first delay; firstDelay < 0 means "use interval". Delays are measured
// from Now, so a timer set by a callback counts from its parent's due time.
func (t *Timers) SetTimer(interval time.Duration, loop bool, firstDelay time.Duration, fn TaskFn) *Handle {
	if firstDelay < 0 {
		firstDelay = interval
	}
	t.nextID++
	e := &timerEntry{
		id:       t.nextID,
		due:      t.Now() + firstDelay,
		interval: interval,
		loop:     loop,
		fn:       fn,
	}
	t.entries[e.id] = e
	return &Handle{timers: t, id: e.id}
}

// After runs fn once, delay from now.
func (t *Timers) After(delay time.Duration, fn TaskFn) *Handle {
	return t.SetTimer(delay, false, delay, fn)
}

// Every runs fn every interval, starting one interval from now.
func (t *Timers) Every(interval time.Duration, fn TaskFn) *Handle {
	return t.SetTimer(interval, true, interval, fn)
}

// EveryFrom runs fn after first, then every interval.
func (t *Timers) EveryFrom(first, interval time.Duration, fn TaskFn) *Handle {
	return t.SetTimer(interval, true, first, fn)
}

// Len returns the number of pending timers.
func (t *Timers) Len() int { return len(t.entries) }

// Advance moves simulation time forward by dt and fires every timer that
// became due, in due order (ties broken by creation order). Timers created
// or canceled by a callback take effect within the same Advance.
func (t *Timers) Advance(dt time.Duration) {
	if dt < 0 {
		dt = 0
	}
	t.now += dt
	for {
		e := t.nextDue()
		if e == nil {
			return
		}
		fireAt := e.due
		t.fire(e)
		// The callback may have canceled its own handle.
		if _, alive := t.entries[e.id]; !alive {
			continue
		}
		if !e.loop {
			delete(t.entries, e.id)
			continue
		}
		step := e.interval
		if step <= 0 {
			// A zero-interval loop would spin forever inside one Advance.
			step = dt
			if step <= 0 {
				step = time.Millisecond
			}
		}
		e.due = fireAt + step
	}
}

func (t *Timers) fire(e *timerEntry) {
	t.firing, t.inCall = e.due, true
	defer func() { t.inCall = false }()
	e.fn()
}

func (t *Timers) nextDue() *timerEntry {
	var best *timerEntry
	for _, e := range t.entries {
		if e.due > t.now {
			continue
		}
		if best == nil || e.due < best.due || (e.due == best.due && e.id < best.id) {
			best = e
		}
	}
	return best
}

// Clear cancels every pending timer.
func (t *Timers) Clear() {
	if len(t.entries) > 0 {
		t.logger.Debug("clearing timers", zap.Int("count", len(t.entries)))
	}
	t.entries = make(map[uint64]*timerEntry)
}

// Cancel stops the task. Canceling twice, or canceling a finished or nil
// handle, is a no-op.
func (h *Handle) Cancel() {
	if h == nil || h.timers == nil {
		return
	}
	delete(h.timers.entries, h.id)
}

// Active reports whether the task is still pending.
func (h *Handle) Active() bool {
	if h == nil || h.timers == nil {
		return false
	}
	_, ok := h.timers.entries[h.id]
	return ok
}

// Remaining returns the time until the next firing, or 0 when inactive.
func (h *Handle) Remaining() time.Duration {
	if h == nil || h.timers == nil {
		return 0
	}
	e, ok := h.timers.entries[h.id]
	if !ok {
		return 0
	}
	return e.due - h.timers.Now()
}
