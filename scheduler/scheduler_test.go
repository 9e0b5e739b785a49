package scheduler

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestAddTicker_FiresAndCounts(t *testing.T) {
	s := New(nil)
	defer s.Stop()

	var count int32
	s.AddTicker("snapshot_push", 10*time.Millisecond, func() {
		atomic.AddInt32(&count, 1)
	})

	require.Eventually(t, func() bool { return atomic.LoadInt32(&count) >= 3 }, time.Second, 5*time.Millisecond)
	info := s.Tasks()
	require.Len(t, info, 1)
	assert.GreaterOrEqual(t, info[0].Runs, uint64(3))
	assert.False(t, info[0].LastRun.IsZero())
	assert.Zero(t, info[0].Panics)
}

func TestAddTicker_ReplacesSameName(t *testing.T) {
	s := New(nil)
	defer s.Stop()

	var oldRuns, newRuns int32
	s.AddTicker("arena_reaper", 10*time.Millisecond, func() { atomic.AddInt32(&oldRuns, 1) })
	require.Eventually(t, func() bool { return atomic.LoadInt32(&oldRuns) > 0 }, time.Second, 5*time.Millisecond)
	s.AddTicker("arena_reaper", 10*time.Millisecond, func() { atomic.AddInt32(&newRuns, 1) })
	require.Eventually(t, func() bool { return atomic.LoadInt32(&newRuns) > 0 }, time.Second, 5*time.Millisecond)

	snap := atomic.LoadInt32(&oldRuns)
	time.Sleep(40 * time.Millisecond)
	assert.Equal(t, snap, atomic.LoadInt32(&oldRuns), "old ticker must stop after replacement")
	assert.Len(t, s.Tasks(), 1)
}

func TestRemove(t *testing.T) {
	s := New(nil)
	defer s.Stop()

	var count int32
	s.AddTicker("ratelimit_sweep", 10*time.Millisecond, func() { atomic.AddInt32(&count, 1) })
	require.Eventually(t, func() bool { return atomic.LoadInt32(&count) > 0 }, time.Second, 5*time.Millisecond)
	s.Remove("ratelimit_sweep")
	s.Remove("ratelimit_sweep")
	s.Remove("never-registered")

	time.Sleep(20 * time.Millisecond)
	snap := atomic.LoadInt32(&count)
	time.Sleep(40 * time.Millisecond)
	assert.Equal(t, snap, atomic.LoadInt32(&count), "ticker must stop after Remove")
	assert.Empty(t, s.Tasks())
}

func TestStop_HaltsEverythingAndIsIdempotent(t *testing.T) {
	s := New(nil)

	var c1, c2 int32
	s.AddTicker("a", 10*time.Millisecond, func() { atomic.AddInt32(&c1, 1) })
	s.AddTicker("b", 10*time.Millisecond, func() { atomic.AddInt32(&c2, 1) })
	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&c1) > 0 && atomic.LoadInt32(&c2) > 0
	}, time.Second, 5*time.Millisecond)
	s.Stop()
	s.Stop()

	time.Sleep(20 * time.Millisecond)
	snap1, snap2 := atomic.LoadInt32(&c1), atomic.LoadInt32(&c2)
	time.Sleep(40 * time.Millisecond)
	assert.Equal(t, snap1, atomic.LoadInt32(&c1))
	assert.Equal(t, snap2, atomic.LoadInt32(&c2))

	s.AddTicker("late", 10*time.Millisecond, func() { t.Error("registered after Stop") })
	time.Sleep(30 * time.Millisecond)
}

func TestTasks_SortedByName(t *testing.T) {
	s := New(nil)
	defer s.Stop()

	require.Empty(t, s.Tasks())
	s.AddTicker("snapshot_push", time.Hour, func() {})
	s.AddTicker("arena_reaper", time.Hour, func() {})
	tasks := s.Tasks()
	require.Len(t, tasks, 2)
	assert.Equal(t, "arena_reaper", tasks[0].Name)
	assert.Equal(t, time.Hour, tasks[0].Interval)
	assert.Equal(t, "snapshot_push", tasks[1].Name)
}

func TestTicker_PanicIsRecoveredAndCounted(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	s := New(zap.New(core))
	defer s.Stop()

	s.AddTicker("flaky", 10*time.Millisecond, func() { panic("oops") })

	require.Eventually(t, func() bool {
		info := s.Tasks()
		return len(info) == 1 && info[0].Panics >= 2
	}, time.Second, 5*time.Millisecond, "ticker keeps running after a panic")
	assert.NotZero(t, logs.FilterMessage("scheduler task panicked").Len())
}

func TestTicker_OverrunIsLogged(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	s := New(zap.New(core))
	defer s.Stop()

	s.AddTicker("slow", 5*time.Millisecond, func() { time.Sleep(15 * time.Millisecond) })
	require.Eventually(t, func() bool {
		return logs.FilterMessage("scheduler task overran its interval").Len() > 0
	}, time.Second, 5*time.Millisecond)
}
