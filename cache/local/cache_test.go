package local

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}

func newTestCache(t *testing.T) (*LocalCache, *fakeClock) {
	t.Helper()
	c, err := NewCache(Config{GCInterval: time.Minute})
	require.NoError(t, err)
	t.Cleanup(c.Close)
	clk := &fakeClock{now: time.Unix(1700000000, 0)}
	c.now = clk.Now
	return c, clk
}

func TestKV(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()

	_, err := c.Get(ctx, "ticket:abc")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, c.Set(ctx, "ticket:abc", "7", 0))
	v, err := c.Get(ctx, "ticket:abc")
	require.NoError(t, err)
	assert.Equal(t, "7", v)

	ok, err := c.Exists(ctx, "ticket:abc")
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, c.Del(ctx, "ticket:abc", "never-set"))
	ok, _ = c.Exists(ctx, "ticket:abc")
	assert.False(t, ok)
}

func TestSet_TTL(t *testing.T) {
	c, clk := newTestCache(t)
	ctx := context.Background()
	require.NoError(t, c.Set(ctx, "ticket:abc", "7", time.Minute))

	clk.Advance(59 * time.Second)
	_, err := c.Get(ctx, "ticket:abc")
	require.NoError(t, err)

	clk.Advance(time.Second)
	_, err = c.Get(ctx, "ticket:abc")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSet_OverwriteClearsTTLAndType(t *testing.T) {
	c, clk := newTestCache(t)
	ctx := context.Background()
	require.NoError(t, c.LPush(ctx, "k", "a"))
	require.NoError(t, c.Expire(ctx, "k", time.Second))
	require.NoError(t, c.Set(ctx, "k", "v", 0))

	clk.Advance(time.Hour)
	v, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "v", v)
	items, _ := c.LRange(ctx, "k", 0, -1)
	assert.Empty(t, items)
}

func TestExpire_AnyKeyType(t *testing.T) {
	c, clk := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, c.LPush(ctx, "encounter:e1:chat:history", "m1"))
	require.NoError(t, c.HSet(ctx, "encounter:e1", map[string]string{"state": "game_over"}))
	require.NoError(t, c.Expire(ctx, "encounter:e1:chat:history", time.Hour))
	require.NoError(t, c.Expire(ctx, "encounter:e1", 2*time.Hour))

	clk.Advance(time.Hour)
	items, err := c.LRange(ctx, "encounter:e1:chat:history", 0, -1)
	require.NoError(t, err)
	assert.Empty(t, items)
	h, err := c.HGetAll(ctx, "encounter:e1")
	require.NoError(t, err)
	assert.Equal(t, "game_over", h["state"])

	assert.ErrorIs(t, c.Expire(ctx, "missing", time.Hour), ErrNotFound)

	require.NoError(t, c.Expire(ctx, "encounter:e1", 0))
	ok, _ := c.Exists(ctx, "encounter:e1")
	assert.False(t, ok)
}

func TestGC_SweepsExpiredKeys(t *testing.T) {
	c, err := NewCache(Config{GCInterval: 5 * time.Millisecond})
	require.NoError(t, err)
	defer c.Close()
	ctx := context.Background()
	require.NoError(t, c.SAdd(ctx, "encounters:active", "e1"))
	require.NoError(t, c.Expire(ctx, "encounters:active", 10*time.Millisecond))

	assert.Eventually(t, func() bool {
		c.mu.Lock()
		defer c.mu.Unlock()
		_, present := c.sets["encounters:active"]
		return !present
	}, time.Second, 5*time.Millisecond)
}

func TestDel_AllTypes(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()
	require.NoError(t, c.HSet(ctx, "encounter:e1", map[string]string{"state": "game_over"}))
	require.NoError(t, c.LPush(ctx, "encounter:e1:kills", "k1"))
	require.NoError(t, c.ZAdd(ctx, "ranking:waves", 3, "e1"))
	require.NoError(t, c.Del(ctx, "encounter:e1", "encounter:e1:kills", "ranking:waves"))

	all, err := c.HGetAll(ctx, "encounter:e1")
	require.NoError(t, err)
	assert.Empty(t, all)
	items, err := c.LRange(ctx, "encounter:e1:kills", 0, -1)
	require.NoError(t, err)
	assert.Empty(t, items)
	n, _ := c.ZCard(ctx, "ranking:waves")
	assert.Zero(t, n)
}

func TestHash_MergesFields(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()
	require.NoError(t, c.HSet(ctx, "encounter:e1", map[string]string{"state": "wave_in_progress", "seq": "1"}))
	require.NoError(t, c.HSet(ctx, "encounter:e1", map[string]string{"seq": "2"}))

	h, err := c.HGetAll(ctx, "encounter:e1")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"state": "wave_in_progress", "seq": "2"}, h)

	h["state"] = "mutated"
	again, _ := c.HGetAll(ctx, "encounter:e1")
	assert.Equal(t, "wave_in_progress", again["state"], "HGetAll returns a copy")
}

func TestSetOps(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()
	require.NoError(t, c.SAdd(ctx, "encounters:active", "e2", "e1", "e2"))
	m, err := c.SMembers(ctx, "encounters:active")
	require.NoError(t, err)
	assert.Equal(t, []string{"e1", "e2"}, m)

	require.NoError(t, c.SRem(ctx, "encounters:active", "e1", "e2"))
	ok, _ := c.Exists(ctx, "encounters:active")
	assert.False(t, ok, "an emptied set is removed")
	m, err = c.SMembers(ctx, "encounters:active")
	require.NoError(t, err)
	assert.Empty(t, m)
}

func TestZSet_RankingOrder(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()
	require.NoError(t, c.ZAdd(ctx, "ranking:waves", 3, "e1"))
	require.NoError(t, c.ZAdd(ctx, "ranking:waves", 7, "e2"))
	require.NoError(t, c.ZAdd(ctx, "ranking:waves", 5, "e3"))
	require.NoError(t, c.ZAdd(ctx, "ranking:waves", 5, "e4"))

	top, err := c.ZRevRangeWithScores(ctx, "ranking:waves", 0, 2)
	require.NoError(t, err)
	assert.Equal(t, []ZMember{{"e2", 7}, {"e4", 5}, {"e3", 5}}, top)

	last, err := c.ZRevRangeWithScores(ctx, "ranking:waves", -1, -1)
	require.NoError(t, err)
	assert.Equal(t, []ZMember{{"e1", 3}}, last)

	require.NoError(t, c.ZAdd(ctx, "ranking:waves", 9, "e1"))
	top, _ = c.ZRevRangeWithScores(ctx, "ranking:waves", 0, 0)
	assert.Equal(t, []ZMember{{"e1", 9}}, top)
	n, _ := c.ZCard(ctx, "ranking:waves")
	assert.Equal(t, int64(4), n)

	none, err := c.ZRevRangeWithScores(ctx, "ranking:waves", 10, 20)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestList_PushRangeTrim(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()
	require.NoError(t, c.LPush(ctx, "encounter:e1:kills", "k1"))
	require.NoError(t, c.LPush(ctx, "encounter:e1:kills", "k2", "k3"))

	all, err := c.LRange(ctx, "encounter:e1:kills", 0, -1)
	require.NoError(t, err)
	assert.Equal(t, []string{"k3", "k2", "k1"}, all)

	tail, _ := c.LRange(ctx, "encounter:e1:kills", -2, -1)
	assert.Equal(t, []string{"k2", "k1"}, tail)

	require.NoError(t, c.LTrim(ctx, "encounter:e1:kills", 0, 1))
	all, _ = c.LRange(ctx, "encounter:e1:kills", 0, 100)
	assert.Equal(t, []string{"k3", "k2"}, all)

	require.NoError(t, c.LTrim(ctx, "encounter:e1:kills", 5, 10))
	ok, _ := c.Exists(ctx, "encounter:e1:kills")
	assert.False(t, ok, "trimming to nothing removes the list")
}

func TestSpan(t *testing.T) {
	cases := []struct {
		n, start, stop int64
		lo, hi         int64
		ok             bool
	}{
		{5, 0, -1, 0, 4, true},
		{5, -2, -1, 3, 4, true},
		{5, 1, 100, 1, 4, true},
		{5, -100, 1, 0, 1, true},
		{5, 3, 1, 0, 0, false},
		{5, 5, 9, 0, 0, false},
		{0, 0, -1, 0, 0, false},
	}
	for _, tc := range cases {
		lo, hi, ok := span(tc.n, tc.start, tc.stop)
		assert.Equal(t, tc.ok, ok, "%+v", tc)
		if tc.ok {
			assert.Equal(t, tc.lo, lo, "%+v", tc)
			assert.Equal(t, tc.hi, hi, "%+v", tc)
		}
	}
}
