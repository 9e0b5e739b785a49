package local

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"
)

// ErrNotFound is returned when a key does not exist.
var ErrNotFound = errors.New("cache: key not found")

// Config holds LocalCache settings.
type Config struct {
	GCInterval time.Duration
}

// ZMember is one scored member of a sorted set.
type ZMember struct {
	Member string
	Score  float64
}

// LocalCache is an in-process stand-in for Redis used by single-node
// deployments and tests. Every key has one type; Del and Expire apply to
// keys of any type, as in Redis.
type LocalCache struct {
	mu     sync.Mutex
	kv     map[string]string
	hashes map[string]map[string]string
	sets   map[string]map[string]struct{}
	zsets  map[string][]ZMember // score descending
	lists  map[string][]string  // index 0 is the head
	expiry map[string]time.Time
	now    func() time.Time

	gcInterval time.Duration
	stopGC     chan struct{}
	closeOnce  sync.Once
}

// NewCache creates a LocalCache and starts the background expiry sweep.
func NewCache(cfg Config) (*LocalCache, error) {
	interval := cfg.GCInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	c := &LocalCache{
		kv:         make(map[string]string),
		hashes:     make(map[string]map[string]string),
		sets:       make(map[string]map[string]struct{}),
		zsets:      make(map[string][]ZMember),
		lists:      make(map[string][]string),
		expiry:     make(map[string]time.Time),
		now:        time.Now,
		gcInterval: interval,
		stopGC:     make(chan struct{}),
	}
	go c.runGC()
	return c, nil
}

// Close stops the background sweep. Safe to call more than once.
func (c *LocalCache) Close() {
	c.closeOnce.Do(func() { close(c.stopGC) })
}

func (c *LocalCache) runGC() {
	ticker := time.NewTicker(c.gcInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.mu.Lock()
			for key := range c.expiry {
				c.evictLocked(key)
			}
			c.mu.Unlock()
		case <-c.stopGC:
			return
		}
	}
}

// evictLocked drops key when its TTL has passed.
func (c *LocalCache) evictLocked(key string) {
	at, ok := c.expiry[key]
	if ok && !c.now().Before(at) {
		c.deleteLocked(key)
	}
}

func (c *LocalCache) deleteLocked(key string) {
	delete(c.kv, key)
	delete(c.hashes, key)
	delete(c.sets, key)
	delete(c.zsets, key)
	delete(c.lists, key)
	delete(c.expiry, key)
}

func (c *LocalCache) existsLocked(key string) bool {
	if _, ok := c.kv[key]; ok {
		return true
	}
	if _, ok := c.hashes[key]; ok {
		return true
	}
	if _, ok := c.sets[key]; ok {
		return true
	}
	if _, ok := c.zsets[key]; ok {
		return true
	}
	_, ok := c.lists[key]
	return ok
}

// ---- KV ----

func (c *LocalCache) Get(_ context.Context, key string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.evictLocked(key)
	v, ok := c.kv[key]
	if !ok {
		return "", ErrNotFound
	}
	return v, nil
}

// Set stores value under key. ttl <= 0 means no expiry.
func (c *LocalCache) Set(_ context.Context, key, value string, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.deleteLocked(key)
	c.kv[key] = value
	if ttl > 0 {
		c.expiry[key] = c.now().Add(ttl)
	}
	return nil
}

// Del removes keys of any type.
func (c *LocalCache) Del(_ context.Context, keys ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, k := range keys {
		c.deleteLocked(k)
	}
	return nil
}

func (c *LocalCache) Exists(_ context.Context, key string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.evictLocked(key)
	return c.existsLocked(key), nil
}

// Expire sets a TTL on a key of any type. A non-positive ttl deletes the key.
func (c *LocalCache) Expire(_ context.Context, key string, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.evictLocked(key)
	if !c.existsLocked(key) {
		return ErrNotFound
	}
	if ttl <= 0 {
		c.deleteLocked(key)
		return nil
	}
	c.expiry[key] = c.now().Add(ttl)
	return nil
}

// ---- Hash ----

// HSet merges fields into the hash at key.
func (c *LocalCache) HSet(_ context.Context, key string, fields map[string]string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.evictLocked(key)
	h, ok := c.hashes[key]
	if !ok {
		h = make(map[string]string, len(fields))
		c.hashes[key] = h
	}
	for f, v := range fields {
		h[f] = v
	}
	return nil
}

// HGetAll returns a copy of the hash; a missing key yields an empty map.
func (c *LocalCache) HGetAll(_ context.Context, key string) (map[string]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.evictLocked(key)
	out := make(map[string]string, len(c.hashes[key]))
	for f, v := range c.hashes[key] {
		out[f] = v
	}
	return out, nil
}

// ---- Set ----

func (c *LocalCache) SAdd(_ context.Context, key string, members ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.evictLocked(key)
	s, ok := c.sets[key]
	if !ok {
		s = make(map[string]struct{}, len(members))
		c.sets[key] = s
	}
	for _, m := range members {
		s[m] = struct{}{}
	}
	return nil
}

func (c *LocalCache) SRem(_ context.Context, key string, members ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.evictLocked(key)
	s, ok := c.sets[key]
	if !ok {
		return nil
	}
	for _, m := range members {
		delete(s, m)
	}
	if len(s) == 0 {
		c.deleteLocked(key)
	}
	return nil
}

// SMembers returns the members in lexical order.
func (c *LocalCache) SMembers(_ context.Context, key string) ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.evictLocked(key)
	out := make([]string, 0, len(c.sets[key]))
	for m := range c.sets[key] {
		out = append(out, m)
	}
	sort.Strings(out)
	return out, nil
}

// ---- ZSet ----

// zLess orders members the way Redis ZREVRANGE does: score descending, ties
// by member descending.
func zLess(a, b ZMember) bool {
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	return a.Member > b.Member
}

func (c *LocalCache) ZAdd(_ context.Context, key string, score float64, member string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.evictLocked(key)
	z := c.zsets[key]
	found := false
	for i := range z {
		if z[i].Member == member {
			z[i].Score = score
			found = true
			break
		}
	}
	if !found {
		z = append(z, ZMember{Member: member, Score: score})
	}
	sort.Slice(z, func(i, j int) bool { return zLess(z[i], z[j]) })
	c.zsets[key] = z
	return nil
}

// ZRevRangeWithScores returns members ranked start..stop (inclusive,
// negative indexes count from the end) by descending score.
func (c *LocalCache) ZRevRangeWithScores(_ context.Context, key string, start, stop int64) ([]ZMember, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.evictLocked(key)
	z := c.zsets[key]
	lo, hi, ok := span(int64(len(z)), start, stop)
	if !ok {
		return []ZMember{}, nil
	}
	out := make([]ZMember, hi-lo+1)
	copy(out, z[lo:hi+1])
	return out, nil
}

func (c *LocalCache) ZCard(_ context.Context, key string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.evictLocked(key)
	return int64(len(c.zsets[key])), nil
}

// ---- List ----

// LPush prepends values one by one, so the last value ends up at the head.
func (c *LocalCache) LPush(_ context.Context, key string, values ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.evictLocked(key)
	l := c.lists[key]
	head := make([]string, 0, len(values)+len(l))
	for i := len(values) - 1; i >= 0; i-- {
		head = append(head, values[i])
	}
	c.lists[key] = append(head, l...)
	return nil
}

func (c *LocalCache) LRange(_ context.Context, key string, start, stop int64) ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.evictLocked(key)
	l := c.lists[key]
	lo, hi, ok := span(int64(len(l)), start, stop)
	if !ok {
		return []string{}, nil
	}
	out := make([]string, hi-lo+1)
	copy(out, l[lo:hi+1])
	return out, nil
}

// LTrim keeps only elements start..stop.
func (c *LocalCache) LTrim(_ context.Context, key string, start, stop int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.evictLocked(key)
	l, exists := c.lists[key]
	if !exists {
		return nil
	}
	lo, hi, ok := span(int64(len(l)), start, stop)
	if !ok {
		c.deleteLocked(key)
		return nil
	}
	c.lists[key] = append([]string(nil), l[lo:hi+1]...)
	return nil
}

// span resolves Redis-style inclusive indexes against a length n.
func span(n, start, stop int64) (lo, hi int64, ok bool) {
	if start < 0 {
		start += n
	}
	if stop < 0 {
		stop += n
	}
	if start < 0 {
		start = 0
	}
	if stop >= n {
		stop = n - 1
	}
	if n == 0 || start > stop || start >= n {
		return 0, 0, false
	}
	return start, stop, true
}
