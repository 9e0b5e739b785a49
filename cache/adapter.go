// Package cache is the shared state layer of the encounter server. One
// interface covers the in-process backend (single node, tests) and Redis
// (several nodes behind a load balancer).
package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kasuganosora/coopwave/server/cache/local"
	cacheredis "github.com/kasuganosora/coopwave/server/cache/redis"
)

// Cache holds encounter state snapshots (hash), the active encounter set
// (set), the wave ranking (sorted set) and the kill and chat feeds (list).
// Del and Expire apply to keys of every type.
type Cache interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value string, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error
	Exists(ctx context.Context, key string) (bool, error)
	Expire(ctx context.Context, key string, ttl time.Duration) error

	HSet(ctx context.Context, key string, fields map[string]string) error
	HGetAll(ctx context.Context, key string) (map[string]string, error)

	SAdd(ctx context.Context, key string, members ...string) error
	SRem(ctx context.Context, key string, members ...string) error
	SMembers(ctx context.Context, key string) ([]string, error)

	ZAdd(ctx context.Context, key string, score float64, member string) error
	ZRevRangeWithScores(ctx context.Context, key string, start, stop int64) ([]ScoredMember, error)
	ZCard(ctx context.Context, key string) (int64, error)

	LPush(ctx context.Context, key string, values ...string) error
	LRange(ctx context.Context, key string, start, stop int64) ([]string, error)
	LTrim(ctx context.Context, key string, start, stop int64) error
}

// ScoredMember is one entry of a sorted set read.
type ScoredMember struct {
	Member string
	Score  float64
}

// Message is one delivery from a subscription.
type Message struct {
	Channel string
	Payload string
}

// PubSub fans messages out to every subscriber of a channel. The returned
// cancel func ends the subscription and closes its channel.
type PubSub interface {
	Publish(ctx context.Context, channel, message string) error
	Subscribe(ctx context.Context, channels ...string) (<-chan *Message, func(), error)
}

// IsNotFound reports whether err means the key does not exist, for either
// backend.
func IsNotFound(err error) bool {
	return errors.Is(err, local.ErrNotFound) || errors.Is(err, cacheredis.ErrNotFound)
}

// CacheConfig selects and tunes the backend. A non-empty RedisAddr selects
// Redis for both Cache and PubSub.
type CacheConfig struct {
	RedisAddr       string        `mapstructure:"redis_addr"`
	RedisPassword   string        `mapstructure:"redis_password"`
	RedisDB         int           `mapstructure:"redis_db"`
	LocalGCInterval time.Duration `mapstructure:"local_gc_interval"`
	LocalPubSubBuf  int           `mapstructure:"local_pubsub_buf"`
}

func (cfg CacheConfig) useRedis() bool { return cfg.RedisAddr != "" }

func (cfg CacheConfig) redisConfig() cacheredis.Config {
	return cacheredis.Config{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB}
}

func (cfg CacheConfig) bufSize() int {
	if cfg.LocalPubSubBuf > 0 {
		return cfg.LocalPubSubBuf
	}
	return 256
}

// NewCache opens the configured backend. For Redis the server must answer
// a ping.
func NewCache(cfg CacheConfig) (Cache, error) {
	if !cfg.useRedis() {
		lc, err := local.NewCache(local.Config{GCInterval: cfg.LocalGCInterval})
		if err != nil {
			return nil, fmt.Errorf("local cache: %w", err)
		}
		return localStore{lc}, nil
	}
	rc, err := cacheredis.NewCache(cfg.redisConfig())
	if err != nil {
		return nil, fmt.Errorf("redis cache %s: %w", cfg.RedisAddr, err)
	}
	return redisStore{rc}, nil
}

// NewPubSub opens the configured message bus.
func NewPubSub(cfg CacheConfig) (PubSub, error) {
	if !cfg.useRedis() {
		return &localBus{ps: local.NewPubSub(cfg.bufSize()), buf: cfg.bufSize()}, nil
	}
	rps, err := cacheredis.NewPubSub(cfg.redisConfig())
	if err != nil {
		return nil, fmt.Errorf("redis pubsub %s: %w", cfg.RedisAddr, err)
	}
	return &redisBus{ps: rps}, nil
}

// Close releases whatever backs c, if it holds resources.
func Close(c Cache) {
	if cl, ok := c.(interface{ Close() }); ok {
		cl.Close()
	}
}
