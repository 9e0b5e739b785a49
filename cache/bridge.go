package cache

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/kasuganosora/coopwave/server/cache/local"
	cacheredis "github.com/kasuganosora/coopwave/server/cache/redis"
	goredis "github.com/redis/go-redis/v9"
)

// The backends return their own sorted-set and message types; these
// wrappers convert them to the package types.

type localStore struct{ *local.LocalCache }

func (s localStore) ZRevRangeWithScores(ctx context.Context, key string, start, stop int64) ([]ScoredMember, error) {
	zs, err := s.LocalCache.ZRevRangeWithScores(ctx, key, start, stop)
	return convert(zs, err, func(z local.ZMember) ScoredMember {
		return ScoredMember{Member: z.Member, Score: z.Score}
	})
}

type redisStore struct{ *cacheredis.RedisCache }

func (s redisStore) ZRevRangeWithScores(ctx context.Context, key string, start, stop int64) ([]ScoredMember, error) {
	zs, err := s.RedisCache.ZRevRangeWithScores(ctx, key, start, stop)
	return convert(zs, err, func(z goredis.Z) ScoredMember {
		return ScoredMember{Member: fmt.Sprint(z.Member), Score: z.Score}
	})
}

func convert[T, U any](in []T, err error, fn func(T) U) ([]U, error) {
	if err != nil {
		return nil, err
	}
	out := make([]U, len(in))
	for i, v := range in {
		out[i] = fn(v)
	}
	return out, nil
}

// relay copies backend messages into a new channel of size buf, closing it
// when in closes. A full out channel drops the message and bumps dropped,
// so a stalled reader never wedges the backend.
func relay[M any](in <-chan M, buf int, dropped *atomic.Uint64, fn func(M) *Message) <-chan *Message {
	out := make(chan *Message, buf)
	go func() {
		defer close(out)
		for m := range in {
			select {
			case out <- fn(m):
			default:
				if dropped != nil {
					dropped.Add(1)
				}
			}
		}
	}()
	return out
}

type localBus struct {
	ps      *local.LocalPubSub
	buf     int
	relayed atomic.Uint64
}

func (b *localBus) Publish(ctx context.Context, channel, message string) error {
	return b.ps.Publish(ctx, channel, message)
}

func (b *localBus) Subscribe(ctx context.Context, channels ...string) (<-chan *Message, func(), error) {
	in, cancel, err := b.ps.Subscribe(ctx, channels...)
	if err != nil {
		return nil, nil, err
	}
	return relay(in, b.buf, &b.relayed, func(m *local.LocalMessage) *Message {
		return &Message{Channel: m.Channel, Payload: m.Payload}
	}), cancel, nil
}

// Dropped reports messages discarded for slow subscribers.
func (b *localBus) Dropped() uint64 {
	return b.ps.Dropped() + b.relayed.Load()
}

type redisBus struct {
	ps      *cacheredis.RedisPubSub
	dropped atomic.Uint64
}

func (b *redisBus) Publish(ctx context.Context, channel, message string) error {
	return b.ps.Publish(ctx, channel, message)
}

func (b *redisBus) Subscribe(ctx context.Context, channels ...string) (<-chan *Message, func(), error) {
	in, cancel, err := b.ps.Subscribe(ctx, channels...)
	if err != nil {
		return nil, nil, err
	}
	return relay(in, 256, &b.dropped, func(m *goredis.Message) *Message {
		return &Message{Channel: m.Channel, Payload: m.Payload}
	}), cancel, nil
}

// Dropped reports messages discarded for slow subscribers on this node.
func (b *redisBus) Dropped() uint64 {
	return b.dropped.Load()
}
