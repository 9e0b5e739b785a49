package local

import (
	"context"
	"sync"
	"sync/atomic"
)

// LocalMessage is an in-process pub/sub message.
type LocalMessage struct {
	Channel string
	Payload string
}

// subscription is one Subscribe call; it may listen on several channels.
type subscription struct {
	ch       chan *LocalMessage
	channels []string
	once     sync.Once
	stop     chan struct{}
}

// LocalPubSub fans messages out to in-process subscribers. Delivery never
// blocks the publisher: a subscriber whose buffer is full misses the message
// and the drop is counted.
type LocalPubSub struct {
	mu      sync.RWMutex
	subs    map[string]map[*subscription]struct{}
	bufSize int
	dropped atomic.Uint64
}

// NewPubSub creates a LocalPubSub with the given per-subscriber buffer size.
func NewPubSub(bufSize int) *LocalPubSub {
	if bufSize <= 0 {
		bufSize = 256
	}
	return &LocalPubSub{
		subs:    make(map[string]map[*subscription]struct{}),
		bufSize: bufSize,
	}
}

// Publish delivers message to every current subscriber of channel.
func (ps *LocalPubSub) Publish(_ context.Context, channel, message string) error {
	msg := &LocalMessage{Channel: channel, Payload: message}
	// The read lock is held across the sends so a concurrent cancel cannot
	// close a channel mid-delivery.
	ps.mu.RLock()
	defer ps.mu.RUnlock()
	for s := range ps.subs[channel] {
		select {
		case s.ch <- msg:
		default:
			ps.dropped.Add(1)
		}
	}
	return nil
}

// Dropped reports how many deliveries were skipped because a subscriber's
// buffer was full.
func (ps *LocalPubSub) Dropped() uint64 {
	return ps.dropped.Load()
}

// Subscribers returns the number of live subscriptions on channel.
func (ps *LocalPubSub) Subscribers(channel string) int {
	ps.mu.RLock()
	defer ps.mu.RUnlock()
	return len(ps.subs[channel])
}

// Subscribe listens on channels until cancel is called or ctx is done,
// after which the returned channel is closed. cancel is idempotent.
func (ps *LocalPubSub) Subscribe(ctx context.Context, channels ...string) (<-chan *LocalMessage, func(), error) {
	s := &subscription{
		ch:       make(chan *LocalMessage, ps.bufSize),
		channels: channels,
		stop:     make(chan struct{}),
	}

	ps.mu.Lock()
	for _, c := range channels {
		set, ok := ps.subs[c]
		if !ok {
			set = make(map[*subscription]struct{})
			ps.subs[c] = set
		}
		set[s] = struct{}{}
	}
	ps.mu.Unlock()

	cancel := func() { ps.unsubscribe(s) }
	go func() {
		select {
		case <-ctx.Done():
			cancel()
		case <-s.stop:
		}
	}()
	return s.ch, cancel, nil
}

func (ps *LocalPubSub) unsubscribe(s *subscription) {
	s.once.Do(func() {
		ps.mu.Lock()
		for _, c := range s.channels {
			delete(ps.subs[c], s)
			if len(ps.subs[c]) == 0 {
				delete(ps.subs, c)
			}
		}
		close(s.ch)
		ps.mu.Unlock()
		close(s.stop)
	})
}
