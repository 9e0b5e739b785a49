package encounter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/kasuganosora/coopwave/server/cache"
	"go.uber.org/zap"
)

var (
	// ErrReplicatorClosed is returned by Replicate after Close.
	ErrReplicatorClosed = errors.New("encounter: replicator closed")
	// ErrReplicationBacklog is returned when the send queue is full.
	ErrReplicationBacklog = errors.New("encounter: replication backlog full")
)

const replicateTimeout = 3 * time.Second

// StateChannel is the pub/sub channel carrying state changes for one encounter.
func StateChannel(encounterID string) string {
	return "encounter:" + encounterID + ":state"
}

// SnapshotKey is the cache hash holding the latest state of one encounter.
func SnapshotKey(encounterID string) string {
	return "encounter:" + encounterID
}

// StateMessage is the wire form of a Change.
type StateMessage struct {
	Encounter string `json:"encounter"`
	State     State  `json:"state"`
	Previous  State  `json:"previous"`
	Seq       uint64 `json:"seq"`
	At        int64  `json:"at"` // unix millis
}

// NewStateMessage converts a Change for transmission.
func NewStateMessage(c Change) StateMessage {
	return StateMessage{
		Encounter: c.EncounterID,
		State:     c.New,
		Previous:  c.Old,
		Seq:       c.Seq,
		At:        c.At.UnixMilli(),
	}
}

// DecodeStateMessage parses a payload received on a StateChannel.
func DecodeStateMessage(payload string) (StateMessage, error) {
	var m StateMessage
	if err := json.Unmarshal([]byte(payload), &m); err != nil {
		return StateMessage{}, fmt.Errorf("decode state message: %w", err)
	}
	return m, nil
}

// PubSubReplicator publishes every change on the encounter's pub/sub channel
// and mirrors the latest value into a cache hash for late joiners.
// Sends happen on a single background goroutine so the simulation thread
// never waits on the network; ordering is preserved.
type PubSubReplicator struct {
	ps     cache.PubSub
	kv     cache.Cache
	logger *zap.Logger

	queue     chan Change
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// NewPubSubReplicator starts a replicator. kv may be nil to skip snapshots.
func NewPubSubReplicator(ps cache.PubSub, kv cache.Cache, logger *zap.Logger) *PubSubReplicator {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &PubSubReplicator{
		ps:     ps,
		kv:     kv,
		logger: logger,
		queue:  make(chan Change, 64),
		done:   make(chan struct{}),
	}
	r.wg.Add(1)
	go r.loop()
	return r
}

// Replicate enqueues c. It never blocks.
func (r *PubSubReplicator) Replicate(_ context.Context, c Change) error {
	select {
	case <-r.done:
		return ErrReplicatorClosed
	default:
	}
	select {
	case r.queue <- c:
		return nil
	default:
		return ErrReplicationBacklog
	}
}

// Close flushes queued changes and stops the worker.
func (r *PubSubReplicator) Close() {
	r.closeOnce.Do(func() { close(r.done) })
	r.wg.Wait()
}

func (r *PubSubReplicator) loop() {
	defer r.wg.Done()
	for {
		select {
		case c := <-r.queue:
			r.send(c)
		case <-r.done:
			for {
				select {
				case c := <-r.queue:
					r.send(c)
				default:
					return
				}
			}
		}
	}
}

func (r *PubSubReplicator) send(c Change) {
	ctx, cancel := context.WithTimeout(context.Background(), replicateTimeout)
	defer cancel()

	payload, err := json.Marshal(NewStateMessage(c))
	if err != nil {
		r.logger.Error("marshal state message", zap.Error(err))
		return
	}
	if r.ps != nil {
		if err := r.ps.Publish(ctx, StateChannel(c.EncounterID), string(payload)); err != nil {
			r.logger.Warn("publish encounter state",
				zap.String("encounter_id", c.EncounterID), zap.Error(err))
		}
	}
	if r.kv != nil {
		key := SnapshotKey(c.EncounterID)
		fields := map[string]string{
			"state": c.New.String(),
			"seq":   strconv.FormatUint(c.Seq, 10),
		}
		if err := r.kv.HSet(ctx, key, fields); err != nil {
			r.logger.Warn("snapshot encounter state", zap.String("key", key), zap.Error(err))
		}
	}
}

// LoadSnapshot reads the last replicated state of an encounter from kv.
func LoadSnapshot(ctx context.Context, kv cache.Cache, encounterID string) (State, uint64, error) {
	fields, err := kv.HGetAll(ctx, SnapshotKey(encounterID))
	if err != nil {
		return 0, 0, err
	}
	name, ok := fields["state"]
	if !ok {
		return 0, 0, fmt.Errorf("encounter %s: no snapshot", encounterID)
	}
	st, err := ParseState(name)
	if err != nil {
		return 0, 0, err
	}
	seq, err := strconv.ParseUint(fields["seq"], 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("encounter %s: snapshot seq: %w", encounterID, err)
	}
	return st, seq, nil
}
