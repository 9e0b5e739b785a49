package encounter

import (
	"context"
	"errors"
	"strconv"
	"testing"
	"time"

	"github.com/kasuganosora/coopwave/server/game/ai"
	"github.com/kasuganosora/coopwave/server/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type recordingReplicator struct {
	changes []Change
	err     error
}

func (r *recordingReplicator) Replicate(_ context.Context, c Change) error {
	r.changes = append(r.changes, c)
	return r.err
}

func TestStore_InitialState(t *testing.T) {
	s := NewStore("e1", nil, nil)
	assert.Equal(t, WaitingToStart, s.Current())
	assert.Equal(t, uint64(0), s.Seq())
	assert.Equal(t, "e1", s.EncounterID())
}

func TestStore_PublishNotifiesNewAndOld(t *testing.T) {
	rep := &recordingReplicator{}
	s := NewStore("e1", rep, zap.NewNop())

	var got []Change
	s.OnChange(func(c Change) { got = append(got, c) })

	require.NoError(t, s.Publish(ai.RoleAuthority, WaveInProgress))
	require.NoError(t, s.Publish(ai.RoleAuthority, WaitingToComplete))

	require.Len(t, got, 2)
	assert.Equal(t, WaveInProgress, got[0].New)
	assert.Equal(t, WaitingToStart, got[0].Old)
	assert.Equal(t, WaitingToComplete, got[1].New)
	assert.Equal(t, WaveInProgress, got[1].Old)
	assert.Equal(t, uint64(2), got[1].Seq)

	assert.Equal(t, got, rep.changes)
	assert.Equal(t, WaitingToComplete, s.Current())
}

func TestStore_EveryAuthoritativeWriteIsTransmitted(t *testing.T) {
	rep := &recordingReplicator{}
	s := NewStore("e1", rep, nil)
	require.NoError(t, s.Publish(ai.RoleAuthority, WaitingToStart))
	require.NoError(t, s.Publish(ai.RoleAuthority, WaitingToStart))
	assert.Len(t, rep.changes, 2)
}

func TestStore_NonAuthorityRejected(t *testing.T) {
	rep := &recordingReplicator{}
	s := NewStore("e1", rep, nil)
	called := false
	s.OnChange(func(Change) { called = true })

	err := s.Publish(ai.RoleSimulatedProxy, GameOver)
	assert.ErrorIs(t, err, ErrNotAuthority)
	assert.Equal(t, WaitingToStart, s.Current())
	assert.False(t, called)
	assert.Empty(t, rep.changes)
}

func TestStore_InvalidState(t *testing.T) {
	s := NewStore("e1", nil, nil)
	assert.ErrorIs(t, s.Publish(ai.RoleAuthority, State(9)), ErrUnknownState)
	assert.Equal(t, uint64(0), s.Seq())
}

func TestStore_ReplicationErrorDoesNotFailPublish(t *testing.T) {
	rep := &recordingReplicator{err: errors.New("down")}
	s := NewStore("e1", rep, nil)
	require.NoError(t, s.Publish(ai.RoleAuthority, WaveInProgress))
	assert.Equal(t, WaveInProgress, s.Current())
}

func TestStore_ViewTracksWrites(t *testing.T) {
	s := NewStore("e1", nil, nil)
	v := s.View()
	require.NoError(t, s.Publish(ai.RoleAuthority, WaveInProgress))
	assert.Equal(t, WaveInProgress, v.Current())
	assert.Equal(t, uint64(1), v.Seq())
}

func TestPubSubReplicator_PublishesAndSnapshots(t *testing.T) {
	kv, ps := testutil.SetupTestCache(t)
	ctx := context.Background()

	msgs, cancel, err := ps.Subscribe(ctx, StateChannel("e1"))
	require.NoError(t, err)
	defer cancel()

	rep := NewPubSubReplicator(ps, kv, zap.NewNop())
	s := NewStore("e1", rep, nil)
	require.NoError(t, s.Publish(ai.RoleAuthority, WaveInProgress))
	require.NoError(t, s.Publish(ai.RoleAuthority, WaitingToComplete))
	rep.Close()

	var got []StateMessage
	timeout := time.After(2 * time.Second)
	for len(got) < 2 {
		select {
		case m := <-msgs:
			sm, err := DecodeStateMessage(m.Payload)
			require.NoError(t, err)
			got = append(got, sm)
		case <-timeout:
			t.Fatalf("received %d of 2 messages", len(got))
		}
	}
	assert.Equal(t, WaveInProgress, got[0].State)
	assert.Equal(t, WaitingToStart, got[0].Previous)
	assert.Equal(t, WaitingToComplete, got[1].State)
	assert.Equal(t, uint64(2), got[1].Seq)
	assert.Equal(t, "e1", got[1].Encounter)

	st, seq, err := LoadSnapshot(ctx, kv, "e1")
	require.NoError(t, err)
	assert.Equal(t, WaitingToComplete, st)
	assert.Equal(t, uint64(2), seq)
}

func TestPubSubReplicator_ClosedRejects(t *testing.T) {
	_, ps := testutil.SetupTestCache(t)
	rep := NewPubSubReplicator(ps, nil, nil)
	rep.Close()
	rep.Close()
	err := rep.Replicate(context.Background(), Change{EncounterID: "e1"})
	assert.ErrorIs(t, err, ErrReplicatorClosed)
}

func TestLoadSnapshot_Missing(t *testing.T) {
	kv, _ := testutil.SetupTestCache(t)
	_, _, err := LoadSnapshot(context.Background(), kv, "nope")
	assert.Error(t, err)
}

func TestLoadSnapshot_CorruptSeq(t *testing.T) {
	kv, _ := testutil.SetupTestCache(t)
	ctx := context.Background()
	for _, seq := range []string{"", "-1", "twelve"} {
		require.NoError(t, kv.HSet(ctx, SnapshotKey("e1"), map[string]string{"state": "game_over", "seq": seq}))
		_, _, err := LoadSnapshot(ctx, kv, "e1")
		assert.ErrorIs(t, err, strconv.ErrSyntax, "seq %q", seq)
	}
}
