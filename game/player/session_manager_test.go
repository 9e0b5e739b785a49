package player

import (
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSession(encounterID string, playerID int64) *Session {
	return &Session{
		EncounterID: encounterID,
		PlayerID:    playerID,
		SendChan:    make(chan []byte, 4),
		Done:        make(chan struct{}),
	}
}

func TestSessionManager_RegisterGroupsByEncounter(t *testing.T) {
	sm := NewSessionManager(nil)
	a1 := newTestSession("a", 1)
	a2 := newTestSession("a", 0)
	b1 := newTestSession("b", 1)
	sm.Register(a1)
	sm.Register(a2)
	sm.Register(b1)

	assert.Equal(t, 3, sm.Count())
	assert.Equal(t, []string{"a", "b"}, sm.Encounters())
	assert.Len(t, sm.In("a"), 2)
	assert.False(t, b1.IsClosed(), "same player id in another encounter is not a duplicate")

	sm.Unregister(b1)
	sm.Unregister(b1)
	assert.Equal(t, []string{"a"}, sm.Encounters())
}

func TestSessionManager_DuplicatePlayerDisplaced(t *testing.T) {
	sm := NewSessionManager(nil)
	old := newTestSession("a", 7)
	spectator1 := newTestSession("a", 0)
	spectator2 := newTestSession("a", 0)
	sm.Register(old)
	sm.Register(spectator1)
	sm.Register(spectator2)

	fresh := newTestSession("a", 7)
	sm.Register(fresh)
	assert.True(t, old.IsClosed())
	assert.False(t, spectator1.IsClosed())
	assert.False(t, spectator2.IsClosed())
	assert.Len(t, sm.In("a"), 3)

	// Unregistering the displaced session leaves the new one in place.
	sm.Unregister(old)
	assert.Len(t, sm.In("a"), 3)
}

func TestSessionManager_BroadcastPacket(t *testing.T) {
	sm := NewSessionManager(nil)
	a := newTestSession("a", 1)
	b := newTestSession("b", 1)
	sm.Register(a)
	sm.Register(b)

	sm.BroadcastPacket("a", &Packet{Type: "snapshot"})
	require.Len(t, a.SendChan, 1)
	assert.Len(t, b.SendChan, 0)

	var pkt Packet
	require.NoError(t, json.Unmarshal(<-a.SendChan, &pkt))
	assert.Equal(t, "snapshot", pkt.Type)
}

func TestSessionManager_BroadcastDropsWhenFull(t *testing.T) {
	sm := NewSessionManager(nil)
	a := newTestSession("a", 1)
	sm.Register(a)
	for i := 0; i < 10; i++ {
		sm.Broadcast("a", []byte("x"))
	}
	assert.Len(t, a.SendChan, cap(a.SendChan))
	assert.Equal(t, uint64(10-cap(a.SendChan)), a.Dropped())
	assert.Equal(t, a.Dropped(), sm.Dropped())
}

func TestSession_ConcurrentClose(t *testing.T) {
	s := newTestSession("a", 1)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.Close()
		}()
	}
	wg.Wait()
	assert.True(t, s.IsClosed())
}

func TestSessionManager_CloseEncounter(t *testing.T) {
	sm := NewSessionManager(nil)
	a := newTestSession("a", 1)
	b := newTestSession("b", 1)
	sm.Register(a)
	sm.Register(b)

	sm.CloseEncounter("a")
	assert.True(t, a.IsClosed())
	assert.False(t, b.IsClosed())
}

func TestSession_MarkPushed(t *testing.T) {
	s := newTestSession("a", 1)
	assert.True(t, s.MarkPushed(1))
	assert.False(t, s.MarkPushed(1))
	assert.True(t, s.MarkPushed(3))
	assert.False(t, s.MarkPushed(2))
}

func TestSession_SendAfterCloseIsDropped(t *testing.T) {
	s := newTestSession("a", 1)
	s.Close()
	s.Close()
	s.Send(&Packet{Type: "x"})
	assert.Len(t, s.SendChan, 0)
}

func TestSession_AllowChatBurst(t *testing.T) {
	s := newTestSession("a", 1)
	for i := 0; i < chatBurst; i++ {
		assert.True(t, s.AllowChat(), "message %d", i)
	}
	assert.False(t, s.AllowChat())
}
