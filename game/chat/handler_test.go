package chat

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/kasuganosora/coopwave/server/cache"
	"github.com/kasuganosora/coopwave/server/game/player"
	"github.com/kasuganosora/coopwave/server/game/world"
	"github.com/kasuganosora/coopwave/server/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type chatEnv struct {
	h     *Handler
	kv    cache.Cache
	ps    cache.PubSub
	sm    *player.SessionManager
	arena *world.Arena
}

func newChatEnv(t *testing.T) *chatEnv {
	t.Helper()
	kv, ps := testutil.SetupTestCache(t)
	mgr := world.NewManager(world.ManagerConfig{}, kv, ps, nil, nil)
	t.Cleanup(mgr.StopAll)
	a, err := mgr.Create()
	require.NoError(t, err)
	sm := player.NewSessionManager(nil)
	return &chatEnv{h: NewHandler(kv, ps, sm, mgr, nil), kv: kv, ps: ps, sm: sm, arena: a}
}

func (e *chatEnv) session(playerID int64, role string) *player.Session {
	s := &player.Session{
		EncounterID: e.arena.ID(),
		PlayerID:    playerID,
		Role:        role,
		SendChan:    make(chan []byte, 64),
		Done:        make(chan struct{}),
	}
	e.sm.Register(s)
	return s
}

func send(t *testing.T, h *Handler, s *player.Session, content string) error {
	t.Helper()
	raw, _ := json.Marshal(chatSendReq{Content: content})
	return h.HandleSend(context.Background(), s, raw)
}

func recv(t *testing.T, s *player.Session) Message {
	t.Helper()
	select {
	case data := <-s.SendChan:
		var pkt player.Packet
		require.NoError(t, json.Unmarshal(data, &pkt))
		require.Equal(t, "chat_recv", pkt.Type)
		var m Message
		require.NoError(t, json.Unmarshal(pkt.Payload, &m))
		return m
	case <-time.After(time.Second):
		t.Fatal("no chat packet")
		return Message{}
	}
}

func TestHandleSend_BroadcastsToEncounter(t *testing.T) {
	e := newChatEnv(t)
	id, err := e.arena.Join("alice")
	require.NoError(t, err)
	alice := e.session(int64(id), "player")
	watcher := e.session(0, "spectator")

	require.NoError(t, send(t, e.h, alice, "  incoming!  "))

	for _, s := range []*player.Session{alice, watcher} {
		m := recv(t, s)
		assert.Equal(t, "alice", m.FromName)
		assert.Equal(t, int64(id), m.FromID)
		assert.Equal(t, "incoming!", m.Content)
		assert.Equal(t, e.arena.ID(), m.EncounterID)
	}

	require.NoError(t, send(t, e.h, watcher, "go go"))
	m := recv(t, alice)
	assert.Equal(t, "spectator", m.FromName)
	assert.Equal(t, "spectator", m.Role)
}

func TestHandleSend_PublishesToChannel(t *testing.T) {
	e := newChatEnv(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	msgs, unsub, err := e.ps.Subscribe(ctx, Channel(e.arena.ID()))
	require.NoError(t, err)
	defer unsub()

	s := e.session(0, "spectator")
	require.NoError(t, send(t, e.h, s, "hello"))

	select {
	case msg := <-msgs:
		var m Message
		require.NoError(t, json.Unmarshal([]byte(msg.Payload), &m))
		assert.Equal(t, "hello", m.Content)
	case <-time.After(time.Second):
		t.Fatal("nothing published")
	}
}

func TestHandleSend_Validation(t *testing.T) {
	e := newChatEnv(t)
	s := e.session(0, "spectator")

	assert.NoError(t, send(t, e.h, s, "   "), "blank lines are ignored")
	assert.Len(t, s.SendChan, 0)

	assert.ErrorIs(t, send(t, e.h, s, strings.Repeat("x", maxMsgLen+1)), ErrTooLong)
	assert.NoError(t, send(t, e.h, s, strings.Repeat("é", maxMsgLen)), "length counts runes")

	gone := &player.Session{EncounterID: "nope", SendChan: make(chan []byte, 1), Done: make(chan struct{})}
	assert.ErrorIs(t, send(t, e.h, gone, "hi"), ErrNoEncounter)

	assert.Error(t, e.h.HandleSend(context.Background(), s, json.RawMessage(`{`)))
}

func TestHandleSend_RateLimited(t *testing.T) {
	e := newChatEnv(t)
	s := e.session(0, "spectator")
	var err error
	for i := 0; i < 10 && err == nil; i++ {
		err = send(t, e.h, s, "spam")
	}
	assert.ErrorIs(t, err, ErrTooFast)
}

func TestHistory_OldestFirstAndCapped(t *testing.T) {
	e := newChatEnv(t)
	for i := 0; i < historyLen+5; i++ {
		// A fresh session per line keeps the rate limiter out of the way.
		s := &player.Session{EncounterID: e.arena.ID(), Role: "spectator", Done: make(chan struct{})}
		require.NoError(t, send(t, e.h, s, string(rune('a'+i%26))))
	}

	all, err := e.h.History(context.Background(), e.arena.ID(), 100)
	require.NoError(t, err)
	assert.Len(t, all, historyLen)

	last, err := e.h.History(context.Background(), e.arena.ID(), 2)
	require.NoError(t, err)
	require.Len(t, last, 2)
	assert.Equal(t, all[historyLen-2].Content, last[0].Content)
	assert.Equal(t, all[historyLen-1].Content, last[1].Content)
}

func TestSendHistory_ReplaysToNewSession(t *testing.T) {
	e := newChatEnv(t)
	first := e.session(0, "spectator")
	require.NoError(t, send(t, e.h, first, "one"))
	require.NoError(t, send(t, e.h, first, "two"))

	late := &player.Session{EncounterID: e.arena.ID(), SendChan: make(chan []byte, 8), Done: make(chan struct{})}
	e.h.SendHistory(context.Background(), late, 10)
	assert.Equal(t, "one", recv(t, late).Content)
	assert.Equal(t, "two", recv(t, late).Content)
}
