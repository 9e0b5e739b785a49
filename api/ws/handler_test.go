package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/kasuganosora/coopwave/server/cache"
	"github.com/kasuganosora/coopwave/server/config"
	"github.com/kasuganosora/coopwave/server/game/encounter"
	"github.com/kasuganosora/coopwave/server/game/player"
	"github.com/kasuganosora/coopwave/server/game/world"
	mw "github.com/kasuganosora/coopwave/server/middleware"
	"github.com/kasuganosora/coopwave/server/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type wsEnv struct {
	srv    *httptest.Server
	h      *Handler
	mgr    *world.Manager
	sm     *player.SessionManager
	ps     cache.PubSub
	pusher *Pusher
	sec    config.SecurityConfig
	issue  func(encounterID string, playerID int64, role string) string
}

func newWSEnv(t *testing.T, origins ...string) *wsEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)
	kv, ps := testutil.SetupTestCache(t)
	sec := config.SecurityConfig{JWTSecret: "test-secret", TicketTTL: time.Hour, AllowedOrigins: origins}
	mgr := world.NewManager(world.ManagerConfig{}, kv, ps, nil, nil)
	sm := player.NewSessionManager(nil)
	router := NewRouter(nil)
	RegisterRoomHandlers(router, mgr)
	h := NewHandler(sec, mgr, sm, ps, router, nil)

	r := gin.New()
	r.GET("/api/encounters/:id/ws", mw.Auth(sec, kv), h.ServeWS)
	srv := httptest.NewServer(r)
	t.Cleanup(func() {
		sm.CloseAllSessions()
		srv.Close()
		mgr.StopAll()
	})

	issue := func(encounterID string, playerID int64, role string) string {
		tok, jti, err := mw.GenerateTicket(encounterID, playerID, role, sec.JWTSecret, time.Hour)
		require.NoError(t, err)
		require.NoError(t, kv.Set(context.Background(), mw.TicketKey(jti), encounterID, time.Hour))
		return tok
	}
	return &wsEnv{srv: srv, h: h, mgr: mgr, sm: sm, ps: ps, pusher: NewPusher(mgr, sm, nil), sec: sec, issue: issue}
}

func (e *wsEnv) dial(t *testing.T, encounterID, ticket string, header http.Header) (*websocket.Conn, *http.Response, error) {
	t.Helper()
	url := "ws" + strings.TrimPrefix(e.srv.URL, "http") + "/api/encounters/" + encounterID + "/ws?ticket=" + ticket
	return websocket.DefaultDialer.Dial(url, header)
}

func readPacket(t *testing.T, conn *websocket.Conn) player.Packet {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	var pkt player.Packet
	require.NoError(t, conn.ReadJSON(&pkt))
	return pkt
}

// readUntil skips packets until one of type want arrives.
func readUntil(t *testing.T, conn *websocket.Conn, want string) player.Packet {
	t.Helper()
	for {
		pkt := readPacket(t, conn)
		if pkt.Type == want {
			return pkt
		}
	}
}

func send(t *testing.T, conn *websocket.Conn, seq uint64, msgType string, payload interface{}) {
	t.Helper()
	raw, _ := json.Marshal(payload)
	require.NoError(t, conn.WriteJSON(player.Packet{Seq: seq, Type: msgType, Payload: raw}))
}

func TestServeWS_WelcomeAndSnapshots(t *testing.T) {
	e := newWSEnv(t)
	a, err := e.mgr.Create()
	require.NoError(t, err)
	pid, err := a.Join("alice")
	require.NoError(t, err)

	conn, _, err := e.dial(t, a.ID(), e.issue(a.ID(), int64(pid), mw.RolePlayer), nil)
	require.NoError(t, err)
	defer conn.Close()

	welcome := readPacket(t, conn)
	require.Equal(t, "welcome", welcome.Type)
	var w welcomePayload
	require.NoError(t, json.Unmarshal(welcome.Payload, &w))
	assert.Equal(t, int64(pid), w.PlayerID)
	assert.Equal(t, mw.RolePlayer, w.Role)
	require.Len(t, w.Snapshot.Players, 1)

	require.Eventually(t, func() bool { return e.sm.Count() == 1 }, time.Second, 10*time.Millisecond)
	e.pusher.Push()
	snap := readUntil(t, conn, "snapshot")
	var s world.Snapshot
	require.NoError(t, json.Unmarshal(snap.Payload, &s))
	assert.Equal(t, a.ID(), s.EncounterID)
}

func TestServeWS_PlayerCommands(t *testing.T) {
	e := newWSEnv(t)
	a, err := e.mgr.Create()
	require.NoError(t, err)
	pid, err := a.Join("alice")
	require.NoError(t, err)

	conn, _, err := e.dial(t, a.ID(), e.issue(a.ID(), int64(pid), mw.RolePlayer), nil)
	require.NoError(t, err)
	defer conn.Close()
	readUntil(t, conn, "welcome")

	send(t, conn, 1, "ping", map[string]int64{"ts": 42})
	pong := readUntil(t, conn, "pong")
	assert.Contains(t, string(pong.Payload), `"client_ts":42`)

	send(t, conn, 2, "shoot", map[string]int64{"target": int64(pid)})
	errPkt := readUntil(t, conn, "error")
	assert.Contains(t, string(errPkt.Payload), `"ref":"shoot"`)

	send(t, conn, 3, "move", map[string]float64{"vx": 50, "vy": 0})
	send(t, conn, 4, "leave", nil)
	require.Eventually(t, func() bool {
		return len(a.Snapshot().Players) == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestServeWS_SpectatorCannotMove(t *testing.T) {
	e := newWSEnv(t)
	a, err := e.mgr.Create()
	require.NoError(t, err)

	conn, _, err := e.dial(t, a.ID(), e.issue(a.ID(), 0, mw.RoleSpectator), nil)
	require.NoError(t, err)
	defer conn.Close()
	welcome := readUntil(t, conn, "welcome")
	assert.Contains(t, string(welcome.Payload), `"role":"spectator"`)

	send(t, conn, 1, "move", map[string]float64{"vx": 1})
	errPkt := readUntil(t, conn, "error")
	assert.Contains(t, string(errPkt.Payload), errSpectator.Error())
}

func TestServeWS_ClosedWhenArenaDestroyed(t *testing.T) {
	e := newWSEnv(t)
	a, err := e.mgr.Create()
	require.NoError(t, err)

	conn, _, err := e.dial(t, a.ID(), e.issue(a.ID(), 0, mw.RoleSpectator), nil)
	require.NoError(t, err)
	defer conn.Close()
	readUntil(t, conn, "welcome")
	require.Eventually(t, func() bool { return e.sm.Count() == 1 }, time.Second, 10*time.Millisecond)

	require.True(t, e.mgr.Destroy(a.ID()))
	e.pusher.Push()
	readUntil(t, conn, "closed")
	require.Eventually(t, func() bool { return e.sm.Count() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestServeWS_Rejections(t *testing.T) {
	e := newWSEnv(t, "https://game.example")
	a, err := e.mgr.Create()
	require.NoError(t, err)

	_, resp, err := e.dial(t, a.ID(), "garbage", nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	ticket := e.issue(a.ID(), 0, mw.RoleSpectator)
	_, resp, err = e.dial(t, a.ID(), ticket, http.Header{"Origin": {"https://evil.example"}})
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	conn, _, err := e.dial(t, a.ID(), ticket, http.Header{"Origin": {"https://game.example"}})
	require.NoError(t, err)
	conn.Close()

	ghost := e.issue("ghost", 0, mw.RoleSpectator)
	_, resp, err = e.dial(t, "ghost", ghost, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestServeWS_OnConnectRunsAfterWelcome(t *testing.T) {
	e := newWSEnv(t)
	e.h.OnConnect(func(s *player.Session) {
		s.Send(&player.Packet{Type: "motd", Payload: json.RawMessage(`"hold the line"`)})
	})
	a, err := e.mgr.Create()
	require.NoError(t, err)

	conn, _, err := e.dial(t, a.ID(), e.issue(a.ID(), 0, mw.RoleSpectator), nil)
	require.NoError(t, err)
	defer conn.Close()

	assert.Equal(t, "welcome", readPacket(t, conn).Type)
	motd := readPacket(t, conn)
	assert.Equal(t, "motd", motd.Type)
	assert.JSONEq(t, `"hold the line"`, string(motd.Payload))
}

func TestServeWS_ForwardsEveryStateChange(t *testing.T) {
	e := newWSEnv(t)
	a, err := e.mgr.Create()
	require.NoError(t, err)

	conn, _, err := e.dial(t, a.ID(), e.issue(a.ID(), 0, mw.RoleSpectator), nil)
	require.NoError(t, err)
	defer conn.Close()
	readUntil(t, conn, "welcome")

	publish := func(seq uint64, st encounter.State) {
		msg, err := json.Marshal(encounter.NewStateMessage(encounter.Change{
			EncounterID: a.ID(), Seq: seq, New: st, At: time.Now(),
		}))
		require.NoError(t, err)
		require.NoError(t, e.ps.Publish(context.Background(), encounter.StateChannel(a.ID()), string(msg)))
	}
	// WaveComplete and the following WaitingToStart are written in the same
	// tick; both must reach the client.
	want := []encounter.State{
		encounter.WaitingToStart,
		encounter.WaveInProgress,
		encounter.WaitingToComplete,
		encounter.WaveComplete,
		encounter.WaitingToStart,
	}
	for i, st := range want {
		publish(uint64(i+1), st)
	}
	publish(3, encounter.WaitingToComplete) // stale, skipped

	var got []encounter.State
	var seqs []uint64
	for range want {
		pkt := readUntil(t, conn, "state")
		msg, err := encounter.DecodeStateMessage(string(pkt.Payload))
		require.NoError(t, err)
		got = append(got, msg.State)
		seqs = append(seqs, msg.Seq)
	}
	assert.Equal(t, want, got)
	assert.Equal(t, []uint64{1, 2, 3, 4, 5}, seqs)

	send(t, conn, 1, "ping", map[string]int64{"ts": 1})
	for {
		pkt := readPacket(t, conn)
		require.NotEqual(t, "state", pkt.Type, "stale change was forwarded")
		if pkt.Type == "pong" {
			break
		}
	}
}

func TestPusher_SendsSnapshotsOnly(t *testing.T) {
	e := newWSEnv(t)
	a, err := e.mgr.Create()
	require.NoError(t, err)
	pid, err := a.Join("alice")
	require.NoError(t, err)

	conn, _, err := e.dial(t, a.ID(), e.issue(a.ID(), int64(pid), mw.RolePlayer), nil)
	require.NoError(t, err)
	defer conn.Close()
	readUntil(t, conn, "welcome")
	require.Eventually(t, func() bool { return e.sm.Count() == 1 }, time.Second, 10*time.Millisecond)

	e.pusher.Push()
	assert.Equal(t, "snapshot", readPacket(t, conn).Type)
}
