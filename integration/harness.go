package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	apirest "github.com/kasuganosora/coopwave/server/api/rest"
	"github.com/kasuganosora/coopwave/server/api/sse"
	apows "github.com/kasuganosora/coopwave/server/api/ws"
	"github.com/kasuganosora/coopwave/server/audit"
	"github.com/kasuganosora/coopwave/server/cache"
	"github.com/kasuganosora/coopwave/server/config"
	"github.com/kasuganosora/coopwave/server/game/chat"
	"github.com/kasuganosora/coopwave/server/game/director"
	"github.com/kasuganosora/coopwave/server/game/player"
	"github.com/kasuganosora/coopwave/server/game/world"
	mw "github.com/kasuganosora/coopwave/server/middleware"
	"github.com/kasuganosora/coopwave/server/plugin/hook"
	"github.com/kasuganosora/coopwave/server/resource"
	"github.com/kasuganosora/coopwave/server/scheduler"
	"github.com/kasuganosora/coopwave/server/testutil"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
	"gorm.io/gorm"
)

const (
	adminKey   = "integration-admin-key"
	chatReplay = 20
)

// TestServer wraps a real HTTP server with all encounter subsystems wired together.
type TestServer struct {
	DB          *gorm.DB
	Cache       cache.Cache
	PubSub      cache.PubSub
	SM          *player.SessionManager
	Manager     *world.Manager
	Leaderboard *world.Leaderboard
	Audit       *audit.Service
	Sched       *scheduler.Scheduler
	Server      *httptest.Server
	URL         string // http://127.0.0.1:<port>
	WSURL       string // ws://127.0.0.1:<port>
	Sec         config.SecurityConfig
}

// NewTestServer creates a fully wired server for integration testing.
// It mirrors the dependency wiring in main.go with faster wave pacing and
// one-shot kills.
func NewTestServer(t *testing.T) *TestServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	// ---- Infrastructure ----
	db := testutil.SetupTestDB(t)
	c, pubsub := testutil.SetupTestCache(t)
	logger := zap.NewNop()

	sec := config.SecurityConfig{
		JWTSecret:      "integration-test-secret",
		TicketTTL:      time.Hour,
		RateLimitRPS:   1000,
		RateLimitBurst: 2000,
		AllowedOrigins: []string{}, // allow all origins
	}

	// ---- Hooks ----
	hooks := hook.NewHookCenter(logger)
	auditSvc := audit.New(db, logger)
	auditSvc.RegisterHooks(hooks)
	lb := world.NewLeaderboard(c, logger)
	lb.Register(hooks)

	// ---- Encounters ----
	mgr := world.NewManager(world.ManagerConfig{
		Layout: resource.DefaultArena(),
		Director: director.Config{
			InterWaveDelay: 300 * time.Millisecond,
			SpawnInterval:  100 * time.Millisecond,
			CheckInterval:  100 * time.Millisecond,
			BotsPerWave:    1,
		},
		ShotDamage: 100,
	}, c, pubsub, hooks, logger)
	sm := player.NewSessionManager(logger)

	wsRouter := apows.NewRouter(logger)
	apows.RegisterRoomHandlers(wsRouter, mgr)
	chatH := chat.NewHandler(c, pubsub, sm, mgr, logger)
	wsRouter.On("chat_send", chatH.HandleSend)
	wsH := apows.NewHandler(sec, mgr, sm, pubsub, wsRouter, logger)
	wsH.OnConnect(func(s *player.Session) {
		chatH.SendHistory(context.Background(), s, chatReplay)
	})
	pusher := apows.NewPusher(mgr, sm, logger)

	sched := scheduler.New(logger)
	sched.AddTicker("snapshot_push", 50*time.Millisecond, pusher.Push)

	// ---- Gin HTTP Server ----
	r := gin.New()
	r.Use(mw.TraceID(), mw.Recovery(logger))
	r.Use(mw.NewClientLimiter(rate.Limit(sec.RateLimitRPS), sec.RateLimitBurst).Middleware())

	r.GET("/health", func(ctx *gin.Context) {
		ctx.JSON(200, gin.H{"status": "ok"})
	})

	// ---- REST API routes (mirrors main.go) ----
	encH := apirest.NewEncounterHandler(mgr, c, lb, auditSvc, sec, logger)
	rankH := apirest.NewRankingHandler(lb, logger)
	adminH := apirest.NewAdminHandler(mgr, c, sched, 0, logger).WithPubSub(pubsub).WithHooks(hooks).WithSessions(sm)
	sseH := sse.NewHandler(mgr, pubsub, c, logger)
	ticket := mw.Auth(sec, c)

	api := r.Group("/api")
	{
		encG := api.Group("/encounters")
		encG.POST("", encH.Create)
		encG.GET("", encH.List)
		encG.GET("/:id", encH.Status)
		encG.POST("/:id/join", encH.Join)
		encG.POST("/:id/spectate", encH.Spectate)
		encG.GET("/:id/events", encH.Events)
		encG.GET("/:id/kills", encH.Kills)

		encG.GET("/:id/snapshot", ticket, encH.Snapshot)
		encG.GET("/:id/stream", ticket, sseH.ServeStream)
		encG.GET("/:id/ws", ticket, wsH.ServeWS)
		encG.POST("/:id/leave", ticket, mw.RequirePlayer(), encH.Leave)
		encG.POST("/:id/move", ticket, mw.RequirePlayer(), encH.Move)
		encG.POST("/:id/shoot", ticket, mw.RequirePlayer(), encH.Shoot)

		rankG := api.Group("/ranking")
		rankG.GET("/waves", rankH.TopWaves)

		adminG := api.Group("/admin")
		adminG.Use(mw.IPWhitelist(sec.AdminIPs), apirest.AdminAuth(adminKey))
		adminG.GET("/metrics", adminH.Metrics)
		adminG.GET("/encounters", adminH.ListActive)
		adminG.DELETE("/encounters/:id", adminH.Destroy)
		adminG.POST("/reap", adminH.Reap)
		adminG.DELETE("/ranking", rankH.Reset)
		adminG.GET("/scheduler", adminH.ListSchedulerTasks)
		adminG.GET("/hooks", adminH.ListHooks)
	}

	// ---- Start server ----
	server := httptest.NewServer(r)
	url := server.URL

	ts := &TestServer{
		DB:          db,
		Cache:       c,
		PubSub:      pubsub,
		SM:          sm,
		Manager:     mgr,
		Leaderboard: lb,
		Audit:       auditSvc,
		Sched:       sched,
		Server:      server,
		URL:         url,
		WSURL:       "ws" + url[len("http"):],
		Sec:         sec,
	}
	t.Cleanup(ts.Close)
	return ts
}

// Close shuts down the test server and all game systems. Safe to call twice.
func (ts *TestServer) Close() {
	ts.SM.CloseAllSessions()
	ts.Server.Close()
	ts.Sched.Stop()
	ts.Manager.StopAll()
	ts.Leaderboard.Close()
	ts.Audit.Stop(context.Background())
}

// --- HTTP helpers ---

// do sends a request to the test server. A non-nil body is encoded as JSON;
// header is a flat list of key/value pairs.
func (ts *TestServer) do(t *testing.T, method, path string, body any, header ...string) *http.Response {
	t.Helper()
	var rd io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(buf)
	}
	req, err := http.NewRequestWithContext(t.Context(), method, ts.URL+path, rd)
	require.NoError(t, err)
	if rd != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	resp, err := ts.Server.Client().Do(req)
	require.NoError(t, err)
	return resp
}

func bearer(ticket string) []string {
	if ticket == "" {
		return nil
	}
	return []string{"Authorization", "Bearer " + ticket}
}

// PostJSON posts body, authenticated with ticket when one is given.
func (ts *TestServer) PostJSON(t *testing.T, path string, body any, ticket string) *http.Response {
	t.Helper()
	return ts.do(t, http.MethodPost, path, body, bearer(ticket)...)
}

// Get fetches path, authenticated with ticket when one is given.
func (ts *TestServer) Get(t *testing.T, path string, ticket string) *http.Response {
	t.Helper()
	return ts.do(t, http.MethodGet, path, nil, bearer(ticket)...)
}

// Admin calls an /api/admin endpoint with the admin key.
func (ts *TestServer) Admin(t *testing.T, method, path string) *http.Response {
	t.Helper()
	return ts.do(t, method, path, nil, "X-Admin-Key", adminKey)
}

// ReadJSON decodes resp into target and closes the body.
func ReadJSON(t *testing.T, resp *http.Response, target any) {
	t.Helper()
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoErrorf(t, json.Unmarshal(raw, target), "status %d, body %q", resp.StatusCode, raw)
}

// Drain discards a response body.
func Drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
}

// expect asserts the status of resp and decodes its body into out.
func expect[T any](t *testing.T, resp *http.Response, status int) T {
	t.Helper()
	require.Equal(t, status, resp.StatusCode)
	var out T
	ReadJSON(t, resp, &out)
	return out
}

// --- Encounter helpers ---

// CreateEncounter starts an encounter and returns its ID.
func (ts *TestServer) CreateEncounter(t *testing.T) string {
	t.Helper()
	out := expect[struct {
		EncounterID string `json:"encounter_id"`
	}](t, ts.PostJSON(t, "/api/encounters", nil, ""), http.StatusCreated)
	require.NotEmpty(t, out.EncounterID)
	return out.EncounterID
}

// Join adds a player and returns the player ID and ticket.
func (ts *TestServer) Join(t *testing.T, encounterID, name string) (int64, string) {
	t.Helper()
	out := expect[struct {
		PlayerID int64  `json:"player_id"`
		Ticket   string `json:"ticket"`
	}](t, ts.PostJSON(t, "/api/encounters/"+encounterID+"/join", map[string]string{"name": name}, ""), http.StatusCreated)
	return out.PlayerID, out.Ticket
}

// Spectate returns a read-only ticket for the encounter.
func (ts *TestServer) Spectate(t *testing.T, encounterID string) string {
	t.Helper()
	out := expect[map[string]string](t, ts.PostJSON(t, "/api/encounters/"+encounterID+"/spectate", nil, ""), http.StatusCreated)
	return out["ticket"]
}

// Snapshot reads the observer view of an encounter.
func (ts *TestServer) Snapshot(t *testing.T, encounterID, ticket string) world.Snapshot {
	t.Helper()
	return expect[world.Snapshot](t, ts.Get(t, "/api/encounters/"+encounterID+"/snapshot", ticket), http.StatusOK)
}

// --- WebSocket client ---

// WSClient is a test-side encounter connection. Frames are decoded by a
// reader goroutine so receives can time out without touching read deadlines.
type WSClient struct {
	Conn *websocket.Conn
	t    *testing.T
	seq  atomic.Uint64
	in   chan *player.Packet
	err  error // set before in is closed
}

// ConnectWS dials the encounter WS endpoint with the given ticket.
func (ts *TestServer) ConnectWS(t *testing.T, encounterID, ticket string) *WSClient {
	t.Helper()
	target := ts.WSURL + "/api/encounters/" + encounterID + "/ws?ticket=" + ticket
	conn, resp, err := websocket.DefaultDialer.DialContext(t.Context(), target, nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	require.NoError(t, err, "dial %s", target)
	wc := &WSClient{Conn: conn, t: t, in: make(chan *player.Packet, 1024)}
	go wc.pump()
	t.Cleanup(wc.Close)
	return wc
}

func (wc *WSClient) pump() {
	defer close(wc.in)
	for {
		pkt := new(player.Packet)
		if err := wc.Conn.ReadJSON(pkt); err != nil {
			wc.err = err
			return
		}
		wc.in <- pkt
	}
}

// Send writes one packet with the next sequence number.
func (wc *WSClient) Send(msgType string, payload any) {
	wc.t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(wc.t, err)
	pkt := player.Packet{Seq: wc.seq.Add(1), Type: msgType, Payload: raw}
	require.NoError(wc.t, wc.Conn.WriteJSON(pkt))
}

// RecvUntil returns the first packet match accepts, failing the test if none
// arrives before timeout or the connection ends.
func (wc *WSClient) RecvUntil(timeout time.Duration, match func(*player.Packet) bool) *player.Packet {
	wc.t.Helper()
	expired := time.NewTimer(timeout)
	defer expired.Stop()
	for {
		select {
		case pkt, ok := <-wc.in:
			if !ok {
				wc.t.Fatalf("connection ended while waiting: %v", wc.err)
				return nil
			}
			if match(pkt) {
				return pkt
			}
		case <-expired.C:
			wc.t.Fatalf("no matching packet within %s", timeout)
			return nil
		}
	}
}

// RecvType waits for the first packet of msgType.
func (wc *WSClient) RecvType(msgType string, timeout time.Duration) *player.Packet {
	wc.t.Helper()
	return wc.RecvUntil(timeout, func(p *player.Packet) bool { return p.Type == msgType })
}

// Close closes the WebSocket connection.
func (wc *WSClient) Close() {
	_ = wc.Conn.Close()
}
