package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/kasuganosora/coopwave/server/cache"
	"github.com/kasuganosora/coopwave/server/config"
	"github.com/kasuganosora/coopwave/server/game/encounter"
	"github.com/kasuganosora/coopwave/server/game/player"
	"github.com/kasuganosora/coopwave/server/game/world"
	mw "github.com/kasuganosora/coopwave/server/middleware"
	"go.uber.org/zap"
)

// Handler upgrades ticket holders to a WebSocket session on one encounter.
type Handler struct {
	mgr       *world.Manager
	sessions  *player.SessionManager
	router    *Router
	pubsub    cache.PubSub
	log       *zap.Logger
	upgrader  websocket.Upgrader
	onConnect []func(s *player.Session)
}

// NewHandler builds the WS endpoint. Origins listed in
// sec.AllowedOrigins may connect; an empty list accepts any origin. Every
// replicated state change on ps is forwarded to the encounter's sessions.
func NewHandler(sec config.SecurityConfig, mgr *world.Manager, sm *player.SessionManager, ps cache.PubSub, router *Router, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		mgr:      mgr,
		sessions: sm,
		router:   router,
		pubsub:   ps,
		log:      logger.Named("ws"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4 << 10,
			WriteBufferSize: 4 << 10,
			CheckOrigin:     originAllowed(sec.AllowedOrigins),
		},
	}
}

// originAllowed matches the Origin header case-insensitively. Requests
// without an Origin header are not from a browser and are let through.
func originAllowed(origins []string) func(*http.Request) bool {
	if len(origins) == 0 {
		return func(*http.Request) bool { return true }
	}
	set := make(map[string]struct{}, len(origins))
	for _, o := range origins {
		set[strings.ToLower(strings.TrimSuffix(o, "/"))] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		_, ok := set[strings.ToLower(origin)]
		return ok
	}
}

type welcomePayload struct {
	EncounterID string         `json:"encounter_id"`
	PlayerID    int64          `json:"player_id,omitempty"`
	Role        string         `json:"role"`
	Snapshot    world.Snapshot `json:"snapshot"`
	Commands    []string       `json:"commands"`
}

// OnConnect registers fn to run for every session right after the welcome
// packet. Call it before serving.
func (h *Handler) OnConnect(fn func(s *player.Session)) {
	h.onConnect = append(h.onConnect, fn)
}

// ServeWS handles GET /api/encounters/:id/ws behind middleware.Auth. It
// blocks for the lifetime of the connection.
func (h *Handler) ServeWS(c *gin.Context) {
	claims := mw.GetClaims(c)
	if claims == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing ticket"})
		return
	}
	arena := h.mgr.Get(c.Param("id"))
	if arena == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "encounter not found"})
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// The upgrader has already written the HTTP error.
		h.log.Info("upgrade refused", zap.String("encounter_id", arena.ID()), zap.Error(err))
		return
	}

	var playerID int64
	if claims.Role == mw.RolePlayer {
		playerID = claims.PlayerID
	}
	sess := player.NewSession(arena.ID(), playerID, claims.Role, conn, h.log)
	h.sessions.Register(sess)
	defer h.disconnect(sess)

	// Subscribe before taking the welcome snapshot so no change falls in
	// between; changes already in the snapshot are skipped by sequence.
	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()
	var states <-chan *cache.Message
	if h.pubsub != nil {
		msgs, unsub, err := h.pubsub.Subscribe(ctx, encounter.StateChannel(arena.ID()))
		if err != nil {
			h.log.Warn("state subscribe failed", zap.String("encounter_id", arena.ID()), zap.Error(err))
		} else {
			defer unsub()
			states = msgs
		}
	}

	snap := arena.Snapshot()
	sess.MarkPushed(snap.Seq)
	welcome, _ := json.Marshal(welcomePayload{
		EncounterID: arena.ID(),
		PlayerID:    playerID,
		Role:        claims.Role,
		Snapshot:    snap,
		Commands:    h.router.Types(),
	})
	sess.Send(&player.Packet{Type: "welcome", Payload: welcome})
	for _, fn := range h.onConnect {
		fn(sess)
	}
	if states != nil {
		go h.forwardStates(sess, states)
	}

	err = sess.ReadLoop(func(raw []byte) { h.router.Dispatch(sess, raw) })
	if err != nil && !sess.IsClosed() {
		h.log.Warn("ws read ended",
			zap.String("encounter_id", sess.EncounterID),
			zap.Int64("player_id", sess.PlayerID),
			zap.Error(err))
	}
}

// forwardStates sends one "state" packet per replicated change, in order,
// until the subscription closes or the session ends.
func (h *Handler) forwardStates(s *player.Session, msgs <-chan *cache.Message) {
	for {
		select {
		case msg, ok := <-msgs:
			if !ok {
				return
			}
			sm, err := encounter.DecodeStateMessage(msg.Payload)
			if err != nil {
				h.log.Warn("bad state message", zap.String("encounter_id", s.EncounterID), zap.Error(err))
				continue
			}
			if s.MarkPushed(sm.Seq) {
				s.Send(&player.Packet{Type: "state", Payload: json.RawMessage(msg.Payload)})
			}
		case <-s.Done:
			return
		}
	}
}

// disconnect drops the session. The pawn stays in the arena so the player
// can reconnect with the same ticket; leaving is an explicit request.
func (h *Handler) disconnect(s *player.Session) {
	s.Close()
	h.sessions.Unregister(s)
	h.log.Info("ws client disconnected",
		zap.String("encounter_id", s.EncounterID),
		zap.Int64("player_id", s.PlayerID),
		zap.Uint64("dropped", s.Dropped()))
}
