package sse

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/kasuganosora/coopwave/server/cache"
	"github.com/kasuganosora/coopwave/server/game/chat"
	"github.com/kasuganosora/coopwave/server/game/encounter"
	"github.com/kasuganosora/coopwave/server/game/world"
	"go.uber.org/zap"
)

const keepaliveInterval = 30 * time.Second

// Handler streams encounter state changes as server-sent events.
type Handler struct {
	mgr       *world.Manager
	pubsub    cache.PubSub
	c         cache.Cache
	keepalive time.Duration
	logger    *zap.Logger
}

// NewHandler creates a new SSE Handler.
func NewHandler(mgr *world.Manager, pubsub cache.PubSub, c cache.Cache, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{mgr: mgr, pubsub: pubsub, c: c, keepalive: keepaliveInterval, logger: logger}
}

// ServeStream handles GET /api/encounters/:id/stream?ticket=<jwt>.
// The route must be guarded by middleware.Auth. The first event is the
// current state, then one "state" event per replicated change and one
// "chat" event per chat message. The stream ends after GameOver.
func (h *Handler) ServeStream(c *gin.Context) {
	id := c.Param("id")

	subCtx, subCancel := context.WithCancel(c.Request.Context())
	defer subCancel()

	// Subscribe before reading the current state so no change is lost
	// in between.
	chatChannel := chat.Channel(id)
	msgCh, unsub, err := h.pubsub.Subscribe(subCtx, encounter.StateChannel(id), chatChannel)
	if err != nil {
		h.logger.Error("sse subscribe failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "subscribe failed"})
		return
	}
	defer unsub()

	initial, ok := h.current(c.Request.Context(), id)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "encounter not found"})
		return
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	data, _ := json.Marshal(initial)
	fmt.Fprintf(c.Writer, "event: snapshot\ndata: %s\n\n", data)
	c.Writer.Flush()
	if initial.State.Terminal() {
		return
	}
	lastSeq := initial.Seq

	ticker := time.NewTicker(h.keepalive)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-msgCh:
			if !ok {
				return
			}
			if msg.Channel == chatChannel {
				fmt.Fprintf(c.Writer, "event: chat\ndata: %s\n\n", msg.Payload)
				c.Writer.Flush()
				continue
			}
			sm, err := encounter.DecodeStateMessage(msg.Payload)
			if err != nil {
				h.logger.Warn("sse bad state message", zap.String("encounter_id", id), zap.Error(err))
				continue
			}
			if sm.Seq <= lastSeq {
				continue
			}
			lastSeq = sm.Seq
			fmt.Fprintf(c.Writer, "event: state\ndata: %s\n\n", msg.Payload)
			c.Writer.Flush()
			if sm.State.Terminal() {
				return
			}

		case <-ticker.C:
			// Keepalive comment to prevent proxy timeouts.
			fmt.Fprintf(c.Writer, ": keepalive\n\n")
			c.Writer.Flush()

		case <-c.Request.Context().Done():
			return
		}
	}
}

// current returns the state of a live arena, falling back to the replicated
// snapshot for encounters hosted elsewhere.
func (h *Handler) current(ctx context.Context, id string) (encounter.StateMessage, bool) {
	if a := h.mgr.Get(id); a != nil {
		v := a.View()
		return encounter.StateMessage{
			Encounter: id,
			State:     v.Current(),
			Seq:       v.Seq(),
			At:        time.Now().UnixMilli(),
		}, true
	}
	if h.c == nil {
		return encounter.StateMessage{}, false
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	st, seq, err := encounter.LoadSnapshot(ctx, h.c, id)
	if err != nil {
		return encounter.StateMessage{}, false
	}
	return encounter.StateMessage{Encounter: id, State: st, Seq: seq, At: time.Now().UnixMilli()}, true
}
