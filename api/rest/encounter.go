package rest

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/kasuganosora/coopwave/server/audit"
	"github.com/kasuganosora/coopwave/server/cache"
	"github.com/kasuganosora/coopwave/server/config"
	"github.com/kasuganosora/coopwave/server/game/ai"
	"github.com/kasuganosora/coopwave/server/game/encounter"
	"github.com/kasuganosora/coopwave/server/game/world"
	mw "github.com/kasuganosora/coopwave/server/middleware"
	"go.uber.org/zap"
)

const maxListLimit = 200

// EncounterHandler handles encounter lifecycle and room REST endpoints.
type EncounterHandler struct {
	mgr     *world.Manager
	kv      cache.Cache
	lb      *world.Leaderboard
	journal *audit.Service
	sec     config.SecurityConfig
	logger  *zap.Logger
}

// NewEncounterHandler creates an EncounterHandler. lb and journal may be nil.
func NewEncounterHandler(mgr *world.Manager, kv cache.Cache, lb *world.Leaderboard, journal *audit.Service, sec config.SecurityConfig, logger *zap.Logger) *EncounterHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EncounterHandler{mgr: mgr, kv: kv, lb: lb, journal: journal, sec: sec, logger: logger}
}

// EncounterSummary is one row of the encounter list.
type EncounterSummary struct {
	EncounterID string          `json:"encounter_id"`
	State       encounter.State `json:"state"`
	Wave        int             `json:"wave"`
	Players     int             `json:"players"`
	Trackers    int             `json:"trackers"`
	CreatedAt   time.Time       `json:"created_at"`
}

func summarize(a *world.Arena) EncounterSummary {
	s := a.Snapshot()
	return EncounterSummary{
		EncounterID: s.EncounterID,
		State:       s.State,
		Wave:        s.Wave,
		Players:     len(s.Players),
		Trackers:    len(s.Trackers),
		CreatedAt:   a.CreatedAt(),
	}
}

// Create starts a new encounter.
// POST /api/encounters
func (h *EncounterHandler) Create(c *gin.Context) {
	a, err := h.mgr.Create()
	if errors.Is(err, world.ErrTooManyArenas) {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "server is at capacity"})
		return
	}
	if err != nil {
		h.logger.Error("create encounter", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "create failed"})
		return
	}
	h.audit(c, "create", a.ID(), nil, nil, gin.H{"encounter_id": a.ID()}, nil, time.Now())
	c.JSON(http.StatusCreated, gin.H{"encounter_id": a.ID(), "state": a.State()})
}

// List returns every encounter running on this node.
// GET /api/encounters
func (h *EncounterHandler) List(c *gin.Context) {
	arenas := h.mgr.List()
	out := make([]EncounterSummary, 0, len(arenas))
	for _, a := range arenas {
		out = append(out, summarize(a))
	}
	c.JSON(http.StatusOK, gin.H{"encounters": out, "count": len(out)})
}

// Status returns the state of one encounter. Encounters that are no longer
// live fall back to the replicated snapshot, then to the journal.
// GET /api/encounters/:id
func (h *EncounterHandler) Status(c *gin.Context) {
	id := c.Param("id")
	if a := h.mgr.Get(id); a != nil {
		s := a.Snapshot()
		c.JSON(http.StatusOK, gin.H{
			"encounter_id":  id,
			"live":          true,
			"state":         s.State,
			"seq":           s.Seq,
			"wave":          s.Wave,
			"bots_to_spawn": s.BotsToSpawn,
			"next_wave_in":  s.NextWaveIn,
			"players":       len(s.Players),
			"trackers":      len(s.Trackers),
		})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()
	if h.kv != nil {
		if st, seq, err := encounter.LoadSnapshot(ctx, h.kv, id); err == nil {
			c.JSON(http.StatusOK, gin.H{"encounter_id": id, "live": false, "state": st, "seq": seq})
			return
		}
	}
	if h.journal != nil {
		if rec, err := h.journal.Encounter(ctx, id); err == nil {
			c.JSON(http.StatusOK, gin.H{
				"encounter_id": id,
				"live":         false,
				"state":        rec.State,
				"seq":          rec.Seq,
				"wave":         rec.Wave,
				"ended_at":     rec.EndedAt,
			})
			return
		}
	}
	c.JSON(http.StatusNotFound, gin.H{"error": "encounter not found"})
}

// Join adds a player and returns a player ticket.
// POST /api/encounters/:id/join
func (h *EncounterHandler) Join(c *gin.Context) {
	start := time.Now()
	a := h.arena(c)
	if a == nil {
		return
	}
	var req struct {
		Name string `json:"name" binding:"required,max=32"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "name is required (max 32 chars)"})
		return
	}

	id, err := a.Join(req.Name)
	if err != nil {
		h.audit(c, "join", a.ID(), nil, req, nil, err, start)
		h.fail(c, err)
		return
	}
	ticket, err := h.issue(c.Request.Context(), a.ID(), int64(id), mw.RolePlayer)
	if err != nil {
		h.logger.Error("issue ticket", zap.Error(err))
		_ = a.Leave(id)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "ticket failed"})
		return
	}
	pid := int64(id)
	resp := gin.H{"player_id": pid}
	h.audit(c, "join", a.ID(), &pid, req, resp, nil, start)
	resp["ticket"] = ticket
	c.JSON(http.StatusCreated, resp)
}

// Spectate returns a read-only ticket.
// POST /api/encounters/:id/spectate
func (h *EncounterHandler) Spectate(c *gin.Context) {
	a := h.arena(c)
	if a == nil {
		return
	}
	ticket, err := h.issue(c.Request.Context(), a.ID(), 0, mw.RoleSpectator)
	if err != nil {
		h.logger.Error("issue ticket", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "ticket failed"})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"ticket": ticket})
}

func (h *EncounterHandler) issue(ctx context.Context, encounterID string, playerID int64, role string) (string, error) {
	ttl := h.sec.TicketTTL
	if ttl <= 0 {
		ttl = 2 * time.Hour
	}
	tok, jti, err := mw.GenerateTicket(encounterID, playerID, role, h.sec.JWTSecret, ttl)
	if err != nil {
		return "", err
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := h.kv.Set(ctx, mw.TicketKey(jti), encounterID, ttl); err != nil {
		return "", err
	}
	return tok, nil
}

// Snapshot returns the full observer view of a live encounter.
// GET /api/encounters/:id/snapshot
func (h *EncounterHandler) Snapshot(c *gin.Context) {
	a := h.arena(c)
	if a == nil {
		return
	}
	c.JSON(http.StatusOK, a.Snapshot())
}

// Leave removes the ticket holder's pawn and revokes the ticket.
// POST /api/encounters/:id/leave
func (h *EncounterHandler) Leave(c *gin.Context) {
	start := time.Now()
	a := h.arena(c)
	if a == nil {
		return
	}
	claims := mw.GetClaims(c)
	err := a.Leave(ai.EntityID(claims.PlayerID))
	h.audit(c, "leave", a.ID(), &claims.PlayerID, nil, nil, err, start)
	if err != nil {
		h.fail(c, err)
		return
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()
	if err := h.kv.Del(ctx, mw.TicketKey(claims.ID)); err != nil {
		h.logger.Warn("revoke ticket", zap.Error(err))
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// Move sets the walking velocity of the ticket holder.
// POST /api/encounters/:id/move
func (h *EncounterHandler) Move(c *gin.Context) {
	a := h.arena(c)
	if a == nil {
		return
	}
	var req struct {
		VX float64 `json:"vx"`
		VY float64 `json:"vy"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body"})
		return
	}
	claims := mw.GetClaims(c)
	if err := a.SetPlayerVelocity(ai.EntityID(claims.PlayerID), req.VX, req.VY); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// Shoot fires at a tracker.
// POST /api/encounters/:id/shoot
func (h *EncounterHandler) Shoot(c *gin.Context) {
	start := time.Now()
	a := h.arena(c)
	if a == nil {
		return
	}
	var req struct {
		Target int64 `json:"target" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "target is required"})
		return
	}
	claims := mw.GetClaims(c)
	err := a.Shoot(ai.EntityID(claims.PlayerID), ai.EntityID(req.Target))
	h.audit(c, "shoot", a.ID(), &claims.PlayerID, req, nil, err, start)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// Events returns the persisted journal of an encounter.
// GET /api/encounters/:id/events?limit=100
func (h *EncounterHandler) Events(c *gin.Context) {
	if h.journal == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "journal disabled"})
		return
	}
	rows, err := h.journal.Events(c.Request.Context(), c.Param("id"), queryLimit(c, 100))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "db error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": rows, "count": len(rows)})
}

// Kills returns the recent kill feed of an encounter.
// GET /api/encounters/:id/kills?limit=20
func (h *EncounterHandler) Kills(c *gin.Context) {
	if h.lb == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "kill feed disabled"})
		return
	}
	kills, err := h.lb.RecentKills(c.Request.Context(), c.Param("id"), queryLimit(c, 20))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "cache error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"kills": kills})
}

// arena resolves :id to a live arena or writes a 404.
func (h *EncounterHandler) arena(c *gin.Context) *world.Arena {
	a := h.mgr.Get(c.Param("id"))
	if a == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "encounter not found"})
	}
	return a
}

func (h *EncounterHandler) fail(c *gin.Context, err error) {
	switch {
	case errors.Is(err, world.ErrArenaFull):
		c.JSON(http.StatusConflict, gin.H{"error": "encounter is full"})
	case errors.Is(err, world.ErrEncounterOver):
		c.JSON(http.StatusConflict, gin.H{"error": "encounter is over"})
	case errors.Is(err, world.ErrPawnDead):
		c.JSON(http.StatusConflict, gin.H{"error": "player is dead"})
	case errors.Is(err, world.ErrUnknownPawn):
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown pawn"})
	case errors.Is(err, world.ErrInvalidTarget):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid target"})
	default:
		h.logger.Error("encounter action failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

func (h *EncounterHandler) audit(c *gin.Context, action, encounterID string, playerID *int64, req, resp interface{}, err error, start time.Time) {
	if h.journal == nil {
		return
	}
	entry := audit.AuditEntry{
		TraceID:     mw.GetTraceID(c),
		EncounterID: encounterID,
		PlayerID:    playerID,
		Action:      action,
		Request:     req,
		Response:    resp,
		IP:          c.ClientIP(),
		DurationMs:  int(time.Since(start).Milliseconds()),
	}
	if err != nil {
		entry.Error = err.Error()
	}
	h.journal.Log(entry)
}

func queryLimit(c *gin.Context, def int) int {
	if l, err := strconv.Atoi(c.Query("limit")); err == nil && l > 0 && l <= maxListLimit {
		return l
	}
	return def
}
