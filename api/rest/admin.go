package rest

import (
	"context"
	"crypto/subtle"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/kasuganosora/coopwave/server/cache"
	"github.com/kasuganosora/coopwave/server/game/player"
	"github.com/kasuganosora/coopwave/server/game/world"
	"github.com/kasuganosora/coopwave/server/plugin/hook"
	"github.com/kasuganosora/coopwave/server/scheduler"
	"go.uber.org/zap"
)

// AdminHandler handles admin-only REST endpoints.
// Routes should be protected by AdminAuth middleware.
type AdminHandler struct {
	mgr    *world.Manager
	kv     cache.Cache
	ps     cache.PubSub
	hooks  *hook.HookCenter
	sm     *player.SessionManager
	sched  *scheduler.Scheduler
	grace  time.Duration
	logger *zap.Logger
}

// NewAdminHandler creates an AdminHandler. grace is the age a finished
// encounter must reach before Reap removes it.
func NewAdminHandler(mgr *world.Manager, kv cache.Cache, sched *scheduler.Scheduler, grace time.Duration, logger *zap.Logger) *AdminHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AdminHandler{mgr: mgr, kv: kv, sched: sched, grace: grace, logger: logger}
}

// WithPubSub lets Metrics report how many fan-out messages the bus dropped.
func (h *AdminHandler) WithPubSub(ps cache.PubSub) *AdminHandler {
	h.ps = ps
	return h
}

// WithSessions adds live WS session counts to Metrics.
func (h *AdminHandler) WithSessions(sm *player.SessionManager) *AdminHandler {
	h.sm = sm
	return h
}

// WithHooks exposes the registered hook handlers through ListHooks.
func (h *AdminHandler) WithHooks(hc *hook.HookCenter) *AdminHandler {
	h.hooks = hc
	return h
}

// ListHooks returns the handler names per encounter event, in run order.
// GET /api/admin/hooks
func (h *AdminHandler) ListHooks(c *gin.Context) {
	if h.hooks == nil {
		c.JSON(http.StatusOK, gin.H{"hooks": gin.H{}})
		return
	}
	c.JSON(http.StatusOK, gin.H{"hooks": h.hooks.Registered()})
}

// Metrics returns server health metrics.
// GET /api/admin/metrics
func (h *AdminHandler) Metrics(c *gin.Context) {
	var tasks []scheduler.TaskInfo
	if h.sched != nil {
		tasks = h.sched.Tasks()
	}
	players, trackers := 0, 0
	for _, a := range h.mgr.List() {
		s := a.Snapshot()
		players += len(s.Players)
		trackers += len(s.Trackers)
	}
	resp := gin.H{
		"active_arenas":   h.mgr.ActiveCount(),
		"players":         players,
		"trackers":        trackers,
		"scheduler_tasks": tasks,
	}
	if d, ok := h.ps.(interface{ Dropped() uint64 }); ok {
		resp["pubsub_dropped"] = d.Dropped()
	}
	if h.sm != nil {
		resp["ws_sessions"] = h.sm.Count()
		resp["ws_dropped"] = h.sm.Dropped()
	}
	c.JSON(http.StatusOK, resp)
}

// ListActive returns the IDs of encounters running on any node.
// GET /api/admin/encounters
func (h *AdminHandler) ListActive(c *gin.Context) {
	local := make([]string, 0)
	for _, a := range h.mgr.List() {
		local = append(local, a.ID())
	}
	resp := gin.H{"local": local}
	if h.kv != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		all, err := h.kv.SMembers(ctx, world.ActiveSetKey)
		if err != nil {
			h.logger.Warn("read active encounters", zap.Error(err))
		}
		if all == nil {
			all = []string{}
		}
		resp["cluster"] = all
	}
	c.JSON(http.StatusOK, resp)
}

// Destroy stops an encounter immediately.
// DELETE /api/admin/encounters/:id
func (h *AdminHandler) Destroy(c *gin.Context) {
	id := c.Param("id")
	if !h.mgr.Destroy(id) {
		c.JSON(http.StatusNotFound, gin.H{"error": "encounter not found"})
		return
	}
	h.logger.Info("admin destroyed encounter", zap.String("encounter_id", id))
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// Reap removes finished encounters older than the grace period.
// POST /api/admin/reap
func (h *AdminHandler) Reap(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"reaped": h.mgr.ReapFinished(h.grace)})
}

// ListSchedulerTasks returns all registered scheduler tasks.
// GET /api/admin/scheduler
func (h *AdminHandler) ListSchedulerTasks(c *gin.Context) {
	var tasks []scheduler.TaskInfo
	if h.sched != nil {
		tasks = h.sched.Tasks()
	}
	c.JSON(http.StatusOK, gin.H{"tasks": tasks})
}

// AdminAuth returns a middleware that checks the X-Admin-Key header.
// WARNING: if adminKey is empty all admin endpoints are disabled (503) so the
// server cannot be accidentally deployed without protection. Set a non-empty
// server.admin_key in config to enable admin routes.
func AdminAuth(adminKey string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if adminKey == "" {
			c.AbortWithStatusJSON(http.StatusServiceUnavailable,
				gin.H{"error": "admin endpoints disabled: set server.admin_key in config"})
			return
		}
		key := c.GetHeader("X-Admin-Key")
		if subtle.ConstantTimeCompare([]byte(key), []byte(adminKey)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		c.Next()
	}
}
