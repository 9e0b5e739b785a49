package rest

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/kasuganosora/coopwave/server/game/world"
	"go.uber.org/zap"
)

const rankingTop = 100

// RankingHandler handles leaderboard REST endpoints.
type RankingHandler struct {
	lb     *world.Leaderboard
	logger *zap.Logger
}

// NewRankingHandler creates a RankingHandler.
func NewRankingHandler(lb *world.Leaderboard, logger *zap.Logger) *RankingHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RankingHandler{lb: lb, logger: logger}
}

// TopWaves returns the finished encounters that reached the highest waves.
// GET /api/ranking/waves?limit=20
func (h *RankingHandler) TopWaves(c *gin.Context) {
	limit := queryLimit(c, 20)
	if limit > rankingTop {
		limit = rankingTop
	}
	ctx := c.Request.Context()
	entries, err := h.lb.Top(ctx, limit)
	if err != nil {
		h.logger.Error("read ranking", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "cache error"})
		return
	}
	total, err := h.lb.Total(ctx)
	if err != nil {
		h.logger.Warn("count ranking", zap.Error(err))
	}
	c.JSON(http.StatusOK, gin.H{"ranking": entries, "total": total})
}

// Reset clears the ranking.
// DELETE /api/admin/ranking
func (h *RankingHandler) Reset(c *gin.Context) {
	if err := h.lb.Reset(c.Request.Context()); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "cache error"})
		return
	}
	h.logger.Info("ranking reset")
	c.JSON(http.StatusOK, gin.H{"ok": true})
}
