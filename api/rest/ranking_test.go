package rest_test

import (
	"context"
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/kasuganosora/coopwave/server/api/rest"
	"github.com/kasuganosora/coopwave/server/game/world"
	"github.com/kasuganosora/coopwave/server/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRanking_TopWaves(t *testing.T) {
	kv, _ := testutil.SetupTestCache(t)
	lb := world.NewLeaderboard(kv, nil)
	t.Cleanup(lb.Close)
	ctx := context.Background()
	require.NoError(t, kv.ZAdd(ctx, world.RankingKey, 3, "enc-a"))
	require.NoError(t, kv.ZAdd(ctx, world.RankingKey, 9, "enc-b"))
	require.NoError(t, kv.ZAdd(ctx, world.RankingKey, 5, "enc-c"))

	h := rest.NewRankingHandler(lb, nil)
	r := gin.New()
	r.GET("/api/ranking/waves", h.TopWaves)
	r.DELETE("/api/admin/ranking", h.Reset)

	w := doRequest(r, http.MethodGet, "/api/ranking/waves?limit=2")
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, float64(3), body["total"])
	rows := body["ranking"].([]interface{})
	require.Len(t, rows, 2)
	top := rows[0].(map[string]interface{})
	assert.Equal(t, "enc-b", top["encounter_id"])
	assert.Equal(t, float64(9), top["wave"])
	assert.Equal(t, float64(1), top["rank"])
	assert.Equal(t, "enc-c", rows[1].(map[string]interface{})["encounter_id"])

	w = doRequest(r, http.MethodDelete, "/api/admin/ranking")
	require.Equal(t, http.StatusOK, w.Code)
	w = doRequest(r, http.MethodGet, "/api/ranking/waves")
	assert.Empty(t, decode(t, w)["ranking"])
}

func TestRanking_DefaultLimitWhenInvalid(t *testing.T) {
	kv, _ := testutil.SetupTestCache(t)
	lb := world.NewLeaderboard(kv, nil)
	t.Cleanup(lb.Close)

	h := rest.NewRankingHandler(lb, nil)
	r := gin.New()
	r.GET("/api/ranking/waves", h.TopWaves)

	w := doRequest(r, http.MethodGet, "/api/ranking/waves?limit=abc")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(0), decode(t, w)["total"])
}
