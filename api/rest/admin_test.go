package rest_test

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/kasuganosora/coopwave/server/api/rest"
	"github.com/kasuganosora/coopwave/server/game/encounter"
	"github.com/kasuganosora/coopwave/server/game/player"
	"github.com/kasuganosora/coopwave/server/game/world"
	"github.com/kasuganosora/coopwave/server/plugin/hook"
	"github.com/kasuganosora/coopwave/server/scheduler"
	"github.com/kasuganosora/coopwave/server/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newAdminRouter(t *testing.T, adminKey string) (*gin.Engine, *world.Manager) {
	kv, ps := testutil.SetupTestCache(t)
	mgr := world.NewManager(world.ManagerConfig{}, kv, ps, nil, nil)
	sched := scheduler.New(nil)
	sched.AddTicker("arena_reaper", time.Minute, func() {})
	t.Cleanup(func() {
		sched.Stop()
		mgr.StopAll()
	})
	hooks := hook.NewHookCenter(nil)
	lb := world.NewLeaderboard(kv, nil)
	t.Cleanup(lb.Close)
	lb.Register(hooks)
	h := rest.NewAdminHandler(mgr, kv, sched, 0, nil).WithPubSub(ps).WithHooks(hooks).WithSessions(player.NewSessionManager(nil))

	r := gin.New()
	r.Use(rest.AdminAuth(adminKey))
	r.GET("/api/admin/metrics", h.Metrics)
	r.GET("/api/admin/encounters", h.ListActive)
	r.DELETE("/api/admin/encounters/:id", h.Destroy)
	r.POST("/api/admin/reap", h.Reap)
	r.GET("/api/admin/scheduler", h.ListSchedulerTasks)
	r.GET("/api/admin/hooks", h.ListHooks)
	return r, mgr
}

func adminDo(r *gin.Engine, method, path, key string) *httptest.ResponseRecorder {
	if key == "" {
		return doRequest(r, method, path)
	}
	return doRequest(r, method, path, "X-Admin-Key", key)
}

// ---- AdminAuth ----

func TestAdminAuth_NoKey_Disabled(t *testing.T) {
	// When adminKey is empty, admin endpoints must be disabled (503) so the
	// server cannot be accidentally deployed without protection.
	r, _ := newAdminRouter(t, "")
	w := adminDo(r, http.MethodGet, "/api/admin/metrics", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestAdminAuth_WrongKey(t *testing.T) {
	r, _ := newAdminRouter(t, "secret")
	w := adminDo(r, http.MethodGet, "/api/admin/metrics", "wrong")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAdminAuth_MissingHeader(t *testing.T) {
	r, _ := newAdminRouter(t, "secret")
	w := adminDo(r, http.MethodGet, "/api/admin/metrics", "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

// ---- endpoints ----

func TestAdmin_Metrics(t *testing.T) {
	r, mgr := newAdminRouter(t, "secret")
	a, err := mgr.Create()
	require.NoError(t, err)
	_, err = a.Join("alice")
	require.NoError(t, err)

	w := adminDo(r, http.MethodGet, "/api/admin/metrics", "secret")
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, float64(1), body["active_arenas"])
	assert.Equal(t, float64(1), body["players"])
	assert.Len(t, body["scheduler_tasks"], 1)
	assert.Equal(t, float64(0), body["pubsub_dropped"])
	assert.Equal(t, float64(0), body["ws_sessions"])
	assert.Equal(t, float64(0), body["ws_dropped"])
}

func TestAdmin_ListAndDestroy(t *testing.T) {
	r, mgr := newAdminRouter(t, "secret")
	a, err := mgr.Create()
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		w := adminDo(r, http.MethodGet, "/api/admin/encounters", "secret")
		body := decode(t, w)
		return len(body["local"].([]interface{})) == 1 && len(body["cluster"].([]interface{})) == 1
	}, 2*time.Second, 10*time.Millisecond)

	w := adminDo(r, http.MethodDelete, "/api/admin/encounters/"+a.ID(), "secret")
	assert.Equal(t, http.StatusOK, w.Code)
	w = adminDo(r, http.MethodDelete, "/api/admin/encounters/"+a.ID(), "secret")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Nil(t, mgr.Get(a.ID()))
}

func TestAdmin_Reap(t *testing.T) {
	r, mgr := newAdminRouter(t, "secret")
	a, err := mgr.Create()
	require.NoError(t, err)
	id, err := a.Join("alice")
	require.NoError(t, err)
	require.NoError(t, a.Leave(id))
	require.Eventually(t, func() bool {
		return a.State() == encounter.GameOver
	}, 3*time.Second, 10*time.Millisecond)

	w := adminDo(r, http.MethodPost, "/api/admin/reap", "secret")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(1), decode(t, w)["reaped"])
}

func TestAdmin_ListSchedulerTasks(t *testing.T) {
	r, _ := newAdminRouter(t, "secret")
	w := adminDo(r, http.MethodGet, "/api/admin/scheduler", "secret")
	require.Equal(t, http.StatusOK, w.Code)
	tasks := decode(t, w)["tasks"].([]interface{})
	require.Len(t, tasks, 1)
	assert.Equal(t, "arena_reaper", tasks[0].(map[string]interface{})["name"])
}

func TestAdmin_ListHooks(t *testing.T) {
	r, _ := newAdminRouter(t, "secret")
	w := adminDo(r, http.MethodGet, "/api/admin/hooks", "secret")
	require.Equal(t, http.StatusOK, w.Code)
	hooks := decode(t, w)["hooks"].(map[string]interface{})
	assert.Equal(t, []interface{}{"leaderboard"}, hooks[hook.OnActorKilled])
	assert.Equal(t, []interface{}{"leaderboard"}, hooks[hook.OnWaveStateChanged])
}
