package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/kasuganosora/coopwave/server/cache"
	"github.com/kasuganosora/coopwave/server/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ticketFixture is a router guarded by Auth plus the cache that backs it.
type ticketFixture struct {
	sec    config.SecurityConfig
	kv     cache.Cache
	router *gin.Engine
	claims *Claims
}

func newTicketFixture(t *testing.T) *ticketFixture {
	t.Helper()
	kv, err := cache.NewCache(cache.CacheConfig{})
	require.NoError(t, err)
	t.Cleanup(func() { cache.Close(kv) })

	f := &ticketFixture{
		sec: config.SecurityConfig{JWTSecret: testSecret, TicketTTL: time.Hour},
		kv:  kv,
	}
	r := gin.New()
	enc := r.Group("/encounters/:id", Auth(f.sec, kv))
	enc.GET("/snapshot", func(c *gin.Context) {
		f.claims = GetClaims(c)
		c.Status(http.StatusOK)
	})
	enc.POST("/shoot", RequirePlayer(), func(c *gin.Context) { c.Status(http.StatusNoContent) })
	f.router = r
	return f
}

// live signs a ticket and registers its ID, the way Join and Spectate do.
func (f *ticketFixture) live(t *testing.T, encounterID string, playerID int64, role string) string {
	t.Helper()
	tok, jti, err := GenerateTicket(encounterID, playerID, role, f.sec.JWTSecret, f.sec.TicketTTL)
	require.NoError(t, err)
	require.NoError(t, f.kv.Set(context.Background(), TicketKey(jti), encounterID, f.sec.TicketTTL))
	return tok
}

func (f *ticketFixture) call(method, target, authorization string) int {
	req := httptest.NewRequest(method, target, nil)
	if authorization != "" {
		req.Header.Set("Authorization", authorization)
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w.Code
}

func TestAuth(t *testing.T) {
	f := newTicketFixture(t)
	player := f.live(t, "enc-1", 4, RolePlayer)
	spectator := f.live(t, "enc-1", 0, RoleSpectator)
	unregistered, _, err := GenerateTicket("enc-1", 5, RolePlayer, testSecret, time.Hour)
	require.NoError(t, err)
	foreign, _, err := GenerateTicket("enc-1", 5, RolePlayer, "another-secret", time.Hour)
	require.NoError(t, err)

	cases := []struct {
		name   string
		method string
		target string
		auth   string
		want   int
	}{
		{"no ticket", http.MethodGet, "/encounters/enc-1/snapshot", "", http.StatusUnauthorized},
		{"non-bearer scheme", http.MethodGet, "/encounters/enc-1/snapshot", "Token " + player, http.StatusUnauthorized},
		{"garbage", http.MethodGet, "/encounters/enc-1/snapshot", "Bearer nope", http.StatusUnauthorized},
		{"wrong signing key", http.MethodGet, "/encounters/enc-1/snapshot", "Bearer " + foreign, http.StatusUnauthorized},
		{"not registered", http.MethodGet, "/encounters/enc-1/snapshot", "Bearer " + unregistered, http.StatusUnauthorized},
		{"other encounter", http.MethodGet, "/encounters/enc-2/snapshot", "Bearer " + player, http.StatusForbidden},
		{"player reads", http.MethodGet, "/encounters/enc-1/snapshot", "Bearer " + player, http.StatusOK},
		{"player acts", http.MethodPost, "/encounters/enc-1/shoot", "Bearer " + player, http.StatusNoContent},
		{"spectator reads", http.MethodGet, "/encounters/enc-1/snapshot", "Bearer " + spectator, http.StatusOK},
		{"spectator acts", http.MethodPost, "/encounters/enc-1/shoot", "Bearer " + spectator, http.StatusForbidden},
		{"query ticket", http.MethodGet, "/encounters/enc-1/snapshot?ticket=" + spectator, "", http.StatusOK},
		{"header beats query", http.MethodPost, "/encounters/enc-1/shoot?ticket=" + spectator, "Bearer " + player, http.StatusNoContent},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, f.call(tc.method, tc.target, tc.auth))
		})
	}
}

func TestAuth_RevokedByDeletingKey(t *testing.T) {
	f := newTicketFixture(t)
	tok := f.live(t, "enc-1", 4, RolePlayer)
	require.Equal(t, http.StatusOK, f.call(http.MethodGet, "/encounters/enc-1/snapshot", "Bearer "+tok))

	claims, err := ParseTicket(tok, testSecret)
	require.NoError(t, err)
	require.NoError(t, f.kv.Del(context.Background(), TicketKey(claims.ID)))
	assert.Equal(t, http.StatusUnauthorized, f.call(http.MethodGet, "/encounters/enc-1/snapshot", "Bearer "+tok))
}

func TestAuth_StoresClaims(t *testing.T) {
	f := newTicketFixture(t)
	tok := f.live(t, "enc-1", 42, RolePlayer)
	require.Equal(t, http.StatusOK, f.call(http.MethodGet, "/encounters/enc-1/snapshot", "Bearer "+tok))
	require.NotNil(t, f.claims)
	assert.Equal(t, "enc-1", f.claims.EncounterID)
	assert.Equal(t, int64(42), f.claims.PlayerID)
	assert.Equal(t, RolePlayer, f.claims.Role)
}

func TestGetClaims_Unauthenticated(t *testing.T) {
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	assert.Nil(t, GetClaims(c))
}
