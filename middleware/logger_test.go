package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestLogger_LevelAndFields(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	r := gin.New()
	r.Use(TraceID(), Logger(zap.New(core)))
	r.GET("/api/encounters/:id", func(c *gin.Context) {
		c.Status(http.StatusOK)
	})
	r.GET("/api/encounters/:id/snapshot", func(c *gin.Context) {
		c.AbortWithStatus(http.StatusForbidden)
	})
	r.GET("/health", func(c *gin.Context) {
		c.Status(http.StatusServiceUnavailable)
	})

	for _, p := range []string{"/api/encounters/e1", "/api/encounters/e1/snapshot", "/health"} {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, p, nil))
	}

	entries := logs.FilterMessage("http").All()
	require.Len(t, entries, 3)

	assert.Equal(t, zapcore.InfoLevel, entries[0].Level)
	f := entries[0].ContextMap()
	assert.Equal(t, "e1", f["encounter_id"])
	assert.Equal(t, "/api/encounters/:id", f["route"])
	assert.NotEmpty(t, f["trace_id"])

	assert.Equal(t, zapcore.WarnLevel, entries[1].Level)
	assert.Equal(t, int64(http.StatusForbidden), entries[1].ContextMap()["status"])

	assert.Equal(t, zapcore.ErrorLevel, entries[2].Level)
	assert.NotContains(t, entries[2].ContextMap(), "encounter_id")
}
