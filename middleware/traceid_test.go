package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func traceFor(t *testing.T, header string) (body, echoed string) {
	t.Helper()
	r := gin.New()
	r.Use(TraceID())
	r.GET("/trace", func(c *gin.Context) {
		c.String(http.StatusOK, GetTraceID(c))
	})
	req := httptest.NewRequest(http.MethodGet, "/trace", nil)
	if header != "" {
		req.Header.Set(TraceIDHeader, header)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	return w.Body.String(), w.Header().Get(TraceIDHeader)
}

func TestTraceID_GeneratedWhenAbsent(t *testing.T) {
	id, echoed := traceFor(t, "")
	_, err := uuid.Parse(id)
	assert.NoError(t, err)
	assert.Equal(t, id, echoed)

	other, _ := traceFor(t, "")
	assert.NotEqual(t, id, other)
}

func TestTraceID_ReusesWellFormedHeader(t *testing.T) {
	id, echoed := traceFor(t, "client-7.retry_2")
	assert.Equal(t, "client-7.retry_2", id)
	assert.Equal(t, id, echoed)
}

func TestTraceID_ReplacesMalformedHeader(t *testing.T) {
	for _, bad := range []string{"has space", "line\nbreak", strings.Repeat("a", maxTraceIDLen+1), `{"x":1}`} {
		id, _ := traceFor(t, bad)
		assert.NotEqual(t, bad, id)
		_, err := uuid.Parse(id)
		assert.NoError(t, err, "replacement for %q", bad)
	}
}

func TestGetTraceID_Missing(t *testing.T) {
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	assert.Equal(t, "", GetTraceID(c))
}
