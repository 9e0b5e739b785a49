package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func whitelistStatus(entries []string, clientIP string) int {
	r := gin.New()
	r.Use(IPWhitelist(entries))
	r.GET("/api/admin/metrics", func(c *gin.Context) { c.Status(http.StatusOK) })
	req := httptest.NewRequest(http.MethodGet, "/api/admin/metrics", nil)
	req.RemoteAddr = "203.0.113.9:1234"
	if clientIP != "" {
		req.Header.Set("X-Real-IP", clientIP)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w.Code
}

func TestIPWhitelist(t *testing.T) {
	cases := []struct {
		name    string
		entries []string
		ip      string
		want    int
	}{
		{"empty list allows all", nil, "", http.StatusOK},
		{"exact match", []string{"192.168.1.1"}, "192.168.1.1", http.StatusOK},
		{"no match", []string{"10.0.0.1"}, "1.2.3.4", http.StatusForbidden},
		{"second of several", []string{"10.0.0.1", "10.0.0.2"}, "10.0.0.2", http.StatusOK},
		{"cidr inside", []string{"10.0.0.0/24"}, "10.0.0.200", http.StatusOK},
		{"cidr outside", []string{"10.0.0.0/24"}, "10.0.1.1", http.StatusForbidden},
		{"unmasked cidr", []string{"10.0.0.9/24"}, "10.0.0.1", http.StatusOK},
		{"ipv6 loopback", []string{"::1"}, "::1", http.StatusOK},
		{"ipv4-mapped client", []string{"10.0.0.1"}, "::ffff:10.0.0.1", http.StatusOK},
		{"padded entry", []string{" 10.0.0.1 "}, "10.0.0.1", http.StatusOK},
		{"typo denies everyone", []string{"10.0.0.300"}, "10.0.0.1", http.StatusForbidden},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, whitelistStatus(tc.entries, tc.ip))
		})
	}
}
