package middleware

import (
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

type clientBucket struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

// ClientLimiter keeps one token bucket per client IP. Buckets are created on
// first use; Sweep drops the ones that have gone quiet.
type ClientLimiter struct {
	mu      sync.Mutex
	r       rate.Limit
	b       int
	clients map[string]*clientBucket
	now     func() time.Time
}

// NewClientLimiter allows r requests per second per client with bursts of b.
func NewClientLimiter(r rate.Limit, b int) *ClientLimiter {
	return &ClientLimiter{
		r:       r,
		b:       b,
		clients: make(map[string]*clientBucket),
		now:     time.Now,
	}
}

// Reserve takes a token for ip. It returns zero when the request may proceed,
// otherwise how long the client should wait; no token is consumed then.
func (l *ClientLimiter) Reserve(ip string) time.Duration {
	l.mu.Lock()
	now := l.now()
	cb, ok := l.clients[ip]
	if !ok {
		cb = &clientBucket{lim: rate.NewLimiter(l.r, l.b)}
		l.clients[ip] = cb
	}
	cb.lastSeen = now
	l.mu.Unlock()

	res := cb.lim.ReserveN(now, 1)
	if !res.OK() {
		return time.Duration(math.MaxInt64)
	}
	if d := res.DelayFrom(now); d > 0 {
		res.CancelAt(now)
		return d
	}
	return 0
}

// Sweep forgets clients idle for longer than idle and returns how many.
func (l *ClientLimiter) Sweep(idle time.Duration) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	cutoff := l.now().Add(-idle)
	n := 0
	for ip, cb := range l.clients {
		if cb.lastSeen.Before(cutoff) {
			delete(l.clients, ip)
			n++
		}
	}
	return n
}

// Len reports how many clients are tracked.
func (l *ClientLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.clients)
}

// Middleware rejects over-limit requests with 429 and a Retry-After header.
func (l *ClientLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		wait := l.Reserve(c.ClientIP())
		if wait > 0 {
			c.Header("Retry-After", retryAfter(wait))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded"})
			return
		}
		c.Next()
	}
}

// retryAfter renders d as whole seconds, rounded up and capped at an hour.
func retryAfter(d time.Duration) string {
	if d > time.Hour {
		d = time.Hour
	}
	secs := int64((d + time.Second - 1) / time.Second)
	if secs < 1 {
		secs = 1
	}
	return strconv.FormatInt(secs, 10)
}
