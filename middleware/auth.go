package middleware

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/kasuganosora/coopwave/server/cache"
	"github.com/kasuganosora/coopwave/server/config"
)

const ClaimsKey = "ticket_claims"

// TicketKey is the cache key that keeps a ticket alive. Leaving an encounter
// deletes it, which revokes the ticket before it expires.
func TicketKey(jti string) string { return "ticket:" + jti }

// Auth validates the encounter ticket from the Bearer header or the
// "ticket" query parameter (browsers cannot set headers on WebSocket and
// EventSource requests) and checks that it is still live in the cache.
// When the route has an :id parameter the ticket must be for that encounter.
func Auth(sec config.SecurityConfig, c cache.Cache) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		tokenStr := ctx.Query("ticket")
		if header := ctx.GetHeader("Authorization"); strings.HasPrefix(header, "Bearer ") {
			tokenStr = strings.TrimPrefix(header, "Bearer ")
		}
		if tokenStr == "" {
			ctx.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing ticket"})
			return
		}

		claims, err := ParseTicket(tokenStr, sec.JWTSecret)
		if err != nil {
			ctx.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid ticket"})
			return
		}
		if id := ctx.Param("id"); id != "" && id != claims.EncounterID {
			ctx.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "ticket is for another encounter"})
			return
		}

		cacheCtx, cancel := context.WithTimeout(ctx.Request.Context(), 2*time.Second)
		defer cancel()
		exists, err := c.Exists(cacheCtx, TicketKey(claims.ID))
		if err != nil || !exists {
			ctx.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "ticket revoked"})
			return
		}

		ctx.Set(ClaimsKey, claims)
		ctx.Next()
	}
}

// RequirePlayer rejects spectator tickets. It must run after Auth.
func RequirePlayer() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		claims := GetClaims(ctx)
		if claims == nil || claims.Role != RolePlayer {
			ctx.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "player ticket required"})
			return
		}
		ctx.Next()
	}
}

// GetClaims retrieves the ticket claims from the Gin context.
func GetClaims(c *gin.Context) *Claims {
	if v, exists := c.Get(ClaimsKey); exists {
		return v.(*Claims)
	}
	return nil
}
