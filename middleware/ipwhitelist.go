package middleware

import (
	"net/http"
	"net/netip"
	"strings"

	"github.com/gin-gonic/gin"
)

// IPWhitelist only lets through clients whose IP matches one of entries.
// An entry is a single address ("10.0.0.7", "::1") or a CIDR range
// ("10.0.0.0/24"). An empty list allows everyone; an unparsable entry matches
// nobody, so a typo never opens the admin API.
func IPWhitelist(entries []string) gin.HandlerFunc {
	configured := len(entries) > 0
	prefixes := parseAllowList(entries)
	return func(c *gin.Context) {
		if !configured {
			c.Next()
			return
		}
		addr, err := netip.ParseAddr(c.ClientIP())
		if err != nil || !matchAny(prefixes, addr.Unmap()) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "access denied"})
			return
		}
		c.Next()
	}
}

func parseAllowList(entries []string) []netip.Prefix {
	out := make([]netip.Prefix, 0, len(entries))
	for _, e := range entries {
		e = strings.TrimSpace(e)
		if strings.Contains(e, "/") {
			if p, err := netip.ParsePrefix(e); err == nil {
				out = append(out, p.Masked())
			}
			continue
		}
		if a, err := netip.ParseAddr(e); err == nil {
			a = a.Unmap()
			out = append(out, netip.PrefixFrom(a, a.BitLen()))
		}
	}
	return out
}

func matchAny(prefixes []netip.Prefix, addr netip.Addr) bool {
	for _, p := range prefixes {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}
