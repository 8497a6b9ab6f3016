package v1

import (
	"net"
	"strings"

	"github.com/gofiber/fiber/v2"
)

// getClientIP resolves the reporting site's address, preferring proxy
// headers over the socket peer.
func getClientIP(c *fiber.Ctx) string {
	if forwarded := c.Get("X-Forwarded-For"); forwarded != "" {
		for _, raw := range strings.Split(forwarded, ",") {
			candidate := strings.TrimSpace(raw)
			if net.ParseIP(candidate) != nil {
				return candidate
			}
		}
	}

	for _, header := range []string{"X-Real-IP", "CF-Connecting-IP"} {
		if value := strings.TrimSpace(c.Get(header)); value != "" {
			if net.ParseIP(value) != nil {
				return value
			}
		}
	}

	remoteAddr := c.Context().RemoteAddr().String()
	if host, _, err := net.SplitHostPort(remoteAddr); err == nil && host != "" {
		return host
	}

	return c.IP()
}
