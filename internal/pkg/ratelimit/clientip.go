package ratelimit

import (
	"strings"

	"github.com/gofiber/fiber/v2"
)

// ClientIP resolves the client address for anonymous admission keys.
// Proxy headers are consulted in priority order; when the deployment is not
// behind a trusted proxy these headers are spoofable.
func ClientIP(c *fiber.Ctx) string {
	if ip := strings.TrimSpace(c.Get("cf-connecting-ip")); ip != "" {
		return ip
	}
	if xff := strings.TrimSpace(c.Get("x-forwarded-for")); xff != "" {
		// First entry is the originating client.
		if idx := strings.Index(xff, ","); idx >= 0 {
			xff = xff[:idx]
		}
		if ip := strings.TrimSpace(xff); ip != "" {
			return ip
		}
	}
	if ip := strings.TrimSpace(c.Get("x-real-ip")); ip != "" {
		return ip
	}
	if ip := c.IP(); ip != "" {
		return ip
	}
	return "unknown"
}
