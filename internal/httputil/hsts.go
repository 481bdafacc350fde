package httputil

import "github.com/gofiber/fiber/v3"

// ForceHTTPS returns Fiber middleware that sets Strict-Transport-Security on every response. It is a
// no-op middleware when enabled is false, since Campfire has no opinion on whether it sits behind a
// TLS-terminating proxy (§6 force_https).
func ForceHTTPS(enabled bool) fiber.Handler {
	return func(c fiber.Ctx) error {
		if enabled {
			c.Set("Strict-Transport-Security", "max-age=63072000; includeSubDomains")
		}
		return c.Next()
	}
}
