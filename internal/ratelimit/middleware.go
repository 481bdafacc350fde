package ratelimit

import (
	"github.com/gofiber/fiber/v3"

	"github.com/campfire-chat/campfire-server/internal/apierrors"
	"github.com/campfire-chat/campfire-server/internal/httputil"
)

// GeneralMiddleware returns Fiber middleware enforcing the §4.E "general" bucket (60/min per client
// IP, burst 10) across every API route it is mounted on.
func GeneralMiddleware(l *Limiter) fiber.Handler {
	return func(c fiber.Ctx) error {
		if !l.AllowGeneral(c.IP()) {
			return httputil.Fail(c, fiber.StatusTooManyRequests, apierrors.RateLimited, "rate limit exceeded")
		}
		return c.Next()
	}
}

// AuthMiddleware returns Fiber middleware enforcing the §4.E "auth" bucket (10/min per client IP,
// burst 5) on the login/registration surface.
func AuthMiddleware(l *Limiter) fiber.Handler {
	return func(c fiber.Ctx) error {
		if !l.AllowAuth(c.IP()) {
			return httputil.Fail(c, fiber.StatusTooManyRequests, apierrors.RateLimited, "rate limit exceeded")
		}
		return c.Next()
	}
}
