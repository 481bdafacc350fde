package auth

import (
	"errors"
	"strings"

	"github.com/gofiber/fiber/v3"

	"github.com/campfire-chat/campfire-server/internal/apierrors"
	"github.com/campfire-chat/campfire-server/internal/httputil"
	"github.com/campfire-chat/campfire-server/internal/store"
)

// UserLocalsKey is the fiber.Ctx Locals key RequireAuth stores the authenticated *store.User under.
const UserLocalsKey = "user"

// SessionTokenLocalsKey is the fiber.Ctx Locals key RequireAuth stores the resolved session token
// under, so downstream middleware (the CSRF check) can scope one-shot tokens to this session.
const SessionTokenLocalsKey = "session_token"

// SessionCookieName is the HttpOnly cookie browser sessions carry the session token in (§6).
const SessionCookieName = "campfire_session"

// RequireAuth returns Fiber middleware that resolves a session token from the Authorization header
// or, failing that, the session cookie, and stores the authenticated user in Locals.
func RequireAuth(svc *Service) fiber.Handler {
	return func(c fiber.Ctx) error {
		token, err := bearerToken(c)
		if err != nil {
			return httputil.Fail(c, fiber.StatusUnauthorized, apierrors.Unauthorized, "missing or malformed authorization header")
		}

		u, err := svc.Authenticate(c.Context(), token)
		if err != nil {
			if errors.Is(err, ErrUnauthorized) {
				return httputil.Fail(c, fiber.StatusUnauthorized, apierrors.Unauthorized, "invalid or expired session")
			}
			return httputil.Fail(c, fiber.StatusInternalServerError, apierrors.InternalError, "authentication failed")
		}

		c.Locals(UserLocalsKey, u)
		c.Locals(SessionTokenLocalsKey, token)
		return c.Next()
	}
}

// RequireBotAuth returns Fiber middleware for the bot-posting surface (§4.H, §6
// "POST /rooms/{room_id}/bot/{bot_token}/messages"), resolving the bot token from the botToken URL
// path parameter rather than the Authorization header or session cookie bearerToken reads.
func RequireBotAuth(svc *Service) fiber.Handler {
	return func(c fiber.Ctx) error {
		token := c.Params("botToken")
		if token == "" {
			return httputil.Fail(c, fiber.StatusUnauthorized, apierrors.Unauthorized, "missing bot token")
		}

		u, err := svc.AuthenticateBot(c.Context(), token)
		if err != nil {
			if errors.Is(err, ErrUnauthorized) {
				return httputil.Fail(c, fiber.StatusUnauthorized, apierrors.Unauthorized, "invalid bot token")
			}
			return httputil.Fail(c, fiber.StatusInternalServerError, apierrors.InternalError, "authentication failed")
		}

		c.Locals(UserLocalsKey, u)
		return c.Next()
	}
}

// UserFromContext retrieves the authenticated user stored by RequireAuth/RequireBotAuth.
func UserFromContext(c fiber.Ctx) (*store.User, bool) {
	u, ok := c.Locals(UserLocalsKey).(*store.User)
	return u, ok
}

// SessionTokenFromContext retrieves the session token RequireAuth resolved the request with. Not set
// for bot-authenticated requests.
func SessionTokenFromContext(c fiber.Ctx) (string, bool) {
	token, ok := c.Locals(SessionTokenLocalsKey).(string)
	return token, ok
}

// bearerToken resolves a session token from either the Authorization header or the session cookie
// (§6: "session cookie carrying the session token, an Authorization: Bearer <session_token> header").
func bearerToken(c fiber.Ctx) (string, error) {
	header := c.Get("Authorization")
	const prefix = "Bearer "
	if strings.HasPrefix(header, prefix) && len(header) > len(prefix) {
		return header[len(prefix):], nil
	}

	if cookie := c.Cookies(SessionCookieName); cookie != "" {
		return cookie, nil
	}

	return "", ErrUnauthorized
}
