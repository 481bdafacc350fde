package csrf

import (
	"errors"

	"github.com/gofiber/fiber/v3"

	"github.com/campfire-chat/campfire-server/internal/apierrors"
	"github.com/campfire-chat/campfire-server/internal/auth"
	"github.com/campfire-chat/campfire-server/internal/httputil"
)

// HeaderName is the header state-changing browser-session requests must carry a live token in (§6).
const HeaderName = "X-CSRF-Token"

// Handler exposes the one-shot token issuance endpoint, GET /api/security/csrf-token.
type Handler struct {
	issuer *Issuer
}

func NewHandler(issuer *Issuer) *Handler {
	return &Handler{issuer: issuer}
}

// IssueToken mints a token scoped to the caller's current session.
func (h *Handler) IssueToken(c fiber.Ctx) error {
	sessionToken, ok := auth.SessionTokenFromContext(c)
	if !ok {
		return httputil.Fail(c, fiber.StatusUnauthorized, apierrors.Unauthorized, "session required")
	}

	token, err := h.issuer.Issue(c.Context(), sessionToken)
	if err != nil {
		return httputil.Fail(c, fiber.StatusInternalServerError, apierrors.InternalError, "failed to issue csrf token")
	}

	return httputil.Success(c, fiber.Map{"csrf_token": token})
}

// Require returns Fiber middleware enforcing §6's CSRF rule for state-changing, browser-session
// requests: the caller must present a live, single-use token minted for its own session via
// X-CSRF-Token. Requests authenticated with a bearer token rather than a session cookie are exempt,
// since they are not subject to cross-site request forgery in the same way a cookie-carrying browser
// request is.
func (h *Handler) Require() fiber.Handler {
	return func(c fiber.Ctx) error {
		if c.Cookies(auth.SessionCookieName) == "" {
			return c.Next()
		}

		token := c.Get(HeaderName)
		if token == "" {
			return httputil.Fail(c, fiber.StatusForbidden, apierrors.Forbidden, "missing csrf token")
		}

		sessionToken, ok := auth.SessionTokenFromContext(c)
		if !ok {
			return httputil.Fail(c, fiber.StatusUnauthorized, apierrors.Unauthorized, "session required")
		}

		boundSession, err := h.issuer.Consume(c.Context(), token)
		if err != nil {
			if errors.Is(err, ErrInvalidToken) {
				return httputil.Fail(c, fiber.StatusForbidden, apierrors.Forbidden, "invalid or expired csrf token")
			}
			return httputil.Fail(c, fiber.StatusInternalServerError, apierrors.InternalError, "failed to validate csrf token")
		}
		if boundSession != sessionToken {
			return httputil.Fail(c, fiber.StatusForbidden, apierrors.Forbidden, "csrf token was issued to a different session")
		}

		return c.Next()
	}
}
