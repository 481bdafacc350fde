package api

import (
	"errors"
	"time"

	"github.com/gofiber/fiber/v3"

	"github.com/campfire-chat/campfire-server/internal/apierrors"
	"github.com/campfire-chat/campfire-server/internal/auth"
	"github.com/campfire-chat/campfire-server/internal/httputil"
	"github.com/campfire-chat/campfire-server/internal/store"
)

// sessionCookieTTL matches §6's 24h browser session cookie lifetime. The server-side session record
// itself lives longer (store.SessionTTL); the cookie is simply re-issued on each login.
const sessionCookieTTL = 24 * time.Hour

// AuthHandler serves the authentication endpoints (§6).
type AuthHandler struct {
	Auth *auth.Service
}

type registerRequest struct {
	Email    string `json:"email"`
	Name     string `json:"name"`
	Password string `json:"password"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func userResponse(u *store.User) fiber.Map {
	return fiber.Map{
		"id":       u.ID,
		"email":    u.Email,
		"name":     u.Name,
		"is_admin": u.IsAdmin,
	}
}

func (h *AuthHandler) setSessionCookie(c fiber.Ctx, sess *store.Session) {
	c.Cookie(&fiber.Cookie{
		Name:     auth.SessionCookieName,
		Value:    sess.Token,
		Expires:  time.Now().Add(sessionCookieTTL),
		HTTPOnly: true,
		SameSite: fiber.CookieSameSiteLaxMode,
		Secure:   true,
		Path:     "/",
	})
}

// Register handles POST /api/auth/register.
func (h *AuthHandler) Register(c fiber.Ctx) error {
	var body registerRequest
	if err := c.Bind().Body(&body); err != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, apierrors.ValidationError, "invalid request body")
	}

	u, sess, err := h.Auth.Register(c.Context(), body.Email, body.Name, body.Password)
	if err != nil {
		return mapAuthError(c, err)
	}

	h.setSessionCookie(c, sess)
	return httputil.SuccessStatus(c, fiber.StatusCreated, userResponse(u))
}

// Login handles POST /api/auth/login.
func (h *AuthHandler) Login(c fiber.Ctx) error {
	var body loginRequest
	if err := c.Bind().Body(&body); err != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, apierrors.ValidationError, "invalid request body")
	}

	u, sess, err := h.Auth.Login(c.Context(), body.Email, body.Password)
	if err != nil {
		return mapAuthError(c, err)
	}

	h.setSessionCookie(c, sess)
	return httputil.Success(c, userResponse(u))
}

// Logout handles POST /api/auth/logout.
func (h *AuthHandler) Logout(c fiber.Ctx) error {
	if token := c.Cookies(auth.SessionCookieName); token != "" {
		_ = h.Auth.Logout(c.Context(), token)
	}
	c.Cookie(&fiber.Cookie{
		Name:     auth.SessionCookieName,
		Value:    "",
		Expires:  time.Unix(0, 0),
		HTTPOnly: true,
		SameSite: fiber.CookieSameSiteLaxMode,
		Secure:   true,
		Path:     "/",
	})
	return c.SendStatus(fiber.StatusNoContent)
}

func mapAuthError(c fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, auth.ErrInvalidEmail):
		return httputil.Fail(c, fiber.StatusBadRequest, apierrors.ValidationError, err.Error())
	case errors.Is(err, auth.ErrUsernameLength), errors.Is(err, auth.ErrUsernameInvalidChars):
		return httputil.Fail(c, fiber.StatusBadRequest, apierrors.ValidationError, err.Error())
	case errors.Is(err, auth.ErrPasswordTooShort), errors.Is(err, auth.ErrPasswordTooLong):
		return httputil.Fail(c, fiber.StatusBadRequest, apierrors.ValidationError, err.Error())
	case errors.Is(err, auth.ErrEmailAlreadyTaken):
		return httputil.Fail(c, fiber.StatusConflict, apierrors.Conflict, err.Error())
	case errors.Is(err, auth.ErrInvalidCredentials):
		return httputil.Fail(c, fiber.StatusUnauthorized, apierrors.Unauthorized, err.Error())
	default:
		return httputil.Fail(c, fiber.StatusInternalServerError, apierrors.InternalError, "an internal error occurred")
	}
}
