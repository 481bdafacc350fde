package api

import (
	"github.com/gofiber/fiber/v3"

	"github.com/campfire-chat/campfire-server/internal/apierrors"
	"github.com/campfire-chat/campfire-server/internal/auth"
	"github.com/campfire-chat/campfire-server/internal/httputil"
	"github.com/campfire-chat/campfire-server/internal/store"
)

// UserHandler serves the authenticated caller's own profile (§3 User entity).
type UserHandler struct{}

func NewUserHandler() *UserHandler {
	return &UserHandler{}
}

func userModel(u *store.User) fiber.Map {
	return fiber.Map{
		"id":         u.ID,
		"name":       u.Name,
		"email":      u.Email,
		"is_admin":   u.IsAdmin,
		"is_bot":     u.IsBot(),
		"created_at": u.CreatedAt,
	}
}

// GetMe handles GET /api/users/@me, returning the already-authenticated caller's own profile.
func (h *UserHandler) GetMe(c fiber.Ctx) error {
	user, ok := auth.UserFromContext(c)
	if !ok {
		return httputil.Fail(c, fiber.StatusUnauthorized, apierrors.Unauthorized, "authentication required")
	}
	return httputil.Success(c, userModel(user))
}
