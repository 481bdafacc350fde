package api

import (
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/google/uuid"

	"github.com/campfire-chat/campfire-server/internal/apierrors"
	"github.com/campfire-chat/campfire-server/internal/auth"
	"github.com/campfire-chat/campfire-server/internal/store"
)

func testUserApp(t *testing.T, actor *store.User) *fiber.App {
	t.Helper()
	handler := NewUserHandler()
	app := fiber.New()
	app.Use(func(c fiber.Ctx) error {
		if actor != nil {
			c.Locals(auth.UserLocalsKey, actor)
		}
		return c.Next()
	})
	app.Get("/api/users/@me", handler.GetMe)
	return app
}

func TestGetMeUnauthenticated(t *testing.T) {
	t.Parallel()
	app := testUserApp(t, nil)

	resp := doReq(t, app, jsonReq(http.MethodGet, "/api/users/@me", ""))
	body := readBody(t, resp)

	if resp.StatusCode != fiber.StatusUnauthorized {
		t.Errorf("status = %d, want %d", resp.StatusCode, fiber.StatusUnauthorized)
	}
	env := parseError(t, body)
	if env.Error.Code != string(apierrors.Unauthorized) {
		t.Errorf("error code = %q, want %q", env.Error.Code, apierrors.Unauthorized)
	}
}

func TestGetMeSuccess(t *testing.T) {
	t.Parallel()
	actor := &store.User{
		ID:        uuid.New(),
		Name:      "alice",
		Email:     "alice@example.com",
		CreatedAt: time.Now(),
	}
	app := testUserApp(t, actor)

	resp := doReq(t, app, jsonReq(http.MethodGet, "/api/users/@me", ""))
	body := readBody(t, resp)

	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d, want %d, body = %s", resp.StatusCode, fiber.StatusOK, body)
	}

	env := parseSuccess(t, body)
	var userResp struct {
		ID    string `json:"id"`
		Name  string `json:"name"`
		Email string `json:"email"`
	}
	if err := json.Unmarshal(env.Data, &userResp); err != nil {
		t.Fatalf("unmarshal user response: %v", err)
	}
	if userResp.ID != actor.ID.String() {
		t.Errorf("id = %q, want %q", userResp.ID, actor.ID.String())
	}
	if userResp.Name != "alice" {
		t.Errorf("name = %q, want %q", userResp.Name, "alice")
	}
	if userResp.Email != "alice@example.com" {
		t.Errorf("email = %q, want %q", userResp.Email, "alice@example.com")
	}
}
