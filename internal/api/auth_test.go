package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v3"
	"github.com/rs/zerolog"

	"github.com/campfire-chat/campfire-server/internal/apierrors"
	"github.com/campfire-chat/campfire-server/internal/auth"
	"github.com/campfire-chat/campfire-server/internal/store"
)

func newTestAuthStore(t *testing.T) *store.Store {
	t.Helper()
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "campfire.db")

	st, err := store.Connect(ctx, path, 4, zerolog.Nop())
	if err != nil {
		t.Fatalf("store.Connect() error = %v", err)
	}
	if err := store.Migrate(st.WriteDB()); err != nil {
		t.Fatalf("store.Migrate() error = %v", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	go st.Run(runCtx)
	t.Cleanup(func() {
		cancel()
		_ = st.Close()
	})
	return st
}

func testAuthHandler(t *testing.T) (*AuthHandler, *fiber.App) {
	t.Helper()
	st := newTestAuthStore(t)
	svc, err := auth.NewService(st, 10, zerolog.Nop())
	if err != nil {
		t.Fatalf("auth.NewService() error = %v", err)
	}
	handler := &AuthHandler{Auth: svc}

	app := fiber.New()
	app.Post("/register", handler.Register)
	app.Post("/login", handler.Login)
	app.Post("/logout", handler.Logout)

	return handler, app
}

type successEnvelope struct {
	Data json.RawMessage `json:"data"`
}

type errorEnvelope struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func readBody(t *testing.T, resp *http.Response) []byte {
	t.Helper()
	defer func() { _ = resp.Body.Close() }()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read response body: %v", err)
	}
	return b
}

func parseError(t *testing.T, body []byte) errorEnvelope {
	t.Helper()
	var env errorEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		t.Fatalf("unmarshal error response %q: %v", string(body), err)
	}
	return env
}

func parseSuccess(t *testing.T, body []byte) successEnvelope {
	t.Helper()
	var env successEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		t.Fatalf("unmarshal success response %q: %v", string(body), err)
	}
	return env
}

func jsonReq(method, url, body string) *http.Request {
	req := httptest.NewRequest(method, url, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func doReq(t *testing.T, app *fiber.App, req *http.Request) *http.Response {
	t.Helper()
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test() error = %v", err)
	}
	return resp
}

func TestRegisterHandlerInvalidJSON(t *testing.T) {
	t.Parallel()
	_, app := testAuthHandler(t)

	resp := doReq(t, app, jsonReq(http.MethodPost, "/register", "not json"))
	body := readBody(t, resp)

	if resp.StatusCode != fiber.StatusBadRequest {
		t.Errorf("status = %d, want %d", resp.StatusCode, fiber.StatusBadRequest)
	}
	env := parseError(t, body)
	if env.Error.Code != string(apierrors.ValidationError) {
		t.Errorf("error code = %q, want %q", env.Error.Code, apierrors.ValidationError)
	}
}

func TestRegisterHandlerValidationErrors(t *testing.T) {
	t.Parallel()
	_, app := testAuthHandler(t)

	tests := []struct {
		name string
		body string
	}{
		{"invalid email", `{"email":"bad","name":"alice","password":"strongpassword"}`},
		{"name too short", `{"email":"alice@example.com","name":"a","password":"strongpassword"}`},
		{"password too short", `{"email":"alice@example.com","name":"alice","password":"short"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			resp := doReq(t, app, jsonReq(http.MethodPost, "/register", tt.body))
			body := readBody(t, resp)

			if resp.StatusCode != fiber.StatusBadRequest {
				t.Errorf("status = %d, want %d", resp.StatusCode, fiber.StatusBadRequest)
			}
			env := parseError(t, body)
			if env.Error.Code != string(apierrors.ValidationError) {
				t.Errorf("error code = %q, want %q", env.Error.Code, apierrors.ValidationError)
			}
		})
	}
}

func TestRegisterHandlerSuccess(t *testing.T) {
	t.Parallel()
	_, app := testAuthHandler(t)

	resp := doReq(t, app, jsonReq(http.MethodPost, "/register",
		`{"email":"alice@example.com","name":"alice","password":"strongpassword"}`))
	body := readBody(t, resp)

	if resp.StatusCode != fiber.StatusCreated {
		t.Errorf("status = %d, want %d", resp.StatusCode, fiber.StatusCreated)
	}

	env := parseSuccess(t, body)
	var userResp struct {
		Email string `json:"email"`
		Name  string `json:"name"`
	}
	if err := json.Unmarshal(env.Data, &userResp); err != nil {
		t.Fatalf("unmarshal user response: %v", err)
	}
	if userResp.Email != "alice@example.com" {
		t.Errorf("email = %q, want %q", userResp.Email, "alice@example.com")
	}

	if cookies := resp.Cookies(); len(cookies) == 0 {
		t.Error("expected a session cookie to be set")
	}
}

func TestRegisterHandlerDuplicateEmail(t *testing.T) {
	t.Parallel()
	_, app := testAuthHandler(t)

	body := `{"email":"dupe@example.com","name":"dupe","password":"strongpassword"}`
	doReq(t, app, jsonReq(http.MethodPost, "/register", body))

	resp := doReq(t, app, jsonReq(http.MethodPost, "/register", body))
	respBody := readBody(t, resp)

	if resp.StatusCode != fiber.StatusConflict {
		t.Errorf("status = %d, want %d", resp.StatusCode, fiber.StatusConflict)
	}
	env := parseError(t, respBody)
	if env.Error.Code != string(apierrors.Conflict) {
		t.Errorf("error code = %q, want %q", env.Error.Code, apierrors.Conflict)
	}
}

func TestLoginHandlerInvalidCredentials(t *testing.T) {
	t.Parallel()
	_, app := testAuthHandler(t)

	resp := doReq(t, app, jsonReq(http.MethodPost, "/login",
		`{"email":"nobody@example.com","password":"strongpassword"}`))
	body := readBody(t, resp)

	if resp.StatusCode != fiber.StatusUnauthorized {
		t.Errorf("status = %d, want %d", resp.StatusCode, fiber.StatusUnauthorized)
	}
	env := parseError(t, body)
	if env.Error.Code != string(apierrors.Unauthorized) {
		t.Errorf("error code = %q, want %q", env.Error.Code, apierrors.Unauthorized)
	}
}

func TestLoginHandlerSuccess(t *testing.T) {
	t.Parallel()
	_, app := testAuthHandler(t)

	doReq(t, app, jsonReq(http.MethodPost, "/register",
		`{"email":"bob@example.com","name":"bob","password":"strongpassword"}`))

	resp := doReq(t, app, jsonReq(http.MethodPost, "/login",
		`{"email":"bob@example.com","password":"strongpassword"}`))
	body := readBody(t, resp)

	if resp.StatusCode != fiber.StatusOK {
		t.Errorf("status = %d, want %d", resp.StatusCode, fiber.StatusOK)
	}
	env := parseSuccess(t, body)
	var userResp struct {
		Email string `json:"email"`
	}
	if err := json.Unmarshal(env.Data, &userResp); err != nil {
		t.Fatalf("unmarshal user response: %v", err)
	}
	if userResp.Email != "bob@example.com" {
		t.Errorf("email = %q, want %q", userResp.Email, "bob@example.com")
	}
}

func TestLogoutHandlerClearsSessionCookie(t *testing.T) {
	t.Parallel()
	_, app := testAuthHandler(t)

	req := jsonReq(http.MethodPost, "/logout", "")
	req.AddCookie(&http.Cookie{Name: auth.SessionCookieName, Value: "whatever"})
	resp := doReq(t, app, req)

	if resp.StatusCode != fiber.StatusNoContent {
		t.Errorf("status = %d, want %d", resp.StatusCode, fiber.StatusNoContent)
	}
}
