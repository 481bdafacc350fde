package httputil

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v3"
)

func TestForceHTTPSSetsHeaderWhenEnabled(t *testing.T) {
	t.Parallel()
	app := fiber.New()
	app.Use(ForceHTTPS(true))
	app.Get("/", func(c fiber.Ctx) error { return c.SendString("ok") })

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/", nil))
	if err != nil {
		t.Fatalf("app.Test() error = %v", err)
	}
	if got := resp.Header.Get("Strict-Transport-Security"); got == "" {
		t.Error("expected Strict-Transport-Security header to be set")
	}
}

func TestForceHTTPSOmitsHeaderWhenDisabled(t *testing.T) {
	t.Parallel()
	app := fiber.New()
	app.Use(ForceHTTPS(false))
	app.Get("/", func(c fiber.Ctx) error { return c.SendString("ok") })

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/", nil))
	if err != nil {
		t.Fatalf("app.Test() error = %v", err)
	}
	if got := resp.Header.Get("Strict-Transport-Security"); got != "" {
		t.Errorf("Strict-Transport-Security = %q, want empty", got)
	}
}
