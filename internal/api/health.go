package api

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/redis/go-redis/v9"

	"github.com/campfire-chat/campfire-server/internal/httputil"
	"github.com/campfire-chat/campfire-server/internal/store"
)

// HealthHandler serves the liveness/readiness endpoint, pinging the store's read connection and the
// Valkey client backing CSRF tokens (§5, §6).
type HealthHandler struct {
	store *store.Store
	rdb   *redis.Client
}

func NewHealthHandler(st *store.Store, rdb *redis.Client) *HealthHandler {
	return &HealthHandler{store: st, rdb: rdb}
}

// Health handles GET /api/health.
func (h *HealthHandler) Health(c fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.Context(), 3*time.Second)
	defer cancel()

	dbStatus := "ok"
	if err := h.store.Read().PingContext(ctx); err != nil {
		dbStatus = "unavailable"
	}

	valkeyStatus := "ok"
	if err := h.rdb.Ping(ctx).Err(); err != nil {
		valkeyStatus = "unavailable"
	}

	overall := "ok"
	status := fiber.StatusOK
	if dbStatus != "ok" || valkeyStatus != "ok" {
		overall = "degraded"
		status = fiber.StatusServiceUnavailable
	}

	return httputil.SuccessStatus(c, status, fiber.Map{
		"status":   overall,
		"database": dbStatus,
		"valkey":   valkeyStatus,
	})
}
