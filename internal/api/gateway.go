package api

import (
	"github.com/gofiber/contrib/v3/websocket"
	"github.com/gofiber/fiber/v3"

	"github.com/campfire-chat/campfire-server/internal/auth"
	"github.com/campfire-chat/campfire-server/internal/connmgr"
)

// GatewayHandler serves the duplex channel upgrade endpoint (§4.F, §6 GET /ws).
type GatewayHandler struct {
	mgr *connmgr.Manager
}

func NewGatewayHandler(mgr *connmgr.Manager) *GatewayHandler {
	return &GatewayHandler{mgr: mgr}
}

// Upgrade handles GET /ws. The request must already carry a valid session bearer token (enforced by
// auth.RequireAuth ahead of this handler in the route chain); the connection is registered under that
// session's user id and handed off to the Manager for its lifetime.
func (h *GatewayHandler) Upgrade(c fiber.Ctx) error {
	if !websocket.IsWebSocketUpgrade(c) {
		return fiber.ErrUpgradeRequired
	}

	user, ok := auth.UserFromContext(c)
	if !ok {
		return fiber.ErrUnauthorized
	}
	userID := user.ID

	return websocket.New(func(conn *websocket.Conn) {
		connection := h.mgr.Register(userID, conn.Conn)
		<-connection.Done()
	})(c)
}
