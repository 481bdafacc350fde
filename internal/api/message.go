package api

import (
	"errors"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/campfire-chat/campfire-server/internal/apierrors"
	"github.com/campfire-chat/campfire-server/internal/auth"
	"github.com/campfire-chat/campfire-server/internal/authz"
	"github.com/campfire-chat/campfire-server/internal/httputil"
	"github.com/campfire-chat/campfire-server/internal/pipeline"
	"github.com/campfire-chat/campfire-server/internal/store"
)

// MessageHandler serves §4.A/§4.G's room history and message creation endpoints. Rate limiting for
// message creation happens inside pipeline.CreateMessage; this handler holds no limiter of its own.
type MessageHandler struct {
	pipeline *pipeline.Pipeline
	store    *store.Store
	authz    *authz.Authorizer
	log      zerolog.Logger
}

func NewMessageHandler(p *pipeline.Pipeline, st *store.Store, az *authz.Authorizer, logger zerolog.Logger) *MessageHandler {
	return &MessageHandler{pipeline: p, store: st, authz: az, log: logger.With().Str("component", "message_handler").Logger()}
}

type createMessageRequest struct {
	ID   string `json:"id"`
	Body string `json:"body"`
}

type messageResponse struct {
	ID           uuid.UUID   `json:"id"`
	RoomID       uuid.UUID   `json:"room_id"`
	CreatorID    uuid.UUID   `json:"creator_id"`
	Body         string      `json:"body"`
	CreatedAt    time.Time   `json:"created_at"`
	Mentions     []uuid.UUID `json:"mentions"`
	SoundCommand string      `json:"sound_command,omitempty"`
}

func toMessageResponse(m *store.Message) messageResponse {
	return messageResponse{
		ID:           m.ID,
		RoomID:       m.RoomID,
		CreatorID:    m.CreatorID,
		Body:         m.Body,
		CreatedAt:    m.CreatedAt,
		Mentions:     m.Mentions,
		SoundCommand: m.SoundCommand,
	}
}

// ListMessages handles GET /api/rooms/:roomID/messages, returning a cursor-paginated page of room
// history newest-first (§4.A). The caller must be able to read the room (membership, or an open room).
func (h *MessageHandler) ListMessages(c fiber.Ctx) error {
	roomID, err := uuid.Parse(c.Params("roomID"))
	if err != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, apierrors.ValidationError, "invalid room id")
	}

	user, ok := auth.UserFromContext(c)
	if !ok {
		return httputil.Fail(c, fiber.StatusUnauthorized, apierrors.Unauthorized, "authentication required")
	}

	canRead, err := h.authz.CanRead(c.Context(), roomID, user.ID)
	if err != nil {
		h.log.Error().Err(err).Msg("authorize read failed")
		return httputil.Fail(c, fiber.StatusInternalServerError, apierrors.InternalError, "an internal error occurred")
	}
	if !canRead {
		return httputil.Fail(c, fiber.StatusForbidden, apierrors.Forbidden, "not a member of this room")
	}

	limit, _ := strconv.Atoi(c.Query("limit"))
	page, err := h.store.ListMessages(c.Context(), roomID, c.Query("cursor"), limit)
	if err != nil {
		h.log.Error().Err(err).Msg("list messages failed")
		return httputil.Fail(c, fiber.StatusInternalServerError, apierrors.InternalError, "an internal error occurred")
	}

	out := make([]messageResponse, len(page.Messages))
	for i := range page.Messages {
		out[i] = toMessageResponse(&page.Messages[i])
	}
	return httputil.Success(c, fiber.Map{
		"messages":    out,
		"next_cursor": page.NextCursor,
		"has_more":    page.HasMore,
	})
}

// CreateMessage handles POST /api/rooms/:roomID/messages, running the full create_message pipeline
// (§4.G): authorization and join-on-write, rate limiting, sanitization, dedup, persistence, and
// fan-out.
func (h *MessageHandler) CreateMessage(c fiber.Ctx) error {
	roomID, err := uuid.Parse(c.Params("roomID"))
	if err != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, apierrors.ValidationError, "invalid room id")
	}

	user, ok := auth.UserFromContext(c)
	if !ok {
		return httputil.Fail(c, fiber.StatusUnauthorized, apierrors.Unauthorized, "authentication required")
	}

	var body createMessageRequest
	if err := c.Bind().Body(&body); err != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, apierrors.ValidationError, "invalid request body")
	}

	var msgID uuid.UUID
	if body.ID != "" {
		msgID, err = uuid.Parse(body.ID)
		if err != nil {
			return httputil.Fail(c, fiber.StatusBadRequest, apierrors.ValidationError, "invalid message id")
		}
	} else {
		msgID = uuid.New()
	}

	msg, err := h.pipeline.CreateMessage(c.Context(), pipeline.CreateMessageRequest{
		RoomID:      roomID,
		ID:          msgID,
		Body:        body.Body,
		ActorUserID: user.ID,
	})
	if err != nil {
		return h.mapMessageError(c, err)
	}

	return httputil.SuccessStatus(c, fiber.StatusCreated, toMessageResponse(msg))
}

// DeleteMessage handles DELETE /api/rooms/:roomID/messages/:messageID (§4.A "soft delete"). The author
// may always delete their own message; otherwise the caller must hold the room's admin role.
func (h *MessageHandler) DeleteMessage(c fiber.Ctx) error {
	roomID, err := uuid.Parse(c.Params("roomID"))
	if err != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, apierrors.ValidationError, "invalid room id")
	}
	messageID, err := uuid.Parse(c.Params("messageID"))
	if err != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, apierrors.ValidationError, "invalid message id")
	}

	user, ok := auth.UserFromContext(c)
	if !ok {
		return httputil.Fail(c, fiber.StatusUnauthorized, apierrors.Unauthorized, "authentication required")
	}

	msg, err := h.store.GetMessage(c.Context(), roomID, messageID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return httputil.Fail(c, fiber.StatusNotFound, apierrors.NotFound, "message not found")
		}
		h.log.Error().Err(err).Msg("load message failed")
		return httputil.Fail(c, fiber.StatusInternalServerError, apierrors.InternalError, "an internal error occurred")
	}

	if msg.CreatorID != user.ID {
		isAdmin, err := h.authz.CanAdmin(c.Context(), roomID, user.ID)
		if err != nil {
			h.log.Error().Err(err).Msg("authorize admin failed")
			return httputil.Fail(c, fiber.StatusInternalServerError, apierrors.InternalError, "an internal error occurred")
		}
		if !isAdmin {
			return httputil.Fail(c, fiber.StatusForbidden, apierrors.Forbidden, "not permitted to delete this message")
		}
	}

	if err := h.store.SoftDeleteMessage(c.Context(), roomID, messageID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return httputil.Fail(c, fiber.StatusNotFound, apierrors.NotFound, "message not found")
		}
		h.log.Error().Err(err).Msg("delete message failed")
		return httputil.Fail(c, fiber.StatusInternalServerError, apierrors.InternalError, "an internal error occurred")
	}

	return c.SendStatus(fiber.StatusNoContent)
}

func (h *MessageHandler) mapMessageError(c fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, authz.ErrForbidden):
		return httputil.Fail(c, fiber.StatusForbidden, apierrors.Forbidden, "not permitted to post in this room")
	case errors.Is(err, pipeline.ErrRateLimited):
		return httputil.Fail(c, fiber.StatusTooManyRequests, apierrors.RateLimited, "message rate limit exceeded")
	case errors.Is(err, pipeline.ErrIdempotencyConflict):
		return httputil.Fail(c, fiber.StatusConflict, apierrors.Conflict, err.Error())
	default:
		h.log.Error().Err(err).Msg("unhandled pipeline error")
		return httputil.Fail(c, fiber.StatusInternalServerError, apierrors.InternalError, "an internal error occurred")
	}
}
