package api

import (
	"errors"
	"strconv"

	"github.com/gofiber/fiber/v3"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/campfire-chat/campfire-server/internal/apierrors"
	"github.com/campfire-chat/campfire-server/internal/auth"
	"github.com/campfire-chat/campfire-server/internal/httputil"
	"github.com/campfire-chat/campfire-server/internal/search"
)

// SearchHandler serves §4.B's message search endpoint.
type SearchHandler struct {
	service *search.Service
	log     zerolog.Logger
}

func NewSearchHandler(service *search.Service, logger zerolog.Logger) *SearchHandler {
	return &SearchHandler{service: service, log: logger.With().Str("component", "search_handler").Logger()}
}

// SearchMessages handles GET /api/search?q=...&room_id=...&limit=..., scoped to rooms the caller may
// read (§4.B).
func (h *SearchHandler) SearchMessages(c fiber.Ctx) error {
	user, ok := auth.UserFromContext(c)
	if !ok {
		return httputil.Fail(c, fiber.StatusUnauthorized, apierrors.Unauthorized, "authentication required")
	}

	query := c.Query("q")

	var roomID *uuid.UUID
	if raw := c.Query("room_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			return httputil.Fail(c, fiber.StatusBadRequest, apierrors.ValidationError, "invalid room_id")
		}
		roomID = &id
	}

	limit, _ := strconv.Atoi(c.Query("limit"))

	result, err := h.service.Search(c.Context(), user.ID, query, roomID, limit)
	if err != nil {
		if errors.Is(err, search.ErrEmptyQuery) {
			return httputil.Fail(c, fiber.StatusBadRequest, apierrors.ValidationError, err.Error())
		}
		h.log.Error().Err(err).Msg("search failed")
		return httputil.Fail(c, fiber.StatusInternalServerError, apierrors.InternalError, "an internal error occurred")
	}

	hits := make([]fiber.Map, len(result.Hits))
	for i, hit := range result.Hits {
		hits[i] = fiber.Map{
			"message": toMessageResponse(&hit.Message),
			"room":    toRoomResponse(&hit.Room),
			"rank":    hit.Rank,
			"snippet": hit.Snippet,
		}
	}
	return httputil.Success(c, fiber.Map{"query": result.Query, "hits": hits})
}
