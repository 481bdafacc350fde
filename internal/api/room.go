package api

import (
	"errors"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/campfire-chat/campfire-server/internal/apierrors"
	"github.com/campfire-chat/campfire-server/internal/auth"
	"github.com/campfire-chat/campfire-server/internal/authz"
	"github.com/campfire-chat/campfire-server/internal/httputil"
	"github.com/campfire-chat/campfire-server/internal/store"
)

// RoomHandler serves §3/§4.D's room listing, creation, and join endpoints.
type RoomHandler struct {
	store *store.Store
	authz *authz.Authorizer
	log   zerolog.Logger
}

func NewRoomHandler(st *store.Store, az *authz.Authorizer, logger zerolog.Logger) *RoomHandler {
	return &RoomHandler{store: st, authz: az, log: logger.With().Str("component", "room_handler").Logger()}
}

type roomResponse struct {
	ID          uuid.UUID `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Type        string    `json:"type"`
	CreatedAt   time.Time `json:"created_at"`
}

func toRoomResponse(r *store.Room) roomResponse {
	return roomResponse{
		ID:          r.ID,
		Name:        r.Name,
		Description: r.Description,
		Type:        string(r.Type),
		CreatedAt:   r.CreatedAt,
	}
}

// ListRooms handles GET /api/rooms, returning every room the caller may read (§4.D CanRead).
func (h *RoomHandler) ListRooms(c fiber.Ctx) error {
	user, ok := auth.UserFromContext(c)
	if !ok {
		return httputil.Fail(c, fiber.StatusUnauthorized, apierrors.Unauthorized, "authentication required")
	}

	ids, err := h.store.ReadableRoomIDs(c.Context(), user.ID)
	if err != nil {
		h.log.Error().Err(err).Msg("list readable rooms failed")
		return httputil.Fail(c, fiber.StatusInternalServerError, apierrors.InternalError, "an internal error occurred")
	}

	rooms := make([]roomResponse, 0, len(ids))
	for _, id := range ids {
		room, err := h.store.GetRoom(c.Context(), id)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				continue
			}
			h.log.Error().Err(err).Msg("load room failed")
			return httputil.Fail(c, fiber.StatusInternalServerError, apierrors.InternalError, "an internal error occurred")
		}
		rooms = append(rooms, toRoomResponse(room))
	}
	return httputil.Success(c, fiber.Map{"rooms": rooms})
}

type createRoomRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Type        string `json:"type"`
	UserID      string `json:"user_id"`
}

// CreateRoom handles POST /api/rooms. For Open and Closed rooms the creator is seeded as an admin
// member of the new room, and the caller must hold the admin flag themselves (§6: room creation is
// admin-only for non-Direct types). A Direct room instead names the other party via user_id and is
// open to any authenticated user, returning (and creating on first use) the fixed two-party room
// shared by the caller and that user.
func (h *RoomHandler) CreateRoom(c fiber.Ctx) error {
	user, ok := auth.UserFromContext(c)
	if !ok {
		return httputil.Fail(c, fiber.StatusUnauthorized, apierrors.Unauthorized, "authentication required")
	}

	var body createRoomRequest
	if err := c.Bind().Body(&body); err != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, apierrors.ValidationError, "invalid request body")
	}

	if store.RoomType(body.Type) == store.RoomDirect {
		otherID, err := uuid.Parse(body.UserID)
		if err != nil {
			return httputil.Fail(c, fiber.StatusBadRequest, apierrors.ValidationError, "user_id must be a valid user id")
		}
		if otherID == user.ID {
			return httputil.Fail(c, fiber.StatusBadRequest, apierrors.ValidationError, "cannot create a direct room with yourself")
		}

		room, err := h.store.GetOrCreateDirectRoom(c.Context(), user.ID, otherID)
		if err != nil {
			h.log.Error().Err(err).Msg("get or create direct room failed")
			return httputil.Fail(c, fiber.StatusInternalServerError, apierrors.InternalError, "an internal error occurred")
		}
		return httputil.SuccessStatus(c, fiber.StatusCreated, toRoomResponse(room))
	}

	if !user.IsAdmin {
		return httputil.Fail(c, fiber.StatusForbidden, apierrors.Forbidden, "only admins may create rooms")
	}

	if body.Name == "" {
		return httputil.Fail(c, fiber.StatusBadRequest, apierrors.ValidationError, "name must not be empty")
	}

	roomType := store.RoomType(body.Type)
	switch roomType {
	case store.RoomOpen, store.RoomClosed:
	case "":
		roomType = store.RoomOpen
	default:
		return httputil.Fail(c, fiber.StatusBadRequest, apierrors.ValidationError, "type must be \"open\" or \"closed\"")
	}

	room, err := h.store.CreateRoom(c.Context(), store.Room{
		Name:        body.Name,
		Description: body.Description,
		Type:        roomType,
	}, []store.Membership{{UserID: user.ID, Role: store.RoleAdmin, Involvement: store.InvolvementEverything}})
	if err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return httputil.Fail(c, fiber.StatusConflict, apierrors.Conflict, "a room with this name already exists")
		}
		h.log.Error().Err(err).Msg("create room failed")
		return httputil.Fail(c, fiber.StatusInternalServerError, apierrors.InternalError, "an internal error occurred")
	}

	return httputil.SuccessStatus(c, fiber.StatusCreated, toRoomResponse(room))
}

// GetRoom handles GET /api/rooms/:roomID, gated on the caller being able to read the room.
func (h *RoomHandler) GetRoom(c fiber.Ctx) error {
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

	room, err := h.store.GetRoom(c.Context(), roomID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return httputil.Fail(c, fiber.StatusNotFound, apierrors.NotFound, "room not found")
		}
		h.log.Error().Err(err).Msg("load room failed")
		return httputil.Fail(c, fiber.StatusInternalServerError, apierrors.InternalError, "an internal error occurred")
	}
	return httputil.Success(c, toRoomResponse(room))
}

// JoinRoom handles POST /api/rooms/:roomID/join. Open rooms may be joined by any authenticated user;
// closed rooms require an existing invitation represented by a pre-existing membership row, so joining
// a closed room the caller isn't already a member of is forbidden.
func (h *RoomHandler) JoinRoom(c fiber.Ctx) error {
	roomID, err := uuid.Parse(c.Params("roomID"))
	if err != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, apierrors.ValidationError, "invalid room id")
	}

	user, ok := auth.UserFromContext(c)
	if !ok {
		return httputil.Fail(c, fiber.StatusUnauthorized, apierrors.Unauthorized, "authentication required")
	}

	room, err := h.store.GetRoom(c.Context(), roomID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return httputil.Fail(c, fiber.StatusNotFound, apierrors.NotFound, "room not found")
		}
		h.log.Error().Err(err).Msg("load room failed")
		return httputil.Fail(c, fiber.StatusInternalServerError, apierrors.InternalError, "an internal error occurred")
	}
	if room.Type != store.RoomOpen {
		canRead, err := h.authz.CanRead(c.Context(), roomID, user.ID)
		if err != nil {
			h.log.Error().Err(err).Msg("authorize read failed")
			return httputil.Fail(c, fiber.StatusInternalServerError, apierrors.InternalError, "an internal error occurred")
		}
		if !canRead {
			return httputil.Fail(c, fiber.StatusForbidden, apierrors.Forbidden, "this room requires an invitation")
		}
		return httputil.Success(c, fiber.Map{"joined": true})
	}

	if err := h.store.Join(c.Context(), roomID, user.ID); err != nil {
		h.log.Error().Err(err).Msg("join room failed")
		return httputil.Fail(c, fiber.StatusInternalServerError, apierrors.InternalError, "an internal error occurred")
	}
	return httputil.Success(c, fiber.Map{"joined": true})
}
