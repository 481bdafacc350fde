// Package authz implements §4.D's room-level authorization: who may read, write, and administer a
// room, including the join-on-write behavior that lets any authenticated user post into an open room
// the first time they address it.
package authz

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/campfire-chat/campfire-server/internal/store"
)

// ErrForbidden is returned when the acting user lacks the permission the operation requires.
var ErrForbidden = errors.New("forbidden")

// Authorizer answers room-membership questions against the store. Its methods are safe for
// concurrent use; each call reads the current membership state rather than caching it.
type Authorizer struct {
	store *store.Store
}

func New(st *store.Store) *Authorizer {
	return &Authorizer{store: st}
}

// CanRead reports whether userID may read roomID's history: any existing membership, or an open room
// that anyone may observe even before joining (§4.D).
func (a *Authorizer) CanRead(ctx context.Context, roomID, userID uuid.UUID) (bool, error) {
	room, err := a.store.GetRoom(ctx, roomID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("get room: %w", err)
	}

	if room.Type == store.RoomOpen {
		return true, nil
	}

	_, err = a.store.GetMembership(ctx, roomID, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("get membership: %w", err)
	}
	return true, nil
}

// CanWrite reports whether userID may post into roomID. For closed and direct rooms this requires an
// existing membership. For open rooms, any authenticated user is allowed, and the caller is expected
// to call EnsureMember first so the post also creates a membership row (§4.D "join on write").
func (a *Authorizer) CanWrite(ctx context.Context, roomID, userID uuid.UUID) (bool, error) {
	room, err := a.store.GetRoom(ctx, roomID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("get room: %w", err)
	}

	if room.Type == store.RoomOpen {
		return true, nil
	}

	_, err = a.store.GetMembership(ctx, roomID, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("get membership: %w", err)
	}
	return true, nil
}

// EnsureMember joins userID to roomID if they are not already a member. It is a no-op for existing
// members. Call this before writing to an open room so the write and the resulting membership are
// both visible to the author afterward.
func (a *Authorizer) EnsureMember(ctx context.Context, roomID, userID uuid.UUID) error {
	_, err := a.store.GetMembership(ctx, roomID, userID)
	if err == nil {
		return nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("get membership: %w", err)
	}
	if err := a.store.Join(ctx, roomID, userID); err != nil {
		return fmt.Errorf("join room: %w", err)
	}
	return nil
}

// CanAdmin reports whether userID holds the admin role in roomID, required for room management
// operations (renaming, removing members, deleting messages other than one's own).
func (a *Authorizer) CanAdmin(ctx context.Context, roomID, userID uuid.UUID) (bool, error) {
	m, err := a.store.GetMembership(ctx, roomID, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("get membership: %w", err)
	}
	return m.Role == store.RoleAdmin, nil
}
