// Package search implements §4.B's message search: a permission-scoped full-text query over
// room history, ranked by SQLite FTS5's bm25.
package search

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/campfire-chat/campfire-server/internal/sanitize"
	"github.com/campfire-chat/campfire-server/internal/store"
)

// ErrEmptyQuery is returned when the caller's query string is blank after trimming.
var ErrEmptyQuery = errors.New("search query must not be empty")

// Pagination defaults and limits. DefaultLimit equals store.SearchMessages' own default and MaxLimit
// the largest limit it accepts; ClampLimit caps an over-limit value at MaxLimit rather than resetting it.
const (
	DefaultLimit = 20
	MaxLimit     = 100
)

// ClampLimit normalizes a caller-supplied limit to a valid range.
func ClampLimit(limit int) int {
	if limit <= 0 {
		return DefaultLimit
	}
	if limit > MaxLimit {
		return MaxLimit
	}
	return limit
}

// Hit is a single ranked search result, ready for JSON serialization. Snippet is already sanitized
// and carries <mark> spans around the matched terms (§4.J step 3).
type Hit struct {
	Message store.Message
	Room    store.Room
	Rank    float64
	Snippet string
}

// Result is the full response to a search request.
type Result struct {
	Query string
	Hits  []Hit
}

// Service scopes full-text search to the rooms the requesting user may read, so a query can never
// surface history from a room the caller has no access to (§4.B).
type Service struct {
	store     *store.Store
	sanitizer *sanitize.Sanitizer
	log       zerolog.Logger
}

func New(st *store.Store, logger zerolog.Logger) *Service {
	return &Service{store: st, sanitizer: sanitize.New(), log: logger.With().Str("component", "search").Logger()}
}

// Search resolves userID's readable rooms, optionally narrowed to a single roomID, and runs the
// full-text query against that scope only.
func (s *Service) Search(ctx context.Context, userID uuid.UUID, query string, roomID *uuid.UUID, limit int) (*Result, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, ErrEmptyQuery
	}

	readable, err := s.store.ReadableRoomIDs(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list readable rooms: %w", err)
	}

	scope := readable
	if roomID != nil {
		scope = nil
		for _, id := range readable {
			if id == *roomID {
				scope = []uuid.UUID{*roomID}
				break
			}
		}
	}
	if len(scope) == 0 {
		return &Result{Query: query}, nil
	}

	results, err := s.store.SearchMessages(ctx, query, scope, ClampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("search messages: %w", err)
	}

	rooms := make(map[uuid.UUID]store.Room, len(scope))
	hits := make([]Hit, 0, len(results))
	for _, r := range results {
		room, ok := rooms[r.Message.RoomID]
		if !ok {
			loaded, err := s.store.GetRoom(ctx, r.Message.RoomID)
			if err != nil {
				s.log.Error().Err(err).Str("room_id", r.Message.RoomID.String()).Msg("load search hit room failed")
				continue
			}
			room = *loaded
			rooms[r.Message.RoomID] = room
		}

		snippet := s.sanitizer.Snippet(r.Snippet, store.SnippetOpenMarker, store.SnippetCloseMarker)
		hits = append(hits, Hit{Message: r.Message, Room: room, Rank: r.Rank, Snippet: snippet})
	}
	return &Result{Query: query, Hits: hits}, nil
}
