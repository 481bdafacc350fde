package search

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/campfire-chat/campfire-server/internal/store"
)

func newTestStore(t *testing.T) *store.Store {
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

func mustRoom(t *testing.T, st *store.Store, typ store.RoomType, members ...uuid.UUID) store.Room {
	t.Helper()
	var initial []store.Membership
	for _, m := range members {
		initial = append(initial, store.Membership{UserID: m, Role: store.RoleMember, Involvement: store.InvolvementEverything})
	}
	r, err := st.CreateRoom(context.Background(), store.Room{Name: "room", Type: typ}, initial)
	if err != nil {
		t.Fatalf("CreateRoom() error = %v", err)
	}
	return *r
}

// mustUser inserts a user row and returns its id, so memberships and messages that reference it satisfy
// the schema's foreign keys.
func mustUser(t *testing.T, st *store.Store, name string) uuid.UUID {
	t.Helper()
	u, err := st.CreateUser(context.Background(), store.User{Name: name, Email: name + "@example.com"})
	if err != nil {
		t.Fatalf("CreateUser() error = %v", err)
	}
	return u.ID
}

func mustMessage(t *testing.T, st *store.Store, roomID, creatorID uuid.UUID, body string) {
	t.Helper()
	_, err := st.PutMessage(context.Background(), store.Message{ID: uuid.New(), RoomID: roomID, CreatorID: creatorID, Body: body})
	if err != nil {
		t.Fatalf("PutMessage() error = %v", err)
	}
}

func TestSearchEmptyQuery(t *testing.T) {
	t.Parallel()
	svc := New(newTestStore(t), zerolog.Nop())

	_, err := svc.Search(context.Background(), uuid.New(), "   ", nil, 10)
	if !errors.Is(err, ErrEmptyQuery) {
		t.Errorf("Search() error = %v, want ErrEmptyQuery", err)
	}
}

func TestSearchFindsMessageInOpenRoom(t *testing.T) {
	t.Parallel()
	st := newTestStore(t)
	svc := New(st, zerolog.Nop())

	creator := mustUser(t, st, "creator")
	room := mustRoom(t, st, store.RoomOpen, creator)
	mustMessage(t, st, room.ID, creator, "the campfire crackles loudly tonight")

	result, err := svc.Search(context.Background(), uuid.New(), "campfire", nil, 10)
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(result.Hits) != 1 {
		t.Fatalf("len(Hits) = %d, want 1", len(result.Hits))
	}
	if result.Hits[0].Message.RoomID != room.ID {
		t.Errorf("hit room id = %v, want %v", result.Hits[0].Message.RoomID, room.ID)
	}
	if result.Hits[0].Room.ID != room.ID {
		t.Errorf("hit room = %v, want %v", result.Hits[0].Room.ID, room.ID)
	}
	if result.Hits[0].Snippet == "" {
		t.Error("Snippet = \"\", want a non-empty highlighted snippet")
	}
}

func TestSearchExcludesClosedRoomForNonMember(t *testing.T) {
	t.Parallel()
	st := newTestStore(t)
	svc := New(st, zerolog.Nop())

	creator := mustUser(t, st, "creator")
	room := mustRoom(t, st, store.RoomClosed, creator)
	mustMessage(t, st, room.ID, creator, "secret marshmallow recipe")

	outsider := uuid.New()
	result, err := svc.Search(context.Background(), outsider, "marshmallow", nil, 10)
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(result.Hits) != 0 {
		t.Fatalf("len(Hits) = %d, want 0 for non-member of closed room", len(result.Hits))
	}
}

func TestSearchIncludesClosedRoomForMember(t *testing.T) {
	t.Parallel()
	st := newTestStore(t)
	svc := New(st, zerolog.Nop())

	member := mustUser(t, st, "member")
	room := mustRoom(t, st, store.RoomClosed, member)
	mustMessage(t, st, room.ID, member, "secret marshmallow recipe")

	result, err := svc.Search(context.Background(), member, "marshmallow", nil, 10)
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(result.Hits) != 1 {
		t.Fatalf("len(Hits) = %d, want 1", len(result.Hits))
	}
}

func TestSearchNarrowsToRequestedRoom(t *testing.T) {
	t.Parallel()
	st := newTestStore(t)
	svc := New(st, zerolog.Nop())

	creator := mustUser(t, st, "creator")
	roomA := mustRoom(t, st, store.RoomOpen, creator)
	roomB := mustRoom(t, st, store.RoomOpen, creator)
	mustMessage(t, st, roomA.ID, creator, "campfire stories in room a")
	mustMessage(t, st, roomB.ID, creator, "campfire stories in room b")

	result, err := svc.Search(context.Background(), uuid.New(), "campfire", &roomA.ID, 10)
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(result.Hits) != 1 {
		t.Fatalf("len(Hits) = %d, want 1", len(result.Hits))
	}
	if result.Hits[0].Message.RoomID != roomA.ID {
		t.Errorf("hit room id = %v, want %v", result.Hits[0].Message.RoomID, roomA.ID)
	}
}

func TestSearchRoomFilterOutsideReadableScopeYieldsNoHits(t *testing.T) {
	t.Parallel()
	st := newTestStore(t)
	svc := New(st, zerolog.Nop())

	creator := mustUser(t, st, "creator")
	room := mustRoom(t, st, store.RoomClosed, creator)
	mustMessage(t, st, room.ID, creator, "campfire stories")

	outsider := uuid.New()
	result, err := svc.Search(context.Background(), outsider, "campfire", &room.ID, 10)
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(result.Hits) != 0 {
		t.Fatalf("len(Hits) = %d, want 0", len(result.Hits))
	}
}
