package connmgr

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/campfire-chat/campfire-server/internal/authz"
	"github.com/campfire-chat/campfire-server/internal/store"
)

func newTestManager(t *testing.T) (*Manager, *store.Store) {
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

	return New(authz.New(st), zerolog.Nop()), st
}

func TestSubscribeRejectsUnauthorizedRoom(t *testing.T) {
	t.Parallel()
	mgr, st := newTestManager(t)
	ctx := context.Background()

	outsider, err := st.CreateUser(ctx, store.User{Name: "outsider", Email: "outsider@example.com", PasswordHash: "x"})
	if err != nil {
		t.Fatalf("CreateUser() error = %v", err)
	}
	room, err := st.CreateRoom(ctx, store.Room{Name: "private", Type: store.RoomClosed}, nil)
	if err != nil {
		t.Fatalf("CreateRoom() error = %v", err)
	}

	c := newConnection(mgr, outsider.ID, nil, zerolog.Nop())
	mgr.mu.Lock()
	mgr.conns[c.id] = c
	mgr.mu.Unlock()

	if err := mgr.Subscribe(c, room.ID); err == nil {
		t.Error("Subscribe() error = nil, want forbidden for non-member of closed room")
	}
}

func TestSubscribePublishPresenceAndClose(t *testing.T) {
	t.Parallel()
	mgr, st := newTestManager(t)
	ctx := context.Background()

	member, err := st.CreateUser(ctx, store.User{Name: "member", Email: "member@example.com", PasswordHash: "x"})
	if err != nil {
		t.Fatalf("CreateUser() error = %v", err)
	}
	room, err := st.CreateRoom(ctx, store.Room{Name: "general", Type: store.RoomOpen}, nil)
	if err != nil {
		t.Fatalf("CreateRoom() error = %v", err)
	}

	c := newConnection(mgr, member.ID, nil, zerolog.Nop())
	mgr.mu.Lock()
	mgr.conns[c.id] = c
	mgr.mu.Unlock()

	if err := mgr.Subscribe(c, room.ID); err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	presence := mgr.Presence(room.ID)
	if len(presence) != 1 || presence[0] != member.ID {
		t.Errorf("Presence() = %v, want [%v]", presence, member.ID)
	}

	mgr.Publish(room.ID, EventMessageCreated, map[string]string{"body": "hi"})
	select {
	case msg := <-c.outbox:
		if len(msg) == 0 {
			t.Error("Publish() enqueued an empty frame")
		}
	default:
		t.Error("Publish() did not enqueue a frame for a subscribed connection")
	}

	mgr.Close(c)
	if mgr.ConnectionCount() != 0 {
		t.Errorf("ConnectionCount() = %d after Close, want 0", mgr.ConnectionCount())
	}
	if presence := mgr.Presence(room.ID); len(presence) != 0 {
		t.Errorf("Presence() after Close = %v, want empty", presence)
	}

	select {
	case <-c.done:
	default:
		t.Error("Close() did not close the connection's done channel")
	}
}

func TestUnsubscribeRemovesFromPresence(t *testing.T) {
	t.Parallel()
	mgr, st := newTestManager(t)
	ctx := context.Background()

	member, err := st.CreateUser(ctx, store.User{Name: "member", Email: "member@example.com", PasswordHash: "x"})
	if err != nil {
		t.Fatalf("CreateUser() error = %v", err)
	}
	room, err := st.CreateRoom(ctx, store.Room{Name: "general", Type: store.RoomOpen}, nil)
	if err != nil {
		t.Fatalf("CreateRoom() error = %v", err)
	}

	c := newConnection(mgr, member.ID, nil, zerolog.Nop())
	mgr.mu.Lock()
	mgr.conns[c.id] = c
	mgr.mu.Unlock()

	if err := mgr.Subscribe(c, room.ID); err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	mgr.Unsubscribe(c, room.ID)

	if presence := mgr.Presence(room.ID); len(presence) != 0 {
		t.Errorf("Presence() after Unsubscribe = %v, want empty", presence)
	}
}

func TestEnqueueFillsOutboxUpToCapacity(t *testing.T) {
	t.Parallel()
	mgr, _ := newTestManager(t)
	c := newConnection(mgr, uuid.New(), nil, zerolog.Nop())
	mgr.mu.Lock()
	mgr.conns[c.id] = c
	mgr.mu.Unlock()

	for i := 0; i < outboxCapacity; i++ {
		c.enqueue([]byte("x"))
	}
	if len(c.outbox) != outboxCapacity {
		t.Errorf("outbox length = %d, want %d", len(c.outbox), outboxCapacity)
	}

	select {
	case <-c.done:
		t.Error("enqueue() closed the connection before the outbox was actually full")
	default:
	}
}
