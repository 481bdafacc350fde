package push

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

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

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestDispatchDeliversToSubscription(t *testing.T) {
	t.Parallel()
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	st := newTestStore(t)
	user, err := st.CreateUser(context.Background(), store.User{Name: "alice", Email: "alice@example.com", PasswordHash: "x"})
	if err != nil {
		t.Fatalf("CreateUser() error = %v", err)
	}
	if _, err := st.CreatePushSubscription(context.Background(), user.ID, srv.URL, "keys"); err != nil {
		t.Fatalf("CreatePushSubscription() error = %v", err)
	}

	d := New(DefaultConfig(), st, zerolog.Nop())
	d.Dispatch(user.ID, store.Message{ID: uuid.New(), RoomID: uuid.New(), CreatorID: uuid.New(), Body: "hi"})

	waitFor(t, func() bool { return hits.Load() == 1 })
}

func TestDispatchMarksSubscriptionStaleOn410(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusGone)
	}))
	defer srv.Close()

	st := newTestStore(t)
	user, err := st.CreateUser(context.Background(), store.User{Name: "alice", Email: "alice@example.com", PasswordHash: "x"})
	if err != nil {
		t.Fatalf("CreateUser() error = %v", err)
	}
	sub, err := st.CreatePushSubscription(context.Background(), user.ID, srv.URL, "keys")
	if err != nil {
		t.Fatalf("CreatePushSubscription() error = %v", err)
	}

	d := New(DefaultConfig(), st, zerolog.Nop())
	d.Dispatch(user.ID, store.Message{ID: uuid.New(), RoomID: uuid.New(), CreatorID: uuid.New(), Body: "hi"})

	waitFor(t, func() bool {
		subs, err := st.PushSubscriptionsForUser(context.Background(), user.ID)
		if err != nil {
			t.Fatalf("PushSubscriptionsForUser() error = %v", err)
		}
		for _, s := range subs {
			if s.ID == sub.ID {
				return false
			}
		}
		return true
	})
}

func TestDispatchMarksStaleAfterRepeatedFailures(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	st := newTestStore(t)
	user, err := st.CreateUser(context.Background(), store.User{Name: "alice", Email: "alice@example.com", PasswordHash: "x"})
	if err != nil {
		t.Fatalf("CreateUser() error = %v", err)
	}
	if _, err := st.CreatePushSubscription(context.Background(), user.ID, srv.URL, "keys"); err != nil {
		t.Fatalf("CreatePushSubscription() error = %v", err)
	}

	cfg := DefaultConfig()
	cfg.StaleFailureThreshold = 2
	d := New(cfg, st, zerolog.Nop())

	for i := 0; i < 2; i++ {
		d.Dispatch(user.ID, store.Message{ID: uuid.New(), RoomID: uuid.New(), CreatorID: uuid.New(), Body: "hi"})
		time.Sleep(50 * time.Millisecond)
	}

	waitFor(t, func() bool {
		subs, err := st.PushSubscriptionsForUser(context.Background(), user.ID)
		if err != nil {
			t.Fatalf("PushSubscriptionsForUser() error = %v", err)
		}
		return len(subs) == 0
	})
}
