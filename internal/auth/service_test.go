package auth

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"

	"github.com/campfire-chat/campfire-server/internal/store"
)

func newTestService(t *testing.T) *Service {
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

	svc, err := NewService(st, MinBcryptCost, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewService() error = %v", err)
	}
	return svc
}

func TestServiceRegisterAndLogin(t *testing.T) {
	t.Parallel()
	svc := newTestService(t)
	ctx := context.Background()

	u, sess, err := svc.Register(ctx, "Alice@Example.com", "alice", "correcthorsebattery")
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if u.Email != "alice@example.com" {
		t.Errorf("Register() email = %q, want normalized lowercase", u.Email)
	}
	if sess.UserID != u.ID {
		t.Errorf("Register() session user id = %v, want %v", sess.UserID, u.ID)
	}

	got, err := svc.Authenticate(ctx, sess.Token)
	if err != nil {
		t.Fatalf("Authenticate() error = %v", err)
	}
	if got.ID != u.ID {
		t.Errorf("Authenticate() user id = %v, want %v", got.ID, u.ID)
	}

	_, loginSess, err := svc.Login(ctx, "alice@example.com", "correcthorsebattery")
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	if loginSess.Token == sess.Token {
		t.Error("Login() issued the same token as Register(), want a fresh one")
	}
}

func TestServiceRegisterDuplicateEmail(t *testing.T) {
	t.Parallel()
	svc := newTestService(t)
	ctx := context.Background()

	if _, _, err := svc.Register(ctx, "bob@example.com", "bob", "correcthorsebattery"); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	_, _, err := svc.Register(ctx, "BOB@example.com", "bob2", "anotherpassword")
	if !errors.Is(err, ErrEmailAlreadyTaken) {
		t.Errorf("Register() error = %v, want ErrEmailAlreadyTaken", err)
	}
}

func TestServiceLoginWrongPassword(t *testing.T) {
	t.Parallel()
	svc := newTestService(t)
	ctx := context.Background()

	if _, _, err := svc.Register(ctx, "carol@example.com", "carol", "correcthorsebattery"); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	_, _, err := svc.Login(ctx, "carol@example.com", "wrongpassword")
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("Login() error = %v, want ErrInvalidCredentials", err)
	}
}

func TestServiceLoginUnknownEmail(t *testing.T) {
	t.Parallel()
	svc := newTestService(t)
	ctx := context.Background()

	_, _, err := svc.Login(ctx, "nobody@example.com", "whatever123")
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("Login() error = %v, want ErrInvalidCredentials", err)
	}
}

func TestServiceAuthenticateUnknownToken(t *testing.T) {
	t.Parallel()
	svc := newTestService(t)

	_, err := svc.Authenticate(context.Background(), "not-a-real-token")
	if !errors.Is(err, ErrUnauthorized) {
		t.Errorf("Authenticate() error = %v, want ErrUnauthorized", err)
	}
}

func TestServiceLogout(t *testing.T) {
	t.Parallel()
	svc := newTestService(t)
	ctx := context.Background()

	_, sess, err := svc.Register(ctx, "dana@example.com", "dana", "correcthorsebattery")
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	if err := svc.Logout(ctx, sess.Token); err != nil {
		t.Fatalf("Logout() error = %v", err)
	}

	_, err = svc.Authenticate(ctx, sess.Token)
	if !errors.Is(err, ErrUnauthorized) {
		t.Errorf("Authenticate() after logout error = %v, want ErrUnauthorized", err)
	}
}
