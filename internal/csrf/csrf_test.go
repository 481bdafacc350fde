package csrf

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestIssuer(t *testing.T) *Issuer {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return New(client)
}

func TestIssueThenConsumeReturnsSessionToken(t *testing.T) {
	t.Parallel()
	issuer := newTestIssuer(t)
	ctx := context.Background()

	token, err := issuer.Issue(ctx, "session-abc")
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}

	session, err := issuer.Consume(ctx, token)
	if err != nil {
		t.Fatalf("Consume() error = %v", err)
	}
	if session != "session-abc" {
		t.Errorf("Consume() = %q, want %q", session, "session-abc")
	}
}

func TestConsumeIsSingleUse(t *testing.T) {
	t.Parallel()
	issuer := newTestIssuer(t)
	ctx := context.Background()

	token, err := issuer.Issue(ctx, "session-abc")
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}

	if _, err := issuer.Consume(ctx, token); err != nil {
		t.Fatalf("first Consume() error = %v", err)
	}
	if _, err := issuer.Consume(ctx, token); err != ErrInvalidToken {
		t.Errorf("second Consume() error = %v, want ErrInvalidToken", err)
	}
}

func TestConsumeUnknownTokenIsInvalid(t *testing.T) {
	t.Parallel()
	issuer := newTestIssuer(t)

	if _, err := issuer.Consume(context.Background(), "never-issued"); err != ErrInvalidToken {
		t.Errorf("Consume() error = %v, want ErrInvalidToken", err)
	}
}
