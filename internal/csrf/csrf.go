// Package csrf implements §6's one-shot CSRF tokens: issued via GET /api/security/csrf-token and
// required as X-CSRF-Token on state-changing, browser-session requests. Tokens are single-use and
// expire after 1h.
package csrf

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// TTL is how long an issued token remains valid if never consumed.
const TTL = time.Hour

// ErrInvalidToken is returned when a token does not exist, has already been consumed, or has expired.
var ErrInvalidToken = errors.New("invalid or expired csrf token")

func tokenKey(token string) string {
	return "csrf_token:" + token
}

// Issuer issues and consumes one-shot CSRF tokens, scoped to the session that requested them.
type Issuer struct {
	rdb *redis.Client
}

func New(rdb *redis.Client) *Issuer {
	return &Issuer{rdb: rdb}
}

// Issue generates a new token bound to sessionToken and stores it with TTL as a one-shot ticket: a
// short-lived Redis key deleted atomically on first use.
func (i *Issuer) Issue(ctx context.Context, sessionToken string) (string, error) {
	token := uuid.New().String()

	if err := i.rdb.Set(ctx, tokenKey(token), sessionToken, TTL).Err(); err != nil {
		return "", fmt.Errorf("store csrf token: %w", err)
	}
	return token, nil
}

// Consume atomically reads and deletes token, returning the session token it was issued for. A token
// can only be consumed once; a second call with the same token returns ErrInvalidToken.
func (i *Issuer) Consume(ctx context.Context, token string) (string, error) {
	val, err := i.rdb.GetDel(ctx, tokenKey(token)).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrInvalidToken
	}
	if err != nil {
		return "", fmt.Errorf("consume csrf token: %w", err)
	}
	return val, nil
}
