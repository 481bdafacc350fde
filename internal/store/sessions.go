package store

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Session is an opaque bearer token bound to a user (§3). Tokens are CSPRNG-generated and never
// reused; Resolve rejects expired tokens rather than silently refreshing them.
type Session struct {
	Token     string
	UserID    uuid.UUID
	CreatedAt time.Time
	ExpiresAt time.Time
}

// SessionTTL is the lifetime of a freshly minted session (§4.C).
const SessionTTL = 30 * 24 * time.Hour

// NewSessionToken generates a URL-safe, 256-bit random session token.
func NewSessionToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate session token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// CreateSession persists a new session for userID, expiring SessionTTL from now.
func (s *Store) CreateSession(ctx context.Context, userID uuid.UUID) (*Session, error) {
	token, err := NewSessionToken()
	if err != nil {
		return nil, err
	}
	now := Now()
	sess := &Session{
		Token:     token,
		UserID:    userID,
		CreatedAt: now,
		ExpiresAt: now.Add(SessionTTL),
	}

	err = s.Write(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO sessions (token, user_id, created_at, expires_at) VALUES (?, ?, ?, ?)`,
			sess.Token, sess.UserID.String(), sess.CreatedAt.UnixMilli(), sess.ExpiresAt.UnixMilli())
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	return sess, nil
}

// ResolveSession looks up a session by token and validates it has not expired. Expired sessions are
// reported as ErrSessionExpired rather than ErrNotFound so callers can distinguish "never existed"
// from "existed but timed out" for logging purposes.
func (s *Store) ResolveSession(ctx context.Context, token string) (*Session, error) {
	row := s.read.QueryRowContext(ctx,
		`SELECT token, user_id, created_at, expires_at FROM sessions WHERE token = ?`, token)

	var sess Session
	var userID string
	var createdAt, expiresAt int64
	if err := row.Scan(&sess.Token, &userID, &createdAt, &expiresAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrSessionUnknown
		}
		return nil, fmt.Errorf("scan session: %w", err)
	}
	parsed, err := uuid.Parse(userID)
	if err != nil {
		return nil, fmt.Errorf("parse session user id: %w", err)
	}
	sess.UserID = parsed
	sess.CreatedAt = time.UnixMilli(createdAt).UTC()
	sess.ExpiresAt = time.UnixMilli(expiresAt).UTC()

	if Now().After(sess.ExpiresAt) {
		return nil, ErrSessionExpired
	}
	return &sess, nil
}

// RevokeSession deletes a session by token. Revoking an unknown token is not an error (idempotent logout).
func (s *Store) RevokeSession(ctx context.Context, token string) error {
	return s.Write(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `DELETE FROM sessions WHERE token = ?`, token)
		return err
	})
}

// PruneExpiredSessions deletes all sessions whose expiry has passed, returning the count removed.
// Intended to be called periodically from a maintenance goroutine.
func (s *Store) PruneExpiredSessions(ctx context.Context) (int64, error) {
	var n int64
	err := s.Write(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM sessions WHERE expires_at < ?`, Now().UnixMilli())
		if err != nil {
			return err
		}
		n, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("prune expired sessions: %w", err)
	}
	return n, nil
}
