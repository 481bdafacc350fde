package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// User mirrors the §3 User entity. A non-empty BotToken marks the row as a bot account.
type User struct {
	ID           uuid.UUID
	Name         string
	Email        string
	PasswordHash string
	IsAdmin      bool
	BotToken     string
	WebhookURL   string
	CreatedAt    time.Time
}

// IsBot reports whether the user is a bot account (§3 invariant: bot_token unique, non-bots have none).
func (u User) IsBot() bool { return u.BotToken != "" }

// CreateUser inserts a new user row. Returns ErrDuplicate if the email is already taken.
func (s *Store) CreateUser(ctx context.Context, u User) (*User, error) {
	u.ID = newID()
	u.CreatedAt = Now()

	err := s.Write(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO users (id, name, email, password_hash, is_admin, bot_token, webhook_url, created_at)
			 VALUES (?, ?, ?, ?, ?, NULLIF(?, ''), NULLIF(?, ''), ?)`,
			u.ID.String(), u.Name, u.Email, u.PasswordHash, boolToInt(u.IsAdmin), u.BotToken, u.WebhookURL,
			u.CreatedAt.UnixMilli(),
		)
		return err
	})
	if err != nil {
		if IsUniqueViolation(err) {
			return nil, ErrDuplicate
		}
		return nil, fmt.Errorf("create user: %w", err)
	}
	return &u, nil
}

// GetUserByID returns a user by id.
func (s *Store) GetUserByID(ctx context.Context, id uuid.UUID) (*User, error) {
	row := s.read.QueryRowContext(ctx,
		`SELECT id, name, email, password_hash, is_admin, COALESCE(bot_token, ''), COALESCE(webhook_url, ''), created_at
		 FROM users WHERE id = ?`, id.String())
	return scanUser(row)
}

// GetUserByEmail looks up a user by case-insensitive email match.
func (s *Store) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	row := s.read.QueryRowContext(ctx,
		`SELECT id, name, email, password_hash, is_admin, COALESCE(bot_token, ''), COALESCE(webhook_url, ''), created_at
		 FROM users WHERE email = ? COLLATE NOCASE`, email)
	return scanUser(row)
}

// GetUserByBotToken looks up the bot account owning the given token.
func (s *Store) GetUserByBotToken(ctx context.Context, token string) (*User, error) {
	row := s.read.QueryRowContext(ctx,
		`SELECT id, name, email, password_hash, is_admin, COALESCE(bot_token, ''), COALESCE(webhook_url, ''), created_at
		 FROM users WHERE bot_token = ?`, token)
	return scanUser(row)
}

func scanUser(row *sql.Row) (*User, error) {
	var u User
	var id string
	var createdAt int64
	var isAdmin int
	if err := row.Scan(&id, &u.Name, &u.Email, &u.PasswordHash, &isAdmin, &u.BotToken, &u.WebhookURL, &createdAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan user: %w", err)
	}
	parsed, err := uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("parse user id: %w", err)
	}
	u.ID = parsed
	u.IsAdmin = isAdmin != 0
	u.CreatedAt = time.UnixMilli(createdAt).UTC()
	return &u, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
