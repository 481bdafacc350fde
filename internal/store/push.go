package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// PushSubscription is a Web Push endpoint registered by a user's browser (§4.H). Keys holds the
// opaque p256dh/auth key material as delivered by the browser; the push dispatcher treats it as an
// opaque blob and never parses it.
type PushSubscription struct {
	ID        uuid.UUID
	UserID    uuid.UUID
	Endpoint  string
	Keys      string
	Stale     bool
	CreatedAt time.Time
}

// CreatePushSubscription registers a new endpoint for userID. Re-registering the same endpoint
// replaces the prior row (browsers rotate subscriptions without tracking the old one).
func (s *Store) CreatePushSubscription(ctx context.Context, userID uuid.UUID, endpoint, keys string) (*PushSubscription, error) {
	sub := &PushSubscription{
		ID:        newID(),
		UserID:    userID,
		Endpoint:  endpoint,
		Keys:      keys,
		CreatedAt: Now(),
	}

	err := s.Write(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM push_subscriptions WHERE user_id = ? AND endpoint = ?`,
			userID.String(), endpoint); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx,
			`INSERT INTO push_subscriptions (id, user_id, endpoint, keys, stale, created_at)
			 VALUES (?, ?, ?, ?, 0, ?)`,
			sub.ID.String(), sub.UserID.String(), sub.Endpoint, sub.Keys, sub.CreatedAt.UnixMilli())
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("create push subscription: %w", err)
	}
	return sub, nil
}

// PushSubscriptionsForUser returns every non-stale subscription registered to userID.
func (s *Store) PushSubscriptionsForUser(ctx context.Context, userID uuid.UUID) ([]PushSubscription, error) {
	rows, err := s.read.QueryContext(ctx,
		`SELECT id, user_id, endpoint, keys, stale, created_at
		 FROM push_subscriptions WHERE user_id = ? AND stale = 0`, userID.String())
	if err != nil {
		return nil, fmt.Errorf("query push subscriptions: %w", err)
	}
	defer rows.Close()

	var subs []PushSubscription
	for rows.Next() {
		sub, err := scanPushSubscriptionRow(rows)
		if err != nil {
			return nil, err
		}
		subs = append(subs, *sub)
	}
	return subs, rows.Err()
}

func scanPushSubscriptionRow(rows *sql.Rows) (*PushSubscription, error) {
	var sub PushSubscription
	var id, userID string
	var stale int
	var createdAt int64
	if err := rows.Scan(&id, &userID, &sub.Endpoint, &sub.Keys, &stale, &createdAt); err != nil {
		return nil, fmt.Errorf("scan push subscription: %w", err)
	}
	parsedID, err := uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("parse push subscription id: %w", err)
	}
	parsedUser, err := uuid.Parse(userID)
	if err != nil {
		return nil, fmt.Errorf("parse push subscription user id: %w", err)
	}
	sub.ID = parsedID
	sub.UserID = parsedUser
	sub.Stale = stale != 0
	sub.CreatedAt = time.UnixMilli(createdAt).UTC()
	return &sub, nil
}

// MarkPushSubscriptionStale flags a subscription as no longer deliverable (e.g. after the push
// service returns 404/410), per the push dispatcher's best-effort delivery contract (§4.H).
func (s *Store) MarkPushSubscriptionStale(ctx context.Context, id uuid.UUID) error {
	err := s.Write(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `UPDATE push_subscriptions SET stale = 1 WHERE id = ?`, id.String())
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return ErrNotFound
		}
		return nil
	})
	if err != nil && !errors.Is(err, ErrNotFound) {
		return fmt.Errorf("mark push subscription stale: %w", err)
	}
	return err
}

// DeleteStalePushSubscriptions removes subscriptions that have been marked stale, returning the count
// removed. Intended for periodic cleanup rather than the hot delivery path.
func (s *Store) DeleteStalePushSubscriptions(ctx context.Context) (int64, error) {
	var n int64
	err := s.Write(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM push_subscriptions WHERE stale = 1`)
		if err != nil {
			return err
		}
		n, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("delete stale push subscriptions: %w", err)
	}
	return n, nil
}
