package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// SnippetOpenMarker and SnippetCloseMarker delimit the highlighted span inside a SearchResult.Snippet.
// They use private-use-area code points rather than literal markup so the sanitizer's HTML policy
// can't strip them before the caller converts them to real markup (§4.J step 3).
const (
	SnippetOpenMarker  = ""
	SnippetCloseMarker = ""
)

// Message mirrors the §3 Message entity. Mentions is the resolved set of user ids the sanitizer
// extracted from the body; SoundCommand is the `/play <name>` command name, if any (§4.G).
type Message struct {
	ID           uuid.UUID
	RoomID       uuid.UUID
	CreatorID    uuid.UUID
	Body         string
	CreatedAt    time.Time
	DeletedAt    *time.Time
	Mentions     []uuid.UUID
	SoundCommand string
}

// PutMessage inserts msg, keyed by the client-supplied (RoomID, ID) pair, and keeps messages_fts in
// sync within the same transaction (§4.B). Idempotency per §4.A: if a row already exists with that key
// and an identical body/creator, ErrDuplicate is returned (the caller already succeeded once, most
// likely a retried request); if it exists with a different payload, ErrConflict is returned (the id was
// reused for different content, which is a client error rather than a retry).
func (s *Store) PutMessage(ctx context.Context, msg Message) (*Message, error) {
	if msg.ID == uuid.Nil {
		msg.ID = newID()
	}
	msg.CreatedAt = Now()

	mentionsJSON, err := json.Marshal(mentionsOrEmpty(msg.Mentions))
	if err != nil {
		return nil, fmt.Errorf("marshal mentions: %w", err)
	}

	var result Message
	err = s.Write(ctx, func(tx *sql.Tx) error {
		existing, err := loadMessageTx(ctx, tx, msg.RoomID, msg.ID)
		if err != nil && !errors.Is(err, ErrNotFound) {
			return err
		}
		if err == nil {
			if existing.Body == msg.Body && existing.CreatorID == msg.CreatorID {
				result = *existing
				return ErrDuplicate
			}
			return ErrConflict
		}

		res, err := tx.ExecContext(ctx,
			`INSERT INTO messages (id, room_id, creator_id, body, created_at, deleted_at, mentions, sound_command)
			 VALUES (?, ?, ?, ?, ?, NULL, ?, NULLIF(?, ''))`,
			msg.ID.String(), msg.RoomID.String(), msg.CreatorID.String(), msg.Body, msg.CreatedAt.UnixMilli(),
			string(mentionsJSON), msg.SoundCommand)
		if err != nil {
			return err
		}
		rowid, err := res.LastInsertId()
		if err != nil {
			return fmt.Errorf("last insert id: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO messages_fts (rowid, body) VALUES (?, ?)`, rowid, msg.Body); err != nil {
			return fmt.Errorf("index message: %w", err)
		}

		result = msg
		return nil
	})
	if errors.Is(err, ErrDuplicate) {
		return &result, ErrDuplicate
	}
	if errors.Is(err, ErrConflict) {
		return nil, ErrConflict
	}
	if err != nil {
		return nil, fmt.Errorf("put message: %w", err)
	}
	return &result, nil
}

// GetMessage returns a single message by (roomID, id), including soft-deleted rows.
func (s *Store) GetMessage(ctx context.Context, roomID, id uuid.UUID) (*Message, error) {
	row := s.read.QueryRowContext(ctx,
		`SELECT id, room_id, creator_id, body, created_at, deleted_at, mentions, COALESCE(sound_command, '')
		 FROM messages WHERE room_id = ? AND id = ?`, roomID.String(), id.String())
	return scanMessage(row)
}

func loadMessageTx(ctx context.Context, tx *sql.Tx, roomID, id uuid.UUID) (*Message, error) {
	row := tx.QueryRowContext(ctx,
		`SELECT id, room_id, creator_id, body, created_at, deleted_at, mentions, COALESCE(sound_command, '')
		 FROM messages WHERE room_id = ? AND id = ?`, roomID.String(), id.String())
	return scanMessage(row)
}

func scanMessage(row *sql.Row) (*Message, error) {
	var m Message
	var id, roomID, creatorID, mentionsJSON string
	var createdAt int64
	var deletedAt sql.NullInt64
	if err := row.Scan(&id, &roomID, &creatorID, &m.Body, &createdAt, &deletedAt, &mentionsJSON, &m.SoundCommand); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan message: %w", err)
	}

	parsedID, err := uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("parse message id: %w", err)
	}
	parsedRoom, err := uuid.Parse(roomID)
	if err != nil {
		return nil, fmt.Errorf("parse message room id: %w", err)
	}
	parsedCreator, err := uuid.Parse(creatorID)
	if err != nil {
		return nil, fmt.Errorf("parse message creator id: %w", err)
	}

	m.ID = parsedID
	m.RoomID = parsedRoom
	m.CreatorID = parsedCreator
	m.CreatedAt = time.UnixMilli(createdAt).UTC()
	if deletedAt.Valid {
		t := time.UnixMilli(deletedAt.Int64).UTC()
		m.DeletedAt = &t
	}
	var mentions []uuid.UUID
	if err := json.Unmarshal([]byte(mentionsJSON), &mentions); err != nil {
		return nil, fmt.Errorf("unmarshal mentions: %w", err)
	}
	m.Mentions = mentions
	return &m, nil
}

func mentionsOrEmpty(ids []uuid.UUID) []uuid.UUID {
	if ids == nil {
		return []uuid.UUID{}
	}
	return ids
}

// MessagePage is a cursor-paginated slice of room history, newest first (§4.A).
type MessagePage struct {
	Messages   []Message
	NextCursor string
	HasMore    bool
}

// ListMessages returns up to limit non-deleted messages in roomID older than the cursor, ordered
// newest first. An empty cursor starts from the most recent message.
func (s *Store) ListMessages(ctx context.Context, roomID uuid.UUID, cursor string, limit int) (*MessagePage, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}

	var rows *sql.Rows
	var err error
	if cursor == "" {
		rows, err = s.read.QueryContext(ctx,
			`SELECT id, room_id, creator_id, body, created_at, deleted_at, mentions, COALESCE(sound_command, '')
			 FROM messages WHERE room_id = ? AND deleted_at IS NULL
			 ORDER BY created_at DESC, id DESC LIMIT ?`, roomID.String(), limit+1)
	} else {
		createdAt, id, decodeErr := decodeMessageCursor(cursor)
		if decodeErr != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidArgument, decodeErr)
		}
		rows, err = s.read.QueryContext(ctx,
			`SELECT id, room_id, creator_id, body, created_at, deleted_at, mentions, COALESCE(sound_command, '')
			 FROM messages WHERE room_id = ? AND deleted_at IS NULL
			   AND (created_at < ? OR (created_at = ? AND id < ?))
			 ORDER BY created_at DESC, id DESC LIMIT ?`,
			roomID.String(), createdAt, createdAt, id, limit+1)
	}
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	var msgs []Message
	for rows.Next() {
		m, err := scanMessageRows(rows)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, *m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}

	page := &MessagePage{Messages: msgs}
	if len(msgs) > limit {
		page.Messages = msgs[:limit]
		page.HasMore = true
		last := page.Messages[len(page.Messages)-1]
		page.NextCursor = encodeMessageCursor(last.CreatedAt, last.ID)
	}
	return page, nil
}

func scanMessageRows(rows *sql.Rows) (*Message, error) {
	var m Message
	var id, roomID, creatorID, mentionsJSON string
	var createdAt int64
	var deletedAt sql.NullInt64
	if err := rows.Scan(&id, &roomID, &creatorID, &m.Body, &createdAt, &deletedAt, &mentionsJSON, &m.SoundCommand); err != nil {
		return nil, fmt.Errorf("scan message row: %w", err)
	}
	parsedID, err := uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("parse message id: %w", err)
	}
	parsedRoom, err := uuid.Parse(roomID)
	if err != nil {
		return nil, fmt.Errorf("parse message room id: %w", err)
	}
	parsedCreator, err := uuid.Parse(creatorID)
	if err != nil {
		return nil, fmt.Errorf("parse message creator id: %w", err)
	}
	m.ID = parsedID
	m.RoomID = parsedRoom
	m.CreatorID = parsedCreator
	m.CreatedAt = time.UnixMilli(createdAt).UTC()
	if deletedAt.Valid {
		t := time.UnixMilli(deletedAt.Int64).UTC()
		m.DeletedAt = &t
	}
	var mentions []uuid.UUID
	if err := json.Unmarshal([]byte(mentionsJSON), &mentions); err != nil {
		return nil, fmt.Errorf("unmarshal mentions: %w", err)
	}
	m.Mentions = mentions
	return &m, nil
}

func encodeMessageCursor(t time.Time, id uuid.UUID) string {
	return fmt.Sprintf("%d_%s", t.UnixMilli(), id.String())
}

func decodeMessageCursor(cursor string) (int64, string, error) {
	var millis int64
	var id string
	n, err := fmt.Sscanf(cursor, "%d_%s", &millis, &id)
	if err != nil || n != 2 {
		return 0, "", fmt.Errorf("malformed cursor %q", cursor)
	}
	if _, err := uuid.Parse(id); err != nil {
		return 0, "", fmt.Errorf("malformed cursor id %q: %w", id, err)
	}
	return millis, id, nil
}

// SoftDeleteMessage marks a message deleted and removes it from the FTS index, preserving the row for
// audit/history purposes (§4.A "soft delete").
func (s *Store) SoftDeleteMessage(ctx context.Context, roomID, id uuid.UUID) error {
	err := s.Write(ctx, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx, `SELECT rowid FROM messages WHERE room_id = ? AND id = ? AND deleted_at IS NULL`,
			roomID.String(), id.String())
		var rowid int64
		if err := row.Scan(&rowid); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrNotFound
			}
			return err
		}

		if _, err := tx.ExecContext(ctx, `UPDATE messages SET deleted_at = ? WHERE rowid = ?`, Now().UnixMilli(), rowid); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `INSERT INTO messages_fts (messages_fts, rowid, body) VALUES ('delete', ?, (SELECT body FROM messages WHERE rowid = ?))`, rowid, rowid)
		return err
	})
	if err != nil {
		return fmt.Errorf("soft delete message: %w", err)
	}
	return nil
}

// SearchResult pairs a matching message with its FTS5 bm25 rank (lower is more relevant) and a
// server-computed highlighted snippet of the match (§4.J step 3).
type SearchResult struct {
	Message Message
	Rank    float64
	Snippet string
}

// SearchMessages runs a full-text query scoped to roomIDs (the caller's readable rooms, per §4.B's
// authorization-before-search requirement), ranked by FTS5's bm25.
func (s *Store) SearchMessages(ctx context.Context, query string, roomIDs []uuid.UUID, limit int) ([]SearchResult, error) {
	if len(roomIDs) == 0 {
		return nil, nil
	}
	if limit <= 0 || limit > 100 {
		limit = 20
	}

	placeholders := make([]byte, 0, len(roomIDs)*2)
	args := make([]any, 0, len(roomIDs)+2)
	args = append(args, query)
	for i, id := range roomIDs {
		if i > 0 {
			placeholders = append(placeholders, ',')
		}
		placeholders = append(placeholders, '?')
		args = append(args, id.String())
	}
	args = append(args, limit)

	q := fmt.Sprintf(`
		SELECT m.id, m.room_id, m.creator_id, m.body, m.created_at, m.deleted_at, m.mentions,
		       COALESCE(m.sound_command, ''), bm25(messages_fts) AS rank,
		       snippet(messages_fts, 0, '` + SnippetOpenMarker + `', '` + SnippetCloseMarker + `', '…', 10) AS snippet
		FROM messages_fts
		JOIN messages m ON m.rowid = messages_fts.rowid
		WHERE messages_fts MATCH ? AND m.deleted_at IS NULL AND m.room_id IN (%s)
		ORDER BY rank LIMIT ?`, string(placeholders))

	rows, err := s.read.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("search messages: %w", err)
	}
	defer rows.Close()

	var results []SearchResult
	for rows.Next() {
		var m Message
		var id, roomID, creatorID, mentionsJSON string
		var createdAt int64
		var deletedAt sql.NullInt64
		var rank float64
		var snippet string
		if err := rows.Scan(&id, &roomID, &creatorID, &m.Body, &createdAt, &deletedAt, &mentionsJSON, &m.SoundCommand, &rank, &snippet); err != nil {
			return nil, fmt.Errorf("scan search result: %w", err)
		}
		parsedID, err := uuid.Parse(id)
		if err != nil {
			return nil, fmt.Errorf("parse message id: %w", err)
		}
		parsedRoom, err := uuid.Parse(roomID)
		if err != nil {
			return nil, fmt.Errorf("parse message room id: %w", err)
		}
		parsedCreator, err := uuid.Parse(creatorID)
		if err != nil {
			return nil, fmt.Errorf("parse message creator id: %w", err)
		}
		m.ID = parsedID
		m.RoomID = parsedRoom
		m.CreatorID = parsedCreator
		m.CreatedAt = time.UnixMilli(createdAt).UTC()
		if deletedAt.Valid {
			t := time.UnixMilli(deletedAt.Int64).UTC()
			m.DeletedAt = &t
		}
		var mentions []uuid.UUID
		if err := json.Unmarshal([]byte(mentionsJSON), &mentions); err != nil {
			return nil, fmt.Errorf("unmarshal mentions: %w", err)
		}
		m.Mentions = mentions
		results = append(results, SearchResult{Message: m, Rank: rank, Snippet: snippet})
	}
	return results, rows.Err()
}
