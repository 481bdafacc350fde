package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// RoomType distinguishes the three room kinds described in §3. Open rooms are joinable by any member
// on write (see CanWrite in internal/authz); closed rooms require an explicit membership row; direct
// rooms are fixed two-party memberships created alongside the room itself.
type RoomType string

const (
	RoomOpen   RoomType = "open"
	RoomClosed RoomType = "closed"
	RoomDirect RoomType = "direct"
)

type Room struct {
	ID          uuid.UUID
	Name        string
	Description string
	Type        RoomType
	CreatedAt   time.Time
}

type Role string

const (
	RoleMember Role = "member"
	RoleAdmin  Role = "admin"
)

type Involvement string

const (
	InvolvementEverything Involvement = "everything"
	InvolvementMentions   Involvement = "mentions"
	InvolvementNothing    Involvement = "nothing"
)

type Membership struct {
	RoomID            uuid.UUID
	UserID            uuid.UUID
	Role              Role
	Involvement       Involvement
	LastReadMessageID *uuid.UUID
}

// CreateRoom inserts a room and, atomically, a membership row for each of initialMembers.
func (s *Store) CreateRoom(ctx context.Context, r Room, initialMembers []Membership) (*Room, error) {
	r.ID = newID()
	r.CreatedAt = Now()

	err := s.Write(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO rooms (id, name, description, type, created_at) VALUES (?, ?, ?, ?, ?)`,
			r.ID.String(), r.Name, r.Description, string(r.Type), r.CreatedAt.UnixMilli())
		if err != nil {
			return err
		}
		for _, m := range initialMembers {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO memberships (room_id, user_id, role, involvement, last_read_message_id)
				 VALUES (?, ?, ?, ?, NULL)`,
				r.ID.String(), m.UserID.String(), string(m.Role), string(m.Involvement)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		if IsUniqueViolation(err) {
			return nil, ErrDuplicate
		}
		return nil, fmt.Errorf("create room: %w", err)
	}
	return &r, nil
}

// GetOrCreateDirectRoom returns the Direct room shared by userA and userB, creating it (with both as
// members) if it does not already exist. The pair is keyed in sorted order so (a, b) and (b, a) resolve
// to the same room, matching §3's invariant that a Direct room has exactly two memberships.
func (s *Store) GetOrCreateDirectRoom(ctx context.Context, userA, userB uuid.UUID) (*Room, error) {
	lo, hi := userA.String(), userB.String()
	if hi < lo {
		lo, hi = hi, lo
	}

	var roomID uuid.UUID
	var createdAt time.Time
	err := s.Write(ctx, func(tx *sql.Tx) error {
		var existing string
		err := tx.QueryRowContext(ctx,
			`SELECT room_id FROM direct_room_pairs WHERE user_lo = ? AND user_hi = ?`, lo, hi).Scan(&existing)
		switch {
		case err == nil:
			var createdAtMillis int64
			if err := tx.QueryRowContext(ctx, `SELECT created_at FROM rooms WHERE id = ?`, existing).
				Scan(&createdAtMillis); err != nil {
				return err
			}
			parsed, parseErr := uuid.Parse(existing)
			if parseErr != nil {
				return fmt.Errorf("parse existing direct room id: %w", parseErr)
			}
			roomID = parsed
			createdAt = time.UnixMilli(createdAtMillis).UTC()
			return nil
		case errors.Is(err, sql.ErrNoRows):
			// no existing pair, fall through to create
		default:
			return err
		}

		roomID = newID()
		createdAt = Now()
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO rooms (id, name, description, type, created_at) VALUES (?, '', '', ?, ?)`,
			roomID.String(), string(RoomDirect), createdAt.UnixMilli()); err != nil {
			return err
		}
		for _, uid := range []uuid.UUID{userA, userB} {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO memberships (room_id, user_id, role, involvement, last_read_message_id)
				 VALUES (?, ?, 'member', 'everything', NULL)`,
				roomID.String(), uid.String()); err != nil {
				return err
			}
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO direct_room_pairs (user_lo, user_hi, room_id) VALUES (?, ?, ?)`, lo, hi, roomID.String())
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("get or create direct room: %w", err)
	}

	return &Room{ID: roomID, Type: RoomDirect, CreatedAt: createdAt}, nil
}

// GetRoom returns a room by id.
func (s *Store) GetRoom(ctx context.Context, id uuid.UUID) (*Room, error) {
	row := s.read.QueryRowContext(ctx,
		`SELECT id, name, description, type, created_at FROM rooms WHERE id = ?`, id.String())
	return scanRoom(row)
}

func scanRoom(row *sql.Row) (*Room, error) {
	var r Room
	var id, roomType string
	var createdAt int64
	if err := row.Scan(&id, &r.Name, &r.Description, &roomType, &createdAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan room: %w", err)
	}
	parsed, err := uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("parse room id: %w", err)
	}
	r.ID = parsed
	r.Type = RoomType(roomType)
	r.CreatedAt = time.UnixMilli(createdAt).UTC()
	return &r, nil
}

// GetMembership returns the membership row for (roomID, userID), or ErrNotFound if the user is not a
// member.
func (s *Store) GetMembership(ctx context.Context, roomID, userID uuid.UUID) (*Membership, error) {
	row := s.read.QueryRowContext(ctx,
		`SELECT room_id, user_id, role, involvement, last_read_message_id
		 FROM memberships WHERE room_id = ? AND user_id = ?`, roomID.String(), userID.String())
	return scanMembership(row)
}

func scanMembership(row *sql.Row) (*Membership, error) {
	var m Membership
	var roomID, userID, role, involvement string
	var lastRead sql.NullString
	if err := row.Scan(&roomID, &userID, &role, &involvement, &lastRead); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan membership: %w", err)
	}
	rID, err := uuid.Parse(roomID)
	if err != nil {
		return nil, fmt.Errorf("parse membership room id: %w", err)
	}
	uID, err := uuid.Parse(userID)
	if err != nil {
		return nil, fmt.Errorf("parse membership user id: %w", err)
	}
	m.RoomID = rID
	m.UserID = uID
	m.Role = Role(role)
	m.Involvement = Involvement(involvement)
	if lastRead.Valid {
		id, err := uuid.Parse(lastRead.String)
		if err != nil {
			return nil, fmt.Errorf("parse last read message id: %w", err)
		}
		m.LastReadMessageID = &id
	}
	return &m, nil
}

// Join inserts a membership row for userID in roomID, defaulting to member/everything. Used both by
// the explicit join endpoint and by the join-on-write path for open rooms (§4.D).
func (s *Store) Join(ctx context.Context, roomID, userID uuid.UUID) error {
	err := s.Write(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO memberships (room_id, user_id, role, involvement, last_read_message_id)
			 VALUES (?, ?, 'member', 'everything', NULL)
			 ON CONFLICT (room_id, user_id) DO NOTHING`,
			roomID.String(), userID.String())
		return err
	})
	if err != nil {
		return fmt.Errorf("join room: %w", err)
	}
	return nil
}

// MemberIDs returns every user id holding a membership in roomID.
func (s *Store) MemberIDs(ctx context.Context, roomID uuid.UUID) ([]uuid.UUID, error) {
	rows, err := s.read.QueryContext(ctx, `SELECT user_id FROM memberships WHERE room_id = ?`, roomID.String())
	if err != nil {
		return nil, fmt.Errorf("query member ids: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scan member id: %w", err)
		}
		id, err := uuid.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("parse member id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// MemberNameIndex returns a lowercased-name -> user id map for roomID's membership, used to resolve
// @mentions against a fixed snapshot of the room's membership at send time (§4.G step 4).
func (s *Store) MemberNameIndex(ctx context.Context, roomID uuid.UUID) (map[string]uuid.UUID, error) {
	rows, err := s.read.QueryContext(ctx,
		`SELECT u.id, u.name FROM memberships m JOIN users u ON u.id = m.user_id WHERE m.room_id = ?`,
		roomID.String())
	if err != nil {
		return nil, fmt.Errorf("query member name index: %w", err)
	}
	defer rows.Close()

	index := make(map[string]uuid.UUID)
	for rows.Next() {
		var id, name string
		if err := rows.Scan(&id, &name); err != nil {
			return nil, fmt.Errorf("scan member name index row: %w", err)
		}
		parsed, err := uuid.Parse(id)
		if err != nil {
			return nil, fmt.Errorf("parse member id: %w", err)
		}
		index[strings.ToLower(name)] = parsed
	}
	return index, rows.Err()
}

// ListMemberships returns every membership row for roomID, used by the fan-out step to decide push
// eligibility by involvement setting (§4.G step 7).
func (s *Store) ListMemberships(ctx context.Context, roomID uuid.UUID) ([]Membership, error) {
	rows, err := s.read.QueryContext(ctx,
		`SELECT room_id, user_id, role, involvement, last_read_message_id FROM memberships WHERE room_id = ?`,
		roomID.String())
	if err != nil {
		return nil, fmt.Errorf("list memberships: %w", err)
	}
	defer rows.Close()

	var out []Membership
	for rows.Next() {
		var m Membership
		var rID, uID, role, involvement string
		var lastRead sql.NullString
		if err := rows.Scan(&rID, &uID, &role, &involvement, &lastRead); err != nil {
			return nil, fmt.Errorf("scan membership row: %w", err)
		}
		parsedRoom, err := uuid.Parse(rID)
		if err != nil {
			return nil, fmt.Errorf("parse membership room id: %w", err)
		}
		parsedUser, err := uuid.Parse(uID)
		if err != nil {
			return nil, fmt.Errorf("parse membership user id: %w", err)
		}
		m.RoomID = parsedRoom
		m.UserID = parsedUser
		m.Role = Role(role)
		m.Involvement = Involvement(involvement)
		if lastRead.Valid {
			id, err := uuid.Parse(lastRead.String)
			if err != nil {
				return nil, fmt.Errorf("parse last read message id: %w", err)
			}
			m.LastReadMessageID = &id
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// ListBotMembers returns the bot accounts holding membership in roomID, used to select webhook
// delivery targets for a newly created message (§4.G step 7, §4.H).
func (s *Store) ListBotMembers(ctx context.Context, roomID uuid.UUID) ([]User, error) {
	rows, err := s.read.QueryContext(ctx,
		`SELECT u.id, u.name, u.email, u.password_hash, u.is_admin, COALESCE(u.bot_token, ''), COALESCE(u.webhook_url, ''), u.created_at
		 FROM memberships m JOIN users u ON u.id = m.user_id
		 WHERE m.room_id = ? AND u.bot_token IS NOT NULL`, roomID.String())
	if err != nil {
		return nil, fmt.Errorf("list bot members: %w", err)
	}
	defer rows.Close()

	var out []User
	for rows.Next() {
		var u User
		var id string
		var isAdmin int
		var createdAt int64
		if err := rows.Scan(&id, &u.Name, &u.Email, &u.PasswordHash, &isAdmin, &u.BotToken, &u.WebhookURL, &createdAt); err != nil {
			return nil, fmt.Errorf("scan bot member row: %w", err)
		}
		parsed, err := uuid.Parse(id)
		if err != nil {
			return nil, fmt.Errorf("parse bot member id: %w", err)
		}
		u.ID = parsed
		u.IsAdmin = isAdmin != 0
		u.CreatedAt = time.UnixMilli(createdAt).UTC()
		out = append(out, u)
	}
	return out, rows.Err()
}

// ReadableRoomIDs returns every room userID may read: every open room, plus every closed or direct
// room the user holds a membership in (§4.D's CanRead criteria, flattened for search scoping per
// §4.B).
func (s *Store) ReadableRoomIDs(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error) {
	rows, err := s.read.QueryContext(ctx,
		`SELECT id FROM rooms WHERE type = 'open'
		 UNION
		 SELECT room_id FROM memberships WHERE user_id = ?`, userID.String())
	if err != nil {
		return nil, fmt.Errorf("query readable room ids: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scan readable room id: %w", err)
		}
		id, err := uuid.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("parse readable room id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// SetLastRead updates the caller's read cursor for a room, used after successful message creation.
func (s *Store) SetLastRead(ctx context.Context, roomID, userID, messageID uuid.UUID) error {
	err := s.Write(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`UPDATE memberships SET last_read_message_id = ? WHERE room_id = ? AND user_id = ?`,
			messageID.String(), roomID.String(), userID.String())
		return err
	})
	if err != nil {
		return fmt.Errorf("set last read: %w", err)
	}
	return nil
}
