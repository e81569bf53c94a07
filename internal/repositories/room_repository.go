package repositories

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"groupchat-service/internal/models"
)

var (
	ErrRoomNotFound = errors.New("room not found")
	ErrSelfDirect   = errors.New("cannot create direct room with self")
)

// RoomRepository abstracts chat room persistence.
type RoomRepository interface {
	GetOrCreateGroupRoom(ctx context.Context, groupID uuid.UUID, creatorID uuid.UUID) (models.ChatRoom, bool, error)
	GetOrCreateDirectRoom(ctx context.Context, groupID uuid.UUID, userA uuid.UUID, userB uuid.UUID) (models.ChatRoom, bool, error)
	GetRoom(ctx context.Context, roomID uuid.UUID) (models.ChatRoom, error)
	CanAccess(ctx context.Context, roomID uuid.UUID, userID uuid.UUID) (bool, error)
	ListRoomsForUser(ctx context.Context, userID uuid.UUID) ([]models.RoomSummary, error)
}

// RoomRepo is a sqlx implementation of RoomRepository.
type RoomRepo struct {
	db *sqlx.DB
}

// NewRoomRepo constructs a RoomRepo.
func NewRoomRepo(db *sqlx.DB) *RoomRepo {
	return &RoomRepo{db: db}
}

const roomColumns = `id, type, name, group_id, user_low, user_high, created_by, created_at, updated_at`

// GetOrCreateGroupRoom returns the group's room, creating it if absent. Concurrent
// callers converge on one row through the partial unique index on group_id; the
// loser's insert is a no-op and it reads the winner's row. The bool reports creation.
func (r *RoomRepo) GetOrCreateGroupRoom(ctx context.Context, groupID uuid.UUID, creatorID uuid.UUID) (models.ChatRoom, bool, error) {
	var room models.ChatRoom
	created := false
	err := withTx(ctx, r.db, func(tx *sqlx.Tx) error {
		rows, err := tx.QueryxContext(ctx, `INSERT INTO chat_rooms (type, name, group_id, created_by)
            SELECT 'group', g.name, g.id, $2 FROM groups g WHERE g.id=$1
            ON CONFLICT (group_id) WHERE type = 'group' DO NOTHING
            RETURNING `+roomColumns, groupID, creatorID)
		if err != nil {
			return err
		}
		created, err = scanOptionalRoom(rows, &room)
		if err != nil || created {
			return err
		}
		err = tx.GetContext(ctx, &room, `SELECT `+roomColumns+` FROM chat_rooms WHERE group_id=$1 AND type='group'`, groupID)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrGroupNotFound
		}
		return err
	})
	return room, created, err
}

// GetOrCreateDirectRoom returns the direct room of the unordered pair within the
// group, creating it together with both participants' room memberships.
func (r *RoomRepo) GetOrCreateDirectRoom(ctx context.Context, groupID uuid.UUID, userA uuid.UUID, userB uuid.UUID) (models.ChatRoom, bool, error) {
	if userA == userB {
		return models.ChatRoom{}, false, ErrSelfDirect
	}
	low, high := models.DirectPair(userA, userB)

	var room models.ChatRoom
	created := false
	err := withTx(ctx, r.db, func(tx *sqlx.Tx) error {
		rows, err := tx.QueryxContext(ctx, `INSERT INTO chat_rooms (type, group_id, user_low, user_high, created_by)
            VALUES ('direct', $1, $2, $3, $4)
            ON CONFLICT (group_id, user_low, user_high) WHERE type = 'direct' DO NOTHING
            RETURNING `+roomColumns, groupID, low, high, userA)
		if err != nil {
			return err
		}
		created, err = scanOptionalRoom(rows, &room)
		if err != nil {
			return err
		}
		if !created {
			if err := tx.GetContext(ctx, &room, `SELECT `+roomColumns+` FROM chat_rooms
                WHERE group_id=$1 AND user_low=$2 AND user_high=$3 AND type='direct'`, groupID, low, high); err != nil {
				return err
			}
		}
		for _, id := range []uuid.UUID{low, high} {
			if _, err := tx.ExecContext(ctx, `INSERT INTO chat_room_members (room_id, user_id) VALUES ($1, $2)
                ON CONFLICT (room_id, user_id) DO NOTHING`, room.ID, id); err != nil {
				return err
			}
		}
		return nil
	})
	return room, created, err
}

func scanOptionalRoom(rows *sqlx.Rows, room *models.ChatRoom) (bool, error) {
	defer rows.Close()
	if !rows.Next() {
		return false, rows.Err()
	}
	if err := rows.StructScan(room); err != nil {
		return false, err
	}
	return true, rows.Err()
}

// GetRoom fetches a room by id.
func (r *RoomRepo) GetRoom(ctx context.Context, roomID uuid.UUID) (models.ChatRoom, error) {
	var room models.ChatRoom
	err := r.db.GetContext(ctx, &room, `SELECT `+roomColumns+` FROM chat_rooms WHERE id=$1`, roomID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.ChatRoom{}, ErrRoomNotFound
	}
	return room, err
}

// CanAccess checks whether the user may read and write the room: group rooms
// derive access from group membership, direct rooms from room membership.
func (r *RoomRepo) CanAccess(ctx context.Context, roomID uuid.UUID, userID uuid.UUID) (bool, error) {
	var ok bool
	err := r.db.GetContext(ctx, &ok, roomAccessQuery, roomID, userID)
	return ok, err
}

const roomAccessQuery = `SELECT EXISTS(
        SELECT 1 FROM chat_rooms c
        WHERE c.id=$1 AND (
            (c.type='group' AND EXISTS(SELECT 1 FROM group_members gm WHERE gm.group_id=c.group_id AND gm.user_id=$2))
            OR (c.type='direct' AND EXISTS(SELECT 1 FROM chat_room_members rm WHERE rm.room_id=c.id AND rm.user_id=$2))
        ))`

// RoomAudience returns the users who can see the room: every group member for
// a group room, both participants for a direct room.
func (r *RoomRepo) RoomAudience(ctx context.Context, roomID uuid.UUID) ([]uuid.UUID, error) {
	var users []uuid.UUID
	err := r.db.SelectContext(ctx, &users, `SELECT gm.user_id FROM chat_rooms c
            JOIN group_members gm ON gm.group_id = c.group_id
            WHERE c.id=$1 AND c.type='group'
        UNION
        SELECT rm.user_id FROM chat_rooms c
            JOIN chat_room_members rm ON rm.room_id = c.id
            WHERE c.id=$1 AND c.type='direct'`, roomID)
	return users, err
}

type roomSummaryRow struct {
	models.ChatRoom
	LastID        *uuid.UUID          `db:"last_id"`
	LastSender    *uuid.UUID          `db:"last_sender_id"`
	LastContent   *string             `db:"last_content"`
	LastType      *models.MessageType `db:"last_message_type"`
	LastCreatedAt sql.NullTime        `db:"last_created_at"`
	LastEditedAt  sql.NullTime        `db:"last_edited_at"`
	OtherID       *uuid.UUID          `db:"other_id"`
	OtherName     *string             `db:"other_display_name"`
	OtherEmail    *string             `db:"other_email"`
}

// ListRoomsForUser returns rooms visible to the user, most recently active first,
// with the last message and, for direct rooms, the other participant.
func (r *RoomRepo) ListRoomsForUser(ctx context.Context, userID uuid.UUID) ([]models.RoomSummary, error) {
	query := `SELECT c.id, c.type, c.name, c.group_id, c.user_low, c.user_high, c.created_by, c.created_at, c.updated_at,
            lm.id AS last_id, lm.sender_id AS last_sender_id, lm.content AS last_content,
            lm.message_type AS last_message_type, lm.created_at AS last_created_at, lm.edited_at AS last_edited_at,
            o.user_id AS other_id, o.display_name AS other_display_name, o.email AS other_email
        FROM chat_rooms c
        LEFT JOIN LATERAL (
            SELECT m.id, m.sender_id, m.content, m.message_type, m.created_at, m.edited_at FROM messages m
            WHERE m.room_id = c.id ORDER BY m.created_at DESC, m.id DESC LIMIT 1
        ) lm ON TRUE
        LEFT JOIN LATERAL (
            SELECT rm.user_id, COALESCE(p.display_name, '') AS display_name, COALESCE(p.email, '') AS email
            FROM chat_room_members rm LEFT JOIN profiles p ON p.user_id = rm.user_id
            WHERE c.type = 'direct' AND rm.room_id = c.id AND rm.user_id <> $1 LIMIT 1
        ) o ON TRUE
        WHERE (c.type='group' AND EXISTS(SELECT 1 FROM group_members gm WHERE gm.group_id=c.group_id AND gm.user_id=$1))
            OR (c.type='direct' AND EXISTS(SELECT 1 FROM chat_room_members rm WHERE rm.room_id=c.id AND rm.user_id=$1))
        ORDER BY c.updated_at DESC`

	var rows []roomSummaryRow
	if err := r.db.SelectContext(ctx, &rows, query, userID); err != nil {
		return nil, err
	}

	result := make([]models.RoomSummary, 0, len(rows))
	for _, row := range rows {
		summary := models.RoomSummary{ChatRoom: row.ChatRoom}
		if row.LastID != nil {
			msg := models.Message{ID: *row.LastID, RoomID: row.ID, Content: deref(row.LastContent), CreatedAt: row.LastCreatedAt.Time}
			if row.LastSender != nil {
				msg.SenderID = *row.LastSender
			}
			if row.LastType != nil {
				msg.MessageType = *row.LastType
			}
			if row.LastEditedAt.Valid {
				edited := row.LastEditedAt.Time
				msg.EditedAt = &edited
			}
			summary.LastMessage = &msg
		}
		if row.OtherID != nil {
			summary.OtherUser = &models.Profile{UserID: *row.OtherID, DisplayName: deref(row.OtherName), Email: deref(row.OtherEmail)}
		}
		result = append(result, summary)
	}
	return result, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
