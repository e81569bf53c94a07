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
	ErrMessageNotFound = errors.New("message not found")
	ErrNotRoomMember   = errors.New("sender is not a room member")
)

// MessageRepository defines interactions for room messages.
type MessageRepository interface {
	SendMessage(ctx context.Context, in SendParams) (models.Message, error)
	ListMessages(ctx context.Context, roomID uuid.UUID, limit int, before *models.Cursor) ([]models.Message, error)
	GetMessage(ctx context.Context, messageID uuid.UUID) (models.Message, error)
	EditMessage(ctx context.Context, messageID uuid.UUID, senderID uuid.UUID, content string) (models.Message, error)
	DeleteMessage(ctx context.Context, messageID uuid.UUID, senderID uuid.UUID) error
}

// SendParams describes one message to persist.
type SendParams struct {
	RoomID    uuid.UUID
	SenderID  uuid.UUID
	Content   string
	Type      models.MessageType
	ClientRef *uuid.UUID
}

// MessageRepo is a sqlx-backed repository.
type MessageRepo struct {
	db *sqlx.DB
}

// NewMessageRepo constructs MessageRepo.
func NewMessageRepo(db *sqlx.DB) *MessageRepo {
	return &MessageRepo{db: db}
}

const messageColumns = `id, room_id, sender_id, content, message_type, client_ref, edited_at, created_at`

// SendMessage is the atomic send procedure. The room row is locked for the
// duration so created_at stays non-decreasing per room, membership is checked
// at send time, and a repeated client_ref returns the already stored message.
func (r *MessageRepo) SendMessage(ctx context.Context, in SendParams) (models.Message, error) {
	var msg models.Message
	err := withTx(ctx, r.db, func(tx *sqlx.Tx) error {
		var roomID uuid.UUID
		err := tx.GetContext(ctx, &roomID, `SELECT id FROM chat_rooms WHERE id=$1 FOR UPDATE`, in.RoomID)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrRoomNotFound
		}
		if err != nil {
			return err
		}

		var member bool
		if err := tx.GetContext(ctx, &member, roomAccessQuery, in.RoomID, in.SenderID); err != nil {
			return err
		}
		if !member {
			return ErrNotRoomMember
		}

		if in.ClientRef != nil {
			err := tx.GetContext(ctx, &msg, `SELECT `+messageColumns+` FROM messages WHERE room_id=$1 AND sender_id=$2 AND client_ref=$3`, in.RoomID, in.SenderID, *in.ClientRef)
			if err == nil {
				return nil
			}
			if !errors.Is(err, sql.ErrNoRows) {
				return err
			}
		}

		if err := tx.GetContext(ctx, &msg, `INSERT INTO messages (room_id, sender_id, content, message_type, client_ref, created_at)
            VALUES ($1, $2, $3, $4, $5, GREATEST(NOW(), COALESCE((SELECT MAX(created_at) FROM messages WHERE room_id=$1), NOW())))
            RETURNING `+messageColumns, in.RoomID, in.SenderID, in.Content, in.Type, in.ClientRef); err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `UPDATE chat_rooms SET updated_at=NOW() WHERE id=$1`, in.RoomID)
		return err
	})
	return msg, err
}

// ListMessages returns up to limit messages ordered before the cursor (all
// when nil), newest first. Rows sharing a created_at are split by id.
func (r *MessageRepo) ListMessages(ctx context.Context, roomID uuid.UUID, limit int, before *models.Cursor) ([]models.Message, error) {
	var msgs []models.Message
	var err error
	if before != nil {
		err = r.db.SelectContext(ctx, &msgs, `SELECT `+messageColumns+` FROM messages
            WHERE room_id=$1 AND (created_at, id) < ($2, $3) ORDER BY created_at DESC, id DESC LIMIT $4`,
			roomID, before.CreatedAt, before.ID, limit)
	} else {
		err = r.db.SelectContext(ctx, &msgs, `SELECT `+messageColumns+` FROM messages
            WHERE room_id=$1 ORDER BY created_at DESC, id DESC LIMIT $2`, roomID, limit)
	}
	return msgs, err
}

// GetMessage retrieves a single message.
func (r *MessageRepo) GetMessage(ctx context.Context, messageID uuid.UUID) (models.Message, error) {
	var msg models.Message
	err := r.db.GetContext(ctx, &msg, `SELECT `+messageColumns+` FROM messages WHERE id=$1`, messageID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Message{}, ErrMessageNotFound
	}
	return msg, err
}

// EditMessage replaces content and stamps edited_at; only the sender's row matches.
func (r *MessageRepo) EditMessage(ctx context.Context, messageID uuid.UUID, senderID uuid.UUID, content string) (models.Message, error) {
	var msg models.Message
	err := r.db.GetContext(ctx, &msg, `UPDATE messages SET content=$3, edited_at=NOW()
        WHERE id=$1 AND sender_id=$2 RETURNING `+messageColumns, messageID, senderID, content)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Message{}, ErrMessageNotFound
	}
	return msg, err
}

// DeleteMessage removes the sender's message row.
func (r *MessageRepo) DeleteMessage(ctx context.Context, messageID uuid.UUID, senderID uuid.UUID) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM messages WHERE id=$1 AND sender_id=$2`, messageID, senderID)
	if err != nil {
		return err
	}
	count, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if count == 0 {
		return ErrMessageNotFound
	}
	return nil
}
