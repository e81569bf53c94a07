package models

import (
	"bytes"
	"time"

	"github.com/google/uuid"
)

// MessageType is the content kind of a message.
type MessageType string

const (
	MessageText  MessageType = "text"
	MessageImage MessageType = "image"
	MessageFile  MessageType = "file"
)

// Valid reports whether t is a known message type.
func (t MessageType) Valid() bool {
	switch t {
	case MessageText, MessageImage, MessageFile:
		return true
	}
	return false
}

// Message represents a chat message.
type Message struct {
	ID          uuid.UUID   `db:"id" json:"id"`
	RoomID      uuid.UUID   `db:"room_id" json:"room_id"`
	SenderID    uuid.UUID   `db:"sender_id" json:"sender_id"`
	Content     string      `db:"content" json:"content"`
	MessageType MessageType `db:"message_type" json:"message_type"`
	ClientRef   *uuid.UUID  `db:"client_ref" json:"client_ref,omitempty"`
	EditedAt    *time.Time  `db:"edited_at" json:"edited_at,omitempty"`
	CreatedAt   time.Time   `db:"created_at" json:"created_at"`
}

// Cursor is a keyset position in a room's history, ordered by (created_at,
// id). A nil ID sorts first, so a cursor without one means strictly before
// CreatedAt.
type Cursor struct {
	CreatedAt time.Time
	ID        uuid.UUID
}

// CursorOf returns the position of m.
func CursorOf(m Message) Cursor {
	return Cursor{CreatedAt: m.CreatedAt, ID: m.ID}
}

// Older reports whether m sorts strictly before c.
func (c Cursor) Older(m Message) bool {
	if !m.CreatedAt.Equal(c.CreatedAt) {
		return m.CreatedAt.Before(c.CreatedAt)
	}
	return bytes.Compare(m.ID[:], c.ID[:]) < 0
}

// MessageWithSender is a message annotated with its resolved sender.
type MessageWithSender struct {
	Message
	Sender Profile `json:"sender"`
}

// Profile is the display identity of a user.
type Profile struct {
	UserID      uuid.UUID `db:"user_id" json:"id"`
	DisplayName string    `db:"display_name" json:"display_name"`
	Email       string    `db:"email" json:"email"`
	UpdatedAt   time.Time `db:"updated_at" json:"updated_at"`
}

// UnknownSender is the placeholder label used until a profile resolves.
const UnknownSender = "Unknown User"

// PlaceholderProfile returns the profile shown while the real one is unavailable.
func PlaceholderProfile(id uuid.UUID) Profile {
	return Profile{UserID: id, DisplayName: UnknownSender}
}

// Placeholder reports whether p is an unresolved placeholder.
func (p Profile) Placeholder() bool {
	return p.DisplayName == UnknownSender && p.Email == ""
}

// Label is the name shown next to a message.
func (p Profile) Label() string {
	if p.DisplayName != "" {
		return p.DisplayName
	}
	if p.Email != "" {
		return p.Email
	}
	return UnknownSender
}

// SendRequest is a message as submitted by a sender. ClientRef is generated
// by the client and echoed back on the stored message.
type SendRequest struct {
	Content   string      `json:"content"`
	Type      MessageType `json:"message_type,omitempty"`
	ClientRef *uuid.UUID  `json:"client_ref,omitempty"`
}
