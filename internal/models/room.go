package models

import (
	"time"

	"github.com/google/uuid"
)

// RoomType distinguishes group-wide rooms from two-person rooms.
type RoomType string

const (
	RoomGroup  RoomType = "group"
	RoomDirect RoomType = "direct"
)

// ChatRoom is a chat channel scoped to a group or to a pair of users within a group.
type ChatRoom struct {
	ID        uuid.UUID  `db:"id" json:"id"`
	Type      RoomType   `db:"type" json:"type"`
	Name      *string    `db:"name" json:"name,omitempty"`
	GroupID   uuid.UUID  `db:"group_id" json:"group_id"`
	UserLow   *uuid.UUID `db:"user_low" json:"-"`
	UserHigh  *uuid.UUID `db:"user_high" json:"-"`
	CreatedBy uuid.UUID  `db:"created_by" json:"created_by"`
	CreatedAt time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt time.Time  `db:"updated_at" json:"updated_at"`
}

// RoomMember records an explicit room participant (direct rooms).
type RoomMember struct {
	RoomID   uuid.UUID `db:"room_id" json:"room_id"`
	UserID   uuid.UUID `db:"user_id" json:"user_id"`
	JoinedAt time.Time `db:"joined_at" json:"joined_at"`
}

// RoomSummary is a room as listed for one user.
type RoomSummary struct {
	ChatRoom
	LastMessage *Message `json:"last_message,omitempty"`
	OtherUser   *Profile `json:"other_user,omitempty"`
}

// DirectPair returns the unordered pair key of two users, lowest first.
func DirectPair(a, b uuid.UUID) (uuid.UUID, uuid.UUID) {
	if a.String() < b.String() {
		return a, b
	}
	return b, a
}
