package models

import "github.com/google/uuid"

// ChangeOp is the kind of committed row change carried by the change feed.
type ChangeOp string

const (
	OpInsert ChangeOp = "INSERT"
	OpUpdate ChangeOp = "UPDATE"
	OpDelete ChangeOp = "DELETE"
	// OpResync tells subscribers that events may have been lost and state must be reloaded.
	OpResync ChangeOp = "RESYNC"
)

// ChangeEvent is emitted over WebSocket connections for rooms.
type ChangeEvent struct {
	Op        ChangeOp  `json:"op"`
	RoomID    uuid.UUID `json:"room_id"`
	MessageID uuid.UUID `json:"message_id,omitempty"`
	Message   *Message  `json:"message,omitempty"`
	Sender    *Profile  `json:"sender,omitempty"`
}

// RoomEvent tells a user that their room list changed. Room is set for
// INSERT and UPDATE; RESYNC asks for a full reload of the list.
type RoomEvent struct {
	Op     ChangeOp  `json:"op"`
	RoomID uuid.UUID `json:"room_id,omitempty"`
	Room   *ChatRoom `json:"room,omitempty"`
}
