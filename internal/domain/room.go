package domain

import "time"

// RoomID identifies a logical group of connections that receive the same broadcasts.
type RoomID string

// UserID identifies a logical user. One user may hold several connections
// and several subscriptions at the same time.
type UserID string

// Member is the identity attached to one connection in one room.
type Member struct {
	ConnID      string    `json:"conn_id"`
	RoomID      RoomID    `json:"room_id"`
	UserID      UserID    `json:"user_id"`
	DisplayName string    `json:"display_name"`
	JoinedAt    time.Time `json:"joined_at"`
}

// Chat frame types.
const (
	ChatTypeMessage = "message"
	ChatTypeJoin    = "join"
	ChatTypeLeave   = "leave"
	ChatTypeMembers = "members"
	ChatTypeError   = "error"
)

// ChatMessage is the wire shape of frames exchanged in a chat room.
type ChatMessage struct {
	Type        string    `json:"type"`
	RoomID      RoomID    `json:"room_id"`
	UserID      UserID    `json:"user_id,omitempty"`
	DisplayName string    `json:"display_name,omitempty"`
	Text        string    `json:"text,omitempty"`
	Members     []Member  `json:"members,omitempty"`
	SentAt      time.Time `json:"sent_at"`
}

// InboundChat is a frame sent by a chat client.
type InboundChat struct {
	Type string `json:"type" validate:"required,oneof=message"`
	Text string `json:"text" validate:"required,max=2000"`
}
