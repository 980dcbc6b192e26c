package core

import (
	"context"
	"time"
)

// Role is the role a user connects with. It is resolved once per connection
// by the TokenValidator and cached on the connection for its lifetime.
type Role string

const (
	RoleCustomer Role = "customer"
	RoleAgent    Role = "agent"
	RoleAdmin    Role = "admin"
)

// MessageType determines how the message content should be interpreted.
// Non-text types carry a reference (such as a file locator) in the content field.
type MessageType string

const (
	TextMessage   MessageType = "text"
	ImageMessage  MessageType = "image"
	FileMessage   MessageType = "file"
	SystemMessage MessageType = "system"
)

func (t MessageType) Valid() bool {
	switch t {
	case TextMessage, ImageMessage, FileMessage, SystemMessage:
		return true
	}
	return false
}

// Room is a persistent conversation channel between a customer and an agent.
// CustomerID and AgentID are immutable after creation; only Active and the
// last-message snapshot mutate. Rooms are never hard-deleted, they are
// deactivated instead to preserve history.
type Room struct {
	ID            string    `json:"id"`
	CustomerID    string    `json:"customer_id"`
	AgentID       string    `json:"agent_id"`
	Active        bool      `json:"active"`
	LastMessage   string    `json:"last_message"`
	LastMessageAt time.Time `json:"last_message_at"`
	CreatedAt     time.Time `json:"created_at"`
}

// Message is an immutable, append-only chat message. ID is assigned by the
// store on insert and is monotonically increasing within a room; it is the
// canonical ordering key for display.
type Message struct {
	ID         int         `json:"id"`
	RoomID     string      `json:"room_id"`
	SenderID   string      `json:"sender_id"`
	SenderName string      `json:"sender_name"`
	SenderRole Role        `json:"sender_role"`
	Type       MessageType `json:"type"`
	Content    string      `json:"content"`
	CreatedAt  time.Time   `json:"created_at"`
}

var (
	ErrRoomNotFound       = NewInsensitiveError("room not found")
	ErrInvalidRoom        = NewInsensitiveError("invalid room")
	ErrAccessDenied       = NewInsensitiveError("access denied")
	ErrNotJoined          = NewInsensitiveError("room not joined")
	ErrInvalidMessage     = NewInsensitiveError("invalid message")
	ErrInvalidMessageType = NewInsensitiveError("unsupported message type")
)

// MessageCreateInput is the input for persisting a message.
type MessageCreateInput struct {
	RoomID     string      `json:"room_id" validate:"required"`
	SenderID   string      `json:"sender_id" validate:"required"`
	SenderName string      `json:"sender_name"`
	SenderRole Role        `json:"sender_role" validate:"required"`
	Type       MessageType `json:"type" validate:"required"`
	Content    string      `json:"content" validate:"required"`
}

func (m *MessageCreateInput) Validate() error {
	return validate.Struct(m)
}

// RoomStore is the durable registry of chat rooms (the room directory).
type RoomStore interface {
	// CreateRoom registers a room bound to a customer and optionally an agent.
	// It returns the ID of the created room.
	CreateRoom(ctx context.Context, customerID, agentID string) (string, error)

	// GetRoomByID returns the room with the given ID, or nil if it does not exist.
	GetRoomByID(ctx context.Context, roomID string) (*Room, error)

	// GetActiveRooms returns every room currently flagged active, ordered by
	// last message time descending.
	GetActiveRooms(ctx context.Context) ([]Room, error)

	// GetRoomsByUser returns rooms where the user is the customer or the agent,
	// ordered by last message time descending.
	GetRoomsByUser(ctx context.Context, userID string, offset, limit int) ([]Room, error)

	// DeactivateRoom flags the room inactive. The room and its messages are kept.
	DeactivateRoom(ctx context.Context, roomID string) error
}

// MessageStore is the durable, ordered persistence of chat messages.
type MessageStore interface {
	// InsertMessage persists a message and returns it with the store-assigned ID.
	// The room's last-message snapshot is updated in the same transaction, so a
	// failed write leaves no partial state.
	InsertMessage(ctx context.Context, input MessageCreateInput) (*Message, error)

	// GetRoomMessages returns up to limit messages of the room in ascending ID
	// order. A non-zero beforeID restricts the result to messages with a smaller
	// ID, which is used for cursor pagination. If limit is zero it defaults to 50.
	GetRoomMessages(ctx context.Context, roomID string, limit, beforeID int) ([]Message, error)

	// MarkMessagesRead records a read receipt for each of the given message IDs
	// belonging to the room. IDs of other rooms are ignored. Re-reading is a no-op.
	MarkMessagesRead(ctx context.Context, roomID, userID string, messageIDs []int) error
}

// ChatStore combines the room directory and message store, which share a database.
type ChatStore interface {
	RoomStore
	MessageStore
}
