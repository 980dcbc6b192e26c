package core

import (
	"context"
	"fmt"
)

// Broadcaster persists outbound messages and computes their fan-out. A message
// is delivered to three groups from one write: the room itself, the room's
// agent-only group and the global agents group, so a customer widget, an
// agent's room view and an agent's cross-room dashboard all stay current.
type Broadcaster struct {
	messages MessageStore
	presence *Presence
}

func NewBroadcaster(messages MessageStore, presence *Presence) *Broadcaster {
	return &Broadcaster{
		messages: messages,
		presence: presence,
	}
}

// Send validates, persists and fans out a message. The store assigns the
// message id before any broadcast happens; a failed write aborts the whole
// operation and nothing is delivered. The returned target list is the
// deduplicated union of the three groups, evaluated at broadcast time.
func (b *Broadcaster) Send(ctx context.Context, connID int, sender Identity, roomID string, content string, msgType MessageType) (*Message, []int, error) {
	if !b.presence.IsJoined(connID, roomID) {
		return nil, nil, ErrNotJoined
	}

	if content == "" {
		return nil, nil, ErrInvalidMessage
	}
	if msgType == "" {
		msgType = TextMessage
	}
	if !msgType.Valid() {
		return nil, nil, ErrInvalidMessageType
	}

	msg, err := b.messages.InsertMessage(ctx, MessageCreateInput{
		RoomID:     roomID,
		SenderID:   sender.UserID,
		SenderName: sender.DisplayName,
		SenderRole: sender.Role,
		Type:       msgType,
		Content:    content,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("InsertMessage: %w", err)
	}

	targets := b.presence.GroupConnsUnion(
		GroupRoom(roomID),
		GroupRoomAgents(roomID),
		GroupAgents,
	)

	return msg, targets, nil
}
