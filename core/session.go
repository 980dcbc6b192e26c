package core

import (
	"context"
	"fmt"
)

// RoomSession validates join requests against the room directory, maintains
// room membership and produces the join/leave side effects: history replay for
// the joiner, presence change notifications for everyone else.
type RoomSession struct {
	rooms        RoomStore
	messages     MessageStore
	presence     *Presence
	typing       *TypingTracker
	historyLimit int
}

// DefaultHistoryLimit is how many recent messages are replayed on join.
const DefaultHistoryLimit = 50

func NewRoomSession(rooms RoomStore, messages MessageStore, presence *Presence, typing *TypingTracker) *RoomSession {
	return &RoomSession{
		rooms:        rooms,
		messages:     messages,
		presence:     presence,
		typing:       typing,
		historyLimit: DefaultHistoryLimit,
	}
}

func (s *RoomSession) SetHistoryLimit(n int) {
	if n > 0 {
		s.historyLimit = n
	}
}

// JoinResult reports the outcome of a successful join.
type JoinResult struct {
	Room *Room
	// History is the most recent slice of the room's messages, ascending by id.
	History []Message
	// First is true when this was the user's first connection into the room,
	// i.e. the moment a "user joined" notification is due.
	First bool
	// Others are the connections of the room's other members at join time.
	Others []int
}

// Authorize reports whether the identity may act on the room: admins always,
// otherwise only the room's customer or its agent.
func Authorize(room *Room, id Identity) bool {
	if id.Role == RoleAdmin {
		return true
	}
	if id.UserID == room.CustomerID {
		return true
	}
	return room.AgentID != "" && id.UserID == room.AgentID
}

// Join validates the request against the room directory, adds the connection
// to the room and assembles the history replay. An absent or deactivated room
// is reported as not found; an identity with no claim on the room is denied
// without any membership state being created.
func (s *RoomSession) Join(ctx context.Context, connID int, id Identity, roomID string) (*JoinResult, error) {
	room, err := s.rooms.GetRoomByID(ctx, roomID)
	if err != nil {
		return nil, fmt.Errorf("GetRoomByID: %w", err)
	}
	if room == nil || !room.Active {
		return nil, ErrRoomNotFound
	}

	if !Authorize(room, id) {
		return nil, ErrAccessDenied
	}

	first, added, ok := s.presence.Join(connID, roomID)
	if !ok {
		return nil, ErrNotJoined
	}

	if id.Role == RoleAgent || id.Role == RoleAdmin {
		s.presence.Subscribe(connID, GroupRoomAgents(roomID))
	}

	history, err := s.messages.GetRoomMessages(ctx, roomID, s.historyLimit, 0)
	if err != nil {
		// Undo only what this call created: a connection that was already in
		// the room keeps its membership when the replay fails. Nobody was told
		// about a freshly-added membership yet, so no departure is owed either.
		if added {
			s.presence.Leave(connID, roomID)
		}
		return nil, fmt.Errorf("GetRoomMessages: %w", err)
	}

	var others []int
	if first {
		others = s.presence.GroupConnsExceptUser(GroupRoom(roomID), id.UserID)
	}

	return &JoinResult{
		Room:    room,
		History: history,
		First:   first,
		Others:  others,
	}, nil
}

// LeaveResult reports the outcome of a leave.
type LeaveResult struct {
	// Last is true when the user's last connection left the room.
	Last bool
	// Remaining are the connections still in the room after the leave.
	Remaining []int
	// TypingCleared is true when the leave removed a pending typing entry,
	// which warrants a typing-status broadcast to the remaining members.
	TypingCleared bool
}

// Leave removes the connection from the room. Leaving a room that was never
// joined is a silent no-op, reported through the ok return.
func (s *RoomSession) Leave(connID int, id Identity, roomID string) (*LeaveResult, bool) {
	last, joined := s.presence.Leave(connID, roomID)
	if !joined {
		return nil, false
	}

	result := &LeaveResult{Last: last}
	if last {
		result.TypingCleared = s.typing.Stop(roomID, id.UserID)
		result.Remaining = s.presence.GroupConns(GroupRoom(roomID))
	}
	return result, true
}

// Disconnect tears down all membership state of a vanished connection and
// reports, per fully-departed room, who remains to be notified.
func (s *RoomSession) Disconnect(connID int) []DepartureNotice {
	departures := s.presence.Unregister(connID)

	notices := make([]DepartureNotice, 0, len(departures))
	for _, d := range departures {
		notices = append(notices, DepartureNotice{
			RoomID:        d.RoomID,
			User:          d.User,
			Remaining:     s.presence.GroupConns(GroupRoom(d.RoomID)),
			TypingCleared: s.typing.Stop(d.RoomID, d.User.UserID),
		})
	}
	return notices
}

// DepartureNotice describes a room a disconnected user fully left.
type DepartureNotice struct {
	RoomID        string
	User          Identity
	Remaining     []int
	TypingCleared bool
}
