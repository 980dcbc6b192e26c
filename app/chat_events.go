package livechat

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/shopdesk/livechat/core"
)

// Inbound socket events.
const (
	JoinRoomEvent     = "join-room"
	LeaveRoomEvent    = "leave-room"
	SendMessageEvent  = "send-message"
	TypingStartEvent  = "typing-start"
	TypingStopEvent   = "typing-stop"
	ReadMessagesEvent = "read-messages"
)

// Outbound socket events.
const (
	RoomJoinedEvent      = "room-joined"
	MessageReceivedEvent = "message-received"
	TypingStatusEvent    = "typing-status"
	UserJoinedEvent      = "user-joined"
	UserLeftEvent        = "user-left"
	MessagesReadEvent    = "messages-read"
	ErrorEvent           = "error"
)

type JoinRoomPayload struct {
	RoomID string `json:"room_id"`
}

type RoomJoinedPayload struct {
	RoomID   string         `json:"room_id"`
	Messages []core.Message `json:"messages"`
}

type SendMessagePayload struct {
	RoomID  string           `json:"room_id"`
	Content string           `json:"content"`
	Type    core.MessageType `json:"type"`
}

type TypingPayload struct {
	RoomID string `json:"room_id"`
}

type ReadMessagesPayload struct {
	RoomID     string `json:"room_id"`
	MessageIDs []int  `json:"message_ids"`
}

type TypingUser struct {
	UserID   string `json:"user_id"`
	UserName string `json:"user_name"`
}

type TypingStatusPayload struct {
	RoomID string       `json:"room_id"`
	Users  []TypingUser `json:"users"`
}

type PresencePayload struct {
	RoomID   string    `json:"room_id"`
	UserID   string    `json:"user_id"`
	UserName string    `json:"user_name"`
	Role     core.Role `json:"role"`
}

type MessagesReadPayload struct {
	RoomID     string `json:"room_id"`
	ReadBy     string `json:"read_by"`
	MessageIDs []int  `json:"message_ids"`
}

type ErrorPayload struct {
	Message string `json:"message"`
}

func (app *App) JoinRoomHandler(ctx context.Context, e *core.Event) error {
	var payload JoinRoomPayload
	if err := json.Unmarshal(e.Payload, &payload); err != nil {
		return fmt.Errorf("unmarshal join payload: %w", err)
	}

	result, err := app.session.Join(ctx, e.ConnID, e.Sender, payload.RoomID)
	if err != nil {
		return fmt.Errorf("Join: %w", err)
	}

	if err := app.eventRouter.EmitToConns(RoomJoinedEvent, RoomJoinedPayload{
		RoomID:   payload.RoomID,
		Messages: result.History,
	}, e.ConnID); err != nil {
		return err
	}

	if result.First {
		app.eventRouter.EmitToConns(UserJoinedEvent, PresencePayload{
			RoomID:   payload.RoomID,
			UserID:   e.Sender.UserID,
			UserName: e.Sender.DisplayName,
			Role:     e.Sender.Role,
		}, result.Others...)
	}

	return nil
}

func (app *App) LeaveRoomHandler(ctx context.Context, e *core.Event) error {
	var payload JoinRoomPayload
	if err := json.Unmarshal(e.Payload, &payload); err != nil {
		return fmt.Errorf("unmarshal leave payload: %w", err)
	}

	result, ok := app.session.Leave(e.ConnID, e.Sender, payload.RoomID)
	if !ok || !result.Last {
		return nil
	}

	app.eventRouter.EmitToConns(UserLeftEvent, PresencePayload{
		RoomID:   payload.RoomID,
		UserID:   e.Sender.UserID,
		UserName: e.Sender.DisplayName,
		Role:     e.Sender.Role,
	}, result.Remaining...)

	if result.TypingCleared {
		app.broadcastTypingStatus(payload.RoomID, "")
	}

	return nil
}

func (app *App) SendMessageHandler(ctx context.Context, e *core.Event) error {
	var payload SendMessagePayload
	if err := json.Unmarshal(e.Payload, &payload); err != nil {
		return fmt.Errorf("unmarshal message payload: %w", err)
	}

	if limiter, ok := app.limiters.Load(e.ConnID); ok && !limiter.Allow() {
		return ErrTooManyMessages
	}

	msg, targets, err := app.broadcaster.Send(ctx, e.ConnID, e.Sender,
		payload.RoomID, payload.Content, payload.Type)
	if err != nil {
		return fmt.Errorf("Send: %w", err)
	}

	if err := app.eventRouter.EmitToConns(MessageReceivedEvent, msg, targets...); err != nil {
		return err
	}

	app.publishToBackplane(ctx, MessageReceivedEvent, payload.RoomID, msg)

	return nil
}

func (app *App) TypingStartHandler(ctx context.Context, e *core.Event) error {
	var payload TypingPayload
	if err := json.Unmarshal(e.Payload, &payload); err != nil {
		return fmt.Errorf("unmarshal typing payload: %w", err)
	}

	// typing is best effort: ignore indicators for rooms the sender never joined
	if !app.presence.IsJoined(e.ConnID, payload.RoomID) {
		return nil
	}

	app.typing.Start(payload.RoomID, e.Sender)
	app.broadcastTypingStatus(payload.RoomID, e.Sender.UserID)
	return nil
}

func (app *App) TypingStopHandler(ctx context.Context, e *core.Event) error {
	var payload TypingPayload
	if err := json.Unmarshal(e.Payload, &payload); err != nil {
		return fmt.Errorf("unmarshal typing payload: %w", err)
	}

	if !app.typing.Stop(payload.RoomID, e.Sender.UserID) {
		return nil
	}
	app.broadcastTypingStatus(payload.RoomID, e.Sender.UserID)
	return nil
}

func (app *App) ReadMessagesHandler(ctx context.Context, e *core.Event) error {
	var payload ReadMessagesPayload
	if err := json.Unmarshal(e.Payload, &payload); err != nil {
		return fmt.Errorf("unmarshal read payload: %w", err)
	}

	if !app.presence.IsJoined(e.ConnID, payload.RoomID) {
		return core.ErrNotJoined
	}

	if err := app.chatStore.MarkMessagesRead(ctx, payload.RoomID, e.Sender.UserID, payload.MessageIDs); err != nil {
		return fmt.Errorf("MarkMessagesRead: %w", err)
	}

	app.eventRouter.EmitToConns(MessagesReadEvent, MessagesReadPayload{
		RoomID:     payload.RoomID,
		ReadBy:     e.Sender.UserID,
		MessageIDs: payload.MessageIDs,
	}, app.presence.GroupConnsExceptUser(core.GroupRoom(payload.RoomID), e.Sender.UserID)...)

	return nil
}

// broadcastTypingStatus sends the room's current typing list to its members.
// excludeUserID is the user whose action triggered the broadcast; they already
// know their own state. An empty excludeUserID addresses the whole room.
func (app *App) broadcastTypingStatus(roomID, excludeUserID string) {
	users := app.typing.TypingUsers(roomID)
	payload := TypingStatusPayload{
		RoomID: roomID,
		Users:  make([]TypingUser, 0, len(users)),
	}
	for _, u := range users {
		payload.Users = append(payload.Users, TypingUser{UserID: u.UserID, UserName: u.DisplayName})
	}

	var conns []int
	if excludeUserID == "" {
		conns = app.presence.GroupConns(core.GroupRoom(roomID))
	} else {
		conns = app.presence.GroupConnsExceptUser(core.GroupRoom(roomID), excludeUserID)
	}
	app.eventRouter.EmitToConns(TypingStatusEvent, payload, conns...)
}

func (app *App) publishToBackplane(ctx context.Context, eventType, roomID string, payload interface{}) {
	if app.backplane == nil {
		return
	}
	b, err := json.Marshal(payload)
	if err != nil {
		app.logger.Error(fmt.Sprintf("marshal backplane payload: %v", err))
		return
	}
	if err := app.backplane.Publish(ctx, &core.RoomEvent{
		Type:    eventType,
		RoomID:  roomID,
		Payload: b,
	}); err != nil {
		// replication is best effort; local delivery already happened
		app.logger.Error(fmt.Sprintf("backplane publish: %v", err))
	}
}

var ErrTooManyMessages = core.NewInsensitiveError("too many messages, slow down")
