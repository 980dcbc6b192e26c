package core

import (
	"context"
	"database/sql"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
)

type SQLiteChatStore struct {
	db *sql.DB
}

func NewSQLiteChatStore(db *sql.DB) *SQLiteChatStore {
	return &SQLiteChatStore{db: db}
}

func (s *SQLiteChatStore) CreateRoom(ctx context.Context, customerID, agentID string) (string, error) {
	if customerID == "" {
		return "", ErrInvalidRoom
	}

	id := uuid.New().String()
	now := time.Now().UTC()

	query := `INSERT INTO rooms (id, customer_id, agent_id, active, last_message, last_message_at, created_at)
	          VALUES (@id, @customer_id, @agent_id, 1, '', @last_message_at, @created_at)`
	_, err := s.db.ExecContext(ctx, query,
		sql.Named("id", id),
		sql.Named("customer_id", customerID),
		sql.Named("agent_id", agentID),
		sql.Named("last_message_at", time.Time{}),
		sql.Named("created_at", now),
	)
	if err != nil {
		return "", fmt.Errorf("ExecContext(insert room): %w", err)
	}

	return id, nil
}

func (s *SQLiteChatStore) GetRoomByID(ctx context.Context, roomID string) (*Room, error) {
	query := `
	SELECT id, customer_id, agent_id, active, last_message, last_message_at, created_at
	FROM rooms
	WHERE id = @id`

	row := s.db.QueryRowContext(ctx, query, sql.Named("id", roomID))

	var room Room
	if err := row.Scan(&room.ID, &room.CustomerID, &room.AgentID, &room.Active,
		&room.LastMessage, &room.LastMessageAt, &room.CreatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("row.Scan: %w", err)
	}

	return &room, nil
}

func (s *SQLiteChatStore) GetActiveRooms(ctx context.Context) ([]Room, error) {
	query := `
	SELECT id, customer_id, agent_id, active, last_message, last_message_at, created_at
	FROM rooms
	WHERE active = 1
	ORDER BY last_message_at DESC, created_at DESC`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("QueryContext: %w", err)
	}
	defer rows.Close()

	return scanRooms(rows)
}

func (s *SQLiteChatStore) GetRoomsByUser(ctx context.Context, userID string, offset, limit int) ([]Room, error) {
	if limit == 0 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}

	query := `
	SELECT id, customer_id, agent_id, active, last_message, last_message_at, created_at
	FROM rooms
	WHERE customer_id = @user_id OR agent_id = @user_id
	ORDER BY last_message_at DESC, created_at DESC
	LIMIT @limit OFFSET @offset`

	rows, err := s.db.QueryContext(ctx, query,
		sql.Named("user_id", userID), sql.Named("limit", limit), sql.Named("offset", offset))
	if err != nil {
		return nil, fmt.Errorf("QueryContext: %w", err)
	}
	defer rows.Close()

	return scanRooms(rows)
}

func scanRooms(rows *sql.Rows) ([]Room, error) {
	var rooms []Room
	for rows.Next() {
		var room Room
		if err := rows.Scan(&room.ID, &room.CustomerID, &room.AgentID, &room.Active,
			&room.LastMessage, &room.LastMessageAt, &room.CreatedAt); err != nil {
			return nil, fmt.Errorf("rows.Scan: %w", err)
		}
		rooms = append(rooms, room)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows.Err: %w", err)
	}
	return rooms, nil
}

func (s *SQLiteChatStore) DeactivateRoom(ctx context.Context, roomID string) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE rooms SET active = 0 WHERE id = @id", sql.Named("id", roomID))
	if err != nil {
		return fmt.Errorf("ExecContext(update room): %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("RowsAffected: %w", err)
	}
	if n == 0 {
		return ErrRoomNotFound
	}
	return nil
}

func (s *SQLiteChatStore) InsertMessage(ctx context.Context, input MessageCreateInput) (*Message, error) {
	if err := input.Validate(); err != nil {
		return nil, ErrInvalidMessage
	}
	if !input.Type.Valid() {
		return nil, ErrInvalidMessageType
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("BeginTx: %w", err)
	}
	defer tx.Rollback()

	createdAt := time.Now().UTC()
	query := `
	INSERT INTO messages (room_id, sender_id, sender_name, sender_role, type, content, created_at)
	VALUES (@room_id, @sender_id, @sender_name, @sender_role, @type, @content, @created_at) RETURNING id`
	row := tx.QueryRowContext(ctx, query,
		sql.Named("room_id", input.RoomID),
		sql.Named("sender_id", input.SenderID),
		sql.Named("sender_name", input.SenderName),
		sql.Named("sender_role", input.SenderRole),
		sql.Named("type", input.Type),
		sql.Named("content", input.Content),
		sql.Named("created_at", createdAt))
	var id int
	if err := row.Scan(&id); err != nil {
		return nil, fmt.Errorf("row.Scan: %w", err)
	}

	query = `
	UPDATE rooms SET
	last_message = @last_message,
	last_message_at = @last_message_at
	WHERE id = @room_id`
	_, err = tx.ExecContext(ctx, query,
		sql.Named("room_id", input.RoomID),
		sql.Named("last_message", input.Content),
		sql.Named("last_message_at", createdAt))
	if err != nil {
		return nil, fmt.Errorf("ExecContext(update room): %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("Commit: %w", err)
	}

	return &Message{
		ID:         id,
		RoomID:     input.RoomID,
		SenderID:   input.SenderID,
		SenderName: input.SenderName,
		SenderRole: input.SenderRole,
		Type:       input.Type,
		Content:    input.Content,
		CreatedAt:  createdAt,
	}, nil
}

func (s *SQLiteChatStore) GetRoomMessages(ctx context.Context, roomID string, limit, beforeID int) ([]Message, error) {
	if limit == 0 {
		limit = 50
	}

	query := `
	SELECT id, room_id, sender_id, sender_name, sender_role, type, content, created_at
	FROM messages
	WHERE room_id = @room_id AND (@before_id = 0 OR id < @before_id)
	ORDER BY id DESC
	LIMIT @limit`

	rows, err := s.db.QueryContext(ctx, query,
		sql.Named("room_id", roomID), sql.Named("before_id", beforeID), sql.Named("limit", limit))
	if err != nil {
		return nil, fmt.Errorf("QueryContext: %w", err)
	}
	defer rows.Close()

	var messages []Message
	for rows.Next() {
		var message Message
		if err := rows.Scan(&message.ID, &message.RoomID, &message.SenderID, &message.SenderName,
			&message.SenderRole, &message.Type, &message.Content, &message.CreatedAt); err != nil {
			return nil, fmt.Errorf("rows.Scan: %w", err)
		}
		messages = append(messages, message)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows.Err: %w", err)
	}

	// query reads newest-first so the limit applies to the tail; display order is ascending
	slices.Reverse(messages)

	return messages, nil
}

func (s *SQLiteChatStore) MarkMessagesRead(ctx context.Context, roomID, userID string, messageIDs []int) error {
	if len(messageIDs) == 0 {
		return nil
	}

	values := make([]interface{}, 0, len(messageIDs)+3)
	values = append(values, roomID, userID, time.Now().UTC())
	for _, id := range messageIDs {
		values = append(values, id)
	}

	query := `
	INSERT INTO read_receipts (message_id, room_id, user_id, read_at)
	SELECT m.id, m.room_id, ?2, ?3
	FROM messages AS m
	WHERE m.room_id = ?1 AND m.id IN (` + strings.Repeat("?,", len(messageIDs)-1) + `?)
	ON CONFLICT DO NOTHING`

	if _, err := s.db.ExecContext(ctx, query, values...); err != nil {
		return fmt.Errorf("ExecContext(insert read_receipts): %w", err)
	}
	return nil
}
