package core

import (
	"context"
	"database/sql"
	"os"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pressly/goose/v3"
)

type ChatFixture struct {
	chatStore ChatStore
	db        *sql.DB
	ctx       context.Context
	tearDown  func()
	t         *testing.T
}

func NewChatFixture(t *testing.T) *ChatFixture {
	ctx, cancel := context.WithCancel(context.Background())

	db, err := sql.Open("sqlite3", "file::memory:?cache=shared")
	if err != nil {
		t.Fatal(err)
	}

	migrationfs := os.DirFS("../migrations")
	goose.SetBaseFS(migrationfs)

	if err := goose.SetDialect("sqlite3"); err != nil {
		t.Fatal(err)
	}

	if err := goose.Up(db, "."); err != nil {
		t.Fatal(err)
	}

	return &ChatFixture{
		chatStore: NewSQLiteChatStore(db),
		ctx:       ctx,
		db:        db,
		tearDown: func() {
			cancel()
			db.Close()
		},
		t: t,
	}
}

func seedRoom(f *ChatFixture, customerID, agentID string) Room {
	id, err := f.chatStore.CreateRoom(f.ctx, customerID, agentID)
	if err != nil {
		f.t.Fatal(err)
	}
	room, err := f.chatStore.GetRoomByID(f.ctx, id)
	if err != nil {
		f.t.Fatal(err)
	}
	return *room
}

func seedMessages(f *ChatFixture, roomID string, senders []Identity, contents ...string) []Message {
	messages := make([]Message, 0, len(contents))
	for i, content := range contents {
		sender := senders[i%len(senders)]
		msg, err := f.chatStore.InsertMessage(f.ctx, MessageCreateInput{
			RoomID:     roomID,
			SenderID:   sender.UserID,
			SenderName: sender.DisplayName,
			SenderRole: sender.Role,
			Type:       TextMessage,
			Content:    content,
		})
		if err != nil {
			f.t.Fatal(err)
		}
		messages = append(messages, *msg)
	}
	return messages
}
