package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	customer = Identity{UserID: "cust-1", Role: RoleCustomer, DisplayName: "Alice"}
	agent    = Identity{UserID: "agent-1", Role: RoleAgent, DisplayName: "Bob"}
)

func TestCreateRoom(t *testing.T) {

	t.Run("create room successfully", func(t *testing.T) {
		f := NewChatFixture(t)
		defer f.tearDown()

		id, err := f.chatStore.CreateRoom(f.ctx, customer.UserID, agent.UserID)
		require.Nil(t, err)
		require.NotEmpty(t, id)

		room, err := f.chatStore.GetRoomByID(f.ctx, id)
		require.Nil(t, err)
		require.NotNil(t, room)
		assert.Equal(t, id, room.ID)
		assert.Equal(t, customer.UserID, room.CustomerID)
		assert.Equal(t, agent.UserID, room.AgentID)
		assert.True(t, room.Active)
		assert.Empty(t, room.LastMessage)
		assert.True(t, room.LastMessageAt.IsZero())
		assert.NotZero(t, room.CreatedAt)
	})

	t.Run("create room without an agent", func(t *testing.T) {
		f := NewChatFixture(t)
		defer f.tearDown()

		id, err := f.chatStore.CreateRoom(f.ctx, customer.UserID, "")
		require.Nil(t, err)

		room, err := f.chatStore.GetRoomByID(f.ctx, id)
		require.Nil(t, err)
		require.NotNil(t, room)
		assert.Empty(t, room.AgentID)
	})

	t.Run("create room without a customer", func(t *testing.T) {
		f := NewChatFixture(t)
		defer f.tearDown()

		id, err := f.chatStore.CreateRoom(f.ctx, "", agent.UserID)
		require.NotNil(t, err)
		require.Zero(t, id)
		assert.Equal(t, ErrInvalidRoom, err)
	})
}

func TestGetRoomByID(t *testing.T) {
	t.Run("room exists", func(t *testing.T) {
		f := NewChatFixture(t)
		defer f.tearDown()
		r := seedRoom(f, customer.UserID, agent.UserID)

		room, err := f.chatStore.GetRoomByID(f.ctx, r.ID)

		require.Nil(t, err)
		require.NotNil(t, room)
		assert.Equal(t, r, *room)
	})

	t.Run("room does not exist", func(t *testing.T) {
		f := NewChatFixture(t)
		defer f.tearDown()

		room, err := f.chatStore.GetRoomByID(f.ctx, "random")

		require.Nil(t, err)
		assert.Nil(t, room)
	})
}

func TestGetActiveRooms(t *testing.T) {
	f := NewChatFixture(t)
	defer f.tearDown()

	active1 := seedRoom(f, "cust-1", agent.UserID)
	active2 := seedRoom(f, "cust-2", agent.UserID)
	closed := seedRoom(f, "cust-3", agent.UserID)
	require.Nil(t, f.chatStore.DeactivateRoom(f.ctx, closed.ID))

	rooms, err := f.chatStore.GetActiveRooms(f.ctx)
	require.Nil(t, err)
	require.Len(t, rooms, 2)

	ids := []string{rooms[0].ID, rooms[1].ID}
	assert.Contains(t, ids, active1.ID)
	assert.Contains(t, ids, active2.ID)
	assert.NotContains(t, ids, closed.ID)
}

func TestGetRoomsByUser(t *testing.T) {

	t.Run("filter logic", func(t *testing.T) {
		f := NewChatFixture(t)
		defer f.tearDown()

		asCustomer := seedRoom(f, "user-1", "agent-2")
		asAgent := seedRoom(f, "cust-2", "user-1")
		seedRoom(f, "cust-3", "agent-3")

		rooms, err := f.chatStore.GetRoomsByUser(f.ctx, "user-1", 0, 0)
		require.Nil(t, err)
		require.Len(t, rooms, 2)

		ids := []string{rooms[0].ID, rooms[1].ID}
		assert.Contains(t, ids, asCustomer.ID)
		assert.Contains(t, ids, asAgent.ID)
	})

	t.Run("pagination logic", func(t *testing.T) {
		f := NewChatFixture(t)
		defer f.tearDown()

		room1 := seedRoom(f, customer.UserID, agent.UserID)
		room2 := seedRoom(f, customer.UserID, agent.UserID)

		// room2 becomes the most recently active room
		seedMessages(f, room2.ID, []Identity{customer}, "hello")

		page1, err := f.chatStore.GetRoomsByUser(f.ctx, customer.UserID, 0, 1)
		require.Nil(t, err)
		require.Len(t, page1, 1)
		assert.Equal(t, room2.ID, page1[0].ID)

		page2, err := f.chatStore.GetRoomsByUser(f.ctx, customer.UserID, 1, 1)
		require.Nil(t, err)
		require.Len(t, page2, 1)
		assert.Equal(t, room1.ID, page2[0].ID)
	})
}

func TestDeactivateRoom(t *testing.T) {
	t.Run("deactivate existing room", func(t *testing.T) {
		f := NewChatFixture(t)
		defer f.tearDown()
		room := seedRoom(f, customer.UserID, agent.UserID)
		messages := seedMessages(f, room.ID, []Identity{customer}, "one", "two")

		err := f.chatStore.DeactivateRoom(f.ctx, room.ID)
		require.Nil(t, err)

		got, err := f.chatStore.GetRoomByID(f.ctx, room.ID)
		require.Nil(t, err)
		require.NotNil(t, got)
		assert.False(t, got.Active)

		// history survives deactivation
		history, err := f.chatStore.GetRoomMessages(f.ctx, room.ID, 0, 0)
		require.Nil(t, err)
		assert.Len(t, history, len(messages))
	})

	t.Run("deactivate non-existent room", func(t *testing.T) {
		f := NewChatFixture(t)
		defer f.tearDown()

		err := f.chatStore.DeactivateRoom(f.ctx, "random")
		require.NotNil(t, err)
		assert.Equal(t, ErrRoomNotFound, err)
	})
}

func TestInsertMessage(t *testing.T) {
	f := NewChatFixture(t)
	defer f.tearDown()
	room := seedRoom(f, customer.UserID, agent.UserID)

	t.Run("insert invalid message", func(t *testing.T) {
		input := MessageCreateInput{}
		require.NotNil(t, input.Validate())
		message, err := f.chatStore.InsertMessage(f.ctx, input)
		require.NotNil(t, err)
		require.Equal(t, ErrInvalidMessage, err)
		require.Nil(t, message)

		messages, err := f.chatStore.GetRoomMessages(f.ctx, room.ID, 0, 0)
		require.Nil(t, err)
		require.Nil(t, messages)
	})

	t.Run("insert message with invalid type", func(t *testing.T) {
		input := MessageCreateInput{
			RoomID:     room.ID,
			SenderID:   customer.UserID,
			SenderRole: customer.Role,
			Type:       MessageType("carrier-pigeon"),
			Content:    "hi there",
		}
		require.Nil(t, input.Validate())
		message, err := f.chatStore.InsertMessage(f.ctx, input)
		require.NotNil(t, err)
		require.Equal(t, ErrInvalidMessageType, err)
		require.Nil(t, message)

		messages, err := f.chatStore.GetRoomMessages(f.ctx, room.ID, 0, 0)
		require.Nil(t, err)
		require.Nil(t, messages)
	})

	t.Run("insert valid message", func(t *testing.T) {
		input := MessageCreateInput{
			RoomID:     room.ID,
			SenderID:   customer.UserID,
			SenderName: customer.DisplayName,
			SenderRole: customer.Role,
			Type:       TextMessage,
			Content:    "hi there",
		}
		message, err := f.chatStore.InsertMessage(f.ctx, input)
		require.Nil(t, err)
		require.NotNil(t, message)
		require.NotZero(t, message.ID)
		require.NotZero(t, message.CreatedAt)
		assert.Equal(t, input.RoomID, message.RoomID)
		assert.Equal(t, input.SenderID, message.SenderID)
		assert.Equal(t, input.Content, message.Content)
		assert.Equal(t, TextMessage, message.Type)

		// the room snapshot moves with the message in the same transaction
		got, err := f.chatStore.GetRoomByID(f.ctx, room.ID)
		require.Nil(t, err)
		require.NotNil(t, got)
		assert.Equal(t, message.Content, got.LastMessage)
		assert.Equal(t, message.CreatedAt.Unix(), got.LastMessageAt.Unix())
	})

	t.Run("ids are assigned in send order", func(t *testing.T) {
		messages := seedMessages(f, room.ID, []Identity{customer, agent}, "a", "b", "c")
		for i := 1; i < len(messages); i++ {
			assert.Greater(t, messages[i].ID, messages[i-1].ID)
		}
	})
}

func TestGetRoomMessages(t *testing.T) {
	f := NewChatFixture(t)
	defer f.tearDown()
	room := seedRoom(f, customer.UserID, agent.UserID)

	t.Run("empty room", func(t *testing.T) {
		messages, err := f.chatStore.GetRoomMessages(f.ctx, room.ID, 0, 0)
		require.Nil(t, err)
		require.Nil(t, messages)
	})

	t.Run("ascending order and tail limit", func(t *testing.T) {
		sent := seedMessages(f, room.ID, []Identity{customer, agent},
			"m1", "m2", "m3", "m4", "m5")

		// the limit keeps the most recent messages, returned ascending
		messages, err := f.chatStore.GetRoomMessages(f.ctx, room.ID, 3, 0)
		require.Nil(t, err)
		require.Len(t, messages, 3)
		assert.Equal(t, sent[2], messages[0])
		assert.Equal(t, sent[3], messages[1])
		assert.Equal(t, sent[4], messages[2])

		// paginate backwards from the oldest returned message
		older, err := f.chatStore.GetRoomMessages(f.ctx, room.ID, 3, messages[0].ID)
		require.Nil(t, err)
		require.Len(t, older, 2)
		assert.Equal(t, sent[0], older[0])
		assert.Equal(t, sent[1], older[1])
	})

	t.Run("non-existent room", func(t *testing.T) {
		messages, err := f.chatStore.GetRoomMessages(f.ctx, "random", 0, 0)
		require.Nil(t, err)
		require.Nil(t, messages)
	})
}

func TestMarkMessagesRead(t *testing.T) {
	f := NewChatFixture(t)
	defer f.tearDown()
	room := seedRoom(f, customer.UserID, agent.UserID)
	other := seedRoom(f, "cust-9", agent.UserID)
	messages := seedMessages(f, room.ID, []Identity{customer}, "m1", "m2")
	foreign := seedMessages(f, other.ID, []Identity{customer}, "x1")

	countReceipts := func(userID string) int {
		var n int
		err := f.db.QueryRowContext(f.ctx,
			"SELECT COUNT(*) FROM read_receipts WHERE user_id = ?", userID).Scan(&n)
		require.Nil(t, err)
		return n
	}

	t.Run("records receipts for own room only", func(t *testing.T) {
		ids := []int{messages[0].ID, messages[1].ID, foreign[0].ID}
		err := f.chatStore.MarkMessagesRead(f.ctx, room.ID, agent.UserID, ids)
		require.Nil(t, err)
		// the foreign room's message id is silently ignored
		assert.Equal(t, 2, countReceipts(agent.UserID))
	})

	t.Run("re-reading is a no-op", func(t *testing.T) {
		err := f.chatStore.MarkMessagesRead(f.ctx, room.ID, agent.UserID,
			[]int{messages[0].ID})
		require.Nil(t, err)
		assert.Equal(t, 2, countReceipts(agent.UserID))
	})

	t.Run("empty id list", func(t *testing.T) {
		err := f.chatStore.MarkMessagesRead(f.ctx, room.ID, agent.UserID, nil)
		require.Nil(t, err)
	})
}
