package core

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTypingStartStop(t *testing.T) {

	t.Run("start flags the user", func(t *testing.T) {
		tr := NewTypingTracker(time.Minute)
		tr.Start("room-1", customer)

		users := tr.TypingUsers("room-1")
		require.Len(t, users, 1)
		assert.Equal(t, customer, users[0])
	})

	t.Run("stop clears the entry", func(t *testing.T) {
		tr := NewTypingTracker(time.Minute)
		tr.Start("room-1", customer)

		removed := tr.Stop("room-1", customer.UserID)
		assert.True(t, removed)
		assert.Empty(t, tr.TypingUsers("room-1"))
	})

	t.Run("stop without start", func(t *testing.T) {
		tr := NewTypingTracker(time.Minute)
		assert.False(t, tr.Stop("room-1", customer.UserID))
	})

	t.Run("users are sorted", func(t *testing.T) {
		tr := NewTypingTracker(time.Minute)
		tr.Start("room-1", Identity{UserID: "b"})
		tr.Start("room-1", Identity{UserID: "a"})

		users := tr.TypingUsers("room-1")
		require.Len(t, users, 2)
		assert.Equal(t, "a", users[0].UserID)
		assert.Equal(t, "b", users[1].UserID)
	})
}

func TestTypingExpiry(t *testing.T) {

	t.Run("entry expires after the idle window", func(t *testing.T) {
		tr := NewTypingTracker(20 * time.Millisecond)

		var mu sync.Mutex
		var expired []string
		tr.OnExpire(func(roomID string) {
			mu.Lock()
			expired = append(expired, roomID)
			mu.Unlock()
		})

		tr.Start("room-1", customer)

		require.Eventually(t, func() bool {
			return len(tr.TypingUsers("room-1")) == 0
		}, time.Second, 5*time.Millisecond)

		require.Eventually(t, func() bool {
			mu.Lock()
			defer mu.Unlock()
			return len(expired) == 1 && expired[0] == "room-1"
		}, time.Second, 5*time.Millisecond)
	})

	t.Run("restart refreshes the window", func(t *testing.T) {
		tr := NewTypingTracker(50 * time.Millisecond)

		tr.Start("room-1", customer)
		time.Sleep(30 * time.Millisecond)
		// a stale timer from the first start must not clear this entry
		tr.Start("room-1", customer)
		time.Sleep(30 * time.Millisecond)

		assert.Len(t, tr.TypingUsers("room-1"), 1)

		require.Eventually(t, func() bool {
			return len(tr.TypingUsers("room-1")) == 0
		}, time.Second, 5*time.Millisecond)
	})

	t.Run("stop cancels the pending expiry", func(t *testing.T) {
		tr := NewTypingTracker(20 * time.Millisecond)

		var mu sync.Mutex
		var expiredCount int
		tr.OnExpire(func(roomID string) {
			mu.Lock()
			expiredCount++
			mu.Unlock()
		})

		tr.Start("room-1", customer)
		tr.Stop("room-1", customer.UserID)

		time.Sleep(50 * time.Millisecond)
		mu.Lock()
		assert.Zero(t, expiredCount)
		mu.Unlock()
	})
}
