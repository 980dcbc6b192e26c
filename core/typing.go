package core

import (
	"slices"
	"strings"
	"sync"
	"time"
)

// DefaultTypingIdle is how long a typing entry lives without a refresh.
const DefaultTypingIdle = 10 * time.Second

type typingEntry struct {
	user Identity
	// gen ties the expiry timer to the start event that scheduled it. A stale
	// timer firing after the entry was restarted must not clear the newer entry.
	gen   uint64
	timer *time.Timer
}

// TypingTracker keeps the short-lived, self-expiring record of who is typing
// in each room. Entries are removed by an explicit stop or by the idle timeout,
// whichever happens first.
type TypingTracker struct {
	idle time.Duration

	mu    sync.Mutex
	rooms map[string]map[string]*typingEntry
	gen   uint64

	// onExpire is invoked outside the lock after an entry times out, so the
	// owner can broadcast the updated typing list.
	onExpire func(roomID string)
}

func NewTypingTracker(idle time.Duration) *TypingTracker {
	if idle <= 0 {
		idle = DefaultTypingIdle
	}
	return &TypingTracker{
		idle:  idle,
		rooms: make(map[string]map[string]*typingEntry),
	}
}

func (t *TypingTracker) OnExpire(f func(roomID string)) {
	t.onExpire = f
}

// Start flags the user as typing in the room, scheduling (or rescheduling) the
// automatic removal. Redundant starts only refresh the timer.
func (t *TypingTracker) Start(roomID string, user Identity) {
	t.mu.Lock()
	defer t.mu.Unlock()

	room, ok := t.rooms[roomID]
	if !ok {
		room = make(map[string]*typingEntry)
		t.rooms[roomID] = room
	}

	if entry, ok := room[user.UserID]; ok {
		entry.timer.Stop()
	}

	t.gen++
	gen := t.gen
	entry := &typingEntry{user: user, gen: gen}
	entry.timer = time.AfterFunc(t.idle, func() {
		t.expire(roomID, user.UserID, gen)
	})
	room[user.UserID] = entry
}

// Stop removes the user's typing entry immediately regardless of timer state.
// It reports whether an entry was removed.
func (t *TypingTracker) Stop(roomID, userID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.removeLocked(roomID, userID)
}

// TypingUsers returns who is currently flagged as typing in the room.
func (t *TypingTracker) TypingUsers(roomID string) []Identity {
	t.mu.Lock()
	defer t.mu.Unlock()

	room := t.rooms[roomID]
	users := make([]Identity, 0, len(room))
	for _, entry := range room {
		users = append(users, entry.user)
	}
	slices.SortFunc(users, func(a, b Identity) int {
		return strings.Compare(a.UserID, b.UserID)
	})
	return users
}

func (t *TypingTracker) expire(roomID, userID string, gen uint64) {
	t.mu.Lock()
	entry, ok := t.rooms[roomID][userID]
	if !ok || entry.gen != gen {
		t.mu.Unlock()
		return
	}
	t.removeLocked(roomID, userID)
	onExpire := t.onExpire
	t.mu.Unlock()

	if onExpire != nil {
		onExpire(roomID)
	}
}

func (t *TypingTracker) removeLocked(roomID, userID string) bool {
	room, ok := t.rooms[roomID]
	if !ok {
		return false
	}
	entry, ok := room[userID]
	if !ok {
		return false
	}
	entry.timer.Stop()
	delete(room, userID)
	if len(room) == 0 {
		delete(t.rooms, roomID)
	}
	return true
}
