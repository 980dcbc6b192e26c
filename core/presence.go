package core

import (
	"slices"
	"sync"
)

// GroupAgents is the cross-room broadcast group every agent and admin
// connection is subscribed to on accept.
const GroupAgents = "agents"

// GroupRoom is the customer-facing transport group of a room.
func GroupRoom(roomID string) string {
	return "room:" + roomID
}

// GroupRoomAgents is the agent-only transport group paired with a room. It is
// used for agent notifications that must not double messages seen by the customer.
func GroupRoomAgents(roomID string) string {
	return "room:" + roomID + ":agents"
}

// Departure is a room a user fully left, reported when the user's last
// connection to that room goes away.
type Departure struct {
	RoomID string
	User   Identity
}

type connEntry struct {
	identity Identity
	// rooms the connection explicitly joined; groups it merely subscribes to
	// (agent auto-fan-out) are not tracked here.
	rooms  map[string]struct{}
	groups map[string]struct{}
}

// Presence is the process-local registry of connections, transport groups and
// user-level ref-counted room membership. A user with several tabs holds
// several connections; the user is a member of a room as long as at least one
// of their connections has joined it.
//
// All state lives behind a single mutex so that join/leave/disconnect mutate
// the ref-counts and group sets atomically with respect to each other.
type Presence struct {
	mu      sync.Mutex
	conns   map[int]*connEntry
	members map[string]map[string]int   // room id -> user id -> connection ref-count
	groups  map[string]map[int]struct{} // group name -> connection ids
}

func NewPresence() *Presence {
	return &Presence{
		conns:   make(map[int]*connEntry),
		members: make(map[string]map[string]int),
		groups:  make(map[string]map[int]struct{}),
	}
}

// Register records a newly accepted connection with its resolved identity.
func (p *Presence) Register(connID int, id Identity) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.conns[connID] = &connEntry{
		identity: id,
		rooms:    make(map[string]struct{}),
		groups:   make(map[string]struct{}),
	}
}

// Unregister removes the connection from every group and decrements its room
// ref-counts. It returns the rooms where this was the user's last connection.
func (p *Presence) Unregister(connID int) []Departure {
	p.mu.Lock()
	defer p.mu.Unlock()

	entry, ok := p.conns[connID]
	if !ok {
		return nil
	}
	delete(p.conns, connID)

	for group := range entry.groups {
		p.removeFromGroup(group, connID)
	}

	var departures []Departure
	for roomID := range entry.rooms {
		if p.decrementMember(roomID, entry.identity.UserID) {
			departures = append(departures, Departure{RoomID: roomID, User: entry.identity})
		}
	}
	return departures
}

// Identity returns the identity attached to the connection.
func (p *Presence) Identity(connID int) (Identity, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	entry, ok := p.conns[connID]
	if !ok {
		return Identity{}, false
	}
	return entry.identity, true
}

// Join adds the connection to the room's transport group and increments the
// user's membership ref-count. Joining a room the connection is already in is
// a no-op. first reports whether the user went from absent to present; added
// reports whether this call actually recorded the connection, so callers can
// undo exactly what they caused and nothing more.
func (p *Presence) Join(connID int, roomID string) (first, added, ok bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	entry, exists := p.conns[connID]
	if !exists {
		return false, false, false
	}
	if _, joined := entry.rooms[roomID]; joined {
		return false, false, true
	}

	entry.rooms[roomID] = struct{}{}
	p.addToGroupLocked(entry, connID, GroupRoom(roomID))

	room, ok2 := p.members[roomID]
	if !ok2 {
		room = make(map[string]int)
		p.members[roomID] = room
	}
	room[entry.identity.UserID]++
	return room[entry.identity.UserID] == 1, true, true
}

// Leave removes the connection from the room. last reports whether the user's
// ref-count reached zero; joined reports whether the connection was in the
// room at all.
func (p *Presence) Leave(connID int, roomID string) (last bool, joined bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	entry, ok := p.conns[connID]
	if !ok {
		return false, false
	}
	if _, in := entry.rooms[roomID]; !in {
		return false, false
	}

	delete(entry.rooms, roomID)
	p.removeFromGroup(GroupRoom(roomID), connID)
	delete(entry.groups, GroupRoom(roomID))
	p.removeFromGroup(GroupRoomAgents(roomID), connID)
	delete(entry.groups, GroupRoomAgents(roomID))

	return p.decrementMember(roomID, entry.identity.UserID), true
}

// IsJoined reports whether the connection has explicitly joined the room.
func (p *Presence) IsJoined(connID int, roomID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	entry, ok := p.conns[connID]
	if !ok {
		return false
	}
	_, joined := entry.rooms[roomID]
	return joined
}

// Subscribe adds the connection to a transport group without touching
// membership ref-counts. Used for the agents group and agent room auto-join.
func (p *Presence) Subscribe(connID int, group string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	entry, ok := p.conns[connID]
	if !ok {
		return
	}
	p.addToGroupLocked(entry, connID, group)
}

// GroupConns returns the connections currently in the group.
func (p *Presence) GroupConns(group string) []int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.groupConnsLocked(group)
}

// GroupConnsExceptUser returns the connections in the group that do not belong
// to the given user. Used to broadcast presence changes to everyone but the
// user that caused them.
func (p *Presence) GroupConnsExceptUser(group, userID string) []int {
	p.mu.Lock()
	defer p.mu.Unlock()

	conns := make([]int, 0, len(p.groups[group]))
	for connID := range p.groups[group] {
		if entry, ok := p.conns[connID]; ok && entry.identity.UserID != userID {
			conns = append(conns, connID)
		}
	}
	slices.Sort(conns)
	return conns
}

// GroupConnsUnion returns the deduplicated union of several groups. Broadcast
// targets are evaluated at broadcast time, not at request time, so connections
// that dropped mid-operation are simply absent.
func (p *Presence) GroupConnsUnion(groups ...string) []int {
	p.mu.Lock()
	defer p.mu.Unlock()

	seen := make(map[int]struct{})
	for _, group := range groups {
		for connID := range p.groups[group] {
			seen[connID] = struct{}{}
		}
	}
	conns := make([]int, 0, len(seen))
	for connID := range seen {
		conns = append(conns, connID)
	}
	slices.Sort(conns)
	return conns
}

// RoomMembers returns the user ids currently present in the room.
func (p *Presence) RoomMembers(roomID string) []string {
	p.mu.Lock()
	defer p.mu.Unlock()

	users := make([]string, 0, len(p.members[roomID]))
	for userID := range p.members[roomID] {
		users = append(users, userID)
	}
	slices.Sort(users)
	return users
}

// Rooms returns the rooms the connection has explicitly joined.
func (p *Presence) Rooms(connID int) []string {
	p.mu.Lock()
	defer p.mu.Unlock()

	entry, ok := p.conns[connID]
	if !ok {
		return nil
	}
	rooms := make([]string, 0, len(entry.rooms))
	for roomID := range entry.rooms {
		rooms = append(rooms, roomID)
	}
	slices.Sort(rooms)
	return rooms
}

func (p *Presence) groupConnsLocked(group string) []int {
	conns := make([]int, 0, len(p.groups[group]))
	for connID := range p.groups[group] {
		conns = append(conns, connID)
	}
	slices.Sort(conns)
	return conns
}

func (p *Presence) addToGroupLocked(entry *connEntry, connID int, group string) {
	g, ok := p.groups[group]
	if !ok {
		g = make(map[int]struct{})
		p.groups[group] = g
	}
	g[connID] = struct{}{}
	entry.groups[group] = struct{}{}
}

func (p *Presence) removeFromGroup(group string, connID int) {
	g, ok := p.groups[group]
	if !ok {
		return
	}
	delete(g, connID)
	if len(g) == 0 {
		delete(p.groups, group)
	}
}

// decrementMember reports whether the user's ref-count reached zero.
func (p *Presence) decrementMember(roomID, userID string) bool {
	room, ok := p.members[roomID]
	if !ok {
		return false
	}
	room[userID]--
	if room[userID] > 0 {
		return false
	}
	delete(room, userID)
	if len(room) == 0 {
		delete(p.members, roomID)
	}
	return true
}
