package realtime

import (
	"sort"
	"sync"
)

// RoomIndex maps room identifiers to their member connections. Rooms exist
// only while they have members.
type RoomIndex struct {
	mu    sync.RWMutex
	rooms map[string]map[ConnectionID]struct{}
}

// NewRoomIndex creates an empty index.
func NewRoomIndex() *RoomIndex {
	return &RoomIndex{rooms: make(map[string]map[ConnectionID]struct{})}
}

// Subscribe adds id to room, creating the room if needed. It reports
// whether id was newly added.
func (x *RoomIndex) Subscribe(room string, id ConnectionID) bool {
	x.mu.Lock()
	defer x.mu.Unlock()

	members, ok := x.rooms[room]
	if !ok {
		members = make(map[ConnectionID]struct{})
		x.rooms[room] = members
	}
	if _, dup := members[id]; dup {
		return false
	}
	members[id] = struct{}{}
	return true
}

// Unsubscribe removes id from room and deletes the room once empty. It
// reports whether id was a member.
func (x *RoomIndex) Unsubscribe(room string, id ConnectionID) bool {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.unsubscribeLocked(room, id)
}

func (x *RoomIndex) unsubscribeLocked(room string, id ConnectionID) bool {
	members, ok := x.rooms[room]
	if !ok {
		return false
	}
	if _, member := members[id]; !member {
		return false
	}
	delete(members, id)
	if len(members) == 0 {
		delete(x.rooms, room)
	}
	return true
}

// MembersOf returns a sorted snapshot of room's members. The slice is owned
// by the caller.
func (x *RoomIndex) MembersOf(room string) []ConnectionID {
	x.mu.RLock()
	defer x.mu.RUnlock()

	members := x.rooms[room]
	out := make([]ConnectionID, 0, len(members))
	for id := range members {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// IsMember reports whether id belongs to room.
func (x *RoomIndex) IsMember(room string, id ConnectionID) bool {
	x.mu.RLock()
	defer x.mu.RUnlock()
	_, ok := x.rooms[room][id]
	return ok
}

// Size returns the number of members of room.
func (x *RoomIndex) Size(room string) int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.rooms[room])
}

// RemoveConnectionEverywhere drops id from every room in knownRooms, the
// subscription set handed back by Registry.Remove.
func (x *RoomIndex) RemoveConnectionEverywhere(id ConnectionID, knownRooms []string) {
	x.mu.Lock()
	defer x.mu.Unlock()

	for _, room := range knownRooms {
		x.unsubscribeLocked(room, id)
	}
}

// Rooms returns the identifiers of all non-empty rooms.
func (x *RoomIndex) Rooms() []string {
	x.mu.RLock()
	defer x.mu.RUnlock()

	out := make([]string, 0, len(x.rooms))
	for room := range x.rooms {
		out = append(out, room)
	}
	sort.Strings(out)
	return out
}

// Stats returns the number of rooms and the total number of memberships.
func (x *RoomIndex) Stats() (rooms, memberships int) {
	x.mu.RLock()
	defer x.mu.RUnlock()

	rooms = len(x.rooms)
	for _, members := range x.rooms {
		memberships += len(members)
	}
	return rooms, memberships
}
