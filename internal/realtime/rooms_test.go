package realtime

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRoomIndex_SubscribeIsIdempotent(t *testing.T) {
	x := NewRoomIndex()

	assert.True(t, x.Subscribe("proj-42", "c1"))
	assert.False(t, x.Subscribe("proj-42", "c1"))

	assert.Equal(t, []ConnectionID{"c1"}, x.MembersOf("proj-42"))
	rooms, memberships := x.Stats()
	assert.Equal(t, 1, rooms)
	assert.Equal(t, 1, memberships)
}

func TestRoomIndex_UnsubscribeNonMemberIsNoop(t *testing.T) {
	x := NewRoomIndex()
	x.Subscribe("proj-42", "c1")

	assert.False(t, x.Unsubscribe("proj-42", "c2"))
	assert.False(t, x.Unsubscribe("missing", "c1"))
	assert.Equal(t, 1, x.Size("proj-42"))
}

func TestRoomIndex_EmptyRoomIsDeleted(t *testing.T) {
	x := NewRoomIndex()
	x.Subscribe("proj-42", "c1")
	x.Subscribe("proj-42", "c2")

	assert.True(t, x.Unsubscribe("proj-42", "c1"))
	assert.Equal(t, []string{"proj-42"}, x.Rooms())

	assert.True(t, x.Unsubscribe("proj-42", "c2"))
	assert.Empty(t, x.Rooms())
	assert.Empty(t, x.MembersOf("proj-42"))
}

func TestRoomIndex_MembersOfIsSnapshot(t *testing.T) {
	x := NewRoomIndex()
	x.Subscribe("r", "b")
	x.Subscribe("r", "a")

	members := x.MembersOf("r")
	assert.Equal(t, []ConnectionID{"a", "b"}, members)

	x.Unsubscribe("r", "a")
	x.Subscribe("r", "c")
	assert.Equal(t, []ConnectionID{"a", "b"}, members)
}

func TestRoomIndex_RemoveConnectionEverywhere(t *testing.T) {
	x := NewRoomIndex()
	x.Subscribe("r1", "c1")
	x.Subscribe("r2", "c1")
	x.Subscribe("r2", "c2")

	x.RemoveConnectionEverywhere("c1", []string{"r1", "r2", "never-joined"})

	assert.False(t, x.IsMember("r1", "c1"))
	assert.False(t, x.IsMember("r2", "c1"))
	assert.True(t, x.IsMember("r2", "c2"))
	assert.Equal(t, []string{"r2"}, x.Rooms())
}

func TestRoomIndex_Stats(t *testing.T) {
	tests := []struct {
		name            string
		setup           func(*RoomIndex)
		wantRooms       int
		wantMemberships int
	}{
		{
			name:  "empty",
			setup: func(*RoomIndex) {},
		},
		{
			name: "one connection in two rooms",
			setup: func(x *RoomIndex) {
				x.Subscribe("r1", "c1")
				x.Subscribe("r2", "c1")
			},
			wantRooms:       2,
			wantMemberships: 2,
		},
		{
			name: "shared room",
			setup: func(x *RoomIndex) {
				x.Subscribe("r1", "c1")
				x.Subscribe("r1", "c2")
				x.Subscribe("r1", "c3")
			},
			wantRooms:       1,
			wantMemberships: 3,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			x := NewRoomIndex()
			tt.setup(x)

			rooms, memberships := x.Stats()
			assert.Equal(t, tt.wantRooms, rooms)
			assert.Equal(t, tt.wantMemberships, memberships)
		})
	}
}
