package realtime

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollaboration_Typing(t *testing.T) {
	clock := newManualClock()
	c := NewCollaboration(0, clock.Now, zerolog.Nop())

	c.SetTyping("p1", "c2", "u2", "Bea", "chapter-1", true)
	c.SetTyping("p1", "c3", "u3", "Cal", "chapter-2", true)
	got := c.SetTyping("p1", "c1", "u1", "Ann", "chapter-1", true)

	require.Len(t, got, 2)
	assert.Equal(t, "u1", got[0].UserID)
	assert.Equal(t, "u2", got[1].UserID)
	assert.Equal(t, clock.Now().UnixMilli(), got[0].Timestamp)

	got = c.SetTyping("p1", "c1", "u1", "Ann", "chapter-1", false)
	require.Len(t, got, 1)
	assert.Equal(t, "u2", got[0].UserID)
}

func TestCollaboration_SweepExpiresTyping(t *testing.T) {
	clock := newManualClock()
	c := NewCollaboration(5*time.Second, clock.Now, zerolog.Nop())

	c.SetTyping("p1", "c1", "u1", "Ann", "loc", true)
	clock.Advance(3 * time.Second)
	c.SetTyping("p1", "c2", "u2", "Bea", "loc", true)
	clock.Advance(3 * time.Second)

	changed := c.Sweep()
	require.Len(t, changed, 1)
	assert.Equal(t, "p1", changed[0].ProjectID)
	assert.Equal(t, "loc", changed[0].Location)
	require.Len(t, changed[0].TypingUsers, 1)
	assert.Equal(t, "u2", changed[0].TypingUsers[0].UserID)

	got := c.SetTyping("p1", "c3", "u3", "Cal", "loc", false)
	require.Len(t, got, 1)
	assert.Equal(t, "u2", got[0].UserID)

	clock.Advance(10 * time.Second)
	changed = c.Sweep()
	require.Len(t, changed, 1)
	assert.NotNil(t, changed[0].TypingUsers)
	assert.Empty(t, changed[0].TypingUsers)
	assert.Empty(t, c.Sweep())
}

func TestCollaboration_Locks(t *testing.T) {
	c := NewCollaboration(0, nil, zerolog.Nop())

	holder, ok := c.Lock("p1", "doc", "u1", "c1")
	assert.True(t, ok)
	assert.Equal(t, "u1", holder)

	holder, ok = c.Lock("p1", "doc", "u1", "c1")
	assert.True(t, ok, "re-acquire by holder")
	assert.Equal(t, "u1", holder)

	holder, ok = c.Lock("p1", "doc", "u2", "c2")
	assert.False(t, ok)
	assert.Equal(t, "u1", holder)

	_, ok = c.Lock("p2", "doc", "u2", "c2")
	assert.True(t, ok, "locks are per project")

	c.Unlock("p1", "doc")
	_, held := c.LockHolder("p1", "doc")
	assert.False(t, held)

	_, ok = c.Lock("p1", "doc", "u2", "c2")
	assert.True(t, ok)
}

func TestCollaboration_ReleaseConnection(t *testing.T) {
	c := NewCollaboration(0, nil, zerolog.Nop())
	c.Lock("p2", "b", "u1", "c1")
	c.Lock("p1", "z", "u1", "c1")
	c.Lock("p1", "a", "u1", "c1")
	c.Lock("p1", "other", "u2", "c2")
	c.SetTyping("p1", "c1", "u1", "Ann", "loc", true)
	c.SetTyping("p1", "c2", "u2", "Bea", "loc", true)
	c.SetTyping("p3", "c1", "u1", "Ann", "intro", true)

	released, typing := c.ReleaseConnection("c1")

	assert.Equal(t, []LockRelease{
		{ProjectID: "p1", DocumentID: "a", UserID: "u1"},
		{ProjectID: "p1", DocumentID: "z", UserID: "u1"},
		{ProjectID: "p2", DocumentID: "b", UserID: "u1"},
	}, released)
	require.Len(t, typing, 2)
	assert.Equal(t, "p1", typing[0].ProjectID)
	assert.Equal(t, "loc", typing[0].Location)
	require.Len(t, typing[0].TypingUsers, 1)
	assert.Equal(t, "u2", typing[0].TypingUsers[0].UserID)
	assert.Equal(t, "p3", typing[1].ProjectID)
	assert.Empty(t, typing[1].TypingUsers)

	holder, held := c.LockHolder("p1", "other")
	assert.True(t, held)
	assert.Equal(t, "u2", holder)
	assert.Empty(t, c.SetTyping("p1", "c2", "u2", "Bea", "loc", false))
	released, typing = c.ReleaseConnection("c1")
	assert.Empty(t, released)
	assert.Empty(t, typing)
}
