package realtime

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/fablecraft/realtime-core/internal/protocol"
)

type fakeTransport struct {
	mu      sync.Mutex
	frames  [][]byte
	pings   int
	closed  int
	sendErr error
	pingErr error
}

func (f *fakeTransport) Send(frame []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed > 0 {
		return ErrTransportClosed
	}
	if f.sendErr != nil {
		return f.sendErr
	}
	f.frames = append(f.frames, frame)
	return nil
}

func (f *fakeTransport) Ping() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.pingErr != nil {
		return f.pingErr
	}
	f.pings++
	return nil
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed++
	return nil
}

func (f *fakeTransport) failSends(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sendErr = err
}

func (f *fakeTransport) closeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *fakeTransport) pingCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pings
}

// envelopes decodes every frame received so far.
func (f *fakeTransport) envelopes(t *testing.T) []protocol.Envelope {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make([]protocol.Envelope, 0, len(f.frames))
	for _, frame := range f.frames {
		var env protocol.Envelope
		require.NoError(t, json.Unmarshal(frame, &env))
		out = append(out, env)
	}
	return out
}

// ofType returns the received envelopes tagged typ.
func (f *fakeTransport) ofType(t *testing.T, typ protocol.Type) []protocol.Envelope {
	t.Helper()
	var out []protocol.Envelope
	for _, env := range f.envelopes(t) {
		if env.Type == typ {
			out = append(out, env)
		}
	}
	return out
}

type manualClock struct {
	mu sync.Mutex
	t  time.Time
}

func newManualClock() *manualClock {
	return &manualClock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func newTestHub(clock Clock) *Hub {
	return NewHub(HubOptions{Clock: clock, Logger: zerolog.Nop()})
}

// connect registers a fresh fake transport and discards its acknowledgement.
func connect(t *testing.T, h *Hub) (ConnectionID, *fakeTransport) {
	t.Helper()
	ft := &fakeTransport{}
	id := h.Connect(ft)
	require.Len(t, ft.ofType(t, protocol.TypeConnectionEstablished), 1)
	ft.mu.Lock()
	ft.frames = nil
	ft.mu.Unlock()
	return id, ft
}

// checkConsistency verifies that registry subscriptions and room membership
// mirror each other.
func checkConsistency(h *Hub) error {
	h.topo.Lock()
	defer h.topo.Unlock()

	for _, room := range h.rooms.Rooms() {
		for _, id := range h.rooms.MembersOf(room) {
			if !contains(h.registry.Subscriptions(id), room) {
				return fmt.Errorf("%v in room %v but not subscribed", id, room)
			}
		}
	}
	for _, id := range h.registry.IDs() {
		for _, room := range h.registry.Subscriptions(id) {
			if !h.rooms.IsMember(room, id) {
				return fmt.Errorf("%v subscribed to %v but not a member", id, room)
			}
		}
	}
	return nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

var errBroken = errors.New("broken pipe")
