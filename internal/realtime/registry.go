package realtime

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrUnknownConnection is returned for operations on an identity that is
	// not (or no longer) registered.
	ErrUnknownConnection = errors.New("unknown connection")
	// ErrTransportClosed is returned by transports that have been closed.
	ErrTransportClosed = errors.New("transport closed")
	// ErrSlowConsumer is returned by transports whose outbound queue stayed
	// full for longer than the write timeout.
	ErrSlowConsumer = errors.New("slow consumer")
	// ErrHeartbeatTimeout is the eviction cause for connections that stopped
	// answering pings.
	ErrHeartbeatTimeout = errors.New("heartbeat timeout")
)

// ConnectionID identifies one live connection. IDs are never reused.
type ConnectionID string

// Transport is the write side of one client link. Send must return within
// a bounded time; implementations serialise their own socket writes.
type Transport interface {
	Send(frame []byte) error
	Ping() error
	Close() error
}

// Clock returns the current time. Tests substitute a manual clock.
type Clock func() time.Time

// HeartbeatState is the liveness state of a connection.
type HeartbeatState int

const (
	// StateAlive means the last probe was answered, or none was sent yet.
	StateAlive HeartbeatState = iota
	// StateAwaitingPong means a ping went out and no liveness signal followed.
	StateAwaitingPong
)

func (s HeartbeatState) String() string {
	switch s {
	case StateAlive:
		return "alive"
	case StateAwaitingPong:
		return "awaiting_pong"
	default:
		return "unknown"
	}
}

type entry struct {
	transport Transport
	lastSeen  time.Time
	state     HeartbeatState
	rooms     map[string]struct{}

	// sendMu serialises writes to the transport.
	sendMu sync.Mutex
}

// Registry owns the set of live connections and their metadata.
// Thread-safe: all methods may be called concurrently.
type Registry struct {
	mu    sync.RWMutex
	conns map[ConnectionID]*entry
	now   Clock
	newID func() ConnectionID
}

// NewRegistry creates an empty registry using clock for liveness stamps.
// A nil clock means time.Now.
func NewRegistry(clock Clock) *Registry {
	if clock == nil {
		clock = time.Now
	}
	return &Registry{
		conns: make(map[ConnectionID]*entry),
		now:   clock,
		newID: func() ConnectionID { return ConnectionID(uuid.NewString()) },
	}
}

// Register starts tracking t under a fresh identity.
func (r *Registry) Register(t Transport) ConnectionID {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := r.newID()
	for _, taken := r.conns[id]; taken; _, taken = r.conns[id] {
		id = r.newID()
	}
	r.conns[id] = &entry{
		transport: t,
		lastSeen:  r.now(),
		state:     StateAlive,
		rooms:     make(map[string]struct{}),
	}
	return id
}

// Touch records a liveness signal. Unknown identities are ignored: the
// connection may have been torn down concurrently.
func (r *Registry) Touch(id ConnectionID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if e, ok := r.conns[id]; ok {
		e.lastSeen = r.now()
		e.state = StateAlive
	}
}

// Remove detaches id and hands back its subscriptions and transport so the
// caller can clean up rooms and close the transport exactly once. ok is
// false when id was already removed.
func (r *Registry) Remove(id ConnectionID) (rooms []string, t Transport, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.conns[id]
	if !ok {
		return nil, nil, false
	}
	delete(r.conns, id)
	return sortedKeys(e.rooms), e.transport, true
}

// Send writes frame to the connection's transport. Writes to the same
// connection never overlap.
func (r *Registry) Send(id ConnectionID, frame []byte) error {
	e, ok := r.lookup(id)
	if !ok {
		return ErrUnknownConnection
	}
	e.sendMu.Lock()
	defer e.sendMu.Unlock()
	return e.transport.Send(frame)
}

// Ping sends a liveness probe and marks the connection as awaiting a pong.
func (r *Registry) Ping(id ConnectionID) error {
	e, ok := r.lookup(id)
	if !ok {
		return ErrUnknownConnection
	}

	r.mu.Lock()
	e.state = StateAwaitingPong
	r.mu.Unlock()

	e.sendMu.Lock()
	defer e.sendMu.Unlock()
	return e.transport.Ping()
}

// Contains reports whether id is registered.
func (r *Registry) Contains(id ConnectionID) bool {
	_, ok := r.lookup(id)
	return ok
}

// Len returns the number of live connections.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// LastSeen returns the last liveness time of id.
func (r *Registry) LastSeen(id ConnectionID) (time.Time, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.conns[id]
	if !ok {
		return time.Time{}, false
	}
	return e.lastSeen, true
}

// State returns the heartbeat state of id.
func (r *Registry) State(id ConnectionID) (HeartbeatState, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.conns[id]
	if !ok {
		return StateAlive, false
	}
	return e.state, true
}

// Subscriptions returns a sorted copy of the rooms id belongs to.
func (r *Registry) Subscriptions(id ConnectionID) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.conns[id]
	if !ok {
		return nil
	}
	return sortedKeys(e.rooms)
}

// IDs returns a snapshot of all registered identities.
func (r *Registry) IDs() []ConnectionID {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]ConnectionID, 0, len(r.conns))
	for id := range r.conns {
		ids = append(ids, id)
	}
	return ids
}

type liveness struct {
	id       ConnectionID
	lastSeen time.Time
}

func (r *Registry) livenessSnapshot() []liveness {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]liveness, 0, len(r.conns))
	for id, e := range r.conns {
		out = append(out, liveness{id: id, lastSeen: e.lastSeen})
	}
	return out
}

// addRoom records room in id's subscription set. It reports false when id
// is not registered.
func (r *Registry) addRoom(id ConnectionID, room string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.conns[id]
	if !ok {
		return false
	}
	e.rooms[room] = struct{}{}
	return true
}

func (r *Registry) removeRoom(id ConnectionID, room string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if e, ok := r.conns[id]; ok {
		delete(e.rooms, room)
	}
}

func (r *Registry) lookup(id ConnectionID) (*entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.conns[id]
	return e, ok
}

func sortedKeys(set map[string]struct{}) []string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
