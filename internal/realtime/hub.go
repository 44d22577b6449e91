package realtime

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/fablecraft/realtime-core/internal/protocol"
)

// DisconnectListener is notified after a connection has been torn down.
type DisconnectListener interface {
	ConnectionClosed(id ConnectionID)
}

// Stats is the operational snapshot exposed to the HTTP layer.
type Stats struct {
	Connections int `json:"connections"`
	Rooms       int `json:"rooms"`
	Memberships int `json:"memberships"`
	Flows       int `json:"flows"`
}

// HubOptions configures a Hub. Zero values select defaults.
type HubOptions struct {
	Clock       Clock
	FlowTimeout time.Duration
	Logger      zerolog.Logger
}

// Hub is the connection and room core. It is created once at startup and
// passed by reference to the HTTP layer, the router and the heartbeat
// monitor.
//
// Membership changes and teardown are serialised by topo so that a
// connection is never visible in the Registry without its rooms, or in a
// room without its Registry entry.
type Hub struct {
	registry *Registry
	rooms    *RoomIndex
	engine   *Engine
	flows    *FlowRunner
	logger   zerolog.Logger

	topo sync.Mutex

	lmu       sync.RWMutex
	listeners []DisconnectListener
}

// NewHub builds a Hub with empty registry and room index.
func NewHub(opts HubOptions) *Hub {
	h := &Hub{
		registry: NewRegistry(opts.Clock),
		rooms:    NewRoomIndex(),
		logger:   opts.Logger,
	}
	h.engine = NewEngine(h.registry, h.rooms, h, opts.Clock, opts.Logger)
	h.flows = NewFlowRunner(h.engine, opts.FlowTimeout, opts.Logger)
	return h
}

// Registry returns the connection registry.
func (h *Hub) Registry() *Registry { return h.registry }

// Rooms returns the room index.
func (h *Hub) Rooms() *RoomIndex { return h.rooms }

// Engine returns the broadcast engine.
func (h *Hub) Engine() *Engine { return h.engine }

// Flows returns the progress-flow runner.
func (h *Hub) Flows() *FlowRunner { return h.flows }

// AddListener registers l for teardown notifications.
func (h *Hub) AddListener(l DisconnectListener) {
	h.lmu.Lock()
	defer h.lmu.Unlock()
	h.listeners = append(h.listeners, l)
}

// Connect registers t and sends it the connection-established
// acknowledgement carrying its identity.
func (h *Hub) Connect(t Transport) ConnectionID {
	id := h.registry.Register(t)
	h.logger.Info().
		Str("connection_id", string(id)).
		Int("connections", h.registry.Len()).
		Msg("connection registered")

	ack := protocol.Message{
		Type:    protocol.TypeConnectionEstablished,
		Payload: protocol.Established{ClientID: string(id)},
	}
	if err := h.engine.SendToConnection(id, ack); err != nil {
		h.logger.Warn().Err(err).Str("connection_id", string(id)).Msg("failed to acknowledge connection")
	}
	return id
}

// Touch records a liveness signal for id.
func (h *Hub) Touch(id ConnectionID) { h.registry.Touch(id) }

// Connected reports whether id is registered.
func (h *Hub) Connected(id ConnectionID) bool { return h.registry.Contains(id) }

// Subscribe adds id to room. Subscribing twice is the same as once.
func (h *Hub) Subscribe(room string, id ConnectionID) error {
	h.topo.Lock()
	defer h.topo.Unlock()

	if !h.registry.addRoom(id, room) {
		return ErrUnknownConnection
	}
	if h.rooms.Subscribe(room, id) {
		h.logger.Debug().Str("connection_id", string(id)).Str("room", room).Msg("subscribed")
	}
	return nil
}

// Unsubscribe removes id from room. It reports whether id was a member.
func (h *Hub) Unsubscribe(room string, id ConnectionID) bool {
	h.topo.Lock()
	defer h.topo.Unlock()

	h.registry.removeRoom(id, room)
	removed := h.rooms.Unsubscribe(room, id)
	if removed {
		h.logger.Debug().Str("connection_id", string(id)).Str("room", room).Msg("unsubscribed")
	}
	return removed
}

// Disconnect tears id down after the transport reported a close or error.
func (h *Hub) Disconnect(id ConnectionID, cause error) {
	h.Evict(id, cause)
}

// Evict removes id from the registry and from every room, notifies
// listeners, and closes the transport. Repeated calls are no-ops.
func (h *Hub) Evict(id ConnectionID, cause error) {
	h.topo.Lock()
	rooms, t, ok := h.registry.Remove(id)
	if ok {
		h.rooms.RemoveConnectionEverywhere(id, rooms)
	}
	h.topo.Unlock()

	if !ok {
		return
	}

	ev := h.logger.Info().
		Str("connection_id", string(id)).
		Strs("rooms", rooms).
		Int("connections", h.registry.Len())
	if cause != nil {
		ev = ev.AnErr("cause", cause)
	}
	ev.Msg("connection removed")

	if n := h.flows.ConnectionClosed(id, func(room string) bool { return h.rooms.Size(room) == 0 }); n > 0 {
		h.logger.Info().Str("connection_id", string(id)).Int("flows", n).Msg("cancelled orphaned flows")
	}

	h.lmu.RLock()
	listeners := append([]DisconnectListener(nil), h.listeners...)
	h.lmu.RUnlock()
	for _, l := range listeners {
		l.ConnectionClosed(id)
	}

	if err := t.Close(); err != nil && !errors.Is(err, ErrTransportClosed) {
		h.logger.Debug().Err(err).Str("connection_id", string(id)).Msg("error closing transport")
	}
}

// BroadcastToRoom delivers msg to every member of room except exclude. It
// is also the entry point for events originating outside the WebSocket path.
func (h *Hub) BroadcastToRoom(room string, msg protocol.Message, exclude ConnectionID) int {
	return h.engine.BroadcastToRoom(room, msg, exclude)
}

// SendToConnection delivers msg to a single connection.
func (h *Hub) SendToConnection(id ConnectionID, msg protocol.Message) error {
	return h.engine.SendToConnection(id, msg)
}

// Stats returns connection, room, membership and flow counts.
func (h *Hub) Stats() Stats {
	h.topo.Lock()
	defer h.topo.Unlock()

	rooms, memberships := h.rooms.Stats()
	return Stats{
		Connections: h.registry.Len(),
		Rooms:       rooms,
		Memberships: memberships,
		Flows:       h.flows.Active(),
	}
}

// Shutdown stops all flows and closes every connection.
func (h *Hub) Shutdown(ctx context.Context) error {
	h.logger.Info().Msg("shutting down realtime hub")

	err := h.flows.Shutdown(ctx)

	ids := h.registry.IDs()
	for _, id := range ids {
		h.Evict(id, nil)
	}
	h.logger.Info().Int("closed", len(ids)).Msg("realtime hub shut down")
	return err
}
