package realtime

import (
	"errors"

	"github.com/rs/zerolog"

	"github.com/fablecraft/realtime-core/internal/protocol"
)

// Broadcaster delivers messages to rooms and single connections.
type Broadcaster interface {
	// BroadcastToRoom sends msg to every member of room except exclude
	// (which may be empty) and returns how many members accepted it.
	BroadcastToRoom(room string, msg protocol.Message, exclude ConnectionID) int
	// SendToConnection sends msg to one connection.
	SendToConnection(id ConnectionID, msg protocol.Message) error
}

// Evictor tears a connection down after a fatal transport condition.
type Evictor interface {
	Evict(id ConnectionID, cause error)
}

// Engine is the Broadcaster backed by a Registry and a RoomIndex. Every
// write to a transport goes through Registry.Send from here, so send
// failures are observed and handled in one place.
type Engine struct {
	registry *Registry
	rooms    *RoomIndex
	evictor  Evictor
	now      Clock
	logger   zerolog.Logger
}

// NewEngine wires an Engine. Failing recipients are handed to evictor.
func NewEngine(registry *Registry, rooms *RoomIndex, evictor Evictor, clock Clock, logger zerolog.Logger) *Engine {
	if clock == nil {
		clock = registry.now
	}
	return &Engine{
		registry: registry,
		rooms:    rooms,
		evictor:  evictor,
		now:      clock,
		logger:   logger,
	}
}

// BroadcastToRoom implements Broadcaster. One bad member never stops
// delivery to the others; failed members are evicted after the fan-out.
func (e *Engine) BroadcastToRoom(room string, msg protocol.Message, exclude ConnectionID) int {
	members := e.rooms.MembersOf(room)
	if len(members) == 0 {
		e.logger.Debug().Str("room", room).Str("type", string(msg.Type)).Msg("broadcast to empty room")
		return 0
	}

	frame, err := protocol.Encode(msg, e.now())
	if err != nil {
		e.logger.Error().Err(err).Str("room", room).Msg("failed to encode broadcast")
		return 0
	}

	delivered := 0
	var failed []ConnectionID
	var causes []error
	for _, id := range members {
		if id == exclude {
			continue
		}
		if err := e.registry.Send(id, frame); err != nil {
			if errors.Is(err, ErrUnknownConnection) {
				continue
			}
			e.logger.Warn().Err(err).
				Str("room", room).
				Str("connection_id", string(id)).
				Msg("broadcast send failed")
			failed = append(failed, id)
			causes = append(causes, err)
			continue
		}
		delivered++
	}

	e.logger.Debug().
		Str("room", room).
		Str("type", string(msg.Type)).
		Int("delivered", delivered).
		Int("members", len(members)).
		Msg("broadcast")

	for i, id := range failed {
		e.evictor.Evict(id, causes[i])
	}
	return delivered
}

// SendToConnection implements Broadcaster. A failed write evicts the
// connection before the error is returned.
func (e *Engine) SendToConnection(id ConnectionID, msg protocol.Message) error {
	frame, err := protocol.Encode(msg, e.now())
	if err != nil {
		return err
	}
	if err := e.registry.Send(id, frame); err != nil {
		if !errors.Is(err, ErrUnknownConnection) {
			e.logger.Warn().Err(err).Str("connection_id", string(id)).Msg("direct send failed")
			e.evictor.Evict(id, err)
		}
		return err
	}
	return nil
}
