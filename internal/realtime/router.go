package realtime

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/fablecraft/realtime-core/internal/protocol"
)

// Core is what the router needs from the hub.
type Core interface {
	Broadcaster
	Subscribe(room string, id ConnectionID) error
	Unsubscribe(room string, id ConnectionID) bool
	Touch(id ConnectionID)
	Connected(id ConnectionID) bool
}

// DefaultGenerationSteps are the progress stages reported for a character
// generation run.
var DefaultGenerationSteps = []Step{
	{Name: "analyzing", Progress: 20, Message: "Analyzing character traits..."},
	{Name: "generating", Progress: 50, Message: "Generating character details..."},
	{Name: "enhancing", Progress: 80, Message: "Enhancing character profile..."},
	{Name: "complete", Progress: 100, Message: "Character generation complete!"},
}

// RouterOptions configures a Router. Zero values select defaults.
type RouterOptions struct {
	GenerationSteps []Step
	StepInterval    time.Duration
	Logger          zerolog.Logger
}

// Router decodes inbound frames and dispatches them by type tag. It keeps
// no state of its own beyond the collaboration tables.
type Router struct {
	core   Core
	flows  *FlowRunner
	collab *Collaboration
	steps  []Step
	every  time.Duration
	logger zerolog.Logger
}

// NewRouter creates a router over core.
func NewRouter(core Core, flows *FlowRunner, collab *Collaboration, opts RouterOptions) *Router {
	steps := opts.GenerationSteps
	if len(steps) == 0 {
		steps = DefaultGenerationSteps
	}
	every := opts.StepInterval
	if every <= 0 {
		every = time.Second
	}
	return &Router{
		core:   core,
		flows:  flows,
		collab: collab,
		steps:  steps,
		every:  every,
		logger: opts.Logger,
	}
}

// Handle processes one raw frame received on connection id. Malformed
// frames and unknown tags are logged and dropped; the connection stays up.
func (r *Router) Handle(id ConnectionID, frame []byte) {
	r.core.Touch(id)

	logger := r.logger.With().Str("connection_id", string(id)).Logger()

	env, msg, err := protocol.Decode(frame)
	if err != nil {
		logger.Warn().Err(err).Msg("dropping invalid message")
		return
	}
	if env.ClientID != "" && env.ClientID != string(id) {
		logger.Debug().Str("claimed", env.ClientID).Msg("ignoring client-supplied identity")
	}

	origin := string(id)
	switch m := msg.(type) {
	case protocol.Subscribe:
		if err := r.core.Subscribe(m.RoomID, id); err != nil {
			logger.Warn().Err(err).Str("room", m.RoomID).Msg("subscribe failed")
			return
		}
		r.reply(logger, id, protocol.TypeRoomSubscribed, protocol.RoomAck{RoomID: m.RoomID})

	case protocol.Unsubscribe:
		r.core.Unsubscribe(m.RoomID, id)
		r.reply(logger, id, protocol.TypeRoomUnsubscribed, protocol.RoomAck{RoomID: m.RoomID})

	case protocol.Ping:
		r.reply(logger, id, protocol.TypePong, nil)

	case protocol.ProjectUpdate:
		r.core.BroadcastToRoom(protocol.ProjectRoom(m.ProjectID), protocol.Message{
			Type:    protocol.TypeProjectUpdated,
			Payload: m.Raw,
			Origin:  origin,
		}, id)

	case protocol.ProjectStatusUpdate:
		r.core.BroadcastToRoom(protocol.ProjectRoom(m.ProjectID), protocol.Message{
			Type: protocol.TypeProjectStatusUpdated,
			Payload: protocol.StatusUpdated{
				ProjectID: m.ProjectID,
				Status:    m.Status,
				Metadata:  m.Metadata,
			},
			Origin: origin,
		}, id)

	case protocol.CharacterFieldUpdate:
		r.core.BroadcastToRoom(protocol.ProjectRoom(m.ProjectID), protocol.Message{
			Type: protocol.TypeCharacterFieldUpdated,
			Payload: protocol.FieldUpdated{
				CharacterID: m.CharacterID,
				Field:       m.Field,
				Value:       m.Value,
				UserID:      m.UserID,
				Optimistic:  true,
			},
			Origin: origin,
		}, id)

	case protocol.WorldElementUpdate:
		r.core.BroadcastToRoom(protocol.WorldRoom(m.ProjectID), protocol.Message{
			Type: protocol.TypeWorldElementUpdated,
			Payload: protocol.ElementUpdated{
				ElementType: m.ElementType,
				ElementID:   m.ElementID,
				Data:        m.Data,
				Optimistic:  true,
			},
			Origin: origin,
		}, id)
		r.core.BroadcastToRoom(protocol.WorldRoom(m.ProjectID), protocol.Message{
			Type: protocol.TypeWorldElementConfirmed,
			Payload: protocol.ElementConfirmed{
				ElementType: m.ElementType,
				ElementID:   m.ElementID,
				Data:        m.Data,
			},
			Origin: origin,
		}, "")

	case protocol.CollaborationInvite:
		r.core.BroadcastToRoom(protocol.UserRoom(m.InviteeEmail), protocol.Message{
			Type: protocol.TypeCollaborationInvite,
			Payload: protocol.Invitation{
				ProjectID:   m.ProjectID,
				InviterName: m.InviterName,
				Role:        m.Role,
			},
			Origin: origin,
		}, "")
		r.core.BroadcastToRoom(protocol.ProjectRoom(m.ProjectID), protocol.Message{
			Type:    protocol.TypeInviteSent,
			Payload: protocol.InvitationSent{InviteeEmail: m.InviteeEmail, Role: m.Role},
			Origin:  origin,
		}, "")

	case protocol.TypingIndicator:
		typing := r.collab.SetTyping(m.ProjectID, id, m.UserID, m.UserName, m.Location, m.IsTyping)
		if r.departed(logger, id) {
			return
		}
		r.core.BroadcastToRoom(protocol.ProjectRoom(m.ProjectID), protocol.Message{
			Type:    protocol.TypeTypingUpdate,
			Payload: protocol.TypingUpdate{Location: m.Location, TypingUsers: typing},
			Origin:  origin,
		}, id)

	case protocol.DocumentLock:
		r.handleLock(logger, id, m)

	case protocol.GenerationStart:
		r.startGeneration(logger, id, m)

	case protocol.Unknown:
		logger.Warn().Str("type", string(m.Type)).Msg("unknown message type")

	default:
		logger.Warn().Str("type", string(msg.Kind())).Msg("unhandled message type")
	}
}

func (r *Router) handleLock(logger zerolog.Logger, id ConnectionID, m protocol.DocumentLock) {
	room := protocol.ProjectRoom(m.ProjectID)

	if m.Action == protocol.LockRelease {
		r.collab.Unlock(m.ProjectID, m.DocumentID)
		logger.Info().Str("document_id", m.DocumentID).Str("user_id", m.UserID).Msg("document unlocked")
		r.core.BroadcastToRoom(room, protocol.Message{
			Type:    protocol.TypeDocumentLockUpdate,
			Payload: protocol.LockUpdate{DocumentID: m.DocumentID},
			Origin:  string(id),
		}, "")
		return
	}

	holder, ok := r.collab.Lock(m.ProjectID, m.DocumentID, m.UserID, id)
	if !ok {
		r.reply(logger, id, protocol.TypeDocumentLockDenied, protocol.LockDenied{
			DocumentID: m.DocumentID,
			LockedBy:   holder,
			Reason:     "Document is being edited by another user",
		})
		return
	}
	if r.departed(logger, id) {
		return
	}

	logger.Info().Str("document_id", m.DocumentID).Str("user_id", m.UserID).Msg("document locked")
	r.core.BroadcastToRoom(room, protocol.Message{
		Type:    protocol.TypeDocumentLockUpdate,
		Payload: protocol.LockUpdate{DocumentID: m.DocumentID, IsLocked: true, LockedBy: &holder},
		Origin:  string(id),
	}, "")
}

func (r *Router) startGeneration(logger zerolog.Logger, id ConnectionID, m protocol.GenerationStart) {
	room := protocol.GenerationRoom(m.ProjectID)
	if err := r.core.Subscribe(room, id); err != nil {
		logger.Warn().Err(err).Str("room", room).Msg("cannot start generation for departed connection")
		return
	}

	generationID := uuid.NewString()
	r.core.BroadcastToRoom(protocol.ProjectRoom(m.ProjectID), protocol.Message{
		Type: protocol.TypeGenerationStarted,
		Payload: protocol.GenerationStarted{
			GenerationID: generationID,
			Prompt:       m.Prompt,
			Room:         room,
			Status:       "initializing",
		},
		Origin: string(id),
	}, "")

	r.flows.Start(Flow{
		ID:        generationID,
		Room:      room,
		Origin:    id,
		Type:      protocol.TypeGenerationProgress,
		ErrorType: protocol.TypeGenerationError,
		Steps:     r.steps,
		Interval:  r.every,
	})
}

// ConnectionClosed releases the document locks and typing indicators held
// through id and tells the affected projects.
func (r *Router) ConnectionClosed(id ConnectionID) {
	locks, typing := r.collab.ReleaseConnection(id)
	for _, rel := range locks {
		r.logger.Info().
			Str("connection_id", string(id)).
			Str("document_id", rel.DocumentID).
			Str("user_id", rel.UserID).
			Msg("released lock of departed connection")
		r.core.BroadcastToRoom(protocol.ProjectRoom(rel.ProjectID), protocol.Message{
			Type:    protocol.TypeDocumentLockUpdate,
			Payload: protocol.LockUpdate{DocumentID: rel.DocumentID},
		}, "")
	}
	r.publishTyping(typing)
}

// departed reports whether id was torn down while its frame was in flight.
// Teardown removes id from the registry before listeners release its
// collaboration state, so a write made after that release is seen here and
// rolled back.
func (r *Router) departed(logger zerolog.Logger, id ConnectionID) bool {
	if r.core.Connected(id) {
		return false
	}
	r.collab.ReleaseConnection(id)
	logger.Debug().Msg("discarding collaboration state of departed connection")
	return true
}

// SweepTyping expires stale typing indicators and publishes the new state of
// each affected location.
func (r *Router) SweepTyping() int {
	changed := r.collab.Sweep()
	r.publishTyping(changed)
	return len(changed)
}

// RunJanitor calls SweepTyping every interval until ctx is done.
func (r *Router) RunJanitor(ctx context.Context, every time.Duration) error {
	if every <= 0 {
		every = DefaultTypingTTL
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			r.SweepTyping()
		}
	}
}

func (r *Router) publishTyping(changes []TypingChange) {
	for _, ch := range changes {
		r.core.BroadcastToRoom(protocol.ProjectRoom(ch.ProjectID), protocol.Message{
			Type:    protocol.TypeTypingUpdate,
			Payload: protocol.TypingUpdate{Location: ch.Location, TypingUsers: ch.TypingUsers},
		}, "")
	}
}

func (r *Router) reply(logger zerolog.Logger, id ConnectionID, t protocol.Type, payload any) {
	if err := r.core.SendToConnection(id, protocol.Message{Type: t, Payload: payload}); err != nil {
		logger.Warn().Err(err).Str("type", string(t)).Msg("reply failed")
	}
}
