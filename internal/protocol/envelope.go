// Package protocol defines the JSON envelope exchanged over realtime
// connections, the reserved type tags, and the decoding of inbound messages
// into typed variants.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Type is the tag carried in the "type" field of every envelope.
type Type string

// Outbound type tags.
const (
	TypeConnectionEstablished Type = "CONNECTION_ESTABLISHED"
	TypeRoomSubscribed        Type = "ROOM_SUBSCRIBED"
	TypeRoomUnsubscribed      Type = "ROOM_UNSUBSCRIBED"
	TypePong                  Type = "PONG"

	TypeProjectUpdated        Type = "PROJECT_UPDATED"
	TypeProjectStatusUpdated  Type = "PROJECT_STATUS_UPDATED"
	TypeCharacterFieldUpdated Type = "CHARACTER_FIELD_UPDATED"
	TypeWorldElementUpdated   Type = "WORLD_ELEMENT_UPDATED"
	TypeWorldElementConfirmed Type = "WORLD_ELEMENT_CONFIRMED"
	TypeCollaborationInvite   Type = "COLLABORATION_INVITE"
	TypeInviteSent            Type = "COLLABORATION_INVITE_SENT"
	TypeTypingUpdate          Type = "TYPING_INDICATOR_UPDATE"
	TypeDocumentLockUpdate    Type = "DOCUMENT_LOCK_UPDATE"
	TypeDocumentLockDenied    Type = "DOCUMENT_LOCK_DENIED"

	TypeGenerationStarted  Type = "CHARACTER_GENERATION_STARTED"
	TypeGenerationProgress Type = "CHARACTER_GENERATION_PROGRESS"
	TypeGenerationError    Type = "CHARACTER_GENERATION_ERROR"
)

// Inbound type tags.
const (
	TypeSubscribe            Type = "SUBSCRIBE_TO_ROOM"
	TypeUnsubscribe          Type = "UNSUBSCRIBE_FROM_ROOM"
	TypePing                 Type = "PING"
	TypeProjectUpdate        Type = "PROJECT_UPDATE"
	TypeProjectStatusUpdate  Type = "PROJECT_STATUS_UPDATE"
	TypeCharacterFieldUpdate Type = "CHARACTER_FIELD_UPDATE"
	TypeWorldElementUpdate   Type = "WORLD_ELEMENT_UPDATE"
	TypeInvite               Type = "COLLABORATION_INVITE"
	TypeTypingIndicator      Type = "TYPING_INDICATOR"
	TypeDocumentLock         Type = "DOCUMENT_LOCK"
	TypeGenerationStart      Type = "CHARACTER_GENERATION_START"
)

var (
	// ErrMissingType is returned when an envelope has no type tag.
	ErrMissingType = errors.New("missing message type")
	// ErrInvalidPayload is returned when a known type carries a payload
	// that does not match its shape.
	ErrInvalidPayload = errors.New("invalid message payload")
)

// Envelope is the wire shape of every message, inbound and outbound.
// Timestamp is Unix milliseconds.
type Envelope struct {
	Type      Type            `json:"type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	ClientID  string          `json:"clientId,omitempty"`
	Timestamp int64           `json:"timestamp"`
}

// Message is an outbound message that has not been stamped yet. Origin is
// the server-assigned identity of the connection that caused it, if any.
type Message struct {
	Type    Type
	Payload any
	Origin  string
}

// Encode stamps msg with the given send time and marshals it into an
// envelope.
func Encode(msg Message, at time.Time) ([]byte, error) {
	var payload json.RawMessage
	if msg.Payload != nil {
		raw, err := json.Marshal(msg.Payload)
		if err != nil {
			return nil, fmt.Errorf("marshalling %v payload: %w", msg.Type, err)
		}
		payload = raw
	}

	b, err := json.Marshal(Envelope{
		Type:      msg.Type,
		Payload:   payload,
		ClientID:  msg.Origin,
		Timestamp: at.UnixMilli(),
	})
	if err != nil {
		return nil, fmt.Errorf("marshalling %v envelope: %w", msg.Type, err)
	}
	return b, nil
}

// ProjectRoom returns the room that carries updates for a project.
func ProjectRoom(projectID string) string { return "project-" + projectID }

// WorldRoom returns the room that carries world-bible updates for a project.
func WorldRoom(projectID string) string { return "world-" + projectID }

// UserRoom returns the personal room of a user, keyed by email.
func UserRoom(email string) string { return "user-" + email }

// GenerationRoom returns the room that receives generation progress for a project.
func GenerationRoom(projectID string) string { return "character-gen-" + projectID }
