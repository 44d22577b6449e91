package protocol

import (
	"encoding/json"
	"fmt"
)

// Inbound is one decoded client message. The concrete type is one of the
// variants below; tags without a variant decode to Unknown.
type Inbound interface {
	Kind() Type
}

// Subscribe asks for membership in a room.
type Subscribe struct {
	RoomID string `json:"roomId"`
}

// Unsubscribe leaves a room.
type Unsubscribe struct {
	RoomID string `json:"roomId"`
}

// Ping is an application-level liveness probe from the client.
type Ping struct{}

// ProjectUpdate is re-broadcast verbatim to the project's room.
type ProjectUpdate struct {
	ProjectID string          `json:"projectId"`
	Raw       json.RawMessage `json:"-"`
}

// ProjectStatusUpdate reports a status change of a project.
type ProjectStatusUpdate struct {
	ProjectID string          `json:"projectId"`
	Status    string          `json:"status"`
	Metadata  json.RawMessage `json:"metadata,omitempty"`
}

// CharacterFieldUpdate reports an edit of a single character field.
type CharacterFieldUpdate struct {
	ProjectID   string          `json:"projectId"`
	CharacterID string          `json:"characterId"`
	Field       string          `json:"field"`
	Value       json.RawMessage `json:"value,omitempty"`
	UserID      string          `json:"userId,omitempty"`
}

// WorldElementUpdate reports an edit of a world-bible element.
type WorldElementUpdate struct {
	ProjectID   string          `json:"projectId"`
	ElementType string          `json:"elementType"`
	ElementID   string          `json:"elementId"`
	Data        json.RawMessage `json:"data,omitempty"`
}

// CollaborationInvite invites a user, by email, to a project.
type CollaborationInvite struct {
	ProjectID    string `json:"projectId"`
	InviteeEmail string `json:"inviteeEmail"`
	Role         string `json:"role"`
	InviterName  string `json:"inviterName"`
}

// TypingIndicator toggles a user's typing state at a location in a project.
type TypingIndicator struct {
	ProjectID string `json:"projectId"`
	UserID    string `json:"userId"`
	UserName  string `json:"userName"`
	Location  string `json:"location"`
	IsTyping  bool   `json:"isTyping"`
}

// Lock actions.
const (
	LockAcquire = "lock"
	LockRelease = "unlock"
)

// DocumentLock acquires or releases the edit lock on a document.
type DocumentLock struct {
	ProjectID  string `json:"projectId"`
	DocumentID string `json:"documentId"`
	UserID     string `json:"userId"`
	Action     string `json:"action"`
}

// GenerationStart asks for a character generation run whose progress is
// reported to the project's generation room.
type GenerationStart struct {
	ProjectID string          `json:"projectId"`
	Prompt    string          `json:"prompt,omitempty"`
	Options   json.RawMessage `json:"options,omitempty"`
}

// Unknown carries a well-formed envelope whose tag this server does not handle.
type Unknown struct {
	Type    Type
	Payload json.RawMessage
}

func (Subscribe) Kind() Type            { return TypeSubscribe }
func (Unsubscribe) Kind() Type          { return TypeUnsubscribe }
func (Ping) Kind() Type                 { return TypePing }
func (ProjectUpdate) Kind() Type        { return TypeProjectUpdate }
func (ProjectStatusUpdate) Kind() Type  { return TypeProjectStatusUpdate }
func (CharacterFieldUpdate) Kind() Type { return TypeCharacterFieldUpdate }
func (WorldElementUpdate) Kind() Type   { return TypeWorldElementUpdate }
func (CollaborationInvite) Kind() Type  { return TypeInvite }
func (TypingIndicator) Kind() Type      { return TypeTypingIndicator }
func (DocumentLock) Kind() Type         { return TypeDocumentLock }
func (GenerationStart) Kind() Type      { return TypeGenerationStart }
func (u Unknown) Kind() Type            { return u.Type }

// Decode parses a raw frame into its envelope and typed variant. The
// envelope's clientId is returned as sent; callers must not trust it.
func Decode(data []byte) (Envelope, Inbound, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, nil, fmt.Errorf("decoding envelope: %w", err)
	}
	if env.Type == "" {
		return env, nil, ErrMissingType
	}

	var (
		msg Inbound
		err error
	)
	switch env.Type {
	case TypeSubscribe:
		var v Subscribe
		err = decodePayload(env, &v)
		if err == nil && v.RoomID == "" {
			err = missing(env.Type, "roomId")
		}
		msg = v
	case TypeUnsubscribe:
		var v Unsubscribe
		err = decodePayload(env, &v)
		if err == nil && v.RoomID == "" {
			err = missing(env.Type, "roomId")
		}
		msg = v
	case TypePing:
		msg = Ping{}
	case TypeProjectUpdate:
		var v ProjectUpdate
		err = decodePayload(env, &v)
		if err == nil && v.ProjectID == "" {
			err = missing(env.Type, "projectId")
		}
		v.Raw = env.Payload
		msg = v
	case TypeProjectStatusUpdate:
		var v ProjectStatusUpdate
		err = decodePayload(env, &v)
		if err == nil && v.ProjectID == "" {
			err = missing(env.Type, "projectId")
		}
		msg = v
	case TypeCharacterFieldUpdate:
		var v CharacterFieldUpdate
		err = decodePayload(env, &v)
		if err == nil && (v.ProjectID == "" || v.CharacterID == "" || v.Field == "") {
			err = missing(env.Type, "projectId, characterId and field")
		}
		msg = v
	case TypeWorldElementUpdate:
		var v WorldElementUpdate
		err = decodePayload(env, &v)
		if err == nil && (v.ProjectID == "" || v.ElementID == "") {
			err = missing(env.Type, "projectId and elementId")
		}
		msg = v
	case TypeInvite:
		var v CollaborationInvite
		err = decodePayload(env, &v)
		if err == nil && (v.ProjectID == "" || v.InviteeEmail == "") {
			err = missing(env.Type, "projectId and inviteeEmail")
		}
		msg = v
	case TypeTypingIndicator:
		var v TypingIndicator
		err = decodePayload(env, &v)
		if err == nil && (v.ProjectID == "" || v.UserID == "") {
			err = missing(env.Type, "projectId and userId")
		}
		msg = v
	case TypeDocumentLock:
		var v DocumentLock
		err = decodePayload(env, &v)
		if err == nil && (v.ProjectID == "" || v.DocumentID == "" || v.UserID == "") {
			err = missing(env.Type, "projectId, documentId and userId")
		}
		if err == nil && v.Action != LockAcquire && v.Action != LockRelease {
			err = fmt.Errorf("%w: %v action %q", ErrInvalidPayload, env.Type, v.Action)
		}
		msg = v
	case TypeGenerationStart:
		var v GenerationStart
		err = decodePayload(env, &v)
		if err == nil && v.ProjectID == "" {
			err = missing(env.Type, "projectId")
		}
		msg = v
	default:
		msg = Unknown{Type: env.Type, Payload: env.Payload}
	}
	if err != nil {
		return env, nil, err
	}
	return env, msg, nil
}

func decodePayload(env Envelope, v any) error {
	if len(env.Payload) == 0 || string(env.Payload) == "null" {
		return fmt.Errorf("%w: %v has no payload", ErrInvalidPayload, env.Type)
	}
	if err := json.Unmarshal(env.Payload, v); err != nil {
		return fmt.Errorf("%w: %v: %v", ErrInvalidPayload, env.Type, err)
	}
	return nil
}

func missing(t Type, fields string) error {
	return fmt.Errorf("%w: %v requires %v", ErrInvalidPayload, t, fields)
}
