package protocol

import "encoding/json"

// Established is the payload of CONNECTION_ESTABLISHED.
type Established struct {
	ClientID string `json:"clientId"`
}

// RoomAck is the payload of ROOM_SUBSCRIBED and ROOM_UNSUBSCRIBED.
type RoomAck struct {
	RoomID string `json:"roomId"`
}

// StatusUpdated is the payload of PROJECT_STATUS_UPDATED.
type StatusUpdated struct {
	ProjectID string          `json:"projectId"`
	Status    string          `json:"status"`
	Metadata  json.RawMessage `json:"metadata,omitempty"`
}

// FieldUpdated is the payload of CHARACTER_FIELD_UPDATED.
type FieldUpdated struct {
	CharacterID string          `json:"characterId"`
	Field       string          `json:"field"`
	Value       json.RawMessage `json:"value,omitempty"`
	UserID      string          `json:"userId,omitempty"`
	Optimistic  bool            `json:"optimistic"`
}

// ElementUpdated is the payload of WORLD_ELEMENT_UPDATED.
type ElementUpdated struct {
	ElementType string          `json:"elementType"`
	ElementID   string          `json:"elementId"`
	Data        json.RawMessage `json:"data,omitempty"`
	Optimistic  bool            `json:"optimistic"`
}

// ElementConfirmed is the payload of WORLD_ELEMENT_CONFIRMED.
type ElementConfirmed struct {
	ElementType string          `json:"elementType"`
	ElementID   string          `json:"elementId"`
	Data        json.RawMessage `json:"data,omitempty"`
}

// Invitation is the payload of COLLABORATION_INVITE sent to the invitee.
type Invitation struct {
	ProjectID   string `json:"projectId"`
	InviterName string `json:"inviterName"`
	Role        string `json:"role"`
}

// InvitationSent is the payload of COLLABORATION_INVITE_SENT.
type InvitationSent struct {
	InviteeEmail string `json:"inviteeEmail"`
	Role         string `json:"role"`
}

// TypingUpdate is the payload of TYPING_INDICATOR_UPDATE. TypingUsers is
// marshalled as given.
type TypingUpdate struct {
	Location    string `json:"location"`
	TypingUsers any    `json:"typingUsers"`
}

// LockUpdate is the payload of DOCUMENT_LOCK_UPDATE.
type LockUpdate struct {
	DocumentID string  `json:"documentId"`
	IsLocked   bool    `json:"isLocked"`
	LockedBy   *string `json:"lockedBy"`
}

// LockDenied is the payload of DOCUMENT_LOCK_DENIED.
type LockDenied struct {
	DocumentID string `json:"documentId"`
	LockedBy   string `json:"lockedBy"`
	Reason     string `json:"reason"`
}

// GenerationStarted is the payload of CHARACTER_GENERATION_STARTED.
type GenerationStarted struct {
	GenerationID string `json:"generationId"`
	Prompt       string `json:"prompt,omitempty"`
	Room         string `json:"room"`
	Status       string `json:"status"`
}
