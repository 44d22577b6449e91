package server

import (
	"encoding/json"
	"strings"
)

// BroadcastRequest is the body of POST /rooms/{roomID}/broadcast, sent by
// upstream collaborators that need to push an event into a room.
type BroadcastRequest struct {
	Type                string          `json:"type"`
	Payload             json.RawMessage `json:"payload,omitempty"`
	ExcludeConnectionID string          `json:"excludeConnectionId,omitempty"`
}

// BroadcastResponse reports how many room members accepted the message.
type BroadcastResponse struct {
	Delivered int `json:"delivered"`
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status string `json:"status"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// isExpectedCloseError checks if an error is expected during connection closure.
func isExpectedCloseError(err error) bool {
	if err == nil {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "use of closed network connection") ||
		strings.Contains(errStr, "websocket: close sent") ||
		strings.Contains(errStr, "broken pipe")
}
