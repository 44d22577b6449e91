// Package server implements the HTTP and WebSocket surface of the realtime core.
//
// The implementation is organized into specialized files for configuration,
// origin checks, rate limiting, the WebSocket client transport, routing, and
// HTTP handlers. Connection state lives in the realtime package; this package
// only moves bytes between sockets and the hub.
package server
