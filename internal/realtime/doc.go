// Package realtime implements the connection and room-broadcast core.
//
// The pieces are layered leaf-first: Registry owns live connections and
// their transports, RoomIndex maps rooms to members, Engine fans messages
// out to rooms, Monitor evicts connections that stop answering pings, and
// Router turns decoded client messages into membership changes, broadcasts
// and progress flows. Hub ties them together, owns teardown, and is the
// entry point other layers (HTTP handlers, the WebSocket client) talk to.
package realtime
