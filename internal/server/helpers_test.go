package server

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/fablecraft/realtime-core/internal/protocol"
	"github.com/fablecraft/realtime-core/internal/realtime"
)

const testOrigin = "http://localhost:8080"

type testEnv struct {
	svc    *Service
	hub    *realtime.Hub
	server *httptest.Server
}

func newTestEnv(t *testing.T, customize func(cfg *Config)) *testEnv {
	t.Helper()

	cfg := DefaultConfig()
	cfg.FlowStepInterval = time.Millisecond
	if customize != nil {
		customize(&cfg)
	}
	cfg = cfg.Sanitize()

	logger := zerolog.Nop()
	hub := realtime.NewHub(realtime.HubOptions{FlowTimeout: cfg.FlowTimeout, Logger: logger})
	collab := realtime.NewCollaboration(cfg.TypingTTL, nil, logger)
	router := realtime.NewRouter(hub, hub.Flows(), collab, realtime.RouterOptions{
		StepInterval: cfg.FlowStepInterval,
		Logger:       logger,
	})
	hub.AddListener(router)

	svc := NewService(cfg, hub, router, logger)
	ts := httptest.NewServer(svc.Routes())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = hub.Shutdown(ctx)
		ts.Close()
	})
	return &testEnv{svc: svc, hub: hub, server: ts}
}

func (e *testEnv) wsURL() string {
	return "ws" + strings.TrimPrefix(e.server.URL, "http") + "/ws"
}

func newOriginHeader(origin string) http.Header {
	header := http.Header{}
	if origin != "" {
		header.Set("Origin", origin)
	}
	return header
}

// dial opens a WebSocket and consumes the CONNECTION_ESTABLISHED frame,
// returning the assigned connection id.
func (e *testEnv) dial(t *testing.T) (*websocket.Conn, string) {
	t.Helper()

	conn, resp, err := websocket.DefaultDialer.Dial(e.wsURL(), newOriginHeader(testOrigin))
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	t.Cleanup(func() { _ = conn.Close() })

	env := readEnvelope(t, conn)
	require.Equal(t, protocol.TypeConnectionEstablished, env.Type)
	var ack protocol.Established
	require.NoError(t, json.Unmarshal(env.Payload, &ack))
	require.NotEmpty(t, ack.ClientID)
	return conn, ack.ClientID
}

func readEnvelope(t *testing.T, conn *websocket.Conn) protocol.Envelope {
	t.Helper()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var env protocol.Envelope
	require.NoError(t, json.Unmarshal(data, &env))
	return env
}

func writeFrame(t *testing.T, conn *websocket.Conn, raw string) {
	t.Helper()
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(raw)))
}

func expectNoMessage(t *testing.T, conn *websocket.Conn, timeout time.Duration) {
	t.Helper()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(timeout)))
	_, data, err := conn.ReadMessage()
	require.Error(t, err, "expected no message, got %s", data)

	if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
		return
	}
	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		return
	}
	t.Fatalf("unexpected error while waiting for absence of message: %v", err)
}
