package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/fablecraft/realtime-core/internal/protocol"
	"github.com/fablecraft/realtime-core/internal/realtime"
)

// maxBroadcastBody bounds the body of upstream broadcast requests.
const maxBroadcastBody = 1 << 20

// Service holds everything the HTTP handlers need: the realtime hub, the
// message router, and the configuration they were built from.
type Service struct {
	cfg      Config
	hub      *realtime.Hub
	router   *realtime.Router
	origins  *OriginPolicy
	upgrader websocket.Upgrader
	logger   zerolog.Logger
}

// NewService builds the HTTP surface over hub and router. cfg is sanitized.
func NewService(cfg Config, hub *realtime.Hub, router *realtime.Router, logger zerolog.Logger) *Service {
	cfg = cfg.Sanitize()
	origins := NewOriginPolicy(cfg.AllowedOrigins, logger)
	return &Service{
		cfg:     cfg,
		hub:     hub,
		router:  router,
		origins: origins,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     origins.Check,
		},
		logger: logger,
	}
}

// Config returns the sanitized configuration.
func (s *Service) Config() Config { return s.cfg }

// WebSocketHandler handles WebSocket upgrade requests. It validates that the
// request uses the GET method, upgrades the HTTP connection, and hands the
// new Client to the hub.
func (s *Service) WebSocketHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed. WebSocket endpoint only accepts GET requests.", http.StatusMethodNotAllowed)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn().Err(err).Str("remote_addr", r.RemoteAddr).Msg("websocket upgrade failed")
		return
	}

	client := NewClient(conn, s.hub, s.router, r.RemoteAddr, s.cfg, s.logger)
	client.Run()
}

// RootHandler responds with a plain text banner.
func (s *Service) RootHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = fmt.Fprintf(w, "Realtime server is running!")
}

// HealthHandler reports that the process is serving.
func (s *Service) HealthHandler(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
}

// StatsHandler reports connection, room, membership and flow counts.
func (s *Service) StatsHandler(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.hub.Stats())
}

// BroadcastHandler delivers an upstream event to every member of a room.
func (s *Service) BroadcastHandler(w http.ResponseWriter, r *http.Request) {
	room := chi.URLParam(r, "roomID")
	if room == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "room is required"})
		return
	}

	var req BroadcastRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBroadcastBody))
	if err := dec.Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, errorResponse{Error: "request body too large"})
			return
		}
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid JSON body"})
		return
	}
	if req.Type == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "type is required"})
		return
	}

	msg := protocol.Message{Type: protocol.Type(req.Type)}
	if len(req.Payload) > 0 {
		msg.Payload = req.Payload
	}
	delivered := s.hub.BroadcastToRoom(room, msg, realtime.ConnectionID(req.ExcludeConnectionID))

	zerolog.Ctx(r.Context()).Info().
		Str("room", room).
		Str("type", req.Type).
		Int("delivered", delivered).
		Msg("upstream broadcast")

	writeJSON(w, http.StatusAccepted, BroadcastResponse{Delivered: delivered})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
