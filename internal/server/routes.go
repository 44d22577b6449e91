package server

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"
)

// Routes configures and returns the chi router with all application routes.
func (s *Service) Routes() chi.Router {
	router := chi.NewRouter()
	router.Use(
		middleware.RealIP,
		withCORS(s.cfg.AllowedOrigins),
		withLogger(s.logger),
		middleware.Recoverer,
	)

	router.Get("/", s.RootHandler)
	router.Get("/health", s.HealthHandler)
	router.Get("/stats", s.StatsHandler)
	router.Post("/rooms/{roomID}/broadcast", s.BroadcastHandler)
	router.HandleFunc("/ws", s.WebSocketHandler)
	return router
}

func withCORS(origins []string) func(next http.Handler) http.Handler {
	return cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	})
}

// withLogger attaches logger to the request context and logs each request
// once it completes.
func withLogger(logger zerolog.Logger) func(handler http.Handler) http.Handler {
	return func(handler http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, req.ProtoMajor)

			ctx := logger.WithContext(req.Context())
			handler.ServeHTTP(ww, req.WithContext(ctx))

			logger.Debug().
				Str("method", req.Method).
				Str("path", req.URL.Path).
				Str("remote_addr", req.RemoteAddr).
				Int("status", ww.Status()).
				Dur("duration", time.Since(start)).
				Msg("http request")
		})
	}
}
