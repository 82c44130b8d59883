package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/metrics", s.handleMetrics)

		r.Route("/state", func(r chi.Router) {
			r.Get("/", s.handleGetState)
			r.Get("/{scope}/{attr}", s.handleGetChannel)
		})

		r.Post("/commands", s.handleCommand)
		r.Get("/history", s.handleListHistory)
		r.Get("/audit", s.handleListAuditLogs)

		r.Get("/ws", s.handleWebSocket)
	})

	return r
}

// handleHealth reports bridge and receiver status. It answers 200 while
// the bridge process runs; the body says whether the receiver is reachable.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	m := s.bridge.GetMetrics()

	status := "ok"
	if !m.Connected {
		status = "degraded"
	}

	resp := map[string]any{
		"status":          status,
		"version":         s.version,
		"receiver_status": m.Status,
	}
	if s.mqtt != nil {
		resp["mqtt_connected"] = s.mqtt.IsConnected()
	}
	writeJSON(w, http.StatusOK, resp)
}
