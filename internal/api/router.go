package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// healthCheckTimeout bounds each component check behind /health.
const healthCheckTimeout = 2 * time.Second

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	if s.gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}

	wsPath := s.wsCfg.Path
	if wsPath == "" {
		wsPath = "/ws"
	}
	r.Get(wsPath, s.handleWebSocket)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/system", s.handleSystem)

		r.Route("/receivers", func(r chi.Router) {
			r.Get("/", s.handleListReceivers)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetReceiver)
				r.Get("/state", s.handleGetReceiverState)
				r.Get("/history", s.handleGetReceiverHistory)
				r.Post("/commands", s.handleCommand)
			})
		})
	})

	return r
}

// handleHealth runs every registered component check. Any failure turns
// the overall status to degraded with a 503.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	components := make(map[string]string, len(s.checks))
	status := "ok"

	for name, check := range s.checks {
		ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
		err := check(ctx)
		cancel()
		if err != nil {
			components[name] = err.Error()
			status = "degraded"
			continue
		}
		components[name] = "ok"
	}

	code := http.StatusOK
	if status != "ok" {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]any{
		"status":     status,
		"version":    s.version,
		"receivers":  len(s.receivers.Devices()),
		"components": components,
	})
}
