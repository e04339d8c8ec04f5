// Package httpapi is the operational surface of the sync daemon:
// status, manual run triggers, conflict resolution, and run history.
package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"

	"github.com/erauner12/pagesync/internal/auth"
	"github.com/erauner12/pagesync/internal/engine"
)

// Server holds dependencies for HTTP handlers
type Server struct {
	Store engine.Storage
	Sched *engine.Scheduler
}

// writeJSON writes a JSON response with the given status code
func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to encode json response")
	}
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

// parseLimit parses a limit query param with default and max
func parseLimit(q string, def, max int) int {
	if q == "" {
		return def
	}
	n, err := strconv.Atoi(q)
	if err != nil || n <= 0 {
		return def
	}
	if n > max {
		return max
	}
	return n
}

func parseID(s string) (int64, bool) {
	id, err := strconv.ParseInt(s, 10, 64)
	return id, err == nil && id > 0
}

func pathID(r *http.Request, name string) (int64, bool) {
	return parseID(chi.URLParam(r, name))
}

// Routes creates the HTTP router with all operational endpoints
func (s *Server) Routes(jwt auth.JWTCfg) http.Handler {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(CorrelationMiddleware)
	r.Use(middleware.Recoverer)

	// Health check (unauthenticated)
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(200)
		w.Write([]byte("ok"))
	})

	// Everything operational requires authentication
	r.Group(func(r chi.Router) {
		r.Use(auth.Middleware(jwt))

		r.Get("/v1/status", s.Status)
		r.Get("/v1/pairs", s.ListPairs)
		r.Post("/v1/pairs/{pairID}/run", s.RunPair)
		r.Get("/v1/pairs/{pairID}/history", s.PairHistory)
		r.Get("/v1/pairs/{pairID}/fields", s.PairFields)
		r.Get("/v1/conflicts", s.ListConflicts)
		r.Post("/v1/conflicts/{conflictID}/resolve", s.ResolveConflict)
		r.Post("/v1/scheduler/refresh", s.RefreshScheduler)
		r.Post("/v1/scheduler/clear-active", s.ClearActive)
	})

	log.Info().Msg("HTTP routes registered")
	return r
}
