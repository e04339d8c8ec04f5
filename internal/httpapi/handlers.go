package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/rs/zerolog"

	"github.com/erauner12/pagesync/internal/engine"
)

// Status reports which pairs are scheduled and which have a run in
// flight right now.
func (s *Server) Status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"scheduled": s.Sched.Scheduled(),
		"active":    s.Sched.Active(),
	})
}

// ListPairs returns every configured sync pair.
func (s *Server) ListPairs(w http.ResponseWriter, r *http.Request) {
	pairs, err := s.Store.ListSyncPairs(r.Context())
	if err != nil {
		zerolog.Ctx(r.Context()).Error().Err(err).Msg("failed to list sync pairs")
		writeError(w, http.StatusInternalServerError, "failed to list sync pairs")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"pairs": pairs})
}

// RefreshScheduler reconciles tickers against the current pair set.
// Pair configuration itself is owned by an external collaborator that
// writes straight to storage; this is how the scheduler learns of it.
func (s *Server) RefreshScheduler(w http.ResponseWriter, r *http.Request) {
	if err := s.Sched.Refresh(r.Context()); err != nil {
		zerolog.Ctx(r.Context()).Error().Err(err).Msg("scheduler refresh failed")
		writeError(w, http.StatusInternalServerError, "scheduler refresh failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"scheduled": s.Sched.Scheduled()})
}

// runResponse is the JSON shape for a completed run. RunResult carries
// an error value that does not marshal, so it is flattened here.
type runResponse struct {
	PairID     int64                `json:"pairId"`
	Status     engine.HistoryStatus `json:"status"`
	Created    int                  `json:"recordsCreated"`
	Updated    int                  `json:"recordsUpdated"`
	Archived   int                  `json:"recordsArchived"`
	Conflicts  int                  `json:"conflictsFound"`
	DurationMs int64                `json:"durationMs"`
	Details    []string             `json:"details,omitempty"`
	Error      string               `json:"error,omitempty"`
}

// RunPair triggers an immediate synchronous run of one pair.
func (s *Server) RunPair(w http.ResponseWriter, r *http.Request) {
	pairID, ok := pathID(r, "pairID")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid pair id")
		return
	}

	res, err := s.Sched.RunNow(r.Context(), pairID)
	switch {
	case errors.Is(err, engine.ErrBusy):
		writeError(w, http.StatusConflict, "sync already in progress for this pair")
		return
	case errors.Is(err, engine.ErrPairNotFound):
		writeError(w, http.StatusNotFound, "sync pair not found")
		return
	case err != nil:
		zerolog.Ctx(r.Context()).Error().Err(err).Int64("pairId", pairID).Msg("manual run failed to start")
		writeError(w, http.StatusInternalServerError, "failed to start run")
		return
	}

	resp := runResponse{
		PairID:     res.PairID,
		Status:     res.Status,
		Created:    res.Created,
		Updated:    res.Updated,
		Archived:   res.Archived,
		Conflicts:  res.Conflicts,
		DurationMs: res.Duration.Milliseconds(),
		Details:    res.Details,
	}
	if res.Err != nil {
		resp.Error = res.Err.Error()
	}
	writeJSON(w, http.StatusOK, resp)
}

// PairHistory returns recent run history for one pair, newest first.
func (s *Server) PairHistory(w http.ResponseWriter, r *http.Request) {
	pairID, ok := pathID(r, "pairID")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid pair id")
		return
	}
	limit := parseLimit(r.URL.Query().Get("limit"), 50, 500)

	hist, err := s.Store.ListHistory(r.Context(), pairID, limit)
	if err != nil {
		zerolog.Ctx(r.Context()).Error().Err(err).Int64("pairId", pairID).Msg("failed to list history")
		writeError(w, http.StatusInternalServerError, "failed to list history")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"history": hist})
}

// PairFields returns the cached field definitions for a pair's source
// list. The cache is refreshed by each run; an empty result means the
// pair has never run.
func (s *Server) PairFields(w http.ResponseWriter, r *http.Request) {
	pairID, ok := pathID(r, "pairID")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid pair id")
		return
	}
	pair, err := s.Store.GetSyncPair(r.Context(), pairID)
	if err != nil {
		zerolog.Ctx(r.Context()).Error().Err(err).Int64("pairId", pairID).Msg("failed to load pair")
		writeError(w, http.StatusInternalServerError, "failed to load pair")
		return
	}
	if pair == nil {
		writeError(w, http.StatusNotFound, "sync pair not found")
		return
	}

	fields, refreshedAt, err := s.Store.GetFieldCache(r.Context(), pair.ListRef)
	if err != nil {
		zerolog.Ctx(r.Context()).Error().Err(err).Str("listRef", pair.ListRef).Msg("failed to read field cache")
		writeError(w, http.StatusInternalServerError, "failed to read field cache")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"listRef":     pair.ListRef,
		"refreshedAt": refreshedAt,
		"fields":      fields,
	})
}

// ListConflicts returns conflicts across all pairs. ?pending=1 narrows
// to unresolved rows; ?pairId=N narrows to one pair.
func (s *Server) ListConflicts(w http.ResponseWriter, r *http.Request) {
	pendingOnly := r.URL.Query().Get("pending") == "1"

	var pairID int64
	if q := r.URL.Query().Get("pairId"); q != "" {
		id, ok := parseID(q)
		if !ok {
			writeError(w, http.StatusBadRequest, "invalid pairId filter")
			return
		}
		pairID = id
	}

	conflicts, err := s.Store.ListConflicts(r.Context(), pairID, pendingOnly)
	if err != nil {
		zerolog.Ctx(r.Context()).Error().Err(err).Msg("failed to list conflicts")
		writeError(w, http.StatusInternalServerError, "failed to list conflicts")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"conflicts": conflicts})
}

type resolveRequest struct {
	Pick string `json:"pick"`
}

// ResolveConflict records an operator's pick for one pending conflict.
func (s *Server) ResolveConflict(w http.ResponseWriter, r *http.Request) {
	conflictID, ok := pathID(r, "conflictID")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid conflict id")
		return
	}

	var req resolveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	var pick engine.Resolution
	switch strings.ToLower(req.Pick) {
	case "a":
		pick = engine.ResolutionA
	case "b":
		pick = engine.ResolutionB
	default:
		writeError(w, http.StatusBadRequest, `pick must be "a" or "b"`)
		return
	}

	resolved, err := s.Store.ResolveConflict(r.Context(), conflictID, pick)
	switch {
	case errors.Is(err, engine.ErrConflictNotFound):
		writeError(w, http.StatusNotFound, "conflict not found")
		return
	case err != nil:
		zerolog.Ctx(r.Context()).Error().Err(err).Int64("conflictId", conflictID).Msg("failed to resolve conflict")
		writeError(w, http.StatusInternalServerError, "failed to resolve conflict")
		return
	}

	zerolog.Ctx(r.Context()).Info().
		Int64("conflictId", conflictID).
		Str("pick", req.Pick).
		Msg("conflict resolved by operator")
	writeJSON(w, http.StatusOK, resolved)
}

// ClearActive is the recovery escape hatch for a stuck active set.
func (s *Server) ClearActive(w http.ResponseWriter, r *http.Request) {
	s.Sched.ClearActive()
	writeJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
}
