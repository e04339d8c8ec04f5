package engine

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// Default alert thresholds. These produce monitoring signals, never
// control flow.
const (
	slowRunThreshold     = 5 * time.Minute
	largeCreateThreshold = 100
)

// Sink turns finished runs into history rows and monitoring signals.
// The thresholds may be adjusted before the sink is handed to a runner.
type Sink struct {
	store Storage

	SlowRunThreshold     time.Duration
	LargeCreateThreshold int
}

// NewSink builds a sink over the given storage with default thresholds.
func NewSink(store Storage) *Sink {
	return &Sink{
		store:                store,
		SlowRunThreshold:     slowRunThreshold,
		LargeCreateThreshold: largeCreateThreshold,
	}
}

// Record appends exactly one history entry for a finished run and
// emits the alert signals derived from it. Storage failures here are
// logged; the run outcome itself is already decided.
func (s *Sink) Record(ctx context.Context, logger *zerolog.Logger, res *RunResult) {
	h := &HistoryEntry{
		SyncPairID:      res.PairID,
		Status:          res.Status,
		RecordsCreated:  res.Created,
		RecordsUpdated:  res.Updated,
		RecordsArchived: res.Archived,
		ConflictsFound:  res.Conflicts,
		DurationMs:      res.Duration.Milliseconds(),
		Details:         res.Details,
		CreatedAt:       time.Now().UTC(),
	}
	if res.Err != nil {
		h.ErrorMessage = res.Err.Error()
	}
	if err := s.store.AppendHistory(ctx, h); err != nil {
		logger.Error().Err(err).Msg("failed to append run history")
	}

	event := logger.Info()
	switch {
	case res.Status == StatusError:
		event = logger.Error().Err(res.Err)
	case res.Status == StatusWarning:
		event = logger.Warn()
	}
	event.
		Int("created", res.Created).
		Int("updated", res.Updated).
		Int("archived", res.Archived).
		Int("conflicts", res.Conflicts).
		Dur("duration", res.Duration).
		Str("status", string(res.Status)).
		Msg("sync run finished")

	if res.Conflicts > 0 {
		logger.Warn().Int("conflicts", res.Conflicts).Msg("manual conflicts awaiting resolution")
	}
	if res.Duration > s.SlowRunThreshold {
		logger.Warn().Dur("duration", res.Duration).Msg("run exceeded duration threshold")
	}
	if res.Created > s.LargeCreateThreshold {
		logger.Info().Int("created", res.Created).Msg("unusually large creation count")
	}
}
