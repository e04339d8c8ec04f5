package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Scheduler owns one ticker per active pair. Ticks are cooperative:
// the runner's active set prevents a second invocation of a pair while
// one is in flight, so a slow run simply absorbs the ticks it overlaps.
type Scheduler struct {
	runner *Runner
	store  Storage

	mu   sync.Mutex
	jobs map[int64]*job

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type job struct {
	pairID int64
	period time.Duration
	stop   chan struct{}
}

// NewScheduler builds a scheduler over a runner and pair storage.
func NewScheduler(runner *Runner, store Storage) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		runner: runner,
		store:  store,
		jobs:   make(map[int64]*job),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Initialize starts tickers for every pair marked active in storage.
func (s *Scheduler) Initialize(ctx context.Context) error {
	pairs, err := s.store.ListSyncPairs(ctx)
	if err != nil {
		return fmt.Errorf("load sync pairs: %w", err)
	}
	for _, p := range pairs {
		if p.Active {
			s.Start(p)
		}
	}
	log.Info().Int("pairs", len(s.Scheduled())).Msg("scheduler initialized")
	return nil
}

// Start arms (or re-arms) the ticker for one pair.
func (s *Scheduler) Start(pair SyncPair) {
	if pair.PeriodMinutes <= 0 {
		log.Error().Int64("pairId", pair.ID).Int("periodMinutes", pair.PeriodMinutes).
			Msg("refusing to arm ticker with non-positive period")
		return
	}
	s.mu.Lock()
	if prior, ok := s.jobs[pair.ID]; ok {
		close(prior.stop)
	}
	j := &job{
		pairID: pair.ID,
		period: time.Duration(pair.PeriodMinutes) * time.Minute,
		stop:   make(chan struct{}),
	}
	s.jobs[pair.ID] = j
	s.mu.Unlock()

	s.wg.Add(1)
	go s.tickLoop(j)
	log.Info().Int64("pairId", pair.ID).Dur("period", j.period).Msg("pair scheduled")
}

// Stop disarms the ticker for a pair. An in-flight run completes on
// its own unless the whole scheduler is shutting down.
func (s *Scheduler) Stop(pairID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if j, ok := s.jobs[pairID]; ok {
		close(j.stop)
		delete(s.jobs, pairID)
		log.Info().Int64("pairId", pairID).Msg("pair unscheduled")
	}
}

// Refresh reconciles tickers against the current pair set: newly
// active pairs are armed, deactivated or deleted ones disarmed. A pair
// already armed with the same period keeps its ticker, so refreshes do
// not reset tick phase.
func (s *Scheduler) Refresh(ctx context.Context) error {
	pairs, err := s.store.ListSyncPairs(ctx)
	if err != nil {
		return fmt.Errorf("load sync pairs: %w", err)
	}
	wanted := make(map[int64]bool, len(pairs))
	for _, p := range pairs {
		if !p.Active {
			continue
		}
		wanted[p.ID] = true
		period := time.Duration(p.PeriodMinutes) * time.Minute
		s.mu.Lock()
		j, armed := s.jobs[p.ID]
		s.mu.Unlock()
		if armed && j.period == period {
			continue
		}
		s.Start(p)
	}
	for _, id := range s.Scheduled() {
		if !wanted[id] {
			s.Stop(id)
		}
	}
	return nil
}

// RunNow triggers one immediate run outside the ticker cadence.
func (s *Scheduler) RunNow(ctx context.Context, pairID int64) (*RunResult, error) {
	return s.runner.Run(ctx, pairID)
}

// ClearActive empties the runner's active set without stopping runs.
// Unsafe except for recovery from stuck state after a crash-restart.
func (s *Scheduler) ClearActive() {
	log.Warn().Msg("active set cleared by operator")
	s.runner.ClearActive()
}

// Scheduled returns the pair ids with an armed ticker, sorted.
func (s *Scheduler) Scheduled() []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]int64, 0, len(s.jobs))
	for id := range s.jobs {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Active returns the pair ids with a run currently in flight.
func (s *Scheduler) Active() []int64 {
	ids := s.runner.ActivePairs()
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Shutdown cancels in-flight runs, stops every ticker, and waits for
// tick loops to drain.
func (s *Scheduler) Shutdown() {
	s.cancel()
	s.mu.Lock()
	for id, j := range s.jobs {
		close(j.stop)
		delete(s.jobs, id)
	}
	s.mu.Unlock()
	s.wg.Wait()
	log.Info().Msg("scheduler stopped")
}

func (s *Scheduler) tickLoop(j *job) {
	defer s.wg.Done()
	ticker := time.NewTicker(j.period)
	defer ticker.Stop()
	for {
		select {
		case <-j.stop:
			return
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.tick(j.pairID)
		}
	}
}

func (s *Scheduler) tick(pairID int64) {
	_, err := s.runner.Run(s.ctx, pairID)
	switch {
	case err == nil:
	case errors.Is(err, ErrBusy):
		log.Debug().Int64("pairId", pairID).Msg("tick skipped, run in progress")
	case errors.Is(err, ErrPairNotFound):
		log.Warn().Int64("pairId", pairID).Msg("pair vanished, unscheduling")
		s.Stop(pairID)
	default:
		log.Error().Err(err).Int64("pairId", pairID).Msg("scheduled run failed to start")
	}
}
