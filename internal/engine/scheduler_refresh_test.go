package engine

import (
	"context"
	"testing"
)

// pairListStore serves only the pair listing Refresh reads; everything
// else panics via the embedded nil interface.
type pairListStore struct {
	Storage
	pairs []SyncPair
}

func (s *pairListStore) ListSyncPairs(context.Context) ([]SyncPair, error) {
	return append([]SyncPair(nil), s.pairs...), nil
}

func (s *Scheduler) jobStop(pairID int64) chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	if j, ok := s.jobs[pairID]; ok {
		return j.stop
	}
	return nil
}

func TestRefreshKeepsUnchangedTickers(t *testing.T) {
	st := &pairListStore{pairs: []SyncPair{{ID: 1, Name: "deals", Active: true, PeriodMinutes: 15}}}
	sched := NewScheduler(NewRunner(nil, nil, st, NewSink(st), RunnerConfig{}), st)
	defer sched.Shutdown()

	if err := sched.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	before := sched.jobStop(1)
	if before == nil {
		t.Fatal("pair not armed")
	}

	// Same configuration: the ticker, and its phase, survive.
	if err := sched.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if after := sched.jobStop(1); after != before {
		t.Error("unchanged pair was re-armed by refresh")
	}

	// A period change replaces the ticker.
	st.pairs[0].PeriodMinutes = 30
	if err := sched.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if after := sched.jobStop(1); after == before {
		t.Error("period change did not re-arm the ticker")
	}
}
