package engine_test

import (
	"context"
	"testing"
	"time"

	"github.com/erauner12/pagesync/internal/engine"
	"github.com/erauner12/pagesync/internal/systema"
)

func TestSchedulerLifecycle(t *testing.T) {
	fx := newFixture(t, engine.DirectionAToB, defaultSchema())
	sched := engine.NewScheduler(fx.runner, fx.mem)
	defer sched.Shutdown()

	if err := sched.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if ids := sched.Scheduled(); len(ids) != 1 || ids[0] != fx.pair.ID {
		t.Fatalf("scheduled = %v, want [%d]", ids, fx.pair.ID)
	}

	// Re-arming the same pair replaces the prior ticker.
	sched.Start(*fx.pair)
	if ids := sched.Scheduled(); len(ids) != 1 {
		t.Fatalf("scheduled after re-arm = %v", ids)
	}

	sched.Stop(fx.pair.ID)
	if ids := sched.Scheduled(); len(ids) != 0 {
		t.Fatalf("scheduled after stop = %v", ids)
	}
}

func TestSchedulerRejectsNonPositivePeriod(t *testing.T) {
	fx := newFixture(t, engine.DirectionAToB, defaultSchema())
	sched := engine.NewScheduler(fx.runner, fx.mem)
	defer sched.Shutdown()

	bad := *fx.pair
	bad.PeriodMinutes = 0
	sched.Start(bad)
	if ids := sched.Scheduled(); len(ids) != 0 {
		t.Fatalf("pair with zero period was armed: %v", ids)
	}
}

func TestSchedulerRefreshReconciles(t *testing.T) {
	fx := newFixture(t, engine.DirectionAToB, defaultSchema())
	sched := engine.NewScheduler(fx.runner, fx.mem)
	defer sched.Shutdown()

	if err := sched.Initialize(context.Background()); err != nil {
		t.Fatal(err)
	}
	fx.pair.Active = false
	if err := fx.mem.UpdateSyncPair(context.Background(), fx.pair); err != nil {
		t.Fatal(err)
	}
	if err := sched.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if ids := sched.Scheduled(); len(ids) != 0 {
		t.Fatalf("deactivated pair still scheduled: %v", ids)
	}
}

func TestSchedulerRunNowAndClearActive(t *testing.T) {
	fx := newFixture(t, engine.DirectionAToB, defaultSchema())
	fx.a.setEntries(entry(101, "Acme", time.Now().UTC(), systema.FieldValue{FieldID: 10, Value: "Seed"}))
	sched := engine.NewScheduler(fx.runner, fx.mem)
	defer sched.Shutdown()

	res, err := sched.RunNow(context.Background(), fx.pair.ID)
	if err != nil {
		t.Fatalf("RunNow: %v", err)
	}
	if res.Created != 1 {
		t.Fatalf("RunNow result = %+v", res)
	}
	if ids := sched.Active(); len(ids) != 0 {
		t.Fatalf("active after completed run = %v", ids)
	}
	sched.ClearActive()
	if ids := sched.Active(); len(ids) != 0 {
		t.Fatalf("active after clear = %v", ids)
	}
}
