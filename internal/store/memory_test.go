package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/erauner12/pagesync/internal/engine"
	"github.com/erauner12/pagesync/internal/systema"
)

func seedPair(t *testing.T, m *Memory) *engine.SyncPair {
	t.Helper()
	p := &engine.SyncPair{
		Name:          "deals",
		ListRef:       "list-1",
		DBRef:         "db-1",
		Direction:     engine.DirectionAToB,
		PeriodMinutes: 15,
		Active:        true,
	}
	if err := m.CreateSyncPair(context.Background(), p); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestMemoryPairLifecycle(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	p := seedPair(t, m)
	if p.ID == 0 {
		t.Fatal("pair id not assigned")
	}

	got, err := m.GetSyncPair(ctx, p.ID)
	if err != nil || got == nil || got.Name != "deals" {
		t.Fatalf("GetSyncPair = %+v, %v", got, err)
	}

	at := time.Now().UTC().Truncate(time.Second)
	if err := m.TouchSyncPair(ctx, p.ID, at); err != nil {
		t.Fatal(err)
	}
	got, _ = m.GetSyncPair(ctx, p.ID)
	if got.LastSyncAt == nil || !got.LastSyncAt.Equal(at) {
		t.Errorf("lastSyncAt = %v, want %v", got.LastSyncAt, at)
	}

	got.Active = false
	if err := m.UpdateSyncPair(ctx, got); err != nil {
		t.Fatal(err)
	}
	pairs, _ := m.ListSyncPairs(ctx)
	if len(pairs) != 1 || pairs[0].Active {
		t.Errorf("pairs = %+v", pairs)
	}

	if err := m.DeleteSyncPair(ctx, p.ID); err != nil {
		t.Fatal(err)
	}
	if err := m.DeleteSyncPair(ctx, p.ID); !errors.Is(err, engine.ErrPairNotFound) {
		t.Errorf("double delete = %v, want ErrPairNotFound", err)
	}
	if got, _ := m.GetSyncPair(ctx, p.ID); got != nil {
		t.Error("deleted pair still readable")
	}
}

func TestMemorySyncedRecords(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	p := seedPair(t, m)

	now := time.Now().UTC()
	rec := &engine.SyncedRecord{
		SyncPairID: p.ID, AEntityID: 101, AEntityType: "organization",
		BPageID: "p-1", Fingerprint: "abc",
		ALastModifiedAt: now, BLastModifiedAt: now, LastSyncedAt: now,
	}
	if err := m.UpsertSyncedRecord(ctx, rec); err != nil {
		t.Fatal(err)
	}
	rec.Fingerprint = "def"
	if err := m.UpsertSyncedRecord(ctx, rec); err != nil {
		t.Fatal(err)
	}

	got, _ := m.GetSyncedRecord(ctx, p.ID, 101)
	if got == nil || got.Fingerprint != "def" {
		t.Fatalf("record = %+v", got)
	}
	if list, _ := m.ListSyncedRecords(ctx, p.ID); len(list) != 1 {
		t.Fatalf("records = %+v", list)
	}

	if err := m.DeleteSyncedRecord(ctx, p.ID, 101); err != nil {
		t.Fatal(err)
	}
	if got, _ := m.GetSyncedRecord(ctx, p.ID, 101); got != nil {
		t.Error("deleted record still readable")
	}
}

func TestMemoryConflicts(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	p := seedPair(t, m)

	id, err := m.CreateConflict(ctx, &engine.Conflict{
		SyncPairID: p.ID, ARecordID: 101, ARecordType: "organization",
		FieldName: "Stage", AValue: "X", BValue: "Y",
	})
	if err != nil || id == 0 {
		t.Fatalf("CreateConflict = %d, %v", id, err)
	}

	pending, _ := m.ListConflicts(ctx, p.ID, true)
	if len(pending) != 1 || pending[0].Status != engine.ConflictPending {
		t.Fatalf("pending = %+v", pending)
	}

	resolved, err := m.ResolveConflict(ctx, id, engine.ResolutionA)
	if err != nil || resolved.Status != engine.ConflictResolved || resolved.Resolution != engine.ResolutionA {
		t.Fatalf("resolved = %+v, %v", resolved, err)
	}
	if resolved.ResolvedAt == nil {
		t.Error("resolvedAt not set")
	}
	if pending, _ = m.ListConflicts(ctx, p.ID, true); len(pending) != 0 {
		t.Errorf("pending after resolve = %+v", pending)
	}
	if all, _ := m.ListConflicts(ctx, 0, false); len(all) != 1 {
		t.Errorf("all conflicts = %+v", all)
	}

	if _, err := m.ResolveConflict(ctx, 999, engine.ResolutionB); !errors.Is(err, engine.ErrConflictNotFound) {
		t.Errorf("resolve missing = %v", err)
	}
}

func TestMemoryHistoryOrderAndLimit(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	p := seedPair(t, m)

	for i := 0; i < 3; i++ {
		if err := m.AppendHistory(ctx, &engine.HistoryEntry{SyncPairID: p.ID, Status: engine.StatusSuccess, RecordsCreated: i}); err != nil {
			t.Fatal(err)
		}
	}
	hist, _ := m.ListHistory(ctx, p.ID, 2)
	if len(hist) != 2 {
		t.Fatalf("history = %+v", hist)
	}
	// Newest first.
	if hist[0].RecordsCreated != 2 || hist[1].RecordsCreated != 1 {
		t.Errorf("order = %d, %d", hist[0].RecordsCreated, hist[1].RecordsCreated)
	}
}

func TestMemoryFieldCache(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	fields := []systema.Field{{ID: 10, Name: "Stage", ValueType: "dropdown"}}
	if err := m.PutFieldCache(ctx, "list-1", fields); err != nil {
		t.Fatal(err)
	}
	got, refreshed, err := m.GetFieldCache(ctx, "list-1")
	if err != nil || len(got) != 1 || got[0].Name != "Stage" || refreshed.IsZero() {
		t.Fatalf("cache = %+v, %v, %v", got, refreshed, err)
	}
	if got, _, _ := m.GetFieldCache(ctx, "other"); got != nil {
		t.Error("missing list should return nil fields")
	}
}
