// Package store provides the persistence implementations behind the
// engine's storage contract: Postgres for production and an in-memory
// variant for development and tests.
package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/erauner12/pagesync/internal/engine"
	"github.com/erauner12/pagesync/internal/systema"
)

// Memory is a mutex-guarded, process-local implementation of the
// engine's storage contract plus the pair configuration surface.
type Memory struct {
	mu         sync.Mutex
	pairs      map[int64]engine.SyncPair
	records    map[recordKey]engine.SyncedRecord
	conflicts  map[int64]engine.Conflict
	history    []engine.HistoryEntry
	fieldCache map[string]fieldCacheRow

	nextPairID     int64
	nextConflictID int64
	nextHistoryID  int64
}

type recordKey struct {
	pairID    int64
	aEntityID int64
}

type fieldCacheRow struct {
	fields    []systema.Field
	refreshed time.Time
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		pairs:      make(map[int64]engine.SyncPair),
		records:    make(map[recordKey]engine.SyncedRecord),
		conflicts:  make(map[int64]engine.Conflict),
		fieldCache: make(map[string]fieldCacheRow),
	}
}

// CreateSyncPair inserts a pair and assigns its id.
func (m *Memory) CreateSyncPair(_ context.Context, p *engine.SyncPair) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextPairID++
	p.ID = m.nextPairID
	now := time.Now().UTC()
	p.CreatedAt = now
	p.UpdatedAt = now
	m.pairs[p.ID] = *p
	return nil
}

// UpdateSyncPair replaces a pair's configuration.
func (m *Memory) UpdateSyncPair(_ context.Context, p *engine.SyncPair) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	prior, ok := m.pairs[p.ID]
	if !ok {
		return engine.ErrPairNotFound
	}
	p.CreatedAt = prior.CreatedAt
	p.UpdatedAt = time.Now().UTC()
	m.pairs[p.ID] = *p
	return nil
}

// DeleteSyncPair removes a pair and its dependent rows.
func (m *Memory) DeleteSyncPair(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.pairs[id]; !ok {
		return engine.ErrPairNotFound
	}
	delete(m.pairs, id)
	for k := range m.records {
		if k.pairID == id {
			delete(m.records, k)
		}
	}
	for cid, c := range m.conflicts {
		if c.SyncPairID == id {
			delete(m.conflicts, cid)
		}
	}
	return nil
}

func (m *Memory) GetSyncPair(_ context.Context, id int64) (*engine.SyncPair, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.pairs[id]
	if !ok {
		return nil, nil
	}
	cp := p
	return &cp, nil
}

func (m *Memory) ListSyncPairs(_ context.Context) ([]engine.SyncPair, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]engine.SyncPair, 0, len(m.pairs))
	for _, p := range m.pairs {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) TouchSyncPair(_ context.Context, id int64, lastSyncAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.pairs[id]
	if !ok {
		return engine.ErrPairNotFound
	}
	p.LastSyncAt = &lastSyncAt
	p.UpdatedAt = time.Now().UTC()
	m.pairs[id] = p
	return nil
}

func (m *Memory) GetSyncedRecord(_ context.Context, pairID, aEntityID int64) (*engine.SyncedRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[recordKey{pairID, aEntityID}]
	if !ok {
		return nil, nil
	}
	cp := rec
	return &cp, nil
}

func (m *Memory) ListSyncedRecords(_ context.Context, pairID int64) ([]engine.SyncedRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []engine.SyncedRecord
	for k, rec := range m.records {
		if k.pairID == pairID {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AEntityID < out[j].AEntityID })
	return out, nil
}

func (m *Memory) UpsertSyncedRecord(_ context.Context, rec *engine.SyncedRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[recordKey{rec.SyncPairID, rec.AEntityID}] = *rec
	return nil
}

func (m *Memory) DeleteSyncedRecord(_ context.Context, pairID, aEntityID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.records, recordKey{pairID, aEntityID})
	return nil
}

func (m *Memory) CreateConflict(_ context.Context, c *engine.Conflict) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextConflictID++
	c.ID = m.nextConflictID
	c.CreatedAt = time.Now().UTC()
	if c.Status == "" {
		c.Status = engine.ConflictPending
	}
	m.conflicts[c.ID] = *c
	return c.ID, nil
}

func (m *Memory) ListConflicts(_ context.Context, pairID int64, pendingOnly bool) ([]engine.Conflict, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []engine.Conflict
	for _, c := range m.conflicts {
		if pairID != 0 && c.SyncPairID != pairID {
			continue
		}
		if pendingOnly && c.Status != engine.ConflictPending {
			continue
		}
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) ResolveConflict(_ context.Context, id int64, pick engine.Resolution) (*engine.Conflict, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.conflicts[id]
	if !ok {
		return nil, engine.ErrConflictNotFound
	}
	now := time.Now().UTC()
	c.Status = engine.ConflictResolved
	c.Resolution = pick
	c.ResolvedAt = &now
	m.conflicts[id] = c
	cp := c
	return &cp, nil
}

func (m *Memory) DeleteConflict(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.conflicts[id]; !ok {
		return engine.ErrConflictNotFound
	}
	delete(m.conflicts, id)
	return nil
}

func (m *Memory) AppendHistory(_ context.Context, h *engine.HistoryEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextHistoryID++
	h.ID = m.nextHistoryID
	if h.CreatedAt.IsZero() {
		h.CreatedAt = time.Now().UTC()
	}
	m.history = append(m.history, *h)
	return nil
}

func (m *Memory) ListHistory(_ context.Context, pairID int64, limit int) ([]engine.HistoryEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []engine.HistoryEntry
	for i := len(m.history) - 1; i >= 0; i-- {
		h := m.history[i]
		if pairID != 0 && h.SyncPairID != pairID {
			continue
		}
		out = append(out, h)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (m *Memory) PutFieldCache(_ context.Context, listRef string, fields []systema.Field) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fieldCache[listRef] = fieldCacheRow{fields: append([]systema.Field(nil), fields...), refreshed: time.Now().UTC()}
	return nil
}

func (m *Memory) GetFieldCache(_ context.Context, listRef string) ([]systema.Field, time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.fieldCache[listRef]
	if !ok {
		return nil, time.Time{}, nil
	}
	return append([]systema.Field(nil), row.fields...), row.refreshed, nil
}
