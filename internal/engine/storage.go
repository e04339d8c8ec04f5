package engine

import (
	"context"
	"time"

	"github.com/erauner12/pagesync/internal/systema"
	"github.com/erauner12/pagesync/internal/systemb"
)

// Storage is the persistence contract the engine consumes. Row-level
// operations are transactional; no bulk atomicity is required. The
// engine tolerates partial completion of multi-step updates and
// re-checks via fingerprint on the next run.
type Storage interface {
	GetSyncPair(ctx context.Context, id int64) (*SyncPair, error)
	ListSyncPairs(ctx context.Context) ([]SyncPair, error)
	// TouchSyncPair is the only pair mutation the engine performs;
	// everything else belongs to the configuration surface.
	TouchSyncPair(ctx context.Context, id int64, lastSyncAt time.Time) error

	GetSyncedRecord(ctx context.Context, pairID, aEntityID int64) (*SyncedRecord, error)
	// ListSyncedRecords backs the cleanup pass that removes records
	// whose page vanished from B.
	ListSyncedRecords(ctx context.Context, pairID int64) ([]SyncedRecord, error)
	UpsertSyncedRecord(ctx context.Context, rec *SyncedRecord) error
	DeleteSyncedRecord(ctx context.Context, pairID, aEntityID int64) error

	CreateConflict(ctx context.Context, c *Conflict) (int64, error)
	// ListConflicts with pairID 0 spans all pairs.
	ListConflicts(ctx context.Context, pairID int64, pendingOnly bool) ([]Conflict, error)
	ResolveConflict(ctx context.Context, id int64, pick Resolution) (*Conflict, error)
	DeleteConflict(ctx context.Context, id int64) error

	AppendHistory(ctx context.Context, h *HistoryEntry) error
	ListHistory(ctx context.Context, pairID int64, limit int) ([]HistoryEntry, error)

	// Field definition cache for A lists, refreshed on each run.
	PutFieldCache(ctx context.Context, listRef string, fields []systema.Field) error
	GetFieldCache(ctx context.Context, listRef string) ([]systema.Field, time.Time, error)
}

// SystemA is the read-only A surface the runner consumes. Writes are
// staged through UpdateEntryFields and may be unsupported.
type SystemA interface {
	ListFields(ctx context.Context, listRef string) ([]systema.Field, error)
	ListEntries(ctx context.Context, listRef string, filter systema.EntryFilter) ([]systema.Entry, error)
	UpdateEntryFields(ctx context.Context, entryID int64, updates []systema.FieldUpdate) error
}

// SystemB is the page surface the runner consumes. ArchivePage is the
// only removal primitive; nothing is hard-deleted.
type SystemB interface {
	GetDatabase(ctx context.Context, dbRef string) (*systemb.Database, error)
	QueryDatabase(ctx context.Context, dbRef string) ([]systemb.Page, error)
	CreatePage(ctx context.Context, dbRef string, properties map[string]any) (string, error)
	UpdatePage(ctx context.Context, pageID string, properties map[string]any) error
	ArchivePage(ctx context.Context, pageID string) error
	AddProperty(ctx context.Context, dbRef, name, propType string) error
}
