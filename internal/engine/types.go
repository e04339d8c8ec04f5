package engine

import (
	"time"
)

// Direction controls which way a pair mirrors.
type Direction string

const (
	DirectionAToB          Direction = "a_to_b"
	DirectionBToA          Direction = "b_to_a"
	DirectionBidirectional Direction = "bidirectional"
)

// Valid reports whether d is one of the three known directions.
func (d Direction) Valid() bool {
	switch d {
	case DirectionAToB, DirectionBToA, DirectionBidirectional:
		return true
	}
	return false
}

// FieldMapping links one A field (or virtual attribute, negative id) to
// one B property. Type hints are resolved from the live B schema, never
// from the mapping.
type FieldMapping struct {
	AFieldName    string `json:"aFieldName"`
	AFieldID      int64  `json:"aFieldId"`
	BPropertyName string `json:"bPropertyName"`
}

// SyncPair is the persistent configuration for one list↔database link.
type SyncPair struct {
	ID            int64          `json:"id"`
	Name          string         `json:"name"`
	ListRef       string         `json:"listRef"`
	DBRef         string         `json:"dbRef"`
	Direction     Direction      `json:"direction"`
	PeriodMinutes int            `json:"periodMinutes"`
	FieldMappings []FieldMapping `json:"fieldMappings"`
	StatusFieldID int64          `json:"statusFieldId"`
	StatusFilters []string       `json:"statusFilters"`
	Active        bool           `json:"active"`
	LastSyncAt    *time.Time     `json:"lastSyncAt"`
	CreatedAt     time.Time      `json:"createdAt"`
	UpdatedAt     time.Time      `json:"updatedAt"`
}

// SyncedRecord ties one A entity to the page mirroring it, unique per
// (syncPairId, aEntityId).
type SyncedRecord struct {
	SyncPairID      int64     `json:"syncPairId"`
	AEntityID       int64     `json:"aEntityId"`
	AEntityType     string    `json:"aEntityType"`
	BPageID         string    `json:"bPageId"`
	Fingerprint     string    `json:"fingerprint"`
	ALastModifiedAt time.Time `json:"aLastModifiedAt"`
	BLastModifiedAt time.Time `json:"bLastModifiedAt"`
	LastSyncedAt    time.Time `json:"lastSyncedAt"`
}

// ConflictStatus is the lifecycle state of a conflict row.
type ConflictStatus string

const (
	ConflictPending  ConflictStatus = "pending"
	ConflictResolved ConflictStatus = "resolved"
	ConflictSkipped  ConflictStatus = "skipped"
)

// Resolution names which side won a conflict.
type Resolution string

const (
	ResolutionA      Resolution = "A"
	ResolutionB      Resolution = "B"
	ResolutionManual Resolution = "manual"
)

// Conflict is a per-field divergence the engine declined to resolve.
type Conflict struct {
	ID              int64          `json:"id"`
	SyncPairID      int64          `json:"syncPairId"`
	ARecordID       int64          `json:"aRecordId"`
	ARecordType     string         `json:"aRecordType"`
	FieldName       string         `json:"fieldName"`
	AValue          string         `json:"aValue"`
	BValue          string         `json:"bValue"`
	ALastModifiedAt time.Time      `json:"aLastModifiedAt"`
	BLastModifiedAt time.Time      `json:"bLastModifiedAt"`
	Status          ConflictStatus `json:"status"`
	Resolution      Resolution     `json:"resolution,omitempty"`
	ResolvedAt      *time.Time     `json:"resolvedAt,omitempty"`
	CreatedAt       time.Time      `json:"createdAt"`
}

// HistoryStatus classifies a finished run.
type HistoryStatus string

const (
	StatusSuccess HistoryStatus = "success"
	StatusWarning HistoryStatus = "warning"
	StatusError   HistoryStatus = "error"
)

// HistoryEntry is one append-only run record.
type HistoryEntry struct {
	ID              int64         `json:"id"`
	SyncPairID      int64         `json:"syncPairId"`
	Status          HistoryStatus `json:"status"`
	RecordsCreated  int           `json:"recordsCreated"`
	RecordsUpdated  int           `json:"recordsUpdated"`
	RecordsArchived int           `json:"recordsArchived"`
	ConflictsFound  int           `json:"conflictsFound"`
	DurationMs      int64         `json:"durationMs"`
	ErrorMessage    string        `json:"errorMessage,omitempty"`
	Details         []string      `json:"details,omitempty"`
	CreatedAt       time.Time     `json:"createdAt"`
}

// RunResult is the in-memory outcome of one PairRunner invocation.
type RunResult struct {
	PairID   int64
	Status   HistoryStatus
	Created  int
	Updated  int
	Archived int
	// Conflicts counts manual conflicts detected this run, whether or
	// not a row already existed for them.
	Conflicts int
	Duration  time.Duration
	Details   []string
	Err       error
}

func (r *RunResult) add(other RunResult) {
	r.Created += other.Created
	r.Updated += other.Updated
	r.Archived += other.Archived
	r.Conflicts += other.Conflicts
	r.Details = append(r.Details, other.Details...)
}
