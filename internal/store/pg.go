package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/erauner12/pagesync/internal/engine"
	"github.com/erauner12/pagesync/internal/systema"
)

// PG is the PostgreSQL implementation of the engine's storage contract
// plus the pair configuration surface.
type PG struct {
	db *pgxpool.Pool
}

// NewPG wraps an open connection pool.
func NewPG(db *pgxpool.Pool) *PG {
	return &PG{db: db}
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS sync_pair (
		id              BIGSERIAL PRIMARY KEY,
		name            TEXT NOT NULL,
		list_ref        TEXT NOT NULL,
		db_ref          TEXT NOT NULL,
		direction       TEXT NOT NULL,
		period_minutes  INT NOT NULL,
		field_mappings  JSONB NOT NULL DEFAULT '[]',
		status_field_id BIGINT NOT NULL DEFAULT 0,
		status_filters  JSONB NOT NULL DEFAULT '[]',
		active          BOOLEAN NOT NULL DEFAULT TRUE,
		last_sync_at    TIMESTAMPTZ,
		created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at      TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS synced_record (
		sync_pair_id       BIGINT NOT NULL REFERENCES sync_pair(id) ON DELETE CASCADE,
		a_entity_id        BIGINT NOT NULL,
		a_entity_type      TEXT NOT NULL,
		b_page_id          TEXT NOT NULL,
		fingerprint        TEXT NOT NULL,
		a_last_modified_at TIMESTAMPTZ NOT NULL,
		b_last_modified_at TIMESTAMPTZ NOT NULL,
		last_synced_at     TIMESTAMPTZ NOT NULL,
		PRIMARY KEY (sync_pair_id, a_entity_id)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_synced_record_page ON synced_record (b_page_id)`,
	`CREATE TABLE IF NOT EXISTS conflict (
		id                 BIGSERIAL PRIMARY KEY,
		sync_pair_id       BIGINT NOT NULL REFERENCES sync_pair(id) ON DELETE CASCADE,
		a_record_id        BIGINT NOT NULL,
		a_record_type      TEXT NOT NULL,
		field_name         TEXT NOT NULL,
		a_value            TEXT NOT NULL DEFAULT '',
		b_value            TEXT NOT NULL DEFAULT '',
		a_last_modified_at TIMESTAMPTZ NOT NULL,
		b_last_modified_at TIMESTAMPTZ NOT NULL,
		status             TEXT NOT NULL DEFAULT 'pending',
		resolution         TEXT,
		resolved_at        TIMESTAMPTZ,
		created_at         TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_conflict_pair_status ON conflict (sync_pair_id, status)`,
	`CREATE TABLE IF NOT EXISTS sync_history (
		id               BIGSERIAL PRIMARY KEY,
		sync_pair_id     BIGINT NOT NULL,
		status           TEXT NOT NULL,
		records_created  INT NOT NULL DEFAULT 0,
		records_updated  INT NOT NULL DEFAULT 0,
		records_archived INT NOT NULL DEFAULT 0,
		conflicts_found  INT NOT NULL DEFAULT 0,
		duration_ms      BIGINT NOT NULL DEFAULT 0,
		error_message    TEXT,
		details          JSONB NOT NULL DEFAULT '[]',
		created_at       TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_sync_history_pair_created ON sync_history (sync_pair_id, created_at DESC)`,
	`CREATE TABLE IF NOT EXISTS a_field_cache (
		list_ref     TEXT PRIMARY KEY,
		fields       JSONB NOT NULL,
		refreshed_at TIMESTAMPTZ NOT NULL
	)`,
}

// Init creates the five tables if they are missing. Idempotent; runs
// at daemon startup.
func (s *PG) Init(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}

func (s *PG) CreateSyncPair(ctx context.Context, p *engine.SyncPair) error {
	mappings, err := json.Marshal(p.FieldMappings)
	if err != nil {
		return fmt.Errorf("encode field mappings: %w", err)
	}
	filters, err := json.Marshal(p.StatusFilters)
	if err != nil {
		return fmt.Errorf("encode status filters: %w", err)
	}
	row := s.db.QueryRow(ctx, `
		INSERT INTO sync_pair (name, list_ref, db_ref, direction, period_minutes,
			field_mappings, status_field_id, status_filters, active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id, created_at, updated_at`,
		p.Name, p.ListRef, p.DBRef, string(p.Direction), p.PeriodMinutes,
		mappings, p.StatusFieldID, filters, p.Active)
	return row.Scan(&p.ID, &p.CreatedAt, &p.UpdatedAt)
}

func (s *PG) UpdateSyncPair(ctx context.Context, p *engine.SyncPair) error {
	mappings, err := json.Marshal(p.FieldMappings)
	if err != nil {
		return fmt.Errorf("encode field mappings: %w", err)
	}
	filters, err := json.Marshal(p.StatusFilters)
	if err != nil {
		return fmt.Errorf("encode status filters: %w", err)
	}
	tag, err := s.db.Exec(ctx, `
		UPDATE sync_pair SET name=$2, list_ref=$3, db_ref=$4, direction=$5,
			period_minutes=$6, field_mappings=$7, status_field_id=$8,
			status_filters=$9, active=$10, updated_at=now()
		WHERE id=$1`,
		p.ID, p.Name, p.ListRef, p.DBRef, string(p.Direction), p.PeriodMinutes,
		mappings, p.StatusFieldID, filters, p.Active)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return engine.ErrPairNotFound
	}
	return nil
}

func (s *PG) DeleteSyncPair(ctx context.Context, id int64) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM sync_pair WHERE id=$1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return engine.ErrPairNotFound
	}
	return nil
}

const pairColumns = `id, name, list_ref, db_ref, direction, period_minutes,
	field_mappings, status_field_id, status_filters, active, last_sync_at,
	created_at, updated_at`

func scanPair(row pgx.Row) (*engine.SyncPair, error) {
	var p engine.SyncPair
	var direction string
	var mappings, filters []byte
	err := row.Scan(&p.ID, &p.Name, &p.ListRef, &p.DBRef, &direction, &p.PeriodMinutes,
		&mappings, &p.StatusFieldID, &filters, &p.Active, &p.LastSyncAt,
		&p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	p.Direction = engine.Direction(direction)
	if err := json.Unmarshal(mappings, &p.FieldMappings); err != nil {
		return nil, fmt.Errorf("decode field mappings for pair %d: %w", p.ID, err)
	}
	if err := json.Unmarshal(filters, &p.StatusFilters); err != nil {
		return nil, fmt.Errorf("decode status filters for pair %d: %w", p.ID, err)
	}
	return &p, nil
}

func (s *PG) GetSyncPair(ctx context.Context, id int64) (*engine.SyncPair, error) {
	p, err := scanPair(s.db.QueryRow(ctx, `SELECT `+pairColumns+` FROM sync_pair WHERE id=$1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return p, err
}

func (s *PG) ListSyncPairs(ctx context.Context) ([]engine.SyncPair, error) {
	rows, err := s.db.Query(ctx, `SELECT `+pairColumns+` FROM sync_pair ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []engine.SyncPair
	for rows.Next() {
		p, err := scanPair(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

func (s *PG) TouchSyncPair(ctx context.Context, id int64, lastSyncAt time.Time) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE sync_pair SET last_sync_at=$2, updated_at=now() WHERE id=$1`, id, lastSyncAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return engine.ErrPairNotFound
	}
	return nil
}

func (s *PG) GetSyncedRecord(ctx context.Context, pairID, aEntityID int64) (*engine.SyncedRecord, error) {
	var rec engine.SyncedRecord
	err := s.db.QueryRow(ctx, `
		SELECT sync_pair_id, a_entity_id, a_entity_type, b_page_id, fingerprint,
			a_last_modified_at, b_last_modified_at, last_synced_at
		FROM synced_record WHERE sync_pair_id=$1 AND a_entity_id=$2`,
		pairID, aEntityID).
		Scan(&rec.SyncPairID, &rec.AEntityID, &rec.AEntityType, &rec.BPageID, &rec.Fingerprint,
			&rec.ALastModifiedAt, &rec.BLastModifiedAt, &rec.LastSyncedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (s *PG) ListSyncedRecords(ctx context.Context, pairID int64) ([]engine.SyncedRecord, error) {
	rows, err := s.db.Query(ctx, `
		SELECT sync_pair_id, a_entity_id, a_entity_type, b_page_id, fingerprint,
			a_last_modified_at, b_last_modified_at, last_synced_at
		FROM synced_record WHERE sync_pair_id=$1 ORDER BY a_entity_id`, pairID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []engine.SyncedRecord
	for rows.Next() {
		var rec engine.SyncedRecord
		if err := rows.Scan(&rec.SyncPairID, &rec.AEntityID, &rec.AEntityType, &rec.BPageID,
			&rec.Fingerprint, &rec.ALastModifiedAt, &rec.BLastModifiedAt, &rec.LastSyncedAt); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *PG) UpsertSyncedRecord(ctx context.Context, rec *engine.SyncedRecord) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO synced_record (sync_pair_id, a_entity_id, a_entity_type, b_page_id,
			fingerprint, a_last_modified_at, b_last_modified_at, last_synced_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (sync_pair_id, a_entity_id) DO UPDATE SET
			a_entity_type      = EXCLUDED.a_entity_type,
			b_page_id          = EXCLUDED.b_page_id,
			fingerprint        = EXCLUDED.fingerprint,
			a_last_modified_at = EXCLUDED.a_last_modified_at,
			b_last_modified_at = EXCLUDED.b_last_modified_at,
			last_synced_at     = EXCLUDED.last_synced_at`,
		rec.SyncPairID, rec.AEntityID, rec.AEntityType, rec.BPageID,
		rec.Fingerprint, rec.ALastModifiedAt, rec.BLastModifiedAt, rec.LastSyncedAt)
	return err
}

func (s *PG) DeleteSyncedRecord(ctx context.Context, pairID, aEntityID int64) error {
	_, err := s.db.Exec(ctx,
		`DELETE FROM synced_record WHERE sync_pair_id=$1 AND a_entity_id=$2`, pairID, aEntityID)
	return err
}

func (s *PG) CreateConflict(ctx context.Context, c *engine.Conflict) (int64, error) {
	if c.Status == "" {
		c.Status = engine.ConflictPending
	}
	err := s.db.QueryRow(ctx, `
		INSERT INTO conflict (sync_pair_id, a_record_id, a_record_type, field_name,
			a_value, b_value, a_last_modified_at, b_last_modified_at, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id, created_at`,
		c.SyncPairID, c.ARecordID, c.ARecordType, c.FieldName,
		c.AValue, c.BValue, c.ALastModifiedAt, c.BLastModifiedAt, string(c.Status)).
		Scan(&c.ID, &c.CreatedAt)
	return c.ID, err
}

func (s *PG) ListConflicts(ctx context.Context, pairID int64, pendingOnly bool) ([]engine.Conflict, error) {
	q := `SELECT id, sync_pair_id, a_record_id, a_record_type, field_name, a_value, b_value,
		a_last_modified_at, b_last_modified_at, status, COALESCE(resolution, ''), resolved_at, created_at
		FROM conflict WHERE ($1 = 0 OR sync_pair_id = $1)`
	if pendingOnly {
		q += ` AND status = 'pending'`
	}
	q += ` ORDER BY id`
	rows, err := s.db.Query(ctx, q, pairID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []engine.Conflict
	for rows.Next() {
		var c engine.Conflict
		var status, resolution string
		if err := rows.Scan(&c.ID, &c.SyncPairID, &c.ARecordID, &c.ARecordType, &c.FieldName,
			&c.AValue, &c.BValue, &c.ALastModifiedAt, &c.BLastModifiedAt,
			&status, &resolution, &c.ResolvedAt, &c.CreatedAt); err != nil {
			return nil, err
		}
		c.Status = engine.ConflictStatus(status)
		c.Resolution = engine.Resolution(resolution)
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *PG) ResolveConflict(ctx context.Context, id int64, pick engine.Resolution) (*engine.Conflict, error) {
	var c engine.Conflict
	var status, resolution string
	err := s.db.QueryRow(ctx, `
		UPDATE conflict SET status='resolved', resolution=$2, resolved_at=now()
		WHERE id=$1
		RETURNING id, sync_pair_id, a_record_id, a_record_type, field_name, a_value, b_value,
			a_last_modified_at, b_last_modified_at, status, resolution, resolved_at, created_at`,
		id, string(pick)).
		Scan(&c.ID, &c.SyncPairID, &c.ARecordID, &c.ARecordType, &c.FieldName,
			&c.AValue, &c.BValue, &c.ALastModifiedAt, &c.BLastModifiedAt,
			&status, &resolution, &c.ResolvedAt, &c.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, engine.ErrConflictNotFound
	}
	if err != nil {
		return nil, err
	}
	c.Status = engine.ConflictStatus(status)
	c.Resolution = engine.Resolution(resolution)
	return &c, nil
}

func (s *PG) DeleteConflict(ctx context.Context, id int64) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM conflict WHERE id=$1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return engine.ErrConflictNotFound
	}
	return nil
}

func (s *PG) AppendHistory(ctx context.Context, h *engine.HistoryEntry) error {
	details := h.Details
	if details == nil {
		details = []string{}
	}
	payload, err := json.Marshal(details)
	if err != nil {
		return fmt.Errorf("encode run details: %w", err)
	}
	return s.db.QueryRow(ctx, `
		INSERT INTO sync_history (sync_pair_id, status, records_created, records_updated,
			records_archived, conflicts_found, duration_ms, error_message, details)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NULLIF($8, ''), $9)
		RETURNING id, created_at`,
		h.SyncPairID, string(h.Status), h.RecordsCreated, h.RecordsUpdated,
		h.RecordsArchived, h.ConflictsFound, h.DurationMs, h.ErrorMessage, payload).
		Scan(&h.ID, &h.CreatedAt)
}

func (s *PG) ListHistory(ctx context.Context, pairID int64, limit int) ([]engine.HistoryEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.Query(ctx, `
		SELECT id, sync_pair_id, status, records_created, records_updated, records_archived,
			conflicts_found, duration_ms, COALESCE(error_message, ''), details, created_at
		FROM sync_history WHERE ($1 = 0 OR sync_pair_id = $1)
		ORDER BY created_at DESC, id DESC LIMIT $2`, pairID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []engine.HistoryEntry
	for rows.Next() {
		var h engine.HistoryEntry
		var status string
		var details []byte
		if err := rows.Scan(&h.ID, &h.SyncPairID, &status, &h.RecordsCreated, &h.RecordsUpdated,
			&h.RecordsArchived, &h.ConflictsFound, &h.DurationMs, &h.ErrorMessage,
			&details, &h.CreatedAt); err != nil {
			return nil, err
		}
		h.Status = engine.HistoryStatus(status)
		if err := json.Unmarshal(details, &h.Details); err != nil {
			return nil, fmt.Errorf("decode details for history %d: %w", h.ID, err)
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

func (s *PG) PutFieldCache(ctx context.Context, listRef string, fields []systema.Field) error {
	payload, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("encode field definitions: %w", err)
	}
	_, err = s.db.Exec(ctx, `
		INSERT INTO a_field_cache (list_ref, fields, refreshed_at)
		VALUES ($1, $2, now())
		ON CONFLICT (list_ref) DO UPDATE SET
			fields = EXCLUDED.fields, refreshed_at = EXCLUDED.refreshed_at`,
		listRef, payload)
	return err
}

func (s *PG) GetFieldCache(ctx context.Context, listRef string) ([]systema.Field, time.Time, error) {
	var payload []byte
	var refreshed time.Time
	err := s.db.QueryRow(ctx,
		`SELECT fields, refreshed_at FROM a_field_cache WHERE list_ref=$1`, listRef).
		Scan(&payload, &refreshed)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, time.Time{}, nil
	}
	if err != nil {
		return nil, time.Time{}, err
	}
	var fields []systema.Field
	if err := json.Unmarshal(payload, &fields); err != nil {
		return nil, time.Time{}, fmt.Errorf("decode cached fields for %s: %w", listRef, err)
	}
	return fields, refreshed, nil
}
