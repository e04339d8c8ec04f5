package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/erauner12/pagesync/internal/canon"
	"github.com/erauner12/pagesync/internal/systema"
	"github.com/erauner12/pagesync/internal/systemb"
)

// RunnerConfig tunes mirroring behavior.
type RunnerConfig struct {
	// BatchSize is the number of entries mirrored in parallel within
	// one batch. Batches run serially.
	BatchSize int
	// AutoArchiveUnmatched enables the cleanup pass that archives
	// managed pages whose A entry left the filtered set.
	AutoArchiveUnmatched bool
	// StrictSanitization nulls values that fail sanitization instead
	// of passing them through.
	StrictSanitization bool
}

func (c RunnerConfig) withDefaults() RunnerConfig {
	if c.BatchSize <= 0 {
		c.BatchSize = 5
	}
	return c
}

// Runner executes one sync pass per invocation. At most one run per
// pair is in flight at any time; concurrent calls for the same pair
// fail fast with ErrBusy and leave no trace in history.
type Runner struct {
	a     SystemA
	b     SystemB
	store Storage
	sink  *Sink
	cfg   RunnerConfig

	mu     sync.Mutex
	active map[int64]struct{}
}

// NewRunner wires a runner from its collaborators.
func NewRunner(a SystemA, b SystemB, store Storage, sink *Sink, cfg RunnerConfig) *Runner {
	return &Runner{
		a:      a,
		b:      b,
		store:  store,
		sink:   sink,
		cfg:    cfg.withDefaults(),
		active: make(map[int64]struct{}),
	}
}

// ActivePairs returns the ids of pairs currently running.
func (r *Runner) ActivePairs() []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]int64, 0, len(r.active))
	for id := range r.active {
		ids = append(ids, id)
	}
	return ids
}

// ClearActive empties the active set without stopping runs. Operator
// escape hatch for recovery after a crash-restart; leaves a narrow
// window where a duplicate run is possible.
func (r *Runner) ClearActive() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.active = make(map[int64]struct{})
}

func (r *Runner) acquire(pairID int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, busy := r.active[pairID]; busy {
		return false
	}
	r.active[pairID] = struct{}{}
	return true
}

func (r *Runner) release(pairID int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.active, pairID)
}

// Run executes one sync pass for a pair. The returned result carries
// the run outcome; the error return is reserved for invocation-level
// failures (busy, unknown pair) that produce no history entry.
func (r *Runner) Run(ctx context.Context, pairID int64) (*RunResult, error) {
	if !r.acquire(pairID) {
		return nil, ErrBusy
	}
	defer r.release(pairID)

	pair, err := r.store.GetSyncPair(ctx, pairID)
	if err != nil {
		return nil, fmt.Errorf("load pair %d: %w", pairID, err)
	}
	if pair == nil {
		return nil, ErrPairNotFound
	}

	logger := log.With().
		Int64("pairId", pair.ID).
		Str("pair", pair.Name).
		Str("runId", uuid.New().String()).
		Logger()
	logger.Info().Str("direction", string(pair.Direction)).Msg("sync run started")

	start := time.Now()
	res := r.execute(ctx, &logger, pair)
	res.PairID = pair.ID
	res.Duration = time.Since(start)

	switch {
	case res.Err != nil:
		res.Status = StatusError
	case res.Conflicts > 0 || len(res.Details) > 0:
		res.Status = StatusWarning
	default:
		res.Status = StatusSuccess
	}

	if res.Err == nil {
		if err := r.store.TouchSyncPair(ctx, pair.ID, time.Now().UTC()); err != nil {
			logger.Error().Err(err).Msg("failed to record last sync time")
			res.Details = append(res.Details, "lastSyncAt not persisted: "+err.Error())
			res.Status = StatusWarning
		}
	}

	// The history append must survive the cancellation that may have
	// ended the run itself.
	r.sink.Record(context.WithoutCancel(ctx), &logger, res)
	return res, nil
}

func (r *Runner) execute(ctx context.Context, logger *zerolog.Logger, pair *SyncPair) *RunResult {
	res := &RunResult{}
	st, err := r.load(ctx, logger, pair)
	if err != nil {
		res.Err = runError(err)
		return res
	}
	res.Details = append(res.Details, st.warnings...)

	if pair.Direction == DirectionAToB || pair.Direction == DirectionBidirectional {
		phase, err := r.runAToB(ctx, logger, st)
		res.add(phase)
		if err != nil {
			res.Err = runError(err)
			return res
		}
	}
	if pair.Direction == DirectionBToA || pair.Direction == DirectionBidirectional {
		phase, err := r.runBToA(ctx, logger, st)
		if phase.Archived > 0 {
			res.Err = &IntegrityError{Reason: fmt.Sprintf("reverse phase archived %d pages", phase.Archived)}
			return res
		}
		res.add(phase)
		if err != nil {
			res.Err = runError(err)
			return res
		}
	}
	return res
}

// runError normalizes a phase failure, tagging cancellation so the
// history entry carries a distinguishable marker.
func runError(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("run canceled: %w", err)
	}
	return err
}

// runState is everything the phases share: both record sets, the live
// schema, the managed-page index, and conflict bookkeeping.
type runState struct {
	pair      *SyncPair
	db        *systemb.Database
	entries   []systema.Entry
	entryByID map[int64]*systema.Entry
	pages     []systemb.Page
	managed   map[int64]*systemb.Page
	pageByID  map[string]*systemb.Page
	records   []SyncedRecord
	ts        time.Time
	warnings  []string

	mu      sync.Mutex
	pending map[conflictKey]bool
	counted map[conflictKey]bool
}

type conflictKey struct {
	recordID int64
	field    string
}

func (r *Runner) load(ctx context.Context, logger *zerolog.Logger, pair *SyncPair) (*runState, error) {
	st := &runState{
		pair:      pair,
		entryByID: make(map[int64]*systema.Entry),
		managed:   make(map[int64]*systemb.Page),
		pageByID:  make(map[string]*systemb.Page),
		pending:   make(map[conflictKey]bool),
		counted:   make(map[conflictKey]bool),
	}
	if pair.LastSyncAt != nil {
		st.ts = *pair.LastSyncAt
	}

	filter := systema.EntryFilter{StatusFieldID: pair.StatusFieldID, StatusValues: pair.StatusFilters}
	entries, err := r.a.ListEntries(ctx, pair.ListRef, filter)
	if err != nil {
		return nil, fmt.Errorf("load A entries: %w", err)
	}
	st.entries = entries
	for i := range st.entries {
		st.entryByID[st.entries[i].EntityID] = &st.entries[i]
	}

	if fields, err := r.a.ListFields(ctx, pair.ListRef); err != nil {
		logger.Warn().Err(err).Msg("field definition refresh failed")
		st.warnings = append(st.warnings, "field cache not refreshed: "+err.Error())
	} else if err := r.store.PutFieldCache(ctx, pair.ListRef, fields); err != nil {
		logger.Warn().Err(err).Msg("field cache write failed")
	}

	db, err := r.b.GetDatabase(ctx, pair.DBRef)
	if err != nil {
		return nil, fmt.Errorf("load B schema: %w", err)
	}
	if db.PropertyType(systemb.AIDProperty) == "" {
		logger.Info().Str("db", pair.DBRef).Msg("declaring join property on database")
		if err := r.b.AddProperty(ctx, pair.DBRef, systemb.AIDProperty, "rich_text"); err != nil {
			return nil, fmt.Errorf("declare %s property: %w", systemb.AIDProperty, err)
		}
		db.Properties[systemb.AIDProperty] = systemb.PropertySchema{Name: systemb.AIDProperty, Type: "rich_text"}
	}
	st.db = db

	pages, err := r.b.QueryDatabase(ctx, pair.DBRef)
	if err != nil {
		return nil, fmt.Errorf("load B pages: %w", err)
	}
	st.pages = pages
	for i := range st.pages {
		p := &st.pages[i]
		st.pageByID[p.ID] = p
		if aID, ok := p.AID(); ok {
			st.managed[aID] = p
		}
	}

	st.records, err = r.store.ListSyncedRecords(ctx, pair.ID)
	if err != nil {
		return nil, fmt.Errorf("load synced records: %w", err)
	}
	// A record pointing at a live page that carries no join property
	// means something would have to archive an unmanaged page to
	// converge. Refuse the whole run.
	for _, rec := range st.records {
		if p, ok := st.pageByID[rec.BPageID]; ok {
			if _, managed := p.AID(); !managed {
				return nil, &IntegrityError{Reason: fmt.Sprintf(
					"synced record (pair %d, entity %d) points at unmanaged page %s", pair.ID, rec.AEntityID, rec.BPageID)}
			}
		}
	}

	pending, err := r.store.ListConflicts(ctx, pair.ID, true)
	if err != nil {
		return nil, fmt.Errorf("load pending conflicts: %w", err)
	}
	for _, c := range pending {
		st.pending[conflictKey{c.ARecordID, c.FieldName}] = true
	}
	return st, nil
}

// evalFields resolves every mapping against one (entry, page) pair.
// page may be nil on the create path; B values are then empty.
func (r *Runner) evalFields(st *runState, e *systema.Entry, page *systemb.Page) ([]fieldState, []string) {
	var states []fieldState
	var details []string
	tb := time.Time{}
	if page != nil {
		tb = page.LastEditedAt
	}
	for _, m := range st.pair.FieldMappings {
		bType := st.db.PropertyType(m.BPropertyName)
		if bType == "" {
			cerr := &ConfigError{PairID: st.pair.ID, Detail: fmt.Sprintf("property %q missing from database schema", m.BPropertyName)}
			details = append(details, cerr.Error())
			continue
		}

		var raw any
		if m.AFieldID < 0 {
			v, ok := e.VirtualValue(m.AFieldID)
			if !ok {
				cerr := &ConfigError{PairID: st.pair.ID, Detail: fmt.Sprintf("unknown virtual field id %d (%s)", m.AFieldID, m.AFieldName)}
				details = append(details, cerr.Error())
				continue
			}
			raw = v
		} else {
			raw, _ = e.FieldValue(m.AFieldID)
		}

		va, warns := canon.NormalizeForType(canon.Canonicalize(raw), canon.PropertyType(bType), r.cfg.StrictSanitization)
		details = append(details, warns...)

		vb := canon.Empty
		if page != nil {
			if prop, ok := page.Properties[m.BPropertyName]; ok {
				vb, warns = canon.NormalizeForType(canon.Canonicalize(prop.Plain()), canon.PropertyType(bType), r.cfg.StrictSanitization)
				details = append(details, warns...)
			}
		}

		states = append(states, fieldState{
			mapping:  m,
			bType:    bType,
			va:       va,
			vb:       vb,
			decision: resolveField(st.pair.Direction, va, vb, e.LastModifiedAt, tb, st.ts),
		})
	}
	return states, details
}

func fingerprintOf(states []fieldState) string {
	mapped := make([]canon.MappedField, 0, len(states))
	for _, s := range states {
		mapped = append(mapped, canon.MappedField{FieldID: s.mapping.AFieldID, Value: s.va})
	}
	return canon.Fingerprint(mapped)
}

// recordConflicts persists one pending conflict row per newly manual
// field. manual is the number of manual fields on this record; counted
// is how many of them were not already counted this run, so that
// evaluating the same record in both phases of a bidirectional pass
// reports each conflict once. A row already pending from an earlier
// run is re-detected but not duplicated.
func (r *Runner) recordConflicts(ctx context.Context, st *runState, e *systema.Entry, page *systemb.Page, states []fieldState) (manual, counted int, err error) {
	for _, s := range states {
		if s.decision != decideManual {
			continue
		}
		manual++
		key := conflictKey{e.EntityID, s.mapping.BPropertyName}
		st.mu.Lock()
		if st.counted[key] {
			st.mu.Unlock()
			continue
		}
		st.counted[key] = true
		counted++
		seen := st.pending[key]
		if !seen {
			st.pending[key] = true
		}
		st.mu.Unlock()
		if seen {
			continue
		}
		c := &Conflict{
			SyncPairID:      st.pair.ID,
			ARecordID:       e.EntityID,
			ARecordType:     string(e.EntityType),
			FieldName:       s.mapping.BPropertyName,
			AValue:          s.va.String(),
			BValue:          s.vb.String(),
			ALastModifiedAt: e.LastModifiedAt,
			BLastModifiedAt: page.LastEditedAt,
			Status:          ConflictPending,
		}
		if _, err := r.store.CreateConflict(ctx, c); err != nil {
			return manual, counted, fmt.Errorf("persist conflict for entity %d field %q: %w", e.EntityID, s.mapping.BPropertyName, err)
		}
	}
	return manual, counted, nil
}

type entryOutcome struct {
	created   int
	updated   int
	conflicts int
	details   []string
	err       error
}

func (r *Runner) runAToB(ctx context.Context, logger *zerolog.Logger, st *runState) (RunResult, error) {
	var res RunResult

	outcomes := make([]entryOutcome, len(st.entries))
	for base := 0; base < len(st.entries); base += r.cfg.BatchSize {
		end := base + r.cfg.BatchSize
		if end > len(st.entries) {
			end = len(st.entries)
		}
		var g errgroup.Group
		for i := base; i < end; i++ {
			i := i
			g.Go(func() error {
				outcomes[i] = r.mirrorEntry(ctx, st, &st.entries[i])
				return nil
			})
		}
		g.Wait()
		if err := ctx.Err(); err != nil {
			return res, err
		}
	}

	for i := range outcomes {
		o := &outcomes[i]
		res.Created += o.created
		res.Updated += o.updated
		res.Conflicts += o.conflicts
		res.Details = append(res.Details, o.details...)
		if o.err != nil {
			if IsIntegrity(o.err) {
				return res, o.err
			}
			logger.Warn().Err(o.err).Int64("entityId", st.entries[i].EntityID).Msg("record failed, continuing")
			res.Details = append(res.Details, fmt.Sprintf("entity %d: %v", st.entries[i].EntityID, o.err))
		}
	}

	if r.cfg.AutoArchiveUnmatched {
		archived, details, err := r.cleanup(ctx, logger, st)
		res.Archived += archived
		res.Details = append(res.Details, details...)
		if err != nil {
			return res, err
		}
	}
	return res, nil
}

func (r *Runner) mirrorEntry(ctx context.Context, st *runState, e *systema.Entry) entryOutcome {
	var o entryOutcome
	page := st.managed[e.EntityID]
	states, details := r.evalFields(st, e, page)
	o.details = details
	fp := fingerprintOf(states)

	rec, err := r.store.GetSyncedRecord(ctx, st.pair.ID, e.EntityID)
	if err != nil {
		o.err = fmt.Errorf("load synced record: %w", err)
		return o
	}
	if rec != nil && rec.Fingerprint == fp && page != nil {
		return o
	}

	now := time.Now().UTC()
	if page != nil {
		manual, counted, err := r.recordConflicts(ctx, st, e, page, states)
		if err != nil {
			o.err = err
			return o
		}
		if manual > 0 {
			o.conflicts = counted
			return o
		}

		props := map[string]any{}
		for _, s := range states {
			if s.decision != decidePickA {
				continue
			}
			shape, _ := canon.Project(s.va, canon.PropertyType(s.bType), r.cfg.StrictSanitization)
			props[s.mapping.BPropertyName] = shape
		}
		if len(props) > 0 {
			if err := r.b.UpdatePage(ctx, page.ID, props); err != nil {
				o.err = fmt.Errorf("update page %s: %w", page.ID, err)
				return o
			}
			o.updated = 1
		}
		o.err = r.upsertRecord(ctx, st, e, page.ID, fp, page.LastEditedAt, now)
		return o
	}

	props := map[string]any{}
	for _, s := range states {
		shape, _ := canon.Project(s.va, canon.PropertyType(s.bType), r.cfg.StrictSanitization)
		props[s.mapping.BPropertyName] = shape
	}
	props[systemb.AIDProperty] = canon.ProjectAID(e.EntityID, st.db.PropertyType(systemb.AIDProperty) == "number")
	if title, ok := st.db.TitleProperty(); ok {
		if _, mapped := props[title]; !mapped {
			shape, _ := canon.Project(canon.TextValue(e.Name), canon.TypeTitle, false)
			props[title] = shape
		}
	}
	pageID, err := r.b.CreatePage(ctx, st.pair.DBRef, props)
	if err != nil {
		o.err = fmt.Errorf("create page: %w", err)
		return o
	}
	o.created = 1
	o.err = r.upsertRecord(ctx, st, e, pageID, fp, now, now)
	return o
}

func (r *Runner) upsertRecord(ctx context.Context, st *runState, e *systema.Entry, pageID, fp string, bModified, now time.Time) error {
	rec := &SyncedRecord{
		SyncPairID:      st.pair.ID,
		AEntityID:       e.EntityID,
		AEntityType:     string(e.EntityType),
		BPageID:         pageID,
		Fingerprint:     fp,
		ALastModifiedAt: e.LastModifiedAt,
		BLastModifiedAt: bModified,
		LastSyncedAt:    now,
	}
	if err := r.store.UpsertSyncedRecord(ctx, rec); err != nil {
		return fmt.Errorf("upsert synced record for entity %d: %w", e.EntityID, err)
	}
	return nil
}

// cleanup archives managed pages whose A entity left the filtered set
// and prunes synced records whose page vanished from B.
func (r *Runner) cleanup(ctx context.Context, logger *zerolog.Logger, st *runState) (int, []string, error) {
	archived := 0
	var details []string

	for aID, page := range st.managed {
		if _, present := st.entryByID[aID]; present {
			continue
		}
		if _, ok := page.AID(); !ok {
			return archived, details, &IntegrityError{Reason: "archival candidate " + page.ID + " has no join property"}
		}
		logger.Info().Int64("entityId", aID).Str("pageId", page.ID).Msg("archiving page for departed entry")
		if err := r.b.ArchivePage(ctx, page.ID); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return archived, details, err
			}
			details = append(details, fmt.Sprintf("archive %s: %v", page.ID, err))
			continue
		}
		archived++
		if err := r.store.DeleteSyncedRecord(ctx, st.pair.ID, aID); err != nil {
			details = append(details, fmt.Sprintf("delete synced record for entity %d: %v", aID, err))
		}
	}

	for _, rec := range st.records {
		if _, present := st.entryByID[rec.AEntityID]; present {
			continue
		}
		if _, live := st.pageByID[rec.BPageID]; live {
			// Live pages were handled above via the managed index.
			continue
		}
		if err := r.store.DeleteSyncedRecord(ctx, st.pair.ID, rec.AEntityID); err != nil {
			details = append(details, fmt.Sprintf("delete stale synced record for entity %d: %v", rec.AEntityID, err))
		}
	}
	return archived, details, nil
}

// runBToA walks managed pages and stages writes back to A. It never
// creates or removes anything on either side.
func (r *Runner) runBToA(ctx context.Context, logger *zerolog.Logger, st *runState) (RunResult, error) {
	var res RunResult
	for aID, page := range st.managed {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		e, ok := st.entryByID[aID]
		if !ok {
			// The engine never creates A entries.
			continue
		}
		states, details := r.evalFields(st, e, page)
		res.Details = append(res.Details, details...)

		manual, counted, err := r.recordConflicts(ctx, st, e, page, states)
		if err != nil {
			return res, err
		}
		if manual > 0 {
			res.Conflicts += counted
			continue
		}

		var updates []systema.FieldUpdate
		for _, s := range states {
			if s.decision != decidePickB || s.mapping.AFieldID < 0 {
				continue
			}
			updates = append(updates, systema.FieldUpdate{FieldID: s.mapping.AFieldID, Value: s.vb.Plain()})
		}
		if len(updates) == 0 {
			continue
		}
		switch err := r.a.UpdateEntryFields(ctx, e.EntryID, updates); {
		case err == nil:
			res.Updated++
		case errors.Is(err, systema.ErrWritesUnsupported):
			res.Details = append(res.Details, fmt.Sprintf("entity %d: %d field write(s) staged, A writes unsupported", aID, len(updates)))
		default:
			logger.Warn().Err(err).Int64("entityId", aID).Msg("staged write failed, continuing")
			res.Details = append(res.Details, fmt.Sprintf("entity %d: staged write failed: %v", aID, err))
		}
	}
	return res, nil
}
