package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/erauner12/pagesync/internal/auth"
	"github.com/erauner12/pagesync/internal/engine"
	"github.com/erauner12/pagesync/internal/store"
	"github.com/erauner12/pagesync/internal/systema"
	"github.com/erauner12/pagesync/internal/systemb"
)

type stubA struct{}

func (stubA) ListFields(ctx context.Context, listRef string) ([]systema.Field, error) {
	return []systema.Field{{ID: 10, Name: "Stage", ValueType: "dropdown"}}, nil
}

func (stubA) ListEntries(ctx context.Context, listRef string, filter systema.EntryFilter) ([]systema.Entry, error) {
	return []systema.Entry{{
		EntryID:        1,
		EntityID:       101,
		EntityType:     systema.EntityOrganization,
		Name:           "Acme",
		Fields:         []systema.FieldValue{{FieldID: 10, Value: "Seed"}},
		LastModifiedAt: time.Now().UTC(),
	}}, nil
}

func (stubA) UpdateEntryFields(ctx context.Context, entryID int64, updates []systema.FieldUpdate) error {
	return systema.ErrWritesUnsupported
}

type stubB struct{}

func (stubB) GetDatabase(ctx context.Context, dbRef string) (*systemb.Database, error) {
	return &systemb.Database{
		Ref:   dbRef,
		Title: "Deals",
		Properties: map[string]systemb.PropertySchema{
			"Name":              {Name: "Name", Type: "title"},
			"Stage":             {Name: "Stage", Type: "select"},
			systemb.AIDProperty: {Name: systemb.AIDProperty, Type: "rich_text"},
		},
	}, nil
}

func (stubB) QueryDatabase(ctx context.Context, dbRef string) ([]systemb.Page, error) {
	return nil, nil
}

func (stubB) CreatePage(ctx context.Context, dbRef string, properties map[string]any) (string, error) {
	return "p-1", nil
}

func (stubB) UpdatePage(ctx context.Context, pageID string, properties map[string]any) error {
	return nil
}

func (stubB) ArchivePage(ctx context.Context, pageID string) error { return nil }

func (stubB) AddProperty(ctx context.Context, dbRef, name, propType string) error { return nil }

func newTestServer(t *testing.T) (*Server, *store.Memory, http.Handler) {
	t.Helper()
	mem := store.NewMemory()
	runner := engine.NewRunner(stubA{}, stubB{}, mem, engine.NewSink(mem), engine.RunnerConfig{})
	sched := engine.NewScheduler(runner, mem)
	t.Cleanup(sched.Shutdown)

	srv := &Server{Store: mem, Sched: sched}
	h := srv.Routes(auth.JWTCfg{HS256Secret: "test-secret", DevMode: true})
	return srv, mem, h
}

func doJSON(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("X-Debug-Sub", "tester")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func seedPair(t *testing.T, mem *store.Memory) *engine.SyncPair {
	t.Helper()
	p := &engine.SyncPair{
		Name:          "deals",
		ListRef:       "list-1",
		DBRef:         "db-1",
		Direction:     engine.DirectionAToB,
		PeriodMinutes: 15,
		FieldMappings: []engine.FieldMapping{{AFieldName: "Stage", AFieldID: 10, BPropertyName: "Stage"}},
		Active:        true,
	}
	if err := mem.CreateSyncPair(context.Background(), p); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestHealthzUnauthenticated(t *testing.T) {
	_, _, h := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if w.Code != http.StatusOK || w.Body.String() != "ok" {
		t.Fatalf("healthz = %d %q", w.Code, w.Body.String())
	}
}

func TestAuthRequired(t *testing.T) {
	_, _, h := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/v1/status", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("unauthenticated status = %d", w.Code)
	}
}

func TestStatusAndPairs(t *testing.T) {
	_, mem, h := newTestServer(t)
	seedPair(t, mem)

	w := doJSON(t, h, http.MethodGet, "/v1/status", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var st struct {
		Scheduled []int64 `json:"scheduled"`
		Active    []int64 `json:"active"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &st); err != nil {
		t.Fatal(err)
	}
	if len(st.Active) != 0 {
		t.Errorf("active = %v", st.Active)
	}

	w = doJSON(t, h, http.MethodGet, "/v1/pairs", "")
	var pr struct {
		Pairs []engine.SyncPair `json:"pairs"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &pr); err != nil {
		t.Fatal(err)
	}
	if len(pr.Pairs) != 1 || pr.Pairs[0].Name != "deals" {
		t.Errorf("pairs = %+v", pr.Pairs)
	}
}

func TestRunPairEndToEnd(t *testing.T) {
	_, mem, h := newTestServer(t)
	p := seedPair(t, mem)

	w := doJSON(t, h, http.MethodPost, "/v1/pairs/1/run", "")
	if w.Code != http.StatusOK {
		t.Fatalf("run = %d %s", w.Code, w.Body.String())
	}
	var res runResponse
	if err := json.Unmarshal(w.Body.Bytes(), &res); err != nil {
		t.Fatal(err)
	}
	if res.Status != engine.StatusSuccess || res.Created != 1 {
		t.Errorf("result = %+v", res)
	}

	hist, _ := mem.ListHistory(context.Background(), p.ID, 10)
	if len(hist) != 1 || hist[0].RecordsCreated != 1 {
		t.Errorf("history = %+v", hist)
	}
}

func TestRunPairNotFound(t *testing.T) {
	_, _, h := newTestServer(t)
	w := doJSON(t, h, http.MethodPost, "/v1/pairs/42/run", "")
	if w.Code != http.StatusNotFound {
		t.Fatalf("missing pair = %d", w.Code)
	}
	if w := doJSON(t, h, http.MethodPost, "/v1/pairs/zero/run", ""); w.Code != http.StatusBadRequest {
		t.Fatalf("bad id = %d", w.Code)
	}
}

func TestPairFieldsEndpoint(t *testing.T) {
	_, _, h := newTestServer(t)

	if w := doJSON(t, h, http.MethodGet, "/v1/pairs/1/fields", ""); w.Code != http.StatusNotFound {
		t.Fatalf("missing pair = %d", w.Code)
	}

	_, mem, h2 := newTestServer(t)
	seedPair(t, mem)
	// A run refreshes the cache from the live list.
	if w := doJSON(t, h2, http.MethodPost, "/v1/pairs/1/run", ""); w.Code != http.StatusOK {
		t.Fatalf("run = %d %s", w.Code, w.Body.String())
	}

	w := doJSON(t, h2, http.MethodGet, "/v1/pairs/1/fields", "")
	if w.Code != http.StatusOK {
		t.Fatalf("fields = %d %s", w.Code, w.Body.String())
	}
	var fr struct {
		ListRef string          `json:"listRef"`
		Fields  []systema.Field `json:"fields"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &fr); err != nil {
		t.Fatal(err)
	}
	if fr.ListRef != "list-1" || len(fr.Fields) != 1 || fr.Fields[0].Name != "Stage" {
		t.Errorf("fields = %+v", fr)
	}
}

func TestHistoryEndpoint(t *testing.T) {
	_, mem, h := newTestServer(t)
	p := seedPair(t, mem)
	for i := 0; i < 3; i++ {
		if err := mem.AppendHistory(context.Background(), &engine.HistoryEntry{
			SyncPairID: p.ID, Status: engine.StatusSuccess, RecordsCreated: i,
		}); err != nil {
			t.Fatal(err)
		}
	}

	w := doJSON(t, h, http.MethodGet, "/v1/pairs/1/history?limit=2", "")
	var hr struct {
		History []engine.HistoryEntry `json:"history"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &hr); err != nil {
		t.Fatal(err)
	}
	if len(hr.History) != 2 || hr.History[0].RecordsCreated != 2 {
		t.Errorf("history = %+v", hr.History)
	}
}

func TestConflictListAndResolve(t *testing.T) {
	_, mem, h := newTestServer(t)
	p := seedPair(t, mem)
	id, err := mem.CreateConflict(context.Background(), &engine.Conflict{
		SyncPairID: p.ID, ARecordID: 101, ARecordType: "organization",
		FieldName: "Stage", AValue: "X", BValue: "Y",
	})
	if err != nil {
		t.Fatal(err)
	}

	w := doJSON(t, h, http.MethodGet, "/v1/conflicts?pending=1", "")
	var cr struct {
		Conflicts []engine.Conflict `json:"conflicts"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &cr); err != nil {
		t.Fatal(err)
	}
	if len(cr.Conflicts) != 1 || cr.Conflicts[0].ID != id {
		t.Fatalf("conflicts = %+v", cr.Conflicts)
	}

	w = doJSON(t, h, http.MethodPost, "/v1/conflicts/1/resolve", `{"pick":"a"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("resolve = %d %s", w.Code, w.Body.String())
	}
	var resolved engine.Conflict
	if err := json.Unmarshal(w.Body.Bytes(), &resolved); err != nil {
		t.Fatal(err)
	}
	if resolved.Status != engine.ConflictResolved || resolved.Resolution != engine.ResolutionA {
		t.Errorf("resolved = %+v", resolved)
	}

	if w := doJSON(t, h, http.MethodGet, "/v1/conflicts?pending=1", ""); !strings.Contains(w.Body.String(), `"conflicts":[]`) {
		var again struct {
			Conflicts []engine.Conflict `json:"conflicts"`
		}
		if err := json.Unmarshal(w.Body.Bytes(), &again); err != nil || len(again.Conflicts) != 0 {
			t.Errorf("pending after resolve = %s", w.Body.String())
		}
	}
}

func TestResolveValidation(t *testing.T) {
	_, mem, h := newTestServer(t)
	p := seedPair(t, mem)
	if _, err := mem.CreateConflict(context.Background(), &engine.Conflict{
		SyncPairID: p.ID, ARecordID: 101, FieldName: "Stage",
	}); err != nil {
		t.Fatal(err)
	}

	if w := doJSON(t, h, http.MethodPost, "/v1/conflicts/1/resolve", `{"pick":"neither"}`); w.Code != http.StatusBadRequest {
		t.Errorf("bad pick = %d", w.Code)
	}
	if w := doJSON(t, h, http.MethodPost, "/v1/conflicts/1/resolve", `not json`); w.Code != http.StatusBadRequest {
		t.Errorf("bad body = %d", w.Code)
	}
	// uppercase picks are accepted too
	if w := doJSON(t, h, http.MethodPost, "/v1/conflicts/99/resolve", `{"pick":"B"}`); w.Code != http.StatusNotFound {
		t.Errorf("missing conflict = %d", w.Code)
	}
}

func TestSchedulerRefreshEndpoint(t *testing.T) {
	_, mem, h := newTestServer(t)
	p := seedPair(t, mem)

	// The pair landed in storage after the scheduler came up; a refresh
	// picks it up.
	w := doJSON(t, h, http.MethodGet, "/v1/status", "")
	if !strings.Contains(w.Body.String(), `"scheduled":[]`) {
		t.Fatalf("status before refresh = %s", w.Body.String())
	}
	w = doJSON(t, h, http.MethodPost, "/v1/scheduler/refresh", "")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"scheduled":[1]`) {
		t.Fatalf("refresh = %d %s", w.Code, w.Body.String())
	}

	// Deactivation in storage disarms the ticker on the next refresh.
	p.Active = false
	if err := mem.UpdateSyncPair(context.Background(), p); err != nil {
		t.Fatal(err)
	}
	w = doJSON(t, h, http.MethodPost, "/v1/scheduler/refresh", "")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"scheduled":[]`) {
		t.Fatalf("refresh after deactivate = %d %s", w.Code, w.Body.String())
	}
}

func TestClearActive(t *testing.T) {
	_, _, h := newTestServer(t)
	w := doJSON(t, h, http.MethodPost, "/v1/scheduler/clear-active", "")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "cleared") {
		t.Fatalf("clear-active = %d %s", w.Code, w.Body.String())
	}
}

func TestCorrelationIDEchoed(t *testing.T) {
	_, _, h := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Correlation-ID", "corr-123")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if got := w.Header().Get("X-Correlation-ID"); got != "corr-123" {
		t.Errorf("correlation id = %q", got)
	}
}
