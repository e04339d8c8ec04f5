package systema

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/erauner12/pagesync/internal/canon"
	"github.com/erauner12/pagesync/internal/httpx"
)

// Timeouts are per-operation-class deadlines.
type Timeouts struct {
	List   time.Duration // listing/pagination calls
	Record time.Duration // single-record calls
}

// Client is the typed, rate-limited wrapper around System A. All calls go
// through the shared caller, which paces and retries them.
type Client struct {
	api      *httpx.Client
	timeouts Timeouts
	pageSize int
}

// NewClient builds a System A client on top of the shared caller.
func NewClient(api *httpx.Client, t Timeouts) *Client {
	if t.List <= 0 {
		t.List = 60 * time.Second
	}
	if t.Record <= 0 {
		t.Record = 20 * time.Second
	}
	return &Client{api: api, timeouts: t, pageSize: 100}
}

// ListLists returns every list visible to the configured credentials.
func (c *Client) ListLists(ctx context.Context) ([]List, error) {
	var resp struct {
		Lists []List `json:"lists"`
	}
	if err := c.api.JSON(ctx, http.MethodGet, "/v1/lists", nil, nil, &resp, c.timeouts.List); err != nil {
		return nil, fmt.Errorf("list lists: %w", err)
	}
	return resp.Lists, nil
}

// ListFields returns the field definitions of one list, ids normalized to
// bare integers.
func (c *Client) ListFields(ctx context.Context, listRef string) ([]Field, error) {
	var resp struct {
		Fields []struct {
			ID        fieldID `json:"id"`
			Name      string  `json:"name"`
			ValueType string  `json:"value_type"`
		} `json:"fields"`
	}
	path := "/v1/lists/" + url.PathEscape(listRef) + "/fields"
	if err := c.api.JSON(ctx, http.MethodGet, path, nil, nil, &resp, c.timeouts.List); err != nil {
		return nil, fmt.Errorf("list fields for %s: %w", listRef, err)
	}
	fields := make([]Field, 0, len(resp.Fields))
	for _, f := range resp.Fields {
		fields = append(fields, Field{ID: int64(f.ID), Name: f.Name, ValueType: f.ValueType})
	}
	return fields, nil
}

type wireFieldValue struct {
	ID    fieldID         `json:"id"`
	Value json.RawMessage `json:"value"`
}

type wireEntry struct {
	ID     int64 `json:"id"`
	Entity struct {
		ID             int64      `json:"id"`
		Type           EntityType `json:"type"`
		Name           string     `json:"name"`
		Domain         string     `json:"domain"`
		Domains        []string   `json:"domains"`
		LastModifiedAt time.Time  `json:"last_modified_at"`
	} `json:"entity"`
	Fields []wireFieldValue `json:"fields"`
}

type entryPage struct {
	Entries    []wireEntry `json:"entries"`
	NextCursor string      `json:"next_cursor"`
}

// ListEntries resolves the full entry set of a list across cursor pages.
// The iterator is finite and single-pass; ordering is whatever A returns.
// When the filter is active, entries whose status field value is not in
// the set are dropped during pagination.
func (c *Client) ListEntries(ctx context.Context, listRef string, filter EntryFilter) ([]Entry, error) {
	path := "/v1/lists/" + url.PathEscape(listRef) + "/list-entries"
	var entries []Entry
	cursor := ""
	for page := 0; ; page++ {
		if page > 10000 {
			return nil, fmt.Errorf("list entries for %s: pagination did not terminate", listRef)
		}
		q := url.Values{"page_size": {fmt.Sprint(c.pageSize)}}
		if cursor != "" {
			q.Set("cursor", cursor)
		}
		var resp entryPage
		if err := c.api.JSON(ctx, http.MethodGet, path, q, nil, &resp, c.timeouts.List); err != nil {
			return nil, fmt.Errorf("list entries for %s: %w", listRef, err)
		}
		for _, we := range resp.Entries {
			e := decodeEntry(we)
			if filter.active() && !statusMatch(&e, filter) {
				continue
			}
			entries = append(entries, e)
		}
		if resp.NextCursor == "" {
			return entries, nil
		}
		cursor = resp.NextCursor
	}
}

// GetOrganization fetches one organization for enrichment.
func (c *Client) GetOrganization(ctx context.Context, id int64) (*Organization, error) {
	var org Organization
	path := fmt.Sprintf("/v1/organizations/%d", id)
	if err := c.api.JSON(ctx, http.MethodGet, path, nil, nil, &org, c.timeouts.Record); err != nil {
		return nil, fmt.Errorf("get organization %d: %w", id, err)
	}
	return &org, nil
}

// GetPerson fetches one person for enrichment.
func (c *Client) GetPerson(ctx context.Context, id int64) (*Person, error) {
	var p Person
	path := fmt.Sprintf("/v1/persons/%d", id)
	if err := c.api.JSON(ctx, http.MethodGet, path, nil, nil, &p, c.timeouts.Record); err != nil {
		return nil, fmt.Errorf("get person %d: %w", id, err)
	}
	return &p, nil
}

// UpdateEntryFields stages field writes for an entry. The current
// generation of the A API offers no write surface, so the intended update
// is logged in full (idempotently replayable) and ErrWritesUnsupported is
// returned. This method never deletes anything.
func (c *Client) UpdateEntryFields(ctx context.Context, entryID int64, updates []FieldUpdate) error {
	payload, err := json.Marshal(updates)
	if err != nil {
		return fmt.Errorf("encode staged update for entry %d: %w", entryID, err)
	}
	log.Info().
		Int64("entryId", entryID).
		RawJSON("stagedUpdate", payload).
		Msg("staged System A field write (writes unsupported, not applied)")
	return ErrWritesUnsupported
}

func decodeEntry(we wireEntry) Entry {
	e := Entry{
		EntryID:        we.ID,
		EntityID:       we.Entity.ID,
		EntityType:     we.Entity.Type,
		Name:           we.Entity.Name,
		Domains:        we.Entity.Domains,
		LastModifiedAt: we.Entity.LastModifiedAt,
	}
	if len(e.Domains) == 0 && we.Entity.Domain != "" {
		e.Domains = []string{we.Entity.Domain}
	}
	for _, wf := range we.Fields {
		var value any
		if len(wf.Value) > 0 {
			if err := json.Unmarshal(wf.Value, &value); err != nil {
				log.Warn().Int64("fieldId", int64(wf.ID)).Err(err).Msg("undecodable field value, treated as empty")
				value = nil
			}
		}
		e.Fields = append(e.Fields, FieldValue{FieldID: int64(wf.ID), Value: value})

		// The organization association on opportunity entries arrives as
		// an array of {id, name, domain} objects.
		var orgs []OrgRef
		if err := json.Unmarshal(wf.Value, &orgs); err == nil && len(orgs) > 0 && orgs[0].ID != 0 && orgs[0].Name != "" {
			e.Organizations = append(e.Organizations, orgs...)
		}
	}
	return e
}

// statusMatch applies the client-side status filter: the entry survives
// when the canonical text of the status field (any element, for
// multi-value fields) is one of the wanted values.
func statusMatch(e *Entry, filter EntryFilter) bool {
	raw, ok := e.FieldValue(filter.StatusFieldID)
	if !ok {
		return false
	}
	wanted := make(map[string]bool, len(filter.StatusValues))
	for _, v := range filter.StatusValues {
		wanted[v] = true
	}
	v := canon.Canonicalize(raw)
	if v.Kind == canon.KindList {
		for _, elem := range v.List {
			if wanted[elem.String()] {
				return true
			}
		}
		return false
	}
	return wanted[v.String()]
}
