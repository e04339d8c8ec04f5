package systemb

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/erauner12/pagesync/internal/httpx"
)

// Timeouts are per-operation-class deadlines.
type Timeouts struct {
	List   time.Duration // database listing and paginated queries
	Record time.Duration // single-page operations
}

// Client is the typed, rate-limited wrapper around System B. Pages are
// archived, never hard-deleted.
type Client struct {
	api      *httpx.Client
	timeouts Timeouts
	pageSize int
}

// NewClient builds a System B client on top of the shared caller.
func NewClient(api *httpx.Client, t Timeouts) *Client {
	if t.List <= 0 {
		t.List = 60 * time.Second
	}
	if t.Record <= 0 {
		t.Record = 20 * time.Second
	}
	return &Client{api: api, timeouts: t, pageSize: 100}
}

type wireDatabase struct {
	Ref        string                    `json:"ref"`
	Title      string                    `json:"title"`
	Properties map[string]PropertySchema `json:"properties"`
}

func (wd wireDatabase) database() Database {
	d := Database{Ref: wd.Ref, Title: wd.Title, Properties: wd.Properties}
	if d.Properties == nil {
		d.Properties = map[string]PropertySchema{}
	}
	// The wire omits the name inside each schema entry; the map key is
	// authoritative.
	for name, p := range d.Properties {
		if p.Name == "" {
			p.Name = name
			d.Properties[name] = p
		}
	}
	return d
}

// ListDatabases returns every database visible to the configured
// credentials.
func (c *Client) ListDatabases(ctx context.Context) ([]Database, error) {
	var resp struct {
		Databases []wireDatabase `json:"databases"`
	}
	if err := c.api.JSON(ctx, http.MethodGet, "/v1/databases", nil, nil, &resp, c.timeouts.List); err != nil {
		return nil, fmt.Errorf("list databases: %w", err)
	}
	dbs := make([]Database, 0, len(resp.Databases))
	for _, wd := range resp.Databases {
		dbs = append(dbs, wd.database())
	}
	return dbs, nil
}

// GetDatabase fetches one database including its property schema.
func (c *Client) GetDatabase(ctx context.Context, dbRef string) (*Database, error) {
	var wd wireDatabase
	path := "/v1/databases/" + url.PathEscape(dbRef)
	if err := c.api.JSON(ctx, http.MethodGet, path, nil, nil, &wd, c.timeouts.Record); err != nil {
		return nil, fmt.Errorf("get database %s: %w", dbRef, err)
	}
	d := wd.database()
	return &d, nil
}

type wirePage struct {
	ID           string              `json:"id"`
	ParentDBRef  string              `json:"parent_db_ref"`
	Archived     bool                `json:"archived"`
	LastEditedAt time.Time           `json:"last_edited_at"`
	Properties   map[string]Property `json:"properties"`
}

func (wp wirePage) page() Page {
	p := Page{
		ID:           wp.ID,
		ParentDBRef:  wp.ParentDBRef,
		Archived:     wp.Archived,
		LastEditedAt: wp.LastEditedAt,
		Properties:   wp.Properties,
	}
	if p.Properties == nil {
		p.Properties = map[string]Property{}
	}
	return p
}

// QueryDatabase resolves every non-archived page of a database across
// cursor pages.
func (c *Client) QueryDatabase(ctx context.Context, dbRef string) ([]Page, error) {
	path := "/v1/databases/" + url.PathEscape(dbRef) + "/query"
	var pages []Page
	cursor := ""
	for n := 0; ; n++ {
		if n > 10000 {
			return nil, fmt.Errorf("query database %s: pagination did not terminate", dbRef)
		}
		body := map[string]any{"page_size": c.pageSize}
		if cursor != "" {
			body["start_cursor"] = cursor
		}
		var resp struct {
			Results    []wirePage `json:"results"`
			HasMore    bool       `json:"has_more"`
			NextCursor string     `json:"next_cursor"`
		}
		if err := c.api.JSON(ctx, http.MethodPost, path, nil, body, &resp, c.timeouts.List); err != nil {
			return nil, fmt.Errorf("query database %s: %w", dbRef, err)
		}
		for _, wp := range resp.Results {
			if wp.Archived {
				continue
			}
			pages = append(pages, wp.page())
		}
		if !resp.HasMore || resp.NextCursor == "" {
			return pages, nil
		}
		cursor = resp.NextCursor
	}
}

// CreatePage creates a page in a database. properties use the same
// typed shapes B serves back.
func (c *Client) CreatePage(ctx context.Context, dbRef string, properties map[string]any) (string, error) {
	body := map[string]any{
		"parent":     map[string]string{"database_ref": dbRef},
		"properties": properties,
	}
	var resp struct {
		ID string `json:"id"`
	}
	if err := c.api.JSON(ctx, http.MethodPost, "/v1/pages", nil, body, &resp, c.timeouts.Record); err != nil {
		return "", fmt.Errorf("create page in %s: %w", dbRef, err)
	}
	return resp.ID, nil
}

// UpdatePage replaces the given properties on an existing page.
func (c *Client) UpdatePage(ctx context.Context, pageID string, properties map[string]any) error {
	body := map[string]any{"properties": properties}
	path := "/v1/pages/" + url.PathEscape(pageID)
	if err := c.api.JSON(ctx, http.MethodPatch, path, nil, body, nil, c.timeouts.Record); err != nil {
		return fmt.Errorf("update page %s: %w", pageID, err)
	}
	return nil
}

// ArchivePage marks a page as archived. There is no hard delete.
func (c *Client) ArchivePage(ctx context.Context, pageID string) error {
	body := map[string]any{"archived": true}
	path := "/v1/pages/" + url.PathEscape(pageID)
	if err := c.api.JSON(ctx, http.MethodPatch, path, nil, body, nil, c.timeouts.Record); err != nil {
		return fmt.Errorf("archive page %s: %w", pageID, err)
	}
	return nil
}

// AddProperty declares a new property on a database schema.
func (c *Client) AddProperty(ctx context.Context, dbRef, name, propType string) error {
	body := map[string]any{
		"properties": map[string]any{
			name: map[string]any{propType: map[string]any{}},
		},
	}
	path := "/v1/databases/" + url.PathEscape(dbRef)
	if err := c.api.JSON(ctx, http.MethodPatch, path, nil, body, nil, c.timeouts.Record); err != nil {
		return fmt.Errorf("add property %q to %s: %w", name, dbRef, err)
	}
	return nil
}
