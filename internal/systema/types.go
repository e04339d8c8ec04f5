package systema

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ErrWritesUnsupported is returned by every staged write. The client logs
// the full intended update first so a future write-capable client can
// replay it; nothing is ever sent to System A.
var ErrWritesUnsupported = errors.New("systema: field writes are not supported in this generation")

// EntityType tags the record kind behind a list entry.
type EntityType string

const (
	EntityPerson       EntityType = "person"
	EntityOrganization EntityType = "organization"
	EntityOpportunity  EntityType = "opportunity"
)

// List is a CRM list that entries belong to.
type List struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Type string `json:"type"`
}

// Field is a user-defined field on a list. IDs are always bare integers
// at this boundary; the wire-level "field-" prefix never escapes the
// client.
type Field struct {
	ID        int64  `json:"id"`
	Name      string `json:"name"`
	ValueType string `json:"valueType"`
}

// FieldValue is a raw field value as A returns it: a bare scalar, a
// {text: ...} object, or an array of either.
type FieldValue struct {
	FieldID int64
	Value   any
}

// OrgRef is the organization association shape carried on opportunity
// entries.
type OrgRef struct {
	ID     int64  `json:"id"`
	Name   string `json:"name"`
	Domain string `json:"domain,omitempty"`
}

// Entry is a read-only projection of one list entry and its entity.
type Entry struct {
	EntryID        int64
	EntityID       int64
	EntityType     EntityType
	Name           string
	Domains        []string
	Fields         []FieldValue
	Organizations  []OrgRef
	LastModifiedAt time.Time
}

// FieldValue returns the raw value for a field id, and whether it was
// present on the entry at all.
func (e *Entry) FieldValue(id int64) (any, bool) {
	for _, f := range e.Fields {
		if f.FieldID == id {
			return f.Value, true
		}
	}
	return nil, false
}

// Virtual field ids. Negative ids denote entity-derived values that exist
// on every entry and are read-only on A.
const (
	VirtualName        int64 = -1
	VirtualDomain      int64 = -2
	VirtualEntityType  int64 = -3
	VirtualListEntryID int64 = -4
	VirtualOwnerOrgID  int64 = -5
)

// VirtualValue resolves a virtual field id against the entry itself.
func (e *Entry) VirtualValue(id int64) (any, bool) {
	switch id {
	case VirtualName:
		return e.Name, true
	case VirtualDomain:
		if len(e.Domains) == 0 {
			return nil, true
		}
		if len(e.Domains) == 1 {
			return e.Domains[0], true
		}
		return e.Domains, true
	case VirtualEntityType:
		return string(e.EntityType), true
	case VirtualListEntryID:
		return e.EntryID, true
	case VirtualOwnerOrgID:
		if len(e.Organizations) == 0 {
			return nil, true
		}
		return e.Organizations[0].ID, true
	}
	return nil, false
}

// Organization is the enrichment shape returned by GetOrganization.
type Organization struct {
	ID      int64    `json:"id"`
	Name    string   `json:"name"`
	Domain  string   `json:"domain"`
	Domains []string `json:"domains"`
}

// Person is the enrichment shape returned by GetPerson.
type Person struct {
	ID        int64    `json:"id"`
	FirstName string   `json:"first_name"`
	LastName  string   `json:"last_name"`
	Emails    []string `json:"emails"`
}

// FieldUpdate is one staged field write.
type FieldUpdate struct {
	FieldID int64 `json:"fieldId"`
	Value   any   `json:"value"`
}

// EntryFilter narrows ListEntries to entries whose status field matches
// one of the given values. A zero filter keeps everything.
type EntryFilter struct {
	StatusFieldID int64
	StatusValues  []string
}

func (f EntryFilter) active() bool {
	return f.StatusFieldID != 0 && len(f.StatusValues) > 0
}

// fieldID decodes wire field ids, which appear either as bare integers or
// as strings with an inconsistent "field-" prefix.
type fieldID int64

func (f *fieldID) UnmarshalJSON(b []byte) error {
	var n int64
	if err := json.Unmarshal(b, &n); err == nil {
		*f = fieldID(n)
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("field id %s: %w", string(b), err)
	}
	s = strings.TrimPrefix(s, "field-")
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return fmt.Errorf("field id %q: %w", s, err)
	}
	*f = fieldID(n)
	return nil
}
