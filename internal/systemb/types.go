package systemb

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// AIDProperty is the reserved join property the engine writes on every
// page it mirrors. Pages without it are unmanaged and are never touched.
const AIDProperty = "A_ID"

// PropertySchema describes one property slot on a database.
type PropertySchema struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// Database is a page container with a typed property schema.
type Database struct {
	Ref        string                    `json:"ref"`
	Title      string                    `json:"title"`
	Properties map[string]PropertySchema `json:"properties"`
}

// PropertyType returns the declared type of a property, or "" when the
// schema has no such property.
func (d *Database) PropertyType(name string) string {
	if p, ok := d.Properties[name]; ok {
		return p.Type
	}
	return ""
}

// TitleProperty returns the name of the database's title property, if
// any. Mirrored pages get the entity name written there.
func (d *Database) TitleProperty() (string, bool) {
	for name, p := range d.Properties {
		if p.Type == "title" {
			return name, true
		}
	}
	return "", false
}

// Page is a read-only projection of one database page.
type Page struct {
	ID           string
	ParentDBRef  string
	Archived     bool
	LastEditedAt time.Time
	Properties   map[string]Property
}

// AID reads the page's join property, declared either as number or as
// text. Returns false for unmanaged pages.
func (p *Page) AID() (int64, bool) {
	prop, ok := p.Properties[AIDProperty]
	if !ok {
		return 0, false
	}
	switch v := prop.Plain().(type) {
	case float64:
		return int64(v), true
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil {
			return 0, false
		}
		return n, true
	}
	return 0, false
}

// Property is one typed property value as B returns it. The wire shape
// keys the payload on the declared type.
type Property struct {
	Type string

	text     string   // title, rich_text
	number   *float64 // number
	selected string   // select ("" when cleared)
	multi    []string // multi_select
	date     string   // date start, ISO
	checked  bool     // checkbox
	scalar   *string  // email, url, phone_number
}

type richSpan struct {
	PlainText string `json:"plain_text"`
	Text      *struct {
		Content string `json:"content"`
	} `json:"text"`
}

func (s richSpan) content() string {
	if s.PlainText != "" {
		return s.PlainText
	}
	if s.Text != nil {
		return s.Text.Content
	}
	return ""
}

func joinSpans(spans []richSpan) string {
	var b strings.Builder
	for _, s := range spans {
		b.WriteString(s.content())
	}
	return b.String()
}

func (p *Property) UnmarshalJSON(b []byte) error {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(b, &head); err != nil {
		return fmt.Errorf("property envelope: %w", err)
	}
	p.Type = head.Type

	switch head.Type {
	case "title", "rich_text":
		// The envelope carries the "type" discriminator next to the
		// typed key, so only the typed key is decoded as spans.
		var body map[string]json.RawMessage
		if err := json.Unmarshal(b, &body); err != nil {
			return fmt.Errorf("%s property: %w", head.Type, err)
		}
		if raw, ok := body[head.Type]; ok {
			var spans []richSpan
			if err := json.Unmarshal(raw, &spans); err != nil {
				return fmt.Errorf("%s property value: %w", head.Type, err)
			}
			p.text = joinSpans(spans)
		}
	case "number":
		var body struct {
			Number *float64 `json:"number"`
		}
		if err := json.Unmarshal(b, &body); err != nil {
			return fmt.Errorf("number property: %w", err)
		}
		p.number = body.Number
	case "select":
		var body struct {
			Select *struct {
				Name string `json:"name"`
			} `json:"select"`
		}
		if err := json.Unmarshal(b, &body); err != nil {
			return fmt.Errorf("select property: %w", err)
		}
		if body.Select != nil {
			p.selected = body.Select.Name
		}
	case "multi_select":
		var body struct {
			MultiSelect []struct {
				Name string `json:"name"`
			} `json:"multi_select"`
		}
		if err := json.Unmarshal(b, &body); err != nil {
			return fmt.Errorf("multi_select property: %w", err)
		}
		for _, o := range body.MultiSelect {
			p.multi = append(p.multi, o.Name)
		}
	case "date":
		var body struct {
			Date *struct {
				Start string `json:"start"`
			} `json:"date"`
		}
		if err := json.Unmarshal(b, &body); err != nil {
			return fmt.Errorf("date property: %w", err)
		}
		if body.Date != nil {
			p.date = body.Date.Start
		}
	case "checkbox":
		var body struct {
			Checkbox bool `json:"checkbox"`
		}
		if err := json.Unmarshal(b, &body); err != nil {
			return fmt.Errorf("checkbox property: %w", err)
		}
		p.checked = body.Checkbox
	case "email", "url", "phone_number":
		var body map[string]json.RawMessage
		if err := json.Unmarshal(b, &body); err != nil {
			return fmt.Errorf("%s property: %w", head.Type, err)
		}
		if raw, ok := body[head.Type]; ok {
			var s *string
			if err := json.Unmarshal(raw, &s); err != nil {
				return fmt.Errorf("%s property value: %w", head.Type, err)
			}
			p.scalar = s
		}
	default:
		// Unknown types carry no comparable value; Plain returns nil
		// and the engine treats them as empty.
	}
	return nil
}

// Plain extracts the bare value behind the property: string, float64,
// bool, []string, or nil when the slot is cleared. This is the shape
// fed to canonicalization.
func (p *Property) Plain() any {
	switch p.Type {
	case "title", "rich_text":
		if p.text == "" {
			return nil
		}
		return p.text
	case "number":
		if p.number == nil {
			return nil
		}
		return *p.number
	case "select":
		if p.selected == "" {
			return nil
		}
		return p.selected
	case "multi_select":
		if len(p.multi) == 0 {
			return nil
		}
		vals := make([]any, len(p.multi))
		for i, s := range p.multi {
			vals[i] = s
		}
		return vals
	case "date":
		if p.date == "" {
			return nil
		}
		return p.date
	case "checkbox":
		return p.checked
	case "email", "url", "phone_number":
		if p.scalar == nil {
			return nil
		}
		return *p.scalar
	}
	return nil
}
