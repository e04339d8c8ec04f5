package canon

import (
	"fmt"
	"strconv"
)

// PropertyType is the page-store property type that directs value mapping.
// The live database schema is authoritative; mapping hints are not.
type PropertyType string

const (
	TypeTitle       PropertyType = "title"
	TypeRichText    PropertyType = "rich_text"
	TypeNumber      PropertyType = "number"
	TypeSelect      PropertyType = "select"
	TypeMultiSelect PropertyType = "multi_select"
	TypeDate        PropertyType = "date"
	TypeCheckbox    PropertyType = "checkbox"
	TypeEmail       PropertyType = "email"
	TypeURL         PropertyType = "url"
	TypePhone       PropertyType = "phone_number"
)

// NormalizeForType applies the type-directed canonicalization used before
// comparison and hashing: dates become ISO dates, email/url/phone strings
// are sanitized, number and checkbox targets coerce both sides onto the
// same kind. Values that fail strict sanitization become Empty and the
// reason is returned as a warning.
func NormalizeForType(v Value, t PropertyType, strict bool) (Value, []string) {
	if v.IsEmpty() {
		return Empty, nil
	}
	switch t {
	case TypeDate:
		if v.Kind == KindDate {
			return v, nil
		}
		if iso, ok := SanitizeDate(v.String()); ok {
			return DateValue(iso), nil
		}
		return invalid(v, t, strict)
	case TypeEmail:
		if s, ok := SanitizeEmail(v.String()); ok {
			return TextValue(s), nil
		}
		return invalid(v, t, strict)
	case TypeURL:
		if s, ok := SanitizeURL(v.String()); ok {
			return TextValue(s), nil
		}
		return invalid(v, t, strict)
	case TypePhone:
		if s, ok := SanitizePhone(v.String()); ok {
			return TextValue(s), nil
		}
		return invalid(v, t, strict)
	case TypeNumber:
		if v.Kind == KindNum {
			return v, nil
		}
		if f, ok := SanitizeNumber(v.String()); ok {
			return NumValue(f), nil
		}
		return invalid(v, t, strict)
	case TypeCheckbox:
		return BoolValue(Truthy(v)), nil
	default:
		return v, nil
	}
}

func invalid(v Value, t PropertyType, strict bool) (Value, []string) {
	warn := fmt.Sprintf("value %q is not a valid %s", v.String(), t)
	if strict {
		return Empty, []string{warn}
	}
	// Lenient mode keeps nothing either: an unmappable value must not leak
	// the raw form into the target property.
	return Empty, []string{warn}
}

// Project maps a canonical value onto the JSON property shape System B
// expects for the given live property type. Unknown types fall back to
// rich_text. The returned warnings are collected into run details.
func Project(v Value, t PropertyType, strict bool) (any, []string) {
	v, warns := NormalizeForType(v, t, strict)
	switch t {
	case TypeTitle:
		return map[string]any{"title": richText(v.String())}, warns
	case TypeNumber:
		if v.Kind != KindNum {
			return map[string]any{"number": nil}, warns
		}
		return map[string]any{"number": v.Num}, warns
	case TypeSelect:
		s := v.String()
		if s == "" {
			return map[string]any{"select": nil}, warns
		}
		return map[string]any{"select": map[string]any{"name": s}}, warns
	case TypeMultiSelect:
		var opts []map[string]any
		if v.Kind == KindList {
			for _, e := range v.List {
				opts = append(opts, map[string]any{"name": e.String()})
			}
		} else if !v.IsEmpty() {
			opts = append(opts, map[string]any{"name": v.String()})
		}
		if opts == nil {
			opts = []map[string]any{}
		}
		return map[string]any{"multi_select": opts}, warns
	case TypeDate:
		if v.Kind != KindDate {
			return map[string]any{"date": nil}, warns
		}
		return map[string]any{"date": map[string]any{"start": v.Str}}, warns
	case TypeCheckbox:
		return map[string]any{"checkbox": v.Kind == KindBool && v.Bool}, warns
	case TypeEmail, TypeURL, TypePhone:
		key := string(t)
		if v.IsEmpty() {
			return map[string]any{key: nil}, warns
		}
		return map[string]any{key: v.String()}, warns
	default:
		// Unknown target type: rich_text fallback.
		return map[string]any{"rich_text": richText(v.String())}, warns
	}
}

// ProjectAID builds the engine's A-identity property value. Numeric when
// the live schema declares the property as number, rich_text otherwise.
func ProjectAID(aEntityID int64, numeric bool) any {
	if numeric {
		return map[string]any{"number": float64(aEntityID)}
	}
	return map[string]any{"rich_text": richText(strconv.FormatInt(aEntityID, 10))}
}

func richText(s string) []map[string]any {
	if s == "" {
		return []map[string]any{}
	}
	return []map[string]any{{"text": map[string]any{"content": s}}}
}
