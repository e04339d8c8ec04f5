package canon

import (
	"reflect"
	"testing"
)

func TestNormalizeForType(t *testing.T) {
	tests := []struct {
		name     string
		v        Value
		typ      PropertyType
		want     Value
		wantWarn bool
	}{
		{"date from iso datetime", TextValue("2024-11-03T09:30:00Z"), TypeDate, DateValue("2024-11-03"), false},
		{"date invalid", TextValue("soon"), TypeDate, Empty, true},
		{"email valid", TextValue("a@b.co"), TypeEmail, TextValue("a@b.co"), false},
		{"email invalid", TextValue("nope"), TypeEmail, Empty, true},
		{"url bare host", TextValue("example.com"), TypeURL, TextValue("https://example.com"), false},
		{"phone formatted", TextValue("(555) 123-4567"), TypePhone, TextValue("5551234567"), false},
		{"number from text", TextValue("1,200"), TypeNumber, NumValue(1200), false},
		{"number nan", TextValue("n/a"), TypeNumber, Empty, true},
		{"checkbox truthy text", TextValue("yes"), TypeCheckbox, BoolValue(true), false},
		{"checkbox falsy text", TextValue("nope"), TypeCheckbox, BoolValue(false), false},
		{"rich text passthrough", TextValue("hello"), TypeRichText, TextValue("hello"), false},
		{"empty stays empty", Empty, TypeEmail, Empty, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, warns := NormalizeForType(tt.v, tt.typ, false)
			if !Equal(got, tt.want) {
				t.Errorf("NormalizeForType() = %s, want %s", got.Encode(), tt.want.Encode())
			}
			if (len(warns) > 0) != tt.wantWarn {
				t.Errorf("NormalizeForType() warnings = %v, wantWarn %v", warns, tt.wantWarn)
			}
		})
	}
}

func TestProjectShapes(t *testing.T) {
	tests := []struct {
		name string
		v    Value
		typ  PropertyType
		want any
	}{
		{
			name: "select",
			v:    TextValue("Seed"),
			typ:  TypeSelect,
			want: map[string]any{"select": map[string]any{"name": "Seed"}},
		},
		{
			name: "select empty",
			v:    Empty,
			typ:  TypeSelect,
			want: map[string]any{"select": nil},
		},
		{
			name: "title",
			v:    TextValue("Acme"),
			typ:  TypeTitle,
			want: map[string]any{"title": []map[string]any{{"text": map[string]any{"content": "Acme"}}}},
		},
		{
			name: "number",
			v:    NumValue(12.5),
			typ:  TypeNumber,
			want: map[string]any{"number": 12.5},
		},
		{
			name: "number null on invalid",
			v:    TextValue("n/a"),
			typ:  TypeNumber,
			want: map[string]any{"number": nil},
		},
		{
			name: "multi select from list",
			v:    Canonicalize([]any{"b", "a"}),
			typ:  TypeMultiSelect,
			want: map[string]any{"multi_select": []map[string]any{{"name": "a"}, {"name": "b"}}},
		},
		{
			name: "date",
			v:    TextValue("2024-11-03"),
			typ:  TypeDate,
			want: map[string]any{"date": map[string]any{"start": "2024-11-03"}},
		},
		{
			name: "checkbox",
			v:    TextValue("yes"),
			typ:  TypeCheckbox,
			want: map[string]any{"checkbox": true},
		},
		{
			name: "email invalid becomes null",
			v:    TextValue("nope"),
			typ:  TypeEmail,
			want: map[string]any{"email": nil},
		},
		{
			name: "unknown type falls back to rich_text",
			v:    TextValue("x"),
			typ:  PropertyType("files"),
			want: map[string]any{"rich_text": []map[string]any{{"text": map[string]any{"content": "x"}}}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, _ := Project(tt.v, tt.typ, false)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Project() = %#v, want %#v", got, tt.want)
			}
		})
	}
}

func TestProjectAID(t *testing.T) {
	num := ProjectAID(101, true)
	if !reflect.DeepEqual(num, map[string]any{"number": float64(101)}) {
		t.Errorf("numeric A_ID = %#v", num)
	}
	txt := ProjectAID(101, false)
	want := map[string]any{"rich_text": []map[string]any{{"text": map[string]any{"content": "101"}}}}
	if !reflect.DeepEqual(txt, want) {
		t.Errorf("rich_text A_ID = %#v, want %#v", txt, want)
	}
}
