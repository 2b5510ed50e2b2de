package schema

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestTypes_Validate(t *testing.T) {
	tests := []struct {
		typ    Type
		accept []any
		reject []any
	}{
		{String(), []any{"hello", ""}, []any{42, true, nil}},
		{Int(), []any{42, int64(42), float64(42), json.Number("42")}, []any{42.5, "42", json.Number("4.2"), nil}},
		{Float(), []any{3.14, float32(1), 42, json.Number("1.5")}, []any{"3.14", true, nil}},
		{Bool(), []any{true, false}, []any{1, "true", nil}},
		{Email(), []any{"ana@example.com", "a.b+tag@mail.co"}, []any{"ana@", "ana example.com", 5}},
		{Phone(), []any{"+55 11 91234-5678", "11 3333-4444"}, []any{"12", "call me", 5}},
		{NonEmpty(), []any{"x"}, []any{"", 1}},
		{Slice(String()), []any{[]string{"a"}, []any{"a", "b"}}, []any{[]int{1}, "a,b", []string{}, []any{}}},
		{Slice(Slice(Int())), []any{[][]int{{1}, {2, 3}}}, []any{[][]string{{"x"}}}},
	}

	for _, tt := range tests {
		t.Run(tt.typ.Name(), func(t *testing.T) {
			for _, v := range tt.accept {
				if err := tt.typ.Validate(v); err != nil {
					t.Errorf("Validate(%#v) error = %v", v, err)
				}
			}
			for _, v := range tt.reject {
				if err := tt.typ.Validate(v); err == nil {
					t.Errorf("Validate(%#v) accepted, want error", v)
				}
			}
		})
	}
}

func TestCustomType(t *testing.T) {
	sku := CustomWithCoercion("sku",
		func(v any) (any, error) {
			s, _ := v.(string)
			return "SKU-" + s, nil
		},
		func(v any) error {
			if s, ok := v.(string); !ok || len(s) < 5 {
				return errors.New("not a sku")
			}
			return nil
		})

	if sku.Name() != "sku" {
		t.Errorf("Name() = %q", sku.Name())
	}
	got, err := Apply(sku, "42")
	if err != nil || got != "SKU-42" {
		t.Errorf("Apply(sku, 42) = %v, %v", got, err)
	}
	if _, err := Apply(Custom("never", func(any) error { return errors.New("no") }), "x"); err == nil {
		t.Error("custom validator without coercion should still validate")
	}
}

func TestParseType(t *testing.T) {
	tests := []struct {
		input    string
		wantName string
	}{
		{"string", "string"},
		{"email", "email"},
		{"[int]", "[int]"},
		{"[[phone]]", "[[phone]]"},
		{"invalid", ""},
		{"[invalid]", ""},
	}

	for _, tt := range tests {
		typ, err := ParseType(tt.input)
		if tt.wantName == "" {
			if err == nil {
				t.Errorf("ParseType(%q) should fail", tt.input)
			}
			continue
		}
		if err != nil || typ.Name() != tt.wantName {
			t.Errorf("ParseType(%q) = %v, %v; want %s", tt.input, typ, err, tt.wantName)
		}
	}
}

func TestParseTypeMap(t *testing.T) {
	s, err := ParseTypeMap(map[string]string{"email": "email", "tags": "[string]", "note": ""})
	if err != nil {
		t.Fatalf("ParseTypeMap() error = %v", err)
	}
	if len(s) != 2 || s["tags"].Name() != "[string]" {
		t.Errorf("ParseTypeMap() = %v", s)
	}

	if _, err := ParseTypeMap(map[string]string{"x": "date"}); err == nil {
		t.Error("ParseTypeMap() should reject unknown validators")
	}
}

func TestSliceType_CoerceCommaInput(t *testing.T) {
	list := Slice(String())

	got, err := Apply(list, " a , b,, ")
	if err != nil {
		t.Fatalf("Apply(a, b) error = %v", err)
	}
	if items, ok := got.([]any); !ok || len(items) != 2 || items[0] != "a" || items[1] != "b" {
		t.Errorf("Apply(a, b) = %#v", got)
	}

	for _, blank := range []string{"", " , ", ",,,"} {
		if got, err := Apply(list, blank); err == nil {
			t.Errorf("Apply(%q) = %#v, want error", blank, got)
		}
	}
}
