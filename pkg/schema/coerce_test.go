package schema

import (
	"encoding/json"
	"errors"
	"reflect"
	"testing"
)

func TestValidators_Apply(t *testing.T) {
	v := NewValidators()

	tests := []struct {
		ref     string
		input   any
		want    any
		wantErr bool
	}{
		{"", "anything", "anything", false},
		{"string", "  padded  ", "padded", false},
		{"int", " 3 ", 3, false},
		{"int", "three", nil, true},
		{"int", json.Number("7"), 7, false},
		{"float", "2,5", 2.5, false},
		{"bool", "Yes", true, false},
		{"bool", "maybe", nil, true},
		{"email", " ana@example.com ", "ana@example.com", false},
		{"email", "not-an-email", nil, true},
		{"phone", "+55 11 91234-5678", "+55 11 91234-5678", false},
		{"phone", "call me", nil, true},
		{"nonempty", "   ", nil, true},
		{"[string]", "p1, p2,,p3", []any{"p1", "p2", "p3"}, false},
		{"[int]", "1, x", nil, true},
		{"[email]", []any{"a@b.io"}, []any{"a@b.io"}, false},
		{"unknown", "x", nil, true},
	}

	for _, tt := range tests {
		got, err := v.Apply(tt.ref, tt.input)
		if (err != nil) != tt.wantErr {
			t.Errorf("Apply(%q, %v) error = %v, wantErr %v", tt.ref, tt.input, err, tt.wantErr)
			continue
		}
		if !tt.wantErr && !reflect.DeepEqual(got, tt.want) {
			t.Errorf("Apply(%q, %v) = %#v, want %#v", tt.ref, tt.input, got, tt.want)
		}
	}
}

func TestValidators_RegisterCustom(t *testing.T) {
	v := NewValidators()
	v.Register(Custom("even", func(x any) error {
		i, ok := x.(int)
		if !ok || i%2 != 0 {
			return errors.New("not even")
		}
		return nil
	}))

	if _, err := v.Apply("even", 4); err != nil {
		t.Errorf("Apply(even, 4) error = %v", err)
	}
	if _, err := v.Apply("[even]", []any{2, 3}); err == nil {
		t.Error("Apply([even], [2 3]) should fail on 3")
	}

	if _, err := DefaultValidators.Lookup("even"); err == nil {
		t.Error("registering on one registry must not leak into the default one")
	}
}

func TestValidatePresent(t *testing.T) {
	sch, err := ParseTypeMap(map[string]string{"email": "email", "phone": "phone", "note": ""})
	if err != nil {
		t.Fatalf("ParseTypeMap() error = %v", err)
	}
	if _, ok := sch["note"]; ok {
		t.Error("empty references must be skipped")
	}

	if err := ValidatePresent(sch, map[string]any{"email": "a@b.io", "phone": nil}); err != nil {
		t.Errorf("ValidatePresent() error = %v, want nil", err)
	}
	if err := ValidatePresent(sch, map[string]any{"email": "nope"}); err == nil {
		t.Error("ValidatePresent() should reject a bad email")
	}
}
