package schema

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"regexp"
	"strconv"
	"strings"
)

// Type defines the contract for field validation.
// Implementations determine how values are validated against a type.
type Type interface {
	// Name returns the human-readable name of the type (e.g., "string", "int").
	Name() string
	// Validate checks if a value conforms to this type.
	Validate(value any) error
}

// Coercer is implemented by types that can convert raw user input
// (usually a string) into their native representation.
type Coercer interface {
	Coerce(value any) (any, error)
}

// --- Built-in Type Implementations ---

// StringType validates string values.
type StringType struct{}

func (t *StringType) Name() string { return "string" }

func (t *StringType) Validate(value any) error {
	_, ok := value.(string)
	if !ok {
		return fmt.Errorf("expected string, got %T", value)
	}
	return nil
}

func (t *StringType) Coerce(value any) (any, error) {
	if s, ok := value.(string); ok {
		return strings.TrimSpace(s), nil
	}
	return value, nil
}

// IntType validates integer values.
type IntType struct{}

func (t *IntType) Name() string { return "int" }

func (t *IntType) Validate(value any) error {
	switch v := value.(type) {
	case int, int8, int16, int32, int64:
		return nil
	case float64:
		// Accept floats that are whole numbers (from JSON unmarshaling)
		if v == math.Trunc(v) {
			return nil
		}
		return fmt.Errorf("expected int, got float (not a whole number)")
	case json.Number:
		if _, err := v.Int64(); err != nil {
			return fmt.Errorf("expected int, got %q", v.String())
		}
		return nil
	default:
		return fmt.Errorf("expected int, got %T", value)
	}
}

func (t *IntType) Coerce(value any) (any, error) {
	switch v := value.(type) {
	case string:
		i, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return nil, fmt.Errorf("%q is not a whole number", v)
		}
		return i, nil
	case json.Number:
		i, err := v.Int64()
		if err != nil {
			return nil, fmt.Errorf("%q is not a whole number", v.String())
		}
		return int(i), nil
	case float64:
		if v == math.Trunc(v) {
			return int(v), nil
		}
	}
	return value, nil
}

// FloatType validates floating-point values.
type FloatType struct{}

func (t *FloatType) Name() string { return "float" }

func (t *FloatType) Validate(value any) error {
	switch value.(type) {
	case float32, float64, int, int8, int16, int32, int64, json.Number:
		return nil
	default:
		return fmt.Errorf("expected float, got %T", value)
	}
}

func (t *FloatType) Coerce(value any) (any, error) {
	switch v := value.(type) {
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(strings.Replace(v, ",", ".", 1)), 64)
		if err != nil {
			return nil, fmt.Errorf("%q is not a number", v)
		}
		return f, nil
	case json.Number:
		f, err := v.Float64()
		if err != nil {
			return nil, fmt.Errorf("%q is not a number", v.String())
		}
		return f, nil
	case int:
		return float64(v), nil
	}
	return value, nil
}

// BoolType validates boolean values.
type BoolType struct{}

func (t *BoolType) Name() string { return "bool" }

func (t *BoolType) Validate(value any) error {
	_, ok := value.(bool)
	if !ok {
		return fmt.Errorf("expected bool, got %T", value)
	}
	return nil
}

func (t *BoolType) Coerce(value any) (any, error) {
	s, ok := value.(string)
	if !ok {
		return value, nil
	}
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true", "yes", "y", "1", "on":
		return true, nil
	case "false", "no", "n", "0", "off":
		return false, nil
	}
	return nil, fmt.Errorf("%q is not yes or no", s)
}

// SliceType validates slices of a specific element type.
type SliceType struct {
	elemType Type
}

func (t *SliceType) Name() string {
	return fmt.Sprintf("[%s]", t.elemType.Name())
}

func (t *SliceType) Validate(value any) error {
	rv := reflect.ValueOf(value)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return fmt.Errorf("expected slice, got %T", value)
	}
	if rv.Len() == 0 {
		return fmt.Errorf("list must contain at least one item")
	}

	// Validate each element
	for i := 0; i < rv.Len(); i++ {
		elem := rv.Index(i).Interface()
		if err := t.elemType.Validate(elem); err != nil {
			return fmt.Errorf("element %d: %w", i, err)
		}
	}
	return nil
}

// Coerce splits comma separated input and coerces every element.
// Blank parts are dropped, so input made only of separators yields an
// empty list that Validate rejects.
func (t *SliceType) Coerce(value any) (any, error) {
	var items []any
	switch v := value.(type) {
	case string:
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				items = append(items, part)
			}
		}
	case []any:
		items = v
	default:
		return value, nil
	}

	out := make([]any, 0, len(items))
	for i, item := range items {
		c, err := coerce(t.elemType, item)
		if err != nil {
			return nil, fmt.Errorf("element %d: %w", i, err)
		}
		out = append(out, c)
	}
	return out, nil
}

// CustomType applies a user-defined validation function.
type CustomType struct {
	name     string
	validate func(any) error
	coerce   func(any) (any, error)
}

func (t *CustomType) Name() string { return t.name }

func (t *CustomType) Validate(value any) error {
	return t.validate(value)
}

func (t *CustomType) Coerce(value any) (any, error) {
	if t.coerce == nil {
		return value, nil
	}
	return t.coerce(value)
}

var (
	emailPattern = regexp.MustCompile(`^[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}$`)
	phonePattern = regexp.MustCompile(`^\+?[0-9][0-9 ()\-.]{5,20}[0-9]$`)
)

func trimString(v any) (any, error) {
	if s, ok := v.(string); ok {
		return strings.TrimSpace(s), nil
	}
	return v, nil
}

// --- Factory Functions ---

// String creates a string type validator.
func String() Type { return &StringType{} }

// Int creates an integer type validator.
func Int() Type { return &IntType{} }

// Float creates a float type validator.
func Float() Type { return &FloatType{} }

// Bool creates a boolean type validator.
func Bool() Type { return &BoolType{} }

// Slice creates a slice type validator for elements of the given type.
func Slice(elemType Type) Type {
	return &SliceType{elemType: elemType}
}

// Custom creates a custom type validator with a user-defined function.
func Custom(name string, validate func(any) error) Type {
	return &CustomType{name: name, validate: validate}
}

// CustomWithCoercion is Custom plus a conversion applied before validation.
func CustomWithCoercion(name string, coerce func(any) (any, error), validate func(any) error) Type {
	return &CustomType{name: name, validate: validate, coerce: coerce}
}

// Email accepts a single address such as "ana@example.com".
func Email() Type {
	return CustomWithCoercion("email", trimString, func(v any) error {
		s, ok := v.(string)
		if !ok {
			return fmt.Errorf("expected string, got %T", v)
		}
		if !emailPattern.MatchString(s) {
			return fmt.Errorf("%q is not a valid email address", s)
		}
		return nil
	})
}

// Phone accepts digits with the usual separators and an optional leading +.
func Phone() Type {
	return CustomWithCoercion("phone", trimString, func(v any) error {
		s, ok := v.(string)
		if !ok {
			return fmt.Errorf("expected string, got %T", v)
		}
		if !phonePattern.MatchString(s) {
			return fmt.Errorf("%q is not a valid phone number", s)
		}
		return nil
	})
}

// NonEmpty accepts any string with visible characters.
func NonEmpty() Type {
	return CustomWithCoercion("nonempty", trimString, func(v any) error {
		s, ok := v.(string)
		if !ok {
			return fmt.Errorf("expected string, got %T", v)
		}
		if s == "" {
			return fmt.Errorf("value must not be empty")
		}
		return nil
	})
}

// coerce applies t's conversion, when it has one.
func coerce(t Type, value any) (any, error) {
	if c, ok := t.(Coercer); ok {
		return c.Coerce(value)
	}
	return value, nil
}

// Apply coerces value to t and validates the result.
func Apply(t Type, value any) (any, error) {
	v, err := coerce(t, value)
	if err != nil {
		return nil, err
	}
	if err := t.Validate(v); err != nil {
		return nil, err
	}
	return v, nil
}

// ParseType converts a string type name to a Type.
// Supports the built-in names and slices of them: "string", "email", "[int]", etc.
func ParseType(typeStr string) (Type, error) {
	return DefaultValidators.Lookup(typeStr)
}

// ParseTypeMap converts a map of field names to type strings into a Schema.
// Example: {"api_key": "string", "retries": "int"}
func ParseTypeMap(typeMap map[string]string) (Schema, error) {
	return DefaultValidators.Schema(typeMap)
}
