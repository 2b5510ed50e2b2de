package schema

import "sort"

// Schema maps field names to the types their values must satisfy.
type Schema map[string]Type

// Validate checks every field of schema against data. Missing keys fail as
// "required". All failures are reported together, in field name order.
func Validate(schema Schema, data map[string]any) error {
	return check(schema, data, false)
}

// ValidatePresent validates only the keys of data that hold a non-nil value.
// Skipped optional fields are stored as nil and pass.
func ValidatePresent(schema Schema, data map[string]any) error {
	return check(schema, data, true)
}

func check(schema Schema, data map[string]any, presentOnly bool) error {
	names := make([]string, 0, len(schema))
	for name := range schema {
		names = append(names, name)
	}
	sort.Strings(names)

	var errs []error
	for _, name := range names {
		value, ok := data[name]
		if !ok || value == nil {
			if !presentOnly {
				errs = append(errs, &ValidationError{Field: name, Reason: "required"})
			}
			continue
		}
		if err := schema[name].Validate(value); err != nil {
			errs = append(errs, &ValidationError{Field: name, Reason: err.Error(), Value: value})
		}
	}
	if len(errs) > 0 {
		return &AggregateError{Errors: errs}
	}
	return nil
}
