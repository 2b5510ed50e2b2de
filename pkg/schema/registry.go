package schema

import (
	"fmt"
	"sort"
	"sync"
)

// Validators maps validator references (as written in workflow definitions)
// to Types. Slice references such as "[email]" are resolved on lookup.
type Validators struct {
	mu    sync.RWMutex
	types map[string]Type
}

// DefaultValidators holds the built-in types.
var DefaultValidators = NewValidators()

// NewValidators creates a registry pre-loaded with the built-in types.
func NewValidators() *Validators {
	v := &Validators{types: make(map[string]Type)}
	for _, t := range []Type{String(), Int(), Float(), Bool(), Email(), Phone(), NonEmpty()} {
		v.types[t.Name()] = t
	}
	return v
}

// Register adds t under its name, replacing any previous type.
func (v *Validators) Register(t Type) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.types[t.Name()] = t
}

// Lookup resolves a validator reference.
func (v *Validators) Lookup(name string) (Type, error) {
	if len(name) > 2 && name[0] == '[' && name[len(name)-1] == ']' {
		elem, err := v.Lookup(name[1 : len(name)-1])
		if err != nil {
			return nil, err
		}
		return Slice(elem), nil
	}

	v.mu.RLock()
	defer v.mu.RUnlock()
	t, ok := v.types[name]
	if !ok {
		return nil, fmt.Errorf("unsupported type: %s", name)
	}
	return t, nil
}

// Apply coerces and validates value with the named validator.
// An empty name accepts the value unchanged.
func (v *Validators) Apply(name string, value any) (any, error) {
	if name == "" {
		return value, nil
	}
	t, err := v.Lookup(name)
	if err != nil {
		return nil, err
	}
	return Apply(t, value)
}

// Schema resolves a field→reference map. Empty references are skipped.
func (v *Validators) Schema(refs map[string]string) (Schema, error) {
	result := make(Schema, len(refs))
	for key, ref := range refs {
		if ref == "" {
			continue
		}
		t, err := v.Lookup(ref)
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", key, err)
		}
		result[key] = t
	}
	return result, nil
}

// Names returns the registered base names, sorted.
func (v *Validators) Names() []string {
	v.mu.RLock()
	defer v.mu.RUnlock()
	out := make([]string, 0, len(v.types))
	for name := range v.types {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
