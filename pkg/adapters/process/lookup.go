package process

import (
	"context"
	"fmt"

	"github.com/aretw0/espalier/pkg/domain"
	"github.com/aretw0/espalier/pkg/ports"
)

// LookupPrefix names the process answering lookups for an entity:
// "find_customer" resolves the "customer" entity.
const LookupPrefix = "find_"

// Lookup resolves entities by running the find_<entity> process.
// The process receives {"field": ..., "value": ...} and prints {"id": ...};
// empty output or a null id means not found.
type Lookup struct {
	runner   *Runner
	fallback ports.EntityStore
}

// NewLookup creates a Lookup over runner. Entities without a find_ process
// go to fallback; with no fallback they are reported as not found.
func NewLookup(runner *Runner, fallback ports.EntityStore) *Lookup {
	return &Lookup{runner: runner, fallback: fallback}
}

func (l *Lookup) Find(ctx context.Context, entity, searchField string, searchValue any) (any, error) {
	action := LookupPrefix + entity
	if _, ok := l.runner.registry[action]; !ok {
		if l.fallback != nil {
			return l.fallback.Find(ctx, entity, searchField, searchValue)
		}
		return nil, fmt.Errorf("%w: no %s process", domain.ErrEntityNotFound, action)
	}

	out, err := l.runner.Execute(ctx, action, map[string]any{
		"field": searchField,
		"value": searchValue,
	})
	if err != nil {
		return nil, fmt.Errorf("lookup of %s failed: %w", entity, err)
	}
	id, ok := out[domain.DefaultReturnKey]
	if !ok || id == nil || id == "" {
		return nil, fmt.Errorf("%w: %s %s=%v", domain.ErrEntityNotFound, entity, searchField, searchValue)
	}
	return id, nil
}
