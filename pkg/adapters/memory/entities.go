package memory

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/aretw0/espalier/pkg/domain"
)

// Record is one stored entity. Its identity lives under the "id" key.
type Record map[string]any

// Entities implements ports.EntityStore over in-memory records.
// String values are matched case-insensitively.
type Entities struct {
	mu      sync.RWMutex
	records map[string][]Record
	seq     map[string]int
}

// NewEntities creates an empty entity store.
func NewEntities() *Entities {
	return &Entities{
		records: make(map[string][]Record),
		seq:     make(map[string]int),
	}
}

// Add stores a record for entity. A missing id is generated.
func (e *Entities) Add(entity string, rec Record) string {
	e.mu.Lock()
	defer e.mu.Unlock()

	cp := make(Record, len(rec)+1)
	for k, v := range rec {
		cp[k] = v
	}
	id, _ := cp["id"].(string)
	if id == "" {
		e.seq[entity]++
		id = fmt.Sprintf("%s-%d", entity, e.seq[entity])
		cp["id"] = id
	}
	e.records[entity] = append(e.records[entity], cp)
	return id
}

// Find returns the id of the first record whose searchField equals searchValue.
func (e *Entities) Find(ctx context.Context, entity, searchField string, searchValue any) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	want := fmt.Sprint(searchValue)
	for _, rec := range e.records[entity] {
		v, ok := rec[searchField]
		if !ok {
			continue
		}
		if strings.EqualFold(fmt.Sprint(v), want) {
			return rec["id"], nil
		}
	}
	return nil, fmt.Errorf("%w: %s with %s=%v", domain.ErrEntityNotFound, entity, searchField, searchValue)
}

// Count returns the number of records stored for entity.
func (e *Entities) Count(entity string) int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.records[entity])
}

// CreateAction returns an action that stores the collected data as a new
// record of entity and answers with its id.
func (e *Entities) CreateAction(entity string) func(ctx context.Context, data map[string]any) (map[string]any, error) {
	return func(ctx context.Context, data map[string]any) (map[string]any, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		id := e.Add(entity, Record(data))
		return map[string]any{"id": id, "entity": entity}, nil
	}
}
