package dsl

import (
	"fmt"

	"github.com/aretw0/espalier/pkg/domain"
	"github.com/aretw0/espalier/pkg/registry"
)

// Builder manages the construction of a set of workflows.
type Builder struct {
	order     []string
	workflows map[string]*WorkflowBuilder
}

// New creates a new workflow set builder.
func New() *Builder {
	return &Builder{
		workflows: make(map[string]*WorkflowBuilder),
	}
}

// Workflow creates a new workflow in the set.
// If the workflow already exists, it returns the existing builder.
func (b *Builder) Workflow(id string) *WorkflowBuilder {
	if wb, ok := b.workflows[id]; ok {
		return wb
	}
	wb := &WorkflowBuilder{
		def: domain.WorkflowDefinition{
			ID:          id,
			FinalAction: id,
		},
		builder: b,
	}
	b.workflows[id] = wb
	b.order = append(b.order, id)
	return wb
}

// Definitions returns the definitions in declaration order without validating them.
func (b *Builder) Definitions() []domain.WorkflowDefinition {
	defs := make([]domain.WorkflowDefinition, 0, len(b.order))
	for _, id := range b.order {
		defs = append(defs, b.workflows[id].def.Clone())
	}
	return defs
}

// Build validates the set and compiles it into a workflow registry.
func (b *Builder) Build(opts ...registry.WorkflowsOption) (*registry.Workflows, error) {
	w, err := registry.NewWorkflows(b.Definitions(), opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to build workflow registry: %w", err)
	}
	return w, nil
}
