package registry

import (
	"fmt"
	"sort"

	"github.com/aretw0/espalier/pkg/domain"
	"github.com/aretw0/espalier/pkg/schema"
)

// Workflows is an immutable set of validated workflow definitions.
// It implements ports.WorkflowRegistry.
type Workflows struct {
	defs map[string]domain.WorkflowDefinition
	ids  []string
}

// WorkflowsOption configures NewWorkflows.
type WorkflowsOption func(*workflowsConfig)

type workflowsConfig struct {
	validators *schema.Validators
}

// WithValidators checks field validator references against v instead of the defaults.
func WithValidators(v *schema.Validators) WorkflowsOption {
	return func(c *workflowsConfig) {
		c.validators = v
	}
}

// NewWorkflows validates defs and builds the registry.
// Besides each definition's own invariants it checks that IDs are unique,
// that every sub-workflow reference exists and that validator references resolve.
func NewWorkflows(defs []domain.WorkflowDefinition, opts ...WorkflowsOption) (*Workflows, error) {
	cfg := workflowsConfig{validators: schema.DefaultValidators}
	for _, opt := range opts {
		opt(&cfg)
	}

	w := &Workflows{defs: make(map[string]domain.WorkflowDefinition, len(defs))}
	for _, def := range defs {
		if err := def.Validate(); err != nil {
			return nil, err
		}
		if _, dup := w.defs[def.ID]; dup {
			return nil, &domain.DefinitionError{WorkflowID: def.ID, Reason: "registered twice"}
		}
		w.defs[def.ID] = def.Clone()
		w.ids = append(w.ids, def.ID)
	}
	sort.Strings(w.ids)

	for _, id := range w.ids {
		def := w.defs[id]
		refs := make(map[string]string)
		for _, f := range def.Plan() {
			refs[f.Name] = f.Validator
		}
		if _, err := cfg.validators.Schema(refs); err != nil {
			return nil, &domain.DefinitionError{WorkflowID: id, Reason: err.Error()}
		}

		for _, e := range def.Entities {
			if e.SubWorkflow == "" {
				continue
			}
			child, ok := w.defs[e.SubWorkflow]
			if !ok {
				return nil, &domain.DefinitionError{
					WorkflowID: id,
					Reason:     fmt.Sprintf("entity %q references unknown sub_workflow %q", e.Name, e.SubWorkflow),
				}
			}
			if _, ok := child.Field(e.ChildSeedField()); !ok {
				return nil, &domain.DefinitionError{
					WorkflowID: id,
					Reason:     fmt.Sprintf("entity %q seeds %q which %q does not collect", e.Name, e.ChildSeedField(), child.ID),
				}
			}
		}
	}
	return w, nil
}

// MustWorkflows is NewWorkflows that panics on error. Meant for tests and examples.
func MustWorkflows(defs ...domain.WorkflowDefinition) *Workflows {
	w, err := NewWorkflows(defs)
	if err != nil {
		panic(err)
	}
	return w
}

// Get returns a copy of the definition registered under id.
func (w *Workflows) Get(id string) (domain.WorkflowDefinition, error) {
	def, ok := w.defs[id]
	if !ok {
		return domain.WorkflowDefinition{}, fmt.Errorf("%w: %s", domain.ErrWorkflowNotFound, id)
	}
	return def.Clone(), nil
}

// List returns every registered workflow ID, sorted.
func (w *Workflows) List() []string {
	out := make([]string, len(w.ids))
	copy(out, w.ids)
	return out
}
