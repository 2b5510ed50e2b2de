package domain

import "fmt"

// DefaultReturnKey is the action result key handed back to a parent frame
// when a definition does not set ReturnKey.
const DefaultReturnKey = "id"

// FieldSpec describes one value a workflow collects from the user.
type FieldSpec struct {
	Name      string `json:"name" yaml:"name"`
	Required  bool   `json:"required" yaml:"required"`
	Validator string `json:"validator,omitempty" yaml:"validator,omitempty"` // Reference into the validator registry
	Prompt    string `json:"prompt,omitempty" yaml:"prompt,omitempty"`
	AllowSkip bool   `json:"allow_skip,omitempty" yaml:"allow_skip,omitempty"`
	// Hint is appended to the prompt after a failed attempt.
	Hint string `json:"hint,omitempty" yaml:"hint,omitempty"`
}

// EntityRequirement is a reference to another record that must be found
// (or created through a sub-workflow) before the final action can run.
type EntityRequirement struct {
	Name        string `json:"name" yaml:"name"`
	SearchField string `json:"search_field" yaml:"search_field"`

	// SearchPrompt and SearchValidator configure the implicit field that is
	// synthesised when SearchField is not one of the declared fields.
	SearchPrompt    string `json:"search_prompt,omitempty" yaml:"search_prompt,omitempty"`
	SearchValidator string `json:"search_validator,omitempty" yaml:"search_validator,omitempty"`

	CreateIfMissing bool   `json:"create_if_missing,omitempty" yaml:"create_if_missing,omitempty"`
	SubWorkflow     string `json:"sub_workflow,omitempty" yaml:"sub_workflow,omitempty"`
	ResolvedKey     string `json:"resolved_key" yaml:"resolved_key"`

	// SeedField is the child field pre-filled with the search value.
	// Defaults to SearchField.
	SeedField string `json:"seed_field,omitempty" yaml:"seed_field,omitempty"`
}

// ChildSeedField returns the field of the sub-workflow that receives the search value.
func (r EntityRequirement) ChildSeedField() string {
	if r.SeedField != "" {
		return r.SeedField
	}
	return r.SearchField
}

// WorkflowDefinition is the immutable, declarative description of one workflow type.
// Per-workflow behavior is fully data-driven: there is no subclassing.
type WorkflowDefinition struct {
	ID       string              `json:"id" yaml:"id"`
	Goal     string              `json:"goal" yaml:"goal"`
	Guidance string              `json:"guidance,omitempty" yaml:"guidance,omitempty"`
	Fields   []FieldSpec         `json:"fields" yaml:"fields"`
	Entities []EntityRequirement `json:"entities,omitempty" yaml:"entities,omitempty"`

	FinalAction string `json:"final_action" yaml:"final_action"`

	// Reentrant allows the definition to appear more than once in the same stack.
	Reentrant bool `json:"reentrant,omitempty" yaml:"reentrant,omitempty"`

	// ConfirmOnResume makes the frame wait for an acknowledgement after one of
	// its children completes instead of continuing in the same turn.
	ConfirmOnResume bool `json:"confirm_on_resume,omitempty" yaml:"confirm_on_resume,omitempty"`

	// ReturnKey selects the value of the action result handed to a parent frame.
	ReturnKey string `json:"return_key,omitempty" yaml:"return_key,omitempty"`
}

// ResultKey returns ReturnKey or DefaultReturnKey.
func (d WorkflowDefinition) ResultKey() string {
	if d.ReturnKey != "" {
		return d.ReturnKey
	}
	return DefaultReturnKey
}

// Field looks up a declared or implicit field by name.
func (d WorkflowDefinition) Field(name string) (FieldSpec, bool) {
	for _, f := range d.Plan() {
		if f.Name == name {
			return f, true
		}
	}
	return FieldSpec{}, false
}

// Entity looks up an entity requirement by name.
func (d WorkflowDefinition) Entity(name string) (EntityRequirement, bool) {
	for _, e := range d.Entities {
		if e.Name == name {
			return e, true
		}
	}
	return EntityRequirement{}, false
}

// Plan returns the effective ordered list of fields the workflow collects.
// Search fields of entity requirements that are not declared fields are
// synthesised as required fields and placed first, in requirement order.
func (d WorkflowDefinition) Plan() []FieldSpec {
	declared := make(map[string]struct{}, len(d.Fields))
	for _, f := range d.Fields {
		declared[f.Name] = struct{}{}
	}

	plan := make([]FieldSpec, 0, len(d.Fields)+len(d.Entities))
	for _, e := range d.Entities {
		if _, ok := declared[e.SearchField]; ok {
			continue
		}
		declared[e.SearchField] = struct{}{}
		prompt := e.SearchPrompt
		if prompt == "" {
			prompt = fmt.Sprintf("Please provide the %s of the %s.", e.SearchField, e.Name)
		}
		plan = append(plan, FieldSpec{
			Name:      e.SearchField,
			Required:  true,
			Validator: e.SearchValidator,
			Prompt:    prompt,
		})
	}
	return append(plan, d.Fields...)
}

// Validate checks the definition invariants: unique field names and unique
// resolved-value keys, and that they never collide with each other.
func (d WorkflowDefinition) Validate() error {
	if d.ID == "" {
		return &DefinitionError{Reason: "id is required"}
	}
	if d.FinalAction == "" {
		return &DefinitionError{WorkflowID: d.ID, Reason: "final_action is required"}
	}

	fields := make(map[string]struct{}, len(d.Fields))
	for _, f := range d.Fields {
		if f.Name == "" {
			return &DefinitionError{WorkflowID: d.ID, Reason: "field name is required"}
		}
		if _, dup := fields[f.Name]; dup {
			return &DefinitionError{WorkflowID: d.ID, Reason: fmt.Sprintf("duplicate field %q", f.Name)}
		}
		if f.AllowSkip && f.Required {
			return &DefinitionError{WorkflowID: d.ID, Reason: fmt.Sprintf("field %q cannot be both required and skippable", f.Name)}
		}
		fields[f.Name] = struct{}{}
	}

	names := make(map[string]struct{}, len(d.Entities))
	keys := make(map[string]struct{}, len(d.Entities))
	for _, e := range d.Entities {
		if e.Name == "" || e.SearchField == "" {
			return &DefinitionError{WorkflowID: d.ID, Reason: "entity requirements need a name and a search_field"}
		}
		if _, dup := names[e.Name]; dup {
			return &DefinitionError{WorkflowID: d.ID, Reason: fmt.Sprintf("duplicate entity %q", e.Name)}
		}
		names[e.Name] = struct{}{}

		if e.ResolvedKey == "" {
			return &DefinitionError{WorkflowID: d.ID, Reason: fmt.Sprintf("entity %q: resolved_key is required", e.Name)}
		}
		if _, dup := keys[e.ResolvedKey]; dup {
			return &DefinitionError{WorkflowID: d.ID, Reason: fmt.Sprintf("duplicate resolved_key %q", e.ResolvedKey)}
		}
		if _, clash := fields[e.ResolvedKey]; clash {
			return &DefinitionError{WorkflowID: d.ID, Reason: fmt.Sprintf("resolved_key %q collides with a field", e.ResolvedKey)}
		}
		keys[e.ResolvedKey] = struct{}{}

		for _, f := range d.Fields {
			if f.Name == e.SearchField && !f.Required {
				return &DefinitionError{WorkflowID: d.ID, Reason: fmt.Sprintf("entity %q: search_field %q must be required", e.Name, f.Name)}
			}
		}

		if e.CreateIfMissing && e.SubWorkflow == "" {
			return &DefinitionError{WorkflowID: d.ID, Reason: fmt.Sprintf("entity %q: create_if_missing requires sub_workflow", e.Name)}
		}
	}
	return nil
}

// Clone returns a deep copy so registries can hand out values without sharing slices.
func (d WorkflowDefinition) Clone() WorkflowDefinition {
	out := d
	if d.Fields != nil {
		out.Fields = append([]FieldSpec(nil), d.Fields...)
	}
	if d.Entities != nil {
		out.Entities = append([]EntityRequirement(nil), d.Entities...)
	}
	return out
}
