package dsl

import "github.com/aretw0/espalier/pkg/domain"

// WorkflowBuilder provides a fluent API for configuring a workflow.
// The final action defaults to the workflow ID.
type WorkflowBuilder struct {
	def     domain.WorkflowDefinition
	builder *Builder
}

// Goal sets the one-line description of what the workflow achieves.
func (w *WorkflowBuilder) Goal(goal string) *WorkflowBuilder {
	w.def.Goal = goal
	return w
}

// Guidance sets the text shown to the user when the workflow starts.
func (w *WorkflowBuilder) Guidance(text string) *WorkflowBuilder {
	w.def.Guidance = text
	return w
}

// Do sets the terminal action.
func (w *WorkflowBuilder) Do(action string) *WorkflowBuilder {
	w.def.FinalAction = action
	return w
}

// Returns selects the action result key handed back to a parent workflow.
func (w *WorkflowBuilder) Returns(key string) *WorkflowBuilder {
	w.def.ReturnKey = key
	return w
}

// Reentrant allows the workflow to be nested inside itself.
func (w *WorkflowBuilder) Reentrant() *WorkflowBuilder {
	w.def.Reentrant = true
	return w
}

// ConfirmOnResume asks the user for an acknowledgement after a child workflow completes.
func (w *WorkflowBuilder) ConfirmOnResume() *WorkflowBuilder {
	w.def.ConfirmOnResume = true
	return w
}

// Ask adds a required field with its prompt.
func (w *WorkflowBuilder) Ask(name, prompt string) *FieldBuilder {
	w.def.Fields = append(w.def.Fields, domain.FieldSpec{Name: name, Prompt: prompt, Required: true})
	return &FieldBuilder{WorkflowBuilder: w, idx: len(w.def.Fields) - 1}
}

// Needs adds an entity requirement resolved by looking up searchField.
// The resolved value is stored under "<entity>_id" unless ResolveTo says otherwise.
func (w *WorkflowBuilder) Needs(entity, searchField string) *EntityBuilder {
	w.def.Entities = append(w.def.Entities, domain.EntityRequirement{
		Name:        entity,
		SearchField: searchField,
		ResolvedKey: entity + "_id",
	})
	return &EntityBuilder{WorkflowBuilder: w, idx: len(w.def.Entities) - 1}
}

// Workflow starts another workflow on the same Builder.
func (w *WorkflowBuilder) Workflow(id string) *WorkflowBuilder {
	return w.builder.Workflow(id)
}

// Definition returns a copy of the definition built so far.
func (w *WorkflowBuilder) Definition() domain.WorkflowDefinition {
	return w.def.Clone()
}

// FieldBuilder configures the last field added with Ask.
// Workflow methods remain callable so the chain can continue.
type FieldBuilder struct {
	*WorkflowBuilder
	idx int
}

func (f *FieldBuilder) field() *domain.FieldSpec { return &f.def.Fields[f.idx] }

// Optional makes the field skippable.
func (f *FieldBuilder) Optional() *FieldBuilder {
	f.field().Required = false
	f.field().AllowSkip = true
	return f
}

// Validate sets the validator reference (e.g. "email", "[string]").
func (f *FieldBuilder) Validate(ref string) *FieldBuilder {
	f.field().Validator = ref
	return f
}

// Hint sets the text appended to the prompt after a rejected answer.
func (f *FieldBuilder) Hint(hint string) *FieldBuilder {
	f.field().Hint = hint
	return f
}

// EntityBuilder configures the last requirement added with Needs.
type EntityBuilder struct {
	*WorkflowBuilder
	idx int
}

func (e *EntityBuilder) entity() *domain.EntityRequirement { return &e.def.Entities[e.idx] }

// Prompt sets the prompt of the implicit search field.
func (e *EntityBuilder) Prompt(prompt string) *EntityBuilder {
	e.entity().SearchPrompt = prompt
	return e
}

// Validate sets the validator of the implicit search field.
func (e *EntityBuilder) Validate(ref string) *EntityBuilder {
	e.entity().SearchValidator = ref
	return e
}

// ResolveTo sets the key the resolved identity is stored under.
func (e *EntityBuilder) ResolveTo(key string) *EntityBuilder {
	e.entity().ResolvedKey = key
	return e
}

// CreateWith runs workflow id when the lookup finds nothing.
func (e *EntityBuilder) CreateWith(id string) *EntityBuilder {
	e.entity().CreateIfMissing = true
	e.entity().SubWorkflow = id
	return e
}

// Seed names the field of the sub-workflow that receives the search value.
func (e *EntityBuilder) Seed(field string) *EntityBuilder {
	e.entity().SeedField = field
	return e
}
