package domain

import (
	"time"

	"github.com/google/uuid"
)

// Phase is the lifecycle position of a frame inside the orchestrator state machine.
type Phase string

const (
	PhaseCollecting          Phase = "collecting"
	PhaseResolvingEntity     Phase = "resolving_entity"
	PhaseAwaitingSubworkflow Phase = "awaiting_subworkflow" // A child frame sits on top of this one
	PhaseExecutingAction     Phase = "executing_action"
	PhaseCompleted           Phase = "completed" // Terminal, frame popped
	PhaseFailed              Phase = "failed"    // Terminal, frame popped
)

func (p Phase) valid() bool {
	switch p {
	case PhaseCollecting, PhaseResolvingEntity, PhaseAwaitingSubworkflow,
		PhaseExecutingAction, PhaseCompleted, PhaseFailed:
		return true
	}
	return false
}

// EntityStatus is the resolution status of one entity requirement.
type EntityStatus string

const (
	EntityUnresolved EntityStatus = "unresolved"
	EntityResolving  EntityStatus = "resolving" // Child frame pushed
	EntityResolved   EntityStatus = "resolved"
	EntityFailed     EntityStatus = "failed"
)

func (s EntityStatus) valid() bool {
	switch s {
	case EntityUnresolved, EntityResolving, EntityResolved, EntityFailed:
		return true
	}
	return false
}

// EntityState pairs a status with the resolved identity (when RESOLVED)
// or the failure reason (when FAILED).
type EntityState struct {
	Status EntityStatus
	Value  any
	Reason string
}

// Frame is one live instantiation of a WorkflowDefinition.
// Its collected values are private to the frame: parents and children never
// read each other's maps.
type Frame struct {
	id           string
	definitionID string
	step         int
	phase        Phase
	reentrant    bool

	// origin names the parent requirement that spawned this frame (empty for roots).
	origin string

	collected map[string]any
	entities  map[string]EntityState
	retries   map[string]int

	awaitingConfirmation bool
	createdAt            time.Time
}

// NewFrame creates a frame for def, pre-filled with seed values.
// Seed keys that are not fields of def are ignored.
func NewFrame(def WorkflowDefinition, seed map[string]any) *Frame {
	f := &Frame{
		id:           uuid.NewString(),
		definitionID: def.ID,
		phase:        PhaseCollecting,
		reentrant:    def.Reentrant,
		collected:    make(map[string]any),
		entities:     make(map[string]EntityState, len(def.Entities)),
		retries:      make(map[string]int),
		createdAt:    time.Now().UTC(),
	}
	for _, e := range def.Entities {
		f.entities[e.Name] = EntityState{Status: EntityUnresolved}
	}
	for _, field := range def.Plan() {
		if v, ok := seed[field.Name]; ok {
			f.collected[field.Name] = v
		}
	}
	return f
}

// NewChildFrame creates a sub-workflow frame spawned by the parent requirement origin.
func NewChildFrame(def WorkflowDefinition, origin string, seed map[string]any) *Frame {
	f := NewFrame(def, seed)
	f.origin = origin
	return f
}

func (f *Frame) ID() string           { return f.id }
func (f *Frame) DefinitionID() string { return f.definitionID }
func (f *Frame) Reentrant() bool      { return f.reentrant }
func (f *Frame) CreatedAt() time.Time { return f.createdAt }

// Origin returns the name of the parent requirement this frame resolves.
func (f *Frame) Origin() string { return f.origin }

// Step returns the index (in the definition plan) of the current field.
func (f *Frame) Step() int        { return f.step }
func (f *Frame) SetStep(i int)    { f.step = i }
func (f *Frame) Phase() Phase     { return f.phase }
func (f *Frame) SetPhase(p Phase) { f.phase = p }
func (f *Frame) IsTerminal() bool { return f.phase == PhaseCompleted || f.phase == PhaseFailed }

// Value returns the collected value for key.
func (f *Frame) Value(key string) (any, bool) {
	v, ok := f.collected[key]
	return v, ok
}

// Has reports whether key has been collected (a skipped field counts, with a nil value).
func (f *Frame) Has(key string) bool {
	_, ok := f.collected[key]
	return ok
}

// Set stores a collected value.
func (f *Frame) Set(key string, value any) { f.collected[key] = value }

// Unset removes a collected value so the field is prompted again.
func (f *Frame) Unset(key string) { delete(f.collected, key) }

// Collected returns a copy of the collected values.
func (f *Frame) Collected() map[string]any {
	out := make(map[string]any, len(f.collected))
	for k, v := range f.collected {
		out[k] = v
	}
	return out
}

// Entity returns the state of a requirement. Unknown names report UNRESOLVED.
func (f *Frame) Entity(name string) EntityState {
	if st, ok := f.entities[name]; ok {
		return st
	}
	return EntityState{Status: EntityUnresolved}
}

// SetEntity records the state of a requirement.
func (f *Frame) SetEntity(name string, st EntityState) { f.entities[name] = st }

// Entities returns a copy of every requirement state.
func (f *Frame) Entities() map[string]EntityState {
	out := make(map[string]EntityState, len(f.entities))
	for k, v := range f.entities {
		out[k] = v
	}
	return out
}

// Retries returns the consecutive failure count of field.
func (f *Frame) Retries(field string) int { return f.retries[field] }

// IncrementRetries bumps and returns the consecutive failure count of field.
func (f *Frame) IncrementRetries(field string) int {
	f.retries[field]++
	return f.retries[field]
}

// ResetRetries clears the failure count of field.
func (f *Frame) ResetRetries(field string) { delete(f.retries, field) }

func (f *Frame) AwaitingConfirmation() bool     { return f.awaitingConfirmation }
func (f *Frame) SetAwaitingConfirmation(v bool) { f.awaitingConfirmation = v }

// PendingField returns the first field of the plan without a collected value.
func (f *Frame) PendingField(def WorkflowDefinition) (FieldSpec, int, bool) {
	for i, field := range def.Plan() {
		if !f.Has(field.Name) {
			return field, i, true
		}
	}
	return FieldSpec{}, -1, false
}

// EligibleEntity returns the first requirement, in declaration order, that is
// UNRESOLVED or FAILED and whose search value has already been collected.
func (f *Frame) EligibleEntity(def WorkflowDefinition) (EntityRequirement, bool) {
	for _, e := range def.Entities {
		st := f.Entity(e.Name).Status
		if st != EntityUnresolved && st != EntityFailed {
			continue
		}
		if v, ok := f.Value(e.SearchField); ok && v != nil {
			return e, true
		}
	}
	return EntityRequirement{}, false
}

// NextEntity returns the first requirement, in declaration order, that is not RESOLVED.
func (f *Frame) NextEntity(def WorkflowDefinition) (EntityRequirement, bool) {
	for _, e := range def.Entities {
		if f.Entity(e.Name).Status != EntityResolved {
			return e, true
		}
	}
	return EntityRequirement{}, false
}

// IsComplete reports whether every required field is present and every
// entity requirement is RESOLVED.
func (f *Frame) IsComplete(def WorkflowDefinition) bool {
	for _, field := range def.Plan() {
		if field.Required && !f.Has(field.Name) {
			return false
		}
	}
	for _, e := range def.Entities {
		if f.Entity(e.Name).Status != EntityResolved {
			return false
		}
	}
	return true
}

// ActionInput merges the collected values with each resolved entity value
// stored under its ResolvedKey.
func (f *Frame) ActionInput(def WorkflowDefinition) map[string]any {
	data := f.Collected()
	for _, e := range def.Entities {
		if st := f.Entity(e.Name); st.Status == EntityResolved {
			data[e.ResolvedKey] = st.Value
		}
	}
	return data
}
