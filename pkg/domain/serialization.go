package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// ContextSchemaVersion is written into every serialized context.
const ContextSchemaVersion = 1

type contextWire struct {
	Version   int               `json:"version"`
	SessionID string            `json:"session_id"`
	UserID    string            `json:"user_id,omitempty"`
	MaxDepth  int               `json:"max_depth"`
	Stack     []frameWire       `json:"stack"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	History   []TurnRef         `json:"history,omitempty"`
	Seq       int               `json:"seq"`
	Revision  int64             `json:"revision,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`
}

type frameWire struct {
	ID                   string                `json:"id"`
	DefinitionID         string                `json:"definition_id"`
	Step                 int                   `json:"step"`
	Phase                Phase                 `json:"phase"`
	Reentrant            bool                  `json:"reentrant,omitempty"`
	Origin               string                `json:"origin,omitempty"`
	Collected            map[string]any        `json:"collected"`
	Entities             map[string]entityWire `json:"entities,omitempty"`
	Retries              map[string]int        `json:"retries,omitempty"`
	AwaitingConfirmation bool                  `json:"awaiting_confirmation,omitempty"`
	CreatedAt            time.Time             `json:"created_at"`
}

type entityWire struct {
	Status EntityStatus `json:"status"`
	Value  any          `json:"value,omitempty"`
	Reason string       `json:"reason,omitempty"`
}

// MarshalContext encodes a context to JSON.
func MarshalContext(c *WorkflowContext) ([]byte, error) {
	if c == nil {
		return nil, fmt.Errorf("marshal context: nil context")
	}
	return json.Marshal(c)
}

// UnmarshalContext decodes a context produced by MarshalContext.
// Numbers are kept as json.Number so values survive a round-trip unchanged.
// Every failure wraps ErrContextCorrupted.
func UnmarshalContext(data []byte) (*WorkflowContext, error) {
	c := &WorkflowContext{}
	if err := c.UnmarshalJSON(data); err != nil {
		return nil, err
	}
	return c, nil
}

// MarshalNext encodes c as the revision that follows the one it was loaded at.
// c itself is left unchanged; stores advance it once the write succeeds.
func MarshalNext(c *WorkflowContext) ([]byte, error) {
	if c == nil {
		return nil, fmt.Errorf("marshal context: nil context")
	}
	c.revision++
	defer func() { c.revision-- }()
	return json.Marshal(c)
}

// RevisionOf reads the revision of a serialized context without decoding the stack.
// Payloads written before revisions existed report zero.
func RevisionOf(data []byte) (int64, error) {
	var head struct {
		Revision int64 `json:"revision"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrContextCorrupted, err)
	}
	return head.Revision, nil
}

// CheckRevision reports ErrStaleContext unless wc was loaded at the stored
// revision. exists is false when the store has no live record; only a context
// that was never saved may create one.
func CheckRevision(wc *WorkflowContext, stored int64, exists bool) error {
	if !exists {
		stored = 0
	}
	if wc.revision != stored {
		return fmt.Errorf("%w: session %s is at revision %d, context was loaded at %d",
			ErrStaleContext, wc.sessionID, stored, wc.revision)
	}
	return nil
}

func (c *WorkflowContext) MarshalJSON() ([]byte, error) {
	w := contextWire{
		Version:   ContextSchemaVersion,
		SessionID: c.sessionID,
		UserID:    c.userID,
		MaxDepth:  c.maxDepth,
		Stack:     make([]frameWire, 0, len(c.stack)),
		Metadata:  c.metadata,
		History:   c.history,
		Seq:       c.seq,
		Revision:  c.revision,
		CreatedAt: c.createdAt,
		UpdatedAt: c.updatedAt,
	}
	for _, f := range c.stack {
		fw := frameWire{
			ID:                   f.id,
			DefinitionID:         f.definitionID,
			Step:                 f.step,
			Phase:                f.phase,
			Reentrant:            f.reentrant,
			Origin:               f.origin,
			Collected:            f.collected,
			Retries:              f.retries,
			AwaitingConfirmation: f.awaitingConfirmation,
			CreatedAt:            f.createdAt,
		}
		if len(f.entities) > 0 {
			fw.Entities = make(map[string]entityWire, len(f.entities))
			for name, st := range f.entities {
				fw.Entities[name] = entityWire{Status: st.Status, Value: st.Value, Reason: st.Reason}
			}
		}
		w.Stack = append(w.Stack, fw)
	}
	return json.Marshal(w)
}

func (c *WorkflowContext) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var w contextWire
	if err := dec.Decode(&w); err != nil {
		return fmt.Errorf("%w: %v", ErrContextCorrupted, err)
	}
	if err := w.validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrContextCorrupted, err)
	}

	out := WorkflowContext{
		sessionID: w.SessionID,
		userID:    w.UserID,
		maxDepth:  w.MaxDepth,
		metadata:  w.Metadata,
		history:   w.History,
		seq:       w.Seq,
		revision:  w.Revision,
		createdAt: w.CreatedAt,
		updatedAt: w.UpdatedAt,
	}
	if out.metadata == nil {
		out.metadata = make(map[string]string)
	}
	for _, fw := range w.Stack {
		f := &Frame{
			id:                   fw.ID,
			definitionID:         fw.DefinitionID,
			step:                 fw.Step,
			phase:                fw.Phase,
			reentrant:            fw.Reentrant,
			origin:               fw.Origin,
			collected:            fw.Collected,
			entities:             make(map[string]EntityState, len(fw.Entities)),
			retries:              fw.Retries,
			awaitingConfirmation: fw.AwaitingConfirmation,
			createdAt:            fw.CreatedAt,
		}
		if f.collected == nil {
			f.collected = make(map[string]any)
		}
		if f.retries == nil {
			f.retries = make(map[string]int)
		}
		for name, ew := range fw.Entities {
			f.entities[name] = EntityState{Status: ew.Status, Value: ew.Value, Reason: ew.Reason}
		}
		out.stack = append(out.stack, f)
	}
	*c = out
	return nil
}

// validate checks the stack invariants of a decoded context.
func (w contextWire) validate() error {
	if w.Version != ContextSchemaVersion {
		return fmt.Errorf("unsupported schema version %d", w.Version)
	}
	if w.SessionID == "" {
		return fmt.Errorf("missing session id")
	}
	if w.MaxDepth <= 0 {
		return fmt.Errorf("invalid max depth %d", w.MaxDepth)
	}
	if len(w.Stack) > w.MaxDepth {
		return fmt.Errorf("stack depth %d exceeds max depth %d", len(w.Stack), w.MaxDepth)
	}

	seenIDs := make(map[string]struct{}, len(w.Stack))
	seenDefs := make(map[string]bool, len(w.Stack))
	for i, f := range w.Stack {
		if f.ID == "" || f.DefinitionID == "" {
			return fmt.Errorf("frame %d: missing id or definition", i)
		}
		if _, dup := seenIDs[f.ID]; dup {
			return fmt.Errorf("frame %d: duplicate frame id %q", i, f.ID)
		}
		seenIDs[f.ID] = struct{}{}

		if reentrant, dup := seenDefs[f.DefinitionID]; dup && (!reentrant || !f.Reentrant) {
			return fmt.Errorf("frame %d: %q appears twice but is not reentrant", i, f.DefinitionID)
		}
		seenDefs[f.DefinitionID] = f.Reentrant

		if !f.Phase.valid() {
			return fmt.Errorf("frame %d: unknown phase %q", i, f.Phase)
		}
		if f.Phase == PhaseCompleted || f.Phase == PhaseFailed {
			return fmt.Errorf("frame %d: terminal frame left on the stack", i)
		}
		if i < len(w.Stack)-1 && f.Phase != PhaseAwaitingSubworkflow {
			return fmt.Errorf("frame %d: non-active frame in phase %q", i, f.Phase)
		}
		if i > 0 && f.Origin == "" {
			return fmt.Errorf("frame %d: child frame without origin requirement", i)
		}
		for name, e := range f.Entities {
			if !e.Status.valid() {
				return fmt.Errorf("frame %d: entity %q has unknown status %q", i, name, e.Status)
			}
		}
	}
	return nil
}
