package domain

import (
	"fmt"
	"time"
)

// DefaultMaxDepth is the stack ceiling used when a context is created without one.
const DefaultMaxDepth = 5

// MaxHistory bounds the number of turn references kept on a context.
const MaxHistory = 50

// TurnRef is a lightweight pointer to one processed turn.
type TurnRef struct {
	Seq      int       `json:"seq"`
	At       time.Time `json:"at"`
	FrameID  string    `json:"frame_id,omitempty"`
	Workflow string    `json:"workflow,omitempty"`
}

// WorkflowContext is the per-session container of the frame stack.
// The last frame is the active one. It is owned by exactly one session and
// is only mutated under that session's lock.
type WorkflowContext struct {
	sessionID string
	userID    string
	stack     []*Frame
	maxDepth  int
	metadata  map[string]string
	history   []TurnRef
	seq       int
	revision  int64
	createdAt time.Time
	updatedAt time.Time
}

// NewContext creates an empty context. A non-positive maxDepth selects DefaultMaxDepth.
func NewContext(sessionID, userID string, maxDepth int) *WorkflowContext {
	if maxDepth <= 0 {
		maxDepth = DefaultMaxDepth
	}
	now := time.Now().UTC()
	return &WorkflowContext{
		sessionID: sessionID,
		userID:    userID,
		maxDepth:  maxDepth,
		metadata:  make(map[string]string),
		createdAt: now,
		updatedAt: now,
	}
}

func (c *WorkflowContext) SessionID() string    { return c.sessionID }
func (c *WorkflowContext) UserID() string       { return c.userID }
func (c *WorkflowContext) MaxDepth() int        { return c.maxDepth }
func (c *WorkflowContext) CreatedAt() time.Time { return c.createdAt }
func (c *WorkflowContext) UpdatedAt() time.Time { return c.updatedAt }

// Revision is the store generation this context was loaded at. Zero means
// it has never been saved. Stores compare it on Save to reject stale writes.
func (c *WorkflowContext) Revision() int64 { return c.revision }

// SetRevision is called by stores after a successful Save or Load.
func (c *WorkflowContext) SetRevision(rev int64) { c.revision = rev }

// SetUserID records the user that owns the session when it was not known at creation.
func (c *WorkflowContext) SetUserID(id string) { c.userID = id }

// Depth returns the number of frames on the stack.
func (c *WorkflowContext) Depth() int { return len(c.stack) }

// IsEmpty reports whether there is no active workflow.
func (c *WorkflowContext) IsEmpty() bool { return len(c.stack) == 0 }

// Contains reports whether a frame of definitionID is on the stack.
func (c *WorkflowContext) Contains(definitionID string) bool {
	for _, f := range c.stack {
		if f.definitionID == definitionID {
			return true
		}
	}
	return false
}

// Push places frame on top of the stack.
// It fails with ErrStackOverflow when the stack is full and with
// ErrReentrancyViolation when a non-reentrant definition is already present.
// The stack is left unchanged on error.
func (c *WorkflowContext) Push(frame *Frame) error {
	if frame == nil {
		return fmt.Errorf("push: nil frame")
	}
	if len(c.stack) >= c.maxDepth {
		return fmt.Errorf("%w: depth %d reached pushing %q", ErrStackOverflow, c.maxDepth, frame.definitionID)
	}
	if !frame.reentrant && c.Contains(frame.definitionID) {
		return fmt.Errorf("%w: %q is already on the stack", ErrReentrancyViolation, frame.definitionID)
	}
	c.stack = append(c.stack, frame)
	return nil
}

// Pop removes and returns the active frame.
func (c *WorkflowContext) Pop() (*Frame, error) {
	n := len(c.stack)
	if n == 0 {
		return nil, ErrEmptyStack
	}
	f := c.stack[n-1]
	c.stack[n-1] = nil
	c.stack = c.stack[:n-1]
	return f, nil
}

// Peek returns the active frame, or false when no workflow is active.
func (c *WorkflowContext) Peek() (*Frame, bool) {
	if len(c.stack) == 0 {
		return nil, false
	}
	return c.stack[len(c.stack)-1], true
}

// Parent returns the frame directly below the active one.
func (c *WorkflowContext) Parent() (*Frame, bool) {
	if len(c.stack) < 2 {
		return nil, false
	}
	return c.stack[len(c.stack)-2], true
}

// Frames returns the stack bottom-first. The slice is a copy; the frames are not.
func (c *WorkflowContext) Frames() []*Frame {
	out := make([]*Frame, len(c.stack))
	copy(out, c.stack)
	return out
}

// Clear drops every frame. Only abort uses it.
func (c *WorkflowContext) Clear() {
	c.stack = nil
}

// Metadata returns a copy of the session metadata.
func (c *WorkflowContext) Metadata() map[string]string {
	out := make(map[string]string, len(c.metadata))
	for k, v := range c.metadata {
		out[k] = v
	}
	return out
}

// SetMetadata sets one metadata entry. An empty value removes the key.
func (c *WorkflowContext) SetMetadata(key, value string) {
	if value == "" {
		delete(c.metadata, key)
		return
	}
	c.metadata[key] = value
}

// History returns the recorded turn references, oldest first.
func (c *WorkflowContext) History() []TurnRef {
	out := make([]TurnRef, len(c.history))
	copy(out, c.history)
	return out
}

// RecordTurn appends a turn reference for the active frame and touches the context.
func (c *WorkflowContext) RecordTurn(at time.Time) TurnRef {
	c.seq++
	ref := TurnRef{Seq: c.seq, At: at.UTC()}
	if f, ok := c.Peek(); ok {
		ref.FrameID = f.id
		ref.Workflow = f.definitionID
	}
	c.history = append(c.history, ref)
	if len(c.history) > MaxHistory {
		c.history = append([]TurnRef(nil), c.history[len(c.history)-MaxHistory:]...)
	}
	c.updatedAt = ref.At
	return ref
}

// Touch updates the modification time.
func (c *WorkflowContext) Touch(at time.Time) { c.updatedAt = at.UTC() }
