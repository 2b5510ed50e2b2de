package domain

// Turn is one inbound user message for a session.
type Turn struct {
	SessionID string `json:"session_id"`
	UserID    string `json:"user_id,omitempty"`
	Message   string `json:"message"`
}

// Status is the outcome class of a turn. An abort is reported as
// StatusFailed with CodeAborted.
type Status string

const (
	StatusNeedsInput Status = "needs_input"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// TurnError is the user-facing description of a failure.
type TurnError struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Field   string    `json:"field,omitempty"`
	Entity  string    `json:"entity,omitempty"`
}

// NewTurnError builds a TurnError from err, classifying it with CodeOf.
func NewTurnError(err error) *TurnError {
	if err == nil {
		return nil
	}
	te := &TurnError{Code: CodeOf(err), Message: err.Error()}
	if ve, ok := asValidationError(err); ok {
		te.Field = ve.Field
	}
	return te
}

// FrameOutcome summarises a frame popped during a turn.
type FrameOutcome struct {
	FrameID  string         `json:"frame_id"`
	Workflow string         `json:"workflow"`
	Phase    Phase          `json:"phase"`
	Result   map[string]any `json:"result,omitempty"`
	Error    *TurnError     `json:"error,omitempty"`
}

// Response is what the engine returns for every turn.
type Response struct {
	SessionID string         `json:"session_id"`
	Status    Status         `json:"status"`
	Prompt    string         `json:"prompt,omitempty"`
	Result    map[string]any `json:"result,omitempty"`
	Error     *TurnError     `json:"error,omitempty"`

	// Workflow and Depth describe the active frame after the turn.
	Workflow string `json:"workflow,omitempty"`
	Depth    int    `json:"depth"`

	// Field is the field the prompt asks for, when there is one.
	Field string `json:"field,omitempty"`

	Completed []FrameOutcome `json:"completed,omitempty"`
}
