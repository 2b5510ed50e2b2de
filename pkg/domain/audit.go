package domain

import "time"

// AuditRecord is the append-only trace of a frame that left the stack.
// It is the only place where a popped child frame's data survives.
type AuditRecord struct {
	SessionID string         `json:"session_id"`
	UserID    string         `json:"user_id,omitempty"`
	FrameID   string         `json:"frame_id"`
	Workflow  string         `json:"workflow"`
	Origin    string         `json:"origin,omitempty"`
	Phase     Phase          `json:"phase"`
	Data      map[string]any `json:"data,omitempty"`
	Result    map[string]any `json:"result,omitempty"`
	Error     string         `json:"error,omitempty"`
	Code      ErrorCode      `json:"code,omitempty"`
	At        time.Time      `json:"at"`
}
