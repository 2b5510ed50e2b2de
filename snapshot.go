package espalier

import (
	"time"

	"github.com/aretw0/espalier/pkg/domain"
)

// Snapshot is a detached, JSON-friendly view of a session.
type Snapshot struct {
	SessionID string            `json:"session_id"`
	UserID    string            `json:"user_id,omitempty"`
	Depth     int               `json:"depth"`
	MaxDepth  int               `json:"max_depth"`
	Frames    []FrameSnapshot   `json:"frames"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	History   []domain.TurnRef  `json:"history,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`
}

// FrameSnapshot describes one frame, root first.
type FrameSnapshot struct {
	ID        string                        `json:"id"`
	Workflow  string                        `json:"workflow"`
	Phase     domain.Phase                  `json:"phase"`
	Step      int                           `json:"step"`
	Origin    string                        `json:"origin,omitempty"`
	Collected map[string]any                `json:"collected"`
	Entities  map[string]domain.EntityState `json:"entities,omitempty"`
}

// NewSnapshot copies the state of wc.
func NewSnapshot(wc *domain.WorkflowContext) *Snapshot {
	s := &Snapshot{
		SessionID: wc.SessionID(),
		UserID:    wc.UserID(),
		Depth:     wc.Depth(),
		MaxDepth:  wc.MaxDepth(),
		Metadata:  wc.Metadata(),
		History:   wc.History(),
		CreatedAt: wc.CreatedAt(),
		UpdatedAt: wc.UpdatedAt(),
	}
	for _, f := range wc.Frames() {
		s.Frames = append(s.Frames, FrameSnapshot{
			ID:        f.ID(),
			Workflow:  f.DefinitionID(),
			Phase:     f.Phase(),
			Step:      f.Step(),
			Origin:    f.Origin(),
			Collected: f.Collected(),
			Entities:  f.Entities(),
		})
	}
	return s
}

// Active returns the top frame, if any.
func (s *Snapshot) Active() (FrameSnapshot, bool) {
	if len(s.Frames) == 0 {
		return FrameSnapshot{}, false
	}
	return s.Frames[len(s.Frames)-1], true
}
