package ports

import "github.com/aretw0/espalier/pkg/domain"

// WorkflowRegistry resolves workflow definitions by ID.
// Definitions are immutable once registered.
type WorkflowRegistry interface {
	// Get returns the definition for id, or domain.ErrWorkflowNotFound.
	Get(id string) (domain.WorkflowDefinition, error)

	// List returns every registered workflow ID, sorted.
	List() []string
}
