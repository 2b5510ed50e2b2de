package domain

import (
	"errors"
	"fmt"
)

// Recoverable, validation-class errors.
var (
	// ErrValidation is returned when a candidate field value is rejected.
	ErrValidation = errors.New("validation failed")

	// ErrEntityNotFound is returned by entity stores when no record matches.
	ErrEntityNotFound = errors.New("entity not found")
)

// Structural errors. They unwind exactly one frame.
var (
	// ErrFieldCollectionExhausted is returned when a field ran out of retries.
	ErrFieldCollectionExhausted = errors.New("field collection exhausted")

	// ErrStackOverflow is returned when a push would exceed the maximum depth.
	ErrStackOverflow = errors.New("workflow stack overflow")

	// ErrReentrancyViolation is returned when a non-reentrant definition is already on the stack.
	ErrReentrancyViolation = errors.New("workflow reentrancy violation")

	// ErrActionExecutionFailure is returned when the terminal action fails or times out.
	ErrActionExecutionFailure = errors.New("action execution failed")

	// ErrMissingResult is returned when a child action result lacks the value the parent needs.
	ErrMissingResult = errors.New("action result is missing the resolved value")
)

// Session and lifecycle errors.
var (
	// ErrContextCorrupted is returned when a stored context cannot be decoded.
	ErrContextCorrupted = errors.New("workflow context corrupted")

	// ErrEmptyStack is returned by Pop on an empty stack.
	ErrEmptyStack = errors.New("workflow stack is empty")

	// ErrNoActiveWorkflow is returned when a turn arrives for a session without frames.
	ErrNoActiveWorkflow = errors.New("no active workflow")

	// ErrWorkflowActive is returned when starting a workflow on a session that already runs one.
	ErrWorkflowActive = errors.New("session already has an active workflow")

	// ErrSessionBusy is returned when another turn holds the session.
	ErrSessionBusy = errors.New("session busy")

	// ErrStaleContext is returned by stores when the saved context changed since it was loaded.
	ErrStaleContext = errors.New("workflow context changed concurrently")

	// ErrLockLost is returned when the distributed session lock expired or was taken over mid-turn.
	ErrLockLost = errors.New("session lock lost")

	// ErrAborted is the cause recorded for frames discarded by an abort.
	ErrAborted = errors.New("workflow aborted by user")

	// ErrSessionNotFound is returned when a session ID cannot be found in the store.
	ErrSessionNotFound = errors.New("session not found")

	// ErrWorkflowNotFound is returned by registries for unknown workflow IDs.
	ErrWorkflowNotFound = errors.New("workflow not found")

	// ErrActionNotFound is returned by action executors for unknown action IDs.
	ErrActionNotFound = errors.New("action not found")
)

// ValidationError represents a rejected field value.
type ValidationError struct {
	Field  string
	Reason string
	Value  any
}

func (e *ValidationError) Error() string {
	if e.Value == nil {
		return fmt.Sprintf("field %q: %s", e.Field, e.Reason)
	}
	return fmt.Sprintf("field %q: %s (got %v)", e.Field, e.Reason, e.Value)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// ActionError wraps a failure of the external action executor.
type ActionError struct {
	Action string
	Err    error
}

func (e *ActionError) Error() string {
	return fmt.Sprintf("action %q: %v", e.Action, e.Err)
}

// Is lets errors.Is match both ErrActionExecutionFailure and the wrapped cause.
func (e *ActionError) Is(target error) bool {
	return target == ErrActionExecutionFailure
}

func (e *ActionError) Unwrap() error { return e.Err }

// DefinitionError reports an invalid WorkflowDefinition.
type DefinitionError struct {
	WorkflowID string
	Reason     string
}

func (e *DefinitionError) Error() string {
	if e.WorkflowID == "" {
		return "invalid workflow definition: " + e.Reason
	}
	return fmt.Sprintf("invalid workflow definition %q: %s", e.WorkflowID, e.Reason)
}

// ErrorCode is the stable, transport-friendly name of a failure.
type ErrorCode string

const (
	CodeValidation          ErrorCode = "validation_error"
	CodeExhausted           ErrorCode = "field_collection_exhausted"
	CodeEntityNotFound      ErrorCode = "entity_not_found"
	CodeStackOverflow       ErrorCode = "stack_overflow"
	CodeReentrancyViolation ErrorCode = "reentrancy_violation"
	CodeActionFailure       ErrorCode = "action_execution_failure"
	CodeMissingResult       ErrorCode = "missing_result"
	CodeContextCorruption   ErrorCode = "context_corruption"
	CodeLookupFailure       ErrorCode = "lookup_failure"
	CodeSubWorkflowFailure  ErrorCode = "subworkflow_failure"
	CodeWorkflowNotFound    ErrorCode = "workflow_not_found"
	CodeAborted             ErrorCode = "aborted"
	CodeInternal            ErrorCode = "internal_error"
)

// CodeOf maps an error to its ErrorCode.
func CodeOf(err error) ErrorCode {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrFieldCollectionExhausted):
		return CodeExhausted
	case errors.Is(err, ErrValidation):
		return CodeValidation
	case errors.Is(err, ErrEntityNotFound):
		return CodeEntityNotFound
	case errors.Is(err, ErrStackOverflow):
		return CodeStackOverflow
	case errors.Is(err, ErrReentrancyViolation):
		return CodeReentrancyViolation
	case errors.Is(err, ErrMissingResult):
		return CodeMissingResult
	case errors.Is(err, ErrActionExecutionFailure):
		return CodeActionFailure
	case errors.Is(err, ErrContextCorrupted):
		return CodeContextCorruption
	case errors.Is(err, ErrWorkflowNotFound):
		return CodeWorkflowNotFound
	case errors.Is(err, ErrAborted):
		return CodeAborted
	default:
		return CodeInternal
	}
}

func asValidationError(err error) (*ValidationError, bool) {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve, true
	}
	return nil, false
}
