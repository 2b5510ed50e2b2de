/*
Package ports defines the driven ports (interfaces) for the espalier engine.

These interfaces decouple the orchestrator from external implementations, allowing
it to work with various storage backends, entity sources and action hosts.

# Key Interfaces

  - ContextStore: Persists and loads the per-session WorkflowContext.
  - DistributedLocker: Provides distributed locking for concurrent session access.
  - FieldExtractor: Pulls a field value out of a user message.
  - EntityStore: Looks up existing records referenced by a workflow.
  - ActionExecutor: Runs the terminal action of a completed frame.
  - WorkflowRegistry: Resolves workflow definitions by ID.
  - AuditSink: Records frames as they leave the stack.
*/
package ports
