/*
Package domain contains the core models of the espalier workflow engine.

It defines the declarative WorkflowDefinition, the live Frame that instantiates
one, and the per-session WorkflowContext that stacks frames when a workflow
needs to create a missing entity through a nested workflow. The package is
kept free of I/O so adapters and the runtime can share it.

# Key Entities

  - WorkflowDefinition: Fields to collect, entities to resolve and the final action.
  - Frame: One running instance of a definition with its private collected values.
  - WorkflowContext: The LIFO stack of frames owned by a session.
  - Response: What a host renders after each turn.
*/
package domain
