/*
Package runner implements the interactive loop that drives an espalier engine
from a terminal or any line-oriented stream.

The runner starts a workflow (or resumes the one already active in the
session), prints each prompt through a pluggable IOHandler and sends every
line the user types as a turn. It stops once the stack settles, the input
closes, or an interrupt aborts the workflow.

# Key Components

  - Runner: the conversation loop.
  - IOHandler: decouples how prompts are shown and messages are read.
  - TextHandler: interactive CLI usage, with optional markdown rendering.
  - JSONHandler: one JSON response per line, for scripts and pipes.
  - Guard: wraps an ActionExecutor with an ActionInterceptor (e.g. confirmation).

# Usage

	r := runner.NewRunner(engine,
		runner.WithSessionID("user-1"),
		runner.WithInputHandler(runner.NewTextHandler(os.Stdin, os.Stdout)),
	)

	resp, err := r.Run(ctx, "create_invoice", nil)
	if err != nil {
		log.Fatal(err)
	}
*/
package runner
