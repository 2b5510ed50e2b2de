package cli

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/aretw0/espalier/internal/config"
	"github.com/aretw0/espalier/internal/presentation/tui"
	"github.com/aretw0/espalier/pkg/domain"
	"github.com/aretw0/espalier/pkg/ports"
	"github.com/aretw0/espalier/pkg/runner"
	"github.com/google/uuid"
	"golang.org/x/term"
)

// ChatOptions contains the configuration of the chat command.
type ChatOptions struct {
	Workflow  string
	SessionID string
	UserID    string
	Seed      string // Raw JSON object
	JSON      bool
	Confirm   bool
	Debug     bool
	Fresh     bool

	In  io.Reader
	Out io.Writer
}

// RunChat runs one interactive conversation in a session. An empty session
// ID gets a fresh UUID; an existing session with an active workflow is resumed.
func RunChat(ctx context.Context, cfg *config.Config, opts ChatOptions) error {
	if opts.In == nil {
		opts.In = os.Stdin
	}
	if opts.Out == nil {
		opts.Out = os.Stdout
	}

	seed, err := ParseSeed(opts.Seed)
	if err != nil {
		return err
	}
	if opts.SessionID == "" {
		opts.SessionID = uuid.NewString()
	}

	logger, err := NewLogger(cfg.Log)
	if err != nil {
		return err
	}

	interactive := !opts.JSON && isTerminal(opts.Out)

	var handler runner.IOHandler
	if opts.JSON {
		handler = runner.NewJSONHandler(opts.In, opts.Out)
	} else {
		var textOpts []runner.TextHandlerOption
		if interactive {
			textOpts = append(textOpts, runner.WithTextHandlerRenderer(tui.NewRenderer()))
		}
		handler = runner.NewTextHandler(opts.In, opts.Out, textOpts...)
	}

	var stackOpts []StackOption
	if opts.Debug {
		stackOpts = append(stackOpts, WithDebugHooks())
	}
	if opts.Confirm {
		stackOpts = append(stackOpts, WithActionGuard(func(next ports.ActionExecutor) ports.ActionExecutor {
			return runner.Guard(next, runner.ConfirmationMiddleware(handler))
		}))
	}

	stack, err := NewStack(cfg, logger, stackOpts...)
	if err != nil {
		return err
	}
	defer stack.Close()

	if opts.Fresh {
		if err := stack.Engine.Delete(ctx, opts.SessionID); err != nil {
			return fmt.Errorf("failed to reset session: %w", err)
		}
	}

	if interactive {
		tui.PrintBanner(opts.Out)
		printSystemMessage(opts.Out, "Session '%s' active. Type '%s' to cancel.", opts.SessionID, cfg.Runtime.AbortKeyword)
	}

	r := runner.NewRunner(stack.Engine,
		runner.WithLogger(logger),
		runner.WithSessionID(opts.SessionID),
		runner.WithUserID(opts.UserID),
		runner.WithInputHandler(handler),
	)

	resp, err := r.Run(ctx, opts.Workflow, seed)
	if err != nil {
		return handleExecutionError(err)
	}
	if interactive && resp != nil {
		printSystemMessage(opts.Out, "Finished with status '%s'.", resp.Status)
	}
	if resp != nil && resp.Status == domain.StatusFailed {
		if resp.Error != nil && resp.Error.Code == domain.CodeAborted {
			return nil
		}
		if resp.Error != nil {
			return fmt.Errorf("workflow failed: %s", resp.Error.Message)
		}
		return fmt.Errorf("workflow failed")
	}
	return nil
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}
