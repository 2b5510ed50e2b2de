package process

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"sort"
	"strings"
	"time"

	"github.com/aretw0/espalier/pkg/domain"
)

// DefaultGracePeriod is how long a cancelled process gets to exit after the
// interrupt signal before it is killed.
const DefaultGracePeriod = 5 * time.Second

// Runner implements ports.ActionExecutor by executing local processes.
// It follows a Strict Registry pattern for security (Allow-Listing).
//
// The action input is written as JSON to the process stdin and also exposed
// as ESPALIER_ARG_<KEY> environment variables. A JSON object printed on stdout
// is the action result; any other output is returned under "output".
type Runner struct {
	registry map[string]RegisteredProcess
	baseDir  string
	grace    time.Duration
}

// RegisteredProcess defines an allowed command execution.
type RegisteredProcess struct {
	Command string
	Args    []string
	Env     map[string]string
	Timeout time.Duration
}

// RunnerOption configures the runner.
type RunnerOption func(*Runner)

// WithRegistry populates the allow-list from a loaded config.
func WithRegistry(actions map[string]ActionConfig) RunnerOption {
	return func(r *Runner) {
		for name, a := range actions {
			r.registry[name] = RegisteredProcess{
				Command: a.Command,
				Args:    a.Args,
				Env:     a.Environment,
				Timeout: a.Timeout,
			}
		}
	}
}

// WithBaseDir sets the working directory for executed processes.
func WithBaseDir(dir string) RunnerOption {
	return func(r *Runner) {
		r.baseDir = dir
	}
}

// WithGracePeriod sets the delay between the interrupt and the kill of a cancelled process.
func WithGracePeriod(d time.Duration) RunnerOption {
	return func(r *Runner) {
		r.grace = d
	}
}

// NewRunner creates a new Process Runner.
func NewRunner(opts ...RunnerOption) *Runner {
	r := &Runner{
		registry: make(map[string]RegisteredProcess),
		grace:    DefaultGracePeriod,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register adds a trusted command to the allow-list.
func (r *Runner) Register(name string, command string, args ...string) {
	r.registry[name] = RegisteredProcess{
		Command: command,
		Args:    args,
	}
}

// Names returns the registered action names, sorted.
func (r *Runner) Names() []string {
	names := make([]string, 0, len(r.registry))
	for name := range r.registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Execute runs the command registered for action.
func (r *Runner) Execute(ctx context.Context, action string, data map[string]any) (map[string]any, error) {
	proc, ok := r.registry[action]
	if !ok {
		return nil, fmt.Errorf("%w: %s is not a registered process", domain.ErrActionNotFound, action)
	}

	if proc.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, proc.Timeout)
		defer cancel()
	}

	input, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("failed to encode action input: %w", err)
	}

	// Input never becomes command flags; it travels through stdin and the
	// environment only, so it cannot inject arguments.
	cmd := exec.CommandContext(ctx, proc.Command, proc.Args...)
	cmd.Dir = r.baseDir
	cmd.Stdin = bytes.NewReader(input)
	cmd.Env = append(cmd.Environ(), environment(action, proc.Env, data)...)
	cmd.Cancel = func() error {
		if runtime.GOOS == "windows" {
			return cmd.Process.Kill()
		}
		return cmd.Process.Signal(os.Interrupt)
	}
	cmd.WaitDelay = r.grace

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("execution of %s interrupted: %w", action, ctxErr)
		}
		return nil, fmt.Errorf("execution failed: %w. Stderr: %s", err, strings.TrimSpace(stderr.String()))
	}

	return parseOutput(stdout.String())
}

func environment(action string, static map[string]string, data map[string]any) []string {
	env := []string{"ESPALIER_ACTION=" + action}
	for k, v := range static {
		env = append(env, k+"="+v)
	}
	for k, v := range data {
		var val string
		switch v.(type) {
		case string, int, int64, float64, bool, json.Number:
			val = fmt.Sprintf("%v", v)
		case nil:
			val = ""
		default:
			if encoded, err := json.Marshal(v); err == nil {
				val = string(encoded)
			} else {
				val = fmt.Sprintf("%v", v)
			}
		}
		env = append(env, fmt.Sprintf("ESPALIER_ARG_%s=%s", envKey(k), val))
	}
	return env
}

// envKey upper-cases k and replaces anything but letters and digits with '_'.
func envKey(k string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z':
			return r - 'a' + 'A'
		case r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		}
		return '_'
	}, k)
}

func parseOutput(output string) (map[string]any, error) {
	trimmed := strings.TrimSpace(output)
	if trimmed == "" {
		return map[string]any{}, nil
	}
	if strings.HasPrefix(trimmed, "{") && strings.HasSuffix(trimmed, "}") {
		dec := json.NewDecoder(strings.NewReader(trimmed))
		dec.UseNumber()
		var result map[string]any
		if err := dec.Decode(&result); err == nil {
			return result, nil
		}
	}
	return map[string]any{"output": trimmed}, nil
}
