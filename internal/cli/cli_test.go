package cli

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/aretw0/espalier/internal/config"
	"github.com/aretw0/espalier/internal/logging"
	"github.com/aretw0/espalier/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const workflowsYAML = `
workflows:
  - id: create_invoice
    goal: Create an invoice
    final_action: create_invoice
    fields:
      - name: product_ids
        required: true
        validator: "[string]"
    entities:
      - name: customer
        search_field: email
        search_validator: email
        create_if_missing: true
        sub_workflow: create_customer
        resolved_key: customer_id
  - id: create_customer
    goal: Create a customer
    final_action: create_customer
    fields:
      - name: email
        required: true
        validator: email
      - name: name
        required: true
`

const actionsYAML = `
actions:
  - name: find_customer
    command: sh
    args: ["-c", "if [ \"$ESPALIER_ARG_VALUE\" = \"known@acme.com\" ]; then echo '{\"id\": \"c-known\"}'; fi"]
  - name: create_customer
    command: sh
    args: ["-c", "echo '{\"id\": \"c-new\"}'"]
  - name: create_invoice
    command: sh
    args: ["-c", "cat"]
`

func skipOnWindows(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("action fixtures use sh")
	}
}

func newTestConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	workflows := filepath.Join(dir, "workflows.yaml")
	actions := filepath.Join(dir, "actions.yaml")
	require.NoError(t, os.WriteFile(workflows, []byte(workflowsYAML), 0o644))
	require.NoError(t, os.WriteFile(actions, []byte(actionsYAML), 0o644))

	cfg := config.Default()
	cfg.Workflows = workflows
	cfg.Actions = actions
	cfg.Log.Level = "error"
	return cfg
}

func TestNewStack_Memory(t *testing.T) {
	skipOnWindows(t)
	cfg := newTestConfig(t)
	cfg.Audit.Enabled = true

	stack, err := NewStack(cfg, logging.NewNop())
	require.NoError(t, err)
	defer stack.Close()

	ctx := context.Background()
	engine := stack.Engine
	assert.Equal(t, []string{"create_customer", "create_invoice"}, engine.Workflows())
	assert.Equal(t, []string{"create_customer", "create_invoice", "find_customer"}, stack.Actions.Names())

	resp, err := engine.Start(ctx, "s1", "", "create_invoice", nil)
	require.NoError(t, err)
	assert.Equal(t, "email", resp.Field)

	resp, err = engine.Turn(ctx, domain.Turn{SessionID: "s1", Message: "known@acme.com"})
	require.NoError(t, err)
	assert.Equal(t, "product_ids", resp.Field, "the lookup process found the customer")

	resp, err = engine.Turn(ctx, domain.Turn{SessionID: "s1", Message: "p1, p2"})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, resp.Status)
	assert.Equal(t, "c-known", resp.Result["customer_id"], "create_invoice echoes its input")

	trail, err := engine.Trail(ctx, "s1")
	require.NoError(t, err)
	assert.Len(t, trail, 1)

	families, err := stack.Registry.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}

func TestNewStack_Errors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(cfg *config.Config)
		want   string
	}{
		{"No Workflows", func(cfg *config.Config) { cfg.Workflows = "" }, "no workflows configured"},
		{"Missing Workflows File", func(cfg *config.Config) { cfg.Workflows = filepath.Join(t.TempDir(), "nope.yaml") }, "nope.yaml"},
		{"Bad Key", func(cfg *config.Config) { cfg.Encryption.Key = "short" }, "invalid encryption key"},
		{"Redis Down", func(cfg *config.Config) {
			cfg.Store.Driver = config.StoreRedis
			cfg.Redis.Addr = "127.0.0.1:1"
		}, "failed to connect to redis"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := newTestConfig(t)
			tt.mutate(cfg)
			_, err := NewStack(cfg, logging.NewNop())
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestNewStack_RedisEncrypted(t *testing.T) {
	skipOnWindows(t)
	mr := miniredis.RunT(t)

	cfg := newTestConfig(t)
	cfg.Store.Driver = config.StoreRedis
	cfg.Redis.Addr = mr.Addr()
	cfg.Audit.Enabled = true
	cfg.Encryption.Key = strings.Repeat("ab", 32)

	stack, err := NewStack(cfg, logging.NewNop())
	require.NoError(t, err)
	defer stack.Close()

	ctx := context.Background()
	_, err = stack.Engine.Start(ctx, "s1", "u1", "create_invoice", nil)
	require.NoError(t, err)
	_, err = stack.Engine.Turn(ctx, domain.Turn{SessionID: "s1", Message: "secret@acme.com"})
	require.NoError(t, err)

	sessions, err := stack.Engine.Sessions(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"s1"}, sessions)

	raw, err := mr.Get(cfg.Redis.Prefix + "s1")
	require.NoError(t, err)
	assert.NotContains(t, raw, "secret@acme.com", "contexts are encrypted at rest")

	snap, err := stack.Engine.Inspect(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, 2, snap.Depth)
}

func TestRunChat_FileStoreResume(t *testing.T) {
	skipOnWindows(t)
	cfg := newTestConfig(t)
	cfg.Store.Driver = config.StoreFile
	cfg.Store.Path = filepath.Join(t.TempDir(), "sessions")

	ctx := context.Background()
	var out bytes.Buffer
	err := RunChat(ctx, cfg, ChatOptions{
		Workflow:  "create_invoice",
		SessionID: "chat-1",
		In:        strings.NewReader("new@acme.com\n"),
		Out:       &out,
	})
	require.NoError(t, err)
	assert.Contains(t, out.String(), "name")

	// A new process picks the session up from disk.
	out.Reset()
	err = RunChat(ctx, cfg, ChatOptions{
		Workflow:  "create_invoice",
		SessionID: "chat-1",
		In:        strings.NewReader("Ada\np1\n"),
		Out:       &out,
	})
	require.NoError(t, err)
	assert.Contains(t, out.String(), "customer_id: c-new")

	stack, err := NewStack(cfg, logging.NewNop())
	require.NoError(t, err)
	defer stack.Close()

	var list bytes.Buffer
	require.NoError(t, ListSessions(ctx, stack, &list))
	assert.Equal(t, "No active sessions found.\n", list.String())
}

func TestRunChat_JSONAndSeed(t *testing.T) {
	skipOnWindows(t)
	cfg := newTestConfig(t)

	var out bytes.Buffer
	err := RunChat(context.Background(), cfg, ChatOptions{
		Workflow: "create_customer",
		Seed:     `{"email": "a@b.io"}`,
		JSON:     true,
		In:       strings.NewReader(`{"message": "Ada"}` + "\n"),
		Out:      &out,
	})
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], `"field":"name"`)
	assert.Contains(t, lines[1], `"status":"completed"`)

	err = RunChat(context.Background(), cfg, ChatOptions{Workflow: "create_customer", Seed: "{", In: strings.NewReader(""), Out: &out})
	assert.ErrorContains(t, err, "--seed")
}

func TestRunChat_ConfirmDenied(t *testing.T) {
	skipOnWindows(t)
	cfg := newTestConfig(t)

	var out bytes.Buffer
	err := RunChat(context.Background(), cfg, ChatOptions{
		Workflow: "create_customer",
		Seed:     `{"email": "a@b.io"}`,
		Confirm:  true,
		In:       strings.NewReader("Ada\nn\n"),
		Out:      &out,
	})
	require.Error(t, err)
	assert.Contains(t, out.String(), "[System] Run create_customer with")
}

func TestSessionCommands(t *testing.T) {
	skipOnWindows(t)
	cfg := newTestConfig(t)
	stack, err := NewStack(cfg, logging.NewNop())
	require.NoError(t, err)
	defer stack.Close()

	ctx := context.Background()
	_, err = stack.Engine.Start(ctx, "s1", "", "create_invoice", nil)
	require.NoError(t, err)
	_, err = stack.Engine.Turn(ctx, domain.Turn{SessionID: "s1", Message: "new@acme.com"})
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, ListSessions(ctx, stack, &buf))
	assert.Contains(t, buf.String(), "- s1")

	buf.Reset()
	require.NoError(t, InspectSession(ctx, stack, "s1", false, &buf))
	assert.Contains(t, buf.String(), `"depth": 2`)

	buf.Reset()
	require.NoError(t, InspectSession(ctx, stack, "s1", true, &buf))
	assert.Contains(t, buf.String(), "class create_customer current;")
	assert.Contains(t, buf.String(), "class create_invoice stacked;")

	buf.Reset()
	require.NoError(t, PrintGraph(stack, &buf))
	assert.Contains(t, buf.String(), `create_invoice -. "customer" .-> create_customer`)

	buf.Reset()
	err = PrintTrail(ctx, stack, "s1", &buf)
	assert.Error(t, err, "audit is disabled by default")

	buf.Reset()
	require.NoError(t, RemoveSessions(ctx, stack, []string{"s1"}, &buf))
	assert.Equal(t, "Removed session 's1'\n", buf.String())
	assert.Error(t, InspectSession(ctx, stack, "s1", false, &buf))
}

func TestValidate(t *testing.T) {
	cfg := newTestConfig(t)

	var buf bytes.Buffer
	n, err := Validate(cfg.Workflows, cfg.Actions, &buf)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Empty(t, buf.String())

	_, err = Validate(cfg.Workflows, filepath.Join(t.TempDir(), "none.yaml"), &buf)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "create_invoice (final action of create_invoice)")
	assert.Contains(t, buf.String(), "no find_customer process")
}
