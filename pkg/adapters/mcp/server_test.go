package mcp

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/aretw0/espalier"
	"github.com/aretw0/espalier/pkg/domain"
	"github.com/aretw0/espalier/pkg/dsl"
	"github.com/aretw0/espalier/pkg/registry"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	b := dsl.New()
	b.Workflow("book_room").
		Goal("Book a meeting room").
		Ask("room", "Which room?").
		Ask("date", "Which date?").Validate("nonempty")
	workflows, err := b.Build()
	require.NoError(t, err)

	actions := registry.NewActions()
	actions.Register("book_room", func(ctx context.Context, data map[string]any) (map[string]any, error) {
		return map[string]any{"id": "booking-1"}, nil
	})
	engine, err := espalier.New(workflows, espalier.WithActions(actions))
	require.NoError(t, err)
	return NewServer(engine)
}

func TestServer_Conversation(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()
	req := mcp.CallToolRequest{}

	resp, err := s.handleStart(ctx, req, map[string]interface{}{
		"session_id": "s1",
		"workflow":   "book_room",
		"seed":       `{"room": "Blue"}`,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusNeedsInput, resp.Status)
	assert.Equal(t, "date", resp.Field, "seeded fields are not asked again")

	resp, err = s.handleResume(ctx, req, map[string]interface{}{"session_id": "s1"})
	require.NoError(t, err)
	assert.Equal(t, "date", resp.Field)

	resp, err = s.handleTurn(ctx, req, map[string]interface{}{"session_id": "s1", "message": "2026-03-01"})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, resp.Status)
	assert.Equal(t, "booking-1", resp.Result["id"])
}

func TestServer_Errors(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()
	req := mcp.CallToolRequest{}

	_, err := s.handleStart(ctx, req, map[string]interface{}{"session_id": "s1", "workflow": "missing"})
	assert.ErrorIs(t, err, domain.ErrWorkflowNotFound)

	_, err = s.handleStart(ctx, req, map[string]interface{}{"session_id": "s1", "workflow": "book_room", "seed": "[1]"})
	assert.ErrorContains(t, err, "seed must be a JSON object")

	_, err = s.handleTurn(ctx, req, map[string]interface{}{"session_id": "none", "message": "hi"})
	assert.ErrorIs(t, err, domain.ErrNoActiveWorkflow)

	_, err = s.handleAbort(ctx, req, map[string]interface{}{"session_id": "none"})
	assert.ErrorIs(t, err, domain.ErrNoActiveWorkflow)
}

func TestServer_Abort(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()
	req := mcp.CallToolRequest{}

	_, err := s.handleStart(ctx, req, map[string]interface{}{"session_id": "s1", "workflow": "book_room"})
	require.NoError(t, err)

	resp, err := s.handleAbort(ctx, req, map[string]interface{}{"session_id": "s1"})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, domain.CodeAborted, resp.Error.Code)
}

func TestServer_WorkflowsResource(t *testing.T) {
	s := newTestServer(t)

	contents, err := s.readWorkflows(context.Background(), mcp.ReadResourceRequest{})
	require.NoError(t, err)
	require.Len(t, contents, 1)

	text, ok := contents[0].(mcp.TextResourceContents)
	require.True(t, ok)
	assert.Equal(t, WorkflowsURI, text.URI)

	var defs []domain.WorkflowDefinition
	require.NoError(t, json.Unmarshal([]byte(text.Text), &defs))
	require.Len(t, defs, 1)
	assert.Equal(t, "Book a meeting room", defs[0].Goal)
}
