package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/aretw0/espalier"
	"github.com/aretw0/espalier/internal/logging"
	"github.com/aretw0/espalier/pkg/domain"
	"github.com/aretw0/espalier/pkg/runner"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"golang.org/x/sync/errgroup"
)

// WorkflowsURI is the resource listing every registered workflow definition.
const WorkflowsURI = "espalier://workflows"

// TurnResponse is the structured result of every conversational tool.
type TurnResponse struct {
	SessionID string            `json:"session_id" jsonschema_description:"The session the turn ran in"`
	Status    domain.Status     `json:"status" jsonschema_description:"needs_input, completed or failed (error code aborted after an abort)"`
	Prompt    string            `json:"prompt,omitempty" jsonschema_description:"What to ask the user next"`
	Field     string            `json:"field,omitempty" jsonschema_description:"The field the prompt asks for"`
	Workflow  string            `json:"workflow,omitempty" jsonschema_description:"The active workflow after the turn"`
	Depth     int               `json:"depth" jsonschema_description:"Number of workflows on the session stack"`
	Result    map[string]any    `json:"result,omitempty" jsonschema_description:"Final action result when the root workflow completed"`
	Error     *domain.TurnError `json:"error,omitempty" jsonschema_description:"Failure details"`
}

func newTurnResponse(resp *domain.Response) TurnResponse {
	return TurnResponse{
		SessionID: resp.SessionID,
		Status:    resp.Status,
		Prompt:    resp.Prompt,
		Field:     resp.Field,
		Workflow:  resp.Workflow,
		Depth:     resp.Depth,
		Result:    resp.Result,
		Error:     resp.Error,
	}
}

// Engine defines the interface required by the MCP server to drive espalier.
type Engine interface {
	Start(ctx context.Context, sessionID, userID, workflowID string, seed map[string]any) (*domain.Response, error)
	Turn(ctx context.Context, turn domain.Turn) (*domain.Response, error)
	Resume(ctx context.Context, sessionID string) (*domain.Response, error)
	Abort(ctx context.Context, sessionID string) (*domain.Response, error)
	Inspect(ctx context.Context, sessionID string) (*espalier.Snapshot, error)
	Workflows() []string
	Definition(id string) (domain.WorkflowDefinition, error)
}

// Server wraps the espalier Engine and exposes it as an MCP Server.
type Server struct {
	engine    Engine
	logger    *slog.Logger
	mcpServer *server.MCPServer
}

// Option configures the MCP server.
type Option func(*Server)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// NewServer creates a new MCP Server instance.
func NewServer(engine Engine, opts ...Option) *Server {
	s := &Server{
		engine:    engine,
		logger:    logging.NewNop(),
		mcpServer: server.NewMCPServer("espalier-mcp", strings.TrimSpace(espalier.Version)),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.registerTools()
	s.registerResources()
	return s
}

// MCPServer returns the underlying mcp-go server.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcpServer
}

// ServeStdio starts the server on Stdin/Stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcpServer)
}

// ServeSSE serves MCP over SSE on addr until ctx is done.
func (s *Server) ServeSSE(ctx context.Context, addr string) error {
	baseURL := "http://localhost" + addr
	if !strings.HasPrefix(addr, ":") {
		baseURL = "http://" + addr
	}

	sseServer := server.NewSSEServer(s.mcpServer, server.WithBaseURL(baseURL))

	mux := http.NewServeMux()
	mux.Handle("/sse", corsMiddleware(sseServer.SSEHandler()))
	mux.Handle("/message", corsMiddleware(sseServer.MessageHandler()))

	httpServer := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.logger.Info("MCP Server listening (SSE)", "address", addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.logger.Info("Shutting down MCP server")
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("could not stop server gracefully: %w", err)
		}
		return nil
	})
	return g.Wait()
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Requested-With")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) registerTools() {
	s.mcpServer.AddTool(mcp.NewTool("start_workflow",
		mcp.WithDescription("Start a workflow in a session. Fails when the session already runs one."),
		mcp.WithString("session_id", mcp.Required(), mcp.Description("Conversation session ID")),
		mcp.WithString("workflow", mcp.Required(), mcp.Description("Workflow definition ID")),
		mcp.WithString("user_id", mcp.Description("User that owns the session (optional)")),
		mcp.WithString("seed", mcp.Description("JSON object of values already known (optional)")),
		mcp.WithOutputSchema[TurnResponse](),
	), mcp.NewStructuredToolHandler(s.handleStart))

	s.mcpServer.AddTool(mcp.NewTool("send_turn",
		mcp.WithDescription("Send the user's message to the active workflow of a session."),
		mcp.WithString("session_id", mcp.Required(), mcp.Description("Conversation session ID")),
		mcp.WithString("message", mcp.Required(), mcp.Description("User message")),
		mcp.WithString("user_id", mcp.Description("User that owns the session (optional)")),
		mcp.WithOutputSchema[TurnResponse](),
	), mcp.NewStructuredToolHandler(s.handleTurn))

	s.mcpServer.AddTool(mcp.NewTool("resume_session",
		mcp.WithDescription("Repeat the pending prompt of a session without consuming input."),
		mcp.WithString("session_id", mcp.Required(), mcp.Description("Conversation session ID")),
		mcp.WithOutputSchema[TurnResponse](),
	), mcp.NewStructuredToolHandler(s.handleResume))

	s.mcpServer.AddTool(mcp.NewTool("abort_session",
		mcp.WithDescription("Cancel every workflow of a session without running any action."),
		mcp.WithString("session_id", mcp.Required(), mcp.Description("Conversation session ID")),
		mcp.WithOutputSchema[TurnResponse](),
	), mcp.NewStructuredToolHandler(s.handleAbort))

	s.mcpServer.AddTool(mcp.NewTool("list_workflows",
		mcp.WithDescription("List the registered workflows and their goals."),
	), func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		var b strings.Builder
		for _, id := range s.engine.Workflows() {
			def, err := s.engine.Definition(id)
			if err != nil {
				return mcp.NewToolResultError(fmt.Sprintf("list failed: %v", err)), nil
			}
			fmt.Fprintf(&b, "%s: %s\n", def.ID, def.Goal)
		}
		return mcp.NewToolResultText(b.String()), nil
	})

	s.mcpServer.AddTool(mcp.NewTool("inspect_session",
		mcp.WithDescription("Show the workflow stack of a session."),
		mcp.WithString("session_id", mcp.Required(), mcp.Description("Conversation session ID")),
	), func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		sessionID, err := request.RequireString("session_id")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		snap, err := s.engine.Inspect(ctx, sessionID)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("inspect failed: %v", err)), nil
		}
		jsonBytes, _ := json.Marshal(snap)
		return mcp.NewToolResultText(string(jsonBytes)), nil
	})
}

// Handler methods for structured tools

func (s *Server) handleStart(ctx context.Context, request mcp.CallToolRequest, args map[string]interface{}) (TurnResponse, error) {
	sessionID, _ := args["session_id"].(string)
	workflow, _ := args["workflow"].(string)
	userID, _ := args["user_id"].(string)

	var seed map[string]any
	if seedStr, ok := args["seed"].(string); ok && seedStr != "" {
		if err := json.Unmarshal([]byte(seedStr), &seed); err != nil {
			return TurnResponse{}, fmt.Errorf("seed must be a JSON object: %w", err)
		}
	}

	resp, err := s.engine.Start(ctx, sessionID, userID, workflow, seed)
	if err != nil {
		return TurnResponse{}, fmt.Errorf("start failed: %w", err)
	}
	return newTurnResponse(resp), nil
}

func (s *Server) handleTurn(ctx context.Context, request mcp.CallToolRequest, args map[string]interface{}) (TurnResponse, error) {
	sessionID, _ := args["session_id"].(string)
	message, _ := args["message"].(string)
	userID, _ := args["user_id"].(string)

	// Sanitize Input
	clean, err := runner.SanitizeInput(message)
	if err != nil {
		s.logger.Warn("MCP Turn: Input rejected", "err", err, "size", len(message))
		return TurnResponse{}, fmt.Errorf("input rejected: %w", err)
	}

	resp, err := s.engine.Turn(ctx, domain.Turn{SessionID: sessionID, UserID: userID, Message: clean})
	if err != nil {
		return TurnResponse{}, fmt.Errorf("turn failed: %w", err)
	}
	return newTurnResponse(resp), nil
}

func (s *Server) handleResume(ctx context.Context, request mcp.CallToolRequest, args map[string]interface{}) (TurnResponse, error) {
	sessionID, _ := args["session_id"].(string)
	resp, err := s.engine.Resume(ctx, sessionID)
	if err != nil {
		return TurnResponse{}, fmt.Errorf("resume failed: %w", err)
	}
	return newTurnResponse(resp), nil
}

func (s *Server) handleAbort(ctx context.Context, request mcp.CallToolRequest, args map[string]interface{}) (TurnResponse, error) {
	sessionID, _ := args["session_id"].(string)
	resp, err := s.engine.Abort(ctx, sessionID)
	if err != nil {
		return TurnResponse{}, fmt.Errorf("abort failed: %w", err)
	}
	return newTurnResponse(resp), nil
}

func (s *Server) registerResources() {
	s.mcpServer.AddResource(mcp.NewResource(WorkflowsURI, "Workflow Definitions",
		mcp.WithMIMEType("application/json"),
	), s.readWorkflows)
}

func (s *Server) readWorkflows(ctx context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	ids := s.engine.Workflows()
	defs := make([]domain.WorkflowDefinition, 0, len(ids))
	for _, id := range ids {
		def, err := s.engine.Definition(id)
		if err != nil {
			return nil, fmt.Errorf("failed to read workflows: %w", err)
		}
		defs = append(defs, def)
	}
	jsonBytes, _ := json.Marshal(defs)

	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      WorkflowsURI,
			MIMEType: "application/json",
			Text:     string(jsonBytes),
		},
	}, nil
}
