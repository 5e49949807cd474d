// Package mcp exposes read-only workflow tools over the Model Context
// Protocol so assistants can inspect pipelines and dry-run transitions.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"admissions-workflow/backend/internal/condition"
	"admissions-workflow/backend/internal/history"
	"admissions-workflow/backend/internal/logging"
	"admissions-workflow/backend/internal/repository"
	"admissions-workflow/backend/internal/services"
	"admissions-workflow/backend/pkg/models"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

type Server struct {
	mcpServer *server.MCPServer
	repo      repository.WorkflowRepository
	workflows *services.WorkflowService
	engine    *services.TransitionEngine
	history   history.Reader
	logger    *logging.Logger
}

func NewServer(repo repository.WorkflowRepository, workflows *services.WorkflowService, engine *services.TransitionEngine, hist history.Reader, logger *logging.Logger) *Server {
	if logger == nil {
		logger = logging.NewNop()
	}
	s := &Server{
		mcpServer: server.NewMCPServer(
			"Admissions Workflow",
			"1.0.0",
			server.WithToolCapabilities(true),
		),
		repo:      repo,
		workflows: workflows,
		engine:    engine,
		history:   hist,
		logger:    logger.Named("mcp"),
	}

	s.registerTools()
	return s
}

func (s *Server) GetMCPServer() *server.MCPServer {
	return s.mcpServer
}

func (s *Server) registerTools() {
	s.mcpServer.AddTool(
		mcp.NewTool(
			"list_workflows",
			mcp.WithDescription("List admissions workflows, optionally filtered"),
			mcp.WithString("application_type", mcp.Description("undergraduate, graduate or transfer")),
			mcp.WithBoolean("active_only", mcp.Description("Only return active workflows")),
		),
		s.handleListWorkflows,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"get_workflow",
			mcp.WithDescription("Get a workflow with its stages and transitions"),
			mcp.WithString("id", mcp.Required(), mcp.Description("The ID of the workflow")),
		),
		s.handleGetWorkflow,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"validate_workflow",
			mcp.WithDescription("Run the structural checks on a workflow"),
			mcp.WithString("id", mcp.Required(), mcp.Description("The ID of the workflow")),
		),
		s.handleValidateWorkflow,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"valid_transitions",
			mcp.WithDescription("List the transitions leaving a stage. When data is given, only those whose conditions hold"),
			mcp.WithString("stage_id", mcp.Required(), mcp.Description("The ID of the stage")),
			mcp.WithString("data", mcp.Description("Application data as a JSON object")),
		),
		s.handleValidTransitions,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"evaluate_transition",
			mcp.WithDescription("Check whether a transition's conditions hold for application data without moving anything"),
			mcp.WithString("transition_id", mcp.Required(), mcp.Description("The ID of the transition")),
			mcp.WithString("data", mcp.Required(), mcp.Description("Application data as a JSON object")),
		),
		s.handleEvaluateTransition,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"evaluate_condition",
			mcp.WithDescription("Evaluate a single condition against application data"),
			mcp.WithString("field", mcp.Required(), mcp.Description("Top-level key, or a JSONPath starting with $")),
			mcp.WithString("operator", mcp.Required(), mcp.Description("Comparison operator such as equals or greater_than")),
			mcp.WithString("value", mcp.Description("Operand as a JSON literal")),
			mcp.WithString("data", mcp.Required(), mcp.Description("Application data as a JSON object")),
		),
		s.handleEvaluateCondition,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"application_history",
			mcp.WithDescription("List the recorded stage changes of an application"),
			mcp.WithString("application_id", mcp.Required(), mcp.Description("The ID of the application")),
		),
		s.handleApplicationHistory,
	)
}

func (s *Server) handleListWorkflows(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	filter := models.WorkflowFilter{
		ApplicationType: models.ApplicationType(request.GetString("application_type", "")),
	}
	if filter.ApplicationType != "" && !filter.ApplicationType.Valid() {
		return mcp.NewToolResultError(fmt.Sprintf("Unknown application_type: %s", filter.ApplicationType)), nil
	}
	if request.GetBool("active_only", false) {
		active := true
		filter.Active = &active
	}

	workflows, err := s.repo.GetAllWorkflows(ctx, filter)
	if err != nil {
		return s.failed("list workflows", err), nil
	}
	return jsonResult(workflows)
}

func (s *Server) handleGetWorkflow(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := request.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	g, err := s.repo.GetWorkflowByID(ctx, id)
	if err != nil {
		return s.failed("get workflow", err), nil
	}
	return jsonResult(g)
}

func (s *Server) handleValidateWorkflow(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := request.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	res, err := s.workflows.ValidateWorkflow(ctx, id)
	if err != nil {
		return s.failed("validate workflow", err), nil
	}
	return jsonResult(res)
}

func (s *Server) handleValidTransitions(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	stageID, err := request.RequireString("stage_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	var ts []*models.Transition
	if raw := request.GetString("data", ""); raw != "" {
		data, err := parseData(raw)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		ts, err = s.engine.GetValidTransitionsForStage(ctx, stageID, data)
		if err != nil {
			return s.failed("list valid transitions", err), nil
		}
	} else {
		ts, err = s.engine.GetTransitionsForStage(ctx, stageID)
		if err != nil {
			return s.failed("list transitions", err), nil
		}
	}
	if ts == nil {
		ts = []*models.Transition{}
	}
	return jsonResult(ts)
}

func (s *Server) handleEvaluateTransition(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	transitionID, err := request.RequireString("transition_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	raw, err := request.RequireString("data")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	data, err := parseData(raw)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	valid, err := s.engine.IsTransitionValid(ctx, transitionID, data)
	if err != nil {
		return s.failed("evaluate transition", err), nil
	}
	return jsonResult(map[string]any{"transition_id": transitionID, "valid": valid})
}

func (s *Server) handleEvaluateCondition(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	field, err := request.RequireString("field")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	op, err := request.RequireString("operator")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	raw, err := request.RequireString("data")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	c := models.Condition{Field: field, Operator: models.Operator(op)}
	if !c.Operator.Valid() {
		return mcp.NewToolResultError(fmt.Sprintf("Unknown operator: %s", op)), nil
	}
	if lit := request.GetString("value", ""); lit != "" {
		if err := json.Unmarshal([]byte(lit), &c.Value); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("value must be a JSON literal: %v", err)), nil
		}
	}
	data, err := parseData(raw)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	return jsonResult(map[string]any{
		"condition": c,
		"actual":    condition.Lookup(data, field),
		"met":       condition.Evaluate(c, data),
	})
}

func (s *Server) handleApplicationHistory(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	appID, err := request.RequireString("application_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if s.history == nil {
		return mcp.NewToolResultError("History is not available"), nil
	}

	records, err := s.history.History(ctx, appID)
	if err != nil {
		return s.failed("read history", err), nil
	}
	if records == nil {
		records = []*models.TransitionRecord{}
	}
	return jsonResult(records)
}

func (s *Server) failed(op string, err error) *mcp.CallToolResult {
	s.logger.Warn("tool call failed", "op", op, "error", err)
	return mcp.NewToolResultError(fmt.Sprintf("Failed to %s: %v", op, err))
}

func parseData(raw string) (models.ApplicationData, error) {
	var data models.ApplicationData
	if err := json.Unmarshal([]byte(raw), &data); err != nil {
		return nil, fmt.Errorf("data must be a JSON object: %w", err)
	}
	return data, nil
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	jsonBytes, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return mcp.NewToolResultText(string(jsonBytes)), nil
}

// MountHTTPHandlers serves the SSE transport under /mcp.
func MountHTTPHandlers(mux *http.ServeMux, mcpServer *server.MCPServer) {
	sseServer := server.NewSSEServer(mcpServer, server.WithStaticBasePath("/mcp"))

	mux.HandleFunc("/mcp", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			sseServer.ServeHTTP(w, r)
			return
		}
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	})

	mux.HandleFunc("/mcp/sse", sseServer.ServeHTTP)
	mux.HandleFunc("/mcp/message", sseServer.ServeHTTP)
}
