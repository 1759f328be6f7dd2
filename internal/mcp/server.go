package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"agencyflow/backend/internal/engine"
	"agencyflow/backend/internal/ledger"
	"agencyflow/backend/internal/repository"
	"agencyflow/backend/pkg/models"
)

// Server exposes workflow operations as MCP tools so that agent runtimes can
// drive executions directly. Tools carry an explicit tenant_id argument
// because MCP clients do not pass through the HTTP auth middleware.
type Server struct {
	mcpServer *server.MCPServer
	repo      repository.Repository
	ledger    ledger.Ledger
	engine    *engine.Engine
}

func NewServer(repo repository.Repository, led ledger.Ledger, eng *engine.Engine) *Server {
	s := &Server{
		mcpServer: server.NewMCPServer(
			"AgencyFlow Workflows",
			"1.0.0",
			server.WithToolCapabilities(true),
		),
		repo:   repo,
		ledger: led,
		engine: eng,
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
			"run_workflow",
			mcp.WithDescription("Start an execution of the latest version of a workflow"),
			mcp.WithString("tenant_id", mcp.Required(), mcp.Description("Tenant that owns the workflow")),
			mcp.WithString("workflow_id", mcp.Required(), mcp.Description("Stable workflow identifier")),
			mcp.WithString("input", mcp.Description("JSON object passed to the workflow as input")),
		),
		s.handleRunWorkflow,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"get_execution",
			mcp.WithDescription("Fetch an execution including its step results"),
			mcp.WithString("tenant_id", mcp.Required(), mcp.Description("Tenant that owns the execution")),
			mcp.WithString("execution_id", mcp.Required(), mcp.Description("The ID of the execution")),
		),
		s.handleGetExecution,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"list_workflows",
			mcp.WithDescription("List the latest version of every workflow for a tenant"),
			mcp.WithString("tenant_id", mcp.Required(), mcp.Description("Tenant to list workflows for")),
		),
		s.handleListWorkflows,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"credit_balance",
			mcp.WithDescription("Report the available credit balance for a tenant"),
			mcp.WithString("tenant_id", mcp.Required(), mcp.Description("Tenant to report the balance for")),
		),
		s.handleCreditBalance,
	)
}

func (s *Server) handleRunWorkflow(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return mcp.NewToolResultError("Invalid arguments type"), nil
	}

	tenantID, ok := args["tenant_id"].(string)
	if !ok || tenantID == "" {
		return mcp.NewToolResultError("Missing required parameter: tenant_id"), nil
	}
	workflowID, ok := args["workflow_id"].(string)
	if !ok || workflowID == "" {
		return mcp.NewToolResultError("Missing required parameter: workflow_id"), nil
	}

	var input map[string]interface{}
	if raw, ok := args["input"].(string); ok && raw != "" {
		if err := json.Unmarshal([]byte(raw), &input); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("Invalid input JSON: %v", err)), nil
		}
	}

	wf, err := s.repo.GetWorkflow(ctx, tenantID, workflowID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to load workflow: %v", err)), nil
	}
	if len(wf.Steps) == 0 {
		return mcp.NewToolResultError("Workflow has no steps"), nil
	}

	exec := &models.Execution{
		TenantID:          tenantID,
		WorkflowID:        wf.WorkflowID,
		WorkflowVersionID: wf.ID,
		Status:            models.ExecutionPending,
		Input:             input,
	}
	if err := s.repo.CreateExecution(ctx, exec); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to create execution: %v", err)), nil
	}

	s.engine.Dispatch(exec.ID)

	jsonBytes, _ := json.Marshal(map[string]string{"id": exec.ID, "status": string(exec.Status)})
	return mcp.NewToolResultText(string(jsonBytes)), nil
}

func (s *Server) handleGetExecution(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return mcp.NewToolResultError("Invalid arguments type"), nil
	}

	tenantID, ok := args["tenant_id"].(string)
	if !ok || tenantID == "" {
		return mcp.NewToolResultError("Missing required parameter: tenant_id"), nil
	}
	id, ok := args["execution_id"].(string)
	if !ok || id == "" {
		return mcp.NewToolResultError("Missing required parameter: execution_id"), nil
	}

	exec, err := s.repo.GetExecution(ctx, id)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to load execution: %v", err)), nil
	}
	// executions are never visible cross-tenant
	if exec.TenantID != tenantID {
		return mcp.NewToolResultError("Execution not found"), nil
	}
	steps, err := s.repo.ListStepResults(ctx, id)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to load step results: %v", err)), nil
	}
	exec.Steps = make([]models.StepResult, 0, len(steps))
	for _, step := range steps {
		exec.Steps = append(exec.Steps, *step)
	}

	jsonBytes, _ := json.Marshal(exec)
	return mcp.NewToolResultText(string(jsonBytes)), nil
}

func (s *Server) handleListWorkflows(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return mcp.NewToolResultError("Invalid arguments type"), nil
	}

	tenantID, ok := args["tenant_id"].(string)
	if !ok || tenantID == "" {
		return mcp.NewToolResultError("Missing required parameter: tenant_id"), nil
	}

	workflows, err := s.repo.ListWorkflows(ctx, tenantID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to list workflows: %v", err)), nil
	}

	jsonBytes, _ := json.Marshal(workflows)
	return mcp.NewToolResultText(string(jsonBytes)), nil
}

func (s *Server) handleCreditBalance(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return mcp.NewToolResultError("Invalid arguments type"), nil
	}

	tenantID, ok := args["tenant_id"].(string)
	if !ok || tenantID == "" {
		return mcp.NewToolResultError("Missing required parameter: tenant_id"), nil
	}

	balance, err := s.ledger.Balance(ctx, tenantID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to read balance: %v", err)), nil
	}

	jsonBytes, _ := json.Marshal(map[string]interface{}{"tenant_id": tenantID, "balance": balance})
	return mcp.NewToolResultText(string(jsonBytes)), nil
}

func MountHTTPHandlers(mux *http.ServeMux, mcpServer *server.MCPServer) {
	// Use SSE server for /mcp/sse and /mcp/message endpoints
	sseServer := server.NewSSEServer(mcpServer, server.WithStaticBasePath("/mcp"))

	mux.HandleFunc("/mcp", func(w http.ResponseWriter, r *http.Request) {
		// Direct POST for tool calls
		if r.Method == http.MethodPost {
			sseServer.ServeHTTP(w, r)
			return
		}
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	})

	// SSE endpoints
	mux.HandleFunc("/mcp/sse", sseServer.ServeHTTP)
	mux.HandleFunc("/mcp/message", sseServer.ServeHTTP)
}
