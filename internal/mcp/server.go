package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"seasonplan/backend/internal/orchestrator"
	"seasonplan/backend/internal/types"
	"seasonplan/backend/pkg/models"
)

type Server struct {
	mcpServer *server.MCPServer
	orch      *orchestrator.Orchestrator
}

func NewServer(orch *orchestrator.Orchestrator) *Server {
	s := &Server{
		mcpServer: server.NewMCPServer(
			"Season Planner",
			"1.0.0",
			server.WithToolCapabilities(true),
		),
		orch: orch,
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
			"create_workflow",
			mcp.WithDescription("Create and start a season planning workflow"),
			mcp.WithNumber("total_units", mcp.Required(), mcp.Description("Total season buy in units")),
			mcp.WithNumber("horizon_weeks", mcp.Required(), mcp.Description("Season length in weeks (1-52)")),
			mcp.WithString("replenishment", mcp.Required(), mcp.Description("Replenishment cadence: weekly or none")),
			mcp.WithNumber("dc_holdback", mcp.Required(), mcp.Description("DC holdback fraction in [0, 1)")),
			mcp.WithNumber("store_count", mcp.Description("Number of stores; defaults to 100")),
			mcp.WithNumber("markdown_checkpoint_week", mcp.Description("Week of the markdown checkpoint; 0 or absent for none")),
			mcp.WithNumber("markdown_threshold", mcp.Description("Sell-through threshold at the checkpoint, in (0, 1]")),
		),
		s.handleCreateWorkflow,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"get_workflow_status",
			mcp.WithDescription("Get the status of a planning workflow"),
			mcp.WithString("workflow_id", mcp.Required(), mcp.Description("The workflow ID")),
		),
		s.handleGetStatus,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"get_artifact",
			mcp.WithDescription("Get the artifact a pipeline agent produced for a workflow"),
			mcp.WithString("workflow_id", mcp.Required(), mcp.Description("The workflow ID")),
			mcp.WithString("agent", mcp.Required(), mcp.Description("The agent name, e.g. forecast or allocation")),
		),
		s.handleGetArtifact,
	)
}

func (s *Server) handleCreateWorkflow(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return mcp.NewToolResultError("Invalid arguments type"), nil
	}

	totalUnits, ok := args["total_units"].(float64)
	if !ok {
		return mcp.NewToolResultError("Missing required parameter: total_units"), nil
	}
	horizonWeeks, ok := args["horizon_weeks"].(float64)
	if !ok {
		return mcp.NewToolResultError("Missing required parameter: horizon_weeks"), nil
	}
	replenishment, ok := args["replenishment"].(string)
	if !ok || replenishment == "" {
		return mcp.NewToolResultError("Missing required parameter: replenishment"), nil
	}
	dcHoldback, ok := args["dc_holdback"].(float64)
	if !ok {
		return mcp.NewToolResultError("Missing required parameter: dc_holdback"), nil
	}

	params := models.SeasonParameters{
		TotalUnits:    int(totalUnits),
		HorizonWeeks:  int(horizonWeeks),
		Replenishment: models.Replenishment(replenishment),
		DCHoldback:    dcHoldback,
	}
	if v, ok := args["store_count"].(float64); ok {
		params.StoreCount = int(v)
	}
	if v, ok := args["markdown_checkpoint_week"].(float64); ok {
		params.MarkdownCheckpointWeek = int(v)
	}
	if v, ok := args["markdown_threshold"].(float64); ok {
		params.MarkdownThreshold = v
	}

	workflow, err := s.orch.CreateWorkflow(ctx, params)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to create workflow: %v", err)), nil
	}

	jsonBytes, _ := json.Marshal(map[string]any{
		"id":     workflow.ID,
		"status": workflow.Status,
	})
	return mcp.NewToolResultText(string(jsonBytes)), nil
}

func (s *Server) handleGetStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return mcp.NewToolResultError("Invalid arguments type"), nil
	}

	rawID, ok := args["workflow_id"].(string)
	if !ok || rawID == "" {
		return mcp.NewToolResultError("Missing required parameter: workflow_id"), nil
	}
	id, err := types.ParseID(rawID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Invalid workflow_id: %v", err)), nil
	}

	status, err := s.orch.GetStatus(ctx, id)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to get status: %v", err)), nil
	}

	jsonBytes, _ := json.Marshal(status)
	return mcp.NewToolResultText(string(jsonBytes)), nil
}

func (s *Server) handleGetArtifact(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return mcp.NewToolResultError("Invalid arguments type"), nil
	}

	rawID, ok := args["workflow_id"].(string)
	if !ok || rawID == "" {
		return mcp.NewToolResultError("Missing required parameter: workflow_id"), nil
	}
	agent, ok := args["agent"].(string)
	if !ok || agent == "" {
		return mcp.NewToolResultError("Missing required parameter: agent"), nil
	}
	id, err := types.ParseID(rawID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Invalid workflow_id: %v", err)), nil
	}

	artifact, err := s.orch.GetArtifact(ctx, id, agent)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to get artifact: %v", err)), nil
	}

	jsonBytes, _ := json.Marshal(artifact)
	return mcp.NewToolResultText(string(jsonBytes)), nil
}

func MountHTTPHandlers(mux *http.ServeMux, mcpServer *server.MCPServer) {
	// Use SSE server for /mcp/sse and /mcp/message endpoints
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
