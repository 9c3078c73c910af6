package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kisanshaktiai/kisanshaktiai-tenant-dash-sub004/internal/auth"
	"github.com/kisanshaktiai/kisanshaktiai-tenant-dash-sub004/internal/onboarding"
	"github.com/kisanshaktiai/kisanshaktiai-tenant-dash-sub004/pkg/models"
)

// Engine is the onboarding surface the tools call.
type Engine interface {
	GetCompleteData(ctx context.Context, tenantID string) (*onboarding.CompleteData, error)
	GetProgress(ctx context.Context, tenantID string) (int, error)
	CompleteStep(ctx context.Context, stepID string, data map[string]any, tenantID string) (*models.OnboardingStep, error)
	ValidateIntegrity(ctx context.Context, tenantID string) onboarding.IntegrityReport
}

type Server struct {
	mcpServer *server.MCPServer
	engine    Engine
}

func NewServer(engine Engine) *Server {
	s := &Server{
		mcpServer: server.NewMCPServer(
			"Tenant Onboarding",
			"1.0.0",
			server.WithToolCapabilities(true),
		),
		engine: engine,
	}

	s.registerTools()
	return s
}

func (s *Server) GetMCPServer() *server.MCPServer {
	return s.mcpServer
}

func (s *Server) registerTools() {
	tenantArg := mcp.WithString("tenant_id", mcp.Description("The tenant whose onboarding to use; defaults to the authenticated tenant"))

	s.mcpServer.AddTool(
		mcp.NewTool(
			"onboarding_progress",
			mcp.WithDescription("Get the onboarding completion percentage of a tenant"),
			tenantArg,
		),
		s.handleProgress,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"onboarding_status",
			mcp.WithDescription("Get the onboarding workflow and its ordered steps"),
			tenantArg,
		),
		s.handleStatus,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"complete_onboarding_step",
			mcp.WithDescription("Mark an onboarding step completed"),
			tenantArg,
			mcp.WithString("step_id", mcp.Required(), mcp.Description("The ID of the step")),
			mcp.WithObject("data", mcp.Description("Step data to merge into the step")),
		),
		s.handleCompleteStep,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"validate_onboarding",
			mcp.WithDescription("Check onboarding data integrity, recreating a missing workflow"),
			tenantArg,
		),
		s.handleValidate,
	)
}

// resolveTenant prefers the authenticated tenant and refuses to act for
// another one.
func resolveTenant(ctx context.Context, args map[string]interface{}) (string, error) {
	requested, _ := args["tenant_id"].(string)
	authenticated, ok := auth.TenantIDFromContext(ctx)
	switch {
	case ok && requested != "" && requested != authenticated:
		return "", fmt.Errorf("tenant %s is not accessible", requested)
	case ok:
		return authenticated, nil
	case requested == "":
		return "", errors.New("tenant_id is required")
	}
	return requested, nil
}

func arguments(request mcp.CallToolRequest) (map[string]interface{}, bool) {
	if request.Params.Arguments == nil {
		return map[string]interface{}{}, true
	}
	args, ok := request.Params.Arguments.(map[string]interface{})
	return args, ok
}

func jsonResult(v any) *mcp.CallToolResult {
	jsonBytes, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to encode result: %v", err))
	}
	return mcp.NewToolResultText(string(jsonBytes))
}

func (s *Server) handleProgress(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := arguments(request)
	if !ok {
		return mcp.NewToolResultError("Invalid arguments type"), nil
	}
	tenantID, err := resolveTenant(ctx, args)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	pct, err := s.engine.GetProgress(ctx, tenantID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to get progress: %v", err)), nil
	}
	return jsonResult(map[string]any{"tenant_id": tenantID, "percentage": pct}), nil
}

func (s *Server) handleStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := arguments(request)
	if !ok {
		return mcp.NewToolResultError("Invalid arguments type"), nil
	}
	tenantID, err := resolveTenant(ctx, args)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	data, err := s.engine.GetCompleteData(ctx, tenantID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to get onboarding status: %v", err)), nil
	}
	return jsonResult(data), nil
}

func (s *Server) handleCompleteStep(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := arguments(request)
	if !ok {
		return mcp.NewToolResultError("Invalid arguments type"), nil
	}
	tenantID, err := resolveTenant(ctx, args)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	stepID, ok := args["step_id"].(string)
	if !ok || stepID == "" {
		return mcp.NewToolResultError("Missing required parameter: step_id"), nil
	}
	data, _ := args["data"].(map[string]interface{})

	step, err := s.engine.CompleteStep(ctx, stepID, data, tenantID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to complete step: %v", err)), nil
	}
	return jsonResult(step), nil
}

func (s *Server) handleValidate(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := arguments(request)
	if !ok {
		return mcp.NewToolResultError("Invalid arguments type"), nil
	}
	tenantID, err := resolveTenant(ctx, args)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(s.engine.ValidateIntegrity(ctx, tenantID)), nil
}

// MountHTTPHandlers serves the MCP server over SSE under /mcp. The tenant
// authenticated on the HTTP request is carried into tool calls.
func MountHTTPHandlers(mux *http.ServeMux, mcpServer *server.MCPServer) {
	sseServer := server.NewSSEServer(mcpServer,
		server.WithStaticBasePath("/mcp"),
		server.WithSSEContextFunc(func(ctx context.Context, r *http.Request) context.Context {
			if id, ok := auth.TenantIDFromContext(r.Context()); ok {
				return auth.WithTenantID(ctx, id)
			}
			return ctx
		}),
	)

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
