// Package mcp exposes the project store as MCP tools over stdio, so
// editor agents can browse and manage built projects.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/vibeagents/vibe/internal/models"
	"github.com/vibeagents/vibe/internal/store"
)

// Server wraps the vibe data layer and exposes it as MCP tools.
type Server struct {
	store store.Store
}

// NewServer creates the MCP server wrapper.
func NewServer(s store.Store) *Server {
	return &Server{store: s}
}

// MCPServer returns a configured mcp-go server with all tools registered.
func (s *Server) MCPServer(version string) *server.MCPServer {
	srv := server.NewMCPServer("vibe", version, server.WithToolCapabilities(true))

	srv.AddTool(s.listProjectsTool())
	srv.AddTool(s.getProjectTool())
	srv.AddTool(s.deleteProjectTool())

	return srv
}

// ServeStdio starts the stdio transport, blocking until ctx is cancelled.
func (s *Server) ServeStdio(ctx context.Context, version string) error {
	stdioServer := server.NewStdioServer(s.MCPServer(version))
	return stdioServer.Listen(ctx, os.Stdin, os.Stdout)
}

type projectOut struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Directory   string `json:"directory"`
	Status      string `json:"status"`
	FileCount   int    `json:"file_count"`
	UpdatedAt   string `json:"updated_at"`
}

func projectToOut(p *models.Project) projectOut {
	return projectOut{
		ID:          p.ID,
		Name:        p.Name,
		Description: p.Description,
		Directory:   p.Directory,
		Status:      string(p.Status),
		FileCount:   p.FileCount,
		UpdatedAt:   p.UpdatedAt.Format(time.RFC3339),
	}
}

// vibe_list_projects
func (s *Server) listProjectsTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("vibe_list_projects",
		mcp.WithDescription("List built projects. Returns a JSON array with id, name, description, directory, status, and file count."),
		mcp.WithString("status", mcp.Description("Filter by status: active or archived (default active)")),
	)
	return tool, s.handleListProjects
}

func (s *Server) handleListProjects(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	status := models.ProjectStatus(request.GetString("status", ""))
	projects, err := s.store.ListProjects(ctx, status, 0)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to list projects: %v", err)), nil
	}

	out := make([]projectOut, len(projects))
	for i, p := range projects {
		out[i] = projectToOut(p)
	}

	data, err := json.Marshal(out)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal projects: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

// vibe_get_project
func (s *Server) getProjectTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("vibe_get_project",
		mcp.WithDescription("Get one project by name, including its build plan."),
		mcp.WithString("name", mcp.Required(), mcp.Description("Project name")),
	)
	return tool, s.handleGetProject
}

func (s *Server) handleGetProject(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name, err := request.RequireString("name")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: name"), nil
	}

	p, err := s.store.GetProjectByName(ctx, name)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("project not found: %s", name)), nil
	}

	out := map[string]any{"project": projectToOut(p)}
	if p.PlanJSON != "" {
		var plan models.Plan
		if err := json.Unmarshal([]byte(p.PlanJSON), &plan); err == nil {
			out["plan"] = plan
		}
	}

	data, err := json.Marshal(out)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal project: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

// vibe_delete_project
func (s *Server) deleteProjectTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("vibe_delete_project",
		mcp.WithDescription("Soft-delete a project by name. The project directory on disk is left untouched."),
		mcp.WithString("name", mcp.Required(), mcp.Description("Project name")),
	)
	return tool, s.handleDeleteProject
}

func (s *Server) handleDeleteProject(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name, err := request.RequireString("name")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: name"), nil
	}

	p, err := s.store.GetProjectByName(ctx, name)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("project not found: %s", name)), nil
	}
	if err := s.store.DeleteProject(ctx, p.ID); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to delete project: %v", err)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf(`{"deleted":%q}`, p.ID)), nil
}
