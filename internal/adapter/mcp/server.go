// Package mcp exposes task control to MCP clients over streamable HTTP.
package mcp

import (
	"context"
	"net/http"

	mcplib "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/Strob0t/TaskForge/internal/domain/download"
	"github.com/Strob0t/TaskForge/internal/domain/task"
)

// EndpointPath is where the streamable HTTP transport is mounted.
const EndpointPath = "/mcp"

// ServerConfig holds the identity reported to MCP clients.
type ServerConfig struct {
	Name    string
	Version string
}

// TaskRunner is the subset of the task service the MCP tools use.
type TaskRunner interface {
	List(ctx context.Context, limit int) ([]task.Run, error)
	Get(ctx context.Context, id string) (*task.Run, error)
	Stop(ctx context.Context, id string) error
	RunCommand(ctx context.Context, req task.CommandRequest) (*task.Run, error)
}

// DownloadLister reports the current download statuses.
type DownloadLister interface {
	List() []download.Status
}

// ServerDeps are the collaborators of the MCP server. Nil dependencies make
// the corresponding tools report an error.
type ServerDeps struct {
	Tasks     TaskRunner
	Downloads DownloadLister
}

// Server wraps an mcp-go server with the TaskForge tools and resources.
type Server struct {
	deps      ServerDeps
	mcpServer *mcpserver.MCPServer
}

// NewServer creates a server and registers its tools and resources.
func NewServer(cfg ServerConfig, deps ServerDeps) *Server {
	s := &Server{
		deps: deps,
		mcpServer: mcpserver.NewMCPServer(cfg.Name, cfg.Version,
			mcpserver.WithToolCapabilities(false),
			mcpserver.WithResourceCapabilities(false, false),
			mcpserver.WithRecovery(),
		),
	}
	s.registerTools()
	s.registerResources()
	return s
}

// MCPServer returns the underlying mcp-go server.
func (s *Server) MCPServer() *mcpserver.MCPServer {
	return s.mcpServer
}

// Handler returns the streamable HTTP transport, served at EndpointPath.
func (s *Server) Handler() http.Handler {
	return mcpserver.NewStreamableHTTPServer(s.mcpServer,
		mcpserver.WithEndpointPath(EndpointPath),
	)
}

func toolResultJSON(text string) *mcplib.CallToolResult {
	return mcplib.NewToolResultText(text)
}
