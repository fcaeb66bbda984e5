package mcp

import (
	"context"
	"encoding/json"

	mcplib "github.com/mark3labs/mcp-go/mcp"

	"github.com/Strob0t/TaskForge/internal/domain/download"
)

// DownloadsURI is the resource holding the current download list.
const DownloadsURI = "taskforge://downloads"

// registerResources registers all MCP resources on the server.
func (s *Server) registerResources() {
	s.mcpServer.AddResource(
		mcplib.NewResource(
			DownloadsURI,
			"Downloads",
			mcplib.WithResourceDescription("Status of every known download"),
			mcplib.WithMIMEType("application/json"),
		),
		s.handleDownloadsResource,
	)
}

func (s *Server) handleDownloadsResource(_ context.Context, req mcplib.ReadResourceRequest) ([]mcplib.ResourceContents, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	text := `{"error":"download manager not configured"}`
	if s.deps.Downloads != nil {
		list := s.deps.Downloads.List()
		if list == nil {
			list = []download.Status{}
		}
		data, err := json.Marshal(list)
		if err != nil {
			return nil, err
		}
		text = string(data)
	}
	return []mcplib.ResourceContents{
		mcplib.TextResourceContents{
			URI:      req.Params.URI,
			MIMEType: "application/json",
			Text:     text,
		},
	}, nil
}
