package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	mcplib "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/Strob0t/TaskForge/internal/domain/task"
)

const defaultListLimit = 50

// registerTools registers all MCP tools on the server.
func (s *Server) registerTools() {
	s.mcpServer.AddTools(
		s.listTasksTool(),
		s.getTaskTool(),
		s.stopTaskTool(),
		s.runCommandTool(),
	)
}

func (s *Server) listTasksTool() mcpserver.ServerTool {
	tool := mcplib.NewTool("list_tasks",
		mcplib.WithDescription("List recent task runs, newest first"),
		mcplib.WithNumber("limit",
			mcplib.Description("Maximum number of runs to return (default 50)"),
		),
	)
	return mcpserver.ServerTool{Tool: tool, Handler: s.handleListTasks}
}

func (s *Server) getTaskTool() mcpserver.ServerTool {
	tool := mcplib.NewTool("get_task",
		mcplib.WithDescription("Get a task run by ID"),
		mcplib.WithString("task_id",
			mcplib.Required(),
			mcplib.Description("The task run ID"),
		),
	)
	return mcpserver.ServerTool{Tool: tool, Handler: s.handleGetTask}
}

func (s *Server) stopTaskTool() mcpserver.ServerTool {
	tool := mcplib.NewTool("stop_task",
		mcplib.WithDescription("Stop a running task"),
		mcplib.WithString("task_id",
			mcplib.Required(),
			mcplib.Description("The task run ID"),
		),
	)
	return mcpserver.ServerTool{Tool: tool, Handler: s.handleStopTask}
}

func (s *Server) runCommandTool() mcpserver.ServerTool {
	tool := mcplib.NewTool("run_command",
		mcplib.WithDescription("Start an external command as a task and return its run record"),
		mcplib.WithArray("args",
			mcplib.Required(),
			mcplib.Description("Command path followed by its arguments"),
			mcplib.Items(map[string]any{"type": "string"}),
		),
	)
	return mcpserver.ServerTool{Tool: tool, Handler: s.handleRunCommand}
}

func (s *Server) handleListTasks(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	if s.deps.Tasks == nil {
		return mcplib.NewToolResultError("task service not configured"), nil
	}
	limit := req.GetInt("limit", defaultListLimit)
	if limit < 1 {
		limit = defaultListLimit
	}
	runs, err := s.deps.Tasks.List(ctx, limit)
	if err != nil {
		return mcplib.NewToolResultErrorFromErr("failed to list tasks", err), nil
	}
	if runs == nil {
		runs = []task.Run{}
	}
	return marshalResult(runs)
}

func (s *Server) handleGetTask(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	if s.deps.Tasks == nil {
		return mcplib.NewToolResultError("task service not configured"), nil
	}
	id := req.GetString("task_id", "")
	if id == "" {
		return mcplib.NewToolResultError("task_id is required"), nil
	}
	r, err := s.deps.Tasks.Get(ctx, id)
	if err != nil {
		return mcplib.NewToolResultErrorFromErr(fmt.Sprintf("failed to get task %s", id), err), nil
	}
	return marshalResult(r)
}

func (s *Server) handleStopTask(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	if s.deps.Tasks == nil {
		return mcplib.NewToolResultError("task service not configured"), nil
	}
	id := req.GetString("task_id", "")
	if id == "" {
		return mcplib.NewToolResultError("task_id is required"), nil
	}
	if err := s.deps.Tasks.Stop(ctx, id); err != nil {
		return mcplib.NewToolResultErrorFromErr(fmt.Sprintf("failed to stop task %s", id), err), nil
	}
	return toolResultJSON(fmt.Sprintf(`{"id":%q,"status":"stopping"}`, id)), nil
}

func (s *Server) handleRunCommand(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	if s.deps.Tasks == nil {
		return mcplib.NewToolResultError("task service not configured"), nil
	}
	raw, _ := req.GetArguments()["args"].([]any)
	args := make([]string, 0, len(raw))
	for _, a := range raw {
		str, ok := a.(string)
		if !ok {
			return mcplib.NewToolResultError("args must be strings"), nil
		}
		args = append(args, str)
	}
	r, err := s.deps.Tasks.RunCommand(ctx, task.CommandRequest{Args: args})
	if err != nil {
		return mcplib.NewToolResultErrorFromErr("failed to start command", err), nil
	}
	return marshalResult(r)
}

func marshalResult(v any) (*mcplib.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcplib.NewToolResultErrorFromErr("failed to marshal result", err), nil
	}
	return toolResultJSON(string(data)), nil
}
