package handlers

import (
	"context"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/btouchard/tasklist/internal/board"
	"github.com/btouchard/tasklist/internal/task"
)

const defaultListLimit = 20

// ListTasks returns a handler that lists tasks with optional filters.
func ListTasks(b *board.Board) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := req.GetArguments()

		filter := task.Filter{
			Limit: defaultListLimit,
		}

		if status, ok := args["status"].(string); ok && status != "" && status != "all" {
			s, err := task.ParseStatus(status)
			if err != nil {
				return toolError(err), nil
			}
			filter.Status = s
		}
		if search, ok := args["search"].(string); ok {
			filter.Search = search
		}
		if skip, ok := args["skip"].(float64); ok && skip > 0 {
			filter.Offset = int(skip)
		}
		if limit, ok := args["limit"].(float64); ok && limit > 0 {
			filter.Limit = int(limit)
		}

		tasks, err := b.List(ctx, filter)
		if err != nil {
			return toolError(err), nil
		}

		if len(tasks) == 0 {
			return mcp.NewToolResultText("No tasks found matching the given filters."), nil
		}

		var sb strings.Builder
		fmt.Fprintf(&sb, "📋 Tasks (%d found)\n\n", len(tasks))
		for _, t := range tasks {
			formatTask(&sb, t)
			sb.WriteString("\n")
		}

		return mcp.NewToolResultText(sb.String()), nil
	}
}
