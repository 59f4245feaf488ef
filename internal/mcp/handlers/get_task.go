package handlers

import (
	"context"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/btouchard/tasklist/internal/board"
)

// GetTask returns a handler that shows a single task.
func GetTask(b *board.Board) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, ok := taskIDArg(req.GetArguments())
		if !ok {
			return mcp.NewToolResultError("task_id is required"), nil
		}

		t, err := b.Get(ctx, id)
		if err != nil {
			return toolError(err), nil
		}

		var sb strings.Builder
		formatTask(&sb, t)
		return mcp.NewToolResultText(sb.String()), nil
	}
}
