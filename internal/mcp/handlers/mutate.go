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

// CreateTask returns a handler that adds a task to the To Do column.
// Connected observers are notified through the board.
func CreateTask(b *board.Board) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := req.GetArguments()

		in := task.CreateInput{}
		in.Title, _ = args["title"].(string)
		in.Description, _ = args["description"].(string)
		in.Assignee, _ = args["assignee"].(string)

		t, err := b.Create(ctx, in)
		if err != nil {
			return toolError(err), nil
		}

		var sb strings.Builder
		sb.WriteString("Task created\n\n")
		formatTask(&sb, t)
		return mcp.NewToolResultText(sb.String()), nil
	}
}

// UpdateTaskStatus returns a handler that moves a task to another column.
func UpdateTaskStatus(b *board.Board) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := req.GetArguments()

		id, ok := taskIDArg(args)
		if !ok {
			return mcp.NewToolResultError("task_id is required"), nil
		}
		raw, _ := args["status"].(string)
		if raw == "" {
			return mcp.NewToolResultError("status is required"), nil
		}
		status, err := task.ParseStatus(raw)
		if err != nil {
			return toolError(err), nil
		}

		t, err := b.SetStatus(ctx, id, status)
		if err != nil {
			return toolError(err), nil
		}

		var sb strings.Builder
		sb.WriteString("Task updated\n\n")
		formatTask(&sb, t)
		return mcp.NewToolResultText(sb.String()), nil
	}
}

// DeleteTask returns a handler that removes a task.
func DeleteTask(b *board.Board) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, ok := taskIDArg(req.GetArguments())
		if !ok {
			return mcp.NewToolResultError("task_id is required"), nil
		}

		if err := b.Delete(ctx, id); err != nil {
			return toolError(err), nil
		}
		return mcp.NewToolResultText(fmt.Sprintf("Task #%d deleted", id)), nil
	}
}
