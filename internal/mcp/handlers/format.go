package handlers

import (
	"errors"
	"fmt"
	"html"
	"log/slog"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/btouchard/tasklist/internal/task"
)

func statusIcon(s task.Status) string {
	switch s {
	case task.StatusTodo:
		return "📝"
	case task.StatusInProgress:
		return "🔄"
	case task.StatusDone:
		return "✅"
	default:
		return "❓"
	}
}

// formatTask renders one task. Stored text is HTML-escaped, so it is
// unescaped for display.
func formatTask(sb *strings.Builder, t task.Task) {
	fmt.Fprintf(sb, "%s **#%d %s** — %s\n", statusIcon(t.Status), t.ID, html.UnescapeString(t.Title), t.Status.Label())
	fmt.Fprintf(sb, "  Assignee: %s\n", html.UnescapeString(t.Assignee))
	fmt.Fprintf(sb, "  Description: %s\n", html.UnescapeString(t.Description))
	fmt.Fprintf(sb, "  Created: %s", t.CreatedAt.Format("2006-01-02 15:04:05 UTC"))
	if t.UpdatedAt != nil {
		fmt.Fprintf(sb, " | Updated: %s", t.UpdatedAt.Format("2006-01-02 15:04:05 UTC"))
	}
	sb.WriteString("\n")
}

// toolError turns a service error into an MCP error result.
func toolError(err error) *mcp.CallToolResult {
	var ve *task.ValidationError
	switch {
	case errors.As(err, &ve):
		return mcp.NewToolResultError(fmt.Sprintf("Invalid input: %s", ve.Error()))
	case errors.Is(err, task.ErrNotFound):
		return mcp.NewToolResultError("Task not found")
	default:
		slog.Error("mcp tool failed", "error", err)
		return mcp.NewToolResultError(fmt.Sprintf("Internal error: %s", err))
	}
}

// taskIDArg reads the required numeric task_id argument.
func taskIDArg(args map[string]any) (int64, bool) {
	v, ok := args["task_id"].(float64)
	if !ok || v < 1 || v != float64(int64(v)) {
		return 0, false
	}
	return int64(v), true
}
