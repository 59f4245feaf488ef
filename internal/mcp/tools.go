package mcp

import (
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/btouchard/tasklist/internal/mcp/handlers"
)

var statusValues = []string{"To Do", "In Progress", "Done"}

func registerTools(s *server.MCPServer, deps *Deps) {
	// list_tasks: List tasks, newest first
	s.AddTool(
		mcp.NewTool("list_tasks",
			mcp.WithDescription("List tasks on the shared board, newest first."),
			mcp.WithString("status",
				mcp.Description("Filter by status"),
				mcp.Enum(append([]string{"all"}, statusValues...)...),
			),
			mcp.WithString("search",
				mcp.Description("Case-insensitive substring match on the title"),
			),
			mcp.WithNumber("skip",
				mcp.Description("Number of tasks to skip"),
			),
			mcp.WithNumber("limit",
				mcp.Description("Maximum number of tasks to return (default: 20)"),
			),
		),
		handlers.ListTasks(deps.Board),
	)

	// get_task: Show one task
	s.AddTool(
		mcp.NewTool("get_task",
			mcp.WithDescription("Show a single task."),
			mcp.WithNumber("task_id",
				mcp.Required(),
				mcp.Description("The task ID"),
			),
		),
		handlers.GetTask(deps.Board),
	)

	// create_task: Add a task to To Do
	s.AddTool(
		mcp.NewTool("create_task",
			mcp.WithDescription("Create a task in the To Do column. Everyone watching the board sees it immediately."),
			mcp.WithString("title",
				mcp.Required(),
				mcp.Description("Short title (max 200 characters)"),
			),
			mcp.WithString("description",
				mcp.Required(),
				mcp.Description("What needs to be done (max 1000 characters)"),
			),
			mcp.WithString("assignee",
				mcp.Required(),
				mcp.Description("Who owns the task (max 100 characters)"),
			),
		),
		handlers.CreateTask(deps.Board),
	)

	// update_task_status: Move a task between columns
	s.AddTool(
		mcp.NewTool("update_task_status",
			mcp.WithDescription("Move a task to another column."),
			mcp.WithNumber("task_id",
				mcp.Required(),
				mcp.Description("The task ID"),
			),
			mcp.WithString("status",
				mcp.Required(),
				mcp.Description("New status"),
				mcp.Enum(statusValues...),
			),
		),
		handlers.UpdateTaskStatus(deps.Board),
	)

	// delete_task: Remove a task
	s.AddTool(
		mcp.NewTool("delete_task",
			mcp.WithDescription("Delete a task from the board."),
			mcp.WithNumber("task_id",
				mcp.Required(),
				mcp.Description("The task ID"),
			),
		),
		handlers.DeleteTask(deps.Board),
	)
}
