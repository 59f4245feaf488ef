package notify

import (
	"context"
)

// MCPSender abstracts the mcp-go server notification method.
// Defined consumer-side per Go convention.
type MCPSender interface {
	SendNotificationToAllClients(method string, params map[string]any)
}

// MCPNotifier pushes task notifications to connected MCP clients as
// notifications/message log entries.
type MCPNotifier struct {
	sender MCPSender
}

// NewMCPNotifier creates an MCPNotifier.
func NewMCPNotifier(sender MCPSender) *MCPNotifier {
	return &MCPNotifier{sender: sender}
}

// Deliver implements Sink.
func (m *MCPNotifier) Deliver(_ context.Context, n Notification) error {
	env, err := n.envelope()
	if err != nil {
		return err
	}

	m.sender.SendNotificationToAllClients("notifications/message", map[string]any{
		"level":  "info",
		"logger": "tasklist",
		"data":   env,
	})
	return nil
}
