package tunnel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"

	ngroklib "golang.ngrok.com/ngrok"
	ngrokconfig "golang.ngrok.com/ngrok/config"

	"github.com/btouchard/tasklist/internal/config"
)

// ErrMissingAuthToken is returned by Start when no ngrok token is configured.
var ErrMissingAuthToken = errors.New("ngrok auth token is required (set tunnel.authtoken or TASKLIST_NGROK_AUTHTOKEN)")

// NgrokTunnel publishes the board through an ngrok HTTPS endpoint. The
// same listener carries REST, WebSocket observers and MCP.
type NgrokTunnel struct {
	cfg      config.TunnelConfig
	listener net.Listener
	url      string
}

// NewNgrok creates a tunnel from configuration. Nothing is dialled until Start.
func NewNgrok(cfg config.TunnelConfig) *NgrokTunnel {
	return &NgrokTunnel{cfg: cfg}
}

// Start opens the ngrok endpoint and returns its public URL.
// localAddr is only logged; ngrok hands connections to Listener directly.
func (n *NgrokTunnel) Start(ctx context.Context, localAddr string) (string, error) {
	if n.cfg.AuthToken == "" {
		return "", ErrMissingAuthToken
	}

	slog.Info("starting ngrok tunnel", "local_addr", localAddr, "domain", n.cfg.Domain)

	listener, err := ngroklib.Listen(ctx, n.endpoint(), ngroklib.WithAuthtoken(n.cfg.AuthToken))
	if err != nil {
		return "", fmt.Errorf("creating ngrok tunnel: %w", err)
	}

	n.listener = listener
	n.url = publicURL(listener.Addr().String())

	slog.Info("ngrok tunnel established", "public_url", n.url)
	return n.url, nil
}

func (n *NgrokTunnel) endpoint() ngrokconfig.Tunnel {
	if n.cfg.Domain != "" {
		return ngrokconfig.HTTPEndpoint(ngrokconfig.WithDomain(n.cfg.Domain))
	}
	return ngrokconfig.HTTPEndpoint()
}

// Close shuts the endpoint down. Closing an unstarted tunnel is a no-op.
func (n *NgrokTunnel) Close() error {
	if n.listener == nil {
		return nil
	}

	slog.Info("closing ngrok tunnel", "public_url", n.url)

	if err := n.listener.Close(); err != nil {
		return fmt.Errorf("closing ngrok tunnel: %w", err)
	}

	n.listener = nil
	n.url = ""
	return nil
}

// PublicURL returns the HTTPS URL, or "" before Start.
func (n *NgrokTunnel) PublicURL() string {
	return n.url
}

// ObserverURL returns the public WebSocket URL observers connect to.
func (n *NgrokTunnel) ObserverURL() string {
	if n.url == "" {
		return ""
	}
	return "wss://" + strings.TrimPrefix(n.url, "https://") + "/ws"
}

// Listener returns the listener the HTTP server should Serve on.
func (n *NgrokTunnel) Listener() net.Listener {
	return n.listener
}

// publicURL makes sure the listener address carries a scheme.
func publicURL(addr string) string {
	if strings.HasPrefix(addr, "http://") || strings.HasPrefix(addr, "https://") {
		return addr
	}
	return "https://" + addr
}
