package tunnel

import (
	"context"
	"net"
)

// Tunnel exposes the local server via a public HTTPS URL.
type Tunnel interface {
	Start(ctx context.Context, localAddr string) (publicURL string, err error)
	Close() error
	PublicURL() string
	ObserverURL() string
	Listener() net.Listener
}

var _ Tunnel = (*NgrokTunnel)(nil)
