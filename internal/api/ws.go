package api

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// wsConn adapts a WebSocket to notify.Conn.
type wsConn struct {
	id           string
	ws           *websocket.Conn
	writeTimeout time.Duration

	writeMu   sync.Mutex
	closeOnce sync.Once
	closed    chan struct{}
}

func newWSConn(ws *websocket.Conn, writeTimeout time.Duration) *wsConn {
	return &wsConn{
		id:           uuid.NewString(),
		ws:           ws,
		writeTimeout: writeTimeout,
		closed:       make(chan struct{}),
	}
}

func (c *wsConn) ID() string { return c.id }

// Send writes one text frame. The write gives up after writeTimeout or at
// the ctx deadline, whichever comes first.
func (c *wsConn) Send(ctx context.Context, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	deadline := time.Now().Add(c.writeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.ws.SetWriteDeadline(deadline); err != nil {
		return err
	}
	return c.ws.WriteMessage(websocket.TextMessage, payload)
}

func (c *wsConn) ping() error {
	return c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.writeTimeout))
}

// Close sends a close frame and releases the socket. Safe to call more than once.
func (c *wsConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closed)
		msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "")
		_ = c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		err = c.ws.Close()
	})
	return err
}

// handleObserver upgrades the request and keeps the observer registered
// until the peer goes away.
func (s *Server) handleObserver(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Debug("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	rt := s.opts.Realtime
	c := newWSConn(ws, rt.WriteTimeout)
	s.registry.Register(c)
	defer func() {
		s.registry.Deregister(c)
		_ = c.Close()
	}()

	go s.keepAlive(c)

	ws.SetReadLimit(rt.ReadLimit)
	_ = ws.SetReadDeadline(time.Now().Add(rt.PongTimeout))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(rt.PongTimeout))
	})

	for {
		_, msg, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				slog.Debug("observer read failed", "conn_id", c.id, "error", err)
			}
			return
		}
		_ = ws.SetReadDeadline(time.Now().Add(rt.PongTimeout))
		slog.Debug("observer message ignored", "conn_id", c.id, "bytes", len(msg))
	}
}

// keepAlive pings the peer until the connection closes. A failed ping
// drops the observer.
func (s *Server) keepAlive(c *wsConn) {
	ticker := time.NewTicker(s.opts.Realtime.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.closed:
			return
		case <-ticker.C:
			if err := c.ping(); err != nil {
				slog.Debug("observer ping failed", "conn_id", c.id, "error", err)
				s.registry.Deregister(c)
				return
			}
		}
	}
}

// checkOrigin accepts same-origin requests, requests without an Origin
// header, and any configured CORS origin.
func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	if slices.Contains(s.opts.AllowedOrigins, "*") || slices.Contains(s.opts.AllowedOrigins, origin) {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	if strings.EqualFold(u.Host, r.Host) {
		return true
	}
	slog.Warn("websocket origin rejected", "origin", origin)
	return false
}
