package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/gorilla/websocket"

	apimw "github.com/btouchard/tasklist/internal/api/middleware"
	"github.com/btouchard/tasklist/internal/board"
	"github.com/btouchard/tasklist/internal/config"
	"github.com/btouchard/tasklist/internal/notify"
)

const maxBodyBytes = 64 << 10

// Options configures the request surface.
type Options struct {
	AllowedOrigins []string
	Realtime       config.RealtimeConfig
	RateLimit      config.RateLimitConfig
	// MCPHandler, when set, is mounted on /mcp behind MCPTokens.
	MCPHandler http.Handler
	MCPTokens  []config.APITokenEntry
	Version    string
}

// Server exposes the board over REST and pushes notifications to
// WebSocket observers registered in the registry.
type Server struct {
	board    *board.Board
	registry *notify.Registry
	opts     Options
	upgrader websocket.Upgrader
}

// NewServer creates a Server.
func NewServer(b *board.Board, reg *notify.Registry, opts Options) *Server {
	s := &Server{board: b, registry: reg, opts: opts}
	s.upgrader = websocket.Upgrader{
		HandshakeTimeout: 10 * time.Second,
		ReadBufferSize:   1024,
		WriteBufferSize:  4096,
		CheckOrigin:      s.checkOrigin,
	}
	return s
}

// Router builds the HTTP handler.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(apimw.AccessLog)
	r.Use(chimw.Recoverer)
	r.Use(chimw.StripSlashes)
	r.Use(apimw.SecurityHeaders)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.opts.AllowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	limit := apimw.RateLimit(s.opts.RateLimit)

	r.Route("/api/tasks", func(r chi.Router) {
		r.Get("/", s.handleList)
		r.Get("/{id}", s.handleGet)
		r.With(limit).Post("/", s.handleCreate)
		r.With(limit).Patch("/{id}", s.handleUpdate)
		r.With(limit).Delete("/{id}", s.handleDelete)
	})

	r.Get("/ws", s.handleObserver)

	if s.opts.MCPHandler != nil {
		r.Group(func(r chi.Router) {
			r.Use(limit)
			r.Use(apimw.BearerAuth(s.opts.MCPTokens))
			r.Handle("/mcp", s.opts.MCPHandler)
		})
	}

	r.Get("/", s.handleRoot)
	r.Get("/health", s.handleHealth)

	return r
}
