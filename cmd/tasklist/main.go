package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/redis/go-redis/v9"

	"github.com/btouchard/tasklist/internal/api"
	apimw "github.com/btouchard/tasklist/internal/api/middleware"
	"github.com/btouchard/tasklist/internal/board"
	"github.com/btouchard/tasklist/internal/config"
	tasklistmcp "github.com/btouchard/tasklist/internal/mcp"
	"github.com/btouchard/tasklist/internal/notify"
	"github.com/btouchard/tasklist/internal/store"
	"github.com/btouchard/tasklist/internal/task"
	"github.com/btouchard/tasklist/internal/tunnel"
)

var version = "dev"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "serve":
		cmdServe(os.Args[2:])
	case "version":
		fmt.Printf("tasklist %s\n", version)
	case "check":
		cmdCheck(os.Args[2:])
	case "hash-token":
		cmdHashToken(os.Args[2:])
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintf(os.Stderr, "Usage: tasklist <command> [flags]\n\n")
	fmt.Fprintf(os.Stderr, "Commands:\n")
	fmt.Fprintf(os.Stderr, "  serve       Start the task list server\n")
	fmt.Fprintf(os.Stderr, "  check       Validate configuration\n")
	fmt.Fprintf(os.Stderr, "  hash-token  Print the token_hash for an MCP API token\n")
	fmt.Fprintf(os.Stderr, "  version     Print version\n")
}

func cmdServe(args []string) {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", "", "path to config file")
	_ = fs.Parse(args) // ExitOnError handles errors

	cfg, err := loadConfig(*configPath)
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	setupLogging(cfg)

	slog.Info("starting tasklist",
		"version", version,
		"host", cfg.Server.Host,
		"port", cfg.Server.Port)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
}

func cmdCheck(args []string) {
	fs := flag.NewFlagSet("check", flag.ExitOnError)
	configPath := fs.String("config", "", "path to config file")
	_ = fs.Parse(args) // ExitOnError handles errors

	_, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("configuration is valid")
}

func cmdHashToken(args []string) {
	if len(args) != 1 || args[0] == "" {
		fmt.Fprintf(os.Stderr, "Usage: tasklist hash-token <token>\n")
		os.Exit(1)
	}
	fmt.Println(apimw.HashToken(args[0]))
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFromFile(path)
	}
	return config.Load()
}

func setupLogging(cfg *config.Config) {
	var level slog.Level
	switch cfg.Server.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	handlers := []slog.Handler{
		slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}),
	}

	if cfg.Server.LogFile != "" {
		f, err := os.OpenFile(cfg.Server.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0640)
		if err != nil {
			slog.Warn("failed to open log file, using stdout only", "path", cfg.Server.LogFile, "error", err)
		} else {
			handlers = append(handlers, slog.NewJSONHandler(f, &slog.HandlerOptions{Level: level}))
		}
	}

	logger := slog.New(slog.NewMultiHandler(handlers...))
	slog.SetDefault(logger)
}

func run(ctx context.Context, cfg *config.Config) error {
	// --- SQLite Store ---
	db, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() { _ = db.Close() }()

	slog.Info("database opened", "path", cfg.Database.Path)

	svc := task.NewService(db, cfg.Tasks.DefaultLimit, cfg.Tasks.MaxLimit)

	// --- Notification pipeline ---
	registry := notify.NewRegistry(
		notify.WithQueueSize(cfg.Realtime.SendQueue),
		notify.WithDrainTimeout(cfg.Realtime.WriteTimeout),
	)
	dispatcher := notify.NewDispatcher()

	relayCtx, stopRelay := context.WithCancel(context.Background())
	defer stopRelay()
	relayDone := make(chan struct{})

	var relay *notify.RedisRelay
	if cfg.Relay.Enabled {
		var client *redis.Client
		relay, client, err = startRelay(ctx, relayCtx, cfg.Relay, registry, relayDone)
		if err != nil {
			return err
		}
		defer func() { _ = client.Close() }()
		dispatcher.AddSink(relay)
	} else {
		close(relayDone)
		dispatcher.AddSink(registry)
	}

	b := board.New(svc, dispatcher)

	// --- MCP Server ---
	var mcpHandler http.Handler
	if cfg.MCP.Enabled {
		mcpServer := tasklistmcp.NewServer(&tasklistmcp.Deps{
			Board:   b,
			Version: version,
		})
		dispatcher.AddSink(notify.NewMCPNotifier(mcpServer))
		mcpHandler = server.NewStreamableHTTPServer(mcpServer)
	}

	dispatchCtx, stopDispatch := context.WithCancel(context.Background())
	defer stopDispatch()
	go dispatcher.Run(dispatchCtx)

	// --- HTTP Router ---
	router := api.NewServer(b, registry, api.Options{
		AllowedOrigins: cfg.Server.AllowedOrigins,
		Realtime:       cfg.Realtime,
		RateLimit:      cfg.RateLimit,
		MCPHandler:     mcpHandler,
		MCPTokens:      cfg.MCP.APITokens,
		Version:        version,
	}).Router()

	// --- HTTP Server ---
	addr := net.JoinHostPort(cfg.Server.Host, fmt.Sprint(cfg.Server.Port))
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      time.Minute,
		IdleTimeout:       2 * time.Minute,
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}

	errCh := make(chan error, 2)
	serve := func(l net.Listener) {
		if err := srv.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}
	go serve(ln)
	slog.Info("tasklist is ready", "addr", addr, "observers_url", "ws://"+addr+"/ws")

	// --- Tunnel ---
	if cfg.Tunnel.Enabled {
		tun := tunnel.NewNgrok(cfg.Tunnel)
		publicURL, err := tun.Start(ctx, addr)
		if err != nil {
			_ = srv.Close()
			return fmt.Errorf("starting tunnel: %w", err)
		}
		defer func() { _ = tun.Close() }()
		go serve(tun.Listener())
		slog.Info("public endpoint", "url", publicURL, "observers_url", tun.ObserverURL())
	}

	select {
	case err := <-errCh:
		_ = srv.Close()
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	slog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	err = srv.Shutdown(shutdownCtx)

	// Requests have drained, so no more publishes: flush what is queued,
	// wait for it to come back through the relay, then drop the observers.
	stopDispatch()
	select {
	case <-dispatcher.Done():
	case <-shutdownCtx.Done():
		slog.Warn("notification flush timed out", "pending", dispatcher.Pending())
	}
	if relay != nil {
		if derr := relay.Drain(shutdownCtx); derr != nil {
			slog.Warn("relay did not drain", "error", derr)
		}
	}
	stopRelay()
	<-relayDone
	registry.Close()

	return err
}

// startRelay connects to Redis and waits for the relay subscription so no
// notification published after startup is missed.
func startRelay(ctx, relayCtx context.Context, cfg config.RelayConfig, registry *notify.Registry, done chan struct{}) (*notify.RedisRelay, *redis.Client, error) {
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, nil, fmt.Errorf("parsing relay.redis_url: %w", err)
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("connecting to redis: %w", err)
	}

	relay := notify.NewRedisRelay(client, cfg.Channel, registry)
	go func() {
		defer close(done)
		relay.Run(relayCtx)
	}()

	select {
	case <-relay.Ready():
	case <-pingCtx.Done():
		_ = client.Close()
		return nil, nil, fmt.Errorf("subscribing to %s: %w", cfg.Channel, pingCtx.Err())
	}

	slog.Info("relay enabled", "channel", cfg.Channel)
	return relay, client, nil
}
