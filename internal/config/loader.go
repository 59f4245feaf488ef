package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

const sqliteURLPrefix = "sqlite:///"

// searchPaths returns the ordered list of config file locations to try.
func searchPaths() []string {
	paths := []string{
		"/etc/tasklist/tasklist.yaml",
	}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "tasklist", "tasklist.yaml"))
	}

	paths = append(paths, "tasklist.yaml")

	if envPath := os.Getenv("TASKLIST_CONFIG"); envPath != "" {
		paths = append(paths, envPath)
	}

	return paths
}

// Load reads configuration from YAML files and environment variables.
// Files are loaded in order (each overrides the previous):
// /etc/tasklist/tasklist.yaml < ~/.config/tasklist/tasklist.yaml < ./tasklist.yaml < $TASKLIST_CONFIG
func Load() (*Config, error) {
	cfg := Defaults()

	for _, path := range searchPaths() {
		if err := loadFile(cfg, path); err != nil {
			return nil, fmt.Errorf("loading config %s: %w", path, err)
		}
	}

	return finish(cfg)
}

// LoadFromFile reads configuration from a specific file path.
func LoadFromFile(path string) (*Config, error) {
	cfg := Defaults()

	if err := loadFile(cfg, path); err != nil {
		return nil, fmt.Errorf("loading config %s: %w", path, err)
	}

	return finish(cfg)
}

func finish(cfg *Config) (*Config, error) {
	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables have higher priority than YAML config values.
func applyEnvOverrides(cfg *Config) error {
	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		path, err := sqlitePathFromURL(dbURL)
		if err != nil {
			return fmt.Errorf("DATABASE_URL: %w", err)
		}
		cfg.Database.Path = path
	}
	if redisURL := os.Getenv("TASKLIST_REDIS_URL"); redisURL != "" {
		cfg.Relay.RedisURL = redisURL
		cfg.Relay.Enabled = true
	}
	if token := os.Getenv("TASKLIST_NGROK_AUTHTOKEN"); token != "" {
		cfg.Tunnel.AuthToken = token
	}
	return nil
}

// sqlitePathFromURL turns "sqlite:///./tasks.db" into "./tasks.db" and
// "sqlite:////var/lib/tasks.db" into "/var/lib/tasks.db".
func sqlitePathFromURL(raw string) (string, error) {
	if !strings.HasPrefix(raw, sqliteURLPrefix) {
		return "", fmt.Errorf("only sqlite:/// URLs are supported, got %q", raw)
	}
	path := strings.TrimPrefix(raw, sqliteURLPrefix)
	if path == "" {
		return "", fmt.Errorf("missing database path in %q", raw)
	}
	return path, nil
}

func loadFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path) //nolint:gosec // path comes from trusted config search paths
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading file: %w", err)
	}

	slog.Debug("loading config file", "path", path)

	expanded := os.ExpandEnv(string(data))

	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return fmt.Errorf("parsing YAML: %w", err)
	}

	return nil
}

// ExpandHome replaces a leading ~ with the user's home directory.
func ExpandHome(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[1:])
}

func validate(cfg *Config) error {
	if cfg.Server.Port < 1 || cfg.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535, got %d", cfg.Server.Port)
	}

	switch cfg.Server.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("server.log_level must be one of debug, info, warn, error, got %q", cfg.Server.LogLevel)
	}

	if cfg.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}

	if cfg.Tasks.MaxLimit < 1 {
		return fmt.Errorf("tasks.max_limit must be at least 1")
	}
	if cfg.Tasks.DefaultLimit < 1 || cfg.Tasks.DefaultLimit > cfg.Tasks.MaxLimit {
		return fmt.Errorf("tasks.default_limit must be between 1 and tasks.max_limit (%d), got %d",
			cfg.Tasks.MaxLimit, cfg.Tasks.DefaultLimit)
	}

	rt := cfg.Realtime
	if rt.WriteTimeout <= 0 {
		return fmt.Errorf("realtime.write_timeout must be positive")
	}
	if rt.PingInterval <= 0 || rt.PongTimeout <= rt.PingInterval {
		return fmt.Errorf("realtime.pong_timeout (%s) must exceed realtime.ping_interval (%s)", rt.PongTimeout, rt.PingInterval)
	}
	if rt.ReadLimit < 1 {
		return fmt.Errorf("realtime.read_limit must be at least 1")
	}
	if rt.SendQueue < 1 {
		return fmt.Errorf("realtime.send_queue must be at least 1")
	}

	if cfg.Relay.Enabled {
		if cfg.Relay.RedisURL == "" {
			return fmt.Errorf("relay.redis_url is required when the relay is enabled")
		}
		if cfg.Relay.Channel == "" {
			return fmt.Errorf("relay.channel is required when the relay is enabled")
		}
	}

	if cfg.RateLimit.RequestsPerMinute < 0 || cfg.RateLimit.Burst < 0 {
		return fmt.Errorf("rate_limit values must not be negative")
	}

	for i, tok := range cfg.MCP.APITokens {
		if len(tok.TokenHash) != 64 {
			return fmt.Errorf("mcp.api_tokens[%d] (%s): token_hash must be a hex SHA-256 digest", i, tok.Name)
		}
	}

	if cfg.Tunnel.Enabled && cfg.Tunnel.AuthToken == "" {
		return fmt.Errorf("tunnel.authtoken is required when the tunnel is enabled (or set TASKLIST_NGROK_AUTHTOKEN)")
	}

	cfg.Database.Path = ExpandHome(cfg.Database.Path)
	cfg.Server.PublicURL = strings.TrimRight(cfg.Server.PublicURL, "/")

	return nil
}
