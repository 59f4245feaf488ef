package config

import "time"

// Config is the root configuration for the tasklist server.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Tasks     TasksConfig     `yaml:"tasks"`
	Realtime  RealtimeConfig  `yaml:"realtime"`
	Relay     RelayConfig     `yaml:"relay"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	MCP       MCPConfig       `yaml:"mcp"`
	Tunnel    TunnelConfig    `yaml:"tunnel"`
}

type ServerConfig struct {
	Host           string   `yaml:"host"`
	Port           int      `yaml:"port"`
	PublicURL      string   `yaml:"public_url"`
	LogLevel       string   `yaml:"log_level"`
	LogFile        string   `yaml:"log_file"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// TasksConfig bounds list responses.
type TasksConfig struct {
	DefaultLimit int `yaml:"default_limit"`
	MaxLimit     int `yaml:"max_limit"`
}

// RealtimeConfig tunes observer WebSocket connections.
type RealtimeConfig struct {
	WriteTimeout time.Duration `yaml:"write_timeout"`
	PingInterval time.Duration `yaml:"ping_interval"`
	PongTimeout  time.Duration `yaml:"pong_timeout"`
	ReadLimit    int64         `yaml:"read_limit"`
	SendQueue    int           `yaml:"send_queue"`
}

// RelayConfig enables cross-process fan-out through Redis pub/sub.
type RelayConfig struct {
	Enabled  bool   `yaml:"enabled"`
	RedisURL string `yaml:"redis_url"`
	Channel  string `yaml:"channel"`
}

type RateLimitConfig struct {
	RequestsPerMinute int `yaml:"requests_per_minute"`
	Burst             int `yaml:"burst"`
}

type MCPConfig struct {
	Enabled   bool            `yaml:"enabled"`
	APITokens []APITokenEntry `yaml:"api_tokens"`
}

// APITokenEntry is a static bearer token accepted on /mcp. Only the
// SHA-256 hex digest of the token is kept in configuration.
type APITokenEntry struct {
	Name      string `yaml:"name"`
	TokenHash string `yaml:"token_hash"`
}

type TunnelConfig struct {
	Enabled   bool   `yaml:"enabled"`
	AuthToken string `yaml:"authtoken"`
	Domain    string `yaml:"domain"`
}

// Defaults returns a Config with sensible default values.
func Defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Host:     "127.0.0.1",
			Port:     8000,
			LogLevel: "info",
			AllowedOrigins: []string{
				"http://localhost:3000",
				"http://127.0.0.1:3000",
			},
		},
		Database: DatabaseConfig{
			Path: "./tasks.db",
		},
		Tasks: TasksConfig{
			DefaultLimit: 100,
			MaxLimit:     1000,
		},
		Realtime: RealtimeConfig{
			WriteTimeout: 10 * time.Second,
			PingInterval: 30 * time.Second,
			PongTimeout:  60 * time.Second,
			ReadLimit:    4096,
			SendQueue:    64,
		},
		Relay: RelayConfig{
			RedisURL: "redis://localhost:6379/0",
			Channel:  "tasklist:notifications",
		},
		RateLimit: RateLimitConfig{
			RequestsPerMinute: 600,
			Burst:             100,
		},
		MCP: MCPConfig{
			Enabled: true,
		},
	}
}
