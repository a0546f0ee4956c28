package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	Logging   LoggingConfig   `yaml:"logging"`
	Bridge    BridgeConfig    `yaml:"bridge"`
	Journal   JournalConfig   `yaml:"journal"`
	Engine    EngineConfig    `yaml:"engine"`
}

type ServerConfig struct {
	Addr string `yaml:"addr"`
}

type WebSocketConfig struct {
	MaxSessions int `yaml:"max_sessions"`
	// IdleTimeout shuts a target down when no client attaches within it.
	IdleTimeout time.Duration `yaml:"idle_timeout"`
	// SendBuffer is the number of outbound messages queued per connection
	// before the connection is dropped as too slow.
	SendBuffer int `yaml:"send_buffer"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
	// File enables rotating file output in addition to stderr.
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
}

type BridgeConfig struct {
	BreakOnStart    bool `yaml:"break_on_start"`
	WaitForDebugger bool `yaml:"wait_for_debugger"`
}

type JournalConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

type EngineConfig struct {
	StatementLimit int `yaml:"statement_limit"`
	CallStackSize  int `yaml:"call_stack_size"`
}

func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr: ":9229",
		},
		WebSocket: WebSocketConfig{
			MaxSessions: 1,
			IdleTimeout: 1 * time.Hour,
			SendBuffer:  256,
		},
		Logging: LoggingConfig{
			Level:      "info",
			MaxSizeMB:  10,
			MaxBackups: 3,
		},
		Journal: JournalConfig{
			Path: "inspector-journal.db",
		},
		Engine: EngineConfig{
			CallStackSize: 256,
		},
	}
}

// Load config from yml
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate rejects values no component can run with.
func (c *Config) Validate() error {
	switch {
	case c.Server.Addr == "":
		return fmt.Errorf("server.addr must be set")
	case c.WebSocket.SendBuffer < 1:
		return fmt.Errorf("websocket.send_buffer must be positive, got %d", c.WebSocket.SendBuffer)
	case c.Engine.StatementLimit < 0:
		return fmt.Errorf("engine.statement_limit must not be negative, got %d", c.Engine.StatementLimit)
	case c.Journal.Enabled && c.Journal.Path == "":
		return fmt.Errorf("journal.path must be set when the journal is enabled")
	}
	return nil
}
