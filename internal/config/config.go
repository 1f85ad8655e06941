package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config defines client configuration.
type Config struct {
	API       APIConfig       `yaml:"api"`
	Push      PushConfig      `yaml:"push"`
	Session   SessionConfig   `yaml:"session"`
	Sync      SyncConfig      `yaml:"sync"`
	DB        DBConfig        `yaml:"db"`
	Log       LogConfig       `yaml:"log"`
	Transport TransportConfig `yaml:"transport"`
	Server    ServerConfig    `yaml:"server"`
}

type APIConfig struct {
	BaseURL    string        `yaml:"base_url"`
	Token      string        `yaml:"token"`
	Timeout    time.Duration `yaml:"timeout"`
	MaxRetries int           `yaml:"max_retries"`
}

// PushConfig selects the push transport. Mode is "websocket", "mqtt" or
// "none".
type PushConfig struct {
	Mode     string `yaml:"mode"`
	URL      string `yaml:"url"`
	ClientID string `yaml:"client_id"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Topic    string `yaml:"topic_prefix"`
}

type SessionConfig struct {
	UserID   string `yaml:"user_id"`
	UserName string `yaml:"user_name"`
	Role     string `yaml:"role"`
}

type SyncConfig struct {
	CoalesceWindow    time.Duration `yaml:"coalesce_window"`
	TranscriptCadence time.Duration `yaml:"transcript_cadence"`
	MatchTolerance    time.Duration `yaml:"match_tolerance"`
	MaxPasses         int           `yaml:"max_passes"`
}

type DBConfig struct {
	Path string `yaml:"path"`
}

type LogConfig struct {
	Level string `yaml:"level"`
	Path  string `yaml:"path"`
}

// TransportConfig selects how MCP clients reach the server: "stdio" or
// "http".
type TransportConfig struct {
	Mode string `yaml:"mode"`
}

type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		API: APIConfig{
			BaseURL: "http://localhost:3000",
			Timeout: 30 * time.Second,
		},
		Push: PushConfig{
			Mode:  "websocket",
			Topic: "desk",
		},
		Session: SessionConfig{
			Role: "agent",
		},
		Sync: SyncConfig{
			CoalesceWindow:    300 * time.Millisecond,
			TranscriptCadence: 250 * time.Millisecond,
			MatchTolerance:    2 * time.Minute,
			MaxPasses:         3,
		},
		DB: DBConfig{
			Path: "desksync.db",
		},
		Log: LogConfig{
			Level: "info",
		},
		Transport: TransportConfig{
			Mode: "stdio",
		},
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8080,
		},
	}
}

// Load reads configuration from an optional YAML file and environment
// variables and validates it.
func Load() (Config, error) {
	cfg, err := Read()
	if err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Read is Load without validation, for callers that apply further
// overrides first.
func Read() (Config, error) {
	cfg := Default()

	if path := os.Getenv("DESKSYNC_CONFIG_PATH"); path != "" {
		if err := loadFromFile(path, &cfg); err != nil {
			return Config{}, err
		}
	}
	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks values that have no usable fallback.
func (c Config) Validate() error {
	switch c.Push.Mode {
	case "websocket", "mqtt", "none":
	default:
		return fmt.Errorf("invalid push mode %q", c.Push.Mode)
	}
	switch c.Transport.Mode {
	case "stdio", "http":
	default:
		return fmt.Errorf("invalid transport mode %q", c.Transport.Mode)
	}
	switch c.Session.Role {
	case "agent", "customer", "supervisor", "admin":
	default:
		return fmt.Errorf("invalid session role %q", c.Session.Role)
	}
	if c.API.BaseURL == "" {
		return fmt.Errorf("api base_url is required")
	}
	if c.Push.Mode != "none" && c.Push.URL == "" {
		return fmt.Errorf("push url is required for push mode %q", c.Push.Mode)
	}
	if c.Sync.MaxPasses < 0 {
		return fmt.Errorf("sync max_passes must not be negative")
	}
	return nil
}

func applyEnv(cfg *Config) error {
	strs := map[string]*string{
		"DESKSYNC_API_BASE_URL":   &cfg.API.BaseURL,
		"DESKSYNC_API_TOKEN":      &cfg.API.Token,
		"DESKSYNC_PUSH_MODE":      &cfg.Push.Mode,
		"DESKSYNC_PUSH_URL":       &cfg.Push.URL,
		"DESKSYNC_PUSH_CLIENT_ID": &cfg.Push.ClientID,
		"DESKSYNC_PUSH_USERNAME":  &cfg.Push.Username,
		"DESKSYNC_PUSH_PASSWORD":  &cfg.Push.Password,
		"DESKSYNC_USER_ID":        &cfg.Session.UserID,
		"DESKSYNC_USER_NAME":      &cfg.Session.UserName,
		"DESKSYNC_USER_ROLE":      &cfg.Session.Role,
		"DESKSYNC_DB_PATH":        &cfg.DB.Path,
		"DESKSYNC_LOG_LEVEL":      &cfg.Log.Level,
		"DESKSYNC_LOG_PATH":       &cfg.Log.Path,
		"DESKSYNC_TRANSPORT":      &cfg.Transport.Mode,
		"DESKSYNC_SERVER_HOST":    &cfg.Server.Host,
	}
	for key, dst := range strs {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}

	ints := map[string]*int{
		"DESKSYNC_SERVER_PORT":     &cfg.Server.Port,
		"DESKSYNC_API_MAX_RETRIES": &cfg.API.MaxRetries,
		"DESKSYNC_SYNC_MAX_PASSES": &cfg.Sync.MaxPasses,
	}
	for key, dst := range ints {
		if v := os.Getenv(key); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("invalid %s: %w", key, err)
			}
			*dst = n
		}
	}

	durations := map[string]*time.Duration{
		"DESKSYNC_API_TIMEOUT":        &cfg.API.Timeout,
		"DESKSYNC_COALESCE_WINDOW":    &cfg.Sync.CoalesceWindow,
		"DESKSYNC_TRANSCRIPT_CADENCE": &cfg.Sync.TranscriptCadence,
		"DESKSYNC_MATCH_TOLERANCE":    &cfg.Sync.MatchTolerance,
	}
	for key, dst := range durations {
		if v := os.Getenv(key); v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				return fmt.Errorf("invalid %s: %w", key, err)
			}
			*dst = d
		}
	}
	return nil
}

func loadFromFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config file: %w", err)
	}
	return nil
}
