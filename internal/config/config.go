// Package config loads the relaygate process configuration.
//
// Configuration comes from a JSON or YAML file, with a small set of
// environment overrides applied on top (BOT_TOKEN, MAX_MESSAGE_LENGTH,
// DATABASE_PATH, HOST_IP, SERVER_PORT, LOG_LEVEL). A .env file next to the
// working directory is honored when present.
//
// Config is read once at startup and treated as immutable afterwards.
package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Telegram    TelegramConfig    `json:"telegram"`
	Server      ServerConfig      `json:"server"`
	Directory   DirectoryConfig   `json:"directory"`
	Relay       RelayConfig       `json:"relay"`
	Logging     LoggingConfig     `json:"logging"`
	Maintenance MaintenanceConfig `json:"maintenance,omitempty"`
}

type TelegramConfig struct {
	Token string `json:"token"`
	// PollTimeout is a Go duration string (e.g. "10s", "2m").
	PollTimeout string `json:"poll_timeout,omitempty"`
	// SendTimeout bounds a single delivery attempt. Default "10s".
	SendTimeout string `json:"send_timeout,omitempty"`
	// SendRatePerSec throttles outgoing deliveries. Default 25.
	SendRatePerSec int `json:"send_rate_per_sec,omitempty"`
}

type ServerConfig struct {
	Host string `json:"host"`
	Port int    `json:"port"`

	// Server timeouts are Go duration strings. Zero values keep net/http defaults.
	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
	IdleTimeout  string `json:"idle_timeout,omitempty"`
}

type DirectoryConfig struct {
	Path string `json:"path"`
	// BusyTimeout is a Go duration string (sqlite busy_timeout pragma).
	BusyTimeout string `json:"busy_timeout,omitempty"`
}

type RelayConfig struct {
	// MaxMessageLength caps the message field of /send. Default 4096.
	MaxMessageLength int `json:"max_message_length,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type MaintenanceConfig struct {
	Enabled bool `json:"enabled"`
	// ProbeSchedule is a cron spec or "@every <dur>". Default "@every 1m".
	ProbeSchedule string `json:"probe_schedule,omitempty"`
}

const (
	DefaultMaxMessageLength = 4096
	DefaultSendRatePerSec   = 25
)

// Load reads, decodes, overrides and validates the config at path.
func Load(path string) (*Config, error) {
	// Best-effort .env, to mirror local development setups.
	_ = godotenv.Load()

	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	jb, format, err := coerceToJSONBytes(path, b)
	if err != nil {
		return nil, err
	}

	dec := json.NewDecoder(bytes.NewReader(jb))
	dec.DisallowUnknownFields()
	var cfg Config
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode config (%s): %w", format, err)
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyEnv overlays environment overrides on top of the decoded file.
// A malformed numeric override is an error, not a silent fallback.
func (c *Config) applyEnv() error {
	if v := strings.TrimSpace(os.Getenv("BOT_TOKEN")); v != "" {
		c.Telegram.Token = v
	}
	if v := strings.TrimSpace(os.Getenv("MAX_MESSAGE_LENGTH")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("MAX_MESSAGE_LENGTH: invalid integer %q: %w", v, err)
		}
		c.Relay.MaxMessageLength = n
	}
	if v := strings.TrimSpace(os.Getenv("DATABASE_PATH")); v != "" {
		c.Directory.Path = v
	}
	if v := strings.TrimSpace(os.Getenv("HOST_IP")); v != "" {
		c.Server.Host = v
	}
	if v := strings.TrimSpace(os.Getenv("SERVER_PORT")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("SERVER_PORT: invalid integer %q: %w", v, err)
		}
		c.Server.Port = n
	}
	if v := strings.TrimSpace(os.Getenv("LOG_LEVEL")); v != "" {
		c.Logging.Level = v
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.Relay.MaxMessageLength == 0 {
		c.Relay.MaxMessageLength = DefaultMaxMessageLength
	}
	if c.Telegram.SendRatePerSec == 0 {
		c.Telegram.SendRatePerSec = DefaultSendRatePerSec
	}
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Maintenance.ProbeSchedule == "" {
		c.Maintenance.ProbeSchedule = "@every 1m"
	}
}

func (c *Config) Validate() error {
	if strings.TrimSpace(c.Telegram.Token) == "" {
		return fmt.Errorf("telegram.token (or BOT_TOKEN) is required")
	}
	if strings.TrimSpace(c.Directory.Path) == "" {
		return fmt.Errorf("directory.path (or DATABASE_PATH) is required")
	}
	if c.Relay.MaxMessageLength <= 0 {
		return fmt.Errorf("relay.max_message_length must be > 0")
	}
	if c.Telegram.SendRatePerSec < 0 {
		return fmt.Errorf("telegram.send_rate_per_sec must be >= 0")
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be in 1..65535")
	}
	for _, d := range []struct{ path, raw string }{
		{"telegram.poll_timeout", c.Telegram.PollTimeout},
		{"telegram.send_timeout", c.Telegram.SendTimeout},
		{"directory.busy_timeout", c.Directory.BusyTimeout},
		{"server.read_timeout", c.Server.ReadTimeout},
		{"server.write_timeout", c.Server.WriteTimeout},
		{"server.idle_timeout", c.Server.IdleTimeout},
	} {
		if _, err := ParseDurationOrDefault(d.path, d.raw, 0); err != nil {
			return err
		}
	}
	return nil
}

// ParseDurationOrDefault parses a Go duration string and returns def when raw
// is empty. The path is used for error context only.
func ParseDurationOrDefault(path, raw string, def time.Duration) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return def, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", path, raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: duration must be >= 0", path)
	}
	return d, nil
}

// Addr returns the host:port bind address for the HTTP server.
func (c *Config) Addr() string {
	return c.Server.Host + ":" + strconv.Itoa(c.Server.Port)
}
