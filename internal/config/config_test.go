package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

const minimalYAML = `
telegram:
  token: "123:abc"
directory:
  path: "./relay.db"
logging:
  level: "INFO"
  console: true
  file:
    enabled: false
    path: ""
server:
  host: "127.0.0.1"
  port: 9090
`

func TestLoadYAMLWithDefaults(t *testing.T) {
	path := writeConfig(t, "config.yaml", minimalYAML)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Telegram.Token != "123:abc" {
		t.Fatalf("Token = %q", cfg.Telegram.Token)
	}
	if cfg.Relay.MaxMessageLength != DefaultMaxMessageLength {
		t.Fatalf("MaxMessageLength = %d, want default %d", cfg.Relay.MaxMessageLength, DefaultMaxMessageLength)
	}
	if cfg.Telegram.SendRatePerSec != DefaultSendRatePerSec {
		t.Fatalf("SendRatePerSec = %d, want default %d", cfg.Telegram.SendRatePerSec, DefaultSendRatePerSec)
	}
	if got, want := cfg.Addr(), "127.0.0.1:9090"; got != want {
		t.Fatalf("Addr = %q, want %q", got, want)
	}
	if cfg.Maintenance.ProbeSchedule != "@every 1m" {
		t.Fatalf("ProbeSchedule = %q, want default", cfg.Maintenance.ProbeSchedule)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	path := writeConfig(t, "config.yaml", minimalYAML)

	t.Setenv("BOT_TOKEN", "456:def")
	t.Setenv("MAX_MESSAGE_LENGTH", "1000")
	t.Setenv("DATABASE_PATH", "/tmp/other.db")
	t.Setenv("HOST_IP", "0.0.0.0")
	t.Setenv("SERVER_PORT", "8088")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Telegram.Token != "456:def" {
		t.Fatalf("Token = %q, want env override", cfg.Telegram.Token)
	}
	if cfg.Relay.MaxMessageLength != 1000 {
		t.Fatalf("MaxMessageLength = %d, want 1000", cfg.Relay.MaxMessageLength)
	}
	if cfg.Directory.Path != "/tmp/other.db" {
		t.Fatalf("Directory.Path = %q, want env override", cfg.Directory.Path)
	}
	if got, want := cfg.Addr(), "0.0.0.0:8088"; got != want {
		t.Fatalf("Addr = %q, want %q", got, want)
	}
}

func TestLoadRejectsMalformedEnvOverrides(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{name: "max message length", key: "MAX_MESSAGE_LENGTH", value: "lots"},
		{name: "server port", key: "SERVER_PORT", value: "80eighty"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeConfig(t, "config.yaml", minimalYAML)
			t.Setenv(tt.key, tt.value)
			if _, err := Load(path); err == nil {
				t.Fatalf("expected error for %s=%q", tt.key, tt.value)
			}
		})
	}
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	path := writeConfig(t, "config.yaml", minimalYAML+`
bogus_section:
  x: 1
`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for unknown config section")
	}
}

func TestLoadValidation(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{
			name: "missing token",
			yaml: `
directory:
  path: "./relay.db"
logging:
  level: "INFO"
  console: true
  file:
    enabled: false
    path: ""
`,
		},
		{
			name: "missing directory path",
			yaml: `
telegram:
  token: "123:abc"
logging:
  level: "INFO"
  console: true
  file:
    enabled: false
    path: ""
`,
		},
		{
			name: "bad duration",
			yaml: `
telegram:
  token: "123:abc"
  poll_timeout: "soon"
directory:
  path: "./relay.db"
logging:
  level: "INFO"
  console: true
  file:
    enabled: false
    path: ""
`,
		},
		{
			name: "port out of range",
			yaml: `
telegram:
  token: "123:abc"
directory:
  path: "./relay.db"
logging:
  level: "INFO"
  console: true
  file:
    enabled: false
    path: ""
server:
  host: "127.0.0.1"
  port: 70000
`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeConfig(t, "config.yaml", tt.yaml)
			if _, err := Load(path); err == nil {
				t.Fatal("expected load error")
			}
		})
	}
}

func TestLoadJSON(t *testing.T) {
	path := writeConfig(t, "config.json", `{
  "telegram": {"token": "123:abc", "send_timeout": "5s"},
  "directory": {"path": "./relay.db"},
  "logging": {"level": "DEBUG", "console": true, "file": {"enabled": false, "path": ""}}
}`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	d, err := ParseDurationOrDefault("telegram.send_timeout", cfg.Telegram.SendTimeout, 0)
	if err != nil {
		t.Fatalf("ParseDurationOrDefault: %v", err)
	}
	if d.Seconds() != 5 {
		t.Fatalf("send_timeout = %v, want 5s", d)
	}
}
