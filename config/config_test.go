package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadFileDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pagesync.yaml")
	data := `
relay:
  record_path: /tmp/rec.db
session:
  frame: 8ms
mirrors:
  - url: https://example.com/
    session: demo
    relay: ws://localhost:8470/ws
sinks:
  - type: webhook
    url: https://hooks.example.com/x
`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}

	if cfg.Relay.Listen != ":8470" || cfg.Relay.RecordPath != "/tmp/rec.db" {
		t.Errorf("relay: got %+v", cfg.Relay)
	}
	if cfg.Session.Frame != 8*time.Millisecond {
		t.Errorf("frame: got %v, want 8ms", cfg.Session.Frame)
	}
	if cfg.Session.ReadyTimeout != 30*time.Second || cfg.Session.MaxBuffer != 1000 {
		t.Errorf("session defaults: got %+v", cfg.Session)
	}
	m := cfg.Mirrors[0]
	if m.ID != "mirror-1" || m.Render != "auto" || m.Width != 1024 || m.Height != 768 {
		t.Errorf("mirror defaults: got %+v", m)
	}
	if cfg.Sinks[0].Retries != 3 {
		t.Errorf("webhook retries: got %d, want 3", cfg.Sinks[0].Retries)
	}
	if cfg.LogLevel != "info" || cfg.Browser.Stealth != "headless" {
		t.Errorf("defaults: log %q stealth %q", cfg.LogLevel, cfg.Browser.Stealth)
	}
}

func TestParseValidation(t *testing.T) {
	data := `
browser:
  stealth: invisible
mirrors:
  - id: m
    render: magic
sinks:
  - type: webhook
  - type: kafka
`
	_, err := Parse([]byte(data))
	if err == nil {
		t.Fatal("Parse: want validation error")
	}
	for _, want := range []string{"browser.stealth", "url is required", "session is required", "render \"magic\"", "webhook url", "unknown type \"kafka\""} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q: missing %q", err, want)
		}
	}
}

func TestParseSyntaxError(t *testing.T) {
	if _, err := Parse([]byte("relay: [")); err == nil {
		t.Error("Parse: want syntax error")
	}
}

func TestLoadFileMissing(t *testing.T) {
	if _, err := LoadFile(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("LoadFile: want error for missing file")
	}
}

func TestDefault(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Errorf("Default().Validate: %v", err)
	}
}

func TestLoadFileTOML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pagesync.toml")
	data := `
log_level = "debug"

[relay]
listen = ":9000"
inject_limit = 20
inject_window = "30s"

[session]
ready_timeout = "5s"

[[mirrors]]
id = "docs"
url = "https://example.com/docs"
session = "demo"
relay = "ws://localhost:9000/ws"
render = "http"
snapshot_interval = "1m"
`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if cfg.LogLevel != "debug" || cfg.Relay.Listen != ":9000" {
		t.Errorf("top level: got %q %q", cfg.LogLevel, cfg.Relay.Listen)
	}
	if cfg.Relay.InjectLimit != 20 || cfg.Relay.InjectWindow != 30*time.Second {
		t.Errorf("inject limit: got %d per %v", cfg.Relay.InjectLimit, cfg.Relay.InjectWindow)
	}
	if cfg.Session.ReadyTimeout != 5*time.Second || cfg.Session.Frame != 16*time.Millisecond {
		t.Errorf("session: got %+v", cfg.Session)
	}
	if len(cfg.Mirrors) != 1 || cfg.Mirrors[0].SnapshotInterval != time.Minute || cfg.Mirrors[0].Width != 1024 {
		t.Errorf("mirrors: got %+v", cfg.Mirrors)
	}
}

func TestParseTOMLValidation(t *testing.T) {
	_, err := ParseTOML([]byte("[[mirrors]]\nid = \"m\"\n"))
	if err == nil || !strings.Contains(err.Error(), "url is required") {
		t.Errorf("ParseTOML: got %v, want url error", err)
	}
}
