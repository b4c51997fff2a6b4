package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/sirupsen/logrus"
)

func defaultConfig() *Config {
	return &Config{
		Server:    ServerConfig{Addr: ":8080", Path: "/ws"},
		RateLimit: RateLimitConfig{Enabled: true, MessagesPerSecond: 100, Burst: 200},
		Log:       LogConfig{Level: "info"},
	}
}

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "tether.yaml"), []byte(contents), 0o644); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	return dir
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if diff := cmp.Diff(defaultConfig(), cfg); diff != "" {
		t.Errorf("Load() returned unexpected config; diff:\n%s", diff)
	}
}

func TestLoad_File(t *testing.T) {
	dir := writeConfig(t, `
server:
  addr: "127.0.0.1:9000"
rate_limit:
  enabled: false
log:
  level: debug
time_sync:
  interval: 2s
scripts:
  handlers: handlers.lua
`)

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	want := defaultConfig()
	want.Server.Addr = "127.0.0.1:9000"
	want.RateLimit.Enabled = false
	want.Log.Level = "debug"
	want.TimeSync.Interval = 2 * time.Second
	want.Scripts.Handlers = "handlers.lua"

	if diff := cmp.Diff(want, cfg); diff != "" {
		t.Errorf("Load() returned unexpected config; diff:\n%s", diff)
	}
}

func TestLoad_Environment(t *testing.T) {
	dir := writeConfig(t, "server:\n  addr: \":9000\"\n")
	t.Setenv("TETHER_SERVER_ADDR", ":9100")
	t.Setenv("TETHER_RATE_LIMIT_BURST", "5")
	t.Setenv("TETHER_TIME_SYNC_INTERVAL", "500ms")

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Addr != ":9100" {
		t.Errorf("Server.Addr want = %s, got = %s", ":9100", cfg.Server.Addr)
	}
	if cfg.RateLimit.Burst != 5 {
		t.Errorf("RateLimit.Burst want = %d, got = %d", 5, cfg.RateLimit.Burst)
	}
	if cfg.TimeSync.Interval != 500*time.Millisecond {
		t.Errorf("TimeSync.Interval want = %v, got = %v", 500*time.Millisecond, cfg.TimeSync.Interval)
	}
}

func TestLoad_Errors(t *testing.T) {
	if _, err := Load(t.TempDir()); err == nil {
		t.Error("Load() of a directory without tether.yaml should fail")
	}

	dir := writeConfig(t, "server: [")
	if _, err := Load(dir); err == nil {
		t.Error("Load() of invalid yaml should fail")
	}
}

func TestNewLogger(t *testing.T) {
	cfg := defaultConfig()
	cfg.Log.Level = "warn"
	cfg.Log.FilePath = filepath.Join(t.TempDir(), "tether.log")

	logger, err := NewLogger(cfg)
	if err != nil {
		t.Fatalf("NewLogger() error = %v", err)
	}
	if logger.Level != logrus.WarnLevel {
		t.Errorf("Level want = %v, got = %v", logrus.WarnLevel, logger.Level)
	}

	logger.Info("hidden")
	logger.Warn("shown")

	contents, err := os.ReadFile(cfg.Log.FilePath)
	if err != nil {
		t.Fatalf("reading log file: %v", err)
	}
	if strings.Contains(string(contents), "hidden") || !strings.Contains(string(contents), "shown") {
		t.Errorf("unexpected log contents: %s", contents)
	}
}

func TestNewLogger_BadLevel(t *testing.T) {
	cfg := defaultConfig()
	cfg.Log.Level = "loud"
	cfg.Log.FilePath = filepath.Join(t.TempDir(), "tether.log")

	if _, err := NewLogger(cfg); err == nil {
		t.Error("NewLogger() with an unknown level should fail")
	}
	if _, err := os.Stat(cfg.Log.FilePath); !os.IsNotExist(err) {
		t.Errorf("log file opened despite an invalid level; stat error = %v", err)
	}
}
