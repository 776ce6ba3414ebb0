package config

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("TASKFLOW_ENV_FILE", filepath.Join(dir, "missing.env"))
	t.Setenv("TASKFLOW_CONFIG_FILE", "")
	for _, key := range []string{"API_ADDR", "REDIS_URL", "CACHE_PREFIX", "CACHE_LIST_TTL_SECONDS", "PUSH_WORKERS", "S3_USE_SSL", "LOG_LEVEL"} {
		t.Setenv(key, "")
	}
	return dir
}

func TestLoadDefaults(t *testing.T) {
	isolate(t)
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Addr != ":8787" || cfg.CachePrefix != "taskflow" || cfg.AccessTTL != 900*time.Second {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
	if cfg.ListTTL != 300*time.Second || cfg.CountTTL != 120*time.Second || cfg.RecentTTL != 600*time.Second {
		t.Fatalf("unexpected cache ttls %v %v %v", cfg.ListTTL, cfg.CountTTL, cfg.RecentTTL)
	}
	if cfg.AMQPURL != "" || cfg.S3Endpoint != "" {
		t.Fatalf("optional backends must default to disabled: %+v", cfg)
	}
}

func TestLoadFileThenEnv(t *testing.T) {
	dir := isolate(t)
	path := filepath.Join(dir, "taskflow.yaml")
	yaml := `
server:
  addr: ":9000"
cache:
  prefix: staging
  list_ttl_seconds: 60
push:
  workers: 8
storage:
  use_ssl: true
`
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("TASKFLOW_CONFIG_FILE", path)
	t.Setenv("API_ADDR", ":9100")
	t.Setenv("PUSH_WORKERS", "not-a-number")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Addr != ":9100" {
		t.Fatalf("env must win over file, got %q", cfg.Addr)
	}
	if cfg.CachePrefix != "staging" || cfg.ListTTL != time.Minute || !cfg.S3UseSSL {
		t.Fatalf("file values not applied: %+v", cfg)
	}
	if cfg.PushWorkers != 8 {
		t.Fatalf("malformed env must keep file value, got %d", cfg.PushWorkers)
	}
}

func TestLoadRejectsBrokenFile(t *testing.T) {
	dir := isolate(t)
	path := filepath.Join(dir, "broken.yaml")
	if err := os.WriteFile(path, []byte("server: [unclosed"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("TASKFLOW_CONFIG_FILE", path)
	if _, err := Load(); err == nil {
		t.Fatal("expected parse error")
	}

	t.Setenv("TASKFLOW_CONFIG_FILE", filepath.Join(dir, "absent.yaml"))
	if _, err := Load(); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestLoadDotEnv(t *testing.T) {
	dir := isolate(t)
	envFile := filepath.Join(dir, ".env")
	if err := os.WriteFile(envFile, []byte("TASKFLOW_TEST_DOTENV_SECRET=from-dotenv\n"), 0o600); err != nil {
		t.Fatalf("write env: %v", err)
	}
	t.Setenv("TASKFLOW_ENV_FILE", envFile)
	t.Cleanup(func() { _ = os.Unsetenv("TASKFLOW_TEST_DOTENV_SECRET") })

	if _, err := Load(); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if got := os.Getenv("TASKFLOW_TEST_DOTENV_SECRET"); got != "from-dotenv" {
		t.Fatalf("dotenv value = %q", got)
	}
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	Config{LogFormat: "text", LogLevel: "warn"}.NewLogger(&buf).Info("hidden")
	if buf.Len() != 0 {
		t.Fatalf("info must be filtered at warn level, got %q", buf.String())
	}

	buf.Reset()
	Config{LogLevel: "bogus"}.NewLogger(&buf).Info("shown", "k", "v")
	if !strings.HasPrefix(buf.String(), "{") || !strings.Contains(buf.String(), `"k":"v"`) {
		t.Fatalf("expected JSON line, got %q", buf.String())
	}
}
