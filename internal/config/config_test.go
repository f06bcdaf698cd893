package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/njoerd114/todosync/internal/conflict"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	f, err := os.CreateTemp(t.TempDir(), "config-*.yaml")
	if err != nil {
		t.Fatalf("creating temp config: %v", err)
	}
	if _, err := f.WriteString(content); err != nil {
		t.Fatalf("writing temp config: %v", err)
	}
	f.Close()
	return f.Name()
}

// clearEnv keeps the developer's environment out of the tests.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{EnvServerURL, EnvToken, EnvOwnerUUID} {
		t.Setenv(k, "")
	}
}

func TestLoad_Valid(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `
server_url: "https://todo.example.com"
token: "abc123"
owner_uuid: "0b1c2d3e-4f50-4617-8283-94a5b6c7d8e9"
todos:
  batch_size: 50
categories:
  endpoint: /api/categories
auto_sync:
  enabled: true
  interval_minutes: 15
merge_policy: skip
request_timeout: 5s
max_attempts: 5
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.ServerURL != "https://todo.example.com" {
		t.Errorf("ServerURL = %q, want %q", cfg.ServerURL, "https://todo.example.com")
	}
	if cfg.Token != "abc123" {
		t.Errorf("Token = %q, want %q", cfg.Token, "abc123")
	}
	if cfg.Owner() != uuid.MustParse("0b1c2d3e-4f50-4617-8283-94a5b6c7d8e9") {
		t.Errorf("Owner = %v", cfg.Owner())
	}
	if cfg.Todos.Endpoint != DefaultTodosEndpoint || cfg.Todos.BatchSize != 50 {
		t.Errorf("Todos = %+v, want default endpoint and batch 50", cfg.Todos)
	}
	if cfg.Categories.Endpoint != "/api/categories" || cfg.Categories.BatchSize != DefaultBatchSize {
		t.Errorf("Categories = %+v", cfg.Categories)
	}
	if !cfg.AutoSync.Enabled || cfg.AutoSync.Interval() != 15*time.Minute {
		t.Errorf("AutoSync = %+v, want enabled every 15m", cfg.AutoSync)
	}
	if cfg.Policy() != conflict.Skip {
		t.Errorf("Policy = %v, want skip", cfg.Policy())
	}
	if cfg.RequestTimeout != 5*time.Second {
		t.Errorf("RequestTimeout = %v, want 5s", cfg.RequestTimeout)
	}
	if cfg.MaxAttempts != 5 {
		t.Errorf("MaxAttempts = %d, want 5", cfg.MaxAttempts)
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)
	cfg, err := Load(writeConfig(t, ""))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.ServerURL != "" {
		t.Errorf("ServerURL = %q, want empty", cfg.ServerURL)
	}
	if cfg.Todos.Endpoint != DefaultTodosEndpoint || cfg.Categories.Endpoint != DefaultCategoriesEndpoint {
		t.Errorf("endpoints = %q, %q", cfg.Todos.Endpoint, cfg.Categories.Endpoint)
	}
	if cfg.AutoSync.Enabled {
		t.Error("AutoSync.Enabled = true, want false by default")
	}
	if cfg.AutoSync.IntervalMinutes != DefaultIntervalMinutes {
		t.Errorf("IntervalMinutes = %d, want %d", cfg.AutoSync.IntervalMinutes, DefaultIntervalMinutes)
	}
	if cfg.Policy() != conflict.Merge {
		t.Errorf("Policy = %v, want merge", cfg.Policy())
	}
	if cfg.RequestTimeout != DefaultRequestTimeout || cfg.MaxAttempts != DefaultMaxAttempts {
		t.Errorf("transport defaults = %v/%d", cfg.RequestTimeout, cfg.MaxAttempts)
	}
	if cfg.Owner() != uuid.Nil {
		t.Errorf("Owner = %v, want nil", cfg.Owner())
	}
}

func TestDefault_EnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv(EnvServerURL, "http://localhost:8080")
	t.Setenv(EnvToken, "from-env")
	t.Setenv(EnvOwnerUUID, "3a9c1f0e-2b7d-4e6a-9f58-0c1d2e3f4a5b")

	cfg, err := Default()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.ServerURL != "http://localhost:8080" || cfg.Token != "from-env" {
		t.Errorf("cfg = %q/%q, want env values", cfg.ServerURL, cfg.Token)
	}
	if cfg.Owner().String() != "3a9c1f0e-2b7d-4e6a-9f58-0c1d2e3f4a5b" {
		t.Errorf("Owner = %v", cfg.Owner())
	}
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	clearEnv(t)
	t.Setenv(EnvServerURL, "https://override.example.com")
	cfg, err := Load(writeConfig(t, `server_url: "https://file.example.com"`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.ServerURL != "https://override.example.com" {
		t.Errorf("ServerURL = %q, want env override", cfg.ServerURL)
	}
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"invalid server url", `server_url: "not-a-url"`},
		{"ftp server url", `server_url: "ftp://todo.example.com"`},
		{"bad owner", `owner_uuid: "me"`},
		{"interval too long", "auto_sync:\n  interval_minutes: 1441"},
		{"negative interval", "auto_sync:\n  interval_minutes: -5"},
		{"unknown policy", `merge_policy: newest`},
		{"negative batch", "todos:\n  batch_size: -1"},
		{"too many attempts", `max_attempts: 11`},
		{"negative timeout", `request_timeout: -1s`},
		{"unknown key", `unknown_field: oops`},
		{"telemetry missing endpoint", "telemetry:\n  insecure: true"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			if _, err := Load(writeConfig(t, tt.content)); err == nil {
				t.Fatalf("expected error for %s, got nil", tt.name)
			}
		})
	}
}

func TestLoad_LogDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := Load(writeConfig(t, "log:\n  file: /tmp/todosync.log\n  max_backups: 7"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Log.MaxSizeMB != 10 || cfg.Log.MaxBackups != 7 || cfg.Log.MaxAgeDays != 28 {
		t.Errorf("Log = %+v, want size 10, backups 7, age 28", cfg.Log)
	}
}

func TestLoad_FileNotFound(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nonexistent.yaml"))
	if err == nil {
		t.Fatal("expected error for missing file, got nil")
	}
}

func TestDefaultPath(t *testing.T) {
	path, err := DefaultPath()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if filepath.Base(path) != "config.yaml" || filepath.Base(filepath.Dir(path)) != "todosync" {
		t.Errorf("DefaultPath = %q", path)
	}
}

func TestLoad_TelemetryValid(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `
telemetry:
  otlp_endpoint: "localhost:4317"
  insecure: true
  service_name: "my-todosync"
  headers:
    Authorization: "Bearer secret"
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Telemetry == nil {
		t.Fatal("expected Telemetry to be non-nil")
	}
	if cfg.Telemetry.OTLPEndpoint != "localhost:4317" {
		t.Errorf("OTLPEndpoint = %q, want %q", cfg.Telemetry.OTLPEndpoint, "localhost:4317")
	}
	if !cfg.Telemetry.Insecure {
		t.Error("Insecure = false, want true")
	}
	if cfg.Telemetry.ServiceName != "my-todosync" {
		t.Errorf("ServiceName = %q, want %q", cfg.Telemetry.ServiceName, "my-todosync")
	}
	if cfg.Telemetry.Headers["Authorization"] != "Bearer secret" {
		t.Errorf("Authorization header = %q, want %q", cfg.Telemetry.Headers["Authorization"], "Bearer secret")
	}
}

func TestLoad_TelemetryOmitted(t *testing.T) {
	clearEnv(t)
	cfg, err := Load(writeConfig(t, `server_url: "http://todo.local"`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Telemetry != nil {
		t.Error("expected Telemetry to be nil when block is omitted")
	}
}
