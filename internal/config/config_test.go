// ABOUTME: Tests for configuration loading and parsing
// ABOUTME: Covers YAML and TOML loading, env var expansion, required overrides and validation

package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// clearEnv isolates a test from the caller's environment.
func clearEnv(t *testing.T) {
	t.Helper()
	t.Setenv(EnvEndpoint, "")
	t.Setenv(EnvAgentID, "")
	t.Setenv(EnvConfig, "")
}

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return path
}

func TestLoad_ValidConfig(t *testing.T) {
	clearEnv(t)

	configPath := writeConfig(t, "relay.yaml", `
agent_service:
  endpoint: "example.services.ai.azure.com/api/projects/demo"
  agent_id: "asst_123"
  api_version: "2025-05-01"
  request_timeout: "10s"

bootstrap:
  policy: "greeting"
  greeting: "hello there"

run:
  strategy: "blocking"
  poll_interval: "250ms"
  max_wait: "2m"

server:
  http_addr: "0.0.0.0:9090"

frontends:
  web:
    enabled: true
  matrix:
    enabled: true
    homeserver: "https://matrix.org"
    user_id: "@relay:matrix.org"
    access_token: "syt_token"
    allowed_rooms:
      - "!room1:matrix.org"
    command_prefix: "!ask"

logging:
  level: "debug"
  format: "json"

metrics:
  enabled: false
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if want := "https://example.services.ai.azure.com/api/projects/demo"; cfg.AgentService.Endpoint != want {
		t.Errorf("AgentService.Endpoint = %q, want %q", cfg.AgentService.Endpoint, want)
	}
	if cfg.AgentService.AgentID != "asst_123" {
		t.Errorf("AgentService.AgentID = %q, want %q", cfg.AgentService.AgentID, "asst_123")
	}
	if cfg.AgentService.APIVersion != "2025-05-01" {
		t.Errorf("AgentService.APIVersion = %q, want %q", cfg.AgentService.APIVersion, "2025-05-01")
	}
	if cfg.AgentService.RequestTimeout != 10*time.Second {
		t.Errorf("AgentService.RequestTimeout = %v, want %v", cfg.AgentService.RequestTimeout, 10*time.Second)
	}
	if cfg.Bootstrap.Policy != "greeting" || cfg.Bootstrap.Greeting != "hello there" {
		t.Errorf("Bootstrap = %+v", cfg.Bootstrap)
	}
	if cfg.Run.Strategy != "blocking" {
		t.Errorf("Run.Strategy = %q, want %q", cfg.Run.Strategy, "blocking")
	}
	if cfg.Run.PollInterval != 250*time.Millisecond {
		t.Errorf("Run.PollInterval = %v, want %v", cfg.Run.PollInterval, 250*time.Millisecond)
	}
	if cfg.Run.MaxWait != 2*time.Minute {
		t.Errorf("Run.MaxWait = %v, want %v", cfg.Run.MaxWait, 2*time.Minute)
	}
	if cfg.Server.HTTPAddr != "0.0.0.0:9090" {
		t.Errorf("Server.HTTPAddr = %q, want %q", cfg.Server.HTTPAddr, "0.0.0.0:9090")
	}
	if !cfg.Frontends.Matrix.Enabled {
		t.Error("Frontends.Matrix.Enabled = false, want true")
	}
	if len(cfg.Frontends.Matrix.AllowedRooms) != 1 {
		t.Errorf("Frontends.Matrix.AllowedRooms len = %d, want 1", len(cfg.Frontends.Matrix.AllowedRooms))
	}
	if cfg.Frontends.Matrix.CommandPrefix != "!ask" {
		t.Errorf("Frontends.Matrix.CommandPrefix = %q, want %q", cfg.Frontends.Matrix.CommandPrefix, "!ask")
	}
	if cfg.Logging.Level != "debug" || cfg.Logging.Format != "json" {
		t.Errorf("Logging = %+v", cfg.Logging)
	}
	if cfg.Metrics.Enabled {
		t.Error("Metrics.Enabled = true, want false")
	}
	// Untouched fields keep their defaults
	if cfg.Metrics.Path != "/metrics" {
		t.Errorf("Metrics.Path = %q, want default /metrics", cfg.Metrics.Path)
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	configPath := writeConfig(t, "relay.yaml", `
agent_service:
  endpoint: "https://example.com/api/projects/demo"
  agent_id: "asst_123"
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Bootstrap.Policy != "empty" {
		t.Errorf("Bootstrap.Policy = %q, want empty", cfg.Bootstrap.Policy)
	}
	if cfg.Run.Strategy != "polling" {
		t.Errorf("Run.Strategy = %q, want polling", cfg.Run.Strategy)
	}
	if cfg.Run.PollInterval != time.Second {
		t.Errorf("Run.PollInterval = %v, want 1s", cfg.Run.PollInterval)
	}
	if cfg.Run.MaxWait != 5*time.Minute {
		t.Errorf("Run.MaxWait = %v, want 5m", cfg.Run.MaxWait)
	}
	if cfg.AgentService.APIVersion != "v1" {
		t.Errorf("AgentService.APIVersion = %q, want v1", cfg.AgentService.APIVersion)
	}
	if !cfg.Frontends.Web.Enabled {
		t.Error("Frontends.Web.Enabled = false, want true")
	}
}

func TestLoad_TOML(t *testing.T) {
	clearEnv(t)
	t.Setenv("TEST_MATRIX_TOKEN", "matrix-from-env")

	configPath := writeConfig(t, "relay.toml", `
[agent_service]
endpoint = "https://example.com/api/projects/demo"
agent_id = "asst_toml"

[run]
max_wait = "0"

[frontends.web]
enabled = false

[frontends.matrix]
enabled = true
homeserver = "https://matrix.example.org"
user_id = "@relay:example.org"
access_token = "${TEST_MATRIX_TOKEN}"
allowed_rooms = ["!a:example.org", "!b:example.org"]
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.AgentService.AgentID != "asst_toml" {
		t.Errorf("AgentService.AgentID = %q, want asst_toml", cfg.AgentService.AgentID)
	}
	if cfg.Run.MaxWait != 0 {
		t.Errorf("Run.MaxWait = %v, want 0 (unbounded)", cfg.Run.MaxWait)
	}
	if cfg.Frontends.Web.Enabled {
		t.Error("Frontends.Web.Enabled = true, want false")
	}
	if cfg.Frontends.Matrix.AccessToken != "matrix-from-env" {
		t.Errorf("Frontends.Matrix.AccessToken = %q, want matrix-from-env", cfg.Frontends.Matrix.AccessToken)
	}
	if len(cfg.Frontends.Matrix.AllowedRooms) != 2 {
		t.Errorf("Frontends.Matrix.AllowedRooms len = %d, want 2", len(cfg.Frontends.Matrix.AllowedRooms))
	}
}

func TestLoad_EnvVarExpansion_UnsetVar(t *testing.T) {
	clearEnv(t)
	os.Unsetenv("UNSET_VAR_FOR_TEST")

	configPath := writeConfig(t, "relay.yaml", `
agent_service:
  endpoint: "https://example.com"
  agent_id: "asst_123"
tailscale:
  auth_key: "${UNSET_VAR_FOR_TEST}"
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Tailscale.AuthKey != "" {
		t.Errorf("Tailscale.AuthKey = %q, want empty string for unset env var", cfg.Tailscale.AuthKey)
	}
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	clearEnv(t)
	t.Setenv(EnvEndpoint, "env.example.com/api/projects/env")
	t.Setenv(EnvAgentID, "asst_env")

	configPath := writeConfig(t, "relay.yaml", `
agent_service:
  endpoint: "https://file.example.com"
  agent_id: "asst_file"
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.AgentService.Endpoint != "https://env.example.com/api/projects/env" {
		t.Errorf("AgentService.Endpoint = %q, want env value", cfg.AgentService.Endpoint)
	}
	if cfg.AgentService.AgentID != "asst_env" {
		t.Errorf("AgentService.AgentID = %q, want asst_env", cfg.AgentService.AgentID)
	}
}

func TestLoad_MissingRequired(t *testing.T) {
	tests := []struct {
		name    string
		content string
		missing string
	}{
		{
			name:    "endpoint",
			content: "agent_service:\n  agent_id: \"asst_1\"\n",
			missing: EnvEndpoint,
		},
		{
			name:    "agent id",
			content: "agent_service:\n  endpoint: \"https://example.com\"\n",
			missing: EnvAgentID,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			_, err := Load(writeConfig(t, "relay.yaml", tt.content))
			if !errors.Is(err, ErrMissingRequired) {
				t.Fatalf("Load() error = %v, want ErrMissingRequired", err)
			}
			if !strings.Contains(err.Error(), tt.missing) {
				t.Errorf("error %q does not name %s", err, tt.missing)
			}
		})
	}
}

func TestLoad_RejectsPlainHTTP(t *testing.T) {
	clearEnv(t)
	t.Setenv(EnvEndpoint, "http://insecure.example.com")
	t.Setenv(EnvAgentID, "asst_1")

	_, err := Load(writeConfig(t, "relay.yaml", "logging:\n  level: info\n"))
	if err == nil {
		t.Fatal("Load() expected error for http endpoint, got nil")
	}
	if !strings.Contains(err.Error(), "https") {
		t.Errorf("error = %v, want mention of https", err)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path/relay.yaml")
	if err == nil {
		t.Error("Load() expected error for missing file, got nil")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	clearEnv(t)
	_, err := Load(writeConfig(t, "relay.yaml", "agent_service: [unclosed"))
	if err == nil {
		t.Error("Load() expected error for invalid YAML, got nil")
	}
}

func TestLoad_InvalidDuration(t *testing.T) {
	clearEnv(t)
	_, err := Load(writeConfig(t, "relay.yaml", `
agent_service:
  endpoint: "https://example.com"
  agent_id: "asst_1"
run:
  poll_interval: "soon"
`))
	if err == nil {
		t.Fatal("Load() expected error for invalid duration, got nil")
	}
	if !strings.Contains(err.Error(), "poll_interval") {
		t.Errorf("error = %v, want mention of poll_interval", err)
	}
}

func TestLoadDefault_NoFile(t *testing.T) {
	clearEnv(t)
	t.Setenv("HOME", t.TempDir())
	t.Chdir(t.TempDir())
	t.Setenv(EnvEndpoint, "example.com/api/projects/demo")
	t.Setenv(EnvAgentID, "asst_1")

	cfg, err := LoadDefault()
	if err != nil {
		t.Fatalf("LoadDefault() error = %v", err)
	}
	if cfg.AgentService.Endpoint != "https://example.com/api/projects/demo" {
		t.Errorf("AgentService.Endpoint = %q", cfg.AgentService.Endpoint)
	}
	if cfg.Server.HTTPAddr != "localhost:8080" {
		t.Errorf("Server.HTTPAddr = %q, want localhost:8080", cfg.Server.HTTPAddr)
	}
}

func TestLoadDefault_NoFileNoEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("HOME", t.TempDir())
	t.Chdir(t.TempDir())

	_, err := LoadDefault()
	if !errors.Is(err, ErrMissingRequired) {
		t.Fatalf("LoadDefault() error = %v, want ErrMissingRequired", err)
	}
}

func TestResolvePath(t *testing.T) {
	clearEnv(t)
	t.Setenv("HOME", t.TempDir())
	dir := t.TempDir()
	t.Chdir(dir)

	if got := ResolvePath(); got != "" {
		t.Errorf("ResolvePath() = %q, want empty", got)
	}

	if err := os.WriteFile(filepath.Join(dir, "relay.toml"), []byte(""), 0644); err != nil {
		t.Fatal(err)
	}
	if got := ResolvePath(); got != "relay.toml" {
		t.Errorf("ResolvePath() = %q, want relay.toml", got)
	}

	t.Setenv(EnvConfig, "/etc/coven/relay.yaml")
	if got := ResolvePath(); got != "/etc/coven/relay.yaml" {
		t.Errorf("ResolvePath() = %q, want env path", got)
	}
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg := Default()
		cfg.AgentService.Endpoint = "https://example.com"
		cfg.AgentService.AgentID = "asst_1"
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid", func(*Config) {}, ""},
		{"unknown policy", func(c *Config) { c.Bootstrap.Policy = "seeded" }, "bootstrap.policy"},
		{"empty greeting", func(c *Config) {
			c.Bootstrap.Policy = "greeting"
			c.Bootstrap.Greeting = " "
		}, "bootstrap.greeting"},
		{"unknown strategy", func(c *Config) { c.Run.Strategy = "streaming" }, "run.strategy"},
		{"zero poll interval", func(c *Config) { c.Run.PollInterval = 0 }, "run.poll_interval"},
		{"negative max wait", func(c *Config) { c.Run.MaxWait = -time.Second }, "run.max_wait"},
		{"unbounded max wait", func(c *Config) { c.Run.MaxWait = 0 }, ""},
		{"no http addr", func(c *Config) { c.Server.HTTPAddr = "" }, "server.http_addr"},
		{"tailscale without http addr", func(c *Config) {
			c.Server.HTTPAddr = ""
			c.Tailscale.Enabled = true
		}, ""},
		{"tailscale without hostname", func(c *Config) {
			c.Tailscale.Enabled = true
			c.Tailscale.Hostname = ""
		}, "tailscale.hostname"},
		{"no frontends", func(c *Config) { c.Frontends.Web.Enabled = false }, "frontend"},
		{"matrix without token", func(c *Config) {
			c.Frontends.Matrix = MatrixConfig{Enabled: true, Homeserver: "https://m.org", UserID: "@r:m.org"}
		}, "access_token"},
		{"bad log level", func(c *Config) { c.Logging.Level = "loud" }, "logging.level"},
		{"bad log format", func(c *Config) { c.Logging.Format = "xml" }, "logging.format"},
		{"bad metrics path", func(c *Config) { c.Metrics.Path = "metrics" }, "metrics.path"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() error = %v, want nil", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("Validate() = nil, want error containing %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestRead_WithoutAgentServiceSettings(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, "relay.yaml", `
server:
  http_addr: "127.0.0.1:9191"
run:
  poll_interval: "250ms"
`)

	cfg, err := Read(path)
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if cfg.Server.HTTPAddr != "127.0.0.1:9191" {
		t.Errorf("Server.HTTPAddr = %q, want 127.0.0.1:9191", cfg.Server.HTTPAddr)
	}
	if cfg.Run.PollInterval != 250*time.Millisecond {
		t.Errorf("Run.PollInterval = %v, want 250ms", cfg.Run.PollInterval)
	}

	if _, err := Load(path); !errors.Is(err, ErrMissingRequired) {
		t.Errorf("Load() error = %v, want ErrMissingRequired", err)
	}
}

func TestRead_NoPathAppliesEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv(EnvAgentID, "asst_env")

	cfg, err := Read("")
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if cfg.AgentService.AgentID != "asst_env" {
		t.Errorf("AgentService.AgentID = %q, want asst_env", cfg.AgentService.AgentID)
	}
	if cfg.Server.HTTPAddr != "localhost:8080" {
		t.Errorf("Server.HTTPAddr = %q, want localhost:8080", cfg.Server.HTTPAddr)
	}
}
