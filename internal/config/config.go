// ABOUTME: Configuration loading and parsing for coven-relay
// ABOUTME: YAML or TOML files with ${VAR} expansion, duration parsing and required env overrides

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/2389/coven-relay/internal/agentsvc"
)

// Environment variables that override the file and are required at startup.
const (
	EnvEndpoint = "AIPROJECT_CONNECTION_STRING"
	EnvAgentID  = "AGENT_ID"
	EnvConfig   = "COVEN_RELAY_CONFIG"
)

// ErrMissingRequired marks a required setting that is absent.
var ErrMissingRequired = errors.New("missing required setting")

// Config represents the complete coven-relay configuration
type Config struct {
	AgentService AgentServiceConfig `yaml:"agent_service" toml:"agent_service"`
	Bootstrap    BootstrapConfig    `yaml:"bootstrap" toml:"bootstrap"`
	Run          RunConfig          `yaml:"run" toml:"run"`
	Server       ServerConfig       `yaml:"server" toml:"server"`
	Tailscale    TailscaleConfig    `yaml:"tailscale" toml:"tailscale"`
	Frontends    FrontendsConfig    `yaml:"frontends" toml:"frontends"`
	Logging      LoggingConfig      `yaml:"logging" toml:"logging"`
	Metrics      MetricsConfig      `yaml:"metrics" toml:"metrics"`
}

// AgentServiceConfig describes the remote agent service
type AgentServiceConfig struct {
	Endpoint   string `yaml:"endpoint" toml:"endpoint"`
	AgentID    string `yaml:"agent_id" toml:"agent_id"`
	APIVersion string `yaml:"api_version" toml:"api_version"`

	RequestTimeout    time.Duration `yaml:"-" toml:"-"`
	RequestTimeoutRaw string        `yaml:"request_timeout" toml:"request_timeout"`
}

// BootstrapConfig selects how new threads are created
type BootstrapConfig struct {
	Policy   string `yaml:"policy" toml:"policy"` // empty, greeting
	Greeting string `yaml:"greeting" toml:"greeting"`
}

// RunConfig controls how a turn waits for its run
type RunConfig struct {
	Strategy string `yaml:"strategy" toml:"strategy"` // polling, blocking

	PollInterval time.Duration `yaml:"-" toml:"-"`
	MaxWait      time.Duration `yaml:"-" toml:"-"`

	// Raw string values for unmarshaling
	PollIntervalRaw string `yaml:"poll_interval" toml:"poll_interval"`
	MaxWaitRaw      string `yaml:"max_wait" toml:"max_wait"`
}

// ServerConfig holds the HTTP listen address
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr" toml:"http_addr"`
}

// TailscaleConfig holds Tailscale tsnet configuration
type TailscaleConfig struct {
	Enabled   bool   `yaml:"enabled" toml:"enabled"`
	Hostname  string `yaml:"hostname" toml:"hostname"`
	AuthKey   string `yaml:"auth_key" toml:"auth_key"`
	StateDir  string `yaml:"state_dir" toml:"state_dir"`
	Ephemeral bool   `yaml:"ephemeral" toml:"ephemeral"`
	HTTPS     bool   `yaml:"https" toml:"https"`   // serve with tailnet certificates
	Funnel    bool   `yaml:"funnel" toml:"funnel"` // public Funnel (implies HTTPS)
}

// FrontendsConfig holds configuration for the chat frontends
type FrontendsConfig struct {
	Web    WebConfig    `yaml:"web" toml:"web"`
	Matrix MatrixConfig `yaml:"matrix" toml:"matrix"`
}

// WebConfig holds the browser chat configuration
type WebConfig struct {
	Enabled bool `yaml:"enabled" toml:"enabled"`
}

// MatrixConfig holds Matrix integration configuration
type MatrixConfig struct {
	Enabled       bool     `yaml:"enabled" toml:"enabled"`
	Homeserver    string   `yaml:"homeserver" toml:"homeserver"`
	UserID        string   `yaml:"user_id" toml:"user_id"`
	AccessToken   string   `yaml:"access_token" toml:"access_token"`
	AllowedRooms  []string `yaml:"allowed_rooms" toml:"allowed_rooms"`
	CommandPrefix string   `yaml:"command_prefix" toml:"command_prefix"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
}

// MetricsConfig holds metrics endpoint configuration
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" toml:"enabled"`
	Path    string `yaml:"path" toml:"path"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		AgentService: AgentServiceConfig{
			APIVersion:     agentsvc.DefaultAPIVersion,
			RequestTimeout: 30 * time.Second,
		},
		Bootstrap: BootstrapConfig{
			Policy:   "empty",
			Greeting: "Hi! Tell me your favorite programming joke.",
		},
		Run: RunConfig{
			Strategy:     "polling",
			PollInterval: agentsvc.DefaultPollInterval,
			MaxWait:      5 * time.Minute,
		},
		Server:    ServerConfig{HTTPAddr: "localhost:8080"},
		Tailscale: TailscaleConfig{Hostname: "coven-relay"},
		Frontends: FrontendsConfig{Web: WebConfig{Enabled: true}},
		Logging:   LoggingConfig{Level: "info", Format: "text"},
		Metrics:   MetricsConfig{Enabled: true, Path: "/metrics"},
	}
}

// ResolvePath returns the first config file that exists, or "" when there is none.
// The COVEN_RELAY_CONFIG path is returned even if missing so Load reports it.
func ResolvePath() string {
	if p := os.Getenv(EnvConfig); p != "" {
		return p
	}
	candidates := []string{"relay.yaml", "relay.toml"}
	if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates,
			filepath.Join(home, ".config", "coven", "relay.yaml"),
			filepath.Join(home, ".config", "coven", "relay.toml"))
	}
	for _, p := range candidates {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// LoadDefault loads the resolved config file, or the defaults plus
// environment when no file exists.
func LoadDefault() (*Config, error) {
	return Load(ResolvePath())
}

// Load reads the configuration at path and checks that it is complete.
// An empty path loads the defaults plus environment.
func Load(path string) (*Config, error) {
	cfg, err := Read(path)
	if err != nil {
		return nil, err
	}
	if err := finish(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Read parses a configuration file over the defaults and applies the
// environment overrides without requiring the agent service settings.
// Files ending in .toml are decoded as TOML, everything else as YAML.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Read(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}

		expanded := expandEnvVars(string(data))

		if strings.EqualFold(filepath.Ext(path), ".toml") {
			if _, err := toml.Decode(expanded, cfg); err != nil {
				return nil, fmt.Errorf("parsing config file: %w", err)
			}
		} else if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}

		if err := parseDurations(cfg); err != nil {
			return nil, fmt.Errorf("parsing durations: %w", err)
		}
	}

	ApplyEnv(cfg)
	return cfg, nil
}

// finish checks the required settings, normalizes the endpoint and validates.
func finish(cfg *Config) error {
	if cfg.AgentService.Endpoint == "" {
		return fmt.Errorf("%w: %s", ErrMissingRequired, EnvEndpoint)
	}
	if cfg.AgentService.AgentID == "" {
		return fmt.Errorf("%w: %s", ErrMissingRequired, EnvAgentID)
	}
	endpoint, err := agentsvc.NormalizeEndpoint(cfg.AgentService.Endpoint)
	if err != nil {
		return fmt.Errorf("validating config: %w", err)
	}
	cfg.AgentService.Endpoint = endpoint

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("validating config: %w", err)
	}
	return nil
}

// ApplyEnv overrides the endpoint and agent id with their environment variables when set.
func ApplyEnv(cfg *Config) {
	if v := strings.TrimSpace(os.Getenv(EnvEndpoint)); v != "" {
		cfg.AgentService.Endpoint = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvAgentID)); v != "" {
		cfg.AgentService.AgentID = v
	}
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// Validate checks that all configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.AgentService.Endpoint == "" {
		return fmt.Errorf("agent_service.endpoint is required")
	}
	if c.AgentService.AgentID == "" {
		return fmt.Errorf("agent_service.agent_id is required")
	}
	if c.AgentService.RequestTimeout <= 0 {
		return fmt.Errorf("agent_service.request_timeout must be positive")
	}

	switch c.Bootstrap.Policy {
	case "empty", "greeting":
	default:
		return fmt.Errorf("bootstrap.policy must be empty or greeting, got %q", c.Bootstrap.Policy)
	}
	if c.Bootstrap.Policy == "greeting" && strings.TrimSpace(c.Bootstrap.Greeting) == "" {
		return fmt.Errorf("bootstrap.greeting is required for the greeting policy")
	}

	switch c.Run.Strategy {
	case "polling", "blocking":
	default:
		return fmt.Errorf("run.strategy must be polling or blocking, got %q", c.Run.Strategy)
	}
	if c.Run.PollInterval <= 0 {
		return fmt.Errorf("run.poll_interval must be positive")
	}
	if c.Run.MaxWait < 0 {
		return fmt.Errorf("run.max_wait must not be negative")
	}

	// The HTTP address is required unless Tailscale serves instead
	if !c.Tailscale.Enabled && c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required (or enable tailscale)")
	}
	if c.Tailscale.Enabled && c.Tailscale.Hostname == "" {
		return fmt.Errorf("tailscale.hostname is required when tailscale is enabled")
	}

	if !c.Frontends.Web.Enabled && !c.Frontends.Matrix.Enabled {
		return fmt.Errorf("at least one frontend must be enabled")
	}
	if m := c.Frontends.Matrix; m.Enabled {
		if m.Homeserver == "" {
			return fmt.Errorf("frontends.matrix.homeserver is required when matrix is enabled")
		}
		if m.UserID == "" {
			return fmt.Errorf("frontends.matrix.user_id is required when matrix is enabled")
		}
		if m.AccessToken == "" {
			return fmt.Errorf("frontends.matrix.access_token is required when matrix is enabled")
		}
	}

	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("logging.level must be debug, info, warn or error, got %q", c.Logging.Level)
	}
	switch strings.ToLower(c.Logging.Format) {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format must be text or json, got %q", c.Logging.Format)
	}

	if c.Metrics.Enabled && !strings.HasPrefix(c.Metrics.Path, "/") {
		return fmt.Errorf("metrics.path must start with /")
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	var err error

	if cfg.AgentService.RequestTimeoutRaw != "" {
		cfg.AgentService.RequestTimeout, err = time.ParseDuration(cfg.AgentService.RequestTimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing request_timeout %q: %w", cfg.AgentService.RequestTimeoutRaw, err)
		}
	}

	if cfg.Run.PollIntervalRaw != "" {
		cfg.Run.PollInterval, err = time.ParseDuration(cfg.Run.PollIntervalRaw)
		if err != nil {
			return fmt.Errorf("parsing poll_interval %q: %w", cfg.Run.PollIntervalRaw, err)
		}
	}

	// "0" disables the bound
	if cfg.Run.MaxWaitRaw != "" {
		cfg.Run.MaxWait, err = time.ParseDuration(cfg.Run.MaxWaitRaw)
		if err != nil {
			return fmt.Errorf("parsing max_wait %q: %w", cfg.Run.MaxWaitRaw, err)
		}
	}

	return nil
}
