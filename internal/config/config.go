// Package config loads and validates the todosync YAML configuration.
package config

import (
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/njoerd114/todosync/internal/conflict"
)

// Environment variables that override file values.
const (
	EnvServerURL = "TODOSYNC_SERVER_URL"
	EnvToken     = "TODOSYNC_TOKEN"
	EnvOwnerUUID = "TODOSYNC_OWNER_UUID"
)

// Defaults applied by validate.
const (
	DefaultTodosEndpoint      = "/todo/todo_api.php"
	DefaultCategoriesEndpoint = "/todo/categories_api.php"
	DefaultBatchSize          = 100
	DefaultIntervalMinutes    = 30
	MaxIntervalMinutes        = 24 * 60
	DefaultRequestTimeout     = 10 * time.Second
	DefaultMaxAttempts        = 3
)

// Config holds the full application configuration loaded from YAML.
type Config struct {
	// ServerURL is the base URL of the todo service (e.g. "https://todo.example.com").
	// Optional: while empty, syncs are refused and local editing still works.
	ServerURL string `yaml:"server_url"`

	// Token is a bearer token. When empty the token file is used.
	Token string `yaml:"token"`

	// TokenFile is where `todosync login` stores the token. Defaults to
	// ~/.config/todosync/token.
	TokenFile string `yaml:"token_file"`

	// OwnerUUID is the authenticated user's uuid. When empty it is taken from
	// the token's claims.
	OwnerUUID string `yaml:"owner_uuid"`

	Todos      EndpointConfig `yaml:"todos"`
	Categories EndpointConfig `yaml:"categories"`

	AutoSync AutoSyncConfig `yaml:"auto_sync"`

	// MergePolicy resolves fetched records against local ones: merge, skip,
	// overwrite or insert. Defaults to merge.
	MergePolicy string `yaml:"merge_policy"`

	// RequestTimeout bounds a single HTTP attempt. Defaults to 10s.
	RequestTimeout time.Duration `yaml:"request_timeout"`

	// MaxAttempts is the number of tries for transient failures. Defaults to 3.
	MaxAttempts int `yaml:"max_attempts"`

	// DBPath overrides the state database location.
	DBPath string `yaml:"db_path"`

	Log LogConfig `yaml:"log"`

	// Telemetry configures optional OpenTelemetry export via OTLP gRPC.
	// Omit the block entirely to disable telemetry.
	Telemetry *TelemetryConfig `yaml:"telemetry,omitempty"`

	policy conflict.Policy
	owner  uuid.UUID
}

// EndpointConfig describes one entity endpoint.
type EndpointConfig struct {
	Endpoint  string `yaml:"endpoint"`
	BatchSize int    `yaml:"batch_size"`
}

// AutoSyncConfig controls the background sync timer used by `todosync daemon`.
type AutoSyncConfig struct {
	Enabled         bool `yaml:"enabled"`
	IntervalMinutes int  `yaml:"interval_minutes"`
}

// Interval returns the configured interval as a duration.
func (a AutoSyncConfig) Interval() time.Duration {
	return time.Duration(a.IntervalMinutes) * time.Minute
}

// LogConfig enables a rotating log file. With File empty, logs go to stderr.
type LogConfig struct {
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// TelemetryConfig holds optional OpenTelemetry settings.
type TelemetryConfig struct {
	// OTLPEndpoint is the gRPC host:port of the OTLP collector (e.g. "localhost:4317").
	OTLPEndpoint string `yaml:"otlp_endpoint"`

	// Insecure disables TLS for the collector connection. Use for local collectors.
	Insecure bool `yaml:"insecure"`

	// ServiceName overrides the OTel service.name attribute. Defaults to "todosync".
	ServiceName string `yaml:"service_name"`

	// Headers contains key-value pairs sent as gRPC metadata on every OTLP
	// request, e.g. Authorization: "Bearer <token>".
	Headers map[string]string `yaml:"headers,omitempty"`
}

// DefaultPath returns the default config file path: ~/.config/todosync/config.yaml.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolving home directory: %w", err)
	}
	return filepath.Join(home, ".config", "todosync", "config.yaml"), nil
}

// Load reads the configuration file at path, applies environment overrides
// and validates the result.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening config file %q: %w", path, err)
	}
	defer f.Close()

	var cfg Config
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true) // reject unknown keys to catch typos early
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parsing config file %q: %w", path, err)
	}
	return finish(&cfg)
}

// Default returns the built-in configuration with environment overrides
// applied, for running without a config file.
func Default() (*Config, error) {
	return finish(&Config{})
}

func finish(cfg *Config) (*Config, error) {
	cfg.applyEnv(os.LookupEnv)
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// Policy returns the parsed merge policy.
func (c *Config) Policy() conflict.Policy { return c.policy }

// Owner returns the parsed owner uuid, or uuid.Nil when unset.
func (c *Config) Owner() uuid.UUID { return c.owner }

func (c *Config) applyEnv(lookup func(string) (string, bool)) {
	if v, ok := lookup(EnvServerURL); ok && v != "" {
		c.ServerURL = v
	}
	if v, ok := lookup(EnvToken); ok && v != "" {
		c.Token = v
	}
	if v, ok := lookup(EnvOwnerUUID); ok && v != "" {
		c.OwnerUUID = v
	}
}

// validate applies defaults and checks that every field is well-formed.
func (c *Config) validate() error {
	if c.ServerURL != "" {
		u, err := url.ParseRequestURI(c.ServerURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("server_url %q must be a valid http or https URL", c.ServerURL)
		}
	}

	if c.OwnerUUID != "" {
		owner, err := uuid.Parse(c.OwnerUUID)
		if err != nil {
			return fmt.Errorf("owner_uuid %q: %w", c.OwnerUUID, err)
		}
		c.owner = owner
	}

	if err := c.Todos.validate("todos", DefaultTodosEndpoint); err != nil {
		return err
	}
	if err := c.Categories.validate("categories", DefaultCategoriesEndpoint); err != nil {
		return err
	}

	if c.AutoSync.IntervalMinutes == 0 {
		c.AutoSync.IntervalMinutes = DefaultIntervalMinutes
	}
	if c.AutoSync.IntervalMinutes < 1 || c.AutoSync.IntervalMinutes > MaxIntervalMinutes {
		return fmt.Errorf("auto_sync.interval_minutes %d must be between 1 and %d", c.AutoSync.IntervalMinutes, MaxIntervalMinutes)
	}

	policy, err := conflict.ParsePolicy(c.MergePolicy)
	if err != nil {
		return fmt.Errorf("merge_policy: %w", err)
	}
	c.policy = policy

	if c.RequestTimeout == 0 {
		c.RequestTimeout = DefaultRequestTimeout
	}
	if c.RequestTimeout < 0 {
		return fmt.Errorf("request_timeout %v must be positive", c.RequestTimeout)
	}
	if c.MaxAttempts == 0 {
		c.MaxAttempts = DefaultMaxAttempts
	}
	if c.MaxAttempts < 1 || c.MaxAttempts > 10 {
		return fmt.Errorf("max_attempts %d must be between 1 and 10", c.MaxAttempts)
	}

	if c.Log.File != "" {
		if c.Log.MaxSizeMB == 0 {
			c.Log.MaxSizeMB = 10
		}
		if c.Log.MaxBackups == 0 {
			c.Log.MaxBackups = 3
		}
		if c.Log.MaxAgeDays == 0 {
			c.Log.MaxAgeDays = 28
		}
		if c.Log.MaxSizeMB < 0 || c.Log.MaxBackups < 0 || c.Log.MaxAgeDays < 0 {
			return fmt.Errorf("log rotation limits must not be negative")
		}
	}

	if c.Telemetry != nil {
		if c.Telemetry.OTLPEndpoint == "" {
			return fmt.Errorf("telemetry.otlp_endpoint is required when telemetry is configured")
		}
	}

	return nil
}

func (e *EndpointConfig) validate(name, defaultEndpoint string) error {
	if e.Endpoint == "" {
		e.Endpoint = defaultEndpoint
	}
	if e.BatchSize == 0 {
		e.BatchSize = DefaultBatchSize
	}
	if e.BatchSize < 0 {
		return fmt.Errorf("%s.batch_size %d must be positive", name, e.BatchSize)
	}
	return nil
}
