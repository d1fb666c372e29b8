// ABOUTME: Configuration loading and parsing for alumni-dm
// ABOUTME: Supports YAML or TOML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Config represents the complete alumni-dm configuration
type Config struct {
	Backend    BackendConfig    `yaml:"backend" toml:"backend"`
	Cache      CacheConfig      `yaml:"cache" toml:"cache"`
	Messaging  MessagingConfig  `yaml:"messaging" toml:"messaging"`
	Moderation ModerationConfig `yaml:"moderation" toml:"moderation"`
	Logging    LoggingConfig    `yaml:"logging" toml:"logging"`
	Server     ServerConfig     `yaml:"server" toml:"server"`
}

// BackendConfig describes the REST backend the client talks to
type BackendConfig struct {
	URL               string        `yaml:"url" toml:"url"`
	Token             string        `yaml:"token" toml:"token"`
	Timeout           time.Duration `yaml:"-" toml:"-"`
	TimeoutRaw        string        `yaml:"timeout" toml:"timeout"`
	RequestsPerSecond float64       `yaml:"requests_per_second" toml:"requests_per_second"`
}

// CacheConfig selects the message cache store
type CacheConfig struct {
	Driver     string        `yaml:"driver" toml:"driver"` // sqlite, sqlite3, memory, none
	Path       string        `yaml:"path" toml:"path"`
	TTL        time.Duration `yaml:"-" toml:"-"`
	TTLRaw     string        `yaml:"ttl" toml:"ttl"`
	MaxEntries int           `yaml:"max_entries" toml:"max_entries"`
}

// MessagingConfig holds thread and poller tunables
type MessagingConfig struct {
	PollInterval         time.Duration `yaml:"-" toml:"-"`
	PollIntervalRaw      string        `yaml:"poll_interval" toml:"poll_interval"`
	HistoryLimit         int           `yaml:"history_limit" toml:"history_limit"`
	DeleteWindow         time.Duration `yaml:"-" toml:"-"`
	DeleteWindowRaw      string        `yaml:"delete_window" toml:"delete_window"`
	DeletePolicy         string        `yaml:"delete_policy" toml:"delete_policy"`                 // optimistic, confirmed
	RecoveredProvisional string        `yaml:"recovered_provisional" toml:"recovered_provisional"` // drop, match
	RefreshConversations bool          `yaml:"refresh_conversations" toml:"refresh_conversations"`
}

// ModerationConfig adjusts the blocked-term list
type ModerationConfig struct {
	BlockedTerms []string `yaml:"blocked_terms" toml:"blocked_terms"`
	ExtraTerms   []string `yaml:"extra_terms" toml:"extra_terms"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
}

// ServerConfig is only read by the development backend
type ServerConfig struct {
	HTTPAddr    string   `yaml:"http_addr" toml:"http_addr"`
	JWTSecret   string   `yaml:"jwt_secret" toml:"jwt_secret"`
	CORSOrigins []string `yaml:"cors_origins" toml:"cors_origins"`
}

// Default returns a Config with every optional field filled in.
func Default() *Config {
	return &Config{
		Backend: BackendConfig{
			URL:               "http://localhost:8080",
			TimeoutRaw:        "15s",
			RequestsPerSecond: 20,
		},
		Cache: CacheConfig{
			Driver:     "sqlite",
			Path:       filepath.Join(DataDir(), "cache.db"),
			TTLRaw:     "24h",
			MaxEntries: 500,
		},
		Messaging: MessagingConfig{
			PollIntervalRaw:      "2s",
			HistoryLimit:         50,
			DeleteWindowRaw:      "24h",
			DeletePolicy:         "optimistic",
			RecoveredProvisional: "drop",
			RefreshConversations: true,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Server: ServerConfig{
			HTTPAddr: ":8080",
		},
	}
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Files ending in .toml are decoded as TOML, everything else as YAML.
// Environment variables in the format ${VAR_NAME} are expanded and
// fields missing from the file keep their Default values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	expandedData := expandEnvVars(string(data))

	cfg := Default()
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		if _, err := toml.Decode(expandedData, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	} else if err := yaml.Unmarshal([]byte(expandedData), cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := cfg.finish(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadOrDefault behaves like Load but falls back to Default when the file
// does not exist.
func LoadOrDefault(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		cfg := Default()
		if err := cfg.finish(); err != nil {
			return nil, err
		}
		return cfg, nil
	}
	return Load(path)
}

func (c *Config) finish() error {
	if err := parseDurations(c); err != nil {
		return fmt.Errorf("parsing durations: %w", err)
	}
	c.Cache.Path = expandHome(c.Cache.Path)
	if err := c.Validate(); err != nil {
		return fmt.Errorf("validating config: %w", err)
	}
	return nil
}

// Path returns the config file location.
// Priority: ALUMNI_DM_CONFIG > XDG_CONFIG_HOME/alumni-dm > ~/.config/alumni-dm
func Path() string {
	if envPath := os.Getenv("ALUMNI_DM_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "config.yaml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "alumni-dm", "config.yaml")
}

// DataDir returns the directory for durable client state.
// Priority: XDG_DATA_HOME/alumni-dm > ~/.local/share/alumni-dm
func DataDir() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "data" // fallback
		}
		dataDir = filepath.Join(homeDir, ".local", "share")
	}

	return filepath.Join(dataDir, "alumni-dm")
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		return os.Getenv(envVarPattern.FindStringSubmatch(match)[1])
	})
}

func expandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(homeDir, strings.TrimPrefix(path, "~"))
}

// Validate checks the fields every binary depends on.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Backend.RequestsPerSecond < 0 {
		return fmt.Errorf("backend.requests_per_second must not be negative")
	}

	switch c.Cache.Driver {
	case "sqlite", "sqlite3":
		if c.Cache.Path == "" {
			return fmt.Errorf("cache.path is required for driver %q", c.Cache.Driver)
		}
	case "memory", "none":
	default:
		return fmt.Errorf("cache.driver %q is not one of sqlite, sqlite3, memory, none", c.Cache.Driver)
	}
	if c.Cache.TTL <= 0 {
		return fmt.Errorf("cache.ttl must be positive")
	}

	if c.Messaging.PollInterval <= 0 {
		return fmt.Errorf("messaging.poll_interval must be positive")
	}
	if c.Messaging.HistoryLimit <= 0 {
		return fmt.Errorf("messaging.history_limit must be positive")
	}
	if c.Messaging.DeleteWindow <= 0 {
		return fmt.Errorf("messaging.delete_window must be positive")
	}
	switch c.Messaging.DeletePolicy {
	case "optimistic", "confirmed":
	default:
		return fmt.Errorf("messaging.delete_policy %q is not one of optimistic, confirmed", c.Messaging.DeletePolicy)
	}
	switch c.Messaging.RecoveredProvisional {
	case "drop", "match":
	default:
		return fmt.Errorf("messaging.recovered_provisional %q is not one of drop, match", c.Messaging.RecoveredProvisional)
	}

	switch c.Logging.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("logging.format %q is not one of text, json", c.Logging.Format)
	}

	return nil
}

// ValidateClient checks what the terminal client needs on top of Validate.
func (c *Config) ValidateClient() error {
	if c.Backend.URL == "" {
		return fmt.Errorf("backend.url is required")
	}
	u, err := url.Parse(c.Backend.URL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("backend.url %q is not an absolute URL", c.Backend.URL)
	}
	return nil
}

// ValidateServer checks what the development backend needs on top of Validate.
func (c *Config) ValidateServer() error {
	if c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required")
	}
	if len(c.Server.JWTSecret) < 32 {
		return fmt.Errorf("server.jwt_secret must be at least 32 bytes")
	}
	return nil
}

// Terms returns the effective blocked-term list: BlockedTerms replaces
// defaults when set, and ExtraTerms is appended either way.
func (m ModerationConfig) Terms(defaults []string) []string {
	base := defaults
	if len(m.BlockedTerms) > 0 {
		base = m.BlockedTerms
	}
	terms := make([]string, 0, len(base)+len(m.ExtraTerms))
	terms = append(terms, base...)
	return append(terms, m.ExtraTerms...)
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	fields := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"backend.timeout", cfg.Backend.TimeoutRaw, &cfg.Backend.Timeout},
		{"cache.ttl", cfg.Cache.TTLRaw, &cfg.Cache.TTL},
		{"messaging.poll_interval", cfg.Messaging.PollIntervalRaw, &cfg.Messaging.PollInterval},
		{"messaging.delete_window", cfg.Messaging.DeleteWindowRaw, &cfg.Messaging.DeleteWindow},
	}

	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", f.name, f.raw, err)
		}
		*f.dst = d
	}

	return nil
}
