// Package config handles application configuration
package config

import (
	_ "embed"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

//go:embed config.sample.yaml
var sampleConfig string

// GetSampleConfig returns the embedded sample configuration content
func GetSampleConfig() string {
	return sampleConfig
}

// DefaultTimeout is used when the config file does not set one.
const DefaultTimeout = 30 * time.Second

// MineConfig describes one named mine.
type MineConfig struct {
	URL      string `yaml:"url"`
	Username string `yaml:"username"`
}

// LoggingConfig holds logging settings
type LoggingConfig struct {
	Verbose bool `yaml:"verbose"`
}

// AnalyticsConfig holds analytics settings
type AnalyticsConfig struct {
	Enabled       bool `yaml:"enabled"`
	RetentionDays int  `yaml:"retention_days"`
}

// Config represents the application configuration
type Config struct {
	DefaultMine  string                `yaml:"default_mine"`
	Mines        map[string]MineConfig `yaml:"mines"`
	OutputFormat string                `yaml:"output_format"`
	Timeout      string                `yaml:"timeout"`
	Logging      LoggingConfig         `yaml:"logging"`
	Analytics    AnalyticsConfig       `yaml:"analytics"`
}

// DefaultConfig returns a config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		DefaultMine: "flymine",
		Mines: map[string]MineConfig{
			"flymine":   {URL: "https://www.flymine.org/flymine"},
			"humanmine": {URL: "https://www.humanmine.org/humanmine"},
		},
		OutputFormat: "text",
		Timeout:      "30s",
		Analytics: AnalyticsConfig{
			Enabled:       true,
			RetentionDays: 365,
		},
	}
}

// LoadDotEnv loads MINEAT_* variables from a .env file in dir. Variables
// already set in the environment win. A missing file is not an error.
func LoadDotEnv(dir string) error {
	path := filepath.Join(dir, ".env")
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	return nil
}

// Load loads configuration from the specified path, or the default XDG path if empty.
// If the config file doesn't exist, it creates one from the sample.
func Load(configPath string) (*Config, error) {
	if configPath == "" {
		configPath = filepath.Join(GetConfigDir(), "config.yaml")
	}

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		cfg := DefaultConfig()
		if err := cfg.save(configPath); err != nil {
			return nil, fmt.Errorf("failed to create default config: %w", err)
		}
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	return Parse(data)
}

// Parse decodes YAML and applies defaults for unset fields.
func Parse(data []byte) (*Config, error) {
	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid YAML in config file: %w", err)
	}

	if cfg.OutputFormat == "" {
		cfg.OutputFormat = "text"
	}
	if cfg.Timeout == "" {
		cfg.Timeout = "30s"
	}
	if cfg.Mines == nil {
		cfg.Mines = map[string]MineConfig{}
	}
	return cfg, nil
}

// save writes the sample configuration to path
func (c *Config) save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.OutputFormat != "text" && c.OutputFormat != "json" {
		return fmt.Errorf("invalid output_format: %q (must be 'text' or 'json')", c.OutputFormat)
	}

	if c.Timeout != "" {
		d, err := time.ParseDuration(c.Timeout)
		if err != nil {
			return fmt.Errorf("invalid duration for timeout: %q", c.Timeout)
		}
		if d <= 0 {
			return fmt.Errorf("timeout must be positive, got %q", c.Timeout)
		}
	}

	for _, name := range c.MineNames() {
		m := c.Mines[name]
		if m.URL == "" {
			return fmt.Errorf("mine %q has no url", name)
		}
		u, err := url.Parse(m.URL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("mine %q has an invalid url: %q", name, m.URL)
		}
	}

	if c.DefaultMine != "" {
		if _, ok := c.Mines[c.DefaultMine]; !ok {
			return errors.New("default_mine '" + c.DefaultMine + "' is not defined under mines")
		}
	}

	if c.Analytics.RetentionDays < 0 {
		return fmt.Errorf("analytics.retention_days must not be negative, got %d", c.Analytics.RetentionDays)
	}

	return nil
}

// ApplyFlags applies CLI flag overrides to the configuration
func (c *Config) ApplyFlags(verbose bool, outputFormat string) {
	if verbose {
		c.Logging.Verbose = true
	}
	if outputFormat != "" {
		c.OutputFormat = outputFormat
	}
}

// MineNames returns the configured mine names in sorted order.
func (c *Config) MineNames() []string {
	names := make([]string, 0, len(c.Mines))
	for name := range c.Mines {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// GetMine returns the named mine, or the default mine when name is empty.
// Names are matched case-insensitively.
func (c *Config) GetMine(name string) (string, MineConfig, bool) {
	if name == "" {
		name = c.DefaultMine
	}
	if m, ok := c.Mines[name]; ok {
		return name, m, true
	}
	for key, m := range c.Mines {
		if strings.EqualFold(key, name) {
			return key, m, true
		}
	}
	return name, MineConfig{}, false
}

// GetTimeout returns the request timeout.
// Returns 30 seconds if not configured or if parsing fails.
func (c *Config) GetTimeout() time.Duration {
	d, err := time.ParseDuration(c.Timeout)
	if err != nil || d <= 0 {
		return DefaultTimeout
	}
	return d
}

// IsAnalyticsEnabled returns true if analytics is enabled in config
func (c *Config) IsAnalyticsEnabled() bool {
	return c.Analytics.Enabled
}

// GetAnalyticsRetentionDays returns the analytics retention period in days.
// Returns 365 (default) if not configured.
func (c *Config) GetAnalyticsRetentionDays() int {
	if c.Analytics.RetentionDays <= 0 {
		return 365
	}
	return c.Analytics.RetentionDays
}

// getXDGDir returns a directory path following XDG spec.
// envVar is the XDG environment variable (e.g., "XDG_CONFIG_HOME").
// fallbackPath is the relative path from home (e.g., ".config").
func getXDGDir(envVar, fallbackPath string) string {
	if xdgDir := os.Getenv(envVar); xdgDir != "" {
		return filepath.Join(xdgDir, "mineat")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", fallbackPath, "mineat")
	}
	return filepath.Join(home, fallbackPath, "mineat")
}

// GetConfigDir returns the configuration directory following XDG spec
func GetConfigDir() string {
	return getXDGDir("XDG_CONFIG_HOME", ".config")
}

// GetDataDir returns the data directory following XDG spec
func GetDataDir() string {
	return getXDGDir("XDG_DATA_HOME", filepath.Join(".local", "share"))
}

// ExpandPath expands ~ and environment variables in a path
func ExpandPath(path string) string {
	if path == "" {
		return path
	}

	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err == nil {
			path = filepath.Join(home, path[2:])
		}
	}

	return os.ExpandEnv(path)
}
