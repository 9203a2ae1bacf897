// ABOUTME: Configuration loading and parsing for hearth-admin
// ABOUTME: Supports YAML files with environment variable expansion

package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete hearth-admin configuration
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Export   ExportConfig   `yaml:"export"`
	Tokens   TokensConfig   `yaml:"tokens"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// ServerConfig holds server address configuration
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// ExportConfig holds user-data export configuration
type ExportConfig struct {
	// Dir is the root directory new exports are written under.
	Dir string `yaml:"dir"`
}

// TokensConfig holds admin token issuance configuration
type TokensConfig struct {
	DefaultTTL time.Duration `yaml:"-"`

	// Raw string value for YAML unmarshaling
	DefaultTTLRaw string `yaml:"default_ttl"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// defaultTokenTTL applies when tokens.default_ttl is unset: 30 days.
const defaultTokenTTL = 30 * 24 * time.Hour

// Load reads a configuration file from the given path and returns a parsed
// Config. Environment variables in the format ${VAR_NAME} are expanded.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables in the raw YAML content
	expandedData := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding
// environment variable values. Unset variables become empty strings.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required")
	}

	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}

	if c.Export.Dir == "" {
		return fmt.Errorf("export.dir is required")
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	cfg.Tokens.DefaultTTL = defaultTokenTTL

	if cfg.Tokens.DefaultTTLRaw != "" {
		ttl, err := time.ParseDuration(cfg.Tokens.DefaultTTLRaw)
		if err != nil {
			return fmt.Errorf("parsing default_ttl %q: %w", cfg.Tokens.DefaultTTLRaw, err)
		}
		cfg.Tokens.DefaultTTL = ttl
	}

	return nil
}
