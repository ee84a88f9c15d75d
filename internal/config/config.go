// Package config provides configuration loading for errmond.
//
// Configuration is loaded from a YAML file and overridden by environment
// variables, with hardcoded defaults below both.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Config holds the complete errmond configuration.
type Config struct {
	Server     ServerConfig     `koanf:"server"`
	Logging    LoggingConfig    `koanf:"logging"`
	Telemetry  TelemetryConfig  `koanf:"telemetry"`
	Loki       LokiConfig       `koanf:"loki"`
	Anthropic  AnthropicConfig  `koanf:"anthropic"`
	Git        GitConfig        `koanf:"git"`
	GitHub     GitHubConfig     `koanf:"github"`
	Supervisor SupervisorConfig `koanf:"supervisor"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port            int           `koanf:"port"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

// LoggingConfig holds logger configuration.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// TelemetryConfig holds OpenTelemetry export configuration.
type TelemetryConfig struct {
	Enabled     bool   `koanf:"enabled"`
	ServiceName string `koanf:"service_name"`
	Endpoint    string `koanf:"endpoint"`
}

// LokiConfig holds log source configuration. An empty URL disables the
// source entirely.
type LokiConfig struct {
	URL     string        `koanf:"url"`
	Query   string        `koanf:"query"`
	Timeout time.Duration `koanf:"timeout"`
}

// AnthropicConfig holds model API configuration for fix synthesis.
type AnthropicConfig struct {
	APIKey Secret `koanf:"api_key"`
	Model  string `koanf:"model"`
}

// GitConfig points at the working copy fixes are committed to. An empty
// path disables the commit workflow.
type GitConfig struct {
	Path        string `koanf:"path"`
	AuthorName  string `koanf:"author_name"`
	AuthorEmail string `koanf:"author_email"`
}

// GitHubConfig holds pull request host configuration. An empty token
// disables pull requests.
type GitHubConfig struct {
	Token      Secret `koanf:"token"`
	Repository string `koanf:"repository"`
	BaseBranch string `koanf:"base_branch"`
}

// SupervisorConfig holds the supervision loop configuration.
type SupervisorConfig struct {
	Enabled      bool          `koanf:"enabled"`
	AutoFix      bool          `koanf:"auto_fix"`
	Interval     time.Duration `koanf:"interval"`
	Lookback     time.Duration `koanf:"lookback"`
	FetchLimit   int           `koanf:"fetch_limit"`
	FixThreshold int           `koanf:"fix_threshold"`
}

// applyDefaults sets default values for missing configuration fields.
func applyDefaults(cfg *Config) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 10 * time.Second
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}

	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = "errmond"
	}
	if cfg.Telemetry.Endpoint == "" {
		cfg.Telemetry.Endpoint = "localhost:4317"
	}

	if cfg.Loki.Query == "" {
		cfg.Loki.Query = `{level="ERROR"}`
	}
	if cfg.Loki.Timeout == 0 {
		cfg.Loki.Timeout = 10 * time.Second
	}

	if cfg.Anthropic.Model == "" {
		cfg.Anthropic.Model = "claude-opus-4-1-20250805"
	}

	if cfg.Git.AuthorName == "" {
		cfg.Git.AuthorName = "errmond"
	}
	if cfg.Git.AuthorEmail == "" {
		cfg.Git.AuthorEmail = "errmond@localhost"
	}

	if cfg.GitHub.BaseBranch == "" {
		cfg.GitHub.BaseBranch = "main"
	}

	if cfg.Supervisor.Interval == 0 {
		cfg.Supervisor.Interval = 5 * time.Minute
	}
	if cfg.Supervisor.Lookback == 0 {
		cfg.Supervisor.Lookback = 10 * time.Minute
	}
	if cfg.Supervisor.FetchLimit == 0 {
		cfg.Supervisor.FetchLimit = 500
	}
	if cfg.Supervisor.FixThreshold == 0 {
		cfg.Supervisor.FixThreshold = 1
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d (must be 1-65535)", c.Server.Port)
	}
	if c.Server.ShutdownTimeout <= 0 {
		return errors.New("shutdown timeout must be positive")
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level: %q", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "json", "console":
	default:
		return fmt.Errorf("invalid log format: %q", c.Logging.Format)
	}

	if c.Telemetry.Enabled && c.Telemetry.ServiceName == "" {
		return errors.New("service name required when telemetry is enabled")
	}

	if c.GitHub.Token.IsSet() {
		if c.GitHub.Repository == "" {
			return errors.New("github repository required when a token is set")
		}
		if !strings.Contains(c.GitHub.Repository, "/") {
			return fmt.Errorf("github repository must be owner/name, got %q", c.GitHub.Repository)
		}
	}

	if c.Supervisor.AutoFix && !c.Anthropic.APIKey.IsSet() {
		return errors.New("auto-fix requires an anthropic api key")
	}
	if c.Supervisor.Interval <= 0 || c.Supervisor.Lookback <= 0 {
		return errors.New("supervisor interval and lookback must be positive")
	}

	return nil
}
