package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 10*time.Second, cfg.Server.ShutdownTimeout)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.Equal(t, "errmond", cfg.Telemetry.ServiceName)
	assert.Equal(t, `{level="ERROR"}`, cfg.Loki.Query)
	assert.Equal(t, 5*time.Minute, cfg.Supervisor.Interval)
	assert.Equal(t, 1, cfg.Supervisor.FixThreshold)
	assert.Equal(t, "main", cfg.GitHub.BaseBranch)
	assert.Empty(t, cfg.Loki.URL, "log source is disabled by default")
}

func TestLoad_YAMLFile(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 9191
loki:
  url: http://loki:3100
  timeout: 30s
supervisor:
  enabled: true
  interval: 1m
  fix_threshold: 3
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9191, cfg.Server.Port)
	assert.Equal(t, "http://loki:3100", cfg.Loki.URL)
	assert.Equal(t, 30*time.Second, cfg.Loki.Timeout)
	assert.True(t, cfg.Supervisor.Enabled)
	assert.Equal(t, time.Minute, cfg.Supervisor.Interval)
	assert.Equal(t, 3, cfg.Supervisor.FixThreshold)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := writeConfig(t, "server:\n  port: 9191\n")

	t.Setenv("SERVER_PORT", "7070")
	t.Setenv("LOKI_URL", "http://env-loki:3100")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 7070, cfg.Server.Port)
	assert.Equal(t, "http://env-loki:3100", cfg.Loki.URL)
}

func TestLoad_CompoundEnvFieldNames(t *testing.T) {
	t.Setenv("SUPERVISOR_FIX_THRESHOLD", "9")
	t.Setenv("SERVER_SHUTDOWN_TIMEOUT", "25s")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 9, cfg.Supervisor.FixThreshold)
	assert.Equal(t, 25*time.Second, cfg.Server.ShutdownTimeout)
}

func TestLoad_RejectsInsecurePermissions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  port: 9191\n"), 0644))

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "insecure config file permissions")
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		cfg := &Config{}
		applyDefaults(cfg)
		return cfg
	}

	t.Run("valid defaults", func(t *testing.T) {
		assert.NoError(t, base().Validate())
	})

	t.Run("bad port", func(t *testing.T) {
		cfg := base()
		cfg.Server.Port = 70000
		assert.Error(t, cfg.Validate())
	})

	t.Run("bad log level", func(t *testing.T) {
		cfg := base()
		cfg.Logging.Level = "verbose"
		assert.Error(t, cfg.Validate())
	})

	t.Run("github token without repository", func(t *testing.T) {
		cfg := base()
		cfg.GitHub.Token = "ghp_test"
		assert.Error(t, cfg.Validate())

		cfg.GitHub.Repository = "not-owner-slash-name"
		assert.Error(t, cfg.Validate())

		cfg.GitHub.Repository = "acme/api"
		assert.NoError(t, cfg.Validate())
	})

	t.Run("auto-fix requires api key", func(t *testing.T) {
		cfg := base()
		cfg.Supervisor.AutoFix = true
		assert.Error(t, cfg.Validate())

		cfg.Anthropic.APIKey = "sk-ant-test"
		assert.NoError(t, cfg.Validate())
	})
}

func TestSecret_Redaction(t *testing.T) {
	s := Secret("sk-ant-very-secret")

	assert.Equal(t, "[REDACTED]", s.String())
	assert.Equal(t, "[REDACTED]", fmt.Sprintf("%v", s))
	assert.Equal(t, "Secret([REDACTED])", fmt.Sprintf("%#v", s))
	assert.Equal(t, "sk-ant-very-secret", s.Value())
	assert.True(t, s.IsSet())

	data, err := json.Marshal(s)
	require.NoError(t, err)
	assert.Equal(t, `"[REDACTED]"`, string(data))

	var empty Secret
	assert.Equal(t, "", empty.String())
	assert.False(t, empty.IsSet())
}
