package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "pyrunner.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Chdir(t.TempDir())

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 8000, cfg.Server.Port)
	assert.Equal(t, []string{"*"}, cfg.Server.AllowedOrigins)
	assert.Equal(t, "python3", cfg.Executor.Interpreter)
	assert.Equal(t, 100*time.Millisecond, cfg.Executor.SampleInterval)
	assert.Equal(t, 500*time.Millisecond, cfg.Executor.GracePeriod)
	assert.Equal(t, 30*time.Second, cfg.Executor.ParseTimeout)
	assert.Equal(t, 300, cfg.Executor.CPUSeconds)
	assert.Equal(t, 50, cfg.Executor.MaxOpenFiles)
	assert.Equal(t, 30, cfg.Limits.DefaultTimeout)
	assert.Equal(t, 300, cfg.Limits.MaxTimeout)
	assert.Equal(t, 512, cfg.Limits.DefaultMemoryMB)
	assert.Equal(t, 2048, cfg.Limits.MaxMemoryMB)
	assert.Equal(t, 1_000_000, cfg.Limits.MaxCodeChars)
	assert.False(t, cfg.Policy.AllowUnderscoreModules)
	assert.Equal(t, []string{"numpy", "sympy", "pandas"}, cfg.Preload)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)

	b := cfg.Bounds()
	assert.Equal(t, 1, b.MinTimeout)
	assert.Equal(t, 64, b.MinMemoryMB)
	assert.Equal(t, cfg.Executor.MaxOutputBytes, cfg.SandboxOptions().MaxOutputBytes)
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 9000
  allowed_origins: ["https://example.com"]
executor:
  interpreter: /usr/bin/python3.12
  grace_period: 1s
limits:
  max_timeout: 60
policy:
  allow_underscore_modules: true
preload: []
log:
  format: console
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, []string{"https://example.com"}, cfg.Server.AllowedOrigins)
	assert.Equal(t, "/usr/bin/python3.12", cfg.Executor.Interpreter)
	assert.Equal(t, time.Second, cfg.Executor.GracePeriod)
	assert.Equal(t, 60, cfg.Limits.MaxTimeout)
	assert.Equal(t, 30, cfg.Limits.DefaultTimeout, "unset keys keep defaults")
	assert.True(t, cfg.Policy.AllowUnderscoreModules)
	assert.Empty(t, cfg.Preload)
	assert.Equal(t, "console", cfg.Log.Format)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("PYRUNNER_SERVER_PORT", "9100")
	t.Setenv("PYRUNNER_EXECUTOR_SAMPLE_INTERVAL", "250ms")
	t.Setenv("PYRUNNER_LOG_LEVEL", "debug")

	cfg, err := Load(writeConfig(t, "server:\n  port: 9000\n"))
	require.NoError(t, err)

	assert.Equal(t, 9100, cfg.Server.Port, "environment wins over the file")
	assert.Equal(t, 250*time.Millisecond, cfg.Executor.SampleInterval)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoadExpandsPaths(t *testing.T) {
	t.Setenv("POLICY_PATH", "/srv/policy.yaml")

	cfg, err := Load(writeConfig(t, "policy:\n  file: ${POLICY_PATH}\n"))
	require.NoError(t, err)
	assert.Equal(t, "/srv/policy.yaml", cfg.Policy.File)
}

func TestLoadMissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestLoadRejectsInvalid(t *testing.T) {
	tests := map[string]string{
		"bad port":         "server:\n  port: 70000\n",
		"inverted limits":  "limits:\n  min_timeout: 10\n  default_timeout: 5\n",
		"memory above max": "limits:\n  default_memory_mb: 4096\n",
		"log format":       "log:\n  format: xml\n",
		"empty interp":     "executor:\n  interpreter: \"\"\n",
	}
	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeConfig(t, body))
			assert.Error(t, err)
		})
	}
}
