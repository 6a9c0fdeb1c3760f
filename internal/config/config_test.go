package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"arclight/internal/models"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{EnvBaseURL, EnvAPIKey, EnvProxyURL, EnvConfigPath} {
		t.Setenv(k, "")
	}
}

func TestLoadYAML(t *testing.T) {
	clearEnv(t)
	t.Setenv("TEST_UPSTREAM_KEY", "sk-test")

	path := writeFile(t, "config.yaml", `
server:
  addr: "127.0.0.1:9000"
  read_header_timeout: "3s"
upstream:
  base_url: "https://generativelanguage.googleapis.com/v1beta/openai"
  api_key: "${TEST_UPSTREAM_KEY}"
  headers:
    X-Title: arclight
models:
  - label: Only
    value: only-model
storage:
  driver: pebble
  path: /tmp/arclight-pebble
logging:
  level: debug
  format: json
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:9000", cfg.Server.Addr)
	assert.Equal(t, 3*time.Second, cfg.Server.ReadHeaderTimeout)
	assert.Equal(t, "sk-test", cfg.Upstream.APIKey)
	assert.Equal(t, map[string]string{"X-Title": "arclight"}, cfg.Upstream.Headers)
	assert.Equal(t, []models.ModelOption{{Label: "Only", Value: "only-model"}}, cfg.Models)
	assert.Equal(t, "pebble", cfg.Storage.Driver)
	assert.Equal(t, "debug", cfg.Logging.Level)
	// untouched sections keep their defaults
	assert.Equal(t, "http://localhost:8787", cfg.Client.ProxyURL)
	assert.Equal(t, 10, cfg.RateLimit.Burst)
	require.NoError(t, cfg.ValidateServe())
}

func TestLoadTOML(t *testing.T) {
	clearEnv(t)

	path := writeFile(t, "config.toml", `
[upstream]
base_url = "http://localhost:11434/v1"

[client]
default_model = "llama3"

[rate_limit]
requests_per_second = 0.5
burst = 2

[[models]]
label = "Llama 3"
value = "llama3"
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:11434/v1", cfg.Upstream.BaseURL)
	assert.Equal(t, "llama3", cfg.Client.DefaultModel)
	assert.Equal(t, 0.5, cfg.RateLimit.RequestsPerSecond)
	assert.Equal(t, []models.ModelOption{{Label: "Llama 3", Value: "llama3"}}, cfg.Models)
}

func TestEnvOverridesFile(t *testing.T) {
	clearEnv(t)
	t.Setenv(EnvBaseURL, "https://override.example/v1")
	t.Setenv(EnvProxyURL, "http://proxy.example:1234")

	path := writeFile(t, "config.yaml", "upstream:\n  base_url: https://file.example/v1\n")
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "https://override.example/v1", cfg.Upstream.BaseURL)
	assert.Equal(t, "http://proxy.example:1234", cfg.Client.ProxyURL)
}

func TestLoadErrors(t *testing.T) {
	clearEnv(t)

	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	_, err = Load(writeFile(t, "bad.yaml", "server: [\n"))
	assert.ErrorContains(t, err, "parsing config YAML")

	_, err = Load(writeFile(t, "dur.yaml", "server:\n  read_header_timeout: soon\n"))
	assert.ErrorContains(t, err, "read_header_timeout")

	_, err = Load(writeFile(t, "drv.yaml", "storage:\n  driver: redis\n"))
	assert.ErrorContains(t, err, "storage.driver")

	_, err = Load(writeFile(t, "lvl.yaml", "logging:\n  level: loud\n"))
	assert.ErrorContains(t, err, "logging.level")
}

func TestValidateServeRequiresBaseURL(t *testing.T) {
	clearEnv(t)
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.ErrorContains(t, cfg.ValidateServe(), "upstream.base_url")

	cfg.Upstream.BaseURL = "not a url"
	assert.Error(t, cfg.ValidateServe())
}

func TestResolveExplicitAndEnvPath(t *testing.T) {
	clearEnv(t)
	t.Chdir(t.TempDir())

	path := writeFile(t, "a.yaml", "client:\n  default_model: from-a\n")
	cfg, err := Resolve(path)
	require.NoError(t, err)
	assert.Equal(t, "from-a", cfg.Client.DefaultModel)

	other := writeFile(t, "b.yaml", "client:\n  default_model: from-b\n")
	t.Setenv(EnvConfigPath, other)
	cfg, err = Resolve("")
	require.NoError(t, err)
	assert.Equal(t, "from-b", cfg.Client.DefaultModel)
}

func TestResolveReadsDotEnv(t *testing.T) {
	clearEnv(t)
	os.Unsetenv(EnvBaseURL)
	dir := t.TempDir()
	t.Chdir(dir)
	t.Setenv("HOME", dir)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte(EnvBaseURL+"=https://dotenv.example/v1\n"), 0o600))

	cfg, err := Resolve("")
	require.NoError(t, err)
	assert.Equal(t, "https://dotenv.example/v1", cfg.Upstream.BaseURL)
	assert.Equal(t, DefaultModels, cfg.Models)
}

func TestExpandEnvVars(t *testing.T) {
	t.Setenv("ARCLIGHT_TEST_A", "alpha")
	assert.Equal(t, "x=alpha y=", expandEnvVars("x=${ARCLIGHT_TEST_A} y=${ARCLIGHT_TEST_UNSET_Z}"))
}
