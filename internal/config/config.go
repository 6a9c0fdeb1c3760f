// Package config loads arclight settings from a YAML or TOML file, the
// process environment and an optional .env file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"arclight/internal/db"
	"arclight/internal/models"
)

const (
	EnvConfigPath = "ARCLIGHT_CONFIG"
	EnvBaseURL    = "OPENAI_BASE_URL"
	EnvAPIKey     = "OPENAI_API_KEY"
	EnvProxyURL   = "ARCLIGHT_PROXY_URL"
)

// Config is the top-level configuration for both the proxy and the client.
type Config struct {
	Server    ServerConfig         `yaml:"server" toml:"server"`
	Upstream  UpstreamConfig       `yaml:"upstream" toml:"upstream"`
	Models    []models.ModelOption `yaml:"models" toml:"models"`
	RateLimit RateLimitConfig      `yaml:"rate_limit" toml:"rate_limit"`
	Storage   StorageConfig        `yaml:"storage" toml:"storage"`
	Client    ClientConfig         `yaml:"client" toml:"client"`
	Logging   LoggingConfig        `yaml:"logging" toml:"logging"`
}

type ServerConfig struct {
	Addr string `yaml:"addr" toml:"addr"`

	ReadHeaderTimeout    time.Duration `yaml:"-" toml:"-"`
	ReadHeaderTimeoutRaw string        `yaml:"read_header_timeout" toml:"read_header_timeout"`
}

// UpstreamConfig points at an OpenAI-compatible API.
type UpstreamConfig struct {
	BaseURL string            `yaml:"base_url" toml:"base_url"`
	APIKey  string            `yaml:"api_key" toml:"api_key"`
	Headers map[string]string `yaml:"headers" toml:"headers"`
}

// RateLimitConfig is per client address. Zero requests_per_second disables it.
type RateLimitConfig struct {
	RequestsPerSecond float64 `yaml:"requests_per_second" toml:"requests_per_second"`
	Burst             int     `yaml:"burst" toml:"burst"`
}

type StorageConfig struct {
	Driver string `yaml:"driver" toml:"driver"`
	Path   string `yaml:"path" toml:"path"`
}

type ClientConfig struct {
	ProxyURL     string `yaml:"proxy_url" toml:"proxy_url"`
	DefaultModel string `yaml:"default_model" toml:"default_model"`
}

type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
	File   string `yaml:"file" toml:"file"`
}

// DefaultModels is served when neither the config nor the upstream provides
// a list.
var DefaultModels = []models.ModelOption{
	{Label: "Gemini 2.0 Flash Experimental", Value: "gemini-2.0-flash-exp"},
	{Label: "Gemini 1.5 Pro", Value: "gemini-1.5-pro"},
	{Label: "Gemini 1.5 Flash", Value: "gemini-1.5-flash"},
	{Label: "Gemini 1.5 Flash-8B", Value: "gemini-1.5-flash-8b"},
}

func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:                 ":8787",
			ReadHeaderTimeout:    10 * time.Second,
			ReadHeaderTimeoutRaw: "10s",
		},
		Models:    append([]models.ModelOption(nil), DefaultModels...),
		RateLimit: RateLimitConfig{RequestsPerSecond: 2, Burst: 10},
		Storage:   StorageConfig{Driver: db.DriverSQLite},
		Client:    ClientConfig{ProxyURL: "http://localhost:8787"},
		Logging:   LoggingConfig{Level: "info", Format: "text"},
	}
}

// Load reads the config file at path over the defaults, expands ${VAR}
// references, applies environment overrides and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	expanded := expandEnvVars(string(data))

	cfg := Default()
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		if _, err := toml.Decode(expanded, cfg); err != nil {
			return nil, fmt.Errorf("parsing config TOML: %w", err)
		}
	default:
		if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
			return nil, fmt.Errorf("parsing config YAML: %w", err)
		}
	}

	if err := parseDurations(cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}
	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

// Resolve loads .env from the working directory, then the config file named
// by explicit, $ARCLIGHT_CONFIG or the default location, in that order. A
// missing default file yields the defaults.
func Resolve(explicit string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("loading .env: %w", err)
	}

	path := explicit
	if path == "" {
		path = os.Getenv(EnvConfigPath)
	}
	if path != "" {
		return Load(path)
	}

	if def, err := DefaultPath(); err == nil {
		if _, statErr := os.Stat(def); statErr == nil {
			return Load(def)
		}
	}

	cfg := Default()
	applyEnv(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

// DefaultPath is config.yaml inside the data directory.
func DefaultPath() (string, error) {
	dir, err := db.DataDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.yaml"), nil
}

var envRef = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR_NAME} with the variable's value, or the empty
// string when it is unset.
func expandEnvVars(s string) string {
	return envRef.ReplaceAllStringFunc(s, func(match string) string {
		return os.Getenv(envRef.FindStringSubmatch(match)[1])
	})
}

func applyEnv(cfg *Config) {
	if v := os.Getenv(EnvBaseURL); v != "" {
		cfg.Upstream.BaseURL = v
	}
	if v := os.Getenv(EnvAPIKey); v != "" {
		cfg.Upstream.APIKey = v
	}
	if v := os.Getenv(EnvProxyURL); v != "" {
		cfg.Client.ProxyURL = v
	}
}

func parseDurations(cfg *Config) error {
	if cfg.Server.ReadHeaderTimeoutRaw != "" {
		d, err := time.ParseDuration(cfg.Server.ReadHeaderTimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing read_header_timeout %q: %w", cfg.Server.ReadHeaderTimeoutRaw, err)
		}
		cfg.Server.ReadHeaderTimeout = d
	}
	return nil
}

// Validate checks settings shared by every subcommand.
func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case db.DriverSQLite, db.DriverPebble:
	default:
		return fmt.Errorf("storage.driver must be %q or %q, got %q", db.DriverSQLite, db.DriverPebble, c.Storage.Driver)
	}

	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("logging.level %q is not one of debug, info, warn, error", c.Logging.Level)
	}
	switch strings.ToLower(c.Logging.Format) {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format %q is not one of text, json", c.Logging.Format)
	}

	if c.RateLimit.RequestsPerSecond < 0 {
		return fmt.Errorf("rate_limit.requests_per_second must not be negative")
	}
	if c.RateLimit.RequestsPerSecond > 0 && c.RateLimit.Burst <= 0 {
		return fmt.Errorf("rate_limit.burst must be positive when rate limiting is enabled")
	}

	for i, m := range c.Models {
		if m.Value == "" {
			return fmt.Errorf("models[%d].value is required", i)
		}
	}
	return nil
}

// ValidateServe checks what the proxy needs on top of Validate. A missing
// upstream endpoint is fatal for the proxy.
func (c *Config) ValidateServe() error {
	if c.Upstream.BaseURL == "" {
		return fmt.Errorf("upstream.base_url is required (or set %s)", EnvBaseURL)
	}
	if _, err := url.ParseRequestURI(c.Upstream.BaseURL); err != nil {
		return fmt.Errorf("upstream.base_url: %w", err)
	}
	if c.Server.Addr == "" {
		return fmt.Errorf("server.addr is required")
	}
	return nil
}
