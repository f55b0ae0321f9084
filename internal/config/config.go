// Copyright 2025 Joseph Cumines

// Package config provides configuration loading for the windowkit daemon:
// an optional YAML file as the base layer, overridden by environment
// variables, with defaults beneath both.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// TransportType represents the MCP transport type
type TransportType string

const (
	// TransportStdio uses stdin/stdout for communication
	TransportStdio TransportType = "stdio"
	// TransportHTTP uses HTTP/SSE for communication
	TransportHTTP TransportType = "sse"
)

// Config holds the configuration for the windowkit daemon. All fields have
// sensible defaults via the Load function.
type Config struct {
	// Transport is the transport type: "stdio" or "sse" (env: WINDOWKIT_TRANSPORT, default: stdio)
	Transport TransportType `yaml:"transport"`
	// HTTPAddress is the HTTP/SSE server listen address (env: WINDOWKIT_HTTP_ADDRESS, default: :8080)
	HTTPAddress string `yaml:"http_address"`
	// HTTPSocketPath is the Unix socket path for HTTP transport (env: WINDOWKIT_HTTP_SOCKET, optional)
	HTTPSocketPath string `yaml:"http_socket"`
	// CORSOrigin is the allowed CORS origin (env: WINDOWKIT_CORS_ORIGIN, default: *)
	CORSOrigin string `yaml:"cors_origin"`
	// AuthToken, when non-empty, requires a matching bearer token on every
	// HTTP request (env: WINDOWKIT_AUTH_TOKEN, optional)
	AuthToken string `yaml:"auth_token"`
	// HeartbeatInterval is the SSE heartbeat interval (env: WINDOWKIT_HEARTBEAT_INTERVAL, default: 30s)
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
	// HTTPReadTimeout is the HTTP server read timeout (env: WINDOWKIT_HTTP_READ_TIMEOUT, default: 30s)
	HTTPReadTimeout time.Duration `yaml:"http_read_timeout"`
	// HTTPWriteTimeout is the HTTP server write timeout (env: WINDOWKIT_HTTP_WRITE_TIMEOUT, default: 30s)
	HTTPWriteTimeout time.Duration `yaml:"http_write_timeout"`
	// RateLimitPerMinute caps tool calls per client per minute over HTTP;
	// zero disables limiting (env: WINDOWKIT_RATE_LIMIT, default: 0)
	RateLimitPerMinute int `yaml:"rate_limit_per_minute"`

	// Headless disables screen-capture discovery and preview capture
	// (env: WINDOWKIT_HEADLESS, default: false)
	Headless bool `yaml:"headless"`
	// PreviewCacheDuration is how long a captured preview stays fresh
	// (env: WINDOWKIT_PREVIEW_CACHE_DURATION, default: 30s)
	PreviewCacheDuration time.Duration `yaml:"preview_cache_duration"`
	// PreviewCacheCapacity bounds how many previews are held
	// (env: WINDOWKIT_PREVIEW_CACHE_CAPACITY, default: 100)
	PreviewCacheCapacity int `yaml:"preview_cache_capacity"`
	// DebounceInterval is the notification coalescing window
	// (env: WINDOWKIT_DEBOUNCE_INTERVAL, default: 300ms)
	DebounceInterval time.Duration `yaml:"debounce_interval"`
	// IgnoredPIDs lists process ids excluded from tracking
	// (env: WINDOWKIT_IGNORED_PIDS, comma-separated, optional)
	IgnoredPIDs []int32 `yaml:"ignored_pids"`

	// AuditLogPath, when non-empty, appends a JSON audit record per tool
	// invocation (env: WINDOWKIT_AUDIT_LOG, optional)
	AuditLogPath string `yaml:"audit_log"`
	// Debug enables debug logging (env: WINDOWKIT_DEBUG, default: false)
	Debug bool `yaml:"debug"`
}

// Load loads the configuration: defaults, then the YAML file named by
// WINDOWKIT_CONFIG_FILE (if set), then environment variables on top.
func Load() (*Config, error) {
	cfg := &Config{
		Transport:            TransportStdio,
		HTTPAddress:          ":8080",
		CORSOrigin:           "*",
		HeartbeatInterval:    30 * time.Second,
		HTTPReadTimeout:      30 * time.Second,
		HTTPWriteTimeout:     30 * time.Second,
		PreviewCacheDuration: 30 * time.Second,
		PreviewCacheCapacity: 100,
		DebounceInterval:     300 * time.Millisecond,
	}

	if path := os.Getenv("WINDOWKIT_CONFIG_FILE"); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.loadEnv(); err != nil {
		return nil, err
	}

	if cfg.Transport != TransportStdio && cfg.Transport != TransportHTTP {
		return nil, fmt.Errorf("invalid transport type: %s (must be 'stdio' or 'sse')", cfg.Transport)
	}
	if cfg.PreviewCacheDuration <= 0 {
		return nil, fmt.Errorf("preview cache duration must be positive, got %v", cfg.PreviewCacheDuration)
	}
	if cfg.DebounceInterval <= 0 {
		return nil, fmt.Errorf("debounce interval must be positive, got %v", cfg.DebounceInterval)
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parsing config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) loadEnv() error {
	c.Transport = TransportType(getEnv("WINDOWKIT_TRANSPORT", string(c.Transport)))
	c.HTTPAddress = getEnv("WINDOWKIT_HTTP_ADDRESS", c.HTTPAddress)
	c.HTTPSocketPath = getEnv("WINDOWKIT_HTTP_SOCKET", c.HTTPSocketPath)
	c.CORSOrigin = getEnv("WINDOWKIT_CORS_ORIGIN", c.CORSOrigin)
	c.AuthToken = getEnv("WINDOWKIT_AUTH_TOKEN", c.AuthToken)
	c.AuditLogPath = getEnv("WINDOWKIT_AUDIT_LOG", c.AuditLogPath)
	c.Headless = getEnvAsBool("WINDOWKIT_HEADLESS", c.Headless)
	c.Debug = getEnvAsBool("WINDOWKIT_DEBUG", c.Debug)

	var err error
	if c.HeartbeatInterval, err = getEnvAsDuration("WINDOWKIT_HEARTBEAT_INTERVAL", c.HeartbeatInterval); err != nil {
		return err
	}
	if c.HTTPReadTimeout, err = getEnvAsDuration("WINDOWKIT_HTTP_READ_TIMEOUT", c.HTTPReadTimeout); err != nil {
		return err
	}
	if c.HTTPWriteTimeout, err = getEnvAsDuration("WINDOWKIT_HTTP_WRITE_TIMEOUT", c.HTTPWriteTimeout); err != nil {
		return err
	}
	if c.PreviewCacheDuration, err = getEnvAsDuration("WINDOWKIT_PREVIEW_CACHE_DURATION", c.PreviewCacheDuration); err != nil {
		return err
	}
	if c.DebounceInterval, err = getEnvAsDuration("WINDOWKIT_DEBOUNCE_INTERVAL", c.DebounceInterval); err != nil {
		return err
	}
	if c.PreviewCacheCapacity, err = getEnvAsInt("WINDOWKIT_PREVIEW_CACHE_CAPACITY", c.PreviewCacheCapacity); err != nil {
		return err
	}
	if c.RateLimitPerMinute, err = getEnvAsInt("WINDOWKIT_RATE_LIMIT", c.RateLimitPerMinute); err != nil {
		return err
	}
	if pids, err := getEnvAsPIDList("WINDOWKIT_IGNORED_PIDS"); err != nil {
		return err
	} else if pids != nil {
		c.IgnoredPIDs = pids
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value == "true" || value == "1" || value == "yes"
}

func getEnvAsInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	var result int
	_, err := fmt.Sscanf(value, "%d", &result)
	if err != nil {
		return 0, fmt.Errorf("invalid value for %s: %q (expected integer)", key, value)
	}
	return result, nil
}

func getEnvAsDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid value for %s: %q (expected duration, e.g., '30s', '5m')", key, value)
	}
	return d, nil
}

func getEnvAsPIDList(key string) ([]int32, error) {
	value := os.Getenv(key)
	if value == "" {
		return nil, nil
	}
	parts := strings.Split(value, ",")
	out := make([]int32, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		var pid int32
		if _, err := fmt.Sscanf(part, "%d", &pid); err != nil {
			return nil, fmt.Errorf("invalid value for %s: %q (expected comma-separated pids)", key, value)
		}
		out = append(out, pid)
	}
	return out, nil
}
