// Package config handles configuration loading from flags, environment and an
// optional TOML file.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	toml "github.com/pelletier/go-toml/v2"

	"forward-proxy-go/internal/allowlist"
	"forward-proxy-go/internal/rewrite"
)

// configSearchPaths lists paths checked in order when no explicit config is given.
var configSearchPaths = []string{
	"/etc/forward-proxy/config.toml",
	"configs/config.toml",
}

// reservedPaths are answered locally for requests without a proxy-target header.
var reservedPaths = []string{"/healthz", "/proxy/status"}

// CLI holds command-line arguments and environment toggles parsed by Kong.
// Toggles are strings so that an unset variable leaves the file value alone;
// only the literal "true" enables one.
type CLI struct {
	Config   string `kong:"short='c',help='Path to TOML config file.',env='CONFIG_PATH'"`
	Host     string `kong:"help='Listen host (overrides config).',env='HOST'"`
	Port     int    `kong:"short='p',help='Listen port (overrides config).',env='PORT'"`
	LogLevel string `kong:"help='Log level: debug|info|warn|error (overrides config).',env='LOG_LEVEL'"`

	AccessKey          string `kong:"help='Shared secret expected in proxy-access-key.',env='ACCESS_KEY'"`
	AllowedHosts       string `kong:"help='Comma-separated allow-list.',env='ALLOWED_HOSTS'"`
	AllowedHostsFormat string `kong:"help='Allow-list entry format: legacy (proto:host) or host.',env='ALLOWED_HOSTS_FORMAT'"`
	GzipMethod         string `kong:"help='Footer strategy for encoded bodies: append|decode|transform.',env='GZIP_METHOD'"`

	UseWhitelist          string `kong:"help='Enforce the allow-list (true/false).',env='USE_WHITELIST'"`
	UseOverrideStatus     string `kong:"help='Report 200 to clients (true/false).',env='USE_OVERRIDE_STATUS'"`
	RewriteAcceptEncoding string `kong:"help='Force Accept-Encoding: gzip upstream (true/false).',env='REWRITE_ACCEPT_ENCODING'"`
	AppendHead            string `kong:"help='Inject the metadata footer (true/false).',env='APPEND_HEAD'"`
	AllowOverrideMethod   string `kong:"help='Honor proxy-target-override-method (true/false).',env='ALLOW_OVERRIDE_METHOD'"`
	DisableOverrideCookie string `kong:"help='Ignore proxy-override-cookie (true/false).',env='DISABLE_OVERRIDE_COOKIE'"`
	InsecureSkipVerify    string `kong:"help='Skip upstream TLS verification (true/false).',env='UPSTREAM_INSECURE_SKIP_VERIFY'"`
}

// Config is the top-level application configuration.
type Config struct {
	Server   ServerConfig   `toml:"server"`
	Proxy    ProxyConfig    `toml:"proxy"`
	Response ResponseConfig `toml:"response"`
	Upstream UpstreamConfig `toml:"upstream"`
	Log      LogConfig      `toml:"log"`
	Metrics  MetricsConfig  `toml:"metrics"`

	filePath string // resolved config file path (unexported)
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string          `toml:"host"`
	Port         int             `toml:"port"` // 0 means "use default" (80); TOML cannot distinguish 0 from unset
	BodyMaxBytes int64           `toml:"body_max_bytes"`
	RateLimit    RateLimitConfig `toml:"rate_limit"`
}

// RateLimitConfig controls per-IP request rate limiting.
type RateLimitConfig struct {
	Enabled           bool    `toml:"enabled"`
	RequestsPerSecond float64 `toml:"requests_per_second"`
}

// ProxyConfig holds request authorization and outbound request settings.
type ProxyConfig struct {
	AccessKey             string `toml:"access_key"`
	UseWhitelist          bool   `toml:"use_whitelist"`
	AllowedHosts          string `toml:"allowed_hosts"`
	AllowedHostsFormat    string `toml:"allowed_hosts_format"`
	AllowOverrideMethod   bool   `toml:"allow_override_method"`
	DisableOverrideCookie bool   `toml:"disable_override_cookie"`
	RewriteAcceptEncoding bool   `toml:"rewrite_accept_encoding"`
	DefaultUserAgent      string `toml:"default_user_agent"`

	// Hosts is AllowedHosts parsed during Load.
	Hosts allowlist.List `toml:"-"`
}

// ResponseConfig holds response rewriting settings.
type ResponseConfig struct {
	AppendHead     bool   `toml:"append_head"`
	OverrideStatus bool   `toml:"override_status"`
	GzipMethod     string `toml:"gzip_method"`

	// Strategy is GzipMethod parsed during Load.
	Strategy rewrite.Strategy `toml:"-"`
}

// UpstreamConfig holds upstream connection settings.
type UpstreamConfig struct {
	TimeoutSeconds     int  `toml:"timeout_seconds"`
	IdleConnections    int  `toml:"idle_connections"`
	InsecureSkipVerify bool `toml:"insecure_skip_verify"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// MetricsConfig holds Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `toml:"enabled"`
	Path    string `toml:"path"`
}

// Load reads the optional TOML config file, applies CLI and environment
// overrides, validates the result and parses the allow-list and footer
// strategy. Any error means the process must not start.
//
// When no explicit path is given (via --config or CONFIG_PATH), it searches
// /etc/forward-proxy/config.toml then configs/config.toml, and falls back to
// flags and environment alone if neither exists.
func Load(cli *CLI) (*Config, error) {
	var cfg Config

	path := cli.Config
	if path == "" {
		path = findConfig()
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := toml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
		cfg.filePath = path
	}

	cfg.applyCLI(cli)

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config: validate: %w", err)
	}

	cfg.setDefaults()
	return &cfg, nil
}

// applyCLI overrides config values with non-empty CLI flags and env toggles.
func (c *Config) applyCLI(cli *CLI) {
	if cli.Host != "" {
		c.Server.Host = cli.Host
	}
	if cli.Port != 0 {
		c.Server.Port = cli.Port
	}
	if cli.LogLevel != "" {
		c.Log.Level = cli.LogLevel
	}
	if cli.AccessKey != "" {
		c.Proxy.AccessKey = cli.AccessKey
	}
	if cli.AllowedHosts != "" {
		c.Proxy.AllowedHosts = cli.AllowedHosts
	}
	if cli.AllowedHostsFormat != "" {
		c.Proxy.AllowedHostsFormat = cli.AllowedHostsFormat
	}
	if cli.GzipMethod != "" {
		c.Response.GzipMethod = cli.GzipMethod
	}

	toggle(&c.Proxy.UseWhitelist, cli.UseWhitelist)
	toggle(&c.Response.OverrideStatus, cli.UseOverrideStatus)
	toggle(&c.Proxy.RewriteAcceptEncoding, cli.RewriteAcceptEncoding)
	toggle(&c.Response.AppendHead, cli.AppendHead)
	toggle(&c.Proxy.AllowOverrideMethod, cli.AllowOverrideMethod)
	toggle(&c.Proxy.DisableOverrideCookie, cli.DisableOverrideCookie)
	toggle(&c.Upstream.InsecureSkipVerify, cli.InsecureSkipVerify)
}

// toggle sets dst when raw is non-empty; only "true" enables.
func toggle(dst *bool, raw string) {
	if raw != "" {
		*dst = raw == "true"
	}
}

func (c *Config) validate() error {
	if c.Proxy.AccessKey == "" {
		return errors.New("proxy.access_key (ACCESS_KEY) is required")
	}

	format, err := allowlist.ParseFormat(c.Proxy.AllowedHostsFormat)
	if err != nil {
		return fmt.Errorf("proxy.allowed_hosts_format: %w", err)
	}
	hosts, err := allowlist.Parse(c.Proxy.AllowedHosts, format)
	if err != nil {
		return fmt.Errorf("proxy.allowed_hosts: %w", err)
	}
	c.Proxy.Hosts = hosts

	strategy, err := rewrite.ParseStrategy(c.Response.GzipMethod)
	if err != nil {
		return fmt.Errorf("response.gzip_method: %w", err)
	}
	c.Response.Strategy = strategy

	// Numeric bounds.
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be 0–65535; got %d", c.Server.Port)
	}
	if c.Server.BodyMaxBytes < 0 {
		return fmt.Errorf("server.body_max_bytes must be non-negative; got %d", c.Server.BodyMaxBytes)
	}
	if c.Upstream.TimeoutSeconds < 0 {
		return fmt.Errorf("upstream.timeout_seconds must be non-negative; got %d", c.Upstream.TimeoutSeconds)
	}
	if c.Upstream.IdleConnections < 0 {
		return fmt.Errorf("upstream.idle_connections must be non-negative; got %d", c.Upstream.IdleConnections)
	}
	if c.Server.RateLimit.Enabled && c.Server.RateLimit.RequestsPerSecond <= 0 {
		return fmt.Errorf("server.rate_limit.requests_per_second must be > 0 when rate limiting is enabled; got %v", c.Server.RateLimit.RequestsPerSecond)
	}

	// Log fields.
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error", "":
		// valid
	default:
		return fmt.Errorf("log.level must be one of: debug, info, warn, error; got %q", c.Log.Level)
	}
	switch strings.ToLower(c.Log.Format) {
	case "json", "text", "":
		// valid
	default:
		return fmt.Errorf("log.format must be one of: json, text; got %q", c.Log.Format)
	}

	// Metrics path validation (only when metrics are enabled).
	if c.Metrics.Enabled && c.Metrics.Path != "" {
		p := c.Metrics.Path
		if p[0] != '/' {
			return fmt.Errorf("metrics.path must start with '/'; got %q", p)
		}
		for _, reserved := range reservedPaths {
			if p == reserved {
				return fmt.Errorf("metrics.path %q conflicts with reserved route %q", p, reserved)
			}
		}
	}

	return nil
}

// setDefaults fills zero-valued fields with sensible defaults.
// For integer fields (Port, BodyMaxBytes, etc.), zero means "unset" because TOML
// cannot distinguish between an explicit 0 and an omitted key.
func (c *Config) setDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 80
	}
	if c.Server.BodyMaxBytes == 0 {
		c.Server.BodyMaxBytes = 10 * 1024 * 1024 // 10 MB
	}
	if c.Proxy.DefaultUserAgent == "" {
		c.Proxy.DefaultUserAgent = "Mozilla"
	}
	if c.Upstream.TimeoutSeconds == 0 {
		c.Upstream.TimeoutSeconds = 120
	}
	if c.Upstream.IdleConnections == 0 {
		c.Upstream.IdleConnections = 100
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
}

// findConfig returns the first config path that exists, or empty string.
func findConfig() string {
	return findConfigInPaths(configSearchPaths)
}

// findConfigInPaths returns the first path that exists on disk, or empty string.
func findConfigInPaths(paths []string) string {
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// Addr returns the server listen address as host:port.
func (c *ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// WarnPermissions logs a warning if the config file is readable by group or
// others. The file may carry the access key.
func (c *Config) WarnPermissions(logger *slog.Logger) {
	if c.filePath == "" {
		return
	}
	info, err := os.Stat(c.filePath)
	if err != nil {
		return
	}
	if perm := info.Mode().Perm(); perm&0o077 != 0 {
		logger.Warn("config file is readable by group/others; consider chmod 600",
			"path", c.filePath,
			"mode", fmt.Sprintf("%04o", perm),
		)
	}
}
