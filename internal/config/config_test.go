package config

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"forward-proxy-go/internal/model"
	"forward-proxy-go/internal/rewrite"
)

// cliWithPath returns a CLI struct pointing at the given config file.
func cliWithPath(path string) *CLI {
	return &CLI{Config: path}
}

// writeConfig writes data to a config.toml in a temp dir and returns its path.
func writeConfig(t *testing.T, data string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad_ValidConfig(t *testing.T) {
	path := writeConfig(t, `
[server]
host = "127.0.0.1"
port = 9000
body_max_bytes = 5242880

[proxy]
access_key = "test-key-12345"
use_whitelist = true
allowed_hosts = "https:example.com,http:plain.example"
allow_override_method = true
rewrite_accept_encoding = true
default_user_agent = "gateway/1.0"

[response]
append_head = true
override_status = true
gzip_method = "transform"

[upstream]
timeout_seconds = 60
idle_connections = 50
insecure_skip_verify = true

[log]
level = "debug"
format = "text"
`)

	cfg, err := Load(cliWithPath(path))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Host != "127.0.0.1" {
		t.Errorf("Server.Host = %q, want %q", cfg.Server.Host, "127.0.0.1")
	}
	if cfg.Server.Port != 9000 {
		t.Errorf("Server.Port = %d, want %d", cfg.Server.Port, 9000)
	}
	if cfg.Proxy.AccessKey != "test-key-12345" {
		t.Errorf("Proxy.AccessKey = %q, want %q", cfg.Proxy.AccessKey, "test-key-12345")
	}
	if !cfg.Proxy.UseWhitelist || !cfg.Proxy.AllowOverrideMethod || !cfg.Proxy.RewriteAcceptEncoding {
		t.Errorf("Proxy toggles = %+v, want all enabled", cfg.Proxy)
	}
	if cfg.Proxy.DefaultUserAgent != "gateway/1.0" {
		t.Errorf("Proxy.DefaultUserAgent = %q, want %q", cfg.Proxy.DefaultUserAgent, "gateway/1.0")
	}
	if cfg.Proxy.Hosts.Len() != 2 {
		t.Fatalf("Proxy.Hosts.Len() = %d, want 2", cfg.Proxy.Hosts.Len())
	}
	if h, _ := cfg.Proxy.Hosts.Lookup("plain.example"); h.Protocol != model.ProtocolHTTP {
		t.Errorf("plain.example protocol = %q, want %q", h.Protocol, model.ProtocolHTTP)
	}
	if !cfg.Response.AppendHead || !cfg.Response.OverrideStatus {
		t.Errorf("Response = %+v, want append_head and override_status", cfg.Response)
	}
	if cfg.Response.Strategy != rewrite.StrategyTransform {
		t.Errorf("Response.Strategy = %v, want %v", cfg.Response.Strategy, rewrite.StrategyTransform)
	}
	if cfg.Upstream.TimeoutSeconds != 60 {
		t.Errorf("Upstream.TimeoutSeconds = %d, want %d", cfg.Upstream.TimeoutSeconds, 60)
	}
	if !cfg.Upstream.InsecureSkipVerify {
		t.Error("Upstream.InsecureSkipVerify = false, want true")
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %q, want %q", cfg.Log.Level, "debug")
	}
	if cfg.Log.Format != "text" {
		t.Errorf("Log.Format = %q, want %q", cfg.Log.Format, "text")
	}
}

func TestLoad_EnvOnly(t *testing.T) {
	cli := &CLI{
		AccessKey:    "env-key",
		UseWhitelist: "true",
		AllowedHosts: "https:example.com",
		AppendHead:   "true",
		GzipMethod:   "decode",
	}

	cfg, err := Load(cli)
	if err != nil {
		t.Fatalf("Load() error = %v; env-only configuration should be accepted", err)
	}
	if cfg.Proxy.AccessKey != "env-key" {
		t.Errorf("Proxy.AccessKey = %q, want %q", cfg.Proxy.AccessKey, "env-key")
	}
	if !cfg.Proxy.UseWhitelist {
		t.Error("Proxy.UseWhitelist = false, want true")
	}
	if !cfg.Proxy.Hosts.Contains("example.com") {
		t.Error("Proxy.Hosts should contain example.com")
	}
	if cfg.Response.Strategy != rewrite.StrategyDecode {
		t.Errorf("Response.Strategy = %v, want %v", cfg.Response.Strategy, rewrite.StrategyDecode)
	}
}

func TestLoad_MissingAccessKey(t *testing.T) {
	path := writeConfig(t, `
[proxy]
use_whitelist = true
`)

	_, err := Load(cliWithPath(path))
	if err == nil {
		t.Fatal("Load() expected error for missing access key, got nil")
	}
	if !strings.Contains(err.Error(), "access_key") {
		t.Errorf("error = %q, want mention of access_key", err)
	}
}

func TestLoad_MalformedAllowedHosts(t *testing.T) {
	tests := []struct {
		name  string
		hosts string
	}{
		{"missing protocol separator", "example.com"},
		{"disallowed protocol", "ftp:example.com"},
		{"invalid hostname", "https:bad host"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(&CLI{AccessKey: "k", AllowedHosts: tt.hosts})
			if err == nil {
				t.Fatalf("Load() expected error for allowed_hosts %q, got nil", tt.hosts)
			}
		})
	}
}

func TestLoad_HostFormat(t *testing.T) {
	cfg, err := Load(&CLI{AccessKey: "k", AllowedHosts: "example.com,api.example.com", AllowedHostsFormat: "host"})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if !cfg.Proxy.Hosts.Contains("api.example.com") {
		t.Error("Proxy.Hosts should contain api.example.com")
	}
}

func TestLoad_UnknownGzipMethod(t *testing.T) {
	_, err := Load(&CLI{AccessKey: "k", GzipMethod: "deflate"})
	if err == nil {
		t.Fatal("Load() expected error for unknown gzip method, got nil")
	}
}

func TestLoad_InvalidLogLevel(t *testing.T) {
	path := writeConfig(t, `
[proxy]
access_key = "test-key-12345"

[log]
level = "verbose"
`)

	_, err := Load(cliWithPath(path))
	if err == nil {
		t.Fatal("Load() expected error for invalid log level, got nil")
	}
}

func TestLoad_Defaults(t *testing.T) {
	path := writeConfig(t, `
[proxy]
access_key = "test-key-12345"
`)

	cfg, err := Load(cliWithPath(path))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Host != "0.0.0.0" {
		t.Errorf("default Server.Host = %q, want %q", cfg.Server.Host, "0.0.0.0")
	}
	if cfg.Server.Port != 80 {
		t.Errorf("default Server.Port = %d, want %d", cfg.Server.Port, 80)
	}
	if cfg.Server.BodyMaxBytes != 10*1024*1024 {
		t.Errorf("default Server.BodyMaxBytes = %d, want %d", cfg.Server.BodyMaxBytes, 10*1024*1024)
	}
	if cfg.Proxy.DefaultUserAgent != "Mozilla" {
		t.Errorf("default Proxy.DefaultUserAgent = %q, want %q", cfg.Proxy.DefaultUserAgent, "Mozilla")
	}
	if cfg.Proxy.UseWhitelist || cfg.Response.AppendHead || cfg.Response.OverrideStatus {
		t.Error("toggles should default to false")
	}
	if cfg.Response.Strategy != rewrite.StrategyAppend {
		t.Errorf("default Response.Strategy = %v, want %v", cfg.Response.Strategy, rewrite.StrategyAppend)
	}
	if cfg.Proxy.Hosts.Len() != 0 {
		t.Errorf("default Proxy.Hosts.Len() = %d, want 0", cfg.Proxy.Hosts.Len())
	}
	if cfg.Log.Level != "info" {
		t.Errorf("default Log.Level = %q, want %q", cfg.Log.Level, "info")
	}
	if cfg.Log.Format != "json" {
		t.Errorf("default Log.Format = %q, want %q", cfg.Log.Format, "json")
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(&CLI{Config: "/nonexistent/config.toml", AccessKey: "k"})
	if err == nil {
		t.Fatal("Load() expected error for missing explicit file, got nil")
	}
}

func TestLoad_CLIOverrides(t *testing.T) {
	path := writeConfig(t, `
[server]
host = "0.0.0.0"
port = 8000

[proxy]
access_key = "toml-key"
use_whitelist = true

[response]
append_head = false

[log]
level = "info"
`)

	cli := &CLI{
		Config:       path,
		Host:         "127.0.0.1",
		Port:         3000,
		AccessKey:    "cli-key",
		LogLevel:     "debug",
		UseWhitelist: "false",
		AppendHead:   "true",
	}

	cfg, err := Load(cli)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Host != "127.0.0.1" {
		t.Errorf("Server.Host = %q, want %q (CLI override)", cfg.Server.Host, "127.0.0.1")
	}
	if cfg.Server.Port != 3000 {
		t.Errorf("Server.Port = %d, want %d (CLI override)", cfg.Server.Port, 3000)
	}
	if cfg.Proxy.AccessKey != "cli-key" {
		t.Errorf("Proxy.AccessKey = %q, want %q (CLI override)", cfg.Proxy.AccessKey, "cli-key")
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %q, want %q (CLI override)", cfg.Log.Level, "debug")
	}
	if cfg.Proxy.UseWhitelist {
		t.Error("Proxy.UseWhitelist = true, want false (env override)")
	}
	if !cfg.Response.AppendHead {
		t.Error("Response.AppendHead = false, want true (env override)")
	}
}

func TestToggle(t *testing.T) {
	tests := []struct {
		raw     string
		initial bool
		want    bool
	}{
		{"", true, true},
		{"", false, false},
		{"true", false, true},
		{"false", true, false},
		{"TRUE", false, false},
		{"1", false, false},
		{"yes", true, false},
	}
	for _, tt := range tests {
		got := tt.initial
		toggle(&got, tt.raw)
		if got != tt.want {
			t.Errorf("toggle(%v, %q) = %v, want %v", tt.initial, tt.raw, got, tt.want)
		}
	}
}

func TestLoad_NegativePort(t *testing.T) {
	_, err := Load(&CLI{AccessKey: "k", Port: -1})
	if err == nil {
		t.Fatal("Load() expected error for negative port, got nil")
	}
}

func TestLoad_NegativeBodyMaxBytes(t *testing.T) {
	path := writeConfig(t, `
[server]
body_max_bytes = -1

[proxy]
access_key = "k"
`)

	if _, err := Load(cliWithPath(path)); err == nil {
		t.Fatal("Load() expected error for negative body_max_bytes, got nil")
	}
}

func TestLoad_NegativeTimeout(t *testing.T) {
	path := writeConfig(t, `
[proxy]
access_key = "k"

[upstream]
timeout_seconds = -5
`)

	if _, err := Load(cliWithPath(path)); err == nil {
		t.Fatal("Load() expected error for negative timeout, got nil")
	}
}

func TestLoad_RateLimitConfig_Enabled(t *testing.T) {
	path := writeConfig(t, `
[server.rate_limit]
enabled = true
requests_per_second = 25.5

[proxy]
access_key = "k"
`)

	cfg, err := Load(cliWithPath(path))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if !cfg.Server.RateLimit.Enabled {
		t.Error("RateLimit.Enabled = false, want true")
	}
	if cfg.Server.RateLimit.RequestsPerSecond != 25.5 {
		t.Errorf("RateLimit.RequestsPerSecond = %v, want %v", cfg.Server.RateLimit.RequestsPerSecond, 25.5)
	}
}

func TestLoad_RateLimitConfig_BadValue(t *testing.T) {
	path := writeConfig(t, `
[server.rate_limit]
enabled = true
requests_per_second = 0

[proxy]
access_key = "k"
`)

	_, err := Load(cliWithPath(path))
	if err == nil {
		t.Fatal("Load() expected error for zero requests_per_second with rate limiting enabled, got nil")
	}
	if !strings.Contains(err.Error(), "requests_per_second") {
		t.Errorf("error = %q, want mention of requests_per_second", err)
	}
}

func TestLoad_MetricsPathDefault(t *testing.T) {
	path := writeConfig(t, `
[proxy]
access_key = "k"

[metrics]
enabled = true
`)

	cfg, err := Load(cliWithPath(path))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Metrics.Path != "/metrics" {
		t.Errorf("Metrics.Path = %q, want %q", cfg.Metrics.Path, "/metrics")
	}
}

func TestLoad_MetricsPathInvalid(t *testing.T) {
	for _, p := range []string{"metrics", "/healthz", "/proxy/status"} {
		t.Run(p, func(t *testing.T) {
			path := writeConfig(t, `
[proxy]
access_key = "k"

[metrics]
enabled = true
path = "`+p+`"
`)
			if _, err := Load(cliWithPath(path)); err == nil {
				t.Fatalf("Load() expected error for metrics.path %q, got nil", p)
			}
		})
	}
}

func TestWarnPermissions_Loose(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("permission bits not meaningful on Windows")
	}
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	if err := os.WriteFile(path, []byte("# test"), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg := &Config{filePath: path}
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelWarn}))
	cfg.WarnPermissions(logger)

	if !strings.Contains(buf.String(), "readable by group/others") {
		t.Errorf("expected permission warning, got: %q", buf.String())
	}
}

func TestWarnPermissions_Strict(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("permission bits not meaningful on Windows")
	}
	path := writeConfig(t, "# test")

	cfg := &Config{filePath: path}
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelWarn}))
	cfg.WarnPermissions(logger)

	if buf.Len() != 0 {
		t.Errorf("expected no warning for 0600 file, got: %q", buf.String())
	}
}

func TestWarnPermissions_NoFile(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	(&Config{}).WarnPermissions(logger)
	if buf.Len() != 0 {
		t.Errorf("expected no output without a config file, got: %q", buf.String())
	}
}

func TestFindConfigInPaths_Found(t *testing.T) {
	path := writeConfig(t, "[proxy]\naccess_key = \"k\"\n")

	got := findConfigInPaths([]string{path})
	if got != path {
		t.Errorf("findConfigInPaths() = %q, want %q", got, path)
	}
}

func TestFindConfigInPaths_NotFound(t *testing.T) {
	got := findConfigInPaths([]string{"/nonexistent/a.toml", "/nonexistent/b.toml"})
	if got != "" {
		t.Errorf("findConfigInPaths() = %q, want empty", got)
	}
}

func TestFindConfigInPaths_Priority(t *testing.T) {
	path1 := writeConfig(t, "[proxy]\naccess_key = \"a\"\n")
	path2 := writeConfig(t, "[proxy]\naccess_key = \"b\"\n")

	got := findConfigInPaths([]string{path1, path2})
	if got != path1 {
		t.Errorf("findConfigInPaths() = %q, want first match %q", got, path1)
	}
}

func TestServerConfig_Addr(t *testing.T) {
	sc := &ServerConfig{Host: "127.0.0.1", Port: 3000}
	want := "127.0.0.1:3000"
	if got := sc.Addr(); got != want {
		t.Errorf("Addr() = %q, want %q", got, want)
	}
}
