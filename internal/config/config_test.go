package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "viewport.yml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad_ParsesAllSections(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
server:
  http_addr: "127.0.0.1:9443"
  wire_addr: "127.0.0.1:4822"
data_dir: "/var/lib/viewport"
tls:
  mode: custom
  cert_file: "/tmp/gw.crt"
  key_file: "/tmp/gw.key"
tunnels:
  idle_timeout: 30m
  sweep_interval: 2m
events:
  coalesce_window: 250ms
upstream:
  dial_timeout: 5s
  poll_timeout: 1s
  dial_retries: 5
`))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.HTTPAddr != "127.0.0.1:9443" {
		t.Fatalf("http_addr: got %q", cfg.Server.HTTPAddr)
	}
	if cfg.Server.WireAddr != "127.0.0.1:4822" {
		t.Fatalf("wire_addr: got %q", cfg.Server.WireAddr)
	}
	if cfg.DataDir != "/var/lib/viewport" {
		t.Fatalf("data_dir: got %q", cfg.DataDir)
	}
	if cfg.TLS.Mode != "custom" || cfg.TLS.CertFile != "/tmp/gw.crt" || cfg.TLS.KeyFile != "/tmp/gw.key" {
		t.Fatalf("tls: got mode=%q cert=%q key=%q", cfg.TLS.Mode, cfg.TLS.CertFile, cfg.TLS.KeyFile)
	}
	if got := cfg.TunnelIdleTimeout(); got != 30*time.Minute {
		t.Fatalf("idle_timeout: got %v", got)
	}
	if got := cfg.TunnelSweepInterval(); got != 2*time.Minute {
		t.Fatalf("sweep_interval: got %v", got)
	}
	if got := cfg.CoalesceWindow(); got != 250*time.Millisecond {
		t.Fatalf("coalesce_window: got %v", got)
	}
	if got := cfg.UpstreamDialTimeout(); got != 5*time.Second {
		t.Fatalf("dial_timeout: got %v", got)
	}
	if got := cfg.UpstreamPollTimeout(); got != time.Second {
		t.Fatalf("poll_timeout: got %v", got)
	}
	if cfg.Upstream.DialRetries != 5 {
		t.Fatalf("dial_retries: got %d", cfg.Upstream.DialRetries)
	}
}

func TestDefault_MatchesEmptyFile(t *testing.T) {
	fromFile, err := LoadFromBytes([]byte(""))
	if err != nil {
		t.Fatal(err)
	}
	def := Default()
	if def.Server.HTTPAddr != fromFile.Server.HTTPAddr {
		t.Fatalf("http_addr: Default()=%q, empty file=%q", def.Server.HTTPAddr, fromFile.Server.HTTPAddr)
	}
	if def.TLS.Mode != "off" {
		t.Fatalf("tls.mode default: got %q", def.TLS.Mode)
	}
	if got := def.CoalesceWindow(); got != 500*time.Millisecond {
		t.Fatalf("coalesce_window default: got %v", got)
	}
	if got := def.TunnelIdleTimeout(); got != 15*time.Minute {
		t.Fatalf("idle_timeout default: got %v", got)
	}
	if def.Upstream.DialRetries != 3 {
		t.Fatalf("dial_retries default: got %d", def.Upstream.DialRetries)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("VIEWPORT_HTTP_ADDR", "0.0.0.0:18080")
	t.Setenv("VIEWPORT_DATA_DIR", "/srv/viewport")

	cfg, err := Load(writeConfig(t, `
server:
  http_addr: "127.0.0.1:8080"
data_dir: "./data"
`))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.HTTPAddr != "0.0.0.0:18080" {
		t.Fatalf("http addr override: got %q", cfg.Server.HTTPAddr)
	}
	if cfg.DataDir != "/srv/viewport" {
		t.Fatalf("data dir override: got %q", cfg.DataDir)
	}
}

func TestLoad_InvalidTLSMode(t *testing.T) {
	if _, err := LoadFromBytes([]byte("tls:\n  mode: mutual\n")); err == nil {
		t.Fatalf("expected error for invalid tls.mode")
	}
}

func TestLoad_CustomTLSRequiresFiles(t *testing.T) {
	if _, err := LoadFromBytes([]byte("tls:\n  mode: custom\n")); err == nil {
		t.Fatalf("expected error for custom mode without cert/key files")
	}
}

func TestLoad_ACMERequiresDomains(t *testing.T) {
	if _, err := LoadFromBytes([]byte("tls:\n  mode: acme\n")); err == nil {
		t.Fatalf("expected error for acme mode without domains")
	}
}

func TestLoad_InvalidDuration(t *testing.T) {
	if _, err := LoadFromBytes([]byte("tunnels:\n  idle_timeout: fifteen\n")); err == nil {
		t.Fatalf("expected error for unparseable duration")
	}
}

func TestLoad_ZeroIdleTimeoutDisablesEviction(t *testing.T) {
	cfg, err := LoadFromBytes([]byte("tunnels:\n  idle_timeout: \"0\"\n"))
	if err != nil {
		t.Fatal(err)
	}
	if got := cfg.TunnelIdleTimeout(); got != 0 {
		t.Fatalf("idle_timeout: got %v, want 0", got)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yml")); err == nil {
		t.Fatalf("expected error for missing config file")
	}
}
