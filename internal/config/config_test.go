package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const minimalYAML = `
schema_version: 1
zinguo:
  account: "13800000000"
  password: "secret"
  mac: "AA:BB:CC:DD:EE:FF"
`

func TestParseAppliesDefaults(t *testing.T) {
	cfg, err := Parse([]byte(minimalYAML))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	if cfg.Core.GRPCAddr != DefaultGRPCAddr || cfg.Core.HTTPAddr != DefaultHTTPAddr {
		t.Fatalf("unexpected core defaults: %+v", cfg.Core)
	}
	z := cfg.Zinguo
	if z.PollInterval != DefaultPollInterval {
		t.Fatalf("expected default poll interval, got %s", z.PollInterval)
	}
	if z.RequestTimeout != DefaultRequestTimeout {
		t.Fatalf("expected default request timeout, got %s", z.RequestTimeout)
	}
	if *z.OnCode != 2 || *z.OffCode != 1 {
		t.Fatalf("unexpected switch codes: on=%d off=%d", *z.OnCode, *z.OffCode)
	}
	if z.BaseURL != DefaultBaseURL || z.LoginPath != DefaultLoginPath {
		t.Fatalf("unexpected endpoint defaults: %s %s", z.BaseURL, z.LoginPath)
	}
	if cfg.RateLimit.Enabled == nil || !*cfg.RateLimit.Enabled {
		t.Fatalf("expected rate limit enabled by default")
	}
	if !EnabledPlugins(cfg)["zinguo"] {
		t.Fatalf("expected zinguo plugin enabled")
	}
}

func TestParseDurationsAndCodes(t *testing.T) {
	data := minimalYAML + `
  poll_interval: 5m
  request_timeout: 10s
  off_code: 0
  base_url: "http://localhost:1234/api/"
`
	cfg, err := Parse([]byte(data))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Zinguo.PollInterval != 5*time.Minute {
		t.Fatalf("unexpected poll interval: %s", cfg.Zinguo.PollInterval)
	}
	if cfg.Zinguo.RequestTimeout != 10*time.Second {
		t.Fatalf("unexpected request timeout: %s", cfg.Zinguo.RequestTimeout)
	}
	if *cfg.Zinguo.OffCode != 0 {
		t.Fatalf("expected off_code 0, got %d", *cfg.Zinguo.OffCode)
	}
	if cfg.Zinguo.BaseURL != "http://localhost:1234/api" {
		t.Fatalf("expected trailing slash trimmed, got %s", cfg.Zinguo.BaseURL)
	}
}

func TestValidateErrors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"schema", "schema_version: 2\n", "schema_version"},
		{"account", "schema_version: 1\nzinguo:\n  mac: x\n  password: y\n", "zinguo.account"},
		{"password", "schema_version: 1\nzinguo:\n  account: a\n  mac: x\n", "password"},
		{"mac", "schema_version: 1\nzinguo:\n  account: a\n  password: y\n", "zinguo.mac"},
		{"codes", minimalYAML + "  on_code: 1\n", "on_code"},
		{"interval", minimalYAML + "  poll_interval: 10ms\n", "poll_interval"},
		{"mqtt", minimalYAML + "mqtt:\n  enabled: true\n", "mqtt.host"},
		{"influx", minimalYAML + "influxdb:\n  enabled: true\n  url: http://x\n", "influxdb.org"},
		{"blob", minimalYAML + "token_store:\n  enabled: true\n  blob_endpoint: http://minio:9000\n", "blob_bucket"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			if err == nil {
				t.Fatalf("expected error containing %q", tt.want)
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("ZINGUO_ACCOUNT", "env-account")
	t.Setenv("ZINGUO_PASSWORD", "env-secret")
	t.Setenv("ZINGUO_MAC", "11:22")
	t.Setenv("ZINGUO_GRPC_ADDR", "127.0.0.1:9999")

	cfg, err := Parse([]byte("schema_version: 1\n"))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Zinguo == nil {
		t.Fatalf("expected zinguo section from env")
	}
	if cfg.Zinguo.Account != "env-account" || cfg.Zinguo.MAC != "11:22" {
		t.Fatalf("unexpected zinguo config: %+v", cfg.Zinguo)
	}
	password, err := cfg.Zinguo.ResolvePassword()
	if err != nil || password != "env-secret" {
		t.Fatalf("ResolvePassword = %q, %v", password, err)
	}
	if cfg.Core.GRPCAddr != "127.0.0.1:9999" {
		t.Fatalf("unexpected grpc addr: %s", cfg.Core.GRPCAddr)
	}
}

func TestResolvePasswordFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "password")
	if err := os.WriteFile(path, []byte("  from-file\n"), 0o600); err != nil {
		t.Fatalf("write password: %v", err)
	}

	z := &ZinguoConfig{PasswordFile: path}
	password, err := z.ResolvePassword()
	if err != nil {
		t.Fatalf("ResolvePassword: %v", err)
	}
	if password != "from-file" {
		t.Fatalf("unexpected password %q", password)
	}

	empty := filepath.Join(t.TempDir(), "empty")
	if err := os.WriteFile(empty, []byte("\n"), 0o600); err != nil {
		t.Fatalf("write empty: %v", err)
	}
	if _, err := (&ZinguoConfig{PasswordFile: empty}).ResolvePassword(); err == nil {
		t.Fatalf("expected error for empty password file")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}

func TestLoadEnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "zinguo.env")
	body := "ZINGUO_ENVFILE_NEW=from-file\nZINGUO_ENVFILE_KEEP=from-file\n"
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write env file: %v", err)
	}
	t.Setenv("ZINGUO_ENVFILE_KEEP", "from-shell")
	t.Cleanup(func() { os.Unsetenv("ZINGUO_ENVFILE_NEW") })

	if err := LoadEnvFile(path); err != nil {
		t.Fatalf("LoadEnvFile: %v", err)
	}
	if got := os.Getenv("ZINGUO_ENVFILE_NEW"); got != "from-file" {
		t.Fatalf("expected value from file, got %q", got)
	}
	if got := os.Getenv("ZINGUO_ENVFILE_KEEP"); got != "from-shell" {
		t.Fatalf("expected shell value to win, got %q", got)
	}

	if err := LoadEnvFile(filepath.Join(t.TempDir(), "missing.env")); err != nil {
		t.Fatalf("missing env file should be ignored: %v", err)
	}
	if err := LoadEnvFile(""); err != nil {
		t.Fatalf("empty path should be ignored: %v", err)
	}
}

func TestAuditDefaultsAndValidation(t *testing.T) {
	cfg, err := Parse([]byte(minimalYAML + "audit:\n  enabled: true\n"))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Audit.Retention != DefaultAuditRetention || cfg.Audit.PruneInterval != DefaultAuditPruneInterval {
		t.Fatalf("unexpected audit defaults: %+v", cfg.Audit)
	}
	if _, err := Parse([]byte(minimalYAML + "audit:\n  enabled: true\n  prune_interval: 10s\n")); err == nil {
		t.Fatalf("expected short prune interval to be rejected")
	}
}
