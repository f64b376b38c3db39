package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const checkYAML = `
schema_version: 1
zinguo:
  account: "13800000000"
  password: "secret"
  mac: "AA:BB:CC:DD:EE:FF"
`

func writeTemp(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestCheckConfigListsPlugins(t *testing.T) {
	t.Setenv("ZINGUO_MAC", "")
	path := writeTemp(t, "config.yaml", checkYAML)

	var out strings.Builder
	if err := checkConfig(&out, path, ""); err != nil {
		t.Fatalf("checkConfig: %v", err)
	}
	if got := out.String(); !strings.Contains(got, "plugin zinguo enabled\n") || !strings.HasSuffix(got, "ok\n") {
		t.Fatalf("unexpected output: %q", got)
	}
}

func TestCheckConfigReportsErrors(t *testing.T) {
	t.Setenv("ZINGUO_MAC", "")
	var out strings.Builder
	if err := checkConfig(&out, filepath.Join(t.TempDir(), "missing.yaml"), ""); err == nil {
		t.Fatalf("expected error for missing config")
	}

	bad := writeTemp(t, "config.yaml", strings.Replace(checkYAML, `mac: "AA:BB:CC:DD:EE:FF"`, `mac: ""`, 1))
	if err := checkConfig(&out, bad, ""); err == nil {
		t.Fatalf("expected error for config without a mac")
	}
	if out.Len() != 0 {
		t.Fatalf("nothing should be printed for an invalid config, got %q", out.String())
	}
}

func TestEnvOrDefault(t *testing.T) {
	t.Setenv("ZINGUO_TEST_VALUE", "")
	if got := envOrDefault("ZINGUO_TEST_VALUE", "fallback"); got != "fallback" {
		t.Fatalf("expected fallback, got %q", got)
	}
	t.Setenv("ZINGUO_TEST_VALUE", "set")
	if got := envOrDefault("ZINGUO_TEST_VALUE", "fallback"); got != "set" {
		t.Fatalf("expected env value, got %q", got)
	}
}
