package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/danmuck/pbxmon/internal/testutil/testlog"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "pbxmon.toml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

const minimalTarget = `
[[targets]]
name = "pbx01"
addr = "10.20.0.10:5038"
username = "monitor"
secret = "s3cret"
`

func TestLoadAppliesDefaults(t *testing.T) {
	testlog.Start(t)

	cfg, err := Load(writeConfig(t, minimalTarget))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	def := DefaultConfig()
	if cfg.Collector.PollInterval != def.Collector.PollInterval {
		t.Fatalf("poll interval = %v", cfg.Collector.PollInterval)
	}
	if cfg.Collector.CacheDir != def.Collector.CacheDir {
		t.Fatalf("cache dir = %q", cfg.Collector.CacheDir)
	}
	if !cfg.API.Enabled || cfg.API.ListenAddr != def.API.ListenAddr {
		t.Fatalf("api = %+v", cfg.API)
	}
	if len(cfg.Targets) != 1 || cfg.Targets[0].Name != "pbx01" {
		t.Fatalf("targets = %+v", cfg.Targets)
	}
}

func TestLoadOverridesOnlyDefinedKeys(t *testing.T) {
	testlog.Start(t)

	body := `
[collector]
poll_interval = "30s"

[api]
enabled = false
` + minimalTarget
	cfg, err := Load(writeConfig(t, body))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Collector.PollInterval != 30*time.Second {
		t.Fatalf("poll interval = %v", cfg.Collector.PollInterval)
	}
	// undefined keys keep their defaults
	if cfg.Collector.CacheTTL != DefaultConfig().Collector.CacheTTL {
		t.Fatalf("cache ttl = %v", cfg.Collector.CacheTTL)
	}
	if cfg.API.Enabled {
		t.Fatal("api.enabled override lost")
	}
}

func TestLoadTargetTimeouts(t *testing.T) {
	testlog.Start(t)

	body := `
[[targets]]
name = "pbx01"
addr = "10.20.0.10:5038"
username = "monitor"
secret = "s3cret"
connect_timeout = "2s"
action_timeout = "20s"
expect_endpoints = true
queue_wait_warn = 4
`
	cfg, err := Load(writeConfig(t, body))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	target := cfg.Targets[0]
	if target.ConnectTimeout != 2*time.Second || target.ActionTimeout != 20*time.Second {
		t.Fatalf("timeouts = %+v", target)
	}
	if target.LoginTimeout != 0 {
		t.Fatalf("login timeout = %v, want unset", target.LoginTimeout)
	}
	if !target.ExpectEndpoints || target.QueueWaitWarn != 4 {
		t.Fatalf("expectations = %+v", target)
	}
}

func TestLoadRejectsBadInput(t *testing.T) {
	testlog.Start(t)

	cases := []struct {
		name string
		body string
		want string
	}{
		{"no targets", `[collector]` + "\n" + `cache_dir = "/tmp/x"`, "target"},
		{"bad duration", `[collector]` + "\n" + `poll_interval = "soon"` + minimalTarget, "poll_interval"},
		{"missing secret", "[[targets]]\nname = \"a\"\naddr = \"b:5038\"\nusername = \"u\"", "secret"},
		{"duplicate names", minimalTarget + minimalTarget, "duplicate"},
	}
	for _, tc := range cases {
		_, err := Load(writeConfig(t, tc.body))
		if err == nil || !strings.Contains(err.Error(), tc.want) {
			t.Fatalf("%s: err = %v, want substring %q", tc.name, err, tc.want)
		}
	}

	_, err := Load(writeConfig(t, `cache_dir = "x"`))
	if !errors.Is(err, ErrNoTargets) {
		t.Fatalf("expected ErrNoTargets, got %v", err)
	}
}

func TestTemplateRoundTrips(t *testing.T) {
	testlog.Start(t)

	path := filepath.Join(t.TempDir(), "pbxmon.toml")
	if err := WriteTemplate(path, false); err != nil {
		t.Fatalf("write template: %v", err)
	}
	if err := WriteTemplate(path, false); err == nil {
		t.Fatal("overwrite without force succeeded")
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("template does not load: %v", err)
	}
	if len(cfg.Targets) != 1 || cfg.Targets[0].Name != "pbx01" {
		t.Fatalf("template targets = %+v", cfg.Targets)
	}
	if err := WriteTemplate(path, true); err != nil {
		t.Fatalf("forced overwrite: %v", err)
	}
}
