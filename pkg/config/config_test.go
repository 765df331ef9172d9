package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config file: %v", err)
	}
	return path
}

func TestLoadConfigFromEnvPath(t *testing.T) {
	path := writeConfig(t, `{
	  "runtime": {"target": "electron"},
	  "hub": {"host": "0.0.0.0", "port": 18800},
	  "dialer": {"click_to_dial": false, "poll_interval_ms": 500, "blocked_urls": [" *.example.com/* ", ""]},
	  "voip": {"base_url": "https://partner.voipgrid.nl", "username": "alice", "token": "secret"},
	  "storage": {"path": "/tmp/state.db"},
	  "i18n": {"language": "nl"},
	  "logging": {"format": "json", "level": "debug", "add_source": true}
	}`)
	t.Setenv("CLICKTODIAL_CONFIG", path)

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig error: %v", err)
	}

	if cfg.Runtime.Extension() {
		t.Fatal("runtime.target electron should not be an extension")
	}
	if cfg.Hub.Addr() != "0.0.0.0:18800" {
		t.Fatalf("hub addr = %q", cfg.Hub.Addr())
	}
	if got := cfg.Hub.PortURL(); got != "ws://127.0.0.1:18800/port" {
		t.Fatalf("hub port url = %q", got)
	}
	if cfg.Dialer.ClickToDial {
		t.Fatal("dialer.click_to_dial = true, want false")
	}
	if cfg.Dialer.PollInterval() != 500*time.Millisecond {
		t.Fatalf("poll interval = %v, want 500ms", cfg.Dialer.PollInterval())
	}
	if cfg.Dialer.DialTimeout() != 15*time.Second {
		t.Fatalf("dial timeout = %v, want default 15s", cfg.Dialer.DialTimeout())
	}
	if len(cfg.Dialer.BlockedURLs) != 1 || cfg.Dialer.BlockedURLs[0] != "*.example.com/*" {
		t.Fatalf("blocked urls = %#v", cfg.Dialer.BlockedURLs)
	}
	if cfg.VoIP.ResolvedToken() != "secret" {
		t.Fatalf("voip token = %q", cfg.VoIP.ResolvedToken())
	}
	if cfg.Logging.Format != "json" || cfg.Logging.Level != "debug" || !cfg.Logging.AddSource {
		t.Fatalf("logging = %#v", cfg.Logging)
	}
}

func TestLoadConfigDefaultsWithoutFile(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("CLICKTODIAL_CONFIG", "")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig error: %v", err)
	}

	if !cfg.Runtime.Extension() {
		t.Fatal("default target should be the web extension")
	}
	if !cfg.Dialer.ClickToDial {
		t.Fatal("click to dial should default to enabled")
	}
	if cfg.Hub.Port != 18791 {
		t.Fatalf("hub port = %d, want 18791", cfg.Hub.Port)
	}
	if cfg.Storage.Path == "" {
		t.Fatal("expected default storage path")
	}
}

func TestLoadConfigEnvironmentOverrides(t *testing.T) {
	path := writeConfig(t, `{"hub": {"port": 18800}}`)
	t.Setenv("CLICKTODIAL_CONFIG", path)
	t.Setenv("CLICKTODIAL_HUB_PORT", "19000")
	t.Setenv("CLICKTODIAL_RUNTIME_TARGET", "electron")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig error: %v", err)
	}

	if cfg.Hub.Port != 19000 {
		t.Fatalf("hub port = %d, want 19000", cfg.Hub.Port)
	}
	if cfg.Runtime.Target != TargetElectron {
		t.Fatalf("runtime target = %q, want electron", cfg.Runtime.Target)
	}
}

func TestLoadConfigInvalidEnvPath(t *testing.T) {
	t.Setenv("CLICKTODIAL_CONFIG", filepath.Join(t.TempDir(), "missing.json"))

	if _, err := LoadConfig(); err == nil {
		t.Fatal("expected error for missing config path")
	}
}

func TestLoadConfigRejectsInvalidValues(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{name: "target", content: `{"runtime": {"target": "firefox-os"}}`},
		{name: "port", content: `{"hub": {"port": 70000}}`},
		{name: "poll interval", content: `{"dialer": {"poll_interval_ms": 10}}`},
		{name: "log format", content: `{"logging": {"format": "xml"}}`},
		{name: "voip url", content: `{"voip": {"base_url": "not a url"}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("CLICKTODIAL_CONFIG", writeConfig(t, tt.content))

			if _, err := LoadConfig(); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestResolvedTokenFromEnv(t *testing.T) {
	t.Setenv("TEST_VOIP_TOKEN", " from-env ")

	cfg := VoIPConfig{TokenEnv: "TEST_VOIP_TOKEN"}
	if got := cfg.ResolvedToken(); got != "from-env" {
		t.Fatalf("ResolvedToken = %q, want from-env", got)
	}
}
