package common

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestConfig_DefaultPort(t *testing.T) {
	cfg := NewDefaultConfig()
	if cfg.Server.Port != 8080 {
		t.Errorf("Server.Port default = %d, want %d", cfg.Server.Port, 8080)
	}
}

func TestConfig_PortEnvOverride(t *testing.T) {
	t.Setenv("PROVSYNC_PORT", "9090")

	cfg := NewDefaultConfig()
	applyEnvOverrides(cfg)

	if cfg.Server.Port != 9090 {
		t.Errorf("Server.Port = %d after env override, want %d", cfg.Server.Port, 9090)
	}
}

func TestConfig_InvalidPortIgnored(t *testing.T) {
	t.Setenv("PROVSYNC_PORT", "not-a-port")

	cfg := NewDefaultConfig()
	applyEnvOverrides(cfg)

	if cfg.Server.Port != 8080 {
		t.Errorf("Server.Port = %d, want default 8080", cfg.Server.Port)
	}
}

func TestConfig_OTLPEndpointEnablesTelemetry(t *testing.T) {
	t.Setenv("PROVSYNC_OTLP_ENDPOINT", "collector:4317")

	cfg := NewDefaultConfig()
	applyEnvOverrides(cfg)

	if !cfg.Telemetry.Enabled || cfg.Telemetry.OTLPEndpoint != "collector:4317" {
		t.Errorf("telemetry = %+v, want enabled with endpoint", cfg.Telemetry)
	}
}

func TestLoadConfig_FileLayering(t *testing.T) {
	dir := t.TempDir()
	base := filepath.Join(dir, "provsync.toml")
	local := filepath.Join(dir, "provsync.local.toml")

	if err := os.WriteFile(base, []byte(`
environment = "staging"

[storage]
backend = "memory"

[sync]
page_ceiling = 20
interval = "1h"

[providers.bank]
kind = "banking"
base_url = "https://bank.example"
rate_limit = 3

[providers.bank.paths]
accounts = "/api/accounts"
`), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(local, []byte(`
[sync]
page_ceiling = 50
`), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfig(base, local, filepath.Join(dir, "missing.toml"))
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	if cfg.Environment != "staging" {
		t.Errorf("Environment = %q, want staging", cfg.Environment)
	}
	if cfg.Storage.Backend != "memory" {
		t.Errorf("Storage.Backend = %q, want memory", cfg.Storage.Backend)
	}
	if cfg.Sync.GetPageCeiling() != 50 {
		t.Errorf("PageCeiling = %d, want 50 from the later file", cfg.Sync.GetPageCeiling())
	}
	if cfg.Sync.GetInterval() != time.Hour {
		t.Errorf("Interval = %v, want 1h", cfg.Sync.GetInterval())
	}
	// Untouched defaults survive
	if cfg.Sync.GetOverlapWindow() != 72*time.Hour {
		t.Errorf("OverlapWindow = %v, want 72h", cfg.Sync.GetOverlapWindow())
	}

	bank, ok := cfg.Providers["bank"]
	if !ok {
		t.Fatal("expected provider bank")
	}
	if bank.Kind != "banking" || bank.RateLimit != 3 || bank.Paths["accounts"] != "/api/accounts" {
		t.Errorf("unexpected provider config %+v", bank)
	}
}

func TestLoadConfig_ParseError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.toml")
	if err := os.WriteFile(path, []byte("this is = = not toml"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadConfig(path); err == nil {
		t.Error("expected parse error")
	}
}

func TestDurationGetters_Fallbacks(t *testing.T) {
	sync := SyncConfig{CallTimeout: "bogus", InitialLookback: "-1h"}
	if sync.GetCallTimeout() != 30*time.Second {
		t.Errorf("CallTimeout = %v, want 30s", sync.GetCallTimeout())
	}
	if sync.GetInitialLookback() != 90*24*time.Hour {
		t.Errorf("InitialLookback = %v, want 90d", sync.GetInitialLookback())
	}
	if sync.GetPageCeiling() != 100 {
		t.Errorf("PageCeiling = %d, want 100", sync.GetPageCeiling())
	}

	jm := JobManagerConfig{}
	if jm.GetWatcherInterval() != time.Minute || jm.GetMaxRetries() != 3 || jm.GetPurgeAfter() != 24*time.Hour {
		t.Errorf("unexpected job manager defaults: %v %d %v", jm.GetWatcherInterval(), jm.GetMaxRetries(), jm.GetPurgeAfter())
	}

	inact := InactivityConfig{}
	if inact.GetThreshold() != 3 {
		t.Errorf("Threshold = %d, want 3", inact.GetThreshold())
	}
}

func TestConfig_IsProduction(t *testing.T) {
	for env, want := range map[string]bool{"production": true, " Prod ": true, "development": false, "": false} {
		cfg := &Config{Environment: env}
		if got := cfg.IsProduction(); got != want {
			t.Errorf("IsProduction(%q) = %v, want %v", env, got, want)
		}
	}
}
