package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

const validConfig = `
[app]
print_every_min = 1

[symbols]
list = ["btc", "eth", "BTC", " "]
priority = ["btc"]

[[symbols.map]]
coin = "BTC"
venue = "okx"
instrument = "BTC-USDT"

[engine]
throttle_ms = 2000

[fallback]
venue_order = ["binance", "bybit"]

[venues.binance]
enabled = true
ws_url = "wss://stream.binance.com:9443"
rest_url = "https://api.binance.com"

[venues.okx]
enabled = false

[cache]
sqlite_path = "test.db"
`

func TestLoadValid(t *testing.T) {
	cfg, err := Load(writeConfig(t, validConfig))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	want := []string{"BTC", "ETH"}
	if len(cfg.Symbols.List) != len(want) {
		t.Fatalf("symbols = %v, want %v", cfg.Symbols.List, want)
	}
	for i, s := range want {
		if cfg.Symbols.List[i] != s {
			t.Errorf("symbols[%d] = %q, want %q", i, cfg.Symbols.List[i], s)
		}
	}

	if cfg.Engine.ThrottleMs != 2000 {
		t.Errorf("throttle_ms = %d, want 2000", cfg.Engine.ThrottleMs)
	}
	// defaults fill the rest
	if cfg.Engine.InterpSteps != 10 {
		t.Errorf("interp_steps default = %d, want 10", cfg.Engine.InterpSteps)
	}
	if cfg.Session.PingSec != 25 {
		t.Errorf("ping_sec default = %d, want 25", cfg.Session.PingSec)
	}
	if got := cfg.Venues["binance"].Quote; got != "USDT" {
		t.Errorf("quote default = %q, want USDT", got)
	}
	if len(cfg.Symbols.Map) != 1 || cfg.Symbols.Map[0].Instrument != "BTC-USDT" {
		t.Errorf("symbol map not parsed: %+v", cfg.Symbols.Map)
	}
}

func TestLoadRejectsEmptySymbols(t *testing.T) {
	body := `
[symbols]
list = []

[venues.binance]
enabled = true
ws_url = "wss://x"
`
	if _, err := Load(writeConfig(t, body)); err == nil {
		t.Fatal("expected error for empty symbols.list")
	}
}

func TestLoadRejectsNoEnabledVenue(t *testing.T) {
	body := `
[symbols]
list = ["BTC"]

[venues.binance]
enabled = false
`
	if _, err := Load(writeConfig(t, body)); err == nil {
		t.Fatal("expected error when no venue is enabled")
	}
}

func TestLoadRejectsEnabledVenueWithoutURL(t *testing.T) {
	body := `
[symbols]
list = ["BTC"]

[venues.binance]
enabled = true
ws_url = ""
`
	if _, err := Load(writeConfig(t, body)); err == nil {
		t.Fatal("expected error for enabled venue without ws_url")
	}
}

func TestLoadRejectsInvertedVolumeRatios(t *testing.T) {
	body := `
[symbols]
list = ["BTC"]

[engine]
volume_low_ratio = 3.0
volume_high_ratio = 1.0

[venues.binance]
enabled = true
ws_url = "wss://x"
`
	if _, err := Load(writeConfig(t, body)); err == nil {
		t.Fatal("expected error for inverted volume ratios")
	}
}

func TestDurationAccessors(t *testing.T) {
	cfg, err := Load(writeConfig(t, validConfig))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ThrottleWindow().Milliseconds() != 2000 {
		t.Errorf("ThrottleWindow = %v", cfg.ThrottleWindow())
	}
	if cfg.PrintInterval().Minutes() != 1 {
		t.Errorf("PrintInterval = %v", cfg.PrintInterval())
	}
}
