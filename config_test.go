package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()

	if config.TimeoutMS != 30000 {
		t.Errorf("TimeoutMS = %d, expected 30000", config.TimeoutMS)
	}
	if config.CookieFile != "cookies.json" {
		t.Errorf("CookieFile = %q, expected cookies.json", config.CookieFile)
	}
	if !config.Browser.Headless {
		t.Error("Browser.Headless should default to true")
	}
	if config.CheckOnCampus != nil {
		t.Error("CheckOnCampus should default to unset")
	}
	if config.HasOverride() {
		t.Error("HasOverride should be false without coordinates")
	}
}

func TestLoadConfigCreatesDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")

	config, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig on missing path: %v", err)
	}
	if config.TimeoutMS != 30000 {
		t.Errorf("TimeoutMS = %d, expected defaults", config.TimeoutMS)
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("LoadConfig should have written a default config file: %v", err)
	}
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	yaml := `username: alice
password: secret
longitude: 116.4
latitude: 39.9
disable_province_check: true
check_on_campus: false
dry_run: true
timeout_ms: 5000
browser:
  headless: false
  no_sandbox: true
`
	if err := os.WriteFile(path, []byte(yaml), 0644); err != nil {
		t.Fatal(err)
	}

	config, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}

	if config.Username != "alice" || config.Password != "secret" {
		t.Errorf("credentials = %q/%q, expected alice/secret", config.Username, config.Password)
	}
	if !config.HasOverride() {
		t.Error("HasOverride should be true with both coordinates set")
	}
	if !config.DisableProvinceCheck || !config.DryRun {
		t.Error("boolean flags not loaded")
	}
	if config.CheckOnCampus == nil || *config.CheckOnCampus {
		t.Error("check_on_campus: false should load as explicit false")
	}
	if config.WaitTimeout() != 5*time.Second {
		t.Errorf("WaitTimeout = %v, expected 5s", config.WaitTimeout())
	}
	if config.Browser.Headless {
		t.Error("browser.headless: false not loaded")
	}
	if !config.Browser.NoSandbox {
		t.Error("browser.no_sandbox: true not loaded")
	}
}

func TestConfigSaveRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	config := DefaultConfig()
	config.Username = "alice"
	config.Longitude = 116.4
	config.Latitude = 39.9
	onCampus := true
	config.CheckOnCampus = &onCampus

	if err := config.Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}

	reloaded, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if reloaded.Username != "alice" {
		t.Errorf("Username = %q, expected alice", reloaded.Username)
	}
	if !reloaded.HasOverride() {
		t.Error("coordinates lost in round trip")
	}
	if reloaded.CheckOnCampus == nil || !*reloaded.CheckOnCampus {
		t.Error("tri-state check_on_campus lost in round trip")
	}
}

func TestWaitTimeoutFallback(t *testing.T) {
	config := &Config{}
	if config.WaitTimeout() != 30*time.Second {
		t.Errorf("WaitTimeout with zero TimeoutMS = %v, expected 30s", config.WaitTimeout())
	}
	config.TimeoutMS = -1
	if config.WaitTimeout() != 30*time.Second {
		t.Errorf("WaitTimeout with negative TimeoutMS = %v, expected 30s", config.WaitTimeout())
	}
}

func TestFormatCoord(t *testing.T) {
	tests := []struct {
		input    float64
		expected string
	}{
		{116.4, "116.4"},
		{39.9, "39.9"},
		{121.473701, "121.473701"},
		{0, "0"},
	}

	for _, test := range tests {
		result := formatCoord(test.input)
		if result != test.expected {
			t.Errorf("formatCoord(%v) = %q, expected %q", test.input, result, test.expected)
		}
	}
}
