package main

import (
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`

	// Optional coordinate override. Both must be set for the spoofed
	// geolocation rules to activate.
	Longitude float64 `yaml:"longitude"`
	Latitude  float64 `yaml:"latitude"`

	DisableProvinceCheck bool `yaml:"disable_province_check"`

	// Tri-state: nil leaves the on-campus choice untouched.
	CheckOnCampus *bool `yaml:"check_on_campus"`

	DryRun     bool `yaml:"dry_run"`
	SkipChecks bool `yaml:"skip_checks"`

	// Shifted forces the reverse-geocoding call through unmodified even
	// when a coordinate override is configured.
	Shifted bool `yaml:"shifted"`

	// Hang pauses on stdin before teardown so the browser can be inspected.
	Hang bool `yaml:"hang"`

	// Per-wait deadline for every DOM and network wait, in milliseconds.
	TimeoutMS int `yaml:"timeout_ms"`

	CookieFile string `yaml:"cookie_file"`
	LogFile    string `yaml:"log_file"`
	DebugMode  bool   `yaml:"debug_mode"`

	Browser BrowserConfig `yaml:"browser"`
}

type BrowserConfig struct {
	Headless    bool   `yaml:"headless"`
	Bin         string `yaml:"bin"`
	UserDataDir string `yaml:"user_data_dir"`
	NoSandbox   bool   `yaml:"no_sandbox"`
}

func DefaultConfig() *Config {
	return &Config{
		TimeoutMS:  30000,
		CookieFile: "cookies.json",
		Browser: BrowserConfig{
			Headless: true,
		},
	}
}

func LoadConfig(path string) (*Config, error) {
	config := DefaultConfig()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := config.Save(path); err != nil {
			return nil, err
		}
		return config, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, err
	}

	return config, nil
}

func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}

// HasOverride reports whether a coordinate override is configured.
func (c *Config) HasOverride() bool {
	return c.Longitude != 0 && c.Latitude != 0
}

func (c *Config) WaitTimeout() time.Duration {
	if c.TimeoutMS <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.TimeoutMS) * time.Millisecond
}

func formatCoord(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
