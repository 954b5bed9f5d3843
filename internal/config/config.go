// Package config loads the mgmtd configuration file.
//
// The file is TOML and every key is optional:
//
//	listen = "127.0.0.1:8080"
//	data_dir = "/var/lib/mgmtd"
//	admin_path = "/admin"
//	trusted_proxies = ["127.0.0.1"]
//
//	[log]
//	level = "info"
//	format = "json"
//
//	[audit]
//	persist = true
//	webhook_url = "https://siem.example.com/hook"
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// DefaultPath is where the server looks for its config when --config is
// not given. A missing file there is not an error.
const DefaultPath = "/etc/mgmtd/mgmtd.toml"

// Duration is a time.Duration written as a Go duration string ("5s").
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// Config is the complete daemon configuration.
type Config struct {
	Listen         string   `toml:"listen"`
	DataDir        string   `toml:"data_dir"`
	KeyPath        string   `toml:"key_path"`
	AdminPath      string   `toml:"admin_path"`
	Development    bool     `toml:"development"`
	VerifyTimeout  Duration `toml:"verify_timeout"`
	SweepInterval  Duration `toml:"sweep_interval"`
	TLSCert        string   `toml:"tls_cert"`
	TLSKey         string   `toml:"tls_key"`
	TrustedProxies []string `toml:"trusted_proxies"`

	Log   LogConfig   `toml:"log"`
	Audit AuditConfig `toml:"audit"`
}

// LogConfig selects the slog handler.
type LogConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `toml:"level"`
	// Format is json, text or color.
	Format string `toml:"format"`
}

// AuditConfig controls where audit events go besides the log.
type AuditConfig struct {
	Persist       bool   `toml:"persist"`
	WebhookURL    string `toml:"webhook_url"`
	WebhookHeader string `toml:"webhook_header"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Listen:        "127.0.0.1:8080",
		DataDir:       "/var/lib/mgmtd",
		KeyPath:       "/var/lib/mgmtd/api.key",
		AdminPath:     "/admin",
		VerifyTimeout: Duration{5 * time.Second},
		SweepInterval: Duration{10 * time.Minute},
		Log:           LogConfig{Level: "info", Format: "json"},
		Audit:         AuditConfig{Persist: true},
	}
}

// Load reads path over the defaults, applies MGMTD_* environment overrides
// and validates the result. An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		md, err := toml.DecodeFile(path, cfg)
		if err != nil {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			keys := make([]string, len(undecoded))
			for i, k := range undecoded {
				keys[i] = k.String()
			}
			return nil, fmt.Errorf("config %s: unknown keys: %s", path, strings.Join(keys, ", "))
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadDefault loads DefaultPath if it exists and the defaults otherwise.
func LoadDefault() (*Config, error) {
	if _, err := os.Stat(DefaultPath); errors.Is(err, os.ErrNotExist) {
		return Load("")
	}
	return Load(DefaultPath)
}

func (c *Config) applyEnv() error {
	if v := os.Getenv("MGMTD_LISTEN"); v != "" {
		c.Listen = v
	}
	if v := os.Getenv("MGMTD_DATA_DIR"); v != "" {
		c.DataDir = v
	}
	if v := os.Getenv("MGMTD_KEY_PATH"); v != "" {
		c.KeyPath = v
	}
	if v := os.Getenv("MGMTD_DEVELOPMENT"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("MGMTD_DEVELOPMENT: %w", err)
		}
		c.Development = b
	}
	if v := os.Getenv("MGMTD_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	return nil
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	switch {
	case c.Listen == "":
		return errors.New("listen must not be empty")
	case c.DataDir == "":
		return errors.New("data_dir must not be empty")
	case c.KeyPath == "":
		return errors.New("key_path must not be empty")
	case !strings.HasPrefix(c.AdminPath, "/"):
		return fmt.Errorf("admin_path %q must start with /", c.AdminPath)
	case c.VerifyTimeout.Duration < 0:
		return errors.New("verify_timeout must not be negative")
	case c.SweepInterval.Duration < 0:
		return errors.New("sweep_interval must not be negative")
	case (c.TLSCert == "") != (c.TLSKey == ""):
		return errors.New("tls_cert and tls_key must be set together")
	}
	if _, err := c.SlogLevel(); err != nil {
		return err
	}
	switch c.Log.Format {
	case "json", "text", "color":
	default:
		return fmt.Errorf("log.format %q: want json, text or color", c.Log.Format)
	}
	return nil
}

// SlogLevel parses Log.Level.
func (c *Config) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.Log.Level)); err != nil {
		return 0, fmt.Errorf("log.level %q: %w", c.Log.Level, err)
	}
	return level, nil
}

// DBPath is the bbolt file holding users and audit records.
func (c *Config) DBPath() string {
	return filepath.Join(c.DataDir, "mgmtd.db")
}

// TLSEnabled reports whether the server terminates TLS itself.
func (c *Config) TLSEnabled() bool {
	return c.TLSCert != "" && c.TLSKey != ""
}
