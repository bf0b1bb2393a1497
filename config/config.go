// Package config handles application configuration.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"time"

	"go.evewatch.dev/evewatch/alert"
	"go.evewatch.dev/evewatch/internal/types"
	"go.evewatch.dev/evewatch/overview"
)

const (
	appName        = "evewatch"
	configFileName = "config.json"
)

// Defaults for a fresh configuration.
const (
	DefaultListenAddr = "127.0.0.1:47615"
	DefaultAlertSound = "/sounds/reaper.mp3"
)

// Config represents the application configuration.
type Config struct {
	Whitelist       []string `json:"whitelist"`
	OnlyPlayers     bool     `json:"only_players"`
	AlertCooldownMs int64    `json:"alert_cooldown_ms,omitempty"`
	AlertSound      string   `json:"alert_sound,omitempty"`
	ListenAddr      string   `json:"listen_addr,omitempty"`
	HistoryEnabled  bool     `json:"history_enabled"`

	path string
}

// Load loads configuration from the user config directory.
// Returns default config if file doesn't exist.
func Load() (*Config, error) {
	path, err := configPath()
	if err != nil {
		return nil, fmt.Errorf("get config path: %w", err)
	}
	return LoadFile(path)
}

// LoadFile loads configuration from path. Save writes back to the same path.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg := Default()
			cfg.path = path
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg := Default()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.path = path
	cfg.applyDefaults()
	return cfg, nil
}

// Save persists the configuration to disk.
func (c *Config) Save() error {
	path := c.path
	if path == "" {
		p, err := configPath()
		if err != nil {
			return fmt.Errorf("get config path: %w", err)
		}
		path = p
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// Dir returns the directory holding the config file.
func (c *Config) Dir() string {
	if c.path != "" {
		return filepath.Dir(c.path)
	}
	p, err := configPath()
	if err != nil {
		return ""
	}
	return filepath.Dir(p)
}

// AlertCooldown returns the configured cooldown.
func (c *Config) AlertCooldown() time.Duration {
	return time.Duration(c.AlertCooldownMs) * time.Millisecond
}

// Settings returns the frontend view of the configuration.
func (c *Config) Settings() types.Settings {
	return types.Settings{
		Whitelist:       slices.Clone(c.Whitelist),
		OnlyPlayers:     c.OnlyPlayers,
		AlertCooldownMs: c.AlertCooldownMs,
		AlertSound:      c.AlertSound,
		ListenAddr:      c.ListenAddr,
		HistoryEnabled:  c.HistoryEnabled,
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// Whitelist Management
// ─────────────────────────────────────────────────────────────────────────────

// AddWhitelist adds a name to the whitelist. Adding an existing name is a no-op.
func (c *Config) AddWhitelist(name string) error {
	name = overview.NormalizeName(name)
	if name == "" {
		return fmt.Errorf("whitelist name required")
	}
	if slices.Contains(c.Whitelist, name) {
		return nil
	}
	c.Whitelist = append(c.Whitelist, name)
	slices.Sort(c.Whitelist)
	return c.Save()
}

// RemoveWhitelist removes a name from the whitelist.
func (c *Config) RemoveWhitelist(name string) error {
	name = overview.NormalizeName(name)
	idx := slices.Index(c.Whitelist, name)
	if idx == -1 {
		return fmt.Errorf("whitelist entry not found: %s", name)
	}
	c.Whitelist = slices.Delete(c.Whitelist, idx, idx+1)
	return c.Save()
}

// SetOnlyPlayers sets whether non-player entities are ignored.
func (c *Config) SetOnlyPlayers(only bool) error {
	c.OnlyPlayers = only
	return c.Save()
}

// SetAlertCooldown sets the minimum interval between alerts.
func (c *Config) SetAlertCooldown(d time.Duration) error {
	if d < time.Second {
		return fmt.Errorf("alert cooldown must be at least 1s, got %s", d)
	}
	c.AlertCooldownMs = d.Milliseconds()
	return c.Save()
}

// Helper functions

func (c *Config) applyDefaults() {
	if c.AlertCooldownMs <= 0 {
		c.AlertCooldownMs = alert.DefaultCooldown.Milliseconds()
	}
	if c.AlertSound == "" {
		c.AlertSound = DefaultAlertSound
	}
	if c.ListenAddr == "" {
		c.ListenAddr = DefaultListenAddr
	}
	if c.Whitelist == nil {
		c.Whitelist = []string{}
	}
	for i, name := range c.Whitelist {
		c.Whitelist[i] = overview.NormalizeName(name)
	}
	c.Whitelist = slices.DeleteFunc(c.Whitelist, func(s string) bool { return s == "" })
	slices.Sort(c.Whitelist)
	c.Whitelist = slices.Compact(c.Whitelist)
}

func configPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("get user config dir: %w", err)
	}
	return filepath.Join(dir, appName, configFileName), nil
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	cfg := &Config{
		HistoryEnabled: true,
	}
	cfg.applyDefaults()
	return cfg
}
