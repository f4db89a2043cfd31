// ABOUTME: Settings for keeping reconciliation state in a Charm KV database
// ABOUTME: Read from charm-config.json under the rolodex data dir with env overrides

package charm

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/adrg/xdg"
	"github.com/charmbracelet/charm/kv"
)

const (
	// DefaultCharmHost is the self-hosted 2389 research server.
	DefaultCharmHost = "charm.2389.dev"

	// AppName is the default Charm KV database name.
	AppName = "rolodex"

	ConfigFileName = "charm-config.json"
)

// ErrInvalidConfig wraps a config file that exists but cannot be used.
// State must never silently move to another host, so there is no fallback.
var ErrInvalidConfig = errors.New("invalid charm config")

type Config struct {
	Host string `json:"host,omitempty"`
	// Database is used when a charm:// DSN names none.
	Database string `json:"database,omitempty"`
	// AutoSync pulls before the first read and pushes after every write.
	AutoSync bool `json:"auto_sync"`
	// StaleThreshold is how old the local replica may get before a read syncs first.
	StaleThreshold time.Duration `json:"stale_threshold,omitempty"`
}

func DefaultConfig() *Config {
	return &Config{
		Host:           DefaultCharmHost,
		Database:       AppName,
		AutoSync:       true,
		StaleThreshold: kv.DefaultStaleThreshold,
	}
}

// ConfigPath returns the config file location, creating its directory.
func ConfigPath() (string, error) {
	dataDir := filepath.Join(xdg.DataHome, AppName)
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return "", fmt.Errorf("failed to create %s: %w", dataDir, err)
	}
	return filepath.Join(dataDir, ConfigFileName), nil
}

// LoadConfig reads the default config file. ROLODEX_CHARM_HOST overrides
// the stored host.
func LoadConfig() (*Config, error) {
	path, err := ConfigPath()
	if err != nil {
		return nil, err
	}
	cfg, err := LoadConfigFrom(path)
	if err != nil {
		return nil, err
	}
	if host := os.Getenv("ROLODEX_CHARM_HOST"); host != "" {
		cfg.Host = normalizeHost(host)
	}
	return cfg, nil
}

// LoadConfigFrom reads path. A missing file yields defaults.
func LoadConfigFrom(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return DefaultConfig(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	cfg := DefaultConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidConfig, path, err)
	}
	cfg.Host = normalizeHost(cfg.Host)
	if cfg.Host == "" {
		cfg.Host = DefaultCharmHost
	}
	if cfg.Database == "" {
		cfg.Database = AppName
	}
	if cfg.StaleThreshold < 0 {
		return nil, fmt.Errorf("%w: %s: negative stale_threshold", ErrInvalidConfig, path)
	}
	if cfg.StaleThreshold == 0 {
		cfg.StaleThreshold = kv.DefaultStaleThreshold
	}
	return cfg, nil
}

// normalizeHost accepts a URL and keeps only the host name charm expects.
func normalizeHost(host string) string {
	host = strings.TrimSpace(host)
	if i := strings.Index(host, "://"); i >= 0 {
		host = host[i+3:]
	}
	return strings.TrimSuffix(host, "/")
}

func (c *Config) Save() error {
	path, err := ConfigPath()
	if err != nil {
		return err
	}
	return c.SaveTo(path)
}

func (c *Config) SaveTo(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode charm config: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

// SetAutoSync enables or disables auto-sync and saves.
func (c *Config) SetAutoSync(enabled bool) error {
	c.AutoSync = enabled
	return c.Save()
}
