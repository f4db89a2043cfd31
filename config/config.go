// ABOUTME: Runtime configuration for rolodex commands
// ABOUTME: Merges defaults, the JSON config file, .env files and ROLODEX_* environment overrides
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/adrg/xdg"
	"github.com/charmbracelet/log"
	"github.com/joho/godotenv"
)

const (
	// AppName is the directory under the XDG data home.
	AppName = "rolodex"

	// ConfigFileName is the JSON config file inside the data dir.
	ConfigFileName = "config.json"

	DefaultAPIURL         = "http://127.0.0.1:1337"
	DefaultCacheTTL       = 5 * time.Minute
	DefaultChunkDelay     = 500 * time.Millisecond
	DefaultRequestTimeout = 10 * time.Second
	DefaultChunkTimeout   = 60 * time.Second
	DefaultConcurrency    = 1
	DefaultPageSize       = 100
	DefaultPolicy         = "reject"
)

// Duration is a time.Duration stored as a Go duration string ("5m").
// Bare JSON numbers are read as seconds.
type Duration time.Duration

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	switch v := raw.(type) {
	case float64:
		*d = Duration(time.Duration(v * float64(time.Second)))
	case string:
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", v, err)
		}
		*d = Duration(parsed)
	case nil:
		*d = 0
	default:
		return fmt.Errorf("invalid duration %s", string(data))
	}
	return nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config holds settings shared by every command.
type Config struct {
	APIURL  string `json:"api_url"`
	Token   string `json:"token,omitempty"`
	Account string `json:"account"`

	// StateDSN selects the persisted state backend (memory://, badger://,
	// sqlite://, postgres://, charm://). Empty uses the local database.
	StateDSN string `json:"state_dsn,omitempty"`
	DBPath   string `json:"db_path,omitempty"`

	CacheTTL       Duration `json:"cache_ttl"`
	ChunkDelay     Duration `json:"chunk_delay"`
	RequestTimeout Duration `json:"request_timeout"`
	ChunkTimeout   Duration `json:"chunk_timeout"`
	Concurrency    int      `json:"concurrency"`
	PageSize       int      `json:"page_size"`

	// Policy is "reject" or "wait" for a pass that is already running.
	Policy       string   `json:"policy"`
	AlwaysRewarm bool     `json:"always_rewarm,omitempty"`
	Retention    Duration `json:"retention,omitempty"`
}

// Default returns the built-in settings.
func Default() *Config {
	return &Config{
		APIURL:         DefaultAPIURL,
		DBPath:         DefaultDBPath(),
		CacheTTL:       Duration(DefaultCacheTTL),
		ChunkDelay:     Duration(DefaultChunkDelay),
		RequestTimeout: Duration(DefaultRequestTimeout),
		ChunkTimeout:   Duration(DefaultChunkTimeout),
		Concurrency:    DefaultConcurrency,
		PageSize:       DefaultPageSize,
		Policy:         DefaultPolicy,
	}
}

// DataDir is where rolodex keeps its files.
func DataDir() string {
	return filepath.Join(xdg.DataHome, AppName)
}

// DefaultDBPath is the local SQLite database location.
func DefaultDBPath() string {
	return filepath.Join(DataDir(), "rolodex.db")
}

// Path returns the default config file path.
func Path() string {
	return filepath.Join(DataDir(), ConfigFileName)
}

// LoadDotEnv loads .env files into the environment. Missing files are
// ignored and variables already set win.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load %s: %w", f, err)
		}
	}
	return nil
}

// Load reads path (empty means Path()) over the defaults, then applies
// environment overrides. An unparsable file is reported and ignored.
func Load(path string, logger *log.Logger) (*Config, error) {
	if logger == nil {
		logger = log.Default()
	}
	if path == "" {
		path = Path()
	}

	cfg := Default()
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := json.Unmarshal(data, cfg); err != nil {
			logger.Warn("ignoring invalid config file", "path", path, "err", err)
			cfg = Default()
		}
	case errors.Is(err, fs.ErrNotExist):
	default:
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg.applyEnv(logger)
	cfg.applyDefaults()
	return cfg, cfg.Validate()
}

// Save writes the config to path (empty means Path()).
func (c *Config) Save(path string) error {
	if path == "" {
		path = Path()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}

// Validate rejects settings the engine cannot run with.
func (c *Config) Validate() error {
	switch c.Policy {
	case "reject", "wait":
	default:
		return fmt.Errorf("invalid policy %q: want reject or wait", c.Policy)
	}
	if c.PageSize < 1 || c.PageSize > 100 {
		return fmt.Errorf("page size %d out of range 1-100", c.PageSize)
	}
	if c.Retention < 0 {
		return fmt.Errorf("retention must not be negative")
	}
	return nil
}

func (c *Config) applyEnv(logger *log.Logger) {
	c.APIURL = stringEnv("ROLODEX_API_URL", c.APIURL)
	c.Token = stringEnv("ROLODEX_TOKEN", c.Token)
	c.Account = stringEnv("ROLODEX_ACCOUNT", c.Account)
	c.StateDSN = stringEnv("ROLODEX_STATE_DSN", c.StateDSN)
	c.DBPath = stringEnv("ROLODEX_DB_PATH", c.DBPath)
	c.Policy = strings.ToLower(stringEnv("ROLODEX_POLICY", c.Policy))
	c.CacheTTL = Duration(durationEnv(logger, "ROLODEX_CACHE_TTL", c.CacheTTL.Std()))
	c.ChunkDelay = Duration(durationEnv(logger, "ROLODEX_CHUNK_DELAY", c.ChunkDelay.Std()))
	c.RequestTimeout = Duration(durationEnv(logger, "ROLODEX_REQUEST_TIMEOUT", c.RequestTimeout.Std()))
	c.ChunkTimeout = Duration(durationEnv(logger, "ROLODEX_CHUNK_TIMEOUT", c.ChunkTimeout.Std()))
	c.Retention = Duration(durationEnv(logger, "ROLODEX_RETENTION", c.Retention.Std()))
	c.Concurrency = intEnv(logger, "ROLODEX_CONCURRENCY", c.Concurrency)
	c.PageSize = intEnv(logger, "ROLODEX_PAGE_SIZE", c.PageSize)
}

func (c *Config) applyDefaults() {
	if c.APIURL == "" {
		c.APIURL = DefaultAPIURL
	}
	if c.DBPath == "" {
		c.DBPath = DefaultDBPath()
	}
	if c.CacheTTL <= 0 {
		c.CacheTTL = Duration(DefaultCacheTTL)
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = Duration(DefaultRequestTimeout)
	}
	if c.ChunkTimeout <= 0 {
		c.ChunkTimeout = Duration(DefaultChunkTimeout)
	}
	if c.Concurrency < 1 {
		c.Concurrency = DefaultConcurrency
	}
	if c.Policy == "" {
		c.Policy = DefaultPolicy
	}
}

func stringEnv(name, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(name)); v != "" {
		return v
	}
	return fallback
}

func intEnv(logger *log.Logger, name string, fallback int) int {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		logger.Warn("invalid integer setting, using fallback", "name", name, "value", raw, "fallback", fallback)
		return fallback
	}
	return value
}

func durationEnv(logger *log.Logger, name string, fallback time.Duration) time.Duration {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	value, err := time.ParseDuration(raw)
	if err != nil {
		logger.Warn("invalid duration setting, using fallback", "name", name, "value", raw, "fallback", fallback.String())
		return fallback
	}
	return value
}
