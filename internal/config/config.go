package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

// ICSConfig describes one subscribed calendar feed.
type ICSConfig struct {
	URL string `yaml:"url" json:"url"`
	// ID is an internal identifier used for de-dup and logging.
	ID   string `yaml:"id" json:"id"`
	Name string `yaml:"name" json:"name"`
}

// SourceID returns ID, falling back to Name and then URL.
func (c ICSConfig) SourceID() string {
	switch {
	case c.ID != "":
		return c.ID
	case c.Name != "":
		return c.Name
	default:
		return c.URL
	}
}

// YouTubeConfig selects the channel for sermon and livestream lookups.
type YouTubeConfig struct {
	APIKey    string `yaml:"api_key" json:"-"`
	ChannelID string `yaml:"channel_id" json:"channel_id"`

	// CacheTTL is how long a lookup is served without asking upstream again.
	CacheTTL time.Duration `yaml:"cache_ttl" json:"cache_ttl"`

	SermonMinDuration time.Duration `yaml:"sermon_min_duration" json:"sermon_min_duration"`
	SermonKeywords    []string      `yaml:"sermon_keywords" json:"sermon_keywords"`
}

// NATSConfig enables cross-process change notifications. An empty URL uses
// an in-process bus.
type NATSConfig struct {
	URL     string `yaml:"url" json:"url"`
	Subject string `yaml:"subject" json:"subject"`
}

// BasicAuthConfig holds HTTP Basic Auth credentials for the API.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"-"`
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address for the API.
	Listen string `yaml:"listen" json:"listen"`

	// Timezone is the IANA zone all recurrence arithmetic is pinned to.
	Timezone string `yaml:"timezone" json:"timezone"`

	// SweepCron is a five-field cron schedule for rolling lapsed events
	// forward, evaluated in Timezone.
	SweepCron string `yaml:"sweep_cron" json:"sweep_cron"`

	// HorizonDays is the default number of future days the API expands.
	HorizonDays int `yaml:"horizon_days" json:"horizon_days"`

	// Database is the SQLite file holding scheduled events.
	Database string `yaml:"database" json:"database"`

	LogLevel string `yaml:"log_level" json:"log_level"`

	YouTube YouTubeConfig `yaml:"youtube" json:"youtube"`

	ICS         []ICSConfig `yaml:"ics" json:"ics"`
	ICSCacheDir string      `yaml:"ics_cache_dir" json:"ics_cache_dir"`

	NATS NATSConfig `yaml:"nats" json:"nats"`

	// Metrics exposes Prometheus metrics on /metrics.
	Metrics bool `yaml:"metrics" json:"metrics"`

	// BasicAuth, if non-nil, enables HTTP Basic Authentication on all endpoints
	// except /health.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty"`
}

const (
	defaultListen      = "127.0.0.1:8080"
	defaultTimezone    = "America/New_York"
	defaultSweepCron   = "*/15 * * * *"
	defaultHorizonDays = 30
	defaultDatabase    = "./var/rtsda.db"
	defaultCacheTTL    = 15 * time.Minute
	defaultSermonMin   = 20 * time.Minute
)

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		Listen:      defaultListen,
		Timezone:    defaultTimezone,
		SweepCron:   defaultSweepCron,
		HorizonDays: defaultHorizonDays,
		Database:    defaultDatabase,
		LogLevel:    "info",
		YouTube: YouTubeConfig{
			CacheTTL:          defaultCacheTTL,
			SermonMinDuration: defaultSermonMin,
			SermonKeywords:    []string{"sermon", "message", "divine service"},
		},
		ICS:         []ICSConfig{},
		ICSCacheDir: "./var/ics-cache",
	}
}

// Normalize fills in missing/zero values with defaults so that partially
// filled configs still behave correctly.
func (c *Config) Normalize() {
	if c.Listen == "" {
		c.Listen = defaultListen
	}
	if c.Timezone == "" {
		c.Timezone = defaultTimezone
	}
	if c.SweepCron == "" {
		c.SweepCron = defaultSweepCron
	}
	if c.HorizonDays <= 0 {
		c.HorizonDays = defaultHorizonDays
	}
	if c.Database == "" {
		c.Database = defaultDatabase
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.YouTube.CacheTTL == 0 {
		c.YouTube.CacheTTL = defaultCacheTTL
	}
	if c.YouTube.SermonMinDuration == 0 {
		c.YouTube.SermonMinDuration = defaultSermonMin
	}
	if c.ICS == nil {
		c.ICS = []ICSConfig{}
	}
}

// Validate reports every setting that cannot be used as is.
func (c *Config) Validate() error {
	var errs []error
	if _, err := c.Location(); err != nil {
		errs = append(errs, err)
	}
	if _, err := cron.ParseStandard(c.SweepCron); err != nil {
		errs = append(errs, fmt.Errorf("sweep_cron %q: %w", c.SweepCron, err))
	}
	if c.YouTube.CacheTTL <= 0 {
		errs = append(errs, fmt.Errorf("youtube.cache_ttl must be positive, got %s", c.YouTube.CacheTTL))
	}
	if c.YouTube.SermonMinDuration < 0 {
		errs = append(errs, fmt.Errorf("youtube.sermon_min_duration must not be negative, got %s", c.YouTube.SermonMinDuration))
	}
	for i, src := range c.ICS {
		if src.URL == "" {
			errs = append(errs, fmt.Errorf("ics[%d]: url is required", i))
		}
	}
	if c.BasicAuth != nil && (c.BasicAuth.Username == "") != (c.BasicAuth.Password == "") {
		errs = append(errs, errors.New("basic_auth needs both username and password"))
	}
	return errors.Join(errs...)
}

// Location loads the configured time zone. It never falls back to the host
// zone.
func (c *Config) Location() (*time.Location, error) {
	if c.Timezone == "" {
		return nil, errors.New("timezone is empty")
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}

// Load loads configuration from the given YAML path.
//
// Behavior:
//   - If the file does not exist, a default config is written there with
//     0600 permissions and returned.
//   - Otherwise the YAML is read and normalized.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				// Even if save fails, return cfg with error so caller can decide.
				return cfg, err
			}
			return cfg, nil
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	cfg.Normalize()
	return &cfg, nil
}

// Save writes cfg to path atomically (temp file + rename) with 0600
// permissions.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}
	cfg.Normalize()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".rtsda-config-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}

// Save is a convenience method that delegates to the package-level Save.
func (c *Config) Save(path string) error {
	return Save(path, c)
}
