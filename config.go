package bubbleads

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hazyhaar/bubbleads/internal/ads"
	"github.com/hazyhaar/bubbleads/internal/connector"
	"github.com/hazyhaar/bubbleads/internal/dedup"
)

// Config holds all bubbleads configuration.
type Config struct {
	// Domains is the seed list of instances to aggregate trends from.
	Domains []string `yaml:"domains"`

	DBPath string `yaml:"db_path"`
	Listen string `yaml:"listen"`

	// Select is how many top merged tags become ad topics.
	Select int `yaml:"select"`
	// TrendLimit is the per-domain trending tag fetch size.
	TrendLimit int `yaml:"trend_limit"`
	// ScanLimit is how many statuses per tag per domain to inspect.
	ScanLimit int `yaml:"scan_limit"`
	// Variants is the maximum images (and therefore ads) per tag.
	Variants int `yaml:"variants"`
	// Workers bounds every parallel domain fan-out.
	Workers int `yaml:"workers"`

	Folder    string `yaml:"folder"`     // drive folder for uploads
	DedupMode string `yaml:"dedup_mode"` // reuse | rename

	HTTP    HTTPConfig    `yaml:"http"`
	Sharkey SharkeyConfig `yaml:"sharkey"`
	Ads     ads.Config    `yaml:"ads"`
}

// HTTPConfig controls the outbound source-instance clients.
type HTTPConfig struct {
	Timeout      time.Duration `yaml:"timeout"`
	ProbeTimeout time.Duration `yaml:"probe_timeout"`
	MaxBytes     int64         `yaml:"max_bytes"`
	UserAgent    string        `yaml:"user_agent"`
}

// SharkeyConfig identifies the instance ads are published to.
type SharkeyConfig struct {
	BaseURL string        `yaml:"base_url"`
	Token   string        `yaml:"token"`
	Timeout time.Duration `yaml:"timeout"`
	DryRun  bool          `yaml:"dry_run"`
}

func (c *Config) defaults() {
	if c.DBPath == "" {
		c.DBPath = "bubbleads.db"
	}
	if c.Listen == "" {
		c.Listen = ":8087"
	}
	if c.Select <= 0 {
		c.Select = 5
	}
	if c.TrendLimit <= 0 {
		c.TrendLimit = 20
	}
	if c.ScanLimit <= 0 {
		c.ScanLimit = 60
	}
	if c.Variants <= 0 {
		c.Variants = 1
	}
	if c.Workers <= 0 {
		c.Workers = 6
	}
	if c.Folder == "" {
		c.Folder = "Advertisements"
	}
	if c.DedupMode == "" {
		c.DedupMode = dedup.ModeReuse
	}
	if c.HTTP.Timeout <= 0 {
		c.HTTP.Timeout = 25 * time.Second
	}
	if c.HTTP.ProbeTimeout <= 0 {
		c.HTTP.ProbeTimeout = 5 * time.Second
	}
	if c.HTTP.MaxBytes <= 0 {
		c.HTTP.MaxBytes = 8 * 1024 * 1024
	}
	if c.HTTP.UserAgent == "" {
		c.HTTP.UserAgent = "bubbleads/1.0"
	}
	if c.Sharkey.Timeout <= 0 {
		c.Sharkey.Timeout = 45 * time.Second
	}
}

// Validate checks the configuration and normalizes the domain list.
// Internationalized domains are converted to their punycode form; anything
// that can't be normalized is rejected.
func (c *Config) Validate() error {
	if len(c.Domains) == 0 {
		return fmt.Errorf("%w: no domains configured", ErrInvalidConfig)
	}
	normalized := make([]string, 0, len(c.Domains))
	for _, d := range c.Domains {
		nd, err := connector.NormalizeDomain(d)
		if err != nil {
			return fmt.Errorf("%w: domain %q: %v", ErrInvalidConfig, d, err)
		}
		normalized = append(normalized, nd)
	}
	c.Domains = normalized

	if c.DedupMode != dedup.ModeReuse && c.DedupMode != dedup.ModeRename {
		return fmt.Errorf("%w: dedup_mode must be %q or %q", ErrInvalidConfig, dedup.ModeReuse, dedup.ModeRename)
	}
	if !c.Sharkey.DryRun && (c.Sharkey.BaseURL == "" || c.Sharkey.Token == "") {
		return ErrMissingCredentials
	}
	return nil
}

// LoadConfig reads a YAML config file, applies environment overrides and
// defaults, and validates. SHARKEY_TOKEN and SHARKEY_BASE always win over
// the file so the credential can stay out of it.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if v := os.Getenv("SHARKEY_TOKEN"); v != "" {
		cfg.Sharkey.Token = v
	}
	if v := os.Getenv("SHARKEY_BASE"); v != "" {
		cfg.Sharkey.BaseURL = v
	}
	cfg.defaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
