// Package config loads unionctl settings from a YAML file.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvConfig names the environment variable holding the config file path
const EnvConfig = "UNIONCTL_CONFIG"

// Config is the unionctl configuration
type Config struct {
	ReadOnly       string      `yaml:"read_only"`        // directory of the read-only branch
	ReadWrite      string      `yaml:"read_write"`       // directory of the read-write branch
	Memory         bool        `yaml:"memory"`           // use two empty in-memory branches instead
	LogLevel       string      `yaml:"log_level"`        // panic, fatal, error, warn, info, debug, trace
	LogFormat      string      `yaml:"log_format"`       // text or json
	LockFile       string      `yaml:"lock_file"`        // default: <read_write>.lock
	CopyBufferSize int         `yaml:"copy_buffer_size"` // bytes, default 32 KiB
	StatCache      CacheConfig `yaml:"stat_cache"`
}

// CacheConfig configures the resolution cache
type CacheConfig struct {
	Enabled     bool          `yaml:"enabled"`
	TTL         time.Duration `yaml:"ttl"`
	NegativeTTL time.Duration `yaml:"negative_ttl"`
	MaxEntries  int           `yaml:"max_entries"`
}

// Default returns the configuration used when no file is given
func Default() *Config {
	cfg := &Config{}
	cfg.ApplyDefaults()
	return cfg
}

// ApplyDefaults fills zero-value fields with their defaults.
func (c *Config) ApplyDefaults() {
	if c.LogLevel == "" {
		c.LogLevel = "warn"
	}
	if c.LogFormat == "" {
		c.LogFormat = "text"
	}
	if c.CopyBufferSize <= 0 {
		c.CopyBufferSize = 32 * 1024
	}
	if c.StatCache.TTL <= 0 {
		c.StatCache.TTL = 5 * time.Second
	}
	if c.StatCache.NegativeTTL <= 0 {
		c.StatCache.NegativeTTL = c.StatCache.TTL / 2
	}
	if c.StatCache.MaxEntries <= 0 {
		c.StatCache.MaxEntries = 1000
	}
}

// Validate checks that the branch settings are usable.
func (c *Config) Validate() error {
	switch strings.ToLower(c.LogFormat) {
	case "text", "json":
	default:
		return fmt.Errorf("unknown log_format %q", c.LogFormat)
	}
	if c.Memory {
		return nil
	}
	if c.ReadOnly == "" {
		return errors.New("read_only branch directory is not set")
	}
	if c.ReadWrite == "" {
		return errors.New("read_write branch directory is not set")
	}
	ro, err := filepath.Abs(c.ReadOnly)
	if err != nil {
		return err
	}
	rw, err := filepath.Abs(c.ReadWrite)
	if err != nil {
		return err
	}
	if ro == rw || strings.HasPrefix(rw, ro+string(filepath.Separator)) || strings.HasPrefix(ro, rw+string(filepath.Separator)) {
		return fmt.Errorf("branches must not overlap: %s and %s", ro, rw)
	}
	return nil
}

// LockPath returns the lock file serializing mutations of the read-write
// branch. It lives next to the branch, never inside it.
func (c *Config) LockPath() string {
	if c.LockFile != "" {
		return c.LockFile
	}
	if c.Memory || c.ReadWrite == "" {
		return ""
	}
	return filepath.Clean(c.ReadWrite) + ".lock"
}

// Load reads the config file at path. With an empty path it falls back to
// $UNIONCTL_CONFIG; with neither set it returns the defaults.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv(EnvConfig)
	}
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	cfg.ApplyDefaults()
	return &cfg, nil
}
