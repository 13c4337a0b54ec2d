package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	homedir "github.com/mitchellh/go-homedir"
	gap "github.com/muesli/go-app-paths"
	"github.com/spf13/viper"

	"github.com/unkn0wn-root/offcache"
)

const (
	appName   = "offcache"
	envPrefix = "OFFCACHE_"
)

// Config holds all application configuration.
type Config struct {
	// HTTP settings
	Listen string `mapstructure:"listen" env:"LISTEN"`
	Origin string `mapstructure:"origin" env:"ORIGIN"`

	// Storage settings
	Namespace        string        `mapstructure:"namespace" env:"NAMESPACE"`
	Provider         string        `mapstructure:"provider" env:"PROVIDER"`
	DiskDir          string        `mapstructure:"disk_dir" env:"DISK_DIR"`
	CompressionLevel int           `mapstructure:"compression_level" env:"COMPRESSION_LEVEL"`
	MemoryMB         int           `mapstructure:"memory_mb" env:"MEMORY_MB"`
	RedisURL         string        `mapstructure:"redis_url" env:"REDIS_URL"`
	Codec            string        `mapstructure:"codec" env:"CODEC"`
	MaxEntryBytes    int           `mapstructure:"max_entry_bytes" env:"MAX_ENTRY_BYTES"`
	EntryTTL         time.Duration `mapstructure:"entry_ttl" env:"ENTRY_TTL"`

	// Lifecycle settings
	SkipWaiting  bool `mapstructure:"skip_waiting" env:"SKIP_WAITING"`
	ClaimClients bool `mapstructure:"claim_clients" env:"CLAIM_CLIENTS"`

	// Logging settings
	LogLevel  string `mapstructure:"log_level" env:"LOG_LEVEL"`
	LogFormat string `mapstructure:"log_format" env:"LOG_FORMAT"`

	Manifest offcache.Manifest `mapstructure:"manifest"`

	// File is the config file the values were read from, if any.
	File string `mapstructure:"-"`
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	return &Config{
		Listen:           "127.0.0.1:8080",
		Origin:           "http://127.0.0.1:3000",
		Namespace:        "speakeasy",
		Provider:         "disk",
		DiskDir:          defaultDiskDir(),
		CompressionLevel: 3,
		MemoryMB:         64,
		Codec:            "cbor",
		MaxEntryBytes:    8 << 20,
		SkipWaiting:      true,
		ClaimClients:     true,
		LogLevel:         "info",
		LogFormat:        "text",
		Manifest:         offcache.DefaultManifest(),
	}
}

func defaultDiskDir() string {
	dir, err := gap.NewScope(gap.User, appName).CacheDir()
	if err != nil || dir == "" {
		return filepath.Join(os.TempDir(), appName)
	}
	return dir
}

// SearchDirs lists the directories searched for offcache.yaml, most specific
// first.
func SearchDirs() ([]string, error) {
	dirs, err := gap.NewScope(gap.User, appName).ConfigDirs()
	if err != nil {
		return nil, fmt.Errorf("config: find config dirs: %w", err)
	}
	if c := os.Getenv("XDG_CONFIG_HOME"); c != "" {
		dirs = append([]string{filepath.Join(c, appName)}, dirs...)
	}
	if c := os.Getenv("OFFCACHE_CONFIG_HOME"); c != "" {
		dirs = append([]string{c}, dirs...)
	}
	return dirs, nil
}

// NewViper reads path, or the first offcache.yaml found in SearchDirs when
// path is empty. A missing default file is not an error.
func NewViper(path string) (*viper.Viper, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	if path != "" {
		p, err := homedir.Expand(path)
		if err != nil {
			return nil, fmt.Errorf("config: expand %q: %w", path, err)
		}
		v.SetConfigFile(p)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", p, err)
		}
		return v, nil
	}

	dirs, err := SearchDirs()
	if err != nil {
		return nil, err
	}
	for _, d := range dirs {
		v.AddConfigPath(d)
	}
	v.SetConfigName(appName)
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("config: parse: %w", err)
		}
	}
	return v, nil
}

// Load builds the configuration: defaults, then values from v, then OFFCACHE_*
// environment variables. The result is validated.
func Load(v *viper.Viper) (*Config, error) {
	cfg := Default()
	if v != nil {
		// a manifest in the file replaces the default one as a whole
		if v.IsSet("manifest") {
			cfg.Manifest = offcache.Manifest{}
		}
		if err := v.Unmarshal(cfg); err != nil {
			return nil, fmt.Errorf("config: decode: %w", err)
		}
		cfg.File = v.ConfigFileUsed()
	}
	if err := env.ParseWithOptions(cfg, env.Options{Prefix: envPrefix}); err != nil {
		return nil, fmt.Errorf("config: environment: %w", err)
	}

	dir, err := homedir.Expand(cfg.DiskDir)
	if err != nil {
		return nil, fmt.Errorf("config: expand disk_dir: %w", err)
	}
	cfg.DiskDir = dir

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// OriginURL parses Origin; call after Validate.
func (c *Config) OriginURL() *url.URL {
	u, _ := url.Parse(c.Origin)
	return u
}

// Validate checks that configuration values are usable.
func (c *Config) Validate() error {
	if c.Listen == "" {
		return errors.New("LISTEN must be set")
	}

	u, err := url.Parse(c.Origin)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return errors.New("ORIGIN must be an absolute http(s) URL")
	}

	if c.Namespace == "" || strings.ContainsAny(c.Namespace, ": \t\r\n") {
		return errors.New("NAMESPACE must be non-empty and contain no ':' or whitespace")
	}

	validProviders := map[string]bool{"disk": true, "bigcache": true, "ristretto": true, "redis": true}
	if !validProviders[c.Provider] {
		return errors.New("PROVIDER must be one of: disk, bigcache, ristretto, redis")
	}
	if c.Provider == "disk" && c.DiskDir == "" {
		return errors.New("DISK_DIR must be set for the disk provider")
	}
	if c.Provider == "redis" && c.RedisURL == "" {
		return errors.New("REDIS_URL must be set for the redis provider")
	}
	if c.CompressionLevel < 0 || c.CompressionLevel > 22 {
		return errors.New("COMPRESSION_LEVEL must be between 0 and 22")
	}
	if (c.Provider == "bigcache" || c.Provider == "ristretto") && c.MemoryMB < 1 {
		return errors.New("MEMORY_MB must be at least 1")
	}

	validCodecs := map[string]bool{"cbor": true, "msgpack": true, "json": true, "proto": true}
	if !validCodecs[c.Codec] {
		return errors.New("CODEC must be one of: cbor, msgpack, json, proto")
	}
	if c.MaxEntryBytes < 0 {
		return errors.New("MAX_ENTRY_BYTES must be non-negative")
	}
	if c.EntryTTL < 0 {
		return errors.New("ENTRY_TTL must be non-negative")
	}

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.LogLevel] {
		return errors.New("LOG_LEVEL must be one of: debug, info, warn, error")
	}

	validLogFormats := map[string]bool{"text": true, "json": true}
	if !validLogFormats[c.LogFormat] {
		return errors.New("LOG_FORMAT must be one of: text, json")
	}

	if err := c.Manifest.Validate(); err != nil {
		return fmt.Errorf("manifest: %w", err)
	}
	return nil
}
