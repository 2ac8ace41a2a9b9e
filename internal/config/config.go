package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

const EnvPrefix = "KESTREL"

type Config struct {
	Log       LogConfig       `yaml:"log" envconfig:"LOG"`
	HTTP      HTTPConfig      `yaml:"http" envconfig:"HTTP"`
	Downloads DownloadsConfig `yaml:"downloads" envconfig:"DOWNLOADS"`
	Favicon   FaviconConfig   `yaml:"favicon" envconfig:"FAVICON"`
	Policy    PolicyConfig    `yaml:"policy" envconfig:"POLICY"`
	Metrics   MetricsConfig   `yaml:"metrics" envconfig:"METRICS"`
}

type LogConfig struct {
	Level string `yaml:"level" envconfig:"LEVEL"`
	JSON  bool   `yaml:"json" envconfig:"JSON"`
}

type HTTPConfig struct {
	Timeout       time.Duration     `yaml:"timeout" envconfig:"TIMEOUT"`
	KATimeout     time.Duration     `yaml:"keep_alive_timeout" envconfig:"KEEP_ALIVE_TIMEOUT"`
	UserAgent     string            `yaml:"user_agent" envconfig:"USER_AGENT"`
	ProxyURL      string            `yaml:"proxy" envconfig:"PROXY"`
	ProxyUsername string            `yaml:"proxy_username" envconfig:"PROXY_USERNAME"`
	ProxyPassword string            `yaml:"proxy_password" envconfig:"PROXY_PASSWORD"`
	Headers       map[string]string `yaml:"headers" envconfig:"HEADERS"`
	RateLimit     float64           `yaml:"rate_limit" envconfig:"RATE_LIMIT"` // requests per second, 0 = unlimited
	S3Profile     string            `yaml:"s3_profile" envconfig:"S3_PROFILE"`
}

type DownloadsConfig struct {
	Dir            string `yaml:"dir" envconfig:"DIR"`
	TempDir        string `yaml:"temp_dir" envconfig:"TEMP_DIR"`
	BootstrapLimit int    `yaml:"bootstrap_limit" envconfig:"BOOTSTRAP_LIMIT"`
	MaxCollisions  int    `yaml:"max_collisions" envconfig:"MAX_COLLISIONS"` // 0 = unbounded
	Workers        int    `yaml:"workers" envconfig:"WORKERS"`
}

type FaviconConfig struct {
	Size       int           `yaml:"size" envconfig:"SIZE"`
	Timeout    time.Duration `yaml:"timeout" envconfig:"TIMEOUT"`
	Aggregator string        `yaml:"aggregator" envconfig:"AGGREGATOR"`
	MaxBytes   int64         `yaml:"max_bytes" envconfig:"MAX_BYTES"`
}

type PolicyConfig struct {
	ExtraDownloadTypes []string `yaml:"extra_download_types" envconfig:"EXTRA_DOWNLOAD_TYPES"`
	AuthMarkers        []string `yaml:"auth_markers" envconfig:"AUTH_MARKERS"`
	ForceDark          bool     `yaml:"force_dark" envconfig:"FORCE_DARK"`
}

type MetricsConfig struct {
	Addr string `yaml:"addr" envconfig:"ADDR"`
}

func Default() *Config {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	downloads := filepath.Join(home, "Downloads")
	return &Config{
		Log: LogConfig{Level: "info"},
		HTTP: HTTPConfig{
			Timeout:   3 * time.Minute,
			KATimeout: 90 * time.Second,
			UserAgent: "kestrel/1.0",
			Headers:   map[string]string{},
			S3Profile: "default",
		},
		Downloads: DownloadsConfig{
			Dir:            downloads,
			TempDir:        filepath.Join(downloads, ".kestrel-temp"),
			BootstrapLimit: 20,
			Workers:        4,
		},
		Favicon: FaviconConfig{
			Size:       32,
			Timeout:    5 * time.Second,
			Aggregator: "https://www.google.com/s2/favicons?domain=%s&sz=64",
			MaxBytes:   1 << 20,
		},
		Policy: PolicyConfig{ForceDark: false},
	}
}

// DefaultPath is where Load looks when no explicit path is given.
func DefaultPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "kestrel", "config.yaml")
}

// Load layers defaults, the YAML file at path and KESTREL_* environment
// variables, in that order. A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("error reading config file: %w", err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("error parsing config file %s: %w", path, err)
			}
		}
	}
	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return nil, fmt.Errorf("error reading environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Downloads.Dir == "" {
		return errors.New("downloads.dir must be set")
	}
	if c.Downloads.TempDir == "" {
		c.Downloads.TempDir = filepath.Join(c.Downloads.Dir, ".kestrel-temp")
	}
	if c.Downloads.BootstrapLimit < 0 {
		return fmt.Errorf("downloads.bootstrap_limit must be >= 0, got %d", c.Downloads.BootstrapLimit)
	}
	if c.Downloads.MaxCollisions < 0 {
		return fmt.Errorf("downloads.max_collisions must be >= 0, got %d", c.Downloads.MaxCollisions)
	}
	if c.Downloads.Workers < 1 {
		c.Downloads.Workers = 1
	}
	if c.Favicon.Size <= 0 {
		return fmt.Errorf("favicon.size must be positive, got %d", c.Favicon.Size)
	}
	if c.Favicon.Timeout <= 0 {
		return fmt.Errorf("favicon.timeout must be positive, got %s", c.Favicon.Timeout)
	}
	if c.HTTP.Headers == nil {
		c.HTTP.Headers = map[string]string{}
	}
	return nil
}
