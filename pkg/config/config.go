package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	// DefaultBaseURL is the default tracking service API endpoint.
	DefaultBaseURL = "https://api.trackhub.dev"

	// DefaultLogLevel is the default logging level.
	DefaultLogLevel = "info"

	// DefaultHTTPTimeout is the per-request timeout for remote API calls.
	DefaultHTTPTimeout = 30 * time.Second

	// DefaultPageSize is the number of runs requested per page.
	DefaultPageSize = 100

	// DefaultRequestsPerMinute throttles pagination against the remote API.
	DefaultRequestsPerMinute = 120

	// DefaultSyncConcurrency is the number of scopes synced in parallel.
	DefaultSyncConcurrency = 4

	// EnvAPIKey is the environment variable holding the API key. It is
	// checked before the credentials file.
	EnvAPIKey = "TRACKCTL_API_KEY"
)

// Config is the root configuration for trackctl.
type Config struct {
	LogLevel string       `yaml:"log_level" mapstructure:"log_level"`
	Entity   string       `yaml:"entity" mapstructure:"entity"`
	Remote   RemoteConfig `yaml:"remote" mapstructure:"remote"`
	Cache    CacheConfig  `yaml:"cache" mapstructure:"cache"`
	Sync     SyncConfig   `yaml:"sync" mapstructure:"sync"`
}

// RemoteConfig contains settings for the tracking service API.
type RemoteConfig struct {
	BaseURL           string        `yaml:"base_url" mapstructure:"base_url"`
	APIKey            string        `yaml:"api_key" mapstructure:"api_key"`
	CredentialsFile   string        `yaml:"credentials_file" mapstructure:"credentials_file"`
	Timeout           time.Duration `yaml:"timeout" mapstructure:"timeout"`
	PageSize          int           `yaml:"page_size" mapstructure:"page_size"`
	RequestsPerMinute int           `yaml:"requests_per_minute" mapstructure:"requests_per_minute"`
}

// CacheConfig contains settings for the local cache database.
type CacheConfig struct {
	Driver   string         `yaml:"driver" mapstructure:"driver"`
	SQLite   SQLiteConfig   `yaml:"sqlite" mapstructure:"sqlite"`
	Postgres PostgresConfig `yaml:"postgres,omitempty" mapstructure:"postgres"`
}

// SQLiteConfig contains SQLite cache settings.
type SQLiteConfig struct {
	Path string `yaml:"path" mapstructure:"path"`
}

// PostgresConfig contains PostgreSQL cache settings for shared setups.
type PostgresConfig struct {
	Host     string `yaml:"host" mapstructure:"host"`
	Port     int    `yaml:"port" mapstructure:"port"`
	User     string `yaml:"user" mapstructure:"user"`
	Password string `yaml:"password" mapstructure:"password"`
	Database string `yaml:"database" mapstructure:"database"`
	SSLMode  string `yaml:"ssl_mode" mapstructure:"ssl_mode"`
}

// SyncConfig contains sync engine settings.
type SyncConfig struct {
	Concurrency int `yaml:"concurrency" mapstructure:"concurrency"`
}

// Load reads configuration from the given file, the TRACKCTL_* environment
// and built-in defaults. An empty path falls back to ~/.trackctl/config.yaml
// when that file exists; its absence is not an error.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix("TRACKCTL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	configDir, err := DefaultConfigDir()
	if err != nil {
		return nil, err
	}

	v.SetDefault("log_level", DefaultLogLevel)
	v.SetDefault("remote.base_url", DefaultBaseURL)
	v.SetDefault("remote.credentials_file", filepath.Join(configDir, "credentials"))
	v.SetDefault("remote.timeout", DefaultHTTPTimeout)
	v.SetDefault("remote.page_size", DefaultPageSize)
	v.SetDefault("remote.requests_per_minute", DefaultRequestsPerMinute)
	v.SetDefault("cache.driver", "sqlite")
	v.SetDefault("cache.sqlite.path", filepath.Join(configDir, "cache.db"))
	v.SetDefault("cache.postgres.port", 5432)
	v.SetDefault("cache.postgres.ssl_mode", "disable")
	v.SetDefault("sync.concurrency", DefaultSyncConcurrency)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	} else {
		implicit := filepath.Join(configDir, "config.yaml")
		if _, statErr := os.Stat(implicit); statErr == nil {
			v.SetConfigFile(implicit)
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("reading config file: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	return &cfg, nil
}

// DefaultConfigDir returns the per-user trackctl directory.
func DefaultConfigDir() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("getting home directory: %w", err)
	}

	return filepath.Join(homeDir, ".trackctl"), nil
}

// ResolveAPIKey returns the API key for the remote service. Sources are
// checked in order: explicit config value, the TRACKCTL_API_KEY environment
// variable, then the credentials file. An empty result means the user is
// not authenticated.
func (c *Config) ResolveAPIKey() string {
	if c.Remote.APIKey != "" {
		return c.Remote.APIKey
	}

	if key := os.Getenv(EnvAPIKey); key != "" {
		return key
	}

	if c.Remote.CredentialsFile != "" {
		if data, err := os.ReadFile(c.Remote.CredentialsFile); err == nil {
			return strings.TrimSpace(string(data))
		}
	}

	return ""
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	switch c.Cache.Driver {
	case "sqlite":
		if c.Cache.SQLite.Path == "" {
			return fmt.Errorf("cache.sqlite.path is required")
		}
	case "postgres":
		if c.Cache.Postgres.Host == "" {
			return fmt.Errorf("cache.postgres.host is required")
		}

		if c.Cache.Postgres.Database == "" {
			return fmt.Errorf("cache.postgres.database is required")
		}
	default:
		return fmt.Errorf("unsupported cache driver: %s", c.Cache.Driver)
	}

	if c.Remote.BaseURL == "" {
		return fmt.Errorf("remote.base_url is required")
	}

	if c.Remote.PageSize <= 0 {
		return fmt.Errorf("remote.page_size must be positive")
	}

	if c.Sync.Concurrency <= 0 {
		return fmt.Errorf("sync.concurrency must be positive")
	}

	return nil
}
