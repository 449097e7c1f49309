// Package config provides client configuration loading and management.
package config

import (
	"errors"
	"fmt"
	"log"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Storage drivers accepted by STORAGE_DRIVER.
const (
	StorageFile     = "file"
	StorageSQLite   = "sqlite"
	StoragePostgres = "postgres"
	StorageRedis    = "redis"
	StorageMemory   = "memory"
)

// Config holds client configuration values loaded from file or environment variables.
type Config struct {
	Env      string `mapstructure:"APP_ENV"`
	LogLevel string `mapstructure:"LOG_LEVEL"`

	APIURL             string `mapstructure:"FORUM_API_URL"`
	AssetURL           string `mapstructure:"FORUM_ASSET_URL"`
	HTTPTimeoutSeconds int    `mapstructure:"HTTP_TIMEOUT_SECONDS"`
	PageSize           int    `mapstructure:"PAGE_SIZE"`

	StorageDriver  string `mapstructure:"STORAGE_DRIVER"`
	StoragePath    string `mapstructure:"STORAGE_PATH"`
	StorageDSN     string `mapstructure:"STORAGE_DSN"`
	RedisURL       string `mapstructure:"REDIS_URL"`
	RedisKeyPrefix string `mapstructure:"REDIS_KEY_PREFIX"`

	FeatureFlags string `mapstructure:"FEATURE_FLAGS"`

	TracingEnabled     bool    `mapstructure:"TRACING_ENABLED"`
	TracingExporter    string  `mapstructure:"TRACING_EXPORTER"`
	TracingSampleRatio float64 `mapstructure:"TRACING_SAMPLE_RATIO"`
	OTLPEndpoint       string  `mapstructure:"OTLP_ENDPOINT"`
	MetricsTextfile    string  `mapstructure:"METRICS_TEXTFILE"`

	MediaMaxEdge int    `mapstructure:"MEDIA_MAX_EDGE"`
	MediaFormat  string `mapstructure:"MEDIA_FORMAT"`
	MediaDir     string `mapstructure:"MEDIA_DIR"`
}

// LoadConfig loads configuration from .env, config file and environment variables.
func LoadConfig() (*Config, error) {
	// A missing .env is the normal case outside development.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to read .env: %w", err)
	}

	viper.AddConfigPath(".")
	viper.AddConfigPath(filepath.Join(homeDir(), ".forumctl"))
	viper.SetConfigName("config")
	viper.SetConfigType("yml")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	viper.SetDefault("APP_ENV", "development")
	viper.SetDefault("LOG_LEVEL", "info")
	viper.SetDefault("FORUM_API_URL", "http://localhost:3001/api")
	viper.SetDefault("FORUM_ASSET_URL", "")
	viper.SetDefault("HTTP_TIMEOUT_SECONDS", 10)
	viper.SetDefault("PAGE_SIZE", 10)
	viper.SetDefault("STORAGE_DRIVER", StorageFile)
	viper.SetDefault("STORAGE_PATH", filepath.Join(homeDir(), ".forumctl", "session.json"))
	viper.SetDefault("STORAGE_DSN", "")
	viper.SetDefault("REDIS_URL", "localhost:6379")
	viper.SetDefault("REDIS_KEY_PREFIX", "forumctl:")
	viper.SetDefault("FEATURE_FLAGS", "")
	viper.SetDefault("TRACING_ENABLED", false)
	viper.SetDefault("TRACING_EXPORTER", "stdout")
	viper.SetDefault("TRACING_SAMPLE_RATIO", 1.0)
	viper.SetDefault("OTLP_ENDPOINT", "localhost:4318")
	viper.SetDefault("METRICS_TEXTFILE", "")
	viper.SetDefault("MEDIA_MAX_EDGE", 1280)
	viper.SetDefault("MEDIA_FORMAT", "jpeg")
	viper.SetDefault("MEDIA_DIR", ".")

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode config into struct: %w", err)
	}
	config.normalize()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

func (c *Config) normalize() {
	c.Env = strings.ToLower(strings.TrimSpace(c.Env))
	c.StorageDriver = strings.ToLower(strings.TrimSpace(c.StorageDriver))
	c.MediaFormat = strings.ToLower(strings.TrimSpace(c.MediaFormat))
	c.APIURL = strings.TrimRight(strings.TrimSpace(c.APIURL), "/")
	c.AssetURL = strings.TrimRight(strings.TrimSpace(c.AssetURL), "/")
	if c.AssetURL == "" {
		c.AssetURL = strings.TrimSuffix(c.APIURL, "/api")
	}
}

// IsProduction reports whether the client runs with production settings.
func (c *Config) IsProduction() bool {
	return c.Env == "production" || c.Env == "prod"
}

// Validate ensures that required configuration values are present and usable.
func (c *Config) Validate() error {
	if c.APIURL == "" {
		return errors.New("FORUM_API_URL is required")
	}
	u, err := url.Parse(c.APIURL)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return fmt.Errorf("FORUM_API_URL must be an absolute http(s) URL, got %q", c.APIURL)
	}
	if c.HTTPTimeoutSeconds <= 0 {
		return errors.New("HTTP_TIMEOUT_SECONDS must be positive")
	}
	if c.PageSize <= 0 {
		return errors.New("PAGE_SIZE must be positive")
	}
	if c.MediaMaxEdge <= 0 {
		return errors.New("MEDIA_MAX_EDGE must be positive")
	}
	if c.MediaFormat != "jpeg" && c.MediaFormat != "webp" {
		return fmt.Errorf("MEDIA_FORMAT must be jpeg or webp, got %q", c.MediaFormat)
	}
	if c.TracingSampleRatio < 0 || c.TracingSampleRatio > 1 {
		return fmt.Errorf("TRACING_SAMPLE_RATIO must be between 0 and 1, got %g", c.TracingSampleRatio)
	}

	switch c.StorageDriver {
	case StorageFile, StorageSQLite:
		if c.StoragePath == "" && c.StorageDSN == "" {
			return fmt.Errorf("STORAGE_PATH is required for the %s driver", c.StorageDriver)
		}
	case StoragePostgres:
		if c.StorageDSN == "" {
			return errors.New("STORAGE_DSN is required for the postgres driver")
		}
	case StorageRedis:
		if c.RedisURL == "" {
			return errors.New("REDIS_URL is required for the redis driver")
		}
	case StorageMemory:
	default:
		return fmt.Errorf("unknown STORAGE_DRIVER %q", c.StorageDriver)
	}

	if c.IsProduction() {
		if u.Scheme != "https" {
			return errors.New("FORUM_API_URL must use https in production")
		}
		if c.StorageDriver == StorageMemory {
			return errors.New("the memory storage driver cannot persist sessions in production")
		}
	} else if u.Scheme != "https" && u.Hostname() != "localhost" && u.Hostname() != "127.0.0.1" {
		log.Println("WARNING: FORUM_API_URL uses plain http for a non-local host. Session tokens travel unencrypted.")
	}

	return nil
}

func homeDir() string {
	if h, err := os.UserHomeDir(); err == nil {
		return h
	}
	return "."
}
