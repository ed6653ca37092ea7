package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"

	"github.com/menta2k/pulmoscan/pkg/intake"
	"github.com/menta2k/pulmoscan/pkg/predictsvc"
)

// EnvPrefix prefixes every environment override, e.g. PULMOSCAN_SERVICE_BASE_URL
const EnvPrefix = "PULMOSCAN"

// Config holds the application configuration
type Config struct {
	Service ServiceConfig `mapstructure:"service" json:"service"`
	Intake  IntakeConfig  `mapstructure:"intake" json:"intake"`
	Cache   CacheConfig   `mapstructure:"cache" json:"cache"`
	Logging LoggingConfig `mapstructure:"logging" json:"logging"`
}

// ServiceConfig describes the prediction service and how to call it
type ServiceConfig struct {
	BaseURL             string        `mapstructure:"base_url" json:"base_url"`
	Timeout             time.Duration `mapstructure:"timeout" json:"timeout"`
	RateLimit           float64       `mapstructure:"rate_limit" json:"rate_limit"`
	Burst               int           `mapstructure:"burst" json:"burst"`
	MaxRetries          int           `mapstructure:"max_retries" json:"max_retries"`
	RetryInitial        time.Duration `mapstructure:"retry_initial" json:"retry_initial"`
	RetryMax            time.Duration `mapstructure:"retry_max" json:"retry_max"`
	BreakerMinRequests  int           `mapstructure:"breaker_min_requests" json:"breaker_min_requests"`
	BreakerFailureRatio float64       `mapstructure:"breaker_failure_ratio" json:"breaker_failure_ratio"`
	BreakerInterval     time.Duration `mapstructure:"breaker_interval" json:"breaker_interval"`
	BreakerOpenTimeout  time.Duration `mapstructure:"breaker_open_timeout" json:"breaker_open_timeout"`
}

// IntakeConfig holds upload limits and preview rendering
type IntakeConfig struct {
	MaxUploadBytes int64  `mapstructure:"max_upload_bytes" json:"max_upload_bytes"`
	PreviewMaxDim  int    `mapstructure:"preview_max_dim" json:"preview_max_dim"`
	PreviewFormat  string `mapstructure:"preview_format" json:"preview_format"`
	PreviewQuality int    `mapstructure:"preview_quality" json:"preview_quality"`
}

// CacheConfig controls the in-memory response cache
type CacheConfig struct {
	Enabled bool `mapstructure:"enabled" json:"enabled"`
	Size    int  `mapstructure:"size" json:"size"`
}

// LoggingConfig controls the logger
type LoggingConfig struct {
	Level  string `mapstructure:"level" json:"level"`
	Format string `mapstructure:"format" json:"format"`
}

// Default returns a configuration with default values
func Default() *Config {
	return &Config{
		Service: ServiceConfig{
			BaseURL:             predictsvc.DefaultBaseURL,
			Timeout:             60 * time.Second,
			RateLimit:           2,
			Burst:               2,
			MaxRetries:          2,
			RetryInitial:        500 * time.Millisecond,
			RetryMax:            5 * time.Second,
			BreakerMinRequests:  3,
			BreakerFailureRatio: 0.6,
			BreakerInterval:     30 * time.Second,
			BreakerOpenTimeout:  30 * time.Second,
		},
		Intake: IntakeConfig{
			MaxUploadBytes: intake.DefaultMaxBytes,
			PreviewMaxDim:  512,
			PreviewFormat:  "jpg",
			PreviewQuality: 85,
		},
		Cache: CacheConfig{
			Enabled: true,
			Size:    64,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads defaults, then the config file, then PULMOSCAN_* environment
// variables. With an empty path the file is optional and searched for as
// config.{json,yaml} in the working directory and GetConfigDir.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v, Default())

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		v.AddConfigPath(GetConfigDir())
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}

// LoadFromFile loads configuration from a JSON or YAML file
func LoadFromFile(filename string) (*Config, error) {
	return Load(filename)
}

func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("service.base_url", d.Service.BaseURL)
	v.SetDefault("service.timeout", d.Service.Timeout)
	v.SetDefault("service.rate_limit", d.Service.RateLimit)
	v.SetDefault("service.burst", d.Service.Burst)
	v.SetDefault("service.max_retries", d.Service.MaxRetries)
	v.SetDefault("service.retry_initial", d.Service.RetryInitial)
	v.SetDefault("service.retry_max", d.Service.RetryMax)
	v.SetDefault("service.breaker_min_requests", d.Service.BreakerMinRequests)
	v.SetDefault("service.breaker_failure_ratio", d.Service.BreakerFailureRatio)
	v.SetDefault("service.breaker_interval", d.Service.BreakerInterval)
	v.SetDefault("service.breaker_open_timeout", d.Service.BreakerOpenTimeout)

	v.SetDefault("intake.max_upload_bytes", d.Intake.MaxUploadBytes)
	v.SetDefault("intake.preview_max_dim", d.Intake.PreviewMaxDim)
	v.SetDefault("intake.preview_format", d.Intake.PreviewFormat)
	v.SetDefault("intake.preview_quality", d.Intake.PreviewQuality)

	v.SetDefault("cache.enabled", d.Cache.Enabled)
	v.SetDefault("cache.size", d.Cache.Size)

	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.format", d.Logging.Format)
}

// SaveToFile saves configuration to a JSON file
func (c *Config) SaveToFile(filename string) error {
	dir := filepath.Dir(filename)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(filename, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	u, err := url.Parse(c.Service.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("service.base_url must be an http(s) URL, got %q", c.Service.BaseURL)
	}
	if c.Service.Timeout <= 0 {
		return fmt.Errorf("service.timeout must be positive")
	}
	if c.Service.RateLimit < 0 {
		return fmt.Errorf("service.rate_limit cannot be negative")
	}
	if c.Service.MaxRetries < 0 {
		return fmt.Errorf("service.max_retries cannot be negative")
	}
	if c.Service.BreakerFailureRatio < 0 || c.Service.BreakerFailureRatio > 1 {
		return fmt.Errorf("service.breaker_failure_ratio must be between 0 and 1")
	}
	if c.Service.BreakerMinRequests < 0 {
		return fmt.Errorf("service.breaker_min_requests cannot be negative")
	}

	if c.Intake.MaxUploadBytes <= 0 {
		return fmt.Errorf("intake.max_upload_bytes must be positive")
	}
	if c.Intake.PreviewMaxDim < 0 {
		return fmt.Errorf("intake.preview_max_dim cannot be negative")
	}
	switch strings.ToLower(c.Intake.PreviewFormat) {
	case "jpg", "jpeg", "png", "webp":
	default:
		return fmt.Errorf("intake.preview_format must be jpg, png or webp")
	}
	if c.Intake.PreviewQuality < 1 || c.Intake.PreviewQuality > 100 {
		return fmt.Errorf("intake.preview_quality must be between 1 and 100")
	}

	if c.Cache.Enabled && c.Cache.Size < 1 {
		return fmt.Errorf("cache.size must be positive when the cache is enabled")
	}

	if _, err := logrus.ParseLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}
	switch strings.ToLower(c.Logging.Format) {
	case "json", "text":
	default:
		return fmt.Errorf("logging.format must be json or text")
	}

	return nil
}

// IntakeSettings converts the intake section for pkg/intake
func (c *Config) IntakeSettings() intake.Config {
	return intake.Config{
		MaxBytes:       c.Intake.MaxUploadBytes,
		PreviewMaxDim:  c.Intake.PreviewMaxDim,
		PreviewFormat:  c.Intake.PreviewFormat,
		PreviewQuality: c.Intake.PreviewQuality,
	}
}

// ResilienceSettings converts the service section for pkg/predictsvc
func (c *Config) ResilienceSettings() predictsvc.ResilienceConfig {
	return predictsvc.ResilienceConfig{
		RateLimit:           c.Service.RateLimit,
		Burst:               c.Service.Burst,
		MaxRetries:          uint64(c.Service.MaxRetries),
		InitialInterval:     c.Service.RetryInitial,
		MaxInterval:         c.Service.RetryMax,
		BreakerMinRequests:  uint32(c.Service.BreakerMinRequests),
		BreakerFailureRatio: c.Service.BreakerFailureRatio,
		BreakerInterval:     c.Service.BreakerInterval,
		BreakerOpenTimeout:  c.Service.BreakerOpenTimeout,
	}
}

// GetConfigDir returns the per-user configuration directory
func GetConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config", "pulmoscan")
}

// GetConfigPath returns the default configuration file path
func GetConfigPath() string {
	return filepath.Join(GetConfigDir(), "config.json")
}
