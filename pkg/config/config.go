package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const envPrefix = "CIVITSCRAPER_"

// Config holds all configuration options for civitscraper
type Config struct {
	API       APIConfig       `yaml:"api" json:"api"`
	RateLimit RateLimitConfig `yaml:"rate_limit" json:"rate_limit"`
	Output    OutputConfig    `yaml:"output" json:"output"`
	Download  DownloadConfig  `yaml:"download" json:"download"`
	Retry     RetryConfig     `yaml:"retry" json:"retry"`
	Logging   LoggingConfig   `yaml:"logging" json:"logging"`
}

// APIConfig describes how to talk to the image listing API
type APIConfig struct {
	BaseURL string `yaml:"base_url" json:"base_url"`
	// APIKey is never written back to disk by Save; use `auth login` instead.
	APIKey         string        `yaml:"api_key,omitempty" json:"-"`
	UserAgent      string        `yaml:"user_agent" json:"user_agent"`
	PageLimit      int           `yaml:"page_limit" json:"page_limit"`
	Sort           string        `yaml:"sort" json:"sort"`
	Period         string        `yaml:"period" json:"period"`
	NSFW           string        `yaml:"nsfw" json:"nsfw"`
	RequestTimeout time.Duration `yaml:"request_timeout" json:"request_timeout"`
	ProxyURL       string        `yaml:"proxy_url,omitempty" json:"proxy_url,omitempty"`
}

// RateLimitConfig holds rate limiting configuration
type RateLimitConfig struct {
	// RequestsPerMinute paces metadata page requests
	RequestsPerMinute int `yaml:"requests_per_minute" json:"requests_per_minute"`
	// DownloadsPerMinute caps image transfers started in any one-minute
	// span; 0 disables pacing
	DownloadsPerMinute int `yaml:"downloads_per_minute" json:"downloads_per_minute"`
}

// OutputConfig holds output directory configuration
type OutputConfig struct {
	BaseDirectory     string `yaml:"base_directory" json:"base_directory"`
	CreateUserFolders bool   `yaml:"create_user_folders" json:"create_user_folders"`
	SaveMetadata      bool   `yaml:"save_metadata" json:"save_metadata"`
	WriteReport       bool   `yaml:"write_report" json:"write_report"`
}

// DownloadConfig holds download-specific configuration
type DownloadConfig struct {
	ConcurrentDownloads int `yaml:"concurrent_downloads" json:"concurrent_downloads"`
	// QueueSize bounds records waiting for a worker; 0 means twice the workers
	QueueSize       int           `yaml:"queue_size" json:"queue_size"`
	DownloadTimeout time.Duration `yaml:"download_timeout" json:"download_timeout"`
}

// RetryConfig controls retries of transient failures
type RetryConfig struct {
	MaxAttempts int           `yaml:"max_attempts" json:"max_attempts"`
	BaseDelay   time.Duration `yaml:"base_delay" json:"base_delay"`
	MaxDelay    time.Duration `yaml:"max_delay" json:"max_delay"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level string `yaml:"level" json:"level"`
	File  string `yaml:"file" json:"file"`
}

// DefaultConfig returns a Config instance with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		API: APIConfig{
			BaseURL:        "https://civitai.com",
			UserAgent:      "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/91.0.4472.124 Safari/537.36",
			PageLimit:      100,
			Sort:           "Newest",
			Period:         "AllTime",
			NSFW:           "X",
			RequestTimeout: 30 * time.Second,
		},
		RateLimit: RateLimitConfig{
			RequestsPerMinute:  60,
			DownloadsPerMinute: 0,
		},
		Output: OutputConfig{
			BaseDirectory:     ".",
			CreateUserFolders: true,
			SaveMetadata:      false,
			WriteReport:       true,
		},
		Download: DownloadConfig{
			ConcurrentDownloads: 5,
			QueueSize:           0,
			DownloadTimeout:     5 * time.Minute,
		},
		Retry: RetryConfig{
			MaxAttempts: 3,
			BaseDelay:   2 * time.Second,
			MaxDelay:    10 * time.Second,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// LoadFromEnv loads configuration from CIVITSCRAPER_* environment variables
func (c *Config) LoadFromEnv() error {
	var errs []error

	setString := func(name string, dst *string) {
		if v := os.Getenv(envPrefix + name); v != "" {
			*dst = v
		}
	}
	setInt := func(name string, dst *int) {
		v := os.Getenv(envPrefix + name)
		if v == "" {
			return
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s%s: %w", envPrefix, name, err))
			return
		}
		*dst = n
	}
	setDuration := func(name string, dst *time.Duration) {
		v := os.Getenv(envPrefix + name)
		if v == "" {
			return
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s%s: %w", envPrefix, name, err))
			return
		}
		*dst = d
	}
	setBool := func(name string, dst *bool) {
		v := os.Getenv(envPrefix + name)
		if v == "" {
			return
		}
		b, err := strconv.ParseBool(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s%s: %w", envPrefix, name, err))
			return
		}
		*dst = b
	}

	setString("BASE_URL", &c.API.BaseURL)
	setString("API_KEY", &c.API.APIKey)
	setString("USER_AGENT", &c.API.UserAgent)
	setString("NSFW", &c.API.NSFW)
	setString("PROXY", &c.API.ProxyURL)
	setInt("PAGE_LIMIT", &c.API.PageLimit)
	setDuration("REQUEST_TIMEOUT", &c.API.RequestTimeout)

	setInt("REQUESTS_PER_MINUTE", &c.RateLimit.RequestsPerMinute)
	setInt("DOWNLOADS_PER_MINUTE", &c.RateLimit.DownloadsPerMinute)

	setString("OUTPUT_DIR", &c.Output.BaseDirectory)
	setBool("SAVE_METADATA", &c.Output.SaveMetadata)

	setInt("CONCURRENT_DOWNLOADS", &c.Download.ConcurrentDownloads)
	setDuration("DOWNLOAD_TIMEOUT", &c.Download.DownloadTimeout)

	setInt("MAX_ATTEMPTS", &c.Retry.MaxAttempts)

	setString("LOG_LEVEL", &c.Logging.Level)
	setString("LOG_FILE", &c.Logging.File)

	return errors.Join(errs...)
}

// LoadFromFile loads configuration from a YAML file
func (c *Config) LoadFromFile(path string) error {
	if path == "" {
		path = FindConfigFile()
		if path == "" {
			return nil
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

// FindConfigFile searches for a config file in standard locations
func FindConfigFile() string {
	home, _ := os.UserHomeDir()
	locations := []string{
		".civitscraper.yaml",
		".civitscraper.yml",
	}
	if home != "" {
		locations = append(locations,
			filepath.Join(home, ".config", "civitscraper", "config.yaml"),
			filepath.Join(home, ".config", "civitscraper", "config.yml"),
			filepath.Join(home, ".civitscraper.yaml"),
		)
	}

	for _, loc := range locations {
		if _, err := os.Stat(loc); err == nil {
			return loc
		}
	}
	return ""
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	var errs []error

	if u, err := url.Parse(c.API.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, fmt.Errorf("api base url %q is not an absolute URL", c.API.BaseURL))
	}
	if c.API.PageLimit <= 0 || c.API.PageLimit > 200 {
		errs = append(errs, errors.New("page limit must be between 1 and 200"))
	}
	if c.API.RequestTimeout <= 0 {
		errs = append(errs, errors.New("request timeout must be positive"))
	}
	if c.API.ProxyURL != "" {
		if u, err := url.Parse(c.API.ProxyURL); err != nil || u.Host == "" {
			errs = append(errs, fmt.Errorf("proxy url %q is invalid", c.API.ProxyURL))
		}
	}

	if c.RateLimit.RequestsPerMinute <= 0 {
		errs = append(errs, errors.New("requests per minute must be positive"))
	}
	if c.RateLimit.DownloadsPerMinute < 0 {
		errs = append(errs, errors.New("downloads per minute cannot be negative"))
	}

	if c.Download.ConcurrentDownloads <= 0 {
		errs = append(errs, errors.New("concurrent downloads must be positive"))
	}
	if c.Download.ConcurrentDownloads > 32 {
		errs = append(errs, errors.New("concurrent downloads should not exceed 32"))
	}
	if c.Download.QueueSize < 0 {
		errs = append(errs, errors.New("queue size cannot be negative"))
	}
	if c.Download.DownloadTimeout <= 0 {
		errs = append(errs, errors.New("download timeout must be positive"))
	}

	if c.Retry.MaxAttempts <= 0 {
		errs = append(errs, errors.New("max attempts must be at least 1"))
	}
	if c.Retry.BaseDelay < 0 || c.Retry.MaxDelay < 0 {
		errs = append(errs, errors.New("retry delays cannot be negative"))
	}
	if c.Retry.MaxDelay > 0 && c.Retry.BaseDelay > c.Retry.MaxDelay {
		errs = append(errs, errors.New("retry base delay exceeds max delay"))
	}

	if c.Output.BaseDirectory == "" {
		errs = append(errs, errors.New("output directory is required"))
	}

	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true, "off": true,
	}
	if !validLogLevels[strings.ToLower(c.Logging.Level)] {
		errs = append(errs, fmt.Errorf("invalid log level %q", c.Logging.Level))
	}

	return errors.Join(errs...)
}

// Save saves the configuration to a file. The API key is never persisted.
func (c *Config) Save(path string) error {
	clean := *c
	clean.API.APIKey = ""

	data, err := yaml.Marshal(&clean)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// QueueCapacity returns the effective bounded queue size
func (d DownloadConfig) QueueCapacity() int {
	if d.QueueSize > 0 {
		return d.QueueSize
	}
	return d.ConcurrentDownloads * 2
}

// OutputDir returns the directory images for username are written to
func (c *Config) OutputDir(username string) string {
	if c.Output.CreateUserFolders {
		return filepath.Join(c.Output.BaseDirectory, username)
	}
	return c.Output.BaseDirectory
}

// MergeCommandLineFlags merges command line flags into the configuration.
// Only flags the user actually set should be present in the map.
func (c *Config) MergeCommandLineFlags(flags map[string]interface{}) {
	if v, ok := flags["output"].(string); ok && v != "" {
		c.Output.BaseDirectory = v
	}
	if v, ok := flags["concurrent"].(int); ok && v > 0 {
		c.Download.ConcurrentDownloads = v
	}
	if v, ok := flags["queue-size"].(int); ok && v > 0 {
		c.Download.QueueSize = v
	}
	if v, ok := flags["rate-limit"].(int); ok && v > 0 {
		c.RateLimit.RequestsPerMinute = v
	}
	if v, ok := flags["max-retries"].(int); ok && v > 0 {
		c.Retry.MaxAttempts = v
	}
	if v, ok := flags["api-key"].(string); ok && v != "" {
		c.API.APIKey = v
	}
	if v, ok := flags["nsfw"].(string); ok && v != "" {
		c.API.NSFW = v
	}
	if v, ok := flags["proxy"].(string); ok && v != "" {
		c.API.ProxyURL = v
	}
	if v, ok := flags["metadata"].(bool); ok {
		c.Output.SaveMetadata = v
	}
	if v, ok := flags["no-user-folder"].(bool); ok && v {
		c.Output.CreateUserFolders = false
	}
	if v, ok := flags["log-level"].(string); ok && v != "" {
		c.Logging.Level = v
	}
	if v, ok := flags["log-file"].(string); ok && v != "" {
		c.Logging.File = v
	}
}

// Load loads configuration from all sources with proper precedence.
// Precedence order: flags > environment > .env file > config file > defaults
func Load(configPath string, flags map[string]interface{}) (*Config, error) {
	// godotenv.Load never overrides variables already present in the environment.
	_ = godotenv.Load(".env")
	if home, err := os.UserHomeDir(); err == nil {
		_ = godotenv.Load(filepath.Join(home, ".civitscraper.env"))
	}

	cfg := DefaultConfig()

	if err := cfg.LoadFromFile(configPath); err != nil {
		return nil, fmt.Errorf("failed to load config file: %w", err)
	}

	if err := cfg.LoadFromEnv(); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	cfg.MergeCommandLineFlags(flags)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}
