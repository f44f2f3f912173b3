package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds runtime settings for the desktop shell, the CLI and the scheduler
type Config struct {
	APIBaseURL  string        `yaml:"api_base_url"`
	DatabaseURL string        `yaml:"database_url"`
	LogLevel    string        `yaml:"log_level"`
	Profile     string        `yaml:"profile"` // server profile holding the bearer token
	HTTP        HTTPConfig    `yaml:"http"`
	Endpoints   Endpoints     `yaml:"endpoints"`
	History     HistoryConfig `yaml:"history"`
}

// HTTPConfig controls transport timeouts and retries for JSON calls
type HTTPConfig struct {
	Timeout      time.Duration `yaml:"timeout"`
	RetryCount   int           `yaml:"retry_count"`
	RetryWait    time.Duration `yaml:"retry_wait"`
	RetryMaxWait time.Duration `yaml:"retry_max_wait"`
}

// Endpoints are paths relative to APIBaseURL
type Endpoints struct {
	UploadImage    string `yaml:"upload_image"`
	UploadVideo    string `yaml:"upload_video"`
	GroundImages   string `yaml:"ground_images"`
	GroundVideo    string `yaml:"ground_video"`
	ExtractTargets string `yaml:"extract_targets"`
}

// HistoryConfig tunes the process history ledger and resume checks
type HistoryConfig struct {
	PageSize      int           `yaml:"page_size"`
	PathCheckTTL  time.Duration `yaml:"path_check_ttl"`
	PathCacheSize int           `yaml:"path_cache_size"`
}

// Default returns the built-in configuration
func Default() *Config {
	return &Config{
		APIBaseURL:  "http://localhost:8098",
		DatabaseURL: "sqlite://./rural.db",
		LogLevel:    "INFO",
		HTTP: HTTPConfig{
			Timeout:      10 * time.Minute, // stitching large batches is slow server-side
			RetryCount:   3,
			RetryWait:    500 * time.Millisecond,
			RetryMaxWait: 2 * time.Second,
		},
		Endpoints: Endpoints{
			UploadImage:    "upload/image",
			UploadVideo:    "upload/video",
			GroundImages:   "image-target-extractor",
			GroundVideo:    "video-processor",
			ExtractTargets: "target-extractor",
		},
		History: HistoryConfig{
			PageSize:      50,
			PathCheckTTL:  5 * time.Minute,
			PathCacheSize: 256,
		},
	}
}

// Load builds a Config from defaults, an optional YAML file and the environment.
// An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.APIBaseURL = getEnv("RURAL_API_BASE_URL", c.APIBaseURL)
	c.DatabaseURL = getEnv("DATABASE_URL", c.DatabaseURL)
	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)
	c.Profile = getEnv("RURAL_PROFILE", c.Profile)
	c.HTTP.Timeout = getEnvDuration("RURAL_HTTP_TIMEOUT", c.HTTP.Timeout)
	c.HTTP.RetryCount = getEnvInt("RURAL_RETRY_COUNT", c.HTTP.RetryCount)
}

// Validate checks the settings that would otherwise fail late at request time
func (c *Config) Validate() error {
	u, err := url.Parse(c.APIBaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("invalid api_base_url %q: must be an absolute http(s) URL", c.APIBaseURL)
	}
	if c.DatabaseURL == "" {
		return errors.New("database_url is required")
	}
	if c.HTTP.Timeout <= 0 {
		return errors.New("http.timeout must be positive")
	}
	if c.HTTP.RetryCount < 0 {
		return errors.New("http.retry_count cannot be negative")
	}
	if c.History.PageSize <= 0 {
		return errors.New("history.page_size must be positive")
	}
	return nil
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultValue int) int {
	if val := os.Getenv(key); val != "" {
		if intVal, err := strconv.Atoi(val); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if duration, err := time.ParseDuration(val); err == nil {
			return duration
		}
	}
	return defaultValue
}
