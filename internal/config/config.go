package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/anime-shed/image-describer-go/internal/analyzer"
)

const (
	DefaultAPIVersion = "2023-10-01"
	DefaultTopK       = analyzer.DefaultTopK

	// DotEnvFile is read from the working directory when present
	DotEnvFile = ".env"
)

type Config struct {
	VisionEndpoint       string        `yaml:"vision_endpoint"`
	VisionKey            string        `yaml:"vision_key"`
	APIVersion           string        `yaml:"api_version"`
	Language             string        `yaml:"language"`
	GenderNeutralCaption bool          `yaml:"gender_neutral_caption"`
	RequestTimeout       time.Duration `yaml:"request_timeout"`
	ImageFetchTimeout    time.Duration `yaml:"image_fetch_timeout"`
	MaxImageBytes        int64         `yaml:"max_image_bytes"`

	PaceMin          time.Duration `yaml:"pace_min"`
	PaceMax          time.Duration `yaml:"pace_max"`
	RetryBaseDelay   time.Duration `yaml:"retry_base_delay"`
	RetryMaxDelay    time.Duration `yaml:"retry_max_delay"`
	RetryMaxAttempts int           `yaml:"retry_max_attempts"`

	TopK      int      `yaml:"top_k"`
	Threshold *float64 `yaml:"threshold"`

	OutputPath string `yaml:"output_path"`
	CSVEnabled bool   `yaml:"csv"`
	CSVPath    string `yaml:"csv_path"`
	RawEnabled bool   `yaml:"raw"`
	RawDir     string `yaml:"raw_dir"`
	SQLitePath string `yaml:"sqlite_path"`

	// AllowedHosts restricts URL sources to these hosts; empty allows any
	AllowedHosts []string `yaml:"allowed_hosts"`

	BlobAccount   string `yaml:"blob_account"`
	BlobKey       string `yaml:"blob_key"`
	BlobContainer string `yaml:"blob_container"`

	StatusAddress string `yaml:"status_address"`
	LogLevel      string `yaml:"log_level"`
}

// Defaults returns the configuration used when nothing is overridden
func Defaults() *Config {
	return &Config{
		APIVersion:        DefaultAPIVersion,
		Language:          "en",
		RequestTimeout:    30 * time.Second,
		ImageFetchTimeout: 15 * time.Second,
		MaxImageBytes:     20 * 1024 * 1024, // 20MB, the service limit
		PaceMin:           2 * time.Second,
		PaceMax:           6 * time.Second,
		RetryBaseDelay:    1 * time.Second,
		RetryMaxDelay:     16 * time.Second,
		RetryMaxAttempts:  5,
		TopK:              DefaultTopK,
		OutputPath:        "out/results.jsonl",
		CSVPath:           "out/results.csv",
		RawEnabled:        true,
		RawDir:            "out",
		LogLevel:          "info",
	}
}

// Load layers defaults, the optional YAML file at path, a .env file in the
// working directory and the environment. Real environment variables win over
// .env entries. The result is not validated; callers apply flag overrides and
// then call Validate.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if strings.TrimSpace(path) != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}

	dotenv, err := readDotEnv(DotEnvFile)
	if err != nil {
		return nil, err
	}

	applyEnv(cfg, envLookup(dotenv))
	return cfg, nil
}

func readDotEnv(path string) (map[string]string, error) {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	values, err := godotenv.Read(path)
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return values, nil
}

// envLookup prefers the process environment and falls back to dotenv
func envLookup(dotenv map[string]string) func(string) string {
	return func(key string) string {
		if v := os.Getenv(key); v != "" {
			return v
		}
		return dotenv[key]
	}
}

// AnalysisOptions returns the top-K and threshold settings for the analyzer
func (c *Config) AnalysisOptions() analyzer.AnalysisOptions {
	opts := analyzer.DefaultOptions().WithTopK(c.TopK)
	if c.Threshold != nil {
		opts = opts.WithThreshold(*c.Threshold)
	}
	return opts
}

func applyEnv(cfg *Config, getenv func(string) string) {
	getEnvOrDefault := func(key, defaultValue string) string {
		if value := getenv(key); value != "" {
			return value
		}
		return defaultValue
	}
	parseDurationOrDefault := func(key string, defaultValue time.Duration) time.Duration {
		if value := getenv(key); value != "" {
			if duration, err := time.ParseDuration(strings.TrimSpace(value)); err == nil && duration >= 0 {
				return duration
			}
		}
		return defaultValue
	}
	parseIntOrDefault := func(key string, defaultValue int64) int64 {
		if value := getenv(key); value != "" {
			if intValue, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64); err == nil {
				return intValue
			}
		}
		return defaultValue
	}

	cfg.VisionEndpoint = getEnvOrDefault("VISION_ENDPOINT", cfg.VisionEndpoint)
	cfg.VisionKey = getEnvOrDefault("VISION_KEY", cfg.VisionKey)
	cfg.APIVersion = getEnvOrDefault("VISION_API_VERSION", cfg.APIVersion)
	cfg.Language = getEnvOrDefault("VISION_LANGUAGE", cfg.Language)
	cfg.RequestTimeout = parseDurationOrDefault("REQUEST_TIMEOUT", cfg.RequestTimeout)
	cfg.ImageFetchTimeout = parseDurationOrDefault("IMAGE_FETCH_TIMEOUT", cfg.ImageFetchTimeout)
	cfg.MaxImageBytes = parseIntOrDefault("MAX_IMAGE_BYTES", cfg.MaxImageBytes)
	cfg.PaceMin = parseDurationOrDefault("PACE_MIN", cfg.PaceMin)
	cfg.PaceMax = parseDurationOrDefault("PACE_MAX", cfg.PaceMax)
	cfg.RetryBaseDelay = parseDurationOrDefault("RETRY_BASE_DELAY", cfg.RetryBaseDelay)
	cfg.RetryMaxDelay = parseDurationOrDefault("RETRY_MAX_DELAY", cfg.RetryMaxDelay)
	cfg.RetryMaxAttempts = int(parseIntOrDefault("RETRY_MAX_ATTEMPTS", int64(cfg.RetryMaxAttempts)))
	cfg.BlobAccount = getEnvOrDefault("AZURE_STORAGE_ACCOUNT", cfg.BlobAccount)
	cfg.BlobKey = getEnvOrDefault("AZURE_STORAGE_KEY", cfg.BlobKey)
	if hosts := getenv("URL_ALLOWED_HOSTS"); hosts != "" {
		cfg.AllowedHosts = splitList(hosts)
	}
	cfg.LogLevel = getEnvOrDefault("LOG_LEVEL", cfg.LogLevel)
}

// Validate checks the fully assembled configuration
func (c *Config) Validate() error {
	c.VisionEndpoint = strings.TrimRight(strings.TrimSpace(c.VisionEndpoint), "/")
	c.VisionKey = strings.TrimSpace(c.VisionKey)
	if c.VisionEndpoint == "" || c.VisionKey == "" {
		return fmt.Errorf("VISION_ENDPOINT and VISION_KEY must be set")
	}
	if !strings.HasPrefix(c.VisionEndpoint, "http://") && !strings.HasPrefix(c.VisionEndpoint, "https://") {
		return fmt.Errorf("invalid VISION_ENDPOINT: %q", c.VisionEndpoint)
	}
	if c.RequestTimeout <= 0 || c.ImageFetchTimeout <= 0 {
		return fmt.Errorf("timeouts must be > 0 (got request=%s, fetch=%s)",
			c.RequestTimeout, c.ImageFetchTimeout)
	}
	if c.MaxImageBytes <= 0 {
		return fmt.Errorf("MAX_IMAGE_BYTES must be > 0 (got %d)", c.MaxImageBytes)
	}
	if c.PaceMin < 0 || c.PaceMax < c.PaceMin {
		return fmt.Errorf("invalid pacing window [%s, %s]", c.PaceMin, c.PaceMax)
	}
	if c.RetryMaxAttempts < 1 {
		return fmt.Errorf("RETRY_MAX_ATTEMPTS must be >= 1 (got %d)", c.RetryMaxAttempts)
	}
	if c.RetryBaseDelay <= 0 || c.RetryMaxDelay < c.RetryBaseDelay {
		return fmt.Errorf("invalid retry delays (base=%s, max=%s)", c.RetryBaseDelay, c.RetryMaxDelay)
	}
	if err := c.AnalysisOptions().Validate(); err != nil {
		return err
	}
	if strings.TrimSpace(c.OutputPath) == "" {
		return fmt.Errorf("output path must not be empty")
	}
	if c.CSVEnabled && strings.TrimSpace(c.CSVPath) == "" {
		return fmt.Errorf("csv path must not be empty")
	}
	if c.RawEnabled && strings.TrimSpace(c.RawDir) == "" {
		return fmt.Errorf("raw output directory must not be empty")
	}
	if c.BlobContainer != "" && (c.BlobAccount == "" || c.BlobKey == "") {
		return fmt.Errorf("blob mirror needs AZURE_STORAGE_ACCOUNT and AZURE_STORAGE_KEY")
	}
	if c.StatusAddress != "" {
		if _, port, err := net.SplitHostPort(c.StatusAddress); err != nil || port == "" {
			return fmt.Errorf("invalid status address: %q", c.StatusAddress)
		}
	}
	return nil
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
