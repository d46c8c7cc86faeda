// Package config handles application configuration and environment loading.
package config

import (
	"bufio"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"
)

// EnvPrefix is the prefix of environment variables read by Load.
// ATHENA_OUTPUT_LOCATION maps to the output_location key.
const EnvPrefix = "ATHENA_"

// DefaultFile is read from the working directory when no file is given.
const DefaultFile = "athenaq.yaml"

// Defaults.
const (
	DefaultDatabase     = "student_analytics"
	DefaultCatalog      = "AwsDataCatalog"
	DefaultRegion       = "us-east-1"
	DefaultResultsDir   = "results/raw"
	DefaultPollInterval = 2 * time.Second
	DefaultMaxWait      = 200 * time.Second
	DefaultPollRetries  = 5
	DefaultRetryBase    = 200 * time.Millisecond
	DefaultConcurrency  = 4
)

// Config holds the settings for running queries against Athena and storing
// their results locally. It is loaded once at startup and passed by value.
type Config struct {
	// Athena
	Database       string `koanf:"database"`
	Catalog        string `koanf:"catalog"`
	OutputLocation string `koanf:"output_location"` // s3:// prefix; empty defers to the workgroup
	Workgroup      string `koanf:"workgroup"`

	// AWS. Empty credentials mean the default credential chain.
	Region          string  `koanf:"region"`
	Endpoint        string  `koanf:"endpoint"`
	AccessKeyID     string  `koanf:"access_key_id"`
	SecretAccessKey string  `koanf:"secret_access_key"`
	SessionToken    string  `koanf:"session_token"`
	APIRPS          float64 `koanf:"api_rps"` // Athena control-plane calls per second, 0 = unlimited

	// Results
	ResultsDir string `koanf:"results_dir"`
	SaveSQL    bool   `koanf:"save_sql"`

	// Polling
	PollInterval   time.Duration `koanf:"poll_interval"`
	MaxWait        time.Duration `koanf:"max_wait"`
	MaxPollRetries int           `koanf:"max_poll_retries"`
	RetryBase      time.Duration `koanf:"retry_base"`

	// Batch
	Concurrency int `koanf:"concurrency"`

	LogLevel  string `koanf:"log_level"`  // debug, info, warn, error
	LogFormat string `koanf:"log_format"` // text or json

	// Warnings collects non-fatal warnings generated during config loading.
	// These are logged by the caller after the logger is initialised.
	Warnings []string `koanf:"-"`

	// File is the config file that was read, if any.
	File string `koanf:"-"`
}

// SlogLevel maps the LogLevel string to an slog.Level.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// HasStaticCredentials reports whether explicit AWS keys were configured.
func (c *Config) HasStaticCredentials() bool {
	return c.AccessKeyID != "" && c.SecretAccessKey != ""
}

// Load builds the configuration from, lowest to highest precedence: defaults,
// the YAML file at path (or DefaultFile when path is empty and it exists),
// ATHENA_* environment variables, and flags explicitly set on flags.
// A nil flags skips the flag layer.
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	k := koanf.New(".")

	// 1. Defaults
	if err := k.Load(confmap.Provider(map[string]interface{}{
		"database":         DefaultDatabase,
		"catalog":          DefaultCatalog,
		"results_dir":      DefaultResultsDir,
		"save_sql":         true,
		"poll_interval":    DefaultPollInterval,
		"max_wait":         DefaultMaxWait,
		"max_poll_retries": DefaultPollRetries,
		"retry_base":       DefaultRetryBase,
		"concurrency":      DefaultConcurrency,
		"log_level":        "info",
		"log_format":       "text",
	}, "."), nil); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}

	// 2. Config file
	if path == "" {
		if _, err := os.Stat(DefaultFile); err == nil {
			path = DefaultFile
		}
	}
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("read config file %s: %w", path, err)
		}
	}

	// 3. Environment: ATHENA_MAX_WAIT -> max_wait
	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		return strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	}), nil); err != nil {
		return nil, fmt.Errorf("load env vars: %w", err)
	}

	// 4. Flags, only those explicitly set: --output-location -> output_location
	if flags != nil {
		if err := k.Load(posflag.ProviderWithFlag(flags, ".", k, func(f *pflag.Flag) (string, interface{}) {
			if !f.Changed {
				return "", nil
			}
			return strings.ReplaceAll(f.Name, "-", "_"), posflag.FlagVal(flags, f)
		}), nil); err != nil {
			return nil, fmt.Errorf("load flags: %w", err)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.File = path

	if cfg.Region == "" {
		cfg.Region = os.Getenv("AWS_REGION")
	}
	if cfg.Region == "" {
		cfg.Region = DefaultRegion
	}
	if cfg.OutputLocation == "" {
		cfg.Warnings = append(cfg.Warnings, "output_location not set; Athena will use the workgroup's result location")
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey == "" {
		cfg.Warnings = append(cfg.Warnings, "access_key_id set without secret_access_key; using the default credential chain")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks that the configuration is internally consistent.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Database) == "" {
		return fmt.Errorf("database must be set")
	}
	if c.OutputLocation != "" {
		u, err := url.Parse(c.OutputLocation)
		if err != nil || u.Scheme != "s3" || u.Host == "" {
			return fmt.Errorf("output_location must look like s3://bucket/prefix/, got %q", c.OutputLocation)
		}
	}
	if strings.TrimSpace(c.ResultsDir) == "" {
		return fmt.Errorf("results_dir must be set")
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("poll_interval must be positive, got %s", c.PollInterval)
	}
	if c.MaxWait <= 0 {
		return fmt.Errorf("max_wait must be positive, got %s", c.MaxWait)
	}
	if c.RetryBase <= 0 {
		return fmt.Errorf("retry_base must be positive, got %s", c.RetryBase)
	}
	if c.MaxPollRetries < 0 {
		return fmt.Errorf("max_poll_retries must not be negative, got %d", c.MaxPollRetries)
	}
	if c.APIRPS < 0 {
		return fmt.Errorf("api_rps must not be negative, got %g", c.APIRPS)
	}
	if c.Concurrency < 1 {
		return fmt.Errorf("concurrency must be at least 1, got %d", c.Concurrency)
	}
	switch strings.ToLower(c.LogFormat) {
	case "text", "json":
	default:
		return fmt.Errorf("log_format must be text or json, got %q", c.LogFormat)
	}
	return nil
}

// LoadDotEnv reads a .env file and sets any variables not already in the environment.
// Lines must be in KEY=VALUE format, optionally prefixed with "export ".
// Comments (#) and blank lines are skipped.
func LoadDotEnv(path string) error {
	f, err := os.Open(path) //nolint:gosec // path is caller-controlled
	if err != nil {
		if os.IsNotExist(err) {
			return nil // .env not found is not an error
		}
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close() //nolint:errcheck

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimPrefix(line, "export ")
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		value = stripQuotes(strings.TrimSpace(value))
		if _, set := os.LookupEnv(key); set {
			continue
		}
		if err := os.Setenv(key, value); err != nil {
			return fmt.Errorf("setenv %s: %w", key, err)
		}
	}
	return scanner.Err()
}

// stripQuotes removes surrounding double or single quotes from a value.
// Only strips if both the first and last characters are matching quotes.
func stripQuotes(s string) string {
	if len(s) >= 2 {
		if (s[0] == '"' && s[len(s)-1] == '"') || (s[0] == '\'' && s[len(s)-1] == '\'') {
			return s[1 : len(s)-1]
		}
	}
	return s
}
