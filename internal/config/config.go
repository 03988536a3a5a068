package config

import (
	"fmt"
	"net/url"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	DefaultBaseURL     = "https://api.checknumber.ai"
	DefaultNatsSubject = "xcheck.task.status"
	EnvPrefix          = "XCHECK"
)

// Output formats accepted by the CLI
const (
	OutputText = "text"
	OutputJSON = "json"
	OutputYAML = "yaml"
)

var outputFormats = []string{OutputText, OutputJSON, OutputYAML}

// Config holds all application configuration
type Config struct {
	// API settings
	APIKey      string
	BaseURL     string
	UserID      string
	HTTPTimeout time.Duration

	// Polling settings
	PollInterval time.Duration
	Timeout      time.Duration
	MaxRetries   int

	// Batch settings
	Concurrency  int
	ResultsDir   string
	Download     bool
	CleanupInput bool

	// Reporting settings
	Output      string
	NatsURL     string
	NatsSubject string
	Debug       bool
}

// NewConfig creates a new configuration with default values
func NewConfig() *Config {
	return &Config{
		BaseURL:      DefaultBaseURL,
		HTTPTimeout:  30 * time.Second,
		PollInterval: 5 * time.Second,
		Timeout:      30 * time.Minute,
		Concurrency:  4,
		ResultsDir:   "results",
		Download:     true,
		Output:       OutputText,
		NatsSubject:  DefaultNatsSubject,
	}
}

// SetDefaults registers the defaults of NewConfig on v, so that flags, env and
// config files all layer on top of the same values.
func SetDefaults(v *viper.Viper) {
	d := NewConfig()
	v.SetDefault("base_url", d.BaseURL)
	v.SetDefault("http_timeout", d.HTTPTimeout)
	v.SetDefault("poll_interval", d.PollInterval)
	v.SetDefault("timeout", d.Timeout)
	v.SetDefault("max_retries", d.MaxRetries)
	v.SetDefault("concurrency", d.Concurrency)
	v.SetDefault("results_dir", d.ResultsDir)
	v.SetDefault("download", d.Download)
	v.SetDefault("cleanup_input", d.CleanupInput)
	v.SetDefault("output", d.Output)
	v.SetDefault("nats_subject", d.NatsSubject)
}

// BindEnvironment maps XCHECK_* variables onto config keys. TWITTER_API_KEY is
// accepted as a fallback for the API key.
func BindEnvironment(v *viper.Viper) error {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()

	if err := v.BindEnv("api_key", EnvPrefix+"_API_KEY", "TWITTER_API_KEY"); err != nil {
		return fmt.Errorf("failed to bind api key environment: %w", err)
	}
	if err := v.BindEnv("debug", EnvPrefix+"_DEBUG", "DEBUG"); err != nil {
		return fmt.Errorf("failed to bind debug environment: %w", err)
	}
	return nil
}

// DefaultConfigFiles are looked up in the working directory, in order, when
// no config file is given.
var DefaultConfigFiles = []string{"xcheck.yaml", "xcheck.yml"}

// ReadConfigFile loads an optional YAML config file. An explicit path must
// exist; without one the first of DefaultConfigFiles present is used.
func ReadConfigFile(v *viper.Viper, path string) error {
	if path == "" {
		for _, name := range DefaultConfigFiles {
			info, err := os.Stat(name)
			if err == nil && info.Mode().IsRegular() {
				path = name
				break
			}
		}
		if path == "" {
			return nil
		}
	}

	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	return nil
}

// FromViper builds a Config from the layered values in v
func FromViper(v *viper.Viper) *Config {
	return &Config{
		APIKey:       strings.TrimSpace(v.GetString("api_key")),
		BaseURL:      strings.TrimRight(v.GetString("base_url"), "/"),
		UserID:       v.GetString("user_id"),
		HTTPTimeout:  v.GetDuration("http_timeout"),
		PollInterval: v.GetDuration("poll_interval"),
		Timeout:      v.GetDuration("timeout"),
		MaxRetries:   v.GetInt("max_retries"),
		Concurrency:  v.GetInt("concurrency"),
		ResultsDir:   v.GetString("results_dir"),
		Download:     v.GetBool("download"),
		CleanupInput: v.GetBool("cleanup_input"),
		Output:       strings.ToLower(v.GetString("output")),
		NatsURL:      v.GetString("nats_url"),
		NatsSubject:  v.GetString("nats_subject"),
		Debug:        v.GetBool("debug"),
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.APIKey == "" {
		return fmt.Errorf("API key cannot be empty (set --api-key or %s_API_KEY)", EnvPrefix)
	}

	u, err := url.Parse(c.BaseURL)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return fmt.Errorf("base URL must be an absolute http(s) URL, got: %q", c.BaseURL)
	}

	if c.PollInterval <= 0 {
		return fmt.Errorf("poll interval must be positive, got: %s", c.PollInterval)
	}

	if c.Timeout < 0 {
		return fmt.Errorf("timeout must be non-negative, got: %s", c.Timeout)
	}

	if c.HTTPTimeout < 0 {
		return fmt.Errorf("HTTP timeout must be non-negative, got: %s", c.HTTPTimeout)
	}

	if c.MaxRetries < 0 {
		return fmt.Errorf("max retries must be non-negative, got: %d", c.MaxRetries)
	}

	if c.Concurrency < 1 {
		return fmt.Errorf("concurrency must be at least 1, got: %d", c.Concurrency)
	}

	if !slices.Contains(outputFormats, c.Output) {
		return fmt.Errorf("output must be one of %s, got: %q", strings.Join(outputFormats, ", "), c.Output)
	}

	return nil
}
