package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is the prefix of every environment variable the harvester reads
const EnvPrefix = "WMHARVEST_"

// Storage backends
const (
	StorageCSV    = "csv"
	StorageSQLite = "sqlite"
)

// Config holds all configuration options for the harvester.
// It is loaded once and then passed around by value; nothing mutates it after Load.
type Config struct {
	// Webmaster API access
	Webmaster WebmasterConfig `yaml:"webmaster" json:"webmaster"`

	// Hosts to collect. Either a list of host ids or a mapping host id -> region ids.
	Hosts HostList `yaml:"hosts" json:"hosts"`

	// Hosts never collected when Hosts is empty
	ExcludedHosts []string `yaml:"excluded_hosts" json:"excluded_hosts"`

	// Region ids applied to every host of the list form
	Regions []int `yaml:"regions" json:"regions"`

	Collect       CollectConfig      `yaml:"collect" json:"collect"`
	RateLimit     RateLimitConfig    `yaml:"rate_limit" json:"rate_limit"`
	Retry         RetryConfig        `yaml:"retry" json:"retry"`
	Storage       StorageConfig      `yaml:"storage" json:"storage"`
	Output        OutputConfig       `yaml:"output" json:"output"`
	Notifications NotificationConfig `yaml:"notifications" json:"notifications"`
	Metrics       MetricsConfig      `yaml:"metrics" json:"metrics"`
	Logging       LoggingConfig      `yaml:"logging" json:"logging"`
}

// WebmasterConfig holds API access settings
type WebmasterConfig struct {
	Token     string        `yaml:"token" json:"token"`
	Account   string        `yaml:"account" json:"account"`
	BaseURL   string        `yaml:"base_url" json:"base_url"`
	UserAgent string        `yaml:"user_agent" json:"user_agent"`
	Timeout   time.Duration `yaml:"timeout" json:"timeout"`
}

// CollectConfig controls what a run collects
type CollectConfig struct {
	Days             int  `yaml:"days" json:"days"`
	PageSize         int  `yaml:"page_size" json:"page_size"`
	ByURL            bool `yaml:"by_url" json:"by_url"`
	FilterZeroDemand bool `yaml:"filter_zero_demand" json:"filter_zero_demand"`
	ForceRefetch     bool `yaml:"force_refetch" json:"force_refetch"`
}

// RateLimitConfig holds request pacing and rate-limit recovery settings
type RateLimitConfig struct {
	// Pause enforced between consecutive requests
	RequestInterval time.Duration `yaml:"request_interval" json:"request_interval"`
	// Proactive hourly budget, 0 disables it
	RequestsPerHour int `yaml:"requests_per_hour" json:"requests_per_hour"`
	// Quota window of the API; a rate-limited request resumes at its next boundary
	Quantum time.Duration `yaml:"quantum" json:"quantum"`
	Grace   time.Duration `yaml:"grace" json:"grace"`
	// Maximum number of waits for one request, 0 means wait indefinitely
	MaxWaits int `yaml:"max_waits" json:"max_waits"`
}

// RetryConfig controls retries of transport failures
type RetryConfig struct {
	MaxAttempts    int           `yaml:"max_attempts" json:"max_attempts"`
	InitialBackoff time.Duration `yaml:"initial_backoff" json:"initial_backoff"`
	MaxBackoff     time.Duration `yaml:"max_backoff" json:"max_backoff"`
	Multiplier     float64       `yaml:"multiplier" json:"multiplier"`
}

// StorageConfig selects the persistent dataset backend and file locations
type StorageConfig struct {
	Type           string `yaml:"type" json:"type"`
	CSVPath        string `yaml:"csv_path" json:"csv_path"`
	SQLitePath     string `yaml:"sqlite_path" json:"sqlite_path"`
	CheckpointPath string `yaml:"checkpoint_path" json:"checkpoint_path"`
}

// OutputConfig holds per-run output settings
type OutputConfig struct {
	Directory      string `yaml:"directory" json:"directory"`
	RunFilePattern string `yaml:"run_file_pattern" json:"run_file_pattern"`
}

// NotificationConfig holds notification preferences
type NotificationConfig struct {
	Enabled     bool `yaml:"enabled" json:"enabled"`
	OnComplete  bool `yaml:"on_complete" json:"on_complete"`
	OnRateLimit bool `yaml:"on_rate_limit" json:"on_rate_limit"`
}

// MetricsConfig holds run metrics export settings
type MetricsConfig struct {
	// Prometheus textfile written at the end of a run, empty disables it
	Textfile string `yaml:"textfile" json:"textfile"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" json:"level"`
	Format string `yaml:"format" json:"format"`
	File   string `yaml:"file" json:"file"`
}

// DefaultConfig returns a Config instance with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Webmaster: WebmasterConfig{
			BaseURL:   "https://api.webmaster.yandex.net",
			UserAgent: "wmharvest/1.0",
			Timeout:   30 * time.Second,
		},
		Collect: CollectConfig{
			Days:             14,
			PageSize:         500,
			FilterZeroDemand: true,
		},
		RateLimit: RateLimitConfig{
			RequestInterval: 2 * time.Second,
			Quantum:         time.Hour,
			Grace:           5 * time.Second,
		},
		Retry: RetryConfig{
			MaxAttempts:    3,
			InitialBackoff: time.Second,
			MaxBackoff:     30 * time.Second,
			Multiplier:     2.0,
		},
		Storage: StorageConfig{
			Type:           StorageCSV,
			CSVPath:        "for-all-time-full-data-query_stats.csv",
			SQLitePath:     "for-all-time-full-data-query_stats.db",
			CheckpointPath: "processed_data.json",
		},
		Output: OutputConfig{
			Directory:      ".",
			RunFilePattern: "temp_data_{timestamp}.csv",
		},
		Notifications: NotificationConfig{
			Enabled:     true,
			OnComplete:  true,
			OnRateLimit: true,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// KeyColumn names the dataset column holding the entity key
func (c *Config) KeyColumn() string {
	if c.Collect.ByURL {
		return "url"
	}
	return "host_id"
}

// StoragePath returns the dataset location of the selected backend
func (c *Config) StoragePath() string {
	if c.Storage.Type == StorageSQLite {
		return c.Storage.SQLitePath
	}
	return c.Storage.CSVPath
}

// LoadFromEnv loads configuration from environment variables
func (c *Config) LoadFromEnv() error {
	var errs []error

	if token := os.Getenv(EnvPrefix + "TOKEN"); token != "" {
		c.Webmaster.Token = token
	}
	if account := os.Getenv(EnvPrefix + "ACCOUNT"); account != "" {
		c.Webmaster.Account = account
	}
	if baseURL := os.Getenv(EnvPrefix + "BASE_URL"); baseURL != "" {
		c.Webmaster.BaseURL = baseURL
	}
	if hosts := os.Getenv(EnvPrefix + "HOSTS"); hosts != "" {
		c.Hosts = HostListFromIDs(splitList(hosts))
	}
	if excluded := os.Getenv(EnvPrefix + "EXCLUDED_HOSTS"); excluded != "" {
		c.ExcludedHosts = splitList(excluded)
	}
	if regions := os.Getenv(EnvPrefix + "REGIONS"); regions != "" {
		ids, err := parseIntList(regions)
		if err != nil {
			errs = append(errs, fmt.Errorf("%sREGIONS: %w", EnvPrefix, err))
		} else {
			c.Regions = ids
		}
	}
	if days := os.Getenv(EnvPrefix + "DAYS"); days != "" {
		val, err := strconv.Atoi(days)
		if err != nil {
			errs = append(errs, fmt.Errorf("%sDAYS: %w", EnvPrefix, err))
		} else {
			c.Collect.Days = val
		}
	}
	if byURL := os.Getenv(EnvPrefix + "BY_URL"); byURL != "" {
		c.Collect.ByURL = strings.ToLower(byURL) == "true"
	}
	if interval := os.Getenv(EnvPrefix + "REQUEST_INTERVAL"); interval != "" {
		d, err := time.ParseDuration(interval)
		if err != nil {
			errs = append(errs, fmt.Errorf("%sREQUEST_INTERVAL: %w", EnvPrefix, err))
		} else {
			c.RateLimit.RequestInterval = d
		}
	}
	if storageType := os.Getenv(EnvPrefix + "STORAGE_TYPE"); storageType != "" {
		c.Storage.Type = strings.ToLower(storageType)
	}
	if outputDir := os.Getenv(EnvPrefix + "OUTPUT_DIR"); outputDir != "" {
		c.Output.Directory = outputDir
	}
	if notifEnabled := os.Getenv(EnvPrefix + "NOTIFICATIONS_ENABLED"); notifEnabled != "" {
		c.Notifications.Enabled = strings.ToLower(notifEnabled) == "true"
	}
	if textfile := os.Getenv(EnvPrefix + "METRICS_TEXTFILE"); textfile != "" {
		c.Metrics.Textfile = textfile
	}
	if logLevel := os.Getenv(EnvPrefix + "LOG_LEVEL"); logLevel != "" {
		c.Logging.Level = logLevel
	}

	return errors.Join(errs...)
}

// LoadFromFile loads configuration from a YAML file
func (c *Config) LoadFromFile(path string) error {
	// If path is empty, try default locations
	if path == "" {
		path = FindConfigFile()
		if path == "" {
			return nil // No config file found, not an error
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
	home := os.Getenv("HOME")
	locations := []string{
		"wmharvest.yaml",
		".wmharvest.yaml",
		".wmharvest.yml",
		filepath.Join(home, ".config", "wmharvest", "config.yaml"),
		filepath.Join(home, ".config", "wmharvest", "config.yml"),
		filepath.Join(home, ".wmharvest.yaml"),
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

	if c.Webmaster.BaseURL == "" {
		errs = append(errs, errors.New("webmaster base URL is required"))
	}
	if c.Webmaster.Timeout <= 0 {
		errs = append(errs, errors.New("request timeout must be positive"))
	}

	for _, h := range c.Hosts {
		if strings.TrimSpace(h.ID) == "" {
			errs = append(errs, errors.New("host id cannot be empty"))
		}
	}

	if c.Collect.Days < 1 {
		errs = append(errs, errors.New("days must be at least 1"))
	}
	if c.Collect.PageSize < 1 || c.Collect.PageSize > 500 {
		errs = append(errs, errors.New("page size must be between 1 and 500"))
	}

	if c.RateLimit.RequestInterval < 0 {
		errs = append(errs, errors.New("request interval cannot be negative"))
	}
	if c.RateLimit.RequestsPerHour < 0 {
		errs = append(errs, errors.New("requests per hour cannot be negative"))
	}
	if c.RateLimit.Quantum <= 0 {
		errs = append(errs, errors.New("rate limit quantum must be positive"))
	}
	if c.RateLimit.Grace < 0 {
		errs = append(errs, errors.New("rate limit grace cannot be negative"))
	}
	if c.RateLimit.MaxWaits < 0 {
		errs = append(errs, errors.New("max waits cannot be negative"))
	}

	if c.Retry.MaxAttempts < 1 || c.Retry.MaxAttempts > 10 {
		errs = append(errs, errors.New("retry max attempts must be between 1 and 10"))
	}
	if c.Retry.Multiplier < 1 {
		errs = append(errs, errors.New("retry multiplier must be at least 1"))
	}

	switch c.Storage.Type {
	case StorageCSV, StorageSQLite:
	default:
		errs = append(errs, fmt.Errorf("unknown storage type %q", c.Storage.Type))
	}
	if c.StoragePath() == "" {
		errs = append(errs, errors.New("storage path is required"))
	}
	if c.Storage.CheckpointPath == "" {
		errs = append(errs, errors.New("checkpoint path is required"))
	}

	if !strings.Contains(c.Output.RunFilePattern, "{timestamp}") {
		errs = append(errs, errors.New("run file pattern must contain {timestamp}"))
	}

	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLogLevels[strings.ToLower(c.Logging.Level)] {
		errs = append(errs, errors.New("invalid log level"))
	}
	if c.Logging.Format != "text" && c.Logging.Format != "json" {
		errs = append(errs, errors.New("log format must be text or json"))
	}

	return errors.Join(errs...)
}

// Save saves the configuration to a file
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// MergeCommandLineFlags merges command line flags into the configuration.
// Callers pass only the flags the user actually set.
func (c *Config) MergeCommandLineFlags(flags map[string]interface{}) {
	if token, ok := flags["token"].(string); ok && token != "" {
		c.Webmaster.Token = token
	}
	if account, ok := flags["account"].(string); ok && account != "" {
		c.Webmaster.Account = account
	}
	if hosts, ok := flags["hosts"].([]string); ok && len(hosts) > 0 {
		c.Hosts = HostListFromIDs(hosts)
	}
	if regions, ok := flags["regions"].([]int); ok && len(regions) > 0 {
		c.Regions = regions
	}
	if days, ok := flags["days"].(int); ok && days > 0 {
		c.Collect.Days = days
	}
	if byURL, ok := flags["by-url"].(bool); ok {
		c.Collect.ByURL = byURL
	}
	if keepZero, ok := flags["keep-zero-demand"].(bool); ok {
		c.Collect.FilterZeroDemand = !keepZero
	}
	if force, ok := flags["force-refetch"].(bool); ok {
		c.Collect.ForceRefetch = force
	}
	if storageType, ok := flags["storage"].(string); ok && storageType != "" {
		c.Storage.Type = strings.ToLower(storageType)
	}
	if outputDir, ok := flags["output"].(string); ok && outputDir != "" {
		c.Output.Directory = outputDir
	}
	if textfile, ok := flags["metrics-file"].(string); ok && textfile != "" {
		c.Metrics.Textfile = textfile
	}
	if logLevel, ok := flags["log-level"].(string); ok && logLevel != "" {
		c.Logging.Level = logLevel
	}
	if logFile, ok := flags["log-file"].(string); ok && logFile != "" {
		c.Logging.File = logFile
	}
}

// Load loads configuration from all sources with proper precedence
// Precedence order: Command line flags > Environment variables > .env file > Config file > Defaults
func Load(configPath string, flags map[string]interface{}) (*Config, error) {
	// Try to load .env files (don't fail if they don't exist)
	_ = godotenv.Load(".env")
	_ = godotenv.Load(filepath.Join(os.Getenv("HOME"), ".wmharvest.env"))

	config := DefaultConfig()

	if err := config.LoadFromFile(configPath); err != nil {
		return nil, fmt.Errorf("failed to load config file: %w", err)
	}

	if err := config.LoadFromEnv(); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	config.MergeCommandLineFlags(flags)

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return config, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func parseIntList(s string) ([]int, error) {
	var out []int
	for _, part := range splitList(s) {
		v, err := strconv.Atoi(part)
		if err != nil {
			return nil, fmt.Errorf("invalid integer %q", part)
		}
		out = append(out, v)
	}
	return out, nil
}
