package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server       ServerConfig       `yaml:"server"`
	Database     DatabaseConfig     `yaml:"database"`
	Discovery    DiscoveryConfig    `yaml:"discovery"`
	Jobs         JobsConfig         `yaml:"jobs"`
	Backend      BackendConfig      `yaml:"backend"`
	Capabilities CapabilitiesConfig `yaml:"capabilities"`
	Webhooks     []WebhookConfig    `yaml:"webhooks"`
	Auth         AuthConfig         `yaml:"auth"`
	Logging      LoggingConfig      `yaml:"logging"`
}

type ServerConfig struct {
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	RateLimit    float64       `yaml:"rate_limit"`
	RateBurst    int           `yaml:"rate_burst"`
	SpoolDir     string        `yaml:"spool_dir"`
	MaxUploadMB  int           `yaml:"max_upload_mb"`
}

type DatabaseConfig struct {
	Path        string `yaml:"path"`
	HistoryDays int    `yaml:"history_days"`
}

type ManualPrinter struct {
	Name    string   `yaml:"name"`
	Address string   `yaml:"address"`
	UUID    string   `yaml:"uuid"`
	Formats []string `yaml:"formats"`
}

type DiscoveryConfig struct {
	ExpirationWindow time.Duration   `yaml:"expiration_window"`
	KnownGoodLimit   int             `yaml:"known_good_limit"`
	MDNSEnabled      bool            `yaml:"mdns_enabled"`
	MDNSServices     []string        `yaml:"mdns_services"`
	MDNSDomain       string          `yaml:"mdns_domain"`
	BrowseInterval   time.Duration   `yaml:"browse_interval"`
	BrowseTimeout    time.Duration   `yaml:"browse_timeout"`
	ProbeInterval    time.Duration   `yaml:"probe_interval"`
	ProbeTimeout     time.Duration   `yaml:"probe_timeout"`
	ManualPrinters   []ManualPrinter `yaml:"manual_printers"`
}

type JobsConfig struct {
	DiscoveryTimeout time.Duration `yaml:"discovery_timeout"`
}

type BackendConfig struct {
	Port               int           `yaml:"port"`
	DialTimeout        time.Duration `yaml:"dial_timeout"`
	WriteTimeout       time.Duration `yaml:"write_timeout"`
	MaxConnectAttempts int           `yaml:"max_connect_attempts"`
	RetryDelay         time.Duration `yaml:"retry_delay"`
	StatusQuery        string        `yaml:"status_query"`
}

type CapabilitiesConfig struct {
	ProbeTimeout     time.Duration `yaml:"probe_timeout"`
	CacheSize        int           `yaml:"cache_size"`
	BackgroundProbes int           `yaml:"background_probes"`
	DefaultFormats   []string      `yaml:"default_formats"`
}

type WebhookConfig struct {
	URL    string   `yaml:"url"`
	Secret string   `yaml:"secret"`
	Events []string `yaml:"events"`
}

type AuthConfig struct {
	Enabled bool `yaml:"enabled"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

func defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Port:         8631,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
			RateLimit:    10,
			RateBurst:    20,
			SpoolDir:     "./data/spool",
			MaxUploadMB:  64,
		},
		Database: DatabaseConfig{
			Path:        "./data/netprint.db",
			HistoryDays: 30,
		},
		Discovery: DiscoveryConfig{
			ExpirationWindow: 3 * time.Second,
			KnownGoodLimit:   50,
			MDNSEnabled:      true,
			MDNSServices:     []string{"_ipp._tcp", "_pdl-datastream._tcp"},
			MDNSDomain:       "local.",
			BrowseInterval:   10 * time.Second,
			BrowseTimeout:    3 * time.Second,
			ProbeInterval:    15 * time.Second,
			ProbeTimeout:     2 * time.Second,
		},
		Jobs: JobsConfig{
			DiscoveryTimeout: 30 * time.Second,
		},
		Backend: BackendConfig{
			Port:               9100,
			DialTimeout:        5 * time.Second,
			WriteTimeout:       30 * time.Second,
			MaxConnectAttempts: 3,
			RetryDelay:         2 * time.Second,
			StatusQuery:        "none",
		},
		Capabilities: CapabilitiesConfig{
			ProbeTimeout:     5 * time.Second,
			CacheSize:        64,
			BackgroundProbes: 2,
			DefaultFormats:   []string{"application/octet-stream"},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Default returns the built-in configuration.
func Default() *Config {
	return defaults()
}

func Load(configPath string) (*Config, error) {
	cfg := defaults()

	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return cfg, nil
}

func LoadFromEnv() *Config {
	cfg := defaults()
	cfg.ApplyEnv()
	return cfg
}

// ApplyEnv overrides fields from NETPRINT_* environment variables.
func (c *Config) ApplyEnv() {
	if v := os.Getenv("NETPRINT_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Server.Port = port
		}
	}

	if v := os.Getenv("NETPRINT_DB_PATH"); v != "" {
		c.Database.Path = v
	}

	if v := os.Getenv("NETPRINT_SPOOL_DIR"); v != "" {
		c.Server.SpoolDir = v
	}

	if v := os.Getenv("NETPRINT_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}

	if v := os.Getenv("NETPRINT_LOG_FORMAT"); v != "" {
		c.Logging.Format = v
	}
}

func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server port must be between 1 and 65535, got %d", c.Server.Port)
	}

	if c.Server.ReadTimeout < 0 {
		return fmt.Errorf("server read timeout must be non-negative")
	}

	if c.Server.WriteTimeout < 0 {
		return fmt.Errorf("server write timeout must be non-negative")
	}

	if c.Server.RateLimit < 0 {
		return fmt.Errorf("rate limit must be non-negative")
	}

	if c.Server.SpoolDir == "" {
		return fmt.Errorf("spool directory is required")
	}

	if c.Database.Path == "" {
		return fmt.Errorf("database path is required")
	}

	if c.Database.HistoryDays < 0 {
		return fmt.Errorf("history days must be non-negative")
	}

	if c.Discovery.ExpirationWindow <= 0 {
		return fmt.Errorf("expiration window must be positive")
	}

	if c.Discovery.KnownGoodLimit < 1 {
		return fmt.Errorf("known-good limit must be at least 1")
	}

	if c.Discovery.MDNSEnabled && c.Discovery.BrowseInterval <= 0 {
		return fmt.Errorf("browse interval must be positive when mdns is enabled")
	}

	if len(c.Discovery.ManualPrinters) > 0 && c.Discovery.ProbeInterval <= 0 {
		return fmt.Errorf("probe interval must be positive when manual printers are configured")
	}

	for i, p := range c.Discovery.ManualPrinters {
		if p.Address == "" {
			return fmt.Errorf("manual printer %d: address is required", i)
		}
		if _, _, err := net.SplitHostPort(p.Address); err != nil {
			return fmt.Errorf("manual printer %d: invalid address %q: %w", i, p.Address, err)
		}
	}

	if c.Jobs.DiscoveryTimeout <= 0 {
		return fmt.Errorf("discovery timeout must be positive")
	}

	if c.Backend.Port < 1 || c.Backend.Port > 65535 {
		return fmt.Errorf("backend port must be between 1 and 65535, got %d", c.Backend.Port)
	}

	if c.Backend.DialTimeout < 0 {
		return fmt.Errorf("dial timeout must be non-negative")
	}

	if c.Backend.MaxConnectAttempts < 1 {
		return fmt.Errorf("max connect attempts must be at least 1")
	}

	if c.Backend.RetryDelay < 0 {
		return fmt.Errorf("retry delay must be non-negative")
	}

	if c.Backend.StatusQuery != "" && c.Backend.StatusQuery != "none" && c.Backend.StatusQuery != "tspl" {
		return fmt.Errorf("invalid backend status query: %s (valid: none, tspl)", c.Backend.StatusQuery)
	}

	if c.Capabilities.CacheSize < 1 {
		return fmt.Errorf("capability cache size must be at least 1")
	}

	if c.Capabilities.BackgroundProbes < 1 {
		return fmt.Errorf("background probes must be at least 1")
	}

	for i, w := range c.Webhooks {
		if w.URL == "" {
			return fmt.Errorf("webhook %d: url is required", i)
		}
	}

	validLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}

	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s (valid: debug, info, warn, error)", c.Logging.Level)
	}

	validFormats := map[string]bool{
		"json":    true,
		"console": true,
		"text":    true,
	}

	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("invalid log format: %s (valid: json, console, text)", c.Logging.Format)
	}

	return nil
}
