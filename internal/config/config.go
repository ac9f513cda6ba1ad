package config

import (
	"fmt"
	"os"
	"time"

	"github.com/crmkit/pacer/internal/channel"
	"github.com/crmkit/pacer/internal/planner"
	"github.com/crmkit/pacer/internal/ratelimit"
	"github.com/crmkit/pacer/internal/schedule"
	"gopkg.in/yaml.v3"
)

// Config is the main configuration structure
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	API       APIConfig       `yaml:"api"`
	Channels  ChannelsConfig  `yaml:"channels"`
	Planner   PlannerConfig   `yaml:"planner"`
	Schedule  ScheduleConfig  `yaml:"schedule"`
	Scoring   ScoringConfig   `yaml:"scoring"`
	Dispatch  DispatchConfig  `yaml:"dispatch"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Storage   StorageConfig   `yaml:"storage"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServerConfig contains server-wide settings
type ServerConfig struct {
	Hostname string `yaml:"hostname"` // FQDN of the server
}

// APIConfig contains HTTP API settings
type APIConfig struct {
	ListenAddr     string        `yaml:"listen_addr"`
	APIKey         string        `yaml:"api_key"`
	MaxHeaderBytes int           `yaml:"max_header_bytes"` // Max HTTP header size (default: 1MB)
	ReadTimeout    time.Duration `yaml:"read_timeout"`     // HTTP read timeout (default: 30s)
	WriteTimeout   time.Duration `yaml:"write_timeout"`    // HTTP write timeout (default: 30s)
	IdleTimeout    time.Duration `yaml:"idle_timeout"`     // HTTP idle timeout (default: 60s)
}

// ChannelsConfig carries the channel profile table version and
// per-channel overrides applied on top of the built-in defaults
type ChannelsConfig struct {
	Version   string                      `yaml:"version"`
	Overrides map[string]channel.Override `yaml:"overrides,omitempty"`
}

// PlannerConfig tunes plan calculation
type PlannerConfig struct {
	SafetyFactors *planner.SafetyFactors `yaml:"safety_factors,omitempty"`
}

// ScheduleConfig contains campaign scheduling defaults
type ScheduleConfig struct {
	// Business-hours sending window, applied when a campaign asks for
	// business hours only
	WindowStartHour int `yaml:"window_start_hour"` // Default: 9
	WindowEndHour   int `yaml:"window_end_hour"`   // Default: 18

	// Anti-ban defaults for campaigns that do not set their own
	AntiBan schedule.AntiBanSettings `yaml:"anti_ban"`
}

// ScoringConfig tunes content risk scoring
type ScoringConfig struct {
	// Additional spam phrases merged with the built-in lexicon
	ExtraSpamPhrases []string `yaml:"extra_spam_phrases,omitempty"`
}

// DispatchConfig contains dispatch worker settings
type DispatchConfig struct {
	Enabled              bool          `yaml:"enabled"`
	DryRun               bool          `yaml:"dry_run"`                // Log sends instead of delivering
	ProcessInterval      time.Duration `yaml:"process_interval"`       // How often to poll for pending jobs
	BurstPerAccount      int           `yaml:"burst_per_account"`      // Sends before an account cools down
	MaxConsecutiveErrors int           `yaml:"max_consecutive_errors"` // Abort a job after this many failures in a row
}

// RateLimitConfig contains windowed rate limiting settings
type RateLimitConfig struct {
	Enabled bool             `yaml:"enabled"`
	Limits  ratelimit.Config `yaml:",inline"`
}

// StorageConfig contains storage settings
type StorageConfig struct {
	Path string `yaml:"path"`
}

// MetricsConfig contains Prometheus metrics settings
type MetricsConfig struct {
	Enabled       bool          `yaml:"enabled"`
	ListenAddr    string        `yaml:"listen_addr"`    // Default: :9090
	Path          string        `yaml:"path"`           // Default: /metrics
	FlushInterval time.Duration `yaml:"flush_interval"` // Default: 10s
	AllowedIPs    []string      `yaml:"allowed_ips"`    // IP addresses/CIDRs allowed to access metrics
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// Load loads configuration from a YAML file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.setDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Default returns a configuration with all defaults applied, for
// running without a config file
func Default() *Config {
	cfg := &Config{}
	cfg.setDefaults()
	return cfg
}

// setDefaults sets default values for configuration
func (c *Config) setDefaults() {
	if c.Server.Hostname == "" {
		hostname, _ := os.Hostname()
		c.Server.Hostname = hostname
	}

	if c.API.ListenAddr == "" {
		c.API.ListenAddr = ":8080"
	}
	if c.API.MaxHeaderBytes == 0 {
		c.API.MaxHeaderBytes = 1 << 20 // 1 MB
	}
	if c.API.ReadTimeout == 0 {
		c.API.ReadTimeout = 30 * time.Second
	}
	if c.API.WriteTimeout == 0 {
		c.API.WriteTimeout = 30 * time.Second
	}
	if c.API.IdleTimeout == 0 {
		c.API.IdleTimeout = 60 * time.Second
	}

	if c.Channels.Version == "" {
		c.Channels.Version = "builtin"
	}

	if c.Schedule.WindowStartHour == 0 && c.Schedule.WindowEndHour == 0 {
		c.Schedule.WindowStartHour = 9
		c.Schedule.WindowEndHour = 18
	}

	if c.Dispatch.ProcessInterval == 0 {
		c.Dispatch.ProcessInterval = 5 * time.Second
	}
	if c.Dispatch.BurstPerAccount == 0 {
		c.Dispatch.BurstPerAccount = 20
	}
	if c.Dispatch.MaxConsecutiveErrors == 0 {
		c.Dispatch.MaxConsecutiveErrors = 10
	}

	if c.RateLimit.Limits.FlushInterval == 0 {
		c.RateLimit.Limits.FlushInterval = 30 * time.Second
	}

	if c.Storage.Path == "" {
		c.Storage.Path = "/var/lib/pacer/jobs.db"
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}

	// Metrics defaults
	if c.Metrics.ListenAddr == "" {
		c.Metrics.ListenAddr = ":9090"
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
	if c.Metrics.FlushInterval == 0 {
		c.Metrics.FlushInterval = 10 * time.Second
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("invalid logging.level: %s (must be debug, info, warn, or error)", c.Logging.Level)
	}

	validLogFormats := map[string]bool{"json": true, "text": true}
	if !validLogFormats[c.Logging.Format] {
		return fmt.Errorf("invalid logging.format: %s (must be json or text)", c.Logging.Format)
	}

	if err := c.validateWindow(); err != nil {
		return err
	}

	if err := c.validateChannels(); err != nil {
		return err
	}

	if err := c.validatePlanner(); err != nil {
		return err
	}

	ab := c.Schedule.AntiBan
	if ab.MinDelaySeconds < 0 || ab.MaxDelaySeconds < 0 {
		return fmt.Errorf("schedule.anti_ban delays must not be negative")
	}
	if ab.MaxDelaySeconds > 0 && ab.MaxDelaySeconds < ab.MinDelaySeconds {
		return fmt.Errorf("schedule.anti_ban.max_delay_seconds must not be below min_delay_seconds")
	}

	return nil
}

// validateWindow validates the business-hours window
func (c *Config) validateWindow() error {
	start, end := c.Schedule.WindowStartHour, c.Schedule.WindowEndHour
	if start < 0 || start > 23 {
		return fmt.Errorf("schedule.window_start_hour must be between 0 and 23, got %d", start)
	}
	if end < 1 || end > 24 {
		return fmt.Errorf("schedule.window_end_hour must be between 1 and 24, got %d", end)
	}
	if end <= start {
		return fmt.Errorf("schedule.window_end_hour must be after window_start_hour")
	}
	return nil
}

// validateChannels validates channel profile overrides
func (c *Config) validateChannels() error {
	for name, ov := range c.Channels.Overrides {
		if name == "" {
			return fmt.Errorf("empty channel name in channels.overrides")
		}
		if ov.MaxMessagesPerMinute < 0 || ov.MaxMessagesPerHour < 0 || ov.MaxMessagesPerDay < 0 {
			return fmt.Errorf("channels.overrides.%s: limits must not be negative", name)
		}
		if ov.BanRisk != "" && ov.BanRisk != channel.RiskLow && ov.BanRisk != channel.RiskHigh {
			return fmt.Errorf("channels.overrides.%s.ban_risk must be low or high, got %q", name, ov.BanRisk)
		}
	}
	return nil
}

// validatePlanner validates safety factor overrides
func (c *Config) validatePlanner() error {
	sf := c.Planner.SafetyFactors
	if sf == nil {
		return nil
	}
	check := func(table string, factors map[planner.Priority]float64) error {
		for priority, factor := range factors {
			if factor <= 0 || factor > 1 {
				return fmt.Errorf("planner.safety_factors.%s.%s must be in (0, 1], got %g", table, priority, factor)
			}
		}
		return nil
	}
	if err := check("low_risk", sf.LowRisk); err != nil {
		return err
	}
	return check("high_risk", sf.HighRisk)
}

// Window returns the configured business-hours sending window
func (c *Config) Window() schedule.Window {
	return schedule.Window{
		StartHour: c.Schedule.WindowStartHour,
		EndHour:   c.Schedule.WindowEndHour,
	}
}

// SafetyFactors returns the configured factors, falling back to the
// built-in tables
func (c *Config) SafetyFactors() planner.SafetyFactors {
	if c.Planner.SafetyFactors != nil {
		return *c.Planner.SafetyFactors
	}
	return planner.DefaultSafetyFactors()
}
