// Package config handles configuration management with validation
package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config represents the complete configuration structure
type Config struct {
	App         AppConfig         `yaml:"app"`
	Feed        FeedConfig        `yaml:"feed"`
	Engine      EngineConfig      `yaml:"engine"`
	Server      ServerConfig      `yaml:"server"`
	Alerts      AlertsConfig      `yaml:"alerts"`
	Timing      TimingConfig      `yaml:"timing"`
	Concurrency ConcurrencyConfig `yaml:"concurrency"`
	Telemetry   TelemetryConfig   `yaml:"telemetry"`
	System      SystemConfig      `yaml:"system"`
}

// AppConfig contains application-level settings
type AppConfig struct {
	Name string `yaml:"name"`
	// Accounts optionally pre-declares account ids for display ordering.
	// Unknown accounts are still created lazily on first event.
	Accounts []string `yaml:"accounts"`
}

// FeedConfig selects and tunes the upstream event source
type FeedConfig struct {
	Mode           string   `yaml:"mode"` // simulator or none
	Symbols        []string `yaml:"symbols"`
	TickIntervalMs int      `yaml:"tick_interval_ms"`
	Seed           int64    `yaml:"seed"`
}

// EngineConfig tunes the reconciliation engine queues
type EngineConfig struct {
	GreeksQueueSize        int `yaml:"greeks_queue_size"`
	PositionQueueSize      int `yaml:"position_queue_size"`
	AccountQueueSize       int `yaml:"account_queue_size"`
	MaintenanceIntervalSec int `yaml:"maintenance_interval_seconds"`
	RedeliveryWindowSec    int `yaml:"redelivery_window_seconds"`
}

// ServerConfig contains the live server settings
type ServerConfig struct {
	Addr           string   `yaml:"addr"`
	AllowedOrigins []string `yaml:"allowed_origins"`
	StaticDir      string   `yaml:"static_dir"`
	MaxConnections int      `yaml:"max_connections"`
	RateLimit      float64  `yaml:"rate_limit"`
	RateBurst      int      `yaml:"rate_burst"`
	Production     bool     `yaml:"production"`
}

// AlertsConfig contains alert channel credentials and rule thresholds
type AlertsConfig struct {
	Enabled          bool   `yaml:"enabled"`
	SlackWebhookURL  Secret `yaml:"slack_webhook_url"`
	TelegramBotToken Secret `yaml:"telegram_bot_token"`
	TelegramChatID   string `yaml:"telegram_chat_id"`
	JournalPath      string `yaml:"journal_path"`

	EvaluateIntervalSec int     `yaml:"evaluate_interval_seconds"`
	PositionLossPct     float64 `yaml:"position_loss_pct"`
	DayLossPct          float64 `yaml:"day_loss_pct"`
	ExpiryWindowDays    int     `yaml:"expiry_window_days"`
	HighIV              float64 `yaml:"high_iv"`
	MinVolume           int64   `yaml:"min_volume"`
	MinBuyingPower      float64 `yaml:"min_buying_power"`
	MaxMarginPct        float64 `yaml:"max_margin_pct"`
	StaleQuoteSec       int     `yaml:"stale_quote_seconds"`
	CooldownSec         int     `yaml:"cooldown_seconds"`
	AlertsPerMinute     int     `yaml:"alerts_per_minute"`
}

// TimingConfig contains broadcast cadence settings
type TimingConfig struct {
	SnapshotRefreshSec int `yaml:"snapshot_refresh_seconds"`
	StatusIntervalSec  int `yaml:"status_interval_seconds"`
}

// ConcurrencyConfig contains worker pool settings
type ConcurrencyConfig struct {
	NotifyPoolSize   int `yaml:"notify_pool_size"`
	NotifyPoolBuffer int `yaml:"notify_pool_buffer"`
}

// TelemetryConfig contains telemetry settings
type TelemetryConfig struct {
	MetricsPort   int  `yaml:"metrics_port"`
	EnableMetrics bool `yaml:"enable_metrics"`
}

// SystemConfig contains system settings
type SystemConfig struct {
	LogLevel string `yaml:"log_level"`
}

// ValidationError represents a configuration validation error
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s' (value: %v): %s", e.Field, e.Value, e.Message)
}

// LoadConfig loads configuration from a YAML file with environment variable expansion
func LoadConfig(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Expand environment variables in the YAML content
	expandedData := expandEnvVars(string(data))

	config := DefaultConfig()
	if err := yaml.Unmarshal([]byte(expandedData), config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

// Validate performs comprehensive validation of the configuration
func (c *Config) Validate() error {
	var errors []string

	if err := c.validateFeedConfig(); err != nil {
		errors = append(errors, err.Error())
	}
	if err := c.validateServerConfig(); err != nil {
		errors = append(errors, err.Error())
	}
	if err := c.validateAlertsConfig(); err != nil {
		errors = append(errors, err.Error())
	}
	if err := c.validateSystemConfig(); err != nil {
		errors = append(errors, err.Error())
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n%s", strings.Join(errors, "\n"))
	}

	return nil
}

func (c *Config) validateFeedConfig() error {
	validModes := []string{"simulator", "none"}
	if !contains(validModes, c.Feed.Mode) {
		return ValidationError{
			Field:   "feed.mode",
			Value:   c.Feed.Mode,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(validModes, ", ")),
		}
	}
	if c.Feed.Mode == "simulator" && len(c.Feed.Symbols) == 0 {
		return ValidationError{
			Field:   "feed.symbols",
			Message: "at least one symbol required for the simulator feed",
		}
	}
	if c.Feed.TickIntervalMs < 0 {
		return ValidationError{
			Field:   "feed.tick_interval_ms",
			Value:   c.Feed.TickIntervalMs,
			Message: "must not be negative",
		}
	}
	return nil
}

func (c *Config) validateServerConfig() error {
	if c.Server.Addr == "" {
		return ValidationError{
			Field:   "server.addr",
			Message: "server address is required",
		}
	}
	if len(c.Server.AllowedOrigins) == 0 {
		return ValidationError{
			Field:   "server.allowed_origins",
			Message: "at least one allowed origin is required",
		}
	}
	if c.Server.Production {
		for _, origin := range c.Server.AllowedOrigins {
			if origin == "*" {
				return ValidationError{
					Field:   "server.allowed_origins",
					Value:   "*",
					Message: "wildcard origin is not allowed in production mode",
				}
			}
		}
	}
	return nil
}

func (c *Config) validateAlertsConfig() error {
	if !c.Alerts.Enabled {
		return nil // Skip validation if disabled
	}

	if c.Alerts.TelegramBotToken != "" && c.Alerts.TelegramChatID == "" {
		return ValidationError{
			Field:   "alerts.telegram_chat_id",
			Message: "chat id is required when a telegram bot token is set",
		}
	}
	for field, v := range map[string]float64{
		"alerts.position_loss_pct": c.Alerts.PositionLossPct,
		"alerts.day_loss_pct":      c.Alerts.DayLossPct,
		"alerts.high_iv":           c.Alerts.HighIV,
		"alerts.min_buying_power":  c.Alerts.MinBuyingPower,
		"alerts.max_margin_pct":    c.Alerts.MaxMarginPct,
	} {
		if v < 0 {
			return ValidationError{
				Field:   field,
				Value:   v,
				Message: "threshold must not be negative",
			}
		}
	}
	return nil
}

func (c *Config) validateSystemConfig() error {
	validLevels := []string{"DEBUG", "INFO", "WARN", "ERROR", "FATAL"}
	if !contains(validLevels, strings.ToUpper(c.System.LogLevel)) {
		return ValidationError{
			Field:   "system.log_level",
			Value:   c.System.LogLevel,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(validLevels, ", ")),
		}
	}
	return nil
}

// String returns a string representation of the configuration.
// Secret fields redact themselves during marshaling.
func (c *Config) String() string {
	data, _ := yaml.Marshal(c)
	return string(data)
}

// Helper functions

func expandEnvVars(s string) string {
	return os.Expand(s, func(key string) string {
		return os.Getenv(key)
	})
}

func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}

// DefaultConfig returns the baseline configuration; LoadConfig overlays
// the YAML file on top of it.
func DefaultConfig() *Config {
	return &Config{
		App: AppConfig{
			Name: "qtrader",
		},
		Feed: FeedConfig{
			Mode:           "simulator",
			Symbols:        []string{"AAPL", "MSFT", "SPY"},
			TickIntervalMs: 500,
		},
		Engine: EngineConfig{
			GreeksQueueSize:        256,
			PositionQueueSize:      256,
			AccountQueueSize:       256,
			MaintenanceIntervalSec: 60,
			RedeliveryWindowSec:    300,
		},
		Server: ServerConfig{
			Addr:           ":8080",
			AllowedOrigins: []string{"http://localhost:8080"},
			StaticDir:      "",
			MaxConnections: 1000,
			RateLimit:      10,
			RateBurst:      20,
		},
		Alerts: AlertsConfig{
			Enabled:             true,
			JournalPath:         "alerts.db",
			EvaluateIntervalSec: 30,
			PositionLossPct:     20,
			DayLossPct:          10,
			ExpiryWindowDays:    7,
			HighIV:              1.0,
			MinVolume:           10,
			MinBuyingPower:      1000,
			MaxMarginPct:        80,
			StaleQuoteSec:       300,
			CooldownSec:         900,
			AlertsPerMinute:     30,
		},
		Timing: TimingConfig{
			SnapshotRefreshSec: 5,
			StatusIntervalSec:  30,
		},
		Concurrency: ConcurrencyConfig{
			NotifyPoolSize:   4,
			NotifyPoolBuffer: 1024,
		},
		Telemetry: TelemetryConfig{
			EnableMetrics: true,
			MetricsPort:   0, // Served from the live server mux
		},
		System: SystemConfig{
			LogLevel: "INFO",
		},
	}
}
