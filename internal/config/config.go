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
	Venue     VenueConfig     `yaml:"venue"`
	Trading   TradingConfig   `yaml:"trading"`
	Timing    TimingConfig    `yaml:"timing"`
	System    SystemConfig    `yaml:"system"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Alerts    AlertsConfig    `yaml:"alerts"`
}

// AlertsConfig contains optional notification channels
type AlertsConfig struct {
	SlackWebhook   Secret `yaml:"slack_webhook"`
	TelegramToken  Secret `yaml:"telegram_token"`
	TelegramChatID string `yaml:"telegram_chat_id"`
}

// VenueConfig contains the destination exchange's credentials and endpoints
type VenueConfig struct {
	Name      string `yaml:"name"`
	APIKey    Secret `yaml:"api_key"`
	SecretKey Secret `yaml:"secret_key"`
	TradePwd  Secret `yaml:"trade_pwd"` // Trade password, required by some venues for order placement
	BaseURL   string `yaml:"base_url"`
	WsURL     string `yaml:"ws_url"`
}

// TradingConfig contains trading parameters
type TradingConfig struct {
	Pair            string  `yaml:"pair"`    // REST symbol, e.g. "eth_btc"
	WsPair          string  `yaml:"ws_pair"` // stream symbol, e.g. "ethbtc"
	QuoteCurrency   string  `yaml:"quote_currency"`
	BaseCurrency    string  `yaml:"base_currency"`
	MinQuoteBalance float64 `yaml:"min_quote_balance"`
	MinBaseBalance  float64 `yaml:"min_base_balance"`
	MinOrderSize    float64 `yaml:"min_order_size"`
	MarkupPercent   float64 `yaml:"markup_percent"` // applied by the pricing side when quoting across the bridge
	RateLimit       float64 `yaml:"rate_limit"`     // API requests per second
	RateBurst       int     `yaml:"rate_burst"`
}

// TimingConfig contains timing-related settings, all in milliseconds
type TimingConfig struct {
	ConnectTimeout  int `yaml:"connect_timeout"`
	ReconnectDelay  int `yaml:"reconnect_delay"`
	PingInterval    int `yaml:"ping_interval"`
	OrderRetryDelay int `yaml:"order_retry_delay"`
	SelfTradePoll   int `yaml:"self_trade_poll"`
	BalanceRefresh  int `yaml:"balance_refresh"`
	RequestTimeout  int `yaml:"request_timeout"`
}

// SystemConfig contains system settings
type SystemConfig struct {
	LogLevel     string `yaml:"log_level"`
	CancelOnExit bool   `yaml:"cancel_on_exit"`
}

// TelemetryConfig contains telemetry settings
type TelemetryConfig struct {
	MetricsPort   int  `yaml:"metrics_port"`
	EnableMetrics bool `yaml:"enable_metrics"`
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

	expandedData := expandEnvVars(string(data))

	var config Config
	if err := yaml.Unmarshal([]byte(expandedData), &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	config.applyDefaults()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

func (c *Config) applyDefaults() {
	if c.System.LogLevel == "" {
		c.System.LogLevel = "INFO"
	}
	if c.Timing.ConnectTimeout == 0 {
		c.Timing.ConnectTimeout = 5000
	}
	if c.Timing.ReconnectDelay == 0 {
		c.Timing.ReconnectDelay = 1000
	}
	if c.Timing.PingInterval == 0 {
		c.Timing.PingInterval = 5000
	}
	if c.Timing.OrderRetryDelay == 0 {
		c.Timing.OrderRetryDelay = 100
	}
	if c.Timing.SelfTradePoll == 0 {
		c.Timing.SelfTradePoll = 100
	}
	if c.Timing.BalanceRefresh == 0 {
		c.Timing.BalanceRefresh = 60000
	}
	if c.Timing.RequestTimeout == 0 {
		c.Timing.RequestTimeout = 10000
	}
	if c.Trading.RateLimit == 0 {
		c.Trading.RateLimit = 25
	}
	if c.Trading.RateBurst == 0 {
		c.Trading.RateBurst = 30
	}
	if c.Telemetry.MetricsPort == 0 {
		c.Telemetry.MetricsPort = 9090
	}
}

// Validate performs comprehensive validation of the configuration
func (c *Config) Validate() error {
	var errors []string

	if err := c.validateVenueConfig(); err != nil {
		errors = append(errors, err.Error())
	}
	if err := c.validateTradingConfig(); err != nil {
		errors = append(errors, err.Error())
	}
	if err := c.validateSystemConfig(); err != nil {
		errors = append(errors, err.Error())
	}
	if err := c.validateTimingConfig(); err != nil {
		errors = append(errors, err.Error())
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n%s", strings.Join(errors, "\n"))
	}

	return nil
}

func (c *Config) validateVenueConfig() error {
	if c.Venue.Name == "" {
		return ValidationError{
			Field:   "venue.name",
			Message: "venue name is required",
		}
	}
	if c.Venue.APIKey == "" {
		return ValidationError{
			Field:   "venue.api_key",
			Message: "API key is required",
		}
	}
	if c.Venue.SecretKey == "" {
		return ValidationError{
			Field:   "venue.secret_key",
			Message: "secret key is required",
		}
	}
	if c.Venue.BaseURL == "" {
		return ValidationError{
			Field:   "venue.base_url",
			Message: "base URL is required",
		}
	}
	return nil
}

func (c *Config) validateTradingConfig() error {
	if c.Trading.Pair == "" {
		return ValidationError{
			Field:   "trading.pair",
			Message: "trading pair is required",
		}
	}
	if c.Trading.WsPair == "" {
		return ValidationError{
			Field:   "trading.ws_pair",
			Message: "stream pair is required",
		}
	}
	if c.Trading.MinOrderSize < 0 {
		return ValidationError{
			Field:   "trading.min_order_size",
			Value:   c.Trading.MinOrderSize,
			Message: "minimum order size must not be negative",
		}
	}
	if c.Trading.RateLimit <= 0 {
		return ValidationError{
			Field:   "trading.rate_limit",
			Value:   c.Trading.RateLimit,
			Message: "rate limit must be positive",
		}
	}
	if c.Trading.MarkupPercent < 0 {
		return ValidationError{
			Field:   "trading.markup_percent",
			Value:   c.Trading.MarkupPercent,
			Message: "markup must not be negative",
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

func (c *Config) validateTimingConfig() error {
	if c.Timing.ConnectTimeout < 100 {
		return ValidationError{
			Field:   "timing.connect_timeout",
			Value:   c.Timing.ConnectTimeout,
			Message: "connect timeout must be at least 100ms",
		}
	}
	if c.Timing.ReconnectDelay < 100 {
		return ValidationError{
			Field:   "timing.reconnect_delay",
			Value:   c.Timing.ReconnectDelay,
			Message: "reconnect delay must be at least 100ms",
		}
	}
	return nil
}

// String returns a string representation of the configuration with secrets
// redacted by the Secret type
func (c *Config) String() string {
	data, _ := yaml.Marshal(c)
	return string(data)
}

// Helper functions

func expandEnvVars(s string) string {
	return os.Expand(s, os.Getenv)
}

func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}

// DefaultConfig returns a default configuration for testing
func DefaultConfig() *Config {
	cfg := &Config{
		Venue: VenueConfig{
			Name:      "bitz",
			APIKey:    "test_api_key",
			SecretKey: "test_secret_key",
			BaseURL:   "https://apiv2.bitz.com",
			WsURL:     "wss://ws.bitz.com/wss",
		},
		Trading: TradingConfig{
			Pair:            "eth_btc",
			WsPair:          "ethbtc",
			QuoteCurrency:   "btc",
			BaseCurrency:    "eth",
			MinQuoteBalance: 0.01,
			MinBaseBalance:  0.1,
			MinOrderSize:    0.01,
		},
		System: SystemConfig{
			LogLevel:     "INFO",
			CancelOnExit: true,
		},
	}
	cfg.applyDefaults()
	return cfg
}
