// Package config provides configuration loading and validation for the DCA bot.
// It uses Viper to load YAML configuration files with support for environment variable overrides.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// MinCheckInterval is the smallest allowed scheduling loop interval.
const MinCheckInterval = 30 * time.Second

// Config is the root configuration structure for the DCA bot.
// Required sections: App, Exchange, Bot.
// Optional sections (nil if not specified): Notification.
type Config struct {
	// App contains application-level settings like name and environment.
	App AppConfig `mapstructure:"app"`
	// Exchange configures the trading venue connection.
	Exchange ExchangeConfig `mapstructure:"exchange"`
	// Bot configures the investment loop and file locations.
	Bot BotConfig `mapstructure:"bot"`
	// Notification configures push notification delivery (optional).
	Notification *NotificationConfig `mapstructure:"notification"`
}

// AppConfig contains application-level settings.
type AppConfig struct {
	// Name is the application name used in logs and notifications.
	Name string `mapstructure:"name"`
	// Env is the environment: "development", "staging", or "production".
	Env string `mapstructure:"env"`
	// LogLevel sets logging verbosity: "debug", "info", "warn", "error".
	LogLevel string `mapstructure:"log_level"`
}

// ExchangeConfig contains settings for the trading venue.
type ExchangeConfig struct {
	// Name is the exchange identifier (currently only "binance").
	Name string `mapstructure:"name"`
	// Testnet enables testnet/sandbox mode for the exchange.
	Testnet bool `mapstructure:"testnet"`
	// RateLimit is the maximum API request weight per minute.
	RateLimit int `mapstructure:"rate_limit"`
}

// BotConfig contains investment loop settings.
type BotConfig struct {
	// CheckInterval is the pause between scheduling evaluations, in seconds.
	// Must be at least 30.
	CheckInterval int `mapstructure:"check_interval"`
	// OrderFile is the path of the fulfilled-order JSON snapshot.
	OrderFile string `mapstructure:"order_file"`
	// StrategyFile is the path of the strategy definition JSON file.
	StrategyFile string `mapstructure:"strategy_file"`
}

// NotificationConfig contains notification settings.
type NotificationConfig struct {
	// Webhook configures HTTP webhook notifications.
	Webhook WebhookConfig `mapstructure:"webhook"`
}

// WebhookConfig contains webhook notification settings.
type WebhookConfig struct {
	// Enabled determines if webhook notifications are active.
	Enabled bool `mapstructure:"enabled"`
	// URL is the endpoint notifications are POSTed to.
	URL string `mapstructure:"url"`
}

// Load reads configuration from a YAML file at the given path.
// It also supports environment variable overrides with the DCABOT_ prefix.
// Returns an error if the file cannot be read, parsed, or fails validation.
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.SetEnvPrefix("DCABOT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// Validate checks that the configuration is valid.
// Returns an error if required fields are missing or have invalid values.
func (c *Config) Validate() error {
	if c.App.Name == "" {
		return fmt.Errorf("app.name is required")
	}

	if c.Exchange.Name == "" {
		return fmt.Errorf("exchange.name is required")
	}

	if c.CheckInterval() < MinCheckInterval {
		return fmt.Errorf("bot.check_interval must be at least %d seconds", int(MinCheckInterval.Seconds()))
	}

	if c.Bot.OrderFile == "" {
		return fmt.Errorf("bot.order_file is required")
	}

	if c.Bot.StrategyFile == "" {
		return fmt.Errorf("bot.strategy_file is required")
	}

	if c.Notification != nil && c.Notification.Webhook.Enabled && c.Notification.Webhook.URL == "" {
		return fmt.Errorf("notification.webhook.url is required when webhook is enabled")
	}

	return nil
}

// CheckInterval returns the scheduling loop interval as a duration.
func (c *Config) CheckInterval() time.Duration {
	return time.Duration(c.Bot.CheckInterval) * time.Second
}

// IsDevelopment returns true if the environment is "development".
func (c *Config) IsDevelopment() bool {
	return c.App.Env == "development"
}

// IsProduction returns true if the environment is "production".
func (c *Config) IsProduction() bool {
	return c.App.Env == "production"
}
