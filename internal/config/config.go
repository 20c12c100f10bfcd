// Package config loads and validates portalwatch configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	DB       DBConfig       `mapstructure:"db"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Portal   PortalConfig   `mapstructure:"portal"`
	Scrape   ScrapeConfig   `mapstructure:"scrape"`
	Breaker  BreakerConfig  `mapstructure:"breaker"`
	Dedup    DedupConfig    `mapstructure:"dedup"`
	Captcha  CaptchaConfig  `mapstructure:"captcha"`
	Channels ChannelsConfig `mapstructure:"channels"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior. A non-empty APIKey enables
// key-based request authentication.
type ServerConfig struct {
	Port   int    `mapstructure:"port"`
	APIKey string `mapstructure:"api_key"`
}

// DBConfig controls access to the relational database. An empty DSN selects
// the in-memory stores.
type DBConfig struct {
	DSN          string `mapstructure:"dsn"`
	MaxConns     int    `mapstructure:"max_conns"`
	MinConns     int    `mapstructure:"min_conns"`
	LifetimeMins int    `mapstructure:"conn_lifetime_minutes"`
}

// RedisConfig configures the shared work queue and dedup window store.
// An empty address selects the in-memory implementations.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// PortalConfig names the portal resources the engine drives.
type PortalConfig struct {
	BaseURL   string `mapstructure:"base_url"`
	UserAgent string `mapstructure:"user_agent"`
}

// ScrapeConfig governs the automation engine and scheduler.
type ScrapeConfig struct {
	Workers          int    `mapstructure:"workers"`
	ManualWorkers    int    `mapstructure:"manual_workers"`
	QueueDepth       int    `mapstructure:"queue_depth"`
	LoginAttempts    int    `mapstructure:"login_attempts"`
	NavRetries       int    `mapstructure:"nav_retries"`
	PageTimeoutSec   int    `mapstructure:"page_timeout_seconds"`
	NavQPS           float64 `mapstructure:"nav_qps"`
	SweepSpec        string `mapstructure:"sweep_spec"`
	ReminderSpec     string `mapstructure:"reminder_spec"`
	SweepExpirySec   int    `mapstructure:"sweep_expiry_seconds"`
	MaxRetries       int    `mapstructure:"max_retries"`
	RetryDelaySec    int    `mapstructure:"retry_delay_seconds"`
}

// BreakerConfig tunes the consecutive-failure suspension tracker.
type BreakerConfig struct {
	Threshold     int `mapstructure:"threshold"`
	MinMessageLen int `mapstructure:"min_message_len"`
}

// DedupConfig tunes the notification suppression window.
type DedupConfig struct {
	WindowMinutes    int `mapstructure:"window_minutes"`
	RetentionDays    int `mapstructure:"retention_days"`
}

// CaptchaConfig tunes the solver fallback chain. Keys left empty disable
// the corresponding provider.
type CaptchaConfig struct {
	BudgetSec           int    `mapstructure:"budget_seconds"`
	JoinTimeoutSec      int    `mapstructure:"join_timeout_seconds"`
	Attempts            int    `mapstructure:"attempts"`
	TaskAPIEndpoint     string `mapstructure:"task_api_endpoint"`
	TaskAPIKey          string `mapstructure:"task_api_key"`
	RecognitionEndpoint string `mapstructure:"recognition_endpoint"`
	RecognitionKey      string `mapstructure:"recognition_key"`
}

// ChannelsConfig configures the delivery channel providers.
type ChannelsConfig struct {
	SESRegion     string `mapstructure:"ses_region"`
	SESFrom       string `mapstructure:"ses_from"`
	TelegramToken string `mapstructure:"telegram_token"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("PORTALWATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("portal.base_url", "https://portal.example.edu")
	v.SetDefault("portal.user_agent", "portalwatch/0.1")
	v.SetDefault("scrape.workers", 2)
	v.SetDefault("scrape.manual_workers", 1)
	v.SetDefault("scrape.queue_depth", 64)
	v.SetDefault("scrape.login_attempts", 3)
	v.SetDefault("scrape.nav_retries", 2)
	v.SetDefault("scrape.page_timeout_seconds", 45)
	v.SetDefault("scrape.nav_qps", 0.5)
	v.SetDefault("scrape.sweep_spec", "0 * * * *")
	v.SetDefault("scrape.reminder_spec", "30 * * * *")
	v.SetDefault("scrape.sweep_expiry_seconds", 1800)
	v.SetDefault("scrape.max_retries", 2)
	v.SetDefault("scrape.retry_delay_seconds", 60)
	v.SetDefault("breaker.threshold", 6)
	v.SetDefault("breaker.min_message_len", 10)
	v.SetDefault("dedup.window_minutes", 5)
	v.SetDefault("dedup.retention_days", 7)
	v.SetDefault("captcha.budget_seconds", 45)
	v.SetDefault("captcha.join_timeout_seconds", 30)
	v.SetDefault("captcha.attempts", 2)
	v.SetDefault("captcha.task_api_endpoint", "https://solver.example.com/api")
	v.SetDefault("captcha.recognition_endpoint", "https://recognition.example.com/api/solve")
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Scrape.Workers <= 0 {
		return fmt.Errorf("scrape.workers must be > 0")
	}
	if c.Scrape.LoginAttempts <= 0 {
		return fmt.Errorf("scrape.login_attempts must be > 0")
	}
	if c.Breaker.Threshold <= 0 {
		return fmt.Errorf("breaker.threshold must be > 0")
	}
	if c.Dedup.WindowMinutes <= 0 {
		return fmt.Errorf("dedup.window_minutes must be > 0")
	}
	if c.Captcha.BudgetSec <= 0 {
		return fmt.Errorf("captcha.budget_seconds must be > 0")
	}
	return nil
}

// DedupWindow returns the suppression window as a duration.
func (c Config) DedupWindow() time.Duration {
	return time.Duration(c.Dedup.WindowMinutes) * time.Minute
}

// PageTimeout returns the per-page navigation timeout.
func (c Config) PageTimeout() time.Duration {
	return time.Duration(c.Scrape.PageTimeoutSec) * time.Second
}

// RetryDelay returns the fixed delay between queue-level retries.
func (c Config) RetryDelay() time.Duration {
	return time.Duration(c.Scrape.RetryDelaySec) * time.Second
}
