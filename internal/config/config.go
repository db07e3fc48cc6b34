// Package config provides configuration management for the application.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Bokun      BokunConfig      `mapstructure:"bokun"`
	Webhook    WebhookConfig    `mapstructure:"webhook"`
	Delivery   DeliveryConfig   `mapstructure:"delivery"`
	Sync       SyncConfig       `mapstructure:"sync"`
	ShortLink  ShortLinkConfig  `mapstructure:"short_link"`
	Middleware MiddlewareConfig `mapstructure:"middleware"`
}

type ServerConfig struct {
	Port         string `mapstructure:"port"`
	ReadTimeout  int    `mapstructure:"read_timeout"`
	WriteTimeout int    `mapstructure:"write_timeout"`
}

type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// BokunConfig covers the upstream reservation API and its webhook channel.
type BokunConfig struct {
	BaseURL             string  `mapstructure:"base_url"`
	AccessKey           string  `mapstructure:"access_key"`
	SecretKey           string  `mapstructure:"secret_key"`
	WebhookSecret       string  `mapstructure:"webhook_secret"`
	EligibleProductIDs  []int64 `mapstructure:"eligible_product_ids"`
	AudioGuideProductID int64   `mapstructure:"audio_guide_product_id"`
	AudioGuideRateCode  string  `mapstructure:"audio_guide_rate_code"`
	CallDelayMs         int     `mapstructure:"call_delay_ms"`
	Timeout             int     `mapstructure:"timeout"`
	PageSize            int     `mapstructure:"page_size"`
}

// IsEligibleProduct reports whether the operator sells tickets for the
// given product. Sub-bookings for other products are ignored.
func (b *BokunConfig) IsEligibleProduct(id int64) bool {
	for _, p := range b.EligibleProductIDs {
		if p == id {
			return true
		}
	}
	return false
}

// CallDelay is the fixed pause between consecutive upstream calls.
func (b *BokunConfig) CallDelay() time.Duration {
	return time.Duration(b.CallDelayMs) * time.Millisecond
}

type WebhookConfig struct {
	MaxRetries         int      `mapstructure:"max_retries"`
	RetryBatchSize     int      `mapstructure:"retry_batch_size"`
	CancellationEvents []string `mapstructure:"cancellation_events"`
}

type DeliveryConfig struct {
	MaxRetries     int                  `mapstructure:"max_retries"`
	WhatsApp       WhatsAppConfig       `mapstructure:"whatsapp"`
	SMS            SMSConfig            `mapstructure:"sms"`
	Email          EmailConfig          `mapstructure:"email"`
	CircuitBreaker CircuitBreakerConfig `mapstructure:"circuit_breaker"`
}

type WhatsAppConfig struct {
	BaseURL       string `mapstructure:"base_url"`
	Token         string `mapstructure:"token"`
	PhoneNumberID string `mapstructure:"phone_number_id"`
	Timeout       int    `mapstructure:"timeout"`
}

type SMSConfig struct {
	BaseURL    string `mapstructure:"base_url"`
	AccountSID string `mapstructure:"account_sid"`
	AuthToken  string `mapstructure:"auth_token"`
	From       string `mapstructure:"from"`
	Timeout    int    `mapstructure:"timeout"`
}

type EmailConfig struct {
	BaseURL     string `mapstructure:"base_url"`
	APIKey      string `mapstructure:"api_key"`
	FromAddress string `mapstructure:"from_address"`
	FromName    string `mapstructure:"from_name"`
	Timeout     int    `mapstructure:"timeout"`
}

type CircuitBreakerConfig struct {
	MaxRequests      uint32  `mapstructure:"max_requests"`
	Interval         int     `mapstructure:"interval"`
	Timeout          int     `mapstructure:"timeout"`
	FailureRatio     float64 `mapstructure:"failure_ratio"`
	ConsecutiveFails uint32  `mapstructure:"consecutive_fails"`
}

type SyncConfig struct {
	IntervalMinutes      int `mapstructure:"interval_minutes"`
	RetryIntervalMinutes int `mapstructure:"retry_interval_minutes"`
	EnrichmentLimit      int `mapstructure:"enrichment_limit"`
}

type ShortLinkConfig struct {
	BaseURL    string `mapstructure:"base_url"`
	TTLHours   int    `mapstructure:"ttl_hours"`
	StorageDir string `mapstructure:"storage_dir"`
}

type MiddlewareConfig struct {
	APIKey             string   `mapstructure:"api_key"`
	RateLimit          int      `mapstructure:"rate_limit"`
	RateLimitBurst     int      `mapstructure:"rate_limit_burst"`
	SyncRateLimit      int      `mapstructure:"sync_rate_limit"`
	SyncRateLimitBurst int      `mapstructure:"sync_rate_limit_burst"`
	EnableCORS         bool     `mapstructure:"enable_cors"`
	AllowedOrigins     []string `mapstructure:"allowed_origins"`
}

func LoadConfig(configPath string) (*Config, error) {
	viper.SetConfigFile(configPath)
	viper.SetConfigType("yaml")

	viper.SetDefault("server.port", "8080")
	viper.SetDefault("server.read_timeout", 10)
	viper.SetDefault("server.write_timeout", 10)
	viper.SetDefault("database.sslmode", "disable")
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("bokun.base_url", "https://api.bokun.io")
	viper.SetDefault("bokun.call_delay_ms", 400)
	viper.SetDefault("bokun.timeout", 30)
	viper.SetDefault("bokun.page_size", 50)
	viper.SetDefault("webhook.max_retries", 3)
	viper.SetDefault("webhook.retry_batch_size", 50)
	viper.SetDefault("webhook.cancellation_events", []string{"BOOKING_ITEM_CANCELLED", "BOOKING_CANCELLED"})
	viper.SetDefault("delivery.max_retries", 3)
	viper.SetDefault("delivery.whatsapp.timeout", 30)
	viper.SetDefault("delivery.sms.timeout", 30)
	viper.SetDefault("delivery.email.timeout", 30)
	viper.SetDefault("delivery.circuit_breaker.max_requests", 3)
	viper.SetDefault("delivery.circuit_breaker.interval", 60)
	viper.SetDefault("delivery.circuit_breaker.timeout", 60)
	viper.SetDefault("delivery.circuit_breaker.failure_ratio", 0.6)
	viper.SetDefault("delivery.circuit_breaker.consecutive_fails", 5)
	viper.SetDefault("sync.interval_minutes", 15)
	viper.SetDefault("sync.retry_interval_minutes", 5)
	viper.SetDefault("sync.enrichment_limit", 25)
	viper.SetDefault("short_link.ttl_hours", 168)
	viper.SetDefault("short_link.storage_dir", "./storage/tickets")
	viper.SetDefault("middleware.rate_limit", 100)
	viper.SetDefault("middleware.rate_limit_burst", 200)
	viper.SetDefault("middleware.sync_rate_limit", 2)
	viper.SetDefault("middleware.sync_rate_limit_burst", 5)
	viper.SetDefault("middleware.enable_cors", true)
	viper.SetDefault("middleware.allowed_origins", []string{"*"})

	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	viper.AutomaticEnv()

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &config, nil
}

// GetDSN returns PostgreSQL connection string.
func (d *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.DBName, d.SSLMode)
}
