package config

import (
	"log"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	DatabaseURL string `mapstructure:"database_url"`
	RedisURL    string `mapstructure:"redis_url"`
	Port        string `mapstructure:"port"`

	// IANA zone used to evaluate absence windows
	Timezone string `mapstructure:"timezone"`

	Marketplace   MarketplaceConfig   `mapstructure:"marketplace"`
	Polling       PollingConfig       `mapstructure:"polling"`
	Token         TokenConfig         `mapstructure:"token"`
	Auth          AuthConfig          `mapstructure:"auth"`
	Notifications NotificationsConfig `mapstructure:"notifications"`
}

type MarketplaceConfig struct {
	BaseURL        string `mapstructure:"base_url"`
	SellerID       string `mapstructure:"seller_id"`
	ClientID       string `mapstructure:"client_id"`
	ClientSecret   string `mapstructure:"client_secret"`
	RefreshToken   string `mapstructure:"refresh_token"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

type PollingConfig struct {
	IntervalSeconds int `mapstructure:"interval_seconds"`
	RecoverySeconds int `mapstructure:"recovery_seconds"`
}

type TokenConfig struct {
	CheckIntervalSeconds    int  `mapstructure:"check_interval_seconds"`
	RenewalThresholdMinutes int  `mapstructure:"renewal_threshold_minutes"`
	NotifyDebounceMinutes   int  `mapstructure:"notify_debounce_minutes"`
	AutoRefresh             bool `mapstructure:"auto_refresh"`
}

type AuthConfig struct {
	JWTSecret         string `mapstructure:"jwt_secret"`
	AdminPasswordHash string `mapstructure:"admin_password_hash"`
}

type NotificationsConfig struct {
	SlackWebhookURL    string   `mapstructure:"slack_webhook_url"`
	RedisChannel       string   `mapstructure:"redis_channel"`
	FCMCredentialsFile string   `mapstructure:"fcm_credentials_file"`
	FCMDeviceTokens    []string `mapstructure:"fcm_device_tokens"`
}

// App holds the global config instance
var App Config

// LoadConfig loads configuration from file and environment variables
func LoadConfig(path string) error {
	// Local development convenience; missing .env is fine in production
	if err := godotenv.Load(); err == nil {
		log.Println("✅ Loaded .env file")
	}

	v := viper.New()

	v.SetDefault("port", "8080")
	v.SetDefault("timezone", "America/Sao_Paulo")
	v.SetDefault("marketplace.base_url", "https://api.mercadolibre.com")
	v.SetDefault("marketplace.timeout_seconds", 10)
	v.SetDefault("polling.interval_seconds", 60)
	v.SetDefault("polling.recovery_seconds", 30)
	v.SetDefault("token.check_interval_seconds", 300)
	v.SetDefault("token.renewal_threshold_minutes", 30)
	v.SetDefault("token.notify_debounce_minutes", 10)
	v.SetDefault("token.auto_refresh", true)
	v.SetDefault("notifications.redis_channel", "autoanswer:token_alerts")

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
		v.SetConfigName("dev.config")
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix("autoanswer")

	// Standard deploy variables
	_ = v.BindEnv("database_url", "DATABASE_URL")
	_ = v.BindEnv("redis_url", "REDIS_URL")
	_ = v.BindEnv("port", "PORT")
	_ = v.BindEnv("timezone", "TZ_NAME")

	_ = v.BindEnv("marketplace.base_url", "MARKETPLACE_BASE_URL")
	_ = v.BindEnv("marketplace.seller_id", "MARKETPLACE_SELLER_ID")
	_ = v.BindEnv("marketplace.client_id", "MARKETPLACE_CLIENT_ID")
	_ = v.BindEnv("marketplace.client_secret", "MARKETPLACE_CLIENT_SECRET")
	_ = v.BindEnv("marketplace.refresh_token", "MARKETPLACE_REFRESH_TOKEN")

	_ = v.BindEnv("auth.jwt_secret", "JWT_SECRET")
	_ = v.BindEnv("auth.admin_password_hash", "ADMIN_PASSWORD_HASH")

	_ = v.BindEnv("notifications.slack_webhook_url", "SLACK_WEBHOOK_URL")
	_ = v.BindEnv("notifications.fcm_credentials_file", "GOOGLE_APPLICATION_CREDENTIALS")

	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			log.Println("ℹ️  No config file found, using defaults and environment variables")
		} else {
			return err
		}
	} else {
		log.Printf("✅ Loaded config from: %s", v.ConfigFileUsed())
	}

	App = Config{}
	if err := v.Unmarshal(&App); err != nil {
		return err
	}

	return nil
}

// PollInterval is the sleep between completed polling cycles.
func (c Config) PollInterval() time.Duration {
	return time.Duration(c.Polling.IntervalSeconds) * time.Second
}

// RecoveryInterval is the shorter sleep used after a failed cycle.
func (c Config) RecoveryInterval() time.Duration {
	return time.Duration(c.Polling.RecoverySeconds) * time.Second
}

func (c Config) TokenCheckInterval() time.Duration {
	return time.Duration(c.Token.CheckIntervalSeconds) * time.Second
}

func (c Config) RenewalThreshold() time.Duration {
	return time.Duration(c.Token.RenewalThresholdMinutes) * time.Minute
}

func (c Config) NotifyDebounce() time.Duration {
	return time.Duration(c.Token.NotifyDebounceMinutes) * time.Minute
}

func (c Config) MarketplaceTimeout() time.Duration {
	return time.Duration(c.Marketplace.TimeoutSeconds) * time.Second
}

// Location resolves Timezone, falling back to UTC on an unknown zone.
func (c Config) Location() *time.Location {
	if c.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		log.Printf("Config: unknown timezone %q, using UTC: %v", c.Timezone, err)
		return time.UTC
	}
	return loc
}
