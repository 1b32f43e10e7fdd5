/**
 * @description
 * This package handles the configuration management for the ledger-service. It
 * uses the Viper library to read configuration from environment variables,
 * providing a centralized and straightforward way to manage application
 * settings. The loaded Config value is immutable and passed into each
 * component at startup; nothing reads ambient configuration after boot.
 *
 * @dependencies
 * - github.com/spf13/viper: A popular library for Go application configuration.
 */

package config

import (
	"log"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// Config holds all the configuration variables for the ledger-service.
// These values are loaded from environment variables.
type Config struct {
	ServerPort           string `mapstructure:"SERVER_PORT"`
	DatabaseURL          string `mapstructure:"DATABASE_URL"`
	RedisURL             string `mapstructure:"REDIS_URL"`
	RedisRateLimitPrefix string `mapstructure:"REDIS_RATE_LIMIT_PREFIX"`
	RabbitMQURL          string `mapstructure:"RABBITMQ_URL"`
	JWKSURL              string `mapstructure:"JWKS_URL"`
	InternalAPIKey       string `mapstructure:"INTERNAL_API_KEY"`

	StripeAPIBaseURL    string `mapstructure:"STRIPE_API_BASE_URL"`
	StripeSecretKey     string `mapstructure:"STRIPE_SECRET_KEY"`
	StripeWebhookSecret string `mapstructure:"STRIPE_WEBHOOK_SECRET"`
	MomoWebhookSecret   string `mapstructure:"MOMO_WEBHOOK_SECRET"`

	DefaultCurrency          string `mapstructure:"DEFAULT_CURRENCY"`
	DefaultGracePeriodDays   int    `mapstructure:"DEFAULT_GRACE_PERIOD_DAYS"`
	LedgerTxMaxAttempts      int    `mapstructure:"LEDGER_TX_MAX_ATTEMPTS"`
	WithdrawalLimitPerMinute int    `mapstructure:"WITHDRAWAL_RATE_LIMIT_PER_MINUTE"`

	GuaranteeSweepSchedule string `mapstructure:"GUARANTEE_SWEEP_SCHEDULE"`
	HonorScoreSchedule     string `mapstructure:"HONOR_SCORE_SCHEDULE"`
}

// LoadConfig reads configuration from environment variables from the given path.
// It uses Viper to automatically bind environment variables to the Config struct.
func LoadConfig(path string) (config Config, err error) {
	// Tell viper the path to look for the optional .env file.
	viper.AddConfigPath(path)
	viper.SetConfigName(".env")
	viper.SetConfigType("env")

	// Enable automatic binding of environment variables.
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Set default values
	viper.SetDefault("SERVER_PORT", "8080")
	viper.SetDefault("REDIS_RATE_LIMIT_PREFIX", "circlepay:rate_limit")
	viper.SetDefault("DEFAULT_CURRENCY", "eur")
	viper.SetDefault("DEFAULT_GRACE_PERIOD_DAYS", 7)
	viper.SetDefault("LEDGER_TX_MAX_ATTEMPTS", 5)
	viper.SetDefault("WITHDRAWAL_RATE_LIMIT_PER_MINUTE", 10)
	viper.SetDefault("GUARANTEE_SWEEP_SCHEDULE", "0 1 * * *")
	viper.SetDefault("HONOR_SCORE_SCHEDULE", "0 0 * * 0")

	// Bind environment variables explicitly to ensure they appear in Unmarshal
	_ = viper.BindEnv("SERVER_PORT")
	_ = viper.BindEnv("PORT")
	_ = viper.BindEnv("DATABASE_URL")
	_ = viper.BindEnv("REDIS_URL")
	_ = viper.BindEnv("REDIS_RATE_LIMIT_PREFIX")
	_ = viper.BindEnv("RABBITMQ_URL")
	_ = viper.BindEnv("JWKS_URL")
	_ = viper.BindEnv("INTERNAL_API_KEY")
	_ = viper.BindEnv("STRIPE_API_BASE_URL")
	_ = viper.BindEnv("STRIPE_SECRET_KEY")
	_ = viper.BindEnv("STRIPE_WEBHOOK_SECRET")
	_ = viper.BindEnv("MOMO_WEBHOOK_SECRET")
	_ = viper.BindEnv("DEFAULT_CURRENCY")
	_ = viper.BindEnv("DEFAULT_GRACE_PERIOD_DAYS")
	_ = viper.BindEnv("LEDGER_TX_MAX_ATTEMPTS")
	_ = viper.BindEnv("WITHDRAWAL_RATE_LIMIT_PER_MINUTE")
	_ = viper.BindEnv("GUARANTEE_SWEEP_SCHEDULE")
	_ = viper.BindEnv("HONOR_SCORE_SCHEDULE")

	// Attempt to read the config file. It's okay if it doesn't exist.
	if err = viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			log.Printf("level=warn component=config msg=\"failed to read config file; using environment values\" err=%v", err)
		}
	}

	// Unmarshal the configuration into the Config struct.
	err = viper.Unmarshal(&config)
	if err != nil {
		return
	}

	if port := strings.TrimSpace(os.Getenv("PORT")); port != "" {
		config.ServerPort = port
	}
	config.RedisURL = strings.TrimSpace(config.RedisURL)
	config.RedisRateLimitPrefix = strings.TrimSpace(config.RedisRateLimitPrefix)
	if config.RedisRateLimitPrefix == "" {
		config.RedisRateLimitPrefix = "circlepay:rate_limit"
	}
	config.DefaultCurrency = strings.ToLower(strings.TrimSpace(config.DefaultCurrency))
	if config.DefaultCurrency == "" {
		config.DefaultCurrency = "eur"
	}

	if config.DefaultGracePeriodDays <= 0 {
		log.Printf("level=warn component=config msg=\"invalid grace period configured; using default\" days=%d", config.DefaultGracePeriodDays)
		config.DefaultGracePeriodDays = 7
	}
	if config.LedgerTxMaxAttempts <= 0 {
		config.LedgerTxMaxAttempts = 5
	}
	if config.WithdrawalLimitPerMinute < 0 {
		config.WithdrawalLimitPerMinute = 0
	}

	return
}
