package config

import (
	"errors"
	"strings"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application.
type Config struct {
	Server     Server     `mapstructure:"server"`
	Database   Database   `mapstructure:"database"`
	Logger     Logger     `mapstructure:"logger"`
	Venue      Venue      `mapstructure:"venue"`
	Trading    Trading    `mapstructure:"trading"`
	Profit     Profit     `mapstructure:"profit"`
	Advisor    Advisor    `mapstructure:"advisor"`
	Credential Credential `mapstructure:"credential"`
}

// Server holds the configuration for the web server.
type Server struct {
	Port int `mapstructure:"port"`
}

// Database holds the configuration for the database.
type Database struct {
	DSN string `mapstructure:"dsn"`
}

// Logger holds the configuration for the logger.
type Logger struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Venue holds transport settings shared by every venue client.
type Venue struct {
	TimeoutSeconds int     `mapstructure:"timeout_seconds"`
	RateLimit      float64 `mapstructure:"rate_limit"`
	RateLimitBurst int     `mapstructure:"rate_limit_burst"`
	RecvWindow     string  `mapstructure:"recv_window"`
}

// Trading holds the configuration for the tick loop.
type Trading struct {
	TickInterval int `mapstructure:"tick_interval"` // seconds
}

// Profit holds the profit-sharing rates. The defaults reproduce the observed
// behavior (30% fee, 0.5/0.3/0.2% referral levels); they are deployment
// configuration, not per-strategy settings.
type Profit struct {
	FeeRate       float64   `mapstructure:"fee_rate"`
	ReferralRates []float64 `mapstructure:"referral_rates"`
}

// Advisor holds the optional signal-filter model settings.
type Advisor struct {
	Enabled bool   `mapstructure:"enabled"`
	BaseURL string `mapstructure:"base_url"`
	APIKey  string `mapstructure:"api_key"`
	Model   string `mapstructure:"model"`
}

// Credential holds the key used to decrypt stored venue API credentials.
type Credential struct {
	EncryptionKey string `mapstructure:"encryption_key"`
}

// LoadConfig reads configuration from file or environment variables.
func LoadConfig(path string) (config Config, err error) {
	viper.AddConfigPath(path)
	viper.SetConfigName("config") // name of config file (without extension)
	viper.SetConfigType("yml")    // or yaml, json

	// Allow environment variables to override config file
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Set default values
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("database.dsn", "trader.db")
	viper.SetDefault("logger.level", "info")
	viper.SetDefault("logger.format", "json")
	viper.SetDefault("venue.timeout_seconds", 10)
	viper.SetDefault("venue.rate_limit", 20)      // requests per second
	viper.SetDefault("venue.rate_limit_burst", 5) // burst size
	viper.SetDefault("venue.recv_window", "5000")
	viper.SetDefault("trading.tick_interval", 60)
	viper.SetDefault("profit.fee_rate", 0.30)
	viper.SetDefault("profit.referral_rates", []float64{0.005, 0.003, 0.002})
	viper.SetDefault("advisor.model", "gpt-4o-mini")

	if err = viper.ReadInConfig(); err != nil {
		// Defaults plus environment variables are a valid deployment.
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return
		}
		err = nil
	}

	err = viper.Unmarshal(&config)
	return
}
