// Package config loads application configuration from the environment.
package config

import (
	"fmt"
	"time"

	"github.com/joeshaw/envdecode"
)

// Config is the full application configuration.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Logging  LoggingConfig
	Amazon   AmazonConfig
	Mailer   MailerConfig
	Fetch    FetchConfig
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Host string `env:"SERVER_HOST,default=0.0.0.0"`
	Port int    `env:"SERVER_PORT,default=8080"`
}

// DatabaseConfig configures the relational store. An empty DSN selects the
// in-memory store, which is only suitable for local development.
type DatabaseConfig struct {
	Driver          string `env:"DB_DRIVER,default=postgres"`
	DSN             string `env:"DATABASE_URL,default="`
	MaxOpenConns    int    `env:"DB_MAX_OPEN_CONNS,default=10"`
	MaxIdleConns    int    `env:"DB_MAX_IDLE_CONNS,default=5"`
	ConnMaxLifetime int    `env:"DB_CONN_MAX_LIFETIME_SECONDS,default=300"`
}

// LoggingConfig configures the structured logger.
type LoggingConfig struct {
	Level  string `env:"LOG_LEVEL,default=info"`
	Format string `env:"LOG_FORMAT,default=text"`
	Output string `env:"LOG_OUTPUT,default=stdout"`
}

// AmazonConfig holds Product Advertising API credentials and endpoints.
// Missing credentials do not prevent startup; the catalog client then fails
// per call and callers fall back to empty results.
type AmazonConfig struct {
	AccessKey string `env:"AMAZON_ACCESS_KEY,default="`
	SecretKey string `env:"AMAZON_SECRET_KEY,default="`

	PartnerID   string `env:"AMAZON_PARTNER_ID,default=pricemate-au-20"`
	Host        string `env:"AMAZON_HOST,default=webservices.amazon.com.au"`
	Region      string `env:"AMAZON_REGION,default=us-west-2"`
	Marketplace string `env:"AMAZON_MARKETPLACE,default=www.amazon.com.au"`
}

// Configured reports whether credentials are present.
func (c AmazonConfig) Configured() bool {
	return c.AccessKey != "" && c.SecretKey != ""
}

// MailerConfig configures the price-alert mail relay.
type MailerConfig struct {
	URL    string `env:"MAILER_URL,default="`
	APIKey string `env:"MAILER_KEY,default="`
	From   string `env:"MAILER_FROM,default=alerts@pricemate.app"`
}

// FetchConfig controls the price fetch cycle.
type FetchConfig struct {
	Interval  time.Duration `env:"FETCH_INTERVAL,default=5h"`
	BatchSize int           `env:"FETCH_BATCH_SIZE,default=10"`
}

// Load decodes configuration from the environment.
func Load() (*Config, error) {
	var cfg Config
	if err := envdecode.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode environment: %w", err)
	}
	if cfg.Fetch.Interval <= 0 {
		return nil, fmt.Errorf("FETCH_INTERVAL must be positive")
	}
	if cfg.Fetch.BatchSize <= 0 {
		return nil, fmt.Errorf("FETCH_BATCH_SIZE must be positive")
	}
	return &cfg, nil
}
