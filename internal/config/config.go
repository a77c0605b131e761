package config

import (
	"fmt"

	pkgconfig "github.com/commercekit/ordercore/pkg/config"
)

// Config holds all configuration for the order core service.
type Config struct {
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`

	// HTTP server
	HTTPPort int `env:"ORDERCORE_HTTP_PORT" envDefault:"8004"`

	// PostgreSQL
	PostgresHost string `env:"POSTGRES_HOST" envDefault:"localhost"`
	PostgresPort int    `env:"POSTGRES_PORT" envDefault:"5432"`
	PostgresUser string `env:"POSTGRES_USER" envDefault:"ordercore"`
	PostgresPass string `env:"POSTGRES_PASSWORD" envDefault:"ordercore_secret"`
	PostgresDB   string `env:"ORDERCORE_DB_NAME" envDefault:"ordercore"`
	PostgresSSL  string `env:"POSTGRES_SSL_MODE" envDefault:"disable"`

	// Kafka
	KafkaBrokers         []string `env:"KAFKA_BROKERS" envDefault:"localhost:9092" envSeparator:","`
	PaymentEventsTopic   string   `env:"PAYMENT_EVENTS_TOPIC" envDefault:"payments.provider.events"`
	PaymentConsumerGroup string   `env:"PAYMENT_CONSUMER_GROUP" envDefault:"ordercore-payment-sync"`

	// Redis (fast-path event deduplication)
	RedisHost     string `env:"REDIS_HOST" envDefault:"localhost"`
	RedisPort     int    `env:"REDIS_PORT" envDefault:"6379"`
	RedisPassword string `env:"REDIS_PASSWORD" envDefault:""`
	RedisDB       int    `env:"REDIS_DB" envDefault:"0"`

	// Catalog service
	CatalogBaseURL string `env:"CATALOG_BASE_URL" envDefault:"http://localhost:8002"`

	// Tracing
	TracingEnabled bool   `env:"TRACING_ENABLED" envDefault:"false"`
	OTLPEndpoint   string `env:"OTLP_ENDPOINT" envDefault:"localhost:4318"`

	// Pprof access (CIDR allowlist; empty denies all)
	PprofAllowedCIDRs []string `env:"PPROF_ALLOWED_CIDRS" envDefault:"127.0.0.1/32" envSeparator:","`
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := pkgconfig.Load(cfg); err != nil {
		return nil, fmt.Errorf("load ordercore config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// validate checks configuration invariants.
func (c *Config) validate() error {
	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		return fmt.Errorf("invalid HTTP port: %d", c.HTTPPort)
	}
	if len(c.KafkaBrokers) == 0 {
		return fmt.Errorf("at least one kafka broker is required")
	}
	if c.CatalogBaseURL == "" {
		return fmt.Errorf("catalog base URL is required")
	}
	return nil
}

// PostgresDSN returns the PostgreSQL connection string.
func (c *Config) PostgresDSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.PostgresUser, c.PostgresPass, c.PostgresHost, c.PostgresPort, c.PostgresDB, c.PostgresSSL,
	)
}
