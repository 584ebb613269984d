package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	// DatabaseURL selects the Postgres store; empty means the in-memory store.
	DatabaseURL     string `envconfig:"DATABASE_URL"`
	DefaultCurrency string `envconfig:"DEFAULT_CURRENCY" default:"USD"`
	DevSeed         bool   `envconfig:"DEV_SEED" default:"false"`
	// DevSeedYear is the fiscal year the dev seed fills; 0 means last year.
	DevSeedYear     int    `envconfig:"DEV_SEED_YEAR"`

	Log struct {
		Level  string `envconfig:"LOG_LEVEL" default:"info"`
		Format string `envconfig:"LOG_FORMAT" default:"json"`
	}

	HTTP struct {
		Addr            string        `envconfig:"HTTP_ADDR" default:":8080"`
		ShutdownTimeout time.Duration `envconfig:"HTTP_SHUTDOWN_TIMEOUT" default:"10s"`
	}

	Redis struct {
		Addr     string        `envconfig:"REDIS_ADDR"`
		Password string        `envconfig:"REDIS_PASSWORD"`
		DB       int           `envconfig:"REDIS_DB" default:"0"`
		TTL      time.Duration `envconfig:"BALANCE_CACHE_TTL" default:"24h"`
	}

	Kafka struct {
		Brokers      []string `envconfig:"KAFKA_BROKERS"`
		InvoiceTopic string   `envconfig:"KAFKA_INVOICE_TOPIC" default:"host-invoices"`
	}

	Metrics struct {
		PushgatewayURL string `envconfig:"PUSHGATEWAY_URL"`
	}

	Batch struct {
		Concurrency int `envconfig:"BATCH_CONCURRENCY" default:"4"`
		MaxAttempts int `envconfig:"BATCH_MAX_ATTEMPTS" default:"3"`
	}
}

// Load reads an optional .env file, then the process environment.
func Load(envFiles ...string) (*Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("loading %s: %w", f, err)
		}
	}

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	c.DefaultCurrency = strings.ToUpper(strings.TrimSpace(c.DefaultCurrency))
	if len(c.DefaultCurrency) != 3 {
		return fmt.Errorf("DEFAULT_CURRENCY must be a 3-letter code, got %q", c.DefaultCurrency)
	}
	if c.Batch.Concurrency < 1 {
		return errors.New("BATCH_CONCURRENCY must be >= 1")
	}
	if c.Batch.MaxAttempts < 1 {
		return errors.New("BATCH_MAX_ATTEMPTS must be >= 1")
	}
	return nil
}
