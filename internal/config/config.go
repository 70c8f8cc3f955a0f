package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/caarlos0/env/v6"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

type Config struct {
	DBSource string `env:"DB_SOURCE"`
	Port     string `env:"SERVER_PORT" envDefault:"8080"`
	Env      string `env:"ENVIRONMENT" envDefault:"development"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	// InMemory runs the directories, ledger and notifier inside the process.
	InMemory bool `env:"INMEM" envDefault:"false"`

	IdentityURL     string `env:"IDENTITY_URL" envDefault:"http://localhost:8081"`
	CustomerURL     string `env:"CUSTOMER_URL" envDefault:"http://localhost:8082"`
	AccountURL      string `env:"ACCOUNT_URL" envDefault:"http://localhost:8083"`
	NotificationURL string `env:"NOTIFICATION_URL" envDefault:"http://localhost:8084"`

	// NotificationTransport is one of http, nats or none.
	NotificationTransport string `env:"NOTIFICATION_TRANSPORT" envDefault:"http"`
	NatsURL               string `env:"NATS_URL" envDefault:"nats://localhost:4222"`
	NatsSubject           string `env:"NATS_SUBJECT" envDefault:"notifications.credentials"`

	// RedisAddr enables distributed account locks. Empty keeps them in process.
	RedisAddr  string        `env:"REDIS_ADDR"`
	LockExpiry time.Duration `env:"LOCK_EXPIRY" envDefault:"30s"`

	ClientTimeout       time.Duration `env:"CLIENT_TIMEOUT" envDefault:"5s"`
	ClientReadRetries   uint64        `env:"CLIENT_READ_RETRIES" envDefault:"2"`
	BreakerFailures     uint32        `env:"BREAKER_FAILURES" envDefault:"5"`
	BreakerCooldown     time.Duration `env:"BREAKER_COOLDOWN" envDefault:"30s"`
	CompensationTimeout time.Duration `env:"COMPENSATION_TIMEOUT" envDefault:"10s"`
	NotificationTimeout time.Duration `env:"NOTIFICATION_TIMEOUT" envDefault:"15s"`
	ShutdownTimeout     time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"20s"`

	// IdempotencyKeyTTL is how long a transfer key may stay in progress
	// before a retry with the same payload takes it over.
	IdempotencyKeyTTL time.Duration `env:"IDEMPOTENCY_KEY_TTL" envDefault:"5m"`
}

const transferCalls = 5

const (
	TransportHTTP = "http"
	TransportNATS = "nats"
	TransportNone = "none"
)

// Load reads the environment, after applying a .env file when one exists.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("loading .env: %w", err)
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parsing environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if !c.InMemory && c.DBSource == "" {
		return fmt.Errorf("DB_SOURCE environment variable is required")
	}
	switch c.NotificationTransport {
	case TransportHTTP, TransportNATS, TransportNone:
	default:
		return fmt.Errorf("NOTIFICATION_TRANSPORT must be http, nats or none, got %q", c.NotificationTransport)
	}
	budget := c.TransferBudget()
	if c.RedisAddr != "" && c.LockExpiry <= budget {
		return fmt.Errorf("LOCK_EXPIRY %s must exceed the transfer call budget %s", c.LockExpiry, budget)
	}
	if c.IdempotencyKeyTTL > 0 && c.IdempotencyKeyTTL <= budget {
		return fmt.Errorf("IDEMPOTENCY_KEY_TTL %s must exceed the transfer call budget %s", c.IdempotencyKeyTTL, budget)
	}
	return nil
}

// TransferBudget is the longest a transfer may spend in collaborator calls
// while holding its account locks: two reads, the ledger append and two
// balance writes, each bounded by CLIENT_TIMEOUT.
func (c *Config) TransferBudget() time.Duration {
	return transferCalls * c.ClientTimeout
}

func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// NewLogger builds the process logger. Production logs are JSON.
func (c *Config) NewLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(os.Stdout)
	if c.IsProduction() {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		logger.WithError(err).Warnf("unknown LOG_LEVEL %q, using info", c.LogLevel)
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)
	return logger
}
