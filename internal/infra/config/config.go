package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/gocql/gocql"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
	StoreScylla   = "scylla"

	DirectoryMemory = "memory"
	DirectoryMongo  = "mongo"

	IdempotencyMemory = "memory"
	IdempotencyMongo  = "mongo"
	IdempotencyRedis  = "redis"

	BrokerNone  = "none"
	BrokerKafka = "kafka"
	BrokerNATS  = "nats"
)

// Config aggregates application configuration values loaded from environment variables.
type Config struct {
	Env         string   `envconfig:"APP_ENV" default:"dev"`
	LogLevel    string   `envconfig:"LOG_LEVEL" default:"info"`
	HTTPAddr    string   `envconfig:"HTTP_ADDR" default:":8080"`
	CORSOrigins []string `envconfig:"CORS_ALLOW_ORIGINS" default:"*"`

	StoreDriver      string `envconfig:"CHAT_STORE" default:"memory"`
	DatabaseURL      string `envconfig:"DATABASE_URL"`
	DatabaseMaxConns int32  `envconfig:"DATABASE_MAX_CONNS" default:"10"`
	DatabaseSchema   string `envconfig:"DATABASE_SCHEMA" default:"chat"`

	ScyllaHosts             []string      `envconfig:"SCYLLA_HOSTS" default:"localhost"`
	ScyllaKeyspace          string        `envconfig:"SCYLLA_KEYSPACE" default:"rentchat"`
	ScyllaUsername          string        `envconfig:"SCYLLA_USERNAME"`
	ScyllaPassword          string        `envconfig:"SCYLLA_PASSWORD"`
	ScyllaConsistency       string        `envconfig:"SCYLLA_CONSISTENCY" default:"quorum"`
	ScyllaTimeout           time.Duration `envconfig:"SCYLLA_TIMEOUT" default:"5s"`
	ScyllaReplicationFactor int           `envconfig:"SCYLLA_REPLICATION_FACTOR" default:"1"`

	DirectoryDriver string `envconfig:"DIRECTORY_DRIVER" default:"memory"`
	FixturesPath    string `envconfig:"DIRECTORY_FIXTURES" default:"fixtures/directory.json"`
	MongoURI        string `envconfig:"MONGO_URI"`
	MongoDB         string `envconfig:"MONGO_DB" default:"rentals"`

	IdempotencyDriver string        `envconfig:"IDEMPOTENCY_DRIVER" default:"memory"`
	IdempotencyTTL    time.Duration `envconfig:"IDEMP_TTL" default:"168h"`
	RedisAddr         string        `envconfig:"REDIS_ADDR" default:"localhost:6379"`
	RedisPassword     string        `envconfig:"REDIS_PASSWORD"`
	RedisDB           int           `envconfig:"REDIS_DB" default:"0"`

	EventBroker        string          `envconfig:"EVENT_BROKER" default:"none"`
	KafkaBrokers       []string        `envconfig:"KAFKA_BROKERS"`
	KafkaTopicPrefix   string          `envconfig:"KAFKA_TOPIC_PREFIX"`
	KafkaConsumerGroup string          `envconfig:"KAFKA_CONSUMER_GROUP" default:"rentchat"`
	ListingEventsTopic string          `envconfig:"LISTING_EVENTS_TOPIC" default:"listings.events"`
	NATSURL            string          `envconfig:"NATS_URL" default:"nats://127.0.0.1:4222"`
	OutboxPollInterval time.Duration   `envconfig:"OUTBOX_POLL_INTERVAL" default:"500ms"`
	RetryBackoff       []time.Duration `envconfig:"RETRY_BACKOFF" default:"1s,5s,30s"`

	MailgunDomain string        `envconfig:"MAILGUN_DOMAIN"`
	MailgunAPIKey string        `envconfig:"MAILGUN_API_KEY"`
	MailFrom      string        `envconfig:"MAIL_FROM" default:"RentChat <no-reply@rentchat.local>"`
	NotifyTimeout time.Duration `envconfig:"NOTIFY_TIMEOUT" default:"10s"`

	SendRateLimit  uint          `envconfig:"SEND_RATE_LIMIT" default:"10"`
	SendRateWindow time.Duration `envconfig:"SEND_RATE_WINDOW" default:"1s"`

	DebugResetEnabled bool `envconfig:"DEBUG_RESET_ENABLED" default:"false"`
}

// Load reads .env outside gin release mode, then the process environment.
func Load() (Config, error) {
	if os.Getenv("GIN_MODE") != "release" {
		if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("load .env: %w", err)
		}
	}
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return Config{}, err
	}
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) normalize() {
	c.StoreDriver = strings.ToLower(strings.TrimSpace(c.StoreDriver))
	c.DirectoryDriver = strings.ToLower(strings.TrimSpace(c.DirectoryDriver))
	c.IdempotencyDriver = strings.ToLower(strings.TrimSpace(c.IdempotencyDriver))
	c.EventBroker = strings.ToLower(strings.TrimSpace(c.EventBroker))
	c.ScyllaHosts = trimAll(c.ScyllaHosts)
	c.KafkaBrokers = trimAll(c.KafkaBrokers)
	c.CORSOrigins = trimAll(c.CORSOrigins)
	if c.ScyllaReplicationFactor < 1 {
		c.ScyllaReplicationFactor = 1
	}
}

// Validate checks that every selected driver has the settings it needs.
func (c Config) Validate() error {
	var errs []error
	switch c.StoreDriver {
	case StoreMemory:
	case StorePostgres:
		if c.DatabaseURL == "" {
			errs = append(errs, errors.New("DATABASE_URL is required for the postgres store"))
		}
	case StoreScylla:
		if len(c.ScyllaHosts) == 0 || strings.TrimSpace(c.ScyllaKeyspace) == "" {
			errs = append(errs, errors.New("SCYLLA_HOSTS and SCYLLA_KEYSPACE are required for the scylla store"))
		}
		if _, err := parseConsistency(c.ScyllaConsistency); err != nil {
			errs = append(errs, err)
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported CHAT_STORE: %s", c.StoreDriver))
	}

	needsMongo := false
	switch c.DirectoryDriver {
	case DirectoryMemory:
	case DirectoryMongo:
		needsMongo = true
	default:
		errs = append(errs, fmt.Errorf("unsupported DIRECTORY_DRIVER: %s", c.DirectoryDriver))
	}
	switch c.IdempotencyDriver {
	case IdempotencyMemory, IdempotencyRedis:
	case IdempotencyMongo:
		needsMongo = true
	default:
		errs = append(errs, fmt.Errorf("unsupported IDEMPOTENCY_DRIVER: %s", c.IdempotencyDriver))
	}
	switch c.EventBroker {
	case BrokerNone:
	case BrokerKafka:
		needsMongo = true
		if len(c.KafkaBrokers) == 0 {
			errs = append(errs, errors.New("KAFKA_BROKERS is required for the kafka broker"))
		}
	case BrokerNATS:
		needsMongo = true
		if c.NATSURL == "" {
			errs = append(errs, errors.New("NATS_URL is required for the nats broker"))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported EVENT_BROKER: %s", c.EventBroker))
	}
	if needsMongo && c.MongoURI == "" {
		errs = append(errs, errors.New("MONGO_URI is required by the selected drivers"))
	}
	if (c.MailgunDomain == "") != (c.MailgunAPIKey == "") {
		errs = append(errs, errors.New("MAILGUN_DOMAIN and MAILGUN_API_KEY must be set together"))
	}
	return errors.Join(errs...)
}

// UsesMongo reports whether any selected driver needs a Mongo connection.
func (c Config) UsesMongo() bool {
	return c.DirectoryDriver == DirectoryMongo || c.IdempotencyDriver == IdempotencyMongo || c.EventBroker != BrokerNone
}

// Consistency returns the parsed Scylla consistency level.
func (c Config) Consistency() gocql.Consistency {
	level, err := parseConsistency(c.ScyllaConsistency)
	if err != nil {
		return gocql.Quorum
	}
	return level
}

// IsDev reports whether developer conveniences (colored logs) apply.
func (c Config) IsDev() bool {
	switch strings.ToLower(c.Env) {
	case "dev", "local":
		return true
	}
	return false
}

func parseConsistency(raw string) (gocql.Consistency, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "quorum":
		return gocql.Quorum, nil
	case "one":
		return gocql.One, nil
	case "local_quorum", "localquorum":
		return gocql.LocalQuorum, nil
	case "local_one":
		return gocql.LocalOne, nil
	case "all":
		return gocql.All, nil
	default:
		return gocql.Quorum, fmt.Errorf("unsupported SCYLLA_CONSISTENCY: %s", raw)
	}
}

func trimAll(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
