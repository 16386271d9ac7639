package config

import (
	"errors"
	"fmt"
	"log"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
)

// Storage drivers.
const (
	StoragePostgres = "postgres"
	StorageMemory   = "memory"
)

// Config stores process settings.
type Config struct {
	Port             int
	DB               DB
	Storage          Storage
	Redis            Redis
	Kafka            Kafka
	Fanout           Fanout
	RateLimit        RateLimit
	Debug            Debug
	Audit            Audit
	OperationTimeout time.Duration
	LogLevel         string
}

// DB stores PostgreSQL connection settings.
type DB struct {
	Host string
	Port string
	User string
	Pass string
	Name string
}

// DSN returns a pgx connection string.
func (d DB) DSN() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(d.User, d.Pass),
		Host:     d.Host + ":" + d.Port,
		Path:     "/" + d.Name,
		RawQuery: "sslmode=disable",
	}
	return u.String()
}

// Storage selects the ledger backend.
type Storage struct {
	Driver      string
	AutoMigrate bool
}

// Redis stores distributed lock settings. Empty Addr keeps locking in-process.
type Redis struct {
	Addr           string
	LockTTL        time.Duration
	LockRetryDelay time.Duration
}

// Kafka stores event bus settings. Empty Brokers keeps fan-out local.
type Kafka struct {
	Brokers     []string
	Topic       string
	GroupPrefix string
}

// Enabled reports whether the event bus is configured.
func (k Kafka) Enabled() bool { return len(k.Brokers) > 0 }

// Fanout stores subscriber settings.
type Fanout struct {
	Buffer int
}

// RateLimit stores per-IP limiter settings.
type RateLimit struct {
	Enabled    bool
	Rate       float64
	Burst      int
	TTL        time.Duration
	MaxBuckets int
}

// Debug stores the metrics/pprof server settings. Port 0 disables it.
type Debug struct {
	Port int
	User string
	Pass string
}

// Enabled reports whether the debug server should run.
func (d Debug) Enabled() bool { return d.Port > 0 }

// Addr returns the listen address.
func (d Debug) Addr() string { return fmt.Sprintf(":%d", d.Port) }

// Audit stores the invariant auditor settings.
type Audit struct {
	Schedule string
}

// Load reads configuration in order: .env (if present) → environment → flags.
func Load() (*Config, error) {
	if err := godotenv.Load(".env"); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Printf("warning: .env not loaded: %v", err)
	}

	cfg, err := fromEnv()
	if err != nil {
		return nil, err
	}

	fs := pflag.CommandLine
	fs.IntVarP(&cfg.Port, "port", "p", cfg.Port, "port to listen on")
	fs.StringVar(&cfg.Storage.Driver, "storage", cfg.Storage.Driver, "ledger storage driver (postgres|memory)")
	fs.IntVar(&cfg.Debug.Port, "debug-port", cfg.Debug.Port, "metrics and pprof port (0 disables)")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level (debug|info|warn|error)")
	if !fs.Parsed() {
		if err := fs.Parse(os.Args[1:]); err != nil {
			return nil, fmt.Errorf("parse flags: %w", err)
		}
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func fromEnv() (*Config, error) {
	cfg := &Config{
		Port:             DefaultPort(),
		DB:               DefaultDB(),
		Storage:          DefaultStorage(),
		Redis:            DefaultRedis(),
		Kafka:            DefaultKafka(),
		Fanout:           DefaultFanout(),
		RateLimit:        DefaultRateLimit(),
		Debug:            DefaultDebug(),
		Audit:            DefaultAudit(),
		OperationTimeout: DefaultOperationTimeout(),
		LogLevel:         defaultLogLevel,
	}

	var errs []error
	intVar(&cfg.Port, "PORT", &errs)

	strVar(&cfg.DB.Host, "POSTGRES_HOST")
	strVar(&cfg.DB.Port, "POSTGRES_PORT")
	strVar(&cfg.DB.User, "POSTGRES_USER")
	strVar(&cfg.DB.Pass, "POSTGRES_PASSWORD")
	strVar(&cfg.DB.Name, "POSTGRES_DB")
	if _, err := strconv.Atoi(cfg.DB.Port); err != nil {
		errs = append(errs, fmt.Errorf("POSTGRES_PORT: %q is not a number", cfg.DB.Port))
	}

	strVar(&cfg.Storage.Driver, "STORAGE_DRIVER")
	boolVar(&cfg.Storage.AutoMigrate, "DB_AUTO_MIGRATE", &errs)

	strVar(&cfg.Redis.Addr, "REDIS_ADDR")
	durVar(&cfg.Redis.LockTTL, "LOCK_TTL", &errs)
	durVar(&cfg.Redis.LockRetryDelay, "LOCK_RETRY_DELAY", &errs)

	if v := strings.TrimSpace(os.Getenv("KAFKA_BROKERS")); v != "" {
		cfg.Kafka.Brokers = splitList(v)
	}
	strVar(&cfg.Kafka.Topic, "KAFKA_TOPIC")
	strVar(&cfg.Kafka.GroupPrefix, "KAFKA_GROUP_PREFIX")

	intVar(&cfg.Fanout.Buffer, "FANOUT_BUFFER", &errs)

	boolVar(&cfg.RateLimit.Enabled, "RATE_LIMIT_ENABLED", &errs)
	if v := strings.TrimSpace(os.Getenv("RATE_LIMIT_RATE")); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("RATE_LIMIT_RATE: %w", err))
		} else {
			cfg.RateLimit.Rate = f
		}
	}
	intVar(&cfg.RateLimit.Burst, "RATE_LIMIT_BURST", &errs)
	durVar(&cfg.RateLimit.TTL, "RATE_LIMIT_TTL", &errs)
	intVar(&cfg.RateLimit.MaxBuckets, "RATE_LIMIT_MAX_BUCKETS", &errs)

	intVar(&cfg.Debug.Port, "DEBUG_PORT", &errs)
	strVar(&cfg.Debug.User, "DEBUG_USER")
	strVar(&cfg.Debug.Pass, "DEBUG_PASS")

	strVar(&cfg.Audit.Schedule, "AUDIT_SCHEDULE")
	durVar(&cfg.OperationTimeout, "OPERATION_TIMEOUT", &errs)
	strVar(&cfg.LogLevel, "LOG_LEVEL")

	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Port)
	}
	if c.Debug.Port < 0 || c.Debug.Port > 65535 {
		return fmt.Errorf("invalid debug port: %d", c.Debug.Port)
	}
	if c.Debug.Enabled() && c.Debug.Port == c.Port {
		return fmt.Errorf("debug port must differ from port %d", c.Port)
	}
	switch c.Storage.Driver {
	case StoragePostgres, StorageMemory:
	default:
		return fmt.Errorf("invalid storage driver: %q", c.Storage.Driver)
	}
	if c.Fanout.Buffer <= 0 {
		return fmt.Errorf("invalid fanout buffer: %d", c.Fanout.Buffer)
	}
	if c.OperationTimeout <= 0 {
		return fmt.Errorf("invalid operation timeout: %s", c.OperationTimeout)
	}
	// a Redis lock must outlive the critical section it guards
	if c.Redis.Addr != "" && c.Redis.LockTTL <= c.OperationTimeout {
		return fmt.Errorf("LOCK_TTL %s must exceed OPERATION_TIMEOUT %s", c.Redis.LockTTL, c.OperationTimeout)
	}
	if c.Kafka.Enabled() && strings.TrimSpace(c.Kafka.Topic) == "" {
		return errors.New("KAFKA_TOPIC is required when KAFKA_BROKERS is set")
	}
	if c.RateLimit.Enabled && (c.RateLimit.Rate <= 0 || c.RateLimit.Burst <= 0) {
		return fmt.Errorf("invalid rate limit: rate=%v burst=%d", c.RateLimit.Rate, c.RateLimit.Burst)
	}
	return nil
}

func strVar(dst *string, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*dst = v
	}
}

func intVar(dst *int, key string, errs *[]error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %w", key, err))
		return
	}
	*dst = n
}

func boolVar(dst *bool, key string, errs *[]error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %w", key, err))
		return
	}
	*dst = b
}

func durVar(dst *time.Duration, key string, errs *[]error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %w", key, err))
		return
	}
	*dst = d
}

func splitList(v string) []string {
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
