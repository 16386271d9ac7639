package app

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/dig"

	"parcelflow/internal/config"
	"parcelflow/internal/fanout"
	"parcelflow/internal/http/handlers"
	mw "parcelflow/internal/http/middleware"
	"parcelflow/internal/http/pprofserver"
	"parcelflow/internal/http/router"
	"parcelflow/internal/lock"
	"parcelflow/internal/logx"
	"parcelflow/internal/metrics"
	"parcelflow/internal/ports/ledger"
	"parcelflow/internal/repository"
	"parcelflow/internal/repository/memory"
	"parcelflow/internal/service/arbiter"
	"parcelflow/internal/service/driver"
	"parcelflow/internal/service/lifecycle"
	"parcelflow/internal/transport/kafka"
)

// ContainerBuilder is a dig container builder.
type ContainerBuilder struct {
	dbConnect dbConnectFunc
	logFatalf func(string, ...interface{})
	config    func() (*config.Config, error)
}

// NewContainerBuilder returns a new dig container builder.
func NewContainerBuilder() *ContainerBuilder {
	return &ContainerBuilder{
		dbConnect: connectDbWithRetry,
		logFatalf: log.Fatalf,
		config:    config.Load,
	}
}

// WithDBConnect sets the database connection function.
func (b *ContainerBuilder) WithDBConnect(fn dbConnectFunc) *ContainerBuilder {
	if fn != nil {
		b.dbConnect = fn
	}
	return b
}

// WithLogFatalf sets the log.Fatalf function.
func (b *ContainerBuilder) WithLogFatalf(fn func(string, ...interface{})) *ContainerBuilder {
	if fn != nil {
		b.logFatalf = fn
	}
	return b
}

// WithConfig replaces config.Load.
func (b *ContainerBuilder) WithConfig(fn func() (*config.Config, error)) *ContainerBuilder {
	if fn != nil {
		b.config = fn
	}
	return b
}

// MustBuild builds the server container.
func (b *ContainerBuilder) MustBuild(ctx context.Context) *dig.Container {
	container, err := b.build(ctx)
	if err != nil {
		b.logFatalf("failed to build container: %v", err)
	}
	return container
}

func (b *ContainerBuilder) build(ctx context.Context) (*dig.Container, error) {
	container := dig.New()

	if err := registerCore(container, ctx, b.config); err != nil {
		return nil, fmt.Errorf("core: %w", err)
	}
	if err := registerStorage(container, b.dbConnect); err != nil {
		return nil, fmt.Errorf("storage: %w", err)
	}
	if err := registerLocking(container); err != nil {
		return nil, fmt.Errorf("locking: %w", err)
	}
	if err := registerEvents(container); err != nil {
		return nil, fmt.Errorf("events: %w", err)
	}
	if err := registerService(container); err != nil {
		return nil, fmt.Errorf("service: %w", err)
	}
	if err := registerHTTP(container); err != nil {
		return nil, fmt.Errorf("http: %w", err)
	}
	return container, nil
}

// MustBuildContainer builds the server container with production defaults.
func MustBuildContainer(ctx context.Context) *dig.Container {
	return NewContainerBuilder().MustBuild(ctx)
}

func provideAll(container *dig.Container, providers ...any) error {
	for _, provider := range providers {
		if err := container.Provide(provider); err != nil {
			return fmt.Errorf("provide %T: %w", provider, err)
		}
	}
	return nil
}

func registerCore(container *dig.Container, ctx context.Context, load func() (*config.Config, error)) error {
	return provideAll(container,
		func() context.Context { return ctx },
		load,
		NewLogger,
		func() prometheus.Registerer { return prometheus.DefaultRegisterer },
		func() prometheus.Gatherer { return prometheus.DefaultGatherer },
		provideMetrics,
	)
}

// Metrics holds every registered collector of the process.
type Metrics struct {
	RateLimitExceeded   prometheus.Counter
	Transitions         *prometheus.CounterVec
	AssignmentAttempts  *prometheus.CounterVec
	FanoutPublished     prometheus.Counter
	FanoutDropped       prometheus.Counter
	FanoutSubscribers   *prometheus.GaugeVec
	EventBusFailures    prometheus.Counter
	InvariantViolations *prometheus.GaugeVec
	HTTP                *mw.HTTPMetrics
}

func provideMetrics(reg prometheus.Registerer) (*Metrics, error) {
	var (
		m   = &Metrics{HTTP: mw.NewHTTPMetrics()}
		err error
	)
	counters := []struct {
		name string
		dst  *prometheus.Counter
		c    prometheus.Counter
	}{
		{"rate_limit_exceeded_total", &m.RateLimitExceeded, metrics.NewRateLimitExceededTotal()},
		{"fanout_events_published_total", &m.FanoutPublished, metrics.NewFanoutPublishedTotal()},
		{"fanout_subscribers_dropped_total", &m.FanoutDropped, metrics.NewFanoutDroppedTotal()},
		{"event_bus_publish_failures_total", &m.EventBusFailures, metrics.NewEventBusFailuresTotal()},
	}
	for _, c := range counters {
		if *c.dst, err = metrics.RegisterOrExisting(reg, c.c); err != nil {
			return nil, fmt.Errorf("register %s: %w", c.name, err)
		}
	}
	if m.Transitions, err = metrics.RegisterOrExisting(reg, metrics.NewTransitionsTotal()); err != nil {
		return nil, fmt.Errorf("register delivery_transitions_total: %w", err)
	}
	if m.AssignmentAttempts, err = metrics.RegisterOrExisting(reg, metrics.NewAssignmentAttemptsTotal()); err != nil {
		return nil, fmt.Errorf("register assignment_attempts_total: %w", err)
	}
	if m.FanoutSubscribers, err = metrics.RegisterOrExisting(reg, metrics.NewFanoutSubscribers()); err != nil {
		return nil, fmt.Errorf("register fanout_subscribers: %w", err)
	}
	if m.InvariantViolations, err = metrics.RegisterOrExisting(reg, metrics.NewInvariantViolations()); err != nil {
		return nil, fmt.Errorf("register ledger_invariant_violations: %w", err)
	}
	if m.HTTP.Requests, err = metrics.RegisterOrExisting(reg, m.HTTP.Requests); err != nil {
		return nil, fmt.Errorf("register http_requests_total: %w", err)
	}
	if m.HTTP.Duration, err = metrics.RegisterOrExisting(reg, m.HTTP.Duration); err != nil {
		return nil, fmt.Errorf("register http_request_duration_seconds: %w", err)
	}
	return m, nil
}

// storage is the ledger and directory wiring for the selected backend.
type storage struct {
	dig.Out

	Deliveries ledger.Deliveries
	Drivers    ledger.Drivers
	Runner     ledger.Runner
	Auditor    ledger.Auditor
	// Pool is nil for the memory backend.
	Pool *pgxpool.Pool
}

func registerStorage(container *dig.Container, dbConnect dbConnectFunc) error {
	return provideAll(container, func(ctx context.Context, cfg *config.Config, logger logx.Logger) (storage, error) {
		return provideStorage(ctx, cfg, logger, dbConnect)
	})
}

func provideStorage(ctx context.Context, cfg *config.Config, logger logx.Logger, dbConnect dbConnectFunc) (storage, error) {
	if cfg.Storage.Driver == config.StorageMemory {
		logger.Warn("using in-memory storage; data is lost on restart")
		s := memory.NewStore()
		return storage{Deliveries: s, Drivers: s, Runner: s, Auditor: s}, nil
	}

	pool, err := dbConnect(ctx, logger, cfg.DB.DSN(), 10, time.Second)
	if err != nil {
		return storage{}, err
	}
	if cfg.Storage.AutoMigrate {
		if err := repository.ApplySchema(ctx, pool); err != nil {
			pool.Close()
			return storage{}, err
		}
	}
	return storage{
		Deliveries: repository.NewDeliveryRepo(pool),
		Drivers:    repository.NewDriverRepo(pool),
		Runner:     repository.NewLedgerRepo(pool),
		Auditor:    repository.NewAuditRepo(pool),
		Pool:       pool,
	}, nil
}

// redisCloser releases the lock backend; it is a no-op for the in-process mutex.
type redisCloser func() error

type locking struct {
	dig.Out

	Locker lock.Locker
	Close  redisCloser
}

func registerLocking(container *dig.Container) error {
	return provideAll(container, provideLocking)
}

func provideLocking(ctx context.Context, cfg *config.Config, logger logx.Logger) (locking, error) {
	if cfg.Redis.Addr == "" {
		return locking{Locker: lock.NewKeyedMutex(), Close: func() error { return nil }}, nil
	}

	client := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr})
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return locking{}, fmt.Errorf("redis ping %s: %w", cfg.Redis.Addr, err)
	}
	logger.Info("using redis locks", logx.String("addr", cfg.Redis.Addr))

	locker := lock.NewRedisLocker(client, lock.RedisConfig{
		TTL:        cfg.Redis.LockTTL,
		RetryDelay: cfg.Redis.LockRetryDelay,
	}, logger)
	return locking{Locker: locker, Close: client.Close}, nil
}

// events selects where the Coordinator publishes and what feeds the local hub.
type events struct {
	dig.Out

	Publisher lifecycle.Publisher
	// Producer and Relay are nil unless Kafka is configured.
	Producer *kafka.Producer
	Relay    *kafka.Consumer
}

func registerEvents(container *dig.Container) error {
	return provideAll(container, provideHub, provideEvents)
}

func provideHub(cfg *config.Config, logger logx.Logger, m *Metrics) *fanout.Hub {
	return fanout.NewHub(cfg.Fanout.Buffer, logger,
		fanout.WithMetrics(m.FanoutPublished, m.FanoutDropped, m.FanoutSubscribers))
}

func provideEvents(cfg *config.Config, logger logx.Logger, hub *fanout.Hub, m *Metrics) (events, error) {
	if !cfg.Kafka.Enabled() {
		return events{Publisher: hub}, nil
	}

	producer, err := kafka.NewProducer(logger, cfg.Kafka.Brokers, cfg.Kafka.Topic, m.EventBusFailures)
	if err != nil {
		return events{}, err
	}
	// Every instance joins its own group so each hub sees the whole stream.
	group := fmt.Sprintf("%s-%s", cfg.Kafka.GroupPrefix, uuid.NewString())
	relay, err := kafka.NewConsumer(logger, cfg.Kafka.Brokers, group, cfg.Kafka.Topic, relayTo(hub))
	if err != nil {
		_ = producer.Close()
		return events{}, err
	}
	logger.Info("kafka event bus enabled",
		logx.String("topic", cfg.Kafka.Topic),
		logx.String("group", group),
	)
	return events{Publisher: producer, Producer: producer, Relay: relay}, nil
}

func registerService(container *dig.Container) error {
	return provideAll(container,
		func(cfg *config.Config) time.Duration { return cfg.OperationTimeout },
		func(runner ledger.Runner, locker lock.Locker, logger logx.Logger, m *Metrics) *arbiter.Arbiter {
			return arbiter.New(runner, locker, logger, arbiter.WithAttemptsCounter(m.AssignmentAttempts))
		},
		func(
			deliveries ledger.Deliveries,
			runner ledger.Runner,
			arb *arbiter.Arbiter,
			locker lock.Locker,
			publisher lifecycle.Publisher,
			timeout time.Duration,
			logger logx.Logger,
			m *Metrics,
		) *lifecycle.Coordinator {
			return lifecycle.NewCoordinator(deliveries, runner, arb, locker, publisher, timeout, logger,
				lifecycle.WithTransitionsCounter(m.Transitions))
		},
		func(drivers ledger.Drivers, arb *arbiter.Arbiter, timeout time.Duration) *driver.Service {
			return driver.NewService(drivers, arb, timeout)
		},
	)
}

type servers struct {
	dig.Out

	Main *http.Server
	// Debug is nil when DEBUG_PORT is 0.
	Debug *http.Server `name:"debug_server"`
}

func provideServers(cfg *config.Config, mux http.Handler, gatherer prometheus.Gatherer) servers {
	out := servers{
		Main: &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Port),
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       15 * time.Second,
			IdleTimeout:       60 * time.Second,
		},
	}
	if cfg.Debug.Enabled() {
		out.Debug = newDebugServer(cfg, gatherer)
	}
	return out
}

func newDebugServer(cfg *config.Config, gatherer prometheus.Gatherer) *http.Server {
	return &http.Server{
		Addr: cfg.Debug.Addr(),
		Handler: pprofserver.Handler(pprofserver.Config{
			User: cfg.Debug.User,
			Pass: cfg.Debug.Pass,
		}, gatherer),
		ReadHeaderTimeout: 5 * time.Second,
	}
}

// provideBaseHandlers wires readiness: the hub must be open and postgres, when used, reachable.
func provideBaseHandlers(logger logx.Logger, hub *fanout.Hub, pool *pgxpool.Pool) *handlers.Handlers {
	probes := []handlers.Probe{func(context.Context) error {
		if hub.Closed() {
			return fanout.ErrClosed
		}
		return nil
	}}
	if pool != nil {
		probes = append(probes, func(ctx context.Context) error { return pool.Ping(ctx) })
	}
	return handlers.New(logger, probes...)
}

func registerHTTP(container *dig.Container) error {
	return provideAll(container,
		provideBaseHandlers,
		handlers.NewDeliveryUsecase,
		handlers.NewDeliveryHandler,
		handlers.NewDriverUsecase,
		handlers.NewDriverHandler,
		func(logger logx.Logger, hub *fanout.Hub) *handlers.SubscribeHandler {
			return handlers.NewSubscribeHandler(logger, handlers.NewEventSource(hub))
		},
		func(m *Metrics) *mw.HTTPMetrics { return m.HTTP },
		provideRateLimit,
		router.New,
		provideServers,
	)
}
