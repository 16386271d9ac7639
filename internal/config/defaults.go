package config

import "time"

const (
	defaultPort             = 8080
	defaultOperationTimeout = 3 * time.Second
	defaultLogLevel         = "info"
)

var defaultDB = DB{
	Host: "127.0.0.1",
	Port: "5432",
	User: "myuser",
	Pass: "mypassword",
	Name: "parcelflow",
}

var defaultStorage = Storage{
	Driver:      StoragePostgres,
	AutoMigrate: true,
}

var defaultRedis = Redis{
	LockTTL:        5 * time.Second,
	LockRetryDelay: 10 * time.Millisecond,
}

var defaultKafka = Kafka{
	Topic:       "delivery-lifecycle",
	GroupPrefix: "parcelflow-relay",
}

var defaultRateLimit = RateLimit{
	Enabled:    false,
	Rate:       10,
	Burst:      20,
	TTL:        5 * time.Minute,
	MaxBuckets: 10000,
}

// DefaultPort returns the default port.
func DefaultPort() int {
	return defaultPort
}

// DefaultDB returns the default database settings.
func DefaultDB() DB {
	return defaultDB
}

// DefaultStorage returns the default storage settings.
func DefaultStorage() Storage {
	return defaultStorage
}

// DefaultRedis returns the default lock settings.
func DefaultRedis() Redis {
	return defaultRedis
}

// DefaultKafka returns the default event bus settings.
func DefaultKafka() Kafka {
	return defaultKafka
}

// DefaultFanout returns the default subscriber settings.
func DefaultFanout() Fanout {
	return Fanout{Buffer: 64}
}

// DefaultRateLimit returns the default limiter settings.
func DefaultRateLimit() RateLimit {
	return defaultRateLimit
}

// DefaultDebug returns the default debug server settings.
func DefaultDebug() Debug {
	return Debug{Port: 6060}
}

// DefaultAudit returns the default auditor schedule: every minute.
func DefaultAudit() Audit {
	return Audit{Schedule: "@every 1m"}
}

// DefaultOperationTimeout returns the default per-operation timeout.
func DefaultOperationTimeout() time.Duration {
	return defaultOperationTimeout
}
