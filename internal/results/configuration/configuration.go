package configuration

import (
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/vladiki/Lean/internal/common/config"
	"github.com/vladiki/Lean/internal/common/database"
)

type (
	StorageType   string
	NotifierType  string
	AllowanceType string
)

const (
	StorageTypeMemory   StorageType = "memory"
	StorageTypeRedis    StorageType = "redis"
	StorageTypeSQLite   StorageType = "sqlite"
	StorageTypePostgres StorageType = "postgres"

	NotifierTypeLog    NotifierType = "log"
	NotifierTypePulsar NotifierType = "pulsar"
	NotifierTypeNats   NotifierType = "nats"
	NotifierTypeRedis  NotifierType = "redis"

	AllowanceTypeStatic AllowanceType = "static"
	AllowanceTypeRedis  AllowanceType = "redis"
)

type ResultsConfiguration struct {
	// Port on which prometheus metrics are served
	MetricsPort uint16
	Logging     LoggingConfig
	// Redis connection shared by every redis backed component
	Redis      config.RedisConfig
	Sampling   SamplingConfig
	Dispatcher DispatcherConfig
	Storage    StorageConfig
	Notifier   NotifierConfig
	Allowance  AllowanceConfig
	Simulation SimulationConfig
}

type LoggingConfig struct {
	Level  string `validate:"omitempty,oneof=trace debug info warn warning error fatal panic"`
	Format string `validate:"omitempty,oneof=text json"`
}

type SamplingConfig struct {
	// Number of chart samples to aim for over a whole run
	SampleBudget int `validate:"gt=0"`
	// Charts are never sampled more often than this, in simulated time
	MinResamplePeriod time.Duration `validate:"gt=0"`
	// Minimum wall-clock time between live result packets
	NotificationPeriod time.Duration `validate:"gte=0"`
	// Minimum wall-clock time between durable snapshots
	StoragePeriod time.Duration `validate:"gt=0"`
	// Highest progress reported before the final result
	ProgressCeiling float64 `validate:"gt=0,lt=1"`
}

type DispatcherConfig struct {
	// How long the dispatcher sleeps when it has nothing to send
	IdleWait time.Duration `validate:"gt=0"`
	// Debug and error messages are dropped while more than this many messages are queued
	MaxQueuedMessages int `validate:"gt=0"`
	// Largest serialised result packet sent over the live channel
	MaxLivePacketBytes config.ByteSize `validate:"gt=0"`
}

type StorageConfig struct {
	Type StorageType `validate:"oneof=memory redis sqlite postgres"`
	// Payloads at least this large are zlib compressed. Zero disables compression.
	CompressAboveBytes config.ByteSize
	Retry              RetryConfig
	// Expiry of objects in redis. Zero keeps them forever.
	KeyTtl   time.Duration
	SQLite   SQLiteConfig
	Postgres database.PostgresConfig
}

type RetryConfig struct {
	Attempts uint `validate:"gte=1"`
	Delay    time.Duration
}

type SQLiteConfig struct {
	Path string
}

type NotifierConfig struct {
	Types  []NotifierType `validate:"required,dive,oneof=log pulsar nats redis"`
	Pulsar config.PulsarConfig
	Nats   NatsConfig
	Redis  RedisListConfig
}

type NatsConfig struct {
	Url           string
	SubjectPrefix string
	// Name the connection is registered under on the server
	ClientName string
}

type RedisListConfig struct {
	// Number of most recent envelopes kept per run
	MaxLength int64 `validate:"gte=0"`
	Ttl       time.Duration
}

type AllowanceConfig struct {
	Type AllowanceType `validate:"oneof=static redis"`
	// Caps handed out by the static source, and defaults for users unknown to the redis source
	PerRunCapBytes config.ByteSize `validate:"gt=0"`
	PerDayCapBytes config.ByteSize `validate:"gt=0"`
	// How long allowance reads are cached. Zero disables caching.
	CacheTtl time.Duration
	// Number of usage records kept per user by the redis source
	HistoryLength int64 `validate:"gte=0"`
}

type SimulationConfig struct {
	UserId         int `validate:"gte=0"`
	ProjectId      int `validate:"gte=0"`
	PeriodStart    time.Time
	PeriodFinish   time.Time
	InitialCapital float64 `validate:"gt=0"`
	// Standard deviation of the hourly return of the random walk
	Volatility float64 `validate:"gte=0"`
	// How often, in simulated time, the simulation advances
	Step time.Duration `validate:"gt=0"`
	// Number of debug messages emitted per simulated day
	DebugMessagesPerDay int `validate:"gte=0"`
}

func (c ResultsConfiguration) Validate() error {
	validate := validator.New()
	validate.RegisterStructValidation(ResultsConfigurationValidation, ResultsConfiguration{})
	validate.RegisterStructValidation(StorageConfigValidation, StorageConfig{})
	validate.RegisterStructValidation(NotifierConfigValidation, NotifierConfig{})
	validate.RegisterStructValidation(SimulationConfigValidation, SimulationConfig{})
	return validate.Struct(c)
}

func ResultsConfigurationValidation(sl validator.StructLevel) {
	c := sl.Current().Interface().(ResultsConfiguration)
	if c.UsesRedis() && len(c.Redis.Addrs) == 0 {
		sl.ReportError(c.Redis.Addrs, "Addrs", "Redis.Addrs", "required_for_redis", "")
	}
}

func StorageConfigValidation(sl validator.StructLevel) {
	c := sl.Current().Interface().(StorageConfig)
	switch c.Type {
	case StorageTypeSQLite:
		if c.SQLite.Path == "" {
			sl.ReportError(c.SQLite.Path, "Path", "SQLite.Path", "required_for_sqlite", "")
		}
	case StorageTypePostgres:
		if len(c.Postgres.Connection) == 0 {
			sl.ReportError(c.Postgres.Connection, "Connection", "Postgres.Connection", "required_for_postgres", "")
		}
	}
}

func NotifierConfigValidation(sl validator.StructLevel) {
	c := sl.Current().Interface().(NotifierConfig)
	for _, t := range c.Types {
		switch t {
		case NotifierTypePulsar:
			if c.Pulsar.URL == "" {
				sl.ReportError(c.Pulsar.URL, "URL", "Pulsar.URL", "required_for_pulsar", "")
			}
			if c.Pulsar.ResultsTopic == "" {
				sl.ReportError(c.Pulsar.ResultsTopic, "ResultsTopic", "Pulsar.ResultsTopic", "required_for_pulsar", "")
			}
		case NotifierTypeNats:
			if c.Nats.Url == "" {
				sl.ReportError(c.Nats.Url, "Url", "Nats.Url", "required_for_nats", "")
			}
			if c.Nats.SubjectPrefix == "" {
				sl.ReportError(c.Nats.SubjectPrefix, "SubjectPrefix", "Nats.SubjectPrefix", "required_for_nats", "")
			}
		}
	}
}

func SimulationConfigValidation(sl validator.StructLevel) {
	c := sl.Current().Interface().(SimulationConfig)
	if !c.PeriodFinish.After(c.PeriodStart) {
		sl.ReportError(c.PeriodFinish, "PeriodFinish", "PeriodFinish", "after_period_start", "")
	}
}

// UsesRedis returns true if any configured component needs the shared redis connection.
func (c ResultsConfiguration) UsesRedis() bool {
	if c.Storage.Type == StorageTypeRedis || c.Allowance.Type == AllowanceTypeRedis {
		return true
	}
	for _, t := range c.Notifier.Types {
		if t == NotifierTypeRedis {
			return true
		}
	}
	return false
}
