package results

import (
	"fmt"
	"time"

	"github.com/apache/pulsar-client-go/pulsar"
	"github.com/go-redis/redis"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"k8s.io/utils/clock"

	"github.com/vladiki/Lean/internal/common/database"
	"github.com/vladiki/Lean/internal/common/logging"
	"github.com/vladiki/Lean/internal/common/pulsarutils"
	"github.com/vladiki/Lean/internal/common/runctx"
	"github.com/vladiki/Lean/internal/results/allowance"
	"github.com/vladiki/Lean/internal/results/configuration"
	"github.com/vladiki/Lean/internal/results/dispatch"
	"github.com/vladiki/Lean/internal/results/interfaces"
	"github.com/vladiki/Lean/internal/results/logs"
	"github.com/vladiki/Lean/internal/results/metrics"
	"github.com/vladiki/Lean/internal/results/model"
	"github.com/vladiki/Lean/internal/results/notify"
	"github.com/vladiki/Lean/internal/results/simulation"
	"github.com/vladiki/Lean/internal/results/store"
)

// Components are the collaborators of a Dispatcher, built from configuration.
type Components struct {
	Notifier     interfaces.Notifier
	Storage      store.Backend
	Allowance    interfaces.AllowanceSource
	LogPersister *logs.Persister
	Metrics      *metrics.Metrics
	// Counts the packets sent for each run so that a run can be summarised.
	Counter *notify.Counter

	closers []func()
}

// NewComponents connects to every backend named in config. Close must be called once the components are no
// longer needed, including when an error is returned.
func NewComponents(ctx *runctx.Context, config configuration.ResultsConfiguration, registerer prometheus.Registerer) (*Components, error) {
	c := &Components{
		Metrics: metrics.NewMetrics(metrics.ResultsMetricsPrefix, registerer),
		Counter: notify.NewCounter(),
	}

	var redisClient redis.UniversalClient
	if config.UsesRedis() {
		redisClient = redis.NewUniversalClient(config.Redis.AsUniversalOptions())
		c.onClose(func() {
			if err := redisClient.Close(); err != nil {
				ctx.Log.WithError(errors.WithStack(err)).Warn("Redis client didn't close down cleanly")
			}
		})
	}

	//////////////////////////////////////////////////////////////////////////
	// Storage
	//////////////////////////////////////////////////////////////////////////
	backend, err := c.newStorage(ctx, config.Storage, redisClient)
	if err != nil {
		return c, err
	}
	if config.Storage.CompressAboveBytes > 0 {
		backend = store.NewCompressingStore(backend, int(config.Storage.CompressAboveBytes))
	}
	c.Storage = store.NewRetryingStore(backend, config.Storage.Retry.Attempts, config.Storage.Retry.Delay)

	//////////////////////////////////////////////////////////////////////////
	// Live channel
	//////////////////////////////////////////////////////////////////////////
	notifiers := []interfaces.Notifier{c.Counter}
	for _, notifierType := range config.Notifier.Types {
		notifier, err := c.newNotifier(ctx, notifierType, config.Notifier, redisClient)
		if err != nil {
			return c, err
		}
		notifiers = append(notifiers, notifier)
	}
	c.Notifier = notify.NewFanout(notifiers...)

	//////////////////////////////////////////////////////////////////////////
	// Log allowance
	//////////////////////////////////////////////////////////////////////////
	defaults := model.LogAllowance{
		PerRunCap:      int64(config.Allowance.PerRunCapBytes),
		PerDayCap:      int64(config.Allowance.PerDayCapBytes),
		RemainingToday: int64(config.Allowance.PerDayCapBytes),
	}
	switch config.Allowance.Type {
	case configuration.AllowanceTypeRedis:
		c.Allowance = allowance.NewRedisSource(redisClient, defaults, clock.RealClock{}, config.Allowance.HistoryLength)
	case configuration.AllowanceTypeStatic:
		c.Allowance = allowance.NewStatic(defaults)
	default:
		return c, errors.Errorf("unknown allowance type %q", config.Allowance.Type)
	}
	if config.Allowance.CacheTtl > 0 {
		c.Allowance = allowance.NewCached(c.Allowance, config.Allowance.CacheTtl)
	}
	c.LogPersister = logs.NewPersister(c.Storage, c.Allowance, defaults, c.Metrics)
	return c, nil
}

func (c *Components) newStorage(ctx *runctx.Context, config configuration.StorageConfig, redisClient redis.UniversalClient) (store.Backend, error) {
	switch config.Type {
	case configuration.StorageTypeMemory:
		return store.NewMemoryStore(), nil
	case configuration.StorageTypeRedis:
		return store.NewRedisStore(redisClient, config.KeyTtl), nil
	case configuration.StorageTypeSQLite:
		s, closeDb, err := store.OpenSQLite(ctx, config.SQLite.Path)
		if err != nil {
			return nil, errors.WithMessage(err, "error opening sqlite result store")
		}
		c.onClose(func() { closeQuietly(ctx, "sqlite", closeDb) })
		return s, nil
	case configuration.StorageTypePostgres:
		s, closeDb, err := store.OpenPostgres(ctx, database.CreateConnectionString(config.Postgres.Connection))
		if err != nil {
			return nil, errors.WithMessage(err, "error opening postgres result store")
		}
		c.onClose(func() { closeQuietly(ctx, "postgres", closeDb) })
		return s, nil
	default:
		return nil, errors.Errorf("unknown storage type %q", config.Type)
	}
}

func (c *Components) newNotifier(
	ctx *runctx.Context,
	notifierType configuration.NotifierType,
	config configuration.NotifierConfig,
	redisClient redis.UniversalClient,
) (interfaces.Notifier, error) {
	switch notifierType {
	case configuration.NotifierTypeLog:
		return notify.NewLogNotifier(), nil
	case configuration.NotifierTypeRedis:
		return notify.NewRedisListNotifier(redisClient, config.Redis.MaxLength, config.Redis.Ttl), nil
	case configuration.NotifierTypeNats:
		conn, err := nats.Connect(config.Nats.Url, nats.Name(config.Nats.ClientName))
		if err != nil {
			return nil, errors.WithMessagef(err, "error connecting to nats at %s", config.Nats.Url)
		}
		c.onClose(func() {
			if err := conn.Drain(); err != nil {
				ctx.Log.WithError(errors.WithStack(err)).Warn("Nats connection didn't drain cleanly")
			}
		})
		return notify.NewNatsNotifier(conn, config.Nats.SubjectPrefix), nil
	case configuration.NotifierTypePulsar:
		compressionType, err := pulsarutils.ParseCompressionType(config.Pulsar.CompressionType)
		if err != nil {
			return nil, err
		}
		client, err := pulsarutils.NewPulsarClient(&config.Pulsar)
		if err != nil {
			return nil, errors.WithMessage(err, "error creating pulsar client")
		}
		c.onClose(client.Close)
		producer, err := client.CreateProducer(pulsar.ProducerOptions{
			Name:             "resultsd-" + uuid.NewString(),
			CompressionType:  compressionType,
			CompressionLevel: pulsar.Faster,
			Topic:            config.Pulsar.ResultsTopic,
			SendTimeout:      config.Pulsar.SendTimeout,
		})
		if err != nil {
			return nil, errors.WithMessagef(err, "error creating pulsar producer for topic %s", config.Pulsar.ResultsTopic)
		}
		// Registered after the client so that it is closed first.
		c.onClose(producer.Close)
		return notify.NewPulsarNotifier(producer), nil
	default:
		return nil, errors.Errorf("unknown notifier type %q", notifierType)
	}
}

func (c *Components) onClose(f func()) {
	c.closers = append(c.closers, f)
}

// Close releases every connection in the reverse order of creation.
func (c *Components) Close() {
	for i := len(c.closers) - 1; i >= 0; i-- {
		c.closers[i]()
	}
	c.closers = nil
}

func closeQuietly(ctx *runctx.Context, name string, closeFunc func() error) {
	if err := closeFunc(); err != nil {
		ctx.Log.WithError(errors.WithStack(err)).Warnf("%s connection didn't close down cleanly", name)
	}
}

// SimulationSummary describes a completed simulated run.
type SimulationSummary struct {
	Identity       model.RunIdentity
	Days           int
	FinalEquity    string
	Orders         int
	LivePackets    int
	DebugMessages  int
	ResamplePeriod time.Duration
}

// RunSimulation drives a synthetic simulation through a Dispatcher built from components, then sends the
// final result. It returns once the final result has been delivered or ctx is cancelled.
func RunSimulation(
	ctx *runctx.Context,
	config configuration.ResultsConfiguration,
	components *Components,
	seed int64,
) (*SimulationSummary, error) {
	identity := model.RunIdentity{
		UserId:    config.Simulation.UserId,
		ProjectId: config.Simulation.ProjectId,
		RunId:     uuid.NewString(),
		Name:      "random-walk",
	}
	ctx = runctx.ForRun(ctx, identity.UserId, identity.ProjectId, identity.RunId)

	dispatcher := dispatch.New(
		identity,
		config.Simulation.PeriodStart,
		config.Simulation.PeriodFinish,
		config.Sampling,
		config.Dispatcher,
		components.Notifier,
		components.Storage,
		components.LogPersister,
		components.Metrics,
		clock.RealClock{},
	)
	sim, err := simulation.New(config.Simulation, seed, dispatcher)
	if err != nil {
		return nil, err
	}

	var outcome *simulation.Outcome
	g, gctx := runctx.ErrGroup(ctx)
	g.Go(func() error {
		return dispatcher.Run(gctx)
	})
	g.Go(func() error {
		// The dispatcher must stop however the simulation ends, otherwise Wait never returns.
		defer dispatcher.RequestStop()
		var err error
		outcome, err = sim.Run(gctx)
		if err != nil {
			dispatcher.RuntimeError(err.Error(), fmt.Sprintf("%+v", logging.ExtractStack(err)))
		}
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, errors.WithMessagef(err, "simulation of run %s failed", identity.RunId)
	}

	if err := dispatcher.SendFinalResult(ctx, outcome.Orders, outcome.ProfitLoss, outcome.Statistics); err != nil {
		return nil, err
	}
	counts := components.Counter.Counts(identity.RunId)
	components.Counter.Forget(identity.RunId)
	return &SimulationSummary{
		Identity:       identity,
		Days:           outcome.Days,
		FinalEquity:    outcome.FinalEquity.StringFixed(2),
		Orders:         len(outcome.Orders),
		LivePackets:    counts.Results,
		DebugMessages:  counts.Debug,
		ResamplePeriod: dispatcher.ResamplePeriod(),
	}, nil
}
