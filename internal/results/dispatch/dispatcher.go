package dispatch

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/exp/maps"
	"k8s.io/utils/clock"

	"github.com/vladiki/Lean/internal/common/logging"
	"github.com/vladiki/Lean/internal/common/runctx"
	"github.com/vladiki/Lean/internal/results/charts"
	"github.com/vladiki/Lean/internal/results/configuration"
	"github.com/vladiki/Lean/internal/results/interfaces"
	"github.com/vladiki/Lean/internal/results/logs"
	"github.com/vladiki/Lean/internal/results/messages"
	"github.com/vladiki/Lean/internal/results/metrics"
	"github.com/vladiki/Lean/internal/results/model"
	"github.com/vladiki/Lean/internal/results/sampling"
)

// State is the lifecycle stage of a Dispatcher.
type State int32

const (
	// StateRunning dispatches notifications and publishes periodic results.
	StateRunning State = iota
	// StateDraining has been asked to stop and is emptying the queue.
	StateDraining
	// StateFinished has stopped; the final result may now be sent.
	StateFinished
)

func (s State) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StateDraining:
		return "draining"
	case StateFinished:
		return "finished"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// Dispatcher collects the output of one simulation run and forwards it to the live channel and durable storage.
// Producer methods may be called from the simulation goroutine while Run executes on its own goroutine.
// A Dispatcher serves exactly one run.
type Dispatcher struct {
	identity     model.RunIdentity
	periodStart  time.Time
	periodFinish time.Time
	jobDays      int

	samplingConfig   configuration.SamplingConfig
	dispatcherConfig configuration.DispatcherConfig

	charts charts.Aggregate
	queue  *messages.Queue
	logs   *logs.Accumulator

	notifier     interfaces.Notifier
	storage      interfaces.Storage
	logPersister *logs.Persister
	metrics      *metrics.Metrics
	clock        clock.PassiveClock
	// Used by producer methods, which have no context.
	log *logrus.Entry

	startTime      time.Time
	resamplePeriod time.Duration

	// Owned by the Run goroutine.
	throttle     *sampling.Throttle
	lastDebug    string
	hasLastDebug bool

	samplerMu sync.Mutex
	sampler   *sampling.Sampler

	runtimeStatisticsMu sync.Mutex
	runtimeStatistics   map[string]string

	// Periodic snapshots are written one at a time; the final result waits for an in-flight one.
	snapshotInFlight int32
	snapshotWg       sync.WaitGroup

	idMu    sync.Mutex
	entropy *ulid.MonotonicEntropy

	daysProcessed int32
	exitRequested int32
	state         int32
	started       int32
	active        int32
	finalised     int32
	done          chan struct{}
}

func New(
	identity model.RunIdentity,
	periodStart time.Time,
	periodFinish time.Time,
	samplingConfig configuration.SamplingConfig,
	dispatcherConfig configuration.DispatcherConfig,
	notifier interfaces.Notifier,
	storage interfaces.Storage,
	logPersister *logs.Persister,
	metrics *metrics.Metrics,
	clock clock.PassiveClock,
) *Dispatcher {
	now := clock.Now()
	resamplePeriod := sampling.ResamplePeriod(periodStart, periodFinish, samplingConfig.SampleBudget, samplingConfig.MinResamplePeriod)
	log := logrus.WithFields(logrus.Fields{
		"userId":    identity.UserId,
		"projectId": identity.ProjectId,
		"runId":     identity.RunId,
	})
	return &Dispatcher{
		identity:          identity,
		periodStart:       periodStart,
		periodFinish:      periodFinish,
		jobDays:           sampling.JobDays(periodStart, periodFinish),
		samplingConfig:    samplingConfig,
		dispatcherConfig:  dispatcherConfig,
		charts:            charts.NewStore(),
		queue:             messages.NewQueue(),
		logs:              logs.NewAccumulator(),
		notifier:          notifier,
		storage:           storage,
		logPersister:      logPersister,
		metrics:           metrics,
		clock:             clock,
		log:               log,
		startTime:         now,
		resamplePeriod:    resamplePeriod,
		throttle:          sampling.NewThrottle(now, samplingConfig.NotificationPeriod, samplingConfig.StoragePeriod),
		sampler:           sampling.NewSampler(periodStart, resamplePeriod),
		runtimeStatistics: map[string]string{},
		entropy:           ulid.Monotonic(rand.New(rand.NewSource(now.UnixNano())), 0),
		done:              make(chan struct{}),
	}
}

func (d *Dispatcher) Identity() model.RunIdentity {
	return d.identity
}

// ResamplePeriod is the interval of simulated time between periodic equity samples.
func (d *Dispatcher) ResamplePeriod() time.Duration {
	return d.resamplePeriod
}

func (d *Dispatcher) State() State {
	return State(atomic.LoadInt32(&d.state))
}

// IsActive returns true while Run is executing.
func (d *Dispatcher) IsActive() bool {
	return atomic.LoadInt32(&d.active) == 1
}

// Done is closed when Run returns.
func (d *Dispatcher) Done() <-chan struct{} {
	return d.done
}

// RequestStop asks Run to drain the queue and return. It does not block.
func (d *Dispatcher) RequestStop() {
	atomic.StoreInt32(&d.exitRequested, 1)
}

// Run dispatches queued notifications and publishes periodic results until RequestStop is called or ctx is
// cancelled, then drains the queue and returns. Collaborator failures are logged and never end the loop.
func (d *Dispatcher) Run(ctx *runctx.Context) error {
	if !atomic.CompareAndSwapInt32(&d.started, 0, 1) {
		return errors.Errorf("dispatcher for run %s has already been started", d.identity.RunId)
	}
	ctx = runctx.ForRun(ctx, d.identity.UserId, d.identity.ProjectId, d.identity.RunId)
	atomic.StoreInt32(&d.active, 1)
	d.metrics.DispatcherStarted()
	defer func() {
		atomic.StoreInt32(&d.active, 0)
		d.metrics.DispatcherStopped()
		close(d.done)
	}()

	ctx.Log.Infof("Dispatching results for %d day run; resampling every %s", d.jobDays, d.resamplePeriod)
	for {
		if d.State() == StateRunning && d.stopRequested(ctx) {
			d.setState(StateDraining)
			ctx.Log.Infof("Stop requested; draining %d queued messages", d.queue.Len())
			// Queued messages are still delivered after ctx has been cancelled.
			ctx = runctx.WithoutCancel(ctx)
		}
		if d.State() == StateDraining && d.queue.Len() == 0 {
			d.setState(StateFinished)
			ctx.Log.Info("Result dispatcher finished")
			return nil
		}

		if notification, ok := d.queue.Dequeue(); ok {
			d.dispatch(ctx, notification)
		} else {
			d.idle(ctx)
		}
		d.update(ctx)
	}
}

func (d *Dispatcher) stopRequested(ctx *runctx.Context) bool {
	return atomic.LoadInt32(&d.exitRequested) == 1 || ctx.Err() != nil
}

func (d *Dispatcher) setState(s State) {
	atomic.StoreInt32(&d.state, int32(s))
}

func (d *Dispatcher) idle(ctx *runctx.Context) {
	timer := time.NewTimer(d.dispatcherConfig.IdleWait)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	}
}

// dispatch forwards a single notification to the notifier.
func (d *Dispatcher) dispatch(ctx *runctx.Context, notification messages.Notification) {
	switch n := notification.(type) {
	case messages.Debug:
		if d.hasLastDebug && n.Message == d.lastDebug {
			d.metrics.RecordDebugSuppressed()
			return
		}
		d.lastDebug = n.Message
		d.hasLastDebug = true
		identity := d.identity
		identity.ProjectId = n.ProjectId
		d.recordSend(ctx, metrics.NotificationKindDebug, d.notifier.SendDebug(ctx, model.DebugPacket{
			Identity: identity,
			Message:  n.Message,
		}))
	case messages.RuntimeError:
		d.recordSend(ctx, metrics.NotificationKindRuntimeError, d.notifier.SendRuntimeError(ctx, model.RuntimeErrorPacket{
			Identity:   d.identity,
			Message:    n.Message,
			StackTrace: n.StackTrace,
		}))
	case messages.HandledError:
		d.recordSend(ctx, metrics.NotificationKindHandledError, d.notifier.SendHandledError(ctx, model.HandledErrorPacket{
			Identity:   d.identity,
			Message:    n.Message,
			StackTrace: n.StackTrace,
		}))
	case messages.SecurityTypes:
		d.recordSend(ctx, metrics.NotificationKindSecurityTypes, d.notifier.SendSecurityTypes(ctx, model.SecurityTypesPacket{
			Identity: d.identity,
			Types:    n.Types,
		}))
	default:
		ctx.Log.Errorf("Unknown notification type %T", notification)
	}
}

func (d *Dispatcher) recordSend(ctx *runctx.Context, kind metrics.NotificationKind, err error) {
	if err != nil {
		d.metrics.RecordNotificationError(kind)
		logging.WithStacktrace(ctx.Log, err).Warnf("Failed to send %s notification", kind)
		return
	}
	d.metrics.RecordNotificationSent(kind)
}

// update publishes chart deltas and persists snapshots when their throttles allow.
func (d *Dispatcher) update(ctx *runctx.Context) {
	now := d.clock.Now()
	days := int(atomic.LoadInt32(&d.daysProcessed))
	if d.throttle.UpdateDue(now, days) {
		d.throttle.MarkUpdated(now, days)
		d.publishDeltas(ctx, days)
	}
	if d.throttle.StoreDue(now) {
		d.throttle.MarkStored(now)
		d.storeSnapshot(ctx, days)
	}
}

func (d *Dispatcher) publishDeltas(ctx *runctx.Context, days int) {
	deltas := d.charts.ExtractDeltas()
	packet := d.newPacket(deltas, sampling.Progress(days, d.jobDays, d.samplingConfig.ProgressCeiling))
	for _, p := range d.splitForLive(ctx, packet) {
		d.sendResult(ctx, p, false)
	}
}

func (d *Dispatcher) sendResult(ctx *runctx.Context, packet *model.ResultPacket, final bool) {
	d.recordSend(ctx, metrics.NotificationKindResult, d.notifier.SendResult(ctx, packet, final))
}

// storeSnapshot writes the complete chart state in the background. It is skipped while a previous snapshot
// is still being written.
func (d *Dispatcher) storeSnapshot(ctx *runctx.Context, days int) {
	if !atomic.CompareAndSwapInt32(&d.snapshotInFlight, 0, 1) {
		ctx.Log.Debug("Previous snapshot still being stored; skipping")
		return
	}
	packet := d.newPacket(d.charts.Snapshot(), sampling.Progress(days, d.jobDays, d.samplingConfig.ProgressCeiling))
	payload, err := json.Marshal(packet)
	if err != nil {
		atomic.StoreInt32(&d.snapshotInFlight, 0)
		logging.WithStacktrace(ctx.Log, errors.WithStack(err)).Error("Unable to serialise result snapshot")
		return
	}

	d.snapshotWg.Add(1)
	storeCtx := runctx.WithoutCancel(ctx)
	go func() {
		defer d.snapshotWg.Done()
		defer atomic.StoreInt32(&d.snapshotInFlight, 0)
		d.store(storeCtx, payload, metrics.StorageWriteSnapshot)
	}()
}

func (d *Dispatcher) store(ctx *runctx.Context, payload []byte, kind metrics.StorageWrite) error {
	key := d.identity.ResultKey()
	if err := d.storage.Store(ctx, payload, key, model.PermissionsPrivate, false); err != nil {
		d.metrics.RecordStorageError(kind)
		logging.WithStacktrace(ctx.Log, err).Warnf("Failed to store %s at %s", kind, key)
		return err
	}
	d.metrics.RecordStorageWrite(kind)
	return nil
}

func (d *Dispatcher) newPacket(chartSet map[string]*model.Chart, progress float64) *model.ResultPacket {
	result := model.NewResult()
	result.Charts = chartSet
	result.RuntimeStatistics = d.runtimeStatisticsCopy()
	return &model.ResultPacket{
		PacketId:       d.newPacketId(),
		Identity:       d.identity,
		PeriodStart:    d.periodStart,
		PeriodFinish:   d.periodFinish,
		Progress:       progress,
		ProcessingTime: d.clock.Since(d.startTime).Seconds(),
		Results:        result,
	}
}

func (d *Dispatcher) newPacketId() string {
	d.idMu.Lock()
	defer d.idMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(d.clock.Now()), d.entropy).String()
}

func (d *Dispatcher) runtimeStatisticsCopy() map[string]string {
	d.runtimeStatisticsMu.Lock()
	defer d.runtimeStatisticsMu.Unlock()
	return maps.Clone(d.runtimeStatistics)
}
