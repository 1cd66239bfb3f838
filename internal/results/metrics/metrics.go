package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

type (
	NotificationKind string
	StorageWrite     string
)

const (
	NotificationKindDebug         NotificationKind = "debug"
	NotificationKindRuntimeError  NotificationKind = "runtime_error"
	NotificationKindHandledError  NotificationKind = "handled_error"
	NotificationKindSecurityTypes NotificationKind = "security_types"
	NotificationKindResult        NotificationKind = "result"

	StorageWriteSnapshot StorageWrite = "snapshot"
	StorageWriteFinal    StorageWrite = "final"
	StorageWriteLog      StorageWrite = "log"
)

const ResultsMetricsPrefix = "lean_results_"

type Metrics struct {
	notificationsSent      *prometheus.CounterVec
	notificationErrors     *prometheus.CounterVec
	messagesDropped        *prometheus.CounterVec
	debugSuppressed        prometheus.Counter
	storageWrites          *prometheus.CounterVec
	storageErrors          *prometheus.CounterVec
	deltaPoints            prometheus.Counter
	livePacketBytes        prometheus.Histogram
	oversizedChartsDropped prometheus.Counter
	logBytesPersisted      prometheus.Counter
	logTruncations         prometheus.Counter
	activeDispatchers      prometheus.Gauge
}

// NewMetrics creates the result pipeline metrics and registers them with registerer.
func NewMetrics(prefix string, registerer prometheus.Registerer) *Metrics {
	factory := promauto.With(registerer)
	return &Metrics{
		notificationsSent: factory.NewCounterVec(prometheus.CounterOpts{
			Name: prefix + "notifications_sent",
			Help: "Number of packets handed to the notifier grouped by kind",
		}, []string{"kind"}),
		notificationErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: prefix + "notification_errors",
			Help: "Number of notifier failures grouped by kind",
		}, []string{"kind"}),
		messagesDropped: factory.NewCounterVec(prometheus.CounterOpts{
			Name: prefix + "messages_dropped",
			Help: "Number of producer messages dropped because the queue was full, grouped by kind",
		}, []string{"kind"}),
		debugSuppressed: factory.NewCounter(prometheus.CounterOpts{
			Name: prefix + "debug_suppressed",
			Help: "Number of debug messages not forwarded because they repeated the previous one",
		}),
		storageWrites: factory.NewCounterVec(prometheus.CounterOpts{
			Name: prefix + "storage_writes",
			Help: "Number of durable storage writes grouped by payload",
		}, []string{"payload"}),
		storageErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: prefix + "storage_errors",
			Help: "Number of failed durable storage writes grouped by payload",
		}, []string{"payload"}),
		deltaPoints: factory.NewCounter(prometheus.CounterOpts{
			Name: prefix + "delta_points",
			Help: "Number of chart points published over the live channel",
		}),
		livePacketBytes: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    prefix + "live_packet_bytes",
			Help:    "Serialised size of result packets sent over the live channel",
			Buckets: prometheus.ExponentialBuckets(1024, 4, 8),
		}),
		oversizedChartsDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: prefix + "oversized_charts_dropped",
			Help: "Number of chart deltas that did not fit in a live packet on their own",
		}),
		logBytesPersisted: factory.NewCounter(prometheus.CounterOpts{
			Name: prefix + "log_bytes_persisted",
			Help: "Number of log bytes written to durable storage",
		}),
		logTruncations: factory.NewCounter(prometheus.CounterOpts{
			Name: prefix + "log_truncations",
			Help: "Number of run logs truncated by the log allowance",
		}),
		activeDispatchers: factory.NewGauge(prometheus.GaugeOpts{
			Name: prefix + "active_dispatchers",
			Help: "Number of dispatcher loops currently running",
		}),
	}
}

// NewTestMetrics returns metrics backed by a private registry.
func NewTestMetrics() *Metrics {
	return NewMetrics(ResultsMetricsPrefix, prometheus.NewRegistry())
}

func (m *Metrics) RecordNotificationSent(kind NotificationKind) {
	m.notificationsSent.With(map[string]string{"kind": string(kind)}).Inc()
}

func (m *Metrics) RecordNotificationError(kind NotificationKind) {
	m.notificationErrors.With(map[string]string{"kind": string(kind)}).Inc()
}

func (m *Metrics) RecordMessageDropped(kind NotificationKind) {
	m.messagesDropped.With(map[string]string{"kind": string(kind)}).Inc()
}

func (m *Metrics) RecordDebugSuppressed() {
	m.debugSuppressed.Inc()
}

func (m *Metrics) RecordStorageWrite(payload StorageWrite) {
	m.storageWrites.With(map[string]string{"payload": string(payload)}).Inc()
}

func (m *Metrics) RecordStorageError(payload StorageWrite) {
	m.storageErrors.With(map[string]string{"payload": string(payload)}).Inc()
}

func (m *Metrics) RecordLivePacket(bytes int, points int) {
	m.livePacketBytes.Observe(float64(bytes))
	m.deltaPoints.Add(float64(points))
}

func (m *Metrics) RecordOversizedChartDropped() {
	m.oversizedChartsDropped.Inc()
}

func (m *Metrics) RecordLogPersisted(bytes int64, truncated bool) {
	m.logBytesPersisted.Add(float64(bytes))
	if truncated {
		m.logTruncations.Inc()
	}
}

func (m *Metrics) DispatcherStarted() {
	m.activeDispatchers.Inc()
}

func (m *Metrics) DispatcherStopped() {
	m.activeDispatchers.Dec()
}

// MessagesDropped returns the dropped-message count for kind, as reported by the simulate summary.
func (m *Metrics) MessagesDropped(kind NotificationKind) float64 {
	return testutil.ToFloat64(m.messagesDropped.With(map[string]string{"kind": string(kind)}))
}

func (m *Metrics) NotificationsSent(kind NotificationKind) float64 {
	return testutil.ToFloat64(m.notificationsSent.With(map[string]string{"kind": string(kind)}))
}

func (m *Metrics) NotificationErrors(kind NotificationKind) float64 {
	return testutil.ToFloat64(m.notificationErrors.With(map[string]string{"kind": string(kind)}))
}

func (m *Metrics) DebugSuppressed() float64 {
	return testutil.ToFloat64(m.debugSuppressed)
}
