package dispatch

import (
	"encoding/json"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	clock "k8s.io/utils/clock/testing"

	"github.com/vladiki/Lean/internal/common/resultserrors"
	"github.com/vladiki/Lean/internal/common/runctx"
	"github.com/vladiki/Lean/internal/results/allowance"
	"github.com/vladiki/Lean/internal/results/configuration"
	"github.com/vladiki/Lean/internal/results/logs"
	"github.com/vladiki/Lean/internal/results/metrics"
	"github.com/vladiki/Lean/internal/results/model"
	"github.com/vladiki/Lean/internal/results/notify"
	"github.com/vladiki/Lean/internal/results/sampling"
	"github.com/vladiki/Lean/internal/results/store"
)

var (
	testStart    = time.Date(2021, 1, 4, 0, 0, 0, 0, time.UTC)
	testIdentity = model.RunIdentity{UserId: 1, ProjectId: 2, RunId: "run-1"}
)

type testDispatcher struct {
	*Dispatcher
	recorder *notify.Recorder
	storage  *store.MemoryStore
	clock    *clock.FakeClock
	metrics  *metrics.Metrics
}

func testSamplingConfig() configuration.SamplingConfig {
	return configuration.SamplingConfig{
		SampleBudget:       sampling.DefaultSampleBudget,
		MinResamplePeriod:  sampling.DefaultMinResamplePeriod,
		NotificationPeriod: sampling.DefaultNotificationPeriod,
		StoragePeriod:      sampling.DefaultStoragePeriod,
		ProgressCeiling:    sampling.DefaultProgressCeiling,
	}
}

func testDispatcherConfig() configuration.DispatcherConfig {
	return configuration.DispatcherConfig{
		IdleWait:           time.Millisecond,
		MaxQueuedMessages:  500,
		MaxLivePacketBytes: 10 * 1024 * 1024,
	}
}

func newTestDispatcher(days int, dispatcherConfig configuration.DispatcherConfig) *testDispatcher {
	recorder := notify.NewRecorder()
	storage := store.NewMemoryStore()
	fakeClock := clock.NewFakeClock(time.Date(2023, 6, 1, 12, 0, 0, 0, time.UTC))
	m := metrics.NewTestMetrics()
	persister := logs.NewPersister(
		storage,
		allowance.NewStatic(model.LogAllowance{PerRunCap: 1024 * 1024, PerDayCap: 1024 * 1024, RemainingToday: 1024 * 1024}),
		model.LogAllowance{},
		m,
	)
	d := New(
		testIdentity,
		testStart,
		testStart.AddDate(0, 0, days),
		testSamplingConfig(),
		dispatcherConfig,
		recorder,
		storage,
		persister,
		m,
		fakeClock,
	)
	return &testDispatcher{Dispatcher: d, recorder: recorder, storage: storage, clock: fakeClock, metrics: m}
}

// runToCompletion drains whatever is queued and returns once Run has finished.
func (td *testDispatcher) runToCompletion(t *testing.T) {
	td.RequestStop()
	require.NoError(t, td.Run(runctx.Background()))
	require.Equal(t, StateFinished, td.State())
}

func (td *testDispatcher) storedResult(t *testing.T) *model.ResultPacket {
	payload, err := td.storage.Load(runctx.Background(), testIdentity.ResultKey())
	require.NoError(t, err)
	var packet model.ResultPacket
	require.NoError(t, json.Unmarshal(payload, &packet))
	return &packet
}

func TestDispatcher_ConsecutiveDuplicateDebugMessagesAreSuppressed(t *testing.T) {
	td := newTestDispatcher(10, testDispatcherConfig())
	for _, msg := range []string{"x", "x", "y", "x"} {
		td.DebugMessage(msg)
	}
	td.runToCompletion(t)

	assert.Equal(t, []string{"x", "y", "x"}, td.recorder.DebugMessages())
	assert.Equal(t, 3.0, td.metrics.NotificationsSent(metrics.NotificationKindDebug))
	for _, packet := range td.recorder.Results() {
		assert.False(t, packet.Final)
	}
}

func TestDispatcher_QueueIsCappedUnderFlood(t *testing.T) {
	td := newTestDispatcher(10, testDispatcherConfig())
	for i := 0; i < 600; i++ {
		td.DebugMessage(fmt.Sprintf("message %d", i))
	}
	assert.Equal(t, 501, td.queue.Len())
	assert.Equal(t, 99.0, td.metrics.MessagesDropped(metrics.NotificationKindDebug))
	// Dropped messages never reach the run log either.
	assert.Equal(t, 501, td.logs.Len())

	_, ok := td.queue.Dequeue()
	require.True(t, ok)
	td.DebugMessage("accepted")
	td.ErrorMessage("rejected", "")
	assert.Equal(t, 501, td.queue.Len())
	assert.Equal(t, 1.0, td.metrics.MessagesDropped(metrics.NotificationKindHandledError))
}

func TestDispatcher_RuntimeErrorDiscardsQueuedMessages(t *testing.T) {
	td := newTestDispatcher(10, testDispatcherConfig())
	td.DebugMessage("one")
	td.DebugMessage("two")
	td.SecurityType([]model.SecurityType{model.SecurityTypeEquity})
	td.RuntimeError("boom", "at main()")
	require.Equal(t, 1, td.queue.Len())

	td.runToCompletion(t)

	assert.Empty(t, td.recorder.DebugMessages())
	assert.Empty(t, td.recorder.SecurityTypes())
	require.Len(t, td.recorder.RuntimeErrors(), 1)
	assert.Equal(t, "boom", td.recorder.RuntimeErrors()[0].Message)
	assert.Equal(t, "at main()", td.recorder.RuntimeErrors()[0].StackTrace)
}

func TestDispatcher_NotificationsAreSentInOrder(t *testing.T) {
	td := newTestDispatcher(10, testDispatcherConfig())
	td.SecurityType([]model.SecurityType{model.SecurityTypeEquity, model.SecurityTypeForex})
	td.ErrorMessage("handled", "stack")
	td.DebugMessage("after")
	td.runToCompletion(t)

	require.Len(t, td.recorder.SecurityTypes(), 1)
	assert.Equal(t, []model.SecurityType{model.SecurityTypeEquity, model.SecurityTypeForex}, td.recorder.SecurityTypes()[0].Types)
	require.Len(t, td.recorder.HandledErrors(), 1)
	assert.Equal(t, "handled", td.recorder.HandledErrors()[0].Message)
	assert.Equal(t, []string{"after"}, td.recorder.DebugMessages())
	assert.Equal(t, testIdentity.ProjectId, td.recorder.HandledErrors()[0].Identity.ProjectId)
}

func TestDispatcher_LiveProgressNeverReachesOne(t *testing.T) {
	td := newTestDispatcher(10, testDispatcherConfig())
	td.SampleEquity(testStart, decimal.NewFromInt(100000))
	td.publishDeltas(runctx.Background(), 1000)

	results := td.recorder.Results()
	require.Len(t, results, 1)
	assert.Equal(t, sampling.DefaultProgressCeiling, results[0].Packet.Progress)
	assert.False(t, results[0].Final)
}

func TestDispatcher_UpdatesAreThrottled(t *testing.T) {
	td := newTestDispatcher(10, testDispatcherConfig())
	ctx := runctx.Background()
	td.SampleEquity(testStart, decimal.NewFromInt(1))

	td.SetDaysProcessed(5)
	td.update(ctx)
	assert.Empty(t, td.recorder.Results(), "notification period has not elapsed")

	td.clock.Step(3 * time.Second)
	td.update(ctx)
	require.Len(t, td.recorder.Results(), 1)

	td.clock.Step(3 * time.Second)
	td.update(ctx)
	assert.Len(t, td.recorder.Results(), 1, "no further days have been processed")

	td.SetDaysProcessed(7)
	td.update(ctx)
	assert.Len(t, td.recorder.Results(), 2)
}

func TestDispatcher_OversizedPacketsAreSplitPerChart(t *testing.T) {
	config := testDispatcherConfig()
	config.MaxLivePacketBytes = 4096
	td := newTestDispatcher(10, config)

	for i := 0; i < 40; i++ {
		ts := testStart.Add(time.Duration(i) * time.Hour)
		td.SampleEquity(ts, decimal.NewFromInt(int64(i)))
		td.SampleBenchmark(ts, decimal.NewFromInt(int64(i)))
	}
	for i := 0; i < 1000; i++ {
		td.Sample("Huge", model.ChartTypeOverlay, "Noise", model.SeriesTypeScatter, testStart.Add(time.Duration(i)*time.Minute), decimal.NewFromFloat(123456.789))
	}
	td.publishDeltas(runctx.Background(), 3)

	results := td.recorder.Results()
	require.Len(t, results, 2)
	var names []string
	ids := map[string]bool{}
	for _, r := range results {
		require.Len(t, r.Packet.Results.Charts, 1)
		for name := range r.Packet.Results.Charts {
			names = append(names, name)
		}
		ids[r.Packet.PacketId] = true
	}
	assert.Equal(t, []string{BenchmarkChart, StrategyEquityChart}, names)
	assert.Len(t, ids, 2)
}

func TestDispatcher_ChartlessPacketSentWhenNothingFits(t *testing.T) {
	config := testDispatcherConfig()
	config.MaxLivePacketBytes = 512
	td := newTestDispatcher(10, config)
	for i := 0; i < 100; i++ {
		td.SampleEquity(testStart.Add(time.Duration(i)*time.Hour), decimal.NewFromInt(int64(i)))
	}
	td.RuntimeStatistic("Equity", "$100")
	td.publishDeltas(runctx.Background(), 3)

	results := td.recorder.Results()
	require.Len(t, results, 1)
	assert.Empty(t, results[0].Packet.Results.Charts)
	assert.Equal(t, map[string]string{"Equity": "$100"}, results[0].Packet.Results.RuntimeStatistics)
}

func TestDispatcher_SnapshotIsStored(t *testing.T) {
	td := newTestDispatcher(10, testDispatcherConfig())
	td.SampleEquity(testStart, decimal.NewFromInt(10))
	td.clock.Step(time.Minute)
	td.update(runctx.Background())
	td.snapshotWg.Wait()

	packet := td.storedResult(t)
	assert.Equal(t, 1, packet.Results.PointCount())
	assert.Less(t, packet.Progress, 1.0)
	assert.Nil(t, packet.CompletedAt)
	permissions, ok := td.storage.Permissions(testIdentity.ResultKey())
	require.True(t, ok)
	assert.Equal(t, model.PermissionsPrivate, permissions)
}

func TestDispatcher_SendFinalResultRequiresFinishedDispatcher(t *testing.T) {
	td := newTestDispatcher(10, testDispatcherConfig())
	err := td.SendFinalResult(runctx.Background(), nil, nil, nil)
	var notFinished *resultserrors.ErrNotFinished
	require.True(t, errors.As(err, &notFinished))
	assert.Equal(t, "running", notFinished.State)
}

func TestDispatcher_SendFinalResultOnlyOnce(t *testing.T) {
	td := newTestDispatcher(10, testDispatcherConfig())
	td.runToCompletion(t)

	require.NoError(t, td.SendFinalResult(runctx.Background(), nil, nil, nil))
	err := td.SendFinalResult(runctx.Background(), nil, nil, nil)
	var finalised *resultserrors.ErrAlreadyFinalised
	require.True(t, errors.As(err, &finalised))
	assert.Equal(t, testIdentity.RunId, finalised.RunId)

	finals := 0
	for _, r := range td.recorder.Results() {
		if r.Final {
			finals++
		}
	}
	assert.Equal(t, 1, finals)
}

func TestDispatcher_SamplesWithUnknownTypesDoNotBlockFinalResult(t *testing.T) {
	td := newTestDispatcher(10, testDispatcherConfig())
	td.SampleEquity(testStart, decimal.NewFromInt(100000))
	td.Sample("Custom", model.ChartType(42), "Value", model.SeriesTypeLine, testStart, decimal.NewFromInt(1))
	td.Sample("Custom", model.ChartTypeOverlay, "Value", model.SeriesType(42), testStart, decimal.NewFromInt(1))
	td.runToCompletion(t)

	require.NoError(t, td.SendFinalResult(runctx.Background(), nil, nil, nil))
	packet := td.storedResult(t)
	assert.Contains(t, packet.Results.Charts, StrategyEquityChart)
	assert.NotContains(t, packet.Results.Charts, "Custom")
}

func TestDispatcher_RunCannotBeStartedTwice(t *testing.T) {
	td := newTestDispatcher(10, testDispatcherConfig())
	td.runToCompletion(t)
	assert.Error(t, td.Run(runctx.Background()))
}

func TestDispatcher_StopsWhenContextCancelled(t *testing.T) {
	td := newTestDispatcher(10, testDispatcherConfig())
	ctx, cancel := runctx.WithCancel(runctx.Background())
	go func() {
		_ = td.Run(ctx)
	}()
	require.Eventually(t, td.IsActive, time.Second, time.Millisecond)
	cancel()
	select {
	case <-td.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("dispatcher did not stop")
	}
	assert.False(t, td.IsActive())
	assert.Equal(t, StateFinished, td.State())
}

// contextCheckingNotifier fails every send made with a cancelled context, as a network client would.
type contextCheckingNotifier struct {
	*notify.Recorder
}

func (n contextCheckingNotifier) SendDebug(ctx *runctx.Context, packet model.DebugPacket) error {
	if err := ctx.Err(); err != nil {
		return errors.WithStack(err)
	}
	return n.Recorder.SendDebug(ctx, packet)
}

func TestDispatcher_QueuedMessagesAreDeliveredAfterContextCancelled(t *testing.T) {
	recorder := notify.NewRecorder()
	m := metrics.NewTestMetrics()
	storage := store.NewMemoryStore()
	d := New(
		testIdentity,
		testStart,
		testStart.AddDate(0, 0, 10),
		testSamplingConfig(),
		testDispatcherConfig(),
		contextCheckingNotifier{recorder},
		storage,
		logs.NewPersister(storage, allowance.NewStatic(model.LogAllowance{PerRunCap: 100, PerDayCap: 100, RemainingToday: 100}), model.LogAllowance{}, m),
		m,
		clock.NewFakeClock(testStart),
	)
	for i := 0; i < 5; i++ {
		d.DebugMessage(fmt.Sprintf("message %d", i))
	}
	ctx, cancel := runctx.WithCancel(runctx.Background())
	cancel()

	require.NoError(t, d.Run(ctx))
	assert.Equal(t, StateFinished, d.State())
	assert.Len(t, recorder.DebugMessages(), 5)
	assert.Equal(t, 0.0, m.NotificationErrors(metrics.NotificationKindDebug))
}

func TestDispatcher_EmptyFirstDebugMessageIsDelivered(t *testing.T) {
	td := newTestDispatcher(10, testDispatcherConfig())
	td.DebugMessage("")
	td.DebugMessage("")
	td.DebugMessage("x")
	td.runToCompletion(t)

	assert.Equal(t, []string{"", "x"}, td.recorder.DebugMessages())
	assert.Equal(t, 1.0, td.metrics.DebugSuppressed())
}

type failingStorage struct{}

func (failingStorage) Store(*runctx.Context, []byte, string, model.Permissions, bool) error {
	return errors.New("disk on fire")
}

func TestDispatcher_FinalResultAttemptsEveryStep(t *testing.T) {
	recorder := notify.NewRecorder()
	m := metrics.NewTestMetrics()
	storage := failingStorage{}
	d := New(
		testIdentity,
		testStart,
		testStart.AddDate(0, 0, 10),
		testSamplingConfig(),
		testDispatcherConfig(),
		recorder,
		storage,
		logs.NewPersister(storage, allowance.NewStatic(model.LogAllowance{PerRunCap: 100, PerDayCap: 100, RemainingToday: 100}), model.LogAllowance{}, m),
		m,
		clock.NewFakeClock(testStart),
	)
	d.RequestStop()
	require.NoError(t, d.Run(runctx.Background()))

	err := d.SendFinalResult(runctx.Background(), nil, nil, nil)
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "disk on fire"))
	results := recorder.Results()
	require.Len(t, results, 1)
	assert.True(t, results[0].Final)
}

func TestDispatcher_EndToEnd(t *testing.T) {
	const days = 10
	td := newTestDispatcher(days, testDispatcherConfig())
	ctx := runctx.Background()

	go func() {
		_ = td.Run(ctx)
	}()
	require.Eventually(t, td.IsActive, time.Second, time.Millisecond)

	td.DebugMessage("Launching analysis")
	for hour := 0; hour < days*24; hour++ {
		ts := testStart.Add(time.Duration(hour) * time.Hour)
		td.SampleEquity(ts, decimal.NewFromInt(100000+int64(hour)))
		td.SetDaysProcessed(hour / 24)
		td.LogMessage(fmt.Sprintf("hour %d", hour))
		td.clock.Step(3 * time.Second)
		if hour%24 == 0 {
			time.Sleep(5 * time.Millisecond)
		}
	}
	require.NoError(t, td.Stop(runctx.Background()))
	require.False(t, td.IsActive())

	orders := map[int]model.Order{1: {Id: 1, Symbol: "SPY", Quantity: decimal.NewFromInt(10), Price: decimal.NewFromInt(300)}}
	statistics := map[string]string{"Total Trades": "1"}
	require.NoError(t, td.SendFinalResult(ctx, orders, nil, statistics))

	stored := td.storedResult(t)
	assert.Equal(t, 1.0, stored.Progress)
	require.NotNil(t, stored.CompletedAt)
	assert.Equal(t, days*24, len(stored.Results.Charts[StrategyEquityChart].Series[EquitySeries].Points))
	assert.Equal(t, statistics, stored.Results.Statistics)
	assert.Len(t, stored.Results.Orders, 1)

	results := td.recorder.Results()
	require.NotEmpty(t, results)
	final := results[len(results)-1]
	assert.True(t, final.Final)
	assert.Equal(t, 1.0, final.Packet.Progress)
	assert.Empty(t, final.Packet.Results.Charts)

	seen := map[int64]bool{}
	for _, r := range results[:len(results)-1] {
		assert.False(t, r.Final)
		assert.LessOrEqual(t, r.Packet.Progress, sampling.DefaultProgressCeiling)
		chart, ok := r.Packet.Results.Charts[StrategyEquityChart]
		if !ok {
			continue
		}
		for _, point := range chart.Series[EquitySeries].Points {
			key := point.Time.Unix()
			assert.False(t, seen[key], "point at %s delivered twice", point.Time)
			seen[key] = true
		}
	}

	assert.Equal(t, []string{"Launching analysis"}, td.recorder.DebugMessages())
	runLog, err := td.storage.Load(ctx, testIdentity.LogKey())
	require.NoError(t, err)
	assert.Contains(t, string(runLog), "Launching analysis")
	assert.Contains(t, string(runLog), "hour 239")
}
