package dispatch

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vladiki/Lean/internal/common/logging"
	"github.com/vladiki/Lean/internal/results/messages"
	"github.com/vladiki/Lean/internal/results/metrics"
	"github.com/vladiki/Lean/internal/results/model"
)

const (
	StrategyEquityChart    = "Strategy Equity"
	EquitySeries           = "Equity"
	DailyPerformanceSeries = "Daily Performance"
	BenchmarkChart         = "Benchmark"
	BenchmarkSeries        = "Benchmark"
)

// Sample appends a point to a series, creating the chart and series on first use. Points with an unknown chart
// or series type are logged and dropped.
func (d *Dispatcher) Sample(chartName string, chartType model.ChartType, seriesName string, seriesType model.SeriesType, t time.Time, value decimal.Decimal) {
	if err := d.charts.Sample(chartName, chartType, seriesName, seriesType, t, value); err != nil {
		logging.WithStacktrace(d.log, err).Warn("Dropping chart sample")
	}
}

func (d *Dispatcher) SampleEquity(t time.Time, value decimal.Decimal) {
	d.Sample(StrategyEquityChart, model.ChartTypeStacked, EquitySeries, model.SeriesTypeCandle, t, value)
}

// SamplePerformance records the daily return, in percent.
func (d *Dispatcher) SamplePerformance(t time.Time, value decimal.Decimal) {
	d.Sample(StrategyEquityChart, model.ChartTypeStacked, DailyPerformanceSeries, model.SeriesTypeBar, t, value)
}

func (d *Dispatcher) SampleBenchmark(t time.Time, value decimal.Decimal) {
	d.Sample(BenchmarkChart, model.ChartTypeStacked, BenchmarkSeries, model.SeriesTypeLine, t, value)
}

// SampleRange merges chart fragments built elsewhere, e.g. by the algorithm's own plotting.
func (d *Dispatcher) SampleRange(updates []*model.Chart) {
	if err := d.charts.SampleRange(updates); err != nil {
		logging.WithStacktrace(d.log, err).Warn("Dropping chart fragments")
	}
}

// DebugMessage queues a message for the live channel and the run log. It does nothing while the queue is full.
func (d *Dispatcher) DebugMessage(message string) {
	if d.queueFull(metrics.NotificationKindDebug) {
		return
	}
	d.logs.Append(d.clock.Now(), message)
	d.queue.Enqueue(messages.Debug{Message: message, ProjectId: d.identity.ProjectId})
}

// LogMessage only writes to the run log.
func (d *Dispatcher) LogMessage(message string) {
	d.logs.Append(d.clock.Now(), message)
}

// ErrorMessage reports an error the algorithm recovered from. It does nothing while the queue is full.
func (d *Dispatcher) ErrorMessage(message, stackTrace string) {
	if d.queueFull(metrics.NotificationKindHandledError) {
		return
	}
	d.logs.Append(d.clock.Now(), "Error: "+message)
	d.queue.Enqueue(messages.HandledError{Message: message, StackTrace: stackTrace})
}

// RuntimeError reports a fatal error. Everything still queued is discarded so the error is sent next.
func (d *Dispatcher) RuntimeError(message, stackTrace string) {
	d.logs.Append(d.clock.Now(), "Runtime Error: "+message)
	if stackTrace != "" {
		d.logs.Append(d.clock.Now(), stackTrace)
	}
	d.queue.Clear()
	d.queue.Enqueue(messages.RuntimeError{Message: message, StackTrace: stackTrace})
}

// SecurityType announces the asset classes the run trades.
func (d *Dispatcher) SecurityType(types []model.SecurityType) {
	d.queue.Enqueue(messages.SecurityTypes{Types: append([]model.SecurityType(nil), types...)})
}

// RuntimeStatistic sets a value shown alongside the live results, e.g. "Equity" or "Return".
func (d *Dispatcher) RuntimeStatistic(key, value string) {
	d.runtimeStatisticsMu.Lock()
	defer d.runtimeStatisticsMu.Unlock()
	d.runtimeStatistics[key] = value
}

// SetDaysProcessed records how many simulated days have completed.
func (d *Dispatcher) SetDaysProcessed(days int) {
	atomic.StoreInt32(&d.daysProcessed, int32(days))
}

// ProcessSynchronousEvents is called by the simulation on every time step. It samples equity and benchmark
// once per resample period and keeps the day count current.
func (d *Dispatcher) ProcessSynchronousEvents(simTime time.Time, equity, benchmark decimal.Decimal) {
	d.samplerMu.Lock()
	due := d.sampler.Due(simTime)
	if due {
		d.sampler.Advance(simTime)
	}
	d.samplerMu.Unlock()

	if due {
		d.SampleEquity(simTime, equity)
		d.SampleBenchmark(simTime, benchmark)
	}
	if simTime.After(d.periodStart) {
		d.SetDaysProcessed(int(simTime.Sub(d.periodStart).Hours() / 24))
	}
}

// OrderEvent is not propagated by backtest results.
func (d *Dispatcher) OrderEvent(model.Order) {}

// StatusUpdate is not propagated by backtest results.
func (d *Dispatcher) StatusUpdate(string) {}

func (d *Dispatcher) queueFull(kind metrics.NotificationKind) bool {
	if d.queue.Len() > d.dispatcherConfig.MaxQueuedMessages {
		d.metrics.RecordMessageDropped(kind)
		return true
	}
	return false
}

func (d *Dispatcher) String() string {
	return fmt.Sprintf("Dispatcher{run: %s, state: %s}", d.identity.RunId, d.State())
}
