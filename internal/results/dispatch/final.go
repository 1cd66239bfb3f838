package dispatch

import (
	"encoding/json"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/vladiki/Lean/internal/common/logging"
	"github.com/vladiki/Lean/internal/common/resultserrors"
	"github.com/vladiki/Lean/internal/common/runctx"
	"github.com/vladiki/Lean/internal/results/metrics"
	"github.com/vladiki/Lean/internal/results/model"
)

// Stop requests a stop and waits for Run to return or ctx to end.
func (d *Dispatcher) Stop(ctx *runctx.Context) error {
	d.RequestStop()
	select {
	case <-d.done:
		return nil
	case <-ctx.Done():
		return errors.WithStack(ctx.Err())
	}
}

// SendFinalResult assembles the complete result of the run and delivers it, in order, to durable storage, to
// the live channel without chart data, and then persists the run log. It may only be called once Run has
// finished, and only once. Every step is attempted; failures are combined in the returned error.
func (d *Dispatcher) SendFinalResult(
	ctx *runctx.Context,
	orders map[int]model.Order,
	profitLoss map[time.Time]decimal.Decimal,
	statistics map[string]string,
) error {
	if d.State() != StateFinished {
		return errors.WithStack(&resultserrors.ErrNotFinished{RunId: d.identity.RunId, State: d.State().String()})
	}
	if !atomic.CompareAndSwapInt32(&d.finalised, 0, 1) {
		return errors.WithStack(&resultserrors.ErrAlreadyFinalised{RunId: d.identity.RunId})
	}
	ctx = runctx.ForRun(ctx, d.identity.UserId, d.identity.ProjectId, d.identity.RunId)

	// A late periodic snapshot must not overwrite the final result.
	d.snapshotWg.Wait()

	packet := d.finalPacket(orders, profitLoss, statistics)
	var result *multierror.Error

	payload, err := json.Marshal(packet)
	if err != nil {
		err = errors.WithStack(err)
		logging.WithStacktrace(ctx.Log, err).Error("Unable to serialise final result")
		result = multierror.Append(result, err)
	} else if err := d.store(ctx, payload, metrics.StorageWriteFinal); err != nil {
		result = multierror.Append(result, err)
	}

	live := packet.WithCharts(map[string]*model.Chart{})
	live.PacketId = d.newPacketId()
	if err := d.notifier.SendResult(ctx, live, true); err != nil {
		d.recordSend(ctx, metrics.NotificationKindResult, err)
		result = multierror.Append(result, err)
	} else {
		d.recordSend(ctx, metrics.NotificationKindResult, nil)
	}

	url, truncated, err := d.logPersister.Persist(ctx, d.logs, d.identity)
	if err != nil {
		logging.WithStacktrace(ctx.Log, err).Warn("Failed to persist run log")
		result = multierror.Append(result, err)
	}

	ctx.Log.
		WithField("points", packet.Results.PointCount()).
		WithField("orders", len(orders)).
		WithField("log", url).
		WithField("logTruncated", truncated).
		Infof("Sent final result after %.1fs", packet.ProcessingTime)
	return result.ErrorOrNil()
}

func (d *Dispatcher) finalPacket(
	orders map[int]model.Order,
	profitLoss map[time.Time]decimal.Decimal,
	statistics map[string]string,
) *model.ResultPacket {
	packet := d.newPacket(d.charts.Snapshot(), 1.0)
	if orders != nil {
		packet.Results.Orders = orders
	}
	if profitLoss != nil {
		packet.Results.ProfitLoss = profitLoss
	}
	if statistics != nil {
		packet.Results.Statistics = statistics
	}
	completedAt := d.clock.Now()
	packet.CompletedAt = &completedAt
	return packet
}
