package logs

import (
	"github.com/pkg/errors"

	"github.com/vladiki/Lean/internal/common/logging"
	"github.com/vladiki/Lean/internal/common/runctx"
	"github.com/vladiki/Lean/internal/results/interfaces"
	"github.com/vladiki/Lean/internal/results/metrics"
	"github.com/vladiki/Lean/internal/results/model"
)

// Persister writes the log of a finished run to storage within the user's log allowance.
type Persister struct {
	storage   interfaces.Storage
	allowance interfaces.AllowanceSource
	// Used when the allowance source cannot be reached.
	fallback    model.LogAllowance
	permissions model.Permissions
	metrics     *metrics.Metrics
}

func NewPersister(
	storage interfaces.Storage,
	allowance interfaces.AllowanceSource,
	fallback model.LogAllowance,
	metrics *metrics.Metrics,
) *Persister {
	return &Persister{
		storage:     storage,
		allowance:   allowance,
		fallback:    fallback,
		permissions: model.PermissionsPrivate,
		metrics:     metrics,
	}
}

// Persist flushes acc and stores it under the run's log key. It returns the key written to and whether the log
// was truncated. Failing to record usage is logged but does not fail the call, since the log is already stored.
func (p *Persister) Persist(ctx *runctx.Context, acc *Accumulator, identity model.RunIdentity) (string, bool, error) {
	allowance, err := p.allowance.ReadLogAllowance(ctx, identity.UserId, identity.UserToken)
	if err != nil {
		logging.WithStacktrace(ctx.Log, err).Warnf("Unable to read log allowance; falling back to %+v", p.fallback)
		allowance = p.fallback
	}

	result := acc.FlushWithNotice(allowance.Quota(), TruncationNotice(allowance.PerRunCap, allowance.PerDayCap))
	key := identity.LogKey()
	if err := p.storage.Store(ctx, []byte(result.Text), key, p.permissions, false); err != nil {
		p.metrics.RecordStorageError(metrics.StorageWriteLog)
		return "", result.Truncated, errors.WithMessagef(err, "failed to store log for run %s", identity.RunId)
	}
	p.metrics.RecordStorageWrite(metrics.StorageWriteLog)
	p.metrics.RecordLogPersisted(result.BytesUsed, result.Truncated)

	usage := model.LogUsage{
		UserId:    identity.UserId,
		RunId:     identity.RunId,
		Url:       key,
		BytesUsed: result.BytesUsed,
		UserToken: identity.UserToken,
		Truncated: result.Truncated,
	}
	if err := p.allowance.RecordLogUsage(ctx, usage); err != nil {
		logging.WithStacktrace(ctx.Log, err).Warn("Unable to record log usage")
	}
	ctx.Log.WithField("bytes", result.BytesUsed).WithField("truncated", result.Truncated).Infof("Stored log at %s", key)
	return key, result.Truncated, nil
}
