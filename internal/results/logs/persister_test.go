package logs

import (
	"strings"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladiki/Lean/internal/common/runctx"
	"github.com/vladiki/Lean/internal/results/allowance"
	"github.com/vladiki/Lean/internal/results/metrics"
	"github.com/vladiki/Lean/internal/results/model"
	"github.com/vladiki/Lean/internal/results/store"
)

var identity = model.RunIdentity{UserId: 1, ProjectId: 2, RunId: "run-1", UserToken: "token"}

type failingAllowance struct {
	recordErr error
}

func (f *failingAllowance) ReadLogAllowance(_ *runctx.Context, _ int, _ string) (model.LogAllowance, error) {
	return model.LogAllowance{}, errors.New("allowance service unavailable")
}

func (f *failingAllowance) RecordLogUsage(_ *runctx.Context, _ model.LogUsage) error {
	return f.recordErr
}

type failingStorage struct{}

func (failingStorage) Store(_ *runctx.Context, _ []byte, _ string, _ model.Permissions, _ bool) error {
	return errors.New("disk full")
}

func TestPersister_StoresWithinQuotaAndRecordsUsage(t *testing.T) {
	ctx := runctx.Background()
	storage := store.NewMemoryStore()
	source := allowance.NewStatic(model.LogAllowance{PerRunCap: 1024, PerDayCap: 4096, RemainingToday: 4096})
	persister := NewPersister(storage, source, model.LogAllowance{}, metrics.NewTestMetrics())

	acc := NewAccumulator()
	appendLines(acc, 20)

	url, truncated, err := persister.Persist(ctx, acc, identity)
	require.NoError(t, err)
	assert.True(t, truncated)
	assert.Equal(t, "1/2/run-1-log.txt", url)

	stored, err := storage.Load(ctx, url)
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(string(stored), TruncationNotice(1024, 4096)))

	usages := source.Usages()
	require.Len(t, usages, 1)
	assert.Equal(t, model.LogUsage{
		UserId:    1,
		RunId:     "run-1",
		Url:       url,
		BytesUsed: 1000,
		UserToken: "token",
		Truncated: true,
	}, usages[0])
}

func TestPersister_RemainingDailyAllowanceBinds(t *testing.T) {
	ctx := runctx.Background()
	storage := store.NewMemoryStore()
	source := allowance.NewStatic(model.LogAllowance{PerRunCap: 1024, PerDayCap: 4096, RemainingToday: 300})
	persister := NewPersister(storage, source, model.LogAllowance{}, metrics.NewTestMetrics())

	acc := NewAccumulator()
	appendLines(acc, 20)

	_, truncated, err := persister.Persist(ctx, acc, identity)
	require.NoError(t, err)
	assert.True(t, truncated)
	require.Len(t, source.Usages(), 1)
	assert.Equal(t, int64(300), source.Usages()[0].BytesUsed)
}

func TestPersister_FallsBackWhenAllowanceUnavailable(t *testing.T) {
	ctx := runctx.Background()
	storage := store.NewMemoryStore()
	fallback := model.LogAllowance{PerRunCap: 1 << 20, PerDayCap: 1 << 20, RemainingToday: 1 << 20}
	persister := NewPersister(storage, &failingAllowance{recordErr: errors.New("boom")}, fallback, metrics.NewTestMetrics())

	acc := NewAccumulator()
	appendLines(acc, 20)

	url, truncated, err := persister.Persist(ctx, acc, identity)
	require.NoError(t, err)
	assert.False(t, truncated)
	stored, err := storage.Load(ctx, url)
	require.NoError(t, err)
	assert.Len(t, stored, 2000)
}

func TestPersister_StorageFailure(t *testing.T) {
	source := allowance.NewStatic(model.LogAllowance{PerRunCap: 1024, PerDayCap: 4096, RemainingToday: 4096})
	persister := NewPersister(failingStorage{}, source, model.LogAllowance{}, metrics.NewTestMetrics())

	acc := NewAccumulator()
	acc.Append(baseTime, "line")

	_, _, err := persister.Persist(runctx.Background(), acc, identity)
	assert.Error(t, err)
	assert.Empty(t, source.Usages())
}
