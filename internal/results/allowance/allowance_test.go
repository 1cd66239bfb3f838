package allowance

import (
	"testing"
	"time"

	"github.com/alicebob/miniredis"
	"github.com/go-redis/redis"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	clock "k8s.io/utils/clock/testing"

	"github.com/vladiki/Lean/internal/common/runctx"
	"github.com/vladiki/Lean/internal/results/model"
)

var (
	defaults = model.LogAllowance{PerRunCap: 1024, PerDayCap: 4096}
	today    = time.Date(2022, 5, 10, 23, 0, 0, 0, time.UTC)
)

func TestStatic(t *testing.T) {
	ctx := runctx.Background()
	s := NewStatic(model.LogAllowance{PerRunCap: 1024, PerDayCap: 4096, RemainingToday: 4096})

	require.NoError(t, s.RecordLogUsage(ctx, model.LogUsage{UserId: 1, BytesUsed: 1000}))
	allowance, err := s.ReadLogAllowance(ctx, 1, "")
	require.NoError(t, err)
	assert.Equal(t, int64(3096), allowance.RemainingToday)
	assert.Len(t, s.Usages(), 1)
}

func TestRedisSource_DefaultsAndOverrides(t *testing.T) {
	withRedisSource(func(s *RedisSource, _ *clock.FakeClock) {
		ctx := runctx.Background()

		allowance, err := s.ReadLogAllowance(ctx, 1, "token")
		require.NoError(t, err)
		assert.Equal(t, model.LogAllowance{PerRunCap: 1024, PerDayCap: 4096, RemainingToday: 4096}, allowance)

		require.NoError(t, s.SetLimits(2, 10, 20))
		allowance, err = s.ReadLogAllowance(ctx, 2, "token")
		require.NoError(t, err)
		assert.Equal(t, model.LogAllowance{PerRunCap: 10, PerDayCap: 20, RemainingToday: 20}, allowance)
	})
}

func TestRedisSource_UsageReducesRemainingUntilNextDay(t *testing.T) {
	withRedisSource(func(s *RedisSource, fakeClock *clock.FakeClock) {
		ctx := runctx.Background()

		for i := 0; i < 3; i++ {
			require.NoError(t, s.RecordLogUsage(ctx, model.LogUsage{UserId: 1, RunId: "r", BytesUsed: 1000}))
		}
		allowance, err := s.ReadLogAllowance(ctx, 1, "")
		require.NoError(t, err)
		assert.Equal(t, int64(1096), allowance.RemainingToday)

		// Other users are unaffected.
		allowance, err = s.ReadLogAllowance(ctx, 2, "")
		require.NoError(t, err)
		assert.Equal(t, int64(4096), allowance.RemainingToday)

		fakeClock.Step(2 * time.Hour)
		allowance, err = s.ReadLogAllowance(ctx, 1, "")
		require.NoError(t, err)
		assert.Equal(t, int64(4096), allowance.RemainingToday)
	})
}

func TestRedisSource_HistoryIsCapped(t *testing.T) {
	withRedisSource(func(s *RedisSource, _ *clock.FakeClock) {
		ctx := runctx.Background()
		for i := 0; i < 7; i++ {
			require.NoError(t, s.RecordLogUsage(ctx, model.LogUsage{UserId: 1, BytesUsed: int64(i), Url: "u"}))
		}
		history, err := s.History(1)
		require.NoError(t, err)
		require.Len(t, history, 5)
		assert.Equal(t, int64(2), history[0].BytesUsed)
		assert.Equal(t, int64(6), history[4].BytesUsed)
	})
}

func TestRedisSource_MalformedLimits(t *testing.T) {
	withRedisSource(func(s *RedisSource, _ *clock.FakeClock) {
		require.NoError(t, s.db.HSet(limitsKey(3), perRunCapField, "lots").Err())
		_, err := s.ReadLogAllowance(runctx.Background(), 3, "")
		assert.Error(t, err)
	})
}

type countingSource struct {
	reads   int
	records int
	err     error
}

func (c *countingSource) ReadLogAllowance(_ *runctx.Context, _ int, _ string) (model.LogAllowance, error) {
	c.reads++
	return defaults, c.err
}

func (c *countingSource) RecordLogUsage(_ *runctx.Context, _ model.LogUsage) error {
	c.records++
	return nil
}

func TestCached(t *testing.T) {
	ctx := runctx.Background()
	inner := &countingSource{}
	cached := NewCached(inner, time.Minute)

	for i := 0; i < 3; i++ {
		allowance, err := cached.ReadLogAllowance(ctx, 1, "")
		require.NoError(t, err)
		assert.Equal(t, defaults, allowance)
	}
	assert.Equal(t, 1, inner.reads)

	_, err := cached.ReadLogAllowance(ctx, 2, "")
	require.NoError(t, err)
	assert.Equal(t, 2, inner.reads)

	require.NoError(t, cached.RecordLogUsage(ctx, model.LogUsage{UserId: 1}))
	assert.Equal(t, 1, inner.records)
	_, err = cached.ReadLogAllowance(ctx, 1, "")
	require.NoError(t, err)
	assert.Equal(t, 3, inner.reads)
}

func TestCached_DoesNotCacheErrors(t *testing.T) {
	ctx := runctx.Background()
	inner := &countingSource{err: errors.New("unavailable")}
	cached := NewCached(inner, time.Minute)

	_, err := cached.ReadLogAllowance(ctx, 1, "")
	assert.Error(t, err)
	_, err = cached.ReadLogAllowance(ctx, 1, "")
	assert.Error(t, err)
	assert.Equal(t, 2, inner.reads)
}

func withRedisSource(action func(s *RedisSource, fakeClock *clock.FakeClock)) {
	db, err := miniredis.Run()
	if err != nil {
		panic(err)
	}
	defer db.Close()

	client := redis.NewClient(&redis.Options{Addr: db.Addr()})
	defer client.Close()
	fakeClock := clock.NewFakeClock(today)
	action(NewRedisSource(client, defaults, fakeClock, 5), fakeClock)
}
