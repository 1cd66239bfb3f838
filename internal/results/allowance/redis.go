package allowance

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis"
	"github.com/pkg/errors"
	"k8s.io/utils/clock"

	"github.com/vladiki/Lean/internal/common/runctx"
	"github.com/vladiki/Lean/internal/results/model"
)

const (
	limitsPrefix  = "log-allowance:"
	usagePrefix   = "log-usage:"
	historyPrefix = "log-usage-history:"

	perRunCapField = "perRunCap"
	perDayCapField = "perDayCap"

	// Daily counters outlive their day so that late reads around midnight still see them.
	usageCounterTtl = 48 * time.Hour
)

// RedisSource reads per-user caps from a redis hash and tracks daily usage with counters.
// Users without a hash get the defaults.
type RedisSource struct {
	db            redis.UniversalClient
	defaults      model.LogAllowance
	clock         clock.PassiveClock
	historyLength int64
}

func NewRedisSource(db redis.UniversalClient, defaults model.LogAllowance, clock clock.PassiveClock, historyLength int64) *RedisSource {
	return &RedisSource{db: db, defaults: defaults, clock: clock, historyLength: historyLength}
}

func (s *RedisSource) ReadLogAllowance(_ *runctx.Context, userId int, _ string) (model.LogAllowance, error) {
	pipe := s.db.Pipeline()
	limitsCmd := pipe.HGetAll(limitsKey(userId))
	usedCmd := pipe.Get(s.usageKey(userId))
	if _, err := pipe.Exec(); err != nil && err != redis.Nil {
		return model.LogAllowance{}, errors.WithStack(err)
	}

	allowance := model.LogAllowance{PerRunCap: s.defaults.PerRunCap, PerDayCap: s.defaults.PerDayCap}
	limits := limitsCmd.Val()
	if v, ok := limits[perRunCapField]; ok {
		parsed, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return model.LogAllowance{}, errors.Errorf("malformed %s for user %d: %q", perRunCapField, userId, v)
		}
		allowance.PerRunCap = parsed
	}
	if v, ok := limits[perDayCapField]; ok {
		parsed, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return model.LogAllowance{}, errors.Errorf("malformed %s for user %d: %q", perDayCapField, userId, v)
		}
		allowance.PerDayCap = parsed
	}

	used, err := usedCmd.Int64()
	if err != nil && err != redis.Nil {
		return model.LogAllowance{}, errors.WithStack(err)
	}
	allowance.RemainingToday = allowance.PerDayCap - used
	return allowance, nil
}

func (s *RedisSource) RecordLogUsage(_ *runctx.Context, usage model.LogUsage) error {
	record, err := json.Marshal(usage)
	if err != nil {
		return errors.WithStack(err)
	}
	usageKey := s.usageKey(usage.UserId)
	historyKey := historyPrefix + strconv.Itoa(usage.UserId)

	pipe := s.db.TxPipeline()
	pipe.IncrBy(usageKey, usage.BytesUsed)
	pipe.Expire(usageKey, usageCounterTtl)
	pipe.RPush(historyKey, record)
	if s.historyLength > 0 {
		pipe.LTrim(historyKey, -s.historyLength, -1)
	}
	if _, err := pipe.Exec(); err != nil {
		return errors.WithStack(err)
	}
	return nil
}

// SetLimits stores caps for a single user.
func (s *RedisSource) SetLimits(userId int, perRunCap, perDayCap int64) error {
	return errors.WithStack(s.db.HMSet(limitsKey(userId), map[string]interface{}{
		perRunCapField: perRunCap,
		perDayCapField: perDayCap,
	}).Err())
}

// History returns the most recent usage records of a user, oldest first.
func (s *RedisSource) History(userId int) ([]model.LogUsage, error) {
	values, err := s.db.LRange(historyPrefix+strconv.Itoa(userId), 0, -1).Result()
	if err != nil {
		return nil, errors.WithStack(err)
	}
	usages := make([]model.LogUsage, 0, len(values))
	for _, v := range values {
		var usage model.LogUsage
		if err := json.Unmarshal([]byte(v), &usage); err != nil {
			return nil, errors.WithStack(err)
		}
		usages = append(usages, usage)
	}
	return usages, nil
}

func (s *RedisSource) usageKey(userId int) string {
	return fmt.Sprintf("%s%d:%s", usagePrefix, userId, s.clock.Now().UTC().Format("2006-01-02"))
}

func limitsKey(userId int) string {
	return limitsPrefix + strconv.Itoa(userId)
}
