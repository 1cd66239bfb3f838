package notify

import (
	"time"

	"github.com/go-redis/redis"
	"github.com/pkg/errors"

	"github.com/vladiki/Lean/internal/common/runctx"
)

const redisLivePrefix = "results-live:"

// RedisListNotifier appends envelopes to a capped, expiring redis list per run.
// Consumers poll the list; nothing is lost if no consumer is attached, up to maxLength entries.
type RedisListNotifier struct {
	envelopeNotifier
	db        redis.UniversalClient
	maxLength int64
	ttl       time.Duration
}

func NewRedisListNotifier(db redis.UniversalClient, maxLength int64, ttl time.Duration) *RedisListNotifier {
	n := &RedisListNotifier{db: db, maxLength: maxLength, ttl: ttl}
	n.envelopeNotifier = envelopeNotifier{publisher: n}
	return n
}

func (n *RedisListNotifier) publish(_ *runctx.Context, envelope *Envelope, data []byte) error {
	key := RedisLiveKey(envelope.RunId)
	pipe := n.db.TxPipeline()
	pipe.RPush(key, data)
	if n.maxLength > 0 {
		pipe.LTrim(key, -n.maxLength, -1)
	}
	if n.ttl > 0 {
		pipe.Expire(key, n.ttl)
	}
	if _, err := pipe.Exec(); err != nil {
		return errors.WithStack(err)
	}
	return nil
}

// RedisLiveKey is the list a run's envelopes are appended to.
func RedisLiveKey(runId string) string {
	return redisLivePrefix + runId
}
