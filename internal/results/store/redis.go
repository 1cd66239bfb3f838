package store

import (
	"time"

	"github.com/go-redis/redis"
	"github.com/pkg/errors"

	"github.com/vladiki/Lean/internal/common/resultserrors"
	"github.com/vladiki/Lean/internal/common/runctx"
	"github.com/vladiki/Lean/internal/results/model"
)

const (
	redisObjectPrefix      = "result:"
	redisPermissionsPrefix = "result-permissions:"
)

// RedisStore keeps objects as plain redis strings, optionally expiring them.
type RedisStore struct {
	db  redis.UniversalClient
	ttl time.Duration
}

// NewRedisStore creates a RedisStore. A ttl of zero keeps objects forever.
func NewRedisStore(db redis.UniversalClient, ttl time.Duration) *RedisStore {
	return &RedisStore{db: db, ttl: ttl}
}

func (s *RedisStore) Store(ctx *runctx.Context, payload []byte, key string, permissions model.Permissions, async bool) error {
	return storeMaybeAsync(ctx, key, async, func(_ *runctx.Context) error {
		pipe := s.db.TxPipeline()
		pipe.Set(redisObjectPrefix+key, payload, s.ttl)
		pipe.Set(redisPermissionsPrefix+key, string(permissions), s.ttl)
		if _, err := pipe.Exec(); err != nil {
			return errors.WithStack(err)
		}
		return nil
	})
}

func (s *RedisStore) Load(_ *runctx.Context, key string) ([]byte, error) {
	payload, err := s.db.Get(redisObjectPrefix + key).Bytes()
	if err == redis.Nil {
		return nil, &resultserrors.ErrNotFound{Type: "object", Value: key}
	} else if err != nil {
		return nil, errors.WithStack(err)
	}
	return payload, nil
}
