package allowance

import (
	"strconv"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/vladiki/Lean/internal/common/runctx"
	"github.com/vladiki/Lean/internal/results/interfaces"
	"github.com/vladiki/Lean/internal/results/model"
)

// Cached fronts another AllowanceSource, remembering allowances for ttl.
// Recording usage invalidates the user's entry so the next read sees the new balance.
type Cached struct {
	inner interfaces.AllowanceSource
	cache *cache.Cache
}

func NewCached(inner interfaces.AllowanceSource, ttl time.Duration) *Cached {
	return &Cached{inner: inner, cache: cache.New(ttl, 2*ttl)}
}

func (c *Cached) ReadLogAllowance(ctx *runctx.Context, userId int, userToken string) (model.LogAllowance, error) {
	key := strconv.Itoa(userId)
	if cached, found := c.cache.Get(key); found {
		if allowance, ok := cached.(model.LogAllowance); ok {
			return allowance, nil
		}
	}
	allowance, err := c.inner.ReadLogAllowance(ctx, userId, userToken)
	if err != nil {
		return model.LogAllowance{}, err
	}
	c.cache.SetDefault(key, allowance)
	return allowance, nil
}

func (c *Cached) RecordLogUsage(ctx *runctx.Context, usage model.LogUsage) error {
	c.cache.Delete(strconv.Itoa(usage.UserId))
	return c.inner.RecordLogUsage(ctx, usage)
}
