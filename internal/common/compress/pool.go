package compress

import (
	"context"
	"math"
	"time"

	pool "github.com/jolestar/go-commons-pool"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

func newPoolConfig(maxTotal int) *pool.ObjectPoolConfig {
	return &pool.ObjectPoolConfig{
		MaxTotal:                 maxTotal,
		MaxIdle:                  maxTotal,
		MinIdle:                  0,
		BlockWhenExhausted:       true,
		MinEvictableIdleTime:     30 * time.Minute,
		SoftMinEvictableIdleTime: math.MaxInt64,
		TimeBetweenEvictionRuns:  0,
		NumTestsPerEvictionRun:   10,
	}
}

// ThreadSafeZlibCompressor shares a pool of ZlibCompressors between goroutines, so buffers are reused
// without callers having to coordinate.
type ThreadSafeZlibCompressor struct {
	pool *pool.ObjectPool
}

func NewThreadSafeZlibCompressor(minCompressSize int, maxTotal int) *ThreadSafeZlibCompressor {
	factory := pool.NewPooledObjectFactorySimple(func(context.Context) (interface{}, error) {
		return NewZlibCompressor(minCompressSize)
	})
	return &ThreadSafeZlibCompressor{pool: pool.NewObjectPool(context.Background(), factory, newPoolConfig(maxTotal))}
}

func (c *ThreadSafeZlibCompressor) Compress(b []byte) ([]byte, error) {
	ctx := context.Background()
	object, err := c.pool.BorrowObject(ctx)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	defer returnToPool(ctx, c.pool, object)
	return object.(*ZlibCompressor).Compress(b)
}

// ThreadSafeZlibDecompressor is the Decompressor counterpart of ThreadSafeZlibCompressor.
type ThreadSafeZlibDecompressor struct {
	pool *pool.ObjectPool
}

func NewThreadSafeZlibDecompressor(maxTotal int) *ThreadSafeZlibDecompressor {
	factory := pool.NewPooledObjectFactorySimple(func(context.Context) (interface{}, error) {
		return NewZlibDecompressor(), nil
	})
	return &ThreadSafeZlibDecompressor{pool: pool.NewObjectPool(context.Background(), factory, newPoolConfig(maxTotal))}
}

func (d *ThreadSafeZlibDecompressor) Decompress(b []byte) ([]byte, error) {
	ctx := context.Background()
	object, err := d.pool.BorrowObject(ctx)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	defer returnToPool(ctx, d.pool, object)
	return object.(*ZlibDecompressor).Decompress(b)
}

func returnToPool(ctx context.Context, p *pool.ObjectPool, object interface{}) {
	if err := p.ReturnObject(ctx, object); err != nil {
		log.WithError(err).Errorf("Error returning object to pool")
	}
}
