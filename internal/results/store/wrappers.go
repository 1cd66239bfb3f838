package store

import (
	"time"

	"github.com/avast/retry-go"
	"github.com/jackc/pgconn"
	"github.com/jackc/pgerrcode"
	"github.com/pkg/errors"

	"github.com/vladiki/Lean/internal/common/compress"
	"github.com/vladiki/Lean/internal/common/resultserrors"
	"github.com/vladiki/Lean/internal/common/runctx"
	"github.com/vladiki/Lean/internal/results/interfaces"
	"github.com/vladiki/Lean/internal/results/model"
)

// Backend is a Storage that can also read back what it wrote.
type Backend interface {
	interfaces.Storage
	interfaces.Loader
}

// RetryingStore retries failed writes of the wrapped store.
// Writes are always passed to the wrapped store synchronously; asynchrony is handled here so that retries
// happen in the background as well.
type RetryingStore struct {
	inner    Backend
	attempts uint
	delay    time.Duration
}

func NewRetryingStore(inner Backend, attempts uint, delay time.Duration) *RetryingStore {
	if attempts == 0 {
		attempts = 1
	}
	return &RetryingStore{inner: inner, attempts: attempts, delay: delay}
}

// Store retries failed writes until they succeed, the attempts run out or ctx is cancelled. A write made with an
// already cancelled ctx is attempted once.
func (s *RetryingStore) Store(ctx *runctx.Context, payload []byte, key string, permissions model.Permissions, async bool) error {
	return storeMaybeAsync(ctx, key, async, func(ctx *runctx.Context) error {
		store := func() error {
			return s.inner.Store(ctx, payload, key, permissions, false)
		}
		if ctx.Err() != nil {
			return store()
		}
		return retry.Do(
			store,
			retry.Context(ctx),
			retry.Attempts(s.attempts),
			retry.Delay(s.delay),
			retry.LastErrorOnly(true),
			retry.RetryIf(isRetryable),
			retry.OnRetry(func(n uint, err error) {
				ctx.Log.WithError(err).Warnf("Store of %s failed on attempt %d of %d", key, n+1, s.attempts)
			}),
		)
	})
}

func (s *RetryingStore) Load(ctx *runctx.Context, key string) ([]byte, error) {
	return s.inner.Load(ctx, key)
}

// isRetryable rejects errors that will fail the same way on every attempt.
func isRetryable(err error) bool {
	var invalid *resultserrors.ErrInvalidArgument
	if errors.As(err, &invalid) {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return !pgerrcode.IsIntegrityConstraintViolation(pgErr.Code) &&
			!pgerrcode.IsSyntaxErrororAccessRuleViolation(pgErr.Code) &&
			!pgerrcode.IsDataException(pgErr.Code)
	}
	return true
}

// Snapshots, final results and logs are the only concurrent writers.
const compressorPoolSize = 8

// CompressingStore zlib compresses payloads above a size threshold before handing them to the wrapped store,
// and transparently decompresses on load.
type CompressingStore struct {
	inner        Backend
	compressor   compress.Compressor
	decompressor compress.Decompressor
}

func NewCompressingStore(inner Backend, compressAboveBytes int) *CompressingStore {
	return &CompressingStore{
		inner:        inner,
		compressor:   compress.NewThreadSafeZlibCompressor(compressAboveBytes, compressorPoolSize),
		decompressor: compress.NewThreadSafeZlibDecompressor(compressorPoolSize),
	}
}

func (s *CompressingStore) Store(ctx *runctx.Context, payload []byte, key string, permissions model.Permissions, async bool) error {
	compressed, err := s.compressor.Compress(payload)
	if err != nil {
		return errors.WithMessagef(err, "error compressing %s", key)
	}
	return s.inner.Store(ctx, compressed, key, permissions, async)
}

func (s *CompressingStore) Load(ctx *runctx.Context, key string) ([]byte, error) {
	payload, err := s.inner.Load(ctx, key)
	if err != nil {
		return nil, err
	}
	return s.decompressor.Decompress(payload)
}
