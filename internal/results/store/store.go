// Package store contains the durable Storage backends for results and logs.
package store

import (
	"github.com/vladiki/Lean/internal/common/logging"
	"github.com/vladiki/Lean/internal/common/runctx"
)

// storeMaybeAsync runs write on the calling goroutine, or in the background if async is set.
// Background writes are detached from ctx cancellation and only log their failures.
func storeMaybeAsync(ctx *runctx.Context, key string, async bool, write func(ctx *runctx.Context) error) error {
	if !async {
		return write(ctx)
	}
	detached := runctx.WithLogField(runctx.WithoutCancel(ctx), "key", key)
	go func() {
		if err := write(detached); err != nil {
			logging.WithStacktrace(detached.Log, err).Error("Background store failed")
		}
	}()
	return nil
}
