package interfaces

import (
	"github.com/vladiki/Lean/internal/common/runctx"
	"github.com/vladiki/Lean/internal/results/model"
)

// Notifier delivers packets over the live, size-constrained channel.
// Delivery is best-effort; callers log and drop returned errors.
type Notifier interface {
	SendDebug(ctx *runctx.Context, packet model.DebugPacket) error
	SendSecurityTypes(ctx *runctx.Context, packet model.SecurityTypesPacket) error
	SendRuntimeError(ctx *runctx.Context, packet model.RuntimeErrorPacket) error
	SendHandledError(ctx *runctx.Context, packet model.HandledErrorPacket) error
	// SendResult publishes a result packet. final is true for the last packet of a run.
	SendResult(ctx *runctx.Context, packet *model.ResultPacket, final bool) error
}

// Storage persists payloads durably under a path-like key.
type Storage interface {
	// Store writes payload under key. If async is true the write happens in the background and
	// the returned error only covers scheduling it. Writers that must order their writes or report
	// their failures pass false; the dispatcher does so for snapshots, final results and logs, and runs
	// snapshots on its own goroutine so that the final result can wait for them.
	Store(ctx *runctx.Context, payload []byte, key string, permissions model.Permissions, async bool) error
}

// Loader reads back what a Storage wrote.
type Loader interface {
	Load(ctx *runctx.Context, key string) ([]byte, error)
}

// AllowanceSource is the external authority on how many log bytes a user may persist.
type AllowanceSource interface {
	ReadLogAllowance(ctx *runctx.Context, userId int, userToken string) (model.LogAllowance, error)
	RecordLogUsage(ctx *runctx.Context, usage model.LogUsage) error
}
