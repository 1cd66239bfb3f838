package notify

import (
	"github.com/vladiki/Lean/internal/common/runctx"
	"github.com/vladiki/Lean/internal/results/model"
)

// LogNotifier writes every packet to the context logger. Useful when running without a live channel.
type LogNotifier struct{}

func NewLogNotifier() *LogNotifier {
	return &LogNotifier{}
}

func (n *LogNotifier) SendDebug(ctx *runctx.Context, packet model.DebugPacket) error {
	ctx.Log.Infof("[debug] %s", packet.Message)
	return nil
}

func (n *LogNotifier) SendSecurityTypes(ctx *runctx.Context, packet model.SecurityTypesPacket) error {
	ctx.Log.Infof("[security types] %v", packet.Types)
	return nil
}

func (n *LogNotifier) SendRuntimeError(ctx *runctx.Context, packet model.RuntimeErrorPacket) error {
	ctx.Log.WithField("stacktrace", packet.StackTrace).Errorf("[runtime error] %s", packet.Message)
	return nil
}

func (n *LogNotifier) SendHandledError(ctx *runctx.Context, packet model.HandledErrorPacket) error {
	ctx.Log.WithField("stacktrace", packet.StackTrace).Warnf("[error] %s", packet.Message)
	return nil
}

func (n *LogNotifier) SendResult(ctx *runctx.Context, packet *model.ResultPacket, final bool) error {
	ctx.Log.
		WithField("packetId", packet.PacketId).
		WithField("progress", packet.Progress).
		WithField("charts", len(packet.Results.Charts)).
		WithField("points", packet.Results.PointCount()).
		WithField("final", final).
		Info("[result]")
	return nil
}
