package notify

import (
	"github.com/hashicorp/go-multierror"

	"github.com/vladiki/Lean/internal/common/runctx"
	"github.com/vladiki/Lean/internal/results/interfaces"
	"github.com/vladiki/Lean/internal/results/model"
)

// Fanout sends every packet to each of its notifiers in turn. A failing notifier does not stop the others;
// their errors are combined into a *multierror.Error.
type Fanout struct {
	notifiers []interfaces.Notifier
}

func NewFanout(notifiers ...interfaces.Notifier) *Fanout {
	return &Fanout{notifiers: notifiers}
}

func (f *Fanout) SendDebug(ctx *runctx.Context, packet model.DebugPacket) error {
	return f.each(func(n interfaces.Notifier) error { return n.SendDebug(ctx, packet) })
}

func (f *Fanout) SendSecurityTypes(ctx *runctx.Context, packet model.SecurityTypesPacket) error {
	return f.each(func(n interfaces.Notifier) error { return n.SendSecurityTypes(ctx, packet) })
}

func (f *Fanout) SendRuntimeError(ctx *runctx.Context, packet model.RuntimeErrorPacket) error {
	return f.each(func(n interfaces.Notifier) error { return n.SendRuntimeError(ctx, packet) })
}

func (f *Fanout) SendHandledError(ctx *runctx.Context, packet model.HandledErrorPacket) error {
	return f.each(func(n interfaces.Notifier) error { return n.SendHandledError(ctx, packet) })
}

func (f *Fanout) SendResult(ctx *runctx.Context, packet *model.ResultPacket, final bool) error {
	return f.each(func(n interfaces.Notifier) error { return n.SendResult(ctx, packet, final) })
}

func (f *Fanout) each(send func(n interfaces.Notifier) error) error {
	var result *multierror.Error
	for _, n := range f.notifiers {
		if err := send(n); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}
