// Package notify contains Notifier implementations for the live result channel.
package notify

import (
	"encoding/json"

	"github.com/pkg/errors"

	"github.com/vladiki/Lean/internal/common/runctx"
	"github.com/vladiki/Lean/internal/results/metrics"
	"github.com/vladiki/Lean/internal/results/model"
)

// Envelope is the wire form shared by every message-based notifier.
type Envelope struct {
	Kind     metrics.NotificationKind `json:"kind"`
	RunId    string                   `json:"runId"`
	Final    bool                     `json:"final,omitempty"`
	PacketId string                   `json:"packetId,omitempty"`
	Payload  json.RawMessage          `json:"payload"`
}

func newEnvelope(kind metrics.NotificationKind, identity model.RunIdentity, payload interface{}) (*Envelope, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return &Envelope{Kind: kind, RunId: identity.RunId, Payload: b}, nil
}

func (e *Envelope) Marshal() ([]byte, error) {
	b, err := json.Marshal(e)
	return b, errors.WithStack(err)
}

// UnmarshalEnvelope decodes an envelope written by one of the notifiers in this package.
func UnmarshalEnvelope(b []byte) (*Envelope, error) {
	e := &Envelope{}
	if err := json.Unmarshal(b, e); err != nil {
		return nil, errors.WithStack(err)
	}
	return e, nil
}

// publisher delivers an encoded envelope over one transport.
type publisher interface {
	publish(ctx *runctx.Context, envelope *Envelope, data []byte) error
}

// envelopeNotifier implements Notifier on top of a publisher by wrapping every packet in an Envelope.
type envelopeNotifier struct {
	publisher publisher
}

func (n envelopeNotifier) SendDebug(ctx *runctx.Context, packet model.DebugPacket) error {
	return n.send(ctx, metrics.NotificationKindDebug, packet.Identity, packet, false, "")
}

func (n envelopeNotifier) SendSecurityTypes(ctx *runctx.Context, packet model.SecurityTypesPacket) error {
	return n.send(ctx, metrics.NotificationKindSecurityTypes, packet.Identity, packet, false, "")
}

func (n envelopeNotifier) SendRuntimeError(ctx *runctx.Context, packet model.RuntimeErrorPacket) error {
	return n.send(ctx, metrics.NotificationKindRuntimeError, packet.Identity, packet, false, "")
}

func (n envelopeNotifier) SendHandledError(ctx *runctx.Context, packet model.HandledErrorPacket) error {
	return n.send(ctx, metrics.NotificationKindHandledError, packet.Identity, packet, false, "")
}

func (n envelopeNotifier) SendResult(ctx *runctx.Context, packet *model.ResultPacket, final bool) error {
	return n.send(ctx, metrics.NotificationKindResult, packet.Identity, packet, final, packet.PacketId)
}

func (n envelopeNotifier) send(
	ctx *runctx.Context,
	kind metrics.NotificationKind,
	identity model.RunIdentity,
	payload interface{},
	final bool,
	packetId string,
) error {
	envelope, err := newEnvelope(kind, identity, payload)
	if err != nil {
		return err
	}
	envelope.Final = final
	envelope.PacketId = packetId
	data, err := envelope.Marshal()
	if err != nil {
		return err
	}
	return n.publisher.publish(ctx, envelope, data)
}
