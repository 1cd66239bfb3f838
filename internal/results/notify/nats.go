package notify

import (
	"fmt"

	"github.com/pkg/errors"

	"github.com/vladiki/Lean/internal/common/runctx"
)

// natsPublisher is the subset of *nats.Conn used here.
type natsPublisher interface {
	Publish(subject string, data []byte) error
}

// NatsNotifier publishes envelopes on <prefix>.<runId>.<kind>, so subscribers can follow one run with a wildcard.
type NatsNotifier struct {
	envelopeNotifier
	conn          natsPublisher
	subjectPrefix string
}

func NewNatsNotifier(conn natsPublisher, subjectPrefix string) *NatsNotifier {
	n := &NatsNotifier{conn: conn, subjectPrefix: subjectPrefix}
	n.envelopeNotifier = envelopeNotifier{publisher: n}
	return n
}

func (n *NatsNotifier) publish(_ *runctx.Context, envelope *Envelope, data []byte) error {
	subject := fmt.Sprintf("%s.%s.%s", n.subjectPrefix, envelope.RunId, envelope.Kind)
	if err := n.conn.Publish(subject, data); err != nil {
		return errors.WithMessagef(err, "error publishing to nats subject %s", subject)
	}
	return nil
}
