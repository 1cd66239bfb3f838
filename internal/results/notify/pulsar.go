package notify

import (
	"context"
	"strconv"

	"github.com/apache/pulsar-client-go/pulsar"
	"github.com/pkg/errors"

	"github.com/vladiki/Lean/internal/common/runctx"
)

// pulsarProducer is the subset of pulsar.Producer used here.
type pulsarProducer interface {
	Send(ctx context.Context, msg *pulsar.ProducerMessage) (pulsar.MessageID, error)
}

// PulsarNotifier publishes envelopes to a pulsar topic, keyed by run so that one run's packets stay ordered.
type PulsarNotifier struct {
	envelopeNotifier
	producer pulsarProducer
}

func NewPulsarNotifier(producer pulsarProducer) *PulsarNotifier {
	n := &PulsarNotifier{producer: producer}
	n.envelopeNotifier = envelopeNotifier{publisher: n}
	return n
}

func (n *PulsarNotifier) publish(ctx *runctx.Context, envelope *Envelope, data []byte) error {
	_, err := n.producer.Send(ctx, &pulsar.ProducerMessage{
		Payload: data,
		Key:     envelope.RunId,
		Properties: map[string]string{
			"kind":  string(envelope.Kind),
			"final": strconv.FormatBool(envelope.Final),
		},
	})
	if err != nil {
		return errors.WithMessagef(err, "error publishing %s packet for run %s to pulsar", envelope.Kind, envelope.RunId)
	}
	return nil
}
