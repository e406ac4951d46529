package transaction

import (
	"encoding/json"
	"fmt"

	"github.com/LerianStudio/lib-servicebus/servicebus"
	"github.com/LerianStudio/lib-servicebus/servicebus/transport"
)

// Encoder converts an application message into a transport payload section.
// Wire encoding belongs to the binding; the coordinator only threads the
// encoder into the envelope builder.
type Encoder interface {
	Encode(msg *servicebus.Message) ([]byte, error)
}

// JSONEncoder is the default encoder; it marshals the whole message as JSON.
type JSONEncoder struct{}

// Encode implements Encoder.
func (JSONEncoder) Encode(msg *servicebus.Message) ([]byte, error) {
	payload, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("encode message %q: %w", msg.MessageID, err)
	}

	return payload, nil
}

// EnvelopeBuilder converts zero or more messages into a transport envelope.
// A nil envelope with a nil error means the input was empty and there is
// nothing to send.
type EnvelopeBuilder func(enc Encoder, messages []*servicebus.Message, forceBatch bool) (*transport.Envelope, error)

// BuildEnvelope is the default envelope builder.
//
// Zero messages produce no envelope. A single message without forceBatch
// produces a single-sendable envelope. Anything else produces one
// batch-sendable envelope carrying every encoded payload under the batch
// message format, so the whole set travels as one atomic wire operation.
func BuildEnvelope(enc Encoder, messages []*servicebus.Message, forceBatch bool) (*transport.Envelope, error) {
	if len(messages) == 0 {
		return nil, nil
	}

	payloads := make([][]byte, 0, len(messages))

	for _, msg := range messages {
		if msg == nil {
			return nil, ErrMessageRequired
		}

		payload, err := enc.Encode(msg)
		if err != nil {
			return nil, fmt.Errorf("build envelope: %w", err)
		}

		payloads = append(payloads, payload)
	}

	if len(payloads) == 1 && !forceBatch {
		return &transport.Envelope{
			Kind:     transport.EnvelopeSingle,
			Sendable: transport.Sendable{Payloads: payloads},
		}, nil
	}

	return &transport.Envelope{
		Kind: transport.EnvelopeBatch,
		Sendable: transport.Sendable{
			Payloads: payloads,
			Format:   transport.MessageFormatBatch,
		},
	}, nil
}
