package transaction

import (
	"context"
	"fmt"

	"github.com/LerianStudio/lib-servicebus/servicebus"
	"github.com/LerianStudio/lib-servicebus/servicebus/pointers"
	"github.com/LerianStudio/lib-servicebus/servicebus/transport"
)

// deadLetterCondition is the symbolic error condition the broker maps to its
// dead-letter sub-queue.
const deadLetterCondition = "com.microsoft:dead-letter"

// Info keys carried on a dead-letter rejection.
const (
	deadLetterReasonKey      = "DeadLetterReason"
	deadLetterDescriptionKey = "DeadLetterErrorDescription"
)

// processor maps application operations onto the transactional primitives of
// one TxContext. It holds no state beyond its collaborators and performs no
// retries: a failed operation leaves the transaction ambiguous, and only the
// caller may decide to abort.
type processor struct {
	txc   transport.TxContext
	enc   Encoder
	build EnvelopeBuilder
}

// send converts the messages into an envelope and submits it. An empty set
// succeeds trivially with no submission.
func (p *processor) send(ctx context.Context, sender transport.Sender, messages []*servicebus.Message) error {
	envelope, err := p.build(p.enc, messages, false)
	if err != nil {
		return err
	}

	return p.sendEnvelope(ctx, sender, envelope)
}

// sendBatch consumes the batch and submits its messages as one atomic unit.
func (p *processor) sendBatch(ctx context.Context, sender transport.Sender, batch *servicebus.MessageBatch) error {
	envelope, err := p.build(p.enc, batch.Consume(), false)
	if err != nil {
		return err
	}

	return p.sendEnvelope(ctx, sender, envelope)
}

// sendEnvelope posts a single or batch envelope under the transaction and
// reduces the broker outcome. A batch post is two-phase: the initial post
// returns a waiter that completes with the outcome for the whole batch.
func (p *processor) sendEnvelope(ctx context.Context, sender transport.Sender, envelope *transport.Envelope) error {
	if envelope == nil {
		return nil
	}

	var (
		outcome transport.Outcome
		err     error
	)

	switch envelope.Kind {
	case transport.EnvelopeBatch:
		var wait transport.OutcomeWaiter

		wait, err = p.txc.PostBatchable(ctx, sender, envelope.Sendable)
		if err != nil {
			return fmt.Errorf("post batch: %w", err)
		}

		outcome, err = wait(ctx)
		if err != nil {
			return fmt.Errorf("await batch outcome: %w", err)
		}
	default:
		outcome, err = p.txc.Post(ctx, sender, envelope.Sendable)
		if err != nil {
			return fmt.Errorf("post: %w", err)
		}
	}

	return interpretOutcome(outcome)
}

// deliveryInfoFor locates the delivery coordinates of a received message.
// Lock-token identified messages cannot be dispositioned transactionally.
func deliveryInfoFor(msg *servicebus.ReceivedMessage) (transport.DeliveryInfo, error) {
	if info, ok := msg.DeliveryInfo(); ok {
		return info, nil
	}

	return transport.DeliveryInfo{}, ErrLockTokenDisposition
}

// complete enlists a final positive disposition for the message.
func (p *processor) complete(ctx context.Context, receiver transport.Receiver, msg *servicebus.ReceivedMessage) error {
	info, err := deliveryInfoFor(msg)
	if err != nil {
		return &DispositionError{Disposition: "complete", Err: err}
	}

	if err := p.txc.Accept(ctx, receiver, info); err != nil {
		return &DispositionError{Disposition: "complete", Err: err}
	}

	return nil
}

// abandon enlists a modified disposition with both redelivery flags unset,
// leaving the broker to apply its default redelivery policy.
func (p *processor) abandon(ctx context.Context, receiver transport.Receiver, msg *servicebus.ReceivedMessage, propertiesToModify map[string]any) error {
	info, err := deliveryInfoFor(msg)
	if err != nil {
		return &DispositionError{Disposition: "abandon", Err: err}
	}

	modified := transport.Modified{MessageAnnotations: propertiesToModify}

	if err := p.txc.Modify(ctx, receiver, info, modified); err != nil {
		return &DispositionError{Disposition: "abandon", Err: err}
	}

	return nil
}

// deadLetter enlists a rejection carrying the structured dead-letter error.
func (p *processor) deadLetter(ctx context.Context, receiver transport.Receiver, msg *servicebus.ReceivedMessage, opts servicebus.DeadLetterOptions) error {
	info, err := deliveryInfoFor(msg)
	if err != nil {
		return &DispositionError{Disposition: "dead_letter", Err: err}
	}

	if err := p.txc.Reject(ctx, receiver, info, deadLetterError(opts)); err != nil {
		return &DispositionError{Disposition: "dead_letter", Err: err}
	}

	return nil
}

// deferMessage enlists a modified disposition with undeliverable-here set, so
// this link never sees the message again on redelivery.
func (p *processor) deferMessage(ctx context.Context, receiver transport.Receiver, msg *servicebus.ReceivedMessage, propertiesToModify map[string]any) error {
	info, err := deliveryInfoFor(msg)
	if err != nil {
		return &DispositionError{Disposition: "defer", Err: err}
	}

	modified := transport.Modified{
		UndeliverableHere:  pointers.Bool(true),
		MessageAnnotations: propertiesToModify,
	}

	if err := p.txc.Modify(ctx, receiver, info, modified); err != nil {
		return &DispositionError{Disposition: "defer", Err: err}
	}

	return nil
}

// deadLetterError builds the structured rejection error from the options.
// Absent fields stay absent: empty options produce an error with no
// description and no info map.
func deadLetterError(opts servicebus.DeadLetterOptions) *transport.Error {
	rejectError := &transport.Error{
		Condition:   deadLetterCondition,
		Description: pointers.ValueOrZero(opts.ErrorDescription),
	}

	info := make(map[string]any, len(opts.PropertiesToModify)+2)

	if opts.Reason != nil {
		info[deadLetterReasonKey] = *opts.Reason
	}

	if opts.ErrorDescription != nil {
		info[deadLetterDescriptionKey] = *opts.ErrorDescription
	}

	for key, value := range opts.PropertiesToModify {
		info[key] = value
	}

	if len(info) > 0 {
		rejectError.Info = info
	}

	return rejectError
}
