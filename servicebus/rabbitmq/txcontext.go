package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/LerianStudio/lib-servicebus/servicebus/internal/nilcheck"
	"github.com/LerianStudio/lib-servicebus/servicebus/log"
	"github.com/LerianStudio/lib-servicebus/servicebus/transport"
	amqp "github.com/rabbitmq/amqp091-go"
)

var (
	// ErrChannelRequired is returned when a transactional context is begun
	// without a channel.
	ErrChannelRequired = errors.New("rabbitmq channel is required")

	// ErrTxModeUnavailable is returned when the channel refuses tx.select.
	ErrTxModeUnavailable = errors.New("channel does not support transaction mode")

	// ErrTxDischarged is returned for any operation on a context that was
	// already committed or rolled back.
	ErrTxDischarged = errors.New("rabbitmq transaction was already committed or rolled back")
)

// TxChannel defines the AMQP channel operations required for transactional
// contexts.
type TxChannel interface {
	Tx() error
	TxCommit() error
	TxRollback() error
	PublishWithContext(
		ctx context.Context,
		exchange, key string,
		mandatory, immediate bool,
		msg amqp.Publishing,
	) error
	Ack(tag uint64, multiple bool) error
	Nack(tag uint64, multiple, requeue bool) error
	Reject(tag uint64, requeue bool) error
	Close() error
}

// Sender is a sender handle bound to an exchange and routing key.
type Sender struct {
	Exchange   string
	RoutingKey string
}

// LinkName implements transport.Sender.
func (s *Sender) LinkName() string {
	if s.Exchange == "" {
		return s.RoutingKey
	}

	return s.Exchange + "/" + s.RoutingKey
}

// Receiver is a receiver handle bound to a queue, optionally session-bound.
type Receiver struct {
	Queue   string
	Session string
}

// LinkName implements transport.Receiver.
func (r *Receiver) LinkName() string { return r.Queue }

// SessionID implements transport.Receiver.
func (r *Receiver) SessionID() string { return r.Session }

// TxContext drives one channel-level transaction. It implements
// transport.TxContext and is invalid after Commit or Rollback.
type TxContext struct {
	ch          TxChannel
	logger      log.Logger
	contentType string
	discharged  atomic.Bool
}

// Compile-time assertion: *TxContext implements transport.TxContext.
var _ transport.TxContext = (*TxContext)(nil)

// TxContextOption configures a TxContext.
type TxContextOption func(*TxContext)

// WithTxLogger sets a structured logger for the transactional context.
func WithTxLogger(logger log.Logger) TxContextOption {
	return func(txc *TxContext) {
		if nilcheck.Interface(logger) {
			return
		}

		txc.logger = logger
	}
}

// WithContentType sets the content type stamped on published payloads.
func WithContentType(contentType string) TxContextOption {
	return func(txc *TxContext) {
		if contentType != "" {
			txc.contentType = contentType
		}
	}
}

// Begin places the channel in transaction mode and returns the bound
// transactional context. The channel must be dedicated to this context:
// transaction mode is channel-level state, and the context owns the channel
// until discharge.
func Begin(_ context.Context, ch TxChannel, opts ...TxContextOption) (*TxContext, error) {
	if nilcheck.Interface(ch) {
		return nil, ErrChannelRequired
	}

	if err := ch.Tx(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTxModeUnavailable, err)
	}

	txc := &TxContext{
		ch:          ch,
		logger:      log.NewNop(),
		contentType: "application/json",
	}

	for _, opt := range opts {
		if opt != nil {
			opt(txc)
		}
	}

	return txc, nil
}

// Post publishes a single transfer under the transaction.
//
// Transaction-mode channels carry no per-transfer disposition frame, so a
// publish the channel takes is reported as Accepted; broker-side failures
// surface when the transaction commits.
func (txc *TxContext) Post(ctx context.Context, sender transport.Sender, sendable transport.Sendable) (transport.Outcome, error) {
	if err := txc.publish(ctx, sender, sendable); err != nil {
		return nil, err
	}

	return transport.Accepted{}, nil
}

// PostBatchable publishes a batch transfer under the transaction. The
// payloads are posted up front; the returned waiter reports the outcome of
// the posted batch.
func (txc *TxContext) PostBatchable(ctx context.Context, sender transport.Sender, sendable transport.Sendable) (transport.OutcomeWaiter, error) {
	if err := txc.publish(ctx, sender, sendable); err != nil {
		return nil, err
	}

	return func(ctx context.Context) (transport.Outcome, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		return transport.Accepted{}, nil
	}, nil
}

func (txc *TxContext) publish(ctx context.Context, sender transport.Sender, sendable transport.Sendable) error {
	if txc == nil || txc.ch == nil {
		return ErrChannelRequired
	}

	if txc.discharged.Load() {
		return ErrTxDischarged
	}

	amqpSender, err := senderFor(sender)
	if err != nil {
		return err
	}

	for _, payload := range sendable.Payloads {
		publishing := amqp.Publishing{
			ContentType:  txc.contentType,
			DeliveryMode: amqp.Persistent,
			Body:         payload,
		}

		err := txc.ch.PublishWithContext(ctx, amqpSender.Exchange, amqpSender.RoutingKey, false, false, publishing)
		if err != nil {
			return &transport.LinkStateError{LinkName: amqpSender.LinkName(), Err: err}
		}
	}

	return nil
}

// Accept enlists a positive acknowledgement for the delivery.
func (txc *TxContext) Accept(ctx context.Context, receiver transport.Receiver, info transport.DeliveryInfo) error {
	return txc.disposition(ctx, receiver, func() error {
		return txc.ch.Ack(info.DeliveryTag, false)
	})
}

// Reject enlists a terminal negative acknowledgement; the queue's
// dead-letter exchange routes the message to the dead-letter sub-queue.
//
// The structured error cannot travel on a basic.reject frame, so it is
// logged for diagnostics instead.
func (txc *TxContext) Reject(ctx context.Context, receiver transport.Receiver, info transport.DeliveryInfo, rejectError *transport.Error) error {
	return txc.disposition(ctx, receiver, func() error {
		if rejectError != nil && txc.logger.Enabled(log.LevelDebug) {
			txc.logger.Log(ctx, log.LevelDebug, "dead-lettering delivery",
				log.String("condition", rejectError.Condition),
				log.String("description", rejectError.Description),
				log.Any("info", rejectError.Info))
		}

		return txc.ch.Reject(info.DeliveryTag, false)
	})
}

// Modify enlists a negative acknowledgement shaped by the modified
// disposition: the message is requeued here unless undeliverable-here is
// set. Annotations cannot travel on a basic.nack frame and are logged.
func (txc *TxContext) Modify(ctx context.Context, receiver transport.Receiver, info transport.DeliveryInfo, modified transport.Modified) error {
	return txc.disposition(ctx, receiver, func() error {
		requeue := modified.UndeliverableHere == nil || !*modified.UndeliverableHere

		if len(modified.MessageAnnotations) > 0 && txc.logger.Enabled(log.LevelDebug) {
			txc.logger.Log(ctx, log.LevelDebug, "modified disposition annotations dropped by 0.9.1 transport",
				log.Any("annotations", modified.MessageAnnotations))
		}

		return txc.ch.Nack(info.DeliveryTag, false, requeue)
	})
}

func (txc *TxContext) disposition(_ context.Context, receiver transport.Receiver, fn func() error) error {
	if txc == nil || txc.ch == nil {
		return ErrChannelRequired
	}

	if txc.discharged.Load() {
		return ErrTxDischarged
	}

	if err := fn(); err != nil {
		linkName := ""
		if !nilcheck.Interface(receiver) {
			linkName = receiver.LinkName()
		}

		return &transport.LinkStateError{LinkName: linkName, Err: err}
	}

	return nil
}

// Commit asks the broker to apply every operation enlisted on the channel.
// The context is invalid afterwards.
func (txc *TxContext) Commit(ctx context.Context) error {
	if txc == nil || txc.ch == nil {
		return ErrChannelRequired
	}

	return txc.discharge(ctx, "commit", txc.ch.TxCommit)
}

// Rollback asks the broker to discard every operation enlisted on the
// channel. The context is invalid afterwards.
func (txc *TxContext) Rollback(ctx context.Context) error {
	if txc == nil || txc.ch == nil {
		return ErrChannelRequired
	}

	return txc.discharge(ctx, "rollback", txc.ch.TxRollback)
}

func (txc *TxContext) discharge(ctx context.Context, op string, fn func() error) error {
	if !txc.discharged.CompareAndSwap(false, true) {
		return ErrTxDischarged
	}

	if err := fn(); err != nil {
		txc.logger.Log(ctx, log.LevelError, "rabbitmq transaction discharge failed",
			log.String("operation", op), log.Err(err))

		return fmt.Errorf("rabbitmq tx %s: %w", op, err)
	}

	return nil
}

func senderFor(sender transport.Sender) (*Sender, error) {
	if nilcheck.Interface(sender) {
		return nil, errors.New("rabbitmq sender is required")
	}

	amqpSender, ok := sender.(*Sender)
	if !ok {
		return nil, fmt.Errorf("rabbitmq tx context requires a *rabbitmq.Sender, got %T", sender)
	}

	return amqpSender, nil
}
