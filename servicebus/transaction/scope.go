package transaction

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/LerianStudio/lib-servicebus/servicebus"
	"github.com/LerianStudio/lib-servicebus/servicebus/internal/nilcheck"
	"github.com/LerianStudio/lib-servicebus/servicebus/log"
	"github.com/LerianStudio/lib-servicebus/servicebus/transport"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// tracerName identifies this package's spans.
const tracerName = "servicebus.transaction"

// ErrScopeRequired is returned when a method is called on a nil scope.
var ErrScopeRequired = errors.New("servicebus: transaction scope is required")

// Scope is the externally visible lifecycle object for one broker
// transaction.
//
// A scope starts Open: send and disposition operations are permitted and
// each is independently submitted and awaited; calls are never merged into
// one wire operation unless the messages were given together to a batch
// call. Commit or Rollback consumes the scope; afterwards every operation
// fails with ErrScopeDone. Consumption is latched atomically, so commit and
// rollback are mutually exclusive and each effective at most once.
//
// The scope serializes nothing: concurrent operations against the same
// scope share a single mutable transaction context, and serializing them is
// the caller's responsibility.
type Scope struct {
	proc   *processor
	logger log.Logger
	tracer trace.Tracer
	done   atomic.Bool
}

// ScopeOption configures a Scope.
type ScopeOption func(*Scope)

// WithLogger sets a structured logger for the scope.
func WithLogger(logger log.Logger) ScopeOption {
	return func(s *Scope) {
		if nilcheck.Interface(logger) {
			return
		}

		s.logger = logger
	}
}

// WithEncoder overrides the message encoder used by the envelope builder.
func WithEncoder(enc Encoder) ScopeOption {
	return func(s *Scope) {
		if nilcheck.Interface(enc) {
			return
		}

		s.proc.enc = enc
	}
}

// WithEnvelopeBuilder overrides the envelope-building collaborator.
func WithEnvelopeBuilder(build EnvelopeBuilder) ScopeOption {
	return func(s *Scope) {
		if build == nil {
			return
		}

		s.proc.build = build
	}
}

// WithTracerProvider sets the tracer provider used for operation spans.
func WithTracerProvider(tp trace.TracerProvider) ScopeOption {
	return func(s *Scope) {
		if nilcheck.Interface(tp) {
			return
		}

		s.tracer = tp.Tracer(tracerName)
	}
}

// NewScope creates a transaction scope over an already-begun transaction
// context. The scope takes exclusive ownership of the context until it is
// consumed by Commit or Rollback.
func NewScope(txc transport.TxContext, opts ...ScopeOption) (*Scope, error) {
	if nilcheck.Interface(txc) {
		return nil, ErrTxContextRequired
	}

	scope := &Scope{
		proc: &processor{
			txc:   txc,
			enc:   JSONEncoder{},
			build: BuildEnvelope,
		},
		logger: log.NewNop(),
		tracer: otel.Tracer(tracerName),
	}

	for _, opt := range opts {
		if opt != nil {
			opt(scope)
		}
	}

	return scope, nil
}

// operation wraps one public call: nil guards, the Open-state check, a span,
// and failure logging. fn runs exactly once and is never retried.
func (s *Scope) operation(ctx context.Context, name string, attrs []attribute.KeyValue, fn func(ctx context.Context) error) error {
	if s == nil {
		return ErrScopeRequired
	}

	if ctx == nil {
		ctx = context.Background()
	}

	if s.done.Load() {
		return ErrScopeDone
	}

	ctx, span := s.tracer.Start(ctx, "servicebus.transaction."+name)
	defer span.End()

	span.SetAttributes(attrs...)

	if err := fn(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, name+" failed")

		s.logger.Log(ctx, log.LevelError, "transactional operation failed",
			log.String("operation", name), log.Err(err))

		return err
	}

	return nil
}

// SendMessage sends a single message within the transaction scope.
func (s *Scope) SendMessage(ctx context.Context, sender transport.Sender, msg *servicebus.Message) error {
	if msg == nil {
		return ErrMessageRequired
	}

	return s.SendMessages(ctx, sender, []*servicebus.Message{msg})
}

// SendMessages sends a set of messages within the transaction scope. The set
// travels as one wire operation; an empty set succeeds without submitting
// anything.
func (s *Scope) SendMessages(ctx context.Context, sender transport.Sender, messages []*servicebus.Message) error {
	if nilcheck.Interface(sender) {
		return ErrSenderRequired
	}

	attrs := []attribute.KeyValue{
		attribute.String("messaging.destination.name", sender.LinkName()),
		attribute.Int("messaging.batch.message_count", len(messages)),
	}

	return s.operation(ctx, "send", attrs, func(ctx context.Context) error {
		return s.proc.send(ctx, sender, messages)
	})
}

// SendMessageBatch sends a pre-assembled batch within the transaction scope,
// consuming the batch. An empty batch succeeds without submitting anything.
func (s *Scope) SendMessageBatch(ctx context.Context, sender transport.Sender, batch *servicebus.MessageBatch) error {
	if nilcheck.Interface(sender) {
		return ErrSenderRequired
	}

	if batch == nil {
		return ErrMessageRequired
	}

	attrs := []attribute.KeyValue{
		attribute.String("messaging.destination.name", sender.LinkName()),
		attribute.Int("messaging.batch.message_count", batch.Len()),
	}

	return s.operation(ctx, "send_batch", attrs, func(ctx context.Context) error {
		return s.proc.sendBatch(ctx, sender, batch)
	})
}

// CompleteMessage completes a received message within the transaction scope.
func (s *Scope) CompleteMessage(ctx context.Context, receiver transport.Receiver, msg *servicebus.ReceivedMessage) error {
	return s.disposition(ctx, "complete", receiver, msg, func(ctx context.Context) error {
		return s.proc.complete(ctx, receiver, msg)
	})
}

// AbandonMessage abandons a received message within the transaction scope,
// optionally merging property annotations onto it. The broker applies its
// default redelivery policy.
func (s *Scope) AbandonMessage(ctx context.Context, receiver transport.Receiver, msg *servicebus.ReceivedMessage, propertiesToModify map[string]any) error {
	return s.disposition(ctx, "abandon", receiver, msg, func(ctx context.Context) error {
		return s.proc.abandon(ctx, receiver, msg, propertiesToModify)
	})
}

// DeadLetterMessage moves a received message to the dead-letter sub-queue
// within the transaction scope.
func (s *Scope) DeadLetterMessage(ctx context.Context, receiver transport.Receiver, msg *servicebus.ReceivedMessage, opts servicebus.DeadLetterOptions) error {
	return s.disposition(ctx, "dead_letter", receiver, msg, func(ctx context.Context) error {
		return s.proc.deadLetter(ctx, receiver, msg, opts)
	})
}

// DeferMessage defers a received message within the transaction scope; the
// message will not be redelivered on this link and must be fetched by
// sequence number later.
func (s *Scope) DeferMessage(ctx context.Context, receiver transport.Receiver, msg *servicebus.ReceivedMessage, propertiesToModify map[string]any) error {
	return s.disposition(ctx, "defer", receiver, msg, func(ctx context.Context) error {
		return s.proc.deferMessage(ctx, receiver, msg, propertiesToModify)
	})
}

// disposition wraps the shared guards of the four disposition operations.
// The receiver's session identifier is recorded for diagnostics only; the
// transactional path never routes on it.
func (s *Scope) disposition(ctx context.Context, name string, receiver transport.Receiver, msg *servicebus.ReceivedMessage, fn func(ctx context.Context) error) error {
	if nilcheck.Interface(receiver) {
		return ErrReceiverRequired
	}

	if msg == nil {
		return ErrMessageRequired
	}

	attrs := []attribute.KeyValue{
		attribute.String("messaging.source.name", receiver.LinkName()),
	}

	if sessionID := receiver.SessionID(); sessionID != "" {
		attrs = append(attrs, attribute.String("messaging.session.id", sessionID))
	}

	return s.operation(ctx, name, attrs, fn)
}

// Commit consumes the scope and asks the broker to durably apply every
// operation enlisted under this transaction.
func (s *Scope) Commit(ctx context.Context) error {
	return s.discharge(ctx, "commit", func(ctx context.Context) error {
		return s.proc.txc.Commit(ctx)
	})
}

// Rollback consumes the scope and asks the broker to discard every operation
// enlisted under this transaction.
//
// Rollback is also the only way to resolve a transaction after a cancelled
// or failed operation left its state indeterminate.
func (s *Scope) Rollback(ctx context.Context) error {
	return s.discharge(ctx, "rollback", func(ctx context.Context) error {
		return s.proc.txc.Rollback(ctx)
	})
}

// discharge consumes the scope exactly once and finalizes the transaction.
func (s *Scope) discharge(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	if s == nil {
		return ErrScopeRequired
	}

	if ctx == nil {
		ctx = context.Background()
	}

	if !s.done.CompareAndSwap(false, true) {
		return ErrScopeDone
	}

	ctx, span := s.tracer.Start(ctx, "servicebus.transaction."+op)
	defer span.End()

	if err := fn(ctx); err != nil {
		controllerErr := &ControllerSendError{Op: op, Err: err}

		span.RecordError(controllerErr)
		span.SetStatus(codes.Error, op+" failed")

		s.logger.Log(ctx, log.LevelError, "transaction discharge failed",
			log.String("operation", op), log.Err(err))

		return controllerErr
	}

	s.logger.Log(ctx, log.LevelDebug, "transaction discharged", log.String("operation", op))

	return nil
}
