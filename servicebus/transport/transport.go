package transport

import (
	"context"
	"fmt"
)

// DeliveryInfo is the transport-native coordinates of a message delivery:
// the delivery ordinal on a specific link. Coordinates are only meaningful
// on the link the message was received on.
type DeliveryInfo struct {
	DeliveryTag uint64
	LinkName    string
}

// Sender is a borrowed handle to an established sender link. It is held
// exclusively for the duration of a single call and released on return.
type Sender interface {
	LinkName() string
}

// Receiver is a borrowed handle to an established receiver link.
//
// SessionID returns the session identifier when the receiver is
// session-bound, or the empty string otherwise. The transactional path
// accepts it for validation and diagnostics only; delivery coordinates are
// already scoped to the link.
type Receiver interface {
	LinkName() string
	SessionID() string
}

// EnvelopeKind tags an envelope as a single sendable unit or a pre-assembled
// batch sendable as one unit.
type EnvelopeKind int

const (
	// EnvelopeSingle marks an envelope holding one transfer.
	EnvelopeSingle EnvelopeKind = iota

	// EnvelopeBatch marks an envelope holding one pre-assembled batch
	// transfer, posted in two phases.
	EnvelopeBatch
)

// String returns the envelope kind name.
func (k EnvelopeKind) String() string {
	switch k {
	case EnvelopeSingle:
		return "single"
	case EnvelopeBatch:
		return "batch"
	default:
		return fmt.Sprintf("unknown(%d)", int(k))
	}
}

// MessageFormatBatch is the transfer message-format code marking a payload
// as a pre-encoded message batch.
const MessageFormatBatch uint32 = 0x80013700

// Sendable is a transport-ready transfer: one or more pre-encoded payload
// sections and the message-format code they were encoded under. The
// coordinator never builds or inspects payloads; it only decides how to
// submit them.
type Sendable struct {
	Payloads [][]byte
	Format   uint32
}

// Envelope wraps a Sendable with the single-vs-batch decision made by the
// envelope builder. The submitter branches on Kind without knowing how the
// envelope was constructed.
type Envelope struct {
	Kind     EnvelopeKind
	Sendable Sendable
}

// OutcomeWaiter is the second phase of a batchable post: it blocks until the
// broker reports the delivery outcome for the posted batch.
type OutcomeWaiter func(ctx context.Context) (Outcome, error)

// TxContext is a handle bound to a single in-flight broker transaction.
//
// It is exclusively owned by one transaction scope. Post, PostBatchable,
// Accept, Reject, and Modify enlist operations in the transaction; Commit
// and Rollback discharge it, after which the context is invalid. A binding
// must never retry an operation internally: once a transactional operation's
// outcome is ambiguous, only the caller can decide to abort.
type TxContext interface {
	// Post submits a single transfer under the transaction and returns the
	// broker's delivery outcome.
	Post(ctx context.Context, sender Sender, sendable Sendable) (Outcome, error)

	// PostBatchable submits a batch transfer under the transaction. The
	// returned waiter completes with the delivery outcome for the whole
	// batch.
	PostBatchable(ctx context.Context, sender Sender, sendable Sendable) (OutcomeWaiter, error)

	// Accept enlists a final positive disposition for the delivery.
	Accept(ctx context.Context, receiver Receiver, info DeliveryInfo) error

	// Reject enlists a terminal negative disposition carrying a structured
	// error; the broker routes the message to its dead-letter sub-queue.
	Reject(ctx context.Context, receiver Receiver, info DeliveryInfo, rejectError *Error) error

	// Modify enlists a modified disposition carrying redelivery annotations.
	Modify(ctx context.Context, receiver Receiver, info DeliveryInfo, modified Modified) error

	// Commit asks the broker to durably apply every operation enlisted under
	// this context. The context is invalid afterwards.
	Commit(ctx context.Context) error

	// Rollback asks the broker to discard every operation enlisted under
	// this context. The context is invalid afterwards.
	Rollback(ctx context.Context) error
}

// LinkStateError reports that a link is not in a state that permits the
// requested operation, for example because it detached mid-transaction.
type LinkStateError struct {
	LinkName string
	Err      error
}

// Error implements the error interface.
func (e *LinkStateError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("link %q is not in a usable state", e.LinkName)
	}

	return fmt.Sprintf("link %q is not in a usable state: %v", e.LinkName, e.Err)
}

// Unwrap returns the underlying cause.
func (e *LinkStateError) Unwrap() error { return e.Err }
