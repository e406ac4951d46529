package transaction

import (
	"errors"
	"fmt"

	"github.com/LerianStudio/lib-servicebus/servicebus/transport"
)

var (
	// ErrScopeDone is returned by every operation on a scope that was already
	// consumed by Commit or Rollback.
	ErrScopeDone = errors.New("servicebus: transaction scope has already been committed or rolled back")

	// ErrLockTokenDisposition is returned when a transactional disposition is
	// requested for a lock-token identified message. The token-based
	// disposition path is a request/response operation that cannot join a
	// transaction; this is a capability mismatch, not a transient fault.
	ErrLockTokenDisposition = errors.New("servicebus: transactional disposition is not supported for lock-token identified messages")

	// ErrTxContextRequired is returned when a scope is created without a
	// transaction context.
	ErrTxContextRequired = errors.New("servicebus: transaction context is required")

	// ErrSenderRequired is returned when a send operation is given a nil
	// sender handle.
	ErrSenderRequired = errors.New("servicebus: sender is required")

	// ErrReceiverRequired is returned when a disposition operation is given a
	// nil receiver handle.
	ErrReceiverRequired = errors.New("servicebus: receiver is required")

	// ErrMessageRequired is returned when an operation is given a nil message.
	ErrMessageRequired = errors.New("servicebus: message is required")
)

// NotAcceptedError reports that the broker settled a posted transfer with a
// non-Accepted outcome. The original outcome value is preserved for
// diagnostics.
type NotAcceptedError struct {
	Outcome transport.Outcome
}

// Error implements the error interface.
func (e *NotAcceptedError) Error() string {
	switch outcome := e.Outcome.(type) {
	case transport.Rejected:
		return fmt.Sprintf("servicebus: message was rejected by the broker: %v", outcome.Error)
	case transport.Released:
		return "servicebus: message was released by the broker"
	case transport.Modified:
		return "servicebus: message was modified by the broker"
	default:
		return fmt.Sprintf("servicebus: message was not accepted by the broker: %s", e.Outcome.Kind())
	}
}

// Unwrap exposes the broker error carried by a Rejected outcome so callers
// can inspect it with errors.As.
func (e *NotAcceptedError) Unwrap() error {
	if rejected, ok := e.Outcome.(transport.Rejected); ok && rejected.Error != nil {
		return rejected.Error
	}

	return nil
}

// InternalOutcomeError reports an outcome variant that must never appear on a
// data link. It indicates a protocol violation by the broker or the binding;
// the transaction state is undefined and the error is not retryable.
type InternalOutcomeError struct {
	Outcome transport.Outcome
}

// Error implements the error interface.
func (e *InternalOutcomeError) Error() string {
	if e.Outcome == nil {
		return "servicebus: protocol violation: missing delivery outcome"
	}

	return fmt.Sprintf("servicebus: protocol violation: unexpected %s outcome on a data link", e.Outcome.Kind())
}

// DispositionError reports that a disposition could not be enlisted in the
// transaction.
type DispositionError struct {
	Disposition string
	Err         error
}

// Error implements the error interface.
func (e *DispositionError) Error() string {
	return fmt.Sprintf("servicebus: %s disposition failed: %v", e.Disposition, e.Err)
}

// Unwrap returns the underlying cause.
func (e *DispositionError) Unwrap() error { return e.Err }

// ControllerSendError reports that a commit or rollback could not reach, or
// was not acknowledged by, the broker's transaction controller. The final
// state of the transaction is decided by the broker's timeout policy.
type ControllerSendError struct {
	Op  string
	Err error
}

// Error implements the error interface.
func (e *ControllerSendError) Error() string {
	return fmt.Sprintf("servicebus: transaction %s failed: %v", e.Op, e.Err)
}

// Unwrap returns the underlying cause.
func (e *ControllerSendError) Unwrap() error { return e.Err }
