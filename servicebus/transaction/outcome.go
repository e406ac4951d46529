package transaction

import "github.com/LerianStudio/lib-servicebus/servicebus/transport"

// interpretOutcome reduces a delivery outcome to a success or a typed
// failure. Only Accepted is success; Rejected, Released, and Modified carry
// their full payload into a NotAcceptedError. Declared is reserved for
// transaction-control links and becomes an InternalOutcomeError.
func interpretOutcome(outcome transport.Outcome) error {
	switch outcome.(type) {
	case transport.Accepted:
		return nil
	case transport.Rejected, transport.Released, transport.Modified:
		return &NotAcceptedError{Outcome: outcome}
	default:
		return &InternalOutcomeError{Outcome: outcome}
	}
}
