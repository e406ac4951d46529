package transport

import "fmt"

// Outcome is a delivery outcome reported by the broker for a posted transfer.
//
// The set is closed: Accepted, Rejected, Released, Modified, and (on
// transaction-control links only) Declared. A binding must never report any
// other value, and the coordinator treats Declared on a data link as an
// internal invariant violation.
type Outcome interface {
	isOutcome()

	// Kind returns the wire name of the outcome variant.
	Kind() string
}

// Accepted indicates the broker took ownership of the transfer.
type Accepted struct{}

func (Accepted) isOutcome() {}

// Kind returns "accepted".
func (Accepted) Kind() string { return "accepted" }

// Rejected indicates the broker declined the transfer, optionally with a
// structured error describing why.
type Rejected struct {
	Error *Error
}

func (Rejected) isOutcome() {}

// Kind returns "rejected".
func (Rejected) Kind() string { return "rejected" }

// Released indicates the broker did not process the transfer and returned it
// unconsumed.
type Released struct{}

func (Released) isOutcome() {}

// Kind returns "released".
func (Released) Kind() string { return "released" }

// Modified indicates the broker did not process the transfer and annotated it
// for redelivery.
//
// Modified doubles as the disposition instruction the coordinator submits for
// abandon and defer: nil flags mean "unset" on the wire, which is distinct
// from false and lets the broker apply its default redelivery policy.
type Modified struct {
	DeliveryFailed     *bool
	UndeliverableHere  *bool
	MessageAnnotations map[string]any
}

func (Modified) isOutcome() {}

// Kind returns "modified".
func (Modified) Kind() string { return "modified" }

// Declared is reserved for transaction-control links; it carries the
// broker-assigned transaction identifier. Seeing it on a data link is a
// protocol violation.
type Declared struct {
	TxnID []byte
}

func (Declared) isOutcome() {}

// Kind returns "declared".
func (Declared) Kind() string { return "declared" }

// Error is a structured broker error: a symbolic condition, an optional
// description, and an optional info map.
type Error struct {
	Condition   string
	Description string
	Info        map[string]any
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}

	if e.Description == "" {
		return e.Condition
	}

	return fmt.Sprintf("%s: %s", e.Condition, e.Description)
}
