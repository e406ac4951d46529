package servicebus

import (
	"github.com/LerianStudio/lib-servicebus/servicebus/transport"
	"github.com/google/uuid"
)

// ReceivedMessage is a message obtained from the broker.
//
// Exactly one identity variant is populated, fixed at receipt time:
//
//   - a lock token, when the message was obtained through the broker's
//     request/response receive path; dispositions for such messages go
//     through management-link operations and cannot join a transaction;
//   - delivery coordinates, when the message was obtained directly on a
//     receive link; dispositions for such messages can be performed
//     transactionally.
//
// Callers branch through LockToken and DeliveryInfo; there is no way to
// construct a ReceivedMessage with both or neither identity.
type ReceivedMessage struct {
	Message

	DeliveryCount  uint32 `json:"deliveryCount"`
	SequenceNumber int64  `json:"sequenceNumber"`

	identity receivedIdentity
}

// receivedIdentity is the closed identity variant set.
type receivedIdentity interface {
	isReceivedIdentity()
}

type lockTokenIdentity struct {
	token uuid.UUID
}

func (lockTokenIdentity) isReceivedIdentity() {}

type deliveryIdentity struct {
	info transport.DeliveryInfo
}

func (deliveryIdentity) isReceivedIdentity() {}

// NewReceivedMessageWithLockToken creates a received message identified by an
// opaque lock token.
func NewReceivedMessageWithLockToken(msg Message, token uuid.UUID) *ReceivedMessage {
	return &ReceivedMessage{
		Message:  msg,
		identity: lockTokenIdentity{token: token},
	}
}

// NewReceivedMessageWithDelivery creates a received message identified by
// transport-native delivery coordinates.
func NewReceivedMessageWithDelivery(msg Message, info transport.DeliveryInfo) *ReceivedMessage {
	return &ReceivedMessage{
		Message:  msg,
		identity: deliveryIdentity{info: info},
	}
}

// LockToken returns the lock token and true when the message is
// token-identified.
func (m *ReceivedMessage) LockToken() (uuid.UUID, bool) {
	if m == nil {
		return uuid.Nil, false
	}

	if id, ok := m.identity.(lockTokenIdentity); ok {
		return id.token, true
	}

	return uuid.Nil, false
}

// DeliveryInfo returns the delivery coordinates and true when the message is
// delivery-identified.
func (m *ReceivedMessage) DeliveryInfo() (transport.DeliveryInfo, bool) {
	if m == nil {
		return transport.DeliveryInfo{}, false
	}

	if id, ok := m.identity.(deliveryIdentity); ok {
		return id.info, true
	}

	return transport.DeliveryInfo{}, false
}

// DeadLetterOptions carries the optional metadata attached to a dead-letter
// disposition. All fields are independently optional and default to absent.
type DeadLetterOptions struct {
	// Reason is the dead-letter reason recorded on the message.
	Reason *string

	// ErrorDescription is the human-readable description recorded on the
	// message.
	ErrorDescription *string

	// PropertiesToModify are property annotations merged onto the message as
	// it moves to the dead-letter sub-queue.
	PropertiesToModify map[string]any
}
