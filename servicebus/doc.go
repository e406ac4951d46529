// Package servicebus defines the application-level message model shared by
// the transport seam, the transaction coordinator, and the broker bindings.
//
// A Message is an outgoing application message; a MessageBatch is a
// pre-assembled set of messages sent as one atomic wire operation; a
// ReceivedMessage carries exactly one of two identities, an opaque lock
// token or transport-native delivery coordinates, fixed at receipt time.
// The identity decides which disposition paths are available: lock-token
// dispositions are request/response operations and cannot participate in a
// transaction.
package servicebus
