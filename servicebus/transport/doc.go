// Package transport defines the seam between the transaction coordinator and
// the broker binding that owns the wire protocol.
//
// The coordinator consumes a TxContext bound to one in-flight broker
// transaction plus borrowed Sender and Receiver handles; it never performs
// link, session, or connection management itself. Outcome is the closed set
// of delivery outcomes a binding may report for a posted transfer.
package transport
