// Package transaction coordinates transactional send and disposition
// operations against a broker.
//
// A Scope wraps exactly one in-flight broker transaction (a
// transport.TxContext). Callers issue send, complete, abandon, dead-letter,
// and defer operations against the scope, then finalize with Commit or
// Rollback; the broker applies or discards every enlisted operation
// atomically.
//
// Two rules shape everything here:
//
//   - No operation is ever retried inside a transaction. A failed or
//     cancelled operation leaves the transaction state ambiguous, so every
//     failure propagates to the caller, who is expected to roll back.
//   - Dispositions are only transactional for delivery-identified messages.
//     Lock-token identified messages use a request/response path that cannot
//     join a transaction, and every disposition on one fails with
//     ErrLockTokenDisposition before any network call.
package transaction
