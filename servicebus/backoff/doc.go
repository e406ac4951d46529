// Package backoff provides exponential backoff utilities with jitter support
// for reconnect rate limiting.
//
// Nothing in the transactional path uses this package: retrying an operation
// whose transaction outcome is ambiguous is unsafe, so backoff only applies
// to connection management in broker bindings.
package backoff
