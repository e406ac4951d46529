// Package zap provides a go.uber.org/zap-backed adapter for the log.Logger
// interface.
//
// When the context carries an active OpenTelemetry span, trace and span IDs
// are appended to every entry so logs correlate with distributed traces.
package zap
