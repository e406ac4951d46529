// Package log defines the logging interface and typed logging fields used
// across the library.
//
// Adapters (such as the zap package) implement Logger so applications can keep
// logging calls consistent across backends. Every component defaults to the
// NopLogger, so logging is strictly opt-in.
package log
