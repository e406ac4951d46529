// Package pointers provides helpers for pointer creation and conversions.
//
// Use this package to reduce boilerplate in tests and DTO assembly while
// keeping pointer semantics explicit at call sites.
package pointers
