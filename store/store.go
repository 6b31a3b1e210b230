// Package store provides counter storage backends for admission control.
package store

import (
	"context"
	"time"
)

// Result is the outcome of a single admission decision, observed atomically at
// the moment the decision was made.
type Result struct {
	// Allowed reports whether the request fits the current window.
	Allowed bool

	// Remaining is the number of requests left in the current window after
	// this decision.
	Remaining int

	// Reset is the time until the current window resets. When the request was
	// rejected it doubles as the retry hint. Never less than one second.
	Reset time.Duration
}

// Store defines the interface for admission counter backends.
// Implementations must be safe for concurrent use, and TryConsume must be a
// single atomic step per key: two concurrent callers can never both take the
// last slot under the limit.
type Store interface {
	// TryConsume checks the counter for key against limit within the given
	// window, resetting the window first if it has elapsed. On success the
	// counter is incremented; on rejection the counter is left untouched.
	TryConsume(ctx context.Context, key string, limit int, window time.Duration) (Result, error)

	// Close releases any resources held by the store.
	Close() error
}
