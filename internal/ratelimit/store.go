// Package ratelimit implements fixed-window call counters keyed by identity.
//
// A window starts with the first call from an identity and resets once
// windowSeconds have elapsed since it started. Every backend performs the
// expiry check, the limit check and the increment as one atomic step, so
// concurrent calls for the same key can never be admitted past the limit.
package ratelimit

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("ratelimit")

// Decision is the outcome of one Allow call.
type Decision struct {
	Allowed bool
	// Count is the number of calls admitted in the current window,
	// including this one when Allowed.
	Count int
	// ResetAt is when the current window expires. Zero if unknown.
	ResetAt time.Time
}

// Store is an atomic check-and-increment counter.
type Store interface {
	// Allow admits one call for key if fewer than limit calls were admitted
	// in the current window. A limit <= 0 denies everything.
	Allow(ctx context.Context, key string, limit int, window time.Duration) (Decision, error)
}
