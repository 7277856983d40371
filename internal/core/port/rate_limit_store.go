package port

import (
	"context"
	"time"
)

// RateLimitDecision is the outcome of recording one hit against a sliding window.
type RateLimitDecision struct {
	Allowed bool
	// Count is the number of hits inside the window, including this one when allowed.
	Count int
	// ResetAt is when the oldest hit in the window leaves it.
	ResetAt time.Time
}

// RateLimitStore records hits in a sliding window and decides whether a new hit fits the limit.
type RateLimitStore interface {
	Hit(ctx context.Context, key string, limit int, window time.Duration, now time.Time) (RateLimitDecision, error)
}
