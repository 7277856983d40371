package port

import (
	"context"
	"time"

	"github.com/tranzio/tranzio-api/internal/core/domain"
)

// OTPStore keeps short-lived challenges for principals outside of signup.
type OTPStore interface {
	// Store replaces any existing challenge. The record is kept for window+retention so late attempts read as expired.
	Store(ctx context.Context, purpose string, principal domain.Principal, code string, window, retention time.Duration) (*domain.OTPChallenge, error)
	Fetch(ctx context.Context, purpose string, principal domain.Principal) (*domain.OTPChallenge, error)
	IncrementAttempts(ctx context.Context, purpose string, principal domain.Principal) (int, error)
	// Delete returns repository.ErrNotFound when nothing was removed.
	Delete(ctx context.Context, purpose string, principal domain.Principal) error
}

// ResendGuard enforces a minimum interval between code dispatches for a principal.
type ResendGuard interface {
	// Acquire returns false with the remaining wait when a dispatch happened too recently.
	Acquire(ctx context.Context, principal domain.Principal, interval time.Duration) (bool, time.Duration, error)
	Release(ctx context.Context, principal domain.Principal) error
}
