package port

import (
	"context"
	"time"
)

// Notifier delivers signup emails.
type Notifier interface {
	SendOTPEmail(ctx context.Context, email, code string, expiresAt time.Time) error
	SendWelcomeEmail(ctx context.Context, email, accountCode string) error
}

// SMSSender delivers codes to mobile numbers.
type SMSSender interface {
	SendOTP(ctx context.Context, mobile, code string, expiresAt time.Time) error
}
