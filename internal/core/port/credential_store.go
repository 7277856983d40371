package port

import (
	"context"
	"time"

	"github.com/tranzio/tranzio-api/internal/core/domain"
)

// CredentialStore owns pending registrations and accounts.
type CredentialStore interface {
	GetPendingByEmail(ctx context.Context, email string) (*domain.PendingRegistration, error)
	UpsertPending(ctx context.Context, record domain.PendingRegistration) error
	RefreshPendingCode(ctx context.Context, email, code string, expiresAt time.Time) (*domain.PendingRegistration, error)
	MarkPendingSent(ctx context.Context, email string, sentAt time.Time) error
	DeletePending(ctx context.Context, email string) error
	// PromotePending deletes the pending record holding code and creates the account in one transaction.
	PromotePending(ctx context.Context, email, code, accountCode string, createdAt time.Time) (*domain.Account, error)
	AccountExists(ctx context.Context, email, mobile string) (bool, error)
	GetAccountByIdentifier(ctx context.Context, identifier string) (*domain.Account, error)
}
