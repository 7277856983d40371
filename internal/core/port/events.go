package port

import (
	"context"

	"github.com/tranzio/tranzio-api/internal/core/domain"
)

// EventPublisher publishes domain events to the message bus.
type EventPublisher interface {
	PublishSignupInitiated(ctx context.Context, event domain.SignupInitiatedEvent) error
	PublishAccountCreated(ctx context.Context, event domain.AccountCreatedEvent) error
}
