package kafka

import (
	"context"

	"go.uber.org/zap"

	"github.com/tranzio/tranzio-api/internal/core/domain"
	"github.com/tranzio/tranzio-api/internal/core/port"
	"github.com/tranzio/tranzio-api/internal/infra/logger"
)

// StubPublisher logs events instead of sending them. Used when no brokers are configured.
type StubPublisher struct {
	logger *zap.Logger
}

// NewStubPublisher constructs a logging event publisher.
func NewStubPublisher(logger *zap.Logger) *StubPublisher {
	return &StubPublisher{logger: logger}
}

// PublishSignupInitiated logs signup.initiated events.
func (p *StubPublisher) PublishSignupInitiated(_ context.Context, event domain.SignupInitiatedEvent) error {
	p.logger.Info("stub event published",
		zap.String("event_type", EventSignupInitiated),
		zap.String("email", logger.MaskEmail(event.Email)),
		zap.Int("resend_count", event.ResendCount),
		zap.Bool("delivered", event.Delivered),
	)
	return nil
}

// PublishAccountCreated logs account.created events.
func (p *StubPublisher) PublishAccountCreated(_ context.Context, event domain.AccountCreatedEvent) error {
	p.logger.Info("stub event published",
		zap.String("event_type", EventAccountCreated),
		zap.String("account_code", event.AccountCode),
		zap.String("registrant_type", string(event.RegistrantType)),
		zap.Time("created_at", event.CreatedAt),
	)
	return nil
}

var _ port.EventPublisher = (*StubPublisher)(nil)
