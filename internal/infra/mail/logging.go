package mail

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/tranzio/tranzio-api/internal/core/port"
	"github.com/tranzio/tranzio-api/internal/infra/logger"
)

// LoggingNotifier writes codes to the log instead of delivering them.
// It backs local development when no SMTP relay or SMS gateway is configured.
type LoggingNotifier struct {
	logger *zap.Logger
}

// NewLoggingNotifier constructs a development notifier.
func NewLoggingNotifier(log *zap.Logger) *LoggingNotifier {
	if log == nil {
		log = zap.NewNop()
	}
	return &LoggingNotifier{logger: log}
}

func (n *LoggingNotifier) SendOTPEmail(_ context.Context, email, code string, expiresAt time.Time) error {
	n.logger.Info("otp email (not sent)",
		zap.String("to", logger.MaskEmail(email)),
		zap.String("code", code),
		zap.Time("expires_at", expiresAt),
	)
	return nil
}

func (n *LoggingNotifier) SendWelcomeEmail(_ context.Context, email, accountCode string) error {
	n.logger.Info("welcome email (not sent)",
		zap.String("to", logger.MaskEmail(email)),
		zap.String("account_code", accountCode),
	)
	return nil
}

func (n *LoggingNotifier) SendOTP(_ context.Context, mobile, code string, expiresAt time.Time) error {
	n.logger.Info("otp sms (not sent)",
		zap.String("to", logger.MaskPhone(mobile)),
		zap.String("code", code),
		zap.Time("expires_at", expiresAt),
	)
	return nil
}

var (
	_ port.Notifier  = (*LoggingNotifier)(nil)
	_ port.SMSSender = (*LoggingNotifier)(nil)
)
