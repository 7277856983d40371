package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	uuid "github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/tranzio/tranzio-api/internal/core/domain"
	"github.com/tranzio/tranzio-api/internal/core/port"
	"github.com/tranzio/tranzio-api/internal/infra/logger"
	"github.com/tranzio/tranzio-api/internal/repository"
)

const (
	// maxAccountCodeAttempts bounds regeneration after an account code collision.
	maxAccountCodeAttempts = 3
	defaultDeliveryTimeout = 10 * time.Second

	channelEmail = "email"
	channelSMS   = "sms"
)

// StageMetrics records signup outcomes. telemetry.SignupMetrics implements it.
type StageMetrics interface {
	ObserveStage(stage, outcome string)
	ObserveDelivery(channel string, err error)
}

type noopStageMetrics struct{}

func (noopStageMetrics) ObserveStage(string, string)   {}
func (noopStageMetrics) ObserveDelivery(string, error) {}

// SignupSettings tunes code issuance and resend hardening.
type SignupSettings struct {
	OTPLength      int
	OTPWindow      time.Duration
	ResendCooldown time.Duration
	// MaxResends caps resends per pending registration. Zero disables the cap.
	MaxResends int
	// DeliveryTimeout bounds each email dispatch, including the detached welcome email.
	DeliveryTimeout time.Duration
}

// SignupOption customises a SignupService.
type SignupOption func(*SignupService)

// WithSignupClock overrides the time source.
func WithSignupClock(now func() time.Time) SignupOption {
	return func(s *SignupService) {
		if now != nil {
			s.now = now
		}
	}
}

// WithSignupMetrics attaches stage counters.
func WithSignupMetrics(metrics StageMetrics) SignupOption {
	return func(s *SignupService) {
		if metrics != nil {
			s.metrics = metrics
		}
	}
}

// WithSignupTracer attaches a tracer for operation spans.
func WithSignupTracer(tracer trace.Tracer) SignupOption {
	return func(s *SignupService) {
		if tracer != nil {
			s.tracer = tracer
		}
	}
}

// WithSignupEvents attaches the event publisher.
func WithSignupEvents(events port.EventPublisher) SignupOption {
	return func(s *SignupService) {
		s.events = events
	}
}

// WithSignupResendGuard attaches the resend cool-down store.
func WithSignupResendGuard(guard port.ResendGuard) SignupOption {
	return func(s *SignupService) {
		s.guard = guard
	}
}

// VerifyResult is returned after a pending registration is promoted.
type VerifyResult struct {
	AccountCode string
	Account     domain.Account
}

// SignupService drives a pending registration from submission to account creation.
type SignupService struct {
	store    port.CredentialStore
	notifier port.Notifier
	hasher   port.PasswordHasher
	codes    port.AccountCodeGenerator
	guard    port.ResendGuard
	events   port.EventPublisher
	settings SignupSettings
	otp      otpPolicy
	metrics  StageMetrics
	tracer   trace.Tracer
	logger   *zap.Logger
	now      func() time.Time
	// spawn runs best-effort work after a response-determining step has committed.
	spawn func(func())
}

// NewSignupService constructs a SignupService instance.
func NewSignupService(
	store port.CredentialStore,
	notifier port.Notifier,
	hasher port.PasswordHasher,
	codes port.AccountCodeGenerator,
	settings SignupSettings,
	log *zap.Logger,
	opts ...SignupOption,
) (*SignupService, error) {
	if store == nil || notifier == nil || hasher == nil || codes == nil {
		return nil, errors.New("signup service: store, notifier, hasher and code generator are required")
	}
	if settings.DeliveryTimeout <= 0 {
		settings.DeliveryTimeout = defaultDeliveryTimeout
	}
	if settings.ResendCooldown < 0 {
		settings.ResendCooldown = 0
	}
	if log == nil {
		log = zap.NewNop()
	}

	s := &SignupService{
		store:    store,
		notifier: notifier,
		hasher:   hasher,
		codes:    codes,
		settings: settings,
		otp:      newOTPPolicy(settings.OTPLength, settings.OTPWindow),
		metrics:  noopStageMetrics{},
		tracer:   noop.NewTracerProvider().Tracer(""),
		logger:   log,
		now:      func() time.Time { return time.Now().UTC() },
		spawn:    func(fn func()) { go fn() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Initiate validates the form, stages a pending registration and emails its code.
// A TransportError means the registration is staged and the client may resend.
func (s *SignupService) Initiate(ctx context.Context, input SignupInput) (err error) {
	ctx, span := s.tracer.Start(ctx, "SignupService.Initiate")
	defer func() { s.finish(span, "initiate", err) }()

	input = input.normalize()
	span.SetAttributes(attribute.String("signup.registrant_type", string(input.RegistrantType)))
	if err := validateSignup(input); err != nil {
		return err
	}

	exists, err := s.store.AccountExists(ctx, input.Email, input.Mobile)
	if err != nil {
		return fmt.Errorf("check existing account: %w", err)
	}
	if exists {
		return ErrDuplicateAccount
	}

	hash, err := s.hasher.Hash(input.Password)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}

	now := s.now()
	code, expiresAt, err := s.otp.issue("", now)
	if err != nil {
		return fmt.Errorf("issue code: %w", err)
	}

	record := domain.PendingRegistration{
		ID:             uuid.NewString(),
		Email:          input.Email,
		RegistrantType: input.RegistrantType,
		DisplayName:    input.DisplayName,
		Mobile:         input.Mobile,
		Enterprise:     input.enterprise(),
		PasswordHash:   hash,
		OTPCode:        code,
		OTPExpiresAt:   expiresAt,
		CreatedAt:      now,
	}
	if err := s.store.UpsertPending(ctx, record); err != nil {
		return fmt.Errorf("stage pending registration: %w", err)
	}

	if err := s.dispatch(ctx, record.Email, code, expiresAt); err != nil {
		s.publishInitiated(ctx, record, false)
		return err
	}

	s.afterDispatch(ctx, record.Email, now)
	if s.guard != nil && s.settings.ResendCooldown > 0 {
		// Initiate is never blocked by the cool-down; it only arms it.
		if _, _, gErr := s.guard.Acquire(ctx, emailPrincipal(record.Email), s.settings.ResendCooldown); gErr != nil {
			s.logger.Warn("arm resend cool-down failed", zap.String("email", logger.MaskEmail(record.Email)), zap.Error(gErr))
		}
	}
	s.publishInitiated(ctx, record, true)
	return nil
}

// Verify checks code against the pending registration for email and, on success,
// promotes it to an account exactly once.
func (s *SignupService) Verify(ctx context.Context, email, code string) (result *VerifyResult, err error) {
	ctx, span := s.tracer.Start(ctx, "SignupService.Verify")
	defer func() { s.finish(span, "verify", err) }()

	email = normalizeEmail(email)
	code = trimCode(code)
	if verr := requireFields(map[string]string{"email": email, "otp": code}, "email", "otp"); verr != nil {
		return nil, verr
	}

	pending, err := s.store.GetPendingByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrPendingNotFound
		}
		return nil, fmt.Errorf("load pending registration: %w", err)
	}

	now := s.now()
	if err := s.otp.check(code, pending.OTPCode, pending.OTPExpiresAt, now); err != nil {
		return nil, err
	}

	account, err := s.promote(ctx, email, code, now)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("signup.account_code", account.AccountCode))

	s.sendWelcome(account.Email, account.AccountCode)
	s.publishCreated(ctx, *account)
	if s.guard != nil {
		if gErr := s.guard.Release(ctx, emailPrincipal(email)); gErr != nil {
			s.logger.Debug("release resend cool-down failed", zap.Error(gErr))
		}
	}

	return &VerifyResult{AccountCode: account.AccountCode, Account: *account}, nil
}

// Resend issues a new code for the pending registration and restarts its window.
// Registration fields are left untouched.
func (s *SignupService) Resend(ctx context.Context, email string) (err error) {
	ctx, span := s.tracer.Start(ctx, "SignupService.Resend")
	defer func() { s.finish(span, "resend", err) }()

	email = normalizeEmail(email)
	if email == "" {
		return requiredField("email")
	}

	pending, err := s.store.GetPendingByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrPendingNotFound
		}
		return fmt.Errorf("load pending registration: %w", err)
	}
	if s.settings.MaxResends > 0 && pending.ResendCount >= s.settings.MaxResends {
		return ErrResendLimitReached
	}

	principal := emailPrincipal(email)
	armed, err := s.acquireCooldown(ctx, principal)
	if err != nil {
		return err
	}

	now := s.now()
	code, expiresAt, err := s.otp.issue(pending.OTPCode, now)
	if err != nil {
		s.releaseCooldown(ctx, principal, armed)
		return fmt.Errorf("issue code: %w", err)
	}

	refreshed, err := s.store.RefreshPendingCode(ctx, email, code, expiresAt)
	if err != nil {
		s.releaseCooldown(ctx, principal, armed)
		if errors.Is(err, repository.ErrNotFound) {
			return ErrPendingNotFound
		}
		return fmt.Errorf("refresh pending code: %w", err)
	}

	// The refreshed code stays in place when dispatch fails.
	if err := s.dispatch(ctx, email, code, expiresAt); err != nil {
		s.releaseCooldown(ctx, principal, armed)
		s.publishInitiated(ctx, *refreshed, false)
		return err
	}

	s.afterDispatch(ctx, email, now)
	s.publishInitiated(ctx, *refreshed, true)
	return nil
}

func (s *SignupService) promote(ctx context.Context, email, code string, now time.Time) (*domain.Account, error) {
	for attempt := 0; attempt < maxAccountCodeAttempts; attempt++ {
		account, err := s.store.PromotePending(ctx, email, code, s.codes.Next(), now)
		switch {
		case err == nil:
			return account, nil
		case errors.Is(err, repository.ErrAccountCodeTaken):
			s.logger.Warn("account code collision, regenerating", zap.Int("attempt", attempt+1))
			continue
		case errors.Is(err, repository.ErrNotFound):
			// Consumed by a concurrent verify or replaced by a new initiate.
			return nil, ErrPendingNotFound
		case errors.Is(err, repository.ErrConflict):
			return nil, ErrDuplicateAccount
		default:
			return nil, fmt.Errorf("promote pending registration: %w", err)
		}
	}
	return nil, fmt.Errorf("promote pending registration: no free account code after %d attempts", maxAccountCodeAttempts)
}

func (s *SignupService) dispatch(ctx context.Context, email, code string, expiresAt time.Time) error {
	sendCtx, cancel := context.WithTimeout(ctx, s.settings.DeliveryTimeout)
	defer cancel()

	err := s.notifier.SendOTPEmail(sendCtx, email, code, expiresAt)
	s.metrics.ObserveDelivery(channelEmail, err)
	if err != nil {
		s.logger.Warn("otp email dispatch failed", zap.String("email", logger.MaskEmail(email)), zap.Error(err))
		return &TransportError{Channel: channelEmail, Err: err}
	}
	return nil
}

func (s *SignupService) afterDispatch(ctx context.Context, email string, sentAt time.Time) {
	if err := s.store.MarkPendingSent(ctx, email, sentAt); err != nil {
		s.logger.Warn("record otp dispatch failed", zap.String("email", logger.MaskEmail(email)), zap.Error(err))
	}
}

// acquireCooldown reports whether a marker was armed. Store failures do not block resends.
func (s *SignupService) acquireCooldown(ctx context.Context, principal domain.Principal) (bool, error) {
	if s.guard == nil || s.settings.ResendCooldown <= 0 {
		return false, nil
	}
	ok, wait, err := s.guard.Acquire(ctx, principal, s.settings.ResendCooldown)
	if err != nil {
		s.logger.Warn("resend cool-down unavailable", zap.Error(err))
		return false, nil
	}
	if !ok {
		return false, &ResendTooSoonError{RetryAfter: wait}
	}
	return true, nil
}

func (s *SignupService) releaseCooldown(ctx context.Context, principal domain.Principal, armed bool) {
	if !armed {
		return
	}
	if err := s.guard.Release(ctx, principal); err != nil {
		s.logger.Warn("release resend cool-down failed", zap.Error(err))
	}
}

func (s *SignupService) sendWelcome(email, accountCode string) {
	timeout := s.settings.DeliveryTimeout
	s.spawn(func() {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if err := s.notifier.SendWelcomeEmail(ctx, email, accountCode); err != nil {
			s.logger.Warn("welcome email failed",
				zap.String("email", logger.MaskEmail(email)),
				zap.String("account_code", accountCode),
				zap.Error(err))
		}
	})
}

func (s *SignupService) publishInitiated(ctx context.Context, record domain.PendingRegistration, delivered bool) {
	if s.events == nil {
		return
	}
	err := s.events.PublishSignupInitiated(ctx, domain.SignupInitiatedEvent{
		EventID:        uuid.NewString(),
		Email:          record.Email,
		RegistrantType: record.RegistrantType,
		ResendCount:    record.ResendCount,
		OccurredAt:     s.now(),
		Delivered:      delivered,
	})
	if err != nil {
		s.logger.Warn("publish signup initiated failed", zap.Error(err))
	}
}

func (s *SignupService) publishCreated(ctx context.Context, account domain.Account) {
	if s.events == nil {
		return
	}
	err := s.events.PublishAccountCreated(ctx, domain.AccountCreatedEvent{
		EventID:        uuid.NewString(),
		AccountCode:    account.AccountCode,
		Email:          account.Email,
		Mobile:         account.Mobile,
		RegistrantType: account.RegistrantType,
		CreatedAt:      account.CreatedAt,
		Metadata: map[string]any{
			"display_name": account.DisplayName,
		},
	})
	if err != nil {
		s.logger.Warn("publish account created failed", zap.String("account_code", account.AccountCode), zap.Error(err))
	}
}

func (s *SignupService) finish(span trace.Span, stage string, err error) {
	finishSpan(span, err)
	s.metrics.ObserveStage(stage, stageOutcome(err))
}

func finishSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, stageOutcome(err))
	}
	span.End()
}

// stageOutcome maps an operation error to a low-cardinality metric label.
func stageOutcome(err error) string {
	var verr *ValidationError
	switch {
	case err == nil:
		return "success"
	case errors.As(err, &verr):
		return "invalid_input"
	case errors.Is(err, ErrPendingNotFound):
		return "not_found"
	case errors.Is(err, ErrOTPExpired):
		return "expired"
	case errors.Is(err, ErrOTPInvalid):
		return "mismatch"
	case errors.Is(err, ErrDuplicateAccount):
		return "duplicate"
	case errors.Is(err, ErrDelivery):
		return "delivery_failed"
	case errors.Is(err, ErrResendTooSoon):
		return "too_soon"
	case errors.Is(err, ErrResendLimitReached), errors.Is(err, ErrTooManyAttempts):
		return "limited"
	default:
		return "error"
	}
}

func emailPrincipal(email string) domain.Principal {
	return domain.Principal{Kind: domain.PrincipalEmail, Value: email}
}

func trimCode(code string) string {
	return strings.TrimSpace(code)
}

// requireFields returns a ValidationError naming every empty field, in order.
func requireFields(values map[string]string, order ...string) error {
	out := &ValidationError{}
	for _, field := range order {
		if values[field] == "" {
			out.add(field, "is required")
		}
	}
	return out.orNil()
}
