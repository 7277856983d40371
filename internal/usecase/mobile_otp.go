package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/tranzio/tranzio-api/internal/core/domain"
	"github.com/tranzio/tranzio-api/internal/core/port"
	"github.com/tranzio/tranzio-api/internal/infra/logger"
	"github.com/tranzio/tranzio-api/internal/repository"
)

// PurposeProductForm scopes codes sent from the discount-check form.
const PurposeProductForm = "product_form"

// MobileOTPSettings tunes the mobile challenge.
type MobileOTPSettings struct {
	OTPLength int
	OTPWindow time.Duration
	// Retention keeps an expired challenge readable so late verifies report expiry.
	Retention      time.Duration
	ResendCooldown time.Duration
	// MaxAttempts caps wrong codes per challenge. Zero disables the cap.
	MaxAttempts     int
	DeliveryTimeout time.Duration
}

// MobileOTPService proves control of a mobile number for the product form.
type MobileOTPService struct {
	store    port.OTPStore
	sms      port.SMSSender
	guard    port.ResendGuard
	settings MobileOTPSettings
	otp      otpPolicy
	metrics  StageMetrics
	tracer   trace.Tracer
	logger   *zap.Logger
	now      func() time.Time
}

// NewMobileOTPService constructs a MobileOTPService. guard and metrics may be nil.
func NewMobileOTPService(
	store port.OTPStore,
	sms port.SMSSender,
	guard port.ResendGuard,
	settings MobileOTPSettings,
	metrics StageMetrics,
	tracer trace.Tracer,
	log *zap.Logger,
) (*MobileOTPService, error) {
	if store == nil || sms == nil {
		return nil, errors.New("mobile otp service: store and sms sender are required")
	}
	if settings.DeliveryTimeout <= 0 {
		settings.DeliveryTimeout = defaultDeliveryTimeout
	}
	if metrics == nil {
		metrics = noopStageMetrics{}
	}
	if tracer == nil {
		tracer = noop.NewTracerProvider().Tracer("")
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &MobileOTPService{
		store:    store,
		sms:      sms,
		guard:    guard,
		settings: settings,
		otp:      newOTPPolicy(settings.OTPLength, settings.OTPWindow),
		metrics:  metrics,
		tracer:   tracer,
		logger:   log,
		now:      func() time.Time { return time.Now().UTC() },
	}, nil
}

// WithClock overrides the time source. Intended for tests.
func (s *MobileOTPService) WithClock(now func() time.Time) *MobileOTPService {
	if now != nil {
		s.now = now
	}
	return s
}

// Send issues a code for mobile, replacing any previous challenge, and returns its expiry.
func (s *MobileOTPService) Send(ctx context.Context, mobile string) (expiresAt time.Time, err error) {
	ctx, span := s.tracer.Start(ctx, "MobileOTPService.Send")
	defer func() {
		finishSpan(span, err)
		s.metrics.ObserveStage("mobile_send", stageOutcome(err))
	}()

	mobile = strings.TrimSpace(mobile)
	if verr := validateMobileNo(mobile); verr != nil {
		return time.Time{}, verr
	}
	principal := domain.Principal{Kind: domain.PrincipalMobile, Value: mobile}

	armed := false
	if s.guard != nil && s.settings.ResendCooldown > 0 {
		ok, wait, gErr := s.guard.Acquire(ctx, principal, s.settings.ResendCooldown)
		switch {
		case gErr != nil:
			s.logger.Warn("mobile cool-down unavailable", zap.Error(gErr))
		case !ok:
			return time.Time{}, &ResendTooSoonError{RetryAfter: wait}
		default:
			armed = true
		}
	}

	previous := ""
	if current, fErr := s.store.Fetch(ctx, PurposeProductForm, principal); fErr == nil {
		previous = current.Code
	}

	now := s.now()
	code, expiresAt, err := s.otp.issue(previous, now)
	if err != nil {
		s.release(ctx, principal, armed)
		return time.Time{}, fmt.Errorf("issue code: %w", err)
	}

	challenge, err := s.store.Store(ctx, PurposeProductForm, principal, code, s.otp.window, s.settings.Retention)
	if err != nil {
		s.release(ctx, principal, armed)
		return time.Time{}, fmt.Errorf("store mobile challenge: %w", err)
	}
	if challenge != nil && !challenge.ExpiresAt.IsZero() {
		expiresAt = challenge.ExpiresAt
	}

	sendCtx, cancel := context.WithTimeout(ctx, s.settings.DeliveryTimeout)
	defer cancel()
	sendErr := s.sms.SendOTP(sendCtx, mobile, code, expiresAt)
	s.metrics.ObserveDelivery(channelSMS, sendErr)
	if sendErr != nil {
		s.release(ctx, principal, armed)
		s.logger.Warn("otp sms dispatch failed", zap.String("mobile", logger.MaskPhone(mobile)), zap.Error(sendErr))
		return time.Time{}, &TransportError{Channel: channelSMS, Err: sendErr}
	}

	return expiresAt, nil
}

// Verify consumes the challenge for mobile when code matches. A challenge can be consumed once.
func (s *MobileOTPService) Verify(ctx context.Context, mobile, code string) (err error) {
	ctx, span := s.tracer.Start(ctx, "MobileOTPService.Verify")
	defer func() {
		finishSpan(span, err)
		s.metrics.ObserveStage("mobile_verify", stageOutcome(err))
	}()

	mobile = strings.TrimSpace(mobile)
	code = trimCode(code)
	if verr := requireFields(map[string]string{"mobileNo": mobile, "otp": code}, "mobileNo", "otp"); verr != nil {
		return verr
	}
	principal := domain.Principal{Kind: domain.PrincipalMobile, Value: mobile}

	challenge, err := s.store.Fetch(ctx, PurposeProductForm, principal)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrPendingNotFound
		}
		return fmt.Errorf("load mobile challenge: %w", err)
	}
	if s.settings.MaxAttempts > 0 && challenge.Attempts >= s.settings.MaxAttempts {
		return ErrTooManyAttempts
	}

	if err := s.otp.check(code, challenge.Code, challenge.ExpiresAt, s.now()); err != nil {
		if errors.Is(err, ErrOTPInvalid) {
			if _, incErr := s.store.IncrementAttempts(ctx, PurposeProductForm, principal); incErr != nil && !errors.Is(incErr, repository.ErrNotFound) {
				s.logger.Warn("record failed mobile attempt", zap.String("mobile", logger.MaskPhone(mobile)), zap.Error(incErr))
			}
		}
		return err
	}

	if err := s.store.Delete(ctx, PurposeProductForm, principal); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrPendingNotFound
		}
		return fmt.Errorf("consume mobile challenge: %w", err)
	}
	if s.guard != nil {
		if gErr := s.guard.Release(ctx, principal); gErr != nil {
			s.logger.Debug("release mobile cool-down failed", zap.Error(gErr))
		}
	}
	return nil
}

func (s *MobileOTPService) release(ctx context.Context, principal domain.Principal, armed bool) {
	if !armed {
		return
	}
	if err := s.guard.Release(ctx, principal); err != nil {
		s.logger.Warn("release mobile cool-down failed", zap.Error(err))
	}
}

func validateMobileNo(mobile string) error {
	if mobile == "" {
		return requiredField("mobileNo")
	}
	if !mobilePattern.MatchString(mobile) {
		return &ValidationError{Fields: []FieldError{{Field: "mobileNo", Message: "must be exactly 10 digits"}}}
	}
	return nil
}
