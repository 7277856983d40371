package usecase

import (
	"time"

	"github.com/tranzio/tranzio-api/internal/core/domain"
	"github.com/tranzio/tranzio-api/internal/infra/security"
)

// codeGenerator returns a fresh numeric code of length digits that differs from previous.
type codeGenerator func(length int, previous string) (string, error)

// otpPolicy issues and checks codes for any principal. Signup (email) and the
// product form (mobile) share it and differ only in where the code is kept.
type otpPolicy struct {
	length   int
	window   time.Duration
	generate codeGenerator
}

func newOTPPolicy(length int, window time.Duration) otpPolicy {
	if length <= 0 {
		length = domain.OTPLength
	}
	if window <= 0 {
		window = domain.DefaultOTPWindow
	}
	return otpPolicy{
		length:   length,
		window:   window,
		generate: security.GenerateDistinctOTP,
	}
}

func (p otpPolicy) issue(previous string, now time.Time) (string, time.Time, error) {
	code, err := p.generate(p.length, previous)
	if err != nil {
		return "", time.Time{}, err
	}
	return code, now.Add(p.window).UTC(), nil
}

func (p otpPolicy) check(submitted, stored string, expiresAt, now time.Time) error {
	switch domain.CheckOTP(submitted, stored, expiresAt, now) {
	case domain.OTPValid:
		return nil
	case domain.OTPExpired:
		return ErrOTPExpired
	default:
		return ErrOTPInvalid
	}
}
