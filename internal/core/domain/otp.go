package domain

import (
	"crypto/subtle"
	"time"
)

const (
	// OTPLength is the number of digits in every issued code.
	OTPLength = 6
	// DefaultOTPWindow matches the countdown shown by the client.
	DefaultOTPWindow = 5 * time.Minute
)

// PrincipalKind identifies what an OTP proves control of.
type PrincipalKind string

const (
	PrincipalEmail  PrincipalKind = "email"
	PrincipalMobile PrincipalKind = "mobile"
)

// Principal is the identifier an OTP challenge is keyed by.
type Principal struct {
	Kind  PrincipalKind
	Value string
}

// OTPOutcome is the result of checking a submitted code.
type OTPOutcome int

const (
	OTPValid OTPOutcome = iota
	OTPExpired
	OTPMismatch
)

func (o OTPOutcome) String() string {
	switch o {
	case OTPValid:
		return "valid"
	case OTPExpired:
		return "expired"
	case OTPMismatch:
		return "mismatch"
	default:
		return "unknown"
	}
}

// CheckOTP compares a submitted code with the stored one.
// Expiry wins over correctness: a correct code past expiresAt is OTPExpired.
func CheckOTP(submitted, stored string, expiresAt, now time.Time) OTPOutcome {
	if !now.Before(expiresAt) {
		return OTPExpired
	}
	if stored == "" || len(submitted) != len(stored) {
		return OTPMismatch
	}
	if subtle.ConstantTimeCompare([]byte(submitted), []byte(stored)) != 1 {
		return OTPMismatch
	}
	return OTPValid
}

// OTPChallenge is a code issued to a principal outside of signup (e.g. the product form).
type OTPChallenge struct {
	Purpose   string
	Principal Principal
	Code      string
	Attempts  int
	CreatedAt time.Time
	ExpiresAt time.Time
}
