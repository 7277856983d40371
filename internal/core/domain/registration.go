package domain

import "time"

// RegistrantType enumerates who is signing up.
type RegistrantType string

const (
	RegistrantIndividual RegistrantType = "individual"
	RegistrantEnterprise RegistrantType = "enterprise"
)

// IsEnterprise reports whether enterprise-only fields apply.
func (t RegistrantType) IsEnterprise() bool {
	return t == RegistrantEnterprise
}

// EnterpriseProfile holds the fields collected only for enterprise registrants.
type EnterpriseProfile struct {
	OwnerName          string
	OwnerMobile        string
	TaxID              string
	EnterpriseCategory string
}

// PendingRegistration is a staged signup awaiting OTP confirmation.
// Email is the lookup key; at most one record exists per email.
type PendingRegistration struct {
	ID             string
	Email          string
	RegistrantType RegistrantType
	DisplayName    string
	Mobile         string
	Enterprise     EnterpriseProfile
	PasswordHash   string
	OTPCode        string
	OTPExpiresAt   time.Time
	ResendCount    int
	LastSentAt     *time.Time
	CreatedAt      time.Time
}

// Account is the permanent record created when a pending registration is promoted.
type Account struct {
	AccountCode    string
	Email          string
	RegistrantType RegistrantType
	DisplayName    string
	Mobile         string
	Enterprise     EnterpriseProfile
	PasswordHash   string
	CreatedAt      time.Time
}
