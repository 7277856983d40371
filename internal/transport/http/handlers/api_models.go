package handlers

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tranzio/tranzio-api/internal/core/domain"
	"github.com/tranzio/tranzio-api/internal/transport/http/middleware"
	"github.com/tranzio/tranzio-api/internal/usecase"
)

// ErrorResponse represents a generic error payload with trace ID for debugging.
type ErrorResponse struct {
	Success bool                 `json:"success"`
	Error   string               `json:"error"`
	Code    string               `json:"code"`
	Fields  []usecase.FieldError `json:"fields,omitempty"`
	Expired bool                 `json:"expired,omitempty"`
	TraceID string               `json:"trace_id,omitempty"`
}

// NewErrorResponse creates an error response with trace ID from context
func NewErrorResponse(c *gin.Context, code, message string) ErrorResponse {
	return ErrorResponse{
		Error:   message,
		Code:    code,
		TraceID: middleware.GetTraceID(c),
	}
}

// SuccessResponse acknowledges an operation without data.
type SuccessResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

// SignupInitiateRequest is the registration form. Enterprise fields are required
// only when registrantType is "enterprise".
type SignupInitiateRequest struct {
	RegistrantType     string `json:"registrantType"`
	DisplayName        string `json:"displayName"`
	Mobile             string `json:"mobile"`
	Email              string `json:"email"`
	Password           string `json:"password"`
	ConfirmPassword    string `json:"confirmPassword"`
	OwnerName          string `json:"ownerName"`
	OwnerMobile        string `json:"ownerMobile"`
	TaxID              string `json:"taxId"`
	EnterpriseCategory string `json:"enterpriseCategory"`
}

func (r SignupInitiateRequest) toInput() usecase.SignupInput {
	return usecase.SignupInput{
		RegistrantType:     domain.RegistrantType(r.RegistrantType),
		DisplayName:        r.DisplayName,
		Mobile:             r.Mobile,
		Email:              r.Email,
		Password:           r.Password,
		ConfirmPassword:    r.ConfirmPassword,
		OwnerName:          r.OwnerName,
		OwnerMobile:        r.OwnerMobile,
		TaxID:              r.TaxID,
		EnterpriseCategory: r.EnterpriseCategory,
	}
}

// SignupVerifyRequest submits the emailed code.
type SignupVerifyRequest struct {
	Email string `json:"email"`
	OTP   string `json:"otp"`
}

// SignupVerifyResponse is returned once the account exists.
type SignupVerifyResponse struct {
	Success     bool           `json:"success"`
	AccountCode string         `json:"accountCode"`
	User        AccountSummary `json:"user"`
}

// SignupResendRequest asks for a new emailed code.
type SignupResendRequest struct {
	Email string `json:"email"`
}

// MobileOTPSendRequest asks for a code by SMS.
type MobileOTPSendRequest struct {
	MobileNo string `json:"mobileNo"`
}

// MobileOTPSendResponse reports when the sent code expires.
type MobileOTPSendResponse struct {
	Success   bool      `json:"success"`
	ExpiresAt time.Time `json:"expiresAt"`
	ExpiresIn int       `json:"expiresIn"`
}

// MobileOTPVerifyRequest submits an SMS code.
type MobileOTPVerifyRequest struct {
	MobileNo string `json:"mobileNo"`
	OTP      string `json:"otp"`
}

// AuthLoginRequest defines the payload for the login endpoint.
type AuthLoginRequest struct {
	Identifier string `json:"identifier"`
	Password   string `json:"password"`
}

// AuthLoginResponse describes the response returned for a successful login.
type AuthLoginResponse struct {
	Success   bool           `json:"success"`
	Token     string         `json:"token"`
	TokenType string         `json:"tokenType"`
	ExpiresIn int            `json:"expiresIn"`
	ExpiresAt time.Time      `json:"expiresAt"`
	User      AccountSummary `json:"user"`
}

// AuthValidateResponse returns the dealer behind a bearer token.
type AuthValidateResponse struct {
	Success bool           `json:"success"`
	User    AccountSummary `json:"user"`
}

// AccountSummary is the public view of an account.
type AccountSummary struct {
	AccountCode        string                `json:"accountCode"`
	DisplayName        string                `json:"displayName"`
	Email              string                `json:"email"`
	Mobile             string                `json:"mobile"`
	RegistrantType     domain.RegistrantType `json:"registrantType"`
	OwnerName          string                `json:"ownerName,omitempty"`
	EnterpriseCategory string                `json:"enterpriseCategory,omitempty"`
	CreatedAt          time.Time             `json:"createdAt"`
}

func newAccountSummary(a domain.Account) AccountSummary {
	return AccountSummary{
		AccountCode:        a.AccountCode,
		DisplayName:        a.DisplayName,
		Email:              a.Email,
		Mobile:             a.Mobile,
		RegistrantType:     a.RegistrantType,
		OwnerName:          a.Enterprise.OwnerName,
		EnterpriseCategory: a.Enterprise.EnterpriseCategory,
		CreatedAt:          a.CreatedAt,
	}
}

// HealthResponse is returned by the liveness endpoint.
type HealthResponse struct {
	Status    string    `json:"status"`
	StartedAt time.Time `json:"startedAt"`
}

// ReadinessResponse lists each dependency check.
type ReadinessResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}
