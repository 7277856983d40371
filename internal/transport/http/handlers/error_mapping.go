package handlers

import (
	"errors"
	"math"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/tranzio/tranzio-api/internal/usecase"
)

// ErrorCase maps a sentinel error to an HTTP status code and response message.
type ErrorCase struct {
	Err     error
	Status  int
	Code    string
	Message string
}

const (
	codeValidationFailed = "validation_failed"
	codeInternalError    = "internal_error"
)

// signupErrorCases is checked in order; ErrDelivery also matches TransportError.
var signupErrorCases = []ErrorCase{
	{Err: usecase.ErrPendingNotFound, Status: http.StatusNotFound, Code: "pending_not_found", Message: "No pending verification found. Please start signup again."},
	{Err: usecase.ErrOTPExpired, Status: http.StatusGone, Code: "otp_expired", Message: "Your code has expired. Please request a new one."},
	{Err: usecase.ErrOTPInvalid, Status: http.StatusBadRequest, Code: "otp_invalid", Message: "The code you entered is incorrect."},
	{Err: usecase.ErrDuplicateAccount, Status: http.StatusConflict, Code: "duplicate_account", Message: "An account already exists for this email or mobile. Please sign in."},
	{Err: usecase.ErrDelivery, Status: http.StatusBadGateway, Code: "delivery_failed", Message: "We could not send your code. Please try resending."},
	{Err: usecase.ErrResendTooSoon, Status: http.StatusTooManyRequests, Code: "resend_too_soon", Message: "Please wait before requesting another code."},
	{Err: usecase.ErrResendLimitReached, Status: http.StatusTooManyRequests, Code: "resend_limit_reached", Message: "Too many codes requested. Please start signup again later."},
	{Err: usecase.ErrTooManyAttempts, Status: http.StatusTooManyRequests, Code: "too_many_attempts", Message: "Too many incorrect attempts. Please request a new code."},
}

var authErrorCases = []ErrorCase{
	{Err: usecase.ErrInvalidCredentials, Status: http.StatusUnauthorized, Code: "invalid_credentials", Message: "Invalid email, dealer code or password."},
	{Err: usecase.ErrExpiredAccessToken, Status: http.StatusUnauthorized, Code: "token_expired", Message: "access token expired"},
	{Err: usecase.ErrInvalidAccessToken, Status: http.StatusUnauthorized, Code: "token_invalid", Message: "invalid access token"},
}

// RespondWithMappedError resolves the provided error against known cases or falls back to a generic response.
// Validation errors are always reported as 400 with the rejected fields.
func RespondWithMappedError(c *gin.Context, err error, cases []ErrorCase, fallbackMessage string) {
	if err == nil {
		c.Status(http.StatusOK)
		return
	}

	var verr *usecase.ValidationError
	if errors.As(err, &verr) {
		resp := NewErrorResponse(c, codeValidationFailed, "Please correct the highlighted fields.")
		resp.Fields = verr.Fields
		c.JSON(http.StatusBadRequest, resp)
		return
	}

	var tooSoon *usecase.ResendTooSoonError
	if errors.As(err, &tooSoon) {
		c.Header("Retry-After", strconv.Itoa(int(math.Ceil(tooSoon.RetryAfter.Seconds()))))
	}

	for _, cs := range cases {
		if cs.Err == nil {
			continue
		}
		if errors.Is(err, cs.Err) {
			resp := NewErrorResponse(c, cs.Code, cs.Message)
			resp.Expired = errors.Is(err, usecase.ErrOTPExpired)
			c.JSON(cs.Status, resp)
			return
		}
	}

	_ = c.Error(err)
	c.JSON(http.StatusInternalServerError, NewErrorResponse(c, codeInternalError, fallbackMessage))
}

func respondInvalidPayload(c *gin.Context) {
	c.JSON(http.StatusBadRequest, NewErrorResponse(c, codeValidationFailed, "invalid request payload"))
}
