package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tranzio/tranzio-api/internal/usecase"
)

// SignupService is the subset of usecase.SignupService used by the handler.
type SignupService interface {
	Initiate(ctx context.Context, input usecase.SignupInput) error
	Verify(ctx context.Context, email, code string) (*usecase.VerifyResult, error)
	Resend(ctx context.Context, email string) error
}

// SignupHandler exposes the dealer signup flow.
type SignupHandler struct {
	signup SignupService
}

func NewSignupHandler(signup SignupService) *SignupHandler {
	return &SignupHandler{signup: signup}
}

// Initiate stages a registration and emails its code.
func (h *SignupHandler) Initiate(c *gin.Context) {
	var req SignupInitiateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondInvalidPayload(c)
		return
	}

	if err := h.signup.Initiate(c.Request.Context(), req.toInput()); err != nil {
		RespondWithMappedError(c, err, signupErrorCases, "failed to start signup")
		return
	}

	c.JSON(http.StatusOK, SuccessResponse{Success: true, Message: "verification code sent"})
}

// Verify promotes the pending registration when the code matches.
func (h *SignupHandler) Verify(c *gin.Context) {
	var req SignupVerifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondInvalidPayload(c)
		return
	}

	result, err := h.signup.Verify(c.Request.Context(), req.Email, req.OTP)
	if err != nil {
		RespondWithMappedError(c, err, signupErrorCases, "failed to verify code")
		return
	}

	c.JSON(http.StatusOK, SignupVerifyResponse{
		Success:     true,
		AccountCode: result.AccountCode,
		User:        newAccountSummary(result.Account),
	})
}

// Resend issues a fresh code for the pending registration.
func (h *SignupHandler) Resend(c *gin.Context) {
	var req SignupResendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondInvalidPayload(c)
		return
	}

	if err := h.signup.Resend(c.Request.Context(), req.Email); err != nil {
		RespondWithMappedError(c, err, signupErrorCases, "failed to resend code")
		return
	}

	c.JSON(http.StatusOK, SuccessResponse{Success: true, Message: "verification code resent"})
}
