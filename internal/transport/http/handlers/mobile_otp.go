package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// MobileOTPService is the subset of usecase.MobileOTPService used by the handler.
type MobileOTPService interface {
	Send(ctx context.Context, mobile string) (time.Time, error)
	Verify(ctx context.Context, mobile, code string) error
}

// MobileOTPHandler serves the product form's mobile verification.
type MobileOTPHandler struct {
	otp MobileOTPService
	now func() time.Time
}

func NewMobileOTPHandler(otp MobileOTPService) *MobileOTPHandler {
	return &MobileOTPHandler{otp: otp, now: time.Now}
}

// Send texts a code to mobileNo.
func (h *MobileOTPHandler) Send(c *gin.Context) {
	var req MobileOTPSendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondInvalidPayload(c)
		return
	}

	expiresAt, err := h.otp.Send(c.Request.Context(), req.MobileNo)
	if err != nil {
		RespondWithMappedError(c, err, signupErrorCases, "failed to send code")
		return
	}

	c.JSON(http.StatusOK, MobileOTPSendResponse{
		Success:   true,
		ExpiresAt: expiresAt,
		ExpiresIn: int(expiresAt.Sub(h.now()).Round(time.Second).Seconds()),
	})
}

// Verify checks the texted code.
func (h *MobileOTPHandler) Verify(c *gin.Context) {
	var req MobileOTPVerifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondInvalidPayload(c)
		return
	}

	if err := h.otp.Verify(c.Request.Context(), req.MobileNo, req.OTP); err != nil {
		RespondWithMappedError(c, err, signupErrorCases, "failed to verify code")
		return
	}

	c.JSON(http.StatusOK, SuccessResponse{Success: true, Message: "mobile number verified"})
}
