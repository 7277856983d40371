package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tranzio/tranzio-api/internal/core/domain"
	"github.com/tranzio/tranzio-api/internal/transport/http/middleware"
	"github.com/tranzio/tranzio-api/internal/usecase"
)

// AuthService is the subset of usecase.AuthService used by the handler.
type AuthService interface {
	Login(ctx context.Context, identifier, password string) (*usecase.LoginResult, error)
	CurrentAccount(ctx context.Context, accountCode string) (*domain.Account, error)
}

// AuthHandler exposes authentication endpoints.
type AuthHandler struct {
	auth AuthService
}

// NewAuthHandler constructs AuthHandler.
func NewAuthHandler(auth AuthService) *AuthHandler {
	return &AuthHandler{auth: auth}
}

// Login exchanges an email or dealer code and password for a bearer token.
func (h *AuthHandler) Login(c *gin.Context) {
	var req AuthLoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondInvalidPayload(c)
		return
	}

	result, err := h.auth.Login(c.Request.Context(), req.Identifier, req.Password)
	if err != nil {
		RespondWithMappedError(c, err, authErrorCases, "failed to authenticate")
		return
	}

	c.Set(middleware.AccountCodeKey, result.Account.AccountCode)
	c.JSON(http.StatusOK, AuthLoginResponse{
		Success:   true,
		Token:     result.Token,
		TokenType: "Bearer",
		ExpiresIn: int(result.ExpiresIn.Seconds()),
		ExpiresAt: result.ExpiresAt,
		User:      newAccountSummary(result.Account),
	})
}

// Validate returns the dealer behind the bearer token. It must run after middleware.RequireBearer.
func (h *AuthHandler) Validate(c *gin.Context) {
	accountCode := middleware.GetAccountCode(c)
	account, err := h.auth.CurrentAccount(c.Request.Context(), accountCode)
	if err != nil {
		RespondWithMappedError(c, err, authErrorCases, "failed to load account")
		return
	}

	c.JSON(http.StatusOK, AuthValidateResponse{Success: true, User: newAccountSummary(*account)})
}
