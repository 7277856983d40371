package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/tranzio/tranzio-api/internal/infra/security"
	"github.com/tranzio/tranzio-api/internal/usecase"
)

// ClaimsKey is the gin context key holding *security.AccessTokenClaims.
const ClaimsKey = "claims"

// TokenParser validates bearer tokens. usecase.AuthService implements it.
type TokenParser interface {
	ParseAccessToken(token string) (*security.AccessTokenClaims, error)
}

// ErrorResponse mirrors the handlers error body for responses written by middleware.
type ErrorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Code    string `json:"code"`
	TraceID string `json:"trace_id,omitempty"`
}

func abortUnauthorized(c *gin.Context, code, message string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, ErrorResponse{
		Error:   message,
		Code:    code,
		TraceID: GetTraceID(c),
	})
}

// RequireBearer validates the Authorization header and stores the dealer identity.
func RequireBearer(parser TokenParser) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := strings.TrimSpace(c.GetHeader("Authorization"))
		if authHeader == "" {
			abortUnauthorized(c, "unauthorized", "missing authorization header")
			return
		}

		scheme, token, found := strings.Cut(authHeader, " ")
		if !found || !strings.EqualFold(scheme, "Bearer") {
			abortUnauthorized(c, "unauthorized", "invalid authorization format: expected 'Bearer <token>'")
			return
		}
		token = strings.TrimSpace(token)
		if token == "" {
			abortUnauthorized(c, "unauthorized", "missing access token")
			return
		}

		claims, err := parser.ParseAccessToken(token)
		if err != nil {
			switch {
			case errors.Is(err, usecase.ErrExpiredAccessToken):
				abortUnauthorized(c, "token_expired", "access token expired")
			default:
				abortUnauthorized(c, "token_invalid", "invalid access token")
			}
			return
		}

		c.Set(AccountCodeKey, claims.AccountCode())
		c.Set(ClaimsKey, claims)
		if reqCtx := GetRequestContext(c); reqCtx != nil {
			reqCtx.AccountCode = claims.AccountCode()
		}

		c.Next()
	}
}

// GetClaims returns the claims stored by RequireBearer.
func GetClaims(c *gin.Context) (*security.AccessTokenClaims, bool) {
	value, ok := c.Get(ClaimsKey)
	if !ok {
		return nil, false
	}
	claims, ok := value.(*security.AccessTokenClaims)
	return claims, ok
}
