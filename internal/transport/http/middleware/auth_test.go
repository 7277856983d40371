package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"github.com/tranzio/tranzio-api/internal/infra/security"
	"github.com/tranzio/tranzio-api/internal/usecase"
)

type fakeTokenParser struct {
	claims *security.AccessTokenClaims
	err    error
	seen   string
}

func (f *fakeTokenParser) ParseAccessToken(token string) (*security.AccessTokenClaims, error) {
	f.seen = token
	return f.claims, f.err
}

func newAuthRouter(parser TokenParser) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(EnrichContext())
	router.GET("/auth/validate", RequireBearer(parser), func(c *gin.Context) {
		claims, ok := GetClaims(c)
		if !ok {
			c.Status(http.StatusInternalServerError)
			return
		}
		c.String(http.StatusOK, GetAccountCode(c)+"|"+claims.Email)
	})
	return router
}

func TestRequireBearerAcceptsValidToken(t *testing.T) {
	parser := &fakeTokenParser{claims: &security.AccessTokenClaims{
		Email:            "dealer@example.com",
		RegisteredClaims: jwt.RegisteredClaims{Subject: "TZ1ABC"},
	}}
	router := newAuthRouter(parser)

	req := httptest.NewRequest(http.MethodGet, "/auth/validate", nil)
	req.Header.Set("Authorization", "bearer  abc.def.ghi ")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if rr.Body.String() != "TZ1ABC|dealer@example.com" {
		t.Fatalf("unexpected body %q", rr.Body.String())
	}
	if parser.seen != "abc.def.ghi" {
		t.Fatalf("expected trimmed token, got %q", parser.seen)
	}
}

func TestRequireBearerRejections(t *testing.T) {
	cases := []struct {
		name   string
		header string
		err    error
		code   string
	}{
		{name: "missing header", header: "", code: "unauthorized"},
		{name: "wrong scheme", header: "Basic Zm9vOmJhcg==", code: "unauthorized"},
		{name: "empty token", header: "Bearer ", code: "unauthorized"},
		{name: "expired", header: "Bearer expired", err: usecase.ErrExpiredAccessToken, code: "token_expired"},
		{name: "invalid", header: "Bearer garbage", err: usecase.ErrInvalidAccessToken, code: "token_invalid"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			router := newAuthRouter(&fakeTokenParser{err: tc.err})
			req := httptest.NewRequest(http.MethodGet, "/auth/validate", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rr := httptest.NewRecorder()
			router.ServeHTTP(rr, req)

			if rr.Code != http.StatusUnauthorized {
				t.Fatalf("expected 401, got %d", rr.Code)
			}
			var body ErrorResponse
			if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
				t.Fatalf("decode body: %v", err)
			}
			if body.Code != tc.code || body.TraceID == "" || body.Success {
				t.Fatalf("unexpected body %+v", body)
			}
		})
	}
}
