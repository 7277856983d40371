package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tranzio/tranzio-api/internal/core/domain"
	"github.com/tranzio/tranzio-api/internal/transport/http/middleware"
	"github.com/tranzio/tranzio-api/internal/usecase"
)

type fakeSignupService struct {
	initiateErr error
	verifyErr   error
	resendErr   error
	result      *usecase.VerifyResult

	lastInput usecase.SignupInput
	lastEmail string
	lastCode  string
}

func (f *fakeSignupService) Initiate(_ context.Context, input usecase.SignupInput) error {
	f.lastInput = input
	return f.initiateErr
}

func (f *fakeSignupService) Verify(_ context.Context, email, code string) (*usecase.VerifyResult, error) {
	f.lastEmail, f.lastCode = email, code
	if f.verifyErr != nil {
		return nil, f.verifyErr
	}
	return f.result, nil
}

func (f *fakeSignupService) Resend(_ context.Context, email string) error {
	f.lastEmail = email
	return f.resendErr
}

type fakeMobileService struct {
	expiresAt time.Time
	sendErr   error
	verifyErr error
}

func (f *fakeMobileService) Send(context.Context, string) (time.Time, error) {
	return f.expiresAt, f.sendErr
}

func (f *fakeMobileService) Verify(context.Context, string, string) error {
	return f.verifyErr
}

type fakeAuthService struct {
	result  *usecase.LoginResult
	err     error
	account *domain.Account
}

func (f *fakeAuthService) Login(context.Context, string, string) (*usecase.LoginResult, error) {
	return f.result, f.err
}

func (f *fakeAuthService) CurrentAccount(context.Context, string) (*domain.Account, error) {
	if f.account == nil {
		return nil, usecase.ErrInvalidAccessToken
	}
	return f.account, nil
}

func newTestRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(middleware.EnrichContext())
	return r
}

func postJSON(t *testing.T, r http.Handler, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)
	return rr
}

func decodeError(t *testing.T, rr *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var body ErrorResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode error body %q: %v", rr.Body.String(), err)
	}
	return body
}

func TestSignupHandler_InitiateSuccess(t *testing.T) {
	svc := &fakeSignupService{}
	r := newTestRouter()
	r.POST("/signup/initiate", NewSignupHandler(svc).Initiate)

	rr := postJSON(t, r, "/signup/initiate", `{"registrantType":"enterprise","displayName":"Asha Motors","mobile":"9876543210","email":"a@b.com","password":"secret1","confirmPassword":"secret1","ownerName":"R","ownerMobile":"9123456780","taxId":"GST","enterpriseCategory":"four_wheeler"}`)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if svc.lastInput.RegistrantType != domain.RegistrantEnterprise || svc.lastInput.TaxID != "GST" || svc.lastInput.ConfirmPassword != "secret1" {
		t.Fatalf("request not mapped: %+v", svc.lastInput)
	}
	var body SuccessResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil || !body.Success {
		t.Fatalf("unexpected body %s", rr.Body.String())
	}
}

func TestSignupHandler_ErrorMapping(t *testing.T) {
	cases := []struct {
		name    string
		err     error
		status  int
		code    string
		expired bool
	}{
		{name: "validation", err: &usecase.ValidationError{Fields: []usecase.FieldError{{Field: "confirmPassword", Message: "must match password"}}}, status: http.StatusBadRequest, code: "validation_failed"},
		{name: "not found", err: usecase.ErrPendingNotFound, status: http.StatusNotFound, code: "pending_not_found"},
		{name: "expired", err: usecase.ErrOTPExpired, status: http.StatusGone, code: "otp_expired", expired: true},
		{name: "invalid", err: usecase.ErrOTPInvalid, status: http.StatusBadRequest, code: "otp_invalid"},
		{name: "duplicate", err: usecase.ErrDuplicateAccount, status: http.StatusConflict, code: "duplicate_account"},
		{name: "transport", err: &usecase.TransportError{Channel: "email", Err: errors.New("smtp down")}, status: http.StatusBadGateway, code: "delivery_failed"},
		{name: "too soon", err: &usecase.ResendTooSoonError{RetryAfter: 1500 * time.Millisecond}, status: http.StatusTooManyRequests, code: "resend_too_soon"},
		{name: "limit", err: usecase.ErrResendLimitReached, status: http.StatusTooManyRequests, code: "resend_limit_reached"},
		{name: "unknown", err: errors.New("db exploded"), status: http.StatusInternalServerError, code: "internal_error"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc := &fakeSignupService{verifyErr: tc.err}
			r := newTestRouter()
			r.POST("/signup/verify-otp", NewSignupHandler(svc).Verify)

			rr := postJSON(t, r, "/signup/verify-otp", `{"email":"a@b.com","otp":"000000"}`)

			if rr.Code != tc.status {
				t.Fatalf("expected %d, got %d", tc.status, rr.Code)
			}
			body := decodeError(t, rr)
			if body.Success || body.Code != tc.code || body.Expired != tc.expired || body.TraceID == "" || body.Error == "" {
				t.Fatalf("unexpected body %+v", body)
			}
			if tc.code == "validation_failed" && (len(body.Fields) != 1 || body.Fields[0].Field != "confirmPassword") {
				t.Fatalf("expected field list, got %+v", body.Fields)
			}
			if tc.code == "resend_too_soon" && rr.Header().Get("Retry-After") != "2" {
				t.Fatalf("expected Retry-After 2, got %q", rr.Header().Get("Retry-After"))
			}
			if tc.code == "internal_error" && body.Error == "db exploded" {
				t.Fatal("internal errors must not leak")
			}
		})
	}
}

func TestSignupHandler_VerifySuccess(t *testing.T) {
	svc := &fakeSignupService{result: &usecase.VerifyResult{
		AccountCode: "TZ1ABC",
		Account:     domain.Account{AccountCode: "TZ1ABC", Email: "a@b.com", PasswordHash: "secret-hash"},
	}}
	r := newTestRouter()
	r.POST("/signup/verify-otp", NewSignupHandler(svc).Verify)

	rr := postJSON(t, r, "/signup/verify-otp", `{"email":"a@b.com","otp":"483920"}`)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if svc.lastCode != "483920" {
		t.Fatalf("otp not forwarded, got %q", svc.lastCode)
	}
	if bytes.Contains(rr.Body.Bytes(), []byte("secret-hash")) {
		t.Fatal("password hash must never be serialized")
	}
	var body SignupVerifyResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !body.Success || body.AccountCode != "TZ1ABC" || body.User.Email != "a@b.com" {
		t.Fatalf("unexpected body %+v", body)
	}
}

func TestSignupHandler_RejectsMalformedJSON(t *testing.T) {
	r := newTestRouter()
	r.POST("/signup/resend-otp", NewSignupHandler(&fakeSignupService{}).Resend)

	rr := postJSON(t, r, "/signup/resend-otp", `{"email":`)

	if rr.Code != http.StatusBadRequest || decodeError(t, rr).Code != "validation_failed" {
		t.Fatalf("expected 400 validation_failed, got %d %s", rr.Code, rr.Body.String())
	}
}

func TestMobileOTPHandler(t *testing.T) {
	now := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	svc := &fakeMobileService{expiresAt: now.Add(5 * time.Minute)}
	h := NewMobileOTPHandler(svc)
	h.now = func() time.Time { return now }

	r := newTestRouter()
	r.POST("/send-otp", h.Send)
	r.POST("/verify-otp", h.Verify)

	rr := postJSON(t, r, "/send-otp", `{"mobileNo":"9876543210"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("send: expected 200, got %d", rr.Code)
	}
	var sent MobileOTPSendResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &sent); err != nil || sent.ExpiresIn != 300 {
		t.Fatalf("unexpected send body %s", rr.Body.String())
	}

	svc.verifyErr = usecase.ErrOTPExpired
	rr = postJSON(t, r, "/verify-otp", `{"mobileNo":"9876543210","otp":"123456"}`)
	if rr.Code != http.StatusGone || !decodeError(t, rr).Expired {
		t.Fatalf("verify: expected 410 with expired flag, got %d %s", rr.Code, rr.Body.String())
	}

	svc.sendErr = &usecase.TransportError{Channel: "sms", Err: errors.New("gateway")}
	rr = postJSON(t, r, "/send-otp", `{"mobileNo":"9876543210"}`)
	if rr.Code != http.StatusBadGateway {
		t.Fatalf("send failure: expected 502, got %d", rr.Code)
	}
}

func TestAuthHandler_LoginAndValidate(t *testing.T) {
	account := domain.Account{AccountCode: "TZ1ABC", Email: "dealer@example.com", DisplayName: "Asha Motors"}
	svc := &fakeAuthService{
		result: &usecase.LoginResult{Token: "tok", ExpiresIn: 24 * time.Hour, Account: account},
	}
	h := NewAuthHandler(svc)

	r := newTestRouter()
	r.POST("/auth/login", h.Login)
	r.GET("/auth/validate", func(c *gin.Context) {
		c.Set(middleware.AccountCodeKey, "TZ1ABC")
		c.Next()
	}, h.Validate)

	rr := postJSON(t, r, "/auth/login", `{"identifier":"dealer@example.com","password":"secret1"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("login: expected 200, got %d", rr.Code)
	}
	var login AuthLoginResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &login); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if login.Token != "tok" || login.TokenType != "Bearer" || login.ExpiresIn != 86400 || login.User.AccountCode != "TZ1ABC" {
		t.Fatalf("unexpected login body %+v", login)
	}

	rr = httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/auth/validate", nil))
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("validate without account: expected 401, got %d", rr.Code)
	}

	svc.account = &account
	rr = httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/auth/validate", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("validate: expected 200, got %d", rr.Code)
	}

	svc.err = usecase.ErrInvalidCredentials
	rr = postJSON(t, r, "/auth/login", `{"identifier":"dealer@example.com","password":"nope"}`)
	if rr.Code != http.StatusUnauthorized || decodeError(t, rr).Code != "invalid_credentials" {
		t.Fatalf("bad login: expected 401 invalid_credentials, got %d %s", rr.Code, rr.Body.String())
	}
}

func TestHealthHandler_Readiness(t *testing.T) {
	healthy := func(context.Context) error { return nil }
	failing := func(context.Context) error { return errors.New("connection refused") }

	r := newTestRouter()
	h := NewHealthHandler(WithReadinessCheck("postgres", healthy), WithReadinessCheck("redis", failing), WithReadinessCheck("ignored", nil))
	r.GET("/health", h.Status)
	r.GET("/ready", h.Readiness)

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("health: expected 200, got %d", rr.Code)
	}

	rr = httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/ready", nil))
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("ready: expected 503, got %d", rr.Code)
	}
	var body ReadinessResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Checks["postgres"] != "ok" || body.Checks["redis"] != "connection refused" || len(body.Checks) != 2 {
		t.Fatalf("unexpected checks %+v", body.Checks)
	}
}
