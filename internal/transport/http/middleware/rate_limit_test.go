package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap/zaptest"

	"github.com/tranzio/tranzio-api/internal/core/domain"
	"github.com/tranzio/tranzio-api/internal/core/port"
)

type fakeRateLimitStore struct {
	decisions map[string]port.RateLimitDecision
	err       error
	keys      []string
}

func (f *fakeRateLimitStore) Hit(_ context.Context, key string, limit int, window time.Duration, now time.Time) (port.RateLimitDecision, error) {
	f.keys = append(f.keys, key)
	if f.err != nil {
		return port.RateLimitDecision{}, f.err
	}
	if d, ok := f.decisions[key]; ok {
		return d, nil
	}
	return port.RateLimitDecision{Allowed: true, Count: 1, ResetAt: now.Add(window)}, nil
}

func fixedIdentifier(id string) IdentifierFunc {
	return func(*gin.Context) (string, bool) { return id, true }
}

func newLimitedRouter(t *testing.T, limiter *RateLimiter, rules ...RateLimitRule) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.POST("/signup/resend-otp", limiter.RateLimit(rules...), func(c *gin.Context) {
		body, _ := io.ReadAll(c.Request.Body)
		c.String(http.StatusOK, string(body))
	})
	return router
}

func TestRateLimiterAllowsWhenBelowLimit(t *testing.T) {
	now := time.Date(2025, 10, 12, 10, 0, 0, 0, time.UTC)
	store := &fakeRateLimitStore{decisions: map[string]port.RateLimitDecision{
		"resend:192.0.2.1": {Allowed: true, Count: 3, ResetAt: now.Add(30 * time.Second)},
	}}
	limiter := NewRateLimiter(store, zaptest.NewLogger(t)).WithClock(func() time.Time { return now })
	router := newLimitedRouter(t, limiter, RateLimitRule{Name: "resend", Limit: 5, Window: time.Minute, Identifier: fixedIdentifier("192.0.2.1")})

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/signup/resend-otp", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if got := rr.Header().Get("X-RateLimit-Limit"); got != "5" {
		t.Fatalf("unexpected limit header %q", got)
	}
	if got := rr.Header().Get("X-RateLimit-Remaining"); got != "2" {
		t.Fatalf("unexpected remaining header %q", got)
	}
	if got := rr.Header().Get("X-RateLimit-Reset"); got != strconv.FormatInt(now.Add(30*time.Second).Unix(), 10) {
		t.Fatalf("unexpected reset header %q", got)
	}
	if rr.Header().Get("Retry-After") != "" {
		t.Fatal("Retry-After must only be set on rejection")
	}
}

func TestRateLimiterBlocksWhenLimitExceeded(t *testing.T) {
	now := time.Date(2025, 10, 12, 10, 0, 0, 0, time.UTC)
	store := &fakeRateLimitStore{decisions: map[string]port.RateLimitDecision{
		"resend:192.0.2.1": {Allowed: false, Count: 5, ResetAt: now.Add(12500 * time.Millisecond)},
	}}
	limiter := NewRateLimiter(store, zaptest.NewLogger(t)).WithClock(func() time.Time { return now })
	router := newLimitedRouter(t, limiter, RateLimitRule{Name: "resend", Limit: 5, Window: time.Minute, Identifier: fixedIdentifier("192.0.2.1")})

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/signup/resend-otp", nil))

	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rr.Code)
	}
	if got := rr.Header().Get("Retry-After"); got != "13" {
		t.Fatalf("expected Retry-After 13, got %q", got)
	}
	if got := rr.Header().Get("X-RateLimit-Remaining"); got != "0" {
		t.Fatalf("expected remaining 0, got %q", got)
	}

	var body RateLimitedResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body.Success || body.Code != "rate_limited" || body.RetryAfter != 13 {
		t.Fatalf("unexpected body %+v", body)
	}
}

func TestRateLimiterFailsOpenOnStoreError(t *testing.T) {
	store := &fakeRateLimitStore{err: errors.New("redis: connection refused")}
	limiter := NewRateLimiter(store, zaptest.NewLogger(t))
	router := newLimitedRouter(t, limiter, RateLimitRule{Name: "resend", Limit: 1, Window: time.Minute, Identifier: fixedIdentifier("192.0.2.1")})

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/signup/resend-otp", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected request to pass when the store fails, got %d", rr.Code)
	}
	if rr.Header().Get("X-RateLimit-Limit") != "" {
		t.Fatal("no headers expected without a decision")
	}
}

func TestRateLimiterStrictPolicyRejectsOnStoreError(t *testing.T) {
	store := &fakeRateLimitStore{err: errors.New("redis: connection refused")}
	limiter := NewRateLimiter(store, zaptest.NewLogger(t)).
		WithDegradationPolicy(domain.NewDegradationPolicy(domain.DegradationPolicyModeStrict))
	router := newLimitedRouter(t, limiter, RateLimitRule{Name: "resend", Limit: 1, Window: time.Minute, Identifier: fixedIdentifier("192.0.2.1")})

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/signup/resend-otp", nil))

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 under the strict policy, got %d", rr.Code)
	}
	var body RateLimitedResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body.Code != "rate_limit_unavailable" {
		t.Fatalf("unexpected code %q", body.Code)
	}
}

func TestRateLimiterReportsTightestRule(t *testing.T) {
	now := time.Date(2025, 10, 12, 10, 0, 0, 0, time.UTC)
	store := &fakeRateLimitStore{decisions: map[string]port.RateLimitDecision{
		"ip:192.0.2.1":     {Allowed: true, Count: 2, ResetAt: now.Add(time.Minute)},
		"email:a@b.com":    {Allowed: true, Count: 4, ResetAt: now.Add(20 * time.Second)},
		"unused:something": {Allowed: false},
	}}
	limiter := NewRateLimiter(store, zaptest.NewLogger(t)).WithClock(func() time.Time { return now })
	router := newLimitedRouter(t, limiter,
		RateLimitRule{Name: "ip", Limit: 10, Window: time.Minute, Identifier: fixedIdentifier("192.0.2.1")},
		RateLimitRule{Name: "email", Limit: 5, Window: time.Minute, Identifier: JSONFieldIdentifier("email")},
		RateLimitRule{Name: "disabled", Limit: 0, Window: time.Minute, Identifier: fixedIdentifier("x")},
	)

	payload := `{"email":" A@B.com "}`
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/signup/resend-otp", strings.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if rr.Body.String() != payload {
		t.Fatalf("handler must see the original body, got %q", rr.Body.String())
	}
	if got := rr.Header().Get("X-RateLimit-Remaining"); got != "1" {
		t.Fatalf("expected remaining from the email rule, got %q", got)
	}
	if len(store.keys) != 2 {
		t.Fatalf("disabled rule must be skipped, hits: %v", store.keys)
	}
}

func TestJSONFieldIdentifierSkipsInvalidBodies(t *testing.T) {
	gin.SetMode(gin.TestMode)
	identify := JSONFieldIdentifier("email")

	for _, body := range []string{"", "not json", `{"email": 42}`, `{"email": "  "}`} {
		c, _ := gin.CreateTestContext(httptest.NewRecorder())
		c.Request = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
		if id, ok := identify(c); ok {
			t.Errorf("body %q: expected no identifier, got %q", body, id)
		}
	}
}

func TestJSONFieldIdentifierKeepsOversizedBodyWhole(t *testing.T) {
	gin.SetMode(gin.TestMode)
	identify := JSONFieldIdentifier("email")

	payload := `{"email":"a@b.com","note":"` + strings.Repeat("x", maxIdentifierBodyBytes+4096) + `"}`
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	c.Request = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(payload))

	if id, ok := identify(c); ok {
		t.Fatalf("oversized body should not be scoped, got %q", id)
	}
	restored, err := io.ReadAll(c.Request.Body)
	if err != nil {
		t.Fatalf("read restored body: %v", err)
	}
	if len(restored) != len(payload) || string(restored) != payload {
		t.Fatalf("expected %d restored bytes, got %d", len(payload), len(restored))
	}
	if err := c.Request.Body.Close(); err != nil {
		t.Fatalf("close restored body: %v", err)
	}
}
