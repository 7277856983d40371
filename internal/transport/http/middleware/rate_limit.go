package middleware

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/tranzio/tranzio-api/internal/core/domain"
	"github.com/tranzio/tranzio-api/internal/core/port"
	appLogger "github.com/tranzio/tranzio-api/internal/infra/logger"
)

const maxIdentifierBodyBytes = 64 << 10

// IdentifierFunc extracts the identifier used to scope rate limits (e.g., client IP).
type IdentifierFunc func(*gin.Context) (string, bool)

// RateLimitRule configures a sliding-window limit for a particular identifier.
type RateLimitRule struct {
	Name       string
	Limit      int
	Window     time.Duration
	Identifier IdentifierFunc
}

// RateLimiter enforces sliding-window rules backed by a shared store.
type RateLimiter struct {
	store  port.RateLimitStore
	logger *zap.Logger
	policy domain.DegradationPolicy
	now    func() time.Time
}

type ruleResult struct {
	rule       RateLimitRule
	decision   port.RateLimitDecision
	retryAfter time.Duration
}

func (r ruleResult) remaining() int {
	if !r.decision.Allowed {
		return 0
	}
	return max(r.rule.Limit-r.decision.Count, 0)
}

// RateLimitedResponse is the body returned with 429.
type RateLimitedResponse struct {
	Success    bool   `json:"success"`
	Error      string `json:"error"`
	Code       string `json:"code"`
	RetryAfter int    `json:"retryAfter"`
	TraceID    string `json:"trace_id,omitempty"`
}

// NewRateLimiter builds a reusable rate limiter middleware helper.
func NewRateLimiter(store port.RateLimitStore, logger *zap.Logger) *RateLimiter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RateLimiter{
		store:  store,
		logger: logger,
		policy: domain.NewDegradationPolicy(domain.DegradationPolicyModeLenient),
		now:    time.Now,
	}
}

// WithDegradationPolicy selects whether store failures let requests through or reject them.
func (rl *RateLimiter) WithDegradationPolicy(policy domain.DegradationPolicy) *RateLimiter {
	rl.policy = policy
	return rl
}

// WithClock allows injection of a custom clock (primarily for testing).
func (rl *RateLimiter) WithClock(now func() time.Time) *RateLimiter {
	if now != nil {
		rl.now = now
	}
	return rl
}

type readCloser struct {
	io.Reader
	io.Closer
}

// ClientIPIdentifier builds an IdentifierFunc using the request's client IP.
func ClientIPIdentifier() IdentifierFunc {
	return func(c *gin.Context) (string, bool) {
		ip := c.ClientIP()
		if ip == "" {
			return "", false
		}
		return ip, true
	}
}

// JSONFieldIdentifier scopes a rule by a string field of the JSON body, such as
// the email a code is resent to. The body is restored for the handler.
func JSONFieldIdentifier(field string) IdentifierFunc {
	return func(c *gin.Context) (string, bool) {
		if c.Request.Body == nil {
			return "", false
		}
		body := c.Request.Body
		raw, err := io.ReadAll(io.LimitReader(body, maxIdentifierBodyBytes))
		// Bodies past the peek limit are handed on whole and left unscoped.
		c.Request.Body = readCloser{Reader: io.MultiReader(bytes.NewReader(raw), body), Closer: body}
		if err != nil || len(raw) == 0 || len(raw) == maxIdentifierBodyBytes {
			return "", false
		}

		var payload map[string]any
		if err := json.Unmarshal(raw, &payload); err != nil {
			return "", false
		}
		value, ok := payload[field].(string)
		value = strings.ToLower(strings.TrimSpace(value))
		if !ok || value == "" {
			return "", false
		}
		return value, true
	}
}

// RateLimit returns a Gin middleware enforcing the provided rules. Store
// failures are logged and handled according to the degradation policy.
func (rl *RateLimiter) RateLimit(rules ...RateLimitRule) gin.HandlerFunc {
	filtered := make([]RateLimitRule, 0, len(rules))
	for _, rule := range rules {
		if rule.Identifier == nil || rule.Limit <= 0 || rule.Window <= 0 {
			continue
		}
		if rule.Name == "" {
			rule.Name = "default"
		}
		filtered = append(filtered, rule)
	}

	return func(c *gin.Context) {
		if len(filtered) == 0 || rl.store == nil {
			c.Next()
			return
		}

		now := rl.now()
		var tightest *ruleResult

		for _, rule := range filtered {
			identifier, ok := rule.Identifier(c)
			if !ok || identifier == "" {
				continue
			}

			key := fmt.Sprintf("%s:%s", rule.Name, identifier)
			decision, err := rl.store.Hit(c.Request.Context(), key, rule.Limit, rule.Window, now)
			if err != nil {
				rl.logger.Warn("rate limit check failed",
					zap.String("rule", rule.Name),
					zap.String("client_ip", appLogger.MaskIP(c.ClientIP())),
					zap.Error(err))
				if !rl.policy.AllowsFallback(domain.DegradationReasonRateLimitUnavailable) {
					c.AbortWithStatusJSON(http.StatusServiceUnavailable, RateLimitedResponse{
						Success: false,
						Error:   "Service temporarily unavailable. Please try again.",
						Code:    string(domain.DegradationReasonRateLimitUnavailable),
						TraceID: GetTraceID(c),
					})
					return
				}
				continue
			}

			res := ruleResult{rule: rule, decision: decision, retryAfter: max(decision.ResetAt.Sub(now), 0)}
			if !decision.Allowed {
				rl.applyHeaders(c, res)
				rl.respondRateLimited(c, res)
				return
			}
			if tightest == nil || res.remaining() < tightest.remaining() {
				snapshot := res
				tightest = &snapshot
			}
		}

		if tightest != nil {
			rl.applyHeaders(c, *tightest)
		}

		c.Next()
	}
}

func (rl *RateLimiter) applyHeaders(c *gin.Context, res ruleResult) {
	headers := c.Writer.Header()
	headers.Set("X-RateLimit-Limit", strconv.Itoa(res.rule.Limit))
	headers.Set("X-RateLimit-Remaining", strconv.Itoa(res.remaining()))
	headers.Set("X-RateLimit-Reset", strconv.FormatInt(res.decision.ResetAt.Unix(), 10))
	if !res.decision.Allowed {
		headers.Set("Retry-After", strconv.Itoa(retrySeconds(res.retryAfter)))
	}
}

func (rl *RateLimiter) respondRateLimited(c *gin.Context, res ruleResult) {
	seconds := retrySeconds(res.retryAfter)
	rl.logger.Info("rate limit exceeded",
		zap.String("rule", res.rule.Name),
		zap.String("client_ip", appLogger.MaskIP(c.ClientIP())),
		zap.Int("retry_after_seconds", seconds))

	c.AbortWithStatusJSON(http.StatusTooManyRequests, RateLimitedResponse{
		Success:    false,
		Error:      fmt.Sprintf("Too many requests. Try again in %d seconds.", seconds),
		Code:       "rate_limited",
		RetryAfter: seconds,
		TraceID:    GetTraceID(c),
	})
}

func retrySeconds(d time.Duration) int {
	return max(int(math.Ceil(d.Seconds())), 0)
}
