package routes

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/tranzio/tranzio-api/internal/infra/config"
	"github.com/tranzio/tranzio-api/internal/transport/http/handlers"
	"github.com/tranzio/tranzio-api/internal/transport/http/middleware"
)

// TokenAuthenticator is what the HTTP layer needs from the auth service.
type TokenAuthenticator interface {
	handlers.AuthService
	middleware.TokenParser
}

// ServiceSet groups the services the HTTP layer depends on.
type ServiceSet struct {
	Signup    handlers.SignupService
	MobileOTP handlers.MobileOTPService
	Auth      TokenAuthenticator
}

// Dependencies encapsulates the objects required to register routes.
type Dependencies struct {
	Config      *config.AppConfig
	Logger      *zap.Logger
	RateLimiter *middleware.RateLimiter
	Services    ServiceSet
	Metrics     *middleware.HTTPMetrics
	// MetricsHandler serves /metrics; defaults to the global Prometheus registry.
	MetricsHandler http.Handler
	Tracer         trace.Tracer
	Health         *handlers.HealthHandler
	Database       DatabaseChecker
	Cache          CacheChecker
}

// DatabaseChecker exposes readiness behaviour for database connections.
type DatabaseChecker interface {
	Ping(ctx context.Context) error
}

// CacheChecker exposes readiness behaviour for cache backends.
type CacheChecker interface {
	HealthCheck(ctx context.Context) error
}

// Register configures the Gin engine with routes and middleware.
func Register(deps Dependencies) *gin.Engine {
	if deps.Config == nil {
		deps.Config = &config.AppConfig{}
	}
	if deps.Config.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.CORS(deps.Config.CORS.AllowedOrigins))
	r.Use(middleware.Tracing(deps.Tracer))
	r.Use(middleware.EnrichContext())
	r.Use(middleware.RequestID())
	r.Use(middleware.Logger(deps.Logger))
	r.Use(deps.Metrics.Handler())

	health := deps.Health
	if health == nil {
		health = NewHealthHandler(deps)
	}
	r.GET("/health", health.Status)
	r.GET("/ready", health.Readiness)

	metricsHandler := deps.MetricsHandler
	if metricsHandler == nil {
		metricsHandler = promhttp.Handler()
	}
	r.GET("/metrics", gin.WrapH(metricsHandler))

	limits := newLimitBuilder(deps)

	if deps.Services.Signup != nil {
		signup := handlers.NewSignupHandler(deps.Services.Signup)
		group := r.Group("/signup")
		group.POST("/initiate", limits.with(signup.Initiate, limits.perIP("signup_initiate_ip", deps.Config.RateLimit.SignupMaxAttempts))...)
		group.POST("/verify-otp", limits.with(signup.Verify,
			limits.perIP("signup_verify_ip", deps.Config.RateLimit.VerifyMaxAttempts),
			limits.perField("signup_verify_email", "email", deps.Config.RateLimit.VerifyMaxAttempts),
		)...)
		group.POST("/resend-otp", limits.with(signup.Resend,
			limits.perIP("signup_resend_ip", deps.Config.RateLimit.ResendMaxAttempts),
			limits.perField("signup_resend_email", "email", deps.Config.RateLimit.ResendMaxAttempts),
		)...)
	}

	if deps.Services.MobileOTP != nil {
		mobile := handlers.NewMobileOTPHandler(deps.Services.MobileOTP)
		r.POST("/send-otp", limits.with(mobile.Send,
			limits.perIP("mobile_send_ip", deps.Config.RateLimit.MobileOTPMaxAttempts),
			limits.perField("mobile_send_number", "mobileNo", deps.Config.RateLimit.MobileOTPMaxAttempts),
		)...)
		r.POST("/verify-otp", limits.with(mobile.Verify, limits.perIP("mobile_verify_ip", deps.Config.RateLimit.VerifyMaxAttempts))...)
	}

	if deps.Services.Auth != nil {
		auth := handlers.NewAuthHandler(deps.Services.Auth)
		group := r.Group("/auth")
		group.POST("/login", limits.with(auth.Login, limits.perIP("auth_login_ip", deps.Config.RateLimit.LoginMaxAttempts))...)
		group.GET("/validate", middleware.RequireBearer(deps.Services.Auth), auth.Validate)
	}

	return r
}

// NewHealthHandler builds the health handler with the configured readiness checks.
func NewHealthHandler(deps Dependencies) *handlers.HealthHandler {
	opts := make([]handlers.HealthOption, 0, 2)
	if deps.Database != nil {
		opts = append(opts, handlers.WithReadinessCheck("postgres", deps.Database.Ping))
	}
	if deps.Cache != nil {
		opts = append(opts, handlers.WithReadinessCheck("redis", deps.Cache.HealthCheck))
	}
	return handlers.NewHealthHandler(opts...)
}

type limitBuilder struct {
	limiter *middleware.RateLimiter
	window  time.Duration
}

func newLimitBuilder(deps Dependencies) limitBuilder {
	window := deps.Config.RateLimit.WindowDuration
	if window <= 0 {
		window = time.Minute
	}
	return limitBuilder{limiter: deps.RateLimiter, window: window}
}

func (b limitBuilder) perIP(name string, limit int) *middleware.RateLimitRule {
	if b.limiter == nil || limit <= 0 {
		return nil
	}
	return &middleware.RateLimitRule{Name: name, Limit: limit, Window: b.window, Identifier: middleware.ClientIPIdentifier()}
}

func (b limitBuilder) perField(name, field string, limit int) *middleware.RateLimitRule {
	if b.limiter == nil || limit <= 0 {
		return nil
	}
	return &middleware.RateLimitRule{Name: name, Limit: limit, Window: b.window, Identifier: middleware.JSONFieldIdentifier(field)}
}

// with prepends a single rate limit middleware holding every non-nil rule.
func (b limitBuilder) with(handler gin.HandlerFunc, rules ...*middleware.RateLimitRule) []gin.HandlerFunc {
	active := make([]middleware.RateLimitRule, 0, len(rules))
	for _, rule := range rules {
		if rule != nil {
			active = append(active, *rule)
		}
	}
	if b.limiter == nil || len(active) == 0 {
		return []gin.HandlerFunc{handler}
	}
	return []gin.HandlerFunc{b.limiter.RateLimit(active...), handler}
}
