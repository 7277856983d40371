package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"google.golang.org/grpc"

	"github.com/tranzio/tranzio-api/internal/core/domain"
	"github.com/tranzio/tranzio-api/internal/core/port"
	"github.com/tranzio/tranzio-api/internal/infra/config"
	"github.com/tranzio/tranzio-api/internal/infra/database"
	kafkainfra "github.com/tranzio/tranzio-api/internal/infra/kafka"
	"github.com/tranzio/tranzio-api/internal/infra/logger"
	"github.com/tranzio/tranzio-api/internal/infra/mail"
	redisinfra "github.com/tranzio/tranzio-api/internal/infra/redis"
	"github.com/tranzio/tranzio-api/internal/infra/security"
	"github.com/tranzio/tranzio-api/internal/infra/sms"
	"github.com/tranzio/tranzio-api/internal/infra/telemetry"
	postgresrepo "github.com/tranzio/tranzio-api/internal/repository/postgres"
	redisrepo "github.com/tranzio/tranzio-api/internal/repository/redis"
	transportgrpc "github.com/tranzio/tranzio-api/internal/transport/grpc"
	grpcinterceptors "github.com/tranzio/tranzio-api/internal/transport/grpc/interceptors"
	"github.com/tranzio/tranzio-api/internal/transport/http/middleware"
	"github.com/tranzio/tranzio-api/internal/transport/http/routes"
	"github.com/tranzio/tranzio-api/internal/usecase"
)

const tracerName = "github.com/tranzio/tranzio-api"

type Application struct {
	cfg        *config.AppConfig
	engine     *gin.Engine
	logger     *zap.Logger
	pool       *pgxpool.Pool
	redis      *redisinfra.Client
	tracer     *telemetry.TracerProvider
	producer   *kafkainfra.Producer
	grpcServer *transportgrpc.Server
	grpcAddr   string
}

func New(ctx context.Context, cfg *config.AppConfig) (_ *Application, err error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	log, err := logger.New(cfg.App.Env)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	// Release whatever was opened when a later step fails.
	var closers []func()
	defer func() {
		if err != nil {
			for i := len(closers) - 1; i >= 0; i-- {
				closers[i]()
			}
		}
	}()

	tp, err := telemetry.NewTracerProvider(ctx, cfg.Telemetry, log)
	if err != nil {
		return nil, fmt.Errorf("init telemetry: %w", err)
	}
	closers = append(closers, func() { _ = tp.Shutdown(context.Background()) })
	tracer := tp.Tracer(tracerName)

	pool, err := database.NewPostgresPool(ctx, cfg.Postgres, log)
	if err != nil {
		return nil, fmt.Errorf("init postgres: %w", err)
	}
	closers = append(closers, pool.Close)

	redisClient, err := redisinfra.NewClient(ctx, cfg.Redis, log)
	if err != nil {
		return nil, fmt.Errorf("init redis: %w", err)
	}
	closers = append(closers, func() { _ = redisClient.Close() })

	hasher, err := security.NewArgon2Hasher(security.Argon2Config{
		Memory:      cfg.Argon2.Memory,
		Iterations:  cfg.Argon2.Iterations,
		Parallelism: cfg.Argon2.Parallelism,
		SaltLength:  cfg.Argon2.SaltLength,
		KeyLength:   cfg.Argon2.KeyLength,
	})
	if err != nil {
		return nil, fmt.Errorf("configure argon2: %w", err)
	}

	accountCodes, err := security.NewSnowflakeCodeGenerator(cfg.App.NodeID)
	if err != nil {
		return nil, fmt.Errorf("init account code generator: %w", err)
	}

	tokens, err := security.NewTokenManager(cfg.JWT.Secret, cfg.App.Name, cfg.JWT.AccessTokenTTL)
	if err != nil {
		return nil, fmt.Errorf("init token manager: %w", err)
	}

	notifier, err := newNotifier(cfg.SMTP, log)
	if err != nil {
		return nil, err
	}
	smsSender, err := newSMSSender(cfg.SMS, log)
	if err != nil {
		return nil, err
	}

	var (
		events   port.EventPublisher
		producer *kafkainfra.Producer
	)
	if len(cfg.Kafka.Brokers) > 0 {
		producer, err = kafkainfra.NewProducer(cfg.Kafka, log)
		if err != nil {
			log.Warn("failed to init kafka producer, using stub publisher", zap.Error(err))
			producer, err = nil, nil
			events = kafkainfra.NewStubPublisher(log)
		} else {
			closers = append(closers, func() { _ = producer.Close() })
			events = kafkainfra.NewEventPublisher(producer, cfg.App, log)
			log.Info("kafka event publisher initialized", zap.Strings("brokers", cfg.Kafka.Brokers))
		}
	} else {
		log.Info("kafka brokers not configured, using stub publisher")
		events = kafkainfra.NewStubPublisher(log)
	}

	signupMetrics, err := telemetry.NewSignupMetrics(prometheus.DefaultRegisterer)
	if err != nil {
		return nil, fmt.Errorf("init signup metrics: %w", err)
	}
	httpMetrics, err := middleware.NewHTTPMetrics(middleware.HTTPMetricsOptions{})
	if err != nil {
		return nil, fmt.Errorf("init http metrics: %w", err)
	}
	grpcMetrics, err := grpcinterceptors.NewGRPCMetrics(grpcinterceptors.GRPCMetricsOptions{})
	if err != nil {
		return nil, fmt.Errorf("init grpc metrics: %w", err)
	}

	keyPrefix := redisClient.KeyPrefix()
	credentials := postgresrepo.NewCredentialRepository(pool)
	challenges := redisrepo.NewOTPRepository(redisClient.Client(), keyPrefix)
	resendGuard := redisrepo.NewResendGuardRepository(redisClient.Client(), keyPrefix)
	rateLimitStore := redisrepo.NewRateLimitRepository(redisClient.Client(), keyPrefix)

	signupService, err := usecase.NewSignupService(credentials, notifier, hasher, accountCodes,
		signupSettings(cfg),
		log,
		usecase.WithSignupMetrics(signupMetrics),
		usecase.WithSignupTracer(tracer),
		usecase.WithSignupEvents(events),
		usecase.WithSignupResendGuard(resendGuard),
	)
	if err != nil {
		return nil, fmt.Errorf("init signup service: %w", err)
	}

	mobileOTPService, err := usecase.NewMobileOTPService(challenges, smsSender, resendGuard,
		mobileOTPSettings(cfg),
		signupMetrics, tracer, log,
	)
	if err != nil {
		return nil, fmt.Errorf("init mobile otp service: %w", err)
	}

	authService, err := usecase.NewAuthService(credentials, hasher, tokens)
	if err != nil {
		return nil, fmt.Errorf("init auth service: %w", err)
	}

	deps := routes.Dependencies{
		Config:      cfg,
		Logger:      log,
		RateLimiter: middleware.NewRateLimiter(rateLimitStore, log).
			WithDegradationPolicy(domain.NewDegradationPolicy(domain.ParseDegradationPolicyMode(cfg.RateLimit.DegradationPolicy))),
		Metrics:     httpMetrics,
		Tracer:      tracer,
		Database:    pool,
		Cache:       redisClient,
		Services: routes.ServiceSet{
			Signup:    signupService,
			MobileOTP: mobileOTPService,
			Auth:      authService,
		},
	}
	health := routes.NewHealthHandler(deps)
	deps.Health = health
	engine := routes.Register(deps)

	grpcSrv := transportgrpc.NewServer(transportgrpc.ServerDependencies{
		Logger:         log,
		Metrics:        grpcMetrics,
		TracerProvider: tp.Provider(),
		Readiness:      health.CheckAll,
	})

	return &Application{
		cfg:        cfg,
		engine:     engine,
		logger:     log,
		pool:       pool,
		redis:      redisClient,
		tracer:     tp,
		producer:   producer,
		grpcServer: grpcSrv,
		grpcAddr:   fmt.Sprintf("%s:%d", cfg.GRPC.Host, cfg.GRPC.Port),
	}, nil
}

func signupSettings(cfg *config.AppConfig) usecase.SignupSettings {
	return usecase.SignupSettings{
		OTPLength:       cfg.OTP.Length,
		OTPWindow:       cfg.OTP.Window,
		ResendCooldown:  cfg.OTP.ResendCooldown,
		MaxResends:      cfg.OTP.MaxResends,
		DeliveryTimeout: cfg.SMTP.Timeout,
	}
}

func mobileOTPSettings(cfg *config.AppConfig) usecase.MobileOTPSettings {
	return usecase.MobileOTPSettings{
		OTPLength:       cfg.OTP.Length,
		OTPWindow:       cfg.OTP.Window,
		Retention:       cfg.OTP.Retention,
		ResendCooldown:  cfg.OTP.ResendCooldown,
		MaxAttempts:     cfg.OTP.MaxAttempts,
		DeliveryTimeout: cfg.SMS.Timeout,
	}
}

func newNotifier(cfg config.SMTPSettings, log *zap.Logger) (port.Notifier, error) {
	if cfg.Host == "" {
		log.Warn("smtp host not configured, emails are written to the log")
		return mail.NewLoggingNotifier(log), nil
	}
	notifier, err := mail.NewSMTPNotifier(cfg, log)
	if err != nil {
		return nil, fmt.Errorf("init smtp notifier: %w", err)
	}
	return notifier, nil
}

func newSMSSender(cfg config.SMSSettings, log *zap.Logger) (port.SMSSender, error) {
	if cfg.BaseURL == "" {
		log.Warn("sms gateway not configured, messages are written to the log")
		return mail.NewLoggingNotifier(log), nil
	}
	client, err := sms.NewClient(cfg, log)
	if err != nil {
		return nil, fmt.Errorf("init sms client: %w", err)
	}
	return client, nil
}

func (a *Application) Run(ctx context.Context) error {
	defer func() {
		_ = a.logger.Sync()
	}()
	defer a.close()

	lis, err := net.Listen("tcp", a.grpcAddr)
	if err != nil {
		return fmt.Errorf("listen grpc: %w", err)
	}

	errCh := make(chan error, 2)

	a.logger.Info("starting gRPC server", zap.String("address", a.grpcAddr))
	go func() {
		if err := a.grpcServer.Serve(ctx, lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			errCh <- fmt.Errorf("run grpc server: %w", err)
		}
	}()

	srv := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", a.cfg.App.Host, a.cfg.App.Port),
		Handler:           a.engine,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	a.logger.Info("starting Tranzio API",
		zap.String("env", a.cfg.App.Env),
		zap.String("address", srv.Addr),
	)

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("run server: %w", err)
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
		a.logger.Info("shutdown signal received")
	case runErr = <-errCh:
		a.logger.Error("server failed", zap.Error(runErr))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	a.grpcServer.GracefulStop()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return errors.Join(runErr, fmt.Errorf("shutdown server: %w", err))
	}
	return runErr
}

func (a *Application) close() {
	if a.producer != nil {
		if err := a.producer.Close(); err != nil {
			a.logger.Warn("close kafka producer", zap.Error(err))
		}
	}
	if a.tracer != nil {
		if err := a.tracer.Shutdown(context.Background()); err != nil {
			a.logger.Warn("shutdown tracer provider", zap.Error(err))
		}
	}
	if a.redis != nil {
		_ = a.redis.Close()
	}
	if a.pool != nil {
		a.pool.Close()
	}
}
