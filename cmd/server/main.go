// Server runs the MedConnect REST API and, when GRPC_ADDR is set, the internal
// gRPC health endpoint.
package main

import (
	"context"
	"net"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"google.golang.org/grpc/health"

	adminhandler "medconnect/backend/internal/admin/handler"
	"medconnect/backend/internal/audit"
	auditrepo "medconnect/backend/internal/audit/repository"
	"medconnect/backend/internal/config"
	"medconnect/backend/internal/db"
	"medconnect/backend/internal/devotp"
	devotphandler "medconnect/backend/internal/devotp/handler"
	healthhandler "medconnect/backend/internal/health/handler"
	identityhandler "medconnect/backend/internal/identity/handler"
	identityservice "medconnect/backend/internal/identity/service"
	applog "medconnect/backend/internal/log"
	"medconnect/backend/internal/notify/email"
	"medconnect/backend/internal/notify/sms"
	otprepo "medconnect/backend/internal/otp/repository"
	otpservice "medconnect/backend/internal/otp/service"
	"medconnect/backend/internal/platform/ratelimit"
	"medconnect/backend/internal/policy/engine"
	"medconnect/backend/internal/security"
	"medconnect/backend/internal/server"
	"medconnect/backend/internal/server/middleware"
	sessionhandler "medconnect/backend/internal/session/handler"
	sessionrepo "medconnect/backend/internal/session/repository"
	sessionservice "medconnect/backend/internal/session/service"
	"medconnect/backend/internal/telemetry"
	"medconnect/backend/internal/telemetry/otel"
	"medconnect/backend/internal/telemetry/producer"
	userhandler "medconnect/backend/internal/user/handler"
	userrepo "medconnect/backend/internal/user/repository"
	userservice "medconnect/backend/internal/user/service"
)

const (
	serviceName        = "medconnect-api"
	shutdownTimeout    = 10 * time.Second
	healthSyncInterval = 15 * time.Second
	resetMaxRequests   = 3
	resetWindow        = time.Hour
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	logger := applog.New(cfg.Env)

	if err := cfg.ValidateJWTSecret(); err != nil {
		logger.Fatal().Err(err).Msg("jwt secret")
	}
	if cfg.DatabaseURL == "" {
		logger.Fatal().Msg("DATABASE_URL is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	providers, err := otel.NewProviders(ctx, otel.Config{
		Endpoint:    cfg.OTLPEndpoint,
		Insecure:    cfg.OTLPInsecure,
		ServiceName: serviceName,
		Environment: cfg.Env,
	}, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("telemetry setup failed")
	}
	providers.SetGlobal()
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = providers.Shutdown(sctx)
	}()

	conn, err := db.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("database connection failed")
	}
	defer conn.Close()

	var (
		rdb         *redis.Client
		redisHealth healthhandler.RedisPinger
	)
	if cfg.RedisAddr != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			logger.Fatal().Err(err).Msg("redis connection failed")
		}
		defer rdb.Close()
		redisHealth = rdb
	} else {
		logger.Warn().Msg("REDIS_ADDR not set: login and reset throttling disabled")
	}
	var loginThrottle, resetLimiter *ratelimit.Limiter
	if rdb != nil {
		loginThrottle = ratelimit.New(rdb, ratelimit.Config{Prefix: "login", MaxAttempts: cfg.LoginMaxAttempts, Window: cfg.LoginCooldown()})
		resetLimiter = ratelimit.New(rdb, ratelimit.Config{Prefix: "pwreset", MaxAttempts: resetMaxRequests, Window: resetWindow})
	}

	policy, err := engine.NewOPAEvaluator(ctx, "", logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("policy engine")
	}

	emitters := telemetry.Fanout{otel.NewEventEmitter(providers.LoggerProvider)}
	if kp := producer.NewKafkaProducer(cfg.KafkaBrokersList(), cfg.AuthEventsTopic); kp != nil {
		emitters = append(emitters, kp)
		defer kp.Close()
	}
	auditLogger := audit.NewLogger(auditrepo.NewPostgresRepository(conn), emitters, middleware.ClientIP, logger)

	tokens, err := security.NewTokenService(cfg.JWTSecret(), cfg.JWTIssuer)
	if err != nil {
		logger.Fatal().Err(err).Msg("token service")
	}
	hasher := security.NewHasher(cfg.BcryptCost)

	var (
		otpSender   otpservice.Sender
		smsSender   identityservice.SMSSender
		emailSender identityservice.EmailSender
		devOTP      *devotphandler.Handler
	)
	if cfg.OTPReturnToClient {
		store := devotp.NewMemoryStore()
		sender := devotp.NewSender(store, logger)
		otpSender, smsSender, emailSender = sender, sender, devotp.NewMailer(logger)
		devOTP = devotphandler.NewHandler(store)
		logger.Warn().Msg("dev otp mode: codes are stored locally and exposed on /dev/otp")
	} else {
		letexto := sms.NewLeTextoClient(cfg.SMSAPIKey, cfg.SMSBaseURL, cfg.SMSSender, cfg.SMSCountryCode, cfg.GatewayTimeout())
		otpSender, smsSender = letexto, letexto
		emailSender = email.NewSMTPSender(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUsername, cfg.SMTPPassword, cfg.SMTPFrom, cfg.GatewayTimeout())
	}

	users := userrepo.NewPostgresRepository(conn)
	sessionStore := sessionrepo.NewPostgresRepository(conn)
	otp := otpservice.NewManager(otprepo.NewPostgresRepository(conn), otpSender, otpservice.Config{
		CodeLength:     cfg.OTPLength,
		MaxAttempts:    cfg.OTPMaxAttempts,
		TTL:            cfg.OTPTTL(),
		Cooldown:       cfg.OTPCooldown(),
		VerifiedWindow: cfg.OTPVerifiedWindow(),
	}, logger)
	sessions := sessionservice.NewManager(sessionStore, users, tokens, cfg.SessionPairWindow(), logger)
	auth := identityservice.NewAuthService(users, otp, sessions, policy, hasher, loginThrottle, auditLogger, logger)
	reset := identityservice.NewResetService(users, sessionStore, policy, hasher, smsSender, emailSender, resetLimiter, auditLogger,
		identityservice.ResetConfig{TTL: cfg.ResetTTL(), URLBase: cfg.ResetURLBase}, logger)
	profiles := userservice.NewProfileService(users, auditLogger, logger)

	healthH := healthhandler.NewHandler(conn, redisHealth, policy)
	router := server.NewRouter(cfg.Env, logger, server.Handlers{
		Identity: identityhandler.NewHandler(otp, auth, reset, auditLogger),
		Session:  sessionhandler.NewHandler(sessions, auditLogger),
		User:     userhandler.NewHandler(profiles),
		Admin:    adminhandler.NewHandler(profiles),
		Health:   healthH,
		DevOTP:   devOTP,
		Auth:     sessions,
	})

	httpSrv := server.NewHTTPServer(cfg.HTTPAddr, router, logger)
	go func() {
		if err := httpSrv.Start(); err != nil {
			logger.Fatal().Err(err).Msg("http server stopped unexpectedly")
		}
	}()

	var grpcStop func()
	if cfg.GRPCAddr != "" {
		lis, err := net.Listen("tcp", cfg.GRPCAddr)
		if err != nil {
			logger.Fatal().Err(err).Str("addr", cfg.GRPCAddr).Msg("grpc listen")
		}
		hs := health.NewServer()
		go healthH.SyncGRPC(ctx, hs, healthSyncInterval)
		grpcSrv := server.NewGRPCServer(hs)
		go func() {
			logger.Info().Str("addr", cfg.GRPCAddr).Msg("grpc health server listening")
			if err := grpcSrv.Serve(lis); err != nil {
				logger.Error().Err(err).Msg("grpc serve")
			}
		}()
		grpcStop = grpcSrv.GracefulStop
	}

	<-ctx.Done()
	logger.Info().Msg("shutdown signal received")

	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpSrv.Shutdown(sctx); err != nil {
		logger.Error().Err(err).Msg("http shutdown")
	}
	if grpcStop != nil {
		grpcStop()
	}
	dctx, dcancel := context.WithTimeout(context.Background(), telemetry.ShutdownDrainDuration)
	defer dcancel()
	if err := telemetry.Drain(dctx); err != nil {
		logger.Warn().Err(err).Msg("auth events still in flight at shutdown")
	}
	logger.Info().Msg("server stopped")
}
