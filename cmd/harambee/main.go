package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/team-kenya/harambee/internal/admin"
	"github.com/team-kenya/harambee/internal/app"
	"github.com/team-kenya/harambee/internal/audit"
	"github.com/team-kenya/harambee/internal/auth"
	"github.com/team-kenya/harambee/internal/authn"
	"github.com/team-kenya/harambee/internal/authz"
	"github.com/team-kenya/harambee/internal/csrf"
	"github.com/team-kenya/harambee/internal/identity"
	"github.com/team-kenya/harambee/internal/impersonate"
	"github.com/team-kenya/harambee/internal/notify"
	"github.com/team-kenya/harambee/internal/observability"
	"github.com/team-kenya/harambee/internal/otp"
	"github.com/team-kenya/harambee/internal/platform/cache"
	"github.com/team-kenya/harambee/internal/platform/db"
	"github.com/team-kenya/harambee/internal/token"
	"github.com/team-kenya/harambee/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	keyset, err := token.NewKeyset(cfg.SigningKeyList()...)
	if err != nil {
		logger.Error("load signing keys", slog.Any("error", err))
		os.Exit(1)
	}
	codec := token.NewCodec(keyset, cfg.AccessTokenTTL, cfg.RefreshTokenTTL)

	metrics := observability.NewMetrics()
	auditLogger := audit.NewLogger(pool)

	identityService := identity.NewService(identity.NewRepository(pool), cfg.LookupTimeout)
	guard := csrf.NewGuard(redisClient, cfg.RefreshTokenTTL)
	codes := otp.NewService(redisClient)

	impersonator := impersonate.NewService(redisClient, identityService, guard, auditLogger, logger, cfg.ImpersonationTTL)
	resolver := authn.NewResolver(codec, identityService, impersonator)
	authnMW := authn.Middleware{Resolver: resolver, Logger: logger, Metrics: metrics}
	authzMW := authz.Middleware{Gate: authz.NewGate(cfg.ActingOnlyOps...), Logger: logger, Metrics: metrics}

	queue, err := jobs.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	if err != nil {
		logger.Error("init queue client", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := queue.Close(); err != nil {
			logger.Warn("queue close", slog.Any("error", err))
		}
	}()

	authService := auth.NewService(codec, resolver, identityService, codes, guard, queue, auditLogger, impersonator, logger)
	authHandler := auth.NewHandler(logger, authService)

	notifyService := notify.NewService(notify.NewRepository(pool), queue, logger)
	notifyHandler := notify.NewHandler(logger, notifyService)

	adminHandler := admin.NewHandler(logger, identityService, impersonator, auditLogger, auditLogger)

	router := app.NewRouter(app.RouterParams{
		Config: cfg,
		Authn:  authnMW,
		Authz:  authzMW,
		Guard:  guard,
		CSRF: csrf.Config{
			Methods:       csrf.DefaultMethods(),
			ExcludedPaths: cfg.CSRFExcludedPaths,
		},
		Auth:    authHandler,
		Notify:  notifyHandler,
		Admin:   adminHandler,
		Metrics: metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}
