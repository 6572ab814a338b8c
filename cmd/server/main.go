// Command mh-server starts the isolation core HTTP server.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/TheRealHZL/MentalHealth-sub000/internal/audit"
	"github.com/TheRealHZL/MentalHealth-sub000/internal/cache"
	"github.com/TheRealHZL/MentalHealth-sub000/internal/config"
	"github.com/TheRealHZL/MentalHealth-sub000/internal/limiter"
	"github.com/TheRealHZL/MentalHealth-sub000/internal/migrate"
	httpserver "github.com/TheRealHZL/MentalHealth-sub000/internal/server/http"
	"github.com/TheRealHZL/MentalHealth-sub000/internal/service"
	"github.com/TheRealHZL/MentalHealth-sub000/internal/storage/postgres"
	"github.com/TheRealHZL/MentalHealth-sub000/internal/sweep"
)

var (
	version   = "dev"
	buildDate = "unknown"
)

// main loads configuration, runs migrations, and starts the HTTP server.
func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("failed to load configuration: " + err.Error())
	}

	logger := newLogger(cfg)
	defer func() { _ = logger.Sync() }()
	logger.Info("starting",
		zap.String("version", version),
		zap.String("buildDate", buildDate),
		zap.String("addr", cfg.Server.Addr),
		zap.String("env", cfg.Server.Env),
	)

	// Context with OS signals
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := migrate.Up(ctx, cfg.DB.DSN); err != nil {
		logger.Fatal("migrate up", zap.Error(err))
	}

	// DB pool
	pool, err := pgxpool.New(ctx, cfg.DB.DSN)
	if err != nil {
		logger.Fatal("pgxpool.New", zap.Error(err))
	}
	defer pool.Close()

	// Repositories
	db := postgres.NewWithPool(pool)
	userRepo := postgres.NewUserRepo(db)
	entryRepo := postgres.NewEntryRepo(db)
	aiCtxRepo := postgres.NewAIContextRepo(db)
	convRepo := postgres.NewConversationRepo(db)
	auditRepo := postgres.NewAuditRepo(db)

	lim := limiter.NewPG(pool, cfg.Limiter.Window, cfg.Limiter.MaxFails, cfg.Limiter.BlockFor)

	// Read audit runs async off the request path
	reads := audit.NewReadLogger(auditRepo, logger, 1024)
	reads.Start(ctx)
	defer reads.Wait()

	var tenantCache cache.Cache
	if cfg.Cache.RedisAddr != "" {
		tenantCache = cache.NewRedis(redis.NewClient(&redis.Options{Addr: cfg.Cache.RedisAddr}))
		logger.Info("tenant cache backend", zap.String("backend", "redis"))
	} else {
		tenantCache = cache.NewMemory()
		logger.Info("tenant cache backend", zap.String("backend", "memory"))
	}

	// Services
	authSvc := service.NewAuthService(userRepo, []byte(cfg.JWT.SigningKey), cfg.JWT.AccessTTL, lim, reads)
	entrySvc := service.NewEntryService(entryRepo, reads, 500)
	store := service.NewContextStore(aiCtxRepo, convRepo, reads, tenantCache, cfg.Cache.TTL, logger)
	inference := service.NewInferenceAdapter(entryRepo, store, service.NewLocalEngine(), logger)
	erasure := service.NewErasureService(userRepo, entryRepo, convRepo, aiCtxRepo)

	// Retention sweeps and detector on one ticker
	detector := audit.NewDetector(auditRepo, logger)
	runner := sweep.NewRunner(
		auditRepo, convRepo, aiCtxRepo, detector,
		cfg.Retention.SweepInterval, cfg.Retention.AuditWindow, cfg.Retention.ConversationWindow,
		logger,
	)
	go runner.Run(ctx)

	srv := httpserver.New(authSvc, entrySvc, store, inference, erasure, auditRepo, logger)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", zap.String("addr", cfg.Server.Addr))
		errCh <- srv.Start(cfg.Server.Addr)
	}()

	// Wait for stop
	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("shutdown", zap.Error(err))
		}
	case err := <-errCh:
		logger.Error("server error", zap.Error(err))
		os.Exit(1)
	}

	logger.Info("shutdown complete")
}

func newLogger(cfg *config.Config) *zap.Logger {
	level := zapcore.InfoLevel
	if l, err := zapcore.ParseLevel(cfg.LogLevel); err == nil {
		level = l
	}

	var zc zap.Config
	if cfg.Server.Env == "production" {
		zc = zap.NewProductionConfig()
	} else {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(level)

	logger, err := zc.Build()
	if err != nil {
		panic("failed to build logger: " + err.Error())
	}
	return logger
}
