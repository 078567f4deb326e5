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

	"github.com/meridian-admin/meridian/internal/app"
	"github.com/meridian-admin/meridian/internal/assessment"
	"github.com/meridian-admin/meridian/internal/audit"
	"github.com/meridian-admin/meridian/internal/compliance"
	"github.com/meridian-admin/meridian/internal/invoices"
	"github.com/meridian-admin/meridian/internal/observability"
	"github.com/meridian-admin/meridian/internal/platform/cache"
	"github.com/meridian-admin/meridian/internal/platform/db"
	"github.com/meridian-admin/meridian/internal/rbac"
	"github.com/meridian-admin/meridian/internal/users"
	"github.com/meridian-admin/meridian/jobs"
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

	pool, err := db.New(ctx, cfg.PGDSN, cfg.PGMaxConns)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Warn("redis ping", slog.Any("error", err))
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	metrics := observability.NewMetrics()

	auditRepo := audit.NewRepository(pool)
	recorder := audit.NewRecorder(auditRepo, logger)

	rbacRepo := rbac.NewRepository(pool)
	resolver := rbac.NewResolver(rbacRepo, logger)
	permCache := rbac.NewPermissionCache(redisClient, cfg.PermCacheTTL)
	checker := rbac.NewChecker(rbacRepo, resolver, permCache, logger, metrics)
	rbacService := rbac.NewService(rbacRepo, resolver, permCache, logger)
	rbacMiddleware := rbac.Middleware{Checker: checker, Logger: logger}
	rbacHandler := rbac.NewHandler(logger, rbacService, recorder, rbacMiddleware)

	auditHandler := audit.NewHandler(logger, recorder, rbacMiddleware.Require("audit", "read"))

	usersRepo := users.NewRepository(pool)
	usersService := users.NewService(usersRepo, logger)
	usersHandler := users.NewHandler(logger, usersService, recorder, rbacMiddleware)

	complianceRepo := compliance.NewRepository(pool)
	reporter := compliance.NewReporter(complianceRepo, logger)

	assessmentRepo := assessment.NewRepository(pool)
	engine := assessment.NewEngine(usersService, auditRepo, recorder, reporter, assessmentRepo, assessment.DefaultScoringConfig(), logger)
	assessmentHandler := assessment.NewHandler(logger, engine, assessmentRepo, auditRepo, reporter,
		rbacMiddleware.Require("security", "read"))

	invoicesRepo := invoices.NewRepository(pool)
	invoicesService := invoices.NewService(invoicesRepo)
	invoicesHandler := invoices.NewHandler(logger, invoicesService, recorder, rbacMiddleware)

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()
	jobHandler := jobs.NewHandler(inspector, logger)

	router := app.NewRouter(app.RouterParams{
		Logger:            logger,
		Config:            cfg,
		RBACHandler:       rbacHandler,
		AuditHandler:      auditHandler,
		AssessmentHandler: assessmentHandler,
		UsersHandler:      usersHandler,
		InvoicesHandler:   invoicesHandler,
		JobHandler:        jobHandler,
		Metrics:           metrics,
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
