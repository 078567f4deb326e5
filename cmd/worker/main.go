package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/meridian-admin/meridian/internal/app"
	"github.com/meridian-admin/meridian/internal/assessment"
	"github.com/meridian-admin/meridian/internal/audit"
	"github.com/meridian-admin/meridian/internal/compliance"
	jobmetrics "github.com/meridian-admin/meridian/internal/jobs"
	"github.com/meridian-admin/meridian/internal/platform/db"
	"github.com/meridian-admin/meridian/internal/users"
	"github.com/meridian-admin/meridian/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping worker startup")
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
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	auditRepo := audit.NewRepository(pool)
	recorder := audit.NewRecorder(auditRepo, logger)

	usersRepo := users.NewRepository(pool)
	usersService := users.NewService(usersRepo, logger)

	complianceRepo := compliance.NewRepository(pool)
	reporter := compliance.NewReporter(complianceRepo, logger)

	assessmentRepo := assessment.NewRepository(pool)
	engine := assessment.NewEngine(usersService, auditRepo, recorder, reporter, assessmentRepo, assessment.DefaultScoringConfig(), logger)

	assessmentJob := jobs.NewSecurityAssessmentJob(engine, logger, jobmetrics.NewMetrics(nil))

	assessmentTask, err := jobs.NewSecurityAssessmentTask(jobs.SecurityAssessmentPayload{Trigger: "cron"})
	if err != nil {
		logger.Error("build assessment task", slog.Any("error", err))
		os.Exit(1)
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:    logger,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskSecurityAssessment, Handler: assessmentJob.Handle},
		},
		Cron: []jobs.CronRegistration{
			{Spec: cfg.AssessmentCron, Task: assessmentTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	if err := worker.Run(ctx); err != nil && err != context.Canceled {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
