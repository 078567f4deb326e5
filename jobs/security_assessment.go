package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/meridian-admin/meridian/internal/assessment"
	jobmetrics "github.com/meridian-admin/meridian/internal/jobs"
)

var defaultJobMetrics = jobmetrics.NewMetrics(nil)

// SecurityAssessmentJob runs the scheduled security posture assessment.
type SecurityAssessmentJob struct {
	Engine  *assessment.Engine
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
	clock   func() time.Time
}

// NewSecurityAssessmentJob wires dependencies for the assessment handler.
func NewSecurityAssessmentJob(engine *assessment.Engine, logger *slog.Logger, metrics *jobmetrics.Metrics) *SecurityAssessmentJob {
	return &SecurityAssessmentJob{
		Engine:  engine,
		Logger:  logger,
		Metrics: metrics,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Handle processes TaskSecurityAssessment tasks.
func (j *SecurityAssessmentJob) Handle(ctx context.Context, t *asynq.Task) (resultErr error) {
	if j == nil || j.Engine == nil {
		return errors.New("security assessment: handler not configured")
	}
	var payload SecurityAssessmentPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	if payload.Trigger == "" {
		payload.Trigger = "cron"
	}

	tracker := j.metrics().Track(TaskSecurityAssessment)
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	logger := j.logger().With(slog.String("trigger", payload.Trigger))
	logger.Info("starting security assessment")

	start := j.now()
	result, err := j.Engine.Perform(ctx)
	if err != nil {
		resultErr = err
		logger.Error("security assessment failed", slog.Any("error", err))
		return resultErr
	}
	j.metrics().SetAssessmentScore(result.OverallScore, string(result.RiskLevel))

	logger.Info("completed security assessment",
		slog.Int("overall_score", result.OverallScore),
		slog.String("risk_level", string(result.RiskLevel)),
		slog.Duration("duration", time.Since(start)))
	return resultErr
}

func (j *SecurityAssessmentJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskSecurityAssessment))
	}
	return slog.Default().With(slog.String("job", TaskSecurityAssessment))
}

func (j *SecurityAssessmentJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}

func (j *SecurityAssessmentJob) now() time.Time {
	if j.clock != nil {
		return j.clock()
	}
	return time.Now().UTC()
}
