package jobs

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridian-admin/meridian/internal/assessment"
	"github.com/meridian-admin/meridian/internal/audit"
	jobmetrics "github.com/meridian-admin/meridian/internal/jobs"
	"github.com/meridian-admin/meridian/internal/users"
)

type stubAccounts struct {
	counts users.SecurityCounts
	err    error
}

func (s *stubAccounts) SecurityCounts(ctx context.Context) (users.SecurityCounts, error) {
	return s.counts, s.err
}

type stubEvents struct{}

func (stubEvents) CountEventsByType(ctx context.Context, eventType string, since time.Time) (int, error) {
	return 0, nil
}

func (stubEvents) CountUnresolvedBySeverity(ctx context.Context, severity audit.Severity, since time.Time) (int, error) {
	return 0, nil
}

func (stubEvents) AvgResolutionHours(ctx context.Context, since time.Time) (float64, bool, error) {
	return 0, false, nil
}

func (stubEvents) CountEventsSince(ctx context.Context, since time.Time) (int, error) {
	return 1, nil
}

func (stubEvents) CountEntriesSince(ctx context.Context, since time.Time) (int, error) {
	return 1, nil
}

func testJob(accounts *stubAccounts) *SecurityAssessmentJob {
	engine := assessment.NewEngine(accounts, stubEvents{}, nil, nil, nil,
		assessment.DefaultScoringConfig(), slog.Default())
	metrics := jobmetrics.NewMetrics(prometheus.NewRegistry())
	return NewSecurityAssessmentJob(engine, slog.Default(), metrics)
}

func healthyStubAccounts() *stubAccounts {
	return &stubAccounts{counts: users.SecurityCounts{ActiveUsers: 10, MFAEnabled: 10, Admins: 1}}
}

func TestHandleSecurityAssessment(t *testing.T) {
	task, err := NewSecurityAssessmentTask(SecurityAssessmentPayload{Trigger: "manual"})
	require.NoError(t, err)

	job := testJob(healthyStubAccounts())
	assert.NoError(t, job.Handle(context.Background(), task))
}

func TestHandleReturnsEngineError(t *testing.T) {
	task, err := NewSecurityAssessmentTask(SecurityAssessmentPayload{})
	require.NoError(t, err)

	job := testJob(&stubAccounts{err: errors.New("db down")})
	handleErr := job.Handle(context.Background(), task)
	require.Error(t, handleErr)
	assert.ErrorContains(t, handleErr, "db down")
}

func TestHandleSkipsRetryOnMalformedPayload(t *testing.T) {
	job := testJob(healthyStubAccounts())
	err := job.Handle(context.Background(), asynq.NewTask(TaskSecurityAssessment, []byte("{")))
	assert.ErrorIs(t, err, asynq.SkipRetry)
}

func TestHandleUnconfigured(t *testing.T) {
	var job *SecurityAssessmentJob
	assert.Error(t, job.Handle(context.Background(), asynq.NewTask(TaskSecurityAssessment, nil)))
}
