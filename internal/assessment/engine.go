package assessment

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/meridian-admin/meridian/internal/audit"
	"github.com/meridian-admin/meridian/internal/users"
)

// AccountStats supplies the account aggregates scoring reads. Satisfied by
// users.Service.
type AccountStats interface {
	SecurityCounts(ctx context.Context) (users.SecurityCounts, error)
}

// EventStats supplies the audit aggregates scoring reads. Satisfied by
// audit.Repository.
type EventStats interface {
	CountEventsByType(ctx context.Context, eventType string, since time.Time) (int, error)
	CountUnresolvedBySeverity(ctx context.Context, severity audit.Severity, since time.Time) (int, error)
	AvgResolutionHours(ctx context.Context, since time.Time) (float64, bool, error)
	CountEventsSince(ctx context.Context, since time.Time) (int, error)
	CountEntriesSince(ctx context.Context, since time.Time) (int, error)
}

// EventSink receives the events the engine emits about its own runs.
// Satisfied by audit.Recorder.
type EventSink interface {
	LogSecurityEvent(ctx context.Context, event audit.SecurityEvent)
}

// ComplianceSource supplies framework statuses for the assessment window.
// Satisfied by compliance.Reporter.
type ComplianceSource interface {
	FrameworkStatuses(ctx context.Context, from, to time.Time) (map[string]string, error)
}

// Engine aggregates audit and account data into a weighted security posture
// score. The five categories have no data dependency on each other and are
// computed concurrently.
type Engine struct {
	accounts   AccountStats
	events     EventStats
	sink       EventSink
	compliance ComplianceSource
	store      Store
	cfg        ScoringConfig
	logger     *slog.Logger
	clock      func() time.Time
}

// NewEngine constructs an Engine. sink, compliance and store may be nil;
// the corresponding side effects are skipped.
func NewEngine(accounts AccountStats, events EventStats, sink EventSink, compliance ComplianceSource, store Store, cfg ScoringConfig, logger *slog.Logger) *Engine {
	return &Engine{
		accounts:   accounts,
		events:     events,
		sink:       sink,
		compliance: compliance,
		store:      store,
		cfg:        cfg,
		logger:     logger,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Perform runs a full posture assessment. Errors propagate to the caller;
// this is an explicitly invoked read with no fallback semantics.
func (e *Engine) Perform(ctx context.Context) (Assessment, error) {
	now := e.clock()

	var (
		authentication   CategoryScore
		authorization    CategoryScore
		dataProtection   CategoryScore
		auditLogging     CategoryScore
		incidentResponse CategoryScore
		statuses         map[string]string
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		authentication, err = e.scoreAuthentication(gctx, now)
		return err
	})
	g.Go(func() (err error) {
		authorization, err = e.scoreAuthorization(gctx, now)
		return err
	})
	g.Go(func() (err error) {
		dataProtection, err = e.scoreDataProtection(gctx, now)
		return err
	})
	g.Go(func() (err error) {
		auditLogging, err = e.scoreAuditLogging(gctx, now)
		return err
	})
	g.Go(func() (err error) {
		incidentResponse, err = e.scoreIncidentResponse(gctx, now)
		return err
	})
	if e.compliance != nil {
		g.Go(func() (err error) {
			statuses, err = e.compliance.FrameworkStatuses(gctx, now.AddDate(0, 0, -30), now)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return Assessment{}, fmt.Errorf("assessment: %w", err)
	}

	categories := Categories{
		Authentication:   authentication,
		Authorization:    authorization,
		DataProtection:   dataProtection,
		AuditLogging:     auditLogging,
		IncidentResponse: incidentResponse,
	}
	overall := e.overallScore(categories)
	result := Assessment{
		OverallScore:     overall,
		RiskLevel:        e.riskLevel(overall),
		Categories:       categories,
		Recommendations:  e.recommendations(categories),
		ComplianceStatus: statuses,
		GeneratedAt:      now,
	}

	if e.store != nil {
		id, err := e.store.InsertAssessment(ctx, result)
		if err != nil {
			return Assessment{}, fmt.Errorf("assessment: persist: %w", err)
		}
		result.ID = id
	}
	e.emitEvents(ctx, result)
	return result, nil
}

func (e *Engine) scoreAuthentication(ctx context.Context, now time.Time) (CategoryScore, error) {
	d := e.cfg.Deductions
	category := e.newCategory("authentication")

	counts, err := e.accounts.SecurityCounts(ctx)
	if err != nil {
		return CategoryScore{}, fmt.Errorf("account counts: %w", err)
	}
	if counts.ActiveUsers > 0 {
		adoption := float64(counts.MFAEnabled) / float64(counts.ActiveUsers)
		switch {
		case adoption < 0.5:
			e.deduct(&category, d.MFAAdoptionBelowHalf,
				fmt.Sprintf("MFA adoption at %.0f%% of active users", adoption*100),
				"Require MFA enrollment for all active users")
		case adoption < 0.8:
			e.deduct(&category, d.MFAAdoptionBelowTarget,
				fmt.Sprintf("MFA adoption at %.0f%% of active users", adoption*100),
				"Raise MFA adoption above 80% of active users")
		}
	}
	if counts.AdminsWithoutMFA > 0 {
		e.deduct(&category, d.PrivilegedWithoutMFA,
			fmt.Sprintf("%d privileged accounts without MFA", counts.AdminsWithoutMFA),
			"Enforce MFA on every privileged account")
	}
	failedLogins, err := e.events.CountEventsByType(ctx, audit.EventFailedLogin, now.Add(-24*time.Hour))
	if err != nil {
		return CategoryScore{}, fmt.Errorf("failed logins: %w", err)
	}
	if failedLogins > d.FailedLoginThreshold {
		e.deduct(&category, d.ExcessiveFailedLogins,
			fmt.Sprintf("%d failed logins in the last 24 hours", failedLogins),
			"Investigate failed login spike and tighten lockout policy")
	}
	e.finalize(&category)
	return category, nil
}

func (e *Engine) scoreAuthorization(ctx context.Context, now time.Time) (CategoryScore, error) {
	d := e.cfg.Deductions
	category := e.newCategory("authorization")

	counts, err := e.accounts.SecurityCounts(ctx)
	if err != nil {
		return CategoryScore{}, fmt.Errorf("account counts: %w", err)
	}
	if counts.ActiveUsers > 0 {
		ratio := float64(counts.Admins) / float64(counts.ActiveUsers)
		switch {
		case ratio > 0.2:
			e.deduct(&category, d.AdminRatioHigh,
				fmt.Sprintf("admins are %.0f%% of active users", ratio*100),
				"Reduce the number of accounts holding admin roles")
		case ratio > 0.1:
			e.deduct(&category, d.AdminRatioElevated,
				fmt.Sprintf("admins are %.0f%% of active users", ratio*100),
				"Review whether every admin role is still required")
		}
	}
	changes, err := e.events.CountEventsByType(ctx, audit.EventPermissionChange, now.AddDate(0, 0, -7))
	if err != nil {
		return CategoryScore{}, fmt.Errorf("permission changes: %w", err)
	}
	if changes > d.PermissionChurnLimit {
		e.deduct(&category, d.PermissionChurn,
			fmt.Sprintf("%d permission changes in the last 7 days", changes),
			"Audit recent permission changes for unintended grants")
	}
	e.finalize(&category)
	return category, nil
}

func (e *Engine) scoreDataProtection(ctx context.Context, now time.Time) (CategoryScore, error) {
	d := e.cfg.Deductions
	category := e.newCategory("dataProtection")

	unauthorized, err := e.events.CountEventsByType(ctx, audit.EventUnauthorizedAccess, now.AddDate(0, 0, -30))
	if err != nil {
		return CategoryScore{}, fmt.Errorf("unauthorized access: %w", err)
	}
	if unauthorized > 0 {
		e.deduct(&category, unauthorized*d.PerUnauthorizedAccess,
			fmt.Sprintf("%d unauthorized access events in the last 30 days", unauthorized),
			"Review unauthorized access events and close the access paths involved")
	}
	e.finalize(&category)
	return category, nil
}

func (e *Engine) scoreAuditLogging(ctx context.Context, now time.Time) (CategoryScore, error) {
	d := e.cfg.Deductions
	category := e.newCategory("auditLogging")

	since := now.Add(-24 * time.Hour)
	entries, err := e.events.CountEntriesSince(ctx, since)
	if err != nil {
		return CategoryScore{}, fmt.Errorf("audit entries: %w", err)
	}
	events, err := e.events.CountEventsSince(ctx, since)
	if err != nil {
		return CategoryScore{}, fmt.Errorf("security events: %w", err)
	}
	if entries == 0 && events == 0 {
		e.deduct(&category, d.AuditSilence,
			"no audit logs or security events recorded in the last 24 hours",
			"Verify that audit logging is enabled and reaching the store")
	}
	e.finalize(&category)
	return category, nil
}

func (e *Engine) scoreIncidentResponse(ctx context.Context, now time.Time) (CategoryScore, error) {
	d := e.cfg.Deductions
	category := e.newCategory("incidentResponse")

	unresolved, err := e.events.CountUnresolvedBySeverity(ctx, audit.SeverityCritical, now.AddDate(0, 0, -7))
	if err != nil {
		return CategoryScore{}, fmt.Errorf("unresolved criticals: %w", err)
	}
	if unresolved > 0 {
		e.deduct(&category, unresolved*d.PerUnresolvedCritical,
			fmt.Sprintf("%d unresolved critical events in the last 7 days", unresolved),
			"Resolve outstanding critical security events")
	}
	hours, ok, err := e.events.AvgResolutionHours(ctx, now.AddDate(0, 0, -30))
	if err != nil {
		return CategoryScore{}, fmt.Errorf("resolution time: %w", err)
	}
	if ok && hours > d.ResolutionHoursLimit {
		e.deduct(&category, d.SlowResolution,
			fmt.Sprintf("average high/critical resolution time is %.1f hours", hours),
			"Bring high and critical event resolution under 24 hours")
	}
	e.finalize(&category)
	return category, nil
}

func (e *Engine) newCategory(name string) CategoryScore {
	return CategoryScore{Name: name, Score: e.cfg.MaxScore, MaxScore: e.cfg.MaxScore}
}

func (e *Engine) deduct(category *CategoryScore, amount int, finding, improvement string) {
	category.Score -= amount
	category.Findings = append(category.Findings, finding)
	category.Improvements = append(category.Improvements, improvement)
}

// finalize floors the score at zero and classifies the category against the
// configured status bands, each a percentage of the category maximum.
func (e *Engine) finalize(category *CategoryScore) {
	if category.Score < 0 {
		category.Score = 0
	}
	bands := e.cfg.Status
	pct := float64(category.Score) / float64(category.MaxScore) * 100
	switch {
	case pct >= float64(bands.Excellent):
		category.Status = StatusExcellent
	case pct >= float64(bands.Good):
		category.Status = StatusGood
	case pct >= float64(bands.Fair):
		category.Status = StatusFair
	default:
		category.Status = StatusPoor
	}
}

func (e *Engine) overallScore(categories Categories) int {
	w := e.cfg.Weights
	total := w.Total()
	if total == 0 {
		return 0
	}
	sum := float64(categories.Authentication.Score)*w.Authentication +
		float64(categories.Authorization.Score)*w.Authorization +
		float64(categories.DataProtection.Score)*w.DataProtection +
		float64(categories.AuditLogging.Score)*w.AuditLogging +
		float64(categories.IncidentResponse.Score)*w.IncidentResponse
	return int(math.Round(sum / total))
}

func (e *Engine) riskLevel(score int) RiskLevel {
	switch {
	case score >= e.cfg.Risk.Low:
		return RiskLow
	case score >= e.cfg.Risk.Medium:
		return RiskMedium
	case score >= e.cfg.Risk.High:
		return RiskHigh
	default:
		return RiskCritical
	}
}

// recommendations turns every category below the Good band into one
// recommendation per recorded improvement.
func (e *Engine) recommendations(categories Categories) []Recommendation {
	bands := e.cfg.Status
	var recs []Recommendation
	for _, category := range categories.All() {
		pct := float64(category.Score) / float64(category.MaxScore) * 100
		if pct >= float64(bands.Good) {
			continue
		}
		priority := PriorityHigh
		timeline := "1-3 months"
		if pct < float64(bands.Fair) {
			priority = PriorityCritical
			timeline = "immediate"
		}
		for _, improvement := range category.Improvements {
			recs = append(recs, Recommendation{
				Category: category.Name,
				Action:   improvement,
				Priority: priority,
				Timeline: timeline,
			})
		}
	}
	return recs
}

// emitEvents records the completed run and raises a dedicated alert when
// the posture is critical.
func (e *Engine) emitEvents(ctx context.Context, result Assessment) {
	if e.sink == nil {
		return
	}
	e.sink.LogSecurityEvent(ctx, audit.SecurityEvent{
		EventType: audit.EventAssessmentComplete,
		Severity:  audit.SeverityLow,
		Details: map[string]any{
			"overall_score": result.OverallScore,
			"risk_level":    string(result.RiskLevel),
		},
	})
	if result.RiskLevel == RiskCritical {
		e.sink.LogSecurityEvent(ctx, audit.SecurityEvent{
			EventType: audit.EventAssessmentCritical,
			Severity:  audit.SeverityCritical,
			RiskScore: 100 - result.OverallScore,
			Details: map[string]any{
				"overall_score": result.OverallScore,
			},
		})
	}
}
