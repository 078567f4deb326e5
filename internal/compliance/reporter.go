package compliance

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

const (
	deductionPerCritical = 10
	deductionPerHigh     = 5

	soc2Penalty     = 5
	iso27001Penalty = 10

	listingLimit = 50
)

// frameworkCutoffs holds the compliant/partial boundaries for one framework.
type frameworkCutoffs struct {
	penalty   int
	compliant int
	partial   int
}

var cutoffs = map[Framework]frameworkCutoffs{
	FrameworkGDPR:     {penalty: 0, compliant: 85, partial: 70},
	FrameworkSOC2:     {penalty: soc2Penalty, compliant: 85, partial: 70},
	FrameworkISO27001: {penalty: iso27001Penalty, compliant: 90, partial: 75},
}

var keyRequirements = map[Framework][]string{
	FrameworkGDPR: {
		"Records of processing activities",
		"Breach notification within 72 hours",
		"Right to erasure handling",
		"Lawful basis documented per processing purpose",
	},
	FrameworkSOC2: {
		"Logical access controls reviewed",
		"Change management with approval trail",
		"Security incident tracking",
		"System activity monitoring",
	},
	FrameworkISO27001: {
		"Access control policy (A.9)",
		"Operations security logging (A.12)",
		"Incident management process (A.16)",
		"Supplier relationship security (A.15)",
	},
}

// Reporter derives compliance scores and framework statuses from the audit
// window. Computation errors propagate; there is no fallback result.
type Reporter struct {
	store  Store
	logger *slog.Logger
}

// NewReporter constructs a Reporter.
func NewReporter(store Store, logger *slog.Logger) *Reporter {
	return &Reporter{store: store, logger: logger}
}

// GenerateReport evaluates the window and returns the base report. The base
// score starts at 100 and loses 10 per critical and 5 per high event,
// floored at zero.
func (r *Reporter) GenerateReport(ctx context.Context, from, to time.Time) (Report, error) {
	if !to.After(from) {
		return Report{}, fmt.Errorf("compliance: report window end must follow start")
	}
	summary, err := r.store.EventCounts(ctx, from, to)
	if err != nil {
		return Report{}, fmt.Errorf("compliance: event counts: %w", err)
	}
	activities, err := r.store.UserActivities(ctx, from, to, listingLimit)
	if err != nil {
		return Report{}, fmt.Errorf("compliance: user activities: %w", err)
	}
	changes, err := r.store.AccessChanges(ctx, from, to, listingLimit)
	if err != nil {
		return Report{}, fmt.Errorf("compliance: access changes: %w", err)
	}

	score := baseScore(summary)
	return Report{
		From:            from,
		To:              to,
		ComplianceScore: score,
		Status:          statusFor(score, cutoffs[FrameworkGDPR]),
		Summary:         summary,
		UserActivities:  activities,
		AccessChanges:   changes,
	}, nil
}

// FrameworkReports derives the per-framework views from one base report.
// SOC2 sits exactly 5 points below the base score and ISO27001 exactly 10,
// both floored at zero.
func (r *Reporter) FrameworkReports(ctx context.Context, from, to time.Time) ([]FrameworkReport, error) {
	summary, err := r.store.EventCounts(ctx, from, to)
	if err != nil {
		return nil, fmt.Errorf("compliance: event counts: %w", err)
	}
	base := baseScore(summary)
	frameworks := []Framework{FrameworkGDPR, FrameworkSOC2, FrameworkISO27001}
	reports := make([]FrameworkReport, 0, len(frameworks))
	for _, framework := range frameworks {
		c := cutoffs[framework]
		score := floor(base - c.penalty)
		status := statusFor(score, c)
		reports = append(reports, FrameworkReport{
			Framework:       framework,
			Score:           score,
			Status:          status,
			KeyRequirements: requirementsFor(framework, status),
		})
	}
	return reports, nil
}

// FrameworkStatuses returns just the status per framework, for embedding in
// assessment results.
func (r *Reporter) FrameworkStatuses(ctx context.Context, from, to time.Time) (map[string]string, error) {
	reports, err := r.FrameworkReports(ctx, from, to)
	if err != nil {
		return nil, err
	}
	statuses := make(map[string]string, len(reports))
	for _, report := range reports {
		statuses[string(report.Framework)] = report.Status
	}
	return statuses, nil
}

func baseScore(summary Summary) int {
	return floor(100 - summary.CriticalEvents*deductionPerCritical - summary.HighEvents*deductionPerHigh)
}

func statusFor(score int, c frameworkCutoffs) string {
	switch {
	case score >= c.compliant:
		return StatusCompliant
	case score >= c.partial:
		return StatusPartial
	default:
		return StatusNonCompliant
	}
}

// requirementsFor maps the framework status onto its display requirements.
// Requirement statuses mirror the framework status; they are informational
// and never feed scoring.
func requirementsFor(framework Framework, status string) []Requirement {
	names := keyRequirements[framework]
	reqStatus := RequirementMet
	switch status {
	case StatusPartial:
		reqStatus = RequirementPartial
	case StatusNonCompliant:
		reqStatus = RequirementNotMet
	}
	reqs := make([]Requirement, 0, len(names))
	for _, name := range names {
		reqs = append(reqs, Requirement{Name: name, Status: reqStatus})
	}
	return reqs
}

func floor(score int) int {
	if score < 0 {
		return 0
	}
	return score
}
