package assessment

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridian-admin/meridian/internal/audit"
	"github.com/meridian-admin/meridian/internal/users"
)

var testNow = time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)

type fakeAccounts struct {
	counts users.SecurityCounts
	err    error
}

func (f *fakeAccounts) SecurityCounts(ctx context.Context) (users.SecurityCounts, error) {
	return f.counts, f.err
}

type fakeEvents struct {
	byType     map[string]int
	unresolved int
	avgHours   float64
	avgOK      bool
	entries24h int
	events24h  int

	errs map[string]error
}

func (f *fakeEvents) CountEventsByType(ctx context.Context, eventType string, since time.Time) (int, error) {
	if err := f.errs["CountEventsByType"]; err != nil {
		return 0, err
	}
	return f.byType[eventType], nil
}

func (f *fakeEvents) CountUnresolvedBySeverity(ctx context.Context, severity audit.Severity, since time.Time) (int, error) {
	return f.unresolved, f.errs["CountUnresolvedBySeverity"]
}

func (f *fakeEvents) AvgResolutionHours(ctx context.Context, since time.Time) (float64, bool, error) {
	return f.avgHours, f.avgOK, f.errs["AvgResolutionHours"]
}

func (f *fakeEvents) CountEventsSince(ctx context.Context, since time.Time) (int, error) {
	return f.events24h, f.errs["CountEventsSince"]
}

func (f *fakeEvents) CountEntriesSince(ctx context.Context, since time.Time) (int, error) {
	return f.entries24h, f.errs["CountEntriesSince"]
}

type fakeSink struct {
	events []audit.SecurityEvent
}

func (f *fakeSink) LogSecurityEvent(ctx context.Context, event audit.SecurityEvent) {
	f.events = append(f.events, event)
}

type fakeAssessmentStore struct {
	saved     []Assessment
	insertErr error
}

func (f *fakeAssessmentStore) InsertAssessment(ctx context.Context, result Assessment) (int64, error) {
	if f.insertErr != nil {
		return 0, f.insertErr
	}
	f.saved = append(f.saved, result)
	return int64(len(f.saved)), nil
}

func (f *fakeAssessmentStore) Latest(ctx context.Context) (Assessment, error) {
	if len(f.saved) == 0 {
		return Assessment{}, ErrNotFound
	}
	return f.saved[len(f.saved)-1], nil
}

func (f *fakeAssessmentStore) List(ctx context.Context, limit int) ([]Assessment, error) {
	return f.saved, nil
}

type fakeCompliance struct {
	statuses map[string]string
	err      error
}

func (f *fakeCompliance) FrameworkStatuses(ctx context.Context, from, to time.Time) (map[string]string, error) {
	return f.statuses, f.err
}

// healthyAccounts has full MFA adoption and a single admin, triggering no
// authentication or authorization deductions.
func healthyAccounts() *fakeAccounts {
	return &fakeAccounts{counts: users.SecurityCounts{
		ActiveUsers: 20,
		MFAEnabled:  20,
		Admins:      1,
	}}
}

func healthyEvents() *fakeEvents {
	return &fakeEvents{
		byType:     map[string]int{},
		entries24h: 40,
		events24h:  3,
	}
}

func testEngine(accounts AccountStats, events EventStats, sink EventSink, compliance ComplianceSource, store Store) *Engine {
	e := NewEngine(accounts, events, sink, compliance, store, DefaultScoringConfig(), slog.Default())
	e.clock = func() time.Time { return testNow }
	return e
}

func TestPerformHealthyPosture(t *testing.T) {
	sink := &fakeSink{}
	store := &fakeAssessmentStore{}
	engine := testEngine(healthyAccounts(), healthyEvents(), sink, &fakeCompliance{statuses: map[string]string{"GDPR": "compliant"}}, store)

	result, err := engine.Perform(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 100, result.OverallScore)
	assert.Equal(t, RiskLow, result.RiskLevel)
	assert.Empty(t, result.Recommendations)
	assert.Equal(t, testNow, result.GeneratedAt)
	assert.Equal(t, map[string]string{"GDPR": "compliant"}, result.ComplianceStatus)
	for _, category := range result.Categories.All() {
		assert.Equal(t, 100, category.Score, category.Name)
		assert.Equal(t, StatusExcellent, category.Status, category.Name)
		assert.Empty(t, category.Findings, category.Name)
	}

	require.Len(t, store.saved, 1)
	assert.Equal(t, int64(1), result.ID)
	require.Len(t, sink.events, 1)
	assert.Equal(t, audit.EventAssessmentComplete, sink.events[0].EventType)
	assert.Equal(t, audit.SeverityLow, sink.events[0].Severity)
}

func TestAuthenticationMFAAdoption(t *testing.T) {
	tests := []struct {
		name       string
		enabled    int
		wantScore  int
		wantStatus CategoryStatus
	}{
		{"full adoption", 10, 100, StatusExcellent},
		{"eighty percent is the floor of the target band", 8, 100, StatusExcellent},
		{"sixty percent", 6, 85, StatusGood},
		{"forty percent", 4, 70, StatusFair},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			accounts := &fakeAccounts{counts: users.SecurityCounts{ActiveUsers: 10, MFAEnabled: tt.enabled, Admins: 1}}
			engine := testEngine(accounts, healthyEvents(), nil, nil, nil)

			result, err := engine.Perform(context.Background())
			require.NoError(t, err)
			assert.Equal(t, tt.wantScore, result.Categories.Authentication.Score)
			assert.Equal(t, tt.wantStatus, result.Categories.Authentication.Status)
		})
	}
}

func TestAuthenticationStacksDeductions(t *testing.T) {
	accounts := &fakeAccounts{counts: users.SecurityCounts{
		ActiveUsers:      10,
		MFAEnabled:       4,
		Admins:           1,
		AdminsWithoutMFA: 2,
	}}
	events := healthyEvents()
	events.byType[audit.EventFailedLogin] = 150

	engine := testEngine(accounts, events, nil, nil, nil)
	result, err := engine.Perform(context.Background())
	require.NoError(t, err)

	auth := result.Categories.Authentication
	assert.Equal(t, 35, auth.Score)
	assert.Equal(t, StatusPoor, auth.Status)
	assert.Len(t, auth.Findings, 3)
	assert.Len(t, auth.Improvements, 3)
}

func TestAuthenticationFailedLoginsAtThreshold(t *testing.T) {
	events := healthyEvents()
	events.byType[audit.EventFailedLogin] = 100

	engine := testEngine(healthyAccounts(), events, nil, nil, nil)
	result, err := engine.Perform(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 100, result.Categories.Authentication.Score)
}

func TestAuthorizationAdminRatio(t *testing.T) {
	tests := []struct {
		name      string
		admins    int
		wantScore int
	}{
		{"single admin", 1, 100},
		{"ten percent is the elevated boundary", 1, 100},
		{"fifteen percent", 2, 90},
		{"thirty percent", 3, 75},
	}
	active := []int{20, 10, 13, 10}
	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			accounts := &fakeAccounts{counts: users.SecurityCounts{
				ActiveUsers: active[i],
				MFAEnabled:  active[i],
				Admins:      tt.admins,
			}}
			engine := testEngine(accounts, healthyEvents(), nil, nil, nil)

			result, err := engine.Perform(context.Background())
			require.NoError(t, err)
			assert.Equal(t, tt.wantScore, result.Categories.Authorization.Score)
		})
	}
}

func TestAuthorizationPermissionChurn(t *testing.T) {
	events := healthyEvents()
	events.byType[audit.EventPermissionChange] = 51

	engine := testEngine(healthyAccounts(), events, nil, nil, nil)
	result, err := engine.Perform(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 95, result.Categories.Authorization.Score)
}

func TestDataProtectionScalesPerEvent(t *testing.T) {
	events := healthyEvents()
	events.byType[audit.EventUnauthorizedAccess] = 3

	engine := testEngine(healthyAccounts(), events, nil, nil, nil)
	result, err := engine.Perform(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 70, result.Categories.DataProtection.Score)
	assert.Equal(t, StatusFair, result.Categories.DataProtection.Status)
}

func TestDataProtectionFloorsAtZero(t *testing.T) {
	events := healthyEvents()
	events.byType[audit.EventUnauthorizedAccess] = 12

	engine := testEngine(healthyAccounts(), events, nil, nil, nil)
	result, err := engine.Perform(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 0, result.Categories.DataProtection.Score)
	assert.Equal(t, StatusPoor, result.Categories.DataProtection.Status)
}

func TestAuditLoggingSilence(t *testing.T) {
	events := healthyEvents()
	events.entries24h = 0
	events.events24h = 0

	engine := testEngine(healthyAccounts(), events, nil, nil, nil)
	result, err := engine.Perform(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 50, result.Categories.AuditLogging.Score)
	assert.Equal(t, StatusFair, result.Categories.AuditLogging.Status)
}

func TestAuditLoggingEitherChannelCounts(t *testing.T) {
	events := healthyEvents()
	events.entries24h = 0
	events.events24h = 1

	engine := testEngine(healthyAccounts(), events, nil, nil, nil)
	result, err := engine.Perform(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 100, result.Categories.AuditLogging.Score)
}

func TestIncidentResponse(t *testing.T) {
	events := healthyEvents()
	events.unresolved = 2
	events.avgHours = 30
	events.avgOK = true

	engine := testEngine(healthyAccounts(), events, nil, nil, nil)
	result, err := engine.Perform(context.Background())
	require.NoError(t, err)

	incident := result.Categories.IncidentResponse
	assert.Equal(t, 45, incident.Score)
	assert.Equal(t, StatusPoor, incident.Status)
}

func TestIncidentResponseIgnoresAverageWithoutResolutions(t *testing.T) {
	events := healthyEvents()
	events.avgHours = 500
	events.avgOK = false

	engine := testEngine(healthyAccounts(), events, nil, nil, nil)
	result, err := engine.Perform(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 100, result.Categories.IncidentResponse.Score)
}

func TestOverallScoreIsWeighted(t *testing.T) {
	// Authentication at 85, everything else untouched:
	// 85*0.25 + 100*0.20 + 100*0.25 + 100*0.15 + 100*0.15 = 96.25 -> 96.
	accounts := &fakeAccounts{counts: users.SecurityCounts{ActiveUsers: 10, MFAEnabled: 6, Admins: 1}}
	engine := testEngine(accounts, healthyEvents(), nil, nil, nil)

	result, err := engine.Perform(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 96, result.OverallScore)
	assert.Equal(t, RiskLow, result.RiskLevel)
}

func TestRiskLevelBoundaries(t *testing.T) {
	engine := testEngine(healthyAccounts(), healthyEvents(), nil, nil, nil)
	tests := []struct {
		score int
		want  RiskLevel
	}{
		{100, RiskLow},
		{90, RiskLow},
		{89, RiskMedium},
		{75, RiskMedium},
		{74, RiskHigh},
		{50, RiskHigh},
		{49, RiskCritical},
		{0, RiskCritical},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, engine.riskLevel(tt.score), "score %d", tt.score)
	}
}

func TestStatusBandsAreConfigurable(t *testing.T) {
	// Authentication lands at 85. Raising the Good band above it flips the
	// status to fair and produces a recommendation that the default bands
	// would not.
	accounts := &fakeAccounts{counts: users.SecurityCounts{ActiveUsers: 10, MFAEnabled: 6, Admins: 1}}
	cfg := DefaultScoringConfig()
	cfg.Status = StatusBands{Excellent: 95, Good: 90, Fair: 60}

	engine := NewEngine(accounts, healthyEvents(), nil, nil, nil, cfg, slog.Default())
	engine.clock = func() time.Time { return testNow }

	result, err := engine.Perform(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 85, result.Categories.Authentication.Score)
	assert.Equal(t, StatusFair, result.Categories.Authentication.Status)
	require.Len(t, result.Recommendations, 1)
	assert.Equal(t, "authentication", result.Recommendations[0].Category)
	assert.Equal(t, PriorityHigh, result.Recommendations[0].Priority)
}

func TestRecommendationsOnlyBelowGood(t *testing.T) {
	accounts := &fakeAccounts{counts: users.SecurityCounts{
		ActiveUsers: 10,
		MFAEnabled:  4,
		Admins:      1,
	}}
	events := healthyEvents()
	events.byType[audit.EventUnauthorizedAccess] = 6

	engine := testEngine(accounts, events, nil, nil, nil)
	result, err := engine.Perform(context.Background())
	require.NoError(t, err)

	// Authentication is at 70 (high priority), data protection at 40
	// (critical, immediate). Nothing else may recommend.
	require.Len(t, result.Recommendations, 2)

	byCategory := map[string]Recommendation{}
	for _, rec := range result.Recommendations {
		byCategory[rec.Category] = rec
	}
	auth := byCategory["authentication"]
	assert.Equal(t, PriorityHigh, auth.Priority)
	assert.Equal(t, "1-3 months", auth.Timeline)

	data := byCategory["dataProtection"]
	assert.Equal(t, PriorityCritical, data.Priority)
	assert.Equal(t, "immediate", data.Timeline)
}

func TestCriticalPostureEmitsAlert(t *testing.T) {
	accounts := &fakeAccounts{counts: users.SecurityCounts{
		ActiveUsers:      10,
		MFAEnabled:       2,
		Admins:           3,
		AdminsWithoutMFA: 3,
	}}
	events := &fakeEvents{
		byType: map[string]int{
			audit.EventFailedLogin:        150,
			audit.EventPermissionChange:   60,
			audit.EventUnauthorizedAccess: 12,
		},
		unresolved: 4,
		avgHours:   30,
		avgOK:      true,
	}
	sink := &fakeSink{}

	engine := testEngine(accounts, events, sink, nil, nil)
	result, err := engine.Perform(context.Background())
	require.NoError(t, err)

	assert.Equal(t, RiskCritical, result.RiskLevel)
	require.Len(t, sink.events, 2)
	assert.Equal(t, audit.EventAssessmentComplete, sink.events[0].EventType)

	alert := sink.events[1]
	assert.Equal(t, audit.EventAssessmentCritical, alert.EventType)
	assert.Equal(t, audit.SeverityCritical, alert.Severity)
	assert.Equal(t, 100-result.OverallScore, alert.RiskScore)
}

func TestPerformPropagatesAccountError(t *testing.T) {
	accounts := &fakeAccounts{err: errors.New("db down")}
	engine := testEngine(accounts, healthyEvents(), nil, nil, nil)

	_, err := engine.Perform(context.Background())
	require.Error(t, err)
	assert.ErrorContains(t, err, "account counts")
}

func TestPerformPropagatesStoreError(t *testing.T) {
	store := &fakeAssessmentStore{insertErr: errors.New("insert failed")}
	sink := &fakeSink{}
	engine := testEngine(healthyAccounts(), healthyEvents(), sink, nil, store)

	_, err := engine.Perform(context.Background())
	require.Error(t, err)
	assert.ErrorContains(t, err, "persist")
	assert.Empty(t, sink.events)
}
