package assessment

// ScoringConfig gathers every weight, deduction and threshold the engine
// applies. Injecting it keeps boundary values testable without touching
// scoring logic.
type ScoringConfig struct {
	MaxScore   int
	Weights    CategoryWeights
	Deductions DeductionTable
	Risk       RiskThresholds
	Status     StatusBands
}

// CategoryWeights holds the relative weight of each category in the overall score.
type CategoryWeights struct {
	Authentication   float64
	Authorization    float64
	DataProtection   float64
	AuditLogging     float64
	IncidentResponse float64
}

// Total returns the sum of all weights.
func (w CategoryWeights) Total() float64 {
	return w.Authentication + w.Authorization + w.DataProtection + w.AuditLogging + w.IncidentResponse
}

// DeductionTable holds per-finding deduction amounts and their trigger thresholds.
type DeductionTable struct {
	MFAAdoptionBelowHalf   int     // MFA adoption under 50% of active users
	MFAAdoptionBelowTarget int     // MFA adoption under 80%
	PrivilegedWithoutMFA   int     // any admin account without MFA
	ExcessiveFailedLogins  int     // failed logins in 24h above threshold
	FailedLoginThreshold   int
	AdminRatioHigh         int     // admins above 20% of active users
	AdminRatioElevated     int     // admins above 10%
	PermissionChurn        int     // permission changes in 7d above threshold
	PermissionChurnLimit   int
	PerUnauthorizedAccess  int     // per unauthorized-access event in 30d
	AuditSilence           int     // no audit logs and no events in 24h
	PerUnresolvedCritical  int     // per unresolved critical event in 7d
	SlowResolution         int     // avg high/critical resolution above threshold
	ResolutionHoursLimit   float64
}

// RiskThresholds maps the overall score onto a risk level. Scores at or
// above Low are low risk, then medium, then high; everything below High is
// critical.
type RiskThresholds struct {
	Low    int
	Medium int
	High   int
}

// StatusBands classify a category score as a percentage of its maximum.
// Categories at or above Good produce no recommendations; below Fair a
// recommendation's timeline becomes immediate and its priority critical.
type StatusBands struct {
	Excellent int
	Good      int
	Fair      int
}

// DefaultScoringConfig returns the production scoring configuration.
func DefaultScoringConfig() ScoringConfig {
	return ScoringConfig{
		MaxScore: 100,
		Weights: CategoryWeights{
			Authentication:   0.25,
			Authorization:    0.20,
			DataProtection:   0.25,
			AuditLogging:     0.15,
			IncidentResponse: 0.15,
		},
		Deductions: DeductionTable{
			MFAAdoptionBelowHalf:   30,
			MFAAdoptionBelowTarget: 15,
			PrivilegedWithoutMFA:   25,
			ExcessiveFailedLogins:  10,
			FailedLoginThreshold:   100,
			AdminRatioHigh:         25,
			AdminRatioElevated:     10,
			PermissionChurn:        5,
			PermissionChurnLimit:   50,
			PerUnauthorizedAccess:  10,
			AuditSilence:           50,
			PerUnresolvedCritical:  20,
			SlowResolution:         15,
			ResolutionHoursLimit:   24,
		},
		Risk:   RiskThresholds{Low: 90, Medium: 75, High: 50},
		Status: StatusBands{Excellent: 90, Good: 75, Fair: 50},
	}
}
