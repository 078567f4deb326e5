package compliance

import "time"

// Framework identifies a compliance framework the reporter scores against.
type Framework string

const (
	FrameworkGDPR     Framework = "GDPR"
	FrameworkSOC2     Framework = "SOC2"
	FrameworkISO27001 Framework = "ISO27001"
)

// Statuses a framework or requirement can hold.
const (
	StatusCompliant    = "compliant"
	StatusPartial      = "partial"
	StatusNonCompliant = "non_compliant"

	RequirementMet     = "met"
	RequirementPartial = "partial"
	RequirementNotMet  = "not_met"
)

// Summary aggregates the audit window a report covers.
type Summary struct {
	TotalEvents    int `json:"totalEvents"`
	CriticalEvents int `json:"criticalEvents"`
	HighEvents     int `json:"highEvents"`
	AuditEntries   int `json:"auditEntries"`
}

// UserActivity is one user's footprint inside the report window.
type UserActivity struct {
	UserID     int64     `json:"userId"`
	Actions    int       `json:"actions"`
	LastActive time.Time `json:"lastActive"`
}

// AccessChange is one permission mutation inside the report window.
type AccessChange struct {
	UserID     int64          `json:"userId"`
	TargetType string         `json:"targetType"`
	TargetID   string         `json:"targetId"`
	Details    map[string]any `json:"details,omitempty"`
	OccurredAt time.Time      `json:"occurredAt"`
}

// Requirement is a named framework control with a display status. It feeds
// reporting screens, never scoring.
type Requirement struct {
	Name   string `json:"name"`
	Status string `json:"status"`
}

// Report is the outcome of one compliance evaluation window.
type Report struct {
	From            time.Time      `json:"from"`
	To              time.Time      `json:"to"`
	ComplianceScore int            `json:"complianceScore"`
	Status          string         `json:"status"`
	Summary         Summary        `json:"summary"`
	UserActivities  []UserActivity `json:"userActivities"`
	AccessChanges   []AccessChange `json:"accessChanges"`
}

// FrameworkReport is the per-framework view derived from a base report.
type FrameworkReport struct {
	Framework       Framework     `json:"framework"`
	Score           int           `json:"score"`
	Status          string        `json:"status"`
	KeyRequirements []Requirement `json:"keyRequirements"`
}
