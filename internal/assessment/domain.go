package assessment

import "time"

// RiskLevel grades the overall security posture.
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// CategoryStatus grades a single category relative to its maximum.
type CategoryStatus string

const (
	StatusExcellent CategoryStatus = "excellent"
	StatusGood      CategoryStatus = "good"
	StatusFair      CategoryStatus = "fair"
	StatusPoor      CategoryStatus = "poor"
)

// Recommendation priorities.
const (
	PriorityCritical = "critical"
	PriorityHigh     = "high"
	PriorityMedium   = "medium"
)

// CategoryScore is the outcome of scoring one category.
type CategoryScore struct {
	Name         string         `json:"name"`
	Score        int            `json:"score"`
	MaxScore     int            `json:"maxScore"`
	Status       CategoryStatus `json:"status"`
	Findings     []string       `json:"findings,omitempty"`
	Improvements []string       `json:"improvements,omitempty"`
}

// Categories groups the five scored categories.
type Categories struct {
	Authentication   CategoryScore `json:"authentication"`
	Authorization    CategoryScore `json:"authorization"`
	DataProtection   CategoryScore `json:"dataProtection"`
	AuditLogging     CategoryScore `json:"auditLogging"`
	IncidentResponse CategoryScore `json:"incidentResponse"`
}

// All returns the categories in their canonical order.
func (c Categories) All() []CategoryScore {
	return []CategoryScore{c.Authentication, c.Authorization, c.DataProtection, c.AuditLogging, c.IncidentResponse}
}

// Recommendation is an actionable improvement derived from a weak category.
type Recommendation struct {
	Category string `json:"category"`
	Action   string `json:"action"`
	Priority string `json:"priority"`
	Timeline string `json:"timeline"`
}

// Assessment is the outcome of one full posture evaluation.
type Assessment struct {
	ID               int64             `json:"id,omitempty"`
	OverallScore     int               `json:"overallScore"`
	RiskLevel        RiskLevel         `json:"riskLevel"`
	Categories       Categories        `json:"categories"`
	Recommendations  []Recommendation  `json:"recommendations"`
	ComplianceStatus map[string]string `json:"complianceStatus"`
	GeneratedAt      time.Time         `json:"generatedAt"`
}
