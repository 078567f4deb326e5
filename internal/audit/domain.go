package audit

import (
	"fmt"
	"time"

	"github.com/meridian-admin/meridian/internal/shared"
)

// ErrNotFound indicates the requested event or log entry does not exist.
var ErrNotFound = fmt.Errorf("audit: %w", shared.ErrNotFound)

// Severity grades a security event.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Valid reports whether the severity is a known grade.
func (s Severity) Valid() bool {
	switch s {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return true
	}
	return false
}

// Well-known event types the engine itself emits or aggregates over.
const (
	EventFailedLogin        = "auth.login_failed"
	EventUnauthorizedAccess = "access.unauthorized"
	EventPermissionChange   = "rbac.permission_change"
	EventAssessmentComplete = "assessment.completed"
	EventAssessmentCritical = "assessment.critical_risk"
)

// SecurityEvent is an append-mostly record of a security-relevant
// occurrence. The resolution fields are its only mutation path.
type SecurityEvent struct {
	ID            int64          `json:"id"`
	EventType     string         `json:"eventType"`
	Severity      Severity       `json:"severity"`
	UserID        int64          `json:"userId,omitempty"`
	ResourceType  string         `json:"resourceType,omitempty"`
	ResourceID    string         `json:"resourceId,omitempty"`
	Details       map[string]any `json:"details,omitempty"`
	IsResolved    bool           `json:"isResolved"`
	ResolvedBy    *int64         `json:"resolvedBy,omitempty"`
	ResolvedAt    *time.Time     `json:"resolvedAt,omitempty"`
	Resolution    string         `json:"resolution,omitempty"`
	RiskScore     int            `json:"riskScore"`
	CorrelationID string         `json:"correlationId,omitempty"`
	DetectedAt    time.Time      `json:"detectedAt"`
}

// Entry is a write-once audit record for a single request.
type Entry struct {
	ID            int64          `json:"id"`
	UserID        int64          `json:"userId,omitempty"`
	Action        string         `json:"action"`
	ResourceType  string         `json:"resourceType,omitempty"`
	ResourceID    string         `json:"resourceId,omitempty"`
	OldValues     map[string]any `json:"oldValues,omitempty"`
	NewValues     map[string]any `json:"newValues,omitempty"`
	Method        string         `json:"method,omitempty"`
	Endpoint      string         `json:"endpoint,omitempty"`
	Success       bool           `json:"success"`
	StatusCode    int            `json:"statusCode,omitempty"`
	ResponseTime  time.Duration  `json:"responseTimeMs,omitempty"`
	RequestSize   int64          `json:"requestSize,omitempty"`
	ResponseSize  int64          `json:"responseSize,omitempty"`
	MemoryUsage   int64          `json:"memoryUsage,omitempty"`
	DBQueryCount  int            `json:"dbQueryCount,omitempty"`
	DBQueryTime   time.Duration  `json:"dbQueryTimeMs,omitempty"`
	IP            string         `json:"ip,omitempty"`
	UserAgent     string         `json:"userAgent,omitempty"`
	CorrelationID string         `json:"correlationId,omitempty"`
	Performance   map[string]any `json:"performanceData,omitempty"`
	CreatedAt     time.Time      `json:"createdAt"`
}

// EventFilters narrows security event listings.
type EventFilters struct {
	EventType  string
	Severity   Severity
	UserID     int64
	Unresolved *bool
	From       time.Time
	To         time.Time
}

// EntryFilters narrows audit log listings.
type EntryFilters struct {
	UserID       int64
	Action       string
	ResourceType string
	Success      *bool
	From         time.Time
	To           time.Time
}

// defaultRiskScore maps a severity to a baseline risk score used when the
// caller does not supply one.
func defaultRiskScore(severity Severity) int {
	switch severity {
	case SeverityCritical:
		return 90
	case SeverityHigh:
		return 70
	case SeverityMedium:
		return 40
	default:
		return 15
	}
}
