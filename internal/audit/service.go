package audit

import (
	"context"
	"log/slog"
	"runtime"
	"time"

	"github.com/meridian-admin/meridian/internal/shared"
)

// Recorder writes audit entries and security events. Writes are best-effort
// from the caller's perspective: failures are logged and swallowed so the
// primary operation never fails because its audit trail could not be
// written. Reads surface errors normally.
type Recorder struct {
	store  Store
	logger *slog.Logger
	clock  func() time.Time
}

// NewRecorder constructs a Recorder.
func NewRecorder(store Store, logger *slog.Logger) *Recorder {
	return &Recorder{
		store:  store,
		logger: logger,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// LogSecurityEvent appends a security event. Missing severity defaults to
// low, a zero risk score derives from severity, and the correlation ID
// falls back to the request's.
func (r *Recorder) LogSecurityEvent(ctx context.Context, event SecurityEvent) {
	if !event.Severity.Valid() {
		event.Severity = SeverityLow
	}
	if event.RiskScore <= 0 {
		event.RiskScore = defaultRiskScore(event.Severity)
	}
	if event.CorrelationID == "" {
		event.CorrelationID = shared.CorrelationIDFromContext(ctx)
	}
	if event.DetectedAt.IsZero() {
		event.DetectedAt = r.clock()
	}
	if _, err := r.store.InsertSecurityEvent(ctx, event); err != nil && r.logger != nil {
		r.logger.Error("security event write failed",
			slog.String("event_type", event.EventType),
			slog.Any("error", err))
	}
}

// LogAudit appends an audit entry.
func (r *Recorder) LogAudit(ctx context.Context, entry Entry) {
	if entry.CorrelationID == "" {
		entry.CorrelationID = shared.CorrelationIDFromContext(ctx)
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = r.clock()
	}
	if _, err := r.store.InsertEntry(ctx, entry); err != nil && r.logger != nil {
		r.logger.Error("audit write failed",
			slog.String("action", entry.Action),
			slog.Any("error", err))
	}
}

// LogAuditWithPerformance appends an audit entry enriched with a heap and
// timing snapshot taken at call time.
func (r *Recorder) LogAuditWithPerformance(ctx context.Context, entry Entry) {
	snapshot, heapAlloc := capturePerformance()
	entry.MemoryUsage = int64(heapAlloc)
	if entry.Performance == nil {
		entry.Performance = map[string]any{}
	}
	for k, v := range snapshot {
		entry.Performance[k] = v
	}
	entry.Performance["responseTimeMs"] = entry.ResponseTime.Milliseconds()
	entry.Performance["requestSize"] = entry.RequestSize
	entry.Performance["responseSize"] = entry.ResponseSize
	r.LogAudit(ctx, entry)
}

// SecurityEvents returns a page of events, newest first, with the total count.
func (r *Recorder) SecurityEvents(ctx context.Context, filters EventFilters, limit, offset int) ([]SecurityEvent, int, error) {
	limit, offset = shared.LimitOffset(limit, offset)
	return r.store.SecurityEvents(ctx, filters, limit, offset)
}

// AuditLogs returns a page of audit entries, newest first, with the total count.
func (r *Recorder) AuditLogs(ctx context.Context, filters EntryFilters, limit, offset int) ([]Entry, int, error) {
	limit, offset = shared.LimitOffset(limit, offset)
	return r.store.Entries(ctx, filters, limit, offset)
}

// ResolveSecurityEvent records the resolution of an open event.
func (r *Recorder) ResolveSecurityEvent(ctx context.Context, id, resolvedBy int64, resolution string) error {
	return r.store.ResolveSecurityEvent(ctx, id, resolvedBy, resolution, r.clock())
}

func capturePerformance() (map[string]any, uint64) {
	var stats runtime.MemStats
	runtime.ReadMemStats(&stats)
	return map[string]any{
		"heapAllocBytes": stats.HeapAlloc,
		"heapObjects":    stats.HeapObjects,
		"numGC":          stats.NumGC,
		"goroutines":     runtime.NumGoroutine(),
	}, stats.HeapAlloc
}
