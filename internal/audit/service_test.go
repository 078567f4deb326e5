package audit

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridian-admin/meridian/internal/shared"
)

var testNow = time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)

type fakeStore struct {
	events  []SecurityEvent
	entries []Entry

	insertEventErr error
	insertEntryErr error
	resolveErr     error
}

func (s *fakeStore) InsertSecurityEvent(ctx context.Context, event SecurityEvent) (SecurityEvent, error) {
	if s.insertEventErr != nil {
		return SecurityEvent{}, s.insertEventErr
	}
	event.ID = int64(len(s.events) + 1)
	s.events = append(s.events, event)
	return event, nil
}

func (s *fakeStore) InsertEntry(ctx context.Context, entry Entry) (Entry, error) {
	if s.insertEntryErr != nil {
		return Entry{}, s.insertEntryErr
	}
	entry.ID = int64(len(s.entries) + 1)
	s.entries = append(s.entries, entry)
	return entry, nil
}

func (s *fakeStore) SecurityEvents(ctx context.Context, filters EventFilters, limit, offset int) ([]SecurityEvent, int, error) {
	return s.events, len(s.events), nil
}

func (s *fakeStore) Entries(ctx context.Context, filters EntryFilters, limit, offset int) ([]Entry, int, error) {
	return s.entries, len(s.entries), nil
}

func (s *fakeStore) ResolveSecurityEvent(ctx context.Context, id, resolvedBy int64, resolution string, resolvedAt time.Time) error {
	if s.resolveErr != nil {
		return s.resolveErr
	}
	for i := range s.events {
		if s.events[i].ID == id && !s.events[i].IsResolved {
			s.events[i].IsResolved = true
			s.events[i].ResolvedBy = &resolvedBy
			s.events[i].ResolvedAt = &resolvedAt
			s.events[i].Resolution = resolution
			return nil
		}
	}
	return ErrNotFound
}

func (s *fakeStore) CountEventsByType(ctx context.Context, eventType string, since time.Time) (int, error) {
	return 0, nil
}

func (s *fakeStore) CountEventsBySeverity(ctx context.Context, severity Severity, from, to time.Time) (int, error) {
	return 0, nil
}

func (s *fakeStore) CountUnresolvedBySeverity(ctx context.Context, severity Severity, since time.Time) (int, error) {
	return 0, nil
}

func (s *fakeStore) AvgResolutionHours(ctx context.Context, since time.Time) (float64, bool, error) {
	return 0, false, nil
}

func (s *fakeStore) CountEventsSince(ctx context.Context, since time.Time) (int, error) {
	return 0, nil
}

func (s *fakeStore) CountEntriesSince(ctx context.Context, since time.Time) (int, error) {
	return 0, nil
}

func testRecorder(store Store) *Recorder {
	r := NewRecorder(store, slog.Default())
	r.clock = func() time.Time { return testNow }
	return r
}

func TestLogSecurityEventDefaults(t *testing.T) {
	store := &fakeStore{}
	recorder := testRecorder(store)

	recorder.LogSecurityEvent(context.Background(), SecurityEvent{EventType: EventFailedLogin})

	require.Len(t, store.events, 1)
	event := store.events[0]
	assert.Equal(t, SeverityLow, event.Severity)
	assert.Equal(t, 15, event.RiskScore)
	assert.Equal(t, testNow, event.DetectedAt)
	assert.NotEmpty(t, event.CorrelationID)
}

func TestLogSecurityEventRiskFromSeverity(t *testing.T) {
	store := &fakeStore{}
	recorder := testRecorder(store)
	ctx := context.Background()

	recorder.LogSecurityEvent(ctx, SecurityEvent{EventType: "x", Severity: SeverityCritical})
	recorder.LogSecurityEvent(ctx, SecurityEvent{EventType: "x", Severity: SeverityHigh})
	recorder.LogSecurityEvent(ctx, SecurityEvent{EventType: "x", Severity: SeverityMedium})
	recorder.LogSecurityEvent(ctx, SecurityEvent{EventType: "x", Severity: SeverityCritical, RiskScore: 55})

	assert.Equal(t, 90, store.events[0].RiskScore)
	assert.Equal(t, 70, store.events[1].RiskScore)
	assert.Equal(t, 40, store.events[2].RiskScore)
	assert.Equal(t, 55, store.events[3].RiskScore, "explicit risk score wins")
}

func TestLogSecurityEventSwallowsStoreError(t *testing.T) {
	store := &fakeStore{insertEventErr: errors.New("connection refused")}
	recorder := testRecorder(store)

	// Must not panic or surface the failure.
	recorder.LogSecurityEvent(context.Background(), SecurityEvent{EventType: EventFailedLogin})
	assert.Empty(t, store.events)
}

func TestLogAuditUsesRequestCorrelation(t *testing.T) {
	store := &fakeStore{}
	recorder := testRecorder(store)

	ctx := shared.ContextWithCorrelationID(context.Background(), "corr-123")
	recorder.LogAudit(ctx, Entry{Action: "invoices.create"})

	require.Len(t, store.entries, 1)
	assert.Equal(t, "corr-123", store.entries[0].CorrelationID)
	assert.Equal(t, testNow, store.entries[0].CreatedAt)
}

func TestLogAuditWithPerformanceSnapshots(t *testing.T) {
	store := &fakeStore{}
	recorder := testRecorder(store)

	recorder.LogAuditWithPerformance(context.Background(), Entry{
		Action:       "invoices.create",
		ResponseTime: 120 * time.Millisecond,
	})

	require.Len(t, store.entries, 1)
	entry := store.entries[0]
	assert.Positive(t, entry.MemoryUsage)
	assert.Equal(t, int64(120), entry.Performance["responseTimeMs"])
	assert.Contains(t, entry.Performance, "goroutines")
	assert.Contains(t, entry.Performance, "heapAllocBytes")
}

func TestResolveSecurityEventOnce(t *testing.T) {
	store := &fakeStore{}
	recorder := testRecorder(store)
	ctx := context.Background()

	recorder.LogSecurityEvent(ctx, SecurityEvent{EventType: "x", Severity: SeverityHigh})
	require.NoError(t, recorder.ResolveSecurityEvent(ctx, 1, 99, "patched"))

	assert.True(t, store.events[0].IsResolved)
	assert.Equal(t, "patched", store.events[0].Resolution)

	// A second resolve hits the is_resolved guard.
	assert.ErrorIs(t, recorder.ResolveSecurityEvent(ctx, 1, 99, "again"), ErrNotFound)
}
