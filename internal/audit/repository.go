package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Store abstracts audit persistence so the recorder and the assessment
// engine can run against an in-memory fake in tests.
type Store interface {
	InsertSecurityEvent(ctx context.Context, event SecurityEvent) (SecurityEvent, error)
	InsertEntry(ctx context.Context, entry Entry) (Entry, error)
	SecurityEvents(ctx context.Context, filters EventFilters, limit, offset int) ([]SecurityEvent, int, error)
	Entries(ctx context.Context, filters EntryFilters, limit, offset int) ([]Entry, int, error)
	ResolveSecurityEvent(ctx context.Context, id, resolvedBy int64, resolution string, resolvedAt time.Time) error

	CountEventsByType(ctx context.Context, eventType string, since time.Time) (int, error)
	CountEventsBySeverity(ctx context.Context, severity Severity, from, to time.Time) (int, error)
	CountUnresolvedBySeverity(ctx context.Context, severity Severity, since time.Time) (int, error)
	AvgResolutionHours(ctx context.Context, since time.Time) (float64, bool, error)
	CountEventsSince(ctx context.Context, since time.Time) (int, error)
	CountEntriesSince(ctx context.Context, since time.Time) (int, error)
}

// Repository provides PostgreSQL backed persistence for audit data.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// InsertSecurityEvent appends a security event.
func (r *Repository) InsertSecurityEvent(ctx context.Context, event SecurityEvent) (SecurityEvent, error) {
	details, err := json.Marshal(event.Details)
	if err != nil {
		return SecurityEvent{}, fmt.Errorf("audit: encode event details: %w", err)
	}
	row := r.pool.QueryRow(ctx,
		`INSERT INTO security_events (event_type, severity, user_id, resource_type, resource_id, details, risk_score, correlation_id, detected_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 RETURNING id`,
		event.EventType, event.Severity, nullableID(event.UserID), event.ResourceType, event.ResourceID,
		details, event.RiskScore, event.CorrelationID, event.DetectedAt)
	if err := row.Scan(&event.ID); err != nil {
		return SecurityEvent{}, err
	}
	return event, nil
}

// InsertEntry appends an audit log entry.
func (r *Repository) InsertEntry(ctx context.Context, entry Entry) (Entry, error) {
	oldValues, err := json.Marshal(entry.OldValues)
	if err != nil {
		return Entry{}, fmt.Errorf("audit: encode old values: %w", err)
	}
	newValues, err := json.Marshal(entry.NewValues)
	if err != nil {
		return Entry{}, fmt.Errorf("audit: encode new values: %w", err)
	}
	performance, err := json.Marshal(entry.Performance)
	if err != nil {
		return Entry{}, fmt.Errorf("audit: encode performance data: %w", err)
	}
	row := r.pool.QueryRow(ctx,
		`INSERT INTO audit_logs (user_id, action, resource_type, resource_id, old_values, new_values, method, endpoint,
		                         success, status_code, response_time_ms, request_size, response_size, memory_usage,
		                         db_query_count, db_query_time_ms, ip, user_agent, correlation_id, performance_data, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21)
		 RETURNING id`,
		nullableID(entry.UserID), entry.Action, entry.ResourceType, entry.ResourceID, oldValues, newValues,
		entry.Method, entry.Endpoint, entry.Success, entry.StatusCode, entry.ResponseTime.Milliseconds(),
		entry.RequestSize, entry.ResponseSize, entry.MemoryUsage, entry.DBQueryCount,
		entry.DBQueryTime.Milliseconds(), entry.IP, entry.UserAgent, entry.CorrelationID, performance, entry.CreatedAt)
	if err := row.Scan(&entry.ID); err != nil {
		return Entry{}, err
	}
	return entry, nil
}

// SecurityEvents returns a page of events, newest first, plus the total count.
func (r *Repository) SecurityEvents(ctx context.Context, filters EventFilters, limit, offset int) ([]SecurityEvent, int, error) {
	where, args := buildEventWhere(filters)
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM security_events`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	query := `SELECT id, event_type, severity, COALESCE(user_id, 0), resource_type, resource_id, details,
	                 is_resolved, resolved_by, resolved_at, COALESCE(resolution, ''), risk_score, correlation_id, detected_at
	          FROM security_events` + where +
		` ORDER BY detected_at DESC LIMIT $` + strconv.Itoa(len(args)+1) + ` OFFSET $` + strconv.Itoa(len(args)+2)
	args = append(args, limit, offset)
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var events []SecurityEvent
	for rows.Next() {
		var e SecurityEvent
		var details []byte
		if err := rows.Scan(&e.ID, &e.EventType, &e.Severity, &e.UserID, &e.ResourceType, &e.ResourceID,
			&details, &e.IsResolved, &e.ResolvedBy, &e.ResolvedAt, &e.Resolution, &e.RiskScore,
			&e.CorrelationID, &e.DetectedAt); err != nil {
			return nil, 0, err
		}
		if len(details) > 0 {
			if err := json.Unmarshal(details, &e.Details); err != nil {
				return nil, 0, fmt.Errorf("audit: decode event details: %w", err)
			}
		}
		events = append(events, e)
	}
	return events, total, rows.Err()
}

// Entries returns a page of audit log entries, newest first, plus the total count.
func (r *Repository) Entries(ctx context.Context, filters EntryFilters, limit, offset int) ([]Entry, int, error) {
	where, args := buildEntryWhere(filters)
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM audit_logs`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	query := `SELECT id, COALESCE(user_id, 0), action, resource_type, resource_id, old_values, new_values, method, endpoint,
	                 success, status_code, response_time_ms, request_size, response_size, memory_usage,
	                 db_query_count, db_query_time_ms, ip, user_agent, correlation_id, performance_data, created_at
	          FROM audit_logs` + where +
		` ORDER BY created_at DESC LIMIT $` + strconv.Itoa(len(args)+1) + ` OFFSET $` + strconv.Itoa(len(args)+2)
	args = append(args, limit, offset)
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var entries []Entry
	for rows.Next() {
		var e Entry
		var oldValues, newValues, performance []byte
		var responseMS, queryMS int64
		if err := rows.Scan(&e.ID, &e.UserID, &e.Action, &e.ResourceType, &e.ResourceID, &oldValues, &newValues,
			&e.Method, &e.Endpoint, &e.Success, &e.StatusCode, &responseMS, &e.RequestSize, &e.ResponseSize,
			&e.MemoryUsage, &e.DBQueryCount, &queryMS, &e.IP, &e.UserAgent, &e.CorrelationID,
			&performance, &e.CreatedAt); err != nil {
			return nil, 0, err
		}
		e.ResponseTime = time.Duration(responseMS) * time.Millisecond
		e.DBQueryTime = time.Duration(queryMS) * time.Millisecond
		if err := decodeJSONField(oldValues, &e.OldValues); err != nil {
			return nil, 0, err
		}
		if err := decodeJSONField(newValues, &e.NewValues); err != nil {
			return nil, 0, err
		}
		if err := decodeJSONField(performance, &e.Performance); err != nil {
			return nil, 0, err
		}
		entries = append(entries, e)
	}
	return entries, total, rows.Err()
}

// ResolveSecurityEvent marks an event resolved. The only mutation audit data supports.
func (r *Repository) ResolveSecurityEvent(ctx context.Context, id, resolvedBy int64, resolution string, resolvedAt time.Time) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE security_events SET is_resolved = TRUE, resolved_by = $2, resolution = $3, resolved_at = $4
		 WHERE id = $1 AND is_resolved = FALSE`,
		id, resolvedBy, resolution, resolvedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// CountEventsByType counts events of one type detected since the given time.
func (r *Repository) CountEventsByType(ctx context.Context, eventType string, since time.Time) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM security_events WHERE event_type = $1 AND detected_at >= $2`,
		eventType, since).Scan(&count)
	return count, err
}

// CountEventsBySeverity counts events of one severity inside a window.
func (r *Repository) CountEventsBySeverity(ctx context.Context, severity Severity, from, to time.Time) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM security_events WHERE severity = $1 AND detected_at >= $2 AND detected_at < $3`,
		severity, from, to).Scan(&count)
	return count, err
}

// CountUnresolvedBySeverity counts open events of one severity detected since the given time.
func (r *Repository) CountUnresolvedBySeverity(ctx context.Context, severity Severity, since time.Time) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM security_events WHERE severity = $1 AND is_resolved = FALSE AND detected_at >= $2`,
		severity, since).Scan(&count)
	return count, err
}

// AvgResolutionHours averages the resolution time of resolved high and
// critical events detected since the given time. The bool reports whether
// any such events exist.
func (r *Repository) AvgResolutionHours(ctx context.Context, since time.Time) (float64, bool, error) {
	var hours *float64
	err := r.pool.QueryRow(ctx,
		`SELECT AVG(EXTRACT(EPOCH FROM (resolved_at - detected_at)) / 3600.0)
		 FROM security_events
		 WHERE severity IN ('high', 'critical') AND is_resolved = TRUE AND resolved_at IS NOT NULL AND detected_at >= $1`,
		since).Scan(&hours)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, err
	}
	if hours == nil {
		return 0, false, nil
	}
	return *hours, true, nil
}

// CountEventsSince counts all security events detected since the given time.
func (r *Repository) CountEventsSince(ctx context.Context, since time.Time) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM security_events WHERE detected_at >= $1`, since).Scan(&count)
	return count, err
}

// CountEntriesSince counts all audit log entries written since the given time.
func (r *Repository) CountEntriesSince(ctx context.Context, since time.Time) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM audit_logs WHERE created_at >= $1`, since).Scan(&count)
	return count, err
}

func buildEventWhere(filters EventFilters) (string, []any) {
	var clauses []string
	var args []any
	add := func(clause string, value any) {
		args = append(args, value)
		clauses = append(clauses, fmt.Sprintf(clause, len(args)))
	}
	if filters.EventType != "" {
		add("event_type = $%d", filters.EventType)
	}
	if filters.Severity != "" {
		add("severity = $%d", filters.Severity)
	}
	if filters.UserID > 0 {
		add("user_id = $%d", filters.UserID)
	}
	if filters.Unresolved != nil {
		add("is_resolved = $%d", !*filters.Unresolved)
	}
	if !filters.From.IsZero() {
		add("detected_at >= $%d", filters.From)
	}
	if !filters.To.IsZero() {
		add("detected_at < $%d", filters.To)
	}
	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

func buildEntryWhere(filters EntryFilters) (string, []any) {
	var clauses []string
	var args []any
	add := func(clause string, value any) {
		args = append(args, value)
		clauses = append(clauses, fmt.Sprintf(clause, len(args)))
	}
	if filters.UserID > 0 {
		add("user_id = $%d", filters.UserID)
	}
	if filters.Action != "" {
		add("action = $%d", filters.Action)
	}
	if filters.ResourceType != "" {
		add("resource_type = $%d", filters.ResourceType)
	}
	if filters.Success != nil {
		add("success = $%d", *filters.Success)
	}
	if !filters.From.IsZero() {
		add("created_at >= $%d", filters.From)
	}
	if !filters.To.IsZero() {
		add("created_at < $%d", filters.To)
	}
	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

func decodeJSONField(raw []byte, target *map[string]any) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, target); err != nil {
		return fmt.Errorf("audit: decode entry payload: %w", err)
	}
	return nil
}

func nullableID(id int64) *int64 {
	if id <= 0 {
		return nil
	}
	return &id
}
