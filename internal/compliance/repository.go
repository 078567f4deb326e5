package compliance

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Store abstracts the aggregate queries a report needs.
type Store interface {
	EventCounts(ctx context.Context, from, to time.Time) (Summary, error)
	UserActivities(ctx context.Context, from, to time.Time, limit int) ([]UserActivity, error)
	AccessChanges(ctx context.Context, from, to time.Time, limit int) ([]AccessChange, error)
}

// Repository reads report aggregates straight from the audit tables.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// EventCounts aggregates event and audit figures for the window.
func (r *Repository) EventCounts(ctx context.Context, from, to time.Time) (Summary, error) {
	var summary Summary
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*),
		        COUNT(*) FILTER (WHERE severity = 'critical'),
		        COUNT(*) FILTER (WHERE severity = 'high')
		 FROM security_events WHERE detected_at >= $1 AND detected_at < $2`,
		from, to).Scan(&summary.TotalEvents, &summary.CriticalEvents, &summary.HighEvents)
	if err != nil {
		return Summary{}, err
	}
	err = r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM audit_logs WHERE created_at >= $1 AND created_at < $2`,
		from, to).Scan(&summary.AuditEntries)
	if err != nil {
		return Summary{}, err
	}
	return summary, nil
}

// UserActivities returns per-user action counts inside the window, most
// active first.
func (r *Repository) UserActivities(ctx context.Context, from, to time.Time, limit int) ([]UserActivity, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT user_id, COUNT(*), MAX(created_at)
		 FROM audit_logs
		 WHERE user_id IS NOT NULL AND created_at >= $1 AND created_at < $2
		 GROUP BY user_id
		 ORDER BY COUNT(*) DESC
		 LIMIT $3`,
		from, to, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var activities []UserActivity
	for rows.Next() {
		var a UserActivity
		if err := rows.Scan(&a.UserID, &a.Actions, &a.LastActive); err != nil {
			return nil, err
		}
		activities = append(activities, a)
	}
	return activities, rows.Err()
}

// AccessChanges returns permission mutations inside the window, newest first.
func (r *Repository) AccessChanges(ctx context.Context, from, to time.Time, limit int) ([]AccessChange, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT COALESCE(user_id, 0), resource_type, resource_id, details, detected_at
		 FROM security_events
		 WHERE event_type = 'rbac.permission_change' AND detected_at >= $1 AND detected_at < $2
		 ORDER BY detected_at DESC
		 LIMIT $3`,
		from, to, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var changes []AccessChange
	for rows.Next() {
		var c AccessChange
		var details []byte
		if err := rows.Scan(&c.UserID, &c.TargetType, &c.TargetID, &details, &c.OccurredAt); err != nil {
			return nil, err
		}
		if len(details) > 0 {
			if err := json.Unmarshal(details, &c.Details); err != nil {
				return nil, fmt.Errorf("compliance: decode change details: %w", err)
			}
		}
		changes = append(changes, c)
	}
	return changes, rows.Err()
}
