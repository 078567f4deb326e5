package assessment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-admin/meridian/internal/shared"
)

// ErrNotFound indicates no stored assessment matches.
var ErrNotFound = fmt.Errorf("assessment: %w", shared.ErrNotFound)

// Store persists assessment runs for dashboards and trend views.
type Store interface {
	InsertAssessment(ctx context.Context, result Assessment) (int64, error)
	Latest(ctx context.Context) (Assessment, error)
	List(ctx context.Context, limit int) ([]Assessment, error)
}

// Repository provides PostgreSQL backed persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// InsertAssessment stores one completed run.
func (r *Repository) InsertAssessment(ctx context.Context, result Assessment) (int64, error) {
	categories, err := json.Marshal(result.Categories)
	if err != nil {
		return 0, fmt.Errorf("assessment: encode categories: %w", err)
	}
	recommendations, err := json.Marshal(result.Recommendations)
	if err != nil {
		return 0, fmt.Errorf("assessment: encode recommendations: %w", err)
	}
	compliance, err := json.Marshal(result.ComplianceStatus)
	if err != nil {
		return 0, fmt.Errorf("assessment: encode compliance status: %w", err)
	}
	var id int64
	err = r.pool.QueryRow(ctx,
		`INSERT INTO security_assessments (overall_score, risk_level, categories, recommendations, compliance_status, generated_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING id`,
		result.OverallScore, result.RiskLevel, categories, recommendations, compliance, result.GeneratedAt).Scan(&id)
	return id, err
}

const assessmentColumns = `id, overall_score, risk_level, categories, recommendations, compliance_status, generated_at`

func scanAssessment(row pgx.Row) (Assessment, error) {
	var result Assessment
	var categories, recommendations, compliance []byte
	err := row.Scan(&result.ID, &result.OverallScore, &result.RiskLevel,
		&categories, &recommendations, &compliance, &result.GeneratedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Assessment{}, ErrNotFound
		}
		return Assessment{}, err
	}
	if err := json.Unmarshal(categories, &result.Categories); err != nil {
		return Assessment{}, fmt.Errorf("assessment: decode categories: %w", err)
	}
	if len(recommendations) > 0 {
		if err := json.Unmarshal(recommendations, &result.Recommendations); err != nil {
			return Assessment{}, fmt.Errorf("assessment: decode recommendations: %w", err)
		}
	}
	if len(compliance) > 0 {
		if err := json.Unmarshal(compliance, &result.ComplianceStatus); err != nil {
			return Assessment{}, fmt.Errorf("assessment: decode compliance status: %w", err)
		}
	}
	return result, nil
}

// Latest returns the most recent stored run.
func (r *Repository) Latest(ctx context.Context) (Assessment, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+assessmentColumns+` FROM security_assessments ORDER BY generated_at DESC LIMIT 1`)
	return scanAssessment(row)
}

// List returns the most recent runs, newest first.
func (r *Repository) List(ctx context.Context, limit int) ([]Assessment, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	rows, err := r.pool.Query(ctx,
		`SELECT `+assessmentColumns+` FROM security_assessments ORDER BY generated_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var results []Assessment
	for rows.Next() {
		result, err := scanAssessment(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, result)
	}
	return results, rows.Err()
}
