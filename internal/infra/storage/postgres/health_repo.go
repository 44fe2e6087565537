package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/tdnguyen/healer/internal/core/domain"
)

// HealthRepo implements storage.HealthRepository using PostgreSQL.
type HealthRepo struct {
	db *DB
}

// NewHealthRepo creates a new PostgreSQL health log repository.
func NewHealthRepo(db *DB) *HealthRepo {
	return &HealthRepo{db: db}
}

type healthRow struct {
	Timestamp       time.Time `db:"ts"`
	Status          string    `db:"status"`
	Score           float64   `db:"score"`
	AutoHealingRate float64   `db:"auto_healing_rate"`
	PreventionRate  float64   `db:"prevention_rate"`
	AvgHealingMs    int64     `db:"avg_healing_ms"`
	ActiveIssues    int       `db:"active_issues"`
	MetricsJSON     []byte    `db:"metrics_json"`
}

// Append records one health snapshot.
func (r *HealthRepo) Append(ctx context.Context, s *domain.HealthSnapshot) error {
	metricsJSON, err := json.Marshal(s.Metrics)
	if err != nil {
		return fmt.Errorf("failed to encode metrics: %w", err)
	}

	query := `
		INSERT INTO health_log (ts, status, score, auto_healing_rate, prevention_rate, avg_healing_ms, active_issues, metrics_json)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err = r.db.ExecContext(
		ctx,
		query,
		s.Timestamp,
		string(s.Status),
		s.Score,
		s.AutoHealingRate,
		s.PreventionRate,
		s.AvgHealingTime.Milliseconds(),
		s.ActiveIssues,
		metricsJSON,
	)
	if err != nil {
		return fmt.Errorf("failed to append health snapshot: %w", err)
	}
	return nil
}

// Latest returns the most recent snapshots, newest first.
func (r *HealthRepo) Latest(
	ctx context.Context,
	limit int,
) ([]*domain.HealthSnapshot, error) {
	if limit <= 0 {
		limit = 10
	}
	query := `
		SELECT ts, status, score, auto_healing_rate, prevention_rate, avg_healing_ms, active_issues, metrics_json
		FROM health_log
		ORDER BY ts DESC
		LIMIT $1
	`
	var rows []healthRow
	if err := r.db.SelectContext(ctx, &rows, query, limit); err != nil {
		return nil, fmt.Errorf("failed to get health snapshots: %w", err)
	}

	out := make([]*domain.HealthSnapshot, 0, len(rows))
	for i := range rows {
		row := rows[i]
		s := &domain.HealthSnapshot{
			Timestamp:       row.Timestamp,
			Status:          domain.HealthStatus(row.Status),
			Score:           row.Score,
			AutoHealingRate: row.AutoHealingRate,
			PreventionRate:  row.PreventionRate,
			AvgHealingTime:  time.Duration(row.AvgHealingMs) * time.Millisecond,
			ActiveIssues:    row.ActiveIssues,
		}
		if len(row.MetricsJSON) > 0 {
			if err := json.Unmarshal(row.MetricsJSON, &s.Metrics); err != nil {
				return nil, fmt.Errorf("failed to decode metrics: %w", err)
			}
		}
		out = append(out, s)
	}
	return out, nil
}

// DeleteOlderThan prunes health rows past the retention window.
func (r *HealthRepo) DeleteOlderThan(ctx context.Context, cutoff time.Time) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM health_log WHERE ts < $1`, cutoff)
	if err != nil {
		return fmt.Errorf("failed to prune health log: %w", err)
	}
	return nil
}
