package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/tdnguyen/healer/internal/core/domain"
)

// LedgerRepo implements storage.LedgerRepository using PostgreSQL.
type LedgerRepo struct {
	db *DB
}

// NewLedgerRepo creates a new PostgreSQL execution ledger repository.
func NewLedgerRepo(db *DB) *LedgerRepo {
	return &LedgerRepo{db: db}
}

type ledgerRow struct {
	ExecutionID   string    `db:"execution_id"`
	ErrorType     string    `db:"error_type"`
	ContextJSON   []byte    `db:"context_json"`
	StrategyJSON  []byte    `db:"strategy_json"`
	ExecTimeMs    int64     `db:"exec_time_ms"`
	ResourceJSON  []byte    `db:"resource_usage_json"`
	Success       bool      `db:"success"`
	SideEffects   []byte    `db:"side_effects_json"`
	FeedbackScore float64   `db:"feedback_score"`
	ExecutedAt    time.Time `db:"executed_at"`
}

// Append records one strategy execution.
func (r *LedgerRepo) Append(ctx context.Context, e *domain.Execution) error {
	contextJSON, err := json.Marshal(e.Context)
	if err != nil {
		return fmt.Errorf("failed to encode context: %w", err)
	}
	strategyJSON, err := json.Marshal(e.Strategy)
	if err != nil {
		return fmt.Errorf("failed to encode strategy: %w", err)
	}
	resourceJSON, err := json.Marshal(e.ResourceUsage)
	if err != nil {
		return fmt.Errorf("failed to encode resource usage: %w", err)
	}
	sideEffectsJSON, err := json.Marshal(e.SideEffects)
	if err != nil {
		return fmt.Errorf("failed to encode side effects: %w", err)
	}

	query := `
		INSERT INTO ledger (execution_id, error_type, context_json, strategy_json, exec_time_ms, resource_usage_json, success, side_effects_json, feedback_score, executed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	executedAt := e.ExecutedAt
	if executedAt.IsZero() {
		executedAt = time.Now().UTC()
	}
	_, err = r.db.ExecContext(
		ctx,
		query,
		e.ID,
		e.ErrorType,
		contextJSON,
		strategyJSON,
		e.ExecTime.Milliseconds(),
		resourceJSON,
		e.Success,
		sideEffectsJSON,
		e.FeedbackScore,
		executedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to append execution: %w", err)
	}
	return nil
}

// GetByErrorType returns recent executions for an error type, newest first.
func (r *LedgerRepo) GetByErrorType(
	ctx context.Context,
	errorType string,
	limit int,
) ([]*domain.Execution, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `
		SELECT execution_id, error_type, context_json, strategy_json, exec_time_ms, resource_usage_json, success, side_effects_json, feedback_score, executed_at
		FROM ledger
		WHERE error_type = $1
		ORDER BY executed_at DESC
		LIMIT $2
	`
	var rows []ledgerRow
	if err := r.db.SelectContext(ctx, &rows, query, errorType, limit); err != nil {
		return nil, fmt.Errorf("failed to get executions: %w", err)
	}

	execs := make([]*domain.Execution, 0, len(rows))
	for i := range rows {
		e, err := rows[i].toDomain()
		if err != nil {
			return nil, err
		}
		execs = append(execs, e)
	}
	return execs, nil
}

// CountSince counts executions for an error type recorded after a point in time.
func (r *LedgerRepo) CountSince(
	ctx context.Context,
	errorType string,
	since time.Time,
) (int, error) {
	query := `
		SELECT COUNT(*)
		FROM ledger
		WHERE error_type = $1 AND executed_at > $2
	`
	var count int
	if err := r.db.GetContext(ctx, &count, query, errorType, since); err != nil {
		return 0, fmt.Errorf("failed to count executions: %w", err)
	}
	return count, nil
}

// DeleteOlderThan prunes ledger rows past the retention window.
func (r *LedgerRepo) DeleteOlderThan(ctx context.Context, cutoff time.Time) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM ledger WHERE executed_at < $1`, cutoff)
	if err != nil {
		return fmt.Errorf("failed to prune ledger: %w", err)
	}
	return nil
}

func (row *ledgerRow) toDomain() (*domain.Execution, error) {
	e := &domain.Execution{
		ID:            row.ExecutionID,
		ErrorType:     row.ErrorType,
		ExecTime:      time.Duration(row.ExecTimeMs) * time.Millisecond,
		Success:       row.Success,
		FeedbackScore: row.FeedbackScore,
		ExecutedAt:    row.ExecutedAt,
	}
	if len(row.ContextJSON) > 0 {
		if err := json.Unmarshal(row.ContextJSON, &e.Context); err != nil {
			return nil, fmt.Errorf("failed to decode context: %w", err)
		}
	}
	if len(row.StrategyJSON) > 0 {
		if err := json.Unmarshal(row.StrategyJSON, &e.Strategy); err != nil {
			return nil, fmt.Errorf("failed to decode strategy: %w", err)
		}
	}
	if len(row.ResourceJSON) > 0 {
		if err := json.Unmarshal(row.ResourceJSON, &e.ResourceUsage); err != nil {
			return nil, fmt.Errorf("failed to decode resource usage: %w", err)
		}
	}
	if len(row.SideEffects) > 0 {
		if err := json.Unmarshal(row.SideEffects, &e.SideEffects); err != nil {
			return nil, fmt.Errorf("failed to decode side effects: %w", err)
		}
	}
	return e, nil
}
