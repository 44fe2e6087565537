package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/tdnguyen/healer/internal/core/domain"
)

// StrategyRepo implements storage.StrategyRepository using PostgreSQL.
type StrategyRepo struct {
	db *DB
}

// NewStrategyRepo creates a new PostgreSQL learned strategy repository.
func NewStrategyRepo(db *DB) *StrategyRepo {
	return &StrategyRepo{db: db}
}

type strategyRow struct {
	StrategyID         string    `db:"strategy_id"`
	ErrorType          string    `db:"error_type"`
	StrategyJSON       []byte    `db:"strategy_json"`
	EffectivenessScore float64   `db:"effectiveness_score"`
	SampleCount        int       `db:"sample_count"`
	CreatedAt          time.Time `db:"created_at"`
	UpdatedAt          time.Time `db:"updated_at"`
}

func (row *strategyRow) toDomain() (*domain.LearnedStrategy, error) {
	s := &domain.LearnedStrategy{
		StrategyID:         row.StrategyID,
		ErrorType:          row.ErrorType,
		EffectivenessScore: row.EffectivenessScore,
		SampleCount:        row.SampleCount,
		CreatedAt:          row.CreatedAt,
		UpdatedAt:          row.UpdatedAt,
	}
	if len(row.StrategyJSON) > 0 {
		if err := json.Unmarshal(row.StrategyJSON, &s.Strategy); err != nil {
			return nil, fmt.Errorf("failed to decode strategy: %w", err)
		}
	}
	return s, nil
}

// Save inserts or replaces a learned strategy by strategy id.
func (r *StrategyRepo) Save(ctx context.Context, s *domain.LearnedStrategy) error {
	strategyJSON, err := json.Marshal(s.Strategy)
	if err != nil {
		return fmt.Errorf("failed to encode strategy: %w", err)
	}

	query := `
		INSERT INTO learned_strategies (strategy_id, error_type, strategy_json, effectiveness_score, sample_count, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, NOW(), NOW())
		ON CONFLICT (strategy_id) DO UPDATE SET
			strategy_json = EXCLUDED.strategy_json,
			effectiveness_score = EXCLUDED.effectiveness_score,
			sample_count = EXCLUDED.sample_count,
			updated_at = NOW()
	`
	_, err = r.db.ExecContext(
		ctx,
		query,
		s.StrategyID,
		s.ErrorType,
		strategyJSON,
		s.EffectivenessScore,
		s.SampleCount,
	)
	if err != nil {
		return fmt.Errorf("failed to save learned strategy: %w", err)
	}
	return nil
}

// GetByErrorType returns candidates for an error type, best first.
func (r *StrategyRepo) GetByErrorType(
	ctx context.Context,
	errorType string,
) ([]*domain.LearnedStrategy, error) {
	query := `
		SELECT strategy_id, error_type, strategy_json, effectiveness_score, sample_count, created_at, updated_at
		FROM learned_strategies
		WHERE error_type = $1
		ORDER BY effectiveness_score DESC, strategy_id ASC
	`
	var rows []strategyRow
	if err := r.db.SelectContext(ctx, &rows, query, errorType); err != nil {
		return nil, fmt.Errorf("failed to get learned strategies: %w", err)
	}
	return rowsToDomain(rows)
}

// GetAll returns all learned strategies.
func (r *StrategyRepo) GetAll(ctx context.Context) ([]*domain.LearnedStrategy, error) {
	query := `
		SELECT strategy_id, error_type, strategy_json, effectiveness_score, sample_count, created_at, updated_at
		FROM learned_strategies
		ORDER BY strategy_id ASC
	`
	var rows []strategyRow
	if err := r.db.SelectContext(ctx, &rows, query); err != nil {
		return nil, fmt.Errorf("failed to get learned strategies: %w", err)
	}
	return rowsToDomain(rows)
}

// ErrorTypes lists the distinct error types with stored strategies.
func (r *StrategyRepo) ErrorTypes(ctx context.Context) ([]string, error) {
	var types []string
	query := `SELECT DISTINCT error_type FROM learned_strategies ORDER BY error_type`
	if err := r.db.SelectContext(ctx, &types, query); err != nil {
		return nil, fmt.Errorf("failed to list error types: %w", err)
	}
	return types, nil
}

func rowsToDomain(rows []strategyRow) ([]*domain.LearnedStrategy, error) {
	out := make([]*domain.LearnedStrategy, 0, len(rows))
	for i := range rows {
		s, err := rows[i].toDomain()
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}
