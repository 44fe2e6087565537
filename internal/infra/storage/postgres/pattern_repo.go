package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/tdnguyen/healer/internal/core/domain"
	"github.com/tdnguyen/healer/internal/infra/storage"
)

// PatternRepo implements storage.PatternRepository using PostgreSQL.
type PatternRepo struct {
	db *DB
}

// NewPatternRepo creates a new PostgreSQL pattern repository.
func NewPatternRepo(db *DB) *PatternRepo {
	return &PatternRepo{db: db}
}

type patternRow struct {
	ID              string    `db:"id"`
	ErrorType       string    `db:"error_type"`
	Sample          string    `db:"sample"`
	Category        string    `db:"category"`
	Severity        string    `db:"severity"`
	StrategiesJSON  []byte    `db:"strategies_json"`
	OccurrenceCount int       `db:"occurrence_count"`
	LastSeen        time.Time `db:"last_seen"`
	AutoFixed       bool      `db:"auto_fixed"`
}

func (row *patternRow) toDomain() (*domain.Pattern, error) {
	var strategies []domain.Strategy
	if len(row.StrategiesJSON) > 0 {
		if err := json.Unmarshal(row.StrategiesJSON, &strategies); err != nil {
			return nil, fmt.Errorf("failed to decode strategies: %w", err)
		}
	}
	return &domain.Pattern{
		ID:              row.ID,
		ErrorType:       row.ErrorType,
		Sample:          row.Sample,
		Category:        domain.ErrorCategory(row.Category),
		Severity:        domain.Severity(row.Severity),
		AutoFixable:     row.AutoFixed,
		Strategies:      strategies,
		OccurrenceCount: row.OccurrenceCount,
		LastSeen:        row.LastSeen,
	}, nil
}

// Upsert inserts a pattern, or bumps occurrence_count and last_seen
// when one already exists for the error type.
func (r *PatternRepo) Upsert(ctx context.Context, p *domain.Pattern) error {
	strategiesJSON, err := json.Marshal(p.Strategies)
	if err != nil {
		return fmt.Errorf("failed to encode strategies: %w", err)
	}

	id := p.ID
	if id == "" {
		id = uuid.New().String()
	}

	query := `
		INSERT INTO patterns (id, error_type, sample, category, severity, strategies_json, occurrence_count, last_seen, auto_fixed)
		VALUES ($1, $2, $3, $4, $5, $6, 1, NOW(), $7)
		ON CONFLICT (error_type) DO UPDATE SET
			occurrence_count = patterns.occurrence_count + 1,
			last_seen = NOW(),
			sample = EXCLUDED.sample
	`
	_, err = r.db.ExecContext(
		ctx,
		query,
		id,
		p.ErrorType,
		p.Sample,
		string(p.Category),
		string(p.Severity),
		strategiesJSON,
		p.AutoFixable,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert pattern: %w", err)
	}
	return nil
}

// GetByErrorType returns the pattern for an error type.
func (r *PatternRepo) GetByErrorType(
	ctx context.Context,
	errorType string,
) (*domain.Pattern, error) {
	query := `
		SELECT id, error_type, sample, category, severity, strategies_json, occurrence_count, last_seen, auto_fixed
		FROM patterns
		WHERE error_type = $1
	`
	var row patternRow
	err := r.db.GetContext(ctx, &row, query, errorType)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrPatternNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get pattern: %w", err)
	}
	return row.toDomain()
}

// GetAll returns all patterns ordered by occurrence count.
func (r *PatternRepo) GetAll(ctx context.Context) ([]*domain.Pattern, error) {
	query := `
		SELECT id, error_type, sample, category, severity, strategies_json, occurrence_count, last_seen, auto_fixed
		FROM patterns
		ORDER BY occurrence_count DESC
	`
	var rows []patternRow
	if err := r.db.SelectContext(ctx, &rows, query); err != nil {
		return nil, fmt.Errorf("failed to get patterns: %w", err)
	}

	patterns := make([]*domain.Pattern, 0, len(rows))
	for i := range rows {
		p, err := rows[i].toDomain()
		if err != nil {
			return nil, err
		}
		patterns = append(patterns, p)
	}
	return patterns, nil
}

// Count returns the number of stored patterns.
func (r *PatternRepo) Count(ctx context.Context) (int, error) {
	var count int
	err := r.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM patterns`)
	if err != nil {
		return 0, fmt.Errorf("failed to count patterns: %w", err)
	}
	return count, nil
}
