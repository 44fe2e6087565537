package storage

import (
	"context"
	"errors"
	"time"

	"github.com/tdnguyen/healer/internal/core/domain"
)

var (
	// ErrPatternNotFound is returned when no pattern exists for an error type
	ErrPatternNotFound = errors.New("pattern not found")
)

// PatternRepository handles learned error pattern storage
type PatternRepository interface {
	// Upsert inserts a pattern or, if one exists for the error type,
	// bumps its occurrence count and last-seen timestamp
	Upsert(ctx context.Context, p *domain.Pattern) error

	// GetByErrorType retrieves a pattern by its error type name
	GetByErrorType(ctx context.Context, errorType string) (*domain.Pattern, error)

	// GetAll retrieves all patterns ordered by occurrence count desc
	GetAll(ctx context.Context) ([]*domain.Pattern, error)

	// Count returns the number of stored patterns
	Count(ctx context.Context) (int, error)
}

// LedgerRepository handles the append-only execution ledger
type LedgerRepository interface {
	// Append records one strategy execution
	Append(ctx context.Context, e *domain.Execution) error

	// GetByErrorType retrieves recent executions for an error type,
	// newest first
	GetByErrorType(ctx context.Context, errorType string, limit int) ([]*domain.Execution, error)

	// CountSince counts executions for an error type recorded after a
	// point in time
	CountSince(ctx context.Context, errorType string, since time.Time) (int, error)

	// DeleteOlderThan prunes ledger rows past the retention window
	DeleteOlderThan(ctx context.Context, cutoff time.Time) error
}

// StrategyRepository handles persisted learned strategies
type StrategyRepository interface {
	// Save inserts or replaces a learned strategy by strategy id
	Save(ctx context.Context, s *domain.LearnedStrategy) error

	// GetByErrorType retrieves candidates for an error type ordered by
	// effectiveness desc
	GetByErrorType(ctx context.Context, errorType string) ([]*domain.LearnedStrategy, error)

	// GetAll retrieves all learned strategies
	GetAll(ctx context.Context) ([]*domain.LearnedStrategy, error)

	// ErrorTypes lists the distinct error types with stored strategies
	ErrorTypes(ctx context.Context) ([]string, error)
}

// HealthRepository handles the append-only health log
type HealthRepository interface {
	// Append records one health snapshot
	Append(ctx context.Context, s *domain.HealthSnapshot) error

	// Latest retrieves the most recent snapshots, newest first
	Latest(ctx context.Context, limit int) ([]*domain.HealthSnapshot, error)

	// DeleteOlderThan prunes health rows past the retention window
	DeleteOlderThan(ctx context.Context, cutoff time.Time) error
}
