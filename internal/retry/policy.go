package retry

import (
	"time"

	"github.com/tdnguyen/healer/internal/core/domain"
)

// CategoryPolicy controls retry behavior for one error category.
type CategoryPolicy struct {
	MaxRetries    int
	BaseDelay     time.Duration
	BackoffFactor float64
	MaxDelay      time.Duration
	Exponential   bool
	VerifyFix     bool // re-check the applied fix before resubmitting
	ProbeLiveness bool // probe the broker/network before resubmitting
}

// DefaultPolicies returns the per-category retry policies.
func DefaultPolicies() map[domain.ErrorCategory]CategoryPolicy {
	return map[domain.ErrorCategory]CategoryPolicy{
		domain.CategoryDependency: {
			MaxRetries: 3, BaseDelay: 5 * time.Second, BackoffFactor: 2,
			MaxDelay: 60 * time.Second, Exponential: true, VerifyFix: true,
		},
		domain.CategoryFilesystem: {
			MaxRetries: 3, BaseDelay: 2 * time.Second, BackoffFactor: 2,
			MaxDelay: 30 * time.Second, Exponential: true, VerifyFix: true,
		},
		domain.CategoryPermission: {
			MaxRetries: 2, BaseDelay: 2 * time.Second, BackoffFactor: 2,
			MaxDelay: 30 * time.Second, Exponential: true, VerifyFix: true,
		},
		domain.CategoryOwnership: {
			MaxRetries: 2, BaseDelay: 5 * time.Second,
		},
		domain.CategoryService: {
			MaxRetries: 3, BaseDelay: 10 * time.Second, BackoffFactor: 2,
			MaxDelay: 120 * time.Second, Exponential: true,
		},
		domain.CategoryNetwork: {
			MaxRetries: 4, BaseDelay: 30 * time.Second, BackoffFactor: 2,
			MaxDelay: 600 * time.Second, Exponential: true, ProbeLiveness: true,
		},
		domain.CategoryQueueBroker: {
			MaxRetries: 5, BaseDelay: 15 * time.Second, BackoffFactor: 2,
			MaxDelay: 300 * time.Second, Exponential: true, ProbeLiveness: true,
		},
		domain.CategorySyntax: {
			MaxRetries: 0, BaseDelay: time.Second,
		},
		domain.CategoryEnvironment: {
			MaxRetries: 2, BaseDelay: 5 * time.Second,
		},
		domain.CategoryResource: {
			MaxRetries: 2, BaseDelay: 60 * time.Second, BackoffFactor: 2,
			MaxDelay: 300 * time.Second, Exponential: true,
		},
		domain.CategoryUnknown: {
			MaxRetries: 1, BaseDelay: 30 * time.Second,
		},
	}
}
