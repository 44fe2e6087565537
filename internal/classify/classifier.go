// Package classify matches error text against named rules and learned
// patterns, producing a category, severity and candidate fix strategies.
package classify

import (
	"context"
	"log/slog"
	"sort"
	"strings"

	"github.com/tdnguyen/healer/internal/core/domain"
	"github.com/tdnguyen/healer/internal/infra/storage"
)

// fallbackConfidenceCap bounds the confidence of learned-pattern
// matches; only a direct rule hit can exceed it.
const fallbackConfidenceCap = 0.7

// minSimilarity is the floor below which a learned pattern is not
// considered a match at all.
const minSimilarity = 0.5

const maxSampleLen = 500

// Analysis is the classification outcome for one incident.
type Analysis struct {
	RuleName    string
	Category    domain.ErrorCategory
	Severity    domain.Severity
	AutoFixable bool
	Confidence  float64
	Occurrences int // how often this pattern has been seen, including now
	Candidates  []domain.Strategy
}

// Classifier matches error text top-to-bottom against the rule list,
// falling back to learned patterns when no rule hits.
type Classifier struct {
	rules    []Rule
	patterns storage.PatternRepository
	ignores  []string
	log      *slog.Logger
}

// New creates a classifier with the default rule set.
func New(patterns storage.PatternRepository, log *slog.Logger) *Classifier {
	if log == nil {
		log = slog.Default()
	}
	return &Classifier{
		rules:    DefaultRules(),
		patterns: patterns,
		ignores: []string{
			"DEBUG:",
			"INFO:",
			"TRACE:",
			"UserWarning:",
			"DeprecationWarning:",
			"FutureWarning:",
			"PendingDeprecationWarning:",
		},
		log: log,
	}
}

// ShouldIgnore reports whether the text is known noise (log-level lines
// and warnings) that must be dropped before any other processing.
func (c *Classifier) ShouldIgnore(text string) bool {
	for _, marker := range c.ignores {
		if strings.Contains(text, marker) {
			return true
		}
	}
	return false
}

// Classify runs the rule list against the error text. The matching
// pattern's occurrence count is bumped on every call; if no rule
// matches, learned patterns are searched by similarity with confidence
// capped at fallbackConfidenceCap.
func (c *Classifier) Classify(
	ctx context.Context,
	text string,
	taskCtx map[string]string,
) (*Analysis, error) {
	for _, rule := range c.rules {
		captures := rule.Pattern.FindStringSubmatch(text)
		if captures == nil {
			continue
		}

		candidates := candidatesFor(rule, captures)
		pattern := &domain.Pattern{
			ErrorType:   rule.Name,
			Sample:      truncate(text, maxSampleLen),
			Category:    rule.Category,
			Severity:    rule.Severity,
			AutoFixable: rule.AutoFixable,
			Strategies:  candidates,
		}
		if err := c.patterns.Upsert(ctx, pattern); err != nil {
			// Classification still stands; losing a count is tolerable.
			c.log.Warn("Failed to upsert pattern", "rule", rule.Name, "error", err)
		}

		occurrences := 1
		if saved, err := c.patterns.GetByErrorType(ctx, rule.Name); err == nil {
			occurrences = saved.OccurrenceCount
		}

		return &Analysis{
			RuleName:    rule.Name,
			Category:    rule.Category,
			Severity:    rule.Severity,
			AutoFixable: rule.AutoFixable && len(candidates) > 0,
			Confidence:  rule.Confidence,
			Occurrences: occurrences,
			Candidates:  candidates,
		}, nil
	}

	return c.classifyFromLearned(ctx, text)
}

// classifyFromLearned searches stored patterns by sample similarity,
// preferring the most frequently seen among comparable matches.
func (c *Classifier) classifyFromLearned(
	ctx context.Context,
	text string,
) (*Analysis, error) {
	patterns, err := c.patterns.GetAll(ctx)
	if err != nil {
		return nil, err
	}

	type scored struct {
		pattern    *domain.Pattern
		similarity float64
	}
	var matches []scored
	for _, p := range patterns {
		sim := similarity(text, p.Sample)
		if sim >= minSimilarity {
			matches = append(matches, scored{pattern: p, similarity: sim})
		}
	}
	if len(matches) == 0 {
		return &Analysis{
			Category:    domain.CategoryUnknown,
			Severity:    domain.SeverityMedium,
			AutoFixable: false,
			Confidence:  0,
		}, nil
	}

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].pattern.OccurrenceCount != matches[j].pattern.OccurrenceCount {
			return matches[i].pattern.OccurrenceCount > matches[j].pattern.OccurrenceCount
		}
		return matches[i].similarity > matches[j].similarity
	})

	best := matches[0]
	confidence := best.similarity
	if confidence > fallbackConfidenceCap {
		confidence = fallbackConfidenceCap
	}

	return &Analysis{
		RuleName:    best.pattern.ErrorType,
		Category:    best.pattern.Category,
		Severity:    best.pattern.Severity,
		AutoFixable: best.pattern.AutoFixable && len(best.pattern.Strategies) > 0,
		Confidence:  confidence,
		Occurrences: best.pattern.OccurrenceCount,
		Candidates:  best.pattern.Strategies,
	}, nil
}

// similarity is a token-overlap ratio in [0,1] between two error texts.
func similarity(a, b string) float64 {
	ta := tokens(a)
	tb := tokens(b)
	if len(ta) == 0 || len(tb) == 0 {
		return 0
	}
	set := make(map[string]bool, len(ta))
	for _, t := range ta {
		set[t] = true
	}
	common := 0
	for _, t := range tb {
		if set[t] {
			common++
			delete(set, t)
		}
	}
	smaller := len(ta)
	if len(tb) < smaller {
		smaller = len(tb)
	}
	return float64(common) / float64(smaller)
}

func tokens(s string) []string {
	return strings.Fields(strings.ToLower(s))
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
