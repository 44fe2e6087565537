package classify

import (
	"context"
	"testing"

	"github.com/tdnguyen/healer/internal/core/domain"
	"github.com/tdnguyen/healer/internal/infra/storage/memory"
)

func newTestClassifier() (*Classifier, *memory.PatternRepo) {
	store := memory.NewMemoryStorage()
	patterns := memory.NewPatternRepo(store)
	return New(patterns, nil), patterns
}

func TestClassify_ModuleNotFound(t *testing.T) {
	c, _ := newTestClassifier()

	analysis, err := c.Classify(context.Background(),
		"ModuleNotFoundError: No module named 'requests'", nil)
	if err != nil {
		t.Fatalf("Classify failed: %v", err)
	}

	if analysis.RuleName != "module_not_found" {
		t.Errorf("rule = %s, want module_not_found", analysis.RuleName)
	}
	if analysis.Category != domain.CategoryDependency {
		t.Errorf("category = %s, want dependency", analysis.Category)
	}
	if !analysis.AutoFixable {
		t.Error("expected auto-fixable")
	}
	if analysis.Confidence != 0.95 {
		t.Errorf("confidence = %.2f, want 0.95", analysis.Confidence)
	}
	if len(analysis.Candidates) == 0 {
		t.Fatal("expected fix candidates")
	}
	if analysis.Candidates[0].Command != "pip install requests" {
		t.Errorf("top candidate command = %q, want pip install requests", analysis.Candidates[0].Command)
	}
}

func TestClassify_DottedImportInstallsTopLevel(t *testing.T) {
	c, _ := newTestClassifier()

	analysis, err := c.Classify(context.Background(),
		"ModuleNotFoundError: No module named 'pandas.core.frame'", nil)
	if err != nil {
		t.Fatalf("Classify failed: %v", err)
	}
	if analysis.Candidates[0].Command != "pip install pandas" {
		t.Errorf("command = %q, want pip install pandas", analysis.Candidates[0].Command)
	}
}

func TestClassify_FirstMatchWins(t *testing.T) {
	c, _ := newTestClassifier()

	// Text matching both the module rule and the generic connection
	// rule must resolve to the earlier rule.
	analysis, err := c.Classify(context.Background(),
		"ModuleNotFoundError: No module named 'redis' after connection refused", nil)
	if err != nil {
		t.Fatalf("Classify failed: %v", err)
	}
	if analysis.RuleName != "module_not_found" {
		t.Errorf("rule = %s, want module_not_found (first match)", analysis.RuleName)
	}
}

func TestClassify_OccurrenceCountIncrements(t *testing.T) {
	c, patterns := newTestClassifier()
	ctx := context.Background()

	var analysis *Analysis
	for i := 0; i < 3; i++ {
		var err error
		if analysis, err = c.Classify(ctx, "ModuleNotFoundError: No module named 'numpy'", nil); err != nil {
			t.Fatalf("Classify %d failed: %v", i, err)
		}
	}
	if analysis.Occurrences != 3 {
		t.Errorf("analysis occurrences = %d, want 3", analysis.Occurrences)
	}

	p, err := patterns.GetByErrorType(ctx, "module_not_found")
	if err != nil {
		t.Fatalf("GetByErrorType failed: %v", err)
	}
	if p.OccurrenceCount != 3 {
		t.Errorf("occurrence count = %d, want 3", p.OccurrenceCount)
	}
}

func TestClassify_SyntaxErrorNotAutoFixable(t *testing.T) {
	c, _ := newTestClassifier()

	analysis, err := c.Classify(context.Background(),
		"SyntaxError: invalid syntax (etl.py, line 42)", nil)
	if err != nil {
		t.Fatalf("Classify failed: %v", err)
	}
	if analysis.Category != domain.CategorySyntax {
		t.Errorf("category = %s, want syntax", analysis.Category)
	}
	if analysis.AutoFixable {
		t.Error("syntax errors must not be auto-fixable")
	}
}

func TestClassify_UnknownError(t *testing.T) {
	c, _ := newTestClassifier()

	analysis, err := c.Classify(context.Background(),
		"weird inexplicable failure xyzzy", nil)
	if err != nil {
		t.Fatalf("Classify failed: %v", err)
	}
	if analysis.Category != domain.CategoryUnknown {
		t.Errorf("category = %s, want unknown", analysis.Category)
	}
	if analysis.AutoFixable {
		t.Error("unknown errors must not be auto-fixable")
	}
	if analysis.Confidence != 0 {
		t.Errorf("confidence = %.2f, want 0", analysis.Confidence)
	}
}

func TestClassify_LearnedFallbackConfidenceCap(t *testing.T) {
	ctx := context.Background()

	// Store a pattern directly so the text below matches by similarity
	// without hitting any rule.
	cl, patterns := newTestClassifier()
	err := patterns.Upsert(ctx, &domain.Pattern{
		ErrorType:   "widget_meltdown",
		Sample:      "CustomETLError: widget frobnicator melted down badly",
		Category:    domain.CategoryService,
		Severity:    domain.SeverityHigh,
		AutoFixable: true,
		Strategies: []domain.Strategy{{
			ID: "s1", Kind: domain.StrategyRestartService, Command: "systemctl restart widgetd",
		}},
	})
	if err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}

	analysis, err := cl.Classify(ctx, "CustomETLError: widget frobnicator melted down badly", nil)
	if err != nil {
		t.Fatalf("Classify failed: %v", err)
	}
	if analysis.RuleName != "widget_meltdown" {
		t.Fatalf("rule = %s, want widget_meltdown (learned fallback)", analysis.RuleName)
	}
	if analysis.Confidence > 0.7 {
		t.Errorf("fallback confidence = %.2f, must be capped at 0.7", analysis.Confidence)
	}
}

func TestShouldIgnore(t *testing.T) {
	c, _ := newTestClassifier()

	cases := []struct {
		text string
		want bool
	}{
		{"DEBUG: processing batch 17", true},
		{"UserWarning: pandas future behavior change", true},
		{"DeprecationWarning: imp module is deprecated", true},
		{"ModuleNotFoundError: No module named 'requests'", false},
		{"connection refused by broker", false},
	}
	for _, tc := range cases {
		if got := c.ShouldIgnore(tc.text); got != tc.want {
			t.Errorf("ShouldIgnore(%q) = %t, want %t", tc.text, got, tc.want)
		}
	}
}
