package classify

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/tdnguyen/healer/internal/core/domain"
)

// Rule is one named classification rule. Rules are tried in order and
// the first match wins.
type Rule struct {
	Name        string
	Pattern     *regexp.Regexp
	Category    domain.ErrorCategory
	Severity    domain.Severity
	AutoFixable bool
	Confidence  float64
}

// DefaultRules returns the built-in rule set, most specific first.
func DefaultRules() []Rule {
	return []Rule{
		{
			Name:        "module_not_found",
			Pattern:     regexp.MustCompile(`ModuleNotFoundError: No module named '([^']+)'`),
			Category:    domain.CategoryDependency,
			Severity:    domain.SeverityHigh,
			AutoFixable: true,
			Confidence:  0.95,
		},
		{
			Name:        "import_error",
			Pattern:     regexp.MustCompile(`ImportError: No module named '?([\w\.\-]+)'?`),
			Category:    domain.CategoryDependency,
			Severity:    domain.SeverityHigh,
			AutoFixable: true,
			Confidence:  0.9,
		},
		{
			Name:        "package_not_installed",
			Pattern:     regexp.MustCompile(`(?i)package ([\w\.\-]+) is not installed`),
			Category:    domain.CategoryDependency,
			Severity:    domain.SeverityMedium,
			AutoFixable: true,
			Confidence:  0.9,
		},
		{
			Name:        "file_not_found",
			Pattern:     regexp.MustCompile(`FileNotFoundError.*?['"]([^'"]+)['"]`),
			Category:    domain.CategoryFilesystem,
			Severity:    domain.SeverityMedium,
			AutoFixable: true,
			Confidence:  0.9,
		},
		{
			Name:        "no_such_file",
			Pattern:     regexp.MustCompile(`[Nn]o such file or directory:?\s*'?([^'\s]+)'?`),
			Category:    domain.CategoryFilesystem,
			Severity:    domain.SeverityMedium,
			AutoFixable: true,
			Confidence:  0.85,
		},
		{
			Name:        "permission_denied",
			Pattern:     regexp.MustCompile(`(?:PermissionError|[Pp]ermission denied)(?:.*?['"]?(/[^'"\s]+))?`),
			Category:    domain.CategoryPermission,
			Severity:    domain.SeverityHigh,
			AutoFixable: true,
			Confidence:  0.9,
		},
		{
			Name:        "ownership_error",
			Pattern:     regexp.MustCompile(`(?i)(?:not owned by current user|chown: changing ownership of)\s*'?([^'\s]+)?'?`),
			Category:    domain.CategoryOwnership,
			Severity:    domain.SeverityHigh,
			AutoFixable: true,
			Confidence:  0.8,
		},
		{
			Name:        "service_unavailable",
			Pattern:     regexp.MustCompile(`(?i)service ([\w\-]+) (?:is not running|is unavailable|failed to start)`),
			Category:    domain.CategoryService,
			Severity:    domain.SeverityHigh,
			AutoFixable: true,
			Confidence:  0.85,
		},
		{
			Name:        "broker_unreachable",
			Pattern:     regexp.MustCompile(`(?i)(redis|rabbitmq|amqp|broker)\S* (?:connection (?:refused|reset|lost)|is (?:down|unreachable))`),
			Category:    domain.CategoryQueueBroker,
			Severity:    domain.SeverityHigh,
			AutoFixable: true,
			Confidence:  0.85,
		},
		{
			Name:        "connection_refused",
			Pattern:     regexp.MustCompile(`(?i)connection refused`),
			Category:    domain.CategoryNetwork,
			Severity:    domain.SeverityMedium,
			AutoFixable: true,
			Confidence:  0.85,
		},
		{
			Name:        "network_timeout",
			Pattern:     regexp.MustCompile(`(?i)(?:TimeoutError|timed out|connection reset by peer)`),
			Category:    domain.CategoryNetwork,
			Severity:    domain.SeverityMedium,
			AutoFixable: true,
			Confidence:  0.8,
		},
		{
			Name:        "env_var_missing",
			Pattern:     regexp.MustCompile(`KeyError: '([A-Z][A-Z0-9_]*)'`),
			Category:    domain.CategoryEnvironment,
			Severity:    domain.SeverityMedium,
			AutoFixable: true,
			Confidence:  0.85,
		},
		{
			Name:        "env_not_set",
			Pattern:     regexp.MustCompile(`(?i)environment variable ([A-Z][A-Z0-9_]*) (?:is )?not set`),
			Category:    domain.CategoryEnvironment,
			Severity:    domain.SeverityMedium,
			AutoFixable: true,
			Confidence:  0.9,
		},
		{
			Name:        "syntax_error",
			Pattern:     regexp.MustCompile(`SyntaxError: `),
			Category:    domain.CategorySyntax,
			Severity:    domain.SeverityHigh,
			AutoFixable: false,
			Confidence:  0.95,
		},
		{
			Name:        "memory_exhausted",
			Pattern:     regexp.MustCompile(`(?i)(?:MemoryError|cannot allocate memory|out of memory)`),
			Category:    domain.CategoryResource,
			Severity:    domain.SeverityCritical,
			AutoFixable: true,
			Confidence:  0.9,
		},
		{
			Name:        "disk_full",
			Pattern:     regexp.MustCompile(`(?i)no space left on device`),
			Category:    domain.CategoryResource,
			Severity:    domain.SeverityCritical,
			AutoFixable: false,
			Confidence:  0.95,
		},
	}
}

// candidatesFor builds the deterministic candidate strategies for a
// matched rule from its capture groups. Same rule and captures always
// produce the same candidates.
func candidatesFor(rule Rule, captures []string) []domain.Strategy {
	capture := func(i int) string {
		if i < len(captures) {
			return strings.TrimSpace(captures[i])
		}
		return ""
	}

	switch rule.Name {
	case "module_not_found", "import_error", "package_not_installed":
		pkg := capture(1)
		if pkg == "" {
			return nil
		}
		// Import paths like a.b.c install as the top-level package.
		pkg = strings.SplitN(pkg, ".", 2)[0]
		return []domain.Strategy{
			{
				ID:          strategyID(rule.Name, domain.StrategyInstallPackage, pkg),
				Kind:        domain.StrategyInstallPackage,
				Command:     fmt.Sprintf("pip install %s", pkg),
				Description: fmt.Sprintf("install missing package %s", pkg),
				Safety:      domain.SafetyCaution,
				Target:      pkg,
				Priority:    1,
			},
			{
				ID:          strategyID(rule.Name, domain.StrategyRetryWithDelay, pkg),
				Kind:        domain.StrategyRetryWithDelay,
				Command:     "sleep 5",
				Description: "wait and let the retry path re-run the task",
				Safety:      domain.SafetySafe,
				Target:      pkg,
				Priority:    2,
			},
		}

	case "file_not_found", "no_such_file":
		path := capture(1)
		if path == "" {
			return nil
		}
		return []domain.Strategy{
			{
				ID:          strategyID(rule.Name, domain.StrategyCreateFile, path),
				Kind:        domain.StrategyCreateFile,
				Command:     fmt.Sprintf("mkdir -p %q && touch %q", filepath.Dir(path), path),
				Description: fmt.Sprintf("create missing file %s", path),
				Safety:      domain.SafetyCaution,
				Target:      path,
				Priority:    1,
			},
		}

	case "permission_denied":
		path := capture(1)
		if path == "" {
			return nil
		}
		return []domain.Strategy{
			{
				ID:          strategyID(rule.Name, domain.StrategyChangePermission, path),
				Kind:        domain.StrategyChangePermission,
				Command:     fmt.Sprintf("chmod u+rw %q", path),
				Description: fmt.Sprintf("grant read/write on %s", path),
				Safety:      domain.SafetyCaution,
				Target:      path,
				Priority:    1,
			},
		}

	case "ownership_error":
		path := capture(1)
		if path == "" {
			return nil
		}
		return []domain.Strategy{
			{
				ID:          strategyID(rule.Name, domain.StrategyChangeOwner, path),
				Kind:        domain.StrategyChangeOwner,
				Command:     fmt.Sprintf("chown $(id -un) %q", path),
				Description: fmt.Sprintf("reclaim ownership of %s", path),
				Safety:      domain.SafetyPrivileged,
				Target:      path,
				Priority:    1,
			},
		}

	case "service_unavailable":
		svc := capture(1)
		if svc == "" {
			return nil
		}
		return []domain.Strategy{
			{
				ID:          strategyID(rule.Name, domain.StrategyRestartService, svc),
				Kind:        domain.StrategyRestartService,
				Command:     fmt.Sprintf("systemctl restart %s", svc),
				Description: fmt.Sprintf("restart service %s", svc),
				Safety:      domain.SafetyPrivileged,
				Target:      svc,
				Priority:    1,
			},
		}

	case "broker_unreachable":
		broker := strings.ToLower(capture(1))
		strategies := []domain.Strategy{
			{
				ID:          strategyID(rule.Name, domain.StrategyRetryWithDelay, broker),
				Kind:        domain.StrategyRetryWithDelay,
				Command:     "sleep 30",
				Description: "wait for the broker to come back",
				Safety:      domain.SafetySafe,
				Target:      broker,
				Priority:    1,
			},
		}
		if broker == "redis" || broker == "rabbitmq" {
			strategies = append(strategies, domain.Strategy{
				ID:          strategyID(rule.Name, domain.StrategyRestartService, broker),
				Kind:        domain.StrategyRestartService,
				Command:     fmt.Sprintf("systemctl restart %s", broker),
				Description: fmt.Sprintf("restart broker %s", broker),
				Safety:      domain.SafetyPrivileged,
				Target:      broker,
				Priority:    2,
			})
		}
		return strategies

	case "connection_refused", "network_timeout", "memory_exhausted":
		delay := "sleep 30"
		if rule.Name == "memory_exhausted" {
			delay = "sleep 60"
		}
		return []domain.Strategy{
			{
				ID:          strategyID(rule.Name, domain.StrategyRetryWithDelay, ""),
				Kind:        domain.StrategyRetryWithDelay,
				Command:     delay,
				Description: "back off and let the retry path re-run the task",
				Safety:      domain.SafetySafe,
				Priority:    1,
			},
		}

	case "env_var_missing", "env_not_set":
		name := capture(1)
		if name == "" {
			return nil
		}
		return []domain.Strategy{
			{
				ID:          strategyID(rule.Name, domain.StrategyCheckEnv, name),
				Kind:        domain.StrategyCheckEnv,
				Command:     fmt.Sprintf("printenv %s", name),
				Description: fmt.Sprintf("check environment variable %s", name),
				Safety:      domain.SafetySafe,
				Target:      name,
				Priority:    1,
			},
		}
	}

	return nil
}

func strategyID(rule string, kind domain.StrategyKind, target string) string {
	if target == "" {
		return fmt.Sprintf("%s:%s", rule, kind)
	}
	return fmt.Sprintf("%s:%s:%s", rule, kind, target)
}
