// Package fixer safely executes candidate fix strategies: deny-list
// screening, per-kind handlers with their own timeouts, post-fix
// verification and best-effort rollback.
package fixer

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/tdnguyen/healer/internal/classify"
	"github.com/tdnguyen/healer/internal/core/domain"
	"github.com/tdnguyen/healer/internal/metrics"
)

const (
	minStrategyTimeout = 5 * time.Second
	maxStrategyTimeout = 300 * time.Second
)

// defaultTimeouts gives each strategy kind its own execution budget.
var defaultTimeouts = map[domain.StrategyKind]time.Duration{
	domain.StrategyInstallPackage:   120 * time.Second,
	domain.StrategyCreateFile:       5 * time.Second,
	domain.StrategyChangePermission: 5 * time.Second,
	domain.StrategyChangeOwner:      5 * time.Second,
	domain.StrategyRestartService:   60 * time.Second,
	domain.StrategyRetryWithDelay:   90 * time.Second,
	domain.StrategyCheckEnv:         5 * time.Second,
	domain.StrategyFixSyntax:        30 * time.Second,
	domain.StrategyGenericCommand:   300 * time.Second,
}

// Executor runs candidate strategies for an incident. It is safe for
// concurrent use; callers are expected to invoke Execute from a worker
// pool, never from a control loop.
type Executor struct {
	runner   CommandRunner
	verifier *Verifier
	timeouts map[domain.StrategyKind]time.Duration
	log      *slog.Logger
}

// NewExecutor creates an executor with the default per-kind timeouts.
func NewExecutor(runner CommandRunner, log *slog.Logger) *Executor {
	if runner == nil {
		runner = ShellRunner{}
	}
	if log == nil {
		log = slog.Default()
	}
	return &Executor{
		runner:   runner,
		verifier: NewVerifier(runner, log),
		timeouts: defaultTimeouts,
		log:      log,
	}
}

// Execute tries the analysis' candidates in priority order and returns
// a result describing what ran. Internal errors become a failed result,
// never a panic or a returned error.
func (e *Executor) Execute(
	ctx context.Context,
	analysis *classify.Analysis,
	incident *domain.Incident,
) *domain.FixResult {
	start := time.Now()
	result := &domain.FixResult{ExecutedCommands: []string{}}

	candidates := make([]domain.Strategy, len(analysis.Candidates))
	copy(candidates, analysis.Candidates)
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Priority < candidates[j].Priority
	})

	for i := range candidates {
		s := candidates[i]

		if reason, denied := Denied(s.Command); denied {
			e.log.Warn("Strategy rejected by deny-list",
				"strategy", s.ID, "reason", reason, "task", incident.TaskID)
			metrics.FixesTotal.WithLabelValues(string(s.Kind), "denied").Inc()
			result.Error = fmt.Sprintf("strategy %s denied: %s", s.ID, reason)
			continue
		}

		cmds, err := e.runStrategy(ctx, &s)
		result.ExecutedCommands = append(result.ExecutedCommands, cmds...)
		if err != nil {
			e.log.Warn("Strategy execution failed",
				"strategy", s.ID, "task", incident.TaskID, "error", err)
			metrics.FixesTotal.WithLabelValues(string(s.Kind), "failed").Inc()
			result.Error = err.Error()
			continue
		}

		verifyCtx, cancel := context.WithTimeout(ctx, minStrategyTimeout*6)
		verified := e.verifier.Verify(verifyCtx, &s)
		cancel()

		if verified {
			result.StrategyUsed = &s
			result.Success = true
			result.VerificationPassed = true
			result.Error = ""
			metrics.FixesTotal.WithLabelValues(string(s.Kind), "success").Inc()
			break
		}

		// A command "succeeded" but the condition still holds: undo
		// what we can and report failure.
		rbCmds := e.rollback(ctx, &s)
		result.ExecutedCommands = append(result.ExecutedCommands, rbCmds...)
		result.RollbackPerformed = true
		result.StrategyUsed = &s
		result.Success = false
		result.Error = fmt.Sprintf("verification failed for strategy %s", s.ID)
		metrics.FixesTotal.WithLabelValues(string(s.Kind), "unverified").Inc()
		break
	}

	result.ExecutionTime = time.Since(start)
	return result
}

// runStrategy dispatches to the handler for the strategy's kind under
// that kind's timeout. It returns the commands that actually ran.
func (e *Executor) runStrategy(
	ctx context.Context,
	s *domain.Strategy,
) ([]string, error) {
	timeout, ok := e.timeouts[s.Kind]
	if !ok {
		timeout = minStrategyTimeout
	}
	if timeout < minStrategyTimeout {
		timeout = minStrategyTimeout
	}
	if timeout > maxStrategyTimeout {
		timeout = maxStrategyTimeout
	}
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	switch s.Kind {
	case domain.StrategyCreateFile:
		return e.createFile(s)

	case domain.StrategyRetryWithDelay:
		return e.waitDelay(cctx, s)

	case domain.StrategyCheckEnv:
		if _, ok := os.LookupEnv(s.Target); !ok {
			return nil, fmt.Errorf("environment variable %s is not set", s.Target)
		}
		return []string{s.Command}, nil

	default:
		// install_package, change_permission, change_owner,
		// restart_service, fix_syntax, generic_command all run their
		// command template directly.
		if _, err := e.runner.Run(cctx, s.Command); err != nil {
			return []string{s.Command}, err
		}
		return []string{s.Command}, nil
	}
}

// createFile handles the create_file kind natively; the recorded
// command mirrors what the template would have run.
func (e *Executor) createFile(s *domain.Strategy) ([]string, error) {
	if s.Target == "" {
		return nil, fmt.Errorf("create_file strategy has no target path")
	}
	if dir := filepath.Dir(s.Target); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
	}
	f, err := os.OpenFile(s.Target, os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to create file: %w", err)
	}
	_ = f.Close()
	return []string{s.Command}, nil
}

// waitDelay sleeps for the duration encoded in the command template
// ("sleep N"), bounded by the kind's timeout.
func (e *Executor) waitDelay(ctx context.Context, s *domain.Strategy) ([]string, error) {
	delay := 5 * time.Second
	if fields := strings.Fields(s.Command); len(fields) == 2 && fields[0] == "sleep" {
		if secs, err := strconv.Atoi(fields[1]); err == nil && secs > 0 {
			delay = time.Duration(secs) * time.Second
		}
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return []string{s.Command}, nil
	case <-ctx.Done():
		return []string{s.Command}, fmt.Errorf("delay interrupted: %w", ctx.Err())
	}
}

// rollbackTimeout bounds a rollback command once it is detached from
// the incident's context.
const rollbackTimeout = 60 * time.Second

// rollback reverses a strategy's action where invertible. It runs
// detached from the incident's context so a shutdown or deadline hit
// mid-fix cannot strand a half-applied strategy; rollback failures are
// logged, never raised.
func (e *Executor) rollback(ctx context.Context, s *domain.Strategy) []string {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), rollbackTimeout)
	defer cancel()

	switch s.Kind {
	case domain.StrategyInstallPackage:
		cmd := fmt.Sprintf("pip uninstall -y %s", s.Target)
		if _, err := e.runner.Run(ctx, cmd); err != nil {
			e.log.Warn("Rollback uninstall failed", "package", s.Target, "error", err)
		}
		return []string{cmd}

	case domain.StrategyCreateFile:
		if err := os.Remove(s.Target); err != nil && !os.IsNotExist(err) {
			e.log.Warn("Rollback file removal failed", "path", s.Target, "error", err)
		}
		return []string{fmt.Sprintf("rm %q", s.Target)}

	case domain.StrategyChangePermission, domain.StrategyChangeOwner:
		// The prior mode/owner was never captured; nothing safe to restore.
		e.log.Debug("No rollback for strategy kind", "kind", s.Kind)
		return nil

	default:
		return nil
	}
}
