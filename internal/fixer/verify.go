package fixer

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/tdnguyen/healer/internal/core/domain"
)

// Verifier re-checks that the triggering condition no longer holds
// after a strategy reports success.
type Verifier struct {
	runner CommandRunner
	log    *slog.Logger
}

// NewVerifier creates a verifier sharing the executor's runner.
func NewVerifier(runner CommandRunner, log *slog.Logger) *Verifier {
	if runner == nil {
		runner = ShellRunner{}
	}
	if log == nil {
		log = slog.Default()
	}
	return &Verifier{runner: runner, log: log}
}

// Verify dispatches the post-fix check for a strategy kind. Kinds with
// no meaningful check pass trivially.
func (v *Verifier) Verify(ctx context.Context, s *domain.Strategy) bool {
	switch s.Kind {
	case domain.StrategyInstallPackage:
		// The module must actually import, not just be on disk.
		_, err := v.runner.Run(ctx, fmt.Sprintf("python3 -c 'import %s'", s.Target))
		if err != nil {
			v.log.Debug("Package import check failed", "package", s.Target, "error", err)
			return false
		}
		return true

	case domain.StrategyCreateFile:
		_, err := os.Stat(s.Target)
		return err == nil

	case domain.StrategyChangePermission:
		info, err := os.Stat(s.Target)
		if err != nil {
			return false
		}
		// Owner read+write is what chmod u+rw grants.
		return info.Mode().Perm()&0o600 == 0o600

	case domain.StrategyChangeOwner:
		// Ownership is underspecified in the task context; check the
		// file is now owned by the current user, best-effort.
		_, err := v.runner.Run(ctx, fmt.Sprintf("test -O %q", s.Target))
		return err == nil

	case domain.StrategyRestartService:
		_, err := v.runner.Run(ctx, fmt.Sprintf("systemctl is-active --quiet %s", s.Target))
		return err == nil

	case domain.StrategyCheckEnv:
		_, ok := os.LookupEnv(s.Target)
		return ok

	case domain.StrategyFixSyntax:
		if s.Target == "" {
			return true
		}
		_, err := v.runner.Run(ctx, fmt.Sprintf("python3 -m py_compile %q", s.Target))
		return err == nil

	case domain.StrategyRetryWithDelay, domain.StrategyGenericCommand:
		return true
	}
	return true
}
