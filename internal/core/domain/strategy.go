package domain

import "time"

// StrategyKind enumerates the remedial action families the executor
// knows how to run.
type StrategyKind string

const (
	StrategyInstallPackage   StrategyKind = "install_package"
	StrategyCreateFile       StrategyKind = "create_file"
	StrategyChangePermission StrategyKind = "change_permission"
	StrategyChangeOwner      StrategyKind = "change_owner"
	StrategyRestartService   StrategyKind = "restart_service"
	StrategyRetryWithDelay   StrategyKind = "retry_with_delay"
	StrategyCheckEnv         StrategyKind = "check_env"
	StrategyFixSyntax        StrategyKind = "fix_syntax"
	StrategyGenericCommand   StrategyKind = "generic_command"
)

// SafetyClass grades how invasive a strategy is on the host.
type SafetyClass string

const (
	SafetySafe       SafetyClass = "safe"       // read-only or additive
	SafetyCaution    SafetyClass = "caution"    // mutates files or packages
	SafetyPrivileged SafetyClass = "privileged" // needs elevated rights
)

// Strategy is a named, parameterized remedial action with a command
// template. Immutable once generated for an incident.
type Strategy struct {
	ID          string       `json:"id"`
	Kind        StrategyKind `json:"kind"`
	Command     string       `json:"command"`
	Description string       `json:"description"`
	Safety      SafetyClass  `json:"safety"`
	Target      string       `json:"target,omitempty"` // package, path, service or env var
	Priority    int          `json:"priority"`         // lower runs first
}

// FixResult reports what a single execute call did.
type FixResult struct {
	StrategyUsed       *Strategy     `json:"strategy_used,omitempty"`
	ExecutedCommands   []string      `json:"executed_commands"`
	Success            bool          `json:"success"`
	VerificationPassed bool          `json:"verification_passed"`
	RollbackPerformed  bool          `json:"rollback_performed"`
	ExecutionTime      time.Duration `json:"execution_time"`
	Error              string        `json:"error,omitempty"`
}
