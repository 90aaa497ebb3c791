// Package permission implements the four-level autonomy check and its
// audit-backed assert contract: a synchronous autonomy-level comparison
// against a closed operation matrix.
package permission

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/unitai-dev/unitai-core/internal/audit"
	"github.com/unitai-dev/unitai-core/internal/corereq"
	"github.com/unitai-dev/unitai-core/internal/corerrors"
)

// Operation is one of the closed set of gated operation types.
type Operation string

const (
	OpReadFile          Operation = "read-file"
	OpWriteFile         Operation = "write-file"
	OpGitRead           Operation = "git-read"
	OpGitCommit         Operation = "git-commit"
	OpGitBranch         Operation = "git-branch"
	OpGitPush           Operation = "git-push"
	OpInstallDependency Operation = "install-dependency"
	OpExecuteCommand    Operation = "execute-command"
	OpExternalAPI       Operation = "external-api"
	OpMCPCall           Operation = "mcp-call"
)

// requiredLevel is the operation-type-to-required-level matrix. Reads need
// only read-only; file writes and branch creation need low; commits,
// arbitrary commands, external API calls and MCP calls need medium;
// pushing to a remote and installing dependencies need high.
var requiredLevel = map[Operation]corereq.AutonomyLevel{
	OpReadFile:          corereq.AutonomyReadOnly,
	OpGitRead:           corereq.AutonomyReadOnly,
	OpWriteFile:         corereq.AutonomyLow,
	OpGitBranch:         corereq.AutonomyLow,
	OpGitCommit:         corereq.AutonomyMedium,
	OpExecuteCommand:    corereq.AutonomyMedium,
	OpExternalAPI:       corereq.AutonomyMedium,
	OpMCPCall:           corereq.AutonomyMedium,
	OpGitPush:           corereq.AutonomyHigh,
	OpInstallDependency: corereq.AutonomyHigh,
}

// CheckResult is the answer to check(currentLevel, op).
type CheckResult struct {
	Allowed       bool
	RequiredLevel corereq.AutonomyLevel
	CurrentLevel  corereq.AutonomyLevel
	Reason        string
}

// Check consults the operation matrix without touching the audit sink.
func Check(currentLevel corereq.AutonomyLevel, op Operation) CheckResult {
	required, known := requiredLevel[op]
	if !known {
		return CheckResult{
			CurrentLevel: currentLevel,
			Reason:       fmt.Sprintf("unrecognized operation %q", op),
		}
	}
	allowed := currentLevel.AtLeast(required)
	reason := ""
	if !allowed {
		reason = fmt.Sprintf("operation %q requires autonomy level %q, current is %q", op, required, currentLevel)
	}
	return CheckResult{Allowed: allowed, RequiredLevel: required, CurrentLevel: currentLevel, Reason: reason}
}

// Environment sentinels consulted for the autoApprove/skipPermissionsUnsafe
// triple safeguard.
const (
	DevModeEnvVar = "UNITAI_ENV"
	DevModeValue  = "development"
	UnlockEnvVar  = "UNITAI_UNLOCK_AUTO_APPROVE"
)

// Manager is the assert() entry point: it checks an operation against the
// current autonomy level, writes an audit entry before the caller is told
// whether it may proceed, and raises PermissionDenied or
// SafeguardViolation when appropriate.
type Manager struct {
	audit *audit.Sink
	log   *slog.Logger
}

// New binds an audit sink.
func New(sink *audit.Sink, log *slog.Logger) *Manager {
	if log == nil {
		log = slog.Default()
	}
	return &Manager{audit: sink, log: log}
}

// Assert implements the three-step check-then-audit algorithm: compute the
// check, write a pending audit entry (fail-closed), then raise
// PermissionDenied if the operation is not allowed. On success it returns
// the audit entry id so the caller can later report the operation's
// outcome via UpdateOutcome.
func (m *Manager) Assert(currentLevel corereq.AutonomyLevel, op Operation, target, executedBy, workflowName, workflowID string) (string, error) {
	result := Check(currentLevel, op)

	entryID, err := m.audit.Write(audit.Entry{
		WorkflowName:  workflowName,
		WorkflowID:    workflowID,
		AutonomyLevel: currentLevel.String(),
		Operation:     string(op),
		Target:        target,
		Approved:      result.Allowed,
		ExecutedBy:    executedBy,
	})
	if err != nil {
		return "", err
	}

	if !result.Allowed {
		return entryID, corerrors.New(corerrors.ErrorTypePermissionDenied, "permission.assert", result.Reason)
	}
	return entryID, nil
}

// UpdateOutcome reports the eventual success or failure of an operation
// previously approved by Assert.
func (m *Manager) UpdateOutcome(entryID string, opErr error) {
	outcome := audit.OutcomeSuccess
	if opErr != nil {
		outcome = audit.OutcomeFailure
	}
	m.audit.UpdateOutcome(entryID, outcome, opErr)
}

// AssertAutoApprove enforces the autoApprove/skipPermissionsUnsafe triple
// safeguard: current autonomy level must be high, a development-mode
// environment sentinel must be set, and an explicit unlock variable must
// be present. Any missing safeguard raises SafeguardViolation and is
// recorded in the audit trail as a denied pseudo-operation.
func (m *Manager) AssertAutoApprove(currentLevel corereq.AutonomyLevel, executedBy, workflowName, workflowID string) error {
	reason := missingSafeguard(currentLevel)

	entryID, err := m.audit.Write(audit.Entry{
		WorkflowName:  workflowName,
		WorkflowID:    workflowID,
		AutonomyLevel: currentLevel.String(),
		Operation:     "auto-approve",
		Target:        "autoApprove/skipPermissionsUnsafe",
		Approved:      reason == "",
		ExecutedBy:    executedBy,
	})
	if err != nil {
		return err
	}

	if reason != "" {
		m.log.Warn("auto-approve safeguard rejected", slog.String("reason", reason), slog.String("audit_id", entryID))
		return corerrors.New(corerrors.ErrorTypeSafeguardViolation, "permission.assertAutoApprove", reason)
	}
	return nil
}

func missingSafeguard(currentLevel corereq.AutonomyLevel) string {
	if currentLevel != corereq.AutonomyHigh {
		return "autonomy level must be high to honor autoApprove"
	}
	if os.Getenv(DevModeEnvVar) != DevModeValue {
		return fmt.Sprintf("%s must be %q to honor autoApprove", DevModeEnvVar, DevModeValue)
	}
	if os.Getenv(UnlockEnvVar) == "" {
		return fmt.Sprintf("%s must be set to honor autoApprove", UnlockEnvVar)
	}
	return ""
}
