package domain

import (
	"fmt"
	"time"
)

// ExecutionStatus is a state of the execution lifecycle.
type ExecutionStatus string

const (
	StatusPlanning             ExecutionStatus = "PLANNING"
	StatusValidating           ExecutionStatus = "VALIDATING"
	StatusAwaitingConfirmation ExecutionStatus = "AWAITING_CONFIRMATION"
	StatusBlocked              ExecutionStatus = "BLOCKED"
	StatusExecuting            ExecutionStatus = "EXECUTING"
	StatusCompleted            ExecutionStatus = "COMPLETED"
	StatusFailed               ExecutionStatus = "FAILED"
	StatusCancelled            ExecutionStatus = "CANCELLED"
)

// transitions lists every permitted status edge.
var transitions = map[ExecutionStatus][]ExecutionStatus{
	StatusPlanning:             {StatusValidating, StatusFailed, StatusCancelled},
	StatusValidating:           {StatusBlocked, StatusAwaitingConfirmation, StatusExecuting, StatusFailed, StatusCancelled},
	StatusAwaitingConfirmation: {StatusExecuting, StatusCancelled},
	StatusBlocked:              {StatusAwaitingConfirmation, StatusCancelled},
	StatusExecuting:            {StatusCompleted, StatusFailed},
}

// CanTransition reports whether from -> to is a legal edge.
func CanTransition(from, to ExecutionStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Terminal reports whether no further mutation is permitted.
func (s ExecutionStatus) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// Execution is one prompt -> plan -> commands -> run cycle.
type Execution struct {
	ID          string          `json:"id"`
	UserID      string          `json:"userId"`
	ServerID    string          `json:"serverId"`
	Prompt      string          `json:"prompt"`
	Plan        *Plan           `json:"plan,omitempty"`
	Commands    []string        `json:"commands"`
	RiskLevel   RiskLevel       `json:"riskLevel,omitempty"`
	Status      ExecutionStatus `json:"status"`
	DryRun      bool            `json:"dryRun"`
	Confirmed   bool            `json:"confirmed"`
	Output      string          `json:"output"`
	ExitCodes   []*int          `json:"exitCodes"`
	Error       string          `json:"error,omitempty"`
	CreatedAt   time.Time       `json:"createdAt"`
	ExecutedAt  *time.Time      `json:"executedAt,omitempty"`
	CompletedAt *time.Time      `json:"completedAt,omitempty"`
	Duration    *time.Duration  `json:"duration,omitempty"`
}

// Transition moves the execution along a legal edge and stamps lifecycle times.
func (e *Execution) Transition(to ExecutionStatus, now time.Time) error {
	if !CanTransition(e.Status, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, e.Status, to)
	}
	e.Status = to
	switch {
	case to == StatusExecuting:
		e.ExecutedAt = &now
	case to.Terminal():
		e.CompletedAt = &now
	}
	return nil
}

// CommandsFrozen reports whether the validator verdict has been recorded.
func (e *Execution) CommandsFrozen() bool {
	return e.RiskLevel != ""
}

// RecordValidation stores the generated commands together with the validator's
// risk level. After this call the command list can no longer change.
func (e *Execution) RecordValidation(commands []string, level RiskLevel) error {
	if e.CommandsFrozen() {
		return ErrCommandsFrozen
	}
	e.Commands = append([]string(nil), commands...)
	e.RiskLevel = level
	return nil
}

// RaiseRisk bumps the recorded risk level; it never lowers it.
func (e *Execution) RaiseRisk(level RiskLevel) {
	if level.Exceeds(e.RiskLevel) {
		e.RiskLevel = level
	}
}

// Succeeded reports whether every recorded exit code is zero.
func (e *Execution) Succeeded() bool {
	for _, code := range e.ExitCodes {
		if code == nil || *code != 0 {
			return false
		}
	}
	return true
}

// ExecutionFilter narrows execution listings.
type ExecutionFilter struct {
	UserID   string
	ServerID string
	Limit    int
}

// ExecuteRequest is the inbound `execute` action.
type ExecuteRequest struct {
	ServerID string `json:"serverId"`
	Prompt   string `json:"prompt"`
	DryRun   bool   `json:"dryRun"`
}

// CommandResult is the outcome of one remote command. ExitCode is nil when the
// remote side ended without reporting a status.
type CommandResult struct {
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr"`
	ExitCode *int   `json:"exitCode"`
	Success  bool   `json:"success"`
}

// FailedResult builds the result used when a command could not run at all.
func FailedResult(message string) CommandResult {
	return CommandResult{Stderr: message, ExitCode: ExitCode(-1)}
}

// ExitCode returns a pointer to code.
func ExitCode(code int) *int {
	return &code
}

// OutputStream tags a chunk of remote output.
type OutputStream string

const (
	StreamCommand OutputStream = "command"
	StreamStdout  OutputStream = "stdout"
	StreamStderr  OutputStream = "stderr"
)

// OutputChunk is a piece of output as it arrives from the remote end.
type OutputChunk struct {
	Stream OutputStream
	Data   string
}
