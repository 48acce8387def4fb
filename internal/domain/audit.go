package domain

import "time"

// Audit actions recorded by the orchestrator.
const (
	AuditExecutionBlocked   = "EXECUTION_BLOCKED"
	AuditExecutionConfirmed = "EXECUTION_CONFIRMED"
	AuditExecutionCancelled = "EXECUTION_CANCELLED"
	AuditExecutionOverride  = "EXECUTION_OVERRIDE"
	AuditExecutionCompleted = "EXECUTION_COMPLETED"
	AuditExecutionFailed    = "EXECUTION_FAILED"
)

// AuditResourceExecution is the resource name used for execution events.
const AuditResourceExecution = "execution"

// AuditEntry is one security-relevant event.
type AuditEntry struct {
	ID          string         `json:"id"`
	UserID      string         `json:"userId"`
	Action      string         `json:"action"`
	Resource    string         `json:"resource"`
	ResourceID  string         `json:"resourceId,omitempty"`
	ExecutionID string         `json:"executionId,omitempty"`
	Details     map[string]any `json:"details,omitempty"`
	CreatedAt   time.Time      `json:"createdAt"`
}
