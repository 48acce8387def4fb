package domain

import "time"

// Event names are the wire contract toward any UI.
const (
	EventStatus          = "status"
	EventPlan            = "plan"
	EventCommands        = "commands"
	EventBlocked         = "blocked"
	EventOutput          = "output"
	EventReconnecting    = "reconnecting"
	EventReconnected     = "reconnected"
	EventReconnectFailed = "reconnect-failed"
	EventComplete        = "complete"
	EventError           = "error"
	EventChatResponse    = "chat_response"
)

// Inbound action names.
const (
	ActionExecute  = "execute"
	ActionConfirm  = "confirm"
	ActionCancel   = "cancel"
	ActionOverride = "override"
	ActionChat     = "chat"
)

// Event is one progress notification addressed to a user.
type Event struct {
	Name   string
	UserID string
	Data   any
}

// StatusPayload accompanies every status transition.
type StatusPayload struct {
	ExecutionID string          `json:"executionId"`
	Status      ExecutionStatus `json:"status"`
	Message     string          `json:"message"`
}

// PlanPayload is sent once planning completes.
type PlanPayload struct {
	ExecutionID string `json:"executionId"`
	Plan        Plan   `json:"plan"`
}

// CommandsPayload is sent once validation completes.
type CommandsPayload struct {
	ExecutionID          string    `json:"executionId"`
	Commands             []string  `json:"commands"`
	Explanation          string    `json:"explanation"`
	Warnings             []string  `json:"warnings"`
	RiskLevel            RiskLevel `json:"riskLevel"`
	SecurityIssues       []string  `json:"securityIssues"`
	RequiresConfirmation bool      `json:"requiresConfirmation"`
}

// BlockedPayload is sent when the validator rejects the batch.
type BlockedPayload struct {
	ExecutionID     string   `json:"executionId"`
	BlockedCommands []string `json:"blockedCommands"`
	AllCommands     []string `json:"allCommands"`
	Reason          string   `json:"reason"`
}

// OutputPayload streams command echo, stdout and stderr.
type OutputPayload struct {
	ExecutionID string       `json:"executionId"`
	Type        OutputStream `json:"type"`
	Content     string       `json:"content"`
}

// ReconnectingPayload reports one reconnect attempt.
type ReconnectingPayload struct {
	ExecutionID string `json:"executionId"`
	Attempt     int    `json:"attempt"`
	MaxAttempts int    `json:"maxAttempts"`
	Message     string `json:"message"`
}

// ReconnectPayload is used for reconnected and reconnect-failed.
type ReconnectPayload struct {
	ExecutionID string `json:"executionId"`
	Message     string `json:"message"`
}

// CompletePayload closes a run. Duration is in milliseconds.
type CompletePayload struct {
	ExecutionID string   `json:"executionId"`
	Success     bool     `json:"success"`
	Duration    int64    `json:"duration"`
	Analysis    Analysis `json:"analysis"`
}

// ErrorPayload reports an unrecoverable step error.
type ErrorPayload struct {
	ExecutionID string `json:"executionId,omitempty"`
	Message     string `json:"message"`
}

// ChatPayload answers a free-form chat message.
type ChatPayload struct {
	Message string `json:"message"`
}

// DurationMillis converts d to the wire representation.
func DurationMillis(d time.Duration) int64 {
	return d.Milliseconds()
}
