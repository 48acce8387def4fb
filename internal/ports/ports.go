// Package ports defines the interfaces (ports) for the hexagonal architecture.
//
// This package establishes the contract between the application core and external
// adapters (infrastructure). The orchestrator depends only on these interfaces, so
// the SSH pool, validator, AI providers, store and transport can be swapped or
// stubbed independently.
package ports

import (
	"context"

	"github.com/doeshing/opsai/internal/domain"
)

// ConfigProvider loads the latest configuration from persistent storage.
// Implementations typically read from ~/.opsai/config.yaml.
type ConfigProvider interface {
	Load(context.Context) (domain.Config, error)
}

// ConnectionManager runs commands on remote hosts over pooled SSH sessions.
// Failures are reported inside the CommandResult, never as a Go error.
type ConnectionManager interface {
	ExecuteCommand(ctx context.Context, serverID, command string, creds domain.ServerCredentials) domain.CommandResult
	// onChunk may be called concurrently from the stdout and stderr copiers.
	ExecuteCommandStream(ctx context.Context, serverID, command string, creds domain.ServerCredentials, onChunk func(domain.OutputChunk)) domain.CommandResult
	Disconnect(serverID string)
	IsConnected(serverID string) bool
	TestConnection(ctx context.Context, creds domain.ServerCredentials) domain.ConnectionTestResult
}

// CommandValidator classifies shell commands into risk tiers. It is pure.
type CommandValidator interface {
	ValidateCommand(command string) domain.ValidationResult
	ValidateCommands(commands []string) domain.ValidationResult
	Sanitize(command string) string
}

// Capability exposes the AI operations the orchestrator sequences.
type Capability interface {
	CreatePlan(ctx context.Context, prompt, serverInfo string) (domain.Plan, error)
	GenerateCommands(ctx context.Context, prompt string, plan domain.Plan, serverInfo string) (domain.CommandSet, error)
	ValidateSecurity(ctx context.Context, commands []string) (domain.SecurityReview, error)
	AnalyzeResult(ctx context.Context, prompt string, commands []string, output string, exitCodes []*int) (domain.Analysis, error)
	Chat(ctx context.Context, message, serverInfo string) (string, error)
}

// Completer is a single AI backend able to answer chat completions.
type Completer interface {
	ID() string
	Name() string
	Model() string
	Configured() bool
	Complete(ctx context.Context, messages []domain.Message, opts domain.CompletionOptions) (string, error)
}

// Pinger is implemented by completers that can cheaply check reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ProviderRegistry manages the set of completers and the active one.
type ProviderRegistry interface {
	List(ctx context.Context) []domain.ProviderStatus
	Active(ctx context.Context) (Completer, error)
	SetActive(id string) error
}

// ExecutionStore persists the single execution record each run owns.
type ExecutionStore interface {
	Create(ctx context.Context, exec *domain.Execution) error
	Update(ctx context.Context, exec *domain.Execution) error
	Get(ctx context.Context, id string) (*domain.Execution, error)
	List(ctx context.Context, filter domain.ExecutionFilter) ([]domain.Execution, error)
}

// AuditLog appends security-relevant events.
type AuditLog interface {
	Log(ctx context.Context, entry domain.AuditEntry) error
}

// AuditReader returns the audit trail of one execution, oldest first.
type AuditReader interface {
	AuditForExecution(ctx context.Context, executionID string) ([]domain.AuditEntry, error)
}

// CredentialResolver returns decrypted credentials after an ownership check.
type CredentialResolver interface {
	Resolve(ctx context.Context, user domain.User, serverID string) (domain.Server, domain.ServerCredentials, error)
	List(ctx context.Context, user domain.User) ([]domain.Server, error)
}

// NotificationSink delivers progress events to whoever is listening for a user.
type NotificationSink interface {
	Notify(event domain.Event)
}

// MetricsRecorder counts orchestrator outcomes.
type MetricsRecorder interface {
	ExecutionFinished(status domain.ExecutionStatus)
	CommandExecuted(success bool)
	ReconnectAttempt()
}

// ConfirmationPrompter handles interactive user confirmations for risky batches.
type ConfirmationPrompter interface {
	Confirm(question string, risk domain.RiskLevel, commands []string, reasons []string) (bool, error)
	Enabled() bool
}

// Logger provides structured logging abstraction for the application layer.
// Implementations can route to different backends (stdout, files, external services).
type Logger interface {
	Debug(msg string, fields map[string]interface{})
	Info(msg string, fields map[string]interface{})
	Warn(msg string, fields map[string]interface{})
	Error(msg string, err error, fields map[string]interface{})
}
