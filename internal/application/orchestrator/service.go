// Package orchestrator drives an execution through its lifecycle: plan,
// generate and validate commands, wait for the user when needed, run the
// commands over SSH and summarize the outcome.
//
// Every status change is persisted before the matching event is emitted.
// An execution id is owned by at most one task at a time; user actions that
// arrive while another task owns the id, or in the wrong state, are rejected
// with domain.ErrInvalidState.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/doeshing/opsai/internal/domain"
	"github.com/doeshing/opsai/internal/pkg/timeutil"
	"github.com/doeshing/opsai/internal/ports"
)

// Status messages sent with every status event.
const (
	msgPlanning   = "Analyzing request..."
	msgValidating = "Generating commands..."
	msgAwaiting   = "Waiting for confirmation..."
	msgBlocked    = "Commands blocked by security policy"
	msgExecuting  = "Executing commands..."
	msgCompleted  = "Execution completed"
	msgCancelled  = "Execution cancelled"
)

// Dependencies are the collaborators the orchestrator sequences. Sink and
// Metrics are optional.
type Dependencies struct {
	Connections ports.ConnectionManager
	Validator   ports.CommandValidator
	AI          ports.Capability
	Store       ports.ExecutionStore
	Audit       ports.AuditLog
	AuditReader ports.AuditReader
	Credentials ports.CredentialResolver
	Sink        ports.NotificationSink
	Metrics     ports.MetricsRecorder
	Logger      ports.Logger
}

// Options tunes the reconnect protocol. Zero values fall back to defaults.
type Options struct {
	ReconnectAttempts int
	ReconnectInterval time.Duration
	Sleep             timeutil.SleepFunc
	Now               func() time.Time
}

func (o Options) withDefaults() Options {
	if o.ReconnectAttempts <= 0 {
		o.ReconnectAttempts = domain.ReconnectAttempts
	}
	if o.ReconnectInterval <= 0 {
		o.ReconnectInterval = domain.ReconnectInterval
	}
	if o.Sleep == nil {
		o.Sleep = timeutil.Sleep
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

// Service implements the execution state machine.
type Service struct {
	connections ports.ConnectionManager
	validator   ports.CommandValidator
	ai          ports.Capability
	store       ports.ExecutionStore
	audit       ports.AuditLog
	auditReader ports.AuditReader
	credentials ports.CredentialResolver
	sink        ports.NotificationSink
	metrics     ports.MetricsRecorder
	logger      ports.Logger
	opts        Options
	claims      *claimSet
}

// New wires a Service.
func New(deps Dependencies, opts Options) (*Service, error) {
	if deps.Connections == nil || deps.Validator == nil || deps.AI == nil || deps.Store == nil ||
		deps.Audit == nil || deps.Credentials == nil || deps.Logger == nil {
		return nil, errors.New("orchestrator.Service dependencies not satisfied")
	}
	sink := deps.Sink
	if sink == nil {
		sink = discardSink{}
	}
	metrics := deps.Metrics
	if metrics == nil {
		metrics = noopMetrics{}
	}
	return &Service{
		connections: deps.Connections,
		validator:   deps.Validator,
		ai:          deps.AI,
		store:       deps.Store,
		audit:       deps.Audit,
		auditReader: deps.AuditReader,
		credentials: deps.Credentials,
		sink:        sink,
		metrics:     metrics,
		logger:      deps.Logger,
		opts:        opts.withDefaults(),
		claims:      newClaimSet(),
	}, nil
}

// Execute creates an execution for req and drives it until it either needs
// the user (AWAITING_CONFIRMATION, BLOCKED) or finishes. The returned record
// reflects the last persisted state. Failures are also reported to the user
// as error events.
func (s *Service) Execute(ctx context.Context, user domain.User, req domain.ExecuteRequest) (*domain.Execution, error) {
	ctx = context.WithoutCancel(ctx)

	if strings.TrimSpace(req.Prompt) == "" {
		return nil, s.reject(user, "", errors.New("prompt is required"))
	}
	server, creds, err := s.credentials.Resolve(ctx, user, req.ServerID)
	if err != nil {
		return nil, s.reject(user, "", err)
	}

	exec := &domain.Execution{
		UserID:   user.ID,
		ServerID: req.ServerID,
		Prompt:   req.Prompt,
		Status:   domain.StatusPlanning,
		DryRun:   req.DryRun,
		Commands: []string{},
	}
	exec.CreatedAt = s.opts.Now()
	if err := s.store.Create(ctx, exec); err != nil {
		return nil, s.reject(user, "", fmt.Errorf("create execution: %w", err))
	}

	// A fresh id cannot be contended; the claim keeps actions out until
	// the pipeline parks or finishes.
	release, _ := s.claims.acquire(exec.ID)
	defer release()

	s.logger.Info("execution started", map[string]interface{}{
		"execution_id": exec.ID,
		"server_id":    exec.ServerID,
		"user_id":      user.ID,
		"dry_run":      exec.DryRun,
	})
	s.emitStatus(user, exec, msgPlanning)

	if err := s.plan(ctx, user, exec, server, creds); err != nil {
		return exec, err
	}
	return exec, nil
}

// plan runs PLANNING and VALIDATING, then either parks the execution or
// runs it straight away.
func (s *Service) plan(ctx context.Context, user domain.User, exec *domain.Execution, server domain.Server, creds domain.ServerCredentials) error {
	distro := s.detectDistro(ctx, exec.ServerID, creds)
	serverInfo := fmt.Sprintf("Host: %s, OS: %s", server.Host, distro)

	plan, err := s.ai.CreatePlan(ctx, exec.Prompt, serverInfo)
	if err != nil {
		return s.fail(ctx, user, exec, err)
	}
	exec.Plan = &plan
	if err := s.advance(ctx, exec, domain.StatusValidating); err != nil {
		return s.fail(ctx, user, exec, err)
	}
	s.emit(user, domain.EventPlan, domain.PlanPayload{ExecutionID: exec.ID, Plan: plan})
	s.emitStatus(user, exec, msgValidating)

	set, err := s.ai.GenerateCommands(ctx, exec.Prompt, plan, serverInfo)
	if err != nil {
		return s.fail(ctx, user, exec, err)
	}

	verdict := s.validator.ValidateCommands(set.Commands)
	if !verdict.IsValid {
		return s.block(ctx, user, exec, set.Commands, verdict)
	}

	review, err := s.ai.ValidateSecurity(ctx, set.Commands)
	if err != nil {
		return s.fail(ctx, user, exec, err)
	}
	risk := domain.MaxRisk(verdict.RiskLevel, domain.ParseRiskLevel(review.RiskLevel))
	if err := exec.RecordValidation(set.Commands, risk); err != nil {
		return s.fail(ctx, user, exec, err)
	}

	needsConfirmation := plan.RequiresConfirmation || risk.Exceeds(domain.RiskLow) || exec.DryRun
	commandsEvent := domain.CommandsPayload{
		ExecutionID:          exec.ID,
		Commands:             exec.Commands,
		Explanation:          set.Explanation,
		Warnings:             append(nonNil(set.Warnings), verdict.WarningCommands...),
		RiskLevel:            risk,
		SecurityIssues:       nonNil(review.Issues),
		RequiresConfirmation: needsConfirmation,
	}

	if needsConfirmation {
		if err := s.advance(ctx, exec, domain.StatusAwaitingConfirmation); err != nil {
			return s.fail(ctx, user, exec, err)
		}
		s.emit(user, domain.EventCommands, commandsEvent)
		s.emitStatus(user, exec, msgAwaiting)
		return nil
	}

	if err := s.store.Update(ctx, exec); err != nil {
		return s.fail(ctx, user, exec, fmt.Errorf("persist execution: %w", err))
	}
	s.emit(user, domain.EventCommands, commandsEvent)
	return s.run(ctx, user, exec, creds)
}

func (s *Service) block(ctx context.Context, user domain.User, exec *domain.Execution, commands []string, verdict domain.ValidationResult) error {
	if err := exec.RecordValidation(commands, domain.RiskCritical); err != nil {
		return s.fail(ctx, user, exec, err)
	}
	exec.Error = "Blocked commands: " + strings.Join(verdict.BlockedCommands, ", ")
	if err := s.advance(ctx, exec, domain.StatusBlocked); err != nil {
		return s.fail(ctx, user, exec, err)
	}
	s.logAudit(ctx, user, exec, domain.AuditExecutionBlocked, map[string]any{
		"blockedCommands": verdict.BlockedCommands,
	})
	s.metrics.ExecutionFinished(domain.StatusBlocked)
	s.logger.Warn("execution blocked", map[string]interface{}{
		"execution_id": exec.ID,
		"blocked":      verdict.BlockedCommands,
	})

	s.emit(user, domain.EventBlocked, domain.BlockedPayload{
		ExecutionID:     exec.ID,
		BlockedCommands: verdict.BlockedCommands,
		AllCommands:     exec.Commands,
		Reason:          verdict.Reason,
	})
	s.emitStatus(user, exec, msgBlocked)
	return nil
}

// advance applies a transition and persists it.
func (s *Service) advance(ctx context.Context, exec *domain.Execution, to domain.ExecutionStatus) error {
	if err := exec.Transition(to, s.opts.Now()); err != nil {
		return err
	}
	if err := s.store.Update(ctx, exec); err != nil {
		return fmt.Errorf("persist execution: %w", err)
	}
	return nil
}

// fail moves exec to FAILED when the lifecycle allows it and reports cause
// to the user verbatim.
func (s *Service) fail(ctx context.Context, user domain.User, exec *domain.Execution, cause error) error {
	s.logger.Error("execution failed", cause, map[string]interface{}{
		"execution_id": exec.ID,
		"status":       string(exec.Status),
	})
	if domain.CanTransition(exec.Status, domain.StatusFailed) {
		exec.Error = recordedError(cause)
		if err := s.advance(ctx, exec, domain.StatusFailed); err != nil {
			s.logger.Error("persist failed execution", err, map[string]interface{}{"execution_id": exec.ID})
		} else {
			s.metrics.ExecutionFinished(domain.StatusFailed)
			s.emitStatus(user, exec, cause.Error())
		}
	}
	s.emit(user, domain.EventError, domain.ErrorPayload{ExecutionID: exec.ID, Message: cause.Error()})
	return cause
}

// recordedError is the text stored on the execution. AI failures keep the
// provider's message as is; the operation name stays in logs and events.
func recordedError(cause error) string {
	var aiErr *domain.AICapabilityError
	if errors.As(cause, &aiErr) && aiErr.Err != nil {
		return aiErr.Err.Error()
	}
	return cause.Error()
}

// reject reports an action failure that did not touch any execution state.
func (s *Service) reject(user domain.User, executionID string, err error) error {
	s.emit(user, domain.EventError, domain.ErrorPayload{ExecutionID: executionID, Message: err.Error()})
	return err
}

func (s *Service) logAudit(ctx context.Context, user domain.User, exec *domain.Execution, action string, details map[string]any) {
	if err := s.recordAudit(ctx, user, exec, action, details); err != nil {
		s.logger.Error("audit log failed", err, map[string]interface{}{
			"execution_id": exec.ID,
			"action":       action,
		})
	}
}

func (s *Service) recordAudit(ctx context.Context, user domain.User, exec *domain.Execution, action string, details map[string]any) error {
	return s.audit.Log(ctx, domain.AuditEntry{
		UserID:      user.ID,
		Action:      action,
		Resource:    domain.AuditResourceExecution,
		ResourceID:  exec.ID,
		ExecutionID: exec.ID,
		Details:     details,
		CreatedAt:   s.opts.Now(),
	})
}

func (s *Service) emitStatus(user domain.User, exec *domain.Execution, message string) {
	s.emit(user, domain.EventStatus, domain.StatusPayload{
		ExecutionID: exec.ID,
		Status:      exec.Status,
		Message:     message,
	})
}

func (s *Service) emit(user domain.User, name string, data any) {
	s.sink.Notify(domain.Event{Name: name, UserID: user.ID, Data: data})
}

func nonNil(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}

type discardSink struct{}

func (discardSink) Notify(domain.Event) {}

type noopMetrics struct{}

func (noopMetrics) ExecutionFinished(domain.ExecutionStatus) {}
func (noopMetrics) CommandExecuted(bool)                     {}
func (noopMetrics) ReconnectAttempt()                        {}
