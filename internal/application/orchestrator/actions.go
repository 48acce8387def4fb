package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/doeshing/opsai/internal/domain"
)

const overrideWarning = "User overrode security block to execute potentially dangerous commands"

// Confirm runs an execution parked in AWAITING_CONFIRMATION. It blocks until
// the run finishes.
func (s *Service) Confirm(ctx context.Context, user domain.User, executionID string) (*domain.Execution, error) {
	ctx = context.WithoutCancel(ctx)
	exec, release, err := s.claim(ctx, user, executionID, domain.StatusAwaitingConfirmation)
	if err != nil {
		return nil, s.reject(user, executionID, err)
	}
	defer release()

	_, creds, err := s.credentials.Resolve(ctx, user, exec.ServerID)
	if err != nil {
		return exec, s.reject(user, exec.ID, err)
	}

	exec.Confirmed = true
	s.logAudit(ctx, user, exec, domain.AuditExecutionConfirmed, nil)
	s.logger.Info("execution confirmed", map[string]interface{}{
		"execution_id": exec.ID,
		"user_id":      user.ID,
		"risk_level":   string(exec.RiskLevel),
	})
	return exec, s.run(ctx, user, exec, creds)
}

// Cancel ends an execution waiting for confirmation or override.
func (s *Service) Cancel(ctx context.Context, user domain.User, executionID string) (*domain.Execution, error) {
	ctx = context.WithoutCancel(ctx)
	exec, release, err := s.claim(ctx, user, executionID, domain.StatusAwaitingConfirmation, domain.StatusBlocked)
	if err != nil {
		return nil, s.reject(user, executionID, err)
	}
	defer release()

	if err := s.advance(ctx, exec, domain.StatusCancelled); err != nil {
		return exec, s.reject(user, exec.ID, err)
	}
	s.logAudit(ctx, user, exec, domain.AuditExecutionCancelled, nil)
	s.metrics.ExecutionFinished(domain.StatusCancelled)
	s.emitStatus(user, exec, msgCancelled)
	return exec, nil
}

// Override lifts a validator block. The execution moves to
// AWAITING_CONFIRMATION at CRITICAL risk and still needs Confirm to run.
// The override is audited before the transition; if the audit write fails
// nothing changes.
func (s *Service) Override(ctx context.Context, user domain.User, executionID string) (*domain.Execution, error) {
	ctx = context.WithoutCancel(ctx)
	exec, release, err := s.claim(ctx, user, executionID, domain.StatusBlocked)
	if err != nil {
		return nil, s.reject(user, executionID, err)
	}
	defer release()

	if err := s.recordAudit(ctx, user, exec, domain.AuditExecutionOverride, map[string]any{
		"commands": exec.Commands,
		"warning":  overrideWarning,
	}); err != nil {
		return exec, s.reject(user, exec.ID, fmt.Errorf("audit override: %w", err))
	}
	s.logger.Warn("security block overridden", map[string]interface{}{
		"execution_id": exec.ID,
		"user_id":      user.ID,
		"commands":     exec.Commands,
	})

	exec.RaiseRisk(domain.RiskCritical)
	if err := s.advance(ctx, exec, domain.StatusAwaitingConfirmation); err != nil {
		return exec, s.reject(user, exec.ID, err)
	}
	s.emitStatus(user, exec, msgAwaiting)
	return exec, nil
}

// claim takes ownership of an execution the user may act on and checks it
// is in one of the accepted states.
func (s *Service) claim(ctx context.Context, user domain.User, executionID string, accepted ...domain.ExecutionStatus) (*domain.Execution, func(), error) {
	if executionID == "" {
		return nil, nil, fmt.Errorf("execution id is required: %w", domain.ErrInvalidState)
	}
	release, ok := s.claims.acquire(executionID)
	if !ok {
		return nil, nil, fmt.Errorf("execution %s is busy: %w", executionID, domain.ErrInvalidState)
	}

	exec, err := s.Get(ctx, user, executionID)
	if err != nil {
		release()
		return nil, nil, err
	}
	for _, status := range accepted {
		if exec.Status == status {
			return exec, release, nil
		}
	}
	release()
	return nil, nil, fmt.Errorf("execution %s is %s: %w", executionID, exec.Status, domain.ErrInvalidState)
}

// Get returns one execution if the user may see it.
func (s *Service) Get(ctx context.Context, user domain.User, executionID string) (*domain.Execution, error) {
	exec, err := s.store.Get(ctx, executionID)
	if err != nil {
		return nil, err
	}
	if !user.CanAccess(exec.UserID) {
		return nil, fmt.Errorf("execution %s: %w", executionID, domain.ErrForbidden)
	}
	return exec, nil
}

// List returns the user's executions, newest first. Admins see everyone's.
func (s *Service) List(ctx context.Context, user domain.User, filter domain.ExecutionFilter) ([]domain.Execution, error) {
	if !user.IsAdmin() {
		filter.UserID = user.ID
	}
	return s.store.List(ctx, filter)
}

// AuditTrail returns the audit entries recorded for one execution.
func (s *Service) AuditTrail(ctx context.Context, user domain.User, executionID string) ([]domain.AuditEntry, error) {
	if s.auditReader == nil {
		return nil, errors.New("audit trail is not available")
	}
	if _, err := s.Get(ctx, user, executionID); err != nil {
		return nil, err
	}
	return s.auditReader.AuditForExecution(ctx, executionID)
}

// Chat answers a free-form question, optionally in the context of a server
// the user can access. The reply is also sent as a chat_response event.
func (s *Service) Chat(ctx context.Context, user domain.User, message, serverID string) (string, error) {
	if strings.TrimSpace(message) == "" {
		return "", s.reject(user, "", errors.New("message is required"))
	}

	var serverInfo string
	if serverID != "" {
		server, err := s.findServer(ctx, user, serverID)
		if err != nil {
			return "", s.reject(user, "", err)
		}
		serverInfo = fmt.Sprintf("Server: %s (%s)", server.Name, server.Host)
	}

	reply, err := s.ai.Chat(ctx, message, serverInfo)
	if err != nil {
		return "", s.reject(user, "", err)
	}
	s.emit(user, domain.EventChatResponse, domain.ChatPayload{Message: reply})
	return reply, nil
}

func (s *Service) findServer(ctx context.Context, user domain.User, serverID string) (domain.Server, error) {
	servers, err := s.credentials.List(ctx, user)
	if err != nil {
		return domain.Server{}, err
	}
	for _, server := range servers {
		if server.ID == serverID {
			return server, nil
		}
	}
	return domain.Server{}, fmt.Errorf("server %s: %w", serverID, domain.ErrNotFound)
}
