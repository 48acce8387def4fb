package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/doeshing/opsai/internal/domain"
)

const (
	reconnectedMessage     = "Connection re-established"
	reconnectFailedMessage = "Failed to reconnect to the server after multiple attempts."
)

// run executes the frozen command list in order, stopping at the first
// failed step, then records the outcome.
func (s *Service) run(ctx context.Context, user domain.User, exec *domain.Execution, creds domain.ServerCredentials) error {
	if err := s.advance(ctx, exec, domain.StatusExecuting); err != nil {
		return s.fail(ctx, user, exec, err)
	}
	s.emitStatus(user, exec, msgExecuting)
	started := *exec.ExecutedAt

	var output strings.Builder
	exec.ExitCodes = make([]*int, 0, len(exec.Commands))
	for _, command := range exec.Commands {
		echo := "$ " + command
		output.WriteString(echo + "\n")
		s.emitOutput(user, exec, domain.StreamCommand, echo)

		result := s.step(ctx, user, exec, command, creds)
		exec.ExitCodes = append(exec.ExitCodes, result.ExitCode)
		s.metrics.CommandExecuted(result.Success)

		if result.Stdout != "" {
			output.WriteString(result.Stdout + "\n")
		}
		if result.Stderr != "" {
			output.WriteString(result.Stderr + "\n")
		}
		if !result.Success {
			break
		}
	}
	exec.Output = output.String()
	success := exec.Succeeded()

	analysis, err := s.ai.AnalyzeResult(ctx, exec.Prompt, exec.Commands, exec.Output, exec.ExitCodes)
	if err != nil {
		s.logger.Warn("result analysis failed", map[string]interface{}{
			"execution_id": exec.ID,
			"error":        err.Error(),
		})
		analysis = domain.Analysis{
			Success: success,
			Summary: "Result analysis unavailable: " + err.Error(),
			Errors:  []string{err.Error()},
		}
	}

	final := domain.StatusFailed
	action := domain.AuditExecutionFailed
	message := "One or more commands failed"
	if success {
		final = domain.StatusCompleted
		action = domain.AuditExecutionCompleted
		message = msgCompleted
	}
	if err := exec.Transition(final, s.opts.Now()); err != nil {
		return s.fail(ctx, user, exec, err)
	}
	duration := exec.CompletedAt.Sub(started)
	exec.Duration = &duration
	if err := s.store.Update(ctx, exec); err != nil {
		return s.fail(ctx, user, exec, fmt.Errorf("persist execution: %w", err))
	}
	s.metrics.ExecutionFinished(final)
	s.logger.Info("execution finished", map[string]interface{}{
		"execution_id": exec.ID,
		"status":       string(final),
		"duration_ms":  duration.Milliseconds(),
	})

	s.emitStatus(user, exec, message)
	s.emit(user, domain.EventComplete, domain.CompletePayload{
		ExecutionID: exec.ID,
		Success:     success,
		Duration:    domain.DurationMillis(duration),
		Analysis:    analysis,
	})
	s.logAudit(ctx, user, exec, action, map[string]any{
		"duration":  duration.Milliseconds(),
		"exitCodes": exec.ExitCodes,
	})
	return nil
}

// step runs one command, falling back to the visible reconnect protocol
// when the session was lost.
func (s *Service) step(ctx context.Context, user domain.User, exec *domain.Execution, command string, creds domain.ServerCredentials) domain.CommandResult {
	result := s.runStreamed(ctx, user, exec, command, creds)
	if result.Success || !domain.IsConnectionLost(result.Stderr) {
		return result
	}
	return s.reconnect(ctx, user, exec, command, creds)
}

func (s *Service) reconnect(ctx context.Context, user domain.User, exec *domain.Execution, command string, creds domain.ServerCredentials) domain.CommandResult {
	attempts := s.opts.ReconnectAttempts
	for attempt := 1; attempt <= attempts; attempt++ {
		s.emit(user, domain.EventReconnecting, domain.ReconnectingPayload{
			ExecutionID: exec.ID,
			Attempt:     attempt,
			MaxAttempts: attempts,
			Message:     fmt.Sprintf("Server not responding. Reconnecting (%d/%d)...", attempt, attempts),
		})
		s.metrics.ReconnectAttempt()
		s.logger.Warn("reconnect attempt", map[string]interface{}{
			"execution_id": exec.ID,
			"server_id":    exec.ServerID,
			"attempt":      attempt,
			"max_attempts": attempts,
		})

		if err := s.opts.Sleep(ctx, s.opts.ReconnectInterval); err != nil {
			break
		}
		s.connections.Disconnect(exec.ServerID)

		result := s.runStreamed(ctx, user, exec, command, creds)
		if result.Success || !domain.IsConnectionLost(result.Stderr) {
			s.emit(user, domain.EventReconnected, domain.ReconnectPayload{
				ExecutionID: exec.ID,
				Message:     reconnectedMessage,
			})
			return result
		}
	}

	s.emit(user, domain.EventReconnectFailed, domain.ReconnectPayload{
		ExecutionID: exec.ID,
		Message:     reconnectFailedMessage,
	})
	s.emitOutput(user, exec, domain.StreamStderr, reconnectFailedMessage)
	return domain.FailedResult(reconnectFailedMessage)
}

// runStreamed forwards output chunks as they arrive. Output that never came
// through the stream, such as a pool error message, is emitted whole.
func (s *Service) runStreamed(ctx context.Context, user domain.User, exec *domain.Execution, command string, creds domain.ServerCredentials) domain.CommandResult {
	var mu sync.Mutex
	streamed := map[domain.OutputStream]bool{}
	result := s.connections.ExecuteCommandStream(ctx, exec.ServerID, command, creds, func(chunk domain.OutputChunk) {
		if chunk.Data == "" {
			return
		}
		mu.Lock()
		streamed[chunk.Stream] = true
		mu.Unlock()
		s.emitOutput(user, exec, chunk.Stream, chunk.Data)
	})
	if result.Stdout != "" && !streamed[domain.StreamStdout] {
		s.emitOutput(user, exec, domain.StreamStdout, result.Stdout)
	}
	if result.Stderr != "" && !streamed[domain.StreamStderr] {
		s.emitOutput(user, exec, domain.StreamStderr, result.Stderr)
	}
	return result
}

func (s *Service) emitOutput(user domain.User, exec *domain.Execution, stream domain.OutputStream, content string) {
	s.emit(user, domain.EventOutput, domain.OutputPayload{
		ExecutionID: exec.ID,
		Type:        stream,
		Content:     content,
	})
}
