package domain

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"syscall"
)

var (
	// ErrNotFound is returned when a server or execution does not exist.
	ErrNotFound = errors.New("not found")
	// ErrForbidden is returned when the caller does not own the resource.
	ErrForbidden = errors.New("access denied")
	// ErrInvalidState is returned when an action arrives in the wrong state.
	ErrInvalidState = errors.New("execution is not in the required state")
	// ErrInvalidTransition is returned for an edge outside the lifecycle graph.
	ErrInvalidTransition = errors.New("invalid status transition")
	// ErrCommandsFrozen is returned when commands change after validation.
	ErrCommandsFrozen = errors.New("commands are immutable after validation")
	// ErrNoProvider is returned when no AI provider is available.
	ErrNoProvider = errors.New("no AI provider configured: set GEMINI_API_KEY, GROQ_API_KEY or OPENAI_API_KEY, or run Ollama locally")
)

// ConnectionError reports a failure to establish an SSH session.
type ConnectionError struct {
	Host     string
	Attempts int
	Err      error
}

func (e *ConnectionError) Error() string {
	if e.Attempts > 0 {
		return fmt.Sprintf("ssh connection to %s failed after %d attempts: %v", e.Host, e.Attempts, e.Err)
	}
	return fmt.Sprintf("ssh connection to %s failed: %v", e.Host, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// AICapabilityError wraps a failure of one AI operation. It is surfaced verbatim
// and never retried.
type AICapabilityError struct {
	Operation string
	Err       error
}

func (e *AICapabilityError) Error() string {
	return fmt.Sprintf("%s: %v", e.Operation, e.Err)
}

func (e *AICapabilityError) Unwrap() error {
	return e.Err
}

// transportMarkers identify connection-class failures in error text.
var transportMarkers = []string{
	"ECONNRESET",
	"ECONNREFUSED",
	"ETIMEDOUT",
	"EPIPE",
	"broken pipe",
	"connection reset",
	"connection refused",
	"i/o timeout",
	"socket hang up",
	"connection lost",
	"not connected",
	"use of closed network connection",
}

// sessionMarkers extends transportMarkers with the messages the pool itself
// reports when it could not (re)connect.
var sessionMarkers = append([]string{
	"connection failed",
	"reconnection failed",
}, transportMarkers...)

// IsConnectionError reports whether err is transient transport trouble worth
// retrying. Command-level failures (exit status, command not found) are not.
func IsConnectionError(err error) bool {
	if err == nil {
		return false
	}
	var connErr *ConnectionError
	if errors.As(err, &connErr) {
		return true
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) ||
		errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ETIMEDOUT) || errors.Is(err, syscall.EPIPE) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return containsAny(err.Error(), transportMarkers)
}

// IsConnectionLost reports whether a step's stderr indicates the session was
// lost rather than the command failing on its own.
func IsConnectionLost(stderr string) bool {
	return containsAny(stderr, sessionMarkers)
}

func containsAny(text string, markers []string) bool {
	lower := strings.ToLower(text)
	for _, marker := range markers {
		if strings.Contains(lower, strings.ToLower(marker)) {
			return true
		}
	}
	return false
}
