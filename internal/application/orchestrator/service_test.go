package orchestrator

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/doeshing/opsai/internal/domain"
	"github.com/doeshing/opsai/internal/pkg/logger"
)

func execute(t *testing.T, h *harness, req domain.ExecuteRequest) *domain.Execution {
	t.Helper()
	if req.ServerID == "" {
		req.ServerID = "srv-1"
	}
	if req.Prompt == "" {
		req.Prompt = "show me the box"
	}
	exec, err := h.svc.Execute(context.Background(), alice, req)
	require.NoError(t, err)
	require.NotNil(t, exec)
	return exec
}

func TestNewRequiresDependencies(t *testing.T) {
	_, err := New(Dependencies{Logger: logger.Nop{}}, Options{})
	assert.Error(t, err)
}

func TestLowRiskRunsWithoutPausing(t *testing.T) {
	h := newHarness(t)

	exec := execute(t, h, domain.ExecuteRequest{})

	assert.Equal(t, domain.StatusCompleted, exec.Status)
	assert.Equal(t, []domain.ExecutionStatus{
		domain.StatusPlanning, domain.StatusValidating, domain.StatusExecuting, domain.StatusCompleted,
	}, h.store.statuses(exec.ID))
	assert.Equal(t, []int{0, 0}, exitCodes(exec))
	assert.Equal(t, []string{"ls -la", "whoami"}, h.conns.ran())
	assert.Equal(t, domain.RiskLow, exec.RiskLevel)
	assert.False(t, exec.Confirmed)
	require.NotNil(t, exec.Duration)
	assert.Positive(t, *exec.Duration)
	assert.Contains(t, exec.Output, "$ ls -la\nout:ls -la\n")

	assert.Equal(t, "Host: 10.0.0.1, OS: Ubuntu", h.ai.serverInfo)
	assert.Equal(t, []string{"plan", "commands", "security", "analysis"}, h.ai.calls)
	assert.Equal(t, []string{"show me the box", "show me the box"}, h.ai.prompts, "generation and analysis see the request")
	assert.Empty(t, h.sink.violations)

	complete := h.sink.find(domain.EventComplete)
	require.Len(t, complete, 1)
	payload := complete[0].Data.(domain.CompletePayload)
	assert.True(t, payload.Success)
	assert.Equal(t, exec.Duration.Milliseconds(), payload.Duration)
	assert.Equal(t, "all good", payload.Analysis.Summary)
	assert.Equal(t, "alice", complete[0].UserID)

	assert.Equal(t, []string{domain.AuditExecutionCompleted}, h.audit.actions())
	assert.Equal(t, 1, h.metrics.finished[domain.StatusCompleted])
	assert.Equal(t, 2, h.metrics.commands)
}

func TestEventOrderForDirectRun(t *testing.T) {
	h := newHarness(t)
	h.ai.commands.Commands = []string{"uptime"}

	execute(t, h, domain.ExecuteRequest{})

	assert.Equal(t, []string{
		domain.EventStatus, domain.EventPlan, domain.EventStatus, domain.EventCommands,
		domain.EventStatus, domain.EventOutput, domain.EventOutput,
		domain.EventStatus, domain.EventComplete,
	}, h.sink.names())

	outputs := h.sink.outputs()
	require.Len(t, outputs, 2)
	assert.Equal(t, domain.OutputPayload{ExecutionID: outputs[0].ExecutionID, Type: domain.StreamCommand, Content: "$ uptime"}, outputs[0])
	assert.Equal(t, domain.StreamStdout, outputs[1].Type)
	assert.Equal(t, "out:uptime", outputs[1].Content)
}

func TestHighRiskWaitsForConfirmation(t *testing.T) {
	h := newHarness(t)
	h.ai.commands.Commands = []string{"systemctl restart nginx"}
	h.ai.review.RiskLevel = "high"

	exec := execute(t, h, domain.ExecuteRequest{})

	assert.Equal(t, domain.StatusAwaitingConfirmation, exec.Status)
	assert.Equal(t, domain.RiskHigh, exec.RiskLevel)
	assert.Empty(t, h.conns.ran())
	assert.Empty(t, h.sink.violations)

	commands := h.sink.find(domain.EventCommands)
	require.Len(t, commands, 1)
	payload := commands[0].Data.(domain.CommandsPayload)
	assert.True(t, payload.RequiresConfirmation)
	assert.Equal(t, domain.RiskHigh, payload.RiskLevel)
	assert.NotNil(t, payload.SecurityIssues)

	got, err := h.svc.Get(context.Background(), alice, exec.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusAwaitingConfirmation, got.Status)

	confirmed, err := h.svc.Confirm(context.Background(), alice, exec.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, confirmed.Status)
	assert.True(t, confirmed.Confirmed)
	assert.Equal(t, []string{"systemctl restart nginx"}, h.conns.ran())
	assert.Equal(t, []string{domain.AuditExecutionConfirmed, domain.AuditExecutionCompleted}, h.audit.actions())
	assert.Empty(t, h.sink.violations)
}

func TestValidatorRiskGatesEvenWhenAIDisagrees(t *testing.T) {
	h := newHarness(t)
	h.ai.commands.Commands = []string{"rm -rf /tmp/cache"}
	h.ai.review.RiskLevel = "SAFE"

	exec := execute(t, h, domain.ExecuteRequest{})

	assert.Equal(t, domain.StatusAwaitingConfirmation, exec.Status)
	assert.Equal(t, domain.RiskHigh, exec.RiskLevel)
	payload := h.sink.find(domain.EventCommands)[0].Data.(domain.CommandsPayload)
	assert.Contains(t, payload.Warnings, "rm -rf /tmp/cache")
}

func TestPlanRequiringConfirmationPauses(t *testing.T) {
	h := newHarness(t)
	h.ai.plan.RequiresConfirmation = true

	exec := execute(t, h, domain.ExecuteRequest{})
	assert.Equal(t, domain.StatusAwaitingConfirmation, exec.Status)
}

func TestDryRunNeverExecutesAutomatically(t *testing.T) {
	h := newHarness(t)

	exec := execute(t, h, domain.ExecuteRequest{DryRun: true})

	assert.Equal(t, domain.StatusAwaitingConfirmation, exec.Status)
	assert.True(t, exec.DryRun)
	assert.Empty(t, h.conns.ran())
}

func TestBlockedCommands(t *testing.T) {
	h := newHarness(t)
	h.ai.commands.Commands = []string{"df -h", "rm -rf /"}

	exec := execute(t, h, domain.ExecuteRequest{})

	assert.Equal(t, domain.StatusBlocked, exec.Status)
	assert.Equal(t, domain.RiskCritical, exec.RiskLevel)
	assert.Equal(t, "Blocked commands: rm -rf /", exec.Error)
	assert.Equal(t, []string{"df -h", "rm -rf /"}, exec.Commands)
	assert.NotContains(t, h.ai.calls, "security")
	assert.Empty(t, h.conns.ran())
	assert.Empty(t, h.sink.violations)

	blocked := h.sink.find(domain.EventBlocked)
	require.Len(t, blocked, 1)
	payload := blocked[0].Data.(domain.BlockedPayload)
	assert.Equal(t, []string{"rm -rf /"}, payload.BlockedCommands)
	assert.Equal(t, []string{"df -h", "rm -rf /"}, payload.AllCommands)
	assert.Equal(t, domain.ReasonBatchBlocked, payload.Reason)

	require.Len(t, h.audit.entries, 1)
	assert.Equal(t, domain.AuditExecutionBlocked, h.audit.entries[0].Action)
	assert.Equal(t, []string{"rm -rf /"}, h.audit.entries[0].Details["blockedCommands"])
	assert.Equal(t, 1, h.metrics.finished[domain.StatusBlocked])
}

func TestOverrideRequiresConfirmBeforeRunning(t *testing.T) {
	h := newHarness(t)
	h.ai.commands.Commands = []string{"reboot"}
	exec := execute(t, h, domain.ExecuteRequest{})
	require.Equal(t, domain.StatusBlocked, exec.Status)

	overridden, err := h.svc.Override(context.Background(), alice, exec.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusAwaitingConfirmation, overridden.Status)
	assert.Equal(t, domain.RiskCritical, overridden.RiskLevel)
	assert.Empty(t, h.conns.ran())

	actions := h.audit.actions()
	assert.Equal(t, []string{domain.AuditExecutionBlocked, domain.AuditExecutionOverride}, actions)
	assert.Equal(t, overrideWarning, h.audit.entries[1].Details["warning"])

	_, err = h.svc.Override(context.Background(), alice, exec.ID)
	assert.ErrorIs(t, err, domain.ErrInvalidState)

	done, err := h.svc.Confirm(context.Background(), alice, exec.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, done.Status)
	assert.Equal(t, []string{"reboot"}, h.conns.ran())
	assert.Equal(t, []domain.ExecutionStatus{
		domain.StatusPlanning, domain.StatusValidating, domain.StatusBlocked,
		domain.StatusAwaitingConfirmation, domain.StatusExecuting, domain.StatusCompleted,
	}, h.store.statuses(exec.ID))
	assert.Empty(t, h.sink.violations)
}

func TestOverrideAbortsWhenAuditFails(t *testing.T) {
	h := newHarness(t)
	h.ai.commands.Commands = []string{"reboot"}
	exec := execute(t, h, domain.ExecuteRequest{})

	h.audit.err = errors.New("disk full")
	_, err := h.svc.Override(context.Background(), alice, exec.ID)
	require.Error(t, err)
	assert.Equal(t, domain.StatusBlocked, h.store.statusOf(exec.ID))
}

func TestCancel(t *testing.T) {
	h := newHarness(t)
	h.ai.plan.RequiresConfirmation = true
	exec := execute(t, h, domain.ExecuteRequest{})

	cancelled, err := h.svc.Cancel(context.Background(), alice, exec.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCancelled, cancelled.Status)
	assert.NotNil(t, cancelled.CompletedAt)
	assert.Contains(t, h.audit.actions(), domain.AuditExecutionCancelled)

	_, err = h.svc.Cancel(context.Background(), alice, exec.ID)
	assert.ErrorIs(t, err, domain.ErrInvalidState)
	_, err = h.svc.Confirm(context.Background(), alice, exec.ID)
	assert.ErrorIs(t, err, domain.ErrInvalidState)
	assert.Empty(t, h.conns.ran())
}

func TestCancelBlocked(t *testing.T) {
	h := newHarness(t)
	h.ai.commands.Commands = []string{"mkfs.ext4 /dev/sdb"}
	exec := execute(t, h, domain.ExecuteRequest{})
	require.Equal(t, domain.StatusBlocked, exec.Status)

	cancelled, err := h.svc.Cancel(context.Background(), alice, exec.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCancelled, cancelled.Status)
}

func TestActionsRejectedOutsideWaitingStates(t *testing.T) {
	h := newHarness(t)
	exec := execute(t, h, domain.ExecuteRequest{})
	require.Equal(t, domain.StatusCompleted, exec.Status)

	_, err := h.svc.Confirm(context.Background(), alice, exec.ID)
	assert.ErrorIs(t, err, domain.ErrInvalidState)
	_, err = h.svc.Cancel(context.Background(), alice, exec.ID)
	assert.ErrorIs(t, err, domain.ErrInvalidState)
	_, err = h.svc.Override(context.Background(), alice, exec.ID)
	assert.ErrorIs(t, err, domain.ErrInvalidState)

	errorsSent := h.sink.find(domain.EventError)
	assert.Len(t, errorsSent, 3)
}

func TestActionRejectedWhileClaimed(t *testing.T) {
	h := newHarness(t)
	h.ai.plan.RequiresConfirmation = true
	exec := execute(t, h, domain.ExecuteRequest{})
	assert.False(t, h.svc.claims.isHeld(exec.ID))

	release, ok := h.svc.claims.acquire(exec.ID)
	require.True(t, ok)

	_, err := h.svc.Confirm(context.Background(), alice, exec.ID)
	assert.ErrorIs(t, err, domain.ErrInvalidState)
	_, err = h.svc.Cancel(context.Background(), alice, exec.ID)
	assert.ErrorIs(t, err, domain.ErrInvalidState)

	release()
	_, err = h.svc.Cancel(context.Background(), alice, exec.ID)
	assert.NoError(t, err)
}

func TestOwnershipAndAdminBypass(t *testing.T) {
	h := newHarness(t)
	h.ai.plan.RequiresConfirmation = true
	exec := execute(t, h, domain.ExecuteRequest{})

	_, err := h.svc.Get(context.Background(), bob, exec.ID)
	assert.ErrorIs(t, err, domain.ErrForbidden)
	_, err = h.svc.Confirm(context.Background(), bob, exec.ID)
	assert.ErrorIs(t, err, domain.ErrForbidden)
	_, err = h.svc.Execute(context.Background(), bob, domain.ExecuteRequest{ServerID: "srv-1", Prompt: "p"})
	assert.ErrorIs(t, err, domain.ErrForbidden)

	done, err := h.svc.Confirm(context.Background(), admin, exec.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, done.Status)
	assert.Equal(t, "root", h.audit.entries[0].UserID)
}

func TestExecuteRejectsBadRequests(t *testing.T) {
	h := newHarness(t)

	_, err := h.svc.Execute(context.Background(), alice, domain.ExecuteRequest{ServerID: "srv-1", Prompt: "  "})
	assert.Error(t, err)
	_, err = h.svc.Execute(context.Background(), alice, domain.ExecuteRequest{ServerID: "nope", Prompt: "p"})
	assert.ErrorIs(t, err, domain.ErrNotFound)

	list, err := h.svc.List(context.Background(), alice, domain.ExecutionFilter{})
	require.NoError(t, err)
	assert.Empty(t, list)
	assert.Len(t, h.sink.find(domain.EventError), 2)
}

func TestStopsAtFirstFailure(t *testing.T) {
	h := newHarness(t)
	h.ai.commands.Commands = []string{"ls /srv", "cat /srv/missing", "whoami"}
	h.conns.script("cat /srv/missing", exited(1, "cat: /srv/missing: No such file or directory"))

	exec := execute(t, h, domain.ExecuteRequest{})

	assert.Equal(t, domain.StatusFailed, exec.Status)
	assert.Equal(t, []int{0, 1}, exitCodes(exec))
	assert.Equal(t, []string{"ls /srv", "cat /srv/missing"}, h.conns.ran())
	assert.Contains(t, exec.Output, "No such file or directory")
	assert.Equal(t, []string{domain.AuditExecutionFailed}, h.audit.actions())

	complete := h.sink.find(domain.EventComplete)[0].Data.(domain.CompletePayload)
	assert.False(t, complete.Success)

	var stderr []string
	for _, out := range h.sink.outputs() {
		if out.Type == domain.StreamStderr {
			stderr = append(stderr, out.Content)
		}
	}
	assert.Equal(t, []string{"cat: /srv/missing: No such file or directory"}, stderr)
}

func TestReconnectRetriesSameCommand(t *testing.T) {
	h := newHarness(t)
	h.ai.commands.Commands = []string{"df -h", "uptime"}
	h.conns.script("df -h", lost(), lost(), succeeded("/dev/sda1 40G"))

	exec := execute(t, h, domain.ExecuteRequest{})

	assert.Equal(t, domain.StatusCompleted, exec.Status)
	assert.Equal(t, []int{0, 0}, exitCodes(exec))
	assert.Equal(t, []string{"df -h", "df -h", "df -h", "uptime"}, h.conns.ran())
	assert.Equal(t, []time.Duration{domain.ReconnectInterval, domain.ReconnectInterval}, h.sleeps)
	assert.Equal(t, 2, h.conns.disconnects)
	assert.Equal(t, 2, h.metrics.reconnects)

	reconnecting := h.sink.find(domain.EventReconnecting)
	require.Len(t, reconnecting, 2)
	first := reconnecting[0].Data.(domain.ReconnectingPayload)
	assert.Equal(t, 1, first.Attempt)
	assert.Equal(t, domain.ReconnectAttempts, first.MaxAttempts)
	assert.Len(t, h.sink.find(domain.EventReconnected), 1)
	assert.Empty(t, h.sink.find(domain.EventReconnectFailed))
}

func TestReconnectExhaustion(t *testing.T) {
	h := newHarness(t)
	h.ai.commands.Commands = []string{"uptime", "whoami"}
	h.conns.script("uptime", lost())

	exec := execute(t, h, domain.ExecuteRequest{})

	assert.Equal(t, domain.StatusFailed, exec.Status)
	assert.Equal(t, []int{-1}, exitCodes(exec))
	assert.Contains(t, exec.Output, reconnectFailedMessage)
	assert.Len(t, h.sink.find(domain.EventReconnecting), domain.ReconnectAttempts)
	assert.Len(t, h.sink.find(domain.EventReconnectFailed), 1)
	assert.Len(t, h.sleeps, domain.ReconnectAttempts)
	assert.Equal(t, domain.ReconnectAttempts, h.conns.disconnects)
	assert.NotContains(t, h.conns.ran(), "whoami")
}

func TestPlanningFailureIsReportedVerbatim(t *testing.T) {
	h := newHarness(t)
	h.ai.planErr = errors.New("quota exceeded")

	exec, err := h.svc.Execute(context.Background(), alice, domain.ExecuteRequest{ServerID: "srv-1", Prompt: "p"})
	require.Error(t, err)
	var aiErr *domain.AICapabilityError
	assert.True(t, errors.As(err, &aiErr))

	require.NotNil(t, exec)
	assert.Equal(t, domain.StatusFailed, exec.Status)
	assert.Equal(t, "quota exceeded", exec.Error)
	assert.Equal(t, domain.StatusFailed, h.store.statusOf(exec.ID))
	stored, err := h.store.Get(context.Background(), exec.ID)
	require.NoError(t, err)
	assert.Equal(t, "quota exceeded", stored.Error)

	sent := h.sink.find(domain.EventError)
	require.Len(t, sent, 1)
	assert.Equal(t, domain.ErrorPayload{ExecutionID: exec.ID, Message: "planner: quota exceeded"}, sent[0].Data)
	assert.Empty(t, h.sink.violations)
}

func TestAnalysisFailureStillCompletes(t *testing.T) {
	h := newHarness(t)
	h.ai.analysisErr = errors.New("provider down")

	exec := execute(t, h, domain.ExecuteRequest{})

	assert.Equal(t, domain.StatusCompleted, exec.Status)
	payload := h.sink.find(domain.EventComplete)[0].Data.(domain.CompletePayload)
	assert.True(t, payload.Success)
	assert.True(t, strings.HasPrefix(payload.Analysis.Summary, "Result analysis unavailable"))
}

func TestUnknownDistroWhenProbeFails(t *testing.T) {
	h := newHarness(t)
	h.conns.script(distroProbe, lost())

	execute(t, h, domain.ExecuteRequest{})
	assert.Equal(t, "Host: 10.0.0.1, OS: Linux (unknown)", h.ai.serverInfo)
}

func TestListScopesToOwner(t *testing.T) {
	h := newHarness(t)
	execute(t, h, domain.ExecuteRequest{})
	execute(t, h, domain.ExecuteRequest{})

	mine, err := h.svc.List(context.Background(), alice, domain.ExecutionFilter{UserID: "someone-else"})
	require.NoError(t, err)
	assert.Len(t, mine, 2)

	theirs, err := h.svc.List(context.Background(), bob, domain.ExecutionFilter{})
	require.NoError(t, err)
	assert.Empty(t, theirs)

	all, err := h.svc.List(context.Background(), admin, domain.ExecutionFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestAuditTrail(t *testing.T) {
	h := newHarness(t)
	exec := execute(t, h, domain.ExecuteRequest{})

	entries, err := h.svc.AuditTrail(context.Background(), alice, exec.ID)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, domain.AuditExecutionCompleted, entries[0].Action)

	_, err = h.svc.AuditTrail(context.Background(), bob, exec.ID)
	assert.ErrorIs(t, err, domain.ErrForbidden)
}

func TestChat(t *testing.T) {
	h := newHarness(t)
	h.ai.chatReply = "Use df -h."

	reply, err := h.svc.Chat(context.Background(), alice, "how do I check disk space?", "srv-1")
	require.NoError(t, err)
	assert.Equal(t, "Use df -h.", reply)
	assert.Equal(t, "Server: web-1 (10.0.0.1)", h.ai.chatContext)

	sent := h.sink.find(domain.EventChatResponse)
	require.Len(t, sent, 1)
	assert.Equal(t, domain.ChatPayload{Message: "Use df -h."}, sent[0].Data)

	_, err = h.svc.Chat(context.Background(), bob, "hi", "srv-1")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = h.svc.Chat(context.Background(), alice, "hi", "")
	require.NoError(t, err)
	assert.Empty(t, h.ai.chatContext)
}

func TestDistroFromOutput(t *testing.T) {
	tests := []struct {
		output string
		want   string
	}{
		{ubuntuRelease, "Ubuntu"},
		{"NAME=\"Alpine Linux\"\nID=alpine\n", "Alpine Linux"},
		{"Rocky Linux release 9.3 (Blue Onyx)", "Rocky Linux"},
		{"Red Hat Enterprise Linux release 8.9", "RHEL"},
		{"NAME=\"Arch Linux\"\nID=arch\n", "Arch Linux"},
		{"Linux builder 6.1.0 #1 SMP aarch64 GNU/Linux", domain.UnknownDistro},
		{"NAME=\"Gentoo\"\nPRETTY_NAME=\"Gentoo Linux\"\n", "Gentoo Linux"},
		{"", domain.UnknownDistro},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, DistroFromOutput(tt.output), tt.output)
	}
}

func TestClaimReleaseIsIdempotent(t *testing.T) {
	claims := newClaimSet()

	release, ok := claims.acquire("e1")
	require.True(t, ok)
	_, ok = claims.acquire("e1")
	assert.False(t, ok)

	release()
	second, ok := claims.acquire("e1")
	require.True(t, ok)
	release()
	assert.True(t, claims.isHeld("e1"))
	second()
	assert.False(t, claims.isHeld("e1"))
}
