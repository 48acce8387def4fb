package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/doeshing/opsai/internal/domain"
	"github.com/doeshing/opsai/internal/infrastructure/security"
	"github.com/doeshing/opsai/internal/pkg/logger"
)

const ubuntuRelease = "NAME=\"Ubuntu\"\nPRETTY_NAME=\"Ubuntu 24.04 LTS\"\n"

func succeeded(stdout string) domain.CommandResult {
	return domain.CommandResult{Stdout: stdout, ExitCode: domain.ExitCode(0), Success: true}
}

func exited(code int, stderr string) domain.CommandResult {
	return domain.CommandResult{Stderr: stderr, ExitCode: domain.ExitCode(code)}
}

func lost() domain.CommandResult {
	return domain.FailedResult("Connection failed: read tcp: connection reset by peer (ECONNRESET)")
}

// stubConnections replays scripted results per command. The last scripted
// result repeats; unscripted commands succeed with "out:<command>".
type stubConnections struct {
	mu          sync.Mutex
	results     map[string][]domain.CommandResult
	commands    []string
	disconnects int
}

func newStubConnections() *stubConnections {
	return &stubConnections{results: map[string][]domain.CommandResult{
		distroProbe: {succeeded(ubuntuRelease)},
	}}
}

func (c *stubConnections) script(command string, results ...domain.CommandResult) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.results[command] = results
}

func (c *stubConnections) next(command string) domain.CommandResult {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.commands = append(c.commands, command)
	queue, ok := c.results[command]
	if !ok || len(queue) == 0 {
		return domain.CommandResult{Stdout: "out:" + command, ExitCode: domain.ExitCode(0), Success: true}
	}
	result := queue[0]
	if len(queue) > 1 {
		c.results[command] = queue[1:]
	}
	return result
}

func (c *stubConnections) ran() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []string
	for _, command := range c.commands {
		if command != distroProbe {
			out = append(out, command)
		}
	}
	return out
}

func (c *stubConnections) ExecuteCommand(_ context.Context, _ string, command string, _ domain.ServerCredentials) domain.CommandResult {
	return c.next(command)
}

func (c *stubConnections) ExecuteCommandStream(_ context.Context, _ string, command string, _ domain.ServerCredentials, onChunk func(domain.OutputChunk)) domain.CommandResult {
	result := c.next(command)
	if onChunk != nil && result.Success && result.Stdout != "" {
		onChunk(domain.OutputChunk{Stream: domain.StreamStdout, Data: result.Stdout})
	}
	return result
}

func (c *stubConnections) Disconnect(string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disconnects++
}

func (c *stubConnections) IsConnected(string) bool { return true }

func (c *stubConnections) TestConnection(context.Context, domain.ServerCredentials) domain.ConnectionTestResult {
	return domain.ConnectionTestResult{Success: true}
}

type stubAI struct {
	mu          sync.Mutex
	plan        domain.Plan
	commands    domain.CommandSet
	review      domain.SecurityReview
	analysis    domain.Analysis
	planErr     error
	analysisErr error
	chatReply   string
	calls       []string
	serverInfo  string
	chatContext string
	prompts     []string
}

func (a *stubAI) record(call string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls = append(a.calls, call)
}

func (a *stubAI) recordPrompt(prompt string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.prompts = append(a.prompts, prompt)
}

func (a *stubAI) CreatePlan(_ context.Context, _ string, serverInfo string) (domain.Plan, error) {
	a.record("plan")
	a.serverInfo = serverInfo
	if a.planErr != nil {
		return domain.Plan{}, &domain.AICapabilityError{Operation: "planner", Err: a.planErr}
	}
	return a.plan, nil
}

func (a *stubAI) GenerateCommands(_ context.Context, prompt string, _ domain.Plan, _ string) (domain.CommandSet, error) {
	a.record("commands")
	a.recordPrompt(prompt)
	return a.commands, nil
}

func (a *stubAI) ValidateSecurity(context.Context, []string) (domain.SecurityReview, error) {
	a.record("security")
	return a.review, nil
}

func (a *stubAI) AnalyzeResult(_ context.Context, prompt string, _ []string, _ string, _ []*int) (domain.Analysis, error) {
	a.record("analysis")
	a.recordPrompt(prompt)
	if a.analysisErr != nil {
		return domain.Analysis{}, a.analysisErr
	}
	return a.analysis, nil
}

func (a *stubAI) Chat(_ context.Context, _ string, serverInfo string) (string, error) {
	a.record("chat")
	a.chatContext = serverInfo
	return a.chatReply, nil
}

// memStore keeps copies so the service cannot mutate persisted state
// without calling Update.
type memStore struct {
	mu      sync.Mutex
	seq     int
	records map[string]domain.Execution
	history map[string][]domain.ExecutionStatus
}

func newMemStore() *memStore {
	return &memStore{records: map[string]domain.Execution{}, history: map[string][]domain.ExecutionStatus{}}
}

func (m *memStore) Create(_ context.Context, exec *domain.Execution) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if exec.ID == "" {
		m.seq++
		exec.ID = fmt.Sprintf("exec-%d", m.seq)
	}
	m.records[exec.ID] = *exec
	m.history[exec.ID] = append(m.history[exec.ID], exec.Status)
	return nil
}

func (m *memStore) Update(_ context.Context, exec *domain.Execution) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	prev, ok := m.records[exec.ID]
	if !ok {
		return domain.ErrNotFound
	}
	if prev.Status != exec.Status {
		m.history[exec.ID] = append(m.history[exec.ID], exec.Status)
	}
	m.records[exec.ID] = *exec
	return nil
}

func (m *memStore) Get(_ context.Context, id string) (*domain.Execution, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	exec, ok := m.records[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &exec, nil
}

func (m *memStore) List(_ context.Context, filter domain.ExecutionFilter) ([]domain.Execution, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []domain.Execution{}
	for _, exec := range m.records {
		if filter.UserID != "" && exec.UserID != filter.UserID {
			continue
		}
		out = append(out, exec)
	}
	return out, nil
}

func (m *memStore) statuses(id string) []domain.ExecutionStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.ExecutionStatus(nil), m.history[id]...)
}

func (m *memStore) statusOf(id string) domain.ExecutionStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.records[id].Status
}

type memAudit struct {
	mu      sync.Mutex
	entries []domain.AuditEntry
	err     error
}

func (a *memAudit) Log(_ context.Context, entry domain.AuditEntry) error {
	if a.err != nil {
		return a.err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = append(a.entries, entry)
	return nil
}

func (a *memAudit) AuditForExecution(_ context.Context, id string) ([]domain.AuditEntry, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []domain.AuditEntry
	for _, entry := range a.entries {
		if entry.ExecutionID == id {
			out = append(out, entry)
		}
	}
	return out, nil
}

func (a *memAudit) actions() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []string
	for _, entry := range a.entries {
		out = append(out, entry.Action)
	}
	return out
}

type stubCredentials struct {
	servers map[string]domain.Server
}

func (c stubCredentials) Resolve(_ context.Context, user domain.User, serverID string) (domain.Server, domain.ServerCredentials, error) {
	server, ok := c.servers[serverID]
	if !ok {
		return domain.Server{}, domain.ServerCredentials{}, domain.ErrNotFound
	}
	if !user.CanAccess(server.OwnerID) {
		return domain.Server{}, domain.ServerCredentials{}, domain.ErrForbidden
	}
	return server, domain.ServerCredentials{Host: server.Host, Port: 22, Username: "ops", AuthKind: domain.AuthPassword, Password: "pw"}, nil
}

func (c stubCredentials) List(_ context.Context, user domain.User) ([]domain.Server, error) {
	var out []domain.Server
	for _, server := range c.servers {
		if user.CanAccess(server.OwnerID) {
			out = append(out, server)
		}
	}
	return out, nil
}

// recordingSink captures events and checks that every status event matches
// what is already persisted.
type recordingSink struct {
	mu         sync.Mutex
	store      *memStore
	events     []domain.Event
	violations []string
}

func (r *recordingSink) Notify(event domain.Event) {
	if payload, ok := event.Data.(domain.StatusPayload); ok {
		if persisted := r.store.statusOf(payload.ExecutionID); persisted != payload.Status {
			r.mu.Lock()
			r.violations = append(r.violations, fmt.Sprintf("emitted %s while persisted %s", payload.Status, persisted))
			r.mu.Unlock()
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func (r *recordingSink) names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, event := range r.events {
		out = append(out, event.Name)
	}
	return out
}

func (r *recordingSink) find(name string) []domain.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Event
	for _, event := range r.events {
		if event.Name == name {
			out = append(out, event)
		}
	}
	return out
}

func (r *recordingSink) outputs() []domain.OutputPayload {
	var out []domain.OutputPayload
	for _, event := range r.find(domain.EventOutput) {
		out = append(out, event.Data.(domain.OutputPayload))
	}
	return out
}

type countingMetrics struct {
	mu         sync.Mutex
	finished   map[domain.ExecutionStatus]int
	commands   int
	reconnects int
}

func (m *countingMetrics) ExecutionFinished(status domain.ExecutionStatus) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.finished == nil {
		m.finished = map[domain.ExecutionStatus]int{}
	}
	m.finished[status]++
}

func (m *countingMetrics) CommandExecuted(bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.commands++
}

func (m *countingMetrics) ReconnectAttempt() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reconnects++
}

type harness struct {
	svc     *Service
	conns   *stubConnections
	ai      *stubAI
	store   *memStore
	audit   *memAudit
	sink    *recordingSink
	metrics *countingMetrics
	sleeps  []time.Duration
}

var (
	alice = domain.User{ID: "alice", Role: domain.RoleUser}
	bob   = domain.User{ID: "bob", Role: domain.RoleUser}
	admin = domain.User{ID: "root", Role: domain.RoleAdmin}
)

func newHarness(t *testing.T) *harness {
	t.Helper()
	validator, err := security.NewValidator("", logger.Nop{})
	require.NoError(t, err)

	h := &harness{
		conns: newStubConnections(),
		ai: &stubAI{
			plan:     domain.Plan{Objective: "inspect", Steps: []string{"list"}},
			commands: domain.CommandSet{Commands: []string{"ls -la", "whoami"}, Explanation: "look around"},
			review:   domain.SecurityReview{IsApproved: true, RiskLevel: "LOW"},
			analysis: domain.Analysis{Success: true, Summary: "all good"},
		},
		store:   newMemStore(),
		audit:   &memAudit{},
		metrics: &countingMetrics{},
	}
	h.sink = &recordingSink{store: h.store}

	clock := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	var clockMu sync.Mutex
	now := func() time.Time {
		clockMu.Lock()
		defer clockMu.Unlock()
		clock = clock.Add(250 * time.Millisecond)
		return clock
	}

	h.svc, err = New(Dependencies{
		Connections: h.conns,
		Validator:   validator,
		AI:          h.ai,
		Store:       h.store,
		Audit:       h.audit,
		AuditReader: h.audit,
		Credentials: stubCredentials{servers: map[string]domain.Server{
			"srv-1": {ID: "srv-1", Name: "web-1", Host: "10.0.0.1", OwnerID: "alice"},
		}},
		Sink:    h.sink,
		Metrics: h.metrics,
		Logger:  logger.Nop{},
	}, Options{
		Sleep: func(_ context.Context, d time.Duration) error {
			h.sleeps = append(h.sleeps, d)
			return nil
		},
		Now: now,
	})
	require.NoError(t, err)
	return h
}

func exitCodes(exec *domain.Execution) []int {
	out := make([]int, 0, len(exec.ExitCodes))
	for _, code := range exec.ExitCodes {
		if code == nil {
			out = append(out, -999)
			continue
		}
		out = append(out, *code)
	}
	return out
}
