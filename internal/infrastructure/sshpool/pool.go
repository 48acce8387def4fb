// Package sshpool keeps at most one live SSH session per server id and hides
// transient network failure from callers.
package sshpool

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/doeshing/opsai/internal/domain"
	"github.com/doeshing/opsai/internal/pkg/timeutil"
	"github.com/doeshing/opsai/internal/ports"
)

// Options tunes pool timing. Zero values fall back to the domain defaults.
type Options struct {
	ConnectTimeout time.Duration
	TestTimeout    time.Duration
	HealthTimeout  time.Duration
	IdleTimeout    time.Duration
	SweepInterval  time.Duration
	MaxAttempts    int
	BaseDelay      time.Duration

	Sleep timeutil.SleepFunc
	Now   func() time.Time
}

func (o Options) withDefaults() Options {
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = domain.DefaultConnectTimeout
	}
	if o.TestTimeout <= 0 {
		o.TestTimeout = domain.DefaultTestTimeout
	}
	if o.HealthTimeout <= 0 {
		o.HealthTimeout = domain.HealthCheckTimeout
	}
	if o.IdleTimeout <= 0 {
		o.IdleTimeout = domain.IdleTimeout
	}
	if o.SweepInterval <= 0 {
		o.SweepInterval = domain.SweepInterval
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = domain.MaxConnectAttempts
	}
	if o.BaseDelay <= 0 {
		o.BaseDelay = domain.ConnectBaseDelay
	}
	if o.Sleep == nil {
		o.Sleep = timeutil.Sleep
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

// Pool implements ports.ConnectionManager.
type Pool struct {
	dialer Dialer
	opts   Options
	logger ports.Logger

	mu    sync.Mutex
	slots map[string]*slot

	startOnce sync.Once
	closeOnce sync.Once
	stop      chan struct{}
	stopped   chan struct{}
}

// slot serializes establishment, health checks and eviction for one server id.
// Commands run outside connMu so one slow command never blocks the sweep.
type slot struct {
	connMu sync.Mutex

	mu    sync.Mutex
	entry *entry

	inUse atomic.Int32
}

type entry struct {
	session    Session
	creds      domain.ServerCredentials
	lastUsedAt time.Time
	retryCount int
}

// New builds a pool. Call Start to run the idle sweep.
func New(dialer Dialer, opts Options, logger ports.Logger) *Pool {
	return &Pool{
		dialer:  dialer,
		opts:    opts.withDefaults(),
		logger:  logger,
		slots:   make(map[string]*slot),
		stop:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
}

// Start launches the background idle sweep.
func (p *Pool) Start() {
	p.startOnce.Do(func() {
		go p.sweepLoop()
	})
}

// Close stops the sweep and disconnects every session.
func (p *Pool) Close() error {
	p.closeOnce.Do(func() {
		close(p.stop)
		p.startOnce.Do(func() { close(p.stopped) })
		<-p.stopped
		p.DisconnectAll()
	})
	return nil
}

// Connect returns a healthy session for serverID, reusing the pooled one when
// it answers the health probe and dialing a new one otherwise.
func (p *Pool) Connect(ctx context.Context, serverID string, creds domain.ServerCredentials) (Session, error) {
	s, session, err := p.acquire(ctx, serverID, creds)
	if err != nil {
		return nil, err
	}
	s.inUse.Add(-1)
	return session, nil
}

// acquire is Connect that leaves the slot marked in use. Callers must release.
func (p *Pool) acquire(ctx context.Context, serverID string, creds domain.ServerCredentials) (*slot, Session, error) {
	s := p.slot(serverID)
	s.connMu.Lock()
	defer s.connMu.Unlock()

	if current := s.current(); current != nil {
		if p.healthy(ctx, current.session) {
			s.touch(p.opts.Now())
			s.inUse.Add(1)
			return s, current.session, nil
		}
		p.warn("pooled session unhealthy, reconnecting", serverID, nil)
		s.clear(current.session)
		_ = current.session.Close()
	}

	session, attempts, err := p.dialWithRetry(ctx, creds)
	if err != nil {
		return nil, nil, err
	}
	s.set(&entry{
		session:    session,
		creds:      creds,
		lastUsedAt: p.opts.Now(),
		retryCount: attempts - 1,
	})
	s.inUse.Add(1)
	p.info("ssh connected", map[string]interface{}{"server_id": serverID, "host": creds.Host, "attempt": attempts})
	return s, session, nil
}

func (p *Pool) release(s *slot) {
	s.touch(p.opts.Now())
	s.inUse.Add(-1)
}

func (p *Pool) dialWithRetry(ctx context.Context, creds domain.ServerCredentials) (Session, int, error) {
	var lastErr error
	for attempt := 0; attempt < p.opts.MaxAttempts; attempt++ {
		session, err := p.dialer.Dial(ctx, creds, p.opts.ConnectTimeout)
		if err == nil {
			return session, attempt + 1, nil
		}
		lastErr = err
		if attempt == p.opts.MaxAttempts-1 {
			break
		}

		delay := p.opts.BaseDelay * time.Duration(1<<uint(attempt))
		p.warn("ssh connection failed, retrying", "", map[string]interface{}{
			"host":         creds.Host,
			"attempt":      attempt + 1,
			"max_attempts": p.opts.MaxAttempts,
			"delay":        delay.String(),
			"error":        err.Error(),
		})
		if err := p.opts.Sleep(ctx, delay); err != nil {
			return nil, attempt + 1, &domain.ConnectionError{Host: creds.Host, Attempts: attempt + 1, Err: err}
		}
	}
	if p.logger != nil {
		p.logger.Error("ssh connection giving up", lastErr, map[string]interface{}{"host": creds.Host, "attempts": p.opts.MaxAttempts})
	}
	return nil, p.opts.MaxAttempts, &domain.ConnectionError{Host: creds.Host, Attempts: p.opts.MaxAttempts, Err: lastErr}
}

func (p *Pool) healthy(ctx context.Context, session Session) bool {
	if !session.Alive() {
		return false
	}
	probeCtx, cancel := context.WithTimeout(ctx, p.opts.HealthTimeout)
	defer cancel()

	var out bytes.Buffer
	code, err := session.Run(probeCtx, domain.HealthCheckCommand, &out, io.Discard)
	if err != nil || code == nil || *code != 0 {
		return false
	}
	return strings.Contains(out.String(), domain.HealthCheckMarker)
}

// ExecuteCommand runs command on serverID and reports the outcome as data.
func (p *Pool) ExecuteCommand(ctx context.Context, serverID, command string, creds domain.ServerCredentials) domain.CommandResult {
	return p.ExecuteCommandStream(ctx, serverID, command, creds, nil)
}

// ExecuteCommandStream is ExecuteCommand that forwards output chunks to onChunk
// as they arrive. A connection-class run error disposes the session and the
// command is retried exactly once.
func (p *Pool) ExecuteCommandStream(ctx context.Context, serverID, command string, creds domain.ServerCredentials, onChunk func(domain.OutputChunk)) domain.CommandResult {
	s, session, err := p.acquire(ctx, serverID, creds)
	if err != nil {
		return domain.FailedResult("Connection failed: " + err.Error())
	}

	result, runErr := p.run(ctx, s, session, command, onChunk)
	if runErr == nil {
		return result
	}
	if !domain.IsConnectionError(runErr) {
		if p.logger != nil {
			p.logger.Error("command execution failed", runErr, map[string]interface{}{"server_id": serverID})
		}
		result.Stderr = joinOutput(result.Stderr, runErr.Error())
		result.ExitCode = domain.ExitCode(-1)
		result.Success = false
		return result
	}

	p.warn("connection error during command, reconnecting", serverID, map[string]interface{}{"error": runErr.Error()})
	p.discard(serverID, session)

	s, session, err = p.acquire(ctx, serverID, creds)
	if err != nil {
		return domain.FailedResult("Reconnection failed: " + err.Error())
	}
	result, runErr = p.run(ctx, s, session, command, onChunk)
	if runErr != nil {
		return domain.FailedResult("Reconnection failed: " + runErr.Error())
	}
	return result
}

func (p *Pool) run(ctx context.Context, s *slot, session Session, command string, onChunk func(domain.OutputChunk)) (domain.CommandResult, error) {
	defer p.release(s)

	var stdout, stderr bytes.Buffer
	var outW, errW io.Writer = &stdout, &stderr
	if onChunk != nil {
		outChunks := newChunkWriter(domain.StreamStdout, onChunk)
		errChunks := newChunkWriter(domain.StreamStderr, onChunk)
		defer outChunks.Flush()
		defer errChunks.Flush()
		outW = io.MultiWriter(&stdout, outChunks)
		errW = io.MultiWriter(&stderr, errChunks)
	}

	code, err := session.Run(ctx, remoteCommand(command), outW, errW)
	result := domain.CommandResult{
		Stdout:   normalizeOutput(stdout.String()),
		Stderr:   normalizeOutput(stderr.String()),
		ExitCode: code,
	}
	if err != nil {
		return result, err
	}
	result.Success = code != nil && *code == 0
	return result, nil
}

// discard drops session from the pool if it is still the current one.
func (p *Pool) discard(serverID string, session Session) {
	s := p.slot(serverID)
	s.connMu.Lock()
	defer s.connMu.Unlock()
	if s.clear(session) {
		_ = session.Close()
	}
}

// Disconnect closes and forgets the session for serverID. It is idempotent.
func (p *Pool) Disconnect(serverID string) {
	p.mu.Lock()
	s, ok := p.slots[serverID]
	p.mu.Unlock()
	if !ok {
		return
	}

	s.connMu.Lock()
	defer s.connMu.Unlock()
	if current := s.current(); current != nil {
		s.clear(current.session)
		if err := current.session.Close(); err != nil {
			p.warn("error closing session", serverID, map[string]interface{}{"error": err.Error()})
		}
		p.info("ssh disconnected", map[string]interface{}{"server_id": serverID})
	}
}

// DisconnectAll closes every pooled session.
func (p *Pool) DisconnectAll() {
	for _, id := range p.serverIDs() {
		p.Disconnect(id)
	}
}

// IsConnected reports whether a live session is pooled for serverID.
func (p *Pool) IsConnected(serverID string) bool {
	info, ok := p.Info(serverID)
	return ok && info.Connected
}

// Info describes the pooled session for serverID.
func (p *Pool) Info(serverID string) (domain.ConnectionInfo, bool) {
	p.mu.Lock()
	s, ok := p.slots[serverID]
	p.mu.Unlock()
	if !ok {
		return domain.ConnectionInfo{}, false
	}
	current := s.current()
	if current == nil {
		return domain.ConnectionInfo{}, false
	}
	return domain.ConnectionInfo{
		ServerID:   serverID,
		Host:       current.creds.Host,
		Connected:  current.session.Alive(),
		LastUsedAt: current.lastUsedAt,
		Idle:       p.opts.Now().Sub(current.lastUsedAt),
		RetryCount: current.retryCount,
	}, true
}

// Connections lists every pooled session sorted by server id.
func (p *Pool) Connections() []domain.ConnectionInfo {
	var infos []domain.ConnectionInfo
	for _, id := range p.serverIDs() {
		if info, ok := p.Info(id); ok {
			infos = append(infos, info)
		}
	}
	return infos
}

// ActiveCount returns the number of pooled sessions.
func (p *Pool) ActiveCount() int {
	count := 0
	for _, id := range p.serverIDs() {
		if _, ok := p.Info(id); ok {
			count++
		}
	}
	return count
}

// TestConnection dials once without pooling and reports the remote hostname.
func (p *Pool) TestConnection(ctx context.Context, creds domain.ServerCredentials) domain.ConnectionTestResult {
	session, err := p.dialer.Dial(ctx, creds, p.opts.TestTimeout)
	if err != nil {
		if p.logger != nil {
			p.logger.Error("ssh connection test failed", err, map[string]interface{}{"host": creds.Host})
		}
		return domain.ConnectionTestResult{Success: false, Message: connectionTestMessage(err)}
	}
	defer session.Close()

	var out bytes.Buffer
	runCtx, cancel := context.WithTimeout(ctx, p.opts.TestTimeout)
	defer cancel()
	if _, err := session.Run(runCtx, "hostname", &out, io.Discard); err != nil {
		return domain.ConnectionTestResult{Success: false, Message: connectionTestMessage(err)}
	}
	hostname := strings.TrimSpace(out.String())
	return domain.ConnectionTestResult{
		Success:  true,
		Message:  fmt.Sprintf("Successfully connected to %s", hostname),
		Hostname: hostname,
	}
}

func connectionTestMessage(err error) string {
	if msg := err.Error(); msg != "" {
		return msg
	}
	return "Connection failed"
}

func (p *Pool) sweepLoop() {
	defer close(p.stopped)
	ticker := time.NewTicker(p.opts.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-p.stop:
			return
		case <-ticker.C:
			p.sweep()
		}
	}
}

// sweep evicts sessions idle longer than IdleTimeout. Slots that are busy
// connecting or running a command are skipped until the next tick.
func (p *Pool) sweep() {
	now := p.opts.Now()
	for _, id := range p.serverIDs() {
		p.mu.Lock()
		s := p.slots[id]
		p.mu.Unlock()
		if s == nil || !s.connMu.TryLock() {
			continue
		}
		current := s.current()
		if current != nil && s.inUse.Load() == 0 && now.Sub(current.lastUsedAt) > p.opts.IdleTimeout {
			s.clear(current.session)
			_ = current.session.Close()
			p.info("closed idle connection", map[string]interface{}{"server_id": id})
		}
		s.connMu.Unlock()
	}
}

func (p *Pool) slot(serverID string) *slot {
	p.mu.Lock()
	defer p.mu.Unlock()
	s, ok := p.slots[serverID]
	if !ok {
		s = &slot{}
		p.slots[serverID] = s
	}
	return s
}

func (p *Pool) serverIDs() []string {
	p.mu.Lock()
	ids := make([]string, 0, len(p.slots))
	for id := range p.slots {
		ids = append(ids, id)
	}
	p.mu.Unlock()
	sort.Strings(ids)
	return ids
}

func (p *Pool) info(msg string, fields map[string]interface{}) {
	if p.logger != nil {
		p.logger.Info(msg, fields)
	}
}

func (p *Pool) warn(msg, serverID string, fields map[string]interface{}) {
	if p.logger == nil {
		return
	}
	if fields == nil {
		fields = map[string]interface{}{}
	}
	if serverID != "" {
		fields["server_id"] = serverID
	}
	p.logger.Warn(msg, fields)
}

func (s *slot) current() *entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.entry
}

func (s *slot) set(e *entry) {
	s.mu.Lock()
	s.entry = e
	s.mu.Unlock()
}

// clear forgets the entry if it still holds session.
func (s *slot) clear(session Session) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.entry == nil || s.entry.session != session {
		return false
	}
	s.entry = nil
	return true
}

func (s *slot) touch(now time.Time) {
	s.mu.Lock()
	if s.entry != nil {
		s.entry.lastUsedAt = now
	}
	s.mu.Unlock()
}

func remoteCommand(command string) string {
	return "cd " + domain.RemoteWorkingDir + " && " + command
}

func normalizeOutput(out string) string {
	out = strings.ReplaceAll(out, "\r\n", "\n")
	return strings.TrimRight(out, "\n")
}

func joinOutput(parts ...string) string {
	var kept []string
	for _, part := range parts {
		if part != "" {
			kept = append(kept, part)
		}
	}
	return strings.Join(kept, "\n")
}

var _ ports.ConnectionManager = (*Pool)(nil)
