package domain

import "time"

// File permissions constants
const (
	// DirectoryPermissions is the default permission for directories (rwxr-xr-x)
	DirectoryPermissions = 0o755
	// SecureFilePermissions is the permission for sensitive files (rw-------)
	SecureFilePermissions = 0o600
)

// SSH connection pool constants
const (
	// DefaultConnectTimeout bounds SSH handshake readiness for pooled sessions
	DefaultConnectTimeout = 30 * time.Second
	// DefaultTestTimeout bounds SSH readiness for one-shot connectivity tests
	DefaultTestTimeout = 10 * time.Second
	// HealthCheckTimeout caps the echo round-trip used to probe a pooled session
	HealthCheckTimeout = 5 * time.Second
	// HealthCheckCommand is the trivial round-trip command
	HealthCheckCommand = "echo ok"
	// HealthCheckMarker must appear in the health check output
	HealthCheckMarker = "ok"
	// MaxConnectAttempts is the number of dial attempts before giving up
	MaxConnectAttempts = 3
	// ConnectBaseDelay is the first backoff delay, doubled per attempt
	ConnectBaseDelay = time.Second
	// IdleTimeout is how long an unused session survives
	IdleTimeout = 5 * time.Minute
	// SweepInterval is how often idle sessions are evicted
	SweepInterval = 30 * time.Second
	// KeepaliveInterval is how often a keepalive request is sent
	KeepaliveInterval = 10 * time.Second
	// KeepaliveCountMax is the number of missed keepalives before the session is dropped
	KeepaliveCountMax = 3
	// RemoteWorkingDir is where every command runs
	RemoteWorkingDir = "/"
)

// Execution constants
const (
	// ReconnectAttempts bounds the visible mid-run reconnect protocol
	ReconnectAttempts = 6
	// ReconnectInterval is the wait between reconnect attempts
	ReconnectInterval = 10 * time.Second
	// UnknownDistro is reported when the OS probe gives nothing usable
	UnknownDistro = "Linux (unknown)"
)

// Timeout and duration constants
const (
	// DefaultHTTPClientTimeout is the timeout for HTTP client requests
	DefaultHTTPClientTimeout = 60 * time.Second
	// DefaultProbeTimeout bounds provider reachability checks
	DefaultProbeTimeout = 3 * time.Second
)

// Limit constants
const (
	// DefaultExecutionListLimit is the default number of executions returned
	DefaultExecutionListLimit = 50
	// MaxExecutionListLimit caps list requests
	MaxExecutionListLimit = 500
	// DefaultMaxTokens is the default maximum number of tokens
	DefaultMaxTokens = 4096
)

// Time formats
const (
	// TimestampFormat is the standard timestamp format
	TimestampFormat = time.RFC3339Nano
)
