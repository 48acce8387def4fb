package domain

import "time"

// AuthKind selects how a server is authenticated.
type AuthKind string

const (
	AuthPassword AuthKind = "password"
	AuthKey      AuthKind = "key"
)

// ServerCredentials are decrypted per call and never mutated by the core.
type ServerCredentials struct {
	Host       string
	Port       int
	Username   string
	AuthKind   AuthKind
	Password   string
	PrivateKey string
	Passphrase string
}

// Server is an inventory record a user may operate on.
type Server struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Username string `json:"username"`
	OwnerID  string `json:"ownerId"`
}

// Role is the caller's authorization role.
type Role string

const (
	RoleUser  Role = "USER"
	RoleAdmin Role = "ADMIN"
)

// User identifies the caller of an orchestrator action.
type User struct {
	ID   string
	Role Role
}

// IsAdmin reports whether the user bypasses ownership checks.
func (u User) IsAdmin() bool {
	return u.Role == RoleAdmin
}

// CanAccess reports whether u may act on a resource owned by ownerID.
// Admins bypass ownership on every path: credentials, executions and overrides.
func (u User) CanAccess(ownerID string) bool {
	return u.IsAdmin() || (u.ID != "" && u.ID == ownerID)
}

// ConnectionTestResult is the outcome of a one-shot connectivity test.
type ConnectionTestResult struct {
	Success  bool   `json:"success"`
	Message  string `json:"message"`
	Hostname string `json:"hostname,omitempty"`
}

// ConnectionInfo is a read-only view of a pooled session.
type ConnectionInfo struct {
	ServerID   string        `json:"serverId"`
	Host       string        `json:"host"`
	Connected  bool          `json:"connected"`
	LastUsedAt time.Time     `json:"lastUsedAt"`
	Idle       time.Duration `json:"idle"`
	RetryCount int           `json:"retryCount"`
}
