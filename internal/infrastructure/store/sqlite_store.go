// Package store persists executions and audit entries in SQLite.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/doeshing/opsai/internal/domain"
	"github.com/doeshing/opsai/internal/ports"
)

// timeLayout is fixed width so text ordering matches time ordering.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// MemoryPath opens a private in-memory database.
const MemoryPath = ":memory:"

const schema = `
CREATE TABLE IF NOT EXISTS executions (
	id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL,
	server_id TEXT NOT NULL,
	prompt TEXT NOT NULL,
	plan TEXT,
	commands TEXT NOT NULL DEFAULT '[]',
	risk_level TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL,
	dry_run INTEGER NOT NULL DEFAULT 0,
	confirmed INTEGER NOT NULL DEFAULT 0,
	output TEXT NOT NULL DEFAULT '',
	exit_codes TEXT NOT NULL DEFAULT '[]',
	error TEXT NOT NULL DEFAULT '',
	created_at TEXT NOT NULL,
	executed_at TEXT,
	completed_at TEXT,
	duration_ms INTEGER
);
CREATE INDEX IF NOT EXISTS idx_executions_user ON executions (user_id, created_at);
CREATE INDEX IF NOT EXISTS idx_executions_server ON executions (server_id, created_at);
CREATE TABLE IF NOT EXISTS audit_logs (
	id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL,
	action TEXT NOT NULL,
	resource TEXT NOT NULL,
	resource_id TEXT NOT NULL DEFAULT '',
	execution_id TEXT NOT NULL DEFAULT '',
	details TEXT NOT NULL DEFAULT '{}',
	created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_audit_execution ON audit_logs (execution_id, created_at);
`

const executionColumns = `id, user_id, server_id, prompt, plan, commands, risk_level, status, dry_run,
	confirmed, output, exit_codes, error, created_at, executed_at, completed_at, duration_ms`

// SQLiteStore implements ports.ExecutionStore, ports.AuditLog and ports.AuditReader.
type SQLiteStore struct {
	db   *sql.DB
	path string
	now  func() time.Time
}

// Open creates (or opens) the database at path and applies the schema.
func Open(path string) (*SQLiteStore, error) {
	if path != MemoryPath {
		if err := os.MkdirAll(filepath.Dir(path), domain.DirectoryPermissions); err != nil {
			return nil, fmt.Errorf("create store directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	// SQLite serializes writers anyway; one connection also keeps :memory: shared.
	db.SetMaxOpenConns(1)

	store := &SQLiteStore{db: db, path: path, now: time.Now}
	if err := store.init(); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

func (s *SQLiteStore) init() error {
	if _, err := s.db.Exec(`PRAGMA busy_timeout = 5000;`); err != nil {
		return fmt.Errorf("configure sqlite: %w", err)
	}
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// Create inserts a new execution, assigning an id and creation time if unset.
func (s *SQLiteStore) Create(ctx context.Context, exec *domain.Execution) error {
	if exec.ID == "" {
		exec.ID = uuid.NewString()
	}
	if exec.CreatedAt.IsZero() {
		exec.CreatedAt = s.now()
	}
	row, err := toRow(exec)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO executions (`+executionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		row.id, row.userID, row.serverID, row.prompt, row.plan, row.commands, row.riskLevel, row.status,
		row.dryRun, row.confirmed, row.output, row.exitCodes, row.err, row.createdAt,
		row.executedAt, row.completedAt, row.durationMS,
	)
	if err != nil {
		return fmt.Errorf("insert execution: %w", err)
	}
	return nil
}

// Update overwrites the mutable fields of an existing execution.
func (s *SQLiteStore) Update(ctx context.Context, exec *domain.Execution) error {
	row, err := toRow(exec)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `UPDATE executions SET
		plan = ?, commands = ?, risk_level = ?, status = ?, dry_run = ?, confirmed = ?, output = ?,
		exit_codes = ?, error = ?, executed_at = ?, completed_at = ?, duration_ms = ?
		WHERE id = ?`,
		row.plan, row.commands, row.riskLevel, row.status, row.dryRun, row.confirmed, row.output,
		row.exitCodes, row.err, row.executedAt, row.completedAt, row.durationMS,
		row.id,
	)
	if err != nil {
		return fmt.Errorf("update execution: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("execution %s: %w", exec.ID, domain.ErrNotFound)
	}
	return nil
}

// Get loads one execution.
func (s *SQLiteStore) Get(ctx context.Context, id string) (*domain.Execution, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+executionColumns+` FROM executions WHERE id = ?`, id)
	exec, err := scanExecution(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("execution %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return exec, nil
}

// List returns executions newest first. An empty UserID lists every user.
func (s *SQLiteStore) List(ctx context.Context, filter domain.ExecutionFilter) ([]domain.Execution, error) {
	builder := strings.Builder{}
	builder.WriteString(`SELECT ` + executionColumns + ` FROM executions`)
	var (
		clauses []string
		args    []interface{}
	)
	if filter.UserID != "" {
		clauses = append(clauses, "user_id = ?")
		args = append(args, filter.UserID)
	}
	if filter.ServerID != "" {
		clauses = append(clauses, "server_id = ?")
		args = append(args, filter.ServerID)
	}
	if len(clauses) > 0 {
		builder.WriteString(" WHERE " + strings.Join(clauses, " AND "))
	}
	builder.WriteString(" ORDER BY created_at DESC LIMIT ?")
	args = append(args, listLimit(filter.Limit))

	rows, err := s.db.QueryContext(ctx, builder.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("list executions: %w", err)
	}
	defer rows.Close()

	executions := []domain.Execution{}
	for rows.Next() {
		exec, err := scanExecution(rows)
		if err != nil {
			return nil, err
		}
		executions = append(executions, *exec)
	}
	return executions, rows.Err()
}

// Log appends an audit entry.
func (s *SQLiteStore) Log(ctx context.Context, entry domain.AuditEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = s.now()
	}
	details, err := json.Marshal(entry.Details)
	if err != nil {
		return fmt.Errorf("encode audit details: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO audit_logs
		(id, user_id, action, resource, resource_id, execution_id, details, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.UserID, entry.Action, entry.Resource, entry.ResourceID, entry.ExecutionID,
		string(details), formatTime(entry.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}
	return nil
}

// AuditForExecution returns the audit trail of one execution, oldest first.
func (s *SQLiteStore) AuditForExecution(ctx context.Context, executionID string) ([]domain.AuditEntry, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, user_id, action, resource, resource_id, execution_id, details, created_at
		FROM audit_logs WHERE execution_id = ? ORDER BY created_at ASC`, executionID)
	if err != nil {
		return nil, fmt.Errorf("list audit entries: %w", err)
	}
	defer rows.Close()

	entries := []domain.AuditEntry{}
	for rows.Next() {
		var (
			entry   domain.AuditEntry
			details string
			created string
		)
		if err := rows.Scan(&entry.ID, &entry.UserID, &entry.Action, &entry.Resource, &entry.ResourceID, &entry.ExecutionID, &details, &created); err != nil {
			return nil, err
		}
		if details != "" && details != "null" {
			if err := json.Unmarshal([]byte(details), &entry.Details); err != nil {
				return nil, fmt.Errorf("decode audit details: %w", err)
			}
		}
		entry.CreatedAt = parseTime(created)
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// Ping checks the database is usable.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Path returns the sqlite database path.
func (s *SQLiteStore) Path() string {
	return s.path
}

// Close releases the database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func listLimit(limit int) int {
	switch {
	case limit <= 0:
		return domain.DefaultExecutionListLimit
	case limit > domain.MaxExecutionListLimit:
		return domain.MaxExecutionListLimit
	default:
		return limit
	}
}

var (
	_ ports.ExecutionStore = (*SQLiteStore)(nil)
	_ ports.AuditLog       = (*SQLiteStore)(nil)
	_ ports.AuditReader    = (*SQLiteStore)(nil)
)
