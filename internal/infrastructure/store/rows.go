package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/doeshing/opsai/internal/domain"
)

// executionRow is the column encoding of an execution.
type executionRow struct {
	id          string
	userID      string
	serverID    string
	prompt      string
	plan        sql.NullString
	commands    string
	riskLevel   string
	status      string
	dryRun      int
	confirmed   int
	output      string
	exitCodes   string
	err         string
	createdAt   string
	executedAt  sql.NullString
	completedAt sql.NullString
	durationMS  sql.NullInt64
}

func toRow(exec *domain.Execution) (executionRow, error) {
	row := executionRow{
		id:        exec.ID,
		userID:    exec.UserID,
		serverID:  exec.ServerID,
		prompt:    exec.Prompt,
		riskLevel: string(exec.RiskLevel),
		status:    string(exec.Status),
		dryRun:    boolToInt(exec.DryRun),
		confirmed: boolToInt(exec.Confirmed),
		output:    exec.Output,
		err:       exec.Error,
		createdAt: formatTime(exec.CreatedAt),
	}

	if exec.Plan != nil {
		b, err := json.Marshal(exec.Plan)
		if err != nil {
			return row, fmt.Errorf("encode plan: %w", err)
		}
		row.plan = sql.NullString{String: string(b), Valid: true}
	}

	commands := exec.Commands
	if commands == nil {
		commands = []string{}
	}
	b, err := json.Marshal(commands)
	if err != nil {
		return row, fmt.Errorf("encode commands: %w", err)
	}
	row.commands = string(b)

	exitCodes := exec.ExitCodes
	if exitCodes == nil {
		exitCodes = []*int{}
	}
	b, err = json.Marshal(exitCodes)
	if err != nil {
		return row, fmt.Errorf("encode exit codes: %w", err)
	}
	row.exitCodes = string(b)

	row.executedAt = nullTime(exec.ExecutedAt)
	row.completedAt = nullTime(exec.CompletedAt)
	if exec.Duration != nil {
		row.durationMS = sql.NullInt64{Int64: exec.Duration.Milliseconds(), Valid: true}
	}
	return row, nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanExecution(sc scanner) (*domain.Execution, error) {
	var row executionRow
	if err := sc.Scan(
		&row.id, &row.userID, &row.serverID, &row.prompt, &row.plan, &row.commands, &row.riskLevel,
		&row.status, &row.dryRun, &row.confirmed, &row.output, &row.exitCodes, &row.err,
		&row.createdAt, &row.executedAt, &row.completedAt, &row.durationMS,
	); err != nil {
		return nil, err
	}

	exec := &domain.Execution{
		ID:        row.id,
		UserID:    row.userID,
		ServerID:  row.serverID,
		Prompt:    row.prompt,
		RiskLevel: domain.RiskLevel(row.riskLevel),
		Status:    domain.ExecutionStatus(row.status),
		DryRun:    row.dryRun == 1,
		Confirmed: row.confirmed == 1,
		Output:    row.output,
		Error:     row.err,
		CreatedAt: parseTime(row.createdAt),
	}
	if row.plan.Valid && row.plan.String != "" {
		var plan domain.Plan
		if err := json.Unmarshal([]byte(row.plan.String), &plan); err != nil {
			return nil, fmt.Errorf("decode plan: %w", err)
		}
		exec.Plan = &plan
	}
	if err := json.Unmarshal([]byte(row.commands), &exec.Commands); err != nil {
		return nil, fmt.Errorf("decode commands: %w", err)
	}
	if err := json.Unmarshal([]byte(row.exitCodes), &exec.ExitCodes); err != nil {
		return nil, fmt.Errorf("decode exit codes: %w", err)
	}
	exec.ExecutedAt = parseNullTime(row.executedAt)
	exec.CompletedAt = parseNullTime(row.completedAt)
	if row.durationMS.Valid {
		d := time.Duration(row.durationMS.Int64) * time.Millisecond
		exec.Duration = &d
	}
	return exec, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(value string) time.Time {
	t, err := time.Parse(timeLayout, value)
	if err != nil {
		return time.Time{}
	}
	return t
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func parseNullTime(value sql.NullString) *time.Time {
	if !value.Valid {
		return nil
	}
	t := parseTime(value.String)
	return &t
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
