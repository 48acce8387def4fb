package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/doeshing/opsai/internal/app"
	"github.com/doeshing/opsai/internal/domain"
	"github.com/doeshing/opsai/internal/infrastructure/cli/helpers"
)

const defaultExecutionLimit = 20

// NewExecutionsCommand creates the executions command with all subcommands
func NewExecutionsCommand(container *app.Container) *cobra.Command {
	executionsCmd := &cobra.Command{
		Use:   "executions",
		Short: "Inspect execution history",
	}

	executionsCmd.AddCommand(
		newExecutionsListCommand(container),
		newExecutionsShowCommand(container),
		newExecutionsAuditCommand(container),
	)
	return executionsCmd
}

func newExecutionsListCommand(container *app.Container) *cobra.Command {
	var (
		limit    int
		serverID string
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recent executions",
		RunE: func(cmd *cobra.Command, args []string) error {
			executions, err := container.Orchestrator.List(cmd.Context(), helpers.Operator(), domain.ExecutionFilter{
				ServerID: serverID,
				Limit:    limit,
			})
			if err != nil {
				return err
			}
			renderExecutions(cmd.OutOrStdout(), executions)
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", defaultExecutionLimit, "Max entries to show")
	cmd.Flags().StringVar(&serverID, "server", "", "Only show executions on this server")
	return cmd
}

func newExecutionsShowCommand(container *app.Container) *cobra.Command {
	return &cobra.Command{
		Use:   "show <execution-id>",
		Short: "Show one execution as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			exec, err := container.Orchestrator.Get(cmd.Context(), helpers.Operator(), args[0])
			if err != nil {
				return err
			}
			return writeIndentedJSON(cmd.OutOrStdout(), exec)
		},
	}
}

func newExecutionsAuditCommand(container *app.Container) *cobra.Command {
	return &cobra.Command{
		Use:   "audit <execution-id>",
		Short: "Show the audit trail of one execution",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			entries, err := container.Orchestrator.AuditTrail(cmd.Context(), helpers.Operator(), args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, entry := range entries {
				fmt.Fprintf(out, "%s | %s | %s\n", entry.CreatedAt.Format(time.RFC3339), entry.UserID, entry.Action)
			}
			return nil
		},
	}
}

func renderExecutions(out io.Writer, executions []domain.Execution) {
	if len(executions) == 0 {
		fmt.Fprintln(out, MsgNoExecutions)
		return
	}
	for _, exec := range executions {
		fmt.Fprintf(out, "%s | %s | %s | %-21s | %-8s | %s\n",
			exec.CreatedAt.Format(time.RFC3339),
			exec.ID,
			exec.ServerID,
			exec.Status,
			exec.RiskLevel,
			helpers.Truncate(exec.Prompt, 60))
	}
}

func writeIndentedJSON(out io.Writer, v any) error {
	encoder := json.NewEncoder(out)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}
