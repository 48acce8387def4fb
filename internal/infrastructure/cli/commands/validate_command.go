package commands

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/doeshing/opsai/internal/app"
	"github.com/doeshing/opsai/internal/domain"
	"github.com/doeshing/opsai/internal/ports"
)

// NewValidateCommand classifies commands offline with the same validator the
// orchestrator uses.
func NewValidateCommand(container *app.Container) *cobra.Command {
	return &cobra.Command{
		Use:   "validate <command>...",
		Short: "Classify shell commands by risk without running them",
		Long:  "Each argument is one command. Quote commands that contain spaces.",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return renderVerdict(cmd.OutOrStdout(), container.Validator, args)
		},
	}
}

func renderVerdict(out io.Writer, validator ports.CommandValidator, commands []string) error {
	for _, command := range commands {
		verdict := validator.ValidateCommand(command)
		fmt.Fprintf(out, "%-8s %s\n", verdict.RiskLevel, command)
	}

	batch := validator.ValidateCommands(commands)
	fmt.Fprintf(out, "\nBatch: %s\n", batch.RiskLevel)
	if batch.Reason != "" {
		fmt.Fprintf(out, " - %s\n", batch.Reason)
	}
	for _, command := range batch.WarningCommands {
		fmt.Fprintf(out, " ! %s\n", command)
	}
	if !batch.IsValid {
		return fmt.Errorf("blocked: %s", strings.Join(batch.BlockedCommands, ", "))
	}
	if batch.RiskLevel.Exceeds(domain.RiskLow) {
		fmt.Fprintln(out, "Confirmation required before execution.")
	}
	return nil
}
