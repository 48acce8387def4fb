package commands

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/doeshing/opsai/internal/app"
	"github.com/doeshing/opsai/internal/infrastructure/cli/helpers"
)

// NewChatCommand asks the active provider a free-form question.
func NewChatCommand(container *app.Container) *cobra.Command {
	var serverID string

	cmd := &cobra.Command{
		Use:   "chat <message...>",
		Short: "Ask the assistant a question, optionally about a server",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			reply, err := container.Orchestrator.Chat(cmd.Context(), helpers.Operator(), strings.Join(args, " "), serverID)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), reply)
			return nil
		},
	}

	cmd.Flags().StringVar(&serverID, "server", "", "Add this server's details as context")
	return cmd
}
