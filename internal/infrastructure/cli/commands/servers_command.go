package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/doeshing/opsai/internal/app"
	"github.com/doeshing/opsai/internal/infrastructure/cli/helpers"
)

// NewServersCommand creates the servers command with all subcommands
func NewServersCommand(container *app.Container) *cobra.Command {
	serversCmd := &cobra.Command{
		Use:   "servers",
		Short: "Inspect the server inventory",
	}

	serversCmd.AddCommand(
		newServersListCommand(container),
		newServersTestCommand(container),
	)
	return serversCmd
}

func newServersListCommand(container *app.Container) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List inventory servers",
		RunE: func(cmd *cobra.Command, args []string) error {
			servers, err := container.Inventory.List(cmd.Context(), helpers.Operator())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(servers) == 0 {
				fmt.Fprintln(out, MsgNoServers)
				return nil
			}
			for _, server := range servers {
				fmt.Fprintf(out, "%s | %s | %s@%s:%d | owner %s\n",
					server.ID, server.Name, server.Username, server.Host, server.Port, server.OwnerID)
			}
			return nil
		},
	}
}

func newServersTestCommand(container *app.Container) *cobra.Command {
	return &cobra.Command{
		Use:   "test <server-id>",
		Short: "Check SSH connectivity to a server",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			server, creds, err := container.Inventory.Resolve(cmd.Context(), helpers.Operator(), args[0])
			if err != nil {
				return err
			}
			result := container.Pool.TestConnection(cmd.Context(), creds)
			if !result.Success {
				return fmt.Errorf("%s (%s): %s", server.ID, server.Host, result.Message)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", server.ID, result.Message)
			return nil
		},
	}
}
