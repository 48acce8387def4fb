package commands

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/doeshing/opsai/internal/app"
	"github.com/doeshing/opsai/internal/domain"
	"github.com/doeshing/opsai/internal/infrastructure/config"
)

// NewProvidersCommand creates the providers command with all subcommands
func NewProvidersCommand(container *app.Container) *cobra.Command {
	providersCmd := &cobra.Command{
		Use:   "providers",
		Short: "Inspect and select AI providers",
		RunE: func(cmd *cobra.Command, args []string) error {
			renderProviders(cmd.OutOrStdout(), container.Registry.List(cmd.Context()))
			return nil
		},
	}

	providersCmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List providers and their status",
			RunE: func(cmd *cobra.Command, args []string) error {
				renderProviders(cmd.OutOrStdout(), container.Registry.List(cmd.Context()))
				return nil
			},
		},
		newProvidersUseCommand(container),
	)
	return providersCmd
}

func newProvidersUseCommand(container *app.Container) *cobra.Command {
	var persist bool

	cmd := &cobra.Command{
		Use:   "use <provider-id>",
		Short: "Switch the active provider",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			if err := container.Registry.SetActive(id); err != nil {
				return err
			}
			if persist {
				if container.ConfigLoader == nil {
					return errors.New(ErrConfigLoaderUnavailable)
				}
				cfg := container.Config
				if err := cfg.SetPreferredProvider(id); err != nil {
					return err
				}
				if err := config.Save(container.ConfigLoader.Path(), cfg); err != nil {
					return err
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Active provider: %s\n", id)
			return nil
		},
	}

	cmd.Flags().BoolVar(&persist, "save", false, "Persist the choice as ai.provider in the config file")
	return cmd
}

func renderProviders(out io.Writer, statuses []domain.ProviderStatus) {
	for _, status := range statuses {
		marker := " "
		if status.Active {
			marker = "*"
		}
		state := "not configured"
		if status.Configured {
			state = "configured"
		}
		fmt.Fprintf(out, "%s %-8s %-16s %-28s %s\n", marker, status.ID, status.Name, status.Model, state)
	}
}
