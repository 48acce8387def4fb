package commands

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"os/exec"

	"github.com/google/go-cmp/cmp"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/doeshing/opsai/internal/app"
	appconfig "github.com/doeshing/opsai/internal/application/config"
	"github.com/doeshing/opsai/internal/domain"
	"github.com/doeshing/opsai/internal/infrastructure/cli/helpers"
	configinfra "github.com/doeshing/opsai/internal/infrastructure/config"
)

const defaultEditor = "vi"

// NewConfigCommand creates the config command with all subcommands
func NewConfigCommand(container *app.Container) *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect and edit the configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			return showConfig(cmd, container)
		},
	}

	configCmd.AddCommand(
		&cobra.Command{
			Use:   "show",
			Short: "Print the effective configuration",
			RunE: func(cmd *cobra.Command, args []string) error {
				return showConfig(cmd, container)
			},
		},
		newConfigGetCommand(container),
		newConfigSetCommand(container),
		newConfigEditCommand(container),
		&cobra.Command{
			Use:   "path",
			Short: "Print the config file location",
			RunE: func(cmd *cobra.Command, args []string) error {
				loader, err := configLoader(container)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), loader.Path())
				return nil
			},
		},
		&cobra.Command{
			Use:   "validate",
			Short: "Validate the config file",
			RunE: func(cmd *cobra.Command, args []string) error {
				cfg, err := loadConfig(cmd, container)
				if err != nil {
					return err
				}
				if err := appconfig.Validate(cfg); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), MsgConfigurationValid)
				return nil
			},
		},
		newConfigResetCommand(container),
		&cobra.Command{
			Use:   "diff",
			Short: "Show differences from the default configuration",
			RunE: func(cmd *cobra.Command, args []string) error {
				current, err := loadConfig(cmd, container)
				if err != nil {
					return err
				}
				defaults, err := configinfra.Defaults()
				if err != nil {
					return err
				}
				if diff := cmp.Diff(defaults, current); diff != "" {
					fmt.Fprintln(cmd.OutOrStdout(), diff)
					return nil
				}
				fmt.Fprintln(cmd.OutOrStdout(), MsgNoConfigDifferences)
				return nil
			},
		},
	)
	return configCmd
}

func newConfigGetCommand(container *app.Container) *cobra.Command {
	return &cobra.Command{
		Use:   "get <key>",
		Short: "Print one value by dotted key, e.g. ssh.connect_timeout",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, container)
			if err != nil {
				return err
			}
			root, err := helpers.ConfigToMap(cfg)
			if err != nil {
				return err
			}
			value, ok := helpers.TraverseNestedMap(root, helpers.SplitKeyPath(args[0]))
			if !ok {
				return fmt.Errorf("key %q not found", args[0])
			}
			out, err := yaml.Marshal(value)
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), string(out))
			return nil
		},
	}
}

func newConfigSetCommand(container *app.Container) *cobra.Command {
	return &cobra.Command{
		Use:   "set <key> <value>",
		Short: "Set one value by dotted key; the value is parsed as YAML",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			loader, err := configLoader(container)
			if err != nil {
				return err
			}
			cfg, err := loader.Load(cmd.Context())
			if err != nil {
				return err
			}
			root, err := helpers.ConfigToMap(cfg)
			if err != nil {
				return err
			}
			if !helpers.SetNestedMapValue(root, helpers.SplitKeyPath(args[0]), helpers.ParseYAMLValue(args[1])) {
				return fmt.Errorf("invalid key %q", args[0])
			}
			updated, err := helpers.MapToConfig(root)
			if err != nil {
				return err
			}
			if err := saveValidated(loader, updated); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Updated %s\n", args[0])
			return nil
		},
	}
}

func newConfigEditCommand(container *app.Container) *cobra.Command {
	return &cobra.Command{
		Use:   "edit",
		Short: "Open the config file in $EDITOR",
		RunE: func(cmd *cobra.Command, args []string) error {
			loader, err := configLoader(container)
			if err != nil {
				return err
			}
			// Load once so a first-run default file exists to edit.
			if _, err := loader.Load(cmd.Context()); err != nil {
				return err
			}
			editor := os.Getenv("EDITOR")
			if editor == "" {
				editor = defaultEditor
			}
			edit := exec.CommandContext(cmd.Context(), editor, loader.Path())
			edit.Stdin = cmd.InOrStdin()
			edit.Stdout = cmd.OutOrStdout()
			edit.Stderr = cmd.ErrOrStderr()
			if err := edit.Run(); err != nil {
				return fmt.Errorf("run %s: %w", editor, err)
			}
			cfg, err := loader.Load(cmd.Context())
			if err != nil {
				return err
			}
			return appconfig.Validate(cfg)
		},
	}
}

func newConfigResetCommand(container *app.Container) *cobra.Command {
	var assumeYes bool

	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Overwrite the config file with the defaults",
		RunE: func(cmd *cobra.Command, args []string) error {
			loader, err := configLoader(container)
			if err != nil {
				return err
			}
			if !assumeYes {
				ok, err := helpers.PromptForYesNo(cmd.OutOrStdout(), bufio.NewReader(cmd.InOrStdin()),
					fmt.Sprintf("Reset %s to defaults?", loader.Path()), false)
				if err != nil {
					return err
				}
				if !ok {
					return nil
				}
			}
			defaults, err := configinfra.Defaults()
			if err != nil {
				return err
			}
			if err := configinfra.Save(loader.Path(), defaults); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Configuration reset to defaults")
			return nil
		},
	}

	cmd.Flags().BoolVarP(&assumeYes, "yes", "y", false, "Skip the confirmation prompt")
	return cmd
}

func showConfig(cmd *cobra.Command, container *app.Container) error {
	cfg, err := loadConfig(cmd, container)
	if err != nil {
		return err
	}
	out, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	fmt.Fprint(cmd.OutOrStdout(), string(out))
	return nil
}

func loadConfig(cmd *cobra.Command, container *app.Container) (domain.Config, error) {
	loader, err := configLoader(container)
	if err != nil {
		return domain.Config{}, err
	}
	return loader.Load(cmd.Context())
}

func configLoader(container *app.Container) (*configinfra.FileLoader, error) {
	if container == nil || container.ConfigLoader == nil {
		return nil, errors.New(ErrConfigLoaderUnavailable)
	}
	return container.ConfigLoader, nil
}

func saveValidated(loader *configinfra.FileLoader, cfg domain.Config) error {
	if err := appconfig.Validate(cfg); err != nil {
		return fmt.Errorf("refusing to save invalid config: %w", err)
	}
	return configinfra.Save(loader.Path(), cfg)
}
