package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/doeshing/opsai/internal/app"
	"github.com/doeshing/opsai/internal/domain"
	"github.com/doeshing/opsai/internal/infrastructure/cli/commands"
	"github.com/doeshing/opsai/internal/infrastructure/cli/helpers"
)

// Options holds CLI-level configuration.
type Options struct {
	Verbose    bool
	ConfigPath string
}

// NewRootCmd wires the cobra root command.
func NewRootCmd(ctx context.Context, opts Options) (*cobra.Command, *app.Container, error) {
	container, err := app.BuildContainer(ctx, app.Options{ConfigPath: opts.ConfigPath, Verbose: opts.Verbose})
	if err != nil {
		return nil, nil, err
	}

	root := &cobra.Command{
		Use:           "opsai",
		Short:         "opsai - AI assisted remote server operations",
		Long:          "opsai turns natural language requests into validated shell commands and runs them over SSH.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(newRunCommand(container))
	root.AddCommand(commands.NewServeCommand(container))
	root.AddCommand(commands.NewChatCommand(container))
	root.AddCommand(commands.NewValidateCommand(container))
	root.AddCommand(commands.NewServersCommand(container))
	root.AddCommand(commands.NewProvidersCommand(container))
	root.AddCommand(commands.NewExecutionsCommand(container))
	root.AddCommand(commands.NewConfigCommand(container))
	root.AddCommand(commands.NewDoctorCommand(container))
	root.AddCommand(commands.NewVersionCommand())
	return root, container, nil
}

// Orchestrator is the part of the execution service the run command drives.
type Orchestrator interface {
	Execute(ctx context.Context, user domain.User, req domain.ExecuteRequest) (*domain.Execution, error)
	Confirm(ctx context.Context, user domain.User, executionID string) (*domain.Execution, error)
	Cancel(ctx context.Context, user domain.User, executionID string) (*domain.Execution, error)
	Override(ctx context.Context, user domain.User, executionID string) (*domain.Execution, error)
}

// ErrExecutionFailed is returned when a run ends FAILED.
var ErrExecutionFailed = errors.New("execution failed")

func newRunCommand(container *app.Container) *cobra.Command {
	var (
		dryRun      bool
		autoConfirm bool
	)

	cmd := &cobra.Command{
		Use:   "run <server-id> <request...>",
		Short: "Plan, validate and run a request on a server",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			container.Events.Subscribe(NewRenderer(cmd.OutOrStdout(), NewSpinner(cmd.ErrOrStderr())))
			session := &runSession{
				orch:        container.Orchestrator,
				prompter:    NewPrompter(cmd.InOrStdin(), cmd.OutOrStdout()),
				out:         cmd.OutOrStdout(),
				user:        helpers.Operator(),
				autoConfirm: autoConfirm,
			}
			return session.run(cmd.Context(), domain.ExecuteRequest{
				ServerID: args[0],
				Prompt:   strings.Join(args[1:], " "),
				DryRun:   dryRun,
			})
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Show the plan and commands without executing them")
	cmd.Flags().BoolVarP(&autoConfirm, "yes", "y", false, "Confirm SAFE to MEDIUM batches without asking")
	return cmd
}

// runSession drives one execution to a terminal state from the terminal.
type runSession struct {
	orch        Orchestrator
	prompter    *Prompter
	out         io.Writer
	user        domain.User
	autoConfirm bool
}

func (s *runSession) run(ctx context.Context, req domain.ExecuteRequest) error {
	exec, err := s.orch.Execute(ctx, s.user, req)
	if err != nil {
		return err
	}

	for {
		switch exec.Status {
		case domain.StatusBlocked:
			ok, err := s.prompter.Confirm("Override the validator and unlock this batch?",
				domain.RiskCritical, exec.Commands, []string{exec.Error})
			if err != nil || !ok {
				return s.cancel(ctx, exec, err)
			}
			if exec, err = s.orch.Override(ctx, s.user, exec.ID); err != nil {
				return err
			}
		case domain.StatusAwaitingConfirmation:
			if req.DryRun {
				fmt.Fprintln(s.out, "Dry run: nothing was executed.")
				return s.cancel(ctx, exec, nil)
			}
			ok := s.autoConfirm && !exec.RiskLevel.Exceeds(domain.RiskMedium)
			if !ok {
				if ok, err = s.prompter.Confirm("Execute these commands?", exec.RiskLevel, exec.Commands, nil); err != nil || !ok {
					return s.cancel(ctx, exec, err)
				}
			}
			if exec, err = s.orch.Confirm(ctx, s.user, exec.ID); err != nil {
				return err
			}
		case domain.StatusFailed:
			return fmt.Errorf("%w: %s", ErrExecutionFailed, exec.ID)
		default:
			return nil
		}
	}
}

func (s *runSession) cancel(ctx context.Context, exec *domain.Execution, cause error) error {
	if _, err := s.orch.Cancel(ctx, s.user, exec.ID); err != nil {
		return errors.Join(cause, err)
	}
	if cause == nil {
		fmt.Fprintf(s.out, "Execution %s cancelled.\n", exec.ID)
	}
	return cause
}
