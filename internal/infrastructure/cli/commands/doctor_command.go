package commands

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/doeshing/opsai/internal/app"
	"github.com/doeshing/opsai/internal/domain"
)

// NewDoctorCommand creates the doctor command
func NewDoctorCommand(container *app.Container) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check config, validator rules, store, inventory and providers",
		RunE: func(cmd *cobra.Command, args []string) error {
			if container.DoctorService == nil {
				return errors.New(ErrDoctorServiceUnavailable)
			}

			report, err := container.DoctorService.Run(cmd.Context())
			out := cmd.OutOrStdout()
			if asJSON {
				if encodeErr := writeIndentedJSON(out, report); encodeErr != nil {
					return encodeErr
				}
			} else {
				renderDiagnostics(out, report)
			}

			if err != nil {
				return fmt.Errorf("diagnostics aborted: %w", err)
			}
			if failed := report.Failures(); len(failed) > 0 {
				return fmt.Errorf("%d check(s) failed: %s", len(failed), strings.Join(failed, ", "))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the report as JSON")
	return cmd
}

func renderDiagnostics(out io.Writer, report domain.DiagnosticReport) {
	for _, check := range report.Checks {
		fmt.Fprintf(out, "%-5s %-18s %s\n", strings.ToUpper(string(check.Status)), check.Name, check.Details)
	}
}
