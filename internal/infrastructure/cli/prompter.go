package cli

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/doeshing/opsai/internal/domain"
	"github.com/doeshing/opsai/internal/infrastructure/cli/helpers"
	"github.com/doeshing/opsai/internal/ports"
)

// Prompter implements ConfirmationPrompter using stdin/stdout.
type Prompter struct {
	in  *bufio.Reader
	out io.Writer
}

// NewPrompter constructs a prompter referencing stdio.
func NewPrompter(in io.Reader, out io.Writer) *Prompter {
	if in == nil {
		in = os.Stdin
	}
	if out == nil {
		out = os.Stdout
	}
	return &Prompter{
		in:  bufio.NewReader(in),
		out: out,
	}
}

// Enabled indicates the prompter is interactive.
func (p *Prompter) Enabled() bool {
	return true
}

// Confirm shows the batch and asks the question. HIGH and CRITICAL batches
// require typing "yes".
func (p *Prompter) Confirm(question string, risk domain.RiskLevel, commands []string, reasons []string) (bool, error) {
	fmt.Fprintf(p.out, "\n%s risk\n", strings.ToUpper(string(risk)))
	for _, reason := range reasons {
		fmt.Fprintf(p.out, " - %s\n", reason)
	}
	fmt.Fprintln(p.out, "Commands:")
	for _, command := range commands {
		fmt.Fprintf(p.out, "  %s\n", command)
	}

	if risk == domain.RiskHigh || risk == domain.RiskCritical {
		fmt.Fprintln(p.out, question)
		return helpers.PromptForExplicit(p.out, p.in, "yes")
	}
	return helpers.PromptForConfirmation(p.out, p.in, question)
}

var _ ports.ConfirmationPrompter = (*Prompter)(nil)
