package cli

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/doeshing/opsai/internal/domain"
	"github.com/doeshing/opsai/internal/infrastructure/cli/helpers"
	"github.com/doeshing/opsai/internal/ports"
)

// Renderer prints orchestrator events to a terminal in a friendly,
// mostly ASCII format.
type Renderer struct {
	mu      sync.Mutex
	out     io.Writer
	spinner *Spinner
}

// NewRenderer writes to out. A nil spinner disables the progress animation.
func NewRenderer(out io.Writer, spinner *Spinner) *Renderer {
	return &Renderer{out: out, spinner: spinner}
}

// Notify implements ports.NotificationSink.
func (r *Renderer) Notify(event domain.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.spinner != nil {
		r.spinner.Stop()
	}

	switch data := event.Data.(type) {
	case domain.StatusPayload:
		r.status(data)
	case domain.PlanPayload:
		r.plan(data.Plan)
	case domain.CommandsPayload:
		r.commands(data)
	case domain.BlockedPayload:
		fmt.Fprintf(r.out, "\nBlocked: %s\n", data.Reason)
		for _, command := range data.BlockedCommands {
			fmt.Fprintf(r.out, "  x %s\n", command)
		}
	case domain.OutputPayload:
		r.output(data)
	case domain.ReconnectingPayload:
		fmt.Fprintf(r.out, "... %s\n", data.Message)
	case domain.ReconnectPayload:
		fmt.Fprintf(r.out, "... %s\n", data.Message)
	case domain.CompletePayload:
		r.complete(data)
	case domain.ErrorPayload:
		fmt.Fprintf(r.out, "Error: %s\n", data.Message)
	case domain.ChatPayload:
		fmt.Fprintln(r.out, data.Message)
	}
}

func (r *Renderer) status(data domain.StatusPayload) {
	switch data.Status {
	case domain.StatusPlanning, domain.StatusValidating:
		if r.spinner != nil {
			r.spinner.Start(data.Message)
			return
		}
		fmt.Fprintln(r.out, data.Message)
	case domain.StatusExecuting:
		fmt.Fprintf(r.out, "\n%s\n", data.Message)
	case domain.StatusAwaitingConfirmation:
		// The prompt follows.
	default:
		fmt.Fprintf(r.out, "[%s] %s\n", data.Status, data.Message)
	}
}

func (r *Renderer) plan(plan domain.Plan) {
	fmt.Fprintf(r.out, "Plan: %s\n", plan.Objective)
	for i, step := range plan.Steps {
		fmt.Fprintf(r.out, "  %d. %s\n", i+1, step)
	}
	for _, risk := range plan.Risks {
		fmt.Fprintf(r.out, "  ! %s\n", risk)
	}
	if plan.EstimatedTime != "" {
		fmt.Fprintf(r.out, "Estimated time: %s\n", plan.EstimatedTime)
	}
}

func (r *Renderer) commands(data domain.CommandsPayload) {
	fmt.Fprintf(r.out, "\nGenerated commands (risk %s):\n", data.RiskLevel)
	for _, command := range data.Commands {
		fmt.Fprintf(r.out, "  %s\n", command)
	}
	if data.Explanation != "" {
		fmt.Fprintf(r.out, "%s\n", data.Explanation)
	}
	helpers.PrintWarnings(r.out, data.Warnings)
	for _, issue := range data.SecurityIssues {
		fmt.Fprintf(r.out, "Security: %s\n", issue)
	}
}

func (r *Renderer) output(data domain.OutputPayload) {
	content := data.Content
	if data.Type == domain.StreamStderr && !strings.HasSuffix(content, "\n") {
		content += "\n"
	}
	fmt.Fprint(r.out, content)
}

func (r *Renderer) complete(data domain.CompletePayload) {
	result := "succeeded"
	if !data.Success {
		result = "failed"
	}
	duration := time.Duration(data.Duration) * time.Millisecond
	fmt.Fprintf(r.out, "\nExecution %s in %s\n", result, duration.Round(time.Millisecond))
	if data.Analysis.Summary != "" {
		fmt.Fprintf(r.out, "Summary: %s\n", data.Analysis.Summary)
	}
	if data.Analysis.Details != "" {
		fmt.Fprintln(r.out, data.Analysis.Details)
	}
	for _, problem := range data.Analysis.Errors {
		fmt.Fprintf(r.out, "  x %s\n", problem)
	}
	for _, step := range data.Analysis.NextSteps {
		fmt.Fprintf(r.out, "  > %s\n", step)
	}
}

var _ ports.NotificationSink = (*Renderer)(nil)
