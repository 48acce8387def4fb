package ai

import (
	"context"
	"fmt"
	"strings"

	"github.com/doeshing/opsai/internal/domain"
	"github.com/doeshing/opsai/internal/ports"
)

// Operation names reported in AICapabilityError.
const (
	OpPlan     = "planner"
	OpCommands = "command generator"
	OpSecurity = "security review"
	OpAnalysis = "result analysis"
	OpChat     = "chat"
)

// Sampling temperatures per operation. Review is the most conservative.
const (
	planTemperature     = 0.3
	commandsTemperature = 0.2
	securityTemperature = 0.1
	analysisTemperature = 0.3
	chatTemperature     = 0.5
)

// Service implements ports.Capability on top of the active provider.
type Service struct {
	providers ports.ProviderRegistry
	logger    ports.Logger
}

// NewService builds the capability service.
func NewService(providers ports.ProviderRegistry, logger ports.Logger) *Service {
	return &Service{providers: providers, logger: logger}
}

// CreatePlan asks the planner for an execution plan.
func (s *Service) CreatePlan(ctx context.Context, prompt, serverInfo string) (domain.Plan, error) {
	system, err := executeTemplate(planSystemTemplate, templateData{ServerInfo: serverInfo})
	if err != nil {
		return domain.Plan{}, s.fail(OpPlan, err)
	}
	var plan domain.Plan
	if err := s.completeJSON(ctx, OpPlan, system, prompt, planTemperature, &plan); err != nil {
		return domain.Plan{}, err
	}
	return plan, nil
}

// GenerateCommands turns a plan into shell commands for the target.
func (s *Service) GenerateCommands(ctx context.Context, prompt string, plan domain.Plan, serverInfo string) (domain.CommandSet, error) {
	data := templateData{Prompt: prompt, ServerInfo: serverInfo, Plan: plan}
	system, err := executeTemplate(commandsSystemTemplate, data)
	if err != nil {
		return domain.CommandSet{}, s.fail(OpCommands, err)
	}
	user, err := executeTemplate(commandsUserTemplate, data)
	if err != nil {
		return domain.CommandSet{}, s.fail(OpCommands, err)
	}
	var set domain.CommandSet
	if err := s.completeJSON(ctx, OpCommands, system, user, commandsTemperature, &set); err != nil {
		return domain.CommandSet{}, err
	}
	set.Commands = nonBlank(set.Commands)
	return set, nil
}

// ValidateSecurity asks for a semantic second opinion on commands.
func (s *Service) ValidateSecurity(ctx context.Context, commands []string) (domain.SecurityReview, error) {
	user, err := executeTemplate(securityUserTemplate, templateData{Commands: commands})
	if err != nil {
		return domain.SecurityReview{}, s.fail(OpSecurity, err)
	}
	var review domain.SecurityReview
	if err := s.completeJSON(ctx, OpSecurity, securitySystemPrompt, user, securityTemperature, &review); err != nil {
		return domain.SecurityReview{}, err
	}
	review.RiskLevel = strings.ToUpper(strings.TrimSpace(review.RiskLevel))
	return review, nil
}

// AnalyzeResult summarizes a finished run.
func (s *Service) AnalyzeResult(ctx context.Context, prompt string, commands []string, output string, exitCodes []*int) (domain.Analysis, error) {
	user, err := executeTemplate(analysisUserTemplate, templateData{
		Prompt:  prompt,
		Results: resultLines(commands, exitCodes),
		Output:  output,
	})
	if err != nil {
		return domain.Analysis{}, s.fail(OpAnalysis, err)
	}
	var analysis domain.Analysis
	if err := s.completeJSON(ctx, OpAnalysis, analysisSystemPrompt, user, analysisTemperature, &analysis); err != nil {
		return domain.Analysis{}, err
	}
	return analysis, nil
}

// Chat answers a free-form question, optionally about a server.
func (s *Service) Chat(ctx context.Context, message, serverInfo string) (string, error) {
	system, err := executeTemplate(chatSystemTemplate, templateData{ServerInfo: serverInfo})
	if err != nil {
		return "", s.fail(OpChat, err)
	}
	reply, err := s.complete(ctx, system, message, domain.CompletionOptions{Temperature: chatTemperature})
	if err != nil {
		return "", s.fail(OpChat, err)
	}
	return reply, nil
}

func (s *Service) completeJSON(ctx context.Context, op, system, user string, temperature float32, out interface{}) error {
	content, err := s.complete(ctx, system, user, domain.CompletionOptions{Temperature: temperature, JSONMode: true})
	if err != nil {
		return s.fail(op, err)
	}
	if err := decodeJSONObject(content, out); err != nil {
		if s.logger != nil {
			s.logger.Warn("failed to parse AI response as JSON", map[string]interface{}{
				"operation": op,
				"content":   truncate(content, 200),
			})
		}
		return s.fail(op, fmt.Errorf("failed to parse %s response as JSON: %w", op, err))
	}
	return nil
}

func (s *Service) complete(ctx context.Context, system, user string, opts domain.CompletionOptions) (string, error) {
	completer, err := s.providers.Active(ctx)
	if err != nil {
		return "", err
	}
	return completer.Complete(ctx, []domain.Message{
		{Role: domain.RoleSystem, Content: system},
		{Role: domain.RoleUserMsg, Content: user},
	}, opts)
}

func (s *Service) fail(op string, err error) error {
	if s.logger != nil {
		s.logger.Error("AI capability failed", err, map[string]interface{}{"operation": op})
	}
	return &domain.AICapabilityError{Operation: op, Err: err}
}

func nonBlank(values []string) []string {
	out := make([]string, 0, len(values))
	for _, value := range values {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

var _ ports.Capability = (*Service)(nil)
