package ai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/doeshing/opsai/internal/domain"
	"github.com/doeshing/opsai/internal/ports"
)

// openAICompleter talks to any OpenAI-compatible chat completions API.
type openAICompleter struct {
	model  resolvedModel
	client *openai.Client
}

func newOpenAICompleter(model resolvedModel, httpClient *http.Client) *openAICompleter {
	cfg := openai.DefaultConfig(model.apiKey)
	if model.endpoint != "" {
		cfg.BaseURL = strings.TrimRight(model.endpoint, "/")
	}
	cfg.HTTPClient = httpClient
	return &openAICompleter{
		model:  model,
		client: openai.NewClientWithConfig(cfg),
	}
}

func (c *openAICompleter) ID() string { return c.model.def.Name }
func (c *openAICompleter) Name() string { return c.model.def.GetDisplayName() }
func (c *openAICompleter) Model() string { return c.model.modelID }
func (c *openAICompleter) Configured() bool { return c.model.configured() }

func (c *openAICompleter) Complete(ctx context.Context, messages []domain.Message, opts domain.CompletionOptions) (string, error) {
	if !c.Configured() {
		return "", fmt.Errorf("%s not configured: set %s", c.Name(), c.model.def.AuthEnvVar)
	}

	req := openai.ChatCompletionRequest{
		Model:       c.model.modelID,
		Messages:    toOpenAIMessages(messages),
		Temperature: opts.Temperature,
		MaxTokens:   maxTokens(opts, c.model.def),
	}
	if opts.JSONMode {
		req.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}

	resp, err := c.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", fmt.Errorf("%s chat completion: %w", c.Name(), err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New(c.Name() + " returned no choices")
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

// NeedsProbe reports whether selection must ping before trusting the
// provider. Keyless providers are local servers that may not be running.
func (c *openAICompleter) NeedsProbe() bool {
	return c.model.def.KeyOptional
}

// Ping lists models, which every compatible server answers cheaply.
func (c *openAICompleter) Ping(ctx context.Context) error {
	if _, err := c.client.ListModels(ctx); err != nil {
		return fmt.Errorf("%s unreachable: %w", c.Name(), err)
	}
	return nil
}

func toOpenAIMessages(messages []domain.Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, msg := range messages {
		out = append(out, openai.ChatCompletionMessage{
			Role:    strings.ToLower(msg.Role),
			Content: msg.Content,
		})
	}
	return out
}

func maxTokens(opts domain.CompletionOptions, def domain.ModelDefinition) int {
	if opts.MaxTokens > 0 {
		return opts.MaxTokens
	}
	return def.GetMaxTokens()
}

var (
	_ ports.Completer = (*openAICompleter)(nil)
	_ ports.Pinger    = (*openAICompleter)(nil)
)
