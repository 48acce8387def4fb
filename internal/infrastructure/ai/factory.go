// Package ai provides the AI provider registry, the provider adapters and the
// capability service that turns completions into plans, commands, security
// reviews and result analyses.
//
// Provider behavior is configuration-driven: every provider is a
// ModelDefinition in the config file, and the Kind field selects the adapter:
//   - openai: any OpenAI-compatible chat completions API (OpenAI, Groq, Ollama)
//   - http: the generic HTTP provider whose request and response shapes come
//     from APIFormat (used for Gemini)
package ai

import (
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/doeshing/opsai/internal/domain"
	"github.com/doeshing/opsai/internal/ports"
)

// Factory creates completers from model definitions.
// It maintains a single HTTP client shared across all providers.
type Factory struct {
	httpClient *http.Client
	getenv     func(string) string
}

// NewFactory creates a provider factory whose HTTP client times out after timeout.
func NewFactory(timeout time.Duration) *Factory {
	if timeout <= 0 {
		timeout = domain.DefaultHTTPClientTimeout
	}
	return &Factory{
		httpClient: &http.Client{Timeout: timeout},
		getenv:     os.Getenv,
	}
}

// WithEnv replaces the environment lookup. Tests use it to avoid touching the
// process environment.
func (f *Factory) WithEnv(getenv func(string) string) *Factory {
	f.getenv = getenv
	return f
}

// ForModel builds the completer for one model definition.
func (f *Factory) ForModel(model domain.ModelDefinition) (ports.Completer, error) {
	resolved := f.resolve(model)
	switch model.GetKind() {
	case domain.ProviderKindOpenAI:
		return newOpenAICompleter(resolved, f.httpClient), nil
	case domain.ProviderKindHTTP:
		return newHTTPCompleter(resolved, f.httpClient), nil
	default:
		return nil, fmt.Errorf("unsupported provider kind: %s", model.Kind)
	}
}

// ForModels builds completers for every definition, in order.
func (f *Factory) ForModels(models []domain.ModelDefinition) ([]ports.Completer, error) {
	completers := make([]ports.Completer, 0, len(models))
	for _, model := range models {
		completer, err := f.ForModel(model)
		if err != nil {
			return nil, fmt.Errorf("provider %s: %w", model.Name, err)
		}
		completers = append(completers, completer)
	}
	return completers, nil
}

// resolvedModel is a definition with its environment indirections applied.
type resolvedModel struct {
	def      domain.ModelDefinition
	apiKey   string
	endpoint string
	modelID  string
}

func (r resolvedModel) configured() bool {
	if r.def.KeyOptional {
		return true
	}
	return isUsableAPIKey(r.apiKey)
}

func (f *Factory) resolve(model domain.ModelDefinition) resolvedModel {
	resolved := resolvedModel{
		def:      model,
		endpoint: model.Endpoint,
		modelID:  model.ModelID,
	}
	if model.AuthEnvVar != "" {
		resolved.apiKey = strings.TrimSpace(f.getenv(model.AuthEnvVar))
	}
	if model.EndpointEnvVar != "" {
		if value := strings.TrimSpace(f.getenv(model.EndpointEnvVar)); value != "" {
			resolved.endpoint = value
		}
	}
	if model.ModelEnvVar != "" {
		if value := strings.TrimSpace(f.getenv(model.ModelEnvVar)); value != "" {
			resolved.modelID = value
		}
	}
	return resolved
}

// placeholderKeyMarkers flag sample keys copied from .env templates.
var placeholderKeyMarkers = []string{"your-", "your_", "placeholder", "example", "xxx"}

func isUsableAPIKey(key string) bool {
	if key == "" {
		return false
	}
	lower := strings.ToLower(key)
	for _, marker := range placeholderKeyMarkers {
		if strings.Contains(lower, marker) {
			return false
		}
	}
	return true
}
