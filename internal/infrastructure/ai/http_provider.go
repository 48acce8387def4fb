package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/doeshing/opsai/internal/domain"
	"github.com/doeshing/opsai/internal/ports"
)

// httpCompleter is a configuration-driven HTTP-based AI provider.
// All provider-specific behavior is controlled through the model's APIFormat configuration.
type httpCompleter struct {
	model      resolvedModel
	httpClient *http.Client
}

func newHTTPCompleter(model resolvedModel, client *http.Client) *httpCompleter {
	return &httpCompleter{
		model:      model,
		httpClient: client,
	}
}

func (p *httpCompleter) ID() string { return p.model.def.Name }
func (p *httpCompleter) Name() string { return p.model.def.GetDisplayName() }
func (p *httpCompleter) Model() string { return p.model.modelID }
func (p *httpCompleter) Configured() bool { return p.model.configured() }

func (p *httpCompleter) Complete(ctx context.Context, messages []domain.Message, opts domain.CompletionOptions) (string, error) {
	if !p.Configured() {
		return "", fmt.Errorf("%s not configured: set %s", p.Name(), p.model.def.AuthEnvVar)
	}

	requestBody, err := p.buildRequestBody(messages, opts)
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}

	endpoint := domain.ExpandEndpoint(p.model.endpoint, p.model.modelID)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(requestBody))
	if err != nil {
		return "", fmt.Errorf("create HTTP request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	p.setAuthHeaders(httpReq)
	p.setExtraHeaders(httpReq)

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response body: %w", err)
	}
	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("%s: HTTP %d: %s", p.Name(), resp.StatusCode, errorMessage(body, resp.Status))
	}

	content, err := p.parseResponse(body)
	if err != nil {
		return "", fmt.Errorf("parse response: %w", err)
	}
	return content, nil
}

// buildRequestBody constructs the JSON request body based on the model's APIFormat configuration.
func (p *httpCompleter) buildRequestBody(messages []domain.Message, opts domain.CompletionOptions) ([]byte, error) {
	if p.model.def.APIFormat.GetRequestStyle() == domain.RequestStyleGemini {
		return json.Marshal(geminiRequest(messages, opts, p.model.def))
	}

	request := map[string]interface{}{
		"model":       p.model.modelID,
		"messages":    messages,
		"temperature": opts.Temperature,
		"max_tokens":  maxTokens(opts, p.model.def),
	}
	if opts.JSONMode {
		request["response_format"] = map[string]string{"type": "json_object"}
	}
	return json.Marshal(request)
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiGenerationConfig struct {
	Temperature      float32 `json:"temperature"`
	MaxOutputTokens  int     `json:"maxOutputTokens"`
	ResponseMimeType string  `json:"responseMimeType,omitempty"`
}

type geminiBody struct {
	SystemInstruction *geminiContent         `json:"systemInstruction,omitempty"`
	Contents          []geminiContent        `json:"contents"`
	GenerationConfig  geminiGenerationConfig `json:"generationConfig"`
}

// geminiRequest folds system messages into systemInstruction and maps the
// assistant role to "model".
func geminiRequest(messages []domain.Message, opts domain.CompletionOptions, def domain.ModelDefinition) geminiBody {
	body := geminiBody{
		GenerationConfig: geminiGenerationConfig{
			Temperature:     opts.Temperature,
			MaxOutputTokens: maxTokens(opts, def),
		},
	}
	if opts.JSONMode {
		body.GenerationConfig.ResponseMimeType = "application/json"
	}

	var system []string
	for _, msg := range messages {
		role := strings.ToLower(msg.Role)
		switch role {
		case domain.RoleSystem:
			system = append(system, msg.Content)
			continue
		case domain.RoleAssistant:
			role = "model"
		default:
			role = domain.RoleUserMsg
		}
		body.Contents = append(body.Contents, geminiContent{Role: role, Parts: []geminiPart{{Text: msg.Content}}})
	}
	if len(system) > 0 {
		body.SystemInstruction = &geminiContent{Parts: []geminiPart{{Text: strings.Join(system, "\n")}}}
	}
	return body
}

// setAuthHeaders configures authentication headers based on the model's APIFormat.
func (p *httpCompleter) setAuthHeaders(req *http.Request) {
	if p.model.apiKey == "" {
		return
	}
	format := p.model.def.APIFormat
	req.Header.Set(format.GetAuthHeaderName(), format.GetAuthHeaderPrefix()+p.model.apiKey)
}

// setExtraHeaders adds any additional headers defined in the APIFormat configuration.
func (p *httpCompleter) setExtraHeaders(req *http.Request) {
	for key, value := range p.model.def.APIFormat.ExtraHeaders {
		req.Header.Set(key, value)
	}
}

// parseResponse extracts the generated text from the JSON response using the configured JSON path.
func (p *httpCompleter) parseResponse(body []byte) (string, error) {
	var response map[string]interface{}
	if err := json.Unmarshal(body, &response); err != nil {
		return "", fmt.Errorf("unmarshal JSON: %w", err)
	}

	path := p.model.def.APIFormat.GetResponseJSONPath()
	content, err := extractJSONPath(response, path)
	if err != nil {
		return "", fmt.Errorf("extract from path '%s': %w", path, err)
	}
	return strings.TrimSpace(content), nil
}

// errorMessage pulls error.message out of an API error body when present.
func errorMessage(body []byte, fallback string) string {
	var decoded struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &decoded); err == nil && decoded.Error.Message != "" {
		return decoded.Error.Message
	}
	return fallback
}

var _ ports.Completer = (*httpCompleter)(nil)
