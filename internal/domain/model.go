// Package domain defines core business entities and value objects for opsai.
//
// The domain layer is independent of infrastructure concerns: it holds the
// execution lifecycle, risk tiers, credentials, events and configuration
// shapes shared by every adapter.
package domain

import "strings"

// Provider kinds select the adapter that talks to a model.
const (
	// ProviderKindOpenAI uses an OpenAI-compatible chat completions client.
	ProviderKindOpenAI = "openai"
	// ProviderKindHTTP uses the configuration-driven HTTP provider.
	ProviderKindHTTP = "http"
)

// ModelDefinition describes an AI provider declared in the config file.
// Name doubles as the provider id used by the registry.
type ModelDefinition struct {
	Name           string    `yaml:"name"`
	DisplayName    string    `yaml:"display_name"`
	Kind           string    `yaml:"kind"`
	Endpoint       string    `yaml:"endpoint"`
	EndpointEnvVar string    `yaml:"endpoint_env_var,omitempty"`
	AuthEnvVar     string    `yaml:"auth_env_var,omitempty"`
	KeyOptional    bool      `yaml:"key_optional,omitempty"`
	ModelID        string    `yaml:"model_id"`
	ModelEnvVar    string    `yaml:"model_env_var,omitempty"`
	MaxTokens      int       `yaml:"max_tokens"`
	APIFormat      APIFormat `yaml:"api_format,omitempty"`
}

// GetKind returns the adapter kind with default fallback.
func (m ModelDefinition) GetKind() string {
	if m.Kind == "" {
		return ProviderKindOpenAI
	}
	return m.Kind
}

// GetDisplayName returns a human label for the provider.
func (m ModelDefinition) GetDisplayName() string {
	if m.DisplayName == "" {
		return m.Name
	}
	return m.DisplayName
}

// GetMaxTokens returns the completion budget with default fallback.
func (m ModelDefinition) GetMaxTokens() int {
	if m.MaxTokens <= 0 {
		return DefaultMaxTokens
	}
	return m.MaxTokens
}

// ExpandEndpoint substitutes the {model} placeholder used by providers that
// carry the model id in the URL path.
func ExpandEndpoint(endpoint, model string) string {
	return strings.ReplaceAll(endpoint, "{model}", model)
}

// APIFormat defines how the HTTP provider constructs requests and parses
// responses. All fields are optional with OpenAI-compatible defaults.
type APIFormat struct {
	// AuthHeaderName specifies the HTTP header name for authentication.
	// Default: "Authorization"
	AuthHeaderName string `yaml:"auth_header_name,omitempty"`

	// AuthHeaderPrefix is prepended to the API key value.
	// Default: "Bearer " (with trailing space)
	AuthHeaderPrefix string `yaml:"auth_header_prefix,omitempty"`

	// RequestStyle selects the request body shape.
	// Values: "openai" (default) - {"model", "messages", ...}
	//         "gemini" - {"systemInstruction", "contents", "generationConfig"}
	RequestStyle string `yaml:"request_style,omitempty"`

	// ResponseJSONPath specifies where to extract the generated text from the response.
	// Default: "choices[0].message.content"
	ResponseJSONPath string `yaml:"response_json_path,omitempty"`

	// ExtraHeaders contains additional HTTP headers to send with each request.
	ExtraHeaders map[string]string `yaml:"extra_headers,omitempty"`
}

// API format constants.
const (
	DefaultAuthHeaderName   = "Authorization"
	DefaultAuthHeaderPrefix = "Bearer "

	RequestStyleOpenAI = "openai"
	RequestStyleGemini = "gemini"

	DefaultResponsePath = "choices[0].message.content"
	GeminiResponsePath  = "candidates[0].content.parts[0].text"
)

// GetAuthHeaderName returns the authentication header name with default fallback.
func (f APIFormat) GetAuthHeaderName() string {
	if f.AuthHeaderName == "" {
		return DefaultAuthHeaderName
	}
	return f.AuthHeaderName
}

// GetAuthHeaderPrefix returns the authentication header prefix with default fallback.
// A custom header name with no prefix means the key is sent bare.
func (f APIFormat) GetAuthHeaderPrefix() string {
	if f.AuthHeaderName != "" && f.AuthHeaderPrefix == "" {
		return ""
	}
	if f.AuthHeaderPrefix == "" {
		return DefaultAuthHeaderPrefix
	}
	return f.AuthHeaderPrefix
}

// GetRequestStyle returns the request body style with default fallback.
func (f APIFormat) GetRequestStyle() string {
	if f.RequestStyle == "" {
		return RequestStyleOpenAI
	}
	return f.RequestStyle
}

// GetResponseJSONPath returns the JSON path for extracting response content with default fallback.
func (f APIFormat) GetResponseJSONPath() string {
	if f.ResponseJSONPath != "" {
		return f.ResponseJSONPath
	}
	if f.GetRequestStyle() == RequestStyleGemini {
		return GeminiResponsePath
	}
	return DefaultResponsePath
}
