package ai

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/doeshing/opsai/internal/domain"
)

func envMap(values map[string]string) func(string) string {
	return func(key string) string { return values[key] }
}

func TestFactoryResolvesEnvironment(t *testing.T) {
	factory := NewFactory(time.Second).WithEnv(envMap(map[string]string{
		"GROQ_API_KEY": "gsk_real",
		"GROQ_MODEL":   "llama-3.1-8b-instant",
	}))

	completer, err := factory.ForModel(domain.ModelDefinition{
		Name:        "groq",
		Endpoint:    "https://api.groq.com/openai/v1",
		AuthEnvVar:  "GROQ_API_KEY",
		ModelID:     "llama-3.3-70b-versatile",
		ModelEnvVar: "GROQ_MODEL",
	})
	require.NoError(t, err)

	assert.Equal(t, "groq", completer.ID())
	assert.Equal(t, "llama-3.1-8b-instant", completer.Model())
	assert.True(t, completer.Configured())
}

func TestFactoryRejectsPlaceholderKeys(t *testing.T) {
	factory := NewFactory(time.Second).WithEnv(envMap(map[string]string{"OPENAI_API_KEY": "sk-your-openai-key"}))

	completer, err := factory.ForModel(domain.ModelDefinition{Name: "openai", AuthEnvVar: "OPENAI_API_KEY", ModelID: "gpt-4o-mini"})
	require.NoError(t, err)
	assert.False(t, completer.Configured())

	_, err = completer.Complete(context.Background(), nil, domain.CompletionOptions{})
	assert.Error(t, err)
}

func TestFactoryRejectsUnknownKind(t *testing.T) {
	_, err := NewFactory(time.Second).ForModel(domain.ModelDefinition{Name: "x", Kind: "grpc"})
	assert.Error(t, err)
}

func TestOpenAICompleterAgainstCompatibleServer(t *testing.T) {
	var captured map[string]interface{}
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/chat/completions", func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &captured)
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"id":"c1","object":"chat.completion","model":"llama3.2","choices":[{"index":0,"message":{"role":"assistant","content":"  {\"ok\":true}  "},"finish_reason":"stop"}]}`)
	})
	mux.HandleFunc("/v1/models", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"object":"list","data":[{"id":"llama3.2","object":"model"}]}`)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	factory := NewFactory(5 * time.Second).WithEnv(envMap(map[string]string{"OLLAMA_BASE_URL": srv.URL + "/v1"}))
	completer, err := factory.ForModel(domain.ModelDefinition{
		Name:           "ollama",
		Endpoint:       "http://localhost:11434/v1",
		EndpointEnvVar: "OLLAMA_BASE_URL",
		KeyOptional:    true,
		ModelID:        "llama3.2",
	})
	require.NoError(t, err)
	require.True(t, completer.Configured())

	reply, err := completer.Complete(context.Background(), []domain.Message{
		{Role: domain.RoleSystem, Content: "be brief"},
		{Role: domain.RoleUserMsg, Content: "hello"},
	}, domain.CompletionOptions{Temperature: 0.2, JSONMode: true})
	require.NoError(t, err)

	assert.Equal(t, `{"ok":true}`, reply)
	assert.Equal(t, "llama3.2", captured["model"])
	assert.Equal(t, map[string]interface{}{"type": "json_object"}, captured["response_format"])
	assert.Len(t, captured["messages"], 2)

	probe, ok := completer.(prober)
	require.True(t, ok)
	assert.True(t, probe.NeedsProbe())
	require.NoError(t, completer.(interface{ Ping(context.Context) error }).Ping(context.Background()))
}

func TestOpenAICompleterPingFailsWhenServerDown(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	factory := NewFactory(time.Second).WithEnv(envMap(nil))
	completer, err := factory.ForModel(domain.ModelDefinition{Name: "ollama", Endpoint: url + "/v1", KeyOptional: true, ModelID: "llama3.2"})
	require.NoError(t, err)

	err = completer.(interface{ Ping(context.Context) error }).Ping(context.Background())
	assert.Error(t, err)
}

func geminiDefinition(endpoint string) domain.ModelDefinition {
	return domain.ModelDefinition{
		Name:       "gemini",
		Kind:       domain.ProviderKindHTTP,
		Endpoint:   endpoint + "/v1beta/models/{model}:generateContent",
		AuthEnvVar: "GEMINI_API_KEY",
		ModelID:    "gemini-1.5-flash",
		APIFormat: domain.APIFormat{
			AuthHeaderName: "x-goog-api-key",
			RequestStyle:   domain.RequestStyleGemini,
		},
	}
}

func TestHTTPCompleterSpeaksGemini(t *testing.T) {
	var (
		path   string
		apiKey string
		body   geminiBody
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		apiKey = r.Header.Get("x-goog-api-key")
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &body)
		io.WriteString(w, `{"candidates":[{"content":{"parts":[{"text":" {\"objective\":\"x\"} "}]}}]}`)
	}))
	defer srv.Close()

	factory := NewFactory(time.Second).WithEnv(envMap(map[string]string{"GEMINI_API_KEY": "AIza-real"}))
	completer, err := factory.ForModel(geminiDefinition(srv.URL))
	require.NoError(t, err)

	reply, err := completer.Complete(context.Background(), []domain.Message{
		{Role: domain.RoleSystem, Content: "plan things"},
		{Role: domain.RoleUserMsg, Content: "install nginx"},
		{Role: domain.RoleAssistant, Content: "ok"},
	}, domain.CompletionOptions{Temperature: 0.3, JSONMode: true})
	require.NoError(t, err)

	assert.Equal(t, `{"objective":"x"}`, reply)
	assert.Equal(t, "/v1beta/models/gemini-1.5-flash:generateContent", path)
	assert.Equal(t, "AIza-real", apiKey)
	require.NotNil(t, body.SystemInstruction)
	assert.Equal(t, "plan things", body.SystemInstruction.Parts[0].Text)
	require.Len(t, body.Contents, 2)
	assert.Equal(t, "user", body.Contents[0].Role)
	assert.Equal(t, "model", body.Contents[1].Role)
	assert.Equal(t, "application/json", body.GenerationConfig.ResponseMimeType)
	assert.Equal(t, domain.DefaultMaxTokens, body.GenerationConfig.MaxOutputTokens)
}

func TestHTTPCompleterSurfacesAPIErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		io.WriteString(w, `{"error":{"code":400,"message":"API key not valid"}}`)
	}))
	defer srv.Close()

	factory := NewFactory(time.Second).WithEnv(envMap(map[string]string{"GEMINI_API_KEY": "AIza-bad"}))
	completer, err := factory.ForModel(geminiDefinition(srv.URL))
	require.NoError(t, err)

	_, err = completer.Complete(context.Background(), []domain.Message{{Role: domain.RoleUserMsg, Content: "hi"}}, domain.CompletionOptions{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "API key not valid")
	assert.Contains(t, err.Error(), "400")
}

func TestHTTPCompleterOpenAIStyle(t *testing.T) {
	var auth string
	var captured map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &captured)
		io.WriteString(w, `{"choices":[{"message":{"content":"pong"}}]}`)
	}))
	defer srv.Close()

	factory := NewFactory(time.Second).WithEnv(envMap(map[string]string{"KEY": "secret"}))
	completer, err := factory.ForModel(domain.ModelDefinition{
		Name:       "proxy",
		Kind:       domain.ProviderKindHTTP,
		Endpoint:   srv.URL,
		AuthEnvVar: "KEY",
		ModelID:    "m",
		MaxTokens:  256,
		APIFormat:  domain.APIFormat{ExtraHeaders: map[string]string{"X-Team": "ops"}},
	})
	require.NoError(t, err)

	reply, err := completer.Complete(context.Background(), []domain.Message{{Role: "user", Content: "ping"}}, domain.CompletionOptions{})
	require.NoError(t, err)

	assert.Equal(t, "pong", reply)
	assert.Equal(t, "Bearer secret", auth)
	assert.Equal(t, "m", captured["model"])
	assert.Equal(t, float64(256), captured["max_tokens"])
}

func TestExtractJSONPath(t *testing.T) {
	data := map[string]interface{}{
		"choices": []interface{}{
			map[string]interface{}{"message": map[string]interface{}{"content": "hi"}},
		},
	}

	got, err := extractJSONPath(data, "choices[0].message.content")
	require.NoError(t, err)
	assert.Equal(t, "hi", got)

	_, err = extractJSONPath(data, "choices[3].message.content")
	assert.Error(t, err)
	_, err = extractJSONPath(data, "choices[0].message")
	assert.Error(t, err)
	_, err = extractJSONPath(data, "missing")
	assert.Error(t, err)
}

func TestDecodeJSONObject(t *testing.T) {
	var out struct {
		A int `json:"a"`
	}
	require.NoError(t, decodeJSONObject("noise {\"a\": 2} trailing", &out))
	assert.Equal(t, 2, out.A)

	assert.ErrorIs(t, decodeJSONObject("no braces here", &out), errNoJSON)
	assert.Error(t, decodeJSONObject("{not json}", &out))
}
