package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Provider is the interface for LLM providers.
type Provider interface {
	Generate(ctx context.Context, system, prompt string, opts Options) (string, error)
	IsConfigured() bool
	Name() string
}

// Options tune a single generation.
type Options struct {
	MaxTokens   int
	Temperature float64
	// JSONMode asks providers that support it for a JSON object response.
	JSONMode bool
}

// APIError is a non-200 answer from a provider.
type APIError struct {
	Provider   string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s API returned %d: %s", e.Provider, e.StatusCode, e.Body)
}

// Retryable reports whether the status suggests a transient condition.
func (e *APIError) Retryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

func chatMessages(system, prompt string) []map[string]string {
	var msgs []map[string]string
	if system != "" {
		msgs = append(msgs, map[string]string{"role": "system", "content": system})
	}
	return append(msgs, map[string]string{"role": "user", "content": prompt})
}

// postJSON sends body and decodes a 200 response into out.
func postJSON(ctx context.Context, client *http.Client, provider, url string, headers map[string]string, body, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("%s API error: %w", provider, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &APIError{Provider: provider, StatusCode: resp.StatusCode, Body: string(respBody)}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

// OllamaProvider is a local Ollama LLM provider.
type OllamaProvider struct {
	Model   string
	BaseURL string
	client  *http.Client
}

// NewOllamaProvider creates a new Ollama provider.
func NewOllamaProvider(model, baseURL string) *OllamaProvider {
	return &OllamaProvider{
		Model:   model,
		BaseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: 120 * time.Second},
	}
}

func (o *OllamaProvider) Name() string { return "ollama" }

// IsConfigured checks if Ollama is running and the model is available.
func (o *OllamaProvider) IsConfigured() bool {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, o.BaseURL+"/api/tags", nil)
	if err != nil {
		return false
	}

	resp, err := o.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false
	}

	var result struct {
		Models []struct {
			Name string `json:"name"`
		} `json:"models"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return false
	}

	modelBase := strings.SplitN(o.Model, ":", 2)[0]
	for _, m := range result.Models {
		if strings.Contains(m.Name, modelBase) {
			return true
		}
	}
	return false
}

// Generate sends a prompt to Ollama and returns the response.
func (o *OllamaProvider) Generate(ctx context.Context, system, prompt string, opts Options) (string, error) {
	body := map[string]any{
		"model":    o.Model,
		"messages": chatMessages(system, prompt),
		"stream":   false,
		"options": map[string]any{
			"num_predict": opts.MaxTokens,
			"temperature": opts.Temperature,
		},
	}
	if opts.JSONMode {
		body["format"] = "json"
	}

	var result struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	}
	if err := postJSON(ctx, o.client, o.Name(), o.BaseURL+"/api/chat", nil, body, &result); err != nil {
		return "", err
	}
	return result.Message.Content, nil
}

type chatCompletion struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

func (c chatCompletion) content(provider string) (string, error) {
	if len(c.Choices) == 0 {
		return "", fmt.Errorf("no choices in %s response", provider)
	}
	return c.Choices[0].Message.Content, nil
}

func chatBody(model, system, prompt string, opts Options) map[string]any {
	body := map[string]any{
		"messages":    chatMessages(system, prompt),
		"max_tokens":  opts.MaxTokens,
		"temperature": opts.Temperature,
	}
	if model != "" {
		body["model"] = model
	}
	if opts.JSONMode {
		body["response_format"] = map[string]string{"type": "json_object"}
	}
	return body
}

// OpenAIProvider is an OpenAI API provider.
type OpenAIProvider struct {
	Model   string
	APIKey  string
	BaseURL string
	client  *http.Client
}

// NewOpenAIProvider creates a new OpenAI provider.
func NewOpenAIProvider(model, apiKeyEnv string) *OpenAIProvider {
	return &OpenAIProvider{
		Model:   model,
		APIKey:  os.Getenv(apiKeyEnv),
		BaseURL: "https://api.openai.com/v1",
		client:  &http.Client{Timeout: 120 * time.Second},
	}
}

func (o *OpenAIProvider) Name() string { return "openai" }

// IsConfigured checks if the API key is set.
func (o *OpenAIProvider) IsConfigured() bool {
	return o.APIKey != ""
}

// Generate sends a prompt to OpenAI and returns the response.
func (o *OpenAIProvider) Generate(ctx context.Context, system, prompt string, opts Options) (string, error) {
	if o.APIKey == "" {
		return "", fmt.Errorf("OpenAI API key not configured")
	}

	var result chatCompletion
	headers := map[string]string{"Authorization": "Bearer " + o.APIKey}
	if err := postJSON(ctx, o.client, o.Name(), o.BaseURL+"/chat/completions", headers, chatBody(o.Model, system, prompt, opts), &result); err != nil {
		return "", err
	}
	return result.content(o.Name())
}

// AzureOpenAIProvider talks to an Azure OpenAI deployment.
type AzureOpenAIProvider struct {
	Endpoint   string
	Deployment string
	APIVersion string
	APIKey     string
	client     *http.Client
}

// NewAzureOpenAIProvider creates a new Azure OpenAI provider.
func NewAzureOpenAIProvider(endpoint, deployment, apiVersion, apiKeyEnv string) *AzureOpenAIProvider {
	return &AzureOpenAIProvider{
		Endpoint:   strings.TrimRight(endpoint, "/"),
		Deployment: deployment,
		APIVersion: apiVersion,
		APIKey:     os.Getenv(apiKeyEnv),
		client:     &http.Client{Timeout: 120 * time.Second},
	}
}

func (a *AzureOpenAIProvider) Name() string { return "azure" }

// IsConfigured checks that endpoint, deployment and key are set.
func (a *AzureOpenAIProvider) IsConfigured() bool {
	return a.Endpoint != "" && a.Deployment != "" && a.APIKey != ""
}

// Generate sends a prompt to the Azure deployment and returns the response.
func (a *AzureOpenAIProvider) Generate(ctx context.Context, system, prompt string, opts Options) (string, error) {
	if !a.IsConfigured() {
		return "", fmt.Errorf("Azure OpenAI endpoint, deployment or key not configured")
	}

	url := fmt.Sprintf("%s/openai/deployments/%s/chat/completions?api-version=%s", a.Endpoint, a.Deployment, a.APIVersion)
	var result chatCompletion
	headers := map[string]string{"api-key": a.APIKey}
	if err := postJSON(ctx, a.client, a.Name(), url, headers, chatBody("", system, prompt, opts), &result); err != nil {
		return "", err
	}
	return result.content(a.Name())
}

// Settings selects and configures a provider.
type Settings struct {
	Provider        string
	Model           string
	OllamaURL       string
	OpenAIModel     string
	APIKeyEnv       string
	AzureEndpoint   string
	AzureDeployment string
	AzureAPIVersion string
}

// CreateProvider creates an LLM provider based on configuration. Ollama falls
// back to OpenAI when the local model is unavailable. It returns nil when no
// provider can be used.
func CreateProvider(s Settings, logger *zap.Logger) Provider {
	if logger == nil {
		logger = zap.NewNop()
	}

	switch strings.ToLower(s.Provider) {
	case "azure":
		p := NewAzureOpenAIProvider(s.AzureEndpoint, s.AzureDeployment, s.AzureAPIVersion, s.APIKeyEnv)
		if p.IsConfigured() {
			logger.Info("using Azure OpenAI", zap.String("deployment", s.AzureDeployment))
			return p
		}
		logger.Warn("Azure OpenAI not configured", zap.String("api_key_env", s.APIKeyEnv))
		return nil
	case "ollama":
		p := NewOllamaProvider(s.Model, s.OllamaURL)
		if p.IsConfigured() {
			logger.Info("using Ollama", zap.String("model", s.Model))
			return p
		}
		logger.Warn("Ollama not available, trying OpenAI fallback", zap.String("url", s.OllamaURL))
	}

	p := NewOpenAIProvider(s.OpenAIModel, s.APIKeyEnv)
	if p.IsConfigured() {
		logger.Info("using OpenAI", zap.String("model", s.OpenAIModel))
		return p
	}

	logger.Error("no LLM provider available; check Ollama is running or set the API key",
		zap.String("api_key_env", s.APIKeyEnv))
	return nil
}
