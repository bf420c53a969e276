package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseJSONObjectPlain(t *testing.T) {
	result, err := ParseJSONObject(`{"key": "value", "num": 42}`)
	require.NoError(t, err)
	assert.JSONEq(t, `"value"`, string(result["key"]))
	assert.JSONEq(t, `42`, string(result["num"]))
}

func TestParseJSONObjectWithCodeFence(t *testing.T) {
	result, err := ParseJSONObject("```json\n{\"key\": \"value\"}\n```")
	require.NoError(t, err)
	assert.JSONEq(t, `"value"`, string(result["key"]))
}

func TestParseJSONObjectWithPlainFence(t *testing.T) {
	result, err := ParseJSONObject("```\n{\"key\": \"value\"}\n```")
	require.NoError(t, err)
	assert.JSONEq(t, `"value"`, string(result["key"]))
}

func TestParseJSONObjectInvalid(t *testing.T) {
	_, err := ParseJSONObject("not json at all")
	assert.Error(t, err)
}

func TestParseJSONObjectRejectsArray(t *testing.T) {
	_, err := ParseJSONObject(`["a", "b"]`)
	assert.Error(t, err)
}

func TestParseJSONObjectEmpty(t *testing.T) {
	_, err := ParseJSONObject("  \n ")
	assert.True(t, errors.Is(err, ErrEmptyResponse))
}

func TestParseJSONObjectWhitespace(t *testing.T) {
	result, err := ParseJSONObject("  \n  {\"key\": \"value\"}  \n  ")
	require.NoError(t, err)
	assert.Contains(t, result, "key")
}

func TestOllamaGenerate(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/chat", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Write([]byte(`{"message": {"content": "{\"ok\": true}"}}`))
	}))
	defer srv.Close()

	p := NewOllamaProvider("qwen2.5:7b", srv.URL)
	out, err := p.Generate(context.Background(), "sys", "hello", Options{MaxTokens: 100, JSONMode: true})
	require.NoError(t, err)
	assert.Equal(t, `{"ok": true}`, out)
	assert.Equal(t, "json", got["format"])

	msgs := got["messages"].([]any)
	require.Len(t, msgs, 2)
	assert.Equal(t, "system", msgs[0].(map[string]any)["role"])
}

func TestOpenAIGenerateAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte("slow down"))
	}))
	defer srv.Close()

	t.Setenv("TEST_OPENAI_KEY", "secret")
	p := NewOpenAIProvider("gpt-4o-mini", "TEST_OPENAI_KEY")
	p.BaseURL = srv.URL

	_, err := p.Generate(context.Background(), "", "hello", Options{})
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusTooManyRequests, apiErr.StatusCode)
	assert.True(t, apiErr.Retryable())
}

func TestAzureGenerate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/openai/deployments/gpt-4.1/chat/completions", r.URL.Path)
		assert.Equal(t, "2025-04-01-preview", r.URL.Query().Get("api-version"))
		assert.Equal(t, "k", r.Header.Get("api-key"))
		w.Write([]byte(`{"choices": [{"message": {"content": "done"}}]}`))
	}))
	defer srv.Close()

	t.Setenv("TEST_AZURE_KEY", "k")
	p := NewAzureOpenAIProvider(srv.URL+"/", "gpt-4.1", "2025-04-01-preview", "TEST_AZURE_KEY")
	out, err := p.Generate(context.Background(), "sys", "hello", Options{})
	require.NoError(t, err)
	assert.Equal(t, "done", out)
}

func TestOpenAINotConfigured(t *testing.T) {
	p := NewOpenAIProvider("gpt-4o-mini", "RECIPESORTER_UNSET_KEY")
	assert.False(t, p.IsConfigured())
	_, err := p.Generate(context.Background(), "", "x", Options{})
	assert.Error(t, err)
}
