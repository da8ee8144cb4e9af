package translate

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/openai/openai-go/option"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vedran77/courier/internal/config"
)

func TestTranslator_NotConfigured(t *testing.T) {
	tr := NewTranslator(config.OpenAIConfig{})
	assert.False(t, tr.Enabled())

	_, err := tr.Translate(context.Background(), "hola", "en")
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestTranslator_Translate(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		require.NoError(t, json.Unmarshal(body, &got))

		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{
			"id": "chatcmpl-1",
			"object": "chat.completion",
			"created": 1700000000,
			"model": "gpt-4o-mini",
			"choices": [{"index": 0, "finish_reason": "stop", "message": {"role": "assistant", "content": " hello \n"}}],
			"usage": {"prompt_tokens": 12, "completion_tokens": 1, "total_tokens": 13}
		}`)
	}))
	defer srv.Close()

	tr := NewTranslator(config.OpenAIConfig{APIKey: "sk-test", BaseURL: srv.URL + "/v1/"}, option.WithMaxRetries(0))
	require.True(t, tr.Enabled())

	out, err := tr.Translate(context.Background(), "hola", "en")
	require.NoError(t, err)
	assert.Equal(t, "hello", out)

	assert.Equal(t, "gpt-4o-mini", got["model"])
	msgs, ok := got["messages"].([]any)
	require.True(t, ok)
	require.Len(t, msgs, 2)
	assert.Equal(t, "hola", msgs[1].(map[string]any)["content"])
}

func TestTranslator_UpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"message":"boom"}}`, http.StatusInternalServerError)
	}))
	defer srv.Close()

	tr := NewTranslator(config.OpenAIConfig{APIKey: "sk-test", BaseURL: srv.URL + "/v1/"}, option.WithMaxRetries(0))
	_, err := tr.Translate(context.Background(), "hola", "en")
	assert.Error(t, err)
}
