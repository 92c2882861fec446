package perception

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/grim-sudo/Automation/internal/config"
)

func newTestOpenAIClient(url string) *OpenAIClient {
	c := NewOpenAIClient(OpenAIConfig{APIKey: "test-key", BaseURL: url, Model: "test-model", Timeout: 5 * time.Second})
	c.backoff = time.Millisecond
	return c
}

func TestOpenAIClient_CompleteWithSystem(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var req OpenAIRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "test-model", req.Model)
		require.Len(t, req.Messages, 2)
		assert.Equal(t, "system", req.Messages[0].Role)
		assert.Equal(t, "sys", req.Messages[0].Content)

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"1","choices":[{"message":{"content":"  {\"intent\":\"help\"}  "}}]}`))
	}))
	defer server.Close()

	got, err := newTestOpenAIClient(server.URL).CompleteWithSystem(context.Background(), "sys", "user")
	require.NoError(t, err)
	assert.Equal(t, `{"intent":"help"}`, got)
}

func TestOpenAIClient_RetriesRateLimit(t *testing.T) {
	var attempts int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&attempts, 1) < 3 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte(`{"choices":[{"message":{"content":"ok"}}]}`))
	}))
	defer server.Close()

	got, err := newTestOpenAIClient(server.URL).CompleteWithSystem(context.Background(), "", "hi")
	require.NoError(t, err)
	assert.Equal(t, "ok", got)
	assert.Equal(t, int32(3), atomic.LoadInt32(&attempts))
}

func TestOpenAIClient_RateLimitExhausted(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	_, err := newTestOpenAIClient(server.URL).CompleteWithSystem(context.Background(), "", "hi")
	assert.ErrorIs(t, err, ErrRateLimited)
}

func TestOpenAIClient_DropsResponseFormatWhenRejected(t *testing.T) {
	var sawFormat []bool
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req OpenAIRequest
		json.NewDecoder(r.Body).Decode(&req)
		sawFormat = append(sawFormat, req.ResponseFormat != nil)
		if req.ResponseFormat != nil {
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`{"error":{"message":"response_format not supported"}}`))
			return
		}
		w.Write([]byte(`{"choices":[{"message":{"content":"done"}}]}`))
	}))
	defer server.Close()

	got, err := newTestOpenAIClient(server.URL).CompleteWithSystem(context.Background(), "", "hi")
	require.NoError(t, err)
	assert.Equal(t, "done", got)
	assert.Equal(t, []bool{true, false}, sawFormat)
}

func TestOpenAIClient_Errors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte("bad key"))
	}))
	defer server.Close()

	_, err := newTestOpenAIClient(server.URL).CompleteWithSystem(context.Background(), "", "hi")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")

	noKey := NewOpenAIClient(OpenAIConfig{BaseURL: server.URL})
	_, err = noKey.CompleteWithSystem(context.Background(), "", "hi")
	assert.Error(t, err)
}

func TestNewClientFromConfig(t *testing.T) {
	_, err := NewClientFromConfig(context.Background(), config.LLMConfig{Enabled: true})
	assert.ErrorIs(t, err, ErrModelNotConfigured)

	c, err := NewClientFromConfig(context.Background(), config.LLMConfig{Enabled: true, Provider: "openrouter", APIKey: "k"})
	require.NoError(t, err)
	oc, ok := c.(*OpenAIClient)
	require.True(t, ok)
	assert.Equal(t, config.DefaultOpenRouterBaseURL, oc.baseURL)
	assert.Equal(t, config.DefaultOpenRouterModel, oc.model)

	c, err = NewClientFromConfig(context.Background(), config.LLMConfig{Enabled: true, Provider: "openai", APIKey: "k", Model: "m"})
	require.NoError(t, err)
	assert.Equal(t, "m", c.(*OpenAIClient).model)

	_, err = NewClientFromConfig(context.Background(), config.LLMConfig{Enabled: true, Provider: "carrier-pigeon", APIKey: "k"})
	assert.Error(t, err)
}
