package llm

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorClassification(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name       string
		statusCode int
		body       string
		expected   string
	}{
		{"rate limit 429", 429, `{"error": {"message": "Rate limit exceeded"}}`, "rate_limit"},
		{"gemini resource exhausted", 429, `RESOURCE_EXHAUSTED: quota`, "rate_limit"},
		{"server error 500", 500, `{"error": {"message": "Internal server error"}}`, "retryable"},
		{"bad gateway 502", 502, "", "retryable"},
		{"auth error 401", 401, `{"error": {"message": "Invalid API key"}}`, "auth"},
		{"forbidden 403", 403, `{"error": {"message": "Access denied"}}`, "auth"},
		{"billing error 402", 402, `{"error": {"message": "Insufficient credits"}}`, "billing"},
		{"bad request 400", 400, `{"error": {"message": "Invalid request"}}`, "bad_request"},
		{"overloaded 529", 529, `{"error": {"type": "overloaded_error"}}`, "overloaded"},
		{"context length", 400, `{"error": {"message": "context_length_exceeded"}}`, "context"},
		{"gateway timeout text", 504, `upstream timed out`, "timeout"},
		{"not found", 404, `no such model`, "fatal"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := classifyAPIError(tt.statusCode, tt.body).String()
			if got != tt.expected {
				t.Errorf("classifyAPIError(%d, %q) = %q, want %q", tt.statusCode, tt.body, got, tt.expected)
			}
		})
	}
}

func TestIsTransient(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"canceled", context.Canceled, false},
		{"deadline", context.DeadlineExceeded, true},
		{"500", newAPIError("x", 500, ""), true},
		{"wrapped 429", errors.Join(errors.New("outer"), newAPIError("x", 429, "")), true},
		{"401", newAPIError("x", 401, ""), false},
		{"plain", errors.New("boom"), false},
	}
	for _, tt := range tests {
		if got := IsTransient(tt.err); got != tt.want {
			t.Errorf("IsTransient(%s) = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestParseProvider(t *testing.T) {
	t.Parallel()
	p, err := ParseProvider("Typhoon")
	require.NoError(t, err)
	assert.Equal(t, ProviderTyphoon, p)

	p, err = ParseProvider("")
	require.NoError(t, err)
	assert.Equal(t, ProviderGemini, p)

	_, err = ParseProvider("claude")
	assert.Error(t, err)
}

func TestConfigEffective(t *testing.T) {
	t.Parallel()
	c := Config{Provider: ProviderTyphoon}.Effective()
	assert.Equal(t, DefaultTyphoonModel, c.Model)
	assert.Equal(t, DefaultTyphoonURL, c.BaseURL)

	g := Config{}.Effective()
	assert.Equal(t, ProviderGemini, g.Provider)
	assert.Equal(t, DefaultGeminiModel, g.Model)
	assert.Empty(t, g.BaseURL)
}

func TestOpenAIBackend_Complete(t *testing.T) {
	t.Parallel()

	var got chatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer k", r.Header.Get("Authorization"))
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &got)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"  {\"ok\":true}  "},"finish_reason":"stop"}]}`))
	}))
	defer srv.Close()

	b := NewOpenAIBackend(Config{Provider: ProviderTyphoon, BaseURL: srv.URL + "/", APIKey: "k", Model: "m"}, nil)
	out, err := b.Complete(context.Background(), Request{
		System:   "sys",
		Messages: []Message{{Role: RoleUser, Content: "hi"}, {Role: RoleAssistant, Content: "hello"}, {Role: RoleUser, Content: "again"}},
		JSON:     true,
	})
	require.NoError(t, err)
	assert.Equal(t, `{"ok":true}`, out)

	assert.Equal(t, "m", got.Model)
	require.Len(t, got.Messages, 4)
	assert.Equal(t, "system", got.Messages[0].Role)
	assert.Equal(t, "assistant", got.Messages[2].Role)
	require.NotNil(t, got.ResponseFormat)
	assert.Equal(t, "json_object", got.ResponseFormat.Type)
}

func TestOpenAIBackend_APIError(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "3")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"message":"slow down"}}`))
	}))
	defer srv.Close()

	b := NewOpenAIBackend(Config{Provider: ProviderTyphoon, BaseURL: srv.URL, APIKey: "k"}, nil)
	_, err := b.Complete(context.Background(), Request{Messages: []Message{{Role: RoleUser, Content: "x"}}})

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, ErrorRateLimit, apiErr.Kind)
	assert.Equal(t, 3, apiErr.RetryAfterSec)
	assert.True(t, IsTransient(err))
}

type scriptedBackend struct {
	calls atomic.Int32
	errs  []error
}

func (s *scriptedBackend) Name() string { return "scripted" }

func (s *scriptedBackend) Complete(ctx context.Context, req Request) (string, error) {
	n := int(s.calls.Add(1)) - 1
	if n < len(s.errs) && s.errs[n] != nil {
		return "", s.errs[n]
	}
	return "ok", nil
}

func TestWithRetry(t *testing.T) {
	t.Parallel()

	t.Run("retries transient once", func(t *testing.T) {
		inner := &scriptedBackend{errs: []error{newAPIError("x", 503, "")}}
		out, err := WithRetry(inner, 1, time.Millisecond, nil).Complete(context.Background(), Request{})
		require.NoError(t, err)
		assert.Equal(t, "ok", out)
		assert.EqualValues(t, 2, inner.calls.Load())
	})

	t.Run("gives up after one retry", func(t *testing.T) {
		inner := &scriptedBackend{errs: []error{newAPIError("x", 503, ""), newAPIError("x", 503, "")}}
		_, err := WithRetry(inner, 1, time.Millisecond, nil).Complete(context.Background(), Request{})
		require.Error(t, err)
		assert.True(t, IsTransient(err))
		assert.EqualValues(t, 2, inner.calls.Load())
	})

	t.Run("does not retry fatal", func(t *testing.T) {
		inner := &scriptedBackend{errs: []error{newAPIError("x", 401, "")}}
		_, err := WithRetry(inner, 1, time.Millisecond, nil).Complete(context.Background(), Request{})
		require.Error(t, err)
		assert.EqualValues(t, 1, inner.calls.Load())
	})

	t.Run("honours cancellation", func(t *testing.T) {
		inner := &scriptedBackend{errs: []error{newAPIError("x", 503, "")}}
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := WithRetry(inner, 1, time.Hour, nil).Complete(ctx, Request{})
		assert.ErrorIs(t, err, context.Canceled)
	})
}
