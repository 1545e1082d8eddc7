package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DarkNubi/TutorDexMonoRepo-sub001/pkg/config"
	"github.com/DarkNubi/TutorDexMonoRepo-sub001/pkg/pipeline"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	cfg := config.LLMConfig{
		APIURL:    srv.URL,
		APIKey:    "test-key",
		Model:     "test-model",
		MaxTokens: 512,
		Timeout:   5 * time.Second,
	}
	return NewClient(cfg, NewBreaker(config.BreakerConfig{FailureThreshold: 3, Timeout: time.Minute}))
}

func chatCompletionBody(content string) string {
	b, _ := json.Marshal(map[string]any{
		"choices": []map[string]any{
			{"message": map[string]any{"content": content}},
		},
		"usage": map[string]int{"prompt_tokens": 100, "completion_tokens": 50, "total_tokens": 150},
	})
	return string(b)
}

func TestExtractSuccess(t *testing.T) {
	var gotPath string
	var gotReq chatRequest
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(chatCompletionBody(`{"assignment_code": "A123", "subjects": ["Math"]}`)))
	})

	record, usage, err := client.Extract(context.Background(), "Sec 3 Math at Tampines", "@chan", "corr-1")
	require.NoError(t, err)

	assert.Equal(t, "/chat/completions", gotPath)
	assert.Equal(t, "test-model", gotReq.Model)
	require.Len(t, gotReq.Messages, 2)
	assert.Equal(t, "system", gotReq.Messages[0].Role)
	assert.Equal(t, "Sec 3 Math at Tampines", gotReq.Messages[1].Content)

	assert.Equal(t, "A123", record["assignment_code"])
	assert.Equal(t, 100, usage.PromptTokens)
	assert.Equal(t, 150, usage.TotalTokens)
}

func TestExtractHTTPError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model overloaded", http.StatusServiceUnavailable)
	})

	_, _, err := client.Extract(context.Background(), "text", "", "")
	require.Error(t, err)
	assert.Equal(t, pipeline.KindLLMError, pipeline.KindOf(err))
}

func TestExtractAPIErrorBody(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"error": {"message": "invalid model"}}`))
	})

	_, _, err := client.Extract(context.Background(), "text", "", "")
	require.Error(t, err)
	assert.Equal(t, pipeline.KindLLMBadResponse, pipeline.KindOf(err))
	assert.Contains(t, err.Error(), "invalid model")
}

func TestExtractEmptyChoices(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"choices": []}`))
	})

	_, _, err := client.Extract(context.Background(), "text", "", "")
	require.Error(t, err)
	assert.Equal(t, pipeline.KindLLMBadResponse, pipeline.KindOf(err))
}

func TestExtractInvalidJSONContent(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(chatCompletionBody("I could not find an assignment here.")))
	})

	_, _, err := client.Extract(context.Background(), "text", "", "")
	require.Error(t, err)
	assert.Equal(t, pipeline.KindLLMInvalidJSON, pipeline.KindOf(err))
}

func TestExtractCircuitOpens(t *testing.T) {
	calls := 0
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		http.Error(w, "down", http.StatusBadGateway)
	})

	for i := 0; i < 3; i++ {
		_, _, err := client.Extract(context.Background(), "text", "", "")
		require.Error(t, err)
		assert.Equal(t, pipeline.KindLLMError, pipeline.KindOf(err))
	}

	// breaker is open: no HTTP call happens
	_, _, err := client.Extract(context.Background(), "text", "", "")
	require.Error(t, err)
	assert.Equal(t, pipeline.KindLLMCircuitOpen, pipeline.KindOf(err))
	assert.Equal(t, 3, calls)
	assert.Equal(t, "open", client.BreakerStats().State)
}

func TestExtractConnectionRefused(t *testing.T) {
	cfg := config.LLMConfig{APIURL: "http://127.0.0.1:1", Model: "m", Timeout: time.Second}
	client := NewClient(cfg, NewBreaker(config.BreakerConfig{FailureThreshold: 5, Timeout: time.Minute}))

	_, _, err := client.Extract(context.Background(), "text", "", "")
	require.Error(t, err)
	assert.Equal(t, pipeline.KindLLMConnection, pipeline.KindOf(err))
}

func TestConfirmCompilation(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var req chatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Contains(t, req.Messages[0].Content, "JSON array")
		w.Write([]byte(chatCompletionBody(`["A101", "A102"]`)))
	})

	ids, err := client.ConfirmCompilation(context.Background(), "bundle text", "corr-2")
	require.NoError(t, err)
	assert.Equal(t, []string{"A101", "A102"}, ids)
}

func TestNormalizeBaseURL(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"http://host/v1", "http://host/v1"},
		{"http://host/v1/", "http://host/v1"},
		{"http://host/v1/chat/completions", "http://host/v1"},
		{"http://host/v1/chat/completions/", "http://host/v1"},
		{"", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, normalizeBaseURL(tt.in), "in=%q", tt.in)
	}
}
