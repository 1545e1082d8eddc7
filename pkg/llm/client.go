// Package llm is the extraction client: one JSON-producing chat-completions
// call per message, guarded by a circuit breaker.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"

	"github.com/buger/jsonparser"

	"github.com/DarkNubi/TutorDexMonoRepo-sub001/pkg/config"
	"github.com/DarkNubi/TutorDexMonoRepo-sub001/pkg/pipeline"
)

// Client is an OpenAI-compatible chat-completions client.
type Client struct {
	baseURL     string
	apiKey      string
	model       string
	maxTokens   int
	temperature float64
	breaker     *Breaker
	httpClient  *http.Client
	logger      *slog.Logger
}

// NewClient builds a client from config. The breaker is shared by all calls
// through this client.
func NewClient(cfg config.LLMConfig, breaker *Breaker) *Client {
	return &Client{
		baseURL:     normalizeBaseURL(cfg.APIURL),
		apiKey:      cfg.APIKey,
		model:       cfg.Model,
		maxTokens:   cfg.MaxTokens,
		temperature: cfg.Temperature,
		breaker:     breaker,
		httpClient:  &http.Client{Timeout: cfg.Timeout},
		logger:      slog.With("component", "llm", "model", cfg.Model),
	}
}

// normalizeBaseURL strips trailing slashes and a "/chat/completions" suffix
// so the path is never doubled when the client appends it.
func normalizeBaseURL(raw string) string {
	s := strings.TrimRight(raw, "/")
	return strings.TrimSuffix(s, "/chat/completions")
}

// Model returns the configured model name for job meta.
func (c *Client) Model() string {
	return c.model
}

// BreakerStats exposes the circuit-breaker counters.
func (c *Client) BreakerStats() BreakerStats {
	return c.breaker.Stats()
}

type chatRequest struct {
	Model       string    `json:"model"`
	Messages    []chatMsg `json:"messages"`
	Temperature float64   `json:"temperature"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
}

type chatMsg struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Usage reports token consumption for one call.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Extract maps one posting to its raw extraction record. The channel hint is
// logging context only; the user message carries the posting text alone.
func (c *Client) Extract(ctx context.Context, text, channelHint, correlationID string) (map[string]any, Usage, error) {
	log := c.logger.With("correlation_id", correlationID, "channel", channelHint)
	log.Debug("Extracting assignment record", "text_len", len(text))

	content, usage, err := c.chat(ctx, systemPrompt, text, correlationID)
	if err != nil {
		return nil, usage, err
	}

	record, err := ParseRecord(content)
	if err != nil {
		log.Warn("LLM response was not a JSON object", "error", err)
		return nil, usage, err
	}
	return record, usage, nil
}

// ConfirmCompilation asks for the identifier codes inside a suspected
// multi-assignment message. Callers must verify each candidate is a verbatim
// substring before acting on it.
func (c *Client) ConfirmCompilation(ctx context.Context, text, correlationID string) ([]string, error) {
	content, _, err := c.chat(ctx, confirmPrompt, text, correlationID)
	if err != nil {
		return nil, err
	}
	return ParseStringArray(content)
}

// chat runs one breaker-guarded call. Any failure counts against the
// breaker; a denial fails fast with llm_circuit_open.
func (c *Client) chat(ctx context.Context, system, user, correlationID string) (string, Usage, error) {
	if !c.breaker.Allow() {
		return "", Usage{}, pipeline.NewError(pipeline.KindLLMCircuitOpen, pipeline.StageLLM, "circuit open")
	}

	content, usage, err := c.doChat(ctx, system, user, correlationID)
	if err != nil {
		c.breaker.RecordFailure()
		return "", usage, err
	}
	c.breaker.RecordSuccess()
	return content, usage, nil
}

func (c *Client) doChat(ctx context.Context, system, user, correlationID string) (string, Usage, error) {
	payload := chatRequest{
		Model: c.model,
		Messages: []chatMsg{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
		Temperature: c.temperature,
		MaxTokens:   c.maxTokens,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", Usage{}, pipeline.Wrap(pipeline.KindLLMError, pipeline.StageLLM, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", Usage{}, pipeline.Wrap(pipeline.KindLLMError, pipeline.StageLLM, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	if correlationID != "" {
		req.Header.Set("X-Correlation-ID", correlationID)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", Usage{}, pipeline.Wrap(classifyTransport(err), pipeline.StageLLM, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", Usage{}, pipeline.Wrap(pipeline.KindLLMConnection, pipeline.StageLLM, err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", Usage{}, pipeline.NewError(pipeline.KindLLMError, pipeline.StageLLM,
			fmt.Sprintf("HTTP %d: %s", resp.StatusCode, pipeline.Truncate(string(respBody))))
	}

	if msg, err := jsonparser.GetString(respBody, "error", "message"); err == nil && msg != "" {
		return "", Usage{}, pipeline.NewError(pipeline.KindLLMBadResponse, pipeline.StageLLM, "API error: "+msg)
	}

	content, err := jsonparser.GetString(respBody, "choices", "[0]", "message", "content")
	if err != nil || strings.TrimSpace(content) == "" {
		return "", Usage{}, pipeline.NewError(pipeline.KindLLMBadResponse, pipeline.StageLLM, "no content in response")
	}

	var usage Usage
	if pt, err := jsonparser.GetInt(respBody, "usage", "prompt_tokens"); err == nil {
		usage.PromptTokens = int(pt)
	}
	if ct, err := jsonparser.GetInt(respBody, "usage", "completion_tokens"); err == nil {
		usage.CompletionTokens = int(ct)
	}
	if tt, err := jsonparser.GetInt(respBody, "usage", "total_tokens"); err == nil {
		usage.TotalTokens = int(tt)
	}

	return content, usage, nil
}

// classifyTransport splits client-side failures into timeout vs connection.
func classifyTransport(err error) pipeline.Kind {
	if errors.Is(err, context.DeadlineExceeded) {
		return pipeline.KindLLMTimeout
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return pipeline.KindLLMTimeout
	}
	return pipeline.KindLLMConnection
}
