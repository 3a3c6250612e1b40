package enrich

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/saas-radar/internal/cost"
	"github.com/sells-group/saas-radar/pkg/anthropic"
)

const sampleAnalysis = `{"analyzed_tools":[{"tool_name":"AI Resume Optimizer","category":"Productivity","trend_signal":"Rising","pain_point":"Tailoring resumes is slow","micro_saas_ideas":["Resume keyword checker"]}]}`

func TestAnthropicBackend_Complete(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "claude-haiku-4-5-20251001", body["model"])
		assert.InDelta(t, 0.3, body["temperature"], 0.0001)
		assert.EqualValues(t, 2048, body["max_tokens"])

		system, ok := body["system"].([]any)
		require.True(t, ok)
		require.Len(t, system, 1)
		block := system[0].(map[string]any)
		assert.Contains(t, block["text"], "analyzed_tools")
		assert.NotNil(t, block["cache_control"])

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":          "msg_1",
			"type":        "message",
			"role":        "assistant",
			"content":     []map[string]any{{"type": "text", "text": "```json\n" + sampleAnalysis + "\n```"}},
			"model":       "claude-haiku-4-5-20251001",
			"stop_reason": "end_turn",
			"usage": map[string]any{
				"input_tokens":                800,
				"output_tokens":               200,
				"cache_creation_input_tokens": 400,
				"cache_read_input_tokens":     0,
			},
		})
	}))
	defer ts.Close()

	b := NewAnthropicBackend(anthropic.NewClient("test-key", anthropic.ClientOptions{BaseURL: ts.URL}), "claude-haiku-4-5-20251001")
	assert.Equal(t, "anthropic", b.Name())

	text, usage, err := b.Complete(context.Background(), systemPrompt, "Analyze these tools:\n[]", 2048)
	require.NoError(t, err)
	assert.Contains(t, text, "AI Resume Optimizer")
	assert.Equal(t, Usage{InputTokens: 800, OutputTokens: 200, CacheWriteTokens: 400}, usage)

	entries, err := parseResponse(text)
	require.NoError(t, err)
	assert.Len(t, entries[nameKey("ai resume optimizer")], 1)

	calc := cost.NewCalculator(cost.DefaultRates())
	// 800*0.8 + 200*4.0 + 400*0.8*1.25 per million.
	assert.InDelta(t, 0.00184, b.Cost(calc, usage), 1e-9)
}

func TestAnthropicBackend_Truncated(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":          "msg_2",
			"type":        "message",
			"role":        "assistant",
			"content":     []map[string]any{{"type": "text", "text": `{"analyzed_tools":[`}},
			"model":       "claude-haiku-4-5-20251001",
			"stop_reason": "max_tokens",
			"usage":       map[string]any{"input_tokens": 10, "output_tokens": 64},
		})
	}))
	defer ts.Close()

	b := NewAnthropicBackend(anthropic.NewClient("test-key", anthropic.ClientOptions{BaseURL: ts.URL}), "claude-haiku-4-5-20251001")
	_, usage, err := b.Complete(context.Background(), "sys", "user", 64)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "truncated")
	assert.Equal(t, 64, usage.OutputTokens, "usage is reported so the call is still charged")
}

func TestOpenAIBackend_Complete(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var req openai.ChatCompletionRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "gpt-4o-mini", req.Model)
		require.NotNil(t, req.ResponseFormat)
		assert.Equal(t, openai.ChatCompletionResponseFormatTypeJSONObject, req.ResponseFormat.Type)
		require.Len(t, req.Messages, 2)
		assert.Equal(t, openai.ChatMessageRoleSystem, req.Messages[0].Role)
		assert.Equal(t, openai.ChatMessageRoleUser, req.Messages[1].Role)

		_ = json.NewEncoder(w).Encode(openai.ChatCompletionResponse{
			ID:    "chatcmpl-1",
			Model: "gpt-4o-mini",
			Choices: []openai.ChatCompletionChoice{{
				Message:      openai.ChatCompletionMessage{Role: "assistant", Content: sampleAnalysis},
				FinishReason: openai.FinishReasonStop,
			}},
			Usage: openai.Usage{PromptTokens: 1000, CompletionTokens: 500, TotalTokens: 1500},
		})
	}))
	defer ts.Close()

	b := NewOpenAIBackend("test-key", ts.URL, "")
	assert.Equal(t, "gpt-4o-mini", b.Model())

	text, usage, err := b.Complete(context.Background(), systemPrompt, "Analyze these tools:\n[]", 1024)
	require.NoError(t, err)
	assert.Equal(t, sampleAnalysis, text)
	assert.Equal(t, Usage{InputTokens: 1000, OutputTokens: 500}, usage)

	calc := cost.NewCalculator(cost.DefaultRates())
	assert.InDelta(t, 0.00045, b.Cost(calc, usage), 1e-9)
}

func TestOpenAIBackend_ErrorStatus(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"error":{"message":"overloaded","type":"server_error"}}`))
	}))
	defer ts.Close()

	b := NewOpenAIBackend("test-key", ts.URL, "gpt-4o-mini")
	_, _, err := b.Complete(context.Background(), "sys", "user", 1024)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "openai: create chat completion")
}

func TestOpenAIBackend_NoChoices(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(openai.ChatCompletionResponse{ID: "chatcmpl-2"})
	}))
	defer ts.Close()

	b := NewOpenAIBackend("test-key", ts.URL, "gpt-4o-mini")
	_, _, err := b.Complete(context.Background(), "sys", "user", 1024)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no choices")
}
