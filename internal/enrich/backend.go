package enrich

import (
	"context"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/sashabaranov/go-openai"

	"github.com/sells-group/saas-radar/internal/cost"
	"github.com/sells-group/saas-radar/pkg/anthropic"
)

// Usage is the token consumption of one inference call.
type Usage struct {
	InputTokens      int
	OutputTokens     int
	CacheWriteTokens int
	CacheReadTokens  int
}

// Backend is an inference service that answers one prompt.
type Backend interface {
	Name() string
	Model() string
	Complete(ctx context.Context, system, user string, maxTokens int) (string, Usage, error)
	// Cost prices usage with calc.
	Cost(calc *cost.Calculator, u Usage) float64
}

// AnthropicBackend calls the Anthropic Messages API.
type AnthropicBackend struct {
	client anthropic.Client
	model  string
}

// NewAnthropicBackend creates an Anthropic backend.
func NewAnthropicBackend(client anthropic.Client, model string) *AnthropicBackend {
	return &AnthropicBackend{client: client, model: model}
}

func (b *AnthropicBackend) Name() string  { return "anthropic" }
func (b *AnthropicBackend) Model() string { return b.model }

func (b *AnthropicBackend) Complete(ctx context.Context, system, user string, maxTokens int) (string, Usage, error) {
	temp := temperature
	resp, err := b.client.CreateMessage(ctx, anthropic.MessageRequest{
		Model:       b.model,
		MaxTokens:   int64(maxTokens),
		System:      anthropic.BuildCachedSystemBlocks(system),
		Messages:    []anthropic.Message{{Role: "user", Content: user}},
		Temperature: &temp,
	})
	if err != nil {
		return "", Usage{}, err
	}
	u := Usage{
		InputTokens:      int(resp.Usage.InputTokens),
		OutputTokens:     int(resp.Usage.OutputTokens),
		CacheWriteTokens: int(resp.Usage.CacheCreationInputTokens),
		CacheReadTokens:  int(resp.Usage.CacheReadInputTokens),
	}
	if resp.StopReason == "max_tokens" {
		return "", u, eris.Errorf("enrich: response truncated at %d tokens", maxTokens)
	}
	return resp.Text(), u, nil
}

func (b *AnthropicBackend) Cost(calc *cost.Calculator, u Usage) float64 {
	return calc.Claude(b.model, u.InputTokens, u.OutputTokens, u.CacheWriteTokens, u.CacheReadTokens)
}

// OpenAIBackend calls an OpenAI-compatible chat completions endpoint in JSON
// mode.
type OpenAIBackend struct {
	client *openai.Client
	model  string
}

// NewOpenAIBackend creates an OpenAI backend. baseURL may be empty.
func NewOpenAIBackend(apiKey, baseURL, model string) *OpenAIBackend {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	if model == "" {
		model = openai.GPT4oMini
	}
	return &OpenAIBackend{client: openai.NewClientWithConfig(cfg), model: model}
}

func (b *OpenAIBackend) Name() string  { return "openai" }
func (b *OpenAIBackend) Model() string { return b.model }

func (b *OpenAIBackend) Complete(ctx context.Context, system, user string, maxTokens int) (string, Usage, error) {
	resp, err := b.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: b.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: user},
		},
		MaxTokens:      maxTokens,
		Temperature:    temperature,
		ResponseFormat: &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject},
	})
	if err != nil {
		return "", Usage{}, eris.Wrap(err, "openai: create chat completion")
	}
	u := Usage{InputTokens: resp.Usage.PromptTokens, OutputTokens: resp.Usage.CompletionTokens}
	if len(resp.Choices) == 0 {
		return "", u, eris.New("openai: no choices in response")
	}
	if resp.Choices[0].FinishReason == openai.FinishReasonLength {
		return "", u, eris.Errorf("enrich: response truncated at %d tokens", maxTokens)
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), u, nil
}

func (b *OpenAIBackend) Cost(calc *cost.Calculator, u Usage) float64 {
	return calc.OpenAI(b.model, u.InputTokens, u.OutputTokens)
}
