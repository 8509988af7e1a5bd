package llm

import (
	"context"
	"errors"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/voicelab-ai/testbench/pkg/metrics"
)

// AnthropicClient is the Anthropic LLM client.
type AnthropicClient struct {
	client *anthropic.Client
}

// NewAnthropicClient creates a new Anthropic client.
func NewAnthropicClient(apiKey string) (*AnthropicClient, error) {
	if apiKey == "" {
		return nil, errors.New("Anthropic API key is required")
	}

	return &AnthropicClient{
		client: anthropic.NewClient(option.WithAPIKey(apiKey)),
	}, nil
}

// Name returns the provider name.
func (c *AnthropicClient) Name() string {
	return "anthropic"
}

// Models returns available models.
func (c *AnthropicClient) Models() []string {
	return []string{
		"claude-3-5-sonnet-20241022",
		"claude-3-5-haiku-20241022",
		"claude-3-haiku-20240307",
	}
}

func anthropicMessages(msgs []ChatMessage) []anthropic.MessageParam {
	messages := make([]anthropic.MessageParam, len(msgs))
	for i, msg := range msgs {
		messages[i] = anthropic.MessageParam{
			Role: anthropic.F(anthropic.MessageParamRole(msg.Role)),
			Content: anthropic.F([]anthropic.ContentBlockParamUnion{
				anthropic.TextBlockParam{
					Type: anthropic.F(anthropic.TextBlockParamTypeText),
					Text: anthropic.F(msg.Content),
				},
			}),
		}
	}
	return messages
}

// Complete sends a completion request.
func (c *AnthropicClient) Complete(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error) {
	start := time.Now()

	model := req.Model
	if model == "" {
		model = "claude-3-5-sonnet-20241022"
	}

	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = 2048
	}

	resp, err := c.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.F(model),
		MaxTokens: anthropic.F(int64(maxTokens)),
		Messages:  anthropic.F(anthropicMessages(req.Messages)),
	})
	if err != nil {
		metrics.RecordLLMRequest(c.Name(), "complete", "error", time.Since(start).Seconds(), 0, 0)
		return nil, &GenerationError{Provider: c.Name(), Err: err}
	}

	var content string
	for _, block := range resp.Content {
		if block.Type == anthropic.ContentBlockTypeText {
			content += block.Text
		}
	}

	metrics.RecordLLMRequest(c.Name(), "complete", "success", time.Since(start).Seconds(),
		int(resp.Usage.InputTokens), int(resp.Usage.OutputTokens))

	return &CompletionResponse{
		Content:    content,
		Model:      resp.Model,
		TokensIn:   int(resp.Usage.InputTokens),
		TokensOut:  int(resp.Usage.OutputTokens),
		StopReason: string(resp.StopReason),
		LatencyMs:  time.Since(start).Milliseconds(),
	}, nil
}

// CompleteStream sends a streaming completion request.
func (c *AnthropicClient) CompleteStream(ctx context.Context, req *CompletionRequest, callback StreamCallback) (*CompletionResponse, error) {
	start := time.Now()

	model := req.Model
	if model == "" {
		model = "claude-3-5-sonnet-20241022"
	}

	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = 2048
	}

	stream := c.client.Messages.NewStreaming(ctx, anthropic.MessageNewParams{
		Model:     anthropic.F(model),
		MaxTokens: anthropic.F(int64(maxTokens)),
		Messages:  anthropic.F(anthropicMessages(req.Messages)),
	})

	var content, stopReason string
	var tokensOut int
	index := 0

	for stream.Next() {
		event := stream.Current()

		switch event.Type {
		case anthropic.MessageStreamEventTypeContentBlockDelta:
			if delta, ok := event.Delta.(anthropic.ContentBlockDeltaEventDelta); ok && delta.Type == "text_delta" {
				token := delta.Text
				content += token
				if err := callback(token, index); err != nil {
					metrics.RecordLLMRequest(c.Name(), "stream", "error", time.Since(start).Seconds(), 0, 0)
					return nil, err
				}
				index++
			}
		case anthropic.MessageStreamEventTypeMessageDelta:
			if delta, ok := event.Delta.(anthropic.MessageDeltaEventDelta); ok {
				stopReason = string(delta.StopReason)
			}
			tokensOut = int(event.Usage.OutputTokens)
		}
	}

	if err := stream.Err(); err != nil {
		metrics.RecordLLMRequest(c.Name(), "stream", "error", time.Since(start).Seconds(), 0, 0)
		return nil, &GenerationError{Provider: c.Name(), Err: err}
	}

	metrics.RecordLLMRequest(c.Name(), "stream", "success", time.Since(start).Seconds(), 0, tokensOut)

	return &CompletionResponse{
		Content:    content,
		Model:      model,
		TokensIn:   0,
		TokensOut:  tokensOut,
		StopReason: stopReason,
		LatencyMs:  time.Since(start).Milliseconds(),
	}, nil
}
