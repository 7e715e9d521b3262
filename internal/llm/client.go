// Package llm adapts an OpenAI-compatible chat-completions endpoint into
// the stream source consumed by the chat core.
package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"

	openai "github.com/sashabaranov/go-openai"

	"github.com/evowork/evochat/internal/chat"
	"github.com/evowork/evochat/internal/domain"
)

// Config holds connection settings for the model backend.
type Config struct {
	BaseURL string
	APIKey  string
	Model   string
}

// Client streams chat completions from an OpenAI-compatible backend.
type Client struct {
	api   *openai.Client
	model string
}

// Ensure Client implements the chat stream source.
var _ chat.Streamer = (*Client)(nil)

// NewClient creates a streaming client for the configured backend.
func NewClient(cfg Config) *Client {
	apiCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		apiCfg.BaseURL = cfg.BaseURL
	}
	return &Client{
		api:   openai.NewClientWithConfig(apiCfg),
		model: cfg.Model,
	}
}

// Stream submits the conversation history and yields incremental stream
// units until the backend signals completion. Transport and decode errors
// are yielded once and end the sequence.
func (c *Client) Stream(ctx context.Context, history []domain.Message) iter.Seq2[*chat.StreamUnit, error] {
	messages := buildMessages(history)

	return func(yield func(*chat.StreamUnit, error) bool) {
		stream, err := c.api.CreateChatCompletionStream(ctx, openai.ChatCompletionRequest{
			Model:    c.model,
			Messages: messages,
			Stream:   true,
		})
		if err != nil {
			yield(nil, fmt.Errorf("open model stream: %w", err))
			return
		}
		defer stream.Close()

		for {
			resp, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				yield(nil, fmt.Errorf("read model stream: %w", err))
				return
			}
			if len(resp.Choices) == 0 {
				continue
			}

			choice := resp.Choices[0]
			unit := &chat.StreamUnit{Text: choice.Delta.Content}
			for _, tc := range choice.Delta.ToolCalls {
				unit.ToolCalls = append(unit.ToolCalls, chat.ToolCallFragment{
					CallID:            tc.ID,
					Name:              tc.Function.Name,
					ArgumentsFragment: tc.Function.Arguments,
				})
			}

			if unit.Text == "" && len(unit.ToolCalls) == 0 {
				if choice.FinishReason != "" {
					return
				}
				continue
			}
			if !yield(unit, nil) {
				return
			}
		}
	}
}

// buildMessages converts the local history into the wire format, prepending
// the system prompt. Agent turns contribute their reply content (the raw
// text as fallback); system-error messages never reach the model.
func buildMessages(history []domain.Message) []openai.ChatCompletionMessage {
	messages := make([]openai.ChatCompletionMessage, 0, len(history)+1)
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleSystem,
		Content: systemPrompt,
	})

	for _, m := range history {
		switch m.Sender {
		case domain.SenderUser:
			messages = append(messages, openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleUser,
				Content: m.RawText,
			})
		case domain.SenderAgent:
			content := m.ReplyContent
			if content == "" {
				content = m.RawText
			}
			if content == "" {
				continue
			}
			messages = append(messages, openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleAssistant,
				Content: content,
			})
		}
	}
	return messages
}
