package agent

import (
	"context"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

const maxHistoryTurnLen = 2000

// Client implements Invoker on top of the Anthropic Messages API.
type Client struct {
	api   *anthropic.Client
	model anthropic.Model
}

// NewClient creates an agent client with the given API key and model. An
// empty key leaves the client unconfigured; Invoke then fails with
// ErrProviderUnavailable.
func NewClient(apiKey, model string) *Client {
	if apiKey == "" {
		return &Client{model: anthropic.Model(model)}
	}
	client := anthropic.NewClient(option.WithAPIKey(apiKey))
	return &Client{
		api:   &client,
		model: anthropic.Model(model),
	}
}

// Configured reports whether the client has a usable API binding.
func (c *Client) Configured() bool { return c.api != nil }

// Invoke starts a streamed agent call and relays it as the typed event
// sequence. The role must be in the declared table; the caller validates
// its roles at startup, so an unknown role here is a programming error.
func (c *Client) Invoke(ctx context.Context, req Request) (<-chan Event, error) {
	spec, ok := roleTable[req.Role]
	if !ok {
		return nil, fmt.Errorf("role %q is not in the declared role table", req.Role)
	}
	if c.api == nil {
		return nil, ErrProviderUnavailable
	}

	messages := make([]anthropic.MessageParam, 0, len(req.History)+1)
	for _, turn := range req.History {
		content := turn.Content
		if len(content) > maxHistoryTurnLen {
			content = content[:maxHistoryTurnLen] + "... [truncated]"
		}
		if turn.Role == "assistant" {
			messages = append(messages, anthropic.NewAssistantMessage(anthropic.NewTextBlock(content)))
		} else {
			messages = append(messages, anthropic.NewUserMessage(anthropic.NewTextBlock(content)))
		}
	}
	messages = append(messages, anthropic.NewUserMessage(anthropic.NewTextBlock(userMessage(req))))

	params := anthropic.MessageNewParams{
		Model:     c.model,
		MaxTokens: spec.MaxTokens,
		System: []anthropic.TextBlockParam{
			{Text: spec.Persona},
		},
		Messages: messages,
	}

	ch := make(chan Event, 16)
	go func() {
		defer close(ch)
		stream := c.api.Messages.NewStreaming(ctx, params)

		var message anthropic.Message
		for stream.Next() {
			event := stream.Current()
			if err := message.Accumulate(event); err != nil {
				ch <- Event{Type: EventError, Content: fmt.Sprintf("accumulate response: %v", err)}
				return
			}

			switch v := event.AsAny().(type) {
			case anthropic.ContentBlockStartEvent:
				switch v.ContentBlock.Type {
				case "thinking":
					ch <- Event{Type: EventThinking}
				case "tool_use":
					ch <- Event{Type: EventToolUse, Tool: v.ContentBlock.Name}
				}
			case anthropic.ContentBlockDeltaEvent:
				switch d := v.Delta.AsAny().(type) {
				case anthropic.TextDelta:
					ch <- Event{Type: EventStreaming, Content: d.Text}
				case anthropic.ThinkingDelta:
					ch <- Event{Type: EventThinking, Content: d.Thinking}
				}
			}
		}
		if err := stream.Err(); err != nil {
			ch <- Event{Type: EventError, Content: err.Error()}
			return
		}

		var final string
		for _, block := range message.Content {
			if block.Type == "text" {
				final += block.Text
			}
		}
		ch <- Event{Type: EventDone, Content: final}
	}()

	return ch, nil
}
