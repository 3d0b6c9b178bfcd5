package convert

import (
	"encoding/json"

	"github.com/axiomgate/llmproxy/internal/anthropictypes"
	"github.com/axiomgate/llmproxy/internal/message"
)

// AnthropicResponseToInternal normalizes a complete (non-streaming)
// Anthropic response into the internal Response shape.
func AnthropicResponseToInternal(resp *anthropictypes.Response) *message.Response {
	out := &message.Response{
		ID:         resp.ID,
		Model:      resp.Model,
		StopReason: anthropictypes.StopReasonToOpenAI(resp.StopReason),
		Usage: message.Usage{
			PromptTokens:     resp.Usage.InputTokens,
			CompletionTokens: resp.Usage.OutputTokens,
			TotalTokens:      resp.Usage.InputTokens + resp.Usage.OutputTokens,
		},
	}
	for _, block := range resp.Content {
		switch block.Type {
		case "text":
			out.Content += block.Text
		case "tool_use":
			out.ToolCalls = append(out.ToolCalls, message.ToolCall{
				ID:        block.ID,
				Type:      "function",
				Name:      block.Name,
				Arguments: string(block.Input),
			})
		}
	}
	if len(out.ToolCalls) > 0 && out.StopReason == "" {
		out.StopReason = "tool_calls"
	}
	return out
}

// InternalResponseToAnthropic is the inverse of AnthropicResponseToInternal:
// it renders a normalized Response in Anthropic Messages API shape, for a
// client that spoke Anthropic to a request that was served (possibly by a
// non-Anthropic upstream) in internal form.
func InternalResponseToAnthropic(resp *message.Response) *anthropictypes.Response {
	out := &anthropictypes.Response{
		ID:         resp.ID,
		Type:       "message",
		Role:       "assistant",
		Model:      resp.Model,
		StopReason: anthropictypes.StopReasonFromOpenAI(resp.StopReason),
		Usage: anthropictypes.Usage{
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
		},
	}
	if resp.Content != "" {
		out.Content = append(out.Content, anthropictypes.ContentBlock{Type: "text", Text: resp.Content})
	}
	for _, tc := range resp.ToolCalls {
		out.Content = append(out.Content, anthropictypes.ContentBlock{
			Type:  "tool_use",
			ID:    tc.ID,
			Name:  tc.Name,
			Input: json.RawMessage(tc.Arguments),
		})
	}
	return out
}
