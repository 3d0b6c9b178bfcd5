// Package convert translates between the two client wire formats this
// proxy accepts (OpenAI chat completions, Anthropic Messages) and the
// normalized internal representation in internal/message and
// internal/chunk. It holds every translation between
// internal/anthropictypes and the internal shape; the packages that also
// import internal/anthropictypes (orchestrator, policy, compose, upstream)
// call into this package for the conversions.
package convert

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/axiomgate/llmproxy/internal/anthropictypes"
	"github.com/axiomgate/llmproxy/internal/message"
)

// AnthropicRequestToInternal normalizes an incoming Anthropic Messages
// request into the internal representation. The
// Anthropic system prompt becomes a leading system message; tool_result
// content blocks become internal tool messages; tool_use blocks become
// assistant tool calls.
func AnthropicRequestToInternal(req *anthropictypes.Request) (*message.Request, error) {
	out := &message.Request{
		Model:     req.Model,
		MaxTokens: req.MaxTokens,
		Stream:    req.Stream,
	}
	if req.Temperature != nil {
		t := *req.Temperature
		out.Temperature = &t
	}

	if sys := req.SystemText(); sys != "" {
		out.Messages = append(out.Messages, message.Message{Role: message.RoleSystem, Content: &sys})
	}

	for _, m := range req.Messages {
		msgs, err := anthropicMessageToInternal(m)
		if err != nil {
			return nil, err
		}
		out.Messages = append(out.Messages, msgs...)
	}

	for _, t := range req.Tools {
		out.Tools = append(out.Tools, message.Tool{
			Name:        t.Name,
			Description: t.Description,
			Parameters:  t.InputSchema,
		})
	}

	return out, nil
}

// anthropicMessageToInternal may expand a single Anthropic message into
// more than one internal message. A user turn carrying tool_result blocks
// splits into one internal RoleTool message per result, emitted FIRST —
// OpenAI requires a tool message to directly follow the assistant message
// that requested it — with any text blocks of the same turn following as
// separate user messages, never merged into the tool result. An assistant
// turn mixing text and tool_use blocks keeps both on one internal message
// (internal allows Content and ToolCalls together).
func anthropicMessageToInternal(m anthropictypes.Message) ([]message.Message, error) {
	if m.Role == "assistant" {
		return assistantMessageToInternal(m)
	}

	var toolResults []message.Message
	var texts []string

	for _, block := range m.Content {
		switch block.Type {
		case "text":
			texts = append(texts, block.Text)
		case "tool_result":
			content := toolResultText(block.Content)
			toolResults = append(toolResults, message.Message{
				Role:       message.RoleTool,
				Content:    &content,
				ToolCallID: block.ToolUseID,
			})
		default:
			return nil, fmt.Errorf("convert: unsupported anthropic content block type %q in user turn", block.Type)
		}
	}

	out := toolResults
	if len(toolResults) > 0 {
		for _, text := range texts {
			t := text
			out = append(out, message.Message{Role: message.RoleUser, Content: &t})
		}
		return out, nil
	}
	if len(texts) > 0 {
		text := strings.Join(texts, "")
		out = append(out, message.Message{Role: message.RoleUser, Content: &text})
	}
	return out, nil
}

func assistantMessageToInternal(m anthropictypes.Message) ([]message.Message, error) {
	var text string
	var toolCalls []message.ToolCall

	for _, block := range m.Content {
		switch block.Type {
		case "text":
			text += block.Text
		case "tool_use":
			toolCalls = append(toolCalls, message.ToolCall{
				ID:        block.ID,
				Type:      "function",
				Name:      block.Name,
				Arguments: string(block.Input),
			})
		default:
			return nil, fmt.Errorf("convert: unsupported anthropic content block type %q in assistant turn", block.Type)
		}
	}

	if text == "" && len(toolCalls) == 0 {
		return nil, nil
	}
	msg := message.Message{Role: message.RoleAssistant, ToolCalls: toolCalls}
	if text != "" {
		msg.Content = &text
	}
	return []message.Message{msg}, nil
}

// toolResultText flattens a tool_result's content, which on the wire may
// be a bare string or a content-block array, into a single string the
// way internal tool messages represent it.
func toolResultText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			return s
		}
	}
	var blocks []anthropictypes.ContentBlock
	if err := json.Unmarshal(raw, &blocks); err == nil {
		out := ""
		for _, b := range blocks {
			out += b.Text
		}
		return out
	}
	return string(raw)
}

// InternalRequestToAnthropic converts a normalized request into the shape
// an Anthropic upstream (or an Anthropic-format client response to a
// request originally in OpenAI form) expects (the design, inverse
// direction). A leading system message is pulled out into the Anthropic
// system field rather than sent as a regular message, since Anthropic has
// no "system" role in its messages array.
func InternalRequestToAnthropic(req *message.Request) (*anthropictypes.Request, error) {
	out := &anthropictypes.Request{
		Model:     req.Model,
		MaxTokens: req.MaxTokens,
		Stream:    req.Stream,
	}
	if out.MaxTokens == 0 {
		out.MaxTokens = 4096
	}
	if req.Temperature != nil {
		t := *req.Temperature
		out.Temperature = &t
	}

	messages := req.Messages
	if len(messages) > 0 && messages[0].Role == message.RoleSystem && messages[0].Content != nil {
		sysJSON, err := json.Marshal(*messages[0].Content)
		if err != nil {
			return nil, err
		}
		out.System = sysJSON
		messages = messages[1:]
	}

	for _, m := range messages {
		am, err := internalMessageToAnthropic(m)
		if err != nil {
			return nil, err
		}
		out.Messages = append(out.Messages, am...)
	}

	for _, t := range req.Tools {
		out.Tools = append(out.Tools, anthropictypes.Tool{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: t.Parameters,
		})
	}

	return out, nil
}

func internalMessageToAnthropic(m message.Message) ([]anthropictypes.Message, error) {
	switch m.Role {
	case message.RoleTool:
		content, err := json.Marshal(contentOrEmpty(m.Content))
		if err != nil {
			return nil, err
		}
		return []anthropictypes.Message{{
			Role: "user",
			Content: []anthropictypes.ContentBlock{{
				Type:      "tool_result",
				ToolUseID: m.ToolCallID,
				Content:   content,
			}},
		}}, nil
	case message.RoleSystem:
		// A system message that isn't the first one has no Anthropic home;
		// fold it into a user message rather than silently dropping it.
		return []anthropictypes.Message{{
			Role:    "user",
			Content: []anthropictypes.ContentBlock{{Type: "text", Text: contentOrEmpty(m.Content)}},
		}}, nil
	default:
		role := "user"
		if m.Role == message.RoleAssistant {
			role = "assistant"
		}
		var blocks []anthropictypes.ContentBlock
		if m.Content != nil && *m.Content != "" {
			blocks = append(blocks, anthropictypes.ContentBlock{Type: "text", Text: *m.Content})
		}
		for _, tc := range m.ToolCalls {
			blocks = append(blocks, anthropictypes.ContentBlock{
				Type:  "tool_use",
				ID:    tc.ID,
				Name:  tc.Name,
				Input: json.RawMessage(tc.Arguments),
			})
		}
		return []anthropictypes.Message{{Role: role, Content: blocks}}, nil
	}
}

func contentOrEmpty(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
