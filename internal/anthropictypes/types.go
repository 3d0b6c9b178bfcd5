// Package anthropictypes defines the Anthropic Messages API wire shapes.
// internal/convert translates between them and internal/message /
// internal/chunk; the Anthropic-native policy hooks (internal/policy,
// internal/policy/compose), the orchestrator's Anthropic client path and
// the Anthropic upstream adapter also handle these shapes directly.
package anthropictypes

import "encoding/json"

// ContentBlock is one block of an Anthropic message's content array. Only
// the fields relevant to text and tool_use/tool_result blocks are
// populated; Input is kept as raw JSON so the converter controls exactly
// when it gets parsed or re-serialized.
type ContentBlock struct {
	Type      string          `json:"type"` // "text", "tool_use", "tool_result"
	Text      string          `json:"text,omitempty"`
	ID        string          `json:"id,omitempty"`         // tool_use id
	Name      string          `json:"name,omitempty"`       // tool_use function name
	Input     json.RawMessage `json:"input,omitempty"`      // tool_use arguments
	ToolUseID string          `json:"tool_use_id,omitempty"` // tool_result
	Content   json.RawMessage `json:"content,omitempty"`     // tool_result content (string or block array)
}

// Message is one turn of an Anthropic conversation. Content can be either
// a bare string or a content-block array on the wire; Request/Response
// unmarshal it into the block-array form uniformly (see UnmarshalJSON).
type Message struct {
	Role    string         `json:"role"`
	Content []ContentBlock `json:"content"`
}

// UnmarshalJSON accepts both a plain string and a content-block array for
// "content", matching Anthropic's actual wire format.
func (m *Message) UnmarshalJSON(data []byte) error {
	var raw struct {
		Role    string          `json:"role"`
		Content json.RawMessage `json:"content"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	m.Role = raw.Role
	return unmarshalContent(raw.Content, &m.Content)
}

func unmarshalContent(data json.RawMessage, out *[]ContentBlock) error {
	if len(data) == 0 {
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*out = []ContentBlock{{Type: "text", Text: s}}
		return nil
	}
	return json.Unmarshal(data, out)
}

// Tool is one tool definition in an Anthropic request.
type Tool struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"input_schema,omitempty"`
}

// Metadata is the Anthropic request's free-form metadata bag; UserID is
// the only field this proxy inspects (for session extraction, the design).
type Metadata struct {
	UserID string `json:"user_id,omitempty"`
}

// Request is the Anthropic Messages API request body.
type Request struct {
	Model       string          `json:"model"`
	MaxTokens   int             `json:"max_tokens"`
	System      json.RawMessage `json:"system,omitempty"` // string or content-block array
	Messages    []Message       `json:"messages"`
	Tools       []Tool          `json:"tools,omitempty"`
	Temperature *float64        `json:"temperature,omitempty"`
	Stream      bool            `json:"stream,omitempty"`
	Metadata    *Metadata       `json:"metadata,omitempty"`
}

// SystemText returns the concatenation of the request's system prompt
// text parts, whether System was a bare string or a content-block array.
func (r *Request) SystemText() string {
	if len(r.System) == 0 {
		return ""
	}
	var blocks []ContentBlock
	if err := unmarshalContent(r.System, &blocks); err != nil {
		return ""
	}
	out := ""
	for _, b := range blocks {
		out += b.Text
	}
	return out
}

// Usage is the Anthropic response's token accounting.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Response is a complete (non-streaming) Anthropic Messages API response.
type Response struct {
	ID         string         `json:"id"`
	Type       string         `json:"type"` // "message"
	Role       string         `json:"role"` // "assistant"
	Model      string         `json:"model"`
	Content    []ContentBlock `json:"content"`
	StopReason string         `json:"stop_reason"`
	Usage      Usage          `json:"usage"`
}

// StreamEvent is a single Anthropic SSE event. Every event type carries a
// different subset of these fields; the converter switches on Type.
type StreamEvent struct {
	Type         string          `json:"type"`
	Message      *Response       `json:"message,omitempty"`       // message_start
	Index        int             `json:"index,omitempty"`         // content_block_*
	ContentBlock *ContentBlock   `json:"content_block,omitempty"` // content_block_start
	Delta        json.RawMessage `json:"delta,omitempty"`         // content_block_delta, message_delta
	Usage        *Usage          `json:"usage,omitempty"`         // message_delta
}

// TextDelta is the "delta" payload of a content_block_delta event for a
// text block.
type TextDelta struct {
	Type string `json:"type"` // "text_delta"
	Text string `json:"text"`
}

// InputJSONDelta is the "delta" payload of a content_block_delta event for
// a tool_use block. PartialJSON is a raw JSON fragment, concatenated
// client-side, never parsed mid-stream.
type InputJSONDelta struct {
	Type        string `json:"type"` // "input_json_delta"
	PartialJSON string `json:"partial_json"`
}

// MessageDelta is the "delta" payload of a message_delta event.
type MessageDelta struct {
	StopReason   string `json:"stop_reason,omitempty"`
	StopSequence string `json:"stop_sequence,omitempty"`
}

// StopReasonFromOpenAI maps an OpenAI finish_reason to an Anthropic
// stop_reason, per the design(2).
func StopReasonFromOpenAI(reason string) string {
	switch reason {
	case "stop":
		return "end_turn"
	case "length":
		return "max_tokens"
	case "tool_calls":
		return "tool_use"
	case "content_filter":
		return "stop_sequence"
	default:
		return "end_turn"
	}
}

// StopReasonToOpenAI is the inverse of StopReasonFromOpenAI.
func StopReasonToOpenAI(reason string) string {
	switch reason {
	case "end_turn":
		return "stop"
	case "max_tokens":
		return "length"
	case "tool_use":
		return "tool_calls"
	case "stop_sequence":
		return "content_filter"
	default:
		return "stop"
	}
}
