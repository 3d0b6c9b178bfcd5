package convert

import (
	"encoding/json"
	"fmt"

	"github.com/axiomgate/llmproxy/internal/chunk"
	"github.com/axiomgate/llmproxy/internal/message"
)

// openAIWireTool and openAIWireFunction mirror the client-facing OpenAI
// chat-completions request's nested tool shape
// (`{type:"function", function:{name, description, parameters}}`), the
// same nesting internal/upstream/openai.go's own openAIWireRequest uses
// for the egress side of this proxy's OpenAI upstream adapter. message.Tool
// is intentionally flat (internal representation), so this is the one
// place that shape gets dressed up for an actual OpenAI-speaking party —
// here, the client, rather than the upstream.
type openAIWireTool struct {
	Type     string              `json:"type"`
	Function openAIWireToolFunc `json:"function"`
}

type openAIWireToolFunc struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

// openAIClientRequest is the wire shape of an incoming
// POST /v1/chat/completions body. Messages reuse message.Message directly:
// its tool_calls field is already flat the way this proxy's internal
// representation and chunk.Chunk egress both expect, so round-tripping a
// client's own prior assistant tool_calls back in as conversation history
// needs no extra structure — only the top-level tools array needs the
// function-nesting dressed on and off.
type openAIClientRequest struct {
	Model       string            `json:"model"`
	Messages    []message.Message `json:"messages"`
	Tools       []openAIWireTool  `json:"tools,omitempty"`
	MaxTokens   int               `json:"max_tokens,omitempty"`
	Temperature *float64          `json:"temperature,omitempty"`
	Stream      bool              `json:"stream,omitempty"`
	N           int               `json:"n,omitempty"`
}

// openAIRequestKnownKeys are the top-level request fields the internal
// representation models; everything else a client sends is
// provider-opaque and lands in Request.Extra by key.
var openAIRequestKnownKeys = []string{"model", "messages", "tools", "max_tokens", "temperature", "stream", "n"}

// ParseOpenAIRequest decodes a client's raw OpenAI chat-completions request
// body into the internal Request shape. Unknown top-level keys (top_p,
// stop, presence_penalty, user, ...) are preserved by key on Request.Extra
// rather than dropped. A request asking for multiple choices (n > 1) is
// rejected: the whole block/aggregator model assumes exactly one active
// completion per transaction.
func ParseOpenAIRequest(raw []byte) (*message.Request, error) {
	var wire openAIClientRequest
	if err := json.Unmarshal(raw, &wire); err != nil {
		return nil, err
	}
	if wire.N > 1 {
		return nil, fmt.Errorf("multiple choices (n=%d) are not supported", wire.N)
	}
	extra, err := extractExtras(raw, openAIRequestKnownKeys)
	if err != nil {
		return nil, err
	}
	req := &message.Request{
		Model:       wire.Model,
		Messages:    wire.Messages,
		MaxTokens:   wire.MaxTokens,
		Temperature: wire.Temperature,
		Stream:      wire.Stream,
		Extra:       extra,
	}
	for _, t := range wire.Tools {
		req.Tools = append(req.Tools, message.Tool{
			Name:        t.Function.Name,
			Description: t.Function.Description,
			Parameters:  t.Function.Parameters,
		})
	}
	return req, nil
}

// extractExtras returns raw's top-level keys minus the known ones, nil
// when nothing unknown was present.
func extractExtras(raw []byte, known []string) (map[string]json.RawMessage, error) {
	var all map[string]json.RawMessage
	if err := json.Unmarshal(raw, &all); err != nil {
		return nil, err
	}
	for _, k := range known {
		delete(all, k)
	}
	if len(all) == 0 {
		return nil, nil
	}
	return all, nil
}

// MergeExtra re-attaches an extras bag to an already-marshaled JSON
// object, without letting an opaque key shadow a field the proxy owns.
// The deterministic rule of spec.md §4.1: known keys always win.
func MergeExtra(body []byte, extra map[string]json.RawMessage) ([]byte, error) {
	if len(extra) == 0 {
		return body, nil
	}
	var all map[string]json.RawMessage
	if err := json.Unmarshal(body, &all); err != nil {
		return nil, err
	}
	for k, v := range extra {
		if _, owned := all[k]; owned {
			continue
		}
		all[k] = v
	}
	return json.Marshal(all)
}

// openAIResponseToolCall and openAIResponseFunction mirror the
// client-facing OpenAI response's nested tool_calls shape
// (`{id, type:"function", function:{name, arguments}}`).
type openAIResponseToolCall struct {
	ID       string                  `json:"id"`
	Type     string                  `json:"type"`
	Function openAIResponseFunction `json:"function"`
}

type openAIResponseFunction struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type openAIResponseMessage struct {
	Role      string                    `json:"role"`
	Content   *string                   `json:"content"`
	ToolCalls []openAIResponseToolCall `json:"tool_calls,omitempty"`
}

type openAIResponseChoice struct {
	Index        int                    `json:"index"`
	Message      openAIResponseMessage `json:"message"`
	FinishReason string                 `json:"finish_reason"`
}

type openAIResponseWire struct {
	ID      string                  `json:"id"`
	Object  string                  `json:"object"`
	Model   string                  `json:"model"`
	Choices []openAIResponseChoice `json:"choices"`
	Usage   message.Usage           `json:"usage"`
}

// RenderOpenAIResponse encodes an internal Response as the non-streaming
// OpenAI chat-completions response body a client expects.
func RenderOpenAIResponse(resp *message.Response) ([]byte, error) {
	msg := openAIResponseMessage{Role: "assistant"}
	if resp.Content != "" {
		content := resp.Content
		msg.Content = &content
	}
	for _, tc := range resp.ToolCalls {
		msg.ToolCalls = append(msg.ToolCalls, openAIResponseToolCall{
			ID:       tc.ID,
			Type:     "function",
			Function: openAIResponseFunction{Name: tc.Name, Arguments: tc.Arguments},
		})
	}
	wire := openAIResponseWire{
		ID:     resp.ID,
		Object: "chat.completion",
		Model:  resp.Model,
		Choices: []openAIResponseChoice{
			{Message: msg, FinishReason: resp.StopReason},
		},
		Usage: resp.Usage,
	}
	return json.Marshal(wire)
}

// openAIWireChunkFunction and openAIWireChunkToolCall mirror the
// streaming chat-completions chunk's nested tool_calls fragment shape.
// Like the non-streaming response, the wire nests name/arguments under
// "function" while the internal chunk.ToolCallDelta keeps them flat.
type openAIWireChunkFunction struct {
	Name      *string `json:"name,omitempty"`
	Arguments string  `json:"arguments,omitempty"`
}

type openAIWireChunkToolCall struct {
	Index    int                     `json:"index"`
	ID       *string                 `json:"id,omitempty"`
	Type     string                  `json:"type,omitempty"`
	Function openAIWireChunkFunction `json:"function"`
}

type openAIWireDelta struct {
	Role      string                    `json:"role,omitempty"`
	Content   string                    `json:"content,omitempty"`
	ToolCalls []openAIWireChunkToolCall `json:"tool_calls,omitempty"`
}

type openAIWireChoice struct {
	Index        int             `json:"index"`
	Delta        openAIWireDelta `json:"delta"`
	FinishReason *string         `json:"finish_reason"`
}

type openAIWireChunk struct {
	ID      string             `json:"id,omitempty"`
	Object  string             `json:"object,omitempty"`
	Created int64              `json:"created,omitempty"`
	Model   string             `json:"model,omitempty"`
	Choices []openAIWireChoice `json:"choices"`
}

// openAIChunkKnownKeys mirrors openAIWireChunk's fields; any other
// top-level key on an upstream chunk is carried on Chunk.Extra.
var openAIChunkKnownKeys = []string{"id", "object", "created", "model", "choices"}

// ParseOpenAIChunk decodes one streaming chunk as it appears on an
// OpenAI-compatible SSE wire into the internal chunk shape, flattening
// the function nesting on tool-call fragments and capturing unknown
// top-level keys (system_fingerprint, usage, ...) on Chunk.Extra.
func ParseOpenAIChunk(raw []byte) (*chunk.Chunk, error) {
	var wire openAIWireChunk
	if err := json.Unmarshal(raw, &wire); err != nil {
		return nil, err
	}
	extra, err := extractExtras(raw, openAIChunkKnownKeys)
	if err != nil {
		return nil, err
	}
	c := &chunk.Chunk{ID: wire.ID, Created: wire.Created, Model: wire.Model, Extra: extra}
	for _, wc := range wire.Choices {
		choice := chunk.Choice{
			Index:        wc.Index,
			FinishReason: wc.FinishReason,
			Delta: chunk.Delta{
				Role:    wc.Delta.Role,
				Content: wc.Delta.Content,
			},
		}
		for _, tc := range wc.Delta.ToolCalls {
			choice.Delta.ToolCalls = append(choice.Delta.ToolCalls, chunk.ToolCallDelta{
				Index:     tc.Index,
				ID:        tc.ID,
				Name:      tc.Function.Name,
				Arguments: tc.Function.Arguments,
			})
		}
		c.Choices = append(c.Choices, choice)
	}
	return c, nil
}

// RenderOpenAIChunk encodes an internal chunk as one OpenAI SSE data
// payload (without the "data: " framing), dressing tool-call fragments
// back into the function nesting, stamping the chunk object tag, and
// merging any captured opaque keys back onto the wire.
func RenderOpenAIChunk(c *chunk.Chunk) ([]byte, error) {
	wire := openAIWireChunk{
		ID:      c.ID,
		Object:  "chat.completion.chunk",
		Created: c.Created,
		Model:   c.Model,
	}
	for _, choice := range c.Choices {
		wc := openAIWireChoice{
			Index:        choice.Index,
			FinishReason: choice.FinishReason,
			Delta: openAIWireDelta{
				Role:    choice.Delta.Role,
				Content: choice.Delta.Content,
			},
		}
		for _, tc := range choice.Delta.ToolCalls {
			wc.Delta.ToolCalls = append(wc.Delta.ToolCalls, openAIWireChunkToolCall{
				Index:    tc.Index,
				ID:       tc.ID,
				Type:     "function",
				Function: openAIWireChunkFunction{Name: tc.Name, Arguments: tc.Arguments},
			})
		}
		wire.Choices = append(wire.Choices, wc)
	}
	body, err := json.Marshal(wire)
	if err != nil {
		return nil, err
	}
	return MergeExtra(body, c.Extra)
}
