package convert

import (
	"encoding/json"
	"fmt"

	"github.com/axiomgate/llmproxy/internal/anthropictypes"
	"github.com/axiomgate/llmproxy/internal/message"
	"github.com/axiomgate/llmproxy/internal/streamstate"
)

// AnthropicSSEAssembler turns the semantic Events an aggregator produces
// (internal/streamstate) into an Anthropic-format stream event sequence.
// It is the direct counterpart of the original's AnthropicSSEAssembler
// (v2/streaming/client_formatter/anthropic.py): explicit mutable state,
// one instance per in-flight stream, never shared across requests.
//
// It emits structured anthropictypes.StreamEvent values rather than wire
// bytes so the orchestrator can pass each one through a native-Anthropic
// policy hook before RenderAnthropicSSE serializes it.
//
// Anthropic numbers content blocks by position in the message; OpenAI's
// wire format has no such index for the (singular) text block and a
// provider-assigned index for tool calls. The assembler's job is bridging
// that: it assigns each distinct Block it sees the next Anthropic index,
// in order of first appearance.
type AnthropicSSEAssembler struct {
	messageID   string
	model       string
	blockIndex  map[streamstate.Block]int
	emittedArgs map[*streamstate.ToolCallBlock]int
	nextIndex   int
	started     bool
}

// NewAnthropicSSEAssembler returns an assembler for one stream. messageID
// should be the upstream or server-generated response id; it is echoed
// verbatim in message_start and is otherwise opaque to this package.
func NewAnthropicSSEAssembler(messageID, model string) *AnthropicSSEAssembler {
	return &AnthropicSSEAssembler{
		messageID:   messageID,
		model:       model,
		blockIndex:  make(map[streamstate.Block]int),
		emittedArgs: make(map[*streamstate.ToolCallBlock]int),
	}
}

// Start returns the message_start event. It must be emitted exactly once,
// before the first Process call, per Anthropic's protocol.
func (a *AnthropicSSEAssembler) Start() anthropictypes.StreamEvent {
	a.started = true
	return anthropictypes.StreamEvent{
		Type: "message_start",
		Message: &anthropictypes.Response{
			ID:    a.messageID,
			Type:  "message",
			Role:  "assistant",
			Model: a.model,
		},
	}
}

// Process consumes one streamstate.Event and returns the Anthropic stream
// events it implies — zero, one, or two (a delta event that also opens a
// new block emits content_block_start first).
func (a *AnthropicSSEAssembler) Process(ev streamstate.Event) []anthropictypes.StreamEvent {
	switch ev.Kind {
	case streamstate.EventContentDelta:
		return a.processContentDelta(ev)
	case streamstate.EventContentComplete:
		return a.closeBlock(ev.Content)
	case streamstate.EventToolCallDelta:
		return a.processToolCallDelta(ev)
	case streamstate.EventToolCallComplete:
		return a.closeBlock(ev.ToolCall)
	default:
		return nil
	}
}

func (a *AnthropicSSEAssembler) processContentDelta(ev streamstate.Event) []anthropictypes.StreamEvent {
	var out []anthropictypes.StreamEvent
	idx, seen := a.blockIndex[ev.Content]
	if !seen {
		idx = a.openBlock(ev.Content)
		out = append(out, anthropictypes.StreamEvent{
			Type:         "content_block_start",
			Index:        idx,
			ContentBlock: &anthropictypes.ContentBlock{Type: "text"},
		})
	}
	return append(out, anthropictypes.StreamEvent{
		Type:  "content_block_delta",
		Index: idx,
		Delta: mustMarshalDelta(anthropictypes.TextDelta{Type: "text_delta", Text: ev.ContentDelta}),
	})
}

func (a *AnthropicSSEAssembler) processToolCallDelta(ev streamstate.Event) []anthropictypes.StreamEvent {
	tc := ev.ToolCall
	var out []anthropictypes.StreamEvent
	idx, seen := a.blockIndex[tc]
	if !seen {
		idx = a.openBlock(tc)
		out = append(out, anthropictypes.StreamEvent{
			Type:  "content_block_start",
			Index: idx,
			ContentBlock: &anthropictypes.ContentBlock{
				Type:  "tool_use",
				ID:    tc.ID,
				Name:  tc.Name,
				Input: json.RawMessage(`{}`),
			},
		})
	}
	return a.appendToolDelta(out, idx, tc)
}

// appendToolDelta emits one input_json_delta carrying the newest
// arguments fragment. The assembler tracks how much of each block's
// accumulated argument string it has already emitted, so the opening
// chunk (whose first fragment is already folded into the block) and every
// later fragment each go out exactly once.
func (a *AnthropicSSEAssembler) appendToolDelta(out []anthropictypes.StreamEvent, idx int, tc *streamstate.ToolCallBlock) []anthropictypes.StreamEvent {
	emitted := a.emittedArgs[tc]
	fragment := tc.Arguments[emitted:]
	if fragment == "" {
		return out
	}
	a.emittedArgs[tc] = len(tc.Arguments)
	return append(out, anthropictypes.StreamEvent{
		Type:  "content_block_delta",
		Index: idx,
		Delta: mustMarshalDelta(anthropictypes.InputJSONDelta{Type: "input_json_delta", PartialJSON: fragment}),
	})
}

func (a *AnthropicSSEAssembler) openBlock(b streamstate.Block) int {
	idx := a.nextIndex
	a.nextIndex++
	a.blockIndex[b] = idx
	return idx
}

func (a *AnthropicSSEAssembler) closeBlock(b streamstate.Block) []anthropictypes.StreamEvent {
	idx, ok := a.blockIndex[b]
	if !ok {
		return nil
	}
	return []anthropictypes.StreamEvent{{Type: "content_block_stop", Index: idx}}
}

// Finish returns the message_delta (carrying the final stop_reason and
// usage) followed by message_stop — the two events that end any Anthropic
// stream, in the order Anthropic expects them.
func (a *AnthropicSSEAssembler) Finish(stopReason string, usage message.Usage) []anthropictypes.StreamEvent {
	return []anthropictypes.StreamEvent{
		{
			Type:  "message_delta",
			Delta: mustMarshalDelta(anthropictypes.MessageDelta{StopReason: stopReason}),
			Usage: &anthropictypes.Usage{OutputTokens: usage.CompletionTokens},
		},
		{Type: "message_stop"},
	}
}

func mustMarshalDelta(v any) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		// deltas are static structs of strings; a marshal failure is a
		// programming error, not bad input
		panic(fmt.Sprintf("convert: marshal stream delta: %v", err))
	}
	return data
}

// RenderAnthropicSSE serializes one Anthropic stream event as its SSE
// wire block. Anthropic streams always carry an explicit "event:" line,
// unlike OpenAI's bare "data:" lines.
func RenderAnthropicSSE(ev anthropictypes.StreamEvent) string {
	var payload any
	switch ev.Type {
	case "message_start":
		msg := ev.Message
		if msg == nil {
			msg = &anthropictypes.Response{Type: "message", Role: "assistant"}
		}
		payload = map[string]any{
			"type": "message_start",
			"message": map[string]any{
				"id":            msg.ID,
				"type":          "message",
				"role":          "assistant",
				"model":         msg.Model,
				"content":       []any{},
				"stop_reason":   nil,
				"stop_sequence": nil,
				"usage":         map[string]any{"input_tokens": msg.Usage.InputTokens, "output_tokens": msg.Usage.OutputTokens},
			},
		}

	case "content_block_start":
		block := map[string]any{}
		if cb := ev.ContentBlock; cb != nil {
			if cb.Type == "tool_use" {
				input := json.RawMessage(`{}`)
				if len(cb.Input) > 0 {
					input = cb.Input
				}
				block = map[string]any{"type": "tool_use", "id": cb.ID, "name": cb.Name, "input": input}
			} else {
				block = map[string]any{"type": "text", "text": cb.Text}
			}
		}
		payload = map[string]any{"type": "content_block_start", "index": ev.Index, "content_block": block}

	case "content_block_delta":
		payload = map[string]any{"type": "content_block_delta", "index": ev.Index, "delta": ev.Delta}

	case "content_block_stop":
		payload = map[string]any{"type": "content_block_stop", "index": ev.Index}

	case "message_delta":
		body := map[string]any{"type": "message_delta", "delta": ev.Delta}
		if ev.Usage != nil {
			body["usage"] = map[string]any{"output_tokens": ev.Usage.OutputTokens}
		}
		payload = body

	default:
		payload = map[string]any{"type": ev.Type}
	}

	data, err := json.Marshal(payload)
	if err != nil {
		panic(fmt.Sprintf("convert: marshal sse event %s: %v", ev.Type, err))
	}
	return "event: " + ev.Type + "\ndata: " + string(data) + "\n\n"
}
