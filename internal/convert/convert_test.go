package convert

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/axiomgate/llmproxy/internal/anthropictypes"
	"github.com/axiomgate/llmproxy/internal/chunk"
	"github.com/axiomgate/llmproxy/internal/message"
	"github.com/axiomgate/llmproxy/internal/streamstate"
)

func mkChunk(text string) chunk.Chunk {
	return chunk.Chunk{Choices: []chunk.Choice{{Delta: chunk.Delta{Content: text}}}}
}

func mkFinish(reason string) chunk.Chunk {
	return chunk.Chunk{Choices: []chunk.Choice{{FinishReason: &reason}}}
}

func TestAnthropicRequestToInternalSplitsSystemAndToolResult(t *testing.T) {
	req := &anthropictypes.Request{
		Model:     "claude-x",
		MaxTokens: 256,
		System:    json.RawMessage(`"be terse"`),
		Messages: []anthropictypes.Message{
			{Role: "user", Content: []anthropictypes.ContentBlock{{Type: "text", Text: "hi"}}},
			{Role: "assistant", Content: []anthropictypes.ContentBlock{
				{Type: "tool_use", ID: "call_1", Name: "lookup", Input: json.RawMessage(`{"q":"x"}`)},
			}},
			{Role: "user", Content: []anthropictypes.ContentBlock{
				{Type: "tool_result", ToolUseID: "call_1", Content: json.RawMessage(`"result text"`)},
			}},
		},
	}

	out, err := AnthropicRequestToInternal(req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out.Messages) != 4 {
		t.Fatalf("expected 4 internal messages (system, user, assistant, tool), got %d: %+v", len(out.Messages), out.Messages)
	}
	if out.Messages[0].Role != message.RoleSystem || *out.Messages[0].Content != "be terse" {
		t.Fatalf("expected system message, got %+v", out.Messages[0])
	}
	if out.Messages[2].ToolCalls[0].Name != "lookup" {
		t.Fatalf("expected tool call named lookup, got %+v", out.Messages[2])
	}
	if out.Messages[3].Role != message.RoleTool || out.Messages[3].ToolCallID != "call_1" {
		t.Fatalf("expected tool result message, got %+v", out.Messages[3])
	}
}

// A user turn mixing a tool_result with text must produce the tool
// message first — OpenAI rejects a tool message that doesn't directly
// follow the assistant tool_calls message — with each text block becoming
// its own user message after it.
func TestAnthropicRequestToInternalOrdersToolResultBeforeText(t *testing.T) {
	req := &anthropictypes.Request{
		Model:     "claude-x",
		MaxTokens: 256,
		Messages: []anthropictypes.Message{
			{Role: "assistant", Content: []anthropictypes.ContentBlock{
				{Type: "tool_use", ID: "call_1", Name: "lookup", Input: json.RawMessage(`{}`)},
			}},
			{Role: "user", Content: []anthropictypes.ContentBlock{
				{Type: "text", Text: "here you go"},
				{Type: "tool_result", ToolUseID: "call_1", Content: json.RawMessage(`"result"`)},
				{Type: "text", Text: "and carry on"},
			}},
		},
	}

	out, err := AnthropicRequestToInternal(req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out.Messages) != 4 {
		t.Fatalf("expected assistant + tool + 2 user messages, got %d: %+v", len(out.Messages), out.Messages)
	}
	if out.Messages[1].Role != message.RoleTool || out.Messages[1].ToolCallID != "call_1" {
		t.Fatalf("tool message must come directly after the assistant turn, got %+v", out.Messages[1])
	}
	if out.Messages[2].Role != message.RoleUser || *out.Messages[2].Content != "here you go" {
		t.Fatalf("first text block must become its own user message after the tool message, got %+v", out.Messages[2])
	}
	if out.Messages[3].Role != message.RoleUser || *out.Messages[3].Content != "and carry on" {
		t.Fatalf("second text block must stay a separate user message, got %+v", out.Messages[3])
	}
	if err := out.Validate(); err != nil {
		t.Fatalf("converted sequence must satisfy the internal invariants: %v", err)
	}
}

func TestInternalRequestToAnthropicRoundTripsSystem(t *testing.T) {
	sys := "be terse"
	content := "hi"
	req := &message.Request{
		Model:     "gpt-x",
		MaxTokens: 100,
		Messages: []message.Message{
			{Role: message.RoleSystem, Content: &sys},
			{Role: message.RoleUser, Content: &content},
		},
	}
	out, err := InternalRequestToAnthropic(req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(out.System) != `"be terse"` {
		t.Fatalf("expected system field %q, got %q", `"be terse"`, out.System)
	}
	if len(out.Messages) != 1 || out.Messages[0].Role != "user" {
		t.Fatalf("expected single user message, got %+v", out.Messages)
	}
}

func TestAnthropicResponseToInternalAndBack(t *testing.T) {
	resp := &anthropictypes.Response{
		ID: "msg_1", Model: "claude-x", StopReason: "end_turn",
		Content: []anthropictypes.ContentBlock{{Type: "text", Text: "hello"}},
		Usage:   anthropictypes.Usage{InputTokens: 3, OutputTokens: 5},
	}
	internal := AnthropicResponseToInternal(resp)
	if internal.Content != "hello" || internal.StopReason != "stop" {
		t.Fatalf("unexpected internal response: %+v", internal)
	}
	back := InternalResponseToAnthropic(internal)
	if back.StopReason != "end_turn" || back.Content[0].Text != "hello" {
		t.Fatalf("unexpected round-tripped anthropic response: %+v", back)
	}
}

func renderAll(asm *AnthropicSSEAssembler, out *strings.Builder, evs []streamstate.Event) {
	for _, ev := range evs {
		for _, se := range asm.Process(ev) {
			out.WriteString(RenderAnthropicSSE(se))
		}
	}
}

func TestAnthropicSSEAssemblerEmitsWellFormedStream(t *testing.T) {
	agg := streamstate.NewAggregator(false, nil)
	asm := NewAnthropicSSEAssembler("msg_1", "claude-x")

	var out strings.Builder
	out.WriteString(RenderAnthropicSSE(asm.Start()))

	for _, text := range []string{"Hel", "lo"} {
		evs, err := agg.Feed(mkChunk(text))
		if err != nil {
			t.Fatalf("unexpected aggregator error: %v", err)
		}
		renderAll(asm, &out, evs)
	}
	finishEvents, err := agg.Feed(mkFinish("stop"))
	if err != nil {
		t.Fatalf("unexpected aggregator error: %v", err)
	}
	renderAll(asm, &out, finishEvents)
	for _, se := range asm.Finish("end_turn", message.Usage{CompletionTokens: 2}) {
		out.WriteString(RenderAnthropicSSE(se))
	}

	s := out.String()
	for _, want := range []string{"event: message_start", "event: content_block_start", "event: content_block_delta", "event: content_block_stop", "event: message_delta", "event: message_stop"} {
		if !strings.Contains(s, want) {
			t.Fatalf("expected stream to contain %q, got:\n%s", want, s)
		}
	}
}

// TestAnthropicSSEAssemblerToolCallEventOrder walks the full
// text-then-tool-call stream shape and asserts the exact event order
// Anthropic clients require: the text block closes before the tool_use
// block opens, each argument fragment is forwarded one-per-fragment, and
// the tool index picks up after the text block's.
func TestAnthropicSSEAssemblerToolCallEventOrder(t *testing.T) {
	agg := streamstate.NewAggregator(false, nil)
	asm := NewAnthropicSSEAssembler("msg_1", "claude-x")

	id, name := "toolu_1", "get_weather"
	chunks := []chunk.Chunk{
		mkChunk("Let me check."),
		{Choices: []chunk.Choice{{Delta: chunk.Delta{ToolCalls: []chunk.ToolCallDelta{{Index: 0, ID: &id, Name: &name, Arguments: `{"loc`}}}}}},
		{Choices: []chunk.Choice{{Delta: chunk.Delta{ToolCalls: []chunk.ToolCallDelta{{Index: 0, Arguments: `ation":"SF"}`}}}}}},
		mkFinish("tool_calls"),
	}

	var types []string
	var fragments []string
	for _, c := range chunks {
		evs, err := agg.Feed(c)
		if err != nil {
			t.Fatalf("unexpected aggregator error: %v", err)
		}
		for _, ev := range evs {
			for _, se := range asm.Process(ev) {
				types = append(types, se.Type)
				if se.Type == "content_block_delta" {
					var d anthropictypes.InputJSONDelta
					if json.Unmarshal(se.Delta, &d) == nil && d.Type == "input_json_delta" {
						fragments = append(fragments, d.PartialJSON)
					}
				}
				if se.Type == "content_block_start" && se.ContentBlock.Type == "tool_use" {
					if se.Index != 1 {
						t.Fatalf("tool_use block must take index 1 after the text block, got %d", se.Index)
					}
					if se.ContentBlock.ID != id || se.ContentBlock.Name != name {
						t.Fatalf("tool_use block start missing id/name: %+v", se.ContentBlock)
					}
				}
			}
		}
	}

	want := []string{
		"content_block_start", // text
		"content_block_delta",
		"content_block_stop",  // text closes before the tool block opens
		"content_block_start", // tool_use
		"content_block_delta",
		"content_block_delta",
		"content_block_stop",
	}
	if len(types) != len(want) {
		t.Fatalf("expected %d events %v, got %v", len(want), want, types)
	}
	for i := range want {
		if types[i] != want[i] {
			t.Fatalf("event %d: expected %s, got %s (full: %v)", i, want[i], types[i], types)
		}
	}
	if len(fragments) != 2 || fragments[0] != `{"loc` || fragments[1] != `ation":"SF"}` {
		t.Fatalf("argument fragments must be forwarded one-per-fragment: %v", fragments)
	}
}

func TestOpenAIChunkDisassemblerRoundTripsTextAndToolUse(t *testing.T) {
	d := NewOpenAIChunkDisassembler()

	events := []anthropictypes.StreamEvent{
		{Type: "message_start", Message: &anthropictypes.Response{ID: "msg_1", Model: "claude-x"}},
		{Type: "content_block_start", Index: 0, ContentBlock: &anthropictypes.ContentBlock{Type: "text"}},
		{Type: "content_block_delta", Index: 0, Delta: mustJSON(t, anthropictypes.TextDelta{Type: "text_delta", Text: "hi"})},
		{Type: "content_block_stop", Index: 0},
		{Type: "message_delta", Delta: mustJSON(t, anthropictypes.MessageDelta{StopReason: "end_turn"})},
		{Type: "message_stop"},
	}

	var chunks []string
	for _, ev := range events {
		c, err := d.Process(ev)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if c == nil {
			continue
		}
		if len(c.Choices) > 0 && c.Choices[0].Delta.Content != "" {
			chunks = append(chunks, c.Choices[0].Delta.Content)
		}
		if len(c.Choices) > 0 && c.Choices[0].FinishReason != nil {
			if *c.Choices[0].FinishReason != "stop" {
				t.Fatalf("expected finish_reason stop, got %q", *c.Choices[0].FinishReason)
			}
		}
	}
	if strings.Join(chunks, "") != "hi" {
		t.Fatalf("expected accumulated text %q, got %q", "hi", strings.Join(chunks, ""))
	}
}

func mustJSON(t *testing.T, v any) json.RawMessage {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return b
}
