package convert

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/axiomgate/llmproxy/internal/chunk"
	"github.com/axiomgate/llmproxy/internal/message"
)

func TestParseOpenAIRequestNestsToolsUnderFunction(t *testing.T) {
	raw := []byte(`{
		"model": "gpt-4o-mini",
		"messages": [{"role":"user","content":"hi"}],
		"tools": [{"type":"function","function":{"name":"get_weather","description":"d","parameters":{"type":"object"}}}],
		"stream": true
	}`)

	req, err := ParseOpenAIRequest(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if req.Model != "gpt-4o-mini" || !req.Stream {
		t.Fatalf("unexpected request: %+v", req)
	}
	if len(req.Tools) != 1 || req.Tools[0].Name != "get_weather" {
		t.Fatalf("tool not unpacked: %+v", req.Tools)
	}
	if len(req.Messages) != 1 || req.Messages[0].Role != message.RoleUser {
		t.Fatalf("message not decoded: %+v", req.Messages)
	}
}

func TestRenderOpenAIResponseNestsToolCallsUnderFunction(t *testing.T) {
	resp := &message.Response{
		ID:         "resp_1",
		Model:      "gpt-4o-mini",
		StopReason: "tool_calls",
		ToolCalls: []message.ToolCall{
			{ID: "call_1", Type: "function", Name: "get_weather", Arguments: `{"loc":"SF"}`},
		},
	}

	body, err := RenderOpenAIResponse(resp)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(string(body), `"function":{"name":"get_weather","arguments":"{\"loc\":\"SF\"}"}`) {
		t.Fatalf("tool call not nested under function: %s", body)
	}

	var decoded map[string]any
	if err := json.Unmarshal(body, &decoded); err != nil {
		t.Fatalf("response body is not valid JSON: %v", err)
	}
}

func TestRenderOpenAIResponsePlainTextHasNoToolCalls(t *testing.T) {
	resp := &message.Response{ID: "resp_2", Model: "gpt-4o-mini", Content: "hello", StopReason: "stop"}
	body, err := RenderOpenAIResponse(resp)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if strings.Contains(string(body), "tool_calls") {
		t.Fatalf("expected no tool_calls field: %s", body)
	}
	if !strings.Contains(string(body), `"content":"hello"`) {
		t.Fatalf("content missing: %s", body)
	}
}

func TestParseOpenAIChunkFlattensToolCallFunction(t *testing.T) {
	raw := []byte(`{
		"id": "chatcmpl-1",
		"object": "chat.completion.chunk",
		"model": "gpt-4o-mini",
		"choices": [{"index":0,"delta":{"tool_calls":[{"index":0,"id":"call_1","type":"function","function":{"name":"get_weather","arguments":"{\"loc"}}]},"finish_reason":null}]
	}`)

	c, err := ParseOpenAIChunk(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	tcs := c.FirstChoice().Delta.ToolCalls
	if len(tcs) != 1 {
		t.Fatalf("expected one tool call fragment, got %+v", tcs)
	}
	if tcs[0].Name == nil || *tcs[0].Name != "get_weather" {
		t.Fatalf("function name not flattened: %+v", tcs[0])
	}
	if tcs[0].Arguments != `{"loc` {
		t.Fatalf("arguments fragment not flattened: %q", tcs[0].Arguments)
	}
	if c.FirstChoice().FinishReason != nil {
		t.Fatalf("null finish_reason must stay nil, got %v", *c.FirstChoice().FinishReason)
	}
}

func TestRenderOpenAIChunkRoundTripsAndKeepsNullFinishReason(t *testing.T) {
	id := "call_1"
	name := "get_weather"
	c := &chunk.Chunk{
		ID:    "chatcmpl-1",
		Model: "gpt-4o-mini",
		Choices: []chunk.Choice{{
			Delta: chunk.Delta{ToolCalls: []chunk.ToolCallDelta{{Index: 0, ID: &id, Name: &name, Arguments: `{"loc`}}},
		}},
	}
	body, err := RenderOpenAIChunk(c)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(string(body), `"object":"chat.completion.chunk"`) {
		t.Fatalf("missing chunk object tag: %s", body)
	}
	if !strings.Contains(string(body), `"function":{"name":"get_weather","arguments":"{\"loc"}`) {
		t.Fatalf("tool call not nested under function: %s", body)
	}
	if !strings.Contains(string(body), `"finish_reason":null`) {
		t.Fatalf("intermediate chunk must carry an explicit null finish_reason: %s", body)
	}

	back, err := ParseOpenAIChunk(body)
	if err != nil {
		t.Fatalf("re-parse failed: %v", err)
	}
	got := back.FirstChoice().Delta.ToolCalls
	if len(got) != 1 || *got[0].Name != name || got[0].Arguments != `{"loc` {
		t.Fatalf("round trip mangled the fragment: %+v", got)
	}
}

func TestParseOpenAIRequestCapturesOpaqueFieldsByKey(t *testing.T) {
	raw := []byte(`{
		"model": "gpt-4o-mini",
		"messages": [{"role":"user","content":"hi"}],
		"top_p": 0.9,
		"stop": ["\n"],
		"user": "acct_42"
	}`)

	req, err := ParseOpenAIRequest(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(req.Extra) != 3 {
		t.Fatalf("expected 3 opaque fields, got %v", req.Extra)
	}
	if string(req.Extra["top_p"]) != "0.9" {
		t.Fatalf("top_p not preserved verbatim: %s", req.Extra["top_p"])
	}
	if string(req.Extra["user"]) != `"acct_42"` {
		t.Fatalf("user not preserved verbatim: %s", req.Extra["user"])
	}
}

func TestParseOpenAIRequestWithoutOpaqueFieldsHasNilExtra(t *testing.T) {
	req, err := ParseOpenAIRequest([]byte(`{"model":"gpt-4o-mini","messages":[],"stream":true,"n":1}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if req.Extra != nil {
		t.Fatalf("expected nil Extra for a fully-modeled request, got %v", req.Extra)
	}
}

func TestParseOpenAIRequestRejectsMultipleChoices(t *testing.T) {
	_, err := ParseOpenAIRequest([]byte(`{"model":"gpt-4o-mini","messages":[],"n":3}`))
	if err == nil {
		t.Fatal("expected n>1 to be rejected at admission")
	}
	if !strings.Contains(err.Error(), "n=3") {
		t.Fatalf("error should name the offending n: %v", err)
	}
}

func TestMergeExtraNeverShadowsOwnedKeys(t *testing.T) {
	body := []byte(`{"model":"gpt-4o-mini","stream":true}`)
	merged, err := MergeExtra(body, map[string]json.RawMessage{
		"top_p": json.RawMessage("0.5"),
		"model": json.RawMessage(`"injected"`),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var out map[string]json.RawMessage
	if err := json.Unmarshal(merged, &out); err != nil {
		t.Fatalf("merged body is not valid JSON: %v", err)
	}
	if string(out["model"]) != `"gpt-4o-mini"` {
		t.Fatalf("an opaque key must not shadow an owned field: %s", out["model"])
	}
	if string(out["top_p"]) != "0.5" {
		t.Fatalf("opaque field missing after merge: %v", out)
	}
}

func TestChunkCodecRoundTripsOpaqueTopLevelKeys(t *testing.T) {
	raw := []byte(`{
		"id":"chatcmpl-1","object":"chat.completion.chunk","model":"gpt-4o-mini",
		"system_fingerprint":"fp_abc",
		"choices":[{"index":0,"delta":{"content":"hi"},"finish_reason":null}]
	}`)
	c, err := ParseOpenAIChunk(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(c.Extra["system_fingerprint"]) != `"fp_abc"` {
		t.Fatalf("opaque chunk key not captured: %v", c.Extra)
	}

	body, err := RenderOpenAIChunk(c)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(string(body), `"system_fingerprint":"fp_abc"`) {
		t.Fatalf("opaque chunk key lost on egress: %s", body)
	}
}
