package builtin

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/axiomgate/llmproxy/internal/chunk"
	"github.com/axiomgate/llmproxy/internal/message"
	"github.com/axiomgate/llmproxy/internal/policy"
	"github.com/axiomgate/llmproxy/internal/streamstate"
)

func newPolicyContext(req *message.Request) *policy.Context {
	txn := message.NewTransaction(message.FormatOpenAI, nil)
	txn.Request = req
	return policy.NewContext(txn)
}

func TestNoOpPassesResponseThrough(t *testing.T) {
	p := NoOp{}
	resp := &message.Response{Content: "hello", ToolCalls: []message.ToolCall{{ID: "call_1", Name: "anything"}}}
	out, err := p.OnResponse(context.Background(), newPolicyContext(&message.Request{}), resp)
	require.NoError(t, err)
	assert.Equal(t, "hello", out.Content)
	assert.Len(t, out.ToolCalls, 1)
}

func TestUppercaseTransformsContentOnly(t *testing.T) {
	p := NewUppercase()
	resp := &message.Response{
		Content:   "hello world",
		ToolCalls: []message.ToolCall{{ID: "call_1", Name: "get_weather", Arguments: `{"city":"nyc"}`}},
	}
	out, err := p.OnResponse(context.Background(), newPolicyContext(&message.Request{}), resp)
	require.NoError(t, err)
	assert.Equal(t, "HELLO WORLD", out.Content)
	require.Len(t, out.ToolCalls, 1)
	assert.Equal(t, "get_weather", out.ToolCalls[0].Name)
}

func TestToolBlocklistDropsOnlyBlockedCalls(t *testing.T) {
	p := NewToolBlocklist("execute_code", "delete_file")
	resp := &message.Response{
		Content: "unchanged",
		ToolCalls: []message.ToolCall{
			{ID: "call_1", Name: "execute_code", Arguments: `{}`},
			{ID: "call_2", Name: "get_weather", Arguments: `{}`},
		},
	}
	out, err := p.OnResponse(context.Background(), newPolicyContext(&message.Request{}), resp)
	require.NoError(t, err)
	assert.Equal(t, "unchanged", out.Content)
	require.Len(t, out.ToolCalls, 1)
	assert.Equal(t, "get_weather", out.ToolCalls[0].Name)
}

func TestToolBlocklistAllowsUnlistedNames(t *testing.T) {
	p := NewToolBlocklist("execute_code")
	resp := &message.Response{ToolCalls: []message.ToolCall{{ID: "call_1", Name: "get_weather"}}}
	out, err := p.OnResponse(context.Background(), newPolicyContext(&message.Request{}), resp)
	require.NoError(t, err)
	require.Len(t, out.ToolCalls, 1)
	assert.Equal(t, "get_weather", out.ToolCalls[0].Name)
}

func TestToolBlocklistAllBlockedTurnsIntoStopWithNotice(t *testing.T) {
	p := NewToolBlocklist("delete_file")
	resp := &message.Response{
		StopReason: "tool_calls",
		ToolCalls:  []message.ToolCall{{ID: "call_1", Name: "delete_file", Arguments: `{}`}},
	}
	out, err := p.OnResponse(context.Background(), newPolicyContext(&message.Request{}), resp)
	require.NoError(t, err)
	assert.Empty(t, out.ToolCalls)
	assert.Equal(t, "stop", out.StopReason)
	assert.Contains(t, out.Content, "delete_file")
}

func TestToolBlocklistStreamingRewritesFinishWhenAllBlocked(t *testing.T) {
	p := NewToolBlocklist("delete_file")

	txn := message.NewTransaction(message.FormatOpenAI, nil)
	txn.Request = &message.Request{}
	sctx := policy.NewStreamingContext(policy.NewContext(txn), streamstate.NewAggregator(false, nil), 16, 0)

	id, name := "call_1", "delete_file"
	finish := "tool_calls"
	require.NoError(t, policy.DispatchChunk(context.Background(), p, sctx, chunk.Chunk{Choices: []chunk.Choice{{
		Delta: chunk.Delta{ToolCalls: []chunk.ToolCallDelta{{Index: 0, ID: &id, Name: &name, Arguments: `{}`}}},
	}}}))
	require.NoError(t, policy.DispatchChunk(context.Background(), p, sctx, chunk.Chunk{Choices: []chunk.Choice{{
		FinishReason: &finish,
	}}}))
	sctx.Close()

	var texts []string
	var finishes []string
	toolBytes := 0
	for c := range sctx.Egress {
		choice := c.FirstChoice()
		if choice.Delta.Content != "" {
			texts = append(texts, choice.Delta.Content)
		}
		toolBytes += len(choice.Delta.ToolCalls)
		if choice.FinishReason != nil {
			finishes = append(finishes, *choice.FinishReason)
		}
	}

	assert.Zero(t, toolBytes, "no tool-call content may reach the client")
	require.Len(t, texts, 1)
	assert.Contains(t, texts[0], "delete_file")
	assert.Equal(t, []string{"stop"}, finishes)
}

func TestToolBlocklistStreamingKeepsFinishWhenSomeCallsSurvive(t *testing.T) {
	p := NewToolBlocklist("delete_file")

	txn := message.NewTransaction(message.FormatOpenAI, nil)
	txn.Request = &message.Request{}
	sctx := policy.NewStreamingContext(policy.NewContext(txn), streamstate.NewAggregator(false, nil), 16, 0)

	blocked, kept := "delete_file", "get_weather"
	id1, id2 := "call_1", "call_2"
	finish := "tool_calls"
	require.NoError(t, policy.DispatchChunk(context.Background(), p, sctx, chunk.Chunk{Choices: []chunk.Choice{{
		Delta: chunk.Delta{ToolCalls: []chunk.ToolCallDelta{{Index: 0, ID: &id1, Name: &blocked, Arguments: `{}`}}},
	}}}))
	require.NoError(t, policy.DispatchChunk(context.Background(), p, sctx, chunk.Chunk{Choices: []chunk.Choice{{
		Delta: chunk.Delta{ToolCalls: []chunk.ToolCallDelta{{Index: 1, ID: &id2, Name: &kept, Arguments: `{}`}}},
	}}}))
	require.NoError(t, policy.DispatchChunk(context.Background(), p, sctx, chunk.Chunk{Choices: []chunk.Choice{{
		FinishReason: &finish,
	}}}))
	sctx.Close()

	var finishes []string
	var keptNames []string
	for c := range sctx.Egress {
		choice := c.FirstChoice()
		for _, tc := range choice.Delta.ToolCalls {
			if tc.Name != nil {
				keptNames = append(keptNames, *tc.Name)
			}
		}
		if choice.FinishReason != nil {
			finishes = append(finishes, *choice.FinishReason)
		}
	}

	assert.Equal(t, []string{"get_weather"}, keptNames)
	assert.Equal(t, []string{"tool_calls"}, finishes, "a turn with surviving calls keeps its tool_calls finish")
}
