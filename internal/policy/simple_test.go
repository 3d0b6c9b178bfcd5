package policy

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/axiomgate/llmproxy/internal/chunk"
	"github.com/axiomgate/llmproxy/internal/message"
	"github.com/axiomgate/llmproxy/internal/streamstate"
)

// upperImpl is a minimal SimpleHooks implementation used only by this
// test, exercising the buffering behavior Simple provides independent of
// any builtin policy.
type upperImpl struct{}

func (upperImpl) OnResponseContent(_ *message.Request, text string) string {
	return strings.ToUpper(text)
}

func (upperImpl) OnResponseToolCall(_ *message.Request, call message.ToolCall) (message.ToolCall, bool) {
	return call, call.Name != "blocked_tool"
}

func newTestStreamingContext() *StreamingContext {
	txn := message.NewTransaction(message.FormatOpenAI, nil)
	txn.Request = &message.Request{}
	pctx := NewContext(txn)
	agg := streamstate.NewAggregator(false, nil)
	return NewStreamingContext(pctx, agg, 16, 0)
}

func TestSimpleBuffersContentUntilComplete(t *testing.T) {
	s := &Simple{Impl: upperImpl{}}
	sctx := newTestStreamingContext()

	finish := "stop"
	events, err := sctx.Aggregator.Feed(chunk.Chunk{Choices: []chunk.Choice{{Delta: chunk.Delta{Content: "hel"}}}})
	require.NoError(t, err)
	for _, ev := range events {
		text, err := s.OnContentDelta(context.Background(), sctx, ev.Content, ev.ContentDelta)
		require.NoError(t, err)
		assert.Empty(t, text, "deltas must not be forwarded individually")
	}

	events, err = sctx.Aggregator.Feed(chunk.Chunk{Choices: []chunk.Choice{{
		Delta:        chunk.Delta{Content: "lo"},
		FinishReason: &finish,
	}}})
	require.NoError(t, err)
	for _, ev := range events {
		switch ev.Kind {
		case streamstate.EventContentDelta:
			_, err := s.OnContentDelta(context.Background(), sctx, ev.Content, ev.ContentDelta)
			require.NoError(t, err)
		case streamstate.EventContentComplete:
			require.NoError(t, s.OnContentComplete(context.Background(), sctx, ev.Content))
		}
	}
	sctx.Close()

	var got string
	for c := range sctx.Egress {
		got += c.FirstChoice().Delta.Content
	}
	assert.Equal(t, "HELLO", got)
}

func TestSimpleDropsBlockedToolCall(t *testing.T) {
	s := &Simple{Impl: upperImpl{}}
	sctx := newTestStreamingContext()

	name := "blocked_tool"
	id := "call_1"
	finish := "tool_calls"
	events, err := sctx.Aggregator.Feed(chunk.Chunk{Choices: []chunk.Choice{{
		Delta: chunk.Delta{ToolCalls: []chunk.ToolCallDelta{{Index: 0, ID: &id, Name: &name, Arguments: `{}`}}},
	}}})
	require.NoError(t, err)
	for _, ev := range events {
		require.NoError(t, s.OnToolCallDelta(context.Background(), sctx, ev.ToolCall, chunk.ToolCallDelta{}))
	}

	events, err = sctx.Aggregator.Feed(chunk.Chunk{Choices: []chunk.Choice{{FinishReason: &finish}}})
	require.NoError(t, err)
	for _, ev := range events {
		if ev.Kind == streamstate.EventToolCallComplete {
			require.NoError(t, s.OnToolCallComplete(context.Background(), sctx, ev.ToolCall))
		}
	}
	sctx.Close()

	var sent int
	for range sctx.Egress {
		sent++
	}
	assert.Zero(t, sent, "blocked tool call must not reach the client")
}
