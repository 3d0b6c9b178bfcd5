package policy

import (
	"context"
	"fmt"

	"github.com/axiomgate/llmproxy/internal/chunk"
	"github.com/axiomgate/llmproxy/internal/streamstate"
)

// DispatchChunk drives one raw chunk through pol's streaming hook surface
// against sctx, in the canonical order: OnChunkReceived first (its return
// value is what actually reaches the aggregator; nil drops the chunk),
// then one hook call per semantic event the aggregator emits. The
// orchestrator's feeder uses it for the transaction's root pipeline, and
// composed policies reuse it to run each chained stage against its own
// private context.
//
// A *streamstate.ErrToolCallIndexGap from the aggregator is returned
// wrapped but unconverted, so the caller can tell a malformed chunk
// sequence apart from a hook failure; events produced before the gap have
// already been dispatched.
func DispatchChunk(ctx context.Context, pol Policy, sctx *StreamingContext, c chunk.Chunk) error {
	out, err := pol.OnChunkReceived(ctx, sctx, c)
	if err != nil {
		return fmt.Errorf("on_chunk_received: %w", err)
	}
	if out == nil {
		return nil
	}

	// The aggregator's tool-call events carry the accumulated block, not
	// the raw fragment; keep the chunk's own fragments alongside so
	// OnToolCallDelta still sees the wire-level increment.
	var toolDeltas []chunk.ToolCallDelta
	if choice := out.FirstChoice(); len(choice.Delta.ToolCalls) > 0 {
		toolDeltas = choice.Delta.ToolCalls
	}
	toolIdx := 0

	events, aggErr := sctx.Aggregator.Feed(*out)
	for _, ev := range events {
		if err := dispatchEvent(ctx, pol, sctx, ev, toolDeltas, &toolIdx); err != nil {
			return err
		}
	}
	if aggErr != nil {
		return fmt.Errorf("aggregating chunk: %w", aggErr)
	}
	return nil
}

// dispatchEvent runs one semantic event through the matching hook. Hooks
// with a return value (OnContentDelta, OnFinishReason) hand back what to
// forward and the queueing happens here; hooks with no return value are
// expected to queue their own egress via the Send* helpers, matching
// Base's defaults.
func dispatchEvent(ctx context.Context, pol Policy, sctx *StreamingContext, ev streamstate.Event, toolDeltas []chunk.ToolCallDelta, toolIdx *int) error {
	switch ev.Kind {
	case streamstate.EventContentDelta:
		text, err := pol.OnContentDelta(ctx, sctx, ev.Content, ev.ContentDelta)
		if err != nil {
			return fmt.Errorf("on_content_delta: %w", err)
		}
		if text != "" {
			return SendText(sctx, text)
		}

	case streamstate.EventContentComplete:
		if err := pol.OnContentComplete(ctx, sctx, ev.Content); err != nil {
			return fmt.Errorf("on_content_complete: %w", err)
		}

	case streamstate.EventToolCallDelta:
		var delta chunk.ToolCallDelta
		if *toolIdx < len(toolDeltas) {
			delta = toolDeltas[*toolIdx]
			*toolIdx++
		}
		if err := pol.OnToolCallDelta(ctx, sctx, ev.ToolCall, delta); err != nil {
			return fmt.Errorf("on_tool_call_delta: %w", err)
		}

	case streamstate.EventToolCallComplete:
		if err := pol.OnToolCallComplete(ctx, sctx, ev.ToolCall); err != nil {
			return fmt.Errorf("on_tool_call_complete: %w", err)
		}

	case streamstate.EventFinishReason:
		reason, err := pol.OnFinishReason(ctx, sctx, ev.FinishReason)
		if err != nil {
			return fmt.Errorf("on_finish_reason: %w", err)
		}
		if reason != "" {
			return SendFinishReason(sctx, reason)
		}
	}
	return nil
}
