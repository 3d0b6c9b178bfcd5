package policy

import "github.com/axiomgate/llmproxy/internal/chunk"

// This file is the Go counterpart of the original's
// policy_core/streaming_utils.py: small, composable helpers a policy's
// hook implementation calls to actually move chunks onto the egress
// queue, so hook bodies read as "do X" rather than hand-building Chunk
// literals every time. Every helper returns Send's error verbatim: a
// failed put means the client stopped draining, and the hook should
// surface that, not swallow it.

// SendText queues a chunk carrying a plain content delta. Most transform
// policies' OnContentDelta implementation is exactly "call SendText with
// whatever rewritten text I want the client to see instead".
func SendText(sctx *StreamingContext, text string) error {
	return sctx.Send(chunk.Chunk{Choices: []chunk.Choice{{Delta: chunk.Delta{Content: text}}}})
}

// SendToolCall queues a chunk carrying one tool-call argument fragment.
func SendToolCall(sctx *StreamingContext, index int, id, name *string, argsFragment string) error {
	return sctx.Send(chunk.Chunk{Choices: []chunk.Choice{{Delta: chunk.Delta{ToolCalls: []chunk.ToolCallDelta{
		{Index: index, ID: id, Name: name, Arguments: argsFragment},
	}}}}})
}

// SendChunk queues a chunk verbatim — the right call for a policy that
// already has a fully-formed chunk.Chunk in hand (e.g. one it read back
// out of the aggregator's raw chunk history).
func SendChunk(sctx *StreamingContext, c chunk.Chunk) error {
	return sctx.Send(c)
}

// PassthroughAccumulated forwards every raw chunk the aggregator has
// retained since the last call verbatim, advancing the stream state's
// LastEmissionIndex cursor — for a policy that held back its egress and
// then decided to release everything received so far unchanged. Requires
// the aggregator to have been built with raw-chunk retention on. A chunk
// that OnChunkReceived dropped by returning nil never reaches the
// aggregator, so it is not among the chunks forwarded here.
func PassthroughAccumulated(sctx *StreamingContext) error {
	state := sctx.Aggregator.State()
	for _, c := range state.RawChunks[state.LastEmissionIndex:] {
		if err := sctx.Send(c); err != nil {
			return err
		}
		state.LastEmissionIndex++
	}
	return nil
}

// SendFinishReason queues a chunk carrying only a finish_reason, closing
// out the stream's final choice.
func SendFinishReason(sctx *StreamingContext, reason string) error {
	return sctx.Send(chunk.Chunk{Choices: []chunk.Choice{{FinishReason: &reason}}})
}
