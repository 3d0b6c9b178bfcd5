package policy

import (
	"context"

	"github.com/axiomgate/llmproxy/internal/chunk"
	"github.com/axiomgate/llmproxy/internal/message"
	"github.com/axiomgate/llmproxy/internal/streamstate"
)

// Base implements Policy with pass-through defaults for every hook. A
// concrete policy embeds Base and overrides only the hooks it cares
// about — the Go equivalent of the original's BasePolicy
// (policy_core/base_policy.py), which relied on Python's ability to
// subclass a protocol and override a subset of methods.
//
// Base's own Name returns "base"; every embedding policy is expected to
// override it.
type Base struct{}

func (Base) Name() string { return "base" }

func (Base) OnRequest(_ context.Context, _ *Context, req *message.Request) (*message.Request, error) {
	return req, nil
}

func (Base) OnResponse(_ context.Context, _ *Context, resp *message.Response) (*message.Response, error) {
	return resp, nil
}

// OnChunkReceived's default is pure pass-through of the raw chunk into the
// aggregator: it does not itself touch Egress. The orchestrator queues
// client-bound chunks from the return values of OnContentDelta and
// OnFinishReason, and OnToolCallDelta's default below sends its fragment
// itself; this hook exists only for policies that need to see wire-level
// framing before aggregation.
func (Base) OnChunkReceived(_ context.Context, _ *StreamingContext, c chunk.Chunk) (*chunk.Chunk, error) {
	return &c, nil
}

func (Base) OnContentDelta(_ context.Context, _ *StreamingContext, _ *streamstate.ContentBlock, delta string) (string, error) {
	return delta, nil
}

func (Base) OnContentComplete(_ context.Context, _ *StreamingContext, _ *streamstate.ContentBlock) error {
	return nil
}

// OnToolCallDelta's default forwards the raw fragment verbatim, the same
// pass-through discipline OnContentDelta's default applies to content —
// a policy that wants to buffer and decide at OnToolCallComplete instead
// (policy.Simple) overrides this to a no-op and sends the reassembled
// call itself once it is known whether to keep it.
func (Base) OnToolCallDelta(_ context.Context, sctx *StreamingContext, _ *streamstate.ToolCallBlock, delta chunk.ToolCallDelta) error {
	return SendToolCall(sctx, delta.Index, delta.ID, delta.Name, delta.Arguments)
}

func (Base) OnToolCallComplete(_ context.Context, _ *StreamingContext, _ *streamstate.ToolCallBlock) error {
	return nil
}

func (Base) OnFinishReason(_ context.Context, _ *StreamingContext, reason string) (string, error) {
	return reason, nil
}

func (Base) OnStreamComplete(_ context.Context, _ *StreamingContext) error {
	return nil
}

var _ Policy = Base{}
