// Package policy defines the pluggable request/response transform-or-judge
// contract every proxied call runs through, and the
// composition/hot-swap machinery built on top of it
// (internal/policy/compose, internal/policy/manager).
//
// A Policy implementation is stateless — the same value is reused across
// every concurrent transaction — and all per-call state lives on the
// Context or StreamingContext the orchestrator hands it, never on the
// Policy itself. This mirrors the original's PolicyProtocol /
// StreamingPolicyContext split (policy_core/policy_protocol.go,
// streaming_policy_context.py): Python enforced "no instance state" by
// convention, Go enforces it by construction, since Policy is an
// interface value the orchestrator may share across goroutines.
package policy

import (
	"context"

	"github.com/axiomgate/llmproxy/internal/chunk"
	"github.com/axiomgate/llmproxy/internal/message"
	"github.com/axiomgate/llmproxy/internal/streamstate"
)

// Policy is the full, non-streaming-and-streaming hook contract a policy
// may implement. Go has no way to implement "only some methods" of an
// interface the way Python's duck typing does, so every concrete policy
// is expected to embed Base (base.go) and override only the hooks it
// cares about, rather than implement this interface from scratch.
type Policy interface {
	// Name identifies the policy in logs and the admin status endpoint.
	Name() string

	// OnRequest runs once, before the request is forwarded upstream. It
	// may return a different *message.Request (a transform), the same one
	// unchanged (pass-through), or an error to block the call entirely.
	OnRequest(ctx context.Context, pctx *Context, req *message.Request) (*message.Request, error)

	// OnResponse runs once, after a complete non-streaming response comes
	// back from upstream, before it is converted to the client's wire
	// format.
	OnResponse(ctx context.Context, pctx *Context, resp *message.Response) (*message.Response, error)

	// OnChunkReceived runs once per raw upstream chunk, before the
	// aggregator decomposes it into semantic events. Its return value is
	// what actually gets fed to the aggregator (nil drops the chunk
	// entirely) — it does not itself queue anything to the client; that
	// happens in the semantic hooks below (from the return values of
	// OnContentDelta and OnFinishReason, and through the Send* helpers in
	// the hooks without a value to return). Most policies
	// never need this — it exists for policies that must see exact
	// wire-level framing (e.g. a replay/record policy) before aggregation.
	OnChunkReceived(ctx context.Context, sctx *StreamingContext, c chunk.Chunk) (*chunk.Chunk, error)

	// OnContentDelta runs once per content-block delta the aggregator
	// emits. It returns the text to actually forward to the client — a
	// transforming policy may rewrite it, a blocking policy may return "".
	OnContentDelta(ctx context.Context, sctx *StreamingContext, block *streamstate.ContentBlock, delta string) (string, error)

	// OnContentComplete runs once, exactly when the content block's
	// IsComplete flips to true.
	OnContentComplete(ctx context.Context, sctx *StreamingContext, block *streamstate.ContentBlock) error

	// OnToolCallDelta runs once per tool-call argument fragment.
	OnToolCallDelta(ctx context.Context, sctx *StreamingContext, block *streamstate.ToolCallBlock, delta chunk.ToolCallDelta) error

	// OnToolCallComplete runs once, exactly when a tool call block's
	// IsComplete flips to true — this is the natural place for a policy
	// that inspects fully-formed tool call arguments (e.g. a blocklist).
	OnToolCallComplete(ctx context.Context, sctx *StreamingContext, block *streamstate.ToolCallBlock) error

	// OnFinishReason runs once, when the aggregator observes a
	// finish_reason. It may rewrite the reason the client ultimately sees.
	OnFinishReason(ctx context.Context, sctx *StreamingContext, reason string) (string, error)

	// OnStreamComplete runs once, after the stream has been fully drained
	// and forwarded (or synthesized) — the natural place for a policy to
	// emit final observability or judge output.
	OnStreamComplete(ctx context.Context, sctx *StreamingContext) error
}
