package policy

import (
	"context"

	"github.com/axiomgate/llmproxy/internal/anthropictypes"
)

// AnthropicPolicy is the optional native-Anthropic hook set of spec.md
// §4.3's second bullet, grounded directly in
// original_source/.../policy_core/anthropic_interface.py's
// AnthropicPolicyInterface (on_anthropic_request / on_anthropic_response /
// on_anthropic_stream_event). A policy that also implements this interface
// lets the orchestrator skip the OpenAI round-trip conversion for an
// Anthropic-formatted client entirely, preserving Anthropic-only features
// (extended thinking, prompt caching blocks) convert.AnthropicRequestToInternal
// would otherwise drop on the floor.
//
// A concrete policy implements Policy (for OpenAI-formatted clients, or as
// a fallback) and may additionally implement AnthropicPolicy; the two are
// never required to produce equivalent output for the same logical
// transform, since a native-path policy might do something the internal
// representation has no room to express.
type AnthropicPolicy interface {
	// OnAnthropicRequest transforms a request before it is sent to an
	// Anthropic upstream. Returning a different *anthropictypes.Request
	// replaces it; returning it unchanged is a no-op pass-through.
	OnAnthropicRequest(ctx context.Context, pctx *Context, req *anthropictypes.Request) (*anthropictypes.Request, error)

	// OnAnthropicResponse transforms a complete (non-streaming) response
	// before it is returned to the client.
	OnAnthropicResponse(ctx context.Context, pctx *Context, resp *anthropictypes.Response) (*anthropictypes.Response, error)

	// OnAnthropicStreamEvent processes one raw Anthropic SSE event.
	// Returning the event unchanged passes it through, a modified event
	// transforms it, and a nil event filters it out of the client stream
	// entirely — matching the original interface's "event | None" return.
	OnAnthropicStreamEvent(ctx context.Context, sctx *StreamingContext, ev *anthropictypes.StreamEvent) (*anthropictypes.StreamEvent, error)
}

// AsAnthropicPolicy type-asserts p against AnthropicPolicy, so the
// orchestrator can decide, once per transaction, whether to take the
// native path or fall back to the standard OpenAI-shaped Policy dispatch.
func AsAnthropicPolicy(p Policy) (AnthropicPolicy, bool) {
	ap, ok := p.(AnthropicPolicy)
	return ap, ok
}
