package policy

import (
	"context"

	"github.com/axiomgate/llmproxy/internal/chunk"
	"github.com/axiomgate/llmproxy/internal/message"
	"github.com/axiomgate/llmproxy/internal/streamstate"
)

// SimpleHooks is the pair of methods a policy built on Simple implements.
// Go can't let Simple call back into an embedding type's overridden
// methods the way Python's BasePolicy subclasses do, so the embedder
// hands Simple a reference to itself (as SimpleHooks) at construction
// time — see builtin.NewUppercase for the pattern.
type SimpleHooks interface {
	// OnResponseContent receives the full, already-accumulated content of
	// one block (streaming: at block-complete time; non-streaming: the
	// whole response) and returns the text to actually send. Returning the
	// input unchanged is a no-op transform.
	OnResponseContent(req *message.Request, text string) string

	// OnResponseToolCall receives one complete tool call and returns the
	// (possibly rewritten) call plus a keep flag; false drops the call
	// entirely instead of forwarding it, replacing exception-based
	// blocking with an explicit return value.
	OnResponseToolCall(req *message.Request, call message.ToolCall) (message.ToolCall, bool)
}

// Simple is the buffering policy variant of this system's SimplePolicy:
// it lets the whole content or tool-call block accumulate (the aggregator
// already does this on ContentBlock.Text / ToolCallBlock.Arguments) and
// only calls into Impl once a block is complete, rather than exposing raw
// mid-stream deltas. Most policies that judge or rewrite whole values
// rather than token-by-token fragments should embed Simple instead of
// Base directly.
type Simple struct {
	Base
	Impl SimpleHooks
}

func (s *Simple) OnResponse(_ context.Context, pctx *Context, resp *message.Response) (*message.Response, error) {
	resp.Content = s.Impl.OnResponseContent(pctx.Transaction.Request, resp.Content)

	kept := resp.ToolCalls[:0]
	for _, tc := range resp.ToolCalls {
		rewritten, keep := s.Impl.OnResponseToolCall(pctx.Transaction.Request, tc)
		if keep {
			kept = append(kept, rewritten)
		}
	}
	resp.ToolCalls = kept
	return resp, nil
}

// OnContentDelta suppresses every individual fragment; the transformed
// text is only sent once, in OnContentComplete, since Impl needs the
// whole block to make its decision.
func (s *Simple) OnContentDelta(_ context.Context, _ *StreamingContext, _ *streamstate.ContentBlock, _ string) (string, error) {
	return "", nil
}

func (s *Simple) OnContentComplete(_ context.Context, sctx *StreamingContext, block *streamstate.ContentBlock) error {
	text := s.Impl.OnResponseContent(sctx.Transaction.Request, block.Text)
	if text == "" {
		return nil
	}
	return SendText(sctx, text)
}

// OnToolCallDelta suppresses every individual argument fragment, same
// reasoning as OnContentDelta.
func (s *Simple) OnToolCallDelta(_ context.Context, _ *StreamingContext, _ *streamstate.ToolCallBlock, _ chunk.ToolCallDelta) error {
	return nil
}

func (s *Simple) OnToolCallComplete(_ context.Context, sctx *StreamingContext, block *streamstate.ToolCallBlock) error {
	call := message.ToolCall{ID: block.ID, Type: "function", Name: block.Name, Arguments: block.Arguments}
	rewritten, keep := s.Impl.OnResponseToolCall(sctx.Transaction.Request, call)
	if !keep {
		return nil
	}
	return SendToolCall(sctx, block.Index, &rewritten.ID, &rewritten.Name, rewritten.Arguments)
}

var _ Policy = (*Simple)(nil)
