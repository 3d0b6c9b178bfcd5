package compose

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/axiomgate/llmproxy/internal/anthropictypes"
	"github.com/axiomgate/llmproxy/internal/chunk"
	"github.com/axiomgate/llmproxy/internal/message"
	"github.com/axiomgate/llmproxy/internal/policy"
	"github.com/axiomgate/llmproxy/internal/streamstate"
)

// SerialPolicy chains sub-policies so each one's output feeds the next's
// input. For the request/response hooks that is plain call chaining; for
// streaming, each sub-policy runs against a private StreamingContext
// whose egress queue feeds the next sub-policy's ingress — only the last
// stage's output reaches the transaction's true egress. Sub-policy k+1
// therefore observes exactly the chunks sub-policy k produced, in order,
// and never the raw upstream stream. Grounded on compose_policy's
// chain-building semantics in
// original_source/.../policy_composition.py.
type SerialPolicy struct {
	policies  []policy.Policy
	chainSlot policy.StateSlot[*serialChain]
	anthropic conformanceCache
}

// serialSeq distinguishes each SerialPolicy's per-transaction chain state
// in the shared scratchpad, so nested compositions never collide.
var serialSeq atomic.Int64

// Serial composes policies into a single Policy that dispatches every hook
// through them in order.
func Serial(policies ...policy.Policy) *SerialPolicy {
	slotName := "compose.serial." + strconv.FormatInt(serialSeq.Add(1), 10)
	return &SerialPolicy{
		policies:  policies,
		chainSlot: policy.NewStateSlot[*serialChain](slotName, nil),
	}
}

// stageEgressCapacity bounds how many chunks one stage may emit while
// processing a single input chunk before its queue fills. Stages are
// drained synchronously after every dispatch, so this only needs to cover
// one hook invocation's burst.
const stageEgressCapacity = 256

// serialChain is the per-transaction streaming state of one SerialPolicy:
// a private StreamingContext per stage, created on the first chunk and
// kept on the transaction's scratchpad.
type serialChain struct {
	stages []*policy.StreamingContext
}

func (s *SerialPolicy) chainFor(sctx *policy.StreamingContext) *serialChain {
	chain := policy.Get(sctx.Context, s.chainSlot)
	if chain != nil {
		return chain
	}
	chain = &serialChain{stages: make([]*policy.StreamingContext, len(s.policies))}
	for i := range s.policies {
		chain.stages[i] = policy.NewChildStreamingContext(sctx, streamstate.NewAggregator(false, nil), stageEgressCapacity)
	}
	policy.Set(sctx.Context, s.chainSlot, chain)
	return chain
}

// drainStage empties one stage's egress queue without blocking. Stages
// are only ever written from the same goroutine that drains them, so an
// empty queue means the stage has nothing more to say for this step.
func drainStage(sctx *policy.StreamingContext) []chunk.Chunk {
	var out []chunk.Chunk
	for {
		select {
		case c := <-sctx.Egress:
			out = append(out, c)
		default:
			return out
		}
	}
}

func (s *SerialPolicy) Name() string {
	names := make([]string, len(s.policies))
	for i, p := range s.policies {
		names[i] = p.Name()
	}
	return "serial(" + strings.Join(names, ",") + ")"
}

func (s *SerialPolicy) OnRequest(ctx context.Context, pctx *policy.Context, req *message.Request) (*message.Request, error) {
	var err error
	for _, p := range s.policies {
		req, err = p.OnRequest(ctx, pctx, req)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", p.Name(), err)
		}
	}
	return req, nil
}

func (s *SerialPolicy) OnResponse(ctx context.Context, pctx *policy.Context, resp *message.Response) (*message.Response, error) {
	var err error
	for _, p := range s.policies {
		resp, err = p.OnResponse(ctx, pctx, resp)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", p.Name(), err)
		}
	}
	return resp, nil
}

// OnChunkReceived runs the whole chain for one raw chunk: the chunk is
// dispatched through stage 1's full hook surface against its private
// context, whatever stage 1 queued is dispatched through stage 2, and so
// on; the final stage's output is forwarded to the transaction's true
// egress. It always returns nil — the root aggregator never sees the raw
// chunk, because the chain's own per-stage aggregators already own the
// decomposition.
func (s *SerialPolicy) OnChunkReceived(ctx context.Context, sctx *policy.StreamingContext, c chunk.Chunk) (*chunk.Chunk, error) {
	chain := s.chainFor(sctx)
	pending := []chunk.Chunk{c}
	for i, p := range s.policies {
		stage := chain.stages[i]
		for _, cc := range pending {
			if err := policy.DispatchChunk(ctx, p, stage, cc); err != nil {
				return nil, fmt.Errorf("%s: %w", p.Name(), err)
			}
		}
		pending = drainStage(stage)
	}
	for _, cc := range pending {
		if err := policy.SendChunk(sctx, cc); err != nil {
			return nil, err
		}
	}
	return nil, nil
}

func (s *SerialPolicy) OnContentDelta(ctx context.Context, sctx *policy.StreamingContext, block *streamstate.ContentBlock, delta string) (string, error) {
	var err error
	for _, p := range s.policies {
		delta, err = p.OnContentDelta(ctx, sctx, block, delta)
		if err != nil {
			return "", fmt.Errorf("%s: %w", p.Name(), err)
		}
	}
	return delta, nil
}

func (s *SerialPolicy) OnContentComplete(ctx context.Context, sctx *policy.StreamingContext, block *streamstate.ContentBlock) error {
	for _, p := range s.policies {
		if err := p.OnContentComplete(ctx, sctx, block); err != nil {
			return fmt.Errorf("%s: %w", p.Name(), err)
		}
	}
	return nil
}

func (s *SerialPolicy) OnToolCallDelta(ctx context.Context, sctx *policy.StreamingContext, block *streamstate.ToolCallBlock, delta chunk.ToolCallDelta) error {
	for _, p := range s.policies {
		if err := p.OnToolCallDelta(ctx, sctx, block, delta); err != nil {
			return fmt.Errorf("%s: %w", p.Name(), err)
		}
	}
	return nil
}

func (s *SerialPolicy) OnToolCallComplete(ctx context.Context, sctx *policy.StreamingContext, block *streamstate.ToolCallBlock) error {
	for _, p := range s.policies {
		if err := p.OnToolCallComplete(ctx, sctx, block); err != nil {
			return fmt.Errorf("%s: %w", p.Name(), err)
		}
	}
	return nil
}

func (s *SerialPolicy) OnFinishReason(ctx context.Context, sctx *policy.StreamingContext, reason string) (string, error) {
	var err error
	for _, p := range s.policies {
		reason, err = p.OnFinishReason(ctx, sctx, reason)
		if err != nil {
			return "", fmt.Errorf("%s: %w", p.Name(), err)
		}
	}
	return reason, nil
}

// OnStreamComplete cascades completion down the chain: each stage first
// consumes whatever earlier stages flushed on completion, then gets its
// own OnStreamComplete, and its final output rolls forward. The last
// stage's remainder goes to the true egress.
func (s *SerialPolicy) OnStreamComplete(ctx context.Context, sctx *policy.StreamingContext) error {
	chain := s.chainFor(sctx)
	var pending []chunk.Chunk
	for i, p := range s.policies {
		stage := chain.stages[i]
		for _, cc := range pending {
			if err := policy.DispatchChunk(ctx, p, stage, cc); err != nil {
				return fmt.Errorf("%s: %w", p.Name(), err)
			}
		}
		if err := p.OnStreamComplete(ctx, stage); err != nil {
			return fmt.Errorf("%s: %w", p.Name(), err)
		}
		pending = drainStage(stage)
	}
	for _, cc := range pending {
		if err := policy.SendChunk(sctx, cc); err != nil {
			return err
		}
	}
	return nil
}

// requireAnthropicConformance returns an error when a sub-policy dispatch
// is attempted through the AnthropicPolicy path but at least one sub-policy in the
// chain does not implement it. The conformance check runs once and this
// result is cached for every later dispatch.
func (s *SerialPolicy) requireAnthropicConformance() error {
	if !s.anthropic.anthropicOK(s.policies) {
		return fmt.Errorf("compose: not every sub-policy of %q implements policy.AnthropicPolicy", s.Name())
	}
	return nil
}

func (s *SerialPolicy) OnAnthropicRequest(ctx context.Context, pctx *policy.Context, req *anthropictypes.Request) (*anthropictypes.Request, error) {
	if err := s.requireAnthropicConformance(); err != nil {
		return nil, err
	}
	var err error
	for _, p := range s.policies {
		ap, _ := policy.AsAnthropicPolicy(p)
		req, err = ap.OnAnthropicRequest(ctx, pctx, req)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", p.Name(), err)
		}
	}
	return req, nil
}

func (s *SerialPolicy) OnAnthropicResponse(ctx context.Context, pctx *policy.Context, resp *anthropictypes.Response) (*anthropictypes.Response, error) {
	if err := s.requireAnthropicConformance(); err != nil {
		return nil, err
	}
	var err error
	for _, p := range s.policies {
		ap, _ := policy.AsAnthropicPolicy(p)
		resp, err = ap.OnAnthropicResponse(ctx, pctx, resp)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", p.Name(), err)
		}
	}
	return resp, nil
}

func (s *SerialPolicy) OnAnthropicStreamEvent(ctx context.Context, sctx *policy.StreamingContext, ev *anthropictypes.StreamEvent) (*anthropictypes.StreamEvent, error) {
	if err := s.requireAnthropicConformance(); err != nil {
		return nil, err
	}
	cur := ev
	for _, p := range s.policies {
		if cur == nil {
			return nil, nil
		}
		ap, _ := policy.AsAnthropicPolicy(p)
		next, err := ap.OnAnthropicStreamEvent(ctx, sctx, cur)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", p.Name(), err)
		}
		cur = next
	}
	return cur, nil
}

var _ policy.Policy = (*SerialPolicy)(nil)
var _ policy.AnthropicPolicy = (*SerialPolicy)(nil)
