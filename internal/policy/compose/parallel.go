package compose

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/axiomgate/llmproxy/internal/chunk"
	"github.com/axiomgate/llmproxy/internal/message"
	"github.com/axiomgate/llmproxy/internal/policy"
	"github.com/axiomgate/llmproxy/internal/streamstate"
)

// MergeFunc reduces the per-sub-policy results of a Parallel dispatch into
// the single value forwarded downstream. results is in sub-policy order;
// a MergeFunc that only cares about one voter can simply index into it.
// This generalizes the original's ad hoc merge callables
// (policy_composition.py's MultiParallelPolicy usage) into a typed Go
// shape, since Go has no equivalent of a runtime-duck-typed callable
// dispatched per hook.
type MergeFunc[T any] func(results []T) (T, error)

// First returns a MergeFunc that takes the first result unchanged,
// ignoring every other sub-policy's opinion — the default for a Parallel
// composition whose sub-policies are judges rather than transforms.
func First[T any]() MergeFunc[T] {
	return func(results []T) (T, error) {
		var zero T
		if len(results) == 0 {
			return zero, nil
		}
		return results[0], nil
	}
}

// Options configures the merge behavior of a Parallel composition. A nil
// field defaults to First[T]().
type Options struct {
	MergeRequest  MergeFunc[*message.Request]
	MergeResponse MergeFunc[*message.Response]
	MergeChunk    MergeFunc[*chunk.Chunk]
	MergeContent  MergeFunc[string]
	MergeFinish   MergeFunc[string]
}

// ParallelPolicy runs every sub-policy concurrently against the same
// input and reduces their results with a MergeFunc, grounded on spec.md
// §4.6's parallel composition (run N sub-policies, e.g. independent
// judges, concurrently and combine their verdicts). Side-effecting hooks
// with nothing to merge (OnContentComplete, OnToolCallDelta,
// OnToolCallComplete, OnStreamComplete) still run every sub-policy
// concurrently; the first error any of them returns wins.
type ParallelPolicy struct {
	policies []policy.Policy
	opts     Options
}

// Parallel composes policies into a single Policy that dispatches every
// hook to all of them concurrently, combining value-returning hooks with
// opts' merge functions (First[T]() if left nil).
func Parallel(opts Options, policies ...policy.Policy) *ParallelPolicy {
	if opts.MergeRequest == nil {
		opts.MergeRequest = First[*message.Request]()
	}
	if opts.MergeResponse == nil {
		opts.MergeResponse = First[*message.Response]()
	}
	if opts.MergeChunk == nil {
		opts.MergeChunk = First[*chunk.Chunk]()
	}
	if opts.MergeContent == nil {
		opts.MergeContent = First[string]()
	}
	if opts.MergeFinish == nil {
		opts.MergeFinish = First[string]()
	}
	return &ParallelPolicy{policies: policies, opts: opts}
}

func (p *ParallelPolicy) Name() string {
	names := make([]string, len(p.policies))
	for i, sub := range p.policies {
		names[i] = sub.Name()
	}
	return "parallel(" + strings.Join(names, ",") + ")"
}

// runAll calls fn once per sub-policy concurrently and returns their
// results in sub-policy order (not completion order), plus the first
// error encountered, if any.
func runAll[T any](policies []policy.Policy, fn func(p policy.Policy) (T, error)) ([]T, error) {
	results := make([]T, len(policies))
	errs := make([]error, len(policies))
	var wg sync.WaitGroup
	wg.Add(len(policies))
	for i, p := range policies {
		go func(i int, p policy.Policy) {
			defer wg.Done()
			results[i], errs[i] = fn(p)
		}(i, p)
	}
	wg.Wait()
	for i, err := range errs {
		if err != nil {
			return nil, fmt.Errorf("%s: %w", policies[i].Name(), err)
		}
	}
	return results, nil
}

func (p *ParallelPolicy) OnRequest(ctx context.Context, pctx *policy.Context, req *message.Request) (*message.Request, error) {
	results, err := runAll(p.policies, func(sub policy.Policy) (*message.Request, error) {
		return sub.OnRequest(ctx, pctx, req.Clone())
	})
	if err != nil {
		return nil, err
	}
	return p.opts.MergeRequest(results)
}

func (p *ParallelPolicy) OnResponse(ctx context.Context, pctx *policy.Context, resp *message.Response) (*message.Response, error) {
	results, err := runAll(p.policies, func(sub policy.Policy) (*message.Response, error) {
		return sub.OnResponse(ctx, pctx, cloneResponse(resp))
	})
	if err != nil {
		return nil, err
	}
	return p.opts.MergeResponse(results)
}

func (p *ParallelPolicy) OnChunkReceived(ctx context.Context, sctx *policy.StreamingContext, c chunk.Chunk) (*chunk.Chunk, error) {
	results, err := runAll(p.policies, func(sub policy.Policy) (*chunk.Chunk, error) {
		return sub.OnChunkReceived(ctx, sctx, c)
	})
	if err != nil {
		return nil, err
	}
	return p.opts.MergeChunk(results)
}

func (p *ParallelPolicy) OnContentDelta(ctx context.Context, sctx *policy.StreamingContext, block *streamstate.ContentBlock, delta string) (string, error) {
	results, err := runAll(p.policies, func(sub policy.Policy) (string, error) {
		return sub.OnContentDelta(ctx, sctx, block, delta)
	})
	if err != nil {
		return "", err
	}
	return p.opts.MergeContent(results)
}

func (p *ParallelPolicy) OnContentComplete(ctx context.Context, sctx *policy.StreamingContext, block *streamstate.ContentBlock) error {
	_, err := runAll(p.policies, func(sub policy.Policy) (struct{}, error) {
		return struct{}{}, sub.OnContentComplete(ctx, sctx, block)
	})
	return err
}

func (p *ParallelPolicy) OnToolCallDelta(ctx context.Context, sctx *policy.StreamingContext, block *streamstate.ToolCallBlock, delta chunk.ToolCallDelta) error {
	_, err := runAll(p.policies, func(sub policy.Policy) (struct{}, error) {
		return struct{}{}, sub.OnToolCallDelta(ctx, sctx, block, delta)
	})
	return err
}

func (p *ParallelPolicy) OnToolCallComplete(ctx context.Context, sctx *policy.StreamingContext, block *streamstate.ToolCallBlock) error {
	_, err := runAll(p.policies, func(sub policy.Policy) (struct{}, error) {
		return struct{}{}, sub.OnToolCallComplete(ctx, sctx, block)
	})
	return err
}

func (p *ParallelPolicy) OnFinishReason(ctx context.Context, sctx *policy.StreamingContext, reason string) (string, error) {
	results, err := runAll(p.policies, func(sub policy.Policy) (string, error) {
		return sub.OnFinishReason(ctx, sctx, reason)
	})
	if err != nil {
		return "", err
	}
	return p.opts.MergeFinish(results)
}

func (p *ParallelPolicy) OnStreamComplete(ctx context.Context, sctx *policy.StreamingContext) error {
	_, err := runAll(p.policies, func(sub policy.Policy) (struct{}, error) {
		return struct{}{}, sub.OnStreamComplete(ctx, sctx)
	})
	return err
}

// cloneResponse gives each parallel sub-policy its own Response so none
// can race on another's ToolCalls slice; message.Response has no Clone
// method of its own since, unlike Request, nothing outside compose needed
// one.
func cloneResponse(r *message.Response) *message.Response {
	if r == nil {
		return nil
	}
	clone := *r
	clone.ToolCalls = append([]message.ToolCall(nil), r.ToolCalls...)
	return &clone
}

var _ policy.Policy = (*ParallelPolicy)(nil)
