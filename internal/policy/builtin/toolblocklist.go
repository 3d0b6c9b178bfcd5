package builtin

import (
	"context"
	"strings"

	"github.com/axiomgate/llmproxy/internal/message"
	"github.com/axiomgate/llmproxy/internal/policy"
	"github.com/axiomgate/llmproxy/internal/streamstate"
)

// ToolBlocklist drops any tool call whose name appears in Blocked, passing
// content and every other tool call through unchanged. When every tool
// call of a turn was blocked, the client gets a short text notice in
// place of the calls and a plain stop finish instead of tool_calls —
// otherwise an agent client would wait forever for a tool invocation that
// never comes. Grounded on
// original_source/.../v2/policies/simple_tool_filter_example.py's
// SimpleToolFilterPolicy (on_tool_call_simple returning None to block)
// and original_source/.../policies/pip_block_policy.py's narrower
// single-purpose blocklist.
type ToolBlocklist struct {
	policy.Simple
	Blocked map[string]bool
}

// Per-transaction tallies of blocked and kept calls, carried on the
// context scratchpad since the policy value itself is shared across
// transactions.
var (
	blockedNamesSlot = policy.NewStateSlot[[]string]("builtin.tool_blocklist.blocked", nil)
	keptCallsSlot    = policy.NewStateSlot[int]("builtin.tool_blocklist.kept", nil)
)

// NewToolBlocklist constructs a ToolBlocklist policy blocking the given
// tool names.
func NewToolBlocklist(names ...string) *ToolBlocklist {
	blocked := make(map[string]bool, len(names))
	for _, n := range names {
		blocked[n] = true
	}
	t := &ToolBlocklist{Blocked: blocked}
	t.Simple.Impl = t
	return t
}

func (t *ToolBlocklist) Name() string { return "tool_blocklist" }

func (t *ToolBlocklist) OnResponseContent(_ *message.Request, text string) string {
	return text
}

func (t *ToolBlocklist) OnResponseToolCall(_ *message.Request, call message.ToolCall) (message.ToolCall, bool) {
	if t.Blocked[call.Name] {
		return call, false
	}
	return call, true
}

func (t *ToolBlocklist) OnResponse(ctx context.Context, pctx *policy.Context, resp *message.Response) (*message.Response, error) {
	hadCalls := len(resp.ToolCalls) > 0
	blockedNames := t.blockedIn(resp.ToolCalls)

	resp, err := t.Simple.OnResponse(ctx, pctx, resp)
	if err != nil {
		return nil, err
	}
	if hadCalls && len(resp.ToolCalls) == 0 {
		resp.StopReason = "stop"
		if resp.Content == "" {
			resp.Content = blockNotice(blockedNames)
		}
	}
	return resp, nil
}

// OnToolCallComplete tallies the verdict before delegating the actual
// keep-or-drop to Simple, so OnFinishReason can tell an all-blocked turn
// from a mixed one.
func (t *ToolBlocklist) OnToolCallComplete(ctx context.Context, sctx *policy.StreamingContext, block *streamstate.ToolCallBlock) error {
	if t.Blocked[block.Name] {
		policy.Set(sctx.Context, blockedNamesSlot, append(policy.Get(sctx.Context, blockedNamesSlot), block.Name))
	} else {
		policy.Set(sctx.Context, keptCallsSlot, policy.Get(sctx.Context, keptCallsSlot)+1)
	}
	return t.Simple.OnToolCallComplete(ctx, sctx, block)
}

// OnFinishReason rewrites a tool_calls finish into a plain stop when this
// turn's every tool call was blocked, queueing the notice text first so
// the client sees why the calls disappeared.
func (t *ToolBlocklist) OnFinishReason(_ context.Context, sctx *policy.StreamingContext, reason string) (string, error) {
	if reason != "tool_calls" {
		return reason, nil
	}
	blocked := policy.Get(sctx.Context, blockedNamesSlot)
	if len(blocked) == 0 || policy.Get(sctx.Context, keptCallsSlot) > 0 {
		return reason, nil
	}
	if err := policy.SendText(sctx, blockNotice(blocked)); err != nil {
		return "", err
	}
	return "stop", nil
}

func (t *ToolBlocklist) blockedIn(calls []message.ToolCall) []string {
	var names []string
	for _, call := range calls {
		if t.Blocked[call.Name] {
			names = append(names, call.Name)
		}
	}
	return names
}

func blockNotice(names []string) string {
	return "Tool call blocked by policy: " + strings.Join(names, ", ")
}

var _ policy.Policy = (*ToolBlocklist)(nil)
