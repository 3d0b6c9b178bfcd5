// Package builtin holds the small reference policies this system's
// end-to-end scenarios exercise, and the default policy run when no
// policy is configured. Grounded on
// original_source/.../policies/anthropic/{noop,allcaps}.py and
// original_source/.../policies/pip_block_policy.py.
package builtin

import "github.com/axiomgate/llmproxy/internal/policy"

// NoOp is the pure pass-through policy: every hook is Base's default.
// Grounded on original_source/.../policies/noop_policy.py and
// policies/anthropic/noop.py — the Go equivalent needs no body at all,
// since embedding policy.Base already is the no-op.
type NoOp struct {
	policy.Base
}

func (NoOp) Name() string { return "noop" }

var _ policy.Policy = NoOp{}
