// Package compose implements the policy composition algebra of spec.md
// §4.6: Serial chaining, Parallel fan-out with a merge function, and the
// Insert list-insert helper grounded in
// original_source/.../policy_composition.py's compose_policy. The
// original's MultiSerialPolicy/MultiParallelPolicy source itself was not
// present in the retrieved pack (only their test files' import lists and
// the shared multi_policy_utils.py were retrieved), so the concrete
// dispatch shape here is built from this system's own description plus
// multi_policy_utils.py's validate_sub_policies_interface
// conformance-caching pattern, generalized from a runtime isinstance
// check into a Go type assertion cached behind sync.Once.
package compose

import (
	"sync"

	"github.com/axiomgate/llmproxy/internal/policy"
)

// conformanceCache memoizes whether every sub-policy of a composite
// implements policy.AnthropicPolicy, checked once and reused for every
// subsequent Anthropic-native hook dispatch — this system's "cached
// thereafter."
type conformanceCache struct {
	once sync.Once
	ok   bool
}

func (c *conformanceCache) anthropicOK(policies []policy.Policy) bool {
	c.once.Do(func() {
		c.ok = true
		for _, p := range policies {
			if _, ok := policy.AsAnthropicPolicy(p); !ok {
				c.ok = false
				return
			}
		}
	})
	return c.ok
}
